// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package pagedb

import (
	"bytes"
	"testing"
)

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte('a' + i%26)
	}
	return b
}

// Strings of every shape come back as stored, and freeing them returns all
// of their blocks.
func TestStrings(t *testing.T) {
	db, _ := openTestDB(t)
	defer db.Close()

	sizes := []int{0, 1, 100, shortStringMax, shortStringMax + 1, segmentMax, 2*segmentMax + 1, 20000}
	addrs := make([]Address, len(sizes))
	update(t, db, func() (err error) {
		for i, n := range sizes {
			if addrs[i], err = db.NewString(pattern(n)); err != nil {
				return err
			}
		}
		return nil
	})

	view(t, db, func() error {
		for i, n := range sizes {
			s, err := db.String(addrs[i])
			if err != nil {
				return err
			}
			if !bytes.Equal(s, pattern(n)) {
				t.Errorf("string of %d bytes came back as %d bytes", n, len(s))
			}
			if eq, err := db.StringEquals(addrs[i], pattern(n)); err != nil || !eq {
				t.Errorf("StringEquals(%d) = %v, %v", n, eq, err)
			}
		}
		if eq, _ := db.StringEquals(addrs[2], []byte("nope")); eq {
			t.Errorf("different strings compare equal")
		}
		return nil
	})

	update(t, db, func() error {
		for _, a := range addrs {
			if err := db.FreeString(a); err != nil {
				return err
			}
		}
		return nil
	})
	for _, p := range db.Stats().Pools {
		if (p.Pool == PoolStringShort || p.Pool == PoolStringLong) && p.BytesInUse != 0 {
			t.Errorf("%s still has %d bytes in use", p.Pool, p.BytesInUse)
		}
	}
}

// Reading a string through a pointer to something else is corruption.
func TestStringWrongType(t *testing.T) {
	db, _ := openTestDB(t)
	defer db.Close()

	var a Address
	update(t, db, func() (err error) {
		a, err = db.Malloc(16, NodePool(1))
		return err
	})
	view(t, db, func() error {
		if _, err := db.String(a); err == nil {
			t.Errorf("expected an error reading a record as a string")
		}
		return nil
	})
}
