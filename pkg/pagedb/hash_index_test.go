// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package pagedb

import (
	"fmt"
	"testing"
)

// lookupAll returns every record under 'hash'.
func lookupAll(t *testing.T, ix *HashIndex, hash uint32) []Address {
	var out []Address
	err := ix.Lookup(hash, func(rec Address) (bool, error) {
		out = append(out, rec)
		return true, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return out
}

// An index grows well past its initial size and still finds everything,
// including after a reopen.
func TestHashIndexGrow(t *testing.T) {
	db, path := openTestDB(t)

	const n = 5000
	key := func(i int) uint32 { return HashString(fmt.Sprintf("key-%d", i)) }
	rec := func(i int) Address { return Address((i + 1) * BlockSizeDelta) }

	ix := db.HashIndex(2)
	for burst := 0; burst < n; burst += 500 {
		update(t, db, func() error {
			for i := burst; i < burst+500; i++ {
				if err := ix.Insert(key(i), rec(i)); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	db, err := Open(path, testVersion, DefaultTestConfig)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	ix = db.HashIndex(2)

	view(t, db, func() error {
		if l, err := ix.Len(); err != nil || l != n {
			t.Errorf("Len() = %d, %v, want %d", l, err, n)
		}
		hdr, err := ix.header()
		if err != nil {
			return err
		}
		if bits := hdr.Uint32(ixBits); bits <= minBucketBits {
			t.Errorf("index never grew, still at %d bits", bits)
		}
		for i := 0; i < n; i++ {
			found := false
			for _, r := range lookupAll(t, ix, key(i)) {
				found = found || r == rec(i)
			}
			if !found {
				t.Errorf("entry %d missing", i)
			}
		}
		seen := 0
		err = ix.Each(func(hash uint32, rec Address) (bool, error) {
			seen++
			return true, nil
		})
		if seen != n {
			t.Errorf("Each visited %d entries, want %d", seen, n)
		}
		return err
	})
}

// Entries sharing a hash are all returned, and removal takes out exactly
// one of them.
func TestHashIndexCollisions(t *testing.T) {
	db, _ := openTestDB(t)
	defer db.Close()
	ix := db.HashIndex(0)

	view(t, db, func() error {
		if got := lookupAll(t, ix, 1); len(got) != 0 {
			t.Errorf("lookup in an empty index returned %v", got)
		}
		return nil
	})

	update(t, db, func() error {
		for _, r := range []Address{8, 16, 24} {
			if err := ix.Insert(1, r); err != nil {
				return err
			}
		}
		if err := ix.Insert(1+1<<minBucketBits, 32); err != nil {
			return err
		}

		if got := lookupAll(t, ix, 1); len(got) != 3 {
			t.Errorf("expected 3 entries for hash 1, got %v", got)
		}
		if ok, err := ix.Remove(1, 16); err != nil || !ok {
			t.Errorf("Remove(1, 16) = %v, %v", ok, err)
		}
		if ok, err := ix.Remove(1, 16); err != nil || ok {
			t.Errorf("second Remove(1, 16) = %v, %v", ok, err)
		}
		if ok, err := ix.Remove(2, 8); err != nil || ok {
			t.Errorf("Remove with the wrong hash = %v, %v", ok, err)
		}
		return nil
	})

	view(t, db, func() error {
		got := lookupAll(t, ix, 1)
		if len(got) != 2 || got[0] == 16 || got[1] == 16 {
			t.Errorf("unexpected entries after removal: %v", got)
		}
		if got := lookupAll(t, ix, 1+1<<minBucketBits); len(got) != 1 || got[0] != 32 {
			t.Errorf("entry in the same bucket with another hash: %v", got)
		}
		if l, _ := ix.Len(); l != 3 {
			t.Errorf("Len() = %d, want 3", l)
		}
		return nil
	})
}

// Lookup stops when the callback says so.
func TestHashIndexLookupStops(t *testing.T) {
	db, _ := openTestDB(t)
	defer db.Close()
	ix := db.HashIndex(0)

	update(t, db, func() error {
		for _, r := range []Address{8, 16, 24} {
			if err := ix.Insert(7, r); err != nil {
				return err
			}
		}
		return nil
	})
	view(t, db, func() error {
		calls := 0
		err := ix.Lookup(7, func(Address) (bool, error) {
			calls++
			return false, nil
		})
		if calls != 1 {
			t.Errorf("expected 1 call, got %d", calls)
		}
		return err
	})
}
