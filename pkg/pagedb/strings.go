// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package pagedb

import (
	"bytes"
)

// Strings that fit in one block are stored as a length followed by the
// bytes. Longer ones are a chain of segments, each holding its own length,
// a pointer to the next segment and the bytes.

const (
	shortStringMax = MaxMallocSize - 4
	segmentMax     = MaxMallocSize - 8

	// Bounds the walk of a corrupt segment chain.
	maxSegments = int(MaxDBSize / ChunkSize)
)

// NewString stores 'b' and returns its address. The empty string is stored
// as the null address. Requires the write lock.
func (db *Database) NewString(b []byte) (Address, error) {
	if len(b) == 0 {
		return 0, nil
	}
	if len(b) <= shortStringMax {
		a, err := db.Malloc(4+len(b), PoolStringShort)
		if err != nil {
			return 0, err
		}
		r, err := db.Deref(a, PoolStringShort, 4+len(b))
		if err != nil {
			return 0, err
		}
		r.PutUint32(0, uint32(len(b)))
		r.PutBytes(4, b)
		return a, nil
	}

	// Back to front, so every segment can point at its successor.
	var next Address
	end := len(b)
	for end > 0 {
		start := (end - 1) / segmentMax * segmentMax
		seg := b[start:end]
		a, err := db.Malloc(8+len(seg), PoolStringLong)
		if err != nil {
			return 0, err
		}
		r, err := db.Deref(a, PoolStringLong, 8+len(seg))
		if err != nil {
			return 0, err
		}
		r.PutUint32(0, uint32(len(seg)))
		r.PutPtr(4, next)
		r.PutBytes(8, seg)
		next = a
		end = start
	}
	return next, nil
}

// NewStringFrom is NewString for a Go string.
func (db *Database) NewStringFrom(s string) (Address, error) {
	return db.NewString([]byte(s))
}

// String reads the string at 'a'.
func (db *Database) String(a Address) ([]byte, error) {
	if a == 0 {
		return nil, nil
	}
	pool, err := db.PoolOf(a)
	if err != nil {
		return nil, err
	}
	switch pool {
	case PoolStringShort:
		r, err := db.Deref(a, PoolStringShort, 4)
		if err != nil {
			return nil, err
		}
		n := int(r.Uint32(0))
		if n > shortStringMax {
			return nil, corruptf("short string at %d has length %d", a, n)
		}
		if r, err = db.Deref(a, PoolStringShort, 4+n); err != nil {
			return nil, err
		}
		return r.Bytes(4, n), nil

	case PoolStringLong:
		var out []byte
		for i := 0; a != 0; i++ {
			if i > maxSegments {
				return nil, corruptf("string segment chain has a cycle")
			}
			r, err := db.Deref(a, PoolStringLong, 8)
			if err != nil {
				return nil, err
			}
			n := int(r.Uint32(0))
			if n > segmentMax {
				return nil, corruptf("string segment at %d has length %d", a, n)
			}
			if r, err = db.Deref(a, PoolStringLong, 8+n); err != nil {
				return nil, err
			}
			out = append(out, r.Bytes(8, n)...)
			a = r.Ptr(4)
		}
		return out, nil
	}
	return nil, corruptf("expected a string at %d, found %s", a, pool)
}

// GoString reads the string at 'a' as a Go string.
func (db *Database) GoString(a Address) (string, error) {
	b, err := db.String(a)
	return string(b), err
}

// StringEquals compares the string at 'a' with 'b'.
func (db *Database) StringEquals(a Address, b []byte) (bool, error) {
	s, err := db.String(a)
	if err != nil {
		return false, err
	}
	return bytes.Equal(s, b), nil
}

// FreeString frees the string at 'a'. Requires the write lock.
func (db *Database) FreeString(a Address) error {
	if a == 0 {
		return nil
	}
	pool, err := db.PoolOf(a)
	if err != nil {
		return err
	}
	switch pool {
	case PoolStringShort:
		return db.Free(a, PoolStringShort)
	case PoolStringLong:
		for i := 0; a != 0; i++ {
			if i > maxSegments {
				return corruptf("string segment chain has a cycle")
			}
			r, err := db.Deref(a, PoolStringLong, 8)
			if err != nil {
				return err
			}
			next := r.Ptr(4)
			if err := db.Free(a, PoolStringLong); err != nil {
				return err
			}
			a = next
		}
		return nil
	}
	return corruptf("expected a string at %d, found %s", a, pool)
}
