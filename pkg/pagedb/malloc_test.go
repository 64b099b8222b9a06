// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package pagedb

import (
	"errors"
	"testing"
)

// Small allocations share a chunk.
func TestMallocSplitsChunks(t *testing.T) {
	db, _ := openTestDB(t)
	defer db.Close()

	update(t, db, func() error {
		a, err := db.Malloc(100, PoolMisc)
		if err != nil {
			return err
		}
		b, err := db.Malloc(100, PoolMisc)
		if err != nil {
			return err
		}
		if a.chunk() != b.chunk() {
			t.Errorf("expected both blocks in one chunk, got %d and %d", a.chunk(), b.chunk())
		}
		if b-a != Address(blockDeltas(100)*BlockSizeDelta) {
			t.Errorf("expected adjacent blocks, got %d and %d", a, b)
		}
		return nil
	})
}

// A freed block is handed out again, zeroed.
func TestMallocReusesFreedBlocks(t *testing.T) {
	db, _ := openTestDB(t)
	defer db.Close()

	update(t, db, func() error {
		a, err := db.Malloc(100, NodePool(1))
		if err != nil {
			return err
		}
		r, err := db.Deref(a, NodePool(1), 100)
		if err != nil {
			return err
		}
		r.PutUint64(0, ^uint64(0))
		r.PutUint64(92, ^uint64(0))
		if err := db.Free(a, NodePool(1)); err != nil {
			return err
		}

		b, err := db.Malloc(100, NodePool(2))
		if err != nil {
			return err
		}
		if b != a {
			t.Errorf("expected the freed block %d, got %d", a, b)
		}
		r, err = db.Deref(b, NodePool(2), 100)
		if err != nil {
			return err
		}
		if r.Uint64(0) != 0 || r.Uint64(92) != 0 {
			t.Errorf("reused block isn't zeroed")
		}
		return nil
	})
}

// Freeing twice, or with the wrong pool, is corruption.
func TestBadFree(t *testing.T) {
	db, _ := openTestDB(t)
	defer db.Close()

	update(t, db, func() error {
		a, err := db.Malloc(40, NodePool(1))
		if err != nil {
			return err
		}
		if err := db.Free(a, NodePool(2)); !errors.Is(err, ErrCorrupt) {
			t.Errorf("expected ErrCorrupt freeing with the wrong pool, got %v", err)
		}
		if err := db.Free(a, NodePool(1)); err != nil {
			return err
		}
		if err := db.Free(a, NodePool(1)); !errors.Is(err, ErrCorrupt) {
			t.Errorf("expected ErrCorrupt on double free, got %v", err)
		}
		return nil
	})
}

func TestMallocLimits(t *testing.T) {
	db, _ := openTestDB(t)
	defer db.Close()

	update(t, db, func() error {
		if _, err := db.Malloc(MaxMallocSize+1, PoolMisc); !errors.Is(err, ErrTooLarge) {
			t.Errorf("expected ErrTooLarge, got %v", err)
		}
		a, err := db.Malloc(MaxMallocSize, PoolMisc)
		if err != nil {
			return err
		}
		if a.offset() != BlockHeaderSize {
			t.Errorf("expected a whole chunk, got offset %d", a.offset())
		}
		if _, err := db.Malloc(0, PoolMisc); err != nil {
			t.Errorf("zero-sized allocation failed: %s", err)
		}
		return nil
	})
}

// Allocations and frees are accounted per pool, and free blocks are found
// on the free lists.
func TestPoolStatsAndFreeLists(t *testing.T) {
	db, _ := openTestDB(t)
	defer db.Close()

	var addrs []Address
	update(t, db, func() error {
		for i := 0; i < 10; i++ {
			a, err := db.Malloc(100, NodePool(5))
			if err != nil {
				return err
			}
			addrs = append(addrs, a)
		}
		for _, a := range addrs[:4] {
			if err := db.Free(a, NodePool(5)); err != nil {
				return err
			}
		}
		return nil
	})

	var found bool
	for _, p := range db.Stats().Pools {
		if p.Pool != NodePool(5) {
			continue
		}
		found = true
		if p.Allocations != 10 || p.Frees != 4 {
			t.Errorf("expected 10 allocations and 4 frees, got %+v", p)
		}
		if p.BytesInUse != uint64(6*blockDeltas(100)*BlockSizeDelta) {
			t.Errorf("unexpected bytes in use: %d", p.BytesInUse)
		}
	}
	if !found {
		t.Errorf("no stats for the node pool")
	}

	view(t, db, func() error {
		counts, err := db.FreeBlockCounts()
		if err != nil {
			return err
		}
		if n := counts[blockDeltas(100)*BlockSizeDelta]; n != 4 {
			t.Errorf("expected 4 free blocks of the freed size, got %d", n)
		}
		return nil
	})
}
