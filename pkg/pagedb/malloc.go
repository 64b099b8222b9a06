// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package pagedb

import (
	"fmt"
)

// Free blocks are kept on one doubly-linked list per size, headed in the
// header chunk. Allocation takes the smallest block that fits and returns
// the remainder to its list. Freed blocks aren't coalesced.

// blockDeltas returns the number of size deltas a 'size' byte payload needs.
func blockDeltas(size int) int {
	d := (size + BlockHeaderSize + BlockSizeDelta - 1) / BlockSizeDelta
	if d < minBlockDeltas {
		d = minBlockDeltas
	}
	return d
}

func freeListSlot(deltas int) int {
	return freeListOffset + (deltas-minBlockDeltas)*PtrSize
}

func (db *Database) freeHead(deltas int) Address {
	return expand(db.headerUint32(freeListSlot(deltas)))
}

func (db *Database) setFreeHead(deltas int, a Address) {
	db.putHeaderUint32(freeListSlot(deltas), compress(a))
}

// Malloc allocates a zeroed block with room for 'size' bytes from 'pool' and
// returns the address of its payload. Requires the write lock.
func (db *Database) Malloc(size int, pool Pool) (Address, error) {
	db.mustHoldWriteLock()
	if size < 0 || size > MaxMallocSize {
		return 0, fmt.Errorf("%w: %d bytes", ErrTooLarge, size)
	}

	need := blockDeltas(size)
	var c *chunk
	var b, have int
	for d := need; d <= maxBlockDeltas; d++ {
		head := db.freeHead(d)
		if head == 0 {
			continue
		}
		fc, fb, err := db.freeBlock(head, d)
		if err != nil {
			return 0, err
		}
		if err := db.unlinkFree(fc, fb, d); err != nil {
			return 0, err
		}
		c, b, have = fc, fb, d
		break
	}
	if c == nil {
		nc, err := db.appendChunk()
		if err != nil {
			return 0, err
		}
		c, b, have = nc, 0, maxBlockDeltas
	}

	if have-need >= minBlockDeltas {
		if err := db.pushFree(c, b+need*BlockSizeDelta, have-need); err != nil {
			return 0, err
		}
		have = need
	}

	db.markDirty(c)
	blk := c.data[b : b+have*BlockSizeDelta]
	for i := range blk {
		blk[i] = 0
	}
	putUint16(blk[blockSizeOffset:], uint16(have))
	putUint16(blk[blockPoolOffset:], uint16(pool))
	blk[blockFlagsOffset] = blockInUse

	db.recordAlloc(pool, have*BlockSizeDelta)
	return chunkAddress(c.num) + Address(b+BlockHeaderSize), nil
}

// Free returns the block at 'addr' to the free lists. The block must be live
// and from 'pool'; anything else means the caller followed a bad pointer.
// Requires the write lock.
func (db *Database) Free(addr Address, pool Pool) error {
	db.mustHoldWriteLock()
	c, found, payload, err := db.block(addr)
	if err != nil {
		return fmt.Errorf("free %s: %w", pool, err)
	}
	if found != pool {
		return corruptf("free %s at %d, found %s", pool, addr, found)
	}
	deltas := (payload + BlockHeaderSize) / BlockSizeDelta
	db.recordFree(pool, deltas*BlockSizeDelta)
	return db.pushFree(c, addr.offset()-BlockHeaderSize, deltas)
}

// freeBlock validates that 'a' is the address of a free block of the given
// size, and returns its chunk and offset.
func (db *Database) freeBlock(a Address, deltas int) (*chunk, int, error) {
	if a%BlockSizeDelta != 0 {
		return nil, 0, corruptf("free list %d: misaligned block %d", deltas, a)
	}
	c, err := db.getChunk(a.chunk())
	if err != nil {
		return nil, 0, err
	}
	b := a.offset()
	if c.num == 0 || b+deltas*BlockSizeDelta > ChunkSize {
		return nil, 0, corruptf("free list %d: bad block %d", deltas, a)
	}
	if d := int(getUint16(c.data[b+blockSizeOffset:])); d != deltas {
		return nil, 0, corruptf("free list %d: block %d has size %d", deltas, a, d)
	}
	if c.data[b+blockFlagsOffset]&blockInUse != 0 {
		return nil, 0, corruptf("free list %d: block %d is in use", deltas, a)
	}
	return c, b, nil
}

// pushFree puts the block at offset 'b' of 'c' on the free list for its size.
func (db *Database) pushFree(c *chunk, b, deltas int) error {
	a := chunkAddress(c.num) + Address(b)
	head := db.freeHead(deltas)
	if head != 0 {
		hc, hb, err := db.freeBlock(head, deltas)
		if err != nil {
			return err
		}
		db.markDirty(hc)
		putUint32(hc.data[hb+freePrevOffset:], compress(a))
	}

	db.markDirty(c)
	blk := c.data[b:]
	putUint16(blk[blockSizeOffset:], uint16(deltas))
	putUint16(blk[blockPoolOffset:], 0)
	blk[blockFlagsOffset] = 0
	putUint32(blk[freePrevOffset:], 0)
	putUint32(blk[freeNextOffset:], compress(head))
	db.setFreeHead(deltas, a)
	return nil
}

// unlinkFree takes the block at offset 'b' of 'c' off its free list.
func (db *Database) unlinkFree(c *chunk, b, deltas int) error {
	prev := expand(getUint32(c.data[b+freePrevOffset:]))
	next := expand(getUint32(c.data[b+freeNextOffset:]))

	if prev == 0 {
		db.setFreeHead(deltas, next)
	} else {
		pc, pb, err := db.freeBlock(prev, deltas)
		if err != nil {
			return err
		}
		db.markDirty(pc)
		putUint32(pc.data[pb+freeNextOffset:], compress(next))
	}
	if next != 0 {
		nc, nb, err := db.freeBlock(next, deltas)
		if err != nil {
			return err
		}
		db.markDirty(nc)
		putUint32(nc.data[nb+freePrevOffset:], compress(prev))
	}
	return nil
}

// FreeBlockCounts walks the free lists and returns the number of free blocks
// of each size in bytes. Requires a lock.
func (db *Database) FreeBlockCounts() (map[int]int, error) {
	counts := make(map[int]int)
	limit := int(MaxDBSize / (minBlockDeltas * BlockSizeDelta))
	for d := minBlockDeltas; d <= maxBlockDeltas; d++ {
		n := 0
		for a := db.freeHead(d); a != 0; n++ {
			if n > limit {
				return nil, corruptf("free list %d has a cycle", d)
			}
			c, b, err := db.freeBlock(a, d)
			if err != nil {
				return nil, err
			}
			a = expand(getUint32(c.data[b+freeNextOffset:]))
		}
		if n > 0 {
			counts[d*BlockSizeDelta] = n
		}
	}
	return counts, nil
}
