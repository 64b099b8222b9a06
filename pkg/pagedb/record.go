// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package pagedb

import (
	"encoding/binary"
	"fmt"
)

// Pool identifies what a block was allocated for. Blocks holding records
// use NodePool(tag), so the pool id is the record's type tag.
type Pool uint16

// Pools used by the database itself.
const (
	PoolMisc          Pool = 0x0000
	PoolHashIndex     Pool = 0x0001
	PoolIndexEntry    Pool = 0x0002
	PoolStringLong    Pool = 0x0003
	PoolStringShort   Pool = 0x0004
	PoolLinkedList    Pool = 0x0005
	PoolGrowableArray Pool = 0x0007
	PoolFirstNodeType Pool = 0x0100
)

var poolNames = map[Pool]string{
	PoolMisc:          "misc",
	PoolHashIndex:     "hash_index",
	PoolIndexEntry:    "index_entry",
	PoolStringLong:    "string_long",
	PoolStringShort:   "string_short",
	PoolLinkedList:    "linked_list",
	PoolGrowableArray: "growable_array",
}

// NodePool returns the pool for records with type 'tag'.
func NodePool(tag uint16) Pool {
	return PoolFirstNodeType + Pool(tag)
}

// String returns a human-readable name of the pool.
func (p Pool) String() string {
	if p >= PoolFirstNodeType {
		return fmt.Sprintf("node_%d", p-PoolFirstNodeType)
	}
	if name, ok := poolNames[p]; ok {
		return name
	}
	return fmt.Sprintf("pool_%d", uint16(p))
}

// Block header layout.
const (
	blockSizeOffset  = 0
	blockPoolOffset  = 2
	blockFlagsOffset = 4

	blockInUse = 0x01

	// Free list links, stored in the payload of free blocks.
	freePrevOffset = BlockHeaderSize
	freeNextOffset = BlockHeaderSize + PtrSize
)

// Record is a view of an allocated block. It's only valid while the lock it
// was obtained under is held. Accessors panic on offsets outside the size
// the record was dereferenced with, since that's a bug in the caller's
// layout and not bad data.
type Record struct {
	db   *Database
	c    *chunk
	addr Address
	size int
}

// block validates the block behind 'addr' and returns its chunk and payload
// size.
func (db *Database) block(addr Address) (*chunk, Pool, int, error) {
	if addr == 0 {
		return nil, 0, 0, corruptf("null pointer")
	}
	if addr%BlockSizeDelta != 0 || addr.offset() < BlockHeaderSize {
		return nil, 0, 0, corruptf("misaligned pointer %d", addr)
	}
	c, err := db.getChunk(addr.chunk())
	if err != nil {
		return nil, 0, 0, err
	}
	if c.num == 0 {
		return nil, 0, 0, corruptf("pointer %d into the header", addr)
	}
	b := addr.offset() - BlockHeaderSize
	deltas := int(getUint16(c.data[b+blockSizeOffset:]))
	if deltas < minBlockDeltas || b+deltas*BlockSizeDelta > ChunkSize {
		return nil, 0, 0, corruptf("bad block size %d at %d", deltas, addr)
	}
	if c.data[b+blockFlagsOffset]&blockInUse == 0 {
		return nil, 0, 0, corruptf("pointer %d to a free block", addr)
	}
	pool := Pool(getUint16(c.data[b+blockPoolOffset:]))
	return c, pool, deltas*BlockSizeDelta - BlockHeaderSize, nil
}

// PoolOf returns the pool of the live block at 'addr'.
func (db *Database) PoolOf(addr Address) (Pool, error) {
	_, pool, _, err := db.block(addr)
	return pool, err
}

// Deref returns a view of the record at 'addr', checking that it's a live
// block from 'pool' with room for at least 'size' bytes.
func (db *Database) Deref(addr Address, pool Pool, size int) (Record, error) {
	c, found, payload, err := db.block(addr)
	if err != nil {
		return Record{}, fmt.Errorf("%s: %w", pool, err)
	}
	if found != pool {
		return Record{}, corruptf("expected %s at %d, found %s", pool, addr, found)
	}
	if payload < size {
		return Record{}, corruptf("%s at %d has %d bytes, want %d", pool, addr, payload, size)
	}
	return Record{db: db, c: c, addr: addr, size: size}, nil
}

// Addr returns the address of the record.
func (r Record) Addr() Address {
	return r.addr
}

// Size returns the number of bytes accessible through the view.
func (r Record) Size() int {
	return r.size
}

// IsNil returns true for the zero Record.
func (r Record) IsNil() bool {
	return r.addr == 0
}

func (r Record) at(off, n int) []byte {
	if off < 0 || off+n > r.size {
		panic(fmt.Sprintf("pagedb: access [%d,%d) outside record of %d bytes", off, off+n, r.size))
	}
	start := r.addr.offset() + off
	return r.c.data[start : start+n]
}

func (r Record) mut(off, n int) []byte {
	r.db.markDirty(r.c)
	return r.at(off, n)
}

// Uint8 reads the byte at 'off'.
func (r Record) Uint8(off int) uint8 {
	return r.at(off, 1)[0]
}

// PutUint8 writes the byte at 'off'. Requires the write lock.
func (r Record) PutUint8(off int, v uint8) {
	r.mut(off, 1)[0] = v
}

func (r Record) Uint16(off int) uint16 {
	return getUint16(r.at(off, 2))
}

func (r Record) PutUint16(off int, v uint16) {
	putUint16(r.mut(off, 2), v)
}

func (r Record) Uint32(off int) uint32 {
	return getUint32(r.at(off, 4))
}

func (r Record) PutUint32(off int, v uint32) {
	putUint32(r.mut(off, 4), v)
}

func (r Record) Uint64(off int) uint64 {
	return getUint64(r.at(off, 8))
}

func (r Record) PutUint64(off int, v uint64) {
	putUint64(r.mut(off, 8), v)
}

func (r Record) Int64(off int) int64 {
	return int64(r.Uint64(off))
}

func (r Record) PutInt64(off int, v int64) {
	r.PutUint64(off, uint64(v))
}

// Ptr reads a record pointer.
func (r Record) Ptr(off int) Address {
	return expand(r.Uint32(off))
}

// PutPtr writes a record pointer.
func (r Record) PutPtr(off int, a Address) {
	r.PutUint32(off, compress(a))
}

// Bytes returns a copy of 'n' bytes at 'off'.
func (r Record) Bytes(off, n int) []byte {
	out := make([]byte, n)
	copy(out, r.at(off, n))
	return out
}

// PutBytes copies 'b' to 'off'.
func (r Record) PutBytes(off int, b []byte) {
	copy(r.mut(off, len(b)), b)
}

func getUint16(b []byte) uint16 {
	return binary.LittleEndian.Uint16(b)
}

func putUint16(b []byte, v uint16) {
	binary.LittleEndian.PutUint16(b, v)
}

func getUint32(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b)
}

func putUint32(b []byte, v uint32) {
	binary.LittleEndian.PutUint32(b, v)
}

func getUint64(b []byte) uint64 {
	return binary.LittleEndian.Uint64(b)
}

func putUint64(b []byte, v uint64) {
	binary.LittleEndian.PutUint64(b, v)
}
