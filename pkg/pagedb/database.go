// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

// Package pagedb implements a single-file, chunked, persistent record store.
//
// The file is divided into fixed size chunks. Chunk 0 is the header, holding
// a magic number, the schema version, a write number, a small table of root
// pointers, per-pool allocation statistics and the heads of the free lists.
// A flush first writes the header with an "incomplete" flag set, then the
// dirty chunks, then the header again with the flag cleared, syncing after
// each step. A file whose flag is set was torn by a crash and is reset by
// Open. Every other chunk is carved into 8-byte aligned blocks. Each block starts
// with an 8-byte header that records its size, the pool it was allocated
// from and whether it's in use. Blocks never span chunks.
//
// Records are addressed by their byte offset in the file and stored in 32
// bits by dropping the low 3 (always zero) bits, which caps the file at
// 32GB. The pool id of a block doubles as the type tag of the record in it,
// so every dereference checks that the pointer leads to a live block of the
// expected type and size, and reports ErrCorrupt otherwise.
//
// All access happens under the database lock: any number of readers, or a
// single writer. Chunks touched while the lock is held stay in memory, and
// the chunk cache is trimmed back to its configured size when a lock is
// released.
package pagedb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/golang/glog"
	"github.com/golang/groupcache/lru"

	"github.com/westerndigitalcorporation/classindex/pkg/disk"
)

const (
	// ChunkSize is the unit of caching and I/O.
	ChunkSize = 4096

	// BlockSizeDeltaBits is log2(BlockSizeDelta).
	BlockSizeDeltaBits = 3

	// BlockSizeDelta is the granularity of allocations and the alignment of
	// every block.
	BlockSizeDelta = 1 << BlockSizeDeltaBits

	// BlockHeaderSize is the overhead of every allocation.
	BlockHeaderSize = 8

	// MaxMallocSize is the largest payload a single block can hold.
	MaxMallocSize = ChunkSize - BlockHeaderSize

	// PtrSize is the size of a stored record pointer.
	PtrSize = 4

	// MaxDBSize is the largest file addressable with 32-bit pointers.
	MaxDBSize = int64(1) << (32 + BlockSizeDeltaBits)

	// NumRoots is the number of root pointer slots in the header.
	NumRoots = 16

	minBlockDeltas = 2
	maxBlockDeltas = ChunkSize / BlockSizeDelta

	magic = 0x4e445831 // "NDX1"

	// Header chunk layout.
	magicOffset       = 0
	versionOffset     = 4
	writeNumberOffset = 8
	chunkCountOffset  = 16
	rootTableOffset   = 20
	poolStatsOffset   = rootTableOffset + NumRoots*PtrSize
	numPoolSlots      = 32
	poolStatsSize     = 16
	freeListOffset    = poolStatsOffset + numPoolSlots*poolStatsSize
	stateOffset       = freeListOffset + (maxBlockDeltas-minBlockDeltas+1)*PtrSize
	headerEnd         = stateOffset + 4

	// Values of the header state word.
	stateComplete   = 0
	stateIncomplete = 1
)

// Compile-time check that the header fits in its chunk.
var _ [ChunkSize - headerEnd]struct{}

var (
	// ErrCorrupt is wrapped by every error caused by inconsistent on-disk
	// data: torn or checksum-failing chunks, pointers to freed blocks, type
	// tag mismatches and the like.
	ErrCorrupt = errors.New("index database is corrupt")

	// ErrTooLarge is returned for allocations bigger than MaxMallocSize.
	ErrTooLarge = errors.New("allocation too large")

	// ErrFull is returned when the database has reached MaxDBSize.
	ErrFull = errors.New("index database is full")

	// ErrClosed is returned when acquiring the write lock of a closed
	// database.
	ErrClosed = errors.New("index database is closed")
)

func corruptf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrCorrupt, fmt.Sprintf(format, args...))
}

// Corruptf returns an error wrapping ErrCorrupt, for record layers that
// find their own structures inconsistent.
func Corruptf(format string, args ...interface{}) error {
	return corruptf(format, args...)
}

// Address is the byte offset of a record in the database file. The zero
// Address is the null pointer.
type Address int64

func (a Address) chunk() int {
	return int(a / ChunkSize)
}

func (a Address) offset() int {
	return int(a % ChunkSize)
}

func compress(a Address) uint32 {
	return uint32(a >> BlockSizeDeltaBits)
}

func expand(p uint32) Address {
	return Address(p) << BlockSizeDeltaBits
}

func chunkAddress(num int) Address {
	return Address(int64(num) * ChunkSize)
}

type chunk struct {
	num   int
	data  []byte
	dirty bool
}

func newChunk(num int) *chunk {
	return &chunk{num: num, data: make([]byte, ChunkSize)}
}

// Database is a chunked record store backed by a single file.
type Database struct {
	path    string
	name    string
	version uint32
	cfg     Config
	file    *disk.PageFile
	lock    *rwLock
	closed  int32

	// The header chunk is always resident. It's only modified under the
	// write lock.
	header *chunk

	// Protects the fields below. Concurrent readers share the database lock
	// but still race on cache lookups.
	mu sync.Mutex

	// Clean chunks, most recently used first.
	cache *lru.Cache

	// Dirty chunks. They're never in 'cache' and never evicted.
	dirty map[int]*chunk

	numChunks int
	counters  counters
	metrics   dbMetrics
}

// Open opens or creates the database at 'path'. A file written with a
// different 'version', or one whose header is unreadable, is reinitialized
// to an empty database.
func Open(path string, version uint32, cfg Config) (*Database, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	flags := os.O_RDWR | os.O_CREATE
	if cfg.DropCache {
		flags |= disk.O_DROPCACHE
	}
	f, err := disk.OpenPageFile(path, ChunkSize, flags)
	if err != nil {
		return nil, err
	}

	name := filepath.Base(path)
	db := &Database{
		path:    path,
		name:    name,
		version: version,
		cfg:     cfg,
		file:    f,
		lock:    newRWLock(),
		cache:   lru.New(0),
		dirty:   make(map[int]*chunk),
		metrics: newDBMetrics(name),
	}

	if err := db.load(); err != nil {
		if !errors.Is(err, ErrCorrupt) {
			f.Close()
			return nil, err
		}
		log.Errorf("%s: %s, reinitializing", path, err)
		if err := db.reset(); err != nil {
			f.Close()
			return nil, err
		}
	}
	db.updateGauges()
	log.Infof("opened %s: %d chunks, write number %d", path, db.numChunks, db.WriteNumber())
	return db, nil
}

// load reads the header and checks it against the file.
func (db *Database) load() error {
	n, err := db.file.NumPages()
	if err == disk.ErrCorruptData {
		return corruptf("torn chunk at end of file")
	} else if err != nil {
		return err
	}
	if n == 0 {
		return db.reset()
	}

	hdr := newChunk(0)
	if err := db.file.ReadPage(0, hdr.data); err != nil {
		if err == disk.ErrCorruptData {
			return corruptf("header: %s", err)
		}
		return err
	}
	db.header = hdr

	if m := db.headerUint32(magicOffset); m != magic {
		return corruptf("bad magic %#x", m)
	}
	if v := db.headerUint32(versionOffset); v != db.version {
		log.Infof("%s: found version %d, want %d, reinitializing", db.path, v, db.version)
		return db.reset()
	}

	if st := db.headerUint32(stateOffset); st != stateComplete {
		return corruptf("interrupted flush (state %d)", st)
	}

	count := int(db.headerUint32(chunkCountOffset))
	if count < 1 || count > n {
		return corruptf("header claims %d chunks, file has %d", count, n)
	}
	if count < n {
		// Chunks written by a flush that didn't get to the header.
		log.Infof("%s: dropping %d chunks past the end of the database", db.path, n-count)
		if err := db.file.Truncate(count); err != nil {
			return err
		}
	}
	db.numChunks = count
	return nil
}

// reset turns the file into an empty database. The write number keeps
// increasing across resets.
func (db *Database) reset() error {
	var writeNumber uint64
	if db.header != nil && db.headerUint32(magicOffset) == magic {
		writeNumber = db.WriteNumber()
	}

	db.mu.Lock()
	db.cache = lru.New(0)
	db.dirty = make(map[int]*chunk)
	db.numChunks = 1
	db.mu.Unlock()

	db.header = newChunk(0)
	db.putHeaderUint32(magicOffset, magic)
	db.putHeaderUint32(versionOffset, db.version)
	db.putHeaderUint64(writeNumberOffset, writeNumber+1)
	db.putHeaderUint32(chunkCountOffset, 1)

	if err := db.file.Truncate(0); err != nil {
		return err
	}
	if err := db.file.WritePage(0, db.header.data); err != nil {
		return err
	}
	db.header.dirty = false
	return db.file.Sync()
}

// Path returns the path of the database file.
func (db *Database) Path() string {
	return db.path
}

// Version returns the schema version the database was opened with.
func (db *Database) Version() uint32 {
	return db.version
}

// WriteNumber returns a number that increases with every flush.
func (db *Database) WriteNumber() uint64 {
	return db.headerUint64(writeNumberOffset)
}

// Root returns the pointer stored in root slot 'i'.
func (db *Database) Root(i int) Address {
	return expand(db.headerUint32(rootTableOffset + i*PtrSize))
}

// SetRoot stores 'a' in root slot 'i'. Requires the write lock.
func (db *Database) SetRoot(i int, a Address) {
	db.mustHoldWriteLock()
	db.putHeaderUint32(rootTableOffset+i*PtrSize, compress(a))
}

// Clear discards every record. Requires the write lock.
func (db *Database) Clear() error {
	db.mustHoldWriteLock()
	log.Infof("%s: clearing", db.path)
	if err := db.reset(); err != nil {
		return err
	}
	db.updateGauges()
	return nil
}

// Flush writes every dirty chunk and then the header, and syncs the file.
// Requires the write lock.
func (db *Database) Flush() error {
	db.mustHoldWriteLock()
	return db.flush()
}

func (db *Database) flush() error {
	start := time.Now()

	db.mu.Lock()
	nums := make([]int, 0, len(db.dirty))
	for n := range db.dirty {
		nums = append(nums, n)
	}
	db.mu.Unlock()
	if len(nums) == 0 && !db.header.dirty {
		return nil
	}
	sort.Ints(nums)

	if len(nums) > 0 {
		if err := db.markIncomplete(); err != nil {
			return err
		}
		if err := db.writeDirty(nums); err != nil {
			return err
		}
	}
	if err := db.commitHeader(); err != nil {
		return err
	}

	elapsed := time.Since(start)
	db.mu.Lock()
	db.counters.flushes++
	db.counters.flushTime += elapsed
	db.mu.Unlock()
	db.metrics.flushed(len(nums)+1, elapsed)
	log.V(1).Infof("%s: flushed %d chunks in %s", db.path, len(nums), elapsed)
	return nil
}

// markIncomplete writes the header with the incomplete flag set. Until
// commitHeader clears it, the file on disk isn't a consistent database.
func (db *Database) markIncomplete() error {
	db.putHeaderUint32(stateOffset, stateIncomplete)
	return db.writeHeader()
}

// writeDirty writes chunks 'nums' and syncs them.
func (db *Database) writeDirty(nums []int) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, n := range nums {
		c := db.dirty[n]
		if err := db.file.WritePage(n, c.data); err != nil {
			return err
		}
		c.dirty = false
		delete(db.dirty, n)
		db.cache.Add(n, c)
		db.counters.bytesWritten += ChunkSize
	}
	return db.file.Sync()
}

// commitHeader writes the final header of a flush, with the flag cleared and
// the next write number.
func (db *Database) commitHeader() error {
	db.putHeaderUint32(stateOffset, stateComplete)
	db.putHeaderUint64(writeNumberOffset, db.WriteNumber()+1)
	if err := db.writeHeader(); err != nil {
		return err
	}
	db.header.dirty = false
	return nil
}

func (db *Database) writeHeader() error {
	if err := db.file.WritePage(0, db.header.data); err != nil {
		return err
	}
	db.mu.Lock()
	db.counters.bytesWritten += ChunkSize
	db.mu.Unlock()
	return db.file.Sync()
}

// Close flushes and closes the database. Waits for the current lock holders.
func (db *Database) Close() error {
	tok, err := db.AcquireWriteLock(context.Background())
	if err != nil {
		return err
	}
	ferr := db.flush()
	atomic.StoreInt32(&db.closed, 1)
	cerr := db.file.Close()
	tok.released = true
	db.lock.unlock()
	if ferr != nil {
		return ferr
	}
	return cerr
}

func (db *Database) isClosed() bool {
	return atomic.LoadInt32(&db.closed) != 0
}

func (db *Database) mustHoldWriteLock() {
	if !db.lock.writeLocked() {
		panic("pagedb: mutation without the write lock")
	}
}

// AssertWriteLocked panics unless some caller holds the write lock.
func (db *Database) AssertWriteLocked() {
	db.mustHoldWriteLock()
}

// releaseWrite flushes if needed, trims the cache and releases the write lock.
func (db *Database) releaseWrite() {
	db.mu.Lock()
	dirty := len(db.dirty)
	db.mu.Unlock()
	if dirty > db.cfg.FlushDirtyChunks {
		if err := db.flush(); err != nil {
			// The chunks stay dirty and the next flush retries.
			log.Errorf("%s: flush at lock release failed: %s", db.path, err)
		}
	}
	db.trim()
	db.updateGauges()
	db.lock.unlock()
}

// trim evicts clean chunks beyond the configured cache size.
func (db *Database) trim() {
	db.mu.Lock()
	for db.cache.Len() > db.cfg.CacheChunks {
		db.cache.RemoveOldest()
	}
	db.mu.Unlock()
}

// getChunk returns chunk 'num', reading it if it isn't cached.
func (db *Database) getChunk(num int) (*chunk, error) {
	if num == 0 {
		return db.header, nil
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if num < 0 || num >= db.numChunks {
		return nil, corruptf("chunk %d out of range, database has %d", num, db.numChunks)
	}
	if c, ok := db.dirty[num]; ok {
		return c, nil
	}
	if v, ok := db.cache.Get(num); ok {
		db.counters.cacheHits++
		db.metrics.cacheHit()
		return v.(*chunk), nil
	}

	db.counters.cacheMisses++
	db.metrics.cacheMiss()
	c := newChunk(num)
	if err := db.file.ReadPage(num, c.data); err != nil {
		if err == disk.ErrCorruptData || err == io.EOF {
			return nil, corruptf("chunk %d: %s", num, err)
		}
		return nil, err
	}
	db.counters.bytesRead += ChunkSize
	db.cache.Add(num, c)
	return c, nil
}

// appendChunk grows the database by one chunk.
func (db *Database) appendChunk() (*chunk, error) {
	db.mu.Lock()
	if int64(db.numChunks+1)*ChunkSize > MaxDBSize {
		db.mu.Unlock()
		return nil, ErrFull
	}
	c := newChunk(db.numChunks)
	c.dirty = true
	db.dirty[c.num] = c
	db.numChunks++
	count := db.numChunks
	db.mu.Unlock()

	db.putHeaderUint32(chunkCountOffset, uint32(count))
	return c, nil
}

// markDirty records that 'c' was modified.
func (db *Database) markDirty(c *chunk) {
	if c.dirty {
		return
	}
	db.mustHoldWriteLock()
	if c.num == 0 {
		c.dirty = true
		return
	}
	db.mu.Lock()
	c.dirty = true
	db.dirty[c.num] = c
	db.cache.Remove(c.num)
	db.mu.Unlock()
}

func (db *Database) headerUint32(off int) uint32 {
	return getUint32(db.header.data[off:])
}

func (db *Database) headerUint64(off int) uint64 {
	return getUint64(db.header.data[off:])
}

func (db *Database) putHeaderUint32(off int, v uint32) {
	putUint32(db.header.data[off:], v)
	db.header.dirty = true
}

func (db *Database) putHeaderUint64(off int, v uint64) {
	putUint64(db.header.data[off:], v)
	db.header.dirty = true
}
