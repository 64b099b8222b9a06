// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package pagedb

import (
	"github.com/cespare/xxhash/v2"
)

// HashIndex is a persistent chained hash table mapping 32-bit key hashes to
// record addresses. Several records may share a hash, so lookups hand every
// candidate to the caller, which compares the actual key.
//
// The bucket array is split in pages of 512 buckets, reachable through a
// directory block. The table doubles when the average chain grows past 2.
type HashIndex struct {
	db   *Database
	root int
}

const (
	bucketsPerPage = 512
	bucketPageSize = bucketsPerPage * PtrSize
	maxDirPages    = 512
	dirSize        = maxDirPages * PtrSize
	minBucketBits  = 9
	maxBucketBits  = 18
	maxLoad        = 2

	// Index header.
	ixCount      = 0
	ixBits       = 4
	ixDir        = 8
	ixHeaderSize = 12

	// Entries.
	entHash = 0
	entRec  = 4
	entNext = 8
	entSize = 12
)

// HashKey hashes a key for use with a HashIndex.
func HashKey(key []byte) uint32 {
	return uint32(xxhash.Sum64(key))
}

// HashString is HashKey for a Go string.
func HashString(key string) uint32 {
	return uint32(xxhash.Sum64String(key))
}

// HashIndex returns the index whose header is kept in root slot 'root'.
// The index is created on first insert.
func (db *Database) HashIndex(root int) *HashIndex {
	if root < 0 || root >= NumRoots {
		panic("pagedb: root slot out of range")
	}
	return &HashIndex{db: db, root: root}
}

func (h *HashIndex) header() (Record, error) {
	a := h.db.Root(h.root)
	if a == 0 {
		return Record{}, nil
	}
	return h.db.Deref(a, PoolHashIndex, ixHeaderSize)
}

func (h *HashIndex) create() (Record, error) {
	a, err := h.db.Malloc(ixHeaderSize, PoolHashIndex)
	if err != nil {
		return Record{}, err
	}
	dir, err := h.db.Malloc(dirSize, PoolGrowableArray)
	if err != nil {
		return Record{}, err
	}
	page, err := h.db.Malloc(bucketPageSize, PoolGrowableArray)
	if err != nil {
		return Record{}, err
	}
	dr, err := h.db.Deref(dir, PoolGrowableArray, dirSize)
	if err != nil {
		return Record{}, err
	}
	dr.PutPtr(0, page)

	hdr, err := h.db.Deref(a, PoolHashIndex, ixHeaderSize)
	if err != nil {
		return Record{}, err
	}
	hdr.PutUint32(ixBits, minBucketBits)
	hdr.PutPtr(ixDir, dir)
	h.db.SetRoot(h.root, a)
	return hdr, nil
}

// bucket returns the page holding bucket 'i' and the offset of its slot.
func (h *HashIndex) bucket(hdr Record, i uint32) (Record, int, error) {
	dir, err := h.db.Deref(hdr.Ptr(ixDir), PoolGrowableArray, dirSize)
	if err != nil {
		return Record{}, 0, err
	}
	page, err := h.db.Deref(dir.Ptr(int(i/bucketsPerPage)*PtrSize), PoolGrowableArray, bucketPageSize)
	if err != nil {
		return Record{}, 0, err
	}
	return page, int(i%bucketsPerPage) * PtrSize, nil
}

func bucketMask(hdr Record) uint32 {
	return uint32(1)<<hdr.Uint32(ixBits) - 1
}

// chainLimit bounds the walk of a chain, so a corrupt cycle is reported
// instead of looping.
func chainLimit(hdr Record) int {
	return int(hdr.Uint32(ixCount)) + 1
}

// Len returns the number of entries.
func (h *HashIndex) Len() (int, error) {
	hdr, err := h.header()
	if err != nil || hdr.IsNil() {
		return 0, err
	}
	return int(hdr.Uint32(ixCount)), nil
}

// Insert adds an entry for 'rec'. Requires the write lock.
func (h *HashIndex) Insert(hash uint32, rec Address) error {
	hdr, err := h.header()
	if err != nil {
		return err
	}
	if hdr.IsNil() {
		if hdr, err = h.create(); err != nil {
			return err
		}
	}

	page, off, err := h.bucket(hdr, hash&bucketMask(hdr))
	if err != nil {
		return err
	}
	e, err := h.db.Malloc(entSize, PoolIndexEntry)
	if err != nil {
		return err
	}
	er, err := h.db.Deref(e, PoolIndexEntry, entSize)
	if err != nil {
		return err
	}
	er.PutUint32(entHash, hash)
	er.PutPtr(entRec, rec)
	er.PutPtr(entNext, page.Ptr(off))
	page.PutPtr(off, e)

	count := hdr.Uint32(ixCount) + 1
	hdr.PutUint32(ixCount, count)
	if bits := hdr.Uint32(ixBits); bits < maxBucketBits && count > maxLoad<<bits {
		return h.grow(hdr)
	}
	return nil
}

// Lookup calls 'fn' with every record inserted with 'hash', until 'fn'
// returns false or an error. 'fn' must not modify the index.
func (h *HashIndex) Lookup(hash uint32, fn func(rec Address) (bool, error)) error {
	hdr, err := h.header()
	if err != nil || hdr.IsNil() {
		return err
	}
	page, off, err := h.bucket(hdr, hash&bucketMask(hdr))
	if err != nil {
		return err
	}
	limit := chainLimit(hdr)
	for e, n := page.Ptr(off), 0; e != 0; n++ {
		if n > limit {
			return corruptf("hash chain has a cycle")
		}
		er, err := h.db.Deref(e, PoolIndexEntry, entSize)
		if err != nil {
			return err
		}
		if er.Uint32(entHash) == hash {
			more, err := fn(er.Ptr(entRec))
			if err != nil || !more {
				return err
			}
		}
		e = er.Ptr(entNext)
	}
	return nil
}

// Remove deletes the entry for 'rec' inserted with 'hash'. Returns false if
// there's no such entry. Requires the write lock.
func (h *HashIndex) Remove(hash uint32, rec Address) (bool, error) {
	hdr, err := h.header()
	if err != nil || hdr.IsNil() {
		return false, err
	}
	page, off, err := h.bucket(hdr, hash&bucketMask(hdr))
	if err != nil {
		return false, err
	}

	// The link pointing at the current entry.
	link, linkOff := page, off
	limit := chainLimit(hdr)
	for e, n := page.Ptr(off), 0; e != 0; n++ {
		if n > limit {
			return false, corruptf("hash chain has a cycle")
		}
		er, err := h.db.Deref(e, PoolIndexEntry, entSize)
		if err != nil {
			return false, err
		}
		if er.Uint32(entHash) == hash && er.Ptr(entRec) == rec {
			link.PutPtr(linkOff, er.Ptr(entNext))
			hdr.PutUint32(ixCount, hdr.Uint32(ixCount)-1)
			return true, h.db.Free(e, PoolIndexEntry)
		}
		link, linkOff = er, entNext
		e = er.Ptr(entNext)
	}
	return false, nil
}

// Each calls 'fn' with every entry, until 'fn' returns false or an error.
// 'fn' must not modify the index.
func (h *HashIndex) Each(fn func(hash uint32, rec Address) (bool, error)) error {
	hdr, err := h.header()
	if err != nil || hdr.IsNil() {
		return err
	}
	buckets := bucketMask(hdr) + 1
	limit := chainLimit(hdr)
	for i := uint32(0); i < buckets; i++ {
		page, off, err := h.bucket(hdr, i)
		if err != nil {
			return err
		}
		for e, n := page.Ptr(off), 0; e != 0; n++ {
			if n > limit {
				return corruptf("hash chain has a cycle")
			}
			er, err := h.db.Deref(e, PoolIndexEntry, entSize)
			if err != nil {
				return err
			}
			more, err := fn(er.Uint32(entHash), er.Ptr(entRec))
			if err != nil || !more {
				return err
			}
			e = er.Ptr(entNext)
		}
	}
	return nil
}

// grow doubles the number of buckets. Entries stay where they are; only the
// chains are relinked.
func (h *HashIndex) grow(hdr Record) error {
	bits := hdr.Uint32(ixBits)
	oldBuckets := uint32(1) << bits
	dir, err := h.db.Deref(hdr.Ptr(ixDir), PoolGrowableArray, dirSize)
	if err != nil {
		return err
	}
	for p := oldBuckets / bucketsPerPage; p < 2*oldBuckets/bucketsPerPage; p++ {
		page, err := h.db.Malloc(bucketPageSize, PoolGrowableArray)
		if err != nil {
			return err
		}
		dir.PutPtr(int(p)*PtrSize, page)
	}
	hdr.PutUint32(ixBits, bits+1)

	limit := chainLimit(hdr)
	for i := uint32(0); i < oldBuckets; i++ {
		lo, loOff, err := h.bucket(hdr, i)
		if err != nil {
			return err
		}
		hi, hiOff, err := h.bucket(hdr, i+oldBuckets)
		if err != nil {
			return err
		}

		var loChain, hiChain []Record
		for e, n := lo.Ptr(loOff), 0; e != 0; n++ {
			if n > limit {
				return corruptf("hash chain has a cycle")
			}
			er, err := h.db.Deref(e, PoolIndexEntry, entSize)
			if err != nil {
				return err
			}
			if er.Uint32(entHash)&oldBuckets != 0 {
				hiChain = append(hiChain, er)
			} else {
				loChain = append(loChain, er)
			}
			e = er.Ptr(entNext)
		}
		relink(lo, loOff, loChain)
		relink(hi, hiOff, hiChain)
	}
	return nil
}

// relink makes 'chain' the chain of the bucket in slot 'off' of 'page'.
func relink(page Record, off int, chain []Record) {
	var next Address
	for i := len(chain) - 1; i >= 0; i-- {
		chain[i].PutPtr(entNext, next)
		next = chain[i].Addr()
	}
	page.PutPtr(off, next)
}
