// Copyright (c) 2015 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT
//
// A page is a fixed-size run of data followed by a checksum that validates it.

package disk

import (
	"encoding/binary"
	"hash/crc32"
	"sync"
)

const (
	// pageChecksumLength is the length of a checksum (crc32, specifically)
	pageChecksumLength = 4
)

var (
	// This is opaque, pre-calculated data used by the hash/crc32 package to speed up CRC calculations.
	crc32Table = crc32.MakeTable(crc32.Castagnoli)
)

// sealPage computes the checksum over raw[:len(raw)-pageChecksumLength] and
// stores it in the trailing bytes of 'raw'.
func sealPage(raw []byte) {
	n := len(raw) - pageChecksumLength
	binary.LittleEndian.PutUint32(raw[n:], crc32.Checksum(raw[:n], crc32Table))
}

// pageOK returns true if the trailer of 'raw' matches the data it follows.
func pageOK(raw []byte) bool {
	n := len(raw) - pageChecksumLength
	return binary.LittleEndian.Uint32(raw[n:]) == crc32.Checksum(raw[:n], crc32Table)
}

// scratchPool caches raw page buffers (data + checksum) so reads and writes
// don't allocate. Buffers are keyed by nothing: callers re-slice to their
// page size and grow when a buffer is too small.
var scratchPool = &sync.Pool{New: func() interface{} { return new([]byte) }}

// getScratch returns a buffer of exactly 'n' bytes.
func getScratch(n int) *[]byte {
	b := scratchPool.Get().(*[]byte)
	if cap(*b) < n {
		*b = make([]byte, n)
	}
	*b = (*b)[:n]
	return b
}

// returnScratch returns the buffer to scratchPool so it can either be GC-ed or reused in future.
func returnScratch(b *[]byte) {
	scratchPool.Put(b)
}
