// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package pagedb

import (
	"fmt"

	sigar "github.com/cloudfoundry/gosigar"
	log "github.com/golang/glog"
)

// Config encapsulates tuning parameters for a Database.
type Config struct {
	// How many clean chunks the cache keeps in memory between lock
	// acquisitions. Chunks touched while a lock is held always stay resident
	// until it's released.
	CacheChunks int

	// A write lock release flushes the database when more than this many
	// chunks are dirty.
	FlushDirtyChunks int

	// Whether to attempt to keep chunk data out of the OS buffer cache.
	DropCache bool
}

// Validate validates the configuration object has reasonable(not obviously
// wrong) values.
func (c Config) Validate() error {
	if c.CacheChunks <= 0 {
		return fmt.Errorf("CacheChunks must be positive")
	}
	if c.FlushDirtyChunks <= 0 {
		return fmt.Errorf("FlushDirtyChunks must be positive")
	}
	return nil
}

// DefaultProdConfig specifies the default values for Config that is used for
// production.
var DefaultProdConfig = Config{
	CacheChunks:      DefaultCacheChunks(),
	FlushDirtyChunks: 16384, // 64MB of dirty data
	DropCache:        false,
}

// DefaultTestConfig specifies the default values for Config that is used for
// testing. The cache is tiny so eviction paths get exercised.
var DefaultTestConfig = Config{
	CacheChunks:      16,
	FlushDirtyChunks: 64,
	DropCache:        false,
}

const (
	// Share of physical memory given to the chunk cache.
	cacheMemoryFraction = 20

	minCacheChunks      = 1024
	maxCacheChunks      = 1 << 18 // 1GB
	fallbackCacheChunks = 8192
)

// DefaultCacheChunks sizes the chunk cache at 5% of physical memory.
func DefaultCacheChunks() int {
	mem := sigar.Mem{}
	if err := mem.Get(); err != nil {
		log.Errorf("failed to get memory info: %s", err)
		return fallbackCacheChunks
	}
	chunks := int(mem.Total / cacheMemoryFraction / ChunkSize)
	if chunks < minCacheChunks {
		return minCacheChunks
	}
	if chunks > maxCacheChunks {
		return maxCacheChunks
	}
	return chunks
}
