// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package fingerprint

import (
	"sync"

	"github.com/golang/groupcache/lru"
)

// DefaultCacheEntries bounds a LocationCache created with a size of zero.
const DefaultCacheEntries = 1 << 16

// LocationCache remembers the last fingerprint test result per location.
// It is safe for concurrent use.
type LocationCache struct {
	lock  sync.Mutex
	size  int
	cache *lru.Cache
}

// NewLocationCache returns a cache holding at most 'size' locations.
func NewLocationCache(size int) *LocationCache {
	if size <= 0 {
		size = DefaultCacheEntries
	}
	return &LocationCache{size: size, cache: lru.New(size)}
}

// Get returns the cached result for 'location'.
func (c *LocationCache) Get(location string) (Result, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	v, ok := c.cache.Get(location)
	if !ok {
		return Result{}, false
	}
	return v.(Result), true
}

// Put caches 'r' for 'location'.
func (c *LocationCache) Put(location string, r Result) {
	c.lock.Lock()
	c.cache.Add(location, r)
	c.lock.Unlock()
}

// Remove forgets 'location'.
func (c *LocationCache) Remove(location string) {
	c.lock.Lock()
	c.cache.Remove(location)
	c.lock.Unlock()
}

// Clear forgets everything.
func (c *LocationCache) Clear() {
	c.lock.Lock()
	c.cache = lru.New(c.size)
	c.lock.Unlock()
}

// Len returns the number of cached locations.
func (c *LocationCache) Len() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.cache.Len()
}
