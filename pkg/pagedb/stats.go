// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package pagedb

import (
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	chunksGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Subsystem: "pagedb",
		Name:      "chunks",
		Help:      "number of chunks in the database, in the cache, and dirty",
	}, []string{"db", "state"})

	cacheCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "pagedb",
		Name:      "cache_lookups",
		Help:      "chunk cache lookups",
	}, []string{"db", "result"})

	flushedChunks = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "pagedb",
		Name:      "flushed_chunks",
		Help:      "chunks written by flushes",
	}, []string{"db"})

	flushLatency = promauto.NewSummaryVec(prometheus.SummaryOpts{
		Subsystem: "pagedb",
		Name:      "flush_latency",
		Help:      "time spent in flushes, in seconds",
	}, []string{"db"})

	poolBytesGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Subsystem: "pagedb",
		Name:      "pool_bytes",
		Help:      "bytes allocated from each pool",
	}, []string{"db", "pool"})
)

// dbMetrics holds the metric children for one database.
type dbMetrics struct {
	name      string
	hits      prometheus.Counter
	misses    prometheus.Counter
	total     prometheus.Gauge
	cached    prometheus.Gauge
	dirty     prometheus.Gauge
	chunksOut prometheus.Counter
	flushTime prometheus.Observer
}

func newDBMetrics(name string) dbMetrics {
	return dbMetrics{
		name:      name,
		hits:      cacheCounter.WithLabelValues(name, "hit"),
		misses:    cacheCounter.WithLabelValues(name, "miss"),
		total:     chunksGauge.WithLabelValues(name, "total"),
		cached:    chunksGauge.WithLabelValues(name, "cached"),
		dirty:     chunksGauge.WithLabelValues(name, "dirty"),
		chunksOut: flushedChunks.WithLabelValues(name),
		flushTime: flushLatency.WithLabelValues(name),
	}
}

func (m dbMetrics) cacheHit() {
	m.hits.Inc()
}

func (m dbMetrics) cacheMiss() {
	m.misses.Inc()
}

func (m dbMetrics) flushed(chunks int, elapsed time.Duration) {
	m.chunksOut.Add(float64(chunks))
	m.flushTime.Observe(elapsed.Seconds())
}

// counters are protected by Database.mu.
type counters struct {
	cacheHits    int64
	cacheMisses  int64
	bytesRead    int64
	bytesWritten int64
	flushes      int64
	flushTime    time.Duration
}

// PoolStats describes the allocations made from a pool.
type PoolStats struct {
	Pool        Pool
	Allocations uint32
	Frees       uint32
	BytesInUse  uint64
}

// Stats is a snapshot of the database's size and activity.
type Stats struct {
	Path         string
	Version      uint32
	WriteNumber  uint64
	Chunks       int
	CachedChunks int
	DirtyChunks  int
	CacheHits    int64
	CacheMisses  int64
	BytesRead    int64
	BytesWritten int64
	Flushes      int64
	FlushTime    time.Duration
	Pools        []PoolStats
}

// String formats the stats for humans.
func (s Stats) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: version %d, write number %d\n", s.Path, s.Version, s.WriteNumber)
	fmt.Fprintf(&b, "chunks: %d total, %d cached, %d dirty\n", s.Chunks, s.CachedChunks, s.DirtyChunks)
	fmt.Fprintf(&b, "cache: %d hits, %d misses\n", s.CacheHits, s.CacheMisses)
	fmt.Fprintf(&b, "io: %d bytes read, %d bytes written, %d flushes in %s\n",
		s.BytesRead, s.BytesWritten, s.Flushes, s.FlushTime)
	for _, p := range s.Pools {
		fmt.Fprintf(&b, "  %-16s %8d allocs %8d frees %10d bytes\n", p.Pool, p.Allocations, p.Frees, p.BytesInUse)
	}
	return b.String()
}

// Pools 0 through 7 get their own slot, followed by the node pools. Node
// pools past the end of the table share the last slot.
func poolSlot(p Pool) int {
	var slot int
	if p < PoolFirstNodeType {
		slot = int(p)
		if slot > 7 {
			slot = 7
		}
	} else {
		slot = 8 + int(p-PoolFirstNodeType)
	}
	if slot >= numPoolSlots {
		slot = numPoolSlots - 1
	}
	return poolStatsOffset + slot*poolStatsSize
}

func slotPool(slot int) Pool {
	if slot < 8 {
		return Pool(slot)
	}
	return PoolFirstNodeType + Pool(slot-8)
}

func (db *Database) recordAlloc(p Pool, bytes int) {
	off := poolSlot(p)
	db.putHeaderUint32(off, db.headerUint32(off)+1)
	db.putHeaderUint64(off+8, db.headerUint64(off+8)+uint64(bytes))
}

func (db *Database) recordFree(p Pool, bytes int) {
	off := poolSlot(p)
	db.putHeaderUint32(off+4, db.headerUint32(off+4)+1)
	db.putHeaderUint64(off+8, db.headerUint64(off+8)-uint64(bytes))
}

// Stats returns a snapshot of the database's statistics. Requires a lock.
func (db *Database) Stats() Stats {
	db.mu.Lock()
	s := Stats{
		Path:         db.path,
		Version:      db.version,
		Chunks:       db.numChunks,
		CachedChunks: db.cache.Len(),
		DirtyChunks:  len(db.dirty),
		CacheHits:    db.counters.cacheHits,
		CacheMisses:  db.counters.cacheMisses,
		BytesRead:    db.counters.bytesRead,
		BytesWritten: db.counters.bytesWritten,
		Flushes:      db.counters.flushes,
		FlushTime:    db.counters.flushTime,
	}
	db.mu.Unlock()

	s.WriteNumber = db.WriteNumber()
	for slot := 0; slot < numPoolSlots; slot++ {
		off := poolStatsOffset + slot*poolStatsSize
		ps := PoolStats{
			Pool:        slotPool(slot),
			Allocations: db.headerUint32(off),
			Frees:       db.headerUint32(off + 4),
			BytesInUse:  db.headerUint64(off + 8),
		}
		if ps.Allocations != 0 {
			s.Pools = append(s.Pools, ps)
		}
	}
	return s
}

// updateGauges exports the current chunk and pool numbers.
func (db *Database) updateGauges() {
	db.mu.Lock()
	total, cached, dirty := db.numChunks, db.cache.Len(), len(db.dirty)
	db.mu.Unlock()
	db.metrics.total.Set(float64(total))
	db.metrics.cached.Set(float64(cached))
	db.metrics.dirty.Set(float64(dirty))

	for slot := 0; slot < numPoolSlots; slot++ {
		off := poolStatsOffset + slot*poolStatsSize
		if db.headerUint32(off) == 0 {
			continue
		}
		poolBytesGauge.WithLabelValues(db.name, slotPool(slot).String()).Set(float64(db.headerUint64(off + 8)))
	}
}
