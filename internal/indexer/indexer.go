// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

// Package indexer keeps a class index up to date with the workspace. A scan
// snapshots the indexable locations, collects stale resources, finds the
// locations whose content changed, reindexes those and tells listeners.
//
// All database mutations happen in short write-lock bursts, so readers of
// the index are never held up for a whole scan. Scans are serialized; the
// background worker coalesces requests for them.
package indexer

import (
	"context"
	"sort"
	"sync"
	"time"

	log "github.com/golang/glog"

	"github.com/westerndigitalcorporation/classindex/internal/core"
	"github.com/westerndigitalcorporation/classindex/internal/fingerprint"
	"github.com/westerndigitalcorporation/classindex/internal/nd"
	"github.com/westerndigitalcorporation/classindex/internal/server"
	"github.com/westerndigitalcorporation/classindex/internal/workspace"
	"github.com/westerndigitalcorporation/classindex/pkg/failures"
	"github.com/westerndigitalcorporation/classindex/pkg/pagedb"
	"github.com/westerndigitalcorporation/classindex/pkg/retry"
)

// Operations failures can be injected into, see server.OpFailure.
const (
	opFingerprint = "fingerprint"
	opRead        = "read"
	// Reported once as database corruption at the start of a scan.
	opCorruptIndex = "corrupt_index"
)

// Event tells listeners which locations were reindexed by a scan.
type Event struct {
	Locations []string
}

// ListenerHandle identifies a registered listener.
type ListenerHandle int

// ScanStats describes one scan.
type ScanStats struct {
	Start     time.Time
	Duration  time.Duration
	Locations int // in the snapshot
	Changed   int // locations reindexed
	Refreshed int // fingerprints rewritten without reindexing
	Remapped  int // resources whose workspace locations changed
	Collected int // resources deleted
	Types     int // types indexed
	Skipped   int // class files that failed to parse
	Corrupt   int // archives that couldn't be read
	Rebuilt   bool
	Err       string `json:",omitempty"`
}

// Indexer maintains the index stored in one database.
type Indexer struct {
	db      *pagedb.Database
	index   *nd.Index
	host    workspace.Host
	cfg     Config
	cache   *fingerprint.LocationCache
	retrier retry.Retrier
	opFail  *server.OpFailure
	journal *Journal

	// Clock for scan timestamps.
	now func() time.Time

	// Held for the duration of a scan or rebuild.
	scanLock sync.Mutex

	listenerLock sync.Mutex
	listeners    map[ListenerHandle]func(Event)
	nextHandle   ListenerHandle

	sched scheduler
}

// New returns an indexer for the index in 'db', fed by 'host'.
func New(db *pagedb.Database, host workspace.Host, cfg Config) (*Indexer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ix := &Indexer{
		db:    db,
		index: nd.New(db),
		host:  host,
		cfg:   cfg,
		cache: fingerprint.NewLocationCache(cfg.LocationCacheEntries),
		retrier: retry.Retrier{
			MinSleep:      cfg.RetryMinSleep,
			MaxSleep:      cfg.RetryMaxSleep,
			MaxNumRetries: cfg.ReadAttempts,
		},
		opFail:    server.NewOpFailure(),
		now:       time.Now,
		listeners: make(map[ListenerHandle]func(Event)),
	}
	if cfg.JournalPath != "" {
		j, err := OpenJournal(cfg.JournalPath, cfg.JournalEntries)
		if err != nil {
			return nil, err
		}
		ix.journal = j
	}
	if cfg.UseFailure {
		if err := failures.Register("indexer_op_failure", ix.opFail.Handler); err != nil {
			log.Errorf("failed to register failure service: %s", err)
		}
	}
	ix.sched.init()
	return ix, nil
}

// Index returns the index being maintained.
func (ix *Indexer) Index() *nd.Index {
	return ix.index
}

// Journal returns the scan journal, nil if there's none.
func (ix *Indexer) Journal() *Journal {
	return ix.journal
}

// Close stops the worker and closes the journal. The database stays open.
func (ix *Indexer) Close() error {
	ix.Stop()
	if ix.journal != nil {
		return ix.journal.Close()
	}
	return nil
}

// AddListener registers 'fn' to be called after every scan that reindexed
// something. Listeners are called on the scanning goroutine.
func (ix *Indexer) AddListener(fn func(Event)) ListenerHandle {
	ix.listenerLock.Lock()
	defer ix.listenerLock.Unlock()
	ix.nextHandle++
	ix.listeners[ix.nextHandle] = fn
	return ix.nextHandle
}

// RemoveListener unregisters a listener. Returns false if it wasn't
// registered.
func (ix *Indexer) RemoveListener(h ListenerHandle) bool {
	ix.listenerLock.Lock()
	defer ix.listenerLock.Unlock()
	_, ok := ix.listeners[h]
	delete(ix.listeners, h)
	return ok
}

func (ix *Indexer) fire(locations []string) {
	if len(locations) == 0 {
		return
	}
	sort.Strings(locations)
	ix.listenerLock.Lock()
	handles := make([]ListenerHandle, 0, len(ix.listeners))
	for h := range ix.listeners {
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })
	fns := make([]func(Event), 0, len(handles))
	for _, h := range handles {
		fns = append(fns, ix.listeners[h])
	}
	ix.listenerLock.Unlock()

	for _, fn := range fns {
		fn(Event{Locations: append([]string(nil), locations...)})
	}
}

// injected returns the error registered for 'op' with the failure service.
func (ix *Indexer) injected(op string) error {
	return ix.opFail.Fail(op)
}

// Rescan brings the index up to date with the workspace. If the database
// turns out to be corrupt, it's cleared and the scan is repeated once.
func (ix *Indexer) Rescan(ctx context.Context) (st *ScanStats, err error) {
	ix.scanLock.Lock()
	defer ix.scanLock.Unlock()

	op := scanMetric.Start("rescan")
	defer op.EndWithError(&err)

	st, err = ix.rescan(ctx)
	if core.IsCorruption(err) {
		log.Errorf("index is corrupt, rebuilding: %s", err)
		rebuilds.WithLabelValues("corruption").Inc()
		if err = ix.clear(ctx); err == nil {
			st, err = ix.rescan(ctx)
			st.Rebuilt = true
		}
	}
	ix.record(st, err)
	return st, err
}

// RebuildIndex discards the whole index and rescans.
func (ix *Indexer) RebuildIndex(ctx context.Context) (st *ScanStats, err error) {
	ix.scanLock.Lock()
	defer ix.scanLock.Unlock()

	op := scanMetric.Start("rebuild")
	defer op.EndWithError(&err)

	log.Infof("rebuilding the index")
	rebuilds.WithLabelValues("requested").Inc()
	if err = ix.clear(ctx); err != nil {
		return nil, err
	}
	st, err = ix.rescan(ctx)
	st.Rebuilt = true
	ix.record(st, err)
	return st, err
}

func (ix *Indexer) clear(ctx context.Context) error {
	ix.cache.Clear()
	return ix.db.Update(ctx, func() error {
		if err := ix.db.Clear(); err != nil {
			return err
		}
		return ix.db.Flush()
	})
}

func (ix *Indexer) record(st *ScanStats, err error) {
	if err != nil {
		st.Err = err.Error()
	}
	if ix.journal == nil {
		return
	}
	if jerr := ix.journal.Append(st); jerr != nil {
		log.Errorf("failed to journal scan: %s", jerr)
	}
}

// IsUpToDate is true if 'location' is indexed and its content didn't change
// since. Results are cached until the next scan or MakeDirty.
func (ix *Indexer) IsUpToDate(location string) (bool, error) {
	if r, ok := ix.cache.Get(location); ok {
		return r.Matches, nil
	}
	var stored fingerprint.Fingerprint
	found := false
	err := ix.db.View(func() error {
		rs, err := ix.index.ResourceFile(location)
		if err != nil || rs == nil {
			return err
		}
		stored, found = rs.Fingerprint(), true
		return nil
	})
	if err != nil || !found {
		return false, err
	}
	r, err := fingerprint.Test(stored, location)
	if err != nil {
		return false, err
	}
	ix.cache.Put(location, r)
	return r.Matches, nil
}
