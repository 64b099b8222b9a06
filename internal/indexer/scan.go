// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package indexer

import (
	"context"
	"sync"
	"time"

	log "github.com/golang/glog"
	"golang.org/x/net/trace"

	"github.com/westerndigitalcorporation/classindex/internal/core"
	"github.com/westerndigitalcorporation/classindex/internal/fingerprint"
	"github.com/westerndigitalcorporation/classindex/internal/nd"
	"github.com/westerndigitalcorporation/classindex/internal/server"
	"github.com/westerndigitalcorporation/classindex/internal/workspace"
)

// change is a location whose content must be reindexed.
type change struct {
	location string
	fp       fingerprint.Fingerprint
}

// rescan runs one scan. The returned stats are never nil.
func (ix *Indexer) rescan(ctx context.Context) (*ScanStats, error) {
	tr := trace.New("indexer", "rescan")
	defer tr.Finish()

	began := time.Now()
	now := ix.now()
	st := &ScanStats{Start: now}
	ix.sched.clearDirty()
	ix.cache.Clear()

	err := ix.scan(ctx, tr, now, st)
	st.Duration = time.Since(began)
	if err != nil {
		tr.LazyPrintf("failed: %s", err)
		tr.SetError()
		if core.FromError(err) == core.ErrCanceled {
			log.Infof("rescan canceled after %s", st.Duration)
		} else {
			log.Errorf("rescan failed after %s: %s", st.Duration, err)
		}
		return st, err
	}
	log.Infof("rescan done in %s: %d locations, %d reindexed, %d types, %d collected",
		st.Duration, st.Locations, st.Changed, st.Types, st.Collected)

	if ix.cfg.DebugAllocations {
		ix.logAllocations()
	}
	return st, nil
}

func (ix *Indexer) scan(ctx context.Context, tr trace.Trace, now time.Time, st *ScanStats) error {
	phase := func(name string, fn func() error) (err error) {
		op := phaseMetric.Start(name)
		defer op.EndWithError(&err)
		start := time.Now()
		err = fn()
		if err == nil {
			err = ctx.Err()
		}
		tr.LazyPrintf("%s: %s", name, time.Since(start))
		if ix.cfg.DebugTiming {
			log.Infof("rescan %s took %s", name, time.Since(start))
		}
		return err
	}

	var snap *workspace.Snapshot
	err := phase(phaseSnapshot, func() (err error) {
		snap, err = workspace.Create(ctx, ix.host)
		return err
	})
	if err != nil {
		return err
	}
	st.Locations = snap.Len()

	if err := phase(phaseGC, func() error { return ix.collectGarbage(ctx, snap, now, st) }); err != nil {
		return err
	}

	var changes []change
	var unchanged []string
	err = phase(phaseFingerprint, func() (err error) {
		changes, unchanged, err = ix.testForChanges(ctx, snap, st)
		return err
	})
	if err != nil {
		return err
	}

	var reindexed []string
	err = phase(phaseIndex, func() error {
		for _, c := range changes {
			if err := ctx.Err(); err != nil {
				return err
			}
			done, err := ix.indexLocation(ctx, c, snap.Elements(c.location), now, st)
			if err != nil {
				return err
			}
			if done {
				reindexed = append(reindexed, c.location)
			}
		}
		return nil
	})
	st.Changed = len(reindexed)
	if err != nil {
		return err
	}

	err = phase(phaseMappings, func() error {
		for _, loc := range unchanged {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := ix.updateMappings(ctx, loc, snap.Elements(loc), st); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := phase(phaseFlush, func() error { return ix.db.Update(ctx, ix.db.Flush) }); err != nil {
		return err
	}
	ix.fire(reindexed)
	return nil
}

// testForChanges fingerprints every location of the snapshot. It returns
// the locations to reindex and the ones whose content is already indexed.
// Fingerprints whose metadata changed with the same content are rewritten.
func (ix *Indexer) testForChanges(ctx context.Context, snap *workspace.Snapshot, st *ScanStats) ([]change, []string, error) {
	locs := snap.Locations()
	stored := make([]fingerprint.Fingerprint, len(locs))
	indexed := make([]bool, len(locs))
	err := ix.db.View(func() error {
		for i, loc := range locs {
			rs, err := ix.index.ResourceFile(loc)
			if err != nil {
				return err
			}
			if rs != nil {
				stored[i], indexed[i] = rs.Fingerprint(), true
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	results := make([]fingerprint.Result, len(locs))
	sem := server.NewSemaphore(ix.cfg.FingerprintWorkers)
	var wg sync.WaitGroup
	for i := range locs {
		if err := sem.Acquire(ctx); err != nil {
			break
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer sem.Release()
			results[i] = ix.testLocation(ctx, locs[i], stored[i])
		}(i)
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	var changes []change
	var unchanged []string
	for i, loc := range locs {
		r := results[i]
		if !indexed[i] || !r.Matches {
			changes = append(changes, change{location: loc, fp: r.New})
			continue
		}
		unchanged = append(unchanged, loc)
		ix.cache.Put(loc, r)
		if !r.NeedsRefresh {
			continue
		}
		err := ix.db.Update(ctx, func() error {
			rs, err := ix.index.ResourceFile(loc)
			if err != nil || rs == nil {
				return err
			}
			rs.SetFingerprint(r.New)
			return nil
		})
		if err != nil {
			return nil, nil, err
		}
		st.Refreshed++
	}
	return changes, unchanged, nil
}

// testLocation compares 'stored' with the content of 'location'. A location
// that can't be read is treated as missing.
func (ix *Indexer) testLocation(ctx context.Context, location string, stored fingerprint.Fingerprint) fingerprint.Result {
	var r fingerprint.Result
	err := ix.retrier.Run(ctx, func() (err error) {
		if err = ix.injected(opFingerprint); err != nil {
			return err
		}
		r, err = fingerprint.Test(stored, location)
		return err
	}, core.IsRetriable)
	if err != nil {
		log.Errorf("%s: fingerprint failed, treating as missing: %s", location, err)
		return fingerprint.Result{Matches: stored.IsEmpty(), New: fingerprint.Empty}
	}
	return r
}

// updateMappings rewrites the workspace locations of the resource indexing
// 'location' if the host elements referring to it changed.
func (ix *Indexer) updateMappings(ctx context.Context, location string, elems []workspace.ElementRef, st *ScanStats) error {
	return ix.db.Update(ctx, func() error {
		rs, err := ix.index.ResourceFile(location)
		if err != nil || rs == nil {
			return err
		}
		changed, err := setMappings(rs, location, elems)
		if changed {
			st.Remapped++
		}
		return err
	})
}

// setMappings stores the host elements of a resource. Returns whether
// anything was written.
func setMappings(rs *nd.Resource, location string, elems []workspace.ElementRef) (bool, error) {
	paths := make([]string, len(elems))
	for i, e := range elems {
		paths[i] = e.Path
	}
	changed, err := rs.SetWorkspaceLocations(paths)
	if err != nil {
		return false, err
	}
	root := ""
	if len(elems) > 0 && elems[0].Root != location {
		root = elems[0].Root
	}
	cur, err := rs.PackageFragmentRoot()
	if err != nil {
		return false, err
	}
	if cur != root {
		if err := rs.SetPackageFragmentRoot(root); err != nil {
			return false, err
		}
		changed = true
	}
	return changed, nil
}

func (ix *Indexer) logAllocations() {
	ix.db.View(func() error {
		s := ix.db.Stats()
		log.Infof("index %s: %d chunks, write number %d", s.Path, s.Chunks, s.WriteNumber)
		for _, p := range s.Pools {
			log.Infof("  %-20s %8d allocs %8d frees %10d bytes", nd.PoolName(p.Pool), p.Allocations, p.Frees, p.BytesInUse)
		}
		return nil
	})
}
