// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package indexer

import (
	"context"
	"time"

	log "github.com/golang/glog"

	"github.com/westerndigitalcorporation/classindex/internal/nd"
	"github.com/westerndigitalcorporation/classindex/internal/workspace"
	"github.com/westerndigitalcorporation/classindex/pkg/pagedb"
)

// collectGarbage deletes resources that are half built, invalidated, or
// haven't been in the workspace for GCTimeout. Resources still in the
// workspace get their last-used time bumped every RefreshPeriod.
func (ix *Indexer) collectGarbage(ctx context.Context, snap *workspace.Snapshot, now time.Time, st *ScanStats) error {
	if err := ix.injected(opCorruptIndex); err != nil {
		return err
	}

	nowMs := now.UnixMilli()
	timeout := ix.cfg.GCTimeout.Milliseconds()
	refresh := ix.cfg.RefreshPeriod().Milliseconds()

	var garbage, touch []pagedb.Address
	err := ix.db.View(func() error {
		return ix.index.EachResource(func(rs *nd.Resource) (bool, error) {
			loc, err := rs.Location()
			if err != nil {
				return false, err
			}
			inSnap := snap.Contains(loc)
			age := nowMs - rs.TimeLastUsed()
			switch {
			case !rs.IsDoneIndexing() || rs.Lifecycle() != nd.Live:
				garbage = append(garbage, rs.Addr())
			case !inSnap && age > timeout:
				garbage = append(garbage, rs.Addr())
			case inSnap && age > refresh:
				touch = append(touch, rs.Addr())
			}
			return true, nil
		})
	})
	if err != nil {
		return err
	}

	for _, a := range garbage {
		if err := ix.deleteResource(ctx, a); err != nil {
			return err
		}
		st.Collected++
	}
	for _, a := range touch {
		err := ix.db.Update(ctx, func() error {
			rs, err := ix.index.Resource(a)
			if err != nil {
				return err
			}
			rs.SetTimeLastUsed(nowMs)
			return nil
		})
		if err != nil {
			return err
		}
	}
	if len(garbage) > 0 {
		log.Infof("collected %d resources, refreshed %d", len(garbage), len(touch))
	}
	return nil
}

// deleteResource deletes a resource one child per write burst. It's first
// invalidated so queries stop returning it. If interrupted, the next
// collection finishes the job.
func (ix *Indexer) deleteResource(ctx context.Context, a pagedb.Address) error {
	err := ix.db.Update(ctx, func() error {
		rs, err := ix.index.Resource(a)
		if err != nil {
			return err
		}
		rs.Invalidate()
		if ix.cfg.DebugInsertions {
			loc, _ := rs.Location()
			log.Infof("deleting resource %d for %s: %d types", a, loc, rs.TypeCount())
		}
		return nil
	})
	if err != nil {
		return err
	}
	for more := true; more; {
		err := ix.db.Update(ctx, func() (err error) {
			rs, err := ix.index.Resource(a)
			if err != nil {
				return err
			}
			more, err = rs.DeleteOneChild()
			return err
		})
		if err != nil {
			return err
		}
	}
	err = ix.db.Update(ctx, func() error {
		rs, err := ix.index.Resource(a)
		if err != nil {
			return err
		}
		return rs.Delete()
	})
	if err != nil {
		return err
	}
	resourcesCollected.Inc()
	return nil
}
