// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package indexer

import (
	"context"
	"sync"

	log "github.com/golang/glog"

	"github.com/westerndigitalcorporation/classindex/internal/core"
)

// WaitPolicy says what WaitForIndex does while the index isn't ready.
type WaitPolicy int

const (
	// ForceImmediate returns right away; queries see whatever is indexed.
	ForceImmediate WaitPolicy = iota
	// CancelIfNotReady fails with core.ErrNotReady if a job is running or
	// pending.
	CancelIfNotReady
	// WaitUntilReady blocks until the worker is idle.
	WaitUntilReady
)

var policyNames = map[WaitPolicy]string{
	ForceImmediate:   "ForceImmediate",
	CancelIfNotReady: "CancelIfNotReady",
	WaitUntilReady:   "WaitUntilReady",
}

func (p WaitPolicy) String() string {
	if s, ok := policyNames[p]; ok {
		return s
	}
	return "WaitPolicy(?)"
}

// scheduler is the state of the background worker. Requests only set flags
// and poke the worker, so any number of them coalesce into one job.
type scheduler struct {
	lock sync.Mutex

	// Automatic indexing is disabled; rescans are only recorded in 'dirty'.
	manual bool
	dirty  bool

	pendingRescan  bool
	pendingRebuild bool
	running        bool
	cancel         context.CancelFunc

	// Closed and replaced whenever the state above changes.
	changed chan struct{}
	wake    chan struct{}

	started bool
	stop    chan struct{}
	done    chan struct{}
}

func (s *scheduler) init() {
	s.changed = make(chan struct{})
	s.wake = make(chan struct{}, 1)
}

// notify wakes up everyone waiting for a state change. Requires 'lock'.
func (s *scheduler) notify() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *scheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *scheduler) busy() bool {
	return s.running || s.pendingRescan || s.pendingRebuild
}

func (s *scheduler) clearDirty() {
	s.lock.Lock()
	s.dirty = false
	s.lock.Unlock()
}

// Start runs the background worker.
func (ix *Indexer) Start() {
	s := &ix.sched
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go ix.worker(s.stop, s.done)
	if s.busy() {
		s.poke()
	}
}

// Stop cancels the running job and waits for the worker to exit. Pending
// requests are kept for the next Start.
func (ix *Indexer) Stop() {
	s := &ix.sched
	s.lock.Lock()
	if !s.started {
		s.lock.Unlock()
		return
	}
	s.started = false
	close(s.stop)
	if s.cancel != nil {
		s.cancel()
	}
	done := s.done
	s.lock.Unlock()
	<-done
}

func (ix *Indexer) worker(stop, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case <-ix.sched.wake:
		}
		for {
			select {
			case <-stop:
				return
			default:
			}
			if !ix.runPending() {
				break
			}
		}
	}
}

// runPending runs one pending job. Returns false if there was none.
func (ix *Indexer) runPending() bool {
	s := &ix.sched
	s.lock.Lock()
	rebuild := s.pendingRebuild
	if !rebuild && !s.pendingRescan {
		s.lock.Unlock()
		return false
	}
	s.pendingRebuild, s.pendingRescan = false, false
	ctx, cancel := context.WithCancel(context.Background())
	s.running, s.cancel = true, cancel
	s.notify()
	s.lock.Unlock()

	var err error
	if rebuild {
		_, err = ix.RebuildIndex(ctx)
	} else {
		_, err = ix.Rescan(ctx)
	}
	cancel()
	if err != nil && core.FromError(err) != core.ErrCanceled {
		log.Errorf("background job failed: %s", err)
	}

	s.lock.Lock()
	s.running, s.cancel = false, nil
	s.notify()
	s.lock.Unlock()
	return true
}

// RescanAll schedules a rescan. With automatic indexing disabled it is only
// remembered.
func (ix *Indexer) RescanAll() {
	s := &ix.sched
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.manual {
		s.dirty = true
		return
	}
	s.pendingRescan = true
	s.notify()
	s.poke()
}

// RequestRebuildIndex schedules a rebuild, canceling the running job. It
// supersedes any pending rescan.
func (ix *Indexer) RequestRebuildIndex() {
	s := &ix.sched
	s.lock.Lock()
	defer s.lock.Unlock()
	s.pendingRebuild = true
	s.pendingRescan = false
	if s.cancel != nil {
		s.cancel()
	}
	s.notify()
	s.poke()
}

// EnableAutomaticIndexing turns the reaction to RescanAll on or off.
// Disabling waits for the running job. Enabling runs the rescans missed
// while disabled.
func (ix *Indexer) EnableAutomaticIndexing(on bool) {
	s := &ix.sched
	s.lock.Lock()
	defer s.lock.Unlock()
	if on {
		s.manual = false
		if s.dirty {
			s.dirty = false
			s.pendingRescan = true
			s.notify()
			s.poke()
		}
		return
	}

	s.manual = true
	if s.pendingRescan {
		s.pendingRescan = false
		s.dirty = true
		s.notify()
	}
	for s.running {
		ch := s.changed
		s.lock.Unlock()
		<-ch
		s.lock.Lock()
	}
}

// WaitForIndex blocks according to 'policy' until the index is ready for
// queries. Without a running worker, WaitUntilReady runs the pending jobs
// itself.
func (ix *Indexer) WaitForIndex(ctx context.Context, policy WaitPolicy) error {
	s := &ix.sched
	switch policy {
	case ForceImmediate:
		return nil
	case CancelIfNotReady:
		s.lock.Lock()
		defer s.lock.Unlock()
		if s.busy() {
			return core.ErrNotReady.Error()
		}
		return nil
	case WaitUntilReady:
	default:
		return core.ErrInvalidArgument.Error()
	}

	s.lock.Lock()
	if s.manual && s.dirty {
		s.dirty = false
		s.pendingRescan = true
		s.notify()
		s.poke()
	}
	for s.busy() {
		if !s.started && !s.running {
			s.lock.Unlock()
			ix.runPending()
			s.lock.Lock()
			continue
		}
		ch := s.changed
		s.lock.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
		s.lock.Lock()
	}
	s.lock.Unlock()
	return nil
}

// MakeDirty forgets what is known about 'location' and schedules a rescan.
func (ix *Indexer) MakeDirty(location string) {
	ix.cache.Remove(location)
	ix.RescanAll()
}

// MakeProjectDirty is called when a project's build path changed.
func (ix *Indexer) MakeProjectDirty() {
	ix.cache.Clear()
	ix.RescanAll()
}

// MakeWorkspacePathDirty is called when a workspace element changed. The
// element may map to any location, so every cached result is dropped.
func (ix *Indexer) MakeWorkspacePathDirty(path string) {
	log.V(1).Infof("workspace path %s changed", path)
	ix.cache.Clear()
	ix.RescanAll()
}

// AutomaticIndexing is a server.Toggle for automatic indexing.
type AutomaticIndexing struct {
	*Indexer
}

// Enabled is true while RescanAll schedules rescans.
func (a AutomaticIndexing) Enabled() bool {
	s := &a.sched
	s.lock.Lock()
	defer s.lock.Unlock()
	return !s.manual
}

// SetEnabled calls EnableAutomaticIndexing.
func (a AutomaticIndexing) SetEnabled(on bool) {
	a.EnableAutomaticIndexing(on)
}
