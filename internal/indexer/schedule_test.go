// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package indexer

import (
	"context"
	"testing"
	"time"

	"github.com/westerndigitalcorporation/classindex/internal/core"
)

func waitReady(t *testing.T, ti *testIndexer) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ti.WaitForIndex(ctx, WaitUntilReady); err != nil {
		t.Fatalf("WaitForIndex: %s", err)
	}
}

func TestWaitPolicies(t *testing.T) {
	ti := newTestIndexer(t)
	jar := ti.path("a.jar")
	writeJar(t, jar, "p/A")
	ti.host.addArchive(jar, "/proj/a.jar")

	ctx := context.Background()
	if err := ti.WaitForIndex(ctx, CancelIfNotReady); err != nil {
		t.Fatalf("idle indexer not ready: %s", err)
	}
	ti.RescanAll()
	if err := ti.WaitForIndex(ctx, CancelIfNotReady); core.FromError(err) != core.ErrNotReady {
		t.Fatalf("pending rescan: got %v", err)
	}
	if err := ti.WaitForIndex(ctx, ForceImmediate); err != nil {
		t.Fatalf("ForceImmediate: %s", err)
	}
	if ti.typeCount(t, "p/A") != 0 {
		t.Fatalf("indexed without a worker")
	}

	// Without a worker the waiter runs the scan.
	waitReady(t, ti)
	if ti.typeCount(t, "p/A") != 1 {
		t.Fatalf("not indexed")
	}
	if err := ti.WaitForIndex(ctx, CancelIfNotReady); err != nil {
		t.Fatalf("not ready after wait: %s", err)
	}
	if err := ti.WaitForIndex(ctx, WaitPolicy(42)); core.FromError(err) != core.ErrInvalidArgument {
		t.Errorf("bad policy: got %v", err)
	}
}

func TestWorker(t *testing.T) {
	ti := newTestIndexer(t)
	jar := ti.path("a.jar")
	writeJar(t, jar, "p/A")
	ti.host.addArchive(jar, "/proj/a.jar")

	events := make(chan Event, 10)
	ti.AddListener(func(e Event) { events <- e })
	ti.Start()
	defer ti.Stop()

	ti.RescanAll()
	select {
	case e := <-events:
		if len(e.Locations) != 1 || e.Locations[0] != jar {
			t.Fatalf("event %v", e)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("no scan")
	}
	waitReady(t, ti)

	ti.RequestRebuildIndex()
	waitReady(t, ti)
	h, err := ti.Journal().History(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(h) != 1 || !h[0].Rebuilt {
		t.Errorf("last scan wasn't a rebuild: %+v", h)
	}
	if ti.typeCount(t, "p/A") != 1 {
		t.Errorf("not indexed after rebuild")
	}
}

func TestAutomaticIndexingDisabled(t *testing.T) {
	ti := newTestIndexer(t)
	jar := ti.path("a.jar")
	writeJar(t, jar, "p/A")
	ti.host.addArchive(jar, "/proj/a.jar")

	ti.EnableAutomaticIndexing(false)
	ti.RescanAll()
	ti.MakeProjectDirty()
	// Only remembered, so nothing is pending.
	if err := ti.WaitForIndex(context.Background(), CancelIfNotReady); err != nil {
		t.Fatalf("got %v", err)
	}
	if ti.typeCount(t, "p/A") != 0 {
		t.Fatalf("indexed while disabled")
	}

	// Waiting runs the missed rescan.
	waitReady(t, ti)
	if ti.typeCount(t, "p/A") != 1 {
		t.Fatalf("missed rescan not run")
	}

	ti.MakeWorkspacePathDirty("/proj/a.jar")
	ti.EnableAutomaticIndexing(true)
	if err := ti.WaitForIndex(context.Background(), CancelIfNotReady); core.FromError(err) != core.ErrNotReady {
		t.Fatalf("enabling didn't schedule the missed rescan: %v", err)
	}
	waitReady(t, ti)
}

// Test that disabling automatic indexing turns a pending rescan back into
// dirtiness.
func TestDisableDropsPending(t *testing.T) {
	ti := newTestIndexer(t)
	ti.RescanAll()
	ti.EnableAutomaticIndexing(false)
	if err := ti.WaitForIndex(context.Background(), CancelIfNotReady); err != nil {
		t.Fatalf("got %v", err)
	}
	ti.EnableAutomaticIndexing(true)
	if err := ti.WaitForIndex(context.Background(), CancelIfNotReady); core.FromError(err) != core.ErrNotReady {
		t.Fatalf("got %v", err)
	}
}

func TestWaitCanceled(t *testing.T) {
	ti := newTestIndexer(t)
	ti.Start()
	defer ti.Stop()

	// Hold the scan lock so the worker's scan can't finish.
	ti.scanLock.Lock()
	ti.RescanAll()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := ti.WaitForIndex(ctx, WaitUntilReady)
	ti.scanLock.Unlock()
	if err != context.DeadlineExceeded {
		t.Fatalf("got %v", err)
	}
	waitReady(t, ti)
}

func TestStopStart(t *testing.T) {
	ti := newTestIndexer(t)
	ti.Start()
	ti.Start()
	ti.Stop()
	ti.Stop()

	jar := ti.path("a.jar")
	writeJar(t, jar, "p/A")
	ti.host.addArchive(jar, "/proj/a.jar")
	ti.RescanAll()
	// Pending work is picked up by a restarted worker.
	ti.Start()
	waitReady(t, ti)
	ti.Stop()
	if ti.typeCount(t, "p/A") != 1 {
		t.Errorf("not indexed")
	}
}

func TestWaitPolicyString(t *testing.T) {
	if s := WaitUntilReady.String(); s != "WaitUntilReady" {
		t.Errorf("got %q", s)
	}
}

func TestAutomaticIndexingToggle(t *testing.T) {
	ti := newTestIndexer(t)
	a := AutomaticIndexing{ti.Indexer}
	if !a.Enabled() {
		t.Fatalf("disabled by default")
	}
	a.SetEnabled(false)
	if a.Enabled() {
		t.Fatalf("still enabled")
	}
	a.SetEnabled(true)
	if !a.Enabled() {
		t.Fatalf("not enabled")
	}
}
