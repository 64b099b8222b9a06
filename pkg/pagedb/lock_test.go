// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package pagedb

import (
	"context"
	"sync"
	"testing"
	"time"
)

// A writer waiting for readers gives up when its context is done.
func TestWriteLockCanceled(t *testing.T) {
	db, _ := openTestDB(t)
	defer db.Close()

	tok := db.AcquireReadLock()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := db.AcquireWriteLock(ctx); err != context.DeadlineExceeded {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}

	// Readers aren't held back by the abandoned writer.
	tok2 := db.AcquireReadLock()
	tok2.Release()
	tok.Release()

	w, err := db.AcquireWriteLock(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	w.Release()
}

// A canceled context fails even when the lock is free.
func TestWriteLockAlreadyCanceled(t *testing.T) {
	db, _ := openTestDB(t)
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := db.AcquireWriteLock(ctx); err != context.Canceled {
		t.Fatalf("expected Canceled, got %v", err)
	}
}

// waitForWriter spins until a writer is queued on 'l'.
func waitForWriter(t *testing.T, l *rwLock) {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		l.mu.Lock()
		n := l.waitingWriters
		l.mu.Unlock()
		if n > 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("writer never queued")
}

// A waiting writer goes before readers that arrive after it, and those
// readers get in before the next writer.
func TestWriterPreference(t *testing.T) {
	db, _ := openTestDB(t)
	defer db.Close()

	var mu sync.Mutex
	var order []string
	record := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}

	first := db.AcquireReadLock()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w, err := db.AcquireWriteLock(context.Background())
		if err != nil {
			t.Error(err)
			return
		}
		record("writer")
		w.Release()
	}()
	waitForWriter(t, db.lock)

	wg.Add(1)
	go func() {
		defer wg.Done()
		r := db.AcquireReadLock()
		record("reader")
		r.Release()
	}()

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	if len(order) != 0 {
		t.Errorf("someone got in while the first reader held the lock: %v", order)
	}
	mu.Unlock()

	first.Release()
	wg.Wait()
	if len(order) != 2 || order[0] != "writer" || order[1] != "reader" {
		t.Errorf("expected writer then reader, got %v", order)
	}
}

// Readers queued behind a writer are let in before the next writer.
func TestQueuedReadersBeatNextWriter(t *testing.T) {
	l := newRWLock()
	if err := l.lock(context.Background()); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		l.rlock()
		close(done)
	}()
	// Wait for the reader to queue.
	for {
		l.mu.Lock()
		n := l.waitingReaders
		l.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	// Queue another writer and release the first.
	l.mu.Lock()
	l.waitingWriters++
	l.mu.Unlock()
	l.unlock()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("queued reader starved by a waiting writer")
	}
	l.runlock()
}
