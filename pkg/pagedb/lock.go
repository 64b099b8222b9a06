// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package pagedb

import (
	"context"
	"sync"
)

// rwLock lets many readers or one writer in. A waiting writer holds back new
// readers, and when a writer leaves, the readers that queued up behind it are
// let in before the next writer. Unlike sync.RWMutex, write acquisition can be
// abandoned through a context.
//
// The lock is not reentrant.
type rwLock struct {
	mu sync.Mutex

	readers        int
	writer         bool
	waitingReaders int
	waitingWriters int

	// Number of queued readers that get in before the next writer.
	readBatch int

	// Closed and replaced every time the state above changes.
	changed chan struct{}
}

func newRWLock() *rwLock {
	return &rwLock{changed: make(chan struct{})}
}

// broadcast wakes everyone waiting. Must be called with mu held.
func (l *rwLock) broadcast() {
	close(l.changed)
	l.changed = make(chan struct{})
}

func (l *rwLock) rlock() {
	l.mu.Lock()
	waiting := false
	for l.writer || (l.waitingWriters > 0 && l.readBatch == 0) {
		if !waiting {
			l.waitingReaders++
			waiting = true
		}
		ch := l.changed
		l.mu.Unlock()
		<-ch
		l.mu.Lock()
	}
	if waiting {
		l.waitingReaders--
		if l.readBatch > 0 {
			l.readBatch--
		}
	}
	l.readers++
	l.mu.Unlock()
}

func (l *rwLock) runlock() {
	l.mu.Lock()
	l.readers--
	if l.readers < 0 {
		panic("pagedb: read lock released more often than acquired")
	}
	if l.readers == 0 {
		l.broadcast()
	}
	l.mu.Unlock()
}

// lock acquires the write lock, or returns ctx.Err() if ctx is done first.
func (l *rwLock) lock(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	l.waitingWriters++
	for l.writer || l.readers > 0 || l.readBatch > 0 {
		ch := l.changed
		l.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			l.mu.Lock()
			l.waitingWriters--
			// Readers queued behind us can go now.
			l.broadcast()
			l.mu.Unlock()
			return ctx.Err()
		}
		l.mu.Lock()
	}
	l.waitingWriters--
	l.writer = true
	l.mu.Unlock()
	return nil
}

func (l *rwLock) unlock() {
	l.mu.Lock()
	if !l.writer {
		panic("pagedb: write lock released but not held")
	}
	l.writer = false
	l.readBatch = l.waitingReaders
	l.broadcast()
	l.mu.Unlock()
}

// writeLocked returns true if a writer holds the lock.
func (l *rwLock) writeLocked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writer
}

// ReadToken is returned by AcquireReadLock. Release it when done reading.
type ReadToken struct {
	db       *Database
	released bool
}

// Release gives up the read lock. Releasing twice is a no-op.
func (t *ReadToken) Release() {
	if t.released {
		return
	}
	t.released = true
	t.db.trim()
	t.db.lock.runlock()
}

// WriteToken is returned by AcquireWriteLock. Release it when done writing.
type WriteToken struct {
	db       *Database
	released bool
}

// Release gives up the write lock, flushing first if too many chunks are
// dirty. Releasing twice is a no-op.
func (t *WriteToken) Release() {
	if t.released {
		return
	}
	t.released = true
	t.db.releaseWrite()
}

// AcquireReadLock blocks until no writer holds or waits for the lock.
// Records obtained under the lock must not be used after Release.
func (db *Database) AcquireReadLock() *ReadToken {
	db.lock.rlock()
	return &ReadToken{db: db}
}

// AcquireWriteLock blocks until the caller is the only one holding the lock.
// Returns ctx.Err() if ctx is done first. Callers hold the write lock for a
// bounded burst of mutations, not across I/O unrelated to the database.
func (db *Database) AcquireWriteLock(ctx context.Context) (*WriteToken, error) {
	if db.isClosed() {
		return nil, ErrClosed
	}
	if err := db.lock.lock(ctx); err != nil {
		return nil, err
	}
	if db.isClosed() {
		db.lock.unlock()
		return nil, ErrClosed
	}
	return &WriteToken{db: db}, nil
}

// View runs 'fn' under the read lock.
func (db *Database) View(fn func() error) error {
	tok := db.AcquireReadLock()
	defer tok.Release()
	return fn()
}

// Update runs 'fn' under the write lock.
func (db *Database) Update(ctx context.Context, fn func() error) error {
	tok, err := db.AcquireWriteLock(ctx)
	if err != nil {
		return err
	}
	defer tok.Release()
	return fn()
}
