// Copyright (c) 2015 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT

package server

import (
	"context"
)

// Semaphore bounds the number of goroutines doing something at once.
type Semaphore struct {
	slots chan struct{}
}

// NewSemaphore returns a semaphore with 'max' permits. 'max' must be positive.
func NewSemaphore(max int) Semaphore {
	return Semaphore{slots: make(chan struct{}, max)}
}

// Acquire takes a permit, waiting for one until 'ctx' is done.
func (s Semaphore) Acquire(ctx context.Context) error {
	select {
	case s.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire takes a permit only if one is free right now.
func (s Semaphore) TryAcquire() bool {
	select {
	case s.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release returns a permit.
func (s Semaphore) Release() {
	<-s.slots
}

// InUse is how many permits are held.
func (s Semaphore) InUse() int {
	return len(s.slots)
}
