// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var (
	errTransient = errors.New("transient")
	errFatal     = errors.New("fatal")
)

func isTransient(err error) bool {
	return err == errTransient
}

var testRetrier = Retrier{MinSleep: time.Millisecond, MaxSleep: 2 * time.Millisecond, MaxNumRetries: 5}

// Transient failures are retried until success.
func TestRunRetriesTransient(t *testing.T) {
	calls := 0
	err := testRetrier.Run(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	}, isTransient)
	if err != nil || calls != 3 {
		t.Fatalf("expected success on the third call, got %v after %d calls", err, calls)
	}
}

// Other errors stop the loop at once.
func TestRunStopsOnFatal(t *testing.T) {
	calls := 0
	err := testRetrier.Run(context.Background(), func() error {
		calls++
		return errFatal
	}, isTransient)
	if err != errFatal || calls != 1 {
		t.Fatalf("expected errFatal after one call, got %v after %d calls", err, calls)
	}
}

// The last error comes back when retries run out.
func TestRunGivesUp(t *testing.T) {
	calls := 0
	err := testRetrier.Run(context.Background(), func() error {
		calls++
		return errTransient
	}, isTransient)
	if err != errTransient || calls != testRetrier.MaxNumRetries {
		t.Fatalf("expected errTransient after %d calls, got %v after %d", testRetrier.MaxNumRetries, err, calls)
	}
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := Retrier{MinSleep: time.Hour, MaxSleep: time.Hour}
	err := r.Run(ctx, func() error { return errTransient }, isTransient)
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
