// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package indexer

import (
	"fmt"
	"time"
)

// Config encapsulates parameters for Indexer.
type Config struct {
	// Resources not part of the workspace for this long are collected.
	GCTimeout time.Duration

	// How many locations are fingerprinted at once.
	FingerprintWorkers int

	// Bound on the number of cached fingerprint test results.
	LocationCacheEntries int

	// How transient read errors are retried.
	RetryMinSleep time.Duration
	RetryMaxSleep time.Duration
	ReadAttempts  int

	// Where to journal finished scans. No journal if empty.
	JournalPath    string
	JournalEntries int // How many scans the journal keeps.

	UseFailure bool // Whether to register with the failure service.

	// --- Debugging ---
	DebugTiming      bool // Log the time spent in each phase of a scan.
	DebugInsertions  bool // Log every type inserted and resource deleted.
	DebugSelfTest    bool // Read back every indexed type and compare.
	DebugAllocations bool // Log pool statistics after every scan.
}

// RefreshPeriod is how stale the last use time of a resource still in the
// workspace may get before it's rewritten.
func (c *Config) RefreshPeriod() time.Duration {
	return c.GCTimeout / 4
}

// Validate validates the configuration object has reasonable(not obviously
// wrong) values.
func (c *Config) Validate() error {
	if c.GCTimeout <= 0 {
		return fmt.Errorf("GCTimeout must be positive")
	}
	if c.FingerprintWorkers <= 0 {
		return fmt.Errorf("FingerprintWorkers must be positive")
	}
	if c.ReadAttempts <= 0 {
		return fmt.Errorf("ReadAttempts must be positive")
	}
	if c.JournalPath != "" && c.JournalEntries <= 0 {
		return fmt.Errorf("JournalEntries must be positive with a journal")
	}
	return nil
}

// DefaultProdConfig specifies the default values for Config that is used for
// production environment.
var DefaultProdConfig = Config{
	// Jars of a closed project survive a long weekend.
	GCTimeout: 3 * 24 * time.Hour,

	FingerprintWorkers: 8,

	// 0 means fingerprint.DefaultCacheEntries.
	LocationCacheEntries: 0,

	RetryMinSleep: 50 * time.Millisecond,
	RetryMaxSleep: time.Second,
	ReadAttempts:  3,

	JournalEntries: 1000,
}

// DefaultTestConfig specifies the default values for Config that is used for
// testing environment.
var DefaultTestConfig = Config{
	GCTimeout: time.Hour,

	FingerprintWorkers: 4,

	LocationCacheEntries: 128,

	RetryMinSleep: time.Millisecond,
	RetryMaxSleep: 5 * time.Millisecond,
	ReadAttempts:  2,

	JournalEntries: 10,

	UseFailure: true,

	DebugInsertions: true,
	DebugSelfTest:   true,
}
