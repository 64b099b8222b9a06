// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package indexer

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/westerndigitalcorporation/classindex/pkg/testutil"
)

func TestJournal(t *testing.T) {
	path := filepath.Join(testutil.NewTempDir(t, "journal"), "journal.db")
	j, err := OpenJournal(path, 3)
	if err != nil {
		t.Fatal(err)
	}
	if s, err := j.Summary(); err != nil || s.Scans != 0 || s.String() != "no scans" {
		t.Fatalf("empty summary %v %v", s, err)
	}

	start := time.Unix(1500000000, 0)
	for i := 0; i < 5; i++ {
		st := &ScanStats{Start: start.Add(time.Duration(i) * time.Minute), Duration: time.Duration(i+1) * time.Second, Types: i}
		if i == 4 {
			st.Err = "boom"
		}
		if err := j.Append(st); err != nil {
			t.Fatal(err)
		}
	}
	// Same start time as the last one.
	if err := j.Append(&ScanStats{Start: start.Add(4 * time.Minute), Duration: time.Second, Types: 5}); err != nil {
		t.Fatal(err)
	}

	h, err := j.History(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(h) != 3 {
		t.Fatalf("%d entries kept", len(h))
	}
	if h[0].Types != 5 || h[1].Types != 4 || h[2].Types != 3 {
		t.Errorf("wrong entries kept: %+v %+v %+v", h[0], h[1], h[2])
	}
	if h, _ := j.History(1); len(h) != 1 || h[0].Types != 5 {
		t.Errorf("History(1) = %+v", h)
	}

	s, err := j.Summary()
	if err != nil {
		t.Fatal(err)
	}
	if s.Scans != 3 || s.Failed != 1 || !s.Last.Equal(start.Add(4*time.Minute)) {
		t.Errorf("summary %+v", s)
	}
	if s.P50 < time.Second || s.P99 > 5*time.Second {
		t.Errorf("quantiles %s %s", s.P50, s.P99)
	}
	if !strings.Contains(s.String(), "3 scans (1 failed)") {
		t.Errorf("summary string %q", s)
	}
	if err := j.Close(); err != nil {
		t.Fatal(err)
	}

	// Entries survive reopening.
	j, err = OpenJournal(path, 3)
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()
	if h, _ := j.History(0); len(h) != 3 {
		t.Errorf("%d entries after reopen", len(h))
	}
}

// Test that the journal never holds more than its limit, however many scans
// are appended.
func TestJournalSteadyState(t *testing.T) {
	path := filepath.Join(testutil.NewTempDir(t, "journal"), "journal.db")
	j, err := OpenJournal(path, 3)
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()

	start := time.Unix(1500000000, 0)
	for i := 0; i < 20; i++ {
		if err := j.Append(&ScanStats{Start: start.Add(time.Duration(i) * time.Second), Types: i}); err != nil {
			t.Fatal(err)
		}
		h, err := j.History(0)
		if err != nil {
			t.Fatal(err)
		}
		want := i + 1
		if want > 3 {
			want = 3
		}
		if len(h) != want {
			t.Fatalf("after %d appends: %d kept, want %d", i+1, len(h), want)
		}
		if h[0].Types != i {
			t.Fatalf("after %d appends: newest is %d", i+1, h[0].Types)
		}
	}
}
