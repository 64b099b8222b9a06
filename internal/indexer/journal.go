// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package indexer

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/beorn7/perks/quantile"
	"github.com/boltdb/bolt"
)

var scansBucket = []byte("scans")

// Journal keeps the stats of the most recent scans in a bolt database.
type Journal struct {
	db  *bolt.DB
	max int
}

// OpenJournal opens or creates the journal at 'path', keeping at most 'max'
// entries.
func OpenJournal(path string, max int) (*Journal, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening journal %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(scansBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Journal{db: db, max: max}, nil
}

// Close closes the journal.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Keys are the start time followed by a sequence number, for scans started
// at the same instant.
func scanKey(t time.Time, seq uint64) []byte {
	var k [16]byte
	binary.BigEndian.PutUint64(k[:8], uint64(t.UnixNano()))
	binary.BigEndian.PutUint64(k[8:], seq)
	return k[:]
}

// Append records 'st' and drops the oldest entries past the limit.
func (j *Journal) Append(st *ScanStats) error {
	v, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(scansBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		if err := b.Put(scanKey(st.Start, seq), v); err != nil {
			return err
		}
		// Keep the newest j.max keys. Bucket stats don't see keys put in
		// this transaction, so walk the cursor. Keys are collected first,
		// deleting moves the cursor.
		var old [][]byte
		c := b.Cursor()
		kept := 0
		for k, _ := c.Last(); k != nil; k, _ = c.Prev() {
			if kept < j.max {
				kept++
				continue
			}
			old = append(old, append([]byte(nil), k...))
		}
		for _, k := range old {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// History returns up to 'n' scans, newest first. n <= 0 returns all of them.
func (j *Journal) History(n int) ([]*ScanStats, error) {
	var out []*ScanStats
	err := j.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(scansBucket).Cursor()
		for k, v := c.Last(); k != nil && (n <= 0 || len(out) < n); k, v = c.Prev() {
			st := new(ScanStats)
			if err := json.Unmarshal(v, st); err != nil {
				return fmt.Errorf("journal entry %x: %w", k, err)
			}
			out = append(out, st)
		}
		return nil
	})
	return out, err
}

// Summary describes the scans in the journal.
type Summary struct {
	Scans  int
	Failed int
	// Scan durations at the 50th, 90th and 99th percentiles.
	P50, P90, P99 time.Duration
	Last          time.Time
}

func (s Summary) String() string {
	if s.Scans == 0 {
		return "no scans"
	}
	return fmt.Sprintf("%d scans (%d failed), last at %s; duration p50 %s p90 %s p99 %s",
		s.Scans, s.Failed, s.Last.Format(time.RFC3339), s.P50, s.P90, s.P99)
}

// Summary computes duration quantiles over the journal.
func (j *Journal) Summary() (Summary, error) {
	var s Summary
	h, err := j.History(0)
	if err != nil || len(h) == 0 {
		return s, err
	}
	q := quantile.NewTargeted(map[float64]float64{
		0.50: 0.005,
		0.90: 0.001,
		0.99: 0.0001,
	})
	for _, st := range h {
		q.Insert(float64(st.Duration))
		if st.Err != "" {
			s.Failed++
		}
	}
	s.Scans = len(h)
	s.Last = h[0].Start
	s.P50 = time.Duration(q.Query(0.50))
	s.P90 = time.Duration(q.Query(0.90))
	s.P99 = time.Duration(q.Query(0.99))
	return s, nil
}
