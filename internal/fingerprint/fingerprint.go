// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

// Package fingerprint detects whether an indexed file changed since it was
// last indexed.
package fingerprint

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint identifies the content of one location. The zero value is
// Empty, the fingerprint of a file that doesn't exist.
type Fingerprint struct {
	Size    uint64
	ModTime int64 // unix nanoseconds
	Hash    uint64
	HasHash bool
}

// Empty is the fingerprint of a missing file.
var Empty = Fingerprint{}

// IsEmpty is true for the fingerprint of a missing file.
func (f Fingerprint) IsEmpty() bool {
	return f == Empty
}

// Equal is true if all fields present in both fingerprints match.
func (f Fingerprint) Equal(o Fingerprint) bool {
	if f.Size != o.Size || f.ModTime != o.ModTime {
		return false
	}
	if f.HasHash && o.HasHash {
		return f.Hash == o.Hash
	}
	return true
}

func (f Fingerprint) String() string {
	if f.IsEmpty() {
		return "empty"
	}
	mtime := time.Unix(0, f.ModTime).UTC().Format(time.RFC3339Nano)
	if !f.HasHash {
		return fmt.Sprintf("size=%d mtime=%s", f.Size, mtime)
	}
	return fmt.Sprintf("size=%d mtime=%s hash=%016x", f.Size, mtime, f.Hash)
}

// Result is the outcome of testing a stored fingerprint against a file.
type Result struct {
	// Matches is true if the file's content is the one that was indexed.
	Matches bool
	// NeedsRefresh is true if the content matches but the metadata changed,
	// so New should be stored in place of the old fingerprint.
	NeedsRefresh bool
	// New is the current fingerprint of the file.
	New Fingerprint
}

// Compute returns the fingerprint of the file at 'path', Empty if it doesn't
// exist.
func Compute(path string) (Fingerprint, error) {
	fi, err := os.Stat(path)
	if os.IsNotExist(err) {
		return Empty, nil
	} else if err != nil {
		return Empty, err
	}
	return hashFile(path, fi)
}

func hashFile(path string, fi os.FileInfo) (Fingerprint, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return Empty, nil
	} else if err != nil {
		return Empty, err
	}
	defer f.Close()

	h := xxhash.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return Empty, err
	}
	return Fingerprint{
		Size:    uint64(n),
		ModTime: fi.ModTime().UnixNano(),
		Hash:    h.Sum64(),
		HasHash: true,
	}, nil
}

// Test compares 'stored' with the file at 'path'. Size and modification time
// are checked first; the content is only hashed if either differs. A file
// with unchanged content and a new modification time matches, and its
// refreshed fingerprint is returned with NeedsRefresh set.
func Test(stored Fingerprint, path string) (Result, error) {
	fi, err := os.Stat(path)
	if os.IsNotExist(err) {
		return Result{Matches: stored.IsEmpty(), New: Empty}, nil
	} else if err != nil {
		return Result{}, err
	}
	if !stored.IsEmpty() && stored.Size == uint64(fi.Size()) && stored.ModTime == fi.ModTime().UnixNano() {
		return Result{Matches: true, New: stored}, nil
	}

	cur, err := hashFile(path, fi)
	if err != nil {
		return Result{}, err
	}
	if cur.IsEmpty() {
		// Removed since the stat.
		return Result{Matches: stored.IsEmpty(), New: Empty}, nil
	}
	if stored.HasHash && stored.Size == cur.Size && stored.Hash == cur.Hash {
		return Result{Matches: true, NeedsRefresh: true, New: cur}, nil
	}
	return Result{New: cur}, nil
}
