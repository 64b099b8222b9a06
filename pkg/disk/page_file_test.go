// Copyright (c) 2015 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT
//
// Tests for page.go and page_file.go.

package disk

import (
	"bytes"
	"io"
	"io/ioutil"
	"os"
	"syscall"
	"testing"

	test "github.com/westerndigitalcorporation/classindex/pkg/testutil"
)

const testPageSize = 512

// Make a test buffer with a repeating pattern that starts at 'seed'.
func getPage(seed byte) []byte {
	buffer := make([]byte, testPageSize)
	for i := range buffer {
		buffer[i] = seed + byte(i%251)
	}
	return buffer
}

// Creates an empty page file in its own temp dir.
// Fails the test via 't' if any error encountered.
func setupPageFile(t *testing.T) *PageFile {
	dir, err := ioutil.TempDir(test.TempDir(), "page_file_test")
	if err != nil {
		t.Fatal(err)
	}
	f, err := OpenPageFile(dir+"/pages", testPageSize, os.O_RDWR|os.O_CREATE)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

// Pages written can be read back, and gaps are filled with zeroed pages.
func TestPageFileRoundTrip(t *testing.T) {
	f := setupPageFile(t)
	defer f.Close()

	if err := f.WritePage(0, getPage(1)); err != nil {
		t.Fatal(err)
	}
	if err := f.WritePage(2, getPage(3)); err != nil {
		t.Fatal(err)
	}

	if n, err := f.NumPages(); err != nil || n != 3 {
		t.Fatalf("expected 3 pages, got %d err=%v", n, err)
	}

	b := make([]byte, testPageSize)
	if err := f.ReadPage(0, b); err != nil || !bytes.Equal(b, getPage(1)) {
		t.Fatalf("page 0 mismatch, err=%v", err)
	}
	if err := f.ReadPage(1, b); err != nil || !bytes.Equal(b, make([]byte, testPageSize)) {
		t.Fatalf("gap page should be zero, err=%v", err)
	}
	if err := f.ReadPage(2, b); err != nil || !bytes.Equal(b, getPage(3)) {
		t.Fatalf("page 2 mismatch, err=%v", err)
	}
	if err := f.ReadPage(3, b); err != io.EOF {
		t.Fatalf("expected EOF past the end, got %v", err)
	}

	// Overwrite in place.
	if err := f.WritePage(0, getPage(9)); err != nil {
		t.Fatal(err)
	}
	if err := f.ReadPage(0, b); err != nil || !bytes.Equal(b, getPage(9)) {
		t.Fatalf("page 0 not overwritten, err=%v", err)
	}
}

// Buffers that aren't exactly a page are rejected.
func TestPageFileBadPageSize(t *testing.T) {
	f := setupPageFile(t)
	defer f.Close()

	if err := f.WritePage(0, make([]byte, testPageSize-1)); err != ErrBadPageSize {
		t.Fatalf("expected ErrBadPageSize, got %v", err)
	}
	if err := f.ReadPage(0, make([]byte, testPageSize+1)); err != ErrBadPageSize {
		t.Fatalf("expected ErrBadPageSize, got %v", err)
	}
}

// Flipping a bit on disk is detected on read.
func TestPageFileCorruption(t *testing.T) {
	f := setupPageFile(t)
	defer f.Close()

	if err := f.WritePage(0, getPage(1)); err != nil {
		t.Fatal(err)
	}
	if err := f.WritePage(1, getPage(2)); err != nil {
		t.Fatal(err)
	}

	raw, err := os.OpenFile(f.Path(), os.O_RDWR, 0600)
	if err != nil {
		t.Fatal(err)
	}
	off := int64(testPageSize+pageChecksumLength) + 17
	if _, err := raw.WriteAt([]byte{0xff}, off); err != nil {
		t.Fatal(err)
	}
	raw.Close()

	b := make([]byte, testPageSize)
	if err := f.ReadPage(0, b); err != nil {
		t.Fatalf("page 0 should be intact: %v", err)
	}
	if err := f.ReadPage(1, b); err != ErrCorruptData {
		t.Fatalf("expected ErrCorruptData, got %v", err)
	}
}

// A torn page at the tail is reported as corruption and removed by Truncate.
func TestPageFileTornTail(t *testing.T) {
	f := setupPageFile(t)
	defer f.Close()

	if err := f.WritePage(0, getPage(1)); err != nil {
		t.Fatal(err)
	}

	raw, err := os.OpenFile(f.Path(), os.O_RDWR|os.O_APPEND, 0600)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := raw.Write(make([]byte, 10)); err != nil {
		t.Fatal(err)
	}
	raw.Close()

	if _, err := f.NumPages(); err != ErrCorruptData {
		t.Fatalf("expected ErrCorruptData, got %v", err)
	}
	if err := f.ReadPage(1, make([]byte, testPageSize)); err != ErrCorruptData {
		t.Fatalf("expected ErrCorruptData for torn page, got %v", err)
	}

	if err := f.Truncate(1); err != nil {
		t.Fatal(err)
	}
	if n, err := f.NumPages(); err != nil || n != 1 {
		t.Fatalf("expected 1 page after truncate, got %d err=%v", n, err)
	}

	// Growing zero-fills.
	if err := f.Truncate(4); err != nil {
		t.Fatal(err)
	}
	if n, err := f.NumPages(); err != nil || n != 4 {
		t.Fatalf("expected 4 pages after truncate, got %d err=%v", n, err)
	}
}

// A file that fails writes with ENOSPC.
type fullFile struct {
	mockFile
	allow int
}

func (f *fullFile) WriteAt(b []byte, off int64) (int, error) {
	if f.allow > 0 {
		f.allow--
		return f.mockFile.WriteAt(b, off)
	}
	n, _ := f.mockFile.WriteAt(b[:len(b)/2], off)
	return n, &os.PathError{Op: "write", Path: "full", Err: syscall.ENOSPC}
}

// Running out of space returns ErrNoSpace and doesn't leave a torn page.
func TestPageFileNoSpace(t *testing.T) {
	osFileOpener = func(path string, flags int, perm os.FileMode) (mockFile, error) {
		f, err := openOsFile(path, flags, perm)
		if err != nil {
			return nil, err
		}
		return &fullFile{mockFile: f, allow: 1}, nil
	}
	defer func() { osFileOpener = openOsFile }()

	f := setupPageFile(t)
	defer f.Close()

	if err := f.WritePage(0, getPage(1)); err != nil {
		t.Fatal(err)
	}
	if err := f.WritePage(1, getPage(2)); err != ErrNoSpace {
		t.Fatalf("expected ErrNoSpace, got %v", err)
	}
	if n, err := f.NumPages(); err != nil || n != 1 {
		t.Fatalf("expected 1 intact page, got %d err=%v", n, err)
	}
}
