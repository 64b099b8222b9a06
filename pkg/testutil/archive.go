// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package testutil

import (
	"archive/zip"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// Entry is one member of an archive written by WriteZip. A name ending in '/'
// is written as a directory.
type Entry struct {
	Name string
	Data []byte
}

// WriteZip writes a zip archive holding 'entries' at 'path', in order.
// Fails the test on any error.
func WriteZip(t testing.TB, path string, entries ...Entry) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("couldn't create parent of %s: %s", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("couldn't create %s: %s", path, err)
	}
	w := zip.NewWriter(f)
	for _, e := range entries {
		hdr := &zip.FileHeader{Name: e.Name, Method: zip.Deflate}
		hdr.Modified = time.Unix(1500000000, 0)
		ew, err := w.CreateHeader(hdr)
		if err != nil {
			t.Fatalf("couldn't add %s to %s: %s", e.Name, path, err)
		}
		if _, err := ew.Write(e.Data); err != nil {
			t.Fatalf("couldn't write %s to %s: %s", e.Name, path, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("couldn't finish %s: %s", path, err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("couldn't close %s: %s", path, err)
	}
}

// WriteFile writes 'data' at 'path', creating parent directories, and sets
// its modification time to 'mtime' when it is non-zero.
func WriteFile(t testing.TB, path string, data []byte, mtime time.Time) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("couldn't create parent of %s: %s", path, err)
	}
	if err := ioutil.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("couldn't write %s: %s", path, err)
	}
	if !mtime.IsZero() {
		Touch(t, path, mtime)
	}
}

// Touch sets the modification time of 'path' without changing its content.
func Touch(t testing.TB, path string, mtime time.Time) {
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("couldn't set times on %s: %s", path, err)
	}
}
