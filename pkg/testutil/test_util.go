// Copyright (c) 2015 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

// Package testutil has fixtures shared by the tests of several packages.
//
// Tests that create files should do so under TempDir or NewTempDir, and the
// package should call TestMain from its own:
//
//	func TestMain(m *testing.M) {
//		testutil.TestMain(m)
//	}
//
// Temporary files are then removed when every test passed and kept for
// inspection otherwise.
package testutil

import (
	"flag"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

var (
	tempOnce sync.Once
	tempDir  string
)

// TempDir is a directory private to this test binary. It lives under $TMPDIR,
// or the system temp directory if that's unset.
func TempDir() string {
	tempOnce.Do(func() {
		var err error
		tempDir, err = os.MkdirTemp("", filepath.Base(os.Args[0])+".")
		if err != nil {
			log.Fatalf("couldn't create temp dir: %s", err)
		}
	})
	return tempDir
}

// NewTempDir returns a fresh directory under TempDir for a single test.
func NewTempDir(t testing.TB, prefix string) string {
	dir, err := os.MkdirTemp(TempDir(), prefix)
	if err != nil {
		t.Fatalf("couldn't create temp dir: %s", err)
	}
	return dir
}

// TestMain runs the tests and removes TempDir if they all passed.
func TestMain(m *testing.M) {
	flag.Parse()
	ret := m.Run()
	if ret == 0 && tempDir != "" {
		os.RemoveAll(tempDir)
	}
	os.Exit(ret)
}
