// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package workspace

import (
	"archive/zip"
	"compress/flate"
	"context"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"os"
)

// MaxEntrySize bounds the content read for a single file or archive entry.
const MaxEntrySize = 64 << 20

// classify wraps 'err' with the package error it belongs to.
func classify(path string, err error) error {
	switch {
	case err == nil:
		return nil
	case os.IsNotExist(err):
		return fmt.Errorf("%s: %w", path, ErrNotFound)
	case errors.Is(err, zip.ErrFormat), errors.Is(err, zip.ErrAlgorithm), errors.Is(err, zip.ErrChecksum),
		errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Errorf("%s: %w (%v)", path, ErrCorruptArchive, err)
	}
	var corrupt flate.CorruptInputError
	if errors.As(err, &corrupt) {
		return fmt.Errorf("%s: %w (%v)", path, ErrCorruptArchive, err)
	}
	return fmt.Errorf("%s: %w (%v)", path, ErrIO, err)
}

// ReadFile returns the content of the file at 'path'.
func ReadFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, classify(path, err)
	}
	defer f.Close()
	b, err := ioutil.ReadAll(io.LimitReader(f, MaxEntrySize+1))
	if err != nil {
		return nil, classify(path, err)
	}
	if len(b) > MaxEntrySize {
		return nil, fmt.Errorf("%s: %w (larger than %d bytes)", path, ErrIO, MaxEntrySize)
	}
	return b, nil
}

// ArchiveEntry is one member of an archive.
type ArchiveEntry struct {
	Name  string
	IsDir bool

	archive string
	f       *zip.File
}

// Size returns the uncompressed size of the entry.
func (e *ArchiveEntry) Size() uint64 {
	return e.f.UncompressedSize64
}

// Read returns the entry's content. Damaged entries return an error
// wrapping ErrCorruptArchive.
func (e *ArchiveEntry) Read() ([]byte, error) {
	name := e.archive + "!" + e.Name
	if e.f.UncompressedSize64 > MaxEntrySize {
		return nil, fmt.Errorf("%s: %w (entry larger than %d bytes)", name, ErrCorruptArchive, MaxEntrySize)
	}
	rc, err := e.f.Open()
	if err != nil {
		return nil, classify(name, err)
	}
	defer rc.Close()
	b, err := ioutil.ReadAll(rc)
	if err != nil {
		return nil, classify(name, err)
	}
	return b, nil
}

// ReadArchive calls 'fn' for every entry of the archive at 'path', in
// directory order. It stops at the first error returned by 'fn' or when
// 'ctx' is done. Failing to open the archive returns an error wrapping
// ErrNotFound, ErrCorruptArchive or ErrIO.
func ReadArchive(ctx context.Context, path string, fn func(*ArchiveEntry) error) error {
	r, err := zip.OpenReader(path)
	if err != nil {
		return classify(path, err)
	}
	defer r.Close()

	for _, f := range r.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		e := &ArchiveEntry{
			Name:    f.Name,
			IsDir:   f.FileInfo().IsDir(),
			archive: path,
			f:       f,
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

// ArchiveLen returns the number of entries in the archive at 'path'.
func ArchiveLen(path string) (int, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return 0, classify(path, err)
	}
	defer r.Close()
	return len(r.File), nil
}
