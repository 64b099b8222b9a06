// Copyright (c) 2015 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT
//
// The PageFile is a layer on top of a normal os.File that stores fixed-size
// pages and verifies the integrity of each page when it's read back. PageFiles
// should be opened through OpenPageFile but can be deleted or moved like an
// ordinary os.File.

package disk

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"syscall"

	log "github.com/golang/glog"
)

const (
	// If this flag is present, PageFile will attempt to use fadvise to drop
	// file data from the buffer cache after reads.
	O_DROPCACHE int = 0x10000000
)

// A PageFile supports reading and writing whole pages and detects corruption
// of data.
type PageFile struct {
	// What is the filesystem name of the file we're operating on?  For logging.
	path string

	// The underlying file we use to read/write data.
	file mockFile

	// Length of the data portion of every page.
	pageSize int

	// File flags.
	flags int
}

// ErrCorruptData is returned when a page's checksum is bad, or the file
// doesn't hold a whole number of pages.
var ErrCorruptData = errors.New("file is corrupt")

// ErrInvalidFlag is returned if a PageFile is opened with a bad flag.
var ErrInvalidFlag = errors.New("invalid flag")

// ErrNoSpace is returned when a page couldn't be written because the
// filesystem is full.
var ErrNoSpace = errors.New("no space left on device")

// ErrBadPageSize is returned when a caller passes a buffer that is not
// exactly one page.
var ErrBadPageSize = errors.New("buffer is not one page")

// OpenPageFile opens (or creates) a PageFile at 'path' whose pages carry
// 'pageSize' bytes of data each. flags can be an OR-ing of:
// os.O_RDONLY -- file is opened only for reading
// os.O_RDWR -- file is opened for reading and writing.
// os.O_CREATE -- file should be created if it doesn't exist
// os.O_TRUNC -- truncate size to 0
// O_DROPCACHE -- use fadvise to prevent file data from lingering in the buffer cache
//
// The file is created with a default mode of 0600.
//
// WARNING: PageFile is not thread safe!
func OpenPageFile(path string, pageSize int, flags int) (*PageFile, error) {
	// Verify the flags are OK.
	okFlags := os.O_RDONLY | os.O_RDWR | os.O_CREATE | os.O_TRUNC | O_DROPCACHE
	if flags&(^okFlags) != 0 {
		log.Errorf("%s: invalid flags: %x", path, flags)
		return nil, ErrInvalidFlag
	}
	if pageSize <= 0 {
		return nil, ErrBadPageSize
	}

	f, e := osFileOpener(path, flags&^O_DROPCACHE, os.FileMode(0600))
	if e != nil {
		return nil, e
	}

	// Access is random by chunk number, read-ahead only wastes memory.
	if e = f.Fadvise(0, 0, POSIX_FADV_RANDOM); e != nil {
		log.Errorf("%s: couldn't disable readahead: %+v", path, e)
	}
	return &PageFile{path: path, file: f, pageSize: pageSize, flags: flags}, nil
}

// Path returns the path the file was opened with.
func (f *PageFile) Path() string {
	return f.path
}

// PageSize returns the number of data bytes in each page.
func (f *PageFile) PageSize() int {
	return f.pageSize
}

// rawLength is the on-disk length of one page.
func (f *PageFile) rawLength() int64 {
	return int64(f.pageSize + pageChecksumLength)
}

// NumPages returns how many whole pages the file holds.
func (f *PageFile) NumPages() (int, error) {
	stat, err := f.file.Stat()
	if err != nil {
		log.Errorf("%s: error stat-ing: %+v", f.path, err)
		return 0, err
	}
	if stat.Size()%f.rawLength() != 0 {
		log.Errorf("%s: size %d is not a multiple of the page length", f.path, stat.Size())
		return int(stat.Size() / f.rawLength()), ErrCorruptData
	}
	return int(stat.Size() / f.rawLength()), nil
}

// ReadPage reads page 'pageNo' into 'b', which must be exactly one page long.
//
// Returns an error if the underlying ReadAt encounters an error.
// Returns ErrCorruptData if the page is torn or its checksum is bad.
// Returns io.EOF if there is no such page.
func (f *PageFile) ReadPage(pageNo int, b []byte) error {
	if len(b) != f.pageSize {
		return ErrBadPageSize
	}

	raw := getScratch(int(f.rawLength()))
	defer returnScratch(raw)

	rawOff := int64(pageNo) * f.rawLength()
	n, e := f.file.ReadAt(*raw, rawOff)

	if f.flags&O_DROPCACHE != 0 {
		if fe := f.file.Fadvise(rawOff, f.rawLength(), POSIX_FADV_DONTNEED); fe != nil {
			log.Errorf("%s: fadvise returned an error during ReadPage: %+v", f.path, fe)
		}
	}

	// Non-EOF errors are problems.
	if e != nil && e != io.EOF {
		log.Errorf("%s ReadPage: error from ReadAt at offset %d: %+v", f.path, rawOff, e)
		return e
	}

	// Nothing at all means the page doesn't exist yet.
	if e == io.EOF && n == 0 {
		return io.EOF
	}

	// Pages are always written whole. Anything shorter is a torn write.
	if n != len(*raw) {
		log.Errorf("%s: page %d is torn (%d of %d bytes)", f.path, pageNo, n, len(*raw))
		return ErrCorruptData
	}

	if !pageOK(*raw) {
		log.Errorf("%s: checksum mismatch on page %d", f.path, pageNo)
		return ErrCorruptData
	}

	copy(b, (*raw)[:f.pageSize])
	return nil
}

// WritePage writes 'b', which must be exactly one page long, as page
// 'pageNo'. Writing past the end of the file extends it; the gap, if any, is
// filled with zeroed pages so every page in the file stays valid.
func (f *PageFile) WritePage(pageNo int, b []byte) error {
	if len(b) != f.pageSize {
		return ErrBadPageSize
	}

	pages, err := f.NumPages()
	if err != nil {
		return err
	}
	zero := make([]byte, f.pageSize)
	for ; pages < pageNo; pages++ {
		if err := f.writeRaw(pages, zero); err != nil {
			return err
		}
	}
	return f.writeRaw(pageNo, b)
}

// writeRaw seals 'b' with a checksum and writes it at page 'pageNo'.
func (f *PageFile) writeRaw(pageNo int, b []byte) error {
	raw := getScratch(int(f.rawLength()))
	defer returnScratch(raw)

	copy(*raw, b)
	sealPage(*raw)

	rawOff := int64(pageNo) * f.rawLength()
	n, err := f.file.WriteAt(*raw, rawOff)
	if err == nil {
		return nil
	}

	// Pull out a sub-error type.
	switch pe := err.(type) {
	case *os.PathError:
		err = pe.Err
	case *os.SyscallError:
		err = pe.Err
	}

	if err != syscall.ENOSPC {
		log.Errorf("%s: WritePage encountered unrecoverable error writing page %d, err=%s", f.path, pageNo, err)
		return err
	}

	// A partial page would fail its checksum on the next read. Drop it if it
	// was appended, otherwise the old page is gone and the file is corrupt.
	log.Errorf("%s: out of space writing page %d (%d bytes written)", f.path, pageNo, n)
	if n > 0 {
		if stat, serr := f.file.Stat(); serr == nil && stat.Size() <= rawOff+f.rawLength() {
			if terr := f.file.Truncate(rawOff); terr != nil {
				log.Errorf("%s: truncate after short write failed: %+v", f.path, terr)
				return ErrCorruptData
			}
		} else {
			return ErrCorruptData
		}
	}
	return ErrNoSpace
}

// Truncate shrinks or grows the file to exactly 'pages' pages. Growing fills
// with zeroed pages. A torn page at the tail is dropped first.
func (f *PageFile) Truncate(pages int) error {
	stat, err := f.file.Stat()
	if err != nil {
		log.Errorf("%s: error stat-ing: %+v", f.path, err)
		return err
	}

	want := int64(pages) * f.rawLength()
	cur := stat.Size() / f.rawLength()
	if stat.Size() > want || stat.Size()%f.rawLength() != 0 {
		if cur > int64(pages) {
			cur = int64(pages)
		}
		if e := f.file.Truncate(cur * f.rawLength()); e != nil {
			log.Errorf("%s: error truncating to %d pages: %+v", f.path, cur, e)
			return e
		}
	}

	zero := make([]byte, f.pageSize)
	for ; cur < int64(pages); cur++ {
		if e := f.writeRaw(int(cur), zero); e != nil {
			return e
		}
	}
	return nil
}

// Sync makes everything written so far durable.
func (f *PageFile) Sync() error {
	if e := f.file.Sync(); e != nil {
		log.Errorf("%s: error syncing: %+v", f.path, e)
		return e
	}
	return nil
}

// Close the open PageFile.
func (f *PageFile) Close() (err error) {
	// Ensure the data is durable.
	if e := f.file.Sync(); e != nil {
		log.Errorf("%s: error syncing: %+v", f.path, e)
		err = e
	}

	if f.flags&O_DROPCACHE != 0 {
		// Passing the 'len' parameter as zero applies the fadvise to the whole file.
		if e := f.file.Fadvise(0, 0, POSIX_FADV_DONTNEED); e != nil {
			log.Errorf("%s: fadvise returned an error on close: %+v", f.path, e)
		}
	}

	if e := f.file.Close(); e != nil {
		if err == nil {
			err = e
			log.Errorf("%s: error closing: %+v", f.path, e)
		} else {
			log.Errorf("%s: error on sync (%+v) additional error on close: %+v", f.path, err, e)
		}
	}

	return err
}

// We mock out what we use from os.File so we can test error handling behavior.
type mockFile interface {
	ReadAt(b []byte, off int64) (n int, err error)
	WriteAt(b []byte, off int64) (n int, err error)
	Stat() (fi os.FileInfo, err error)
	Close() error
	Sync() error
	Truncate(size int64) error

	// Fadvise related.
	Fadvise(offset int64, length int64, advice int) error
}

// An implementation of the mock file interface that just forwards to os.File.
type regularFile struct {
	*os.File
}

// Tests mutate this to inject failures into calls to os.File methods.
var osFileOpener = openOsFile

// Implementation of osFile that just defers to the os.File API. The directory
// where the file is located is synced after the file is successfully created.
func openOsFile(path string, flags int, perm os.FileMode) (mockFile, error) {
	// We don't care about atime anywhere.
	flags |= O_NOATIME

	_, statErr := os.Stat(path)
	f, e := os.OpenFile(path, flags, perm)
	if e != nil {
		return nil, e
	}

	// Sync the directory where the file is located, if the file is new.
	if flags&os.O_CREATE != 0 && os.IsNotExist(statErr) {
		if e := syncDir(filepath.Dir(path)); e != nil {
			f.Close()
			return nil, e
		}
	}

	return &regularFile{f}, nil
}

//
// Utility functions
//

// syncDir syncs the given 'dir'.
func syncDir(dir string) (err error) {
	fd, err := os.Open(dir)
	if err != nil {
		log.Errorf("failed to open directory %s: %s", dir, err)
		return err
	}

	if err = fd.Sync(); err != nil {
		log.Errorf("failed to fsync directory: %s", err)
		if cerr := fd.Close(); nil != cerr {
			log.Errorf("failed to close directory: %s", cerr)
		}
		return err
	}

	if err = fd.Close(); err != nil {
		log.Errorf("failed to close directory: %s", err)
		return err
	}

	return nil
}
