// Copyright (c) 2015 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT

package core

import (
	"context"
	"errors"
	"os"

	"github.com/westerndigitalcorporation/classindex/internal/classfile"
	"github.com/westerndigitalcorporation/classindex/internal/workspace"
	"github.com/westerndigitalcorporation/classindex/pkg/pagedb"
)

// Error is the error kind reported by the indexer to its callers.
type Error int

const (
	// NoError means no error.
	NoError = Error(iota)

	//------ Index database errors ------//

	// ErrCorruptIndex is returned when a structural invariant of the index
	// database is violated. The only cure is a rebuild.
	ErrCorruptIndex

	// ErrNotFound is returned when a record that was asked for isn't in the
	// index.
	ErrNotFound

	// ErrTooBig is returned if a value doesn't fit in the database, or the
	// database hit its size limit.
	ErrTooBig

	// ErrClosed is returned for operations on a closed index.
	ErrClosed

	//------ Content errors ------//

	// ErrFileNotFound is returned when an indexable location disappeared.
	ErrFileNotFound

	// ErrIO is returned if there is an OS-level IO error reading content.
	ErrIO

	// ErrCorruptArchive is returned when an archive container can't be read.
	ErrCorruptArchive

	// ErrBadClassFormat is returned for a malformed class file.
	ErrBadClassFormat

	//------ Scheduling errors ------//

	// ErrCanceled is returned when an operation is canceled.
	ErrCanceled

	// ErrNotReady is returned by a non-blocking wait while indexing is in
	// progress or pending.
	ErrNotReady

	// ErrTooBusy means the indexer is too busy to do whatever it was asked
	// to do.
	ErrTooBusy

	// ErrInvalidArgument is returned if an argument is bad or confusing.
	ErrInvalidArgument

	//------ Meta-error ------//

	// ErrUnknown is an error that we're not really sure about.
	ErrUnknown
)

var description = map[Error]string{
	NoError: "no error",

	// Index database errors.
	ErrCorruptIndex: "index database is corrupt",
	ErrNotFound:     "not found in the index",
	ErrTooBig:       "too large for the index database",
	ErrClosed:       "index is closed",

	// Content errors.
	ErrFileNotFound:   "file was not found",
	ErrIO:             "I/O level error",
	ErrCorruptArchive: "archive is corrupt",
	ErrBadClassFormat: "malformed class file",

	// Scheduling errors.
	ErrCanceled:        "operation canceled",
	ErrNotReady:        "index is not ready",
	ErrTooBusy:         "too busy",
	ErrInvalidArgument: "invalid argument",

	// Meta-error.
	ErrUnknown: "unknown error!!!! contact a programming professional to diagnose",
}

// String returns a human readable error message.
func (e Error) String() string {
	if s, ok := description[e]; ok {
		return s
	}
	return "NO DESCRIPTION FOR ERROR FIX THIS"
}

// Error returns a golang error object with an error message corresponding to
// this core.Error.
func (e Error) Error() error {
	if e == NoError {
		return nil
	}
	return goError(e)
}

// Is checks whether the generic Go error 'g' is actually the receiver error
// underneath, possibly wrapped.
func (e Error) Is(g error) bool {
	var b goError
	return errors.As(g, &b) && Error(b) == e
}

// goError is a wrapper type to make our Error act like Go's 'error'
type goError Error

// Error implements the 'error' interface.
func (g goError) Error() string {
	return (Error)(g).String()
}

// IndexError gets the underlying core.Error from an error, looking through
// wrapping.
func IndexError(err error) (Error, bool) {
	var e goError
	if errors.As(err, &e) {
		return Error(e), true
	}
	return NoError, false
}

// FromError classifies an error from any layer below the indexer.
func FromError(err error) Error {
	if err == nil {
		return NoError
	}
	if e, ok := IndexError(err); ok {
		return e
	}
	switch {
	case errors.Is(err, pagedb.ErrCorrupt):
		return ErrCorruptIndex
	case errors.Is(err, pagedb.ErrTooLarge), errors.Is(err, pagedb.ErrFull):
		return ErrTooBig
	case errors.Is(err, pagedb.ErrClosed):
		return ErrClosed
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrCanceled
	case errors.Is(err, classfile.ErrFormat):
		return ErrBadClassFormat
	case errors.Is(err, workspace.ErrCorruptArchive):
		return ErrCorruptArchive
	case errors.Is(err, workspace.ErrNotFound), os.IsNotExist(err):
		return ErrFileNotFound
	case errors.Is(err, workspace.ErrIO):
		return ErrIO
	}
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return ErrIO
	}
	return ErrUnknown
}

// IsCorruption returns true if 'err' means the index database must be
// rebuilt.
func IsCorruption(err error) bool {
	return FromError(err) == ErrCorruptIndex
}

// IsRetriable checks if this is an error worth retrying.
func IsRetriable(err error) bool {
	return err != nil && IsRetriableError(FromError(err))
}

// IsRetriableError checks if we should retry on a given returned error.
// We consider errors that might be transient to be retriable errors.
func IsRetriableError(err Error) bool {
	switch err {
	case ErrIO, // A flaky disk or network filesystem.
		// Make sense to backoff a little bit and retry.
		ErrTooBusy:
		return true
	}
	return false
}
