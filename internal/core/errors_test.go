// Copyright (c) 2018 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT

package core

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/westerndigitalcorporation/classindex/internal/classfile"
	"github.com/westerndigitalcorporation/classindex/internal/workspace"
	"github.com/westerndigitalcorporation/classindex/pkg/pagedb"
)

func TestEveryErrorHasDescription(t *testing.T) {
	for e := NoError; e <= ErrUnknown; e++ {
		if _, ok := description[e]; !ok {
			t.Errorf("error %d has no description", e)
		}
	}
}

func TestFromError(t *testing.T) {
	_, statErr := os.Stat("/this/does/not/exist")
	cases := []struct {
		err  error
		want Error
	}{
		{nil, NoError},
		{ErrNotReady.Error(), ErrNotReady},
		{fmt.Errorf("scan: %w", ErrCanceled.Error()), ErrCanceled},
		{fmt.Errorf("reading type: %w", pagedb.ErrCorrupt), ErrCorruptIndex},
		{pagedb.ErrFull, ErrTooBig},
		{pagedb.ErrClosed, ErrClosed},
		{context.Canceled, ErrCanceled},
		{fmt.Errorf("Foo.class: %w", classfile.ErrFormat), ErrBadClassFormat},
		{fmt.Errorf("a.jar: %w", workspace.ErrCorruptArchive), ErrCorruptArchive},
		{workspace.ErrNotFound, ErrFileNotFound},
		{statErr, ErrFileNotFound},
		{&os.PathError{Op: "read", Path: "x", Err: os.ErrPermission}, ErrIO},
		{fmt.Errorf("something else"), ErrUnknown},
	}
	for _, c := range cases {
		if got := FromError(c.err); got != c.want {
			t.Errorf("FromError(%v) = %s, want %s", c.err, got, c.want)
		}
	}
}

func TestIs(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", ErrNotReady.Error())
	if !ErrNotReady.Is(err) {
		t.Errorf("expected wrapped ErrNotReady to match")
	}
	if ErrCanceled.Is(err) {
		t.Errorf("ErrCanceled matched ErrNotReady")
	}
	if NoError.Error() != nil {
		t.Errorf("NoError should map to a nil error")
	}
}

func TestRetriable(t *testing.T) {
	if !IsRetriable(&os.PathError{Op: "read", Path: "x", Err: os.ErrPermission}) {
		t.Errorf("I/O errors should be retriable")
	}
	if IsRetriable(pagedb.ErrCorrupt) || IsRetriable(nil) {
		t.Errorf("corruption and nil aren't retriable")
	}
}
