// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

// Package workspace is the indexer's view of the host environment: which
// locations are indexable, which host elements refer to them, and how to
// read their content.
package workspace

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
)

// Errors returned when reading content.
var (
	ErrNotFound       = errors.New("file not found")
	ErrIO             = errors.New("i/o error")
	ErrCorruptArchive = errors.New("corrupt archive")
)

// ElementRef is a host element that maps onto an indexable location.
type ElementRef struct {
	// Workspace path of the element, e.g. "/project/lib/a.jar".
	Path string
	// Location of the package fragment root the element belongs to. For an
	// archive this is the archive itself; for a loose class file it is the
	// class folder holding it.
	Root string
}

// Host enumerates what should be indexed.
type Host interface {
	// EnumerateIndexableLocations maps every indexable location (an
	// absolute path to an archive or class file) to the host elements
	// referencing it.
	EnumerateIndexableLocations(ctx context.Context) (map[string][]ElementRef, error)
}

// Snapshot is the set of indexable locations at one point in time.
type Snapshot struct {
	locations []string
	elements  map[string][]ElementRef
}

// Create takes a snapshot of 'host'.
func Create(ctx context.Context, host Host) (*Snapshot, error) {
	m, err := host.EnumerateIndexableLocations(ctx)
	if err != nil {
		return nil, err
	}
	s := &Snapshot{elements: make(map[string][]ElementRef, len(m))}
	for loc, refs := range m {
		loc = filepath.Clean(loc)
		s.elements[loc] = append(s.elements[loc], refs...)
	}
	for loc, refs := range s.elements {
		sort.Slice(refs, func(i, j int) bool {
			if refs[i].Path != refs[j].Path {
				return refs[i].Path < refs[j].Path
			}
			return refs[i].Root < refs[j].Root
		})
		s.elements[loc] = dedup(refs)
		s.locations = append(s.locations, loc)
	}
	sort.Strings(s.locations)
	return s, nil
}

func dedup(refs []ElementRef) []ElementRef {
	out := refs[:0]
	for i, r := range refs {
		if i == 0 || r != refs[i-1] {
			out = append(out, r)
		}
	}
	return out
}

// Locations returns all locations in sorted order.
func (s *Snapshot) Locations() []string {
	return s.locations
}

// Elements returns the host elements referencing 'location', sorted by path.
func (s *Snapshot) Elements(location string) []ElementRef {
	return s.elements[location]
}

// Contains is true if 'location' is in the snapshot.
func (s *Snapshot) Contains(location string) bool {
	_, ok := s.elements[location]
	return ok
}

// Len returns the number of locations.
func (s *Snapshot) Len() int {
	return len(s.locations)
}
