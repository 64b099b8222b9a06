// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

// Package nd is the record schema of the class index. Records live in a
// pagedb.Database and are accessed through fixed layouts: every record type
// has a type tag, which is its pagedb pool, and a set of offset constants.
//
// Every accessor requires the database lock. Views returned by this package
// are only valid while the lock they were obtained under is held.
package nd

import (
	"errors"
	"fmt"

	"github.com/westerndigitalcorporation/classindex/pkg/pagedb"
)

// SchemaVersion is stored in the database header. Bump it on any layout
// change; databases with another version are discarded and rebuilt.
const SchemaVersion = 3

// Record type tags.
const (
	tagResource uint16 = iota + 1
	tagTypeIdentity
	tagType
	tagMember
	tagSignature
	tagTypeArg
	tagSigRef
	tagConstant
	tagAnnotation
	tagAnnotationPair
	tagZipEntry
	tagWorkspaceLocation
)

var (
	poolResource          = pagedb.NodePool(tagResource)
	poolTypeIdentity      = pagedb.NodePool(tagTypeIdentity)
	poolType              = pagedb.NodePool(tagType)
	poolMember            = pagedb.NodePool(tagMember)
	poolSignature         = pagedb.NodePool(tagSignature)
	poolTypeArg           = pagedb.NodePool(tagTypeArg)
	poolSigRef            = pagedb.NodePool(tagSigRef)
	poolConstant          = pagedb.NodePool(tagConstant)
	poolAnnotation        = pagedb.NodePool(tagAnnotation)
	poolAnnotationPair    = pagedb.NodePool(tagAnnotationPair)
	poolZipEntry          = pagedb.NodePool(tagZipEntry)
	poolWorkspaceLocation = pagedb.NodePool(tagWorkspaceLocation)
)

// PoolName names the pools used by this package, for statistics.
func PoolName(p pagedb.Pool) string {
	switch p {
	case poolResource:
		return "resource"
	case poolTypeIdentity:
		return "type_identity"
	case poolType:
		return "type"
	case poolMember:
		return "member"
	case poolSignature:
		return "signature"
	case poolTypeArg:
		return "type_arg"
	case poolSigRef:
		return "sig_ref"
	case poolConstant:
		return "constant"
	case poolAnnotation:
		return "annotation"
	case poolAnnotationPair:
		return "annotation_pair"
	case poolZipEntry:
		return "zip_entry"
	case poolWorkspaceLocation:
		return "workspace_location"
	}
	return p.String()
}

// Root slots of the search indexes.
const (
	rootDescriptors = 0
	rootSimpleNames = 1
	rootLocations   = 2
)

// ErrInvalidData is returned when asked to store something the schema can't
// represent.
var ErrInvalidData = errors.New("invalid record data")

// Index is the root of the schema: the search indexes and record factories.
type Index struct {
	db          *pagedb.Database
	descriptors *pagedb.HashIndex
	simpleNames *pagedb.HashIndex
	locations   *pagedb.HashIndex
}

// New returns the index stored in 'db'.
func New(db *pagedb.Database) *Index {
	return &Index{
		db:          db,
		descriptors: db.HashIndex(rootDescriptors),
		simpleNames: db.HashIndex(rootSimpleNames),
		locations:   db.HashIndex(rootLocations),
	}
}

// DB returns the underlying database.
func (ix *Index) DB() *pagedb.Database {
	return ix.db
}

// newRecord allocates a zeroed record.
func (ix *Index) newRecord(pool pagedb.Pool, size int) (pagedb.Record, error) {
	a, err := ix.db.Malloc(size, pool)
	if err != nil {
		return pagedb.Record{}, err
	}
	return ix.db.Deref(a, pool, size)
}

// putString replaces the string pointed at by 'off' in 'r'.
func (ix *Index) putString(r pagedb.Record, off int, s string) error {
	if err := ix.db.FreeString(r.Ptr(off)); err != nil {
		return err
	}
	a, err := ix.db.NewStringFrom(s)
	if err != nil {
		return err
	}
	r.PutPtr(off, a)
	return nil
}

func (ix *Index) getString(r pagedb.Record, off int) (string, error) {
	return ix.db.GoString(r.Ptr(off))
}

// freeString frees the string pointed at by 'off' and clears the pointer.
func (ix *Index) freeString(r pagedb.Record, off int) error {
	if err := ix.db.FreeString(r.Ptr(off)); err != nil {
		return err
	}
	r.PutPtr(off, 0)
	return nil
}

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidData, fmt.Sprintf(format, args...))
}
