// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package nd

import (
	"github.com/westerndigitalcorporation/classindex/pkg/pagedb"
)

// TypeIdentity layout. An identity is interned by descriptor and counts the
// records referring to it: declaring types, signatures, annotations and
// enum constants.
const (
	tiDescriptor = 0
	tiRefCount   = 4
	tiDeclarers  = 8
	tiSize       = tiDeclarers + listHeader
)

var identityDeclarers = listDef{
	parent: poolTypeIdentity, parentSize: tiSize, head: tiDeclarers,
	child: poolType, childSize: typeSize, link: tyIdentityLink,
}

// TypeIdentity is the shared record for one type descriptor.
type TypeIdentity struct {
	ix *Index
	r  pagedb.Record
}

func (ix *Index) typeIdentity(a pagedb.Address) (*TypeIdentity, error) {
	r, err := ix.db.Deref(a, poolTypeIdentity, tiSize)
	if err != nil {
		return nil, err
	}
	return &TypeIdentity{ix: ix, r: r}, nil
}

// Addr returns the record's address.
func (t *TypeIdentity) Addr() pagedb.Address {
	return t.r.Addr()
}

// Descriptor returns the field descriptor.
func (t *TypeIdentity) Descriptor() (string, error) {
	return t.ix.getString(t.r, tiDescriptor)
}

// RefCount returns the number of references to the identity.
func (t *TypeIdentity) RefCount() int {
	return int(t.r.Uint32(tiRefCount))
}

// Declarers returns every type declared with this descriptor, in any
// resource and in any state.
func (t *TypeIdentity) Declarers() ([]*Type, error) {
	var out []*Type
	err := identityDeclarers.each(t.ix.db, t.r, func(c pagedb.Record) (bool, error) {
		out = append(out, &Type{ix: t.ix, r: c})
		return true, nil
	})
	return out, err
}

// FindTypeIdentity returns the identity for 'desc', or nil.
func (ix *Index) FindTypeIdentity(desc string) (*TypeIdentity, error) {
	var found *TypeIdentity
	err := ix.descriptors.Lookup(pagedb.HashString(desc), func(a pagedb.Address) (bool, error) {
		t, err := ix.typeIdentity(a)
		if err != nil {
			return false, err
		}
		ok, err := ix.db.StringEquals(t.r.Ptr(tiDescriptor), []byte(desc))
		if err != nil {
			return false, err
		}
		if ok {
			found = t
		}
		return !ok, nil
	})
	return found, err
}

// acquireIdentity returns the identity for 'desc', creating it if needed,
// and counts a new reference to it.
func (ix *Index) acquireIdentity(desc string) (pagedb.Address, error) {
	if desc == "" {
		return 0, invalidf("empty type descriptor")
	}
	t, err := ix.FindTypeIdentity(desc)
	if err != nil {
		return 0, err
	}
	if t == nil {
		r, err := ix.newRecord(poolTypeIdentity, tiSize)
		if err != nil {
			return 0, err
		}
		if err := ix.putString(r, tiDescriptor, desc); err != nil {
			return 0, err
		}
		if err := ix.descriptors.Insert(pagedb.HashString(desc), r.Addr()); err != nil {
			return 0, err
		}
		t = &TypeIdentity{ix: ix, r: r}
	}
	t.r.PutUint32(tiRefCount, t.r.Uint32(tiRefCount)+1)
	return t.r.Addr(), nil
}

// releaseIdentity drops a reference and deletes the identity with its last
// reference.
func (ix *Index) releaseIdentity(a pagedb.Address) error {
	if a == 0 {
		return nil
	}
	t, err := ix.typeIdentity(a)
	if err != nil {
		return err
	}
	n := t.r.Uint32(tiRefCount)
	if n == 0 {
		return pagedb.Corruptf("type identity %d released with no references", a)
	}
	if n--; n > 0 {
		t.r.PutUint32(tiRefCount, n)
		return nil
	}
	if identityDeclarers.count(t.r) != 0 {
		return pagedb.Corruptf("type identity %d unreferenced but still declared", a)
	}
	desc, err := t.Descriptor()
	if err != nil {
		return err
	}
	if ok, err := ix.descriptors.Remove(pagedb.HashString(desc), a); err != nil {
		return err
	} else if !ok {
		return pagedb.Corruptf("type identity %s missing from the descriptor index", desc)
	}
	if err := ix.freeString(t.r, tiDescriptor); err != nil {
		return err
	}
	return ix.db.Free(a, poolTypeIdentity)
}
