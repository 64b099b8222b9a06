// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package nd

import (
	"github.com/westerndigitalcorporation/classindex/pkg/pagedb"
)

// FindResources returns every resource registered for 'location', in any
// state.
func (ix *Index) FindResources(location string) ([]*Resource, error) {
	var out []*Resource
	err := ix.locations.Lookup(pagedb.HashString(location), func(a pagedb.Address) (bool, error) {
		rs, err := ix.Resource(a)
		if err != nil {
			return false, err
		}
		ok, err := ix.db.StringEquals(rs.r.Ptr(rsLocation), []byte(location))
		if err != nil {
			return false, err
		}
		if ok {
			out = append(out, rs)
		}
		return true, nil
	})
	return out, err
}

// ResourceFile returns the visible resource for 'location', or nil. There's
// at most one once indexing of the location finished.
func (ix *Index) ResourceFile(location string) (*Resource, error) {
	all, err := ix.FindResources(location)
	if err != nil {
		return nil, err
	}
	for _, rs := range all {
		if rs.IsVisible() {
			return rs, nil
		}
	}
	return nil, nil
}

// EachResource calls 'fn' with every resource in any state until it returns
// false or an error. 'fn' must not modify the index.
func (ix *Index) EachResource(fn func(*Resource) (bool, error)) error {
	return ix.locations.Each(func(_ uint32, a pagedb.Address) (bool, error) {
		rs, err := ix.Resource(a)
		if err != nil {
			return false, err
		}
		return fn(rs)
	})
}

// AllResources returns the addresses of every resource in any state.
func (ix *Index) AllResources() ([]pagedb.Address, error) {
	var out []pagedb.Address
	err := ix.EachResource(func(rs *Resource) (bool, error) {
		out = append(out, rs.Addr())
		return true, nil
	})
	return out, err
}

// ResourceCount returns the number of resources in any state.
func (ix *Index) ResourceCount() (int, error) {
	return ix.locations.Len()
}

// TypesOf returns the visible types declared with descriptor 'desc'.
func (ix *Index) TypesOf(desc string) ([]*Type, error) {
	ti, err := ix.FindTypeIdentity(desc)
	if err != nil || ti == nil {
		return nil, err
	}
	all, err := ti.Declarers()
	if err != nil {
		return nil, err
	}
	return visibleTypes(all)
}

// FindTypesBySimpleName returns the visible types whose unqualified name is
// 'name'. Nested types are found by their own name, e.g. "Entry" for
// java.util.Map$Entry.
func (ix *Index) FindTypesBySimpleName(name string) ([]*Type, error) {
	var all []*Type
	err := ix.simpleNames.Lookup(pagedb.HashString(name), func(a pagedb.Address) (bool, error) {
		t, err := ix.Type(a)
		if err != nil {
			return false, err
		}
		ok, err := ix.db.StringEquals(t.r.Ptr(tySimpleName), []byte(name))
		if err != nil {
			return false, err
		}
		if ok {
			all = append(all, t)
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return visibleTypes(all)
}

func visibleTypes(all []*Type) ([]*Type, error) {
	var out []*Type
	for _, t := range all {
		rs, err := t.Resource()
		if err != nil {
			return nil, err
		}
		if rs.IsVisible() {
			out = append(out, t)
		}
	}
	return out, nil
}
