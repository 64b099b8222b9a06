// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package nd

import (
	"sort"

	"github.com/golang/snappy"

	"github.com/westerndigitalcorporation/classindex/internal/fingerprint"
	"github.com/westerndigitalcorporation/classindex/pkg/pagedb"
)

// ResourceRecord layout.
const (
	rsLocation     = 0
	rsFpSize       = 4
	rsFpModTime    = 12
	rsFpHash       = 20
	rsTimeLastUsed = 28
	rsFlags        = 36
	rsFpFlags      = 37
	rsLifecycle    = 38
	rsJDKLevel     = 40
	rsManifest     = 44
	rsPFR          = 48
	rsZipEntries   = 52
	rsTypes        = rsZipEntries + listHeader
	rsWSLocations  = rsTypes + listHeader
	resourceSize   = rsWSLocations + listHeader
)

// ResourceFlags are the persistent flags of a resource.
type ResourceFlags uint8

const (
	// FlagCorruptArchive is set when the archive container couldn't be read.
	FlagCorruptArchive ResourceFlags = 1 << iota
	// FlagDoneIndexing is set once the resource is fully indexed.
	FlagDoneIndexing
)

const (
	fpPresent = 1 << iota
	fpHasHash
)

// Lifecycle is the deletion state of a resource.
type Lifecycle uint8

const (
	// Live resources are visible to queries once done indexing.
	Live Lifecycle = iota
	// Invalidated resources are awaiting deletion and hidden from queries.
	Invalidated
	// Deleting resources are having their children removed.
	Deleting
)

func (l Lifecycle) String() string {
	switch l {
	case Live:
		return "live"
	case Invalidated:
		return "invalidated"
	case Deleting:
		return "deleting"
	}
	return "unknown"
}

// ZipEntryRecord and WorkspaceLocationRecord layout.
const (
	zeLink = 0
	zeName = linkSize
	zeSize = zeName + 4
	wlLink = 0
	wlPath = linkSize
	wlSize = wlPath + 4
)

var (
	resourceTypes = listDef{
		parent: poolResource, parentSize: resourceSize, head: rsTypes,
		child: poolType, childSize: typeSize, link: tyResourceLink,
	}
	resourceZipEntries = listDef{
		parent: poolResource, parentSize: resourceSize, head: rsZipEntries,
		child: poolZipEntry, childSize: zeSize, link: zeLink,
	}
	resourceWSLocations = listDef{
		parent: poolResource, parentSize: resourceSize, head: rsWSLocations,
		child: poolWorkspaceLocation, childSize: wlSize, link: wlLink,
	}
)

// Resource is the index of one location: an archive or a loose class file.
type Resource struct {
	ix *Index
	r  pagedb.Record
}

// Resource returns the resource at 'a'.
func (ix *Index) Resource(a pagedb.Address) (*Resource, error) {
	r, err := ix.db.Deref(a, poolResource, resourceSize)
	if err != nil {
		return nil, err
	}
	return &Resource{ix: ix, r: r}, nil
}

// NewResource creates a live, not yet indexed resource for 'location' and
// registers it in the location index. Requires the write lock.
func (ix *Index) NewResource(location string, now int64) (*Resource, error) {
	if location == "" {
		return nil, invalidf("empty location")
	}
	r, err := ix.newRecord(poolResource, resourceSize)
	if err != nil {
		return nil, err
	}
	if err := ix.putString(r, rsLocation, location); err != nil {
		return nil, err
	}
	r.PutInt64(rsTimeLastUsed, now)
	if err := ix.locations.Insert(pagedb.HashString(location), r.Addr()); err != nil {
		return nil, err
	}
	return &Resource{ix: ix, r: r}, nil
}

// Addr returns the record's address.
func (rs *Resource) Addr() pagedb.Address {
	return rs.r.Addr()
}

// Location returns the filesystem path the resource indexes.
func (rs *Resource) Location() (string, error) {
	return rs.ix.getString(rs.r, rsLocation)
}

// Fingerprint returns the fingerprint of the indexed content.
func (rs *Resource) Fingerprint() fingerprint.Fingerprint {
	flags := rs.r.Uint8(rsFpFlags)
	if flags&fpPresent == 0 {
		return fingerprint.Empty
	}
	return fingerprint.Fingerprint{
		Size:    rs.r.Uint64(rsFpSize),
		ModTime: rs.r.Int64(rsFpModTime),
		Hash:    rs.r.Uint64(rsFpHash),
		HasHash: flags&fpHasHash != 0,
	}
}

// SetFingerprint stores 'fp'. Requires the write lock.
func (rs *Resource) SetFingerprint(fp fingerprint.Fingerprint) {
	var flags uint8
	if !fp.IsEmpty() {
		flags = fpPresent
	}
	if fp.HasHash {
		flags |= fpHasHash
	}
	rs.r.PutUint64(rsFpSize, fp.Size)
	rs.r.PutInt64(rsFpModTime, fp.ModTime)
	rs.r.PutUint64(rsFpHash, fp.Hash)
	rs.r.PutUint8(rsFpFlags, flags)
}

// TimeLastUsed returns when the resource was last part of a snapshot, in
// unix milliseconds.
func (rs *Resource) TimeLastUsed() int64 {
	return rs.r.Int64(rsTimeLastUsed)
}

// SetTimeLastUsed sets the last use time. Requires the write lock.
func (rs *Resource) SetTimeLastUsed(t int64) {
	rs.r.PutInt64(rsTimeLastUsed, t)
}

// Flags returns the resource flags.
func (rs *Resource) Flags() ResourceFlags {
	return ResourceFlags(rs.r.Uint8(rsFlags))
}

// SetFlag sets or clears 'f'. Requires the write lock.
func (rs *Resource) SetFlag(f ResourceFlags, on bool) {
	flags := rs.Flags()
	if on {
		flags |= f
	} else {
		flags &^= f
	}
	rs.r.PutUint8(rsFlags, uint8(flags))
}

// IsDoneIndexing is true once the resource was completely indexed.
func (rs *Resource) IsDoneIndexing() bool {
	return rs.Flags()&FlagDoneIndexing != 0
}

// MarkDone sets FlagDoneIndexing. Requires the write lock.
func (rs *Resource) MarkDone() {
	rs.SetFlag(FlagDoneIndexing, true)
}

// Lifecycle returns the deletion state.
func (rs *Resource) Lifecycle() Lifecycle {
	return Lifecycle(rs.r.Uint8(rsLifecycle))
}

// IsInIndex is true until the resource is being invalidated.
func (rs *Resource) IsInIndex() bool {
	return rs.Lifecycle() == Live
}

// IsVisible is true for resources queries should see: done and live.
func (rs *Resource) IsVisible() bool {
	return rs.IsInIndex() && rs.IsDoneIndexing()
}

// JDKLevel returns the highest class file version seen in the resource, as
// major<<16 | minor.
func (rs *Resource) JDKLevel() uint32 {
	return rs.r.Uint32(rsJDKLevel)
}

// SetJDKLevel raises the stored class file version to 'v' if it's higher.
// Requires the write lock.
func (rs *Resource) SetJDKLevel(v uint32) {
	if v > rs.JDKLevel() {
		rs.r.PutUint32(rsJDKLevel, v)
	}
}

// Manifest returns the archive's META-INF/MANIFEST.MF, or nil.
func (rs *Resource) Manifest() ([]byte, error) {
	b, err := rs.ix.db.String(rs.r.Ptr(rsManifest))
	if err != nil || b == nil {
		return nil, err
	}
	out, err := snappy.Decode(nil, b)
	if err != nil {
		return nil, pagedb.Corruptf("manifest of resource %d: %s", rs.Addr(), err)
	}
	return out, nil
}

// SetManifest stores 'content' compressed. Requires the write lock.
func (rs *Resource) SetManifest(content []byte) error {
	if err := rs.ix.freeString(rs.r, rsManifest); err != nil {
		return err
	}
	if len(content) == 0 {
		return nil
	}
	a, err := rs.ix.db.NewString(snappy.Encode(nil, content))
	if err != nil {
		return err
	}
	rs.r.PutPtr(rsManifest, a)
	return nil
}

// PackageFragmentRoot returns the location of the root the resource belongs
// to when it isn't the resource itself, e.g. the class folder of a loose
// class file.
func (rs *Resource) PackageFragmentRoot() (string, error) {
	return rs.ix.getString(rs.r, rsPFR)
}

// SetPackageFragmentRoot sets the root location. Requires the write lock.
func (rs *Resource) SetPackageFragmentRoot(root string) error {
	return rs.ix.putString(rs.r, rsPFR, root)
}

// AddZipEntry records a non-class entry of the archive. Requires the write
// lock.
func (rs *Resource) AddZipEntry(name string) error {
	r, err := rs.ix.newRecord(poolZipEntry, zeSize)
	if err != nil {
		return err
	}
	if err := rs.ix.putString(r, zeName, name); err != nil {
		return err
	}
	return resourceZipEntries.append(rs.ix.db, rs.r, r)
}

// ZipEntries returns the names of the non-class entries.
func (rs *Resource) ZipEntries() ([]string, error) {
	return rs.strings(resourceZipEntries, zeName)
}

// WorkspaceLocations returns the host-model paths of the resource.
func (rs *Resource) WorkspaceLocations() ([]string, error) {
	return rs.strings(resourceWSLocations, wlPath)
}

func (rs *Resource) strings(l listDef, off int) ([]string, error) {
	var out []string
	err := l.each(rs.ix.db, rs.r, func(c pagedb.Record) (bool, error) {
		s, err := rs.ix.getString(c, off)
		if err != nil {
			return false, err
		}
		out = append(out, s)
		return true, nil
	})
	return out, err
}

// SetWorkspaceLocations replaces the host-model paths of the resource.
// Returns false and writes nothing when they are unchanged. Requires the
// write lock.
func (rs *Resource) SetWorkspaceLocations(paths []string) (bool, error) {
	want := append([]string(nil), paths...)
	sort.Strings(want)
	have, err := rs.WorkspaceLocations()
	if err != nil {
		return false, err
	}
	if equalStrings(have, want) {
		return false, nil
	}
	err = resourceWSLocations.freeAll(rs.ix.db, rs.r, func(c pagedb.Record) error {
		return rs.ix.freeString(c, wlPath)
	})
	if err != nil {
		return false, err
	}
	for _, p := range want {
		r, err := rs.ix.newRecord(poolWorkspaceLocation, wlSize)
		if err != nil {
			return false, err
		}
		if err := rs.ix.putString(r, wlPath, p); err != nil {
			return false, err
		}
		if err := resourceWSLocations.append(rs.ix.db, rs.r, r); err != nil {
			return false, err
		}
	}
	return true, nil
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// TypeCount returns the number of types declared in the resource.
func (rs *Resource) TypeCount() int {
	return resourceTypes.count(rs.r)
}

// Types returns the types declared in the resource, in insertion order.
func (rs *Resource) Types() ([]*Type, error) {
	var out []*Type
	err := resourceTypes.each(rs.ix.db, rs.r, func(c pagedb.Record) (bool, error) {
		out = append(out, &Type{ix: rs.ix, r: c})
		return true, nil
	})
	return out, err
}

// HasChildren is true while the resource owns any zip entry, workspace
// location or type.
func (rs *Resource) HasChildren() bool {
	return resourceZipEntries.count(rs.r)+resourceWSLocations.count(rs.r)+resourceTypes.count(rs.r) > 0
}

// Invalidate hides the resource from queries ahead of its deletion. It stays
// in the location index so a collection interrupted halfway can be resumed.
// Requires the write lock.
func (rs *Resource) Invalidate() {
	if rs.Lifecycle() == Live {
		rs.r.PutUint8(rsLifecycle, uint8(Invalidated))
	}
}

// DeleteOneChild deletes one zip entry, workspace location or type, in that
// order, and returns whether anything was left to delete. Deleting children
// one write burst at a time keeps readers from waiting on a large resource.
// Requires the write lock.
func (rs *Resource) DeleteOneChild() (bool, error) {
	ix := rs.ix
	rs.r.PutUint8(rsLifecycle, uint8(Deleting))
	if a := rs.r.Ptr(rsZipEntries + listLast); a != 0 {
		c, err := resourceZipEntries.derefChild(ix.db, a)
		if err != nil {
			return false, err
		}
		if err := resourceZipEntries.remove(ix.db, c); err != nil {
			return false, err
		}
		if err := ix.freeString(c, zeName); err != nil {
			return false, err
		}
		return true, ix.db.Free(a, poolZipEntry)
	}
	if a := rs.r.Ptr(rsWSLocations + listLast); a != 0 {
		c, err := resourceWSLocations.derefChild(ix.db, a)
		if err != nil {
			return false, err
		}
		if err := resourceWSLocations.remove(ix.db, c); err != nil {
			return false, err
		}
		if err := ix.freeString(c, wlPath); err != nil {
			return false, err
		}
		return true, ix.db.Free(a, poolWorkspaceLocation)
	}
	if a := rs.r.Ptr(rsTypes + listLast); a != 0 {
		t, err := ix.Type(a)
		if err != nil {
			return false, err
		}
		return true, t.Delete()
	}
	return false, nil
}

// Delete removes the resource, which must have no children left, from the
// location index and frees it. Requires the write lock.
func (rs *Resource) Delete() error {
	ix := rs.ix
	if rs.HasChildren() {
		return invalidf("deleting resource %d with children", rs.Addr())
	}
	loc, err := rs.Location()
	if err != nil {
		return err
	}
	if ok, err := ix.locations.Remove(pagedb.HashString(loc), rs.Addr()); err != nil {
		return err
	} else if !ok {
		return pagedb.Corruptf("resource %d missing from the location index", rs.Addr())
	}
	for _, off := range []int{rsLocation, rsManifest, rsPFR} {
		if err := ix.freeString(rs.r, off); err != nil {
			return err
		}
	}
	return ix.db.Free(rs.Addr(), poolResource)
}
