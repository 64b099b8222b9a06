// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package nd

import (
	"errors"
	"strings"

	"github.com/westerndigitalcorporation/classindex/internal/classfile"
	"github.com/westerndigitalcorporation/classindex/pkg/pagedb"
)

// TypeRecord layout.
const (
	tyResourceLink = 0
	tyIdentityLink = linkSize
	tySimpleName   = 2 * linkSize
	tyModifiers    = tySimpleName + 4
	tyFlags        = tyModifiers + 4
	tySuper        = tyFlags + 4
	tyInterfaces   = tySuper + 4
	tyTypeParams   = tyInterfaces + listHeader
	tyMembers      = tyTypeParams + 4
	tyAnnotations  = tyMembers + listHeader
	tyDeclaring    = tyAnnotations + listHeader
	tySourceFile   = tyDeclaring + 4
	typeSize       = tySourceFile + 4
)

var (
	typeInterfaces = listDef{
		parent: poolType, parentSize: typeSize, head: tyInterfaces,
		child: poolSigRef, childSize: srSize, link: srLink,
	}
	typeMembers = listDef{
		parent: poolType, parentSize: typeSize, head: tyMembers,
		child: poolMember, childSize: memberSize, link: mbLink,
	}
	typeAnnotations = listDef{
		parent: poolType, parentSize: typeSize, head: tyAnnotations,
		child: poolAnnotation, childSize: anSize, link: anLink,
	}
)

// Type is a type declared in a resource.
type Type struct {
	ix *Index
	r  pagedb.Record
}

// Type returns the type at 'a'.
func (ix *Index) Type(a pagedb.Address) (*Type, error) {
	r, err := ix.db.Deref(a, poolType, typeSize)
	if err != nil {
		return nil, err
	}
	return &Type{ix: ix, r: r}, nil
}

// Addr returns the record's address.
func (t *Type) Addr() pagedb.Address {
	return t.r.Addr()
}

// Resource returns the resource declaring the type.
func (t *Type) Resource() (*Resource, error) {
	r, err := resourceTypes.parentOf(t.ix.db, t.r)
	if err != nil {
		return nil, err
	}
	if r.IsNil() {
		return nil, pagedb.Corruptf("type %d without resource", t.r.Addr())
	}
	return &Resource{ix: t.ix, r: r}, nil
}

// Identity returns the type's identity.
func (t *Type) Identity() (*TypeIdentity, error) {
	r, err := identityDeclarers.parentOf(t.ix.db, t.r)
	if err != nil {
		return nil, err
	}
	if r.IsNil() {
		return nil, pagedb.Corruptf("type %d without identity", t.r.Addr())
	}
	return &TypeIdentity{ix: t.ix, r: r}, nil
}

// Descriptor returns the type's field descriptor.
func (t *Type) Descriptor() (string, error) {
	ti, err := t.Identity()
	if err != nil {
		return "", err
	}
	return ti.Descriptor()
}

// SimpleName returns the unqualified name of the type.
func (t *Type) SimpleName() (string, error) {
	return t.ix.getString(t.r, tySimpleName)
}

// Modifiers returns the access flags.
func (t *Type) Modifiers() uint32 {
	return t.r.Uint32(tyModifiers)
}

// Flags returns how the type is declared.
func (t *Type) Flags() TypeFlags {
	return TypeFlags(t.r.Uint32(tyFlags))
}

// MemberCount returns the number of fields and methods.
func (t *Type) MemberCount() int {
	return typeMembers.count(t.r)
}

// Members returns the type's fields and methods, sorted by name and
// descriptor.
func (t *Type) Members() ([]*Member, error) {
	var out []*Member
	err := typeMembers.each(t.ix.db, t.r, func(c pagedb.Record) (bool, error) {
		out = append(out, &Member{ix: t.ix, r: c})
		return true, nil
	})
	return out, err
}

// simpleNameOf returns the name a type is found by in the simple name
// index: what follows the last '/' or '$' of its binary name.
func simpleNameOf(desc string) (string, bool) {
	name, ok := classfile.DescriptorToBinaryName(desc)
	if !ok {
		return "", false
	}
	return classfile.SimpleName(name), true
}

// AddType stores 'd' as a type declared by 'rs'. Requires the write lock.
func (rs *Resource) AddType(d *TypeData) (*Type, error) {
	ix := rs.ix
	simple, ok := simpleNameOf(d.Descriptor)
	if !ok || strings.ContainsAny(d.Descriptor, "[<.") {
		return nil, invalidf("bad type descriptor %q", d.Descriptor)
	}
	if !rs.IsInIndex() {
		return nil, invalidf("adding %s to resource %d which is being deleted", d.Descriptor, rs.Addr())
	}

	r, err := ix.newRecord(poolType, typeSize)
	if err != nil {
		return nil, err
	}
	t := &Type{ix: ix, r: r}
	if err := resourceTypes.append(ix.db, rs.r, r); err != nil {
		return nil, err
	}
	ida, err := ix.acquireIdentity(d.Descriptor)
	if err != nil {
		return nil, err
	}
	ti, err := ix.typeIdentity(ida)
	if err != nil {
		return nil, err
	}
	if err := identityDeclarers.append(ix.db, ti.r, r); err != nil {
		return nil, err
	}
	if err := t.fill(simple, d); err != nil {
		// Data the schema can't hold is dropped along with the partial type.
		if errors.Is(err, ErrInvalidData) {
			if derr := t.Delete(); derr != nil {
				return nil, derr
			}
		}
		return nil, err
	}
	return t, nil
}

func (t *Type) fill(simple string, d *TypeData) error {
	ix, r := t.ix, t.r
	if err := ix.putString(r, tySimpleName, simple); err != nil {
		return err
	}
	if err := ix.simpleNames.Insert(pagedb.HashString(simple), r.Addr()); err != nil {
		return err
	}

	r.PutUint32(tyModifiers, d.Modifiers)
	r.PutUint32(tyFlags, uint32(d.Flags))
	super, err := ix.newSig(d.Superclass)
	if err != nil {
		return err
	}
	r.PutPtr(tySuper, super)
	for _, i := range d.Interfaces {
		if err := ix.appendSigRef(typeInterfaces, r, i, 0); err != nil {
			return err
		}
	}
	if err := ix.putString(r, tyTypeParams, d.TypeParams); err != nil {
		return err
	}
	if err := ix.putString(r, tySourceFile, d.SourceFile); err != nil {
		return err
	}
	if d.DeclaringType != "" {
		dt, err := ix.acquireIdentity(d.DeclaringType)
		if err != nil {
			return err
		}
		r.PutPtr(tyDeclaring, dt)
	}
	for i := range d.Members {
		if err := t.addMember(&d.Members[i]); err != nil {
			return err
		}
	}
	if err := ix.appendAnnotations(typeAnnotations, r, d.Annotations); err != nil {
		return err
	}
	return nil
}

// Data reads everything stored about the type.
func (t *Type) Data() (*TypeData, error) {
	ix := t.ix
	d := &TypeData{
		Modifiers: t.Modifiers(),
		Flags:     t.Flags(),
	}
	var err error
	if d.Descriptor, err = t.Descriptor(); err != nil {
		return nil, err
	}
	if d.Superclass, err = ix.readSig(t.r.Ptr(tySuper)); err != nil {
		return nil, err
	}
	err = ix.readSigRefs(typeInterfaces, t.r, func(s *classfile.TypeSig, _ uint32) {
		d.Interfaces = append(d.Interfaces, s)
	})
	if err != nil {
		return nil, err
	}
	if d.TypeParams, err = ix.getString(t.r, tyTypeParams); err != nil {
		return nil, err
	}
	if d.SourceFile, err = ix.getString(t.r, tySourceFile); err != nil {
		return nil, err
	}
	if a := t.r.Ptr(tyDeclaring); a != 0 {
		ti, err := ix.typeIdentity(a)
		if err != nil {
			return nil, err
		}
		if d.DeclaringType, err = ti.Descriptor(); err != nil {
			return nil, err
		}
	}
	err = typeMembers.each(ix.db, t.r, func(c pagedb.Record) (bool, error) {
		md, err := (&Member{ix: ix, r: c}).Data()
		if err != nil {
			return false, err
		}
		d.Members = append(d.Members, *md)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if d.Annotations, err = ix.readAnnotations(typeAnnotations, t.r); err != nil {
		return nil, err
	}
	return d, nil
}

// Delete removes the type and everything it owns. Requires the write lock.
func (t *Type) Delete() error {
	ix := t.ix
	r := t.r
	if err := typeAnnotations.freeAll(ix.db, r, ix.freeAnnotationContents); err != nil {
		return err
	}
	if err := typeMembers.freeAll(ix.db, r, ix.freeMemberContents); err != nil {
		return err
	}
	if err := ix.freeSigRefs(typeInterfaces, r); err != nil {
		return err
	}
	if err := ix.freeSig(r.Ptr(tySuper)); err != nil {
		return err
	}
	r.PutPtr(tySuper, 0)
	if err := ix.releaseIdentity(r.Ptr(tyDeclaring)); err != nil {
		return err
	}
	r.PutPtr(tyDeclaring, 0)
	if err := ix.freeString(r, tyTypeParams); err != nil {
		return err
	}
	if err := ix.freeString(r, tySourceFile); err != nil {
		return err
	}

	simple, err := t.SimpleName()
	if err != nil {
		return err
	}
	if _, err := ix.simpleNames.Remove(pagedb.HashString(simple), r.Addr()); err != nil {
		return err
	}
	if err := ix.freeString(r, tySimpleName); err != nil {
		return err
	}

	if err := resourceTypes.remove(ix.db, r); err != nil {
		return err
	}
	ti, err := t.Identity()
	if err != nil {
		return err
	}
	if err := identityDeclarers.remove(ix.db, r); err != nil {
		return err
	}
	if err := ix.releaseIdentity(ti.Addr()); err != nil {
		return err
	}
	return ix.db.Free(r.Addr(), poolType)
}
