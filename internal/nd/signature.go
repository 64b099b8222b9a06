// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package nd

import (
	"github.com/westerndigitalcorporation/classindex/internal/classfile"
	"github.com/westerndigitalcorporation/classindex/pkg/pagedb"
)

// A signature pointer is polymorphic: a type that is fully described by its
// descriptor points straight at its TypeIdentity, anything else (generic
// classes, nested types of generic owners, type variables and arrays of
// those) at a SignatureRecord. Signature records are owned by exactly one
// parent and freed with it.

// Signature record kinds.
const (
	sigClass   = 1
	sigArray   = 2
	sigTypeVar = 3
)

// SignatureRecord layout.
const (
	sgKind = 0
	sgDims = 1
	// Class: the erased class identity. Array: the element signature.
	sgTarget = 4
	sgVar    = 8
	// Declaring-type signature of a nested type of a generic owner.
	sgOwner = 12
	sgArgs  = 16
	sgSize  = sgArgs + listHeader
)

// TypeArgRecord layout.
const (
	taLink     = 0
	taWildcard = linkSize
	taType     = taWildcard + 4
	taSize     = taType + 4
)

// SigRefRecord layout: one entry of a list of signatures.
const (
	srLink  = 0
	srSig   = linkSize
	srFlags = srSig + 4
	srSize  = srFlags + 4

	sigRefCompilerDefined = 1
)

var typeArgs = listDef{
	parent: poolSignature, parentSize: sgSize, head: sgArgs,
	child: poolTypeArg, childSize: taSize, link: taLink,
}

// newSig stores 't' and returns a signature pointer. A nil 't' is the null
// pointer.
func (ix *Index) newSig(t *classfile.TypeSig) (pagedb.Address, error) {
	if t == nil {
		return 0, nil
	}
	if t.IsSimple() {
		return ix.acquireIdentity(t.Descriptor())
	}
	r, err := ix.newRecord(poolSignature, sgSize)
	if err != nil {
		return 0, err
	}
	switch t.Kind {
	case classfile.KindClass:
		r.PutUint8(sgKind, sigClass)
		target, err := ix.acquireIdentity(classfile.BinaryNameToDescriptor(t.Class))
		if err != nil {
			return 0, err
		}
		r.PutPtr(sgTarget, target)
		owner, err := ix.newSig(t.Owner)
		if err != nil {
			return 0, err
		}
		r.PutPtr(sgOwner, owner)
		for _, a := range t.Args {
			ar, err := ix.newRecord(poolTypeArg, taSize)
			if err != nil {
				return 0, err
			}
			ar.PutUint8(taWildcard, uint8(a.Wildcard))
			at, err := ix.newSig(a.Type)
			if err != nil {
				return 0, err
			}
			ar.PutPtr(taType, at)
			if err := typeArgs.append(ix.db, r, ar); err != nil {
				return 0, err
			}
		}
	case classfile.KindArray:
		if t.Dims <= 0 || t.Dims > 255 {
			return 0, invalidf("array with %d dimensions", t.Dims)
		}
		r.PutUint8(sgKind, sigArray)
		r.PutUint8(sgDims, uint8(t.Dims))
		elem, err := ix.newSig(t.Elem)
		if err != nil {
			return 0, err
		}
		r.PutPtr(sgTarget, elem)
	case classfile.KindTypeVar:
		r.PutUint8(sgKind, sigTypeVar)
		if err := ix.putString(r, sgVar, t.Var); err != nil {
			return 0, err
		}
	default:
		return 0, invalidf("signature kind %d", t.Kind)
	}
	return r.Addr(), nil
}

// readSig reads the signature at 'a'.
func (ix *Index) readSig(a pagedb.Address) (*classfile.TypeSig, error) {
	if a == 0 {
		return nil, nil
	}
	pool, err := ix.db.PoolOf(a)
	if err != nil {
		return nil, err
	}
	if pool == poolTypeIdentity {
		ti, err := ix.typeIdentity(a)
		if err != nil {
			return nil, err
		}
		desc, err := ti.Descriptor()
		if err != nil {
			return nil, err
		}
		t, err := classfile.ParseFieldDescriptor(desc)
		if err != nil {
			return nil, pagedb.Corruptf("type identity %d has descriptor %q: %s", a, desc, err)
		}
		return t, nil
	}

	r, err := ix.db.Deref(a, poolSignature, sgSize)
	if err != nil {
		return nil, err
	}
	switch r.Uint8(sgKind) {
	case sigClass:
		ti, err := ix.typeIdentity(r.Ptr(sgTarget))
		if err != nil {
			return nil, err
		}
		desc, err := ti.Descriptor()
		if err != nil {
			return nil, err
		}
		name, ok := classfile.DescriptorToBinaryName(desc)
		if !ok {
			return nil, pagedb.Corruptf("class signature %d targets %q", a, desc)
		}
		t := classfile.Class(name)
		if t.Owner, err = ix.readSig(r.Ptr(sgOwner)); err != nil {
			return nil, err
		}
		err = typeArgs.each(ix.db, r, func(ar pagedb.Record) (bool, error) {
			arg := classfile.TypeArg{Wildcard: classfile.Wildcard(ar.Uint8(taWildcard))}
			var err error
			arg.Type, err = ix.readSig(ar.Ptr(taType))
			t.Args = append(t.Args, arg)
			return true, err
		})
		return t, err
	case sigArray:
		elem, err := ix.readSig(r.Ptr(sgTarget))
		if err != nil {
			return nil, err
		}
		if elem == nil {
			return nil, pagedb.Corruptf("array signature %d without element", a)
		}
		return &classfile.TypeSig{Kind: classfile.KindArray, Elem: elem, Dims: int(r.Uint8(sgDims))}, nil
	case sigTypeVar:
		v, err := ix.getString(r, sgVar)
		if err != nil {
			return nil, err
		}
		return &classfile.TypeSig{Kind: classfile.KindTypeVar, Var: v}, nil
	}
	return nil, pagedb.Corruptf("signature %d has kind %d", a, r.Uint8(sgKind))
}

// freeSig frees the signature at 'a' and releases the identities it uses.
func (ix *Index) freeSig(a pagedb.Address) error {
	if a == 0 {
		return nil
	}
	pool, err := ix.db.PoolOf(a)
	if err != nil {
		return err
	}
	if pool == poolTypeIdentity {
		return ix.releaseIdentity(a)
	}
	r, err := ix.db.Deref(a, poolSignature, sgSize)
	if err != nil {
		return err
	}
	switch r.Uint8(sgKind) {
	case sigClass:
		if err := ix.releaseIdentity(r.Ptr(sgTarget)); err != nil {
			return err
		}
		if err := ix.freeSig(r.Ptr(sgOwner)); err != nil {
			return err
		}
		err = typeArgs.freeAll(ix.db, r, func(ar pagedb.Record) error {
			return ix.freeSig(ar.Ptr(taType))
		})
		if err != nil {
			return err
		}
	case sigArray:
		if err := ix.freeSig(r.Ptr(sgTarget)); err != nil {
			return err
		}
	case sigTypeVar:
		if err := ix.freeString(r, sgVar); err != nil {
			return err
		}
	default:
		return pagedb.Corruptf("signature %d has kind %d", a, r.Uint8(sgKind))
	}
	return ix.db.Free(a, poolSignature)
}

// appendSigRef adds a SigRefRecord for 't' to the list 'l' of 'parent'.
func (ix *Index) appendSigRef(l listDef, parent pagedb.Record, t *classfile.TypeSig, flags uint32) error {
	if t == nil {
		return invalidf("null signature in a list")
	}
	r, err := ix.newRecord(poolSigRef, srSize)
	if err != nil {
		return err
	}
	sig, err := ix.newSig(t)
	if err != nil {
		return err
	}
	r.PutPtr(srSig, sig)
	r.PutUint32(srFlags, flags)
	return l.append(ix.db, parent, r)
}

// readSigRefs reads the list 'l' of 'parent'.
func (ix *Index) readSigRefs(l listDef, parent pagedb.Record, fn func(t *classfile.TypeSig, flags uint32)) error {
	return l.each(ix.db, parent, func(r pagedb.Record) (bool, error) {
		t, err := ix.readSig(r.Ptr(srSig))
		if err != nil {
			return false, err
		}
		if t == nil {
			return false, pagedb.Corruptf("null signature in list entry %d", r.Addr())
		}
		fn(t, r.Uint32(srFlags))
		return true, nil
	})
}

func (ix *Index) freeSigRefs(l listDef, parent pagedb.Record) error {
	return l.freeAll(ix.db, parent, func(r pagedb.Record) error {
		return ix.freeSig(r.Ptr(srSig))
	})
}
