// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package nd

import (
	"math"

	"github.com/westerndigitalcorporation/classindex/internal/classfile"
	"github.com/westerndigitalcorporation/classindex/pkg/pagedb"
)

// ConstantRecord layout. A constant is a field's constant value or an
// annotation element value, tagged with the class file element value tag.
const (
	cnLink  = 0
	cnTag   = linkSize
	cnValue = cnTag + 4
	cnStr   = cnValue + 8
	// Enum type identity for 'e', nested annotation for '@'.
	cnRef      = cnStr + 4
	cnElements = cnRef + 4
	cnSize     = cnElements + listHeader
)

var constElements = listDef{
	parent: poolConstant, parentSize: cnSize, head: cnElements,
	child: poolConstant, childSize: cnSize, link: cnLink,
}

// ElementTag returns the element value tag used to store a field constant.
func ElementTag(k classfile.ConstKind) byte {
	switch k {
	case classfile.ConstInt:
		return 'I'
	case classfile.ConstLong:
		return 'J'
	case classfile.ConstFloat:
		return 'F'
	case classfile.ConstDouble:
		return 'D'
	case classfile.ConstString:
		return 's'
	}
	return 0
}

func (ix *Index) newConstant(v *classfile.ElementValue) (pagedb.Record, error) {
	r, err := ix.newRecord(poolConstant, cnSize)
	if err != nil {
		return r, err
	}
	r.PutUint8(cnTag, v.Tag)
	switch v.Tag {
	case 'B', 'C', 'I', 'S', 'Z', 'J':
		r.PutInt64(cnValue, v.Const.Int)
	case 'F', 'D':
		r.PutUint64(cnValue, math.Float64bits(v.Const.Float))
	case 's':
		err = ix.putString(r, cnStr, v.Const.String)
	case 'c':
		err = ix.putString(r, cnStr, v.TypeName)
	case 'e':
		var ref pagedb.Address
		if ref, err = ix.acquireIdentity(v.TypeName); err != nil {
			return r, err
		}
		r.PutPtr(cnRef, ref)
		err = ix.putString(r, cnStr, v.ConstName)
	case '@':
		if v.Annotation == nil {
			return r, invalidf("nested annotation without annotation")
		}
		var ar pagedb.Record
		if ar, err = ix.newAnnotation(v.Annotation); err != nil {
			return r, err
		}
		r.PutPtr(cnRef, ar.Addr())
	case '[':
		for i := range v.Values {
			er, err := ix.newConstant(&v.Values[i])
			if err != nil {
				return r, err
			}
			if err := constElements.append(ix.db, r, er); err != nil {
				return r, err
			}
		}
	default:
		return r, invalidf("element value tag %q", v.Tag)
	}
	return r, err
}

func (ix *Index) readConstant(a pagedb.Address) (*classfile.ElementValue, error) {
	if a == 0 {
		return nil, nil
	}
	r, err := ix.db.Deref(a, poolConstant, cnSize)
	if err != nil {
		return nil, err
	}
	return ix.readConstantRecord(r)
}

func (ix *Index) readConstantRecord(r pagedb.Record) (*classfile.ElementValue, error) {
	v := &classfile.ElementValue{Tag: r.Uint8(cnTag)}
	var err error
	switch v.Tag {
	case 'B', 'C', 'I', 'S', 'Z':
		v.Const = classfile.Constant{Kind: classfile.ConstInt, Int: r.Int64(cnValue)}
	case 'J':
		v.Const = classfile.Constant{Kind: classfile.ConstLong, Int: r.Int64(cnValue)}
	case 'F':
		v.Const = classfile.Constant{Kind: classfile.ConstFloat, Float: math.Float64frombits(r.Uint64(cnValue))}
	case 'D':
		v.Const = classfile.Constant{Kind: classfile.ConstDouble, Float: math.Float64frombits(r.Uint64(cnValue))}
	case 's':
		v.Const.Kind = classfile.ConstString
		v.Const.String, err = ix.getString(r, cnStr)
	case 'c':
		v.TypeName, err = ix.getString(r, cnStr)
	case 'e':
		var ti *TypeIdentity
		if ti, err = ix.typeIdentity(r.Ptr(cnRef)); err != nil {
			return nil, err
		}
		if v.TypeName, err = ti.Descriptor(); err != nil {
			return nil, err
		}
		v.ConstName, err = ix.getString(r, cnStr)
	case '@':
		var ar pagedb.Record
		if ar, err = ix.db.Deref(r.Ptr(cnRef), poolAnnotation, anSize); err != nil {
			return nil, err
		}
		var a classfile.Annotation
		a, err = ix.readAnnotation(ar)
		v.Annotation = &a
	case '[':
		err = constElements.each(ix.db, r, func(er pagedb.Record) (bool, error) {
			ev, err := ix.readConstantRecord(er)
			if err != nil {
				return false, err
			}
			v.Values = append(v.Values, *ev)
			return true, nil
		})
	default:
		return nil, pagedb.Corruptf("constant %d has tag %d", r.Addr(), v.Tag)
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// freeConstantContents frees what 'r' owns, but not 'r' itself.
func (ix *Index) freeConstantContents(r pagedb.Record) error {
	switch r.Uint8(cnTag) {
	case 'e':
		if err := ix.releaseIdentity(r.Ptr(cnRef)); err != nil {
			return err
		}
	case '@':
		if err := ix.freeAnnotation(r.Ptr(cnRef)); err != nil {
			return err
		}
	case '[':
		if err := constElements.freeAll(ix.db, r, ix.freeConstantContents); err != nil {
			return err
		}
	}
	return ix.freeString(r, cnStr)
}

func (ix *Index) freeConstant(a pagedb.Address) error {
	if a == 0 {
		return nil
	}
	r, err := ix.db.Deref(a, poolConstant, cnSize)
	if err != nil {
		return err
	}
	if err := ix.freeConstantContents(r); err != nil {
		return err
	}
	return ix.db.Free(a, poolConstant)
}
