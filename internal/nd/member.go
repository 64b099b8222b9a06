// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package nd

import (
	"github.com/westerndigitalcorporation/classindex/internal/classfile"
	"github.com/westerndigitalcorporation/classindex/pkg/pagedb"
)

// MemberRecord layout.
const (
	mbLink        = 0
	mbName        = linkSize
	mbDesc        = mbName + 4
	mbKind        = mbDesc + 4
	mbAccess      = mbKind + 4
	mbFlags       = mbAccess + 4
	mbPosition    = mbFlags + 4
	mbType        = mbPosition + 4
	mbParams      = mbType + 4
	mbExceptions  = mbParams + listHeader
	mbValue       = mbExceptions + listHeader
	mbGenericSig  = mbValue + 4
	mbAnnotations = mbGenericSig + 4
	memberSize    = mbAnnotations + listHeader
)

// Member flags.
const (
	memberHasValue = 1 << iota
	memberHasGenericSig
)

var (
	memberParams = listDef{
		parent: poolMember, parentSize: memberSize, head: mbParams,
		child: poolSigRef, childSize: srSize, link: srLink,
	}
	memberExceptions = listDef{
		parent: poolMember, parentSize: memberSize, head: mbExceptions,
		child: poolSigRef, childSize: srSize, link: srLink,
	}
	memberAnnotations = listDef{
		parent: poolMember, parentSize: memberSize, head: mbAnnotations,
		child: poolAnnotation, childSize: anSize, link: anLink,
	}
)

// Member is a field or method of a type.
type Member struct {
	ix *Index
	r  pagedb.Record
}

// Addr returns the record's address.
func (m *Member) Addr() pagedb.Address {
	return m.r.Addr()
}

// Name returns the member's name.
func (m *Member) Name() (string, error) {
	return m.ix.getString(m.r, mbName)
}

// Descriptor returns the member's descriptor.
func (m *Member) Descriptor() (string, error) {
	return m.ix.getString(m.r, mbDesc)
}

// Kind tells fields from methods.
func (m *Member) Kind() MemberKind {
	return MemberKind(m.r.Uint8(mbKind))
}

// Access returns the access flags.
func (m *Member) Access() uint32 {
	return m.r.Uint32(mbAccess)
}

// Position returns the member's index in its class file.
func (m *Member) Position() int {
	return int(m.r.Uint32(mbPosition))
}

func (t *Type) addMember(d *MemberData) error {
	ix := t.ix
	if d.Kind != MemberField && d.Kind != MemberMethod {
		return invalidf("member %s has kind %d", d.Name, d.Kind)
	}
	r, err := ix.newRecord(poolMember, memberSize)
	if err != nil {
		return err
	}
	if err := typeMembers.append(ix.db, t.r, r); err != nil {
		return err
	}
	if err := ix.putString(r, mbName, d.Name); err != nil {
		return err
	}
	if err := ix.putString(r, mbDesc, d.Descriptor); err != nil {
		return err
	}
	r.PutUint8(mbKind, uint8(d.Kind))
	r.PutUint32(mbAccess, d.Access)
	r.PutUint32(mbPosition, uint32(d.Position))

	var flags uint32
	sig, err := ix.newSig(d.Type)
	if err != nil {
		return err
	}
	r.PutPtr(mbType, sig)
	for _, p := range d.Params {
		var pf uint32
		if p.CompilerDefined {
			pf = sigRefCompilerDefined
		}
		if err := ix.appendSigRef(memberParams, r, p.Type, pf); err != nil {
			return err
		}
	}
	for _, e := range d.Exceptions {
		if err := ix.appendSigRef(memberExceptions, r, e, 0); err != nil {
			return err
		}
	}
	if d.Value != nil {
		vr, err := ix.newConstant(d.Value)
		if err != nil {
			return err
		}
		r.PutPtr(mbValue, vr.Addr())
		flags |= memberHasValue
	}
	if d.GenericSignature != "" {
		if err := ix.putString(r, mbGenericSig, d.GenericSignature); err != nil {
			return err
		}
		flags |= memberHasGenericSig
	}
	r.PutUint32(mbFlags, flags)
	return ix.appendAnnotations(memberAnnotations, r, d.Annotations)
}

// Data reads everything stored about the member.
func (m *Member) Data() (*MemberData, error) {
	ix := m.ix
	d := &MemberData{
		Kind:     m.Kind(),
		Access:   m.Access(),
		Position: m.Position(),
	}
	var err error
	if d.Name, err = m.Name(); err != nil {
		return nil, err
	}
	if d.Descriptor, err = m.Descriptor(); err != nil {
		return nil, err
	}
	if d.Type, err = ix.readSig(m.r.Ptr(mbType)); err != nil {
		return nil, err
	}
	err = ix.readSigRefs(memberParams, m.r, func(s *classfile.TypeSig, flags uint32) {
		d.Params = append(d.Params, Param{Type: s, CompilerDefined: flags&sigRefCompilerDefined != 0})
	})
	if err != nil {
		return nil, err
	}
	err = ix.readSigRefs(memberExceptions, m.r, func(s *classfile.TypeSig, _ uint32) {
		d.Exceptions = append(d.Exceptions, s)
	})
	if err != nil {
		return nil, err
	}
	if d.Value, err = ix.readConstant(m.r.Ptr(mbValue)); err != nil {
		return nil, err
	}
	if d.GenericSignature, err = ix.getString(m.r, mbGenericSig); err != nil {
		return nil, err
	}
	if d.Annotations, err = ix.readAnnotations(memberAnnotations, m.r); err != nil {
		return nil, err
	}
	return d, nil
}

// freeMemberContents frees what the member owns, but not the member.
func (ix *Index) freeMemberContents(r pagedb.Record) error {
	if err := memberAnnotations.freeAll(ix.db, r, ix.freeAnnotationContents); err != nil {
		return err
	}
	if err := ix.freeSigRefs(memberParams, r); err != nil {
		return err
	}
	if err := ix.freeSigRefs(memberExceptions, r); err != nil {
		return err
	}
	if err := ix.freeSig(r.Ptr(mbType)); err != nil {
		return err
	}
	if err := ix.freeConstant(r.Ptr(mbValue)); err != nil {
		return err
	}
	for _, off := range []int{mbName, mbDesc, mbGenericSig} {
		if err := ix.freeString(r, off); err != nil {
			return err
		}
	}
	return nil
}
