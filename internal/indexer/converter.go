// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package indexer

import (
	"fmt"
	"sort"

	log "github.com/golang/glog"

	"github.com/westerndigitalcorporation/classindex/internal/classfile"
	"github.com/westerndigitalcorporation/classindex/internal/nd"
)

// Convert turns a parsed class into the records the index stores for it.
// Errors wrap classfile.ErrFormat.
func Convert(cf *classfile.ClassFile) (*nd.TypeData, error) {
	if cf.Name == "" {
		return nil, fmt.Errorf("%w: class without a name", classfile.ErrFormat)
	}
	d := &nd.TypeData{
		Descriptor: classfile.BinaryNameToDescriptor(cf.Name),
		Modifiers:  uint32(cf.AccessFlags),
		SourceFile: cf.SourceFile,
	}
	switch cf.Nesting {
	case classfile.MemberClass:
		d.Flags |= nd.TypeMember
	case classfile.LocalClass:
		d.Flags |= nd.TypeLocal
	case classfile.AnonymousClass:
		d.Flags |= nd.TypeAnonymous
	}
	if cf.EnclosingClass != "" {
		d.DeclaringType = classfile.BinaryNameToDescriptor(cf.EnclosingClass)
	}

	var cs *classfile.ClassSig
	if cf.Signature != "" {
		var err error
		if cs, err = classfile.ParseClassSignature(cf.Signature); err != nil {
			log.V(1).Infof("%s: ignoring generic signature: %s", cf.Name, err)
			cs = nil
		}
	}
	if cs != nil {
		d.Flags |= nd.TypeGeneric
		d.TypeParams = classfile.TypeParamsSignature(cs.TypeParams)
		d.Superclass = cs.Super
		d.Interfaces = cs.Interfaces
	} else {
		if cf.SuperName != "" {
			d.Superclass = classfile.Class(cf.SuperName)
		}
		for _, i := range cf.Interfaces {
			d.Interfaces = append(d.Interfaces, classfile.Class(i))
		}
	}
	if len(d.Interfaces) == 0 {
		d.Interfaces = nil
	}
	if len(cf.Annotations) > 0 {
		d.Annotations = cf.Annotations
	}

	pos := 0
	for i := range cf.Fields {
		m, err := convertField(cf, &cf.Fields[i])
		if err != nil {
			return nil, err
		}
		m.Position = pos
		pos++
		d.Members = append(d.Members, *m)
	}
	for i := range cf.Methods {
		m, err := convertMethod(cf, &cf.Methods[i])
		if err != nil {
			return nil, err
		}
		m.Position = pos
		pos++
		d.Members = append(d.Members, *m)
	}
	sort.SliceStable(d.Members, func(i, j int) bool {
		a, b := &d.Members[i], &d.Members[j]
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Descriptor < b.Descriptor
	})
	return d, nil
}

func convertField(cf *classfile.ClassFile, f *classfile.Field) (*nd.MemberData, error) {
	m := &nd.MemberData{
		Name:       f.Name,
		Descriptor: f.Descriptor,
		Kind:       nd.MemberField,
		Access:     uint32(f.AccessFlags),
	}
	t, err := classfile.ParseFieldDescriptor(f.Descriptor)
	if err != nil {
		return nil, fmt.Errorf("field %s.%s: %w", cf.Name, f.Name, err)
	}
	if f.Signature != "" {
		if st, err := classfile.ParseFieldSignature(f.Signature); err == nil {
			t = st
			m.GenericSignature = f.Signature
		} else {
			log.V(1).Infof("%s.%s: ignoring generic signature: %s", cf.Name, f.Name, err)
		}
	}
	m.Type = t
	if c := f.Constant; c != nil {
		m.Value = &classfile.ElementValue{Tag: nd.ElementTag(c.Kind), Const: *c}
	}
	if len(f.Annotations) > 0 {
		m.Annotations = f.Annotations
	}
	return m, nil
}

func convertMethod(cf *classfile.ClassFile, mi *classfile.Method) (*nd.MemberData, error) {
	m := &nd.MemberData{
		Name:       mi.Name,
		Descriptor: mi.Descriptor,
		Kind:       nd.MemberMethod,
		Access:     uint32(mi.AccessFlags),
		Value:      mi.Default,
	}
	desc, err := classfile.ParseMethodDescriptor(mi.Descriptor)
	if err != nil {
		return nil, fmt.Errorf("method %s.%s: %w", cf.Name, mi.Name, err)
	}
	var sig *classfile.MethodSig
	if mi.Signature != "" {
		if sig, err = classfile.ParseMethodSignature(mi.Signature); err != nil {
			log.V(1).Infof("%s.%s: ignoring generic signature: %s", cf.Name, mi.Name, err)
			sig = nil
		} else if len(sig.Params) > len(desc.Params) {
			log.V(1).Infof("%s.%s: generic signature has more parameters than the descriptor", cf.Name, mi.Name)
			sig = nil
		}
	}

	// Parameters the compiler adds, like the outer instance of an inner
	// class constructor, lead the descriptor and are absent from the
	// signature.
	implicit := 0
	switch {
	case sig != nil:
		implicit = len(desc.Params) - len(sig.Params)
		m.GenericSignature = mi.Signature
	case mi.Name == "<init>" && cf.Nesting == classfile.MemberClass &&
		cf.AccessFlags&classfile.AccStatic == 0 && len(desc.Params) > 0 &&
		desc.Params[0].Descriptor() == classfile.BinaryNameToDescriptor(cf.EnclosingClass):
		implicit = 1
	}
	for i, p := range desc.Params {
		if i < implicit {
			m.Params = append(m.Params, nd.Param{Type: p, CompilerDefined: true})
		} else if sig != nil {
			m.Params = append(m.Params, nd.Param{Type: sig.Params[i-implicit]})
		} else {
			m.Params = append(m.Params, nd.Param{Type: p})
		}
	}

	m.Type = desc.Return
	if sig != nil {
		m.Type = sig.Return
	}
	if sig != nil && len(sig.Throws) > 0 {
		m.Exceptions = sig.Throws
	} else {
		for _, e := range mi.Exceptions {
			m.Exceptions = append(m.Exceptions, classfile.Class(e))
		}
	}
	if len(mi.Annotations) > 0 {
		m.Annotations = mi.Annotations
	}
	return m, nil
}
