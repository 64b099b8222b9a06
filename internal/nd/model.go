// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package nd

import (
	"fmt"

	"github.com/westerndigitalcorporation/classindex/internal/classfile"
)

// TypeFlags describe how a type is declared.
type TypeFlags uint32

const (
	TypeMember TypeFlags = 1 << iota
	TypeLocal
	TypeAnonymous
	// The type has a generic signature.
	TypeGeneric
)

// MemberKind tells fields from methods.
type MemberKind uint8

const (
	MemberField MemberKind = iota + 1
	MemberMethod
)

func (k MemberKind) String() string {
	switch k {
	case MemberField:
		return "field"
	case MemberMethod:
		return "method"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// TypeData is everything the index stores about one type. It's what
// Resource.AddType writes and Type.Data reads back.
type TypeData struct {
	// Field descriptor, e.g. "Ljava/util/Map$Entry;".
	Descriptor string
	Modifiers  uint32
	Flags      TypeFlags
	// Nil for java/lang/Object and module-info.
	Superclass *classfile.TypeSig
	Interfaces []*classfile.TypeSig
	// The type parameter section of the generic signature, e.g.
	// "<T:Ljava/lang/Object;>".
	TypeParams string
	SourceFile string
	// Descriptor of the enclosing type of a nested type.
	DeclaringType string
	Members       []MemberData
	Annotations   []classfile.Annotation
}

// Param is a method parameter. Compiler-defined parameters, like the outer
// instance of an inner class constructor, are absent from the generic
// signature.
type Param struct {
	Type            *classfile.TypeSig
	CompilerDefined bool
}

// MemberData is one field or method.
type MemberData struct {
	Name       string
	Descriptor string
	Kind       MemberKind
	Access     uint32
	// Index of the member in the class file.
	Position int
	// Field type or method return type, nil for void.
	Type       *classfile.TypeSig
	Params     []Param
	Exceptions []*classfile.TypeSig
	// Constant value of a field or default value of an annotation method.
	Value            *classfile.ElementValue
	GenericSignature string
	Annotations      []classfile.Annotation
}
