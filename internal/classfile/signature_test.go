// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package classfile

import (
	"errors"
	"testing"
)

func TestFieldSignatures(t *testing.T) {
	tests := []struct {
		sig, str, desc string
		simple         bool
	}{
		{"Ljava/lang/String;", "java.lang.String", "Ljava/lang/String;", true},
		{"[[I", "int[][]", "[[I", true},
		{"TT;", "T", "Ljava/lang/Object;", false},
		{"[[TT;", "T[][]", "[[Ljava/lang/Object;", false},
		{"Ljava/util/Map<TK;Ljava/util/List<+Ljava/lang/Number;>;>;",
			"java.util.Map<K, java.util.List<? extends java.lang.Number>>", "Ljava/util/Map;", false},
		{"Ljava/util/List<-Ljava/lang/Integer;>;", "java.util.List<? super java.lang.Integer>", "Ljava/util/List;", false},
		{"Lp/Outer<TT;>.Inner<*>;", "p.Outer<T>.Inner<?>", "Lp/Outer$Inner;", false},
		{"Lp/Outer<TT;>.Mid.Leaf;", "p.Outer<T>.Mid.Leaf", "Lp/Outer$Mid$Leaf;", false},
	}
	for _, test := range tests {
		ts, err := ParseFieldSignature(test.sig)
		if err != nil {
			t.Fatalf("%s: %v", test.sig, err)
		}
		if s := ts.String(); s != test.str {
			t.Errorf("%s: String() = %q, want %q", test.sig, s, test.str)
		}
		if d := ts.Descriptor(); d != test.desc {
			t.Errorf("%s: Descriptor() = %q, want %q", test.sig, d, test.desc)
		}
		if s := ts.Signature(); s != test.sig {
			t.Errorf("%s: Signature() = %q", test.sig, s)
		}
		if ts.IsSimple() != test.simple {
			t.Errorf("%s: IsSimple() = %v", test.sig, ts.IsSimple())
		}
	}
}

func TestPrimitiveFieldSignatureRejected(t *testing.T) {
	// Field signatures are reference types; primitives only have descriptors.
	if _, err := ParseFieldSignature("I"); !errors.Is(err, ErrFormat) {
		t.Fatalf("got %v", err)
	}
	ts, err := ParseFieldDescriptor("I")
	if err != nil || ts.Kind != KindPrimitive || ts.String() != "int" {
		t.Fatalf("got %+v, %v", ts, err)
	}
}

func TestMethodSignatures(t *testing.T) {
	m, err := ParseMethodDescriptor("(IJ[Ljava/lang/String;)V")
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Params) != 3 || m.Return != nil {
		t.Fatalf("got %+v", m)
	}
	if m.Params[2].String() != "java.lang.String[]" {
		t.Errorf("param %s", m.Params[2])
	}

	sig := "<T:Ljava/lang/Object;E:Ljava/lang/Exception;>(TT;[I)TT;^TE;^Ljava/io/IOException;"
	m, err = ParseMethodSignature(sig)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.TypeParams) != 2 || len(m.Params) != 2 || len(m.Throws) != 2 {
		t.Fatalf("got %+v", m)
	}
	if m.Return.Kind != KindTypeVar || m.Throws[1].Class != "java/io/IOException" {
		t.Fatalf("got %+v", m)
	}
	if m.Signature() != sig {
		t.Errorf("Signature() = %q", m.Signature())
	}
}

func TestClassSignatures(t *testing.T) {
	sig := "<K:Ljava/lang/Object;V::Ljava/lang/Comparable<TV;>;>Ljava/lang/Object;Ljava/util/Map<TK;TV;>;"
	c, err := ParseClassSignature(sig)
	if err != nil {
		t.Fatal(err)
	}
	if len(c.TypeParams) != 2 || c.TypeParams[1].ClassBound != nil || len(c.TypeParams[1].InterfaceBounds) != 1 {
		t.Fatalf("got %+v", c.TypeParams)
	}
	if c.Super.Class != "java/lang/Object" || len(c.Interfaces) != 1 {
		t.Fatalf("got %+v", c)
	}
	if c.Signature() != sig {
		t.Errorf("Signature() = %q", c.Signature())
	}
}

func TestBadSignatures(t *testing.T) {
	fields := []string{"", "Ljava/lang/String", "L;", "Ljava//String;", "Ljava/util/List<>;", "V", "[", "Q", "TT"}
	for _, s := range fields {
		if _, err := ParseFieldSignature(s); !errors.Is(err, ErrFormat) {
			t.Errorf("field %q: got %v", s, err)
		}
	}
	descriptors := []string{"TT;", "Ljava/util/List<TT;>;", "Lp/A.B;", "II"}
	for _, s := range descriptors {
		if _, err := ParseFieldDescriptor(s); !errors.Is(err, ErrFormat) {
			t.Errorf("descriptor %q: got %v", s, err)
		}
	}
	methods := []string{"(I", "()", "I)V", "(V)V", "()VV", "<>()V", "()V^I"}
	for _, s := range methods {
		if _, err := ParseMethodSignature(s); !errors.Is(err, ErrFormat) {
			t.Errorf("method %q: got %v", s, err)
		}
	}
	if _, err := ParseClassSignature("<T:>Ljava/lang/Object;"); !errors.Is(err, ErrFormat) {
		t.Errorf("class: got %v", err)
	}
}
