// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package classfile

import (
	"bytes"
	"errors"
	"reflect"
	"testing"
)

func sampleClass() *ClassFile {
	return &ClassFile{
		MajorVersion: 52,
		AccessFlags:  AccPublic | AccStatic | AccSuper,
		Name:         "p/Outer$Box",
		SuperName:    "java/lang/Object",
		Interfaces:   []string{"java/lang/Comparable", "java/io/Serializable"},
		Signature:    "<T:Ljava/lang/Object;>Ljava/lang/Object;Ljava/lang/Comparable<Lp/Outer$Box<TT;>;>;Ljava/io/Serializable;",
		SourceFile:   "Outer.java",
		Nesting:      MemberClass,

		EnclosingClass: "p/Outer",
		Annotations: []Annotation{
			{Type: "Ljava/lang/Deprecated;", Visible: true},
			{Type: "Lp/Marker;", Pairs: []ElementPair{
				{Name: "level", Value: ElementValue{Tag: 'I', Const: Constant{Kind: ConstInt, Int: -3}}},
				{Name: "color", Value: ElementValue{Tag: 'e', TypeName: "Lp/Color;", ConstName: "RED"}},
				{Name: "names", Value: ElementValue{Tag: '[', Values: []ElementValue{
					{Tag: 's', Const: Constant{Kind: ConstString, String: "a"}},
					{Tag: 's', Const: Constant{Kind: ConstString, String: "b\x00é"}},
				}}},
				{Name: "nested", Value: ElementValue{Tag: '@', Annotation: &Annotation{
					Type: "Lp/Inner;", Visible: true,
					Pairs: []ElementPair{{Name: "value", Value: ElementValue{Tag: 'c', TypeName: "Ljava/lang/String;"}}},
				}}},
			}},
		},
		Fields: []Field{
			{AccessFlags: AccPublic | AccStatic | AccFinal, Name: "MAX", Descriptor: "J",
				Constant: &Constant{Kind: ConstLong, Int: 1 << 40}},
			{AccessFlags: AccPrivate, Name: "value", Descriptor: "Ljava/lang/Object;", Signature: "TT;"},
			{AccessFlags: AccStatic | AccFinal, Name: "RATIO", Descriptor: "F",
				Constant: &Constant{Kind: ConstFloat, Float: 1.5}},
			{AccessFlags: AccStatic | AccFinal, Name: "NAME", Descriptor: "Ljava/lang/String;",
				Constant: &Constant{Kind: ConstString, String: "box"}},
			{AccessFlags: AccStatic | AccFinal, Name: "PI", Descriptor: "D",
				Constant:    &Constant{Kind: ConstDouble, Float: 3.25},
				Annotations: []Annotation{{Type: "Lp/Unit;"}}},
		},
		Methods: []Method{
			{AccessFlags: AccPublic, Name: "<init>", Descriptor: "(Ljava/lang/Object;)V", Signature: "(TT;)V"},
			{AccessFlags: AccPublic, Name: "get", Descriptor: "()Ljava/lang/Object;", Signature: "()TT;",
				Exceptions: []string{"java/io/IOException"}},
			{AccessFlags: AccPublic | AccAbstract, Name: "weight", Descriptor: "()I",
				Default: &ElementValue{Tag: 'I', Const: Constant{Kind: ConstInt, Int: 7}}},
		},
	}
}

func TestRoundTrip(t *testing.T) {
	want := sampleClass()
	b, err := Encode(want)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Parse(b)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, want)
	}

	// Encoding is deterministic.
	b2, err := Encode(got)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(b, b2) {
		t.Fatalf("re-encoding changed the bytes")
	}
}

func TestNesting(t *testing.T) {
	for _, cf := range []*ClassFile{
		{MajorVersion: 61, Name: "p/A$1", SuperName: "java/lang/Object", Nesting: AnonymousClass,
			EnclosingClass: "p/A", EnclosingMethodName: "run", EnclosingMethodDescriptor: "()V"},
		{MajorVersion: 61, Name: "p/A$1Local", SuperName: "java/lang/Object", Nesting: LocalClass,
			EnclosingClass: "p/A"},
		{MajorVersion: 61, AccessFlags: AccInterface | AccAbstract, Name: "p/A$B",
			SuperName: "java/lang/Object", Nesting: MemberClass, EnclosingClass: "p/A"},
	} {
		b, err := Encode(cf)
		if err != nil {
			t.Fatal(err)
		}
		got, err := Parse(b)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(got, cf) {
			t.Errorf("%s: got %+v, want %+v", cf.Name, got, cf)
		}
	}
}

// Every proper prefix of a valid class file is a format error.
func TestTruncated(t *testing.T) {
	b, err := Encode(sampleClass())
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < len(b); i++ {
		if _, err := Parse(b[:i]); !errors.Is(err, ErrFormat) {
			t.Fatalf("prefix of %d bytes: got %v, want ErrFormat", i, err)
		}
	}
}

func TestMalformed(t *testing.T) {
	good, err := Encode(sampleClass())
	if err != nil {
		t.Fatal(err)
	}
	mutate := func(f func(b []byte) []byte) []byte {
		return f(append([]byte(nil), good...))
	}
	cases := map[string][]byte{
		"magic":    mutate(func(b []byte) []byte { b[0] = 0; return b }),
		"version":  mutate(func(b []byte) []byte { b[6], b[7] = 0, 99; return b }),
		"old":      mutate(func(b []byte) []byte { b[6], b[7] = 0, 44; return b }),
		"trailing": mutate(func(b []byte) []byte { return append(b, 0) }),
		"cp tag":   mutate(func(b []byte) []byte { b[10] = 2; return b }),
		"cp count": mutate(func(b []byte) []byte { b[8], b[9] = 0, 0; return b }),
	}
	for name, b := range cases {
		if _, err := Parse(b); !errors.Is(err, ErrFormat) {
			t.Errorf("%s: got %v, want ErrFormat", name, err)
		}
	}
}

func TestDeepElementValues(t *testing.T) {
	v := ElementValue{Tag: 'Z', Const: Constant{Kind: ConstInt, Int: 1}}
	for i := 0; i < maxElementDepth+2; i++ {
		v = ElementValue{Tag: '[', Values: []ElementValue{v}}
	}
	cf := &ClassFile{MajorVersion: 52, Name: "p/Deep", SuperName: "java/lang/Object",
		Annotations: []Annotation{{Type: "Lp/A;", Visible: true, Pairs: []ElementPair{{Name: "v", Value: v}}}}}
	b, err := Encode(cf)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Parse(b); !errors.Is(err, ErrFormat) {
		t.Fatalf("got %v, want ErrFormat", err)
	}
}

func TestModifiedUTF8(t *testing.T) {
	for _, s := range []string{"", "plain", "nul\x00in", "café", "中文", "emoji \U0001F600"} {
		b := encodeModifiedUTF8(s)
		if bytes.IndexByte(b, 0) >= 0 {
			t.Errorf("%q: encoding contains NUL", s)
		}
		got, err := decodeModifiedUTF8(b)
		if err != nil {
			t.Fatal(err)
		}
		if got != s {
			t.Errorf("got %q, want %q", got, s)
		}
	}
	// Supplementary characters are two 3-byte surrogates.
	if n := len(encodeModifiedUTF8("\U0001F600")); n != 6 {
		t.Errorf("surrogate pair encoded in %d bytes", n)
	}
	for _, bad := range [][]byte{{0xc0}, {0xe0, 0x80}, {0xf0, 0x9f, 0x98, 0x80}, {0xc3, 0x41}} {
		if _, err := decodeModifiedUTF8(bad); !errors.Is(err, ErrFormat) {
			t.Errorf("%x: got %v, want ErrFormat", bad, err)
		}
	}
}

func TestNames(t *testing.T) {
	if d := BinaryNameToDescriptor("java/util/Map$Entry"); d != "Ljava/util/Map$Entry;" {
		t.Errorf("descriptor %q", d)
	}
	if n, ok := DescriptorToBinaryName("Ljava/lang/String;"); !ok || n != "java/lang/String" {
		t.Errorf("binary name %q %v", n, ok)
	}
	if _, ok := DescriptorToBinaryName("[I"); ok {
		t.Errorf("array descriptor has a binary name")
	}
	for in, want := range map[string]string{
		"java/util/Map$Entry": "Entry",
		"p/A$1":               "1",
		"Top":                 "Top",
		"a/b/C":               "C",
	} {
		if got := SimpleName(in); got != want {
			t.Errorf("SimpleName(%q) = %q, want %q", in, got, want)
		}
	}
	if PackageName("a/b/C") != "a/b" || PackageName("C") != "" {
		t.Errorf("PackageName")
	}
	if !IsClassFileName("p/Foo.class") || IsClassFileName("module-info.class") || IsClassFileName("p/Foo.java") {
		t.Errorf("IsClassFileName")
	}
	if ClassNameFromPath("p/Foo.class") != "p/Foo" {
		t.Errorf("ClassNameFromPath")
	}
}
