// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package indexer

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/westerndigitalcorporation/classindex/internal/classfile"
	"github.com/westerndigitalcorporation/classindex/internal/nd"
	"github.com/westerndigitalcorporation/classindex/pkg/pagedb"
)

func innerClass() *classfile.ClassFile {
	return &classfile.ClassFile{
		MajorVersion:   52,
		AccessFlags:    classfile.AccPublic,
		Name:           "p/Outer$Box",
		SuperName:      "java/lang/Object",
		Interfaces:     []string{"java/lang/Runnable"},
		Signature:      "<T:Ljava/lang/Object;>Ljava/lang/Object;Ljava/lang/Runnable;",
		SourceFile:     "Outer.java",
		Nesting:        classfile.MemberClass,
		EnclosingClass: "p/Outer",
		Fields: []classfile.Field{
			{AccessFlags: classfile.AccPrivate, Name: "value", Descriptor: "Ljava/lang/Object;", Signature: "TT;"},
			{AccessFlags: classfile.AccStatic | classfile.AccFinal, Name: "LIMIT", Descriptor: "I",
				Constant: &classfile.Constant{Kind: classfile.ConstInt, Int: 10}},
		},
		Methods: []classfile.Method{
			{AccessFlags: classfile.AccPublic, Name: "run", Descriptor: "()V"},
			{AccessFlags: classfile.AccPublic, Name: "<init>", Descriptor: "(Lp/Outer;Ljava/lang/Object;)V", Signature: "(TT;)V"},
			{AccessFlags: classfile.AccPublic, Name: "<init>", Descriptor: "(Lp/Outer;)V"},
			{AccessFlags: classfile.AccPublic, Name: "get", Descriptor: "()Ljava/lang/Object;", Signature: "()TT;",
				Exceptions: []string{"java/io/IOException"}},
		},
	}
}

func TestConvert(t *testing.T) {
	d, err := Convert(innerClass())
	if err != nil {
		t.Fatal(err)
	}
	if d.Descriptor != "Lp/Outer$Box;" || d.DeclaringType != "Lp/Outer;" || d.SourceFile != "Outer.java" {
		t.Errorf("names: %+v", d)
	}
	if d.Flags != nd.TypeMember|nd.TypeGeneric {
		t.Errorf("flags %b", d.Flags)
	}
	if d.TypeParams != "<T:Ljava/lang/Object;>" {
		t.Errorf("type params %q", d.TypeParams)
	}
	if d.Superclass.Descriptor() != "Ljava/lang/Object;" || len(d.Interfaces) != 1 ||
		d.Interfaces[0].Descriptor() != "Ljava/lang/Runnable;" {
		t.Errorf("supertypes %s %v", d.Superclass, d.Interfaces)
	}

	// Sorted by name and descriptor, positions keep the class file order.
	want := []struct {
		name, desc string
		pos        int
	}{
		{"<init>", "(Lp/Outer;)V", 4},
		{"<init>", "(Lp/Outer;Ljava/lang/Object;)V", 3},
		{"LIMIT", "I", 1},
		{"get", "()Ljava/lang/Object;", 5},
		{"run", "()V", 2},
		{"value", "Ljava/lang/Object;", 0},
	}
	if len(d.Members) != len(want) {
		t.Fatalf("%d members", len(d.Members))
	}
	for i, w := range want {
		m := d.Members[i]
		if m.Name != w.name || m.Descriptor != w.desc || m.Position != w.pos {
			t.Errorf("member %d: got %s%s@%d, want %s%s@%d", i, m.Name, m.Descriptor, m.Position, w.name, w.desc, w.pos)
		}
	}

	// The outer instance is compiler-defined with or without a signature.
	plain, generic := d.Members[0], d.Members[1]
	if len(plain.Params) != 1 || !plain.Params[0].CompilerDefined {
		t.Errorf("plain constructor params %+v", plain.Params)
	}
	if len(generic.Params) != 2 || !generic.Params[0].CompilerDefined || generic.Params[1].CompilerDefined ||
		generic.Params[1].Type.Signature() != "TT;" || generic.GenericSignature != "(TT;)V" {
		t.Errorf("generic constructor params %+v", generic.Params)
	}

	limit := d.Members[2]
	if limit.Value == nil || limit.Value.Tag != 'I' || limit.Value.Const.Int != 10 {
		t.Errorf("constant %+v", limit.Value)
	}
	get := d.Members[3]
	if get.Type.Signature() != "TT;" || len(get.Exceptions) != 1 || get.Exceptions[0].Descriptor() != "Ljava/io/IOException;" {
		t.Errorf("get %+v", get)
	}
	if run := d.Members[4]; run.Type != nil || run.Kind != nd.MemberMethod {
		t.Errorf("run %+v", run)
	}
	if value := d.Members[5]; value.Kind != nd.MemberField || value.GenericSignature != "TT;" {
		t.Errorf("value %+v", value)
	}
}

// Test that an unparseable generic signature falls back to the erasure.
func TestConvertBadSignature(t *testing.T) {
	cf := innerClass()
	cf.Signature = "<T"
	cf.Methods[1].Signature = "(TT;TT;TT;)V"
	d, err := Convert(cf)
	if err != nil {
		t.Fatal(err)
	}
	if d.Flags&nd.TypeGeneric != 0 || d.TypeParams != "" {
		t.Errorf("generic flags on a bad signature: %+v", d)
	}
	if d.Superclass.Descriptor() != "Ljava/lang/Object;" || len(d.Interfaces) != 1 {
		t.Errorf("supertypes %s %v", d.Superclass, d.Interfaces)
	}
	ctor := d.Members[1]
	if ctor.GenericSignature != "" || len(ctor.Params) != 2 || ctor.Params[1].Type.Descriptor() != "Ljava/lang/Object;" {
		t.Errorf("constructor %+v", ctor)
	}
}

func TestConvertMalformed(t *testing.T) {
	for _, mod := range []func(*classfile.ClassFile){
		func(cf *classfile.ClassFile) { cf.Name = "" },
		func(cf *classfile.ClassFile) { cf.Fields[0].Descriptor = "Q" },
		func(cf *classfile.ClassFile) { cf.Methods[0].Descriptor = "(V" },
	} {
		cf := innerClass()
		mod(cf)
		if _, err := Convert(cf); !errors.Is(err, classfile.ErrFormat) {
			t.Errorf("got %v", err)
		}
	}
}

// Test that a converted class survives a trip through the index.
func TestConvertStored(t *testing.T) {
	ti := newTestIndexer(t)
	b, err := classfile.Encode(innerClass())
	if err != nil {
		t.Fatal(err)
	}
	cf, err := classfile.Parse(b)
	if err != nil {
		t.Fatal(err)
	}
	d, err := Convert(cf)
	if err != nil {
		t.Fatal(err)
	}
	st := &ScanStats{}
	var addr pagedb.Address
	err = ti.db.Update(context.Background(), func() error {
		rs, err := ti.index.NewResource(ti.path("a.jar"), 1)
		if err != nil {
			return err
		}
		addr = rs.Addr()
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := ti.indexClass(context.Background(), addr, "test", b, st); err != nil {
		t.Fatal(err)
	}
	ti.view(t, func() error {
		rs, err := ti.index.Resource(addr)
		if err != nil {
			return err
		}
		types, err := rs.Types()
		if err != nil {
			return err
		}
		if len(types) != 1 {
			t.Fatalf("%d types", len(types))
		}
		got, err := types[0].Data()
		if err != nil {
			return err
		}
		if !reflect.DeepEqual(got, d) {
			t.Errorf("stored %+v, want %+v", got, d)
		}
		return nil
	})
}
