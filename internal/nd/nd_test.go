// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package nd

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/westerndigitalcorporation/classindex/internal/classfile"
	"github.com/westerndigitalcorporation/classindex/internal/fingerprint"
	"github.com/westerndigitalcorporation/classindex/pkg/pagedb"
)

// richType uses every kind of record the schema has.
func richType() *TypeData {
	typeVar := &classfile.TypeSig{Kind: classfile.KindTypeVar, Var: "T"}
	return &TypeData{
		Descriptor: "Lp/Outer$Inner;",
		Modifiers:  0x11,
		Flags:      TypeMember | TypeGeneric,
		Superclass: &classfile.TypeSig{
			Kind:  classfile.KindClass,
			Class: "java/util/AbstractList",
			Args:  []classfile.TypeArg{{Type: typeVar}},
		},
		Interfaces: []*classfile.TypeSig{
			classfile.Class("java/io/Serializable"),
			{
				Kind:  classfile.KindClass,
				Class: "java/util/Map",
				Args: []classfile.TypeArg{
					{Wildcard: classfile.WildExtends, Type: classfile.Class("java/lang/Number")},
					{Wildcard: classfile.WildAny},
				},
			},
		},
		TypeParams:    "<T:Ljava/lang/Object;>",
		SourceFile:    "Outer.java",
		DeclaringType: "Lp/Outer;",
		Members: []MemberData{
			{
				Name:       "<init>",
				Descriptor: "(Lp/Outer;[[I)V",
				Kind:       MemberMethod,
				Access:     0x1,
				Position:   1,
				Params: []Param{
					{Type: classfile.Class("p/Outer"), CompilerDefined: true},
					{Type: classfile.ArrayOf(classfile.Primitive('I'), 2)},
				},
				Exceptions:  []*classfile.TypeSig{classfile.Class("java/io/IOException")},
				Annotations: []classfile.Annotation{{Type: "Ljava/lang/Deprecated;", Visible: true}},
			},
			{
				Name:             "items",
				Descriptor:       "[Ljava/lang/Object;",
				Kind:             MemberField,
				Access:           0x2,
				Position:         2,
				Type:             classfile.ArrayOf(typeVar, 1),
				GenericSignature: "[TT;",
			},
			{
				Name:       "MAX",
				Descriptor: "I",
				Kind:       MemberField,
				Access:     0x19,
				Type:       classfile.Primitive('I'),
				Value: &classfile.ElementValue{
					Tag:   'I',
					Const: classfile.Constant{Kind: classfile.ConstInt, Int: 42},
				},
			},
		},
		Annotations: []classfile.Annotation{{
			Type: "Lp/Marker;",
			Pairs: []classfile.ElementPair{
				{Name: "policy", Value: classfile.ElementValue{
					Tag:       'e',
					TypeName:  "Ljava/lang/annotation/RetentionPolicy;",
					ConstName: "RUNTIME",
				}},
				{Name: "ratio", Value: classfile.ElementValue{
					Tag:   'D',
					Const: classfile.Constant{Kind: classfile.ConstDouble, Float: 2.5},
				}},
				{Name: "nested", Value: classfile.ElementValue{
					Tag:        '@',
					Annotation: &classfile.Annotation{Type: "Lp/Nested;", Visible: true},
				}},
				{Name: "values", Value: classfile.ElementValue{
					Tag: '[',
					Values: []classfile.ElementValue{
						{Tag: 's', Const: classfile.Constant{Kind: classfile.ConstString, String: "a"}},
						{Tag: 'c', TypeName: "Ljava/lang/String;"},
					},
				}},
			},
		}},
	}
}

// A type reads back exactly as it was written.
func TestTypeRoundTrip(t *testing.T) {
	ix := openTestIndex(t)
	defer ix.DB().Close()

	want := richType()
	addResource(t, ix, "/lib/a.jar", want)

	view(t, ix, func() error {
		types, err := ix.TypesOf(want.Descriptor)
		if err != nil {
			return err
		}
		if len(types) != 1 {
			t.Fatalf("expected 1 type, got %d", len(types))
		}
		got, err := types[0].Data()
		if err != nil {
			return err
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("type read back as\n%+v\nwant\n%+v", got, want)
		}
		if name, _ := types[0].SimpleName(); name != "Inner" {
			t.Errorf("simple name is %q", name)
		}
		if n := types[0].MemberCount(); n != 3 {
			t.Errorf("expected 3 members, got %d", n)
		}
		return nil
	})
}

// Identities are shared and deleted with their last reference.
func TestIdentityRefCount(t *testing.T) {
	ix := openTestIndex(t)
	defer ix.DB().Close()

	a := addResource(t, ix, "/lib/a.jar", simpleType("Lp/A;"))
	b := addResource(t, ix, "/lib/b.jar", simpleType("Lp/B;"), simpleType("Lp/A;"))

	refs := func(desc string) int {
		n := -1
		view(t, ix, func() error {
			ti, err := ix.FindTypeIdentity(desc)
			if err != nil || ti == nil {
				n = 0
				return err
			}
			n = ti.RefCount()
			return nil
		})
		return n
	}
	// One superclass reference per declared type.
	if n := refs("Ljava/lang/Object;"); n != 3 {
		t.Errorf("Object has %d references, want 3", n)
	}
	if n := refs("Lp/A;"); n != 2 {
		t.Errorf("p/A has %d references, want 2", n)
	}

	deleteResource(t, ix, a)
	if n := refs("Lp/A;"); n != 1 {
		t.Errorf("p/A has %d references after deleting a.jar, want 1", n)
	}
	deleteResource(t, ix, b)
	for _, desc := range []string{"Lp/A;", "Lp/B;", "Ljava/lang/Object;", "Ljava/lang/String;"} {
		if n := refs(desc); n != 0 {
			t.Errorf("%s still has %d references", desc, n)
		}
	}
}

// Deleting everything frees every record, string and index entry.
func TestDeleteFreesEverything(t *testing.T) {
	ix := openTestIndex(t)
	defer ix.DB().Close()

	a := addResource(t, ix, "/lib/a.jar", richType(), simpleType("Lp/Other;"))
	update(t, ix, func() error {
		rs, err := ix.Resource(a)
		if err != nil {
			return err
		}
		if err := rs.AddZipEntry("META-INF/MANIFEST.MF"); err != nil {
			return err
		}
		if _, err := rs.SetWorkspaceLocations([]string{"/project/lib/a.jar"}); err != nil {
			return err
		}
		return rs.SetManifest([]byte("Manifest-Version: 1.0\n"))
	})
	deleteResource(t, ix, a)

	view(t, ix, func() error {
		for _, h := range []*pagedb.HashIndex{ix.descriptors, ix.simpleNames, ix.locations} {
			n, err := h.Len()
			if err != nil {
				return err
			}
			if n != 0 {
				t.Errorf("index has %d entries left", n)
			}
		}
		for _, p := range ix.DB().Stats().Pools {
			if p.Pool == pagedb.PoolHashIndex || p.Pool == pagedb.PoolGrowableArray || p.Pool == pagedb.PoolMisc {
				continue
			}
			if p.BytesInUse != 0 {
				t.Errorf("pool %s has %d bytes in use", PoolName(p.Pool), p.BytesInUse)
			}
		}
		return nil
	})
}

// Invalidated and unfinished resources are hidden from queries.
func TestVisibility(t *testing.T) {
	ix := openTestIndex(t)
	defer ix.DB().Close()

	a := addResource(t, ix, "/lib/a.jar", simpleType("Lp/A;"))
	var pending pagedb.Address
	update(t, ix, func() error {
		rs, err := ix.NewResource("/lib/a.jar", 2)
		if err != nil {
			return err
		}
		_, err = rs.AddType(simpleType("Lp/A;"))
		pending = rs.Addr()
		return err
	})

	view(t, ix, func() error {
		all, err := ix.FindResources("/lib/a.jar")
		if err != nil {
			return err
		}
		if len(all) != 2 {
			t.Errorf("expected 2 resources, got %d", len(all))
		}
		rs, err := ix.ResourceFile("/lib/a.jar")
		if err != nil {
			return err
		}
		if rs == nil || rs.Addr() != a {
			t.Errorf("expected the done resource")
		}
		types, err := ix.FindTypesBySimpleName("A")
		if err != nil {
			return err
		}
		if len(types) != 1 {
			t.Errorf("expected 1 visible type, got %d", len(types))
		}
		return nil
	})

	update(t, ix, func() error {
		rs, err := ix.Resource(a)
		if err != nil {
			return err
		}
		rs.Invalidate()
		if _, err := rs.AddType(simpleType("Lp/C;")); !errors.Is(err, ErrInvalidData) {
			t.Errorf("adding to an invalidated resource: %v", err)
		}
		rs, err = ix.Resource(pending)
		if err != nil {
			return err
		}
		rs.MarkDone()
		return nil
	})

	view(t, ix, func() error {
		rs, err := ix.ResourceFile("/lib/a.jar")
		if err != nil {
			return err
		}
		if rs == nil || rs.Addr() != pending {
			t.Errorf("expected the newer resource to be visible")
		}
		types, err := ix.TypesOf("Lp/A;")
		if err != nil {
			return err
		}
		if len(types) != 1 {
			t.Errorf("expected 1 visible type, got %d", len(types))
		}
		if n, _ := ix.ResourceCount(); n != 2 {
			t.Errorf("expected 2 resources, got %d", n)
		}
		return nil
	})
}

func TestResourceFields(t *testing.T) {
	ix := openTestIndex(t)
	defer ix.DB().Close()

	fp := fingerprint.Fingerprint{Size: 10, ModTime: 12345, Hash: 99, HasHash: true}
	manifest := []byte("Manifest-Version: 1.0\nMain-Class: p.Main\n")
	a := addResource(t, ix, "/lib/a.jar")
	update(t, ix, func() error {
		rs, err := ix.Resource(a)
		if err != nil {
			return err
		}
		if !rs.Fingerprint().IsEmpty() {
			t.Errorf("new resource has fingerprint %s", rs.Fingerprint())
		}
		rs.SetFingerprint(fp)
		rs.SetTimeLastUsed(77)
		rs.SetJDKLevel(52 << 16)
		rs.SetJDKLevel(50 << 16)
		rs.SetFlag(FlagCorruptArchive, true)
		if err := rs.SetManifest(manifest); err != nil {
			return err
		}
		if err := rs.SetPackageFragmentRoot("/lib"); err != nil {
			return err
		}
		changed, err := rs.SetWorkspaceLocations([]string{"/p/b", "/p/a"})
		if err != nil {
			return err
		}
		if !changed {
			t.Errorf("expected workspace locations to change")
		}
		return nil
	})
	update(t, ix, func() error {
		rs, err := ix.Resource(a)
		if err != nil {
			return err
		}
		if got := rs.Fingerprint(); got != fp {
			t.Errorf("fingerprint %s, want %s", got, fp)
		}
		if rs.TimeLastUsed() != 77 {
			t.Errorf("time last used %d", rs.TimeLastUsed())
		}
		if rs.JDKLevel() != 52<<16 {
			t.Errorf("jdk level %x", rs.JDKLevel())
		}
		if rs.Flags() != FlagCorruptArchive|FlagDoneIndexing {
			t.Errorf("flags %d", rs.Flags())
		}
		if got, err := rs.Manifest(); err != nil || string(got) != string(manifest) {
			t.Errorf("manifest %q, %v", got, err)
		}
		if got, _ := rs.PackageFragmentRoot(); got != "/lib" {
			t.Errorf("package fragment root %q", got)
		}
		got, err := rs.WorkspaceLocations()
		if err != nil {
			return err
		}
		if !reflect.DeepEqual(got, []string{"/p/a", "/p/b"}) {
			t.Errorf("workspace locations %v", got)
		}
		changed, err := rs.SetWorkspaceLocations([]string{"/p/a", "/p/b"})
		if err != nil {
			return err
		}
		if changed {
			t.Errorf("unchanged workspace locations were rewritten")
		}
		return nil
	})
}

func TestBadTypeData(t *testing.T) {
	ix := openTestIndex(t)
	defer ix.DB().Close()

	a := addResource(t, ix, "/lib/a.jar")
	for _, desc := range []string{"", "I", "[Lp/A;", "p/A"} {
		err := ix.DB().Update(context.Background(), func() error {
			rs, err := ix.Resource(a)
			if err != nil {
				return err
			}
			_, err = rs.AddType(simpleType(desc))
			return err
		})
		if !errors.Is(err, ErrInvalidData) {
			t.Errorf("descriptor %q: expected invalid data, got %v", desc, err)
		}
	}
}

// Readers query while a writer adds and deletes resources in bursts.
func TestConcurrentReaders(t *testing.T) {
	ix := openTestIndex(t)
	defer ix.DB().Close()

	const n = 20
	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				err := ix.DB().View(func() error {
					types, err := ix.FindTypesBySimpleName("A")
					if err != nil {
						return err
					}
					for _, ty := range types {
						if _, err := ty.Data(); err != nil {
							return err
						}
					}
					return nil
				})
				if err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}

	var addrs []pagedb.Address
	for i := 0; i < n; i++ {
		addrs = append(addrs, addResource(t, ix, "/lib/a.jar", simpleType("Lp/A;"), richType()))
	}
	for _, a := range addrs {
		deleteResource(t, ix, a)
	}
	close(done)
	wg.Wait()
}
