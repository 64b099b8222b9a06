// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package nd

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/westerndigitalcorporation/classindex/internal/classfile"
	"github.com/westerndigitalcorporation/classindex/pkg/pagedb"
	"github.com/westerndigitalcorporation/classindex/pkg/testutil"
)

func TestMain(m *testing.M) {
	testutil.TestMain(m)
}

func openTestIndex(t *testing.T) *Index {
	path := filepath.Join(testutil.NewTempDir(t, "nd"), "index.db")
	db, err := pagedb.Open(path, SchemaVersion, pagedb.DefaultTestConfig)
	if err != nil {
		t.Fatal(err)
	}
	return New(db)
}

func update(t *testing.T, ix *Index, fn func() error) {
	if err := ix.DB().Update(context.Background(), fn); err != nil {
		t.Fatal(err)
	}
}

func view(t *testing.T, ix *Index, fn func() error) {
	if err := ix.DB().View(fn); err != nil {
		t.Fatal(err)
	}
}

// addResource creates a done resource declaring 'types' and returns its
// address.
func addResource(t *testing.T, ix *Index, location string, types ...*TypeData) pagedb.Address {
	var addr pagedb.Address
	update(t, ix, func() error {
		rs, err := ix.NewResource(location, 1)
		if err != nil {
			return err
		}
		for _, d := range types {
			if _, err := rs.AddType(d); err != nil {
				return err
			}
		}
		rs.MarkDone()
		addr = rs.Addr()
		return nil
	})
	return addr
}

// deleteResource deletes the resource at 'addr' the way the collector does:
// one child per write burst.
func deleteResource(t *testing.T, ix *Index, addr pagedb.Address) {
	update(t, ix, func() error {
		rs, err := ix.Resource(addr)
		if err != nil {
			return err
		}
		rs.Invalidate()
		return nil
	})
	for more := true; more; {
		update(t, ix, func() error {
			rs, err := ix.Resource(addr)
			if err != nil {
				return err
			}
			more, err = rs.DeleteOneChild()
			return err
		})
	}
	update(t, ix, func() error {
		rs, err := ix.Resource(addr)
		if err != nil {
			return err
		}
		return rs.Delete()
	})
}

// simpleType is a class with one field and no generics.
func simpleType(desc string) *TypeData {
	return &TypeData{
		Descriptor: desc,
		Modifiers:  0x21,
		Superclass: classfile.Class("java/lang/Object"),
		Members: []MemberData{{
			Name:       "name",
			Descriptor: "Ljava/lang/String;",
			Kind:       MemberField,
			Access:     0x2,
			Type:       classfile.Class("java/lang/String"),
		}},
	}
}
