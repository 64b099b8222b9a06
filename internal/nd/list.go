// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package nd

import (
	"github.com/westerndigitalcorporation/classindex/pkg/pagedb"
)

// Intrusive doubly linked one-to-many lists. The parent embeds a list
// header, every child embeds a link naming its parent and neighbors.
const (
	listFirst  = 0
	listLast   = 4
	listCount  = 8
	listHeader = 12

	linkParent = 0
	linkPrev   = 4
	linkNext   = 8
	linkSize   = 12
)

// listDef describes one relation: where the header is in the parent and
// where the link is in the child.
type listDef struct {
	parent     pagedb.Pool
	parentSize int
	head       int

	child     pagedb.Pool
	childSize int
	link      int
}

func (l listDef) count(parent pagedb.Record) int {
	return int(parent.Uint32(l.head + listCount))
}

func (l listDef) derefChild(db *pagedb.Database, a pagedb.Address) (pagedb.Record, error) {
	return db.Deref(a, l.child, l.childSize)
}

// parentOf returns the parent named by the link in 'child'.
func (l listDef) parentOf(db *pagedb.Database, child pagedb.Record) (pagedb.Record, error) {
	a := child.Ptr(l.link + linkParent)
	if a == 0 {
		return pagedb.Record{}, nil
	}
	return db.Deref(a, l.parent, l.parentSize)
}

// append adds 'child' at the end of the list in 'parent'.
func (l listDef) append(db *pagedb.Database, parent, child pagedb.Record) error {
	last := parent.Ptr(l.head + listLast)
	child.PutPtr(l.link+linkParent, parent.Addr())
	child.PutPtr(l.link+linkPrev, last)
	child.PutPtr(l.link+linkNext, 0)
	if last == 0 {
		parent.PutPtr(l.head+listFirst, child.Addr())
	} else {
		lr, err := l.derefChild(db, last)
		if err != nil {
			return err
		}
		lr.PutPtr(l.link+linkNext, child.Addr())
	}
	parent.PutPtr(l.head+listLast, child.Addr())
	parent.PutUint32(l.head+listCount, parent.Uint32(l.head+listCount)+1)
	return nil
}

// remove unlinks 'child' from its parent's list.
func (l listDef) remove(db *pagedb.Database, child pagedb.Record) error {
	parent, err := l.parentOf(db, child)
	if err != nil || parent.IsNil() {
		return err
	}
	prev, next := child.Ptr(l.link+linkPrev), child.Ptr(l.link+linkNext)
	if prev == 0 {
		if parent.Ptr(l.head+listFirst) != child.Addr() {
			return corruptList(parent, child)
		}
		parent.PutPtr(l.head+listFirst, next)
	} else {
		pr, err := l.derefChild(db, prev)
		if err != nil {
			return err
		}
		pr.PutPtr(l.link+linkNext, next)
	}
	if next == 0 {
		if parent.Ptr(l.head+listLast) != child.Addr() {
			return corruptList(parent, child)
		}
		parent.PutPtr(l.head+listLast, prev)
	} else {
		nr, err := l.derefChild(db, next)
		if err != nil {
			return err
		}
		nr.PutPtr(l.link+linkPrev, prev)
	}
	n := parent.Uint32(l.head + listCount)
	if n == 0 {
		return corruptList(parent, child)
	}
	parent.PutUint32(l.head+listCount, n-1)
	child.PutPtr(l.link+linkParent, 0)
	child.PutPtr(l.link+linkPrev, 0)
	child.PutPtr(l.link+linkNext, 0)
	return nil
}

// each calls 'fn' with every child in order until it returns false or an
// error. 'fn' may not modify the list.
func (l listDef) each(db *pagedb.Database, parent pagedb.Record, fn func(child pagedb.Record) (bool, error)) error {
	limit := l.count(parent)
	n := 0
	for a := parent.Ptr(l.head + listFirst); a != 0; n++ {
		if n >= limit {
			return corruptList(parent, pagedb.Record{})
		}
		c, err := l.derefChild(db, a)
		if err != nil {
			return err
		}
		if c.Ptr(l.link+linkParent) != parent.Addr() {
			return corruptList(parent, c)
		}
		next := c.Ptr(l.link + linkNext)
		more, err := fn(c)
		if err != nil || !more {
			return err
		}
		a = next
	}
	if n != limit {
		return corruptList(parent, pagedb.Record{})
	}
	return nil
}

// children returns the addresses of all children.
func (l listDef) children(db *pagedb.Database, parent pagedb.Record) ([]pagedb.Address, error) {
	out := make([]pagedb.Address, 0, l.count(parent))
	err := l.each(db, parent, func(c pagedb.Record) (bool, error) {
		out = append(out, c.Addr())
		return true, nil
	})
	return out, err
}

// freeAll frees every child with 'free' and empties the list. The children
// aren't unlinked one by one since they all go away.
func (l listDef) freeAll(db *pagedb.Database, parent pagedb.Record, free func(child pagedb.Record) error) error {
	kids, err := l.children(db, parent)
	if err != nil {
		return err
	}
	for _, a := range kids {
		c, err := l.derefChild(db, a)
		if err != nil {
			return err
		}
		if err := free(c); err != nil {
			return err
		}
		if err := db.Free(a, l.child); err != nil {
			return err
		}
	}
	parent.PutPtr(l.head+listFirst, 0)
	parent.PutPtr(l.head+listLast, 0)
	parent.PutUint32(l.head+listCount, 0)
	return nil
}

func corruptList(parent, child pagedb.Record) error {
	return pagedb.Corruptf("list in record %d is inconsistent at child %d", parent.Addr(), child.Addr())
}
