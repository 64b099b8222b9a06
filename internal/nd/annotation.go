// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package nd

import (
	"github.com/westerndigitalcorporation/classindex/internal/classfile"
	"github.com/westerndigitalcorporation/classindex/pkg/pagedb"
)

// AnnotationRecord layout.
const (
	anLink    = 0
	anType    = linkSize
	anVisible = anType + 4
	anPairs   = anVisible + 4
	anSize    = anPairs + listHeader
)

// AnnotationPairRecord layout.
const (
	apLink  = 0
	apName  = linkSize
	apValue = apName + 4
	apSize  = apValue + 4
)

var annotationPairs = listDef{
	parent: poolAnnotation, parentSize: anSize, head: anPairs,
	child: poolAnnotationPair, childSize: apSize, link: apLink,
}

func (ix *Index) newAnnotation(a *classfile.Annotation) (pagedb.Record, error) {
	r, err := ix.newRecord(poolAnnotation, anSize)
	if err != nil {
		return r, err
	}
	ti, err := ix.acquireIdentity(a.Type)
	if err != nil {
		return r, err
	}
	r.PutPtr(anType, ti)
	if a.Visible {
		r.PutUint8(anVisible, 1)
	}
	for i := range a.Pairs {
		pr, err := ix.newRecord(poolAnnotationPair, apSize)
		if err != nil {
			return r, err
		}
		if err := ix.putString(pr, apName, a.Pairs[i].Name); err != nil {
			return r, err
		}
		vr, err := ix.newConstant(&a.Pairs[i].Value)
		if err != nil {
			return r, err
		}
		pr.PutPtr(apValue, vr.Addr())
		if err := annotationPairs.append(ix.db, r, pr); err != nil {
			return r, err
		}
	}
	return r, nil
}

// appendAnnotations stores 'anns' in the list 'l' of 'parent'.
func (ix *Index) appendAnnotations(l listDef, parent pagedb.Record, anns []classfile.Annotation) error {
	for i := range anns {
		r, err := ix.newAnnotation(&anns[i])
		if err != nil {
			return err
		}
		if err := l.append(ix.db, parent, r); err != nil {
			return err
		}
	}
	return nil
}

func (ix *Index) readAnnotation(r pagedb.Record) (classfile.Annotation, error) {
	a := classfile.Annotation{Visible: r.Uint8(anVisible) != 0}
	ti, err := ix.typeIdentity(r.Ptr(anType))
	if err != nil {
		return a, err
	}
	if a.Type, err = ti.Descriptor(); err != nil {
		return a, err
	}
	err = annotationPairs.each(ix.db, r, func(pr pagedb.Record) (bool, error) {
		name, err := ix.getString(pr, apName)
		if err != nil {
			return false, err
		}
		v, err := ix.readConstant(pr.Ptr(apValue))
		if err != nil {
			return false, err
		}
		if v == nil {
			return false, pagedb.Corruptf("annotation pair %d without value", pr.Addr())
		}
		a.Pairs = append(a.Pairs, classfile.ElementPair{Name: name, Value: *v})
		return true, nil
	})
	return a, err
}

func (ix *Index) readAnnotations(l listDef, parent pagedb.Record) ([]classfile.Annotation, error) {
	var out []classfile.Annotation
	err := l.each(ix.db, parent, func(r pagedb.Record) (bool, error) {
		a, err := ix.readAnnotation(r)
		if err != nil {
			return false, err
		}
		out = append(out, a)
		return true, nil
	})
	return out, err
}

func (ix *Index) freeAnnotationContents(r pagedb.Record) error {
	if err := ix.releaseIdentity(r.Ptr(anType)); err != nil {
		return err
	}
	return annotationPairs.freeAll(ix.db, r, func(pr pagedb.Record) error {
		if err := ix.freeString(pr, apName); err != nil {
			return err
		}
		return ix.freeConstant(pr.Ptr(apValue))
	})
}

func (ix *Index) freeAnnotation(a pagedb.Address) error {
	r, err := ix.db.Deref(a, poolAnnotation, anSize)
	if err != nil {
		return err
	}
	if err := ix.freeAnnotationContents(r); err != nil {
		return err
	}
	return ix.db.Free(a, poolAnnotation)
}
