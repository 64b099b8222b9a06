// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package classfile

import (
	"fmt"
	"math"
)

type cpKey struct {
	tag  uint8
	str  string
	num  uint64
	a, b uint16
}

// cpBuilder assigns constant pool indices, reusing identical entries.
type cpBuilder struct {
	w     writer
	next  int
	index map[cpKey]uint16
}

func newCPBuilder() *cpBuilder {
	return &cpBuilder{next: 1, index: make(map[cpKey]uint16)}
}

func (c *cpBuilder) add(k cpKey) uint16 {
	if i, ok := c.index[k]; ok {
		return i
	}
	i := uint16(c.next)
	c.index[k] = i
	c.next++
	if k.tag == tagLong || k.tag == tagDouble {
		c.next++
	}

	c.w.u1(k.tag)
	switch k.tag {
	case tagUtf8:
		b := encodeModifiedUTF8(k.str)
		c.w.u2(uint16(len(b)))
		c.w.bytes(b)
	case tagInteger, tagFloat:
		c.w.u4(uint32(k.num))
	case tagLong, tagDouble:
		c.w.u8(k.num)
	case tagClass, tagString:
		c.w.u2(k.a)
	case tagNameAndType:
		c.w.u2(k.a)
		c.w.u2(k.b)
	}
	return i
}

func (c *cpBuilder) utf8(s string) uint16 {
	return c.add(cpKey{tag: tagUtf8, str: s})
}

func (c *cpBuilder) class(name string) uint16 {
	return c.add(cpKey{tag: tagClass, a: c.utf8(name)})
}

func (c *cpBuilder) constant(k Constant) (uint16, error) {
	switch k.Kind {
	case ConstInt:
		return c.add(cpKey{tag: tagInteger, num: uint64(uint32(int32(k.Int)))}), nil
	case ConstLong:
		return c.add(cpKey{tag: tagLong, num: uint64(k.Int)}), nil
	case ConstFloat:
		return c.add(cpKey{tag: tagFloat, num: uint64(math.Float32bits(float32(k.Float)))}), nil
	case ConstDouble:
		return c.add(cpKey{tag: tagDouble, num: math.Float64bits(k.Float)}), nil
	case ConstString:
		return c.add(cpKey{tag: tagString, a: c.utf8(k.String)}), nil
	}
	return 0, fmt.Errorf("unknown constant kind %d", k.Kind)
}

type encoder struct {
	cp *cpBuilder
}

// Encode writes a class file holding everything in 'cf' that Parse reads.
// Methods are written without code.
func Encode(cf *ClassFile) ([]byte, error) {
	e := &encoder{cp: newCPBuilder()}
	var body writer
	if err := e.class(&body, cf); err != nil {
		return nil, err
	}
	if e.cp.next > math.MaxUint16 {
		return nil, fmt.Errorf("constant pool overflow: %d entries", e.cp.next)
	}

	var out writer
	out.u4(Magic)
	out.u2(cf.MinorVersion)
	out.u2(cf.MajorVersion)
	out.u2(uint16(e.cp.next))
	out.bytes(e.cp.w.b)
	out.bytes(body.b)
	return out.b, nil
}

// attr collects the attributes of one structure.
type attr struct {
	name string
	w    writer
}

func (e *encoder) writeAttrs(w *writer, attrs []*attr) {
	w.u2(uint16(len(attrs)))
	for _, a := range attrs {
		w.u2(e.cp.utf8(a.name))
		w.u4(uint32(len(a.w.b)))
		w.bytes(a.w.b)
	}
}

func (e *encoder) u2Attr(name string, v uint16) *attr {
	a := &attr{name: name}
	a.w.u2(v)
	return a
}

func (e *encoder) class(w *writer, cf *ClassFile) error {
	w.u2(cf.AccessFlags)
	w.u2(e.cp.class(cf.Name))
	if cf.SuperName != "" {
		w.u2(e.cp.class(cf.SuperName))
	} else {
		w.u2(0)
	}
	w.u2(uint16(len(cf.Interfaces)))
	for _, i := range cf.Interfaces {
		w.u2(e.cp.class(i))
	}

	w.u2(uint16(len(cf.Fields)))
	for i := range cf.Fields {
		if err := e.field(w, &cf.Fields[i]); err != nil {
			return err
		}
	}
	w.u2(uint16(len(cf.Methods)))
	for i := range cf.Methods {
		if err := e.method(w, &cf.Methods[i]); err != nil {
			return err
		}
	}

	var attrs []*attr
	if cf.Signature != "" {
		attrs = append(attrs, e.u2Attr("Signature", e.cp.utf8(cf.Signature)))
	}
	if cf.SourceFile != "" {
		attrs = append(attrs, e.u2Attr("SourceFile", e.cp.utf8(cf.SourceFile)))
	}
	if cf.Nesting != TopLevel {
		a := &attr{name: "InnerClasses"}
		a.w.u2(1)
		a.w.u2(e.cp.class(cf.Name))
		if cf.Nesting == MemberClass {
			a.w.u2(e.cp.class(cf.EnclosingClass))
		} else {
			a.w.u2(0)
		}
		if cf.Nesting == AnonymousClass {
			a.w.u2(0)
		} else {
			a.w.u2(e.cp.utf8(SimpleName(cf.Name)))
		}
		a.w.u2(cf.AccessFlags &^ AccSuper)
		attrs = append(attrs, a)
	}
	if (cf.Nesting == LocalClass || cf.Nesting == AnonymousClass) && cf.EnclosingClass != "" {
		a := &attr{name: "EnclosingMethod"}
		a.w.u2(e.cp.class(cf.EnclosingClass))
		if cf.EnclosingMethodName != "" {
			a.w.u2(e.cp.add(cpKey{
				tag: tagNameAndType,
				a:   e.cp.utf8(cf.EnclosingMethodName),
				b:   e.cp.utf8(cf.EnclosingMethodDescriptor),
			}))
		} else {
			a.w.u2(0)
		}
		attrs = append(attrs, a)
	}
	ann, err := e.annotationAttrs(cf.Annotations)
	if err != nil {
		return err
	}
	e.writeAttrs(w, append(attrs, ann...))
	return nil
}

func (e *encoder) field(w *writer, f *Field) error {
	w.u2(f.AccessFlags)
	w.u2(e.cp.utf8(f.Name))
	w.u2(e.cp.utf8(f.Descriptor))
	var attrs []*attr
	if f.Constant != nil {
		i, err := e.cp.constant(*f.Constant)
		if err != nil {
			return err
		}
		attrs = append(attrs, e.u2Attr("ConstantValue", i))
	}
	if f.Signature != "" {
		attrs = append(attrs, e.u2Attr("Signature", e.cp.utf8(f.Signature)))
	}
	ann, err := e.annotationAttrs(f.Annotations)
	if err != nil {
		return err
	}
	e.writeAttrs(w, append(attrs, ann...))
	return nil
}

func (e *encoder) method(w *writer, m *Method) error {
	w.u2(m.AccessFlags)
	w.u2(e.cp.utf8(m.Name))
	w.u2(e.cp.utf8(m.Descriptor))
	var attrs []*attr
	if len(m.Exceptions) > 0 {
		a := &attr{name: "Exceptions"}
		a.w.u2(uint16(len(m.Exceptions)))
		for _, ex := range m.Exceptions {
			a.w.u2(e.cp.class(ex))
		}
		attrs = append(attrs, a)
	}
	if m.Signature != "" {
		attrs = append(attrs, e.u2Attr("Signature", e.cp.utf8(m.Signature)))
	}
	if m.Default != nil {
		a := &attr{name: "AnnotationDefault"}
		if err := e.elementValue(&a.w, m.Default); err != nil {
			return err
		}
		attrs = append(attrs, a)
	}
	ann, err := e.annotationAttrs(m.Annotations)
	if err != nil {
		return err
	}
	e.writeAttrs(w, append(attrs, ann...))
	return nil
}

func (e *encoder) annotationAttrs(anns []Annotation) ([]*attr, error) {
	visible := &attr{name: "RuntimeVisibleAnnotations"}
	invisible := &attr{name: "RuntimeInvisibleAnnotations"}
	var nv, ni uint16
	var vw, iw writer
	for i := range anns {
		w := &iw
		if anns[i].Visible {
			w, nv = &vw, nv+1
		} else {
			ni++
		}
		if err := e.annotation(w, &anns[i]); err != nil {
			return nil, err
		}
	}
	var out []*attr
	if nv > 0 {
		visible.w.u2(nv)
		visible.w.bytes(vw.b)
		out = append(out, visible)
	}
	if ni > 0 {
		invisible.w.u2(ni)
		invisible.w.bytes(iw.b)
		out = append(out, invisible)
	}
	return out, nil
}

func (e *encoder) annotation(w *writer, a *Annotation) error {
	w.u2(e.cp.utf8(a.Type))
	w.u2(uint16(len(a.Pairs)))
	for i := range a.Pairs {
		w.u2(e.cp.utf8(a.Pairs[i].Name))
		if err := e.elementValue(w, &a.Pairs[i].Value); err != nil {
			return err
		}
	}
	return nil
}

func (e *encoder) elementValue(w *writer, v *ElementValue) error {
	w.u1(v.Tag)
	switch v.Tag {
	case 'B', 'C', 'I', 'S', 'Z', 'D', 'F', 'J':
		i, err := e.cp.constant(v.Const)
		if err != nil {
			return err
		}
		w.u2(i)
	case 's':
		w.u2(e.cp.utf8(v.Const.String))
	case 'e':
		w.u2(e.cp.utf8(v.TypeName))
		w.u2(e.cp.utf8(v.ConstName))
	case 'c':
		w.u2(e.cp.utf8(v.TypeName))
	case '@':
		if v.Annotation == nil {
			return fmt.Errorf("nested annotation value without an annotation")
		}
		return e.annotation(w, v.Annotation)
	case '[':
		w.u2(uint16(len(v.Values)))
		for i := range v.Values {
			if err := e.elementValue(w, &v.Values[i]); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unknown element value tag %q", v.Tag)
	}
	return nil
}
