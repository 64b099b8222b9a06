// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

// Package classfile parses the parts of JVM class files that are indexed:
// the class header, fields, methods, generic signatures, constant values,
// exceptions, annotations and nesting information. Method bodies are
// skipped.
package classfile

import (
	"errors"
	"fmt"
	"math"
)

// ErrFormat is wrapped by every error caused by malformed input.
var ErrFormat = errors.New("malformed class file")

func formatf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrFormat, fmt.Sprintf(format, args...))
}

const (
	// Magic starts every class file.
	Magic = 0xcafebabe

	// MinMajorVersion and MaxMajorVersion bound the accepted class file
	// versions, JDK 1.1 through 25.
	MinMajorVersion = 45
	MaxMajorVersion = 69
)

// Access flags.
const (
	AccPublic       = 0x0001
	AccPrivate      = 0x0002
	AccProtected    = 0x0004
	AccStatic       = 0x0008
	AccFinal        = 0x0010
	AccSuper        = 0x0020
	AccSynchronized = 0x0020
	AccVolatile     = 0x0040
	AccBridge       = 0x0040
	AccTransient    = 0x0080
	AccVarargs      = 0x0080
	AccNative       = 0x0100
	AccInterface    = 0x0200
	AccAbstract     = 0x0400
	AccStrict       = 0x0800
	AccSynthetic    = 0x1000
	AccAnnotation   = 0x2000
	AccEnum         = 0x4000
	AccModule       = 0x8000
)

// Nesting says where a class is declared.
type Nesting uint8

const (
	TopLevel Nesting = iota
	MemberClass
	LocalClass
	AnonymousClass
)

func (n Nesting) String() string {
	switch n {
	case TopLevel:
		return "top-level"
	case MemberClass:
		return "member"
	case LocalClass:
		return "local"
	case AnonymousClass:
		return "anonymous"
	}
	return fmt.Sprintf("nesting(%d)", uint8(n))
}

// ClassFile is the indexed subset of a class file. Class names are binary
// names with '/' separators, e.g. "java/util/Map$Entry".
type ClassFile struct {
	MinorVersion uint16
	MajorVersion uint16
	AccessFlags  uint16
	Name         string
	SuperName    string // empty for java/lang/Object and module-info
	Interfaces   []string

	// Generic signature, empty if the class has none.
	Signature  string
	SourceFile string

	Nesting Nesting

	// The enclosing class of a nested class, and for local and anonymous
	// classes declared in a method, that method's name and descriptor.
	EnclosingClass            string
	EnclosingMethodName       string
	EnclosingMethodDescriptor string

	Annotations []Annotation
	Fields      []Field
	Methods     []Method
}

// Field is a field_info.
type Field struct {
	AccessFlags uint16
	Name        string
	Descriptor  string
	Signature   string
	Constant    *Constant
	Annotations []Annotation
}

// Method is a method_info.
type Method struct {
	AccessFlags uint16
	Name        string
	Descriptor  string
	Signature   string
	Exceptions  []string
	// Default value of an annotation interface element.
	Default     *ElementValue
	Annotations []Annotation
}

// ConstKind is the type of a Constant.
type ConstKind uint8

const (
	ConstInt ConstKind = iota + 1
	ConstLong
	ConstFloat
	ConstDouble
	ConstString
)

// Constant is a loadable constant. Int holds ConstInt and ConstLong, Float
// holds ConstFloat and ConstDouble.
type Constant struct {
	Kind   ConstKind
	Int    int64
	Float  float64
	String string
}

// Annotation is one entry of a Runtime(In)VisibleAnnotations attribute.
type Annotation struct {
	// Field descriptor of the annotation interface.
	Type    string
	Visible bool
	Pairs   []ElementPair
}

// ElementPair is a named annotation element.
type ElementPair struct {
	Name  string
	Value ElementValue
}

// ElementValue is an annotation element value. Tag is the class file tag:
// one of "BCDFIJSZ" or 's' for constants, 'e' for enum constants, 'c' for
// class literals, '@' for nested annotations and '[' for arrays.
type ElementValue struct {
	Tag byte

	Const Constant

	// Field descriptor of the enum type for 'e', return descriptor of the
	// class literal for 'c'.
	TypeName string
	// Enum constant name for 'e'.
	ConstName string

	Annotation *Annotation
	Values     []ElementValue
}

// Constant pool tags.
const (
	tagUtf8               = 1
	tagInteger            = 3
	tagFloat              = 4
	tagLong               = 5
	tagDouble             = 6
	tagClass              = 7
	tagString             = 8
	tagFieldref           = 9
	tagMethodref          = 10
	tagInterfaceMethodref = 11
	tagNameAndType        = 12
	tagMethodHandle       = 15
	tagMethodType         = 16
	tagDynamic            = 17
	tagInvokeDynamic      = 18
	tagModule             = 19
	tagPackage            = 20
)

type cpEntry struct {
	tag  uint8
	a, b uint16
	num  uint64
	str  string
}

// Nested annotations and arrays deeper than this are rejected.
const maxElementDepth = 32

type parser struct {
	r  *reader
	cp []cpEntry
}

// Parse parses a class file. Malformed input returns an error wrapping
// ErrFormat.
func Parse(b []byte) (*ClassFile, error) {
	p := &parser{r: &reader{b: b}}
	cf, err := p.parse()
	if err != nil {
		return nil, err
	}
	if p.r.err != nil {
		return nil, p.r.err
	}
	return cf, nil
}

func (p *parser) parse() (*ClassFile, error) {
	r := p.r
	if m := r.u4(); m != Magic {
		if r.err != nil {
			return nil, r.err
		}
		return nil, formatf("bad magic %#x", m)
	}
	cf := &ClassFile{}
	cf.MinorVersion = r.u2()
	cf.MajorVersion = r.u2()
	if r.err == nil && (cf.MajorVersion < MinMajorVersion || cf.MajorVersion > MaxMajorVersion) {
		return nil, formatf("unsupported version %d.%d", cf.MajorVersion, cf.MinorVersion)
	}
	if err := p.constantPool(); err != nil {
		return nil, err
	}

	var err error
	cf.AccessFlags = r.u2()
	if cf.Name, err = p.className(r.u2()); err != nil {
		return nil, err
	}
	if super := r.u2(); super != 0 {
		if cf.SuperName, err = p.className(super); err != nil {
			return nil, err
		}
	}
	n := int(r.u2())
	for i := 0; i < n && r.err == nil; i++ {
		name, err := p.className(r.u2())
		if err != nil {
			return nil, err
		}
		cf.Interfaces = append(cf.Interfaces, name)
	}

	n = int(r.u2())
	for i := 0; i < n && r.err == nil; i++ {
		f, err := p.field()
		if err != nil {
			return nil, err
		}
		cf.Fields = append(cf.Fields, f)
	}
	n = int(r.u2())
	for i := 0; i < n && r.err == nil; i++ {
		m, err := p.method()
		if err != nil {
			return nil, err
		}
		cf.Methods = append(cf.Methods, m)
	}
	if err := p.classAttributes(cf); err != nil {
		return nil, err
	}
	if r.err != nil {
		return nil, r.err
	}
	if r.off != len(r.b) {
		return nil, formatf("%d trailing bytes", len(r.b)-r.off)
	}
	return cf, nil
}

func (p *parser) constantPool() error {
	r := p.r
	count := int(r.u2())
	if count == 0 && r.err == nil {
		return formatf("empty constant pool")
	}
	p.cp = make([]cpEntry, count)
	for i := 1; i < count; i++ {
		e := cpEntry{tag: r.u1()}
		switch e.tag {
		case tagUtf8:
			n := int(r.u2())
			s, err := decodeModifiedUTF8(r.bytes(n))
			if err != nil {
				return fmt.Errorf("constant %d: %w", i, err)
			}
			e.str = s
		case tagInteger, tagFloat:
			e.num = uint64(r.u4())
		case tagLong, tagDouble:
			e.num = r.u8()
		case tagClass, tagString, tagMethodType, tagModule, tagPackage:
			e.a = r.u2()
		case tagFieldref, tagMethodref, tagInterfaceMethodref, tagNameAndType, tagDynamic, tagInvokeDynamic:
			e.a = r.u2()
			e.b = r.u2()
		case tagMethodHandle:
			e.a = uint16(r.u1())
			e.b = r.u2()
		default:
			if r.err != nil {
				return r.err
			}
			return formatf("unknown constant pool tag %d at index %d", e.tag, i)
		}
		if r.err != nil {
			return r.err
		}
		p.cp[i] = e
		if e.tag == tagLong || e.tag == tagDouble {
			// These take two slots.
			i++
		}
	}
	return nil
}

func (p *parser) entry(i uint16, tag uint8) (cpEntry, error) {
	if i == 0 || int(i) >= len(p.cp) {
		return cpEntry{}, formatf("constant pool index %d out of range", i)
	}
	e := p.cp[i]
	if e.tag != tag {
		return cpEntry{}, formatf("constant %d has tag %d, want %d", i, e.tag, tag)
	}
	return e, nil
}

func (p *parser) utf8(i uint16) (string, error) {
	e, err := p.entry(i, tagUtf8)
	return e.str, err
}

func (p *parser) className(i uint16) (string, error) {
	e, err := p.entry(i, tagClass)
	if err != nil {
		return "", err
	}
	return p.utf8(e.a)
}

// constant reads a loadable constant for a ConstantValue attribute.
func (p *parser) constant(i uint16) (*Constant, error) {
	if i == 0 || int(i) >= len(p.cp) {
		return nil, formatf("constant pool index %d out of range", i)
	}
	e := p.cp[i]
	switch e.tag {
	case tagInteger:
		return &Constant{Kind: ConstInt, Int: int64(int32(uint32(e.num)))}, nil
	case tagLong:
		return &Constant{Kind: ConstLong, Int: int64(e.num)}, nil
	case tagFloat:
		return &Constant{Kind: ConstFloat, Float: float64(math.Float32frombits(uint32(e.num)))}, nil
	case tagDouble:
		return &Constant{Kind: ConstDouble, Float: math.Float64frombits(e.num)}, nil
	case tagString:
		s, err := p.utf8(e.a)
		if err != nil {
			return nil, err
		}
		return &Constant{Kind: ConstString, String: s}, nil
	}
	return nil, formatf("constant %d with tag %d isn't a loadable value", i, e.tag)
}

// attributes calls 'fn' with the name and content of every attribute.
func (p *parser) attributes(fn func(name string, r *reader) error) error {
	n := int(p.r.u2())
	for i := 0; i < n && p.r.err == nil; i++ {
		name, err := p.utf8(p.r.u2())
		if err != nil {
			return err
		}
		sub := p.r.sub(int(p.r.u4()))
		if p.r.err != nil {
			return p.r.err
		}
		if err := fn(name, sub); err != nil {
			return fmt.Errorf("attribute %s: %w", name, err)
		}
		if sub.err != nil {
			return fmt.Errorf("attribute %s: %w", name, sub.err)
		}
	}
	return p.r.err
}

func (p *parser) field() (Field, error) {
	var f Field
	var err error
	f.AccessFlags = p.r.u2()
	if f.Name, err = p.utf8(p.r.u2()); err != nil {
		return f, err
	}
	if f.Descriptor, err = p.utf8(p.r.u2()); err != nil {
		return f, err
	}
	err = p.attributes(func(name string, r *reader) (err error) {
		switch name {
		case "ConstantValue":
			f.Constant, err = p.constant(r.u2())
		case "Signature":
			f.Signature, err = p.utf8(r.u2())
		case "RuntimeVisibleAnnotations", "RuntimeInvisibleAnnotations":
			f.Annotations, err = p.annotations(r, name == "RuntimeVisibleAnnotations", f.Annotations)
		}
		return err
	})
	if err != nil {
		return f, fmt.Errorf("field %s: %w", f.Name, err)
	}
	return f, nil
}

func (p *parser) method() (Method, error) {
	var m Method
	var err error
	m.AccessFlags = p.r.u2()
	if m.Name, err = p.utf8(p.r.u2()); err != nil {
		return m, err
	}
	if m.Descriptor, err = p.utf8(p.r.u2()); err != nil {
		return m, err
	}
	err = p.attributes(func(name string, r *reader) (err error) {
		switch name {
		case "Exceptions":
			n := int(r.u2())
			for i := 0; i < n && r.err == nil; i++ {
				ex, err := p.className(r.u2())
				if err != nil {
					return err
				}
				m.Exceptions = append(m.Exceptions, ex)
			}
		case "Signature":
			m.Signature, err = p.utf8(r.u2())
		case "AnnotationDefault":
			var v ElementValue
			v, err = p.elementValue(r, 0)
			m.Default = &v
		case "RuntimeVisibleAnnotations", "RuntimeInvisibleAnnotations":
			m.Annotations, err = p.annotations(r, name == "RuntimeVisibleAnnotations", m.Annotations)
		}
		return err
	})
	if err != nil {
		return m, fmt.Errorf("method %s%s: %w", m.Name, m.Descriptor, err)
	}
	return m, nil
}

func (p *parser) classAttributes(cf *ClassFile) error {
	return p.attributes(func(name string, r *reader) (err error) {
		switch name {
		case "Signature":
			cf.Signature, err = p.utf8(r.u2())
		case "SourceFile":
			cf.SourceFile, err = p.utf8(r.u2())
		case "InnerClasses":
			err = p.innerClasses(cf, r)
		case "EnclosingMethod":
			if cf.EnclosingClass, err = p.className(r.u2()); err != nil {
				return err
			}
			if nt := r.u2(); nt != 0 {
				e, err := p.entry(nt, tagNameAndType)
				if err != nil {
					return err
				}
				if cf.EnclosingMethodName, err = p.utf8(e.a); err != nil {
					return err
				}
				cf.EnclosingMethodDescriptor, err = p.utf8(e.b)
			}
		case "RuntimeVisibleAnnotations", "RuntimeInvisibleAnnotations":
			cf.Annotations, err = p.annotations(r, name == "RuntimeVisibleAnnotations", cf.Annotations)
		}
		return err
	})
}

// innerClasses finds the entry describing the class itself.
func (p *parser) innerClasses(cf *ClassFile, r *reader) error {
	n := int(r.u2())
	for i := 0; i < n && r.err == nil; i++ {
		inner, outer, innerName, flags := r.u2(), r.u2(), r.u2(), r.u2()
		if r.err != nil {
			break
		}
		name, err := p.className(inner)
		if err != nil {
			return err
		}
		if name != cf.Name {
			continue
		}
		switch {
		case innerName == 0:
			cf.Nesting = AnonymousClass
		case outer == 0:
			cf.Nesting = LocalClass
		default:
			cf.Nesting = MemberClass
			if cf.EnclosingClass, err = p.className(outer); err != nil {
				return err
			}
		}
		// The inner class flags carry the declared modifiers, e.g. static
		// and private, which the class flags can't express.
		cf.AccessFlags = flags&^AccSuper | cf.AccessFlags&AccSuper
	}
	return nil
}

func (p *parser) annotations(r *reader, visible bool, out []Annotation) ([]Annotation, error) {
	n := int(r.u2())
	for i := 0; i < n && r.err == nil; i++ {
		a, err := p.annotation(r, visible, 0)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (p *parser) annotation(r *reader, visible bool, depth int) (Annotation, error) {
	a := Annotation{Visible: visible}
	var err error
	if a.Type, err = p.utf8(r.u2()); err != nil {
		return a, err
	}
	n := int(r.u2())
	for i := 0; i < n && r.err == nil; i++ {
		var pair ElementPair
		if pair.Name, err = p.utf8(r.u2()); err != nil {
			return a, err
		}
		if pair.Value, err = p.elementValue(r, depth+1); err != nil {
			return a, err
		}
		a.Pairs = append(a.Pairs, pair)
	}
	return a, r.err
}

func (p *parser) elementValue(r *reader, depth int) (ElementValue, error) {
	if depth > maxElementDepth {
		return ElementValue{}, formatf("annotation values nested too deeply")
	}
	v := ElementValue{Tag: r.u1()}
	if r.err != nil {
		return v, r.err
	}
	var err error
	switch v.Tag {
	case 'B', 'C', 'I', 'S', 'Z', 'D', 'F', 'J', 's':
		var c *Constant
		if v.Tag == 's' {
			var s string
			s, err = p.utf8(r.u2())
			c = &Constant{Kind: ConstString, String: s}
		} else {
			c, err = p.constant(r.u2())
		}
		if err != nil {
			return v, err
		}
		v.Const = *c
	case 'e':
		if v.TypeName, err = p.utf8(r.u2()); err != nil {
			return v, err
		}
		v.ConstName, err = p.utf8(r.u2())
	case 'c':
		v.TypeName, err = p.utf8(r.u2())
	case '@':
		var a Annotation
		a, err = p.annotation(r, true, depth+1)
		v.Annotation = &a
	case '[':
		n := int(r.u2())
		for i := 0; i < n && r.err == nil; i++ {
			e, err := p.elementValue(r, depth+1)
			if err != nil {
				return v, err
			}
			v.Values = append(v.Values, e)
		}
	default:
		return v, formatf("unknown element value tag %q", v.Tag)
	}
	return v, err
}
