// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package classfile

import (
	"strings"
)

// SigKind says what a TypeSig describes.
type SigKind uint8

const (
	KindPrimitive SigKind = iota + 1
	KindClass
	KindArray
	KindTypeVar
)

// Wildcard is the bound kind of a type argument.
type Wildcard uint8

const (
	WildNone    Wildcard = iota // List<String>
	WildExtends                 // List<? extends Number>
	WildSuper                   // List<? super Integer>
	WildAny                     // List<?>
)

// TypeSig is a parsed type descriptor or generic type signature.
type TypeSig struct {
	Kind SigKind

	// One of "BCDFIJSZ" for KindPrimitive.
	Primitive byte

	// KindClass: binary class name with inner classes joined by '$', the
	// type arguments, and for a type nested in a parameterized owner
	// (Outer<T>.Inner) the owner's signature.
	Class string
	Args  []TypeArg
	Owner *TypeSig

	// KindArray: the non-array element type and the number of dimensions.
	Elem *TypeSig
	Dims int

	// KindTypeVar: the type variable's name.
	Var string
}

// TypeArg is one type argument. Type is nil for WildAny.
type TypeArg struct {
	Wildcard Wildcard
	Type     *TypeSig
}

// TypeParam is a formal type parameter such as <T extends Number & Runnable>.
type TypeParam struct {
	Name            string
	ClassBound      *TypeSig // nil when the first bound is an interface
	InterfaceBounds []*TypeSig
}

// ClassSig is a class signature.
type ClassSig struct {
	TypeParams []TypeParam
	Super      *TypeSig
	Interfaces []*TypeSig
}

// MethodSig is a method descriptor or signature. Return is nil for void.
type MethodSig struct {
	TypeParams []TypeParam
	Params     []*TypeSig
	Return     *TypeSig
	Throws     []*TypeSig
}

// Primitive returns the signature of a primitive type.
func Primitive(c byte) *TypeSig {
	return &TypeSig{Kind: KindPrimitive, Primitive: c}
}

// Class returns the signature of a non-generic class.
func Class(binaryName string) *TypeSig {
	return &TypeSig{Kind: KindClass, Class: binaryName}
}

// ArrayOf returns an array of 'dims' dimensions of 'elem'.
func ArrayOf(elem *TypeSig, dims int) *TypeSig {
	if elem.Kind == KindArray {
		return &TypeSig{Kind: KindArray, Elem: elem.Elem, Dims: elem.Dims + dims}
	}
	return &TypeSig{Kind: KindArray, Elem: elem, Dims: dims}
}

// IsSimple is true if the signature is fully described by its descriptor.
func (t *TypeSig) IsSimple() bool {
	switch t.Kind {
	case KindPrimitive:
		return true
	case KindClass:
		return len(t.Args) == 0 && t.Owner == nil
	case KindArray:
		return t.Elem.IsSimple()
	}
	return false
}

// Descriptor returns the erased field descriptor. Type variables erase to
// java/lang/Object.
func (t *TypeSig) Descriptor() string {
	switch t.Kind {
	case KindPrimitive:
		return string(t.Primitive)
	case KindClass:
		return "L" + t.Class + ";"
	case KindArray:
		return strings.Repeat("[", t.Dims) + t.Elem.Descriptor()
	case KindTypeVar:
		return "Ljava/lang/Object;"
	}
	return ""
}

// Signature returns the signature in class file syntax.
func (t *TypeSig) Signature() string {
	var b strings.Builder
	t.writeSig(&b)
	return b.String()
}

func (t *TypeSig) writeSig(b *strings.Builder) {
	switch t.Kind {
	case KindPrimitive:
		b.WriteByte(t.Primitive)
	case KindClass:
		b.WriteByte('L')
		t.writeClassBody(b)
		b.WriteByte(';')
	case KindArray:
		b.WriteString(strings.Repeat("[", t.Dims))
		t.Elem.writeSig(b)
	case KindTypeVar:
		b.WriteByte('T')
		b.WriteString(t.Var)
		b.WriteByte(';')
	}
}

func (t *TypeSig) writeClassBody(b *strings.Builder) {
	if t.Owner != nil {
		t.Owner.writeClassBody(b)
		b.WriteByte('.')
		b.WriteString(t.innerName())
	} else {
		b.WriteString(t.Class)
	}
	if len(t.Args) == 0 {
		return
	}
	b.WriteByte('<')
	for _, a := range t.Args {
		switch a.Wildcard {
		case WildAny:
			b.WriteByte('*')
			continue
		case WildExtends:
			b.WriteByte('+')
		case WildSuper:
			b.WriteByte('-')
		}
		a.Type.writeSig(b)
	}
	b.WriteByte('>')
}

func (t *TypeSig) innerName() string {
	if t.Owner != nil && strings.HasPrefix(t.Class, t.Owner.Class+"$") {
		return t.Class[len(t.Owner.Class)+1:]
	}
	return SimpleName(t.Class)
}

var primitiveNames = map[byte]string{
	'B': "byte", 'C': "char", 'D': "double", 'F': "float",
	'I': "int", 'J': "long", 'S': "short", 'Z': "boolean", 'V': "void",
}

// String returns the type as it is written in source, e.g.
// "java.util.Map<K, java.lang.String>[]".
func (t *TypeSig) String() string {
	switch t.Kind {
	case KindPrimitive:
		return primitiveNames[t.Primitive]
	case KindClass:
		var s string
		if t.Owner != nil {
			s = t.Owner.String() + "." + t.innerName()
		} else {
			s = strings.Replace(t.Class, "/", ".", -1)
		}
		if len(t.Args) == 0 {
			return s
		}
		args := make([]string, len(t.Args))
		for i, a := range t.Args {
			switch a.Wildcard {
			case WildAny:
				args[i] = "?"
			case WildExtends:
				args[i] = "? extends " + a.Type.String()
			case WildSuper:
				args[i] = "? super " + a.Type.String()
			default:
				args[i] = a.Type.String()
			}
		}
		return s + "<" + strings.Join(args, ", ") + ">"
	case KindArray:
		return t.Elem.String() + strings.Repeat("[]", t.Dims)
	case KindTypeVar:
		return t.Var
	}
	return "?"
}

// Equal reports whether two signatures describe the same type.
func (t *TypeSig) Equal(o *TypeSig) bool {
	if t == nil || o == nil {
		return t == o
	}
	return t.Signature() == o.Signature()
}

// Signature returns the class signature in class file syntax.
func (c *ClassSig) Signature() string {
	var b strings.Builder
	writeTypeParams(&b, c.TypeParams)
	c.Super.writeSig(&b)
	for _, i := range c.Interfaces {
		i.writeSig(&b)
	}
	return b.String()
}

// Signature returns the method signature in class file syntax.
func (m *MethodSig) Signature() string {
	var b strings.Builder
	writeTypeParams(&b, m.TypeParams)
	b.WriteByte('(')
	for _, p := range m.Params {
		p.writeSig(&b)
	}
	b.WriteByte(')')
	if m.Return == nil {
		b.WriteByte('V')
	} else {
		m.Return.writeSig(&b)
	}
	for _, t := range m.Throws {
		b.WriteByte('^')
		t.writeSig(&b)
	}
	return b.String()
}

// TypeParamsSignature returns the type parameter section of a class or
// method signature, e.g. "<T:Ljava/lang/Object;>", or "" if there are none.
func TypeParamsSignature(params []TypeParam) string {
	var b strings.Builder
	writeTypeParams(&b, params)
	return b.String()
}

func writeTypeParams(b *strings.Builder, params []TypeParam) {
	if len(params) == 0 {
		return
	}
	b.WriteByte('<')
	for _, p := range params {
		b.WriteString(p.Name)
		b.WriteByte(':')
		if p.ClassBound != nil {
			p.ClassBound.writeSig(b)
		}
		for _, i := range p.InterfaceBounds {
			b.WriteByte(':')
			i.writeSig(b)
		}
	}
	b.WriteByte('>')
}

// sigParser is a recursive descent parser over descriptors and signatures.
// With 'erased' set only descriptor syntax is accepted.
type sigParser struct {
	s      string
	i      int
	erased bool
}

func (p *sigParser) fail(what string) error {
	return formatf("bad %s at offset %d in %q", what, p.i, p.s)
}

func (p *sigParser) peek() byte {
	if p.i < len(p.s) {
		return p.s[p.i]
	}
	return 0
}

func (p *sigParser) eat(c byte) bool {
	if p.peek() == c {
		p.i++
		return true
	}
	return false
}

func (p *sigParser) done() error {
	if p.i != len(p.s) {
		return p.fail("trailing characters")
	}
	return nil
}

// ident reads an unqualified name, stopping at any signature delimiter.
func (p *sigParser) ident() (string, error) {
	start := p.i
	for p.i < len(p.s) && !strings.ContainsRune(".;[/<>:", rune(p.s[p.i])) {
		p.i++
	}
	if p.i == start {
		return "", p.fail("identifier")
	}
	return p.s[start:p.i], nil
}

func (p *sigParser) typeSig(allowVoid bool) (*TypeSig, error) {
	switch c := p.peek(); c {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z':
		p.i++
		return Primitive(c), nil
	case 'V':
		if !allowVoid {
			return nil, p.fail("void type")
		}
		p.i++
		return nil, nil
	case '[':
		dims := 0
		for p.eat('[') {
			dims++
		}
		if dims > 255 {
			return nil, p.fail("array dimensions")
		}
		elem, err := p.typeSig(false)
		if err != nil {
			return nil, err
		}
		return ArrayOf(elem, dims), nil
	case 'L':
		return p.classSig()
	case 'T':
		if p.erased {
			return nil, p.fail("type")
		}
		p.i++
		name, err := p.ident()
		if err != nil {
			return nil, err
		}
		if !p.eat(';') {
			return nil, p.fail("type variable")
		}
		return &TypeSig{Kind: KindTypeVar, Var: name}, nil
	}
	return nil, p.fail("type")
}

func (p *sigParser) refSig() (*TypeSig, error) {
	switch p.peek() {
	case 'L', 'T', '[':
		return p.typeSig(false)
	}
	return nil, p.fail("reference type")
}

func (p *sigParser) classSig() (*TypeSig, error) {
	if !p.eat('L') {
		return nil, p.fail("class type")
	}
	start := p.i
	for {
		if _, err := p.ident(); err != nil {
			return nil, err
		}
		if !p.eat('/') {
			break
		}
	}
	t := &TypeSig{Kind: KindClass, Class: p.s[start:p.i]}
	for {
		if p.peek() == '<' {
			if p.erased {
				return nil, p.fail("class type")
			}
			if err := p.typeArgs(t); err != nil {
				return nil, err
			}
		}
		if p.eat(';') {
			return t, nil
		}
		if p.erased || !p.eat('.') {
			return nil, p.fail("class type")
		}
		name, err := p.ident()
		if err != nil {
			return nil, err
		}
		t = &TypeSig{Kind: KindClass, Class: t.Class + "$" + name, Owner: t}
	}
}

func (p *sigParser) typeArgs(t *TypeSig) error {
	p.eat('<')
	for !p.eat('>') {
		var a TypeArg
		switch {
		case p.eat('*'):
			a.Wildcard = WildAny
			t.Args = append(t.Args, a)
			continue
		case p.eat('+'):
			a.Wildcard = WildExtends
		case p.eat('-'):
			a.Wildcard = WildSuper
		}
		var err error
		if a.Type, err = p.refSig(); err != nil {
			return err
		}
		t.Args = append(t.Args, a)
	}
	if len(t.Args) == 0 {
		return p.fail("empty type arguments")
	}
	return nil
}

func (p *sigParser) typeParams() ([]TypeParam, error) {
	if !p.eat('<') {
		return nil, nil
	}
	var out []TypeParam
	for !p.eat('>') {
		name, err := p.ident()
		if err != nil {
			return nil, err
		}
		tp := TypeParam{Name: name}
		if !p.eat(':') {
			return nil, p.fail("type parameter")
		}
		if c := p.peek(); c != ':' {
			if tp.ClassBound, err = p.refSig(); err != nil {
				return nil, err
			}
		}
		for p.eat(':') {
			bound, err := p.refSig()
			if err != nil {
				return nil, err
			}
			tp.InterfaceBounds = append(tp.InterfaceBounds, bound)
		}
		out = append(out, tp)
	}
	if len(out) == 0 {
		return nil, p.fail("empty type parameters")
	}
	return out, nil
}

func (p *sigParser) methodSig() (*MethodSig, error) {
	m := &MethodSig{}
	var err error
	if !p.erased {
		if m.TypeParams, err = p.typeParams(); err != nil {
			return nil, err
		}
	}
	if !p.eat('(') {
		return nil, p.fail("method parameters")
	}
	for !p.eat(')') {
		if p.i >= len(p.s) {
			return nil, p.fail("method parameters")
		}
		t, err := p.typeSig(false)
		if err != nil {
			return nil, err
		}
		m.Params = append(m.Params, t)
	}
	if m.Return, err = p.typeSig(true); err != nil {
		return nil, err
	}
	for !p.erased && p.eat('^') {
		var t *TypeSig
		if p.peek() == 'T' {
			t, err = p.typeSig(false)
		} else {
			t, err = p.classSig()
		}
		if err != nil {
			return nil, err
		}
		m.Throws = append(m.Throws, t)
	}
	return m, p.done()
}

// ParseFieldDescriptor parses a field descriptor such as "[Ljava/lang/String;".
func ParseFieldDescriptor(s string) (*TypeSig, error) {
	p := &sigParser{s: s, erased: true}
	t, err := p.typeSig(false)
	if err != nil {
		return nil, err
	}
	return t, p.done()
}

// ParseMethodDescriptor parses a method descriptor such as "(IJ)V".
func ParseMethodDescriptor(s string) (*MethodSig, error) {
	return (&sigParser{s: s, erased: true}).methodSig()
}

// ParseFieldSignature parses the generic signature of a field.
func ParseFieldSignature(s string) (*TypeSig, error) {
	p := &sigParser{s: s}
	t, err := p.refSig()
	if err != nil {
		return nil, err
	}
	return t, p.done()
}

// ParseMethodSignature parses the generic signature of a method.
func ParseMethodSignature(s string) (*MethodSig, error) {
	return (&sigParser{s: s}).methodSig()
}

// ParseClassSignature parses the generic signature of a class.
func ParseClassSignature(s string) (*ClassSig, error) {
	p := &sigParser{s: s}
	c := &ClassSig{}
	var err error
	if c.TypeParams, err = p.typeParams(); err != nil {
		return nil, err
	}
	if c.Super, err = p.classSig(); err != nil {
		return nil, err
	}
	for p.i < len(p.s) {
		t, err := p.classSig()
		if err != nil {
			return nil, err
		}
		c.Interfaces = append(c.Interfaces, t)
	}
	return c, nil
}
