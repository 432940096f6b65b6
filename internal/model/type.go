package model

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jward/sprout/internal/intern"
)

// ErrBadDescriptor is returned when a type descriptor cannot be parsed.
var ErrBadDescriptor = errors.New("model: bad type descriptor")

// TypeKind is the tag of a Type. The numeric values are the on-disk tags.
type TypeKind uint32

const (
	KindPrimitive TypeKind = 0
	KindClass     TypeKind = 1
	KindArray     TypeKind = 2
)

func (k TypeKind) String() string {
	switch k {
	case KindPrimitive:
		return "primitive"
	case KindClass:
		return "class"
	case KindArray:
		return "array"
	}
	return fmt.Sprintf("TypeKind(%d)", uint32(k))
}

// Type is an interned, immutable type: a primitive leaf, an array of an
// element type, or a class with ordered type arguments. Types are only
// created through a Context, so two structurally equal Types from the same
// Context are the same pointer.
type Type struct {
	id   uint32
	kind TypeKind
	name intern.Handle
	text string
	elem *Type
	args []*Type
}

func (t *Type) Kind() TypeKind { return t.kind }

// Name is the primitive or class name; NoHandle for arrays.
func (t *Type) Name() intern.Handle { return t.name }

// Elem is the element type of an array; nil otherwise.
func (t *Type) Elem() *Type { return t.elem }

// Args returns the class type arguments. The slice must not be modified.
func (t *Type) Args() []*Type { return t.args }

// Equal is identity comparison, which is structural equality for types
// interned in the same Context.
func (t *Type) Equal(o *Type) bool { return t == o }

// Hash returns the interned id, stable for the lifetime of the Context.
func (t *Type) Hash() uint32 { return t.id }

// Rank returns the number of array levels wrapping the innermost element.
func (t *Type) Rank() int {
	n := 0
	for t != nil && t.kind == KindArray {
		n++
		t = t.elem
	}
	return n
}

type typeKey struct {
	kind TypeKind
	name intern.Handle
	elem uint32
	args string
}

func argsKey(args []*Type) string {
	if len(args) == 0 {
		return ""
	}
	b := make([]byte, 0, len(args)*4)
	for _, a := range args {
		b = append(b, byte(a.id), byte(a.id>>8), byte(a.id>>16), byte(a.id>>24))
	}
	return string(b)
}

func (c *Context) internType(key typeKey, build func(id uint32) *Type) *Type {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.types[key]; ok {
		return t
	}
	c.nextID++
	t := build(c.nextID)
	c.types[key] = t
	return t
}

// Primitive returns the interned primitive (leaf) type named name.
func (c *Context) Primitive(name string) *Type {
	return c.PrimitiveOf(c.Intern(name))
}

// PrimitiveOf is Primitive for an already interned name.
func (c *Context) PrimitiveOf(name intern.Handle) *Type {
	key := typeKey{kind: KindPrimitive, name: name}
	return c.internType(key, func(id uint32) *Type {
		return &Type{id: id, kind: KindPrimitive, name: name, text: c.Resolve(name)}
	})
}

// Class returns the interned class type name<args...>.
func (c *Context) Class(name string, args ...*Type) *Type {
	return c.ClassOf(c.Intern(name), args...)
}

// ClassOf is Class for an already interned name.
func (c *Context) ClassOf(name intern.Handle, args ...*Type) *Type {
	key := typeKey{kind: KindClass, name: name, args: argsKey(args)}
	return c.internType(key, func(id uint32) *Type {
		t := &Type{id: id, kind: KindClass, name: name, text: c.Resolve(name)}
		if len(args) > 0 {
			t.args = append([]*Type(nil), args...)
		}
		return t
	})
}

// Array returns the interned one-level array of elem.
func (c *Context) Array(elem *Type) *Type {
	key := typeKey{kind: KindArray, elem: elem.id}
	return c.internType(key, func(id uint32) *Type {
		return &Type{id: id, kind: KindArray, elem: elem}
	})
}

// ArrayOf wraps elem in dims array levels. dims <= 0 returns elem.
func (c *Context) ArrayOf(elem *Type, dims int) *Type {
	t := elem
	for range dims {
		t = c.Array(t)
	}
	return t
}

// TypeOf parses a JVM-style type descriptor into an interned Type.
//
//	I, J, Z, B, C, S, F, D, V    primitive
//	[I, [[Ljava/lang/String;     arrays
//	Ljava/util/List<TE;>;        class with type arguments
//	TE;  *                        type variable, unbounded wildcard (leaves)
//	+Ljava/lang/Number;          bounded wildcard, class "+" with the bound
func (c *Context) TypeOf(desc string) (*Type, error) {
	p := descParser{ctx: c, s: desc}
	t, err := p.parse()
	if err != nil {
		return nil, err
	}
	if p.pos != len(desc) {
		return nil, fmt.Errorf("%w: trailing input at %d in %q", ErrBadDescriptor, p.pos, desc)
	}
	return t, nil
}

type descParser struct {
	ctx *Context
	s   string
	pos int
}

func (p *descParser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s at %d in %q", ErrBadDescriptor, fmt.Sprintf(format, args...), p.pos, p.s)
}

func (p *descParser) parse() (*Type, error) {
	dims := 0
	for p.pos < len(p.s) && p.s[p.pos] == '[' {
		dims++
		p.pos++
	}
	if p.pos >= len(p.s) {
		return nil, p.errorf("unexpected end")
	}

	var t *Type
	switch ch := p.s[p.pos]; ch {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z', 'V', '*':
		p.pos++
		t = p.ctx.Primitive(string(ch))
	case 'T':
		end := strings.IndexByte(p.s[p.pos:], ';')
		if end < 2 {
			return nil, p.errorf("bad type variable")
		}
		t = p.ctx.Primitive(p.s[p.pos : p.pos+end+1])
		p.pos += end + 1
	case '+', '-':
		p.pos++
		bound, err := p.parse()
		if err != nil {
			return nil, err
		}
		t = p.ctx.Class(string(ch), bound)
	case 'L':
		p.pos++
		start := p.pos
		for p.pos < len(p.s) && p.s[p.pos] != ';' && p.s[p.pos] != '<' {
			p.pos++
		}
		if p.pos >= len(p.s) {
			return nil, p.errorf("unterminated class name")
		}
		if p.pos == start {
			return nil, p.errorf("empty class name")
		}
		name := strings.ReplaceAll(p.s[start:p.pos], "/", ".")

		var args []*Type
		if p.s[p.pos] == '<' {
			p.pos++
			for {
				if p.pos >= len(p.s) {
					return nil, p.errorf("unterminated type arguments")
				}
				if p.s[p.pos] == '>' {
					p.pos++
					break
				}
				arg, err := p.parse()
				if err != nil {
					return nil, err
				}
				args = append(args, arg)
			}
			if len(args) == 0 {
				return nil, p.errorf("empty type arguments")
			}
		}
		if p.pos >= len(p.s) || p.s[p.pos] != ';' {
			return nil, p.errorf("expected ';'")
		}
		p.pos++
		t = p.ctx.Class(name, args...)
	default:
		return nil, p.errorf("unexpected %q", ch)
	}
	return p.ctx.ArrayOf(t, dims), nil
}

// Descriptor renders t back to the descriptor form accepted by TypeOf.
func (c *Context) Descriptor(t *Type) string { return t.String() }

// String renders t in the descriptor form accepted by Context.TypeOf.
func (t *Type) String() string {
	var b strings.Builder
	t.writeDescriptor(&b)
	return b.String()
}

func (t *Type) writeDescriptor(b *strings.Builder) {
	for t.kind == KindArray {
		b.WriteByte('[')
		t = t.elem
	}
	switch t.kind {
	case KindPrimitive:
		b.WriteString(t.text)
	case KindClass:
		if (t.text == "+" || t.text == "-") && len(t.args) == 1 {
			b.WriteString(t.text)
			t.args[0].writeDescriptor(b)
			return
		}
		b.WriteByte('L')
		b.WriteString(strings.ReplaceAll(t.text, ".", "/"))
		if len(t.args) > 0 {
			b.WriteByte('<')
			for _, a := range t.args {
				a.writeDescriptor(b)
			}
			b.WriteByte('>')
		}
		b.WriteByte(';')
	}
}
