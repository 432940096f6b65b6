package model

import (
	"errors"
	"fmt"
	"math"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/jward/sprout/internal/intern"
)

// FormatVersion is the version of the binary record format. Stores written
// with a different version are discarded on open.
const FormatVersion = 1

// ErrBadFormat is returned when a binary record cannot be decoded.
var ErrBadFormat = errors.New("model: bad binary format")

const (
	symAbsent = -1
	// Symbol records at or below symNewBase introduce a new string of
	// length symNewBase-n.
	symNewBase = -2
)

// Encoder writes types and declarations as a flat stream of 4-byte words.
// Strings are written once per Encoder and back-referenced afterwards, so an
// Encoder and the Decoder reading its output must see the same records in
// the same order.
type Encoder struct {
	ctx   *Context
	buf   []byte
	table map[intern.Handle]int32
}

// NewEncoder creates an Encoder with an empty symbol table.
func NewEncoder(ctx *Context) *Encoder {
	return &Encoder{ctx: ctx, table: make(map[intern.Handle]int32)}
}

// Bytes returns everything written so far.
func (e *Encoder) Bytes() []byte { return e.buf }

// Reset clears the output buffer but keeps the symbol table.
func (e *Encoder) Reset() { e.buf = e.buf[:0] }

func (e *Encoder) word(v uint32) { e.buf = protowire.AppendFixed32(e.buf, v) }

func (e *Encoder) int(v int32) { e.word(uint32(v)) }

// Symbol writes an interned-string record.
func (e *Encoder) Symbol(h intern.Handle) {
	if h == intern.NoHandle {
		e.int(symAbsent)
		return
	}
	if idx, ok := e.table[h]; ok {
		e.int(idx)
		return
	}
	s := e.ctx.Resolve(h)
	e.int(int32(symNewBase - len(s)))
	e.buf = append(e.buf, s...)
	e.table[h] = int32(len(e.table))
}

// Type writes t. Array levels are written as a run of ARRAY tags.
func (e *Encoder) Type(t *Type) {
	for t.kind == KindArray {
		e.word(uint32(KindArray))
		t = t.elem
	}
	e.word(uint32(t.kind))
	e.Symbol(t.name)
	if t.kind == KindClass {
		e.word(uint32(len(t.args)))
		for _, a := range t.args {
			e.Type(a)
		}
	}
}

// Declaration writes d.
func (e *Encoder) Declaration(d *Declaration) {
	e.word(uint32(d.kind))
	e.word(uint32(d.modifiers))
	e.Symbol(d.owner)
	e.Symbol(d.signature)
	e.Symbol(d.name)
	if d.typ == nil {
		e.word(0)
		return
	}
	e.word(1)
	e.Type(d.typ)
}

// Decoder reads records written by an Encoder, interning into its Context.
type Decoder struct {
	ctx   *Context
	buf   []byte
	table []intern.Handle
}

// NewDecoder creates a Decoder with an empty symbol table over b.
func NewDecoder(ctx *Context, b []byte) *Decoder {
	return &Decoder{ctx: ctx, buf: b}
}

// Feed replaces the input buffer but keeps the symbol table.
func (d *Decoder) Feed(b []byte) { d.buf = b }

// Len returns the number of unread bytes.
func (d *Decoder) Len() int { return len(d.buf) }

func (d *Decoder) word() (uint32, error) {
	v, n := protowire.ConsumeFixed32(d.buf)
	if n < 0 {
		return 0, fmt.Errorf("%w: truncated word", ErrBadFormat)
	}
	d.buf = d.buf[n:]
	return v, nil
}

// Symbol reads an interned-string record.
func (d *Decoder) Symbol() (intern.Handle, error) {
	w, err := d.word()
	if err != nil {
		return intern.NoHandle, err
	}
	n := int32(w)
	switch {
	case n >= 0:
		if int(n) >= len(d.table) {
			return intern.NoHandle, fmt.Errorf("%w: back-reference %d beyond table of %d", ErrBadFormat, n, len(d.table))
		}
		return d.table[n], nil
	case n == symAbsent:
		return intern.NoHandle, nil
	}
	size := int64(symNewBase) - int64(n)
	if size > int64(len(d.buf)) || size > math.MaxInt32 {
		return intern.NoHandle, fmt.Errorf("%w: string of %d bytes exceeds input", ErrBadFormat, size)
	}
	raw := d.buf[:size]
	if !utf8.Valid(raw) {
		return intern.NoHandle, fmt.Errorf("%w: invalid UTF-8 symbol", ErrBadFormat)
	}
	d.buf = d.buf[size:]
	h := d.ctx.Intern(string(raw))
	d.table = append(d.table, h)
	return h, nil
}

// Type reads a type record.
func (d *Decoder) Type() (*Type, error) {
	dims := 0
	var tag uint32
	for {
		w, err := d.word()
		if err != nil {
			return nil, err
		}
		if TypeKind(w) != KindArray {
			tag = w
			break
		}
		dims++
	}

	name, err := d.Symbol()
	if err != nil {
		return nil, err
	}

	var t *Type
	switch TypeKind(tag) {
	case KindPrimitive:
		t = d.ctx.PrimitiveOf(name)
	case KindClass:
		count, err := d.word()
		if err != nil {
			return nil, err
		}
		// Every argument needs at least two words.
		if int64(count)*8 > int64(len(d.buf)) {
			return nil, fmt.Errorf("%w: %d type arguments exceed input", ErrBadFormat, count)
		}
		var args []*Type
		if count > 0 {
			args = make([]*Type, 0, count)
		}
		for range count {
			a, err := d.Type()
			if err != nil {
				return nil, err
			}
			args = append(args, a)
		}
		if n := d.ctx.Resolve(name); (n == "+" || n == "-") && count != 1 {
			return nil, fmt.Errorf("%w: bounded wildcard %q with %d arguments", ErrBadFormat, n, count)
		}
		t = d.ctx.ClassOf(name, args...)
	default:
		return nil, fmt.Errorf("%w: unknown type tag %d", ErrBadFormat, tag)
	}
	return d.ctx.ArrayOf(t, dims), nil
}

// Declaration reads a declaration record.
func (d *Decoder) Declaration() (*Declaration, error) {
	kind, err := d.word()
	if err != nil {
		return nil, err
	}
	switch DeclKind(kind) {
	case DeclClass, DeclMethod, DeclField:
	default:
		return nil, fmt.Errorf("%w: unknown declaration kind %d", ErrBadFormat, kind)
	}
	mods, err := d.word()
	if err != nil {
		return nil, err
	}
	owner, err := d.Symbol()
	if err != nil {
		return nil, err
	}
	sig, err := d.Symbol()
	if err != nil {
		return nil, err
	}
	name, err := d.Symbol()
	if err != nil {
		return nil, err
	}
	hasType, err := d.word()
	if err != nil {
		return nil, err
	}
	var typ *Type
	switch hasType {
	case 0:
	case 1:
		if typ, err = d.Type(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: bad type flag %d", ErrBadFormat, hasType)
	}
	return NewDeclaration(DeclKind(kind), Modifiers(mods), owner, sig, name, typ), nil
}

// EncodeDeclaration encodes d as a self-contained record with its own
// symbol table.
func EncodeDeclaration(ctx *Context, d *Declaration) []byte {
	e := NewEncoder(ctx)
	e.Declaration(d)
	return e.Bytes()
}

// DecodeDeclaration decodes a record produced by EncodeDeclaration.
func DecodeDeclaration(ctx *Context, b []byte) (*Declaration, error) {
	dec := NewDecoder(ctx, b)
	d, err := dec.Declaration()
	if err != nil {
		return nil, err
	}
	if dec.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrBadFormat, dec.Len())
	}
	return d, nil
}

// EncodeType encodes t as a self-contained record.
func EncodeType(ctx *Context, t *Type) []byte {
	e := NewEncoder(ctx)
	e.Type(t)
	return e.Bytes()
}

// DecodeType decodes a record produced by EncodeType.
func DecodeType(ctx *Context, b []byte) (*Type, error) {
	dec := NewDecoder(ctx, b)
	t, err := dec.Type()
	if err != nil {
		return nil, err
	}
	if dec.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrBadFormat, dec.Len())
	}
	return t, nil
}
