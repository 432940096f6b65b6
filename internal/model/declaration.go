package model

import (
	"fmt"
	"strings"

	"github.com/jward/sprout/internal/intern"
)

// DeclKind distinguishes what a declaration declares.
type DeclKind uint32

const (
	DeclClass  DeclKind = 1
	DeclMethod DeclKind = 2
	DeclField  DeclKind = 3
)

func (k DeclKind) String() string {
	switch k {
	case DeclClass:
		return "class"
	case DeclMethod:
		return "method"
	case DeclField:
		return "field"
	}
	return fmt.Sprintf("DeclKind(%d)", uint32(k))
}

// ParseDeclKind maps the reader's kind names onto DeclKind. Interfaces,
// enums, records and annotation types are all classes; constructors are
// methods.
func ParseDeclKind(s string) (DeclKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "class", "interface", "enum", "record", "annotation", "type":
		return DeclClass, nil
	case "method", "constructor":
		return DeclMethod, nil
	case "field", "constant", "enum_constant":
		return DeclField, nil
	}
	return 0, fmt.Errorf("model: unknown declaration kind %q", s)
}

// DeclarationRecord is a declaration as produced by a unit reader, before
// interning.
type DeclarationRecord struct {
	Kind      string `json:"kind"`
	Owner     string `json:"owner,omitempty"`
	Name      string `json:"name"`
	Modifiers string `json:"modifiers,omitempty"`
	// Signature is the member's erased signature text, empty for fields
	// and classes without one.
	Signature string `json:"signature,omitempty"`
	// Type is a type descriptor (see Context.TypeOf), empty when the
	// declaration has no declared type.
	Type string `json:"type,omitempty"`
}

// Declaration is the interned, immutable descriptor of one declared entity.
type Declaration struct {
	kind      DeclKind
	modifiers Modifiers
	owner     intern.Handle
	signature intern.Handle
	name      intern.Handle
	typ       *Type
}

// NewDeclaration builds a Declaration from already interned parts.
func NewDeclaration(kind DeclKind, mods Modifiers, owner, signature, name intern.Handle, typ *Type) *Declaration {
	return &Declaration{
		kind:      kind,
		modifiers: mods,
		owner:     owner,
		signature: signature,
		name:      name,
		typ:       typ,
	}
}

func (d *Declaration) Kind() DeclKind           { return d.kind }
func (d *Declaration) Modifiers() Modifiers     { return d.modifiers }
func (d *Declaration) Owner() intern.Handle     { return d.owner }
func (d *Declaration) Signature() intern.Handle { return d.signature }
func (d *Declaration) Name() intern.Handle      { return d.name }

// Type is the declared type, or nil.
func (d *Declaration) Type() *Type { return d.typ }

// Equal reports whether two declarations are structurally identical.
// Both must come from the same Context.
func (d *Declaration) Equal(o *Declaration) bool {
	if d == nil || o == nil {
		return d == o
	}
	return *d == *o
}

// EntityPath is the canonical path of a declared entity: the owner path and
// the member name joined by a dot, or the bare name for top-level entities.
func EntityPath(owner, name string) string {
	if owner == "" {
		return name
	}
	return owner + "." + name
}

// Declare interns rec and returns the handle of the entity path together
// with the declaration.
func (c *Context) Declare(rec DeclarationRecord) (intern.Handle, *Declaration, error) {
	if rec.Name == "" {
		return intern.NoHandle, nil, fmt.Errorf("model: declare: empty name (owner %q)", rec.Owner)
	}
	kind, err := ParseDeclKind(rec.Kind)
	if err != nil {
		return intern.NoHandle, nil, err
	}
	var typ *Type
	if rec.Type != "" {
		typ, err = c.TypeOf(rec.Type)
		if err != nil {
			return intern.NoHandle, nil, fmt.Errorf("model: declare %s: %w", EntityPath(rec.Owner, rec.Name), err)
		}
	}
	d := NewDeclaration(
		kind,
		ParseModifiers(rec.Modifiers),
		c.Intern(rec.Owner),
		c.Intern(rec.Signature),
		c.Intern(rec.Name),
		typ,
	)
	return c.Intern(EntityPath(rec.Owner, rec.Name)), d, nil
}

// Record converts d back to its raw form.
func (c *Context) Record(d *Declaration) DeclarationRecord {
	rec := DeclarationRecord{
		Kind:      d.kind.String(),
		Owner:     c.Resolve(d.owner),
		Name:      c.Resolve(d.name),
		Modifiers: d.modifiers.String(),
		Signature: c.Resolve(d.signature),
	}
	if d.modifiers == 0 {
		rec.Modifiers = ""
	}
	if d.typ != nil {
		rec.Type = d.typ.String()
	}
	return rec
}
