// Package usage collects the usage edges of one compiled unit: which
// declared entity uses which symbol, and how.
package usage

import (
	"fmt"
	"strings"
)

// Kind is how a symbol is used.
type Kind uint8

const (
	TypeRef Kind = iota
	Extends
	Implements
	Call
	FieldAccess
	Annotation
	numKinds
)

var kindNames = [numKinds]string{
	TypeRef:     "type",
	Extends:     "extends",
	Implements:  "implements",
	Call:        "call",
	FieldAccess: "field",
	Annotation:  "annotation",
}

func (k Kind) String() string {
	if k < numKinds {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// ParseKind maps a reader kind name onto Kind. The empty string is TypeRef.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "type", "type_ref", "reference":
		return TypeRef, nil
	case "call", "invoke", "new":
		return Call, nil
	case "field", "field_access", "access":
		return FieldAccess, nil
	}
	for k, name := range kindNames {
		if name == s {
			return Kind(k), nil
		}
	}
	return 0, fmt.Errorf("usage: unknown kind %q", s)
}

// KindSet is a set of Kinds.
type KindSet uint8

// Of builds a KindSet from kinds.
func Of(kinds ...Kind) KindSet {
	var s KindSet
	for _, k := range kinds {
		s = s.With(k)
	}
	return s
}

func (s KindSet) With(k Kind) KindSet     { return s | 1<<k }
func (s KindSet) Has(k Kind) bool         { return s&(1<<k) != 0 }
func (s KindSet) Union(o KindSet) KindSet { return s | o }
func (s KindSet) IsEmpty() bool           { return s == 0 }

// Inherits reports whether the set contains an inheritance edge. A user
// that inherits from a changed symbol exposes the change in its own surface.
func (s KindSet) Inherits() bool { return s.Has(Extends) || s.Has(Implements) }

// Kinds returns the members in ascending order.
func (s KindSet) Kinds() []Kind {
	var out []Kind
	for k := range numKinds {
		if s.Has(k) {
			out = append(out, k)
		}
	}
	return out
}

func (s KindSet) String() string {
	var parts []string
	for _, k := range s.Kinds() {
		parts = append(parts, k.String())
	}
	return strings.Join(parts, ",")
}
