package model

import "strings"

// Aspect is one kind of change between two snapshots of an entity.
type Aspect uint32

const (
	AccessChanged Aspect = 1 << iota
	SignatureChanged
	// TypeChanged reports a different declared type, e.g. a field whose
	// type changed while its name stayed the same.
	TypeChanged
	// Removed marks the entity as gone. A removal carries every aspect.
	Removed
)

const allAspects = AccessChanged | SignatureChanged | TypeChanged | Removed

func (a Aspect) Has(o Aspect) bool { return a&o == o }

func (a Aspect) String() string {
	if a == 0 {
		return "none"
	}
	var parts []string
	for _, x := range []struct {
		bit  Aspect
		name string
	}{
		{AccessChanged, "access"},
		{SignatureChanged, "signature"},
		{TypeChanged, "type"},
		{Removed, "removed"},
	} {
		if a&x.bit != 0 {
			parts = append(parts, x.name)
		}
	}
	return strings.Join(parts, "|")
}

// Difference is the delta between two declarations of the same entity.
// It is derived on demand and never stored.
type Difference struct {
	Aspects Aspect
	// Added and RemovedMods are the modifier bits gained and lost.
	Added       Modifiers
	RemovedMods Modifiers

	old, new Modifiers
	narrowed bool
}

// Diff compares old and new. A change of declaration kind (a field that
// became a method under the same path) is reported like a removal.
func Diff(old, new *Declaration) Difference {
	d := Difference{
		old:         old.modifiers,
		new:         new.modifiers,
		Added:       new.modifiers &^ old.modifiers,
		RemovedMods: old.modifiers &^ new.modifiers,
	}
	if old.kind != new.kind {
		d.Aspects = allAspects
	}
	if old.modifiers != new.modifiers {
		d.Aspects |= AccessChanged
	}
	if old.signature != new.signature {
		d.Aspects |= SignatureChanged
	}
	if old.typ != new.typ {
		d.Aspects |= TypeChanged
	}
	d.narrowed = old.modifiers&VisibilityMask != 0 && new.modifiers&VisibilityMask == 0
	return d
}

// Removal is the maximal difference reported for an entity that no longer
// exists.
func Removal(old *Declaration) Difference {
	return Difference{
		Aspects:     allAspects,
		RemovedMods: old.modifiers,
		old:         old.modifiers,
	}
}

// IsNoChange reports whether nothing changed.
func (d Difference) IsNoChange() bool { return d.Aspects == 0 }

// IsRemoval reports whether the entity was removed or changed kind.
func (d Difference) IsRemoval() bool { return d.Aspects.Has(Removed) }

// NarrowedToPackageLocal reports whether the entity lost every explicit
// visibility modifier. Callers outside the package can no longer see it.
func (d Difference) NarrowedToPackageLocal() bool { return d.narrowed }

// IsWidening reports whether the only change is to the visibility bits and
// the entity became more visible, e.g. private to public. Existing callers
// are unaffected by such a change.
func (d Difference) IsWidening() bool {
	if d.Aspects != AccessChanged {
		return false
	}
	if (d.Added|d.RemovedMods)&^VisibilityMask != 0 {
		return false
	}
	return d.new.VisibilityRank() > d.old.VisibilityRank()
}

// Propagates reports whether dependents of the entity must be reconsidered.
// Everything except no change and a pure widening propagates.
func (d Difference) Propagates() bool {
	return !d.IsNoChange() && !d.IsWidening()
}

func (d Difference) String() string {
	s := d.Aspects.String()
	if d.narrowed {
		s += " (narrowed to package-local)"
	}
	return s
}
