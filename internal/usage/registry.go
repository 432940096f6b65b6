package usage

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"github.com/jward/sprout/internal/intern"
)

// ErrDiscarded is returned by Finalize when the registry was discarded
// because its unit could not be read completely.
var ErrDiscarded = errors.New("usage: cluster discarded")

// Record is a usage as produced by a unit reader, before interning.
type Record struct {
	User string `json:"user"`
	Used string `json:"used"`
	Kind string `json:"kind,omitempty"`
}

// Edge is one deduplicated usage: User uses Used in the ways listed in Kinds.
type Edge struct {
	User  intern.Handle
	Used  intern.Handle
	Kinds KindSet
}

// Cluster is every usage edge recorded while scanning one unit, sorted by
// (User, Used). A rescan replaces the whole cluster.
type Cluster struct {
	Unit  string
	Edges []Edge
}

// Users returns the distinct using entities in the cluster, in handle order.
func (c *Cluster) Users() []intern.Handle {
	if c == nil {
		return nil
	}
	var out []intern.Handle
	for _, e := range c.Edges {
		if n := len(out); n == 0 || out[n-1] != e.User {
			out = append(out, e.User)
		}
	}
	return out
}

// Interner is the part of an interning context a Registry needs.
type Interner interface {
	Intern(s string) intern.Handle
}

type pair struct {
	user, used intern.Handle
}

// Registry accumulates the usage edges of a single unit. It is owned by the
// one worker scanning that unit and is not safe for concurrent use.
type Registry struct {
	unit      string
	symbols   Interner
	edges     map[pair]KindSet
	finalized bool
	discarded bool
}

// NewRegistry starts an empty cluster for unit.
func NewRegistry(unit string, symbols Interner) *Registry {
	return &Registry{
		unit:    unit,
		symbols: symbols,
		edges:   make(map[pair]KindSet),
	}
}

// Record adds kind to the edge (user, used). Self-edges are dropped.
// Calling Record after Finalize is a programmer error.
func (r *Registry) Record(user, used intern.Handle, kind Kind) {
	if r.finalized {
		panic(fmt.Sprintf("usage: Record on finalized cluster %q", r.unit))
	}
	if user == used || user == intern.NoHandle || used == intern.NoHandle {
		return
	}
	p := pair{user, used}
	r.edges[p] = r.edges[p].With(kind)
}

// Add interns a raw record and records it.
func (r *Registry) Add(rec Record) error {
	kind, err := ParseKind(rec.Kind)
	if err != nil {
		return fmt.Errorf("usage: %s -> %s: %w", rec.User, rec.Used, err)
	}
	if rec.User == "" || rec.Used == "" {
		return fmt.Errorf("usage: incomplete record %s -> %s", rec.User, rec.Used)
	}
	r.Record(r.symbols.Intern(rec.User), r.symbols.Intern(rec.Used), kind)
	return nil
}

// Len returns the number of distinct edges recorded so far.
func (r *Registry) Len() int { return len(r.edges) }

// Discard marks the partial cluster unusable. A unit that failed mid-read
// must never contribute a half-recorded cluster.
func (r *Registry) Discard() {
	r.discarded = true
	r.edges = nil
}

// Finalize freezes the registry and returns its cluster.
func (r *Registry) Finalize() (*Cluster, error) {
	if r.discarded {
		return nil, fmt.Errorf("%w: %s", ErrDiscarded, r.unit)
	}
	r.finalized = true
	c := &Cluster{Unit: r.unit, Edges: make([]Edge, 0, len(r.edges))}
	for p, kinds := range r.edges {
		c.Edges = append(c.Edges, Edge{User: p.user, Used: p.used, Kinds: kinds})
	}
	SortEdges(c.Edges)
	return c, nil
}

// SortEdges orders edges by (User, Used).
func SortEdges(edges []Edge) {
	slices.SortFunc(edges, func(a, b Edge) int {
		return cmp.Or(cmp.Compare(a.User, b.User), cmp.Compare(a.Used, b.Used))
	})
}
