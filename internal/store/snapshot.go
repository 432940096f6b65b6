package store

import (
	"maps"
	"slices"
	"time"

	"github.com/jward/sprout/internal/intern"
	"github.com/jward/sprout/internal/model"
	"github.com/jward/sprout/internal/usage"
)

// UnitInfo is the bookkeeping kept per known unit.
type UnitInfo struct {
	Hash      string
	ScannedAt time.Time
}

// Snapshot is one committed state of the dependency graph. It is never
// mutated after it has been published; a commit builds a new Snapshot.
type Snapshot struct {
	decls    map[intern.Handle]*model.Declaration
	owner    map[intern.Handle]string
	owned    map[string][]intern.Handle
	clusters map[string]*usage.Cluster
	// users is the reverse index: used symbol -> using entity -> kinds.
	users map[intern.Handle]map[intern.Handle]usage.KindSet
	// userUnit maps a using entity to the unit whose cluster recorded it.
	userUnit map[intern.Handle]string
	units    map[string]UnitInfo
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		decls:    make(map[intern.Handle]*model.Declaration),
		owner:    make(map[intern.Handle]string),
		owned:    make(map[string][]intern.Handle),
		clusters: make(map[string]*usage.Cluster),
		users:    make(map[intern.Handle]map[intern.Handle]usage.KindSet),
		userUnit: make(map[intern.Handle]string),
		units:    make(map[string]UnitInfo),
	}
}

// Declaration returns the committed declaration of entity e.
func (s *Snapshot) Declaration(e intern.Handle) (*model.Declaration, bool) {
	d, ok := s.decls[e]
	return d, ok
}

// OwnedBy returns the entities declared by unit, in handle order.
func (s *Snapshot) OwnedBy(unit string) []intern.Handle { return s.owned[unit] }

// Cluster returns the committed usage cluster of unit, or nil.
func (s *Snapshot) Cluster(unit string) *usage.Cluster { return s.clusters[unit] }

// UsersOf returns the entities using symbol and how they use it. The map
// must not be modified.
func (s *Snapshot) UsersOf(symbol intern.Handle) map[intern.Handle]usage.KindSet {
	return s.users[symbol]
}

// UnitOf returns the unit declaring e, falling back to the unit whose
// cluster recorded e as a user.
func (s *Snapshot) UnitOf(e intern.Handle) (string, bool) {
	if u, ok := s.owner[e]; ok {
		return u, true
	}
	u, ok := s.userUnit[e]
	return u, ok
}

// Unit returns the bookkeeping for unit.
func (s *Snapshot) Unit(unit string) (UnitInfo, bool) {
	info, ok := s.units[unit]
	return info, ok
}

// Units returns every known unit, sorted.
func (s *Snapshot) Units() []string {
	return slices.Sorted(maps.Keys(s.units))
}

// Len returns the number of committed declarations.
func (s *Snapshot) Len() int { return len(s.decls) }

// indexCluster adds c to the reverse index.
func (s *Snapshot) indexCluster(c *usage.Cluster) {
	s.clusters[c.Unit] = c
	for _, e := range c.Edges {
		m := s.users[e.Used]
		if m == nil {
			m = make(map[intern.Handle]usage.KindSet)
			s.users[e.Used] = m
		}
		m[e.User] = m[e.User].Union(e.Kinds)
		s.userUnit[e.User] = c.Unit
	}
}

// own records e as declared by unit.
func (s *Snapshot) own(unit string, e intern.Handle, d *model.Declaration) {
	if prev, ok := s.owner[e]; ok && prev != unit {
		s.owned[prev] = removeHandle(s.owned[prev], e)
	}
	s.decls[e] = d
	s.owner[e] = unit
	s.owned[unit] = insertHandle(s.owned[unit], e)
}

func insertHandle(hs []intern.Handle, h intern.Handle) []intern.Handle {
	i, found := slices.BinarySearch(hs, h)
	if found {
		return hs
	}
	return slices.Insert(slices.Clip(hs), i, h)
}

func removeHandle(hs []intern.Handle, h intern.Handle) []intern.Handle {
	i, found := slices.BinarySearch(hs, h)
	if !found {
		return hs
	}
	return slices.Delete(slices.Clone(hs), i, i+1)
}
