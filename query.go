package sprout

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/jward/sprout/internal/intern"
	"github.com/jward/sprout/internal/model"
	"github.com/jward/sprout/internal/store"
	"github.com/jward/sprout/internal/usage"
)

// QueryBuilder is a read-only view of one committed graph. It never sees a
// round's staged state and stays valid after later rounds commit.
type QueryBuilder struct {
	ctx  *model.Context
	snap *store.Snapshot
}

// Use is one usage edge as seen from either end.
type Use struct {
	// User is the using entity; Used the entity or symbol it uses.
	User  string   `json:"user" yaml:"user"`
	Used  string   `json:"used" yaml:"used"`
	Unit  string   `json:"unit" yaml:"unit"`
	Kinds []string `json:"kinds" yaml:"kinds"`
}

// Unit is the bookkeeping the graph keeps for one unit.
type Unit struct {
	ID           string    `json:"id" yaml:"id"`
	Hash         string    `json:"hash" yaml:"hash"`
	ScannedAt    time.Time `json:"scanned_at" yaml:"scanned_at"`
	Declarations int       `json:"declarations" yaml:"declarations"`
}

func (q *QueryBuilder) lookup(path string) (intern.Handle, bool) {
	return q.ctx.Symbols().Lookup(path)
}

func kindNames(s usage.KindSet) []string {
	var out []string
	for _, k := range s.Kinds() {
		out = append(out, k.String())
	}
	return out
}

// UsersOf returns every entity that uses path, sorted by user.
func (q *QueryBuilder) UsersOf(path string) []Use {
	h, ok := q.lookup(path)
	if !ok {
		return nil
	}
	var out []Use
	for user, kinds := range q.snap.UsersOf(h) {
		u, _ := q.snap.UnitOf(user)
		out = append(out, Use{
			User:  q.ctx.Resolve(user),
			Used:  path,
			Unit:  u,
			Kinds: kindNames(kinds),
		})
	}
	slices.SortFunc(out, func(a, b Use) int { return cmp.Compare(a.User, b.User) })
	return out
}

// UsesOf returns what path uses, sorted by used symbol.
func (q *QueryBuilder) UsesOf(path string) []Use {
	h, ok := q.lookup(path)
	if !ok {
		return nil
	}
	unit, ok := q.snap.UnitOf(h)
	if !ok {
		return nil
	}
	c := q.snap.Cluster(unit)
	if c == nil {
		return nil
	}
	var out []Use
	for _, e := range c.Edges {
		if e.User != h {
			continue
		}
		out = append(out, Use{
			User:  path,
			Used:  q.ctx.Resolve(e.Used),
			Unit:  unit,
			Kinds: kindNames(e.Kinds),
		})
	}
	slices.SortFunc(out, func(a, b Use) int { return cmp.Compare(a.Used, b.Used) })
	return out
}

// Declaration returns the committed declaration of path.
func (q *QueryBuilder) Declaration(path string) (DeclarationRecord, bool) {
	h, ok := q.lookup(path)
	if !ok {
		return DeclarationRecord{}, false
	}
	d, ok := q.snap.Declaration(h)
	if !ok {
		return DeclarationRecord{}, false
	}
	return q.ctx.Record(d), true
}

// DeclarationsOf returns the declarations unit owns, sorted by entity path.
func (q *QueryBuilder) DeclarationsOf(unit string) []DeclarationRecord {
	var out []DeclarationRecord
	for _, h := range q.snap.OwnedBy(unit) {
		if d, ok := q.snap.Declaration(h); ok {
			out = append(out, q.ctx.Record(d))
		}
	}
	slices.SortFunc(out, func(a, b DeclarationRecord) int {
		return strings.Compare(model.EntityPath(a.Owner, a.Name), model.EntityPath(b.Owner, b.Name))
	})
	return out
}

// UnitOf returns the unit declaring path, or the unit that recorded it as a
// user.
func (q *QueryBuilder) UnitOf(path string) (string, bool) {
	h, ok := q.lookup(path)
	if !ok {
		return "", false
	}
	return q.snap.UnitOf(h)
}

// Units returns every unit in the graph, sorted by id.
func (q *QueryBuilder) Units() []Unit {
	ids := q.snap.Units()
	out := make([]Unit, 0, len(ids))
	for _, id := range ids {
		info, _ := q.snap.Unit(id)
		out = append(out, Unit{
			ID:           id,
			Hash:         info.Hash,
			ScannedAt:    info.ScannedAt,
			Declarations: len(q.snap.OwnedBy(id)),
		})
	}
	return out
}
