package store

import (
	"fmt"
	"maps"
	"slices"

	"github.com/jward/sprout/internal/intern"
	"github.com/jward/sprout/internal/model"
	"github.com/jward/sprout/internal/usage"
)

// TxState is the lifecycle state of a Transaction.
type TxState int

const (
	TxOpen TxState = iota
	TxCommitted
	TxAborted
)

func (s TxState) String() string {
	switch s {
	case TxOpen:
		return "open"
	case TxCommitted:
		return "committed"
	case TxAborted:
		return "aborted"
	}
	return fmt.Sprintf("TxState(%d)", int(s))
}

type stagedDecl struct {
	unit string
	decl *model.Declaration
}

// Transaction is a staged overlay on top of the snapshot that was current
// when it began. Nothing it stages is visible to other readers until
// Commit; Abort drops the overlay.
type Transaction struct {
	store *Store
	base  *Snapshot
	state TxState

	puts map[intern.Handle]stagedDecl
	// cleared holds units whose committed entities are dropped.
	cleared map[string]bool
	// clusters holds replacement clusters; a nil value removes the cluster.
	clusters map[string]*usage.Cluster
	hashes   map[string]string
	removed  map[string]bool

	// Reverse index over staged clusters, rebuilt lazily.
	stagedUsers    map[intern.Handle]map[intern.Handle]usage.KindSet
	stagedUserUnit map[intern.Handle]string
	dirty          bool
}

func newTransaction(s *Store, base *Snapshot) *Transaction {
	return &Transaction{
		store:    s,
		base:     base,
		puts:     make(map[intern.Handle]stagedDecl),
		cleared:  make(map[string]bool),
		clusters: make(map[string]*usage.Cluster),
		hashes:   make(map[string]string),
		removed:  make(map[string]bool),
	}
}

// State returns the transaction's lifecycle state.
func (tx *Transaction) State() TxState { return tx.state }

// Base returns the snapshot the transaction started from.
func (tx *Transaction) Base() *Snapshot { return tx.base }

func (tx *Transaction) mustBeOpen(op string) {
	if tx.state != TxOpen {
		panic(fmt.Sprintf("store: %s on %s transaction", op, tx.state))
	}
}

// Declaration returns the declaration of e as the transaction sees it.
func (tx *Transaction) Declaration(e intern.Handle) (*model.Declaration, bool) {
	if p, ok := tx.puts[e]; ok {
		return p.decl, true
	}
	if u, ok := tx.base.owner[e]; ok && tx.cleared[u] {
		return nil, false
	}
	return tx.base.Declaration(e)
}

// OldDeclaration returns the committed declaration of e, ignoring staged
// changes.
func (tx *Transaction) OldDeclaration(e intern.Handle) (*model.Declaration, bool) {
	return tx.base.Declaration(e)
}

// DeclarationsOwnedBy returns the entities unit declares as the
// transaction sees it, in handle order.
func (tx *Transaction) DeclarationsOwnedBy(unit string) []intern.Handle {
	var out []intern.Handle
	if !tx.cleared[unit] {
		for _, e := range tx.base.owned[unit] {
			if p, ok := tx.puts[e]; ok && p.unit != unit {
				continue
			}
			out = append(out, e)
		}
	}
	for e, p := range tx.puts {
		if p.unit == unit {
			out = insertHandle(out, e)
		}
	}
	return out
}

// PutDeclaration stages d as the declaration of e, owned by unit. An entity
// previously owned by another unit moves to unit.
func (tx *Transaction) PutDeclaration(unit string, e intern.Handle, d *model.Declaration) {
	tx.mustBeOpen("PutDeclaration")
	tx.puts[e] = stagedDecl{unit: unit, decl: d}
}

// RemoveEntitiesOwnedBy drops every entity unit declares, including ones
// staged earlier in this transaction.
func (tx *Transaction) RemoveEntitiesOwnedBy(unit string) {
	tx.mustBeOpen("RemoveEntitiesOwnedBy")
	tx.cleared[unit] = true
	for e, p := range tx.puts {
		if p.unit == unit {
			delete(tx.puts, e)
		}
	}
}

// PutCluster stages c as the complete usage cluster of unit.
func (tx *Transaction) PutCluster(unit string, c *usage.Cluster) {
	tx.mustBeOpen("PutCluster")
	tx.clusters[unit] = c
	tx.dirty = true
}

// SetUnitHash records the fingerprint unit was scanned with.
func (tx *Transaction) SetUnitHash(unit, hash string) {
	tx.mustBeOpen("SetUnitHash")
	tx.hashes[unit] = hash
	delete(tx.removed, unit)
}

// RemoveUnit forgets unit entirely: its entities, its cluster and its
// bookkeeping.
func (tx *Transaction) RemoveUnit(unit string) {
	tx.mustBeOpen("RemoveUnit")
	tx.RemoveEntitiesOwnedBy(unit)
	tx.clusters[unit] = nil
	delete(tx.hashes, unit)
	tx.removed[unit] = true
	tx.dirty = true
}

func (tx *Transaction) reindex() {
	if !tx.dirty {
		return
	}
	tx.stagedUsers = make(map[intern.Handle]map[intern.Handle]usage.KindSet)
	tx.stagedUserUnit = make(map[intern.Handle]string)
	for _, unit := range slices.Sorted(maps.Keys(tx.clusters)) {
		c := tx.clusters[unit]
		if c == nil {
			continue
		}
		for _, e := range c.Edges {
			m := tx.stagedUsers[e.Used]
			if m == nil {
				m = make(map[intern.Handle]usage.KindSet)
				tx.stagedUsers[e.Used] = m
			}
			m[e.User] = m[e.User].Union(e.Kinds)
			tx.stagedUserUnit[e.User] = unit
		}
	}
	tx.dirty = false
}

// UsersOf returns the entities using symbol in either the committed
// reverse index or the clusters staged in this transaction.
func (tx *Transaction) UsersOf(symbol intern.Handle) map[intern.Handle]usage.KindSet {
	tx.reindex()
	old, staged := tx.base.users[symbol], tx.stagedUsers[symbol]
	out := make(map[intern.Handle]usage.KindSet, len(old)+len(staged))
	for u, k := range old {
		out[u] = k
	}
	for u, k := range staged {
		out[u] = out[u].Union(k)
	}
	return out
}

// OldUsersOf returns the users of symbol in the committed reverse index.
func (tx *Transaction) OldUsersOf(symbol intern.Handle) map[intern.Handle]usage.KindSet {
	return tx.base.users[symbol]
}

// UnitOf returns the unit declaring e, staged ownership first.
func (tx *Transaction) UnitOf(e intern.Handle) (string, bool) {
	if p, ok := tx.puts[e]; ok {
		return p.unit, true
	}
	if u, ok := tx.base.owner[e]; ok && !tx.cleared[u] {
		return u, true
	}
	tx.reindex()
	if u, ok := tx.stagedUserUnit[e]; ok {
		return u, true
	}
	return tx.base.UnitOf(e)
}

// UnitsOfUser returns every unit that recorded e as a user, committed or
// staged, sorted.
func (tx *Transaction) UnitsOfUser(e intern.Handle) []string {
	tx.reindex()
	var out []string
	if u, ok := tx.base.userUnit[e]; ok {
		out = append(out, u)
	}
	if u, ok := tx.stagedUserUnit[e]; ok && !slices.Contains(out, u) {
		out = append(out, u)
	}
	slices.Sort(out)
	return out
}

// Abort discards everything staged. Aborting a finished transaction is a
// programmer error.
func (tx *Transaction) Abort() {
	tx.mustBeOpen("Abort")
	tx.state = TxAborted
	tx.store.release(tx)
}
