package store

import (
	"fmt"
	"maps"
	"slices"

	"github.com/jward/sprout/internal/intern"
	"github.com/jward/sprout/internal/model"
	"github.com/jward/sprout/internal/usage"
)

// Commit writes the staged delta to SQLite in a single transaction and then
// publishes the new snapshot. If persisting fails the transaction ends
// ABORTED, the committed snapshot is unchanged, and the error wraps
// ErrPersist. Committing a finished transaction is a programmer error.
//
// Write order:
//  1. Declarations of cleared units
//  2. Removed units (usages + unit rows)
//  3. Replaced clusters
//  4. Staged declarations
//  5. Unit rows of every touched unit
func (tx *Transaction) Commit() error {
	tx.mustBeOpen("Commit")
	defer tx.store.release(tx)

	next := tx.apply()
	if err := tx.persist(next); err != nil {
		tx.state = TxAborted
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	tx.store.snap.Store(next)
	tx.state = TxCommitted
	return nil
}

func (tx *Transaction) persist(next *Snapshot) error {
	sqlTx, err := tx.store.db.Begin()
	if err != nil {
		return fmt.Errorf("commit: begin: %w", err)
	}
	defer sqlTx.Rollback()

	ctx := tx.store.ctx

	// 1. Declarations of cleared units
	for _, unit := range sortedKeys(tx.cleared) {
		if _, err := sqlTx.Exec(`DELETE FROM declarations WHERE unit = ?`, unit); err != nil {
			return fmt.Errorf("commit: clear %q: %w", unit, err)
		}
	}

	// 2. Removed units
	if removed := sortedKeys(tx.removed); len(removed) > 0 {
		args := stringsToArgs(removed)
		ph := placeholderList(len(removed))
		if _, err := sqlTx.Exec(`DELETE FROM usages WHERE unit IN (`+ph+`)`, args...); err != nil {
			return fmt.Errorf("commit: remove usages: %w", err)
		}
		if _, err := sqlTx.Exec(`DELETE FROM units WHERE id IN (`+ph+`)`, args...); err != nil {
			return fmt.Errorf("commit: remove units: %w", err)
		}
	}

	// 3. Replaced clusters
	if len(tx.clusters) > 0 {
		ins, err := sqlTx.Prepare(`INSERT INTO usages (unit, user, symbol, kinds) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("commit: prepare usages: %w", err)
		}
		defer ins.Close()
		for _, unit := range slices.Sorted(maps.Keys(tx.clusters)) {
			c := tx.clusters[unit]
			if c == nil {
				continue
			}
			if _, err := sqlTx.Exec(`DELETE FROM usages WHERE unit = ?`, unit); err != nil {
				return fmt.Errorf("commit: replace cluster %q: %w", unit, err)
			}
			for _, e := range c.Edges {
				if _, err := ins.Exec(unit, ctx.Resolve(e.User), ctx.Resolve(e.Used), int64(e.Kinds)); err != nil {
					return fmt.Errorf("commit: usage %s -> %s: %w", ctx.Resolve(e.User), ctx.Resolve(e.Used), err)
				}
			}
		}
	}

	// 4. Staged declarations
	if len(tx.puts) > 0 {
		ins, err := sqlTx.Prepare(`INSERT OR REPLACE INTO declarations (entity, unit, record) VALUES (?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("commit: prepare declarations: %w", err)
		}
		defer ins.Close()
		for _, e := range sortedHandles(tx.puts) {
			p := tx.puts[e]
			name := tx.store.entityName(e)
			if _, err := ins.Exec(name, p.unit, model.EncodeDeclaration(ctx, p.decl)); err != nil {
				return fmt.Errorf("commit: declaration %q: %w", name, err)
			}
		}
	}

	// 5. Unit rows
	touched := make(map[string]bool)
	for u := range tx.hashes {
		touched[u] = true
	}
	for u, c := range tx.clusters {
		if c != nil {
			touched[u] = true
		}
	}
	for _, p := range tx.puts {
		touched[p.unit] = true
	}
	for _, unit := range sortedKeys(touched) {
		info := next.units[unit]
		_, err := sqlTx.Exec(`INSERT INTO units (id, hash, scanned_at) VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET hash = excluded.hash, scanned_at = excluded.scanned_at`,
			unit, info.Hash, info.ScannedAt)
		if err != nil {
			return fmt.Errorf("commit: unit %q: %w", unit, err)
		}
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// apply builds the snapshot that results from the staged delta. The base
// snapshot is shared where untouched and never modified.
func (tx *Transaction) apply() *Snapshot {
	b := tx.base
	next := &Snapshot{
		decls:    maps.Clone(b.decls),
		owner:    maps.Clone(b.owner),
		owned:    maps.Clone(b.owned),
		clusters: maps.Clone(b.clusters),
		users:    maps.Clone(b.users),
		userUnit: maps.Clone(b.userUnit),
		units:    maps.Clone(b.units),
	}

	for _, unit := range sortedKeys(tx.cleared) {
		for _, e := range b.owned[unit] {
			delete(next.decls, e)
			delete(next.owner, e)
		}
		delete(next.owned, unit)
	}
	for _, e := range sortedHandles(tx.puts) {
		p := tx.puts[e]
		next.own(p.unit, e, p.decl)
	}

	// Drop replaced and removed clusters from the reverse index, then add
	// the replacements. Inner maps are copied before their first write.
	copied := make(map[intern.Handle]bool)
	mutable := func(symbol intern.Handle) map[intern.Handle]usage.KindSet {
		if !copied[symbol] {
			next.users[symbol] = maps.Clone(next.users[symbol])
			if next.users[symbol] == nil {
				next.users[symbol] = make(map[intern.Handle]usage.KindSet)
			}
			copied[symbol] = true
		}
		return next.users[symbol]
	}
	units := slices.Sorted(maps.Keys(tx.clusters))
	for _, unit := range units {
		old := b.clusters[unit]
		if old == nil {
			continue
		}
		for _, e := range old.Edges {
			m := mutable(e.Used)
			delete(m, e.User)
			if len(m) == 0 {
				delete(next.users, e.Used)
				delete(copied, e.Used)
			}
			if next.userUnit[e.User] == unit {
				delete(next.userUnit, e.User)
			}
		}
		delete(next.clusters, unit)
	}
	for _, unit := range units {
		c := tx.clusters[unit]
		if c == nil {
			continue
		}
		next.clusters[unit] = c
		for _, e := range c.Edges {
			m := mutable(e.Used)
			m[e.User] = m[e.User].Union(e.Kinds)
			next.userUnit[e.User] = unit
		}
	}

	now := nowUTC()
	for _, unit := range sortedKeys(tx.removed) {
		delete(next.units, unit)
	}
	touch := func(unit string) {
		if _, ok := next.units[unit]; !ok {
			next.units[unit] = UnitInfo{ScannedAt: now}
		}
	}
	for _, p := range tx.puts {
		touch(p.unit)
	}
	for _, unit := range units {
		if tx.clusters[unit] != nil {
			touch(unit)
		}
	}
	for unit, hash := range tx.hashes {
		next.units[unit] = UnitInfo{Hash: hash, ScannedAt: now}
	}
	return next
}

func sortedKeys(m map[string]bool) []string {
	return slices.Sorted(maps.Keys(m))
}

func sortedHandles[V any](m map[intern.Handle]V) []intern.Handle {
	return slices.Sorted(maps.Keys(m))
}
