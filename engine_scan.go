package sprout

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/jward/sprout/internal/intern"
	"github.com/jward/sprout/internal/model"
	"github.com/jward/sprout/internal/store"
	"github.com/jward/sprout/internal/usage"
)

// scanned is everything one worker learned about one unit.
type scanned struct {
	unit string
	hash string

	// deleted is set when the reader reported the unit as gone.
	deleted bool
	// unchanged is set when the fingerprint matches the committed one; the
	// unit was not read and its committed state stands.
	unchanged bool

	entities []intern.Handle
	decls    []*model.Declaration
	cluster  *usage.Cluster
}

// scan reads every unit on a bounded worker pool. Workers share only the
// interning context, which is safe for concurrent use. The first error
// cancels the remaining work.
//
//	Phase A (parallel): fingerprint, cache lookup, read, intern, cluster.
//	Phase B (serial):   the caller diffs and stages the results in order.
func (e *Engine) scan(ctx context.Context, units []string, stats *RoundStats) ([]*scanned, error) {
	base := e.store.Snapshot()
	out := make([]*scanned, len(units))
	var unchanged, hits atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, u := range units {
		g.Go(func() error {
			s, hit, err := e.scanUnit(gctx, base, u)
			if err != nil {
				return fmt.Errorf("scan %s: %w", u, err)
			}
			if s.unchanged {
				unchanged.Add(1)
			}
			if hit {
				hits.Add(1)
			}
			out[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	stats.Scanned += len(units)
	stats.Unchanged += int(unchanged.Load())
	stats.CacheHits += int(hits.Load())
	return out, nil
}

// scanUnit reads one unit. It reports whether the records came from the
// cache.
func (e *Engine) scanUnit(ctx context.Context, base *store.Snapshot, u string) (*scanned, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s := &scanned{unit: u}

	var fingerprint string
	if h, ok := e.reader.(Hasher); ok {
		fp, err := h.Hash(ctx, u)
		if errors.Is(err, fs.ErrNotExist) {
			s.deleted = true
			return s, false, nil
		}
		if err != nil {
			return nil, false, fmt.Errorf("fingerprint: %w", err)
		}
		fingerprint = fp
		if info, ok := base.Unit(u); ok && fp != "" && info.Hash == fp {
			s.hash = fp
			s.unchanged = true
			return s, false, nil
		}
	}

	recs, hit := e.cached(u, fingerprint)
	if !hit {
		var err error
		recs, err = e.reader.Read(ctx, u)
		if errors.Is(err, fs.ErrNotExist) {
			s.deleted = true
			return s, false, nil
		}
		if err != nil {
			return nil, false, fmt.Errorf("read: %w", err)
		}
		if recs == nil {
			recs = &Records{}
		}
		if fingerprint != "" && e.cache != nil {
			e.cache.Add(cacheKey(u, fingerprint), recs)
		}
	}

	s.hash = fingerprint
	if s.hash == "" {
		s.hash = store.RecordsDigest(recs)
	}
	if err := e.intern(s, recs); err != nil {
		return nil, false, err
	}
	return s, hit, nil
}

func (e *Engine) cached(u, fingerprint string) (*Records, bool) {
	if fingerprint == "" || e.cache == nil {
		return nil, false
	}
	return e.cache.Get(cacheKey(u, fingerprint))
}

func cacheKey(u, fingerprint string) string {
	return u + "\x00" + fingerprint
}

// intern converts raw records into declarations and the unit's cluster. A
// unit that fails half way contributes nothing. Every usage must come from
// an entity the unit itself declares.
func (e *Engine) intern(s *scanned, recs *Records) error {
	seen := make(map[intern.Handle]bool, len(recs.Declarations))
	for _, rec := range recs.Declarations {
		h, d, err := e.ctx.Declare(rec)
		if err != nil {
			return err
		}
		if seen[h] {
			return fmt.Errorf("duplicate declaration %s", model.EntityPath(rec.Owner, rec.Name))
		}
		seen[h] = true
		s.entities = append(s.entities, h)
		s.decls = append(s.decls, d)
	}

	reg := usage.NewRegistry(s.unit, e.ctx)
	for _, rec := range recs.Usages {
		if h, ok := e.ctx.Symbols().Lookup(rec.User); !ok || !seen[h] {
			reg.Discard()
			return fmt.Errorf("usage by undeclared user %q", rec.User)
		}
		if err := reg.Add(rec); err != nil {
			reg.Discard()
			return err
		}
	}
	c, err := reg.Finalize()
	if err != nil {
		return err
	}
	s.cluster = c
	return nil
}

// seed is an entity whose change must be propagated.
type seed struct {
	entity intern.Handle
	// owner is set for changed members; users of the owner see the change
	// through the owner's surface.
	owner intern.Handle
}

// diff compares every scanned unit's declarations with the committed graph,
// stages the new state in tx and returns the propagation seeds in a
// deterministic order.
func (e *Engine) diff(tx *store.Transaction, scans []*scanned, res *RoundResult) ([]seed, error) {
	type placed struct {
		unit string
		decl *model.Declaration
	}
	next := make(map[intern.Handle]placed)
	for _, s := range scans {
		if s.deleted || s.unchanged {
			continue
		}
		for i, h := range s.entities {
			if prev, dup := next[h]; dup {
				e.logger.Warn("entity declared by two units, keeping the first",
					"entity", e.ctx.Resolve(h), "kept", prev.unit, "dropped", s.unit)
				continue
			}
			next[h] = placed{unit: s.unit, decl: s.decls[i]}
		}
	}

	var seeds []seed
	addSeed := func(h intern.Handle, unit string, d *model.Declaration, diff model.Difference) {
		sd := seed{entity: h}
		if d.Kind() != model.DeclClass {
			sd.owner = d.Owner()
		}
		seeds = append(seeds, sd)
		res.Changes = append(res.Changes, Change{
			Entity:   e.ctx.Resolve(h),
			Unit:     unit,
			Aspects:  diff.Aspects.String(),
			Narrowed: diff.NarrowedToPackageLocal(),
		})
	}

	// Removed entities: everything a rescanned or deleted unit used to own
	// that no unit declares any more.
	for _, s := range scans {
		if s.unchanged {
			continue
		}
		for _, h := range tx.Base().OwnedBy(s.unit) {
			if _, ok := next[h]; ok {
				continue
			}
			old, _ := tx.OldDeclaration(h)
			addSeed(h, s.unit, old, model.Removal(old))
		}
	}

	// Changed and added entities, in scan order.
	for _, s := range scans {
		if s.deleted || s.unchanged {
			continue
		}
		for _, h := range s.entities {
			p := next[h]
			if p.unit != s.unit {
				continue
			}
			old, ok := tx.OldDeclaration(h)
			if !ok {
				res.Stats.Added++
				continue
			}
			d := model.Diff(old, p.decl)
			if d.Propagates() {
				addSeed(h, s.unit, old, d)
				continue
			}
			if !d.IsNoChange() {
				e.logger.Debug("change does not propagate", "entity", e.ctx.Resolve(h), "change", d.String())
			}
		}
	}

	// Stage: clear first so entities moving between rescanned units land
	// with their new owner.
	for _, s := range scans {
		switch {
		case s.deleted:
			tx.RemoveUnit(s.unit)
			res.Deleted = append(res.Deleted, s.unit)
		case !s.unchanged:
			tx.RemoveEntitiesOwnedBy(s.unit)
		}
	}
	for _, s := range scans {
		if s.deleted || s.unchanged {
			continue
		}
		for _, h := range s.entities {
			if p := next[h]; p.unit == s.unit {
				tx.PutDeclaration(s.unit, h, p.decl)
			}
		}
		tx.PutCluster(s.unit, s.cluster)
		tx.SetUnitHash(s.unit, s.hash)
	}

	res.Stats.Seeds = len(seeds)
	return seeds, nil
}
