package sprout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jward/sprout/internal/model"
	"github.com/jward/sprout/internal/store"
)

// ErrRoundInProgress is returned by Round when another round is running.
var ErrRoundInProgress = errors.New("sprout: round in progress")

// readerVersionKey is the metadata key holding the reader version the graph
// was built with.
const readerVersionKey = "reader_version"

// DefaultCacheSize is the number of reader outputs kept in memory, keyed by
// unit fingerprint.
const DefaultCacheSize = 1024

// Engine is the incremental build driver. It owns the interning context, the
// dependency graph store and the reader. Rounds are serialized; queries read
// the last committed snapshot and may run concurrently with a round.
type Engine struct {
	ctx    *model.Context
	store  *store.Store
	reader Reader
	logger *slog.Logger
	lister UnitLister

	workers   int
	cacheSize int
	cache     *lru.Cache[string, *Records]

	mu    sync.Mutex
	state atomic.Int32
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers sets how many units are read concurrently. Values below one
// mean runtime.NumCPU().
func WithWorkers(n int) Option {
	return func(e *Engine) {
		e.workers = n
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithUnitLister lets the engine enumerate the project. With a lister, a
// round that has to discard the graph rebuilds it right away instead of
// leaving the store empty.
func WithUnitLister(fn UnitLister) Option {
	return func(e *Engine) {
		e.lister = fn
	}
}

// WithCacheSize sets how many reader outputs are cached by fingerprint.
// Zero disables the cache.
func WithCacheSize(n int) Option {
	return func(e *Engine) {
		e.cacheSize = n
	}
}

// New opens the dependency graph at dbPath and returns an Engine reading
// units through reader.
func New(dbPath string, reader Reader, opts ...Option) (*Engine, error) {
	if reader == nil {
		return nil, errors.New("sprout: nil reader")
	}
	e := &Engine{
		ctx:       model.NewContext(),
		reader:    reader,
		logger:    slog.New(slog.DiscardHandler),
		cacheSize: DefaultCacheSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.workers < 1 {
		e.workers = runtime.NumCPU()
	}
	if e.cacheSize > 0 {
		cache, err := lru.New[string, *Records](e.cacheSize)
		if err != nil {
			return nil, fmt.Errorf("sprout: cache: %w", err)
		}
		e.cache = cache
	}

	s, err := store.Open(dbPath, e.ctx)
	if err != nil {
		return nil, fmt.Errorf("sprout: open store: %w", err)
	}
	e.store = s
	if s.Recovered() {
		e.logger.Warn("dependency graph was unreadable and has been discarded", "db", dbPath)
	}
	return e, nil
}

// Close releases the store.
func (e *Engine) Close() error {
	return e.store.Close()
}

// State returns the phase the engine is currently in.
func (e *Engine) State() RoundState {
	return RoundState(e.state.Load())
}

func (e *Engine) setState(s RoundState) {
	e.state.Store(int32(s))
}

// Query returns a read-only view of the last committed graph.
func (e *Engine) Query() *QueryBuilder {
	return &QueryBuilder{ctx: e.ctx, snap: e.store.Snapshot()}
}

// Round processes the units in changed and reports which units must be
// recompiled. A failure inside the round never surfaces as a partial
// answer: the graph is discarded and the result asks for a full rebuild.
// Round returns an error only when another round is running, when ctx is
// cancelled, or when the fallback itself fails. A failed fallback still
// returns its result, which asks for a full rebuild.
func (e *Engine) Round(ctx context.Context, changed []string) (*RoundResult, error) {
	if !e.mu.TryLock() {
		return nil, ErrRoundInProgress
	}
	defer e.mu.Unlock()
	defer e.setState(StateIdle)

	start := time.Now()
	changed = normalizeUnits(changed)
	e.logger.Debug("round started", "changed", len(changed))

	var (
		res *RoundResult
		err error
	)
	if cause := e.staleCause(); cause != "" {
		res, err = e.fallback(ctx, changed, cause)
	} else {
		res, err = e.incremental(ctx, changed)
		if err != nil && ctx.Err() == nil {
			e.logger.Warn("round failed, discarding graph", "error", err)
			res, err = e.fallback(ctx, changed, err.Error())
		}
	}
	if err != nil {
		e.setState(StateAborted)
		if res != nil {
			res.Stats.Duration = time.Since(start)
		}
		return res, err
	}
	res.Stats.Duration = time.Since(start)
	e.logger.Info("round complete",
		"affected", len(res.Affected),
		"deleted", len(res.Deleted),
		"full_rebuild", res.RequiresFullRebuild,
		"duration", res.Stats.Duration)
	return res, nil
}

// Rebuild discards the graph and, if a lister is configured, rebuilds it
// from every listed unit.
func (e *Engine) Rebuild(ctx context.Context, cause string) (*RoundResult, error) {
	if !e.mu.TryLock() {
		return nil, ErrRoundInProgress
	}
	defer e.mu.Unlock()
	defer e.setState(StateIdle)

	start := time.Now()
	res, err := e.fallback(ctx, nil, cause)
	if err != nil {
		e.setState(StateAborted)
		return res, err
	}
	res.Stats.Duration = time.Since(start)
	return res, nil
}

// staleCause reports why the committed graph cannot be trusted, or "".
func (e *Engine) staleCause() string {
	if e.store.Recovered() {
		return "dependency graph was unreadable"
	}
	v, ok := e.reader.(Versioner)
	if !ok {
		return ""
	}
	stored, err := e.store.GetMetadata(readerVersionKey)
	if err != nil {
		return err.Error()
	}
	if stored == "" {
		if len(e.store.Units()) > 0 {
			return "reader version unknown"
		}
		return ""
	}
	if stored != v.Version() {
		return "reader version changed"
	}
	return ""
}

// recordReaderVersion stamps the graph with the reader's version after a
// successful commit.
func (e *Engine) recordReaderVersion() error {
	v, ok := e.reader.(Versioner)
	if !ok {
		return nil
	}
	return e.store.SetMetadata(readerVersionKey, v.Version())
}

// incremental runs one round against the committed graph.
func (e *Engine) incremental(ctx context.Context, changed []string) (*RoundResult, error) {
	res := &RoundResult{Affected: []string{}}
	if len(changed) == 0 {
		return res, nil
	}

	e.setState(StateScanning)
	scans, err := e.scan(ctx, changed, &res.Stats)
	if err != nil {
		return nil, err
	}

	e.setState(StateDiffing)
	tx := e.store.Begin()
	defer func() {
		if tx.State() == store.TxOpen {
			tx.Abort()
		}
	}()
	seeds, err := e.diff(tx, scans, res)
	if err != nil {
		return nil, err
	}

	e.setState(StatePropagating)
	deleted := make(map[string]bool, len(res.Deleted))
	for _, u := range res.Deleted {
		deleted[u] = true
	}
	affected := propagate(tx, seeds, deleted, &res.Stats)
	for _, s := range scans {
		if !s.deleted {
			affected[s.unit] = true
		}
	}
	res.Affected = sortedSet(affected)

	e.setState(StateCommitting)
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sprout: commit: %w", err)
	}
	if err := e.recordReaderVersion(); err != nil {
		return nil, fmt.Errorf("sprout: %w", err)
	}
	return res, nil
}

// fallback discards the graph and reports every unit it knows of. With a
// lister it immediately rescans the listed units into the empty store.
// Once the graph is discarded the result is returned even on error.
func (e *Engine) fallback(ctx context.Context, changed []string, cause string) (*RoundResult, error) {
	e.setState(StateAborted)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	known := make(map[string]bool)
	for _, u := range e.store.Units() {
		known[u] = true
	}
	for _, u := range changed {
		known[u] = true
	}
	lister := e.lister
	var listed []string
	if lister != nil {
		var err error
		listed, err = lister(ctx)
		if err != nil {
			e.logger.Warn("listing units failed, graph stays empty", "error", err)
			lister = nil
		}
		listed = normalizeUnits(listed)
		for _, u := range listed {
			known[u] = true
		}
	}

	if e.cache != nil {
		e.cache.Purge()
	}
	res := &RoundResult{
		Affected:            sortedSet(known),
		RequiresFullRebuild: true,
		Cause:               cause,
	}
	if err := e.store.Reset(); err != nil {
		return res, fmt.Errorf("sprout: fallback: %w", err)
	}
	e.logger.Warn("full rebuild required", "cause", cause, "units", len(known))

	if lister == nil {
		return res, nil
	}

	// Changed units the lister no longer knows may have been deleted; scan
	// them too so they are reported as such.
	rescan := slices.Clone(listed)
	for _, u := range changed {
		if _, found := slices.BinarySearch(listed, u); !found {
			rescan = append(rescan, u)
		}
	}
	inner, err := e.incremental(ctx, normalizeUnits(rescan))
	if err != nil {
		if rerr := e.store.Reset(); rerr != nil {
			e.logger.Error("reset after failed rebuild", "error", rerr)
		}
		return res, fmt.Errorf("sprout: rebuild: %w", err)
	}
	gone := make(map[string]bool, len(inner.Deleted))
	for _, u := range inner.Deleted {
		gone[u] = true
	}
	for u := range known {
		if gone[u] {
			delete(known, u)
		}
	}
	res.Affected = sortedSet(known)
	res.Deleted = inner.Deleted
	res.Stats = inner.Stats
	return res, nil
}

// normalizeUnits sorts and dedupes units, dropping empty ids.
func normalizeUnits(units []string) []string {
	out := make([]string, 0, len(units))
	for _, u := range units {
		if u != "" {
			out = append(out, u)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// sortedSet returns the keys of m in order, never nil.
func sortedSet(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
