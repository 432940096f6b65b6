package sprout

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeReader serves records from memory. A unit missing from units reads
// as deleted.
type fakeReader struct {
	mu    sync.Mutex
	units map[string]*Records
	fail  map[string]error
	reads map[string]int
}

func newFakeReader() *fakeReader {
	return &fakeReader{
		units: make(map[string]*Records),
		fail:  make(map[string]error),
		reads: make(map[string]int),
	}
}

func (r *fakeReader) Read(_ context.Context, u string) (*Records, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads[u]++
	if err := r.fail[u]; err != nil {
		return nil, err
	}
	recs, ok := r.units[u]
	if !ok {
		return nil, fmt.Errorf("read %s: %w", u, fs.ErrNotExist)
	}
	return recs, nil
}

func (r *fakeReader) set(u string, decls []DeclarationRecord, uses ...UsageRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.units[u] = &Records{Declarations: decls, Usages: uses}
}

func (r *fakeReader) remove(u string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.units, u)
}

func (r *fakeReader) failWith(u string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.fail, u)
		return
	}
	r.fail[u] = err
}

func (r *fakeReader) readCount(u string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reads[u]
}

// list returns the units currently readable.
func (r *fakeReader) list(context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for u := range r.units {
		out = append(out, u)
	}
	return out, nil
}

// versionedReader adds a reader version.
type versionedReader struct {
	*fakeReader
	version string
}

func (r *versionedReader) Version() string { return r.version }

// hashingReader fingerprints units by an explicit revision number.
type hashingReader struct {
	*fakeReader
	revs map[string]int
}

func (r *hashingReader) Hash(_ context.Context, u string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.units[u]; !ok {
		return "", fmt.Errorf("hash %s: %w", u, fs.ErrNotExist)
	}
	return fmt.Sprintf("rev-%d", r.revs[u]), nil
}

func class(name, mods string, sig ...string) DeclarationRecord {
	d := DeclarationRecord{Kind: "class", Name: name, Modifiers: mods}
	if len(sig) > 0 {
		d.Signature = sig[0]
	}
	return d
}

func method(owner, name, mods, sig string) DeclarationRecord {
	return DeclarationRecord{Kind: "method", Owner: owner, Name: name, Modifiers: mods, Signature: sig}
}

func field(owner, name, mods, typ string) DeclarationRecord {
	return DeclarationRecord{Kind: "field", Owner: owner, Name: name, Modifiers: mods, Type: typ}
}

func use(user, used, kind string) UsageRecord {
	return UsageRecord{User: user, Used: used, Kind: kind}
}

func newTestEngine(t *testing.T, r Reader, opts ...Option) *Engine {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "sprout.db")
	e, err := New(dbPath, r, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func round(t *testing.T, e *Engine, units ...string) *RoundResult {
	t.Helper()
	res, err := e.Round(context.Background(), units)
	require.NoError(t, err)
	return res
}

// seedFooBar builds unit A declaring public class Foo and unit B whose
// Bar.bar() uses Foo.
func seedFooBar(t *testing.T) (*fakeReader, *Engine) {
	t.Helper()
	r := newFakeReader()
	r.set("A", []DeclarationRecord{class("Foo", "public")})
	r.set("B", []DeclarationRecord{
		class("Bar", "public"),
		method("Bar", "bar(0)", "public", "()V"),
	}, use("Bar.bar(0)", "Foo", "type"))

	e := newTestEngine(t, r)
	res := round(t, e, "A", "B")
	require.False(t, res.RequiresFullRebuild)
	require.Equal(t, []string{"A", "B"}, res.Affected)
	return r, e
}

func TestNew_NilReader(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "sprout.db"), nil)
	require.Error(t, err)
}

func TestNew_InvalidPath(t *testing.T) {
	_, err := New("/nonexistent/dir/sprout.db", newFakeReader())
	require.Error(t, err)
}

func TestRound_EmptyChangeSet(t *testing.T) {
	e := newTestEngine(t, newFakeReader())
	res := round(t, e)
	assert.Empty(t, res.Affected)
	assert.False(t, res.RequiresFullRebuild)
	assert.Equal(t, StateIdle, e.State())
}

func TestRound_NarrowingToPackageLocalAffectsUsers(t *testing.T) {
	r, e := seedFooBar(t)

	r.set("A", []DeclarationRecord{class("Foo", "")})
	res := round(t, e, "A")

	assert.Equal(t, []string{"A", "B"}, res.Affected)
	assert.False(t, res.RequiresFullRebuild)
	require.Len(t, res.Changes, 1)
	assert.Equal(t, "Foo", res.Changes[0].Entity)
	assert.True(t, res.Changes[0].Narrowed)
	assert.Equal(t, 1, res.Stats.Seeds)
}

func TestRound_IdenticalRescanAffectsOnlyItself(t *testing.T) {
	_, e := seedFooBar(t)

	res := round(t, e, "A")
	assert.Equal(t, []string{"A"}, res.Affected)
	assert.Empty(t, res.Changes)

	res = round(t, e, "A")
	assert.Equal(t, []string{"A"}, res.Affected, "idempotent across rounds")
}

func TestRound_WideningDoesNotPropagate(t *testing.T) {
	r, e := seedFooBar(t)
	r.set("A", []DeclarationRecord{class("Foo", "protected")})
	round(t, e, "A")

	r.set("A", []DeclarationRecord{class("Foo", "public")})
	res := round(t, e, "A")
	assert.Equal(t, []string{"A"}, res.Affected)
	assert.Empty(t, res.Changes)
}

func TestRound_AccessChangeThatIsNotWideningPropagates(t *testing.T) {
	r, e := seedFooBar(t)

	r.set("A", []DeclarationRecord{class("Foo", "public final")})
	res := round(t, e, "A")
	assert.Equal(t, []string{"A", "B"}, res.Affected)
}

func TestRound_MemberChangeReachesUsersOfOwner(t *testing.T) {
	r := newFakeReader()
	r.set("A", []DeclarationRecord{
		class("Foo", "public"),
		method("Foo", "run(0)", "public", "()V"),
	})
	r.set("B", []DeclarationRecord{class("Bar", "public")}, use("Bar", "Foo", "type"))
	r.set("C", []DeclarationRecord{class("Baz", "public")}, use("Baz", "Other", "type"))
	e := newTestEngine(t, r)
	round(t, e, "A", "B", "C")

	r.set("A", []DeclarationRecord{
		class("Foo", "public"),
		method("Foo", "run(0)", "public", "()I"),
	})
	res := round(t, e, "A")
	assert.Equal(t, []string{"A", "B"}, res.Affected)
	require.Len(t, res.Changes, 1)
	assert.Equal(t, "Foo.run(0)", res.Changes[0].Entity)
	assert.Equal(t, "signature", res.Changes[0].Aspects)
}

func TestRound_RemovedMemberAffectsCallers(t *testing.T) {
	r := newFakeReader()
	r.set("A", []DeclarationRecord{
		class("Foo", "public"),
		method("Foo", "old(0)", "public", "()V"),
	})
	r.set("B", []DeclarationRecord{
		class("Bar", "public"),
		method("Bar", "go(0)", "", "()V"),
	}, use("Bar.go(0)", "Foo.old(0)", "call"))
	e := newTestEngine(t, r)
	round(t, e, "A", "B")

	r.set("A", []DeclarationRecord{class("Foo", "public")})
	res := round(t, e, "A")
	assert.Equal(t, []string{"A", "B"}, res.Affected)
	require.Len(t, res.Changes, 1)
	assert.Equal(t, "Foo.old(0)", res.Changes[0].Entity)
	assert.Contains(t, res.Changes[0].Aspects, "removed")

	_, ok := e.Query().Declaration("Foo.old(0)")
	assert.False(t, ok)
}

func TestRound_InheritanceCarriesChangesButPlainUsesDoNot(t *testing.T) {
	r := newFakeReader()
	r.set("A", []DeclarationRecord{class("Foo", "public"), field("Foo", "x", "public", "I")})
	r.set("B", []DeclarationRecord{class("Bar", "public", "LFoo;")}, use("Bar", "Foo", "extends"))
	r.set("C", []DeclarationRecord{class("Baz", "")}, use("Baz", "Bar", "type"))
	r.set("D", []DeclarationRecord{class("Qux", "")}, use("Qux", "Foo", "type"))
	r.set("E", []DeclarationRecord{class("Quux", "")}, use("Quux", "Qux", "type"))
	e := newTestEngine(t, r)
	round(t, e, "A", "B", "C", "D", "E")

	r.set("A", []DeclarationRecord{class("Foo", "public"), field("Foo", "x", "public", "J")})
	res := round(t, e, "A")

	// Bar inherits Foo, so users of Bar see the change; Qux only uses Foo,
	// so users of Qux do not.
	assert.Equal(t, []string{"A", "B", "C", "D"}, res.Affected)
}

func TestRound_MonotonicPropagation(t *testing.T) {
	r := newFakeReader()
	r.set("A", []DeclarationRecord{class("Foo", "public"), method("Foo", "f(0)", "public", "()V")})
	r.set("B", []DeclarationRecord{class("Bar", "")}, use("Bar", "Foo.f(0)", "call"))
	r.set("C", []DeclarationRecord{class("Baz", "")}, use("Baz", "Foo", "type"))
	e := newTestEngine(t, r)
	round(t, e, "A", "B", "C")

	// A larger change set never yields fewer affected units.
	r.set("A", []DeclarationRecord{class("Foo", "public"), method("Foo", "f(0)", "public", "()I")})
	small := round(t, e, "A")

	r.set("A", []DeclarationRecord{class("Foo", "public"), method("Foo", "f(0)", "public", "()J")})
	large := round(t, e, "A", "C")

	assert.Subset(t, large.Affected, small.Affected)
}

func TestRound_CyclicUsagesTerminate(t *testing.T) {
	r := newFakeReader()
	r.set("A", []DeclarationRecord{class("Foo", "public")}, use("Foo", "Bar", "extends"))
	r.set("B", []DeclarationRecord{class("Bar", "public")}, use("Bar", "Foo", "extends"))
	r.set("C", []DeclarationRecord{class("Baz", "public")}, use("Baz", "Bar", "call"))
	e := newTestEngine(t, r)
	round(t, e, "A", "B", "C")

	r.set("A", []DeclarationRecord{class("Foo", "")}, use("Foo", "Bar", "extends"))
	res := round(t, e, "A")
	assert.Equal(t, []string{"A", "B", "C"}, res.Affected)
	assert.Equal(t, 2, res.Stats.Visited)
}

func TestRound_DeletedUnit(t *testing.T) {
	r, e := seedFooBar(t)

	r.remove("A")
	res := round(t, e, "A")
	assert.Equal(t, []string{"B"}, res.Affected)
	assert.Equal(t, []string{"A"}, res.Deleted)
	assert.False(t, res.RequiresFullRebuild)

	units := e.Query().Units()
	require.Len(t, units, 1)
	assert.Equal(t, "B", units[0].ID)
}

func TestRound_EntityMovesBetweenUnits(t *testing.T) {
	r, e := seedFooBar(t)

	r.set("A", nil)
	r.set("C", []DeclarationRecord{class("Foo", "public")})
	res := round(t, e, "A", "C")

	assert.Equal(t, []string{"A", "C"}, res.Affected)
	assert.Empty(t, res.Changes)
	u, ok := e.Query().UnitOf("Foo")
	require.True(t, ok)
	assert.Equal(t, "C", u)
	assert.Empty(t, e.Query().DeclarationsOf("A"))
}

func TestRound_AddedEntityDoesNotSeed(t *testing.T) {
	r, e := seedFooBar(t)

	r.set("A", []DeclarationRecord{class("Foo", "public"), class("Fresh", "public")})
	res := round(t, e, "A")
	assert.Equal(t, []string{"A"}, res.Affected)
	assert.Equal(t, 1, res.Stats.Added)
}

func TestRound_ReaderFailureFallsBackToFullRebuild(t *testing.T) {
	r, e := seedFooBar(t)

	r.set("A", []DeclarationRecord{class("Foo", "")})
	r.failWith("C", errors.New("disk on fire"))
	res := round(t, e, "A", "C")

	assert.True(t, res.RequiresFullRebuild)
	assert.Contains(t, res.Cause, "disk on fire")
	assert.Equal(t, []string{"A", "B", "C"}, res.Affected)
	assert.Empty(t, e.Query().Units(), "graph discarded")
	assert.Equal(t, StateIdle, e.State())

	// The next round starts from an empty graph.
	r.failWith("C", nil)
	res = round(t, e, "A", "B")
	assert.False(t, res.RequiresFullRebuild)
	assert.Equal(t, []string{"A", "B"}, res.Affected)
}

func TestRound_FallbackRebuildsWithLister(t *testing.T) {
	r := newFakeReader()
	r.set("A", []DeclarationRecord{class("Foo", "public")})
	r.set("B", []DeclarationRecord{class("Bar", "")}, use("Bar", "Foo", "type"))
	e := newTestEngine(t, r, WithUnitLister(r.list))
	round(t, e, "A", "B")

	r.failWith("A", errors.New("transient"))
	r.set("C", []DeclarationRecord{class("Baz", "")})
	var calls atomic.Int32
	e.reader = ReaderFunc(func(ctx context.Context, u string) (*Records, error) {
		if calls.Add(1) == 1 {
			return r.Read(ctx, u)
		}
		r.failWith("A", nil)
		return r.Read(ctx, u)
	})

	res := round(t, e, "A")
	assert.True(t, res.RequiresFullRebuild)
	assert.Equal(t, []string{"A", "B", "C"}, res.Affected)

	units := e.Query().Units()
	require.Len(t, units, 3, "graph rebuilt from the listed units")
	users := e.Query().UsersOf("Foo")
	require.Len(t, users, 1)
	assert.Equal(t, "Bar", users[0].User)
}

func TestRound_CommitFailureStillRequestsFullRebuild(t *testing.T) {
	r, e := seedFooBar(t)
	require.NoError(t, e.store.DB().Close())

	r.set("A", []DeclarationRecord{class("Foo", "")})
	res, err := e.Round(context.Background(), []string{"A"})
	require.Error(t, err)
	require.NotNil(t, res)
	assert.True(t, res.RequiresFullRebuild)
	assert.Equal(t, []string{"A", "B"}, res.Affected)
	assert.Empty(t, e.Query().Units(), "stale graph dropped from memory")
	assert.True(t, e.store.Recovered())
	assert.Equal(t, StateIdle, e.State())

	// The database is still broken, so the next round asks again.
	res, err = e.Round(context.Background(), []string{"B"})
	require.Error(t, err)
	require.NotNil(t, res)
	assert.True(t, res.RequiresFullRebuild)
	assert.Equal(t, []string{"B"}, res.Affected)
}

func TestRound_UsageByUndeclaredUserDiscardsGraph(t *testing.T) {
	r, e := seedFooBar(t)

	r.set("B", nil, use("Ghost.g", "Foo", "call"))
	res := round(t, e, "B")
	assert.True(t, res.RequiresFullRebuild)
	assert.Contains(t, res.Cause, "Ghost.g")
	assert.Empty(t, e.Query().UsersOf("Foo"))
	_, declared := e.Query().Declaration("Ghost.g")
	assert.False(t, declared)
}

func TestRound_InvalidRecordDiscardsGraph(t *testing.T) {
	r, e := seedFooBar(t)

	before := e.Query().DeclarationsOf("B")
	r.set("B", []DeclarationRecord{class("Bar", "private")})
	r.set("A", []DeclarationRecord{
		class("Foo", "public"),
		{Kind: "field", Owner: "Foo", Name: "bad", Type: "Lunterminated"},
	})
	res := round(t, e, "A", "B")
	assert.True(t, res.RequiresFullRebuild)
	assert.NotEmpty(t, before)
	assert.Empty(t, e.Query().DeclarationsOf("B"), "nothing from the failed round was committed")
}

func TestRound_ReaderVersionChangeForcesRebuild(t *testing.T) {
	r := &versionedReader{fakeReader: newFakeReader(), version: "v1"}
	r.set("A", []DeclarationRecord{class("Foo", "public")})
	e := newTestEngine(t, r)

	res := round(t, e, "A")
	assert.False(t, res.RequiresFullRebuild)

	res = round(t, e, "A")
	assert.False(t, res.RequiresFullRebuild, "same version keeps the graph")

	r.version = "v2"
	res = round(t, e, "A")
	assert.True(t, res.RequiresFullRebuild)
	assert.Equal(t, "reader version changed", res.Cause)
	assert.Equal(t, []string{"A"}, res.Affected)

	res = round(t, e, "A")
	assert.False(t, res.RequiresFullRebuild)
}

func TestRound_UnchangedFingerprintSkipsReader(t *testing.T) {
	r := &hashingReader{fakeReader: newFakeReader(), revs: map[string]int{}}
	r.set("A", []DeclarationRecord{class("Foo", "public")})
	e := newTestEngine(t, r)

	round(t, e, "A")
	require.Equal(t, 1, r.readCount("A"))

	res := round(t, e, "A")
	assert.Equal(t, []string{"A"}, res.Affected)
	assert.Equal(t, 1, res.Stats.Unchanged)
	assert.Equal(t, 1, r.readCount("A"), "reader skipped")

	// Back to a fingerprint seen before: served from the cache.
	r.revs["A"] = 1
	r.set("A", []DeclarationRecord{class("Foo", "")})
	round(t, e, "A")
	r.revs["A"] = 0
	res = round(t, e, "A")
	assert.Equal(t, 1, res.Stats.CacheHits)
	assert.Equal(t, 2, r.readCount("A"))
	d, ok := e.Query().Declaration("Foo")
	require.True(t, ok)
	assert.Equal(t, "public", d.Modifiers)
}

func TestRound_CancelledContextKeepsGraph(t *testing.T) {
	r, e := seedFooBar(t)
	r.set("A", []DeclarationRecord{class("Foo", "")})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Round(ctx, []string{"A"})
	require.ErrorIs(t, err, context.Canceled)

	d, ok := e.Query().Declaration("Foo")
	require.True(t, ok)
	assert.Equal(t, "public", d.Modifiers)
}

func TestRound_RejectsConcurrentRound(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	r := ReaderFunc(func(ctx context.Context, u string) (*Records, error) {
		close(entered)
		<-release
		return &Records{}, nil
	})
	e := newTestEngine(t, r)

	done := make(chan error, 1)
	go func() {
		_, err := e.Round(context.Background(), []string{"A"})
		done <- err
	}()
	<-entered
	_, err := e.Round(context.Background(), []string{"B"})
	assert.ErrorIs(t, err, ErrRoundInProgress)
	close(release)
	require.NoError(t, <-done)
}

func TestRound_GraphSurvivesReopen(t *testing.T) {
	r := newFakeReader()
	r.set("A", []DeclarationRecord{class("Foo", "public")})
	r.set("B", []DeclarationRecord{class("Bar", "")}, use("Bar", "Foo", "type"))

	dbPath := filepath.Join(t.TempDir(), "sprout.db")
	e, err := New(dbPath, r)
	require.NoError(t, err)
	_, err = e.Round(context.Background(), []string{"A", "B"})
	require.NoError(t, err)
	require.NoError(t, e.Close())

	e, err = New(dbPath, r)
	require.NoError(t, err)
	defer e.Close()

	r.set("A", []DeclarationRecord{class("Foo", "")})
	res, err := e.Round(context.Background(), []string{"A"})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, res.Affected)
}

func TestRebuild_WithoutLister(t *testing.T) {
	_, e := seedFooBar(t)

	res, err := e.Rebuild(context.Background(), "requested")
	require.NoError(t, err)
	assert.True(t, res.RequiresFullRebuild)
	assert.Equal(t, "requested", res.Cause)
	assert.Equal(t, []string{"A", "B"}, res.Affected)
	assert.Empty(t, e.Query().Units())
}

func TestRoundState_String(t *testing.T) {
	assert.Equal(t, "scanning", StateScanning.String())
	assert.Equal(t, "aborted", StateAborted.String())
	assert.Equal(t, "RoundState(42)", RoundState(42).String())
}
