package intern

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntern_Idempotent(t *testing.T) {
	t.Parallel()
	tbl := NewTable()

	for _, v := range []string{"com.acme.Foo", "bar", "java/lang/String", "Ljava/util/List;"} {
		h := tbl.Intern(v)
		require.True(t, h.IsValid())
		assert.Equal(t, h, tbl.Intern(v), "interning %q twice", v)
		assert.Equal(t, v, tbl.Resolve(h))
	}
	assert.Equal(t, 4, tbl.Len())
}

func TestIntern_DistinctValuesGetDistinctHandles(t *testing.T) {
	t.Parallel()
	tbl := NewTable()
	a := tbl.Intern("a")
	b := tbl.Intern("b")
	assert.NotEqual(t, a, b)
}

func TestIntern_EmptyIsNoHandle(t *testing.T) {
	t.Parallel()
	tbl := NewTable()
	assert.Equal(t, NoHandle, tbl.Intern(""))
	assert.Equal(t, "", tbl.Resolve(NoHandle))
	assert.False(t, NoHandle.IsValid())
	assert.Equal(t, 0, tbl.Len())
}

func TestLookup(t *testing.T) {
	t.Parallel()
	tbl := NewTable()
	_, ok := tbl.Lookup("missing")
	assert.False(t, ok)

	h := tbl.Intern("present")
	got, ok := tbl.Lookup("present")
	require.True(t, ok)
	assert.Equal(t, h, got)
	assert.Equal(t, 1, tbl.Len(), "Lookup must not intern")
}

func TestResolve_UnknownHandlePanics(t *testing.T) {
	t.Parallel()
	tbl := NewTable()
	tbl.Intern("only")
	assert.Panics(t, func() { tbl.Resolve(Handle(42)) })
}

func TestIntern_ConcurrentFirstWriterWins(t *testing.T) {
	t.Parallel()
	tbl := NewTable()

	const workers = 16
	const values = 200
	results := make([][]Handle, workers)

	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hs := make([]Handle, values)
			for i := range values {
				hs[i] = tbl.Intern(fmt.Sprintf("sym-%d", i))
				// Concurrent readers must see a resolvable handle.
				_ = tbl.Resolve(hs[i])
			}
			results[w] = hs
		}()
	}
	wg.Wait()

	for w := 1; w < workers; w++ {
		assert.Equal(t, results[0], results[w], "worker %d saw different handles", w)
	}
	assert.Equal(t, values, tbl.Len())
	for i, h := range results[0] {
		assert.Equal(t, fmt.Sprintf("sym-%d", i), tbl.Resolve(h))
	}
}
