// Package intern maps strings to small stable integer handles so the rest of
// the engine compares and stores symbols as integers.
package intern

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Handle identifies one interned string within a Table. Handles are never
// reused for a different value for the lifetime of the Table.
type Handle uint32

// NoHandle marks an absent value (for example a declaration without a
// generic signature). It always resolves to "".
const NoHandle Handle = 0

// IsValid reports whether h refers to an interned value.
func (h Handle) IsValid() bool { return h != NoHandle }

// Table is a string interning table. Intern calls are serialized by a
// mutex; Resolve is lock-free and reads an append-only slice published
// through an atomic pointer.
//
// Thread safety: any number of goroutines may call Intern and Resolve
// concurrently. If two goroutines intern the same new string at once,
// exactly one handle is assigned and both observe it.
type Table struct {
	mu  sync.Mutex
	ids map[string]Handle

	// values[0] is the empty string backing NoHandle.
	values atomic.Pointer[[]string]
}

// NewTable creates an empty Table.
func NewTable() *Table {
	t := &Table{ids: make(map[string]Handle)}
	values := make([]string, 1, 64)
	t.values.Store(&values)
	return t
}

// Intern returns the handle for s, assigning a new one if s has not been
// seen. Interning "" returns NoHandle.
func (t *Table) Intern(s string) Handle {
	if s == "" {
		return NoHandle
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if h, ok := t.ids[s]; ok {
		return h
	}
	values := *t.values.Load()
	h := Handle(len(values))
	// append may write past len of the published slice; readers holding
	// the old header never index that far.
	values = append(values, s)
	t.values.Store(&values)
	t.ids[s] = h
	return h
}

// Lookup returns the handle for s without interning it.
func (t *Table) Lookup(s string) (Handle, bool) {
	if s == "" {
		return NoHandle, true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.ids[s]
	return h, ok
}

// Resolve returns the string for h. Resolving a handle this Table never
// produced is a programming error and panics.
func (t *Table) Resolve(h Handle) string {
	values := *t.values.Load()
	if int(h) >= len(values) {
		panic(fmt.Sprintf("intern: unknown handle %d (table has %d values)", h, len(values)))
	}
	return values[h]
}

// Len returns the number of interned values, excluding NoHandle.
func (t *Table) Len() int {
	return len(*t.values.Load()) - 1
}
