// Package model holds the structural snapshot of compiled declarations:
// interned types, declaration descriptors, the difference between two
// snapshots of the same entity, and their binary encoding.
package model

import (
	"sync"

	"github.com/jward/sprout/internal/intern"
)

// Context is one interning context: the string table plus the table of
// structurally interned types built on top of it. An Engine owns exactly
// one Context; tests create as many isolated ones as they need.
type Context struct {
	symbols *intern.Table

	mu     sync.Mutex
	types  map[typeKey]*Type
	nextID uint32
}

// NewContext creates an empty interning context.
func NewContext() *Context {
	return &Context{
		symbols: intern.NewTable(),
		types:   make(map[typeKey]*Type),
	}
}

// Symbols returns the underlying string table.
func (c *Context) Symbols() *intern.Table { return c.symbols }

// Intern interns s in the context's string table.
func (c *Context) Intern(s string) intern.Handle { return c.symbols.Intern(s) }

// Resolve returns the string behind h. Panics on a handle the context
// never produced.
func (c *Context) Resolve(h intern.Handle) string { return c.symbols.Resolve(h) }
