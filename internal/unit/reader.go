// Package unit defines the contract between the engine and whatever reads
// compiled units: a unit id in, declaration and usage records out.
package unit

import (
	"context"

	"github.com/jward/sprout/internal/model"
	"github.com/jward/sprout/internal/usage"
)

// Records is everything a reader extracted from one unit, in reader order.
type Records struct {
	Declarations []model.DeclarationRecord `json:"declarations"`
	Usages       []usage.Record            `json:"usages"`
}

// Reader extracts records from a unit. A reader returns an error wrapping
// fs.ErrNotExist when the unit no longer exists; any other error aborts the
// round.
type Reader interface {
	Read(ctx context.Context, unit string) (*Records, error)
}

// Hasher is optionally implemented by a Reader to fingerprint a unit
// without reading it. Equal fingerprints promise equal records.
type Hasher interface {
	Hash(ctx context.Context, unit string) (string, error)
}

// ReaderFunc adapts a function to Reader.
type ReaderFunc func(ctx context.Context, unit string) (*Records, error)

func (f ReaderFunc) Read(ctx context.Context, unit string) (*Records, error) { return f(ctx, unit) }

// Versioner is optionally implemented by a Reader whose output can change
// without the units changing, e.g. when its extraction rules are upgraded.
// Records read under different versions are not comparable, so a version
// change forces a full rebuild.
type Versioner interface {
	Version() string
}
