package sprout

import (
	"context"
	"fmt"
	"time"

	"github.com/jward/sprout/internal/model"
	"github.com/jward/sprout/internal/unit"
	"github.com/jward/sprout/internal/usage"
)

// Public aliases for the reader contract. Readers live outside this package
// but speak in these types; no conversion is needed.

type Reader = unit.Reader
type Hasher = unit.Hasher
type Versioner = unit.Versioner
type Records = unit.Records
type ReaderFunc = unit.ReaderFunc
type DeclarationRecord = model.DeclarationRecord
type UsageRecord = usage.Record

// UnitLister enumerates every unit of the project. The engine calls it when
// it has to rebuild from scratch.
type UnitLister func(ctx context.Context) ([]string, error)

// RoundState is the phase the engine is in.
type RoundState int32

const (
	StateIdle RoundState = iota
	StateScanning
	StateDiffing
	StatePropagating
	StateCommitting
	StateAborted
)

func (s RoundState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateDiffing:
		return "diffing"
	case StatePropagating:
		return "propagating"
	case StateCommitting:
		return "committing"
	case StateAborted:
		return "aborted"
	}
	return fmt.Sprintf("RoundState(%d)", int32(s))
}

// RoundResult is what one round tells the build scheduler.
type RoundResult struct {
	// Affected lists the units to recompile, sorted. Changed units are
	// always included unless they were deleted.
	Affected []string `json:"affected" yaml:"affected"`
	// Deleted lists changed units the reader reported as gone.
	Deleted []string `json:"deleted,omitempty" yaml:"deleted,omitempty"`
	// RequiresFullRebuild is set when the engine lost confidence in its
	// graph and discarded it. Affected then holds every unit it knows of.
	RequiresFullRebuild bool `json:"requires_full_rebuild" yaml:"requires_full_rebuild"`
	// Cause explains a full rebuild.
	Cause   string     `json:"cause,omitempty" yaml:"cause,omitempty"`
	Changes []Change   `json:"changes,omitempty" yaml:"changes,omitempty"`
	Stats   RoundStats `json:"stats" yaml:"stats"`
}

// Change is one entity whose declaration changed in a way dependents can
// observe.
type Change struct {
	Entity string `json:"entity" yaml:"entity"`
	Unit   string `json:"unit" yaml:"unit"`
	// Aspects names what changed, e.g. "access|signature" or "removed".
	Aspects string `json:"aspects" yaml:"aspects"`
	// Narrowed is set when the entity became package-local.
	Narrowed bool `json:"narrowed,omitempty" yaml:"narrowed,omitempty"`
}

// RoundStats counts the work one round did.
type RoundStats struct {
	Scanned   int           `json:"scanned" yaml:"scanned"`
	Unchanged int           `json:"unchanged" yaml:"unchanged"`
	CacheHits int           `json:"cache_hits" yaml:"cache_hits"`
	Added     int           `json:"added" yaml:"added"`
	Seeds     int           `json:"seeds" yaml:"seeds"`
	Visited   int           `json:"visited" yaml:"visited"`
	Duration  time.Duration `json:"duration" yaml:"duration"`
}
