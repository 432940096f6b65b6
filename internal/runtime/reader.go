package runtime

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jward/sprout/internal/unit"
)

// ScriptReader reads source units below a root directory by running the
// extraction script for each unit's language. It implements unit.Reader and
// unit.Hasher.
type ScriptReader struct {
	rt   *Runtime
	root string
}

// NewScriptReader creates a reader for units below root.
func NewScriptReader(rt *Runtime, root string) *ScriptReader {
	return &ScriptReader{rt: rt, root: root}
}

var (
	_ unit.Reader    = (*ScriptReader)(nil)
	_ unit.Hasher    = (*ScriptReader)(nil)
	_ unit.Versioner = (*ScriptReader)(nil)
)

// Root returns the directory units are resolved against.
func (r *ScriptReader) Root() string { return r.root }

func (r *ScriptReader) path(unitID string) string {
	return filepath.Join(r.root, filepath.FromSlash(unitID))
}

// Read extracts the records of one unit. A missing file yields an error
// wrapping fs.ErrNotExist.
func (r *ScriptReader) Read(ctx context.Context, unitID string) (*unit.Records, error) {
	lang, ok := LanguageForFile(unitID)
	if !ok {
		return nil, fmt.Errorf("runtime: no extraction script for %s", unitID)
	}
	src, err := os.ReadFile(r.path(unitID))
	if err != nil {
		return nil, fmt.Errorf("runtime: reading %s: %w", unitID, err)
	}

	c := newCollector(unitID)
	globals := c.globals()
	globals["source"] = string(src)
	if err := r.rt.RunScript(ctx, ExtractionScriptPath(lang), globals); err != nil {
		return nil, fmt.Errorf("runtime: extracting %s: %w", unitID, err)
	}
	recs, err := c.finish()
	if err != nil {
		return nil, fmt.Errorf("runtime: extracting %s: %w", unitID, err)
	}
	return recs, nil
}

// Hash returns the SHA-256 of the unit's content.
func (r *ScriptReader) Hash(ctx context.Context, unitID string) (string, error) {
	data, err := os.ReadFile(r.path(unitID))
	if err != nil {
		return "", fmt.Errorf("runtime: hashing %s: %w", unitID, err)
	}
	return fmt.Sprintf("%x", sha256.Sum256(data)), nil
}

// Version identifies the extraction scripts. Records read under different
// versions are not comparable.
func (r *ScriptReader) Version() string {
	return r.rt.ScriptsHash()
}

// ListUnits returns every unit below the root.
func (r *ScriptReader) ListUnits(ctx context.Context) ([]string, error) {
	return ListUnits(ctx, r.root)
}
