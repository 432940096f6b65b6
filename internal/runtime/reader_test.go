package runtime

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubScripts declares one class named after the unit's content.
var stubScripts = fstest.MapFS{
	"extract/java.risor": &fstest.MapFile{Data: []byte(`declare({"kind": "class", "name": source})`)},
}

func writeUnit(t *testing.T, root, unitID, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(unitID))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestScriptReader_Read(t *testing.T) {
	root := t.TempDir()
	writeUnit(t, root, "pkg/A.java", "Alpha")

	r := NewScriptReader(NewRuntime("", WithRuntimeFS(stubScripts)), root)
	recs, err := r.Read(context.Background(), "pkg/A.java")
	require.NoError(t, err)
	require.Len(t, recs.Declarations, 1)
	assert.Equal(t, "Alpha", recs.Declarations[0].Name)
	assert.Empty(t, recs.Usages)
}

func TestScriptReader_MissingUnit(t *testing.T) {
	r := NewScriptReader(NewRuntime("", WithRuntimeFS(stubScripts)), t.TempDir())

	_, err := r.Read(context.Background(), "Gone.java")
	require.Error(t, err)
	assert.ErrorIs(t, err, fs.ErrNotExist)

	_, err = r.Hash(context.Background(), "Gone.java")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestScriptReader_UnsupportedUnit(t *testing.T) {
	root := t.TempDir()
	writeUnit(t, root, "notes.txt", "hi")

	r := NewScriptReader(NewRuntime("", WithRuntimeFS(stubScripts)), root)
	_, err := r.Read(context.Background(), "notes.txt")
	require.Error(t, err)
	assert.NotErrorIs(t, err, fs.ErrNotExist)
}

func TestScriptReader_ScriptFailure(t *testing.T) {
	root := t.TempDir()
	writeUnit(t, root, "A.java", "Alpha")

	broken := fstest.MapFS{
		"extract/java.risor": &fstest.MapFile{Data: []byte(`declare({"kind": "bogus", "name": "x"})`)},
	}
	r := NewScriptReader(NewRuntime("", WithRuntimeFS(broken)), root)
	_, err := r.Read(context.Background(), "A.java")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "A.java")
}

func TestScriptReader_Hash(t *testing.T) {
	root := t.TempDir()
	writeUnit(t, root, "A.java", "Alpha")
	writeUnit(t, root, "B.java", "Alpha")

	r := NewScriptReader(NewRuntime("", WithRuntimeFS(stubScripts)), root)
	ha, err := r.Hash(context.Background(), "A.java")
	require.NoError(t, err)
	hb, err := r.Hash(context.Background(), "B.java")
	require.NoError(t, err)
	assert.Equal(t, ha, hb, "equal content hashes equal")

	writeUnit(t, root, "B.java", "Beta")
	hb, err = r.Hash(context.Background(), "B.java")
	require.NoError(t, err)
	assert.NotEqual(t, ha, hb)
}

func TestScriptReader_VersionAndListing(t *testing.T) {
	root := t.TempDir()
	writeUnit(t, root, "b/B.java", "Beta")
	writeUnit(t, root, "A.java", "Alpha")

	rt := NewRuntime("", WithRuntimeFS(stubScripts))
	r := NewScriptReader(rt, root)
	assert.Equal(t, rt.ScriptsHash(), r.Version())
	assert.Equal(t, root, r.Root())

	units, err := r.ListUnits(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"A.java", "b/B.java"}, units)
}
