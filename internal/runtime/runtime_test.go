package runtime

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const javaTestSource = `package com.example;

public class Greeter {
    private String name;

    public String greet(String other) {
        return "hello " + other;
    }

    public int add(int a, int b) {
        return a + b;
    }
}
`

// --- Language detection tests ---

func TestLanguageForFile(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		want string
		ok   bool
	}{
		{"App.java", "java", true},
		{"src/main/java/com/example/App.java", "java", true},
		{"path/to/File.JAVA", "java", true}, // case insensitive
		{"main.go", "", false},
		{"App.class", "", false},
		{"Makefile", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()
			got, ok := LanguageForFile(tt.path)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParserForLanguage(t *testing.T) {
	t.Parallel()

	l, ok := ParserForLanguage("java")
	require.True(t, ok)
	require.NotNil(t, l)

	_, ok = ParserForLanguage("cobol")
	assert.False(t, ok)
}

// --- Host function tests ---

func TestRunSource_ParseAndNodeText(t *testing.T) {
	rt := NewRuntime("")

	script := `
tree := parse_src(src, "java")
root := tree.RootNode()

assert(root.Type() == "program", 'expected program, got {root.Type()}')

class_node := root.NamedChild(1)
assert(class_node.Type() == "class_declaration", 'got {class_node.Type()}')
name := node_text(node_child(class_node, "name"))
assert(name == "Greeter", 'expected Greeter, got {name}')
`
	err := rt.RunSource(context.Background(), script, map[string]any{"src": javaTestSource})
	require.NoError(t, err)
}

func TestRunSource_ParseFromDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Greeter.java")
	require.NoError(t, os.WriteFile(path, []byte(javaTestSource), 0644))

	rt := NewRuntime("")
	script := `
tree := parse(path, "java")
root := tree.RootNode()
assert(int(root.NamedChildCount()) == 2, 'expected 2 children')
`
	err := rt.RunSource(context.Background(), script, map[string]any{"path": path})
	require.NoError(t, err)
}

func TestRunSource_ParseUnsupportedLanguage(t *testing.T) {
	rt := NewRuntime("")
	err := rt.RunSource(context.Background(), `parse_src("x", "cobol")`, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported language")
}

func TestRunSource_QueryHostFunction(t *testing.T) {
	rt := NewRuntime("")

	script := `
tree := parse_src(src, "java")
root := tree.RootNode()

matches := query("(method_declaration name: (identifier) @name)", root)
assert(len(matches) == 2, 'expected 2 matches, got {len(matches)}')
assert(node_text(matches[0]["name"]) == "greet", "first should be greet")
assert(node_text(matches[1]["name"]) == "add", "second should be add")

none := query("(enum_declaration) @e", root)
assert(len(none) == 0, "expected no enums")
`
	err := rt.RunSource(context.Background(), script, map[string]any{"src": javaTestSource})
	require.NoError(t, err)
}

func TestRunSource_QueryInvalidPattern(t *testing.T) {
	rt := NewRuntime("")

	script := `
tree := parse_src(src, "java")
query("((( invalid", tree.RootNode())
`
	err := rt.RunSource(context.Background(), script, map[string]any{"src": javaTestSource})
	require.Error(t, err)
}

func TestRunSource_NodeChildMissingFieldIsNil(t *testing.T) {
	rt := NewRuntime("")

	script := `
tree := parse_src(src, "java")
class_node := tree.RootNode().NamedChild(1)
assert(node_child(class_node, "superclass") == nil, "Greeter has no superclass")
assert(node_child(class_node, "body") != nil, "Greeter has a body")
`
	err := rt.RunSource(context.Background(), script, map[string]any{"src": javaTestSource})
	require.NoError(t, err)
}

func TestRunSource_HasError(t *testing.T) {
	rt := NewRuntime("")

	script := `
good := parse_src("class A {}", "java")
assert(!has_error(good.RootNode()), "valid source reported as broken")
bad := parse_src("class A { void f( }", "java")
assert(has_error(bad.RootNode()), "broken source reported as valid")
`
	err := rt.RunSource(context.Background(), script, nil)
	require.NoError(t, err)
}

func TestRunSource_LogGlobal(t *testing.T) {
	rt := NewRuntime("")
	err := rt.RunSource(context.Background(), `log.Info("hello from a script")`, nil)
	require.NoError(t, err)
}

func TestRunSource_SourcesDoNotLeakBetweenRuns(t *testing.T) {
	rt := NewRuntime("")
	script := `
tree := parse_src(src, "java")
assert(node_text(tree.RootNode()) == src, "root text should be the whole source")
`
	for _, src := range []string{"class A {}", "class B { int x; }"} {
		require.NoError(t, rt.RunSource(context.Background(), script, map[string]any{"src": src}))
	}
}

// --- Script loading tests ---

func TestRunScript_LoadsFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "test.risor"), []byte(`result := 1 + 1`), 0644))

	rt := NewRuntime(dir)
	require.NoError(t, rt.RunScript(context.Background(), "test.risor", nil))
}

func TestRunScript_MissingFile(t *testing.T) {
	rt := NewRuntime(t.TempDir())
	err := rt.RunScript(context.Background(), "nonexistent.risor", nil)
	require.Error(t, err)
}

func TestRunScript_ErrorNamesScript(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "boom.risor"), []byte(`assert(false, "boom")`), 0644))

	rt := NewRuntime(dir)
	err := rt.RunScript(context.Background(), "boom.risor", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom.risor")
}

func TestLoadScript(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "test.risor")
	content := `x := 42`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	rt := NewRuntime(dir)
	got, err := rt.LoadScript(path)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	got, err = rt.LoadScript("test.risor")
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestExtractionScriptPath(t *testing.T) {
	t.Parallel()
	assert.Equal(t, filepath.Join("extract", "java.risor"), ExtractionScriptPath("java"))
}

func TestLoadScript_FromFS(t *testing.T) {
	t.Parallel()

	content := `x := 42`
	mapFS := fstest.MapFS{
		"extract/java.risor": &fstest.MapFile{Data: []byte(content)},
	}
	rt := NewRuntime("", WithRuntimeFS(mapFS))

	got, err := rt.LoadScript("extract/java.risor")
	require.NoError(t, err)
	assert.Equal(t, content, got)

	// Absolute-style path should be resolved within the FS.
	got, err = rt.LoadScript("/extract/java.risor")
	require.NoError(t, err)
	assert.Equal(t, content, got)

	_, err = rt.LoadScript("nonexistent.risor")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "from fs")
}

func TestScriptsHash(t *testing.T) {
	t.Parallel()

	a := NewRuntime("", WithRuntimeFS(fstest.MapFS{
		"extract/java.risor": &fstest.MapFile{Data: []byte(`x := 1`)},
	}))
	b := NewRuntime("", WithRuntimeFS(fstest.MapFS{
		"extract/java.risor": &fstest.MapFile{Data: []byte(`x := 1`)},
	}))
	c := NewRuntime("", WithRuntimeFS(fstest.MapFS{
		"extract/java.risor": &fstest.MapFile{Data: []byte(`x := 2`)},
	}))

	assert.Equal(t, a.ScriptsHash(), b.ScriptsHash())
	assert.NotEqual(t, a.ScriptsHash(), c.ScriptsHash())
}

func TestScriptsHash_FromDisk(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "extract"), 0755))
	path := filepath.Join(dir, "extract", "java.risor")
	require.NoError(t, os.WriteFile(path, []byte(`x := 1`), 0644))

	rt := NewRuntime(dir)
	before := rt.ScriptsHash()
	require.NoError(t, os.WriteFile(path, []byte(`x := 2`), 0644))
	assert.NotEqual(t, before, rt.ScriptsHash())
}

// --- Importer wiring tests ---

func TestImport_FSImporter(t *testing.T) {
	// Risor's FSImporter resolves "lib_helpers" by trying name + ".risor",
	// so the file must be at the flat path "lib_helpers.risor" in the FS.
	mapFS := fstest.MapFS{
		"lib_helpers.risor": &fstest.MapFile{Data: []byte(`
func greet(name) {
	return "hello " + name
}
`)},
	}
	rt := NewRuntime("", WithRuntimeFS(mapFS))

	script := `
import lib_helpers

msg := lib_helpers.greet("world")
assert(msg == "hello world", 'expected "hello world", got ' + msg)
`
	require.NoError(t, rt.RunSource(context.Background(), script, nil))
}

func TestImport_LocalImporter(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "math_utils.risor"), []byte(`
func double(x) {
	return x * 2
}
`), 0644))

	rt := NewRuntime(dir)

	script := `
import math_utils

result := math_utils.double(21)
assert(result == 42, 'expected 42, got {result}')
`
	require.NoError(t, rt.RunSource(context.Background(), script, nil))
}

func TestImport_GlobalsAvailableInImportedModules(t *testing.T) {
	mapFS := fstest.MapFS{
		"helper.risor": &fstest.MapFile{Data: []byte(`
func do_log(msg) {
	log.Info(msg)
}
`)},
	}
	rt := NewRuntime("", WithRuntimeFS(mapFS))

	script := `
import helper
helper.do_log("test message")
`
	require.NoError(t, rt.RunSource(context.Background(), script, nil))
}

// --- Unit listing tests ---

func TestListUnits_Walk(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	files := []string{
		"src/com/example/A.java",
		"src/com/example/B.java",
		"README.md",
		"build/Gen.java",
		".hidden/C.java",
		"node_modules/D.java",
	}
	for _, f := range files {
		path := filepath.Join(dir, filepath.FromSlash(f))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte("class X {}"), 0644))
	}

	units, err := walkListUnits(dir)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"src/com/example/A.java", "src/com/example/B.java"}, units)
}

func TestListUnits_Sorted(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for _, f := range []string{"Z.java", "A.java", "m/N.java"} {
		path := filepath.Join(dir, filepath.FromSlash(f))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte("class X {}"), 0644))
	}

	units, err := ListUnits(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"A.java", "Z.java", "m/N.java"}, units)
}
