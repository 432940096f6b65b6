package runtime

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
)

// skipDirs are directories never searched for units.
var skipDirs = map[string]bool{
	"node_modules": true,
	"build":        true,
	"target":       true,
	"out":          true,
}

// IsSkippedDir reports whether a directory named name is never searched
// for units: hidden directories and build output.
func IsSkippedDir(name string) bool {
	return strings.HasPrefix(name, ".") || skipDirs[name]
}

// ListUnits returns every unit under root with a supported extension, as
// slash-separated paths relative to root, sorted. Inside a git repository
// git ls-files is used so .gitignore is respected; otherwise the directory
// is walked, skipping hidden and build output directories.
func ListUnits(ctx context.Context, root string) ([]string, error) {
	units, err := gitListUnits(ctx, root)
	if err != nil {
		units, err = walkListUnits(root)
		if err != nil {
			return nil, err
		}
	}
	slices.Sort(units)
	return units, nil
}

// gitListUnits uses git ls-files to discover tracked and untracked (but not
// ignored) files under root.
func gitListUnits(ctx context.Context, root string) ([]string, error) {
	// --cached: tracked files, --others: untracked files,
	// --exclude-standard: respect .gitignore, .git/info/exclude, global excludes.
	cmd := exec.CommandContext(ctx, "git", "ls-files", "--cached", "--others", "--exclude-standard")
	cmd.Dir = root
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git ls-files: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	var units []string
	for line := range strings.SplitSeq(stdout.String(), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if _, ok := LanguageForFile(line); ok {
			units = append(units, filepath.ToSlash(line))
		}
	}
	return units, nil
}

// walkListUnits discovers units by walking the filesystem.
func walkListUnits(root string) ([]string, error) {
	var units []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != root && IsSkippedDir(name) {
				return filepath.SkipDir
			}
			return nil
		}
		if _, ok := LanguageForFile(path); !ok {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		units = append(units, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk directory: %w", err)
	}
	return units, nil
}
