package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/jward/sprout/internal/runtime"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the project and run a round whenever units change",
	Args:  cobra.NoArgs,
	RunE:  runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return outputError("watch", err)
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w, err := newUnitWatcher(s.reader.Root(), cfg.GetDuration(debounceKey), s.logger)
	if err != nil {
		return outputError("watch", err)
	}
	defer w.Close()

	fmt.Fprintf(os.Stderr, "Watching %s\n", s.reader.Root())
	return w.Run(ctx, func(units []string) error {
		res, err := s.engine.Round(ctx, units)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		if err != nil && res != nil {
			return outputFailedResult("round", res, err)
		}
		if err != nil {
			return err
		}
		return outputResult(CLIResult{Command: "round", Results: res})
	})
}

// unitWatcher reports settled changes to units below a root directory.
// Events are debounced per file; every file whose last event is older than
// the debounce interval is delivered in one sorted batch.
type unitWatcher struct {
	root     string
	debounce time.Duration
	logger   *slog.Logger
	fw       *fsnotify.Watcher
}

func newUnitWatcher(root string, debounce time.Duration, logger *slog.Logger) (*unitWatcher, error) {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	w := &unitWatcher{root: root, debounce: debounce, logger: logger, fw: fw}
	if err := w.addTree(root); err != nil {
		fw.Close()
		return nil, err
	}
	return w, nil
}

// Close stops watching.
func (w *unitWatcher) Close() error {
	return w.fw.Close()
}

// addTree watches dir and every directory below it that may hold units.
func (w *unitWatcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && runtime.IsSkippedDir(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.fw.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		return nil
	})
}

// unitOf returns the unit id of an absolute file path, or false if the
// file is not a unit.
func (w *unitWatcher) unitOf(path string) (string, bool) {
	if _, ok := runtime.LanguageForFile(path); !ok {
		return "", false
	}
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// Run delivers batches of changed units to fn until ctx is done or fn
// returns an error.
func (w *unitWatcher) Run(ctx context.Context, fn func(units []string) error) error {
	pending := make(map[string]time.Time)
	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if !runtime.IsSkippedDir(filepath.Base(event.Name)) {
						if err := w.addTree(event.Name); err != nil {
							w.logger.Warn("watch new directory", "dir", event.Name, "error", err)
						}
					}
					continue
				}
			}
			unit, ok := w.unitOf(event.Name)
			if !ok {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				pending[unit] = time.Now()
			}

		case <-ticker.C:
			batch := settled(pending, time.Now(), w.debounce)
			if len(batch) == 0 {
				continue
			}
			w.logger.Debug("units changed", "count", len(batch))
			if err := fn(batch); err != nil {
				return err
			}

		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

// settled removes and returns, sorted, every pending unit whose last event
// is at least debounce old.
func settled(pending map[string]time.Time, now time.Time, debounce time.Duration) []string {
	var out []string
	for unit, t := range pending {
		if now.Sub(t) >= debounce {
			out = append(out, unit)
			delete(pending, unit)
		}
	}
	slices.Sort(out)
	return out
}
