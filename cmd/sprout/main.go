package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jward/sprout"
	"github.com/jward/sprout/internal/runtime"
	"github.com/jward/sprout/scripts"
)

var (
	flagDB         string
	flagFormat     string
	flagRoot       string
	flagWorkers    int
	flagVerbose    bool
	flagLogFile    string
	flagScriptsDir string
)

// errorHandled is set by outputError so main() doesn't double-print.
var errorHandled bool

// cfg is the configuration loaded before any subcommand runs.
var cfg *viper.Viper

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errorHandled {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "sprout",
	Short:         "Incremental recompilation dependency engine",
	Long:          "Sprout tracks declarations and usages across compiled units and decides, after a change, which units must be recompiled.",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		dir := flagRoot
		if dir == "" {
			dir = "."
		}
		v, err := loadConfig(dir, cmd.Flags())
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = v
		return validateFormat(cfg.GetString(formatKey))
	},
	// No Run: prints help by default.
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "database path (default: .sprout/graph.db relative to repo root)")
	rootCmd.PersistentFlags().StringVar(&flagFormat, "format", defaultFormat, "output format: json|text|yaml")
	rootCmd.PersistentFlags().StringVar(&flagRoot, "root", ".", "project root units are resolved against")
	rootCmd.PersistentFlags().IntVar(&flagWorkers, "workers", defaultWorkers, "concurrent unit readers (0 = one per CPU)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "log at debug level")
	rootCmd.PersistentFlags().StringVar(&flagLogFile, "log-file", defaultLogFilename, "log file, relative to the repo root")
	rootCmd.PersistentFlags().StringVar(&flagScriptsDir, "scripts-dir", "", "load extraction scripts from disk instead of the embedded copy")

	rootCmd.AddCommand(roundCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(queryCmd)
}

// session is an opened engine plus everything that must be closed with it.
type session struct {
	engine   *sprout.Engine
	reader   *runtime.ScriptReader
	logger   *slog.Logger
	repoRoot string
	closers  []io.Closer
}

func (s *session) Close() error {
	err := s.engine.Close()
	for _, c := range s.closers {
		c.Close()
	}
	return err
}

// openSession resolves the project root and database, configures logging
// and opens the engine.
func openSession() (*session, error) {
	projectRoot, err := resolveTargetDir(cfg.GetString(rootKey))
	if err != nil {
		return nil, err
	}
	repoRoot := findRepoRoot(projectRoot)
	dbPath := resolveDBPath(repoRoot, cfg.GetString(dbKey))
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", filepath.Dir(dbPath), err)
	}

	logger, logCloser := newLogger(cfg, repoRoot)

	var rtOpts []runtime.RuntimeOption
	if flagScriptsDir == "" {
		rtOpts = append(rtOpts, runtime.WithRuntimeFS(scripts.FS))
	}
	rtOpts = append(rtOpts, runtime.WithRuntimeLogger(logger))
	rt := runtime.NewRuntime(flagScriptsDir, rtOpts...)
	reader := runtime.NewScriptReader(rt, projectRoot)

	engine, err := sprout.New(dbPath, reader,
		sprout.WithLogger(logger),
		sprout.WithWorkers(cfg.GetInt(workersKey)),
		sprout.WithCacheSize(cfg.GetInt(cacheKey)),
		sprout.WithUnitLister(reader.ListUnits),
	)
	if err != nil {
		logCloser.Close()
		return nil, fmt.Errorf("creating engine: %w", err)
	}
	logger.Debug("session opened", "root", projectRoot, "db", dbPath)
	return &session{
		engine:   engine,
		reader:   reader,
		logger:   logger,
		repoRoot: repoRoot,
		closers:  []io.Closer{logCloser},
	}, nil
}

// resolveTargetDir returns the absolute path of the project directory.
func resolveTargetDir(dir string) (string, error) {
	if dir == "" {
		dir = "."
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving path %q: %w", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("directory not found: %s", abs)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("not a directory: %s", abs)
	}
	return abs, nil
}

// findRepoRoot walks up from startDir looking for a .git directory.
// Returns the directory containing .git, or startDir if not found.
func findRepoRoot(startDir string) string {
	dir := startDir
	for {
		if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return startDir
		}
		dir = parent
	}
}

// resolveDBPath returns the database path from the configured value or the
// default below the repo root.
func resolveDBPath(repoRoot, db string) string {
	if db != "" {
		if filepath.IsAbs(db) {
			return db
		}
		return filepath.Join(repoRoot, db)
	}
	return filepath.Join(repoRoot, ".sprout", "graph.db")
}
