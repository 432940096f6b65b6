package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var flagAll bool

var roundCmd = &cobra.Command{
	Use:   "round [unit...]",
	Short: "Process changed units and print which units must be recompiled",
	Long: `Reads the given units, updates the dependency graph and prints the units
that must be recompiled. Units are paths relative to the project root; paths
relative to the working directory are accepted too.`,
	RunE: runRound,
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Discard the dependency graph and rebuild it from every unit",
	Args:  cobra.NoArgs,
	RunE:  runReset,
}

func init() {
	roundCmd.Flags().BoolVar(&flagAll, "all", false, "treat every unit under the project root as changed")
}

func runRound(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return outputError("round", err)
	}
	defer s.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	units := make([]string, 0, len(args))
	for _, arg := range args {
		units = append(units, unitID(s.reader.Root(), arg))
	}
	if flagAll {
		listed, err := s.reader.ListUnits(ctx)
		if err != nil {
			return outputError("round", fmt.Errorf("listing units: %w", err))
		}
		units = append(units, listed...)
	}
	if len(units) == 0 {
		return outputError("round", fmt.Errorf("no units given (pass units or --all)"))
	}

	res, err := s.engine.Round(ctx, units)
	if err != nil && res != nil {
		return outputFailedResult("round", res, err)
	}
	if err != nil {
		return outputError("round", err)
	}
	return outputResult(CLIResult{Command: "round", Results: res})
}

func runReset(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return outputError("reset", err)
	}
	defer s.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	res, err := s.engine.Rebuild(ctx, "reset requested")
	if err != nil && res != nil {
		return outputFailedResult("reset", res, err)
	}
	if err != nil {
		return outputError("reset", err)
	}
	return outputResult(CLIResult{Command: "reset", Results: res})
}

// unitID turns a command-line path into a unit id: a slash-separated path
// relative to root. Paths that exist relative to the working directory are
// rebased onto root; anything else is taken as already relative to root.
func unitID(root, arg string) string {
	path := arg
	if !filepath.IsAbs(path) {
		if _, err := os.Stat(path); err != nil {
			return filepath.ToSlash(filepath.Clean(arg))
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return filepath.ToSlash(filepath.Clean(arg))
		}
		path = abs
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(filepath.Clean(arg))
	}
	return filepath.ToSlash(rel)
}
