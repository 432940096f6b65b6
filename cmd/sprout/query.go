package main

import (
	"github.com/spf13/cobra"
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Inspect the committed dependency graph",
}

func init() {
	queryCmd.AddCommand(&cobra.Command{
		Use:   "users <entity>",
		Short: "Entities that use an entity or symbol",
		Args:  cobra.ExactArgs(1),
		RunE:  runUsers,
	})
	queryCmd.AddCommand(&cobra.Command{
		Use:   "uses <entity>",
		Short: "Symbols an entity uses",
		Args:  cobra.ExactArgs(1),
		RunE:  runUses,
	})
	queryCmd.AddCommand(&cobra.Command{
		Use:   "decls <unit>",
		Short: "Declarations a unit owns",
		Args:  cobra.ExactArgs(1),
		RunE:  runDecls,
	})
	queryCmd.AddCommand(&cobra.Command{
		Use:   "unit <entity>",
		Short: "The unit declaring an entity",
		Args:  cobra.ExactArgs(1),
		RunE:  runUnitOf,
	})
	queryCmd.AddCommand(&cobra.Command{
		Use:   "units",
		Short: "Every unit in the graph",
		Args:  cobra.NoArgs,
		RunE:  runUnits,
	})
}

// runQuery opens a session, runs fn against its query view and prints the
// result under command.
func runQuery(command string, fn func(s *session) any) error {
	s, err := openSession()
	if err != nil {
		return outputError(command, err)
	}
	defer s.Close()

	results := fn(s)
	n := resultLen(results)
	return outputResult(CLIResult{Command: command, Results: results, TotalCount: &n})
}

func runUsers(cmd *cobra.Command, args []string) error {
	return runQuery("users", func(s *session) any {
		return s.engine.Query().UsersOf(args[0])
	})
}

func runUses(cmd *cobra.Command, args []string) error {
	return runQuery("uses", func(s *session) any {
		return s.engine.Query().UsesOf(args[0])
	})
}

func runDecls(cmd *cobra.Command, args []string) error {
	return runQuery("decls", func(s *session) any {
		return s.engine.Query().DeclarationsOf(unitID(s.reader.Root(), args[0]))
	})
}

func runUnitOf(cmd *cobra.Command, args []string) error {
	return runQuery("unit", func(s *session) any {
		u, ok := s.engine.Query().UnitOf(args[0])
		return CLIUnitOf{Entity: args[0], Unit: u, Found: ok}
	})
}

func runUnits(cmd *cobra.Command, args []string) error {
	return runQuery("units", func(s *session) any {
		return s.engine.Query().Units()
	})
}
