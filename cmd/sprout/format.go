package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/jward/sprout"
	"github.com/jward/sprout/internal/model"
)

// stdout is where results go; tests swap it out.
var stdout io.Writer = os.Stdout

// validFormats lists accepted values for --format.
var validFormats = []string{"json", "text", "yaml"}

// validateFormat checks that the --format value is recognized.
func validateFormat(format string) error {
	for _, f := range validFormats {
		if format == f {
			return nil
		}
	}
	return fmt.Errorf("invalid format %q: must be one of %s", format, strings.Join(validFormats, ", "))
}

func currentFormat() string {
	if cfg == nil {
		return flagFormat
	}
	return cfg.GetString(formatKey)
}

// outputResult writes result in the selected format.
func outputResult(result CLIResult) error {
	return writeResult(stdout, currentFormat(), result)
}

func writeResult(w io.Writer, format string, result CLIResult) error {
	switch format {
	case "text":
		return writeResultText(w, result)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(result); err != nil {
			return err
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
}

// outputError writes an error in the selected format and returns it so RunE
// can propagate it to Cobra. In text mode it goes to stderr; otherwise it is
// written to stdout as a CLIResult envelope.
func outputError(command string, err error) error {
	errorHandled = true
	format := currentFormat()
	if format == "text" {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return err
	}
	_ = writeResult(stdout, format, CLIResult{Command: command, Error: err.Error()})
	return err
}

// outputFailedResult writes a result that stays meaningful despite err,
// such as a full-rebuild request whose store could not be wiped.
func outputFailedResult(command string, result any, err error) error {
	errorHandled = true
	if currentFormat() == "text" {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	}
	_ = outputResult(CLIResult{Command: command, Results: result, Error: err.Error()})
	return err
}

// resultLen returns the length of a result slice, or 1 for a single value.
func resultLen(v any) int {
	switch r := v.(type) {
	case []sprout.Use:
		return len(r)
	case []sprout.Unit:
		return len(r)
	case []sprout.DeclarationRecord:
		return len(r)
	case nil:
		return 0
	default:
		return 1
	}
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	return table
}

// writeResultText formats results for humans.
func writeResultText(w io.Writer, result CLIResult) error {
	switch v := result.Results.(type) {
	case *sprout.RoundResult:
		formatRoundText(w, v)
	case []sprout.Use:
		table := newTable(w, "User", "Used", "Unit", "Kinds")
		for _, u := range v {
			table.Append([]string{u.User, u.Used, u.Unit, strings.Join(u.Kinds, ",")})
		}
		table.Render()
	case []sprout.DeclarationRecord:
		table := newTable(w, "Entity", "Kind", "Modifiers", "Signature", "Type")
		for _, d := range v {
			mods := d.Modifiers
			if mods == "" {
				mods = "package-local"
			}
			table.Append([]string{model.EntityPath(d.Owner, d.Name), d.Kind, mods, d.Signature, d.Type})
		}
		table.Render()
	case []sprout.Unit:
		table := newTable(w, "Unit", "Declarations", "Scanned")
		for _, u := range v {
			table.Append([]string{u.ID, strconv.Itoa(u.Declarations), u.ScannedAt.Format(time.RFC3339)})
		}
		table.Render()
	case CLIUnitOf:
		if v.Found {
			fmt.Fprintln(w, v.Unit)
		}
	case nil:
		// No output for nil results.
	default:
		return fmt.Errorf("unsupported result type for text format: %T", v)
	}
	return nil
}

// formatRoundText prints the affected units one per line, then a summary
// and the changes that caused propagation.
func formatRoundText(w io.Writer, r *sprout.RoundResult) {
	for _, u := range r.Affected {
		fmt.Fprintln(w, u)
	}
	if r.RequiresFullRebuild {
		fmt.Fprintf(w, "# full rebuild: %s\n", r.Cause)
	}
	for _, u := range r.Deleted {
		fmt.Fprintf(w, "# deleted: %s\n", u)
	}
	for _, c := range r.Changes {
		note := ""
		if c.Narrowed {
			note = " (narrowed to package-local)"
		}
		fmt.Fprintf(w, "# changed: %s [%s]%s\n", c.Entity, c.Aspects, note)
	}
	fmt.Fprintf(w, "# scanned %d, unchanged %d, affected %d in %s\n",
		r.Stats.Scanned, r.Stats.Unchanged, len(r.Affected), r.Stats.Duration.Round(time.Millisecond))
}
