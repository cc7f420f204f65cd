package cli

import (
	"fmt"
	"io"
	"sort"

	"github.com/fatih/color"

	"soqlrestore/internal/restore"
)

type palette struct {
	header  *color.Color
	warning *color.Color
	success *color.Color
	failure *color.Color
}

func newPalette(noColor bool) palette {
	p := palette{
		header:  color.New(color.FgYellow, color.Bold),
		warning: color.New(color.FgYellow),
		success: color.New(color.FgGreen),
		failure: color.New(color.FgRed, color.Bold),
	}
	if noColor {
		p.header.DisableColor()
		p.warning.DisableColor()
		p.success.DisableColor()
		p.failure.DisableColor()
	}
	return p
}

// printDiagnostics writes what could not be restored.
func printDiagnostics(w io.Writer, d restore.Diagnostics, noColor bool) {
	p := newPalette(noColor)
	if d.Empty() {
		p.success.Fprintln(w, "restored without diagnostics")
		return
	}

	if len(d.MissingFields) > 0 {
		p.header.Fprintln(w, "fields not restored:")
		for _, ref := range d.MissingFields {
			p.warning.Fprintf(w, "  - %s\n", ref)
		}
	}
	if len(d.MissingSubqueryFields) > 0 {
		names := make([]string, 0, len(d.MissingSubqueryFields))
		for name := range d.MissingSubqueryFields {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			p.header.Fprintf(w, "sub-select %s fields not restored:\n", name)
			for _, ref := range d.MissingSubqueryFields[name] {
				p.warning.Fprintf(w, "  - %s\n", ref)
			}
		}
	}
	if len(d.MissingMisc) > 0 {
		p.header.Fprintln(w, "not restored:")
		for _, reason := range d.MissingMisc {
			p.warning.Fprintf(w, "  - %s\n", reason)
		}
	}
}

// PrintError writes err in the failure colour.
func PrintError(w io.Writer, err error, noColor bool) {
	p := newPalette(noColor)
	p.failure.Fprintf(w, "error: %s\n", err)
}

// NoColorRequested reports whether --no-color was passed to cmd's root.
func NoColorRequested(args []string) bool {
	for _, arg := range args {
		if arg == "--no-color" || arg == "--no-color=true" {
			return true
		}
	}
	return false
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}
