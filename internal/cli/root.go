// Package cli implements the soqlrestore command line.
package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	NoColor bool
	Version string
	Commit  string
}

// NewRootCommand creates the root command.
func NewRootCommand(version, commit string) *cobra.Command {
	opts := &RootOptions{Version: version, Commit: commit}

	cmd := &cobra.Command{
		Use:   "soqlrestore",
		Short: "Restore query-builder state from SOQL",
		Long: `Parse a SOQL query, describe the objects it touches and rebuild the
query-builder state: selected fields, filters, clauses and the relationship
tree. Anything that cannot be restored is reported as a diagnostic.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVar(&opts.NoColor, "no-color", false, "disable coloured diagnostics")

	cmd.AddCommand(NewRestoreCommand(opts))
	cmd.AddCommand(NewComposeCommand(opts))
	cmd.AddCommand(NewVersionCommand(opts))

	return cmd
}

// readQuery takes the query from the single positional argument or from
// file, where "-" reads stdin.
func readQuery(cmd *cobra.Command, args []string, file string) (string, error) {
	if len(args) > 0 && file != "" {
		return "", fmt.Errorf("pass the query as an argument or with --file, not both")
	}
	var text string
	switch {
	case len(args) > 0:
		text = args[0]
	case file == "-":
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("read query from stdin: %w", err)
		}
		text = string(data)
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read query file: %w", err)
		}
		text = string(data)
	default:
		return "", fmt.Errorf("a query is required")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("a query is required")
	}
	return text, nil
}
