package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"soqlrestore/internal/soql"
)

// NewComposeCommand parses a query and prints it in canonical form.
func NewComposeCommand(rootOpts *RootOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "compose [query]",
		Short: "Normalize a query by parsing and re-composing it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readQuery(cmd, args, file)
			if err != nil {
				return err
			}
			query, err := soql.Parse(text)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), soql.Compose(query))
			return err
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "read the query from a file (- for stdin)")
	return cmd
}
