package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"soqlrestore/internal/describe"
	"soqlrestore/internal/restore"
)

// tokenEnv supplies --token when the flag is not set.
const tokenEnv = "SOQLR_DESCRIBE_REST_ACCESS_TOKEN"

// RestoreOptions holds flags for the restore command.
type RestoreOptions struct {
	Schema     string
	RESTURL    string
	Token      string
	APIVersion string
	Timeout    time.Duration
	File       string
	Compact    bool
}

type restoreOutput struct {
	*restore.Result
	Composed string `json:"composed"`
}

// NewRestoreCommand restores a query against a fixture or a live org.
func NewRestoreCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RestoreOptions{}

	cmd := &cobra.Command{
		Use:   "restore [query]",
		Short: "Restore query-builder state from a query",
		Long: `Restore query-builder state from a query and print it as JSON.

Describes come from a YAML fixture (--schema) or from the REST API
(--rest-url with --token or $` + tokenEnv + `). Diagnostics are written
to stderr.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRestore(cmd, args, rootOpts, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Schema, "schema", "", "YAML describe fixture")
	cmd.Flags().StringVar(&opts.RESTURL, "rest-url", "", "instance URL for REST describes")
	cmd.Flags().StringVar(&opts.Token, "token", "", "access token for REST describes")
	cmd.Flags().StringVar(&opts.APIVersion, "api-version", describe.DefaultAPIVersion, "REST API version")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "overall time limit")
	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "read the query from a file (- for stdin)")
	cmd.Flags().BoolVar(&opts.Compact, "compact", false, "print JSON on one line")

	return cmd
}

func runRestore(cmd *cobra.Command, args []string, rootOpts *RootOptions, opts *RestoreOptions) error {
	text, err := readQuery(cmd, args, opts.File)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
	defer cancel()

	transport, err := buildTransport(ctx, opts)
	if err != nil {
		return err
	}

	result, err := restore.NewRestorer(transport).Restore(ctx, text)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	if !opts.Compact {
		encoder.SetIndent("", "  ")
	}
	if err := encoder.Encode(restoreOutput{Result: result, Composed: restore.ComposeResult(result)}); err != nil {
		return err
	}

	stderr := cmd.ErrOrStderr()
	fmt.Fprintf(stderr, "%s: %s selected, %s in WHERE\n",
		result.RootObject, plural(len(result.SelectedFields), "field"), plural(len(result.Where.Rows), "row"))
	printDiagnostics(stderr, result.Diagnostics, rootOpts.NoColor)
	return nil
}

func buildTransport(ctx context.Context, opts *RestoreOptions) (describe.Transport, error) {
	switch {
	case opts.Schema != "" && opts.RESTURL != "":
		return nil, fmt.Errorf("use either --schema or --rest-url")
	case opts.Schema != "":
		return describe.LoadFileTransport(opts.Schema)
	case opts.RESTURL != "":
		token := opts.Token
		if token == "" {
			token = os.Getenv(tokenEnv)
		}
		if token == "" {
			return nil, fmt.Errorf("--token or $%s is required with --rest-url", tokenEnv)
		}
		return describe.NewRESTTransport(ctx, describe.RESTConfig{
			InstanceURL: opts.RESTURL,
			APIVersion:  opts.APIVersion,
			AccessToken: token,
			Timeout:     opts.Timeout,
		})
	default:
		return nil, fmt.Errorf("one of --schema or --rest-url is required")
	}
}
