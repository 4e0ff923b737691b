package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// ResetResult holds the reset output.
type ResetResult struct {
	Namespace string `json:"namespace"`
	Removed   int    `json:"removed"`
}

// NewResetCommand creates the reset command.
func NewResetCommand(rootOpts *RootOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete everything in the encrypted namespace",
		Long: `Delete every key in the encrypted namespace, drafts included.

Keys outside the namespace are left alone. The device key is kept.
Requires --yes.

Examples:
  fieldsave reset --yes`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return NewExitError(ExitCommandError, "refusing to reset without --yes")
			}
			return withEnv(rootOpts, cmd, func(ctx context.Context, e *env) error {
				return runReset(ctx, e, rootOpts.formatter(cmd))
			})
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")

	return cmd
}

func runReset(ctx context.Context, e *env, f *OutputFormatter) error {
	keys, err := e.secure.ListKeys(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to list keys", err)
	}
	if err := e.secure.Clear(ctx); err != nil {
		return WrapExitError(ExitFailure, "failed to reset store", err)
	}
	e.logger.Info("encrypted namespace cleared", "namespace", e.secure.Namespace(), "keys", len(keys))

	result := ResetResult{Namespace: e.secure.Namespace(), Removed: len(keys)}
	return f.Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "Removed %d key(s) from %s\n", result.Removed, result.Namespace)
	})
}
