package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/caseflow/fieldsave/internal/draft"
)

// KeyResult identifies the draft a command acted on.
type KeyResult struct {
	CaseID   string `json:"caseId"`
	FormType string `json:"formType"`
}

// NewDiscardCommand creates the discard command.
func NewDiscardCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discard <case> <form>",
		Short: "Delete a draft",
		Long: `Delete the draft stored for a case and form type.

Discarding a key with no draft succeeds.

Examples:
  fieldsave discard CASE-1042 residence-positive`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := keyArgs(args)
			if err != nil {
				return err
			}
			return withEnv(rootOpts, cmd, func(ctx context.Context, e *env) error {
				return runDiscard(ctx, e, rootOpts.formatter(cmd), key)
			})
		},
	}

	return cmd
}

func runDiscard(ctx context.Context, e *env, f *OutputFormatter, key draft.Key) error {
	if err := e.engine.Remove(ctx, key); err != nil {
		return WrapExitError(ExitFailure, "failed to discard draft", err)
	}
	return f.Success(KeyResult{CaseID: key.CaseID, FormType: key.FormType}, func(w io.Writer) {
		fmt.Fprintf(w, "Discarded draft %s\n", key)
	})
}
