package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/caseflow/fieldsave/internal/draft"
	"github.com/caseflow/fieldsave/internal/engine"
)

// completeWaitSlack is added to the completion grace when waiting for the
// deletion.
const completeWaitSlack = 5 * time.Second

// CompleteResult holds the complete output.
type CompleteResult struct {
	KeyResult
	Deleted bool `json:"deleted"`
}

// NewCompleteCommand creates the complete command.
func NewCompleteCommand(rootOpts *RootOptions) *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "complete <case> <form>",
		Short: "Mark a draft as submitted",
		Long: `Flag a draft as belonging to a submitted form.

The flag is written immediately. The record is deleted once the completion
grace delay (autosave.completion_grace) has passed; by default the command
waits for that. With --wait=false the next cleanup removes it instead.

Examples:
  fieldsave complete CASE-1042 residence-positive
  fieldsave complete CASE-1042 residence-positive --wait=false`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := keyArgs(args)
			if err != nil {
				return err
			}
			return withEnv(rootOpts, cmd, func(ctx context.Context, e *env) error {
				return runComplete(ctx, e, rootOpts.formatter(cmd), key, wait)
			})
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", true, "wait for the grace delay and the deletion")

	return cmd
}

func runComplete(ctx context.Context, e *env, f *OutputFormatter, key draft.Key, wait bool) error {
	if _, err := e.engine.Inspect(ctx, key); err != nil {
		return f.DraftFailure(key, err)
	}

	removed := make(chan struct{}, 1)
	sub := e.engine.Subscribe(key, func(ev engine.Event) {
		if ev.Kind == engine.EventRemoved {
			select {
			case removed <- struct{}{}:
			default:
			}
		}
	})
	defer sub.Cancel()

	if err := e.engine.MarkComplete(ctx, key); err != nil {
		return WrapExitError(ExitFailure, "failed to complete draft", err)
	}
	f.VerboseLog("draft %s marked complete", key)

	result := CompleteResult{KeyResult: KeyResult{CaseID: key.CaseID, FormType: key.FormType}}
	if wait {
		timeout := time.NewTimer(e.cfg.Autosave.CompletionGrace.Std() + completeWaitSlack)
		defer timeout.Stop()
		select {
		case <-removed:
			result.Deleted = true
		case <-timeout.C:
			e.logger.Warn("completed draft not deleted in time", "draft", key.String())
		case <-ctx.Done():
			return WrapExitError(ExitFailure, "interrupted while waiting for deletion", ctx.Err())
		}
	}

	return f.Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "Completed draft %s\n", key)
		if result.Deleted {
			fmt.Fprintln(w, "Deleted after the completion grace delay.")
		} else {
			fmt.Fprintln(w, "It will be deleted by the next cleanup.")
		}
	})
}
