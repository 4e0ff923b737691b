package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/caseflow/fieldsave/internal/draft"
)

// CleanupResult holds the cleanup output.
type CleanupResult struct {
	Scanned    int         `json:"scanned"`
	Expired    []KeyResult `json:"expired"`
	Completed  []KeyResult `json:"completed"`
	Unreadable []string    `json:"unreadable"`
}

// NewCleanupCommand creates the cleanup command.
func NewCleanupCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete expired and completed drafts",
		Long: `Run one cleanup sweep.

Deletes every draft that is complete or was last saved longer ago than the
retention window (autosave.retention, 7 days by default). Unreadable records
are reported and kept.

Examples:
  fieldsave cleanup
  fieldsave cleanup --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(rootOpts, cmd, func(ctx context.Context, e *env) error {
				return runCleanup(ctx, e, rootOpts.formatter(cmd))
			})
		},
	}

	return cmd
}

func runCleanup(ctx context.Context, e *env, f *OutputFormatter) error {
	report, err := e.engine.Cleanup(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "cleanup failed", err)
	}

	result := CleanupResult{
		Scanned:    report.Scanned,
		Expired:    keyResults(report.Expired),
		Completed:  keyResults(report.Completed),
		Unreadable: report.Unreadable,
	}
	if result.Unreadable == nil {
		result.Unreadable = []string{}
	}

	return f.Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "Scanned %d record(s), removed %d.\n", result.Scanned, len(report.Removed()))
		printKeys(w, "expired", report.Expired)
		printKeys(w, "completed", report.Completed)
		for _, sk := range result.Unreadable {
			fmt.Fprintf(w, "  kept unreadable %s\n", sk)
		}
	})
}

func keyResults(keys []draft.Key) []KeyResult {
	out := make([]KeyResult, 0, len(keys))
	for _, k := range keys {
		out = append(out, KeyResult{CaseID: k.CaseID, FormType: k.FormType})
	}
	return out
}

func printKeys(w io.Writer, label string, keys []draft.Key) {
	for _, k := range keys {
		fmt.Fprintf(w, "  %s %s\n", label, k)
	}
}
