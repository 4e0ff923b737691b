package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/caseflow/fieldsave/internal/draft"
)

// DraftSummary is one row of the list output.
type DraftSummary struct {
	CaseID    string    `json:"caseId"`
	FormType  string    `json:"formType"`
	LastSaved time.Time `json:"lastSaved"`
	Images    int       `json:"images"`
}

// ListResult holds the list output.
type ListResult struct {
	Drafts []DraftSummary `json:"drafts"`
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	var caseID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List unfinished drafts",
		Long: `List every readable draft that has not been completed, newest first.

Unreadable records (wrong device key, corruption, unknown version) are skipped
and logged. Use "show" to see why a specific draft cannot be read.

Examples:
  fieldsave list
  fieldsave list --case CASE-1042
  fieldsave list --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(rootOpts, cmd, func(ctx context.Context, e *env) error {
				return runList(ctx, e, rootOpts.formatter(cmd), caseID)
			})
		},
	}

	cmd.Flags().StringVar(&caseID, "case", "", "only list drafts of this case")

	return cmd
}

func runList(ctx context.Context, e *env, f *OutputFormatter, caseID string) error {
	records, err := e.engine.ListAllDrafts(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to list drafts", err)
	}

	result := ListResult{Drafts: []DraftSummary{}}
	for _, rec := range records {
		if caseID != "" && rec.CaseID != caseID {
			continue
		}
		result.Drafts = append(result.Drafts, summarize(rec))
	}
	f.VerboseLog("%d draft(s) listed", len(result.Drafts))

	return f.Success(result, func(w io.Writer) {
		if len(result.Drafts) == 0 {
			fmt.Fprintln(w, "No drafts.")
			return
		}
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "CASE\tFORM\tLAST SAVED\tIMAGES")
		for _, d := range result.Drafts {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", d.CaseID, d.FormType, d.LastSaved.UTC().Format(time.RFC3339), d.Images)
		}
		tw.Flush()
	})
}

func summarize(rec *draft.Record) DraftSummary {
	return DraftSummary{
		CaseID:    rec.CaseID,
		FormType:  rec.FormType,
		LastSaved: rec.LastSaved.UTC(),
		Images:    len(rec.Images),
	}
}
