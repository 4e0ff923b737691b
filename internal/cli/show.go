package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/caseflow/fieldsave/internal/draft"
)

// ShowResult holds the show output.
type ShowResult struct {
	CaseID     string                `json:"caseId"`
	FormType   string                `json:"formType"`
	LastSaved  time.Time             `json:"lastSaved"`
	IsComplete bool                  `json:"isComplete"`
	Version    int                   `json:"version"`
	FormData   json.RawMessage       `json:"formData"`
	Images     []draft.CapturedImage `json:"images"`
	Metadata   draft.Metadata        `json:"metadata"`
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <case> <form>",
		Short: "Show one draft",
		Long: `Decrypt and print the draft stored for a case and form type.

If the record cannot be used, the reason is reported instead:
DECRYPTION, DESERIALIZATION, VERSION_MISMATCH or INVALID_RECORD.

Exit codes:
  0 - Draft printed
  1 - No draft, or the draft is unreadable
  2 - Command error

Examples:
  fieldsave show CASE-1042 residence-positive
  fieldsave show CASE-1042 residence-positive --format json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := keyArgs(args)
			if err != nil {
				return err
			}
			return withEnv(rootOpts, cmd, func(ctx context.Context, e *env) error {
				return runShow(ctx, e, rootOpts.formatter(cmd), key)
			})
		},
	}

	return cmd
}

func runShow(ctx context.Context, e *env, f *OutputFormatter, key draft.Key) error {
	rec, err := e.engine.Inspect(ctx, key)
	if err != nil {
		return f.DraftFailure(key, err)
	}

	result := ShowResult{
		CaseID:     rec.CaseID,
		FormType:   rec.FormType,
		LastSaved:  rec.LastSaved.UTC(),
		IsComplete: rec.IsComplete,
		Version:    rec.Version,
		FormData:   rec.FormData,
		Images:     rec.Images,
		Metadata:   rec.Metadata,
	}
	return f.Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "Draft %s\n", key)
		fmt.Fprintf(w, "  Last saved: %s\n", result.LastSaved.Format(time.RFC3339Nano))
		fmt.Fprintf(w, "  Complete:   %t\n", result.IsComplete)
		fmt.Fprintf(w, "  Version:    %d\n", result.Version)
		fmt.Fprintf(w, "  Client:     %s\n", result.Metadata.ClientInfo)
		fmt.Fprintf(w, "  Images:     %d\n", len(result.Images))
		for _, img := range result.Images {
			kind := string(img.ComponentType)
			if kind == "" {
				kind = string(draft.ComponentPhoto)
			}
			fmt.Fprintf(w, "    - %s %s (%.6f, %.6f) %s\n", img.ID, kind, img.Latitude, img.Longitude, img.Timestamp)
		}
		fmt.Fprintf(w, "  Form data:  %s\n", result.FormData)
	})
}
