package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/caseflow/fieldsave/internal/draft"
)

// FormTypeResult holds the formtypes lookup output.
type FormTypeResult struct {
	FormType string `json:"formType"`
	Known    bool   `json:"known"`
}

// NewFormTypesCommand creates the formtypes command.
func NewFormTypesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "formtypes [verification-type outcome]",
		Short: "List known form types",
		Long: `List the form types drafts are keyed by.

With a verification type and an outcome, print the form type they map to.

Examples:
  fieldsave formtypes
  fieldsave formtypes Residence "Entry Restricted"`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 && len(args) != 2 {
				return fmt.Errorf("accepts 0 or 2 arg(s), received %d", len(args))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			if len(args) == 2 {
				ft := draft.FormTypeFor(args[0], args[1])
				result := FormTypeResult{FormType: ft, Known: draft.IsKnownFormType(ft)}
				return f.Success(result, func(w io.Writer) {
					if result.Known {
						fmt.Fprintln(w, ft)
					} else {
						fmt.Fprintf(w, "%s (unknown)\n", ft)
					}
				})
			}

			types := draft.FormTypes()
			return f.Success(map[string][]string{"formTypes": types}, func(w io.Writer) {
				for _, ft := range types {
					fmt.Fprintln(w, ft)
				}
			})
		},
	}

	return cmd
}
