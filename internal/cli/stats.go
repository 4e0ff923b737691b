package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/caseflow/fieldsave/internal/engine"
)

// StatsResult is the stats payload. Metrics is set only with --metrics.
type StatsResult struct {
	engine.Stats
	Metrics []engine.MetricSample `json:"metrics,omitempty"`
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	var withMetrics bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show storage statistics",
		Long: `Show how many drafts are stored, how many are completed or unreadable,
the ciphertext bytes they occupy and the oldest and newest save times.

With --metrics the engine's fieldsave_* counters for this process are printed
too. The scan itself counts unreadable records under
fieldsave_read_failures_total.

Examples:
  fieldsave stats
  fieldsave stats --metrics
  fieldsave stats --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(rootOpts, cmd, func(ctx context.Context, e *env) error {
				return runStats(ctx, e, rootOpts.formatter(cmd), withMetrics)
			})
		},
	}

	cmd.Flags().BoolVar(&withMetrics, "metrics", false, "include the engine metrics")

	return cmd
}

func runStats(ctx context.Context, e *env, f *OutputFormatter, withMetrics bool) error {
	st, err := e.engine.Stats(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to compute stats", err)
	}

	result := StatsResult{Stats: st}
	if withMetrics {
		result.Metrics, err = engine.GatherMetrics(prometheus.DefaultGatherer)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to read metrics", err)
		}
	}

	return f.Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "Drafts:     %d\n", st.Drafts)
		fmt.Fprintf(w, "Completed:  %d\n", st.Completed)
		fmt.Fprintf(w, "Unreadable: %d\n", st.Unreadable)
		fmt.Fprintf(w, "Bytes:      %d\n", st.Bytes)
		fmt.Fprintf(w, "Oldest:     %s\n", formatTime(st.Oldest))
		fmt.Fprintf(w, "Newest:     %s\n", formatTime(st.Newest))
		if withMetrics {
			fmt.Fprintln(w)
			writeMetrics(w, result.Metrics)
		}
	})
}

// writeMetrics prints samples in the Prometheus text layout.
func writeMetrics(w io.Writer, samples []engine.MetricSample) {
	for _, s := range samples {
		fmt.Fprintf(w, "%s%s %g\n", s.Name, formatLabels(s.Labels), s.Value)
	}
}

func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}
	sort.Strings(names)
	pairs := make([]string, len(names))
	for i, name := range names {
		pairs[i] = fmt.Sprintf("%s=%q", name, labels[name])
	}
	return "{" + strings.Join(pairs, ",") + "}"
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
