package harness

import (
	"fmt"
	"strings"
	"time"
)

// TraceEntry is one line of a scenario trace.
type TraceEntry struct {
	// At is the offset from scenario start.
	At time.Duration `json:"at"`

	// Kind is "op", "event", "write", "write_failed" or "delete".
	Kind string `json:"kind"`

	// Text describes the entry.
	Text string `json:"text"`
}

// String renders the entry as a golden trace line.
func (e TraceEntry) String() string {
	return fmt.Sprintf("t=%dms %s %s", e.At.Milliseconds(), e.Kind, e.Text)
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace contains ops, engine events and storage mutations in order.
	Trace []TraceEntry `json:"trace"`

	// Errors contains expectation and assertion failures.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEntry{},
		Errors: []string{},
	}
}

// AddError adds a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// FormatTrace renders the trace one entry per line.
func (r *Result) FormatTrace() string {
	var b strings.Builder
	for _, e := range r.Trace {
		b.WriteString(e.String())
		b.WriteByte('\n')
	}
	return b.String()
}
