package harness

import (
	"errors"
	"fmt"
	"strings"

	"github.com/caseflow/fieldsave/internal/draft"
	"github.com/caseflow/fieldsave/internal/engine"
)

// AssertionError is returned when an assertion fails.
// It includes the trace so the failure can be read in context.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEntry
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, entry := range e.Trace {
			fmt.Fprintf(&buf, "  %s\n", entry)
		}
	}
	return buf.String()
}

// evaluateAssertions runs every assertion and returns the failure messages.
func (h *Harness) evaluateAssertions(assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		if err := h.evaluate(a); err != nil {
			failures = append(failures, fmt.Sprintf("assertion[%d]: %v", i, err))
		}
	}
	return failures
}

func (h *Harness) evaluate(a Assertion) error {
	key := draft.NewKey(a.Case, a.Form)
	switch a.Type {
	case AssertWrites:
		return h.assertWrites(key, a)
	case AssertEventOrder:
		return h.assertEventOrder(key, a)
	case AssertEventCount:
		return h.assertEventCount(key, a)
	case AssertFinalState:
		return h.assertFinalState(key, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// assertWrites checks the number of successful physical writes for a key.
func (h *Harness) assertWrites(key draft.Key, a Assertion) error {
	h.mu.Lock()
	got := h.writes[draft.StorageKey(key)]
	trace := h.result.Trace
	h.mu.Unlock()
	if got != a.Count {
		return &AssertionError{
			Type:     AssertWrites,
			Expected: fmt.Sprintf("%d writes of %s", a.Count, key),
			Actual:   fmt.Sprintf("%d writes", got),
			Trace:    trace,
		}
	}
	return nil
}

func (h *Harness) eventKinds(key draft.Key) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var kinds []string
	for _, ev := range h.events {
		if key == (draft.Key{}) || ev.Key == key {
			kinds = append(kinds, string(ev.Kind))
		}
	}
	return kinds
}

// assertEventOrder checks that a key's events are exactly the given sequence.
func (h *Harness) assertEventOrder(key draft.Key, a Assertion) error {
	got := h.eventKinds(key)
	if strings.Join(got, ",") != strings.Join(a.Events, ",") {
		return &AssertionError{
			Type:     AssertEventOrder,
			Expected: fmt.Sprintf("events of %s: %v", key, a.Events),
			Actual:   fmt.Sprintf("%v", got),
			Trace:    h.result.Trace,
		}
	}
	return nil
}

// assertEventCount checks how many events of one kind a key received. An
// assertion without a key counts across all keys.
func (h *Harness) assertEventCount(key draft.Key, a Assertion) error {
	count := 0
	for _, kind := range h.eventKinds(key) {
		if kind == a.Event {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertEventCount,
			Expected: fmt.Sprintf("%d %s events for %s", a.Count, a.Event, key),
			Actual:   fmt.Sprintf("%d", count),
			Trace:    h.result.Trace,
		}
	}
	return nil
}

// assertFinalState inspects the stored record after the flow. It reads the
// store directly, so pending writes that never fired are not visible.
func (h *Harness) assertFinalState(key draft.Key, a Assertion) error {
	rec, err := h.engine.Inspect(h.ctx, key)
	if errors.Is(err, engine.ErrNoDraft) {
		if a.Absent {
			return nil
		}
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("stored record for %s", key),
			Actual:   "no record",
		}
	}
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("readable record for %s", key),
			Actual:   err.Error(),
		}
	}
	if a.Absent {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("no record for %s", key),
			Actual:   fmt.Sprintf("record with form data %s", rec.FormData),
		}
	}
	if a.Complete != nil && rec.IsComplete != *a.Complete {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("complete=%t", *a.Complete),
			Actual:   fmt.Sprintf("complete=%t", rec.IsComplete),
		}
	}
	if a.FormData != nil {
		if msg := compareJSON(a.FormData, rec.FormData); msg != "" {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("form data of %s", key),
				Actual:   msg,
			}
		}
	}
	return nil
}
