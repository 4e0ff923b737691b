package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/caseflow/fieldsave/internal/draft"
	"github.com/caseflow/fieldsave/internal/engine"
	"github.com/caseflow/fieldsave/internal/securestore"
	"github.com/caseflow/fieldsave/internal/store"
	"github.com/caseflow/fieldsave/internal/testutil"
)

// deviceKey is fixed so scenario runs need no key file.
var deviceKey = []byte("fieldsave-harness-device-key-32b")

// Harness is the scenario execution engine.
type Harness struct {
	ctx     context.Context
	store   *store.Store
	secure  *securestore.Store
	records *tracingRecords
	engine  *engine.Engine
	clock   *testutil.FakeClock
	start   time.Time
	logger  *slog.Logger

	mu     sync.Mutex
	result *Result
	events []engine.Event
	writes map[string]int
}

// tracingRecords records every physical write and delete in the trace and
// can be told to reject writes.
type tracingRecords struct {
	*securestore.Store
	h *Harness

	mu   sync.Mutex
	fail bool
}

func (r *tracingRecords) SetRaw(ctx context.Context, key string, plaintext []byte) error {
	r.mu.Lock()
	fail := r.fail
	r.mu.Unlock()
	if fail {
		r.h.trace("write_failed", key)
		return &securestore.WriteError{Key: key, Err: errors.New("injected write failure")}
	}
	if err := r.Store.SetRaw(ctx, key, plaintext); err != nil {
		return err
	}
	var header struct {
		IsComplete bool `json:"isComplete"`
	}
	_ = json.Unmarshal(plaintext, &header)
	r.h.countWrite(key)
	r.h.trace("write", fmt.Sprintf("%s complete=%t", key, header.IsComplete))
	return nil
}

func (r *tracingRecords) Remove(ctx context.Context, key string) error {
	if err := r.Store.Remove(ctx, key); err != nil {
		return err
	}
	r.h.trace("delete", key)
	return nil
}

func (r *tracingRecords) setFail(fail bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail = fail
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
//
// Execution flow:
// 1. Create fresh in-memory database, encrypted store and engine
// 2. Write seed records directly to the encrypted store
// 3. Execute flow steps, advancing the fake clock before each
// 4. Evaluate assertions against the trace and the final store
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	logger := slog.New(slog.DiscardHandler)
	secure, err := securestore.New(st, deviceKey, securestore.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypted store: %w", err)
	}

	clock := testutil.NewFakeClock()
	h := &Harness{
		ctx:    context.Background(),
		store:  st,
		secure: secure,
		clock:  clock,
		start:  clock.Now(),
		logger: logger,
		result: NewResult(),
		writes: make(map[string]int),
	}
	h.records = &tracingRecords{Store: secure, h: h}

	opts := []engine.Option{
		engine.WithClock(clock),
		engine.WithLogger(logger),
		engine.WithClientInfo("fieldsave-harness"),
	}
	if d, ok := duration(scenario.Engine.Debounce); ok {
		opts = append(opts, engine.WithDebounce(d))
	}
	if d, ok := duration(scenario.Engine.CompletionGrace); ok {
		opts = append(opts, engine.WithCompletionGrace(d))
	}
	if d, ok := duration(scenario.Engine.Retention); ok {
		opts = append(opts, engine.WithRetention(d))
	}
	h.engine = engine.New(h.records, opts...)
	h.engine.Subscribe(draft.Key{}, h.onEvent)

	if err := h.seed(scenario.Seed); err != nil {
		return nil, fmt.Errorf("failed to seed store: %w", err)
	}
	if err := h.executeFlow(scenario.Flow); err != nil {
		return nil, fmt.Errorf("failed to execute flow: %w", err)
	}

	for _, msg := range h.evaluateAssertions(scenario.Assertions) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

func duration(s string) (time.Duration, bool) {
	if s == "" {
		return 0, false
	}
	d, err := time.ParseDuration(s)
	return d, err == nil
}

func (h *Harness) trace(kind, text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.result.Trace = append(h.result.Trace, TraceEntry{
		At:   h.clock.Now().Sub(h.start),
		Kind: kind,
		Text: text,
	})
}

func (h *Harness) countWrite(storageKey string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.writes[storageKey]++
}

func (h *Harness) onEvent(ev engine.Event) {
	h.mu.Lock()
	h.events = append(h.events, ev)
	h.mu.Unlock()
	h.trace("event", fmt.Sprintf("%s %s", ev.Kind, ev.Key))
}

// seed writes records straight through the encrypted store, bypassing the
// engine and the trace.
func (h *Harness) seed(seeds []SeedRecord) error {
	for i, s := range seeds {
		formData, err := draft.EncodeFormData(s.FormData)
		if err != nil {
			return fmt.Errorf("seed[%d]: %w", i, err)
		}
		age, _ := duration(s.Age)
		saved := h.start.Add(-age)
		version := s.Version
		if version == 0 {
			version = draft.RecordVersion
		}
		rec := draft.Record{
			CaseID:     s.Case,
			FormType:   s.Form,
			FormData:   formData,
			Images:     []draft.CapturedImage{},
			LastSaved:  saved,
			Version:    version,
			IsComplete: s.Complete,
			Metadata: draft.Metadata{
				ClientInfo:  "fieldsave-harness-seed",
				CapturedAt:  saved,
				FormVersion: draft.FormVersion,
			},
		}
		data, err := json.Marshal(&rec)
		if err != nil {
			return fmt.Errorf("seed[%d]: %w", i, err)
		}
		if err := h.secure.SetRaw(h.ctx, draft.StorageKey(rec.Key()), data); err != nil {
			return fmt.Errorf("seed[%d]: %w", i, err)
		}
		h.logger.Debug("seeded draft", "draft", rec.Key().String(), "age", age)
	}
	return nil
}

// outcome is what an op produced, for expect checks.
type outcome struct {
	rec     *draft.Record
	err     error
	keys    []string
	removed int
}

// executeFlow runs all flow steps and validates expect clauses.
func (h *Harness) executeFlow(flow []Step) error {
	for i, step := range flow {
		at, err := parseOffset(step.At)
		if err != nil {
			return fmt.Errorf("flow step %d: %w", i, err)
		}
		h.clock.Set(h.start.Add(at))

		key := draft.NewKey(step.Case, step.Form)
		if step.Op != OpAdvance {
			if keyedOps[step.Op] {
				h.trace("op", fmt.Sprintf("%s %s", step.Op, key))
			} else {
				h.trace("op", step.Op)
			}
		}

		out, err := h.execute(step, key)
		if err != nil {
			return fmt.Errorf("flow step %d: %w", i, err)
		}
		h.checkExpect(i, step, out)
	}
	return nil
}

func (h *Harness) execute(step Step, key draft.Key) (outcome, error) {
	var out outcome
	switch step.Op {
	case OpSave:
		images := make([]draft.CapturedImage, len(step.Images))
		for i, img := range step.Images {
			images[i] = img.toDraft()
		}
		var opts []engine.SaveOption
		if d, ok := duration(step.Debounce); ok {
			opts = append(opts, engine.Debounce(d))
		}
		_, out.err = h.engine.Save(h.ctx, key, step.FormData, images, opts...)
		h.traceErr(out.err)

	case OpLoad:
		out.rec = h.engine.Load(h.ctx, key)
		if out.rec == nil {
			h.trace("result", "null")
		} else {
			h.trace("result", fmt.Sprintf("%s images=%d complete=%t", out.rec.FormData, len(out.rec.Images), out.rec.IsComplete))
		}

	case OpInspect:
		out.rec, out.err = h.engine.Inspect(h.ctx, key)
		switch {
		case errors.Is(out.err, engine.ErrNoDraft):
			h.trace("result", "absent")
		case out.err != nil:
			h.traceErr(out.err)
		default:
			h.trace("result", "ok")
		}

	case OpMarkComplete:
		out.err = h.engine.MarkComplete(h.ctx, key)
		h.traceErr(out.err)

	case OpRemove:
		out.err = h.engine.Remove(h.ctx, key)
		h.traceErr(out.err)

	case OpForceFlush:
		out.err = h.engine.ForceFlush(h.ctx)
		if out.err == nil {
			h.trace("result", "ok")
		}
		h.traceErr(out.err)

	case OpCleanup:
		report, err := h.engine.Cleanup(h.ctx)
		out.err = err
		out.removed = len(report.Removed())
		h.trace("result", fmt.Sprintf("expired=%d completed=%d unreadable=%d",
			len(report.Expired), len(report.Completed), len(report.Unreadable)))
		h.traceErr(err)

	case OpList:
		drafts, err := h.engine.ListAllDrafts(h.ctx)
		if err != nil {
			return out, err
		}
		for _, d := range drafts {
			out.keys = append(out.keys, d.Key().String())
		}
		if len(out.keys) == 0 {
			h.trace("result", "none")
		} else {
			h.trace("result", strings.Join(out.keys, " "))
		}

	case OpStats:
		st, err := h.engine.Stats(h.ctx)
		if err != nil {
			return out, err
		}
		h.trace("result", fmt.Sprintf("drafts=%d completed=%d unreadable=%d pending=%d",
			st.Drafts, st.Completed, st.Unreadable, st.Pending))

	case OpAdvance:

	case OpFailWrites:
		h.records.setFail(true)

	case OpHealWrites:
		h.records.setFail(false)

	case OpCorrupt:
		bk := h.secure.Namespace() + draft.StorageKey(key)
		if err := h.store.Set(h.ctx, bk, []byte("not a ciphertext")); err != nil {
			return out, err
		}

	default:
		return out, fmt.Errorf("unknown op %q", step.Op)
	}
	return out, nil
}

func (h *Harness) traceErr(err error) {
	if err == nil {
		return
	}
	code := engine.CodeOf(err)
	if code == "" {
		code = "UNKNOWN"
	}
	h.trace("result", "error "+string(code))
}

func (h *Harness) checkExpect(i int, step Step, out outcome) {
	exp := step.Expect
	if exp == nil {
		if out.err != nil && !errors.Is(out.err, engine.ErrNoDraft) {
			h.result.AddError(fmt.Sprintf("flow[%d] %s: unexpected error: %v", i, step.Op, out.err))
		}
		return
	}

	if exp.Error != "" {
		got := string(engine.CodeOf(out.err))
		if out.err == nil {
			got = "none"
		}
		if got != exp.Error {
			h.result.AddError(fmt.Sprintf("flow[%d] %s: error = %s, want %s", i, step.Op, got, exp.Error))
		}
	} else if out.err != nil && !errors.Is(out.err, engine.ErrNoDraft) {
		h.result.AddError(fmt.Sprintf("flow[%d] %s: unexpected error: %v", i, step.Op, out.err))
	}

	if exp.Absent && out.rec != nil {
		h.result.AddError(fmt.Sprintf("flow[%d] %s: expected no record, got one saved at %s", i, step.Op, out.rec.LastSaved.Format(time.RFC3339Nano)))
	}
	needRecord := exp.Complete != nil || exp.FormData != nil || exp.Images != nil
	if needRecord && out.rec == nil {
		h.result.AddError(fmt.Sprintf("flow[%d] %s: expected a record, got none", i, step.Op))
		return
	}
	if exp.Complete != nil && out.rec.IsComplete != *exp.Complete {
		h.result.AddError(fmt.Sprintf("flow[%d] %s: complete = %t, want %t", i, step.Op, out.rec.IsComplete, *exp.Complete))
	}
	if exp.FormData != nil {
		if msg := compareJSON(exp.FormData, out.rec.FormData); msg != "" {
			h.result.AddError(fmt.Sprintf("flow[%d] %s: form_data %s", i, step.Op, msg))
		}
	}
	if exp.Images != nil && len(out.rec.Images) != *exp.Images {
		h.result.AddError(fmt.Sprintf("flow[%d] %s: images = %d, want %d", i, step.Op, len(out.rec.Images), *exp.Images))
	}
	if exp.Keys != nil && !reflect.DeepEqual(nonNil(out.keys), exp.Keys) {
		h.result.AddError(fmt.Sprintf("flow[%d] %s: keys = %v, want %v", i, step.Op, out.keys, exp.Keys))
	}
	if exp.Removed != nil && out.removed != *exp.Removed {
		h.result.AddError(fmt.Sprintf("flow[%d] %s: removed = %d, want %d", i, step.Op, out.removed, *exp.Removed))
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// compareJSON compares a YAML-decoded expectation with stored JSON by value.
// Returns "" when equal.
func compareJSON(expected any, actual json.RawMessage) string {
	want, err := json.Marshal(expected)
	if err != nil {
		return fmt.Sprintf("expectation not encodable: %v", err)
	}
	var w, g any
	if err := json.Unmarshal(want, &w); err != nil {
		return fmt.Sprintf("expectation not decodable: %v", err)
	}
	if err := json.Unmarshal(actual, &g); err != nil {
		return fmt.Sprintf("stored value not decodable: %v", err)
	}
	if !reflect.DeepEqual(w, g) {
		return fmt.Sprintf("= %s, want %s", actual, want)
	}
	return ""
}
