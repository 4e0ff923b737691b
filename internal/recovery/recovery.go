package recovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/caseflow/fieldsave/internal/draft"
)

// State is a recovery state machine state.
type State string

const (
	StateIdle          State = "idle"
	StateChecking      State = "checking"
	StatePromptingUser State = "prompting_user"
	StateResolved      State = "resolved"
)

// Decision is the user's answer to a recovery prompt.
type Decision string

const (
	DecisionRestore Decision = "restore"
	DecisionDiscard Decision = "discard"
	DecisionCancel  Decision = "cancel"
)

// ParseDecision validates a decision name.
func ParseDecision(s string) (Decision, error) {
	switch d := Decision(s); d {
	case DecisionRestore, DecisionDiscard, DecisionCancel:
		return d, nil
	}
	return "", fmt.Errorf("unknown recovery decision %q (want restore, discard or cancel)", s)
}

// Source is the per-form draft access the orchestrator needs.
// *lifecycle.Controller implements it.
type Source interface {
	Key() draft.Key
	Restore(ctx context.Context) *draft.Record
	Discard(ctx context.Context) error
}

// Form receives restored state. Apply replaces the live form state.
type Form interface {
	Apply(formData json.RawMessage, images []draft.CapturedImage)
}

// FormFunc adapts a function to Form.
type FormFunc func(formData json.RawMessage, images []draft.CapturedImage)

// Apply calls f.
func (f FormFunc) Apply(formData json.RawMessage, images []draft.CapturedImage) {
	f(formData, images)
}

// Prompter asks the user what to do with a recoverable draft.
type Prompter interface {
	Prompt(ctx context.Context, rec *draft.Record) (Decision, error)
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(ctx context.Context, rec *draft.Record) (Decision, error)

// Prompt calls f.
func (f PrompterFunc) Prompt(ctx context.Context, rec *draft.Record) (Decision, error) {
	return f(ctx, rec)
}

// Always answers every prompt with d.
func Always(d Decision) Prompter {
	return PrompterFunc(func(context.Context, *draft.Record) (Decision, error) {
		return d, nil
	})
}

// Outcome reports how a recovery check ended.
type Outcome struct {
	// Prompted is true when the user was asked.
	Prompted bool

	// Decision is the applied answer; empty when nobody was asked.
	Decision Decision

	// Record is the draft that was offered, if any.
	Record *draft.Record
}

// Orchestrator runs the recovery state machine for one form instance.
type Orchestrator struct {
	src        Source
	form       Form
	prompter   Prompter
	enabled    bool
	dismissals *Dismissals
	logger     *slog.Logger
	onState    func(from, to State)

	mu      sync.Mutex
	state   State
	done    chan struct{} // closed once the first Run resolves
	outcome Outcome
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithEnabled turns the recovery prompt on or off. When off, Run resolves
// without checking.
func WithEnabled(enabled bool) Option {
	return func(o *Orchestrator) { o.enabled = enabled }
}

// WithDismissals remembers cancelled prompts across form opens.
func WithDismissals(d *Dismissals) Option {
	return func(o *Orchestrator) { o.dismissals = d }
}

// WithLogger sets the orchestrator logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// OnStateChange registers a callback for every transition.
func OnStateChange(fn func(from, to State)) Option {
	return func(o *Orchestrator) { o.onState = fn }
}

// New creates an Orchestrator in StateIdle.
func New(src Source, form Form, prompter Prompter, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		src:      src,
		form:     form,
		prompter: prompter,
		enabled:  true,
		logger:   slog.Default(),
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Run performs the mount-time check. Only the first call does any work;
// later calls wait for it to resolve and return the same outcome, or return
// ctx.Err() if ctx ends first.
//
// A prompter error or unknown decision is treated as Cancel: the draft and
// the form are left untouched. The error is still returned.
func (o *Orchestrator) Run(ctx context.Context) (Outcome, error) {
	o.mu.Lock()
	if done := o.done; done != nil {
		o.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return Outcome{}, ctx.Err()
		}
		o.mu.Lock()
		defer o.mu.Unlock()
		return o.outcome, nil
	}
	o.done = make(chan struct{})
	o.mu.Unlock()

	out, err := o.check(ctx)

	o.mu.Lock()
	o.outcome = out
	close(o.done)
	o.mu.Unlock()
	return out, err
}

func (o *Orchestrator) check(ctx context.Context) (Outcome, error) {
	key := o.src.Key()
	if !o.enabled {
		o.transition(StateResolved)
		return Outcome{}, nil
	}

	o.transition(StateChecking)
	rec := o.src.Restore(ctx)
	if rec == nil || rec.IsComplete {
		o.logger.Debug("recovery: nothing to offer", "draft", key.String())
		o.transition(StateResolved)
		return Outcome{}, nil
	}
	if o.dismissals != nil && o.dismissals.Dismissed(rec) {
		o.logger.Debug("recovery: draft dismissed earlier", "draft", key.String())
		o.transition(StateResolved)
		return Outcome{Record: rec}, nil
	}

	o.transition(StatePromptingUser)
	decision, err := o.prompter.Prompt(ctx, rec)
	if err == nil {
		_, err = ParseDecision(string(decision))
	}
	if err != nil {
		o.logger.Warn("recovery: prompt failed, leaving draft", "draft", key.String(), "error", err)
		decision = DecisionCancel
		err = fmt.Errorf("recovery prompt: %w", err)
	}

	out := Outcome{Prompted: true, Decision: decision, Record: rec}
	switch decision {
	case DecisionRestore:
		formData, images := draft.CloneRaw(rec.FormData), draft.CloneImages(rec.Images)
		o.form.Apply(formData, images)
		o.forget(key)
		o.logger.Info("recovery: draft restored", "draft", key.String(), "last_saved", rec.LastSaved)
	case DecisionDiscard:
		if derr := o.src.Discard(ctx); derr != nil && err == nil {
			err = fmt.Errorf("recovery discard: %w", derr)
		}
		o.forget(key)
		o.logger.Info("recovery: draft discarded", "draft", key.String())
	case DecisionCancel:
		if o.dismissals != nil {
			o.dismissals.Dismiss(rec)
		}
		o.logger.Info("recovery: prompt cancelled", "draft", key.String())
	}

	o.transition(StateResolved)
	return out, err
}

func (o *Orchestrator) forget(key draft.Key) {
	if o.dismissals != nil {
		o.dismissals.Forget(key)
	}
}

func (o *Orchestrator) transition(to State) {
	o.mu.Lock()
	from := o.state
	o.state = to
	o.mu.Unlock()
	if o.onState != nil {
		o.onState(from, to)
	}
}
