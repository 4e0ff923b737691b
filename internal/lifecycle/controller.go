package lifecycle

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/caseflow/fieldsave/internal/draft"
	"github.com/caseflow/fieldsave/internal/engine"
)

// Engine is the slice of *engine.Engine a controller uses.
type Engine interface {
	Save(ctx context.Context, key draft.Key, formData any, images []draft.CapturedImage, opts ...engine.SaveOption) (*draft.Record, error)
	Load(ctx context.Context, key draft.Key) *draft.Record
	HasDraft(ctx context.Context, key draft.Key) bool
	MarkComplete(ctx context.Context, key draft.Key) error
	Remove(ctx context.Context, key draft.Key) error
	ForceFlush(ctx context.Context) error
	Subscribe(key draft.Key, fn func(engine.Event)) *engine.Subscription
}

var _ Engine = (*engine.Engine)(nil)

// Status is what a status indicator renders.
type Status struct {
	IsSaving          bool       `json:"isSaving"`
	LastSaved         *time.Time `json:"lastSaved"`
	HasUnsavedChanges bool       `json:"hasUnsavedChanges"`
	LastError         string     `json:"lastError,omitempty"`
	HasDraftAvailable bool       `json:"hasDraftAvailable"`
}

// Controller adapts one open form to the engine. Safe for concurrent use.
type Controller struct {
	eng    Engine
	key    draft.Key
	logger *slog.Logger

	enabled   bool
	skipEmpty bool
	debounce  time.Duration
	onChange  func(Status)

	mu          sync.Mutex
	status      Status
	fingerprint string

	sub        *engine.Subscription
	stopListen func()
	closeOnce  sync.Once
}

// Option configures a Controller.
type Option func(*Controller)

// WithDebounce sets the debounce window passed to every save. Zero uses the
// engine default.
func WithDebounce(d time.Duration) Option {
	return func(c *Controller) { c.debounce = d }
}

// WithEnabled turns autosave on or off. A disabled controller ignores Save.
func WithEnabled(enabled bool) Option {
	return func(c *Controller) { c.enabled = enabled }
}

// WithSkipEmpty controls whether saves without any content are skipped.
func WithSkipEmpty(skip bool) Option {
	return func(c *Controller) { c.skipEmpty = skip }
}

// WithHost subscribes the controller to host visibility and unload signals.
func WithHost(h *Host) Option {
	return func(c *Controller) {
		c.stopListen = h.Listen(c.handleSignal)
	}
}

// WithLogger sets the controller logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// OnChange registers a callback invoked with a copy of the status after
// every change. It runs without the controller lock held.
func OnChange(fn func(Status)) Option {
	return func(c *Controller) { c.onChange = fn }
}

// New creates a controller for key and starts listening for engine events.
// Call Mount to populate HasDraftAvailable, and Close when the form goes away.
func New(eng Engine, key draft.Key, opts ...Option) *Controller {
	c := &Controller{
		eng:       eng,
		key:       key,
		logger:    slog.Default(),
		enabled:   true,
		skipEmpty: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.sub = eng.Subscribe(key, c.handleEvent)
	return c
}

// Key returns the draft key this controller manages.
func (c *Controller) Key() draft.Key {
	return c.key
}

// Status returns a snapshot of the current status.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Mount checks for an existing draft. It never restores one.
func (c *Controller) Mount(ctx context.Context) Status {
	has := c.eng.HasDraft(ctx, c.key)
	return c.update(func(s *Status) { s.HasDraftAvailable = has })
}

// Save hands the form state to the engine. A payload identical to the last
// one saved is ignored, and so is an empty form when SkipEmpty is on.
func (c *Controller) Save(ctx context.Context, formData any, images []draft.CapturedImage) error {
	if !c.enabled {
		return nil
	}

	raw, err := draft.EncodeFormData(formData)
	if err != nil {
		c.fail(err)
		return err
	}
	fp, err := draft.Fingerprint(raw, images)
	if err != nil {
		c.fail(err)
		return err
	}

	c.mu.Lock()
	unchanged := fp == c.fingerprint
	c.mu.Unlock()
	if unchanged {
		c.logger.Debug("autosave skipped, payload unchanged", "draft", c.key.String())
		return nil
	}
	if c.skipEmpty && !draft.HasContent(raw, images) {
		c.logger.Debug("autosave skipped, form empty", "draft", c.key.String())
		return nil
	}

	var opts []engine.SaveOption
	if c.debounce > 0 {
		opts = append(opts, engine.Debounce(c.debounce))
	}
	if _, err := c.eng.Save(ctx, c.key, raw, images, opts...); err != nil {
		c.fail(err)
		return err
	}

	c.mu.Lock()
	c.fingerprint = fp
	c.mu.Unlock()
	return nil
}

// Restore loads the stored draft, bypassing pending writes. The restored
// payload becomes the no-op baseline, so echoing it back does not re-save.
func (c *Controller) Restore(ctx context.Context) *draft.Record {
	rec := c.eng.Load(ctx, c.key)
	if rec == nil {
		return nil
	}
	if fp, err := draft.Fingerprint(rec.FormData, rec.Images); err == nil {
		c.mu.Lock()
		c.fingerprint = fp
		c.mu.Unlock()
	}
	saved := rec.LastSaved
	c.update(func(s *Status) {
		s.HasDraftAvailable = true
		s.LastSaved = &saved
	})
	return rec
}

// Discard deletes the draft and resets the no-op baseline.
func (c *Controller) Discard(ctx context.Context) error {
	if err := c.eng.Remove(ctx, c.key); err != nil {
		c.fail(err)
		return err
	}
	c.mu.Lock()
	c.fingerprint = ""
	c.mu.Unlock()
	c.update(func(s *Status) {
		*s = Status{}
	})
	return nil
}

// MarkCompleted flags the draft as submitted and resets the no-op baseline,
// since the record is deleted once the grace period ends.
func (c *Controller) MarkCompleted(ctx context.Context) error {
	if err := c.eng.MarkComplete(ctx, c.key); err != nil {
		c.fail(err)
		return err
	}
	c.mu.Lock()
	c.fingerprint = ""
	c.mu.Unlock()
	c.update(func(s *Status) {
		s.IsSaving = false
		s.HasUnsavedChanges = false
		s.LastError = ""
		s.HasDraftAvailable = false
	})
	return nil
}

// ForceSave flushes every pending write in the engine now.
func (c *Controller) ForceSave(ctx context.Context) error {
	if err := c.eng.ForceFlush(ctx); err != nil {
		c.fail(err)
		return err
	}
	return nil
}

// Close stops listening to the engine and the host. Pending writes are left
// to the engine.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.sub.Cancel()
		if c.stopListen != nil {
			c.stopListen()
		}
	})
}

func (c *Controller) handleSignal(sig Signal) {
	if sig != SignalHidden && sig != SignalBeforeUnload {
		return
	}
	if !c.Status().HasUnsavedChanges {
		return
	}
	c.logger.Debug("host signal, flushing", "draft", c.key.String(), "signal", sig)
	if err := c.ForceSave(context.Background()); err != nil {
		c.logger.Error("flush on host signal failed", "draft", c.key.String(), "signal", sig, "error", err)
	}
}

func (c *Controller) handleEvent(ev engine.Event) {
	switch ev.Kind {
	case engine.EventSaved:
		saved := ev.Record.LastSaved
		c.update(func(s *Status) {
			s.IsSaving = true
			s.HasUnsavedChanges = true
			s.LastSaved = &saved
			s.LastError = ""
			s.HasDraftAvailable = true
		})
	case engine.EventWritten:
		written := ev.Record.LastSaved
		c.update(func(s *Status) {
			// An older write landing after a newer save leaves that save unsaved.
			if s.LastSaved != nil && written.Before(*s.LastSaved) {
				return
			}
			s.IsSaving = false
			s.HasUnsavedChanges = false
			s.LastSaved = &written
		})
	case engine.EventWriteFailed:
		msg := errorText(ev.Err)
		c.update(func(s *Status) {
			s.IsSaving = false
			s.HasUnsavedChanges = true
			s.LastError = msg
		})
	case engine.EventCompleted:
		c.update(func(s *Status) {
			s.IsSaving = false
			s.HasUnsavedChanges = false
			s.HasDraftAvailable = false
		})
	case engine.EventRemoved:
		c.update(func(s *Status) {
			s.IsSaving = false
			s.HasUnsavedChanges = false
			s.LastSaved = nil
			s.HasDraftAvailable = false
		})
	}
}

func (c *Controller) fail(err error) {
	msg := errorText(err)
	c.logger.Warn("autosave error", "draft", c.key.String(), "error", err)
	c.update(func(s *Status) {
		s.IsSaving = false
		s.LastError = msg
	})
}

func (c *Controller) update(fn func(*Status)) Status {
	c.mu.Lock()
	fn(&c.status)
	st := c.status
	c.mu.Unlock()
	if c.onChange != nil {
		c.onChange(st)
	}
	return st
}

func errorText(err error) string {
	if err == nil {
		return "autosave failed"
	}
	return err.Error()
}

// PayloadOf returns the record's form state as (formData, images), the shape
// a form applies on restore.
func PayloadOf(rec *draft.Record) (json.RawMessage, []draft.CapturedImage) {
	if rec == nil {
		return nil, nil
	}
	return draft.CloneRaw(rec.FormData), draft.CloneImages(rec.Images)
}
