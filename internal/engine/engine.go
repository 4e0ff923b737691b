package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/caseflow/fieldsave/internal/clock"
	"github.com/caseflow/fieldsave/internal/draft"
	"github.com/caseflow/fieldsave/internal/securestore"
)

// Defaults for engine timing.
const (
	DefaultDebounce        = time.Second
	DefaultCompletionGrace = 5 * time.Second
	DefaultRetention       = 7 * 24 * time.Hour
	DefaultCleanupInterval = 24 * time.Hour
)

// Records is the encrypted store surface the engine needs.
// *securestore.Store implements it.
type Records interface {
	SetRaw(ctx context.Context, key string, plaintext []byte) error
	GetRaw(ctx context.Context, key string) (json.RawMessage, error)
	Remove(ctx context.Context, key string) error
	ListKeysWithPrefix(ctx context.Context, prefix string) ([]string, error)
	Size(ctx context.Context, prefix string) (int64, error)
}

// MetaStore persists small bookkeeping values. *store.Store implements it.
type MetaStore interface {
	GetMeta(ctx context.Context, key string) (string, bool, error)
	SetMeta(ctx context.Context, key, value string) error
}

// Engine owns every autosave record.
//
// Thread-safety model:
//   - All exported methods are safe from any goroutine
//   - e.mu guards slots, subscriptions and grace timers and is never held
//     across storage I/O or subscriber callbacks
//   - slot.writeMu serializes storage I/O per key
type Engine struct {
	records Records
	meta    MetaStore
	clock   clock.Clock
	logger  *slog.Logger

	debounce        time.Duration
	completionGrace time.Duration
	retention       time.Duration
	cleanupInterval time.Duration
	clientInfo      string

	mu          sync.Mutex
	slots       map[draft.Key]*slot
	graceTimers map[draft.Key]clock.Timer
	subs        map[draft.Key]map[uint64]func(Event)
	nextSubID   uint64
	retiredGen  uint64
	closed      bool
}

// Option allows configuration of engine parameters.
type Option func(*Engine)

// WithClock overrides the wall clock (tests use testutil.FakeClock).
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithDebounce sets the default debounce window for Save.
func WithDebounce(d time.Duration) Option {
	return func(e *Engine) { e.debounce = d }
}

// WithCompletionGrace sets the delay between MarkComplete and deletion.
func WithCompletionGrace(d time.Duration) Option {
	return func(e *Engine) { e.completionGrace = d }
}

// WithRetention sets how long an untouched draft survives Cleanup.
func WithRetention(d time.Duration) Option {
	return func(e *Engine) { e.retention = d }
}

// WithCleanupInterval sets the janitor period.
func WithCleanupInterval(d time.Duration) Option {
	return func(e *Engine) { e.cleanupInterval = d }
}

// WithMetaStore enables persisting the janitor's last run.
func WithMetaStore(m MetaStore) Option {
	return func(e *Engine) { e.meta = m }
}

// WithClientInfo overrides Metadata.ClientInfo.
func WithClientInfo(info string) Option {
	return func(e *Engine) { e.clientInfo = info }
}

// New creates an Engine over an encrypted record store.
func New(records Records, opts ...Option) *Engine {
	e := &Engine{
		records:         records,
		clock:           clock.Real(),
		logger:          slog.Default(),
		debounce:        DefaultDebounce,
		completionGrace: DefaultCompletionGrace,
		retention:       DefaultRetention,
		cleanupInterval: DefaultCleanupInterval,
		slots:           make(map[draft.Key]*slot),
		graceTimers:     make(map[draft.Key]clock.Timer),
		subs:            make(map[draft.Key]map[uint64]func(Event)),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.clientInfo == "" {
		e.clientInfo = fmt.Sprintf("fieldsave/%s (%s/%s; instance %s)",
			draft.ClientVersion, runtime.GOOS, runtime.GOARCH, uuid.Must(uuid.NewV7()).String())
	}
	return e
}

// SaveOption adjusts a single Save call.
type SaveOption func(*saveOptions)

type saveOptions struct {
	debounce time.Duration
}

// Debounce overrides the engine's debounce window for one Save.
func Debounce(d time.Duration) SaveOption {
	return func(o *saveOptions) { o.debounce = d }
}

// Save queues a full-record replace for key and (re)starts its debounce
// timer. Only the newest candidate per key is kept. Subscribers are notified
// with the candidate before Save returns, independent of the physical write.
//
// Save itself only fails for bad input or a closed engine; physical write
// failures arrive later as EventWriteFailed (or from ForceFlush).
func (e *Engine) Save(ctx context.Context, key draft.Key, formData any, images []draft.CapturedImage, opts ...SaveOption) (*draft.Record, error) {
	if err := key.Validate(); err != nil {
		return nil, &DraftError{Code: ErrCodeInvalidInput, Message: err.Error(), Key: key}
	}
	data, err := draft.EncodeFormData(formData)
	if err != nil {
		return nil, &DraftError{Code: ErrCodeInvalidInput, Message: "form data is not serializable", Key: key, Err: err}
	}

	o := saveOptions{debounce: e.debounce}
	for _, opt := range opts {
		opt(&o)
	}

	now := e.clock.Now()
	rec := &draft.Record{
		CaseID:    key.CaseID,
		FormType:  key.FormType,
		FormData:  data,
		Images:    draft.CloneImages(images),
		LastSaved: now,
		Version:   draft.RecordVersion,
		Metadata: draft.Metadata{
			ClientInfo:  e.clientInfo,
			CapturedAt:  now,
			FormVersion: draft.FormVersion,
		},
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, newClosedError(key)
	}
	s := e.slotLocked(key)
	if s.pending != nil {
		coalescedTotal.Inc()
	} else {
		pendingWrites.Inc()
	}
	s.pending = rec
	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.timer = e.clock.AfterFunc(o.debounce, func() { e.fire(key, gen) })
	e.mu.Unlock()

	savesTotal.Inc()
	e.publish(Event{Kind: EventSaved, Key: key, Record: rec.Clone()})
	return rec.Clone(), nil
}

// Load reads the stored record for key, bypassing the write queue. It returns
// nil if the record is absent, unreadable, of an unknown version or invalid.
func (e *Engine) Load(ctx context.Context, key draft.Key) *draft.Record {
	rec, err := e.Inspect(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNoDraft) {
			readFailuresTotal.WithLabelValues(string(CodeOf(err))).Inc()
			e.logger.Warn("draft unreadable, treating as absent", "draft", key.String(), "code", CodeOf(err), "error", err)
		}
		return nil
	}
	return rec
}

// HasDraft reports whether Load would return a record.
func (e *Engine) HasDraft(ctx context.Context, key draft.Key) bool {
	return e.Load(ctx, key) != nil
}

// Inspect reads the stored record for key and reports why it is unusable.
// It returns ErrNoDraft when nothing is stored, or a *DraftError.
func (e *Engine) Inspect(ctx context.Context, key draft.Key) (*draft.Record, error) {
	if err := key.Validate(); err != nil {
		return nil, &DraftError{Code: ErrCodeInvalidInput, Message: err.Error(), Key: key}
	}
	return e.readKey(ctx, key, draft.StorageKey(key))
}

// readKey reads storageKey and checks it holds a record for key. A zero key
// accepts whatever record is stored.
func (e *Engine) readKey(ctx context.Context, key draft.Key, storageKey string) (*draft.Record, error) {
	raw, err := e.records.GetRaw(ctx, storageKey)
	if errors.Is(err, securestore.ErrNotFound) {
		return nil, ErrNoDraft
	}
	if err != nil {
		var re *securestore.ReadError
		code := ErrCodeStorageRead
		if errors.As(err, &re) {
			switch re.Stage {
			case securestore.StageDecrypt:
				code = ErrCodeDecryption
			case securestore.StageDecode:
				code = ErrCodeDeserialization
			}
		}
		return nil, &DraftError{Code: code, Message: "failed to read draft", Key: key, Err: err}
	}

	// Check the version before decoding the rest, so a future layout is
	// rejected rather than half-parsed.
	var header struct {
		Version *int `json:"version"`
	}
	if err := json.Unmarshal(raw, &header); err != nil {
		return nil, &DraftError{Code: ErrCodeDeserialization, Message: "stored value is not a record", Key: key, Err: err}
	}
	if header.Version == nil || *header.Version != draft.RecordVersion {
		got := "missing"
		if header.Version != nil {
			got = fmt.Sprint(*header.Version)
		}
		return nil, &DraftError{
			Code:    ErrCodeVersionMismatch,
			Message: fmt.Sprintf("record version %s, want %d", got, draft.RecordVersion),
			Key:     key,
			Err:     draft.ErrUnsupportedVersion,
		}
	}

	var rec draft.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, &DraftError{Code: ErrCodeDeserialization, Message: "stored value is not a record", Key: key, Err: err}
	}
	if err := draft.Validate(&rec); err != nil {
		return nil, &DraftError{Code: ErrCodeInvalidRecord, Message: "record failed validation", Key: key, Err: err}
	}
	if key != (draft.Key{}) && rec.Key() != key {
		return nil, &DraftError{
			Code:    ErrCodeInvalidRecord,
			Message: fmt.Sprintf("record belongs to %s", rec.Key()),
			Key:     key,
			Err:     draft.ErrInvalidRecord,
		}
	}
	return &rec, nil
}

// write persists rec as a full replace.
func (e *Engine) write(ctx context.Context, rec *draft.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return newWriteError(rec.Key(), fmt.Errorf("encode record: %w", err))
	}
	start := time.Now()
	err = e.records.SetRaw(ctx, draft.StorageKey(rec.Key()), data)
	writeDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		writesTotal.WithLabelValues("error").Inc()
		return newWriteError(rec.Key(), err)
	}
	writesTotal.WithLabelValues("ok").Inc()
	return nil
}

// MarkComplete flags the draft as belonging to a submitted form. The flag is
// written immediately, bypassing debounce, and any still-pending candidate is
// folded into that write instead of being written later. Physical deletion
// follows after the completion grace delay.
//
// Completing a key with no stored or pending record is a no-op.
func (e *Engine) MarkComplete(ctx context.Context, key draft.Key) error {
	if err := key.Validate(); err != nil {
		return &DraftError{Code: ErrCodeInvalidInput, Message: err.Error(), Key: key}
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return newClosedError(key)
	}
	s := e.slotLocked(key)
	s.refs++
	e.mu.Unlock()
	defer e.releaseSlot(key, s)

	s.writeMu.Lock()
	rec := e.takePending(s)
	if rec == nil {
		stored, err := e.Inspect(ctx, key)
		if err != nil {
			s.writeMu.Unlock()
			if errors.Is(err, ErrNoDraft) {
				return nil
			}
			e.logger.Warn("cannot complete unreadable draft", "draft", key.String(), "error", err)
			return nil
		}
		rec = stored
	}
	rec.IsComplete = true
	rec.LastSaved = e.clock.Now()
	err := e.write(ctx, rec)
	s.writeMu.Unlock()

	if err != nil {
		e.logger.Error("failed to mark draft complete", "draft", key.String(), "error", err)
		e.publish(Event{Kind: EventWriteFailed, Key: key, Record: rec.Clone(), Err: err})
		return err
	}
	e.logger.Debug("draft marked complete", "draft", key.String())
	e.publish(Event{Kind: EventCompleted, Key: key, Record: rec.Clone()})

	e.mu.Lock()
	if !e.closed {
		if t, ok := e.graceTimers[key]; ok {
			t.Stop()
		}
		e.graceTimers[key] = e.clock.AfterFunc(e.completionGrace, func() { e.expireCompleted(key) })
	}
	e.mu.Unlock()
	return nil
}

// Remove cancels any pending write for key, deletes the stored record and
// notifies subscribers with a nil record.
func (e *Engine) Remove(ctx context.Context, key draft.Key) error {
	if err := key.Validate(); err != nil {
		return &DraftError{Code: ErrCodeInvalidInput, Message: err.Error(), Key: key}
	}

	e.mu.Lock()
	s := e.slotLocked(key)
	s.refs++
	if t, ok := e.graceTimers[key]; ok {
		t.Stop()
		delete(e.graceTimers, key)
	}
	e.mu.Unlock()
	defer e.releaseSlot(key, s)

	s.writeMu.Lock()
	e.takePending(s)
	err := e.records.Remove(ctx, draft.StorageKey(key))
	s.writeMu.Unlock()

	if err != nil {
		return newWriteError(key, err)
	}
	e.logger.Debug("draft removed", "draft", key.String())
	e.publish(Event{Kind: EventRemoved, Key: key})
	return nil
}

// Close flushes pending writes, cancels all timers (including scheduled
// post-completion deletions, which the next Cleanup will pick up) and waits
// for in-flight writes. Further Save calls fail.
func (e *Engine) Close(ctx context.Context) error {
	flushErr := e.ForceFlush(ctx)

	e.mu.Lock()
	e.closed = true
	slots := make([]*slot, 0, len(e.slots))
	for _, s := range e.slots {
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
		slots = append(slots, s)
	}
	for k, t := range e.graceTimers {
		t.Stop()
		delete(e.graceTimers, k)
	}
	e.mu.Unlock()

	// Wait out writes that started before the timers were stopped.
	for _, s := range slots {
		s.writeMu.Lock()
		s.writeMu.Unlock() //nolint:staticcheck // barrier
	}
	return flushErr
}
