package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/caseflow/fieldsave/internal/draft"
	"github.com/caseflow/fieldsave/internal/securestore"
	"github.com/caseflow/fieldsave/internal/store"
	"github.com/caseflow/fieldsave/internal/testutil"
)

var errDiskFull = errors.New("disk full")

// recordingRecords wraps the encrypted store, counting physical writes and
// optionally failing them.
type recordingRecords struct {
	*securestore.Store

	mu     sync.Mutex
	writes map[string]int
	fail   bool
}

func (r *recordingRecords) SetRaw(ctx context.Context, key string, plaintext []byte) error {
	r.mu.Lock()
	fail := r.fail
	if !fail {
		r.writes[key]++
	}
	r.mu.Unlock()
	if fail {
		return &securestore.WriteError{Key: key, Err: errDiskFull}
	}
	return r.Store.SetRaw(ctx, key, plaintext)
}

func (r *recordingRecords) setFail(fail bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail = fail
}

func (r *recordingRecords) writesFor(k draft.Key) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes[draft.StorageKey(k)]
}

type fixture struct {
	ctx     context.Context
	engine  *Engine
	clock   *testutil.FakeClock
	records *recordingRecords
	backend *store.Store
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	backend, err := store.Open(filepath.Join(t.TempDir(), "drafts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	key := make([]byte, securestore.KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	ss, err := securestore.New(backend, key, securestore.WithLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, err)

	clk := testutil.NewFakeClock()
	rec := &recordingRecords{Store: ss, writes: make(map[string]int)}
	base := []Option{
		WithClock(clk),
		WithLogger(slog.New(slog.DiscardHandler)),
		WithClientInfo("fieldsave-test"),
		WithMetaStore(backend),
	}
	e := New(rec, append(base, opts...)...)
	return &fixture{ctx: context.Background(), engine: e, clock: clk, records: rec, backend: backend}
}

// storeRaw writes an arbitrary plaintext under the draft's storage key,
// bypassing the engine.
func (f *fixture) storeRaw(t *testing.T, k draft.Key, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, f.records.Store.SetRaw(f.ctx, draft.StorageKey(k), data))
}

// storeRecord writes a complete record directly, for seeding old drafts.
func (f *fixture) storeRecord(t *testing.T, k draft.Key, formData string, lastSaved time.Time, complete bool) {
	t.Helper()
	f.storeRaw(t, k, &draft.Record{
		CaseID:     k.CaseID,
		FormType:   k.FormType,
		FormData:   json.RawMessage(formData),
		Images:     []draft.CapturedImage{},
		LastSaved:  lastSaved,
		Version:    draft.RecordVersion,
		IsComplete: complete,
		Metadata:   draft.Metadata{ClientInfo: "seed", CapturedAt: lastSaved, FormVersion: draft.FormVersion},
	})
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) add(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) kinds() []EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EventKind, len(l.events))
	for i, ev := range l.events {
		out[i] = ev.Kind
	}
	return out
}

func (l *eventLog) last() Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.events[len(l.events)-1]
}
