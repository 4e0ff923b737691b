package engine

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseflow/fieldsave/internal/draft"
)

var residence = draft.NewKey("case-1", draft.FormResidencePositive)

func TestSave_DebounceScenario(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Save(f.ctx, residence, map[string]any{"houseStatus": "Opened"}, nil)
	require.NoError(t, err)

	f.clock.Advance(300 * time.Millisecond)
	_, err = f.engine.Save(f.ctx, residence, map[string]any{"houseStatus": "Opened", "metPersonName": "Asha"}, nil)
	require.NoError(t, err)

	// t=1000: first window would have closed, but it was superseded.
	f.clock.Advance(700 * time.Millisecond)
	assert.Equal(t, 0, f.records.writesFor(residence))
	assert.Nil(t, f.engine.Load(f.ctx, residence))

	f.clock.Advance(301 * time.Millisecond)
	rec := f.engine.Load(f.ctx, residence)
	require.NotNil(t, rec)
	assert.JSONEq(t, `{"houseStatus":"Opened","metPersonName":"Asha"}`, string(rec.FormData))
	assert.Equal(t, 1, f.records.writesFor(residence))
}

func TestSave_CoalescesBurst(t *testing.T) {
	f := newFixture(t)
	saves := testutil.ToFloat64(savesTotal)
	coalesced := testutil.ToFloat64(coalescedTotal)
	written := testutil.ToFloat64(writesTotal.WithLabelValues("ok"))
	pending := testutil.ToFloat64(pendingWrites)

	for i := range 10 {
		_, err := f.engine.Save(f.ctx, residence, map[string]any{"n": i}, nil)
		require.NoError(t, err)
		f.clock.Advance(999 * time.Millisecond)
	}
	assert.Equal(t, 0, f.records.writesFor(residence))
	assert.Equal(t, 1.0, testutil.ToFloat64(pendingWrites)-pending)

	f.clock.Advance(time.Millisecond)
	assert.Equal(t, 1, f.records.writesFor(residence))
	rec := f.engine.Load(f.ctx, residence)
	require.NotNil(t, rec)
	assert.JSONEq(t, `{"n":9}`, string(rec.FormData))
	assert.Equal(t, 0, f.engine.Pending())

	assert.Equal(t, 10.0, testutil.ToFloat64(savesTotal)-saves)
	assert.Equal(t, 9.0, testutil.ToFloat64(coalescedTotal)-coalesced)
	assert.Equal(t, 1.0, testutil.ToFloat64(writesTotal.WithLabelValues("ok"))-written)
	assert.Equal(t, pending, testutil.ToFloat64(pendingWrites))
}

func TestSave_RoundTrip(t *testing.T) {
	f := newFixture(t)

	formData := json.RawMessage(`{"applicantName":"Ré né","floors":2,"remarks":"<b>&</b>","nested":{"list":[1,2.5,"x",null,true]},"big":12345678901234567890}`)
	images := []draft.CapturedImage{
		{ID: "img-1", DataURL: "data:image/jpeg;base64,AAAA", Latitude: 19.0760, Longitude: 72.8777, Timestamp: "2026-01-02T09:00:00Z", ComponentType: draft.ComponentPhoto},
		{ID: "img-2", DataURL: "data:image/jpeg;base64,BBBB", Latitude: -33.8688, Longitude: 151.2093, Timestamp: "2026-01-02T09:01:00Z", ComponentType: draft.ComponentSelfie},
		{ID: "img-3", DataURL: "data:image/png;base64,CCCC", Timestamp: "2026-01-02T09:02:00Z"},
	}

	saved, err := f.engine.Save(f.ctx, residence, formData, images)
	require.NoError(t, err)
	f.clock.Advance(DefaultDebounce)

	rec := f.engine.Load(f.ctx, residence)
	require.NotNil(t, rec)
	assert.JSONEq(t, string(formData), string(rec.FormData))
	assert.Contains(t, string(rec.FormData), "12345678901234567890")
	assert.Equal(t, images, rec.Images)
	assert.Equal(t, "case-1", rec.CaseID)
	assert.Equal(t, draft.FormResidencePositive, rec.FormType)
	assert.Equal(t, draft.RecordVersion, rec.Version)
	assert.False(t, rec.IsComplete)
	assert.True(t, rec.LastSaved.Equal(saved.LastSaved))
	assert.Equal(t, "fieldsave-test", rec.Metadata.ClientInfo)
	assert.Equal(t, draft.FormVersion, rec.Metadata.FormVersion)
}

func TestSave_EmptyImagesStoredAsArray(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Save(f.ctx, residence, map[string]any{"a": 1}, nil)
	require.NoError(t, err)
	f.clock.Advance(DefaultDebounce)

	raw, err := f.records.GetRaw(f.ctx, draft.StorageKey(residence))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"images":[]`)
}

func TestSave_PerCallDebounce(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Save(f.ctx, residence, map[string]any{"a": 1}, nil, Debounce(2*time.Second))
	require.NoError(t, err)

	f.clock.Advance(DefaultDebounce)
	assert.Equal(t, 0, f.records.writesFor(residence))
	f.clock.Advance(DefaultDebounce)
	assert.Equal(t, 1, f.records.writesFor(residence))
}

func TestSave_KeysAreIndependent(t *testing.T) {
	f := newFixture(t)
	office := draft.NewKey("case-1", draft.FormOfficePositive)

	_, err := f.engine.Save(f.ctx, residence, map[string]any{"a": 1}, nil)
	require.NoError(t, err)
	f.clock.Advance(500 * time.Millisecond)
	_, err = f.engine.Save(f.ctx, office, map[string]any{"b": 2}, nil)
	require.NoError(t, err)

	f.clock.Advance(500 * time.Millisecond)
	assert.Equal(t, 1, f.records.writesFor(residence))
	assert.Equal(t, 0, f.records.writesFor(office))

	f.clock.Advance(500 * time.Millisecond)
	assert.Equal(t, 1, f.records.writesFor(office))
}

func TestSave_InvalidInput(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Save(f.ctx, draft.NewKey("", "x"), nil, nil)
	assert.Equal(t, ErrCodeInvalidInput, CodeOf(err))

	_, err = f.engine.Save(f.ctx, residence, map[string]any{"ch": make(chan int)}, nil)
	assert.Equal(t, ErrCodeInvalidInput, CodeOf(err))

	_, err = f.engine.Save(f.ctx, residence, json.RawMessage(`{"unterminated"`), nil)
	assert.Equal(t, ErrCodeInvalidInput, CodeOf(err))
}

func TestSave_RejectsAmbiguousCaseID(t *testing.T) {
	f := newFixture(t)
	ambiguous := draft.NewKey("a_b", "c")
	other := draft.NewKey("a", "b_c")

	_, err := f.engine.Save(f.ctx, ambiguous, map[string]any{"n": 1}, nil)
	assert.Equal(t, ErrCodeInvalidInput, CodeOf(err))
	assert.Equal(t, 0, f.engine.Pending())

	_, err = f.engine.Save(f.ctx, other, map[string]any{"n": 2}, nil)
	require.NoError(t, err)
	require.NoError(t, f.engine.ForceFlush(f.ctx))

	rec := f.engine.Load(f.ctx, other)
	require.NotNil(t, rec)
	assert.JSONEq(t, `{"n":2}`, string(rec.FormData))
	assert.Nil(t, f.engine.Load(f.ctx, ambiguous))
}

func TestSave_CallerCannotMutateCandidate(t *testing.T) {
	f := newFixture(t)

	images := []draft.CapturedImage{{ID: "img-1", DataURL: "data:a"}}
	_, err := f.engine.Save(f.ctx, residence, map[string]any{"a": 1}, images)
	require.NoError(t, err)
	images[0].DataURL = "data:mutated"

	f.clock.Advance(DefaultDebounce)
	rec := f.engine.Load(f.ctx, residence)
	require.NotNil(t, rec)
	assert.Equal(t, "data:a", rec.Images[0].DataURL)
}

func TestLoad_CorruptedCiphertext(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Save(f.ctx, residence, map[string]any{"a": 1}, nil)
	require.NoError(t, err)
	f.clock.Advance(DefaultDebounce)
	require.NotNil(t, f.engine.Load(f.ctx, residence))

	bk := f.records.Namespace() + draft.StorageKey(residence)
	require.NoError(t, f.backend.Set(f.ctx, bk, []byte("definitely not ciphertext")))
	decryptFailures := testutil.ToFloat64(readFailuresTotal.WithLabelValues(string(ErrCodeDecryption)))

	assert.Nil(t, f.engine.Load(f.ctx, residence))
	assert.Equal(t, 1.0, testutil.ToFloat64(readFailuresTotal.WithLabelValues(string(ErrCodeDecryption)))-decryptFailures)
	assert.False(t, f.engine.HasDraft(f.ctx, residence))

	_, err = f.engine.Inspect(f.ctx, residence)
	assert.Equal(t, ErrCodeDecryption, CodeOf(err))
	assert.True(t, IsCorruption(err))
}

func TestInspect_ErrorCodes(t *testing.T) {
	tests := []struct {
		name  string
		value any
		code  DraftErrorCode
	}{
		{"future version", map[string]any{"caseId": "case-1", "formType": draft.FormResidencePositive, "version": 2}, ErrCodeVersionMismatch},
		{"missing version", map[string]any{"caseId": "case-1"}, ErrCodeVersionMismatch},
		{"not an object", []int{1, 2}, ErrCodeDeserialization},
		{"wrong field type", map[string]any{"version": 1, "images": "nope"}, ErrCodeDeserialization},
		{"missing lastSaved", map[string]any{"version": 1, "caseId": "case-1", "formType": draft.FormResidencePositive, "images": []any{}}, ErrCodeInvalidRecord},
		{"other key", map[string]any{"version": 1, "caseId": "case-2", "formType": draft.FormResidencePositive, "images": []any{}, "lastSaved": "2026-01-01T00:00:00Z"}, ErrCodeInvalidRecord},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.storeRaw(t, residence, tt.value)

			_, err := f.engine.Inspect(f.ctx, residence)
			assert.Equal(t, tt.code, CodeOf(err))
			assert.Nil(t, f.engine.Load(f.ctx, residence))
		})
	}
}

func TestInspect_Absent(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Inspect(f.ctx, residence)
	assert.ErrorIs(t, err, ErrNoDraft)
}

func TestMarkComplete_Finality(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Save(f.ctx, residence, map[string]any{"a": 1}, nil)
	require.NoError(t, err)
	f.clock.Advance(DefaultDebounce)

	require.NoError(t, f.engine.MarkComplete(f.ctx, residence))
	rec := f.engine.Load(f.ctx, residence)
	require.NotNil(t, rec)
	assert.True(t, rec.IsComplete)

	f.clock.Advance(DefaultCompletionGrace - time.Millisecond)
	rec = f.engine.Load(f.ctx, residence)
	require.NotNil(t, rec)
	assert.True(t, rec.IsComplete)

	f.clock.Advance(time.Millisecond)
	assert.Nil(t, f.engine.Load(f.ctx, residence))
}

func TestMarkComplete_FoldsPendingSave(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Save(f.ctx, residence, map[string]any{"a": "latest"}, nil)
	require.NoError(t, err)
	require.NoError(t, f.engine.MarkComplete(f.ctx, residence))

	rec := f.engine.Load(f.ctx, residence)
	require.NotNil(t, rec)
	assert.True(t, rec.IsComplete)
	assert.JSONEq(t, `{"a":"latest"}`, string(rec.FormData))
	assert.Equal(t, 1, f.records.writesFor(residence))

	// The cancelled debounce timer must not overwrite the completed record.
	f.clock.Advance(DefaultDebounce)
	rec = f.engine.Load(f.ctx, residence)
	require.NotNil(t, rec)
	assert.True(t, rec.IsComplete)
	assert.Equal(t, 1, f.records.writesFor(residence))
}

func TestMarkComplete_FreshSaveSurvivesGrace(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Save(f.ctx, residence, map[string]any{"a": 1}, nil)
	require.NoError(t, err)
	require.NoError(t, f.engine.MarkComplete(f.ctx, residence))

	f.clock.Advance(4 * time.Second)
	_, err = f.engine.Save(f.ctx, residence, map[string]any{"a": 2}, nil)
	require.NoError(t, err)

	// Grace fires at 5s while the new save is still pending.
	f.clock.Advance(500 * time.Millisecond)
	f.clock.Advance(500 * time.Millisecond)
	f.clock.Advance(DefaultCompletionGrace)

	rec := f.engine.Load(f.ctx, residence)
	require.NotNil(t, rec)
	assert.False(t, rec.IsComplete)
	assert.JSONEq(t, `{"a":2}`, string(rec.FormData))
}

func TestMarkComplete_NothingStored(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.MarkComplete(f.ctx, residence))
	assert.Nil(t, f.engine.Load(f.ctx, residence))
	assert.Equal(t, 0, f.clock.Pending())
}

func TestRemove_CancelsPendingWrite(t *testing.T) {
	f := newFixture(t)
	var log eventLog
	f.engine.Subscribe(residence, log.add)

	_, err := f.engine.Save(f.ctx, residence, map[string]any{"a": 1}, nil)
	require.NoError(t, err)
	require.NoError(t, f.engine.Remove(f.ctx, residence))

	f.clock.Advance(DefaultDebounce)
	assert.Equal(t, 0, f.records.writesFor(residence))
	assert.Nil(t, f.engine.Load(f.ctx, residence))
	assert.Equal(t, []EventKind{EventSaved, EventRemoved}, log.kinds())
	assert.Nil(t, log.last().Record)
}

func TestRemove_Idempotent(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.Remove(f.ctx, residence))
	require.NoError(t, f.engine.Remove(f.ctx, residence))
}

func TestWriteFailure_SurfacesAndIsNotRetried(t *testing.T) {
	f := newFixture(t)
	var log eventLog
	f.engine.Subscribe(residence, log.add)
	f.records.setFail(true)
	failed := testutil.ToFloat64(writesTotal.WithLabelValues("error"))

	_, err := f.engine.Save(f.ctx, residence, map[string]any{"a": 1}, nil)
	require.NoError(t, err)
	assert.NotPanics(t, func() { f.clock.Advance(DefaultDebounce) })
	assert.Equal(t, 1.0, testutil.ToFloat64(writesTotal.WithLabelValues("error"))-failed)

	ev := log.last()
	assert.Equal(t, EventWriteFailed, ev.Kind)
	assert.True(t, IsWriteError(ev.Err))
	assert.ErrorIs(t, ev.Err, errDiskFull)
	assert.Equal(t, 0, f.engine.Pending())

	f.records.setFail(false)
	f.clock.Advance(time.Hour)
	assert.Nil(t, f.engine.Load(f.ctx, residence))

	_, err = f.engine.Save(f.ctx, residence, map[string]any{"a": 2}, nil)
	require.NoError(t, err)
	f.clock.Advance(DefaultDebounce)
	assert.NotNil(t, f.engine.Load(f.ctx, residence))
}

func TestForceFlush_Completeness(t *testing.T) {
	f := newFixture(t)
	keys := []draft.Key{
		draft.NewKey("case-1", draft.FormResidencePositive),
		draft.NewKey("case-1", draft.FormOfficeShifted),
		draft.NewKey("case-2", draft.FormBusinessNSP),
	}
	for i, k := range keys {
		_, err := f.engine.Save(f.ctx, k, map[string]any{"i": i}, nil)
		require.NoError(t, err)
		f.clock.Advance(100 * time.Millisecond)
	}

	require.NoError(t, f.engine.ForceFlush(f.ctx))
	assert.Equal(t, 0, f.engine.Pending())
	assert.Equal(t, 0, f.clock.Pending())

	drafts, err := f.engine.ListAllDrafts(f.ctx)
	require.NoError(t, err)
	require.Len(t, drafts, 3)
	assert.Equal(t, keys[2], drafts[0].Key())
	assert.Equal(t, keys[1], drafts[1].Key())
	assert.Equal(t, keys[0], drafts[2].Key())
}

func TestForceFlush_JoinsErrors(t *testing.T) {
	f := newFixture(t)
	f.records.setFail(true)

	_, err := f.engine.Save(f.ctx, residence, map[string]any{"a": 1}, nil)
	require.NoError(t, err)
	_, err = f.engine.Save(f.ctx, draft.NewKey("case-2", draft.FormOfficePositive), map[string]any{"b": 1}, nil)
	require.NoError(t, err)

	err = f.engine.ForceFlush(f.ctx)
	require.Error(t, err)
	assert.True(t, IsWriteError(err))
	assert.Equal(t, 0, f.engine.Pending())
}

func TestClose_FlushesAndRejects(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Save(f.ctx, residence, map[string]any{"a": 1}, nil)
	require.NoError(t, err)
	require.NoError(t, f.engine.Close(f.ctx))

	assert.NotNil(t, f.engine.Load(f.ctx, residence))
	assert.Equal(t, 0, f.clock.Pending())

	_, err = f.engine.Save(f.ctx, residence, map[string]any{"a": 2}, nil)
	assert.Equal(t, ErrCodeEngineClosed, CodeOf(err))
	var de *DraftError
	assert.True(t, errors.As(err, &de))
}

func slotCount(e *Engine) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.slots)
}

func TestSlots_DroppedWhenIdle(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Save(f.ctx, residence, map[string]any{"a": 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, slotCount(f.engine))
	f.clock.Advance(DefaultDebounce)
	assert.Equal(t, 0, slotCount(f.engine), "after debounced write")

	_, err = f.engine.Save(f.ctx, residence, map[string]any{"a": 2}, nil)
	require.NoError(t, err)
	require.NoError(t, f.engine.Remove(f.ctx, residence))
	assert.Equal(t, 0, slotCount(f.engine), "after remove")

	_, err = f.engine.Save(f.ctx, residence, map[string]any{"a": 3}, nil)
	require.NoError(t, err)
	require.NoError(t, f.engine.MarkComplete(f.ctx, residence))
	assert.Equal(t, 1, slotCount(f.engine), "grace timer keeps the slot")
	f.clock.Advance(DefaultCompletionGrace)
	assert.Nil(t, f.engine.Load(f.ctx, residence))
	assert.Equal(t, 0, slotCount(f.engine), "after grace deletion")

	f.storeRecord(t, residence, `{"a":4}`, f.clock.Now().Add(-DefaultRetention-time.Second), false)
	report, err := f.engine.Cleanup(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, []draft.Key{residence}, report.Expired)
	assert.Equal(t, 0, slotCount(f.engine), "after sweep")
}

func TestSlots_StaleTimerAfterDropIsIgnored(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Save(f.ctx, residence, map[string]any{"a": 1}, nil)
	require.NoError(t, err)
	f.engine.mu.Lock()
	oldGen := f.engine.slots[residence].gen
	f.engine.mu.Unlock()
	require.NoError(t, f.engine.Remove(f.ctx, residence))

	_, err = f.engine.Save(f.ctx, residence, map[string]any{"a": 2}, nil)
	require.NoError(t, err)

	// A callback from the dropped slot must not write the new candidate early.
	f.engine.fire(residence, oldGen)
	assert.Equal(t, 0, f.records.writesFor(residence))
	assert.Equal(t, 1, f.engine.Pending())

	f.clock.Advance(DefaultDebounce)
	rec := f.engine.Load(f.ctx, residence)
	require.NotNil(t, rec)
	assert.JSONEq(t, `{"a":2}`, string(rec.FormData))
}
