package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseflow/fieldsave/internal/draft"
)

var (
	key   = draft.NewKey("case-1", draft.FormResidencePositive)
	epoch = time.Date(2026, time.January, 2, 9, 0, 0, 0, time.UTC)
)

type fakeSource struct {
	rec       *draft.Record
	restores  int
	discards  int
	discardFn func() error
}

func (s *fakeSource) Key() draft.Key { return key }

func (s *fakeSource) Restore(context.Context) *draft.Record {
	s.restores++
	return s.rec.Clone()
}

func (s *fakeSource) Discard(context.Context) error {
	s.discards++
	if s.discardFn != nil {
		return s.discardFn()
	}
	s.rec = nil
	return nil
}

type fakeForm struct {
	formData json.RawMessage
	images   []draft.CapturedImage
	applied  int
}

func (f *fakeForm) Apply(formData json.RawMessage, images []draft.CapturedImage) {
	f.formData = formData
	f.images = images
	f.applied++
}

func storedDraft(lastSaved time.Time) *draft.Record {
	return &draft.Record{
		CaseID:    key.CaseID,
		FormType:  key.FormType,
		FormData:  json.RawMessage(`{"houseStatus":"Opened"}`),
		Images:    []draft.CapturedImage{{ID: "i1", DataURL: "data:x", ComponentType: draft.ComponentSelfie}},
		LastSaved: lastSaved,
		Version:   draft.RecordVersion,
	}
}

type transitions []string

func (tr *transitions) record(from, to State) {
	*tr = append(*tr, string(from)+"->"+string(to))
}

func TestRun_NoDraft(t *testing.T) {
	src := &fakeSource{}
	form := &fakeForm{}
	var tr transitions
	prompted := false
	o := New(src, form, PrompterFunc(func(context.Context, *draft.Record) (Decision, error) {
		prompted = true
		return DecisionRestore, nil
	}), OnStateChange(tr.record))

	out, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, out.Prompted)
	assert.False(t, prompted)
	assert.Equal(t, StateResolved, o.State())
	assert.Equal(t, transitions{"idle->checking", "checking->resolved"}, tr)
}

func TestRun_CompletedDraftNotOffered(t *testing.T) {
	rec := storedDraft(epoch)
	rec.IsComplete = true
	src := &fakeSource{rec: rec}
	form := &fakeForm{}

	out, err := New(src, form, Always(DecisionRestore)).Run(context.Background())
	require.NoError(t, err)
	assert.False(t, out.Prompted)
	assert.Equal(t, 0, form.applied)
}

func TestRun_Restore(t *testing.T) {
	src := &fakeSource{rec: storedDraft(epoch)}
	form := &fakeForm{formData: json.RawMessage(`{"houseStatus":"Closed","extra":1}`)}
	var tr transitions

	out, err := New(src, form, Always(DecisionRestore), OnStateChange(tr.record)).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, out.Prompted)
	assert.Equal(t, DecisionRestore, out.Decision)
	assert.Equal(t, 1, form.applied)
	assert.JSONEq(t, `{"houseStatus":"Opened"}`, string(form.formData))
	assert.Equal(t, src.rec.Images, form.images)
	assert.Equal(t, 0, src.discards)
	assert.Equal(t, transitions{"idle->checking", "checking->prompting_user", "prompting_user->resolved"}, tr)
}

func TestRun_Discard(t *testing.T) {
	src := &fakeSource{rec: storedDraft(epoch)}
	form := &fakeForm{}

	out, err := New(src, form, Always(DecisionDiscard)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DecisionDiscard, out.Decision)
	assert.Equal(t, 1, src.discards)
	assert.Equal(t, 0, form.applied)
	assert.Nil(t, src.rec)
}

func TestRun_DiscardFailure(t *testing.T) {
	src := &fakeSource{rec: storedDraft(epoch), discardFn: func() error { return errors.New("disk gone") }}

	o := New(src, &fakeForm{}, Always(DecisionDiscard))
	_, err := o.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk gone")
	assert.Equal(t, StateResolved, o.State())
}

func TestRun_CancelLeavesEverything(t *testing.T) {
	src := &fakeSource{rec: storedDraft(epoch)}
	form := &fakeForm{formData: json.RawMessage(`{"live":true}`)}

	out, err := New(src, form, Always(DecisionCancel)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DecisionCancel, out.Decision)
	assert.Equal(t, 0, form.applied)
	assert.Equal(t, 0, src.discards)
	assert.NotNil(t, src.rec)
}

func TestRun_CancelRepromptsOnNextMountByDefault(t *testing.T) {
	src := &fakeSource{rec: storedDraft(epoch)}

	for range 2 {
		out, err := New(src, &fakeForm{}, Always(DecisionCancel)).Run(context.Background())
		require.NoError(t, err)
		assert.True(t, out.Prompted)
	}
}

func TestRun_DismissalsSuppressRepromptUntilDraftChanges(t *testing.T) {
	src := &fakeSource{rec: storedDraft(epoch)}
	dismissals := NewDismissals()

	out, err := New(src, &fakeForm{}, Always(DecisionCancel), WithDismissals(dismissals)).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, out.Prompted)
	assert.Equal(t, 1, dismissals.Len())

	out, err = New(src, &fakeForm{}, Always(DecisionRestore), WithDismissals(dismissals)).Run(context.Background())
	require.NoError(t, err)
	assert.False(t, out.Prompted)
	assert.NotNil(t, out.Record)

	src.rec = storedDraft(epoch.Add(time.Minute))
	form := &fakeForm{}
	out, err = New(src, form, Always(DecisionRestore), WithDismissals(dismissals)).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, out.Prompted)
	assert.Equal(t, 1, form.applied)
	assert.Equal(t, 0, dismissals.Len())
}

func TestRun_PrompterErrorActsAsCancel(t *testing.T) {
	src := &fakeSource{rec: storedDraft(epoch)}
	form := &fakeForm{}
	o := New(src, form, PrompterFunc(func(context.Context, *draft.Record) (Decision, error) {
		return "", errors.New("dialog closed")
	}))

	out, err := o.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, DecisionCancel, out.Decision)
	assert.Equal(t, 0, form.applied)
	assert.Equal(t, 0, src.discards)
	assert.Equal(t, StateResolved, o.State())
}

func TestRun_UnknownDecisionActsAsCancel(t *testing.T) {
	src := &fakeSource{rec: storedDraft(epoch)}
	out, err := New(src, &fakeForm{}, Always("maybe")).Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, DecisionCancel, out.Decision)
}

func TestRun_Disabled(t *testing.T) {
	src := &fakeSource{rec: storedDraft(epoch)}
	o := New(src, &fakeForm{}, Always(DecisionRestore), WithEnabled(false))

	out, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, out.Prompted)
	assert.Equal(t, 0, src.restores)
	assert.Equal(t, StateResolved, o.State())
}

func TestRun_OnlyOncePerInstance(t *testing.T) {
	src := &fakeSource{rec: storedDraft(epoch)}
	form := &fakeForm{}
	o := New(src, form, Always(DecisionRestore))

	first, err := o.Run(context.Background())
	require.NoError(t, err)
	second, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, src.restores)
	assert.Equal(t, 1, form.applied)
}

func TestRun_ConcurrentCallWaitsForFirst(t *testing.T) {
	src := &fakeSource{rec: storedDraft(epoch)}
	form := &fakeForm{}
	prompted := make(chan struct{})
	answer := make(chan Decision)
	o := New(src, form, PrompterFunc(func(context.Context, *draft.Record) (Decision, error) {
		close(prompted)
		return <-answer, nil
	}))

	type result struct {
		out Outcome
		err error
	}
	firstDone := make(chan result, 1)
	go func() {
		out, err := o.Run(context.Background())
		firstDone <- result{out, err}
	}()
	<-prompted

	secondDone := make(chan result, 1)
	go func() {
		out, err := o.Run(context.Background())
		secondDone <- result{out, err}
	}()

	select {
	case r := <-secondDone:
		t.Fatalf("second Run returned %+v before the prompt was answered", r.out)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, StatePromptingUser, o.State())

	answer <- DecisionRestore
	first := <-firstDone
	second := <-secondDone
	require.NoError(t, first.err)
	require.NoError(t, second.err)
	assert.Equal(t, first.out, second.out)
	assert.True(t, second.out.Prompted)
	assert.Equal(t, DecisionRestore, second.out.Decision)
	assert.Equal(t, 1, src.restores)
	assert.Equal(t, 1, form.applied)
}

func TestRun_WaitingCallHonorsContext(t *testing.T) {
	src := &fakeSource{rec: storedDraft(epoch)}
	prompted := make(chan struct{})
	answer := make(chan Decision)
	o := New(src, &fakeForm{}, PrompterFunc(func(context.Context, *draft.Record) (Decision, error) {
		close(prompted)
		return <-answer, nil
	}))

	firstDone := make(chan error, 1)
	go func() {
		_, err := o.Run(context.Background())
		firstDone <- err
	}()
	<-prompted

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := o.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Outcome{}, out)

	answer <- DecisionCancel
	require.NoError(t, <-firstDone)
}

func TestParseDecision(t *testing.T) {
	for _, s := range []string{"restore", "discard", "cancel"} {
		d, err := ParseDecision(s)
		require.NoError(t, err)
		assert.Equal(t, Decision(s), d)
	}
	_, err := ParseDecision("later")
	assert.Error(t, err)
}
