package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseflow/fieldsave/internal/draft"
)

func TestListAllDrafts_FiltersAndOrders(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now()
	a := draft.NewKey("case-a", draft.FormResidencePositive)
	b := draft.NewKey("case-b", draft.FormResidencePositive)
	c := draft.NewKey("case-c", draft.FormResidencePositive)
	done := draft.NewKey("case-d", draft.FormResidencePositive)
	broken := draft.NewKey("case-e", draft.FormResidencePositive)

	f.storeRecord(t, a, `{}`, now.Add(-time.Hour), false)
	f.storeRecord(t, b, `{}`, now, false)
	f.storeRecord(t, c, `{}`, now.Add(-time.Hour), false)
	f.storeRecord(t, done, `{}`, now, true)
	f.storeRaw(t, broken, map[string]any{"version": 1})

	drafts, err := f.engine.ListAllDrafts(f.ctx)
	require.NoError(t, err)
	got := make([]draft.Key, len(drafts))
	for i, d := range drafts {
		got[i] = d.Key()
	}
	assert.Equal(t, []draft.Key{b, a, c}, got)
}

func TestListAllDrafts_Empty(t *testing.T) {
	f := newFixture(t)
	drafts, err := f.engine.ListAllDrafts(f.ctx)
	require.NoError(t, err)
	assert.NotNil(t, drafts)
	assert.Empty(t, drafts)
}

func TestCaseHasDraft(t *testing.T) {
	f := newFixture(t)
	f.storeRecord(t, draft.NewKey("case-2", draft.FormOfficePositive), `{}`, f.clock.Now(), false)
	f.storeRecord(t, draft.NewKey("case-3", draft.FormOfficePositive), `{}`, f.clock.Now(), true)

	has, err := f.engine.CaseHasDraft(f.ctx, "case-2")
	require.NoError(t, err)
	assert.True(t, has)

	has, err = f.engine.CaseHasDraft(f.ctx, "case")
	require.NoError(t, err)
	assert.False(t, has)

	has, err = f.engine.CaseHasDraft(f.ctx, "case-3")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now()
	f.storeRecord(t, draft.NewKey("c1", draft.FormNOCPositive), `{}`, now.Add(-2*time.Hour), false)
	f.storeRecord(t, draft.NewKey("c2", draft.FormNOCPositive), `{}`, now, false)
	f.storeRecord(t, draft.NewKey("c3", draft.FormNOCPositive), `{}`, now, true)
	f.storeRaw(t, draft.NewKey("c4", draft.FormNOCPositive), "junk")
	require.NoError(t, f.records.Store.Set(f.ctx, "unrelated", "x"))

	_, err := f.engine.Save(f.ctx, draft.NewKey("c5", draft.FormNOCPositive), map[string]any{"a": 1}, nil)
	require.NoError(t, err)

	st, err := f.engine.Stats(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Drafts)
	assert.Equal(t, 1, st.Completed)
	assert.Equal(t, 1, st.Unreadable)
	assert.Equal(t, 1, st.Pending)
	assert.Positive(t, st.Bytes)
	require.NotNil(t, st.Oldest)
	require.NotNil(t, st.Newest)
	assert.True(t, st.Oldest.Equal(now.Add(-2*time.Hour)))
	assert.True(t, st.Newest.Equal(now))
}
