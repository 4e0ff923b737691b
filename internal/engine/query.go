package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/caseflow/fieldsave/internal/draft"
)

// ListAllDrafts returns every readable, incomplete draft, newest lastSaved
// first (ties broken by key). Unreadable records are logged and skipped.
// Pending candidates are not included; call ForceFlush first to see them.
func (e *Engine) ListAllDrafts(ctx context.Context) ([]*draft.Record, error) {
	keys, err := e.records.ListKeysWithPrefix(ctx, draft.KeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	return e.collect(ctx, keys), nil
}

// CaseHasDraft reports whether any readable, incomplete draft exists for caseID.
func (e *Engine) CaseHasDraft(ctx context.Context, caseID string) (bool, error) {
	keys, err := e.records.ListKeysWithPrefix(ctx, draft.CasePrefix(caseID))
	if err != nil {
		return false, fmt.Errorf("case drafts: %w", err)
	}
	for _, rec := range e.collect(ctx, keys) {
		if rec.CaseID == caseID {
			return true, nil
		}
	}
	return false, nil
}

func (e *Engine) collect(ctx context.Context, keys []string) []*draft.Record {
	out := make([]*draft.Record, 0, len(keys))
	for _, sk := range keys {
		rec, err := e.readStorageKey(ctx, sk)
		if err != nil {
			if !errors.Is(err, ErrNoDraft) {
				readFailuresTotal.WithLabelValues(string(CodeOf(err))).Inc()
				e.logger.Warn("skipping unreadable draft", "key", sk, "code", CodeOf(err), "error", err)
			}
			continue
		}
		if rec.IsComplete {
			continue
		}
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].LastSaved.Equal(out[j].LastSaved) {
			return out[i].LastSaved.After(out[j].LastSaved)
		}
		return out[i].Key().String() < out[j].Key().String()
	})
	return out
}

// Stats describes what the engine currently holds.
type Stats struct {
	Drafts     int        `json:"drafts"`
	Completed  int        `json:"completed"`
	Unreadable int        `json:"unreadable"`
	Bytes      int64      `json:"bytes"`
	Oldest     *time.Time `json:"oldest,omitempty"`
	Newest     *time.Time `json:"newest,omitempty"`
	Pending    int        `json:"pending"`
}

// Stats scans the store. Bytes counts stored ciphertext for draft keys.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	keys, err := e.records.ListKeysWithPrefix(ctx, draft.KeyPrefix)
	if err != nil {
		return st, fmt.Errorf("stats: %w", err)
	}
	for _, sk := range keys {
		rec, err := e.readStorageKey(ctx, sk)
		if errors.Is(err, ErrNoDraft) {
			continue
		}
		if err != nil {
			st.Unreadable++
			continue
		}
		if rec.IsComplete {
			st.Completed++
			continue
		}
		st.Drafts++
		saved := rec.LastSaved
		if st.Oldest == nil || saved.Before(*st.Oldest) {
			st.Oldest = &saved
		}
		if st.Newest == nil || saved.After(*st.Newest) {
			st.Newest = &saved
		}
	}
	size, err := e.records.Size(ctx, draft.KeyPrefix)
	if err != nil {
		return st, fmt.Errorf("stats: %w", err)
	}
	st.Bytes = size
	st.Pending = e.Pending()
	return st, nil
}
