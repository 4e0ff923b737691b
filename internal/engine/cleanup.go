package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/caseflow/fieldsave/internal/clock"
	"github.com/caseflow/fieldsave/internal/draft"
)

// metaLastCleanup is the meta key holding the last sweep time (RFC 3339).
const metaLastCleanup = "last_cleanup"

// CleanupReport summarizes one sweep.
type CleanupReport struct {
	Scanned    int
	Expired    []draft.Key
	Completed  []draft.Key
	Unreadable []string
}

// Removed returns every key deleted by the sweep.
func (r CleanupReport) Removed() []draft.Key {
	out := make([]draft.Key, 0, len(r.Expired)+len(r.Completed))
	out = append(out, r.Expired...)
	return append(out, r.Completed...)
}

// Cleanup deletes every stored record that is complete or whose lastSaved is
// older than the retention window.
//
// Each candidate is re-checked under its key's write lock, and skipped while a
// save is pending, so a concurrent fresh save always survives. Unreadable
// records are reported but kept: a device key mix-up must not wipe every
// draft.
func (e *Engine) Cleanup(ctx context.Context) (CleanupReport, error) {
	var report CleanupReport

	keys, err := e.records.ListKeysWithPrefix(ctx, draft.KeyPrefix)
	if err != nil {
		return report, fmt.Errorf("cleanup: list drafts: %w", err)
	}

	var errs []error
	for _, sk := range keys {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Scanned++

		rec, err := e.readStorageKey(ctx, sk)
		if errors.Is(err, ErrNoDraft) {
			continue
		}
		if err != nil {
			e.logger.Warn("cleanup skipping unreadable draft", "key", sk, "code", CodeOf(err), "error", err)
			report.Unreadable = append(report.Unreadable, sk)
			continue
		}

		key := rec.Key()
		removed, complete, err := e.sweepOne(ctx, key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !removed {
			continue
		}
		if complete {
			report.Completed = append(report.Completed, key)
		} else {
			report.Expired = append(report.Expired, key)
		}
	}

	sweepRemovedTotal.WithLabelValues("expired").Add(float64(len(report.Expired)))
	sweepRemovedTotal.WithLabelValues("completed").Add(float64(len(report.Completed)))
	e.logger.Info("cleanup finished",
		"scanned", report.Scanned,
		"expired", len(report.Expired),
		"completed", len(report.Completed),
		"unreadable", len(report.Unreadable))
	return report, errors.Join(errs...)
}

// readStorageKey reads a record by its storage key and checks that the key is
// the one its contents map to.
func (e *Engine) readStorageKey(ctx context.Context, storageKey string) (*draft.Record, error) {
	rec, err := e.readKey(ctx, draft.Key{}, storageKey)
	if err != nil {
		return nil, err
	}
	if draft.StorageKey(rec.Key()) != storageKey {
		return nil, &DraftError{
			Code:    ErrCodeInvalidRecord,
			Message: fmt.Sprintf("record for %s stored under %q", rec.Key(), storageKey),
			Key:     rec.Key(),
			Err:     draft.ErrInvalidRecord,
		}
	}
	return rec, nil
}

// sweepOne removes key if it is still eligible once its write lock is held.
func (e *Engine) sweepOne(ctx context.Context, key draft.Key) (removed, complete bool, err error) {
	s := e.acquireSlot(key)
	defer e.releaseSlot(key, s)

	s.writeMu.Lock()
	if e.hasPending(key) {
		s.writeMu.Unlock()
		return false, false, nil
	}
	rec, err := e.Inspect(ctx, key)
	if err != nil || !e.eligible(rec) {
		s.writeMu.Unlock()
		return false, false, nil
	}
	if err := e.records.Remove(ctx, draft.StorageKey(key)); err != nil {
		s.writeMu.Unlock()
		return false, false, newWriteError(key, err)
	}
	s.writeMu.Unlock()

	e.logger.Info("draft swept", "draft", key.String(), "complete", rec.IsComplete, "last_saved", rec.LastSaved)
	e.publish(Event{Kind: EventRemoved, Key: key})
	return true, rec.IsComplete, nil
}

func (e *Engine) eligible(rec *draft.Record) bool {
	return rec.IsComplete || e.clock.Now().Sub(rec.LastSaved) > e.retention
}

// expireCompleted is the post-completion grace timer. It deletes the record
// only if it is still complete and no newer save is queued.
func (e *Engine) expireCompleted(key draft.Key) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("completion expiry panicked", "draft", key.String(), "panic", fmt.Sprint(r))
		}
	}()

	e.mu.Lock()
	delete(e.graceTimers, key)
	s := e.slotLocked(key)
	s.refs++
	e.mu.Unlock()
	defer e.releaseSlot(key, s)

	ctx := context.Background()
	s.writeMu.Lock()
	if e.hasPending(key) {
		s.writeMu.Unlock()
		e.logger.Debug("completed draft superseded by pending save", "draft", key.String())
		return
	}
	rec, err := e.Inspect(ctx, key)
	if err != nil || !rec.IsComplete {
		s.writeMu.Unlock()
		return
	}
	err = e.records.Remove(ctx, draft.StorageKey(key))
	s.writeMu.Unlock()

	if err != nil {
		e.logger.Error("failed to delete completed draft", "draft", key.String(), "error", err)
		return
	}
	sweepRemovedTotal.WithLabelValues("grace").Inc()
	e.logger.Debug("completed draft deleted", "draft", key.String())
	e.publish(Event{Kind: EventRemoved, Key: key})
}

// Janitor runs Cleanup periodically.
type Janitor struct {
	e     *Engine
	ctx   context.Context
	timer clock.Timer
	done  bool
}

// RunJanitor sweeps immediately if the last recorded sweep is older than the
// cleanup interval (or was never recorded), then every interval until Stop or
// ctx is cancelled. Without a MetaStore it always sweeps at startup.
func (e *Engine) RunJanitor(ctx context.Context) *Janitor {
	j := &Janitor{e: e, ctx: ctx}

	next := e.cleanupInterval
	if last, ok := e.lastCleanup(ctx); ok {
		since := e.clock.Now().Sub(last)
		if since < e.cleanupInterval {
			next = e.cleanupInterval - since
			e.logger.Debug("janitor: recent sweep found", "last", last, "next_in", next)
		} else {
			j.sweep()
		}
	} else {
		j.sweep()
	}
	j.schedule(next)
	return j
}

func (j *Janitor) schedule(d time.Duration) {
	j.e.mu.Lock()
	defer j.e.mu.Unlock()
	if j.done || j.e.closed {
		return
	}
	j.timer = j.e.clock.AfterFunc(d, j.tick)
}

func (j *Janitor) tick() {
	if j.ctx.Err() != nil {
		return
	}
	j.sweep()
	j.schedule(j.e.cleanupInterval)
}

func (j *Janitor) sweep() {
	if _, err := j.e.Cleanup(j.ctx); err != nil {
		j.e.logger.Error("janitor sweep failed", "error", err)
	}
	j.e.recordCleanup(j.ctx)
}

// Stop cancels the next scheduled sweep.
func (j *Janitor) Stop() {
	j.e.mu.Lock()
	defer j.e.mu.Unlock()
	j.done = true
	if j.timer != nil {
		j.timer.Stop()
	}
}

func (e *Engine) lastCleanup(ctx context.Context) (time.Time, bool) {
	if e.meta == nil {
		return time.Time{}, false
	}
	v, ok, err := e.meta.GetMeta(ctx, metaLastCleanup)
	if err != nil || !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		e.logger.Warn("janitor: ignoring malformed last cleanup time", "value", v)
		return time.Time{}, false
	}
	return t, true
}

func (e *Engine) recordCleanup(ctx context.Context) {
	if e.meta == nil {
		return
	}
	if err := e.meta.SetMeta(ctx, metaLastCleanup, e.clock.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		e.logger.Warn("janitor: failed to record sweep time", "error", err)
	}
}
