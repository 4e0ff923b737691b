package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/caseflow/fieldsave/internal/clock"
	"github.com/caseflow/fieldsave/internal/draft"
)

// slot is the per-key scheduling state.
//
// pending, timer, gen and refs are guarded by Engine.mu. writeMu serializes
// every storage mutation for the key, so at most one physical write is in
// flight. Lock order is writeMu before Engine.mu.
//
// A slot stays in Engine.slots while it has a pending candidate, a debounce
// timer, a grace timer or a holder between acquireSlot and releaseSlot.
type slot struct {
	pending *draft.Record
	timer   clock.Timer
	gen     uint64
	refs    int

	writeMu sync.Mutex
}

func (e *Engine) slotLocked(key draft.Key) *slot {
	s, ok := e.slots[key]
	if !ok {
		// Start above every retired generation so a late callback from a
		// dropped slot never matches this one.
		s = &slot{gen: e.retiredGen}
		e.slots[key] = s
	}
	return s
}

// acquireSlot returns key's slot, creating it, and pins it until releaseSlot.
func (e *Engine) acquireSlot(key draft.Key) *slot {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.slotLocked(key)
	s.refs++
	return s
}

// acquireExisting pins key's slot if there is one.
func (e *Engine) acquireExisting(key draft.Key) (*slot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.slots[key]
	if ok {
		s.refs++
	}
	return s, ok
}

// releaseSlot unpins s and drops it from e.slots once it is idle.
func (e *Engine) releaseSlot(key draft.Key, s *slot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s.refs--
	if s.refs > 0 || s.pending != nil || s.timer != nil {
		return
	}
	if _, ok := e.graceTimers[key]; ok {
		return
	}
	if e.slots[key] != s {
		return
	}
	delete(e.slots, key)
	if s.gen > e.retiredGen {
		e.retiredGen = s.gen
	}
}

// takePending removes and returns the slot's pending candidate, cancelling
// its timer. Caller must hold s.writeMu.
func (e *Engine) takePending(s *slot) *draft.Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec := s.pending
	s.pending = nil
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
	if rec != nil {
		pendingWrites.Dec()
	}
	return rec
}

// fire runs on the timer goroutine. It must never panic out.
func (e *Engine) fire(key draft.Key, gen uint64) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("debounced write panicked", "draft", key.String(), "panic", fmt.Sprint(r))
		}
	}()

	s, ok := e.acquireExisting(key)
	if !ok {
		return
	}
	defer e.releaseSlot(key, s)

	s.writeMu.Lock()
	e.mu.Lock()
	// A newer Save restarted the window while this callback waited; its own
	// timer owns the write.
	stale := s.gen != gen
	e.mu.Unlock()
	if stale {
		s.writeMu.Unlock()
		return
	}
	_ = e.flushLocked(context.Background(), key, s)
}

// Flush writes key's pending candidate now, if there is one.
func (e *Engine) Flush(ctx context.Context, key draft.Key) error {
	s, ok := e.acquireExisting(key)
	if !ok {
		return nil
	}
	defer e.releaseSlot(key, s)
	s.writeMu.Lock()
	return e.flushLocked(ctx, key, s)
}

// flushLocked performs the physical write for s and releases s.writeMu
// before notifying subscribers.
func (e *Engine) flushLocked(ctx context.Context, key draft.Key, s *slot) error {
	rec := e.takePending(s)
	if rec == nil {
		s.writeMu.Unlock()
		return nil
	}
	err := e.write(ctx, rec)
	s.writeMu.Unlock()

	if err != nil {
		e.logger.Error("autosave write failed", "draft", key.String(), "error", err)
		e.publish(Event{Kind: EventWriteFailed, Key: key, Record: rec.Clone(), Err: err})
		return err
	}
	e.logger.Debug("draft written", "draft", key.String(), "last_saved", rec.LastSaved)
	e.publish(Event{Kind: EventWritten, Key: key, Record: rec.Clone()})
	return nil
}

// ForceFlush cancels every pending debounce timer and performs the queued
// writes before returning. Keys are flushed in a stable order; failures are
// joined and do not stop the remaining keys.
func (e *Engine) ForceFlush(ctx context.Context) error {
	e.mu.Lock()
	keys := make([]draft.Key, 0, len(e.slots))
	for k, s := range e.slots {
		if s.pending != nil {
			keys = append(keys, k)
		}
	}
	e.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	var errs []error
	for _, k := range keys {
		if err := e.Flush(ctx, k); err != nil {
			errs = append(errs, err)
		}
	}
	if len(keys) > 0 {
		e.logger.Debug("force flush complete", "keys", len(keys), "failed", len(errs))
	}
	return errors.Join(errs...)
}

// Pending reports how many keys have a queued, unwritten candidate.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, s := range e.slots {
		if s.pending != nil {
			n++
		}
	}
	return n
}

// hasPending reports whether key has a queued candidate.
func (e *Engine) hasPending(key draft.Key) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.slots[key]
	return ok && s.pending != nil
}
