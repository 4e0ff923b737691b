package engine

import (
	"fmt"
	"slices"

	"github.com/caseflow/fieldsave/internal/draft"
)

// EventKind names what happened to a draft.
type EventKind string

const (
	// EventSaved is the optimistic notification sent from Save, before the
	// physical write.
	EventSaved EventKind = "saved"

	// EventWritten reports a completed physical write.
	EventWritten EventKind = "written"

	// EventWriteFailed reports a physical write the backend rejected.
	// The candidate is dropped, not retried.
	EventWriteFailed EventKind = "write_failed"

	// EventCompleted reports that the record was flagged complete.
	EventCompleted EventKind = "completed"

	// EventRemoved reports deletion. Record is nil.
	EventRemoved EventKind = "removed"
)

// Event is delivered to subscribers whenever a key's record changes.
type Event struct {
	Kind   EventKind
	Key    draft.Key
	Record *draft.Record
	Err    error
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	e   *Engine
	key draft.Key
	id  uint64
}

// Subscribe registers fn for events on key. The zero Key subscribes to every
// key. Callbacks run synchronously on the goroutine that caused the event,
// with no engine lock held; they must not block for long.
func (e *Engine) Subscribe(key draft.Key, fn func(Event)) *Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextSubID++
	id := e.nextSubID
	m, ok := e.subs[key]
	if !ok {
		m = make(map[uint64]func(Event))
		e.subs[key] = m
	}
	m[id] = fn
	return &Subscription{e: e, key: key, id: id}
}

// Cancel removes the subscription. Safe to call more than once.
func (s *Subscription) Cancel() {
	if s == nil || s.e == nil {
		return
	}
	s.e.mu.Lock()
	defer s.e.mu.Unlock()
	if m, ok := s.e.subs[s.key]; ok {
		delete(m, s.id)
		if len(m) == 0 {
			delete(s.e.subs, s.key)
		}
	}
}

func (e *Engine) publish(ev Event) {
	e.mu.Lock()
	var fns []func(Event)
	for _, k := range []draft.Key{ev.Key, {}} {
		ids := make([]uint64, 0, len(e.subs[k]))
		for id := range e.subs[k] {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		for _, id := range ids {
			fns = append(fns, e.subs[k][id])
		}
	}
	e.mu.Unlock()

	for _, fn := range fns {
		e.deliver(fn, ev)
	}
}

func (e *Engine) deliver(fn func(Event), ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("subscriber panicked", "draft", ev.Key.String(), "event", ev.Kind, "panic", fmt.Sprint(r))
		}
	}()
	fn(ev)
}
