package lifecycle

import (
	"slices"
	"sync"
)

// Signal is a host environment notification.
type Signal string

const (
	SignalHidden       Signal = "hidden"
	SignalVisible      Signal = "visible"
	SignalBeforeUnload Signal = "before_unload"
)

// Host dispatches host signals to registered listeners.
type Host struct {
	mu        sync.Mutex
	nextID    uint64
	listeners map[uint64]func(Signal)
}

// NewHost creates a Host with no listeners.
func NewHost() *Host {
	return &Host{listeners: make(map[uint64]func(Signal))}
}

// Listen registers fn and returns a function that removes it.
func (h *Host) Listen(fn func(Signal)) (cancel func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	h.listeners[id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.listeners, id)
	}
}

// Emit delivers s to every listener in registration order and returns once
// all of them have.
func (h *Host) Emit(s Signal) {
	h.mu.Lock()
	ids := make([]uint64, 0, len(h.listeners))
	for id := range h.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(Signal), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, h.listeners[id])
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}

// Listeners returns the number of registered listeners.
func (h *Host) Listeners() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners)
}
