package recovery

import (
	"sync"
	"time"

	"github.com/caseflow/fieldsave/internal/draft"
)

// Dismissals remembers drafts whose recovery prompt was cancelled, keyed by
// draft key and the lastSaved of the version that was offered. It lives only
// in memory.
type Dismissals struct {
	mu        sync.RWMutex
	dismissed map[draft.Key]time.Time
}

// NewDismissals creates an empty set.
func NewDismissals() *Dismissals {
	return &Dismissals{dismissed: make(map[draft.Key]time.Time)}
}

// Dismiss records that rec was offered and declined.
func (d *Dismissals) Dismiss(rec *draft.Record) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dismissed[rec.Key()] = rec.LastSaved
}

// Dismissed reports whether this exact version of rec was declined before.
func (d *Dismissals) Dismissed(rec *draft.Record) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	at, ok := d.dismissed[rec.Key()]
	return ok && at.Equal(rec.LastSaved)
}

// Forget drops any dismissal for key.
func (d *Dismissals) Forget(key draft.Key) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.dismissed, key)
}

// Len returns the number of remembered dismissals.
func (d *Dismissals) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.dismissed)
}
