// Package engine implements the draft persistence engine: the only component
// that reads or writes autosave records.
//
// ARCHITECTURE:
//
// Per-key slots:
// Every (case, form type) key gets a slot holding at most one pending
// candidate record and one debounce timer. Save replaces the candidate and
// restarts the timer, so rapid edits coalesce into a single physical write.
// A slot is dropped as soon as it is idle, so the map only holds keys with
// work queued or in flight.
//
// Write ordering:
// A slot's write mutex serializes every physical write or delete for that
// key. A firing timer acquires the mutex first and only then takes the
// candidate, so whatever it writes is the newest data at that moment. Keys
// are independent; nothing orders writes across keys.
//
// Event Flow:
//  1. Save stores the candidate and notifies subscribers (EventSaved)
//  2. The debounce timer fires, the candidate is written, subscribers get
//     EventWritten or EventWriteFailed
//  3. MarkComplete writes isComplete=true immediately (EventCompleted) and
//     schedules deletion after a grace delay (EventRemoved)
//  4. Cleanup deletes expired or completed records (EventRemoved)
//
// CRITICAL PATTERNS:
//
// Fail-open reads:
// Load never returns an error. Absent, undecryptable, unparsable and
// wrong-version records all read as "no draft"; Inspect keeps the reason.
//
// No retries:
// A failed write drops its candidate. The next Save supersedes it.
//
// Timer safety:
// Timer callbacks never panic out; failures are logged and published.
package engine
