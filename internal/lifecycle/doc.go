// Package lifecycle binds one open form to the draft engine.
//
// A Controller is created per form instance. It translates form edits into
// engine saves, suppresses saves whose payload has not changed, tracks a
// Status for the status indicator, and force-flushes pending writes when the
// host reports that the app is being hidden or unloaded.
//
// # Status
//
// Status is driven by engine events rather than by the Save call alone:
//
//   - saved: IsSaving and HasUnsavedChanges become true, LastSaved moves
//   - written: both clear once the newest candidate is on disk
//   - write_failed: IsSaving clears, LastError is set, changes stay unsaved
//   - completed/removed: the draft is no longer available
//
// # Host signals
//
// Host fans visibility and unload signals out to every mounted controller.
// Handlers run synchronously inside Emit, so a force flush triggered by
// SignalBeforeUnload has finished by the time Emit returns.
package lifecycle
