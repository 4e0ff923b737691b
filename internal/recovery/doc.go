// Package recovery decides, once per form open, whether to offer a stored
// draft back to the user and applies the answer.
//
// An Orchestrator walks Idle -> Checking -> PromptingUser -> Resolved, or
// Idle -> Checking -> Resolved when there is nothing to offer. Resolved is
// terminal; a new form open gets a new Orchestrator. The "already asked"
// state is not persisted.
//
// By default a user who cancels is asked again on the next open. Passing a
// shared Dismissals set suppresses the prompt for that draft until it
// changes.
package recovery
