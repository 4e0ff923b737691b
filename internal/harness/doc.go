// Package harness runs draft engine scenarios written in YAML and records a
// deterministic trace for golden comparison.
//
// # Scenario Format
//
//	name: debounce_coalescing
//	description: "Two saves inside one window produce one write"
//	engine:
//	  debounce: 1s
//	seed:
//	  - case: case-9
//	    form: office-positive
//	    form_data: { companyName: Acme }
//	    age: 200h
//	flow:
//	  - at: 0ms
//	    op: save
//	    case: case-1
//	    form: residence-positive
//	    form_data: { houseStatus: Opened }
//	  - at: 1301ms
//	    op: load
//	    case: case-1
//	    form: residence-positive
//	    expect:
//	      form_data: { houseStatus: Opened }
//	assertions:
//	  - type: writes
//	    case: case-1
//	    form: residence-positive
//	    count: 1
//
// Each step first advances the fake clock to its "at" offset, firing any
// debounce or grace timers that fall due on the way, then runs its op.
//
// # Operations
//
//   - save, load, inspect, mark_complete, remove: one draft, by case and form
//   - force_flush, cleanup, list, stats: whole engine
//   - advance: only moves the clock
//   - fail_writes, heal_writes: toggle injected storage write failures
//   - corrupt: overwrite a stored ciphertext with garbage
//
// # Assertion Types
//
//   - writes: number of physical writes for a key
//   - event_order: exact sequence of engine events for a key
//   - event_count: number of events of one kind for a key, or for all keys
//   - final_state: stored record for a key after the flow
//
// # Determinism
//
// Every scenario gets a fresh in-memory SQLite store, a fixed device key and
// a testutil.FakeClock starting at testutil.DefaultEpoch, so traces are
// identical across runs.
package harness
