package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/caseflow/fieldsave/internal/draft"
)

// Scenario defines one engine behaviour check.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Engine overrides engine timing.
	Engine EngineConfig `yaml:"engine,omitempty"`

	// Seed contains records written straight to the store before the flow.
	Seed []SeedRecord `yaml:"seed,omitempty"`

	// Flow contains the timed operations.
	Flow []Step `yaml:"flow"`

	// Assertions validate the trace and the final store.
	Assertions []Assertion `yaml:"assertions"`
}

// EngineConfig holds optional engine durations as Go duration strings.
type EngineConfig struct {
	Debounce        string `yaml:"debounce,omitempty"`
	CompletionGrace string `yaml:"completion_grace,omitempty"`
	Retention       string `yaml:"retention,omitempty"`
}

// SeedRecord is a record stored before the flow starts.
type SeedRecord struct {
	Case     string `yaml:"case"`
	Form     string `yaml:"form"`
	FormData any    `yaml:"form_data"`

	// Age is how long before scenario start the record was last saved.
	Age string `yaml:"age,omitempty"`

	Complete bool `yaml:"complete,omitempty"`

	// Version overrides the record version, for unreadable-version seeds.
	Version int `yaml:"version,omitempty"`
}

// Image is a captured image in YAML form.
type Image struct {
	ID            string  `yaml:"id"`
	DataURL       string  `yaml:"data_url"`
	Latitude      float64 `yaml:"latitude"`
	Longitude     float64 `yaml:"longitude"`
	Timestamp     string  `yaml:"timestamp"`
	ComponentType string  `yaml:"component_type,omitempty"`
}

func (i Image) toDraft() draft.CapturedImage {
	return draft.CapturedImage{
		ID:            i.ID,
		DataURL:       i.DataURL,
		Latitude:      i.Latitude,
		Longitude:     i.Longitude,
		Timestamp:     i.Timestamp,
		ComponentType: draft.ComponentType(i.ComponentType),
	}
}

// Step is one operation in the flow.
type Step struct {
	// At is the offset from scenario start at which the op runs.
	At string `yaml:"at"`

	Op       string  `yaml:"op"`
	Case     string  `yaml:"case,omitempty"`
	Form     string  `yaml:"form,omitempty"`
	FormData any     `yaml:"form_data,omitempty"`
	Images   []Image `yaml:"images,omitempty"`

	// Debounce overrides the debounce window for a save.
	Debounce string `yaml:"debounce,omitempty"`

	// Expect validates the op's result.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect specifies an op's expected result.
type Expect struct {
	// Absent expects load to return nothing.
	Absent bool `yaml:"absent,omitempty"`

	// Complete expects the loaded record's isComplete flag.
	Complete *bool `yaml:"complete,omitempty"`

	// FormData expects the loaded record's form data (exact JSON match).
	FormData any `yaml:"form_data,omitempty"`

	// Images expects the loaded record's image count.
	Images *int `yaml:"images,omitempty"`

	// Error expects an engine error code, or "none".
	Error string `yaml:"error,omitempty"`

	// Keys expects list's keys in order ("case/form").
	Keys []string `yaml:"keys,omitempty"`

	// Removed expects the number of keys cleanup deleted.
	Removed *int `yaml:"removed,omitempty"`
}

// Assertion validates the trace or final state.
type Assertion struct {
	// Type is one of writes, event_order, event_count, final_state.
	Type string `yaml:"type"`

	Case string `yaml:"case,omitempty"`
	Form string `yaml:"form,omitempty"`

	// Count is the expected number (writes, event_count).
	Count int `yaml:"count,omitempty"`

	// Event is the event kind counted by event_count.
	Event string `yaml:"event,omitempty"`

	// Events is the expected sequence for event_order.
	Events []string `yaml:"events,omitempty"`

	// Absent, Complete and FormData describe final_state.
	Absent   bool  `yaml:"absent,omitempty"`
	Complete *bool `yaml:"complete,omitempty"`
	FormData any   `yaml:"form_data,omitempty"`
}

// Assertion type constants.
const (
	AssertWrites     = "writes"
	AssertEventOrder = "event_order"
	AssertEventCount = "event_count"
	AssertFinalState = "final_state"
)

// Op names.
const (
	OpSave         = "save"
	OpLoad         = "load"
	OpInspect      = "inspect"
	OpMarkComplete = "mark_complete"
	OpRemove       = "remove"
	OpForceFlush   = "force_flush"
	OpCleanup      = "cleanup"
	OpList         = "list"
	OpStats        = "stats"
	OpAdvance      = "advance"
	OpFailWrites   = "fail_writes"
	OpHealWrites   = "heal_writes"
	OpCorrupt      = "corrupt"
)

var keyedOps = map[string]bool{
	OpSave:         true,
	OpLoad:         true,
	OpInspect:      true,
	OpMarkComplete: true,
	OpRemove:       true,
	OpCorrupt:      true,
}

var globalOps = map[string]bool{
	OpForceFlush: true,
	OpCleanup:    true,
	OpList:       true,
	OpStats:      true,
	OpAdvance:    true,
	OpFailWrites: true,
	OpHealWrites: true,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML with strict field checking.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow must have at least one step")
	}
	for name, v := range map[string]string{
		"engine.debounce":         s.Engine.Debounce,
		"engine.completion_grace": s.Engine.CompletionGrace,
		"engine.retention":        s.Engine.Retention,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	for i, seed := range s.Seed {
		if err := draft.NewKey(seed.Case, seed.Form).Validate(); err != nil {
			return fmt.Errorf("seed[%d]: %w", i, err)
		}
		if seed.Age != "" {
			if _, err := time.ParseDuration(seed.Age); err != nil {
				return fmt.Errorf("seed[%d]: age: %w", i, err)
			}
		}
	}

	var last time.Duration
	for i, step := range s.Flow {
		at, err := parseOffset(step.At)
		if err != nil {
			return fmt.Errorf("flow[%d]: at: %w", i, err)
		}
		if at < last {
			return fmt.Errorf("flow[%d]: at %s is before the previous step", i, step.At)
		}
		last = at

		switch {
		case keyedOps[step.Op]:
			if err := draft.NewKey(step.Case, step.Form).Validate(); err != nil {
				return fmt.Errorf("flow[%d]: %s: %w", i, step.Op, err)
			}
		case globalOps[step.Op]:
		default:
			return fmt.Errorf("flow[%d]: unknown op %q", i, step.Op)
		}
		if step.Debounce != "" {
			if step.Op != OpSave {
				return fmt.Errorf("flow[%d]: debounce only applies to save", i)
			}
			if _, err := time.ParseDuration(step.Debounce); err != nil {
				return fmt.Errorf("flow[%d]: debounce: %w", i, err)
			}
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a, i); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(a Assertion, index int) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertWrites, AssertEventOrder, AssertFinalState:
		if err := draft.NewKey(a.Case, a.Form).Validate(); err != nil {
			return fmt.Errorf("assertions[%d]: %s: %w", index, a.Type, err)
		}
		if a.Type == AssertWrites && a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for writes", index)
		}
	case AssertEventCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for event_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for event_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// parseOffset parses a step offset; empty means zero.
func parseOffset(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative offset %s", s)
	}
	return d, nil
}
