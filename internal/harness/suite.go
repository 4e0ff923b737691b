package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// SuiteResult contains results from running a directory of scenarios.
type SuiteResult struct {
	Total    int            `json:"total"`
	Passed   int            `json:"passed"`
	Failed   int            `json:"failed"`
	Failures []SuiteFailure `json:"failures,omitempty"`
}

// SuiteFailure represents one scenario that did not pass.
type SuiteFailure struct {
	Scenario     string `json:"scenario"`
	ScenarioPath string `json:"scenario_path"`
	Error        string `json:"error"`
}

// ScenarioFiles returns the .yaml and .yml files under dir in lexical order.
func ScenarioFiles(dir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
	}
	slices.Sort(paths)
	return paths, nil
}

// RunDir runs every scenario under dir.
//
// For each scenario file:
// 1. Load and validate it
// 2. Run it via harness.Run
// 3. Collect and report results
//
// A scenario that fails to load or run counts as failed; the suite keeps going.
func RunDir(dir string) (*SuiteResult, error) {
	paths, err := ScenarioFiles(dir)
	if err != nil {
		return nil, err
	}

	result := &SuiteResult{}
	for _, path := range paths {
		result.Total++

		scenario, err := LoadScenario(path)
		if err != nil {
			result.fail("", path, fmt.Sprintf("failed to load scenario: %v", err))
			continue
		}

		runResult, err := Run(scenario)
		if err != nil {
			result.fail(scenario.Name, path, fmt.Sprintf("scenario execution failed: %v", err))
			continue
		}
		if !runResult.Pass {
			result.fail(scenario.Name, path, fmt.Sprintf("scenario assertions failed: %v", runResult.Errors))
			continue
		}
		result.Passed++
	}
	return result, nil
}

func (r *SuiteResult) fail(name, path, msg string) {
	r.Failed++
	r.Failures = append(r.Failures, SuiteFailure{
		Scenario:     name,
		ScenarioPath: path,
		Error:        msg,
	})
}
