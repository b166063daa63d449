package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/firevox/internal/scene"
)

// Scenario defines a conformance scenario: a scene, the configuration to
// run it with and assertions on the outcome.
type Scenario struct {
	// Name uniquely identifies this scenario. Golden traces are stored
	// under this name.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Scene is the path of the scene file. Relative paths are resolved
	// against the scenario file's directory.
	Scene string `yaml:"scene"`

	// Config overrides configuration fields. Keys are the configuration
	// file's field names; unset fields keep their defaults.
	Config map[string]any `yaml:"config,omitempty"`

	// Workers is the number of in-process consumers. Default: 1, which
	// keeps floating-point accumulation order reproducible.
	Workers int `yaml:"workers,omitempty"`

	// Assertions validate the trace and the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// Assertion validates the trace or the final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "generation": the run ended at generation Value
	// - "temperature": final temperature of Key, Value ± Tolerance or in [Min, Max]
	// - "reading": thermometer reading of Key at Generation, same bounds
	// - "trend": readings of Key move in Direction (rising, falling, steady)
	// - "final_state": query Table and verify expected values
	Type string `yaml:"type"`

	Key        *scene.Point `yaml:"key,omitempty"`
	Generation *int64       `yaml:"generation,omitempty"`
	Value      *float64     `yaml:"value,omitempty"`
	Tolerance  float64      `yaml:"tolerance,omitempty"`
	Min        *float64     `yaml:"min,omitempty"`
	Max        *float64     `yaml:"max,omitempty"`
	Direction  string       `yaml:"direction,omitempty"`

	// Table, Where and Expect are used by final_state. All Where fields
	// must match exactly; Expect is a subset match.
	Table  string         `yaml:"table,omitempty"`
	Where  map[string]any `yaml:"where,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertGeneration  = "generation"
	AssertTemperature = "temperature"
	AssertReading     = "reading"
	AssertTrend       = "trend"
	AssertFinalState  = "final_state"
)

// Trend directions.
const (
	TrendRising  = "rising"
	TrendFalling = "falling"
	TrendSteady  = "steady"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	// Resolve the scene path BEFORE validation
	if scenario.Scene != "" && !filepath.IsAbs(scenario.Scene) {
		scenario.Scene = filepath.Join(filepath.Dir(path), scenario.Scene)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Scene == "" {
		return fmt.Errorf("scene is required")
	}
	if _, err := os.Stat(s.Scene); os.IsNotExist(err) {
		return fmt.Errorf("scene file not found: %s", s.Scene)
	}
	if s.Workers < 0 {
		return fmt.Errorf("workers must not be negative")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	bounded := a.Value != nil || a.Min != nil || a.Max != nil
	switch a.Type {
	case AssertGeneration:
		if a.Value == nil {
			return fmt.Errorf("assertions[%d]: value is required for generation", index)
		}
	case AssertTemperature:
		if a.Key == nil {
			return fmt.Errorf("assertions[%d]: key is required for temperature", index)
		}
		if !bounded {
			return fmt.Errorf("assertions[%d]: value, min or max is required for temperature", index)
		}
	case AssertReading:
		if a.Key == nil || a.Generation == nil {
			return fmt.Errorf("assertions[%d]: key and generation are required for reading", index)
		}
		if !bounded {
			return fmt.Errorf("assertions[%d]: value, min or max is required for reading", index)
		}
	case AssertTrend:
		if a.Key == nil {
			return fmt.Errorf("assertions[%d]: key is required for trend", index)
		}
		switch a.Direction {
		case TrendRising, TrendFalling, TrendSteady:
		default:
			return fmt.Errorf("assertions[%d]: direction must be rising, falling or steady, got %q", index, a.Direction)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown type %q", index, a.Type)
	}
	return nil
}
