package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines an end-to-end ledger scenario.
// A scenario creates its tables, compiles its writer configuration, runs
// each step in its own transaction and asserts on the resulting ledger,
// source tables and step outcomes.
type Scenario struct {
	// Name uniquely identifies this scenario. Golden files are named after it.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Config lists CUE configuration files, relative to the scenario file.
	Config []string `yaml:"config,omitempty"`

	// InlineConfig is CUE source compiled together with Config.
	InlineConfig string `yaml:"inline_config,omitempty"`

	// Schema holds DDL statements run before the first step, outside any
	// observed transaction.
	Schema []string `yaml:"schema"`

	// Steps run in order, one transaction each.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final ledger and state.
	// Supported types: ledger_count, ledger_contains, final_state, row_count
	Assertions []Assertion `yaml:"assertions"`

	// dir is the directory the scenario was loaded from.
	dir string
}

// Step is one transaction.
type Step struct {
	// Name labels the step in output.
	Name string `yaml:"name,omitempty"`

	// Actor is recorded on the transaction. Empty means the automated
	// subsystem.
	Actor string `yaml:"actor,omitempty"`

	// Ops are the mutation statements issued in the transaction.
	Ops []Op `yaml:"ops"`

	// Rollback rolls the transaction back after every op succeeds.
	Rollback bool `yaml:"rollback,omitempty"`

	// Expect validates the step outcome. If nil, the step must commit.
	Expect *StepExpect `yaml:"expect,omitempty"`
}

// Op is one mutation statement.
type Op struct {
	// Op is insert, update, delete or truncate.
	Op    string `yaml:"op"`
	Table string `yaml:"table"`

	// Rows are inserted by insert.
	Rows []map[string]any `yaml:"rows,omitempty"`

	// Set holds the assignments of update.
	Set map[string]any `yaml:"set,omitempty"`

	// Where selects rows for update and delete. Empty matches every row.
	Where map[string]any `yaml:"where,omitempty"`
}

// StepExpect specifies expected step behavior.
type StepExpect struct {
	// Error is the expected error code (e.g. UNMAPPED_STATUS); the step
	// must fail with it. Empty means the step must succeed.
	Error string `yaml:"error,omitempty"`

	// Affected is the expected total rows affected across the step's ops.
	// Nil skips the check.
	Affected *int `yaml:"affected,omitempty"`
}

// Assertion validates ledger or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "ledger_count": number of derived records, optionally filtered by Where
	// - "ledger_contains": a derived record matching Expect exists
	// - "final_state": query Table and verify expected values
	// - "row_count": Table holds exactly Count rows
	Type string `yaml:"type"`

	// Table is the source table name (used by final_state, row_count).
	Table string `yaml:"table,omitempty"`

	// Where filters rows or ledger records. All fields must match exactly.
	Where map[string]any `yaml:"where,omitempty"`

	// Expect contains expected field values.
	// Subset match - only specified fields are validated. A null value
	// expects the field to be NULL or absent.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Count is the expected number of matches (used by ledger_count, row_count).
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertLedgerCount    = "ledger_count"
	AssertLedgerContains = "ledger_contains"
	AssertFinalState     = "final_state"
	AssertRowCount       = "row_count"
)

// Op name constants.
const (
	OpInsert   = "insert"
	OpUpdate   = "update"
	OpDelete   = "delete"
	OpTruncate = "truncate"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
// Config paths are resolved relative to the scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	scenario.dir = filepath.Dir(path)
	return scenario, nil
}

// ParseScenario parses scenario YAML. Relative config paths resolve against
// the working directory.
func ParseScenario(data []byte) (*Scenario, error) {
	// Parse YAML with strict field validation (catches typos like "assertion:" vs "assertions:")
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

// ConfigPaths returns the scenario's config files resolved against the
// directory it was loaded from.
func (s *Scenario) ConfigPaths() []string {
	out := make([]string, len(s.Config))
	for i, p := range s.Config {
		if !filepath.IsAbs(p) && s.dir != "" {
			p = filepath.Join(s.dir, p)
		}
		out[i] = p
	}
	return out
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Config) == 0 && s.InlineConfig == "" {
		return fmt.Errorf("config or inline_config is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps must contain at least one step")
	}

	for i, step := range s.Steps {
		if len(step.Ops) == 0 {
			return fmt.Errorf("steps[%d]: ops must contain at least one op", i)
		}
		for j, op := range step.Ops {
			if err := validateOp(op); err != nil {
				return fmt.Errorf("steps[%d].ops[%d]: %w", i, j, err)
			}
		}
		if step.Rollback && step.Expect != nil && step.Expect.Error != "" {
			return fmt.Errorf("steps[%d]: rollback and expect.error are exclusive", i)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a, i); err != nil {
			return err
		}
	}
	return nil
}

func validateOp(op Op) error {
	if op.Table == "" {
		return fmt.Errorf("table is required")
	}
	switch op.Op {
	case OpInsert:
		if len(op.Rows) == 0 {
			return fmt.Errorf("insert requires rows")
		}
	case OpUpdate:
		if len(op.Set) == 0 {
			return fmt.Errorf("update requires set")
		}
	case OpDelete, OpTruncate:
	default:
		return fmt.Errorf("unknown op %q", op.Op)
	}
	if op.Op != OpInsert && len(op.Rows) > 0 {
		return fmt.Errorf("%s does not take rows", op.Op)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(a Assertion, index int) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertLedgerCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for ledger_count", index)
		}
	case AssertLedgerContains:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for ledger_contains", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertRowCount:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for row_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for row_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
