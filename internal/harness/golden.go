package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/hookledger/internal/ir"
)

// LedgerSnapshot captures the observable outcome of a scenario execution.
// All fields use canonical JSON serialization for deterministic comparison.
type LedgerSnapshot struct {
	ScenarioName string
	Result       *Result
}

// toCanonical converts the snapshot to an ir.Object for canonical JSON.
// Error details are left out; only error codes are part of the snapshot.
func (s *LedgerSnapshot) toCanonical() ir.Object {
	steps := make(ir.Array, len(s.Result.Steps))
	for i, st := range s.Result.Steps {
		obj := ir.Object{
			"step":      ir.Int(st.Step),
			"txn_id":    ir.String(st.TxnID),
			"committed": ir.Bool(st.Committed),
		}
		if st.Name != "" {
			obj["name"] = ir.String(st.Name)
		}
		if st.Error != "" {
			obj["error"] = ir.String(st.Error)
		}
		steps[i] = obj
	}

	trace := make(ir.Array, len(s.Result.Trace))
	for i, ev := range s.Result.Trace {
		obj := ir.Object{
			"step":     ir.Int(ev.Step),
			"op":       ir.String(ev.Op),
			"table":    ir.String(ev.Table),
			"affected": ir.Int(ev.Affected),
		}
		if ev.Suppressed > 0 {
			obj["suppressed"] = ir.Int(ev.Suppressed)
		}
		if ev.Error != "" {
			obj["error"] = ir.String(ev.Error)
		}
		trace[i] = obj
	}

	ledger := make(ir.Array, len(s.Result.Ledger))
	for i, e := range s.Result.Ledger {
		ledger[i] = entryObject(e)
	}

	return ir.Object{
		"scenario_name": ir.String(s.ScenarioName),
		"steps":         steps,
		"trace":         trace,
		"ledger":        ledger,
	}
}

// Marshal renders the snapshot as indented canonical JSON with a trailing
// newline. Key order and string escaping follow ir.MarshalCanonical.
func (s *LedgerSnapshot) Marshal() ([]byte, error) {
	canonical, err := ir.MarshalCanonical(s.toCanonical())
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, canonical, "", "  "); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// RunWithGolden executes a scenario and compares its snapshot against a
// golden file stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can also check Pass and Errors.
// Test failure (via goldie) occurs if the snapshot doesn't match.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares the given result against a golden file.
// This is useful when you've already run a scenario and want to compare
// the result against a golden file without re-running.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot := LedgerSnapshot{ScenarioName: scenarioName, Result: result}
	data, err := snapshot.Marshal()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)

	return nil
}
