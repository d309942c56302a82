package harness

import (
	"bytes"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/optimist/internal/canon"
)

// GoldenDir holds golden traces, relative to the test's package.
const GoldenDir = "testdata/golden"

// traceHeader opens every golden trace.
type traceHeader struct {
	Scenario string `json:"scenario"`
	Pass     bool   `json:"pass"`
}

// MarshalTrace renders a result as canonical JSON lines: a header with the
// scenario name and pass flag, then one line per trace event.
func MarshalTrace(name string, result *Result) ([]byte, error) {
	var buf bytes.Buffer

	line, err := canon.MarshalCanonical(traceHeader{Scenario: name, Pass: result.Pass})
	if err != nil {
		return nil, err
	}
	buf.Write(line)
	buf.WriteByte('\n')

	for _, ev := range result.Trace {
		line, err := canon.MarshalCanonical(ev)
		if err != nil {
			return nil, err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// RunWithGolden executes a scenario and compares the trace against a golden
// file in testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if trace doesn't match golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares the given result's trace against a golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	trace, err := MarshalTrace(name, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir(GoldenDir),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, trace)
	return nil
}
