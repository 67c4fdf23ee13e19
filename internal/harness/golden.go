package harness

import (
	"bytes"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/jsonsync/internal/value"
)

// Snapshot renders a result as canonical JSON lines: one line naming the
// scenario, one per trace event, and a final line with every replica's
// content and the convergence flag.
func Snapshot(name string, result *Result) ([]byte, error) {
	var buf bytes.Buffer
	write := func(v value.Value) error {
		data, err := value.MarshalCanonical(v)
		if err != nil {
			return err
		}
		buf.Write(data)
		buf.WriteByte('\n')
		return nil
	}

	if err := write(value.Object{"scenario": value.String(name)}); err != nil {
		return nil, err
	}
	for _, ev := range result.Trace {
		if err := write(ev.canonical()); err != nil {
			return nil, err
		}
	}
	content := make(value.Object, len(result.Content))
	for name, v := range result.Content {
		content[name] = v
	}
	final := value.Object{
		"content":   content,
		"converged": value.Bool(result.Converged),
	}
	if err := write(final); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario, opts ...Option) (*Result, error) {
	t.Helper()

	result, err := Run(scenario, opts...)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result against its golden file
// without re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := Snapshot(scenarioName, result)
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
