package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/roach88/jsonsync/internal/harness"
	"github.com/roach88/jsonsync/internal/journal"
	"github.com/roach88/jsonsync/internal/logging"
	"github.com/roach88/jsonsync/internal/replica"
)

// SimulateOptions holds flags for the simulate command.
type SimulateOptions struct {
	*RootOptions
	Update  bool   // regenerate golden files
	Filter  string // scenario filter (glob pattern)
	Golden  string // golden directory, default <scenario dir>/golden
	Journal string // optional journal database
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name      string   `json:"name"`
	Pass      bool     `json:"pass"`
	Converged bool     `json:"converged"`
	Steps     int      `json:"steps"`
	Errors    []string `json:"errors,omitempty"`
}

// SimulateResult holds the overall simulate result.
type SimulateResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SimulateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "simulate <scenario-file-or-dir>",
		Short: "Run replica scenarios over a simulated network",
		Long: `Run YAML scenarios that drive replicas through edits and delivery
faults, then check their assertions. When a golden file exists for a
scenario its trace must match it byte for byte.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  jsonsync simulate ./testdata/scenarios
  jsonsync simulate ./testdata/scenarios --filter "chain_*"
  jsonsync simulate ./testdata/scenarios --golden ./internal/harness/testdata/golden
  jsonsync simulate ./testdata/scenarios --update
  jsonsync simulate ./testdata/scenarios --journal ./run.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")
	cmd.Flags().StringVar(&opts.Golden, "golden", "", "golden file directory")
	cmd.Flags().StringVar(&opts.Journal, "journal", "", "journal every replica into this SQLite database")

	return cmd
}

func runSimulate(opts *SimulateOptions, path string, cmd *cobra.Command) error {
	files, err := harness.Discover(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}
	files, err = filterScenarios(files, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid filter", err)
	}

	out := newFormatter(opts.RootOptions, cmd)
	if len(files) == 0 {
		if opts.Format == "json" {
			return out.Success(SimulateResult{Scenarios: []ScenarioResult{}})
		}
		fmt.Fprintln(cmd.OutOrStdout(), "No scenarios found.")
		return nil
	}

	var runOpts []harness.Option
	if opts.Verbose {
		runOpts = append(runOpts, harness.WithLogger(logging.New(logging.Console(cmd.ErrOrStderr()), zerolog.DebugLevel)))
	}
	if opts.Journal != "" {
		store, err := journal.Open(opts.Journal)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		defer store.Close()
		runOpts = append(runOpts, harness.WithReplicaOptions(replica.WithJournal(store)))
	}

	result := SimulateResult{
		Scenarios: make([]ScenarioResult, 0, len(files)),
		Total:     len(files),
	}
	for _, file := range files {
		sr := simulateScenario(opts, file, runOpts, cmd)
		result.Scenarios = append(result.Scenarios, sr)
		if sr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	if opts.Format == "json" {
		if err := out.Respond(result, result.Failed > 0, ErrCodeScenarioFail,
			fmt.Sprintf("%d of %d scenarios failed", result.Failed, result.Total)); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "\n%d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)
	}
	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	return nil
}

// filterScenarios keeps the files whose base name, without extension,
// matches the glob pattern.
func filterScenarios(files []string, pattern string) ([]string, error) {
	if pattern == "" {
		return files, nil
	}
	var kept []string
	for _, f := range files {
		matched, err := filepath.Match(pattern, scenarioBase(f))
		if err != nil {
			return nil, err
		}
		if matched {
			kept = append(kept, f)
		}
	}
	return kept, nil
}

func scenarioBase(file string) string {
	base := filepath.Base(file)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func simulateScenario(opts *SimulateOptions, file string, runOpts []harness.Option, cmd *cobra.Command) ScenarioResult {
	w := cmd.OutOrStdout()
	fail := func(name string, errs ...string) ScenarioResult {
		if opts.Format != "json" {
			fmt.Fprintf(w, "✗ %s\n", name)
			for _, e := range errs {
				fmt.Fprintf(w, "  %s\n", e)
			}
		}
		return ScenarioResult{Name: name, Errors: errs}
	}

	scenario, err := harness.LoadScenario(file)
	if err != nil {
		return fail(filepath.Base(file), fmt.Sprintf("Load error: %v", err))
	}

	runOpts = append(slices.Clone(runOpts), harness.WithNamePrefix(scenario.Name+"/"))
	result, err := harness.Run(scenario, runOpts...)
	if err != nil {
		return fail(scenario.Name, fmt.Sprintf("Execution error: %v", err))
	}
	sr := ScenarioResult{
		Name:      scenario.Name,
		Converged: result.Converged,
		Steps:     len(result.Trace),
	}

	snapshot, err := harness.Snapshot(scenario.Name, result)
	if err != nil {
		return fail(scenario.Name, fmt.Sprintf("Snapshot error: %v", err))
	}
	goldenPath := filepath.Join(goldenDir(opts.Golden, file), scenario.Name+".golden")

	if opts.Update {
		if err := writeGolden(goldenPath, snapshot); err != nil {
			return fail(scenario.Name, fmt.Sprintf("Golden update error: %v", err))
		}
		if opts.Format != "json" {
			fmt.Fprintf(w, "✓ %s (golden updated)\n", scenario.Name)
		}
		sr.Pass = true
		return sr
	}

	errs := result.Errors
	want, err := os.ReadFile(goldenPath)
	switch {
	case os.IsNotExist(err):
		// No golden file: assertions decide.
	case err != nil:
		errs = append(errs, fmt.Sprintf("Golden read error: %v", err))
	case !bytes.Equal(want, snapshot):
		errs = append(errs, "Golden file mismatch (run with --update to regenerate)")
	}
	if len(errs) > 0 {
		failed := fail(scenario.Name, errs...)
		failed.Converged, failed.Steps = sr.Converged, sr.Steps
		return failed
	}

	if opts.Format != "json" {
		fmt.Fprintf(w, "✓ %s\n", scenario.Name)
	}
	sr.Pass = true
	return sr
}

func goldenDir(flag, scenarioFile string) string {
	if flag != "" {
		return flag
	}
	return filepath.Join(filepath.Dir(scenarioFile), "golden")
}

func writeGolden(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create golden directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write golden file: %w", err)
	}
	return nil
}
