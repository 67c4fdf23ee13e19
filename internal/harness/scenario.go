package harness

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueyaml "cuelang.org/go/encoding/yaml"
	"gopkg.in/yaml.v3"

	"github.com/roach88/jsonsync/internal/value"
)

// Scenario drives a set of replicas joined by a manual in-memory network
// through edits and delivery faults, then checks the outcome.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Replicas is how many replicas start the run. They are named r0,
	// r1, ... and replica i has machine id [i].
	Replicas int `yaml:"replicas"`

	// Initial is every replica's starting content. When absent replicas
	// start from null.
	Initial yaml.Node `yaml:"initial,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one edit or one network action.
type Step struct {
	// Op selects the step kind; see the Step* constants.
	Op string `yaml:"op"`

	// Replica names the replica that edits, snapshots or joins.
	Replica string `yaml:"replica,omitempty"`

	// Path is the JSON pointer an edit targets. For move it is the
	// destination.
	Path string `yaml:"path,omitempty"`

	// From is the source pointer of a move.
	From string `yaml:"from,omitempty"`

	// Value is the payload of add and replace.
	Value yaml.Node `yaml:"value,omitempty"`

	// Count is how many characters a string remove deletes.
	Count int `yaml:"count,omitempty"`

	// Label names the resulting operation so later steps can chain
	// after it.
	Label string `yaml:"label,omitempty"`

	// After chains the edit into the transaction of a labeled operation.
	After string `yaml:"after,omitempty"`

	// Expect is the required outcome. Empty accepts applied or noop.
	Expect string `yaml:"expect,omitempty"`

	// Link is the [from, to] replica pair a network step acts on.
	Link []string `yaml:"link,omitempty"`

	// Index selects a queued message for drop and duplicate.
	Index int `yaml:"index,omitempty"`
}

// Assertion checks final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Replica restricts a content or history_length assertion to one
	// replica. Empty means every replica.
	Replica string `yaml:"replica,omitempty"`

	// Path is the pointer a content assertion reads. Empty is the root.
	Path string `yaml:"path,omitempty"`

	// Expect is the value a content assertion requires.
	Expect yaml.Node `yaml:"expect,omitempty"`

	// Absent requires the addressed value to be undefined.
	Absent bool `yaml:"absent,omitempty"`

	// Count is the history length a history_length assertion requires.
	Count int `yaml:"count,omitempty"`
}

// Step kinds.
const (
	StepAdd       = "add"
	StepReplace   = "replace"
	StepRemove    = "remove"
	StepMove      = "move"
	StepFlush     = "flush"
	StepSync      = "sync"
	StepDrop      = "drop"
	StepDuplicate = "duplicate"
	StepReverse   = "reverse"
	StepPartition = "partition"
	StepHeal      = "heal"
	StepResend    = "resend"
	StepSnapshot  = "snapshot"
	StepJoin      = "join"
)

// Assertion type constants.
const (
	AssertContent       = "content"
	AssertConverged     = "converged"
	AssertHistoryLength = "history_length"
)

// Step outcomes.
const (
	OutcomeApplied = "applied"
	OutcomeNoop    = "noop"
)

//go:embed schema.cue
var schemaSource string

var scenarioSchema = sync.OnceValues(func() (cue.Value, error) {
	v := cuecontext.New().CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := v.Err(); err != nil {
		return cue.Value{}, err
	}
	def := v.LookupPath(cue.ParsePath("#Scenario"))
	return def, def.Err()
})

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields, or fails validation.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	schema, err := scenarioSchema()
	if err != nil {
		return nil, fmt.Errorf("scenario schema: %w", err)
	}
	if err := cueyaml.Validate(data, schema); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

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

// validateScenario checks the per-step requirements the schema leaves
// open: which fields each step kind needs and that labels resolve.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Replicas < 1 {
		return fmt.Errorf("replicas must be at least 1")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if _, err := nodeValue(&s.Initial); err != nil {
		return fmt.Errorf("initial: %w", err)
	}

	labels := make(map[string]bool)
	for i := range s.Steps {
		step := &s.Steps[i]
		if err := validateStep(step, labels); err != nil {
			return fmt.Errorf("steps[%d] (%s): %w", i, step.Op, err)
		}
		if step.Label != "" {
			if labels[step.Label] {
				return fmt.Errorf("steps[%d]: label %q used twice", i, step.Label)
			}
			labels[step.Label] = true
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(step *Step, labels map[string]bool) error {
	switch step.Op {
	case StepAdd, StepReplace, StepRemove, StepMove:
		if step.Replica == "" {
			return fmt.Errorf("replica is required")
		}
		if step.After != "" && !labels[step.After] {
			return fmt.Errorf("after refers to unknown label %q", step.After)
		}
	case StepFlush, StepDrop, StepDuplicate, StepReverse, StepPartition, StepHeal, StepResend:
		if len(step.Link) != 2 {
			return fmt.Errorf("link must name two replicas")
		}
		if step.Link[0] == step.Link[1] {
			return fmt.Errorf("link must join two different replicas")
		}
	case StepSnapshot, StepJoin:
		if step.Replica == "" {
			return fmt.Errorf("replica is required")
		}
	case StepSync:
	default:
		return fmt.Errorf("unknown step")
	}

	switch step.Op {
	case StepAdd, StepReplace:
		if step.Value.Kind == 0 {
			return fmt.Errorf("value is required")
		}
		if _, err := nodeValue(&step.Value); err != nil {
			return fmt.Errorf("value: %w", err)
		}
	case StepMove:
		if step.From == "" {
			return fmt.Errorf("from is required")
		}
	}
	if step.Count > 0 && step.Op != StepRemove {
		return fmt.Errorf("count only applies to remove")
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case AssertContent:
		if a.Absent == (a.Expect.Kind != 0) {
			return fmt.Errorf("assertions[%d]: content needs exactly one of expect or absent", index)
		}
		if _, err := nodeValue(&a.Expect); err != nil {
			return fmt.Errorf("assertions[%d]: expect: %w", index, err)
		}
	case AssertConverged:
	case AssertHistoryLength:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for history_length", index)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// nodeValue converts a YAML node into a document value. A node that was
// never set yields nil.
func nodeValue(n *yaml.Node) (value.Value, error) {
	if n.Kind == 0 {
		return nil, nil
	}
	var raw any
	if err := n.Decode(&raw); err != nil {
		return nil, err
	}
	return value.FromAny(raw)
}
