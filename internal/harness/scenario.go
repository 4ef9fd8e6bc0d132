package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/agenda/internal/engine"
)

// Scenario defines an agenda conformance scenario.
// A scenario declares rules, drives the agenda through a list of steps and
// asserts on the resulting trace and final group state.
type Scenario struct {
	// Name uniquely identifies this scenario. Golden files are named after it.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Rulebase is the path to a CUE rulebase file or directory.
	// Relative paths are resolved against the scenario file's directory.
	Rulebase string `yaml:"rulebase,omitempty"`

	// Rules declares rules inline. Exactly one of Rulebase and Rules is set.
	Rules []RuleDecl `yaml:"rules,omitempty"`

	// Resolver overrides the conflict resolver of the rulebase.
	Resolver string `yaml:"resolver,omitempty"`

	// Steps drive the agenda in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	// Supported types: fired_order, group_state, trace_count, focus_stack
	Assertions []Assertion `yaml:"assertions"`
}

// RuleDecl is an inline rule declaration. Declaration order becomes the
// rule's sequence.
type RuleDecl struct {
	Name        string `yaml:"name"`
	Salience    int64  `yaml:"salience,omitempty"`
	AgendaGroup string `yaml:"agenda_group,omitempty"`
	AutoFocus   bool   `yaml:"auto_focus,omitempty"`
}

// Step is one agenda operation.
type Step struct {
	// Op selects the operation; see the Op* constants.
	Op string `yaml:"op"`

	// ID names an activation (add, cancel). Generated for add if empty.
	ID string `yaml:"id,omitempty"`

	// Rule is the rule to activate (add).
	Rule string `yaml:"rule,omitempty"`

	// Group is the target group (clear, clear_and_cancel, focus,
	// activate_ruleflow, deactivate_ruleflow, associate, dissociate).
	Group string `yaml:"group,omitempty"`

	// Limit caps the number of firings (fire). Zero fires until empty.
	Limit int `yaml:"limit,omitempty"`

	// ProcessID and NodeInstanceID describe a process association
	// (associate, dissociate).
	ProcessID      int64  `yaml:"process_id,omitempty"`
	NodeInstanceID string `yaml:"node_instance_id,omitempty"`

	// Expect validates the step outcome. If nil, the step must succeed.
	Expect *StepExpect `yaml:"expect,omitempty"`
}

// StepExpect specifies the expected outcome of a step.
type StepExpect struct {
	// Error is a substring the step's error must contain.
	Error string `yaml:"error,omitempty"`

	// Fired is the number of activations a fire step must fire.
	Fired *int `yaml:"fired,omitempty"`
}

// Step operations.
const (
	OpAdd                = "add"
	OpCancel             = "cancel"
	OpFire               = "fire"
	OpClear              = "clear"
	OpClearAndCancel     = "clear_and_cancel"
	OpFocus              = "focus"
	OpActivateRuleFlow   = "activate_ruleflow"
	OpDeactivateRuleFlow = "deactivate_ruleflow"
	OpAssociate          = "associate"
	OpDissociate         = "dissociate"
	OpExecuteActions     = "execute_actions"
	OpRoundtrip          = "roundtrip"
)

// Assertion validates the trace or the final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "fired_order": Fired rules (or activation IDs) equal the list exactly
	// - "group_state": Named group has the given flags and size
	// - "trace_count": Events of a type occur exactly Count times
	// - "focus_stack": Final focus stack equals the list exactly
	Type string `yaml:"type"`

	// Rules is the expected fired rule order (fired_order).
	Rules []string `yaml:"rules,omitempty"`

	// Activations is the expected fired activation order (fired_order).
	Activations []string `yaml:"activations,omitempty"`

	// Group names the group (group_state; optional filter for trace_count).
	Group string `yaml:"group,omitempty"`

	// Active, AutoDeactivate and Size are checked when set (group_state).
	Active         *bool `yaml:"active,omitempty"`
	AutoDeactivate *bool `yaml:"auto_deactivate,omitempty"`
	Size           *int  `yaml:"size,omitempty"`

	// Event is the trace event type to count (trace_count).
	Event string `yaml:"event,omitempty"`

	// Count is the expected number of occurrences (trace_count).
	Count int `yaml:"count,omitempty"`

	// Focus is the expected focus stack, bottom first (focus_stack).
	Focus []string `yaml:"focus,omitempty"`
}

// Assertion type constants.
const (
	AssertFiredOrder = "fired_order"
	AssertGroupState = "group_state"
	AssertTraceCount = "trace_count"
	AssertFocusStack = "focus_stack"
)

// LoadScenario reads and parses a scenario YAML file.
// The rulebase path is resolved relative to the scenario file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving the rulebase path relative to the provided base path.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	// Resolve the rulebase path BEFORE validation
	if scenario.Rulebase != "" && !filepath.IsAbs(scenario.Rulebase) && basePath != "" {
		scenario.Rulebase = filepath.Join(basePath, scenario.Rulebase)
	}

	if err := validateScenario(scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return scenario, nil
}

// ParseScenario decodes scenario YAML with strict field checking.
// Paths are left as written and required fields are not validated.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
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

	switch {
	case s.Rulebase == "" && len(s.Rules) == 0:
		return fmt.Errorf("rulebase or rules is required")
	case s.Rulebase != "" && len(s.Rules) > 0:
		return fmt.Errorf("rulebase and rules are mutually exclusive")
	}

	if s.Rulebase != "" {
		if _, err := os.Stat(s.Rulebase); os.IsNotExist(err) {
			return fmt.Errorf("rulebase not found: %s", s.Rulebase)
		}
	}

	for i, r := range s.Rules {
		if r.Name == "" {
			return fmt.Errorf("rules[%d]: name is required", i)
		}
	}

	if s.Resolver != "" {
		if _, err := engine.ParseConflictResolver(s.Resolver); err != nil {
			return fmt.Errorf("resolver: %w", err)
		}
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateStep validates a single step based on its operation.
func validateStep(index int, s *Step) error {
	switch s.Op {
	case "":
		return fmt.Errorf("steps[%d]: op is required", index)
	case OpAdd:
		if s.Rule == "" {
			return fmt.Errorf("steps[%d]: rule is required for add", index)
		}
	case OpCancel:
		if s.ID == "" {
			return fmt.Errorf("steps[%d]: id is required for cancel", index)
		}
	case OpFire:
		if s.Limit < 0 {
			return fmt.Errorf("steps[%d]: limit must be non-negative for fire", index)
		}
	case OpClear, OpClearAndCancel, OpFocus, OpActivateRuleFlow, OpDeactivateRuleFlow:
		if s.Group == "" {
			return fmt.Errorf("steps[%d]: group is required for %s", index, s.Op)
		}
	case OpAssociate:
		if s.Group == "" || s.NodeInstanceID == "" {
			return fmt.Errorf("steps[%d]: group and node_instance_id are required for associate", index)
		}
	case OpDissociate:
		if s.Group == "" {
			return fmt.Errorf("steps[%d]: group is required for dissociate", index)
		}
	case OpExecuteActions, OpRoundtrip:
	default:
		return fmt.Errorf("steps[%d]: unknown op %q", index, s.Op)
	}

	if s.Expect != nil && s.Expect.Fired != nil && s.Op != OpFire {
		return fmt.Errorf("steps[%d].expect: fired is only valid for fire", index)
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertFiredOrder:
		if a.Rules == nil && a.Activations == nil {
			return fmt.Errorf("assertions[%d]: rules or activations is required for fired_order", index)
		}
	case AssertGroupState:
		if a.Group == "" {
			return fmt.Errorf("assertions[%d]: group is required for group_state", index)
		}
		if a.Active == nil && a.AutoDeactivate == nil && a.Size == nil {
			return fmt.Errorf("assertions[%d]: group_state needs at least one of active, auto_deactivate, size", index)
		}
	case AssertTraceCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFocusStack:
		if len(a.Focus) == 0 {
			return fmt.Errorf("assertions[%d]: focus is required for focus_stack", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
