package rulebase

import (
	"fmt"
	"maps"
	"slices"

	"github.com/roach88/agenda/internal/engine"
	"github.com/roach88/agenda/internal/ir"
)

// Config is the agenda configuration carried by a rulebase.
type Config struct {
	Resolver  engine.ConflictResolver
	MainGroup string // Empty means engine.MainGroup
}

// Rulebase is a compiled, immutable set of rule declarations.
type Rulebase struct {
	config Config
	rules  []ir.Rule // Declaration order
	byName map[string]int
}

var _ engine.ActivationResolver = (*Rulebase)(nil)

func newRulebase(cfg Config) *Rulebase {
	return &Rulebase{
		config: cfg,
		byName: make(map[string]int),
	}
}

// FromRules builds a rulebase from declarations made in Go rather than CUE.
//
// Names and groups are NFC-normalized and Sequence is reassigned from slice
// order, as Compile does for CUE declaration order.
func FromRules(cfg Config, rules []ir.Rule) (*Rulebase, error) {
	if len(rules) == 0 {
		return nil, &CompileError{Field: "rule", Message: "at least one rule is required"}
	}
	rb := newRulebase(cfg)
	for i, r := range rules {
		r.Name = ir.NormalizeName(r.Name)
		r.AgendaGroup = ir.NormalizeName(r.AgendaGroup)
		r.Sequence = int64(i)
		if r.Name == "" {
			return nil, &CompileError{
				Field:   fmt.Sprintf("rule[%d]", i),
				Message: "rule name is required",
			}
		}
		if _, dup := rb.byName[r.Name]; dup {
			return nil, &CompileError{
				Field:   "rule." + r.Name,
				Message: fmt.Sprintf("duplicate rule name %q", r.Name),
			}
		}
		rb.add(r)
	}
	return rb, nil
}

func (rb *Rulebase) add(r ir.Rule) {
	rb.byName[r.Name] = len(rb.rules)
	rb.rules = append(rb.rules, r)
}

// Config returns the rulebase's agenda configuration.
func (rb *Rulebase) Config() Config {
	return rb.config
}

// Rule looks up a rule by name.
func (rb *Rulebase) Rule(name string) (ir.Rule, bool) {
	i, ok := rb.byName[ir.NormalizeName(name)]
	if !ok {
		return ir.Rule{}, false
	}
	return rb.rules[i], true
}

// Rules returns every rule in declaration order.
func (rb *Rulebase) Rules() []ir.Rule {
	return slices.Clone(rb.rules)
}

// Groups returns the distinct agenda groups named by the rules, sorted.
// Rules without a group are counted under the main group.
func (rb *Rulebase) Groups() []string {
	main := rb.mainGroup()
	set := map[string]struct{}{main: {}}
	for _, r := range rb.rules {
		if r.AgendaGroup != "" {
			set[r.AgendaGroup] = struct{}{}
		}
	}
	return slices.Sorted(maps.Keys(set))
}

func (rb *Rulebase) mainGroup() string {
	if rb.config.MainGroup != "" {
		return rb.config.MainGroup
	}
	return engine.MainGroup
}

// Options maps the rulebase configuration to agenda options.
func (rb *Rulebase) Options() []engine.AgendaOption {
	opts := []engine.AgendaOption{engine.WithConflictResolver(rb.config.Resolver)}
	if rb.config.MainGroup != "" {
		opts = append(opts, engine.WithMainGroup(rb.config.MainGroup))
	}
	return opts
}

// NewActivation creates an activation of the named rule.
func (rb *Rulebase) NewActivation(id, rule string) (*engine.Activation, error) {
	r, ok := rb.Rule(rule)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRule, rule)
	}
	return engine.NewActivation(id, r), nil
}

// ResolveActivation implements engine.ActivationResolver. The rule must
// still be declared; its current attributes are used.
func (rb *Rulebase) ResolveActivation(rec ir.ActivationRecord, _ string) (*engine.Activation, error) {
	return rb.NewActivation(rec.ID, rec.Rule)
}
