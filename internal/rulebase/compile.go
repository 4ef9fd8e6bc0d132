package rulebase

import (
	"fmt"
	"slices"

	"cuelang.org/go/cue"

	"github.com/roach88/agenda/internal/engine"
	"github.com/roach88/agenda/internal/ir"
)

var ruleFields = []string{"salience", "agenda_group", "auto_focus", "description"}

var configFields = []string{"resolver", "sequential", "main_group"}

// Compile parses a CUE value holding a rulebase document.
//
// The value must contain a "rule" struct and may contain a "config" struct.
// Rules keep their declaration order; it becomes Rule.Sequence.
func Compile(v cue.Value) (*Rulebase, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	cfg, err := compileConfig(v.LookupPath(cue.ParsePath("config")))
	if err != nil {
		return nil, err
	}

	rulesVal := v.LookupPath(cue.ParsePath("rule"))
	if !rulesVal.Exists() {
		return nil, &CompileError{
			Field:   "rule",
			Message: "at least one rule is required",
			Pos:     v.Pos(),
		}
	}

	iter, err := rulesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	rb := newRulebase(cfg)
	var seq int64
	for iter.Next() {
		rule, err := compileRule(iter.Label(), iter.Value(), seq)
		if err != nil {
			return nil, err
		}
		if _, dup := rb.byName[rule.Name]; dup {
			return nil, &CompileError{
				Field:   "rule." + iter.Label(),
				Message: fmt.Sprintf("duplicate rule name %q", rule.Name),
				Pos:     iter.Value().Pos(),
			}
		}
		rb.add(rule)
		seq++
	}

	if len(rb.rules) == 0 {
		return nil, &CompileError{
			Field:   "rule",
			Message: "at least one rule is required",
			Pos:     rulesVal.Pos(),
		}
	}

	return rb, nil
}

// compileRule parses one rule declaration.
func compileRule(label string, v cue.Value, seq int64) (ir.Rule, error) {
	field := "rule." + label
	if err := v.Err(); err != nil {
		return ir.Rule{}, formatCUEError(err)
	}
	if err := rejectUnknownFields(v, field, ruleFields); err != nil {
		return ir.Rule{}, err
	}

	rule := ir.Rule{
		Name:     ir.NormalizeName(label),
		Sequence: seq,
	}

	if sv := v.LookupPath(cue.ParsePath("salience")); sv.Exists() {
		if sv.Kind() != cue.IntKind {
			return ir.Rule{}, &CompileError{
				Field:   field + ".salience",
				Message: "salience must be an integer",
				Pos:     sv.Pos(),
			}
		}
		n, err := sv.Int64()
		if err != nil {
			return ir.Rule{}, formatCUEError(err)
		}
		rule.Salience = n
	}

	if gv := v.LookupPath(cue.ParsePath("agenda_group")); gv.Exists() {
		s, err := gv.String()
		if err != nil {
			return ir.Rule{}, &CompileError{
				Field:   field + ".agenda_group",
				Message: "agenda_group must be a string",
				Pos:     gv.Pos(),
			}
		}
		rule.AgendaGroup = ir.NormalizeName(s)
	}

	if fv := v.LookupPath(cue.ParsePath("auto_focus")); fv.Exists() {
		b, err := fv.Bool()
		if err != nil {
			return ir.Rule{}, &CompileError{
				Field:   field + ".auto_focus",
				Message: "auto_focus must be a bool",
				Pos:     fv.Pos(),
			}
		}
		rule.AutoFocus = b
	}

	return rule, nil
}

// compileConfig parses the optional config block.
func compileConfig(v cue.Value) (Config, error) {
	cfg := Config{Resolver: engine.ResolverDefault}
	if !v.Exists() {
		return cfg, nil
	}
	if err := rejectUnknownFields(v, "config", configFields); err != nil {
		return cfg, err
	}

	if rv := v.LookupPath(cue.ParsePath("resolver")); rv.Exists() {
		name, err := rv.String()
		if err != nil {
			return cfg, &CompileError{Field: "config.resolver", Message: "resolver must be a string", Pos: rv.Pos()}
		}
		r, err := engine.ParseConflictResolver(name)
		if err != nil {
			return cfg, &CompileError{Field: "config.resolver", Message: err.Error(), Pos: rv.Pos()}
		}
		cfg.Resolver = r
	}

	if sv := v.LookupPath(cue.ParsePath("sequential")); sv.Exists() {
		seq, err := sv.Bool()
		if err != nil {
			return cfg, &CompileError{Field: "config.sequential", Message: "sequential must be a bool", Pos: sv.Pos()}
		}
		if seq {
			if v.LookupPath(cue.ParsePath("resolver")).Exists() && cfg.Resolver != engine.ResolverSequential {
				return cfg, &CompileError{
					Field:   "config.sequential",
					Message: fmt.Sprintf("sequential mode conflicts with resolver %q", cfg.Resolver),
					Pos:     sv.Pos(),
				}
			}
			cfg.Resolver = engine.ResolverSequential
		}
	}

	if mv := v.LookupPath(cue.ParsePath("main_group")); mv.Exists() {
		name, err := mv.String()
		if err != nil || name == "" {
			return cfg, &CompileError{Field: "config.main_group", Message: "main_group must be a non-empty string", Pos: mv.Pos()}
		}
		cfg.MainGroup = ir.NormalizeName(name)
	}

	return cfg, nil
}

// rejectUnknownFields fails on the first field of v not in allowed.
func rejectUnknownFields(v cue.Value, field string, allowed []string) error {
	iter, err := v.Fields()
	if err != nil {
		return &CompileError{
			Field:   field,
			Message: "must be a struct",
			Pos:     v.Pos(),
		}
	}
	for iter.Next() {
		if !slices.Contains(allowed, iter.Label()) {
			return &CompileError{
				Field:   field + "." + iter.Label(),
				Message: fmt.Sprintf("unknown field (allowed: %v)", allowed),
				Pos:     iter.Value().Pos(),
			}
		}
	}
	return nil
}
