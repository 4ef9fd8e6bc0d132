package harness

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/agenda/internal/engine"
	"github.com/roach88/agenda/internal/ir"
	"github.com/roach88/agenda/internal/rulebase"
	"github.com/roach88/agenda/internal/store"
	"github.com/roach88/agenda/internal/testutil"
)

// Harness is the scenario execution engine.
// It drives one agenda with deterministic activation and snapshot IDs and
// records every observable change into a Result.
type Harness struct {
	rb      *rulebase.Rulebase
	agenda  *engine.Agenda
	opts    []engine.AgendaOption
	store   *store.Store // Opened on the first roundtrip step unless supplied
	owned   bool         // store was opened by the harness
	actIDs  *testutil.SequentialIDs
	handles map[string]*engine.Activation
	result  *Result
	logger  *slog.Logger
	step    int
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh agenda. Roundtrip steps persist to a
// private in-memory SQLite store. Deterministic helpers ensure reproducible
// traces.
//
// Execution flow:
// 1. Build the rulebase from the CUE file or the inline rules
// 2. Create the agenda and register every declared group
// 3. Execute steps, checking expect clauses
// 4. Record the final group state and focus stack
// 5. Evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	return RunWithConfig(ctx, scenario, Config{})
}

// Config overrides the deterministic defaults of a run. The zero value is
// what Run uses.
type Config struct {
	// Logger receives agenda and harness logs. Defaults to a discarding logger.
	Logger *slog.Logger

	// SnapshotIDs names captured snapshots. Defaults to snap-1, snap-2, ...
	SnapshotIDs engine.IDGenerator

	// Store persists roundtrip snapshots. Defaults to a private in-memory
	// store. A supplied store is not closed by the harness.
	Store *store.Store

	// Metrics is attached to every agenda the run creates.
	Metrics *engine.Metrics

	// SaveFinal captures the agenda after the last step and saves it to the
	// store. The ID is appended to Result.Snapshots.
	SaveFinal bool
}

// RunWithConfig executes a scenario with cfg in place of the defaults.
func RunWithConfig(ctx context.Context, scenario *Scenario, cfg Config) (*Result, error) {
	rb, err := buildRulebase(scenario)
	if err != nil {
		return nil, fmt.Errorf("failed to build rulebase: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = testutil.DiscardLogger()
	}
	snapIDs := cfg.SnapshotIDs
	if snapIDs == nil {
		snapIDs = testutil.NewSequentialIDs("snap")
	}

	h := &Harness{
		rb:      rb,
		store:   cfg.Store,
		actIDs:  testutil.NewSequentialIDs("act"),
		handles: make(map[string]*engine.Activation),
		result:  NewResult(),
		logger:  logger.With("scenario", scenario.Name),
	}
	defer h.close()

	h.opts = append(rb.Options(),
		engine.WithLogger(h.logger),
		engine.WithFirer(engine.FirerFunc(h.fire)),
		engine.WithIDGenerator(snapIDs),
	)
	if cfg.Metrics != nil {
		h.opts = append(h.opts, engine.WithMetrics(cfg.Metrics))
	}
	if scenario.Resolver != "" {
		cr, err := engine.ParseConflictResolver(scenario.Resolver)
		if err != nil {
			return nil, fmt.Errorf("resolver: %w", err)
		}
		h.opts = append(h.opts, engine.WithConflictResolver(cr))
	}
	h.agenda = engine.New(h.opts...)

	for _, name := range rb.Groups() {
		if _, ok := h.agenda.Group(name); ok {
			continue
		}
		if _, err := h.agenda.CreateGroup(name); err != nil {
			return nil, fmt.Errorf("register group %s: %w", name, err)
		}
	}

	for i, step := range scenario.Steps {
		h.step = i
		if err := h.executeStep(ctx, step); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Op, err)
		}
	}

	h.recordFinalState()

	if cfg.SaveFinal {
		id, err := h.persist(ctx)
		if err != nil {
			return nil, fmt.Errorf("save final snapshot: %w", err)
		}
		h.result.Snapshots = append(h.result.Snapshots, id)
	}

	actx := &AssertionContext{Ctx: ctx}
	for _, errMsg := range EvaluateAssertions(h.result, scenario.Assertions, actx) {
		h.result.AddError(errMsg)
	}

	return h.result, nil
}

func buildRulebase(s *Scenario) (*rulebase.Rulebase, error) {
	switch {
	case s.Rulebase != "" && len(s.Rules) > 0:
		return nil, fmt.Errorf("rulebase and rules are mutually exclusive")
	case s.Rulebase != "":
		return rulebase.Load(s.Rulebase)
	case len(s.Rules) > 0:
		rules := make([]ir.Rule, len(s.Rules))
		for i, r := range s.Rules {
			rules[i] = ir.Rule{
				Name:        r.Name,
				Salience:    r.Salience,
				AgendaGroup: r.AgendaGroup,
				AutoFocus:   r.AutoFocus,
			}
		}
		return rulebase.FromRules(rulebase.Config{Resolver: engine.ResolverDefault}, rules)
	default:
		return nil, fmt.Errorf("rulebase or rules is required")
	}
}

// executeStep runs one step. Agenda errors are checked against the expect
// clause and recorded in the result; only harness faults are returned.
func (h *Harness) executeStep(ctx context.Context, step Step) error {
	var (
		stepErr error
		fired   int
	)

	switch step.Op {
	case OpAdd:
		stepErr = h.add(step)
	case OpCancel:
		stepErr = h.cancel(step)
	case OpFire:
		fired, stepErr = h.agenda.FireAll(ctx, step.Limit)
	case OpClear:
		if stepErr = h.agenda.ClearGroup(step.Group); stepErr == nil {
			h.trace(TraceEvent{Type: EventCleared, Group: step.Group})
		}
	case OpClearAndCancel:
		var cancelled []*engine.Activation
		if cancelled, stepErr = h.agenda.ClearAndCancelGroup(step.Group); stepErr == nil {
			h.trace(TraceEvent{Type: EventCleared, Group: step.Group, Count: len(cancelled), Detail: "cancel"})
		}
	case OpFocus:
		var changed bool
		if changed, stepErr = h.agenda.SetFocus(step.Group); stepErr == nil && changed {
			h.trace(TraceEvent{Type: EventFocus, Group: step.Group})
		}
	case OpActivateRuleFlow:
		if stepErr = h.agenda.ActivateRuleFlowGroup(step.Group); stepErr == nil {
			h.trace(TraceEvent{Type: EventRuleFlow, Group: step.Group, Detail: "activate"})
		}
	case OpDeactivateRuleFlow:
		if stepErr = h.agenda.DeactivateRuleFlowGroup(step.Group); stepErr == nil {
			h.trace(TraceEvent{Type: EventRuleFlow, Group: step.Group, Detail: "deactivate"})
		}
	case OpAssociate:
		var g *engine.AgendaGroup
		if g, stepErr = h.agenda.ResolveGroup(step.Group); stepErr == nil {
			g.AddProcessAssociation(step.ProcessID, step.NodeInstanceID)
			h.trace(TraceEvent{Type: EventAssociated, Group: step.Group, Detail: step.NodeInstanceID})
		}
	case OpDissociate:
		var g *engine.AgendaGroup
		if g, stepErr = h.agenda.ResolveGroup(step.Group); stepErr == nil {
			g.RemoveProcessAssociation(step.ProcessID)
			h.trace(TraceEvent{Type: EventAssociated, Group: step.Group, Detail: "removed"})
		}
	case OpExecuteActions:
		pending := h.agenda.PendingActions()
		if stepErr = h.agenda.ExecuteActions(ctx); stepErr == nil {
			h.trace(TraceEvent{Type: EventActions, Count: pending})
		}
	case OpRoundtrip:
		if err := h.roundtrip(ctx); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}

	h.checkExpect(step, stepErr, fired)
	return nil
}

func (h *Harness) add(step Step) error {
	id := step.ID
	if id == "" {
		id = h.actIDs.Generate()
	}
	if _, dup := h.handles[id]; dup {
		return fmt.Errorf("duplicate activation id %q", id)
	}
	a, err := h.rb.NewActivation(id, step.Rule)
	if err != nil {
		return err
	}
	h.agenda.AddActivation(a)
	h.handles[id] = a
	h.trace(TraceEvent{
		Type:         EventAdded,
		Group:        a.GroupName(),
		ActivationID: a.ID,
		Rule:         a.Rule.Name,
		Recency:      a.Recency(),
	})
	return nil
}

func (h *Harness) cancel(step Step) error {
	a, ok := h.handles[step.ID]
	if !ok {
		return fmt.Errorf("unknown activation id %q", step.ID)
	}
	group := a.GroupName()
	if err := h.agenda.CancelActivation(a); err != nil {
		return err
	}
	h.trace(TraceEvent{
		Type:         EventCancelled,
		Group:        group,
		ActivationID: a.ID,
		Rule:         a.Rule.Name,
	})
	return nil
}

// fire is the agenda's rule firer. The firing group is the focus top.
func (h *Harness) fire(_ context.Context, ag *engine.Agenda, a *engine.Activation) error {
	h.trace(TraceEvent{
		Type:         EventFired,
		Group:        ag.Focus().Name(),
		ActivationID: a.ID,
		Rule:         a.Rule.Name,
		Recency:      a.Recency(),
	})
	return nil
}

// roundtrip captures the agenda, persists it, loads it back and continues
// the scenario on the restored agenda.
func (h *Harness) roundtrip(ctx context.Context) error {
	id, err := h.persist(ctx)
	if err != nil {
		return err
	}
	loaded, err := h.store.LoadSnapshot(ctx, id)
	if err != nil {
		return err
	}
	restored, err := engine.Restore(loaded, h.rb, h.opts...)
	if err != nil {
		return err
	}

	// Rebind handles so later cancel steps address the restored activations.
	count := 0
	for _, g := range restored.Groups() {
		for _, a := range g.Activations() {
			h.handles[a.ID] = a
			count++
		}
	}

	h.agenda = restored
	h.result.Snapshots = append(h.result.Snapshots, id)
	h.trace(TraceEvent{Type: EventRestored, Count: count, Detail: id})

	h.logger.Info("roundtrip completed",
		"step", h.step,
		"snapshot_id", id,
		"activations", count,
	)
	return nil
}

// persist captures the current agenda and saves it, opening the private
// in-memory store on first use.
func (h *Harness) persist(ctx context.Context) (string, error) {
	if h.store == nil {
		st, err := store.Open(":memory:")
		if err != nil {
			return "", fmt.Errorf("failed to create in-memory store: %w", err)
		}
		h.store = st
		h.owned = true
	}

	snap, err := engine.Capture(h.agenda)
	if err != nil {
		return "", err
	}
	if err := h.store.SaveSnapshot(ctx, snap); err != nil {
		return "", err
	}
	return snap.ID, nil
}

func (h *Harness) checkExpect(step Step, err error, fired int) {
	switch {
	case step.Expect != nil && step.Expect.Error != "":
		if err == nil {
			h.result.AddError(fmt.Sprintf("steps[%d] (%s): expected error containing %q, got success",
				h.step, step.Op, step.Expect.Error))
		} else if !strings.Contains(err.Error(), step.Expect.Error) {
			h.result.AddError(fmt.Sprintf("steps[%d] (%s): expected error containing %q, got %v",
				h.step, step.Op, step.Expect.Error, err))
		}
	case err != nil:
		h.result.AddError(fmt.Sprintf("steps[%d] (%s): %v", h.step, step.Op, err))
	}

	if step.Expect != nil && step.Expect.Fired != nil && *step.Expect.Fired != fired {
		h.result.AddError(fmt.Sprintf("steps[%d] (%s): expected %d fired, got %d",
			h.step, step.Op, *step.Expect.Fired, fired))
	}
}

func (h *Harness) recordFinalState() {
	for _, g := range h.agenda.Groups() {
		h.result.Groups[g.Name()] = GroupState{
			Name:              g.Name(),
			Active:            g.IsActive(),
			AutoDeactivate:    g.AutoDeactivate(),
			Size:              g.Size(),
			ClearedForRecency: g.ClearedForRecency(),
			Associations:      len(g.ProcessAssociations()),
		}
	}
	h.result.Focus = h.agenda.FocusStack()
}

func (h *Harness) trace(e TraceEvent) {
	e.Step = h.step
	h.result.addTrace(e)
}

func (h *Harness) close() {
	if h.owned {
		h.store.Close()
	}
}
