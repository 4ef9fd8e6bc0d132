package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync/atomic"

	"github.com/roach88/agenda/internal/ir"
)

// RuleFirer runs the consequence of a fired activation.
//
// The firer is called on the writer goroutine. It may call back into the
// agenda (AddActivation, CancelActivation, SetFocus, QueueAction) to express
// the consequence's effect on the working set.
type RuleFirer interface {
	Fire(ctx context.Context, ag *Agenda, a *Activation) error
}

// FirerFunc adapts a function to RuleFirer.
type FirerFunc func(ctx context.Context, ag *Agenda, a *Activation) error

// Fire implements RuleFirer.
func (f FirerFunc) Fire(ctx context.Context, ag *Agenda, a *Activation) error {
	return f(ctx, ag, a)
}

// Agenda is the single-writer scheduler for one working set.
//
// It owns the group registry, the shared recency clock, the focus stack and
// the deferred action queue. Activations produced by matching are routed to
// their rule's agenda group; the firing loop takes the next activation from
// the group on top of the focus stack.
//
// CRITICAL: All mutations happen on one writer goroutine.
//
// Thread-safety model:
//   - QueueAction(), Halt(): safe from any goroutine
//   - group IsActive/Size/IsEmpty: safe from any goroutine (may be stale)
//   - everything else: writer only
//
// INVARIANTS:
//   - the main group is always registered and always at the bottom of the
//     focus stack
//   - every group shares the agenda clock, so stamps are comparable across
//     groups
type Agenda struct {
	clock    *Clock
	resolver ConflictResolver
	mainName string

	groups map[string]*AgendaGroup
	main   *AgendaGroup
	focus  []*AgendaGroup // Bottom first; focus[0] is main

	actions *actionQueue
	firer   RuleFirer
	idGen   IDGenerator
	logger  *slog.Logger
	metrics *Metrics

	halted atomic.Bool
}

// AgendaOption configures an Agenda.
type AgendaOption func(*Agenda)

// WithConflictResolver sets the ordering used by every group of the agenda.
//
// Default: ResolverDefault.
func WithConflictResolver(r ConflictResolver) AgendaOption {
	return func(ag *Agenda) {
		ag.resolver = r
	}
}

// WithClock injects the recency clock. Used by restore to resume stamping
// after the last recorded value.
func WithClock(c *Clock) AgendaOption {
	return func(ag *Agenda) {
		if c != nil {
			ag.clock = c
		}
	}
}

// WithLogger sets the structured logger.
//
// Default: slog.Default().
func WithLogger(l *slog.Logger) AgendaOption {
	return func(ag *Agenda) {
		if l != nil {
			ag.logger = l
		}
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *Metrics) AgendaOption {
	return func(ag *Agenda) {
		ag.metrics = m
	}
}

// WithFirer sets the consequence runner.
//
// Default: a firer that only logs the activation.
func WithFirer(f RuleFirer) AgendaOption {
	return func(ag *Agenda) {
		if f != nil {
			ag.firer = f
		}
	}
}

// WithMainGroup renames the bottom-of-stack group.
//
// Default: MainGroup ("MAIN").
func WithMainGroup(name string) AgendaOption {
	return func(ag *Agenda) {
		if name != "" {
			ag.mainName = ir.NormalizeName(name)
		}
	}
}

// WithIDGenerator sets the snapshot ID generator.
//
// Default: UUIDv7Generator.
func WithIDGenerator(gen IDGenerator) AgendaOption {
	return func(ag *Agenda) {
		if gen != nil {
			ag.idGen = gen
		}
	}
}

// New creates an agenda with an active main group at the bottom of the
// focus stack.
func New(opts ...AgendaOption) *Agenda {
	ag := &Agenda{
		clock:    NewClock(),
		resolver: ResolverDefault,
		mainName: MainGroup,
		groups:   make(map[string]*AgendaGroup),
		actions:  newActionQueue(),
		idGen:    UUIDv7Generator{},
		logger:   slog.Default(),
	}
	ag.firer = FirerFunc(logFirer)

	for _, opt := range opts {
		opt(ag)
	}

	ag.main = ag.newGroup(ag.mainName)
	ag.main.SetActive(true)
	ag.focus = []*AgendaGroup{ag.main}

	return ag
}

func logFirer(_ context.Context, ag *Agenda, a *Activation) error {
	ag.logger.Debug("activation fired without firer",
		"activation_id", a.ID,
		"rule", a.Rule.Name,
	)
	return nil
}

func (ag *Agenda) newGroup(name string) *AgendaGroup {
	g := NewAgendaGroup(name, ag.resolver, ag.clock)
	g.metrics = ag.metrics
	ag.groups[g.name] = g
	return g
}

// Clock returns the agenda's recency clock.
func (ag *Agenda) Clock() *Clock {
	return ag.clock
}

// Resolver returns the conflict resolver shared by every group.
func (ag *Agenda) Resolver() ConflictResolver {
	return ag.resolver
}

// Logger returns the agenda's logger.
func (ag *Agenda) Logger() *slog.Logger {
	return ag.logger
}

// Main returns the bottom-of-stack group.
func (ag *Agenda) Main() *AgendaGroup {
	return ag.main
}

// CreateGroup registers a new, inactive group.
// Returns a DUPLICATE_GROUP RuntimeError if the name is taken.
func (ag *Agenda) CreateGroup(name string) (*AgendaGroup, error) {
	key := ir.NormalizeName(name)
	if _, ok := ag.groups[key]; ok {
		return nil, NewDuplicateGroupError(key)
	}
	g := ag.newGroup(key)
	ag.logger.Debug("agenda group created", "group", key)
	return g, nil
}

// Group looks up a registered group by name.
func (ag *Agenda) Group(name string) (*AgendaGroup, bool) {
	g, ok := ag.groups[ir.NormalizeName(name)]
	return g, ok
}

// ResolveGroup looks up a registered group by name.
// Returns an UNRESOLVABLE_REFERENCE RuntimeError if there is none.
func (ag *Agenda) ResolveGroup(name string) (*AgendaGroup, error) {
	g, ok := ag.Group(name)
	if !ok {
		return nil, NewUnresolvableError(ir.NormalizeName(name))
	}
	return g, nil
}

// groupFor returns the named group, creating it on first use. The empty
// name routes to the main group.
func (ag *Agenda) groupFor(name string) *AgendaGroup {
	if name == "" {
		return ag.main
	}
	if g, ok := ag.Group(name); ok {
		return g
	}
	g := ag.newGroup(name)
	ag.logger.Debug("agenda group created on demand", "group", g.name)
	return g
}

// Groups returns every registered group sorted by name.
func (ag *Agenda) Groups() []*AgendaGroup {
	names := slices.Sorted(maps.Keys(ag.groups))
	out := make([]*AgendaGroup, len(names))
	for i, name := range names {
		out[i] = ag.groups[name]
	}
	return out
}

// AddActivation stamps a and queues it in its rule's agenda group.
// An auto-focus rule whose group is inactive gives that group the focus.
func (ag *Agenda) AddActivation(a *Activation) {
	g := ag.groupFor(a.Rule.AgendaGroup)
	g.Add(a)

	ag.logger.Debug("activation added",
		"activation_id", a.ID,
		"rule", a.Rule.Name,
		"group", g.name,
		"recency", a.recency,
	)

	if a.Rule.AutoFocus && !g.IsActive() {
		ag.pushFocus(g)
	}
}

// CancelActivation removes a pending activation from its group.
// Returns a NOT_QUEUED RuntimeError if a is not pending.
func (ag *Agenda) CancelActivation(a *Activation) error {
	g, ok := ag.groups[a.group]
	if !ok {
		return NewNotQueuedError("", a)
	}
	if err := g.Remove(a); err != nil {
		return err
	}
	ag.logger.Debug("activation cancelled",
		"activation_id", a.ID,
		"rule", a.Rule.Name,
		"group", g.name,
	)
	return nil
}

// SetFocus activates the named group, creating it if needed, and pushes it
// onto the focus stack. A group that is already active keeps its place.
// Reports whether the focus changed.
func (ag *Agenda) SetFocus(name string) (bool, error) {
	if name == "" {
		return false, NewUnresolvableError(name)
	}
	return ag.pushFocus(ag.groupFor(name)), nil
}

func (ag *Agenda) pushFocus(g *AgendaGroup) bool {
	if g.IsActive() {
		return false
	}
	g.SetActive(true)
	ag.removeFocus(g)
	if g != ag.main || len(ag.focus) > 1 {
		ag.focus = append(ag.focus, g)
	}
	ag.logger.Debug("focus set", "group", g.name, "depth", len(ag.focus))
	return true
}

// Focus returns the group on top of the focus stack.
func (ag *Agenda) Focus() *AgendaGroup {
	return ag.focus[len(ag.focus)-1]
}

// FocusStack returns the focus stack names, bottom first.
func (ag *Agenda) FocusStack() []string {
	out := make([]string, len(ag.focus))
	for i, g := range ag.focus {
		out[i] = g.name
	}
	return out
}

// removeFocus drops g from the stack above the bottom slot.
func (ag *Agenda) removeFocus(g *AgendaGroup) {
	rest := slices.DeleteFunc(ag.focus[1:], func(f *AgendaGroup) bool {
		return f == g
	})
	ag.focus = ag.focus[:1+len(rest)]
}

// nextFocus returns the group to fire from, popping and deactivating empty
// auto-deactivating groups above main. Returns nil when nothing can fire.
func (ag *Agenda) nextFocus() *AgendaGroup {
	for {
		g := ag.Focus()
		if !g.AutoDeactivate() {
			if g.IsEmpty() {
				return nil
			}
			break
		}
		if !g.IsEmpty() {
			break
		}
		if len(ag.focus) == 1 {
			return nil
		}
		g.SetActive(false)
		ag.focus = ag.focus[:len(ag.focus)-1]
		ag.logger.Debug("focus popped", "group", g.name, "depth", len(ag.focus))
	}

	g := ag.Focus()
	if !g.IsActive() {
		g.SetActive(true)
	}
	return g
}

// ActivateRuleFlowGroup activates the named group on behalf of a process
// node and gives it the focus.
func (ag *Agenda) ActivateRuleFlowGroup(name string) error {
	if name == "" {
		return NewUnresolvableError(name)
	}
	g := ag.groupFor(name)
	ag.pushFocus(g)
	ag.logger.Debug("rule flow group activated", "group", g.name)
	return nil
}

// DeactivateRuleFlowGroup clears the named group and drops it from the
// focus stack.
func (ag *Agenda) DeactivateRuleFlowGroup(name string) error {
	g, err := ag.ResolveGroup(name)
	if err != nil {
		return fmt.Errorf("deactivate rule flow group: %w", err)
	}
	g.Clear()
	ag.removeFocus(g)
	ag.logger.Debug("rule flow group deactivated", "group", g.name)
	return nil
}

// ClearGroup empties and deactivates the named group.
func (ag *Agenda) ClearGroup(name string) error {
	g, err := ag.ResolveGroup(name)
	if err != nil {
		return fmt.Errorf("clear group: %w", err)
	}
	g.Clear()
	ag.logger.Debug("agenda group cleared",
		"group", g.name,
		"cleared_for_recency", g.clearedForRecency,
	)
	return nil
}

// ClearAndCancelGroup removes every pending activation of the named group,
// marks each one cancelled and returns them so the matching collaborator
// can drop its references. Activations stamped before the clear that reach
// the group later are stale and never fire.
func (ag *Agenda) ClearAndCancelGroup(name string) ([]*Activation, error) {
	g, err := ag.ResolveGroup(name)
	if err != nil {
		return nil, fmt.Errorf("clear and cancel group: %w", err)
	}
	cancelled := g.GetAndClear()
	for _, a := range cancelled {
		a.cancelled = true
	}
	g.MarkCleared()
	ag.metrics.groupCleared(g.name)

	ag.logger.Debug("agenda group cleared and cancelled",
		"group", g.name,
		"cancelled", len(cancelled),
		"cleared_for_recency", g.clearedForRecency,
	)
	return cancelled, nil
}

// ClearAll clears every group and resets the focus stack to an active main
// group.
func (ag *Agenda) ClearAll() {
	for _, g := range ag.Groups() {
		g.Clear()
	}
	ag.focus = []*AgendaGroup{ag.main}
	ag.main.SetActive(true)
	ag.logger.Debug("agenda cleared", "groups", len(ag.groups))
}

// QueueAction schedules a deferred action for the writer.
// Thread-safe: may be called from any goroutine.
// Returns false if the agenda has been halted.
func (ag *Agenda) QueueAction(a Action) bool {
	return ag.actions.Enqueue(a)
}

// PendingActions returns the number of queued actions.
func (ag *Agenda) PendingActions() int {
	return ag.actions.Len()
}

// ExecuteActions runs every queued action in FIFO order, including actions
// queued by the actions themselves.
//
// A failing action is logged and skipped; the errors of all failed actions
// are returned joined.
func (ag *Agenda) ExecuteActions(ctx context.Context) error {
	var errs []error
	for {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}
		action, ok := ag.actions.TryDequeue()
		if !ok {
			return errors.Join(errs...)
		}
		if err := action.Execute(ctx, ag); err != nil {
			ag.logger.Error("action failed",
				"type", action.Kind(),
				"error", err,
			)
			errs = append(errs, fmt.Errorf("%s: %w", action.Kind(), err))
			continue
		}
		ag.metrics.actionExecuted(action.Kind())
	}
}

// FireNext executes pending actions, then fires the next activation of the
// focus group. Reports whether an activation fired.
//
// The activation is removed before its consequence runs. A consequence
// error is returned wrapped; the activation does not return to the queue.
func (ag *Agenda) FireNext(ctx context.Context) (bool, error) {
	if err := ag.ExecuteActions(ctx); err != nil {
		return false, fmt.Errorf("execute actions: %w", err)
	}

	for {
		g := ag.nextFocus()
		if g == nil {
			return false, nil
		}
		a := g.Next()
		if a == nil {
			// Everything left was stale; the group is now empty.
			continue
		}
		return true, ag.fire(ctx, g, a)
	}
}

func (ag *Agenda) fire(ctx context.Context, g *AgendaGroup, a *Activation) error {
	ag.logger.Debug("firing activation",
		"activation_id", a.ID,
		"rule", a.Rule.Name,
		"group", g.name,
		"salience", a.Rule.Salience,
		"recency", a.recency,
	)
	ag.metrics.activationFired(g.name)

	err := ag.firer.Fire(ctx, ag, a)

	if g.AutoDeactivate() && g.IsEmpty() {
		ag.actions.Enqueue(NewDeactivateCallback(g))
	}

	if err != nil {
		return fmt.Errorf("fire %s (rule %s): %w", a.ID, a.Rule.Name, err)
	}
	return nil
}

// FireAll fires activations until none can fire, the limit is reached, the
// agenda is halted or ctx is done. A limit <= 0 means no limit. Pending
// actions are executed before returning.
//
// Returns the number of activations fired. Stops at the first consequence
// error.
func (ag *Agenda) FireAll(ctx context.Context, limit int) (int, error) {
	fired := 0
	for limit <= 0 || fired < limit {
		if ag.halted.Load() {
			break
		}
		if err := ctx.Err(); err != nil {
			return fired, err
		}
		ok, err := ag.FireNext(ctx)
		if ok {
			fired++
		}
		if err != nil {
			return fired, err
		}
		if !ok {
			break
		}
	}

	if err := ag.ExecuteActions(ctx); err != nil {
		return fired, fmt.Errorf("execute actions: %w", err)
	}
	return fired, nil
}

// Run fires activations until ctx is cancelled or Halt is called, waiting
// for queued actions when nothing can fire.
//
// CRITICAL: Must be called from exactly ONE goroutine, which becomes the
// agenda's writer.
//
// ERROR HANDLING: A failing consequence or action is logged with the
// activation context and the loop continues.
func (ag *Agenda) Run(ctx context.Context) error {
	ag.logger.Info("agenda starting", "resolver", ag.resolver.String())

	for {
		if ag.halted.Load() {
			ag.logger.Info("agenda stopping: halted")
			return nil
		}

		ok, err := ag.FireNext(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				ag.logger.Info("agenda stopping: context cancelled")
				return ctxErr
			}
			ag.logger.Error("firing failed", "error", err)
		}
		if ok {
			continue
		}
		if ag.actions.Len() > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			ag.logger.Info("agenda stopping: context cancelled")
			return ctx.Err()

		case <-ag.actions.Wait():
			// The signal channel closes on Halt, which makes this case
			// fire immediately; the halted check above ends the loop.
		}
	}
}

// Halt stops Run and FireAll and rejects further queued actions. Actions
// already queued can still be executed with ExecuteActions.
// Thread-safe: may be called from any goroutine. Halt is terminal.
func (ag *Agenda) Halt() {
	ag.halted.Store(true)
	ag.actions.Close()
}

// Halted reports whether Halt has been called.
func (ag *Agenda) Halted() bool {
	return ag.halted.Load()
}
