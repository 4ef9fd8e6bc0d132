package engine

import (
	"maps"
	"slices"
	"sync/atomic"

	"github.com/roach88/agenda/internal/ir"
)

// MainGroup is the name of the group at the bottom of every focus stack.
const MainGroup = "MAIN"

// Scheduler is a named, independently activatable queue of pending
// activations.
//
// CRITICAL: Mutating methods (Add, Remove, Next, Peek, Clear, GetAndClear)
// are NOT safe for concurrent use. They must be called by the owning agenda's
// single writer. IsActive, Size and IsEmpty may be read from any goroutine.
type Scheduler interface {
	Name() string
	Add(a *Activation)
	Remove(a *Activation) error
	Next() *Activation
	Peek() *Activation
	Clear()
	GetAndClear() []*Activation
	Size() int
	IsEmpty() bool
	SetActive(active bool)
	IsActive() bool
	DeactivateIfEmpty() bool
}

// ProcessAssociation is the bookkeeping a rule-flow group carries for the
// process collaborator: which node instance of which process activated it.
type ProcessAssociation interface {
	AddProcessAssociation(processID int64, nodeInstanceID string)
	RemoveProcessAssociation(processID int64)
	ProcessAssociations() map[int64]string
}

var (
	_ Scheduler          = (*AgendaGroup)(nil)
	_ ProcessAssociation = (*AgendaGroup)(nil)
)

// AgendaGroup is the activation scheduler: one indexed queue, an active
// flag, two recency watermarks and a process-association table.
//
// Identity is the name. Two groups with the same name are the same entity;
// a group is never copied.
//
// Recency watermarks:
//   - activatedForRecency: stamp of the last admitted activation
//   - clearedForRecency: clock value at the last bulk clear (-1 if never)
//
// Any activation with Recency() <= clearedForRecency is stale: it is never
// returned by Next or Peek and is rejected by AddStamped. The watermark only
// increases, so a stale activation stays stale.
type AgendaGroup struct {
	name  string
	queue *ActivationQueue
	clock *Clock

	active         atomic.Bool
	autoDeactivate bool

	activatedForRecency int64
	clearedForRecency   int64

	nodeInstances map[int64]string

	metrics *Metrics
}

// NewAgendaGroup creates an inactive group ordered by resolver and stamped
// from clock. A nil clock gets a private clock, which is only appropriate
// for a standalone group; groups of one agenda must share the agenda clock.
func NewAgendaGroup(name string, resolver ConflictResolver, clock *Clock) *AgendaGroup {
	if clock == nil {
		clock = NewClock()
	}
	return &AgendaGroup{
		name:              ir.NormalizeName(name),
		queue:             NewActivationQueue(resolver),
		clock:             clock,
		autoDeactivate:    true,
		clearedForRecency: -1,
		nodeInstances:     make(map[int64]string),
	}
}

// Name returns the group's (NFC-normalized) name.
func (g *AgendaGroup) Name() string {
	return g.name
}

// Equal reports whether other is the same group, by name.
func (g *AgendaGroup) Equal(other Scheduler) bool {
	return other != nil && other.Name() == g.name
}

// String implements fmt.Stringer.
func (g *AgendaGroup) String() string {
	return "AgendaGroup '" + g.name + "'"
}

// Resolver returns the conflict resolver ordering this group.
func (g *AgendaGroup) Resolver() ConflictResolver {
	return g.queue.Resolver()
}

// Add stamps a with the next clock value, records the stamp as
// activatedForRecency and enqueues a.
func (g *AgendaGroup) Add(a *Activation) {
	stamp := g.clock.Next()
	a.recency = stamp
	g.admit(a)
}

// AddStamped enqueues a keeping its existing recency stamp. Used by restore
// and transfer so that relative order survives the move.
//
// Returns false, leaving a unqueued, if the stamp is stale relative to
// clearedForRecency.
func (g *AgendaGroup) AddStamped(a *Activation) bool {
	if g.IsStale(a) {
		g.metrics.staleDiscarded(g.name)
		return false
	}
	g.clock.AdvanceTo(a.recency)
	g.admit(a)
	return true
}

func (g *AgendaGroup) admit(a *Activation) {
	a.group = g.name
	a.cancelled = false
	if a.recency > g.activatedForRecency {
		g.activatedForRecency = a.recency
	}
	g.queue.Enqueue(a)
	g.metrics.activationAdded(g.name, g.queue.Len())
}

// Remove cancels a pending activation using its recorded queue position.
//
// Returns a NOT_QUEUED RuntimeError, without touching the queue, if a is not
// queued in this group. Removing by a foreign or stale position would break
// the heap invariant for every later operation.
func (g *AgendaGroup) Remove(a *Activation) error {
	if !g.queue.Contains(a) {
		return NewNotQueuedError(g.name, a)
	}
	g.queue.DequeueAt(a.queueIndex)
	a.group = ""
	g.metrics.activationCancelled(g.name, g.queue.Len())
	return nil
}

// Next removes and returns the activation that should fire next, or nil.
// Stale activations reaching the top are discarded.
func (g *AgendaGroup) Next() *Activation {
	for {
		a := g.queue.Dequeue()
		if a == nil {
			return nil
		}
		a.group = ""
		if g.IsStale(a) {
			g.metrics.staleDiscarded(g.name)
			continue
		}
		g.metrics.queueDepth(g.name, g.queue.Len())
		return a
	}
}

// Peek returns the next activation without removing it, or nil.
// Stale activations reaching the top are discarded first.
func (g *AgendaGroup) Peek() *Activation {
	for {
		a := g.queue.Peek()
		if a == nil || !g.IsStale(a) {
			return a
		}
		g.queue.Dequeue()
		a.group = ""
		g.metrics.staleDiscarded(g.name)
	}
}

// Clear empties the queue, deactivates the group and records the current
// clock value as clearedForRecency.
func (g *AgendaGroup) Clear() {
	for _, a := range g.queue.GetAndClear() {
		a.group = ""
	}
	g.active.Store(false)
	g.clearedForRecency = g.clock.Current()
	g.metrics.groupCleared(g.name)
}

// GetAndClear returns every pending activation exactly once and empties the
// queue. The active flag and the watermarks are left untouched.
func (g *AgendaGroup) GetAndClear() []*Activation {
	out := g.queue.GetAndClear()
	for _, a := range out {
		a.group = ""
	}
	g.metrics.queueDepth(g.name, 0)
	return out
}

// MarkCleared records the current clock value as clearedForRecency without
// touching the queue.
func (g *AgendaGroup) MarkCleared() {
	g.clearedForRecency = g.clock.Current()
}

// IsStale reports whether a predates the last clear of this group.
func (g *AgendaGroup) IsStale(a *Activation) bool {
	return a.recency <= g.clearedForRecency
}

// Contains reports whether a is queued in this group.
func (g *AgendaGroup) Contains(a *Activation) bool {
	return g.queue.Contains(a)
}

// Activations returns the pending activations in firing order without
// removing them. O(n log n).
func (g *AgendaGroup) Activations() []*Activation {
	out := g.queue.Activations()
	resolver := g.queue.Resolver()
	slices.SortFunc(out, resolver.Compare)
	return out
}

// Size returns the number of pending activations.
// Safe to call from any goroutine.
func (g *AgendaGroup) Size() int {
	return g.queue.Len()
}

// IsEmpty reports whether no activations are pending.
// Safe to call from any goroutine.
func (g *AgendaGroup) IsEmpty() bool {
	return g.queue.IsEmpty()
}

// SetActive sets the active flag.
func (g *AgendaGroup) SetActive(active bool) {
	g.active.Store(active)
}

// Activate sets the group active.
func (g *AgendaGroup) Activate() {
	g.active.Store(true)
}

// Deactivate sets the group inactive.
func (g *AgendaGroup) Deactivate() {
	g.active.Store(false)
}

// IsActive reports the active flag. Safe to call from any goroutine; the
// value may be momentarily stale.
func (g *AgendaGroup) IsActive() bool {
	return g.active.Load()
}

// DeactivateIfEmpty deactivates the group when auto-deactivate is set and
// nothing is pending. Reports whether the group was deactivated.
func (g *AgendaGroup) DeactivateIfEmpty() bool {
	if !g.autoDeactivate || !g.queue.IsEmpty() {
		return false
	}
	g.active.Store(false)
	return true
}

// AutoDeactivate reports the auto-deactivate policy.
func (g *AgendaGroup) AutoDeactivate() bool {
	return g.autoDeactivate
}

// SetAutoDeactivate sets the auto-deactivate policy.
func (g *AgendaGroup) SetAutoDeactivate(v bool) {
	g.autoDeactivate = v
}

// ActivatedForRecency returns the stamp of the last admitted activation.
func (g *AgendaGroup) ActivatedForRecency() int64 {
	return g.activatedForRecency
}

// ClearedForRecency returns the clock value recorded at the last clear.
func (g *AgendaGroup) ClearedForRecency() int64 {
	return g.clearedForRecency
}

// AddProcessAssociation records that nodeInstanceID of process processID
// activated this group. An existing entry for the process is replaced.
func (g *AgendaGroup) AddProcessAssociation(processID int64, nodeInstanceID string) {
	g.nodeInstances[processID] = nodeInstanceID
}

// RemoveProcessAssociation erases the entry for processID.
func (g *AgendaGroup) RemoveProcessAssociation(processID int64) {
	delete(g.nodeInstances, processID)
}

// ProcessAssociations returns a copy of the association table.
func (g *AgendaGroup) ProcessAssociations() map[int64]string {
	return maps.Clone(g.nodeInstances)
}

// Record returns the persisted form of the group. Activations are listed in
// firing order and associations by process ID.
func (g *AgendaGroup) Record() ir.GroupRecord {
	acts := g.Activations()
	recs := make([]ir.ActivationRecord, len(acts))
	for i, a := range acts {
		recs[i] = a.Record()
	}

	ids := slices.Sorted(maps.Keys(g.nodeInstances))
	assocs := make([]ir.ProcessAssociation, len(ids))
	for i, id := range ids {
		assocs[i] = ir.ProcessAssociation{ProcessID: id, NodeInstanceID: g.nodeInstances[id]}
	}

	return ir.GroupRecord{
		Name:                g.name,
		Active:              g.IsActive(),
		AutoDeactivate:      g.autoDeactivate,
		ActivatedForRecency: g.activatedForRecency,
		ClearedForRecency:   g.clearedForRecency,
		ProcessAssociations: assocs,
		Activations:         recs,
	}
}
