package engine

import (
	"fmt"

	"github.com/roach88/agenda/internal/ir"
)

// NotQueued is the queue position of an activation that is not in any queue.
const NotQueued = -1

// Activation is a rule instance eligible to fire.
//
// The identity (ID) and the rule belong to the matching collaborator. The
// agenda owns only two fields: the queue position, maintained by
// ActivationQueue on every structural change, and the recency stamp,
// assigned by AgendaGroup.Add.
//
// INVARIANT: QueueIndex() equals the activation's true slot in the owning
// queue, or NotQueued when absent.
type Activation struct {
	ID   string
	Rule ir.Rule

	queueIndex int
	recency    int64
	group      string // Owning group name while queued
	cancelled  bool
}

// NewActivation creates an unqueued, unstamped activation for a rule.
func NewActivation(id string, rule ir.Rule) *Activation {
	return &Activation{
		ID:         id,
		Rule:       rule,
		queueIndex: NotQueued,
	}
}

// NewActivationFromRecord rebuilds an activation from its persisted form,
// carrying the saved recency stamp.
func NewActivationFromRecord(rec ir.ActivationRecord, group string) *Activation {
	a := NewActivation(rec.ID, ir.Rule{
		Name:        rec.Rule,
		Salience:    rec.Salience,
		Sequence:    rec.Sequence,
		AgendaGroup: group,
	})
	a.recency = rec.Recency
	return a
}

// QueueIndex returns the activation's slot in its queue, or NotQueued.
func (a *Activation) QueueIndex() int {
	return a.queueIndex
}

// IsQueued reports whether the activation currently sits in a queue.
func (a *Activation) IsQueued() bool {
	return a.queueIndex != NotQueued
}

// Recency returns the stamp assigned at admission (0 if never stamped).
func (a *Activation) Recency() int64 {
	return a.recency
}

// Salience returns the rule's declared salience.
func (a *Activation) Salience() int64 {
	return a.Rule.Salience
}

// Sequence returns the rule's declaration order.
func (a *Activation) Sequence() int64 {
	return a.Rule.Sequence
}

// GroupName returns the name of the group the activation is queued in.
func (a *Activation) GroupName() string {
	return a.group
}

// IsCancelled reports whether the activation was cancelled by a bulk
// clear-and-cancel. The matching collaborator uses it to drop its own
// references; the flag is reset when the activation is admitted again.
func (a *Activation) IsCancelled() bool {
	return a.cancelled
}

// Record returns the persisted form of the activation.
func (a *Activation) Record() ir.ActivationRecord {
	return ir.ActivationRecord{
		ID:       a.ID,
		Rule:     a.Rule.Name,
		Salience: a.Rule.Salience,
		Sequence: a.Rule.Sequence,
		Recency:  a.recency,
	}
}

// String implements fmt.Stringer.
func (a *Activation) String() string {
	return fmt.Sprintf("Activation{id=%s rule=%s salience=%d recency=%d}",
		a.ID, a.Rule.Name, a.Rule.Salience, a.recency)
}
