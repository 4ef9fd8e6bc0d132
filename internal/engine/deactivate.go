package engine

import (
	"context"
	"fmt"

	"github.com/roach88/agenda/internal/ir"
)

// DeactivateCallback deactivates a group later, once the propagation that
// drained it has settled, but only if the group is still empty by then.
//
// It depends on the Scheduler contract alone. Execute is idempotent: running
// it twice leaves the group in the same state with no error.
type DeactivateCallback struct {
	group Scheduler
}

var _ PersistentAction = (*DeactivateCallback)(nil)

// NewDeactivateCallback creates a callback for group.
func NewDeactivateCallback(group Scheduler) *DeactivateCallback {
	return &DeactivateCallback{group: group}
}

// Group returns the scheduler the callback acts on.
func (c *DeactivateCallback) Group() Scheduler {
	return c.group
}

// Kind implements Action.
func (c *DeactivateCallback) Kind() string {
	return ir.ActionTypeDeactivateCallback
}

// Execute deactivates the group if it is empty; otherwise it does nothing.
func (c *DeactivateCallback) Execute(_ context.Context, _ *Agenda) error {
	if c.group.IsEmpty() {
		c.group.SetActive(false)
	}
	return nil
}

// Record implements PersistentAction. Only the group name is persisted.
func (c *DeactivateCallback) Record() ir.ActionRecord {
	return ir.ActionRecord{
		Type:  ir.ActionTypeDeactivateCallback,
		Group: c.group.Name(),
	}
}

// GroupResolver resolves a group name against a live registry.
// Implemented by *Agenda.
type GroupResolver interface {
	ResolveGroup(name string) (*AgendaGroup, error)
}

// RestoreAction rebuilds a persisted action against a live registry.
//
// An unresolvable group name is fatal for the restore: the returned error
// is an UNRESOLVABLE_REFERENCE RuntimeError.
func RestoreAction(rec ir.ActionRecord, groups GroupResolver) (PersistentAction, error) {
	switch rec.Type {
	case ir.ActionTypeDeactivateCallback:
		g, err := groups.ResolveGroup(rec.Group)
		if err != nil {
			return nil, fmt.Errorf("restore %s: %w", rec.Type, err)
		}
		return NewDeactivateCallback(g), nil
	default:
		return nil, fmt.Errorf("restore action: unknown action type %q", rec.Type)
	}
}
