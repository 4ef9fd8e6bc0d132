package engine

import (
	"fmt"
	"slices"

	"github.com/roach88/agenda/internal/ir"
)

// ActivationResolver maps a persisted activation back to a live handle.
//
// The returned activation's recency is overwritten with the saved stamp by
// Restore, so resolvers need not carry it.
type ActivationResolver interface {
	ResolveActivation(rec ir.ActivationRecord, group string) (*Activation, error)
}

// RecordResolver rebuilds activations from the record alone. Used when no
// rulebase is available, e.g. by inspection tools.
type RecordResolver struct{}

// ResolveActivation implements ActivationResolver.
func (RecordResolver) ResolveActivation(rec ir.ActivationRecord, group string) (*Activation, error) {
	return NewActivationFromRecord(rec, group), nil
}

// Capture records the full scheduling state of ag without disturbing it.
//
// CRITICAL: The writer must be quiescent. Capture reads queues directly.
//
// Returns an error if an action without a persistent form is pending; run
// ExecuteActions first.
func Capture(ag *Agenda) (ir.AgendaSnapshot, error) {
	pending := ag.actions.Pending()
	actions := make([]ir.ActionRecord, 0, len(pending))
	for _, a := range pending {
		pa, ok := a.(PersistentAction)
		if !ok {
			return ir.AgendaSnapshot{}, fmt.Errorf("capture: pending %s action cannot be persisted", a.Kind())
		}
		actions = append(actions, pa.Record())
	}

	groups := ag.Groups()
	records := make([]ir.GroupRecord, len(groups))
	for i, g := range groups {
		records[i] = g.Record()
	}

	snap := ir.AgendaSnapshot{
		ID:       ag.idGen.Generate(),
		Version:  ir.SnapshotVersion,
		Clock:    ag.clock.Current(),
		Resolver: ag.resolver.String(),
		Focus:    ag.FocusStack(),
		Groups:   records,
		Actions:  actions,
	}

	digest, err := ir.SnapshotDigest(&snap)
	if err != nil {
		return ir.AgendaSnapshot{}, fmt.Errorf("capture: %w", err)
	}
	snap.Digest = digest

	ag.logger.Debug("agenda captured",
		"snapshot_id", snap.ID,
		"clock", snap.Clock,
		"groups", len(records),
		"actions", len(actions),
	)
	return snap, nil
}

// Restore rebuilds an agenda from a snapshot.
//
// Every group gets its exact saved flags, watermarks and associations. The
// clock resumes at the saved value. Activations are re-enqueued with their
// saved stamps, so relative order is unchanged. Pending actions are resolved
// against the rebuilt registry by group name.
//
// Options configure the ambient concerns (logger, metrics, firer). The
// clock, resolver and main group always come from the snapshot.
func Restore(snap ir.AgendaSnapshot, resolver ActivationResolver, opts ...AgendaOption) (*Agenda, error) {
	if snap.Version != ir.SnapshotVersion {
		return nil, fmt.Errorf("restore: unsupported snapshot version %q (want %q)", snap.Version, ir.SnapshotVersion)
	}
	if len(snap.Focus) == 0 {
		return nil, fmt.Errorf("restore: snapshot %s has an empty focus stack", snap.ID)
	}
	cr, err := ParseConflictResolver(snap.Resolver)
	if err != nil {
		return nil, fmt.Errorf("restore: %w", err)
	}

	opts = append(slices.Clone(opts),
		WithConflictResolver(cr),
		WithClock(NewClockAt(snap.Clock)),
		WithMainGroup(snap.Focus[0]),
	)
	ag := New(opts...)

	for _, rec := range snap.Groups {
		if err := restoreGroup(ag, rec, resolver); err != nil {
			return nil, fmt.Errorf("restore: %w", err)
		}
	}

	focus := make([]*AgendaGroup, len(snap.Focus))
	for i, name := range snap.Focus {
		g, err := ag.ResolveGroup(name)
		if err != nil {
			return nil, fmt.Errorf("restore focus: %w", err)
		}
		focus[i] = g
	}
	ag.focus = focus

	for _, rec := range snap.Actions {
		action, err := RestoreAction(rec, ag)
		if err != nil {
			return nil, fmt.Errorf("restore: %w", err)
		}
		ag.actions.Enqueue(action)
	}

	ag.logger.Debug("agenda restored",
		"snapshot_id", snap.ID,
		"clock", snap.Clock,
		"groups", len(snap.Groups),
		"actions", len(snap.Actions),
	)
	return ag, nil
}

func restoreGroup(ag *Agenda, rec ir.GroupRecord, resolver ActivationResolver) error {
	g := ag.groupFor(rec.Name)
	g.clearedForRecency = rec.ClearedForRecency

	for _, ar := range rec.Activations {
		a, err := resolver.ResolveActivation(ar, g.name)
		if err != nil {
			return fmt.Errorf("group %s: activation %s: %w", g.name, ar.ID, err)
		}
		a.recency = ar.Recency
		if !g.AddStamped(a) {
			return fmt.Errorf("group %s: activation %s: recency %d is not after cleared_for_recency %d",
				g.name, ar.ID, ar.Recency, rec.ClearedForRecency)
		}
	}

	g.SetActive(rec.Active)
	g.autoDeactivate = rec.AutoDeactivate
	g.activatedForRecency = rec.ActivatedForRecency

	assocs := make(map[int64]string, len(rec.ProcessAssociations))
	for _, pa := range rec.ProcessAssociations {
		assocs[pa.ProcessID] = pa.NodeInstanceID
	}
	g.nodeInstances = assocs
	return nil
}
