package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/agenda/internal/ir"
)

// buildPopulatedAgenda returns an agenda with three activations of distinct
// salience in "audit", an empty "idle" group with associations, a cleared
// watermark and a pending deactivation.
func buildPopulatedAgenda(t *testing.T) *Agenda {
	t.Helper()
	ag := newTestAgenda(t, WithConflictResolver(ResolverSalience))

	ag.AddActivation(NewActivation("stale", groupRule("r0", "audit", 1)))
	_, err := ag.ClearAndCancelGroup("audit")
	require.NoError(t, err)

	ag.AddActivation(NewActivation("mid", groupRule("r1", "audit", 5)))
	ag.AddActivation(NewActivation("high", groupRule("r2", "audit", 10)))
	ag.AddActivation(NewActivation("low", groupRule("r3", "audit", 1)))
	_, err = ag.SetFocus("audit")
	require.NoError(t, err)

	idle, err := ag.CreateGroup("idle")
	require.NoError(t, err)
	idle.AddProcessAssociation(42, "node-7")
	idle.AddProcessAssociation(7, "node-1")
	idle.SetAutoDeactivate(false)
	require.True(t, ag.QueueAction(NewDeactivateCallback(idle)))

	return ag
}

func TestCapture(t *testing.T) {
	ag := buildPopulatedAgenda(t)

	snap, err := Capture(ag)
	require.NoError(t, err)

	assert.Equal(t, "snap-1", snap.ID)
	assert.Equal(t, ir.SnapshotVersion, snap.Version)
	assert.Equal(t, ag.Clock().Current(), snap.Clock)
	assert.Equal(t, "salience", snap.Resolver)
	assert.Equal(t, []string{MainGroup, "audit"}, snap.Focus)
	assert.Equal(t, []ir.ActionRecord{{Type: ir.ActionTypeDeactivateCallback, Group: "idle"}}, snap.Actions)
	assert.Equal(t, ir.MustSnapshotDigest(&snap), snap.Digest)

	audit, ok := snap.Group("audit")
	require.True(t, ok)
	require.Len(t, audit.Activations, 3)
	assert.Equal(t, "high", audit.Activations[0].ID)
	assert.Equal(t, "mid", audit.Activations[1].ID)
	assert.Equal(t, "low", audit.Activations[2].ID)
	assert.Equal(t, int64(1), audit.ClearedForRecency)

	audited, _ := ag.Group("audit")
	assert.Equal(t, 3, audited.Size(), "capture is non-destructive")
	assert.Equal(t, 1, ag.PendingActions())
}

func TestCapture_RejectsTransientActions(t *testing.T) {
	ag := newTestAgenda(t)
	ag.QueueAction(AddActivationAction{Activation: NewActivation("a", testRule("r", 1, 0))})

	_, err := Capture(ag)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "add_activation")
}

func TestSnapshot_RoundTrip(t *testing.T) {
	ag := buildPopulatedAgenda(t)
	before, err := Capture(ag)
	require.NoError(t, err)

	restored, err := Restore(before, RecordResolver{},
		WithLogger(quietLogger()),
		WithIDGenerator(NewFixedGenerator("snap-r")),
	)
	require.NoError(t, err)

	after, err := Capture(restored)
	require.NoError(t, err)

	assert.Equal(t, before.Digest, after.Digest, "restored agenda captures identically")
	assert.Equal(t, before.Groups, after.Groups)
	assert.Equal(t, before.Focus, after.Focus)
	assert.Equal(t, before.Clock, restored.Clock().Current())
	assert.Equal(t, ResolverSalience, restored.Resolver())

	for _, name := range []string{"audit", "idle"} {
		orig, _ := ag.Group(name)
		got, ok := restored.Group(name)
		require.True(t, ok)
		assert.Equal(t, orig.Name(), got.Name())
		assert.Equal(t, orig.IsActive(), got.IsActive())
		assert.Equal(t, orig.AutoDeactivate(), got.AutoDeactivate())
		assert.Equal(t, orig.ActivatedForRecency(), got.ActivatedForRecency())
		assert.Equal(t, orig.ClearedForRecency(), got.ClearedForRecency())
		assert.Equal(t, orig.ProcessAssociations(), got.ProcessAssociations())
	}

	audit, _ := restored.Group("audit")
	assert.Equal(t, []string{"high", "mid", "low"}, drainIDs(audit), "relative firing order survives")

	idle, _ := restored.Group("idle")
	assert.True(t, idle.IsEmpty())
	assert.Equal(t, 1, restored.PendingActions())
}

func TestSnapshot_RestoredClockContinues(t *testing.T) {
	ag := buildPopulatedAgenda(t)
	snap, err := Capture(ag)
	require.NoError(t, err)

	restored, err := Restore(snap, RecordResolver{}, WithLogger(quietLogger()))
	require.NoError(t, err)

	a := NewActivation("new", groupRule("r", "audit", 100))
	restored.AddActivation(a)
	assert.Equal(t, snap.Clock+1, a.Recency())
}

func TestSnapshot_RestoredActionsExecute(t *testing.T) {
	ag := newTestAgenda(t)
	ag.AddActivation(NewActivation("a", groupRule("r", "audit", 1)))
	_, err := ag.SetFocus("audit")
	require.NoError(t, err)
	_, err = ag.FireNext(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, ag.PendingActions())

	snap, err := Capture(ag)
	require.NoError(t, err)

	restored, err := Restore(snap, RecordResolver{}, WithLogger(quietLogger()))
	require.NoError(t, err)
	audit, _ := restored.Group("audit")
	require.True(t, audit.IsActive())

	require.NoError(t, restored.ExecuteActions(context.Background()))
	assert.False(t, audit.IsActive())
}

func TestRestore_UnresolvableAction(t *testing.T) {
	snap := ir.AgendaSnapshot{
		ID:       "s",
		Version:  ir.SnapshotVersion,
		Resolver: "default",
		Focus:    []string{MainGroup},
		Groups:   []ir.GroupRecord{{Name: MainGroup, Active: true, AutoDeactivate: true, ClearedForRecency: -1}},
		Actions:  []ir.ActionRecord{{Type: ir.ActionTypeDeactivateCallback, Group: "ghost"}},
	}

	_, err := Restore(snap, RecordResolver{}, WithLogger(quietLogger()))
	require.Error(t, err)
	assert.True(t, IsUnresolvable(err))
}

func TestRestore_InvalidSnapshots(t *testing.T) {
	base := ir.AgendaSnapshot{
		ID:       "s",
		Version:  ir.SnapshotVersion,
		Resolver: "default",
		Focus:    []string{MainGroup},
	}

	wrongVersion := base
	wrongVersion.Version = "99"
	_, err := Restore(wrongVersion, RecordResolver{})
	assert.ErrorContains(t, err, "unsupported snapshot version")

	noFocus := base
	noFocus.Focus = nil
	_, err = Restore(noFocus, RecordResolver{})
	assert.ErrorContains(t, err, "empty focus stack")

	badResolver := base
	badResolver.Resolver = "random"
	_, err = Restore(badResolver, RecordResolver{})
	var re *RuntimeError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ErrCodeInvalidConfig, re.Code)

	missingFocus := base
	missingFocus.Focus = []string{MainGroup, "ghost"}
	_, err = Restore(missingFocus, RecordResolver{})
	assert.True(t, IsUnresolvable(err))
}

func TestRestore_StaleActivationRejected(t *testing.T) {
	snap := ir.AgendaSnapshot{
		ID:       "s",
		Version:  ir.SnapshotVersion,
		Clock:    10,
		Resolver: "default",
		Focus:    []string{MainGroup},
		Groups: []ir.GroupRecord{{
			Name:              MainGroup,
			Active:            true,
			ClearedForRecency: 5,
			Activations:       []ir.ActivationRecord{{ID: "old", Rule: "r", Recency: 3}},
		}},
	}

	_, err := Restore(snap, RecordResolver{}, WithLogger(quietLogger()))
	assert.ErrorContains(t, err, "cleared_for_recency")
}

type failingResolver struct{}

func (failingResolver) ResolveActivation(ir.ActivationRecord, string) (*Activation, error) {
	return nil, errors.New("unknown rule")
}

func TestRestore_ResolverError(t *testing.T) {
	ag := buildPopulatedAgenda(t)
	snap, err := Capture(ag)
	require.NoError(t, err)

	_, err = Restore(snap, failingResolver{}, WithLogger(quietLogger()))
	assert.ErrorContains(t, err, "unknown rule")
}
