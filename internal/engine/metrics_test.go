package engine

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_AgendaLifecycle(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	ag := newTestAgenda(t, WithMetrics(m))

	a := NewActivation("a", testRule("r", 1, 0))
	b := NewActivation("b", testRule("r", 2, 0))
	c := NewActivation("c", groupRule("r", "audit", 1))
	ag.AddActivation(a)
	ag.AddActivation(b)
	ag.AddActivation(c)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.added.WithLabelValues(MainGroup)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.depth.WithLabelValues(MainGroup)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.added.WithLabelValues("audit")))

	require.NoError(t, ag.CancelActivation(a))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cancelled.WithLabelValues(MainGroup)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.depth.WithLabelValues(MainGroup)))

	_, err := ag.FireAll(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fired.WithLabelValues(MainGroup)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.depth.WithLabelValues(MainGroup)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.actions.WithLabelValues("deactivate_callback")))

	_, err = ag.ClearAndCancelGroup("audit")
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.clears.WithLabelValues("audit")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.depth.WithLabelValues("audit")))
}

func TestMetrics_StaleDiscarded(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	ag := newTestAgenda(t, WithMetrics(m))

	a := NewActivation("a", testRule("r", 1, 0))
	ag.AddActivation(a)
	require.NoError(t, ag.ClearGroup(MainGroup))

	assert.False(t, ag.Main().AddStamped(a))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stale.WithLabelValues(MainGroup)))
}

func TestMetrics_Registered(t *testing.T) {
	registry := prometheus.NewRegistry()
	NewMetrics(registry)

	// Vec collectors only report once a label set is used.
	count, err := testutil.GatherAndCount(registry)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	assert.Panics(t, func() { NewMetrics(registry) }, "duplicate registration must fail loudly")
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.activationAdded("g", 1)
		m.activationCancelled("g", 0)
		m.activationFired("g")
		m.staleDiscarded("g")
		m.groupCleared("g")
		m.queueDepth("g", 0)
		m.actionExecuted("x")
	})
}
