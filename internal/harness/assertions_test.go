package harness

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleResult() *Result {
	r := NewResult()
	r.Trace = []TraceEvent{
		{Step: 0, Type: EventAdded, Group: "MAIN", ActivationID: "a1", Rule: "low", Recency: 1},
		{Step: 1, Type: EventAdded, Group: "audit", ActivationID: "a2", Rule: "check", Recency: 2},
		{Step: 2, Type: EventFired, Group: "audit", ActivationID: "a2", Rule: "check", Recency: 2},
		{Step: 2, Type: EventFired, Group: "MAIN", ActivationID: "a1", Rule: "low", Recency: 1},
	}
	r.Groups["MAIN"] = GroupState{Name: "MAIN", Active: false, AutoDeactivate: true}
	r.Groups["audit"] = GroupState{Name: "audit", Active: true, AutoDeactivate: false, Size: 2}
	r.Focus = []string{"MAIN", "audit"}
	return r
}

func TestAssertFiredOrder(t *testing.T) {
	r := sampleResult()

	assert.NoError(t, assertFiredOrder(r, Assertion{Rules: []string{"check", "low"}}))
	assert.NoError(t, assertFiredOrder(r, Assertion{Activations: []string{"a2", "a1"}}))
	assert.NoError(t, assertFiredOrder(r, Assertion{Rules: []string{"check", "low"}, Activations: []string{"a2", "a1"}}))

	err := assertFiredOrder(r, Assertion{Rules: []string{"low", "check"}})
	require.Error(t, err)
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, AssertFiredOrder, ae.Type)
	assert.Equal(t, "[check low]", ae.Actual)

	assert.Error(t, assertFiredOrder(r, Assertion{Rules: []string{"check"}}), "order must match exactly, not as a prefix")
	assert.Error(t, assertFiredOrder(r, Assertion{Activations: []string{}}))
}

func TestAssertGroupState(t *testing.T) {
	r := sampleResult()

	assert.NoError(t, assertGroupState(r, Assertion{Group: "audit", Active: boolPtr(true), Size: intPtr(2)}))
	assert.NoError(t, assertGroupState(r, Assertion{Group: "MAIN", AutoDeactivate: boolPtr(true)}))

	err := assertGroupState(r, Assertion{Group: "audit", Active: boolPtr(false), Size: intPtr(0)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "active=true (want false)")
	assert.Contains(t, err.Error(), "size=2 (want 0)")

	err = assertGroupState(r, Assertion{Group: "ghost", Size: intPtr(0)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "group not found")
}

func TestAssertTraceCount(t *testing.T) {
	r := sampleResult()

	assert.NoError(t, assertTraceCount(r, Assertion{Event: EventFired, Count: 2}))
	assert.NoError(t, assertTraceCount(r, Assertion{Event: EventFired, Group: "audit", Count: 1}))
	assert.NoError(t, assertTraceCount(r, Assertion{Event: EventCancelled, Count: 0}))

	err := assertTraceCount(r, Assertion{Event: EventAdded, Group: "MAIN", Count: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "3 added events in group MAIN")
	assert.Contains(t, err.Error(), "1 events")
}

func TestAssertFocusStack(t *testing.T) {
	r := sampleResult()

	assert.NoError(t, assertFocusStack(r, Assertion{Focus: []string{"MAIN", "audit"}}))
	assert.Error(t, assertFocusStack(r, Assertion{Focus: []string{"MAIN"}}))
}

func TestAssertionError_IncludesTrace(t *testing.T) {
	err := &AssertionError{
		Type:     AssertFiredOrder,
		Expected: "rules fired in order [a]",
		Actual:   "[b]",
		Trace:    sampleResult().Trace,
	}

	msg := err.Error()
	assert.True(t, strings.HasPrefix(msg, "Assertion failed: fired_order\n"))
	assert.Contains(t, msg, "Expected: rules fired in order [a]")
	assert.Contains(t, msg, "[3] step 2 fired group=audit activation=a2 rule=check")
}

func TestEvaluateAssertions(t *testing.T) {
	r := sampleResult()

	errs := EvaluateAssertions(r, []Assertion{
		{Type: AssertFiredOrder, Rules: []string{"check", "low"}},
		{Type: AssertTraceCount, Event: EventFired, Count: 1},
		{Type: "bogus"},
	}, &AssertionContext{Ctx: context.Background()})

	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "trace_count")
	assert.Contains(t, errs[1], `unknown assertion type "bogus"`)
}

func TestEvaluateAssertions_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	errs := EvaluateAssertions(sampleResult(), []Assertion{
		{Type: AssertFocusStack, Focus: []string{"MAIN", "audit"}},
	}, &AssertionContext{Ctx: ctx})

	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "context canceled")
}
