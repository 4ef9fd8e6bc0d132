package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	// Header with assertion type
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)

	// Expected vs Actual (most important info)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] step %d %s", i+1, event.Step, event.Type)
			if event.Group != "" {
				fmt.Fprintf(&buf, " group=%s", event.Group)
			}
			if event.ActivationID != "" {
				fmt.Fprintf(&buf, " activation=%s rule=%s", event.ActivationID, event.Rule)
			}
			buf.WriteByte('\n')
		}
	}

	return buf.String()
}

// AssertionContext carries what assertions need beyond the result.
type AssertionContext struct {
	Ctx context.Context
}

// assertFiredOrder checks that the fired events match the expected rules
// or activation IDs exactly, in order.
func assertFiredOrder(result *Result, assertion Assertion) error {
	fired := result.Fired()

	check := func(want []string, field func(TraceEvent) string, what string) error {
		got := make([]string, len(fired))
		for i, e := range fired {
			got[i] = field(e)
		}
		if slices.Equal(got, want) {
			return nil
		}
		return &AssertionError{
			Type:     AssertFiredOrder,
			Expected: fmt.Sprintf("%s fired in order %v", what, want),
			Actual:   fmt.Sprintf("%v", got),
			Trace:    result.Trace,
		}
	}

	if assertion.Rules != nil {
		if err := check(assertion.Rules, func(e TraceEvent) string { return e.Rule }, "rules"); err != nil {
			return err
		}
	}
	if assertion.Activations != nil {
		if err := check(assertion.Activations, func(e TraceEvent) string { return e.ActivationID }, "activations"); err != nil {
			return err
		}
	}
	return nil
}

// assertGroupState checks the final flags and size of a group.
// Only the fields set on the assertion are compared.
func assertGroupState(result *Result, assertion Assertion) error {
	state, ok := result.Groups[assertion.Group]
	if !ok {
		return &AssertionError{
			Type:     AssertGroupState,
			Expected: fmt.Sprintf("group %s registered", assertion.Group),
			Actual:   "group not found",
		}
	}

	var mismatches []string
	if assertion.Active != nil && *assertion.Active != state.Active {
		mismatches = append(mismatches, fmt.Sprintf("active=%t (want %t)", state.Active, *assertion.Active))
	}
	if assertion.AutoDeactivate != nil && *assertion.AutoDeactivate != state.AutoDeactivate {
		mismatches = append(mismatches, fmt.Sprintf("auto_deactivate=%t (want %t)", state.AutoDeactivate, *assertion.AutoDeactivate))
	}
	if assertion.Size != nil && *assertion.Size != state.Size {
		mismatches = append(mismatches, fmt.Sprintf("size=%d (want %d)", state.Size, *assertion.Size))
	}

	if len(mismatches) > 0 {
		return &AssertionError{
			Type:     AssertGroupState,
			Expected: fmt.Sprintf("group %s state", assertion.Group),
			Actual:   strings.Join(mismatches, ", "),
		}
	}
	return nil
}

// assertTraceCount checks that events of the given type, optionally
// restricted to one group, appear exactly the specified number of times.
func assertTraceCount(result *Result, assertion Assertion) error {
	count := 0
	for _, event := range result.Trace {
		if event.Type != assertion.Event {
			continue
		}
		if assertion.Group != "" && event.Group != assertion.Group {
			continue
		}
		count++
	}

	if count != assertion.Count {
		expected := fmt.Sprintf("%d %s events", assertion.Count, assertion.Event)
		if assertion.Group != "" {
			expected += " in group " + assertion.Group
		}
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: expected,
			Actual:   fmt.Sprintf("%d events", count),
			Trace:    result.Trace,
		}
	}

	return nil
}

// assertFocusStack checks the final focus stack exactly, bottom first.
func assertFocusStack(result *Result, assertion Assertion) error {
	if slices.Equal(result.Focus, assertion.Focus) {
		return nil
	}
	return &AssertionError{
		Type:     AssertFocusStack,
		Expected: fmt.Sprintf("%v", assertion.Focus),
		Actual:   fmt.Sprintf("%v", result.Focus),
	}
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		if actx != nil && actx.Ctx != nil && actx.Ctx.Err() != nil {
			errors = append(errors, fmt.Sprintf("assertion[%d]: %v", i, actx.Ctx.Err()))
			break
		}

		var err error
		switch assertion.Type {
		case AssertFiredOrder:
			err = assertFiredOrder(result, assertion)
		case AssertGroupState:
			err = assertGroupState(result, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result, assertion)
		case AssertFocusStack:
			err = assertFocusStack(result, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
