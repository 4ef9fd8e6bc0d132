// Package harness runs YAML conformance scenarios against the agenda.
//
// A scenario declares rules (a CUE rulebase or inline declarations), drives
// one agenda through a list of steps and asserts on the recorded trace and
// the final group state. Traces can be compared against golden files.
//
// # Scenario Format
//
//	name: focus_order
//	description: "Auto-focus group fires before main"
//	rulebase: rules/orders.cue      # or inline:
//	rules:
//	  - name: audit
//	    salience: 5
//	    agenda_group: audit
//	    auto_focus: true
//	resolver: salience              # optional override
//	steps:
//	  - op: add
//	    rule: audit
//	  - op: fire
//	    expect:
//	      fired: 1
//	  - op: cancel
//	    id: act-1
//	    expect:
//	      error: NOT_QUEUED
//	assertions:
//	  - type: fired_order
//	    rules: [audit]
//	  - type: group_state
//	    group: audit
//	    active: false
//	    size: 0
//	  - type: trace_count
//	    event: fired
//	    count: 1
//	  - type: focus_stack
//	    focus: [MAIN]
//
// # Steps
//
//   - add: activate a rule; ID generated as act-N when omitted
//   - cancel: cancel an activation by ID
//   - fire: fire until empty, or up to limit
//   - clear, clear_and_cancel: bulk-clear a group
//   - focus: push a group onto the focus stack
//   - activate_ruleflow, deactivate_ruleflow: drive a rule-flow group
//   - associate, dissociate: manage process associations
//   - execute_actions: run pending deferred actions
//   - roundtrip: capture, save to in-memory SQLite, load and restore
//
// # Determinism
//
// Activation IDs come from testutil.SequentialIDs ("act-1", "act-2", ...)
// and snapshot IDs likewise ("snap-1", ...). The recency clock starts at 0
// for every run, so identical scenarios produce byte-identical traces.
//
// # Golden Files
//
// RunWithGolden writes the trace as canonical JSON (ir.MarshalCanonical) and
// compares it against testdata/golden/<name>.golden. Regenerate with:
//
//	go test ./internal/harness -update
package harness
