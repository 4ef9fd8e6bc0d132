// Package rulebase compiles rule declarations written in CUE.
//
// A rulebase declares, for every rule, the attributes the agenda schedules
// by: salience, agenda group and auto-focus. Declaration order becomes the
// rule's sequence number, which the default and sequential conflict
// resolvers use as a tie-break.
//
// Example:
//
//	config: resolver: "default"
//
//	rule: {
//		"big-order": {salience: 10}
//		"audit": {salience: 5, agenda_group: "audit", auto_focus: true}
//	}
//
// A Rulebase also resolves persisted activations back to live handles, so
// a snapshot restored against a rulebase rejects rules that no longer exist.
package rulebase
