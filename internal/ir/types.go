package ir

// Rule is a compiled rule declaration as seen by the agenda.
//
// Only the attributes that influence scheduling are carried here; the rule's
// conditions and consequence belong to the matching collaborator.
type Rule struct {
	Name        string `json:"name"`
	Salience    int64  `json:"salience"`
	Sequence    int64  `json:"sequence"` // Declaration order, 0-based
	AgendaGroup string `json:"agenda_group,omitempty"`
	AutoFocus   bool   `json:"auto_focus,omitempty"`
}

// ActivationRecord is the persisted form of one queued activation.
// Recency is the stamp assigned when the activation was admitted; restore
// re-enqueues with this stamp rather than a fresh one.
type ActivationRecord struct {
	ID       string `json:"id"`
	Rule     string `json:"rule"`
	Salience int64  `json:"salience"`
	Sequence int64  `json:"sequence"`
	Recency  int64  `json:"recency"`
}

// ProcessAssociation links a process instance to the node instance that
// activated a rule-flow group.
type ProcessAssociation struct {
	ProcessID      int64  `json:"process_id"`
	NodeInstanceID string `json:"node_instance_id"`
}

// GroupRecord is the persisted form of one agenda group.
type GroupRecord struct {
	Name                string               `json:"name"`
	Active              bool                 `json:"active"`
	AutoDeactivate      bool                 `json:"auto_deactivate"`
	ActivatedForRecency int64                `json:"activated_for_recency"`
	ClearedForRecency   int64                `json:"cleared_for_recency"`
	ProcessAssociations []ProcessAssociation `json:"process_associations"` // Sorted by ProcessID
	Activations         []ActivationRecord   `json:"activations"`          // Firing order
}

// Action record types.
const (
	// ActionTypeDeactivateCallback identifies a deferred group deactivation.
	ActionTypeDeactivateCallback = "deactivate_callback"
)

// ActionRecord is the persisted form of a pending deferred action.
// Only the group name is carried; restore resolves it against the live registry.
type ActionRecord struct {
	Type  string `json:"type"`
	Group string `json:"group"`
}

// AgendaSnapshot is the complete persisted state of an agenda.
type AgendaSnapshot struct {
	ID       string         `json:"id"`
	Version  string         `json:"version"`
	Clock    int64          `json:"clock"`    // Recency clock value at capture
	Resolver string         `json:"resolver"` // Conflict resolver name
	Focus    []string       `json:"focus"`    // Focus stack, bottom first
	Groups   []GroupRecord  `json:"groups"`   // Sorted by name
	Actions  []ActionRecord `json:"actions"`  // Pending actions, FIFO order
	Digest   string         `json:"digest,omitempty"`
}

// Group returns the record for the named group.
func (s *AgendaSnapshot) Group(name string) (GroupRecord, bool) {
	for _, g := range s.Groups {
		if g.Name == name {
			return g, true
		}
	}
	return GroupRecord{}, false
}

// CanonicalMap converts the snapshot content to a map for canonical JSON.
//
// ID and Digest are excluded: the digest identifies agenda content, so two
// captures of the same state share a digest regardless of snapshot ID.
func (s *AgendaSnapshot) CanonicalMap() map[string]any {
	focus := make([]any, len(s.Focus))
	for i, name := range s.Focus {
		focus[i] = name
	}

	groups := make([]any, len(s.Groups))
	for i, g := range s.Groups {
		assocs := make([]any, len(g.ProcessAssociations))
		for j, pa := range g.ProcessAssociations {
			assocs[j] = map[string]any{
				"process_id":       pa.ProcessID,
				"node_instance_id": pa.NodeInstanceID,
			}
		}
		acts := make([]any, len(g.Activations))
		for j, a := range g.Activations {
			acts[j] = map[string]any{
				"id":       a.ID,
				"rule":     a.Rule,
				"salience": a.Salience,
				"sequence": a.Sequence,
				"recency":  a.Recency,
			}
		}
		groups[i] = map[string]any{
			"name":                  g.Name,
			"active":                g.Active,
			"auto_deactivate":       g.AutoDeactivate,
			"activated_for_recency": g.ActivatedForRecency,
			"cleared_for_recency":   g.ClearedForRecency,
			"process_associations":  assocs,
			"activations":           acts,
		}
	}

	actions := make([]any, len(s.Actions))
	for i, a := range s.Actions {
		actions[i] = map[string]any{
			"type":  a.Type,
			"group": a.Group,
		}
	}

	return map[string]any{
		"version":  s.Version,
		"clock":    s.Clock,
		"resolver": s.Resolver,
		"focus":    focus,
		"groups":   groups,
		"actions":  actions,
	}
}
