package harness

// Trace event types.
const (
	EventAdded      = "added"
	EventCancelled  = "cancelled"
	EventFired      = "fired"
	EventCleared    = "cleared"
	EventFocus      = "focus"
	EventRuleFlow   = "ruleflow"
	EventAssociated = "associated"
	EventActions    = "actions"
	EventRestored   = "restored"
)

// TraceEvent records one observable agenda change during a scenario.
// Zero-valued optional fields are left out of golden traces.
type TraceEvent struct {
	Step         int    `json:"step"` // Index into Scenario.Steps
	Type         string `json:"type"`
	Group        string `json:"group,omitempty"`
	ActivationID string `json:"activation_id,omitempty"`
	Rule         string `json:"rule,omitempty"`
	Recency      int64  `json:"recency,omitempty"`
	Count        int    `json:"count,omitempty"`
	Detail       string `json:"detail,omitempty"`
}

// GroupState is the final state of one agenda group.
type GroupState struct {
	Name              string `json:"name"`
	Active            bool   `json:"active"`
	AutoDeactivate    bool   `json:"auto_deactivate"`
	Size              int    `json:"size"`
	ClearedForRecency int64  `json:"cleared_for_recency"`
	Associations      int    `json:"associations"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if no step failed unexpectedly and all assertions hold.
	Pass bool `json:"pass"`

	// Trace contains every agenda event in the order it happened.
	Trace []TraceEvent `json:"trace"`

	// Errors contains step and assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Groups holds the final state of every registered group by name.
	Groups map[string]GroupState `json:"groups,omitempty"`

	// Focus is the final focus stack, bottom first.
	Focus []string `json:"focus"`

	// Snapshots lists the IDs of snapshots taken by roundtrip steps.
	Snapshots []string `json:"snapshots,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		Groups: make(map[string]GroupState),
		Focus:  []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Fired returns the fired events in order.
func (r *Result) Fired() []TraceEvent {
	var out []TraceEvent
	for _, e := range r.Trace {
		if e.Type == EventFired {
			out = append(out, e)
		}
	}
	return out
}

func (r *Result) addTrace(e TraceEvent) {
	r.Trace = append(r.Trace, e)
}
