// Package engine implements the agenda of a forward-chaining rule engine.
//
// The agenda decides which pending rule activation fires next. Matching
// produces activations; the agenda queues them per agenda group, orders
// each queue by a conflict resolver and hands the winner to a RuleFirer.
//
// ARCHITECTURE:
//
// Single-Writer Scheduling:
// All queue mutation happens on one writer goroutine, so no locks guard the
// heaps. Other goroutines talk to the writer through the action queue
// (QueueAction) and may read group flags and sizes, which are published
// atomically.
//
// Firing Flow:
// 1. Activations are stamped from the agenda clock and queued in their group
// 2. FireNext executes pending deferred actions
// 3. The group on top of the focus stack yields its next non-stale activation
// 4. The RuleFirer runs the consequence
// 5. A group left empty schedules a DeactivateCallback for after propagation
//
// CRITICAL PATTERNS:
//
// Indexed Heap:
// Every queued activation records its heap slot, so cancellation is
// O(log n). The recorded slot is kept exact on every swap.
//
// Recency Watermarks:
// Stamps come from a strictly increasing clock. A clear records the clock
// value; any activation stamped at or before it is stale and never fires.
//
// Deterministic Ordering:
// Every resolver is a total order ending at the activation ID. Snapshots
// list groups by name and activations in firing order.
package engine
