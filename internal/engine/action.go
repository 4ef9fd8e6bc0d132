package engine

import (
	"context"
	"sync"

	"github.com/roach88/agenda/internal/ir"
)

// Action is a deferred unit of work executed by the agenda's single writer.
//
// Actions are plain command values passed through the agenda's action queue.
// They are how work decided "later, after the current propagation settles"
// is expressed, and how goroutines other than the writer hand work to it.
//
// Delivery is at-least-once: Execute must tolerate being called again with
// an identical outcome.
type Action interface {
	// Kind names the action type for logging and metrics.
	Kind() string

	// Execute performs the action. Called only from the writer.
	Execute(ctx context.Context, ag *Agenda) error
}

// PersistentAction is an Action that survives a snapshot round-trip.
type PersistentAction interface {
	Action
	Record() ir.ActionRecord
}

// AddActivationAction admits an activation to the agenda.
// Used by matchers running outside the writer goroutine.
type AddActivationAction struct {
	Activation *Activation
}

// Kind implements Action.
func (AddActivationAction) Kind() string { return "add_activation" }

// Execute implements Action.
func (a AddActivationAction) Execute(_ context.Context, ag *Agenda) error {
	ag.AddActivation(a.Activation)
	return nil
}

// CancelActivationAction cancels a pending activation.
// Executing it again after the activation is gone is a no-op.
type CancelActivationAction struct {
	Activation *Activation
}

// Kind implements Action.
func (CancelActivationAction) Kind() string { return "cancel_activation" }

// Execute implements Action.
func (a CancelActivationAction) Execute(_ context.Context, ag *Agenda) error {
	if !a.Activation.IsQueued() {
		return nil
	}
	return ag.CancelActivation(a.Activation)
}

// actionQueue is a thread-safe FIFO queue of deferred actions.
//
// The queue is unbounded so that a firing consequence can schedule any
// number of follow-up actions without blocking the writer.
//
// Thread-safety is provided for external enqueuing while the agenda's
// writer dequeues. The signal channel enables context-aware waiting in Run.
type actionQueue struct {
	mu      sync.Mutex
	actions []Action
	closed  bool
	signal  chan struct{} // Signals action availability (buffered, size 1)
}

func newActionQueue() *actionQueue {
	return &actionQueue{
		actions: make([]Action, 0, 16),
		signal:  make(chan struct{}, 1),
	}
}

// Enqueue adds an action to the back of the queue.
// Thread-safe: may be called from any goroutine.
// Returns false if the queue is closed.
func (q *actionQueue) Enqueue(a Action) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.actions = append(q.actions, a)

	// Non-blocking: buffer of 1 coalesces multiple signals
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes the front action without blocking.
// Returns (nil, false) if the queue is empty. Actions queued before Close
// remain dequeueable after it.
func (q *actionQueue) TryDequeue() (Action, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.actions) == 0 {
		return nil, false
	}

	a := q.actions[0]

	// Nil out the slot so the backing array does not retain the action.
	q.actions[0] = nil

	if len(q.actions) == 1 {
		q.actions = q.actions[:0]
	} else {
		q.actions = q.actions[1:]
	}

	return a, true
}

// Pending returns a copy of the queued actions in FIFO order.
func (q *actionQueue) Pending() []Action {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Action, len(q.actions))
	copy(out, q.actions)
	return out
}

// Wait returns a channel that signals when actions may be available.
func (q *actionQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *actionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.actions)
}

// Close rejects further enqueues and wakes any waiter.
func (q *actionQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}

// Closed reports whether Close has been called.
func (q *actionQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
