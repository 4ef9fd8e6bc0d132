package engine

import (
	"container/heap"
	"fmt"
	"sync/atomic"
)

// activationHeap is a slice of *Activation that satisfies heap.Interface.
// The activation that fires first sits at index 0.
//
// Swap, Push and Pop keep every element's queueIndex equal to its slot, which
// is what makes O(log n) cancellation via heap.Remove possible.
type activationHeap struct {
	items    []*Activation
	resolver ConflictResolver
}

func (h *activationHeap) Len() int { return len(h.items) }

func (h *activationHeap) Less(i, j int) bool {
	return h.resolver.Precedes(h.items[i], h.items[j])
}

func (h *activationHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].queueIndex = i
	h.items[j].queueIndex = j
}

func (h *activationHeap) Push(x any) {
	a := x.(*Activation)
	a.queueIndex = len(h.items)
	h.items = append(h.items, a)
}

func (h *activationHeap) Pop() any {
	n := len(h.items)
	a := h.items[n-1]
	h.items[n-1] = nil // allow GC
	a.queueIndex = NotQueued
	h.items = h.items[:n-1]
	return a
}

// ActivationQueue is an indexed binary heap of activations ordered by a
// ConflictResolver.
//
// Complexity:
//   - Enqueue, Dequeue, DequeueAt: O(log n)
//   - Peek, Len, IsEmpty: O(1)
//   - Clear, GetAndClear, Activations: O(n)
//
// CRITICAL: ActivationQueue is NOT safe for concurrent mutation. All mutating
// calls must come from the agenda's single writer. Len and IsEmpty may be
// read from any goroutine; they observe an atomically published size that
// may be momentarily stale.
type ActivationQueue struct {
	h    activationHeap
	size atomic.Int64
}

// NewActivationQueue creates an empty queue ordered by resolver.
func NewActivationQueue(resolver ConflictResolver) *ActivationQueue {
	return &ActivationQueue{
		h: activationHeap{
			items:    make([]*Activation, 0, 16),
			resolver: resolver,
		},
	}
}

// Resolver returns the conflict resolver the queue was constructed with.
func (q *ActivationQueue) Resolver() ConflictResolver {
	return q.h.resolver
}

// Enqueue inserts an activation and sifts it up to its place.
// Equal-precedence activations are accepted; the resolver's tie-break
// decides their order.
//
// Panics if the activation is already queued somewhere: its recorded
// position would be overwritten and the other queue corrupted.
func (q *ActivationQueue) Enqueue(a *Activation) {
	if a.queueIndex != NotQueued {
		panic(NewHeapCorruptedError(
			fmt.Sprintf("enqueue of activation already queued at position %d", a.queueIndex), a.ID))
	}
	heap.Push(&q.h, a)
	q.publishSize()
}

// Dequeue removes and returns the activation that fires first.
// Returns nil if the queue is empty.
func (q *ActivationQueue) Dequeue() *Activation {
	if len(q.h.items) == 0 {
		return nil
	}
	a := heap.Pop(&q.h).(*Activation)
	q.publishSize()
	return a
}

// DequeueAt removes and returns the activation at position pos.
// The last element moves into the vacated slot and is sifted up or down as
// needed to restore the heap invariant.
//
// Callers pass the activation's own QueueIndex(). A position that does not
// hold an activation recording that same position means a prior contract
// violation; DequeueAt panics rather than corrupt the heap further.
func (q *ActivationQueue) DequeueAt(pos int) *Activation {
	if pos < 0 || pos >= len(q.h.items) {
		panic(NewHeapCorruptedError(
			fmt.Sprintf("dequeue position %d out of range [0,%d)", pos, len(q.h.items)), ""))
	}
	if got := q.h.items[pos].queueIndex; got != pos {
		panic(NewHeapCorruptedError(
			fmt.Sprintf("slot %d holds activation recording position %d", pos, got), q.h.items[pos].ID))
	}
	a := heap.Remove(&q.h, pos).(*Activation)
	q.publishSize()
	return a
}

// Peek returns the activation that fires first without removing it.
// Returns nil if the queue is empty.
func (q *ActivationQueue) Peek() *Activation {
	if len(q.h.items) == 0 {
		return nil
	}
	return q.h.items[0]
}

// Contains reports whether a sits at its recorded position in this queue.
func (q *ActivationQueue) Contains(a *Activation) bool {
	i := a.queueIndex
	return i >= 0 && i < len(q.h.items) && q.h.items[i] == a
}

// Clear empties the queue. Former elements are marked NotQueued.
// Clear does not touch recency watermarks; that is the group's job.
func (q *ActivationQueue) Clear() {
	for i, a := range q.h.items {
		a.queueIndex = NotQueued
		q.h.items[i] = nil
	}
	q.h.items = q.h.items[:0]
	q.publishSize()
}

// GetAndClear returns every queued activation exactly once and empties the
// queue. The returned order is the internal heap layout, not firing order.
func (q *ActivationQueue) GetAndClear() []*Activation {
	out := make([]*Activation, len(q.h.items))
	copy(out, q.h.items)
	q.Clear()
	return out
}

// Activations returns a copy of the queued activations without removing
// them. The order is the internal heap layout, not firing order.
func (q *ActivationQueue) Activations() []*Activation {
	out := make([]*Activation, len(q.h.items))
	copy(out, q.h.items)
	return out
}

// Len returns the number of queued activations.
// Safe to call from any goroutine.
func (q *ActivationQueue) Len() int {
	return int(q.size.Load())
}

// IsEmpty reports whether the queue holds no activations.
// Safe to call from any goroutine.
func (q *ActivationQueue) IsEmpty() bool {
	return q.size.Load() == 0
}

func (q *ActivationQueue) publishSize() {
	q.size.Store(int64(len(q.h.items)))
}
