package engine

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stamped(id string, salience, recency int64) *Activation {
	a := NewActivation(id, testRule("r-"+id, salience, 0))
	a.recency = recency
	return a
}

func recoverRuntimeError(t *testing.T, fn func()) (re *RuntimeError) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected panic")
		err, ok := r.(*RuntimeError)
		require.True(t, ok, "panic value should be *RuntimeError, got %T", r)
		re = err
	}()
	fn()
	return nil
}

func TestActivationQueue_DequeueOrder(t *testing.T) {
	q := NewActivationQueue(ResolverDefault)

	q.Enqueue(stamped("low", 1, 1))
	q.Enqueue(stamped("high", 10, 2))
	q.Enqueue(stamped("mid", 5, 3))
	requireHeapInvariant(t, q)

	assert.Equal(t, "high", q.Peek().ID)
	assert.Equal(t, "high", q.Dequeue().ID)
	assert.Equal(t, "mid", q.Dequeue().ID)
	assert.Equal(t, "low", q.Dequeue().ID)
	assert.Nil(t, q.Dequeue(), "empty queue dequeues nil")
	assert.Nil(t, q.Peek(), "empty queue peeks nil")
	assert.True(t, q.IsEmpty())
}

func TestActivationQueue_DequeueResetsIndex(t *testing.T) {
	q := NewActivationQueue(ResolverDefault)
	a := stamped("a", 1, 1)

	q.Enqueue(a)
	assert.True(t, a.IsQueued())

	q.Dequeue()
	assert.Equal(t, NotQueued, a.QueueIndex())
	assert.False(t, q.Contains(a))
}

func TestActivationQueue_DequeueAt(t *testing.T) {
	q := NewActivationQueue(ResolverDefault)
	acts := make([]*Activation, 10)
	for i := range acts {
		acts[i] = stamped(fmt.Sprintf("a%d", i), int64(i%4), int64(i+1))
		q.Enqueue(acts[i])
	}

	victim := acts[5]
	got := q.DequeueAt(victim.QueueIndex())

	assert.Same(t, victim, got)
	assert.Equal(t, NotQueued, victim.QueueIndex())
	assert.Equal(t, 9, q.Len())
	requireHeapInvariant(t, q)

	for q.Len() > 0 {
		assert.NotEqual(t, "a5", q.Dequeue().ID, "cancelled activation must never dequeue")
	}
}

func TestActivationQueue_RandomOperationsKeepInvariant(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	q := NewActivationQueue(ResolverDefault)
	var live []*Activation
	var stamp int64

	for i := 0; i < 2000; i++ {
		switch op := rng.IntN(3); {
		case op == 0 || len(live) == 0:
			stamp++
			a := stamped(fmt.Sprintf("a%d", i), rng.Int64N(5), stamp)
			q.Enqueue(a)
			live = append(live, a)
		case op == 1:
			j := rng.IntN(len(live))
			q.DequeueAt(live[j].QueueIndex())
			live = append(live[:j], live[j+1:]...)
		default:
			top := q.Dequeue()
			for j, a := range live {
				if a == top {
					live = append(live[:j], live[j+1:]...)
					break
				}
			}
		}
		requireHeapInvariant(t, q)
	}

	for _, a := range live {
		assert.True(t, q.Contains(a))
	}
}

func TestActivationQueue_Enqueue_AlreadyQueuedPanics(t *testing.T) {
	q := NewActivationQueue(ResolverDefault)
	other := NewActivationQueue(ResolverDefault)
	a := stamped("a", 1, 1)
	q.Enqueue(a)

	re := recoverRuntimeError(t, func() { other.Enqueue(a) })
	assert.True(t, IsHeapCorrupted(re))
	assert.Equal(t, "a", re.ActivationID)
}

func TestActivationQueue_DequeueAt_OutOfRangePanics(t *testing.T) {
	q := NewActivationQueue(ResolverDefault)
	q.Enqueue(stamped("a", 1, 1))

	re := recoverRuntimeError(t, func() { q.DequeueAt(3) })
	assert.Equal(t, ErrCodeHeapCorrupted, re.Code)
}

func TestActivationQueue_Contains_ForeignQueue(t *testing.T) {
	q := NewActivationQueue(ResolverDefault)
	other := NewActivationQueue(ResolverDefault)
	a := stamped("a", 1, 1)
	b := stamped("b", 1, 2)
	q.Enqueue(a)
	other.Enqueue(b)

	// Both record slot 0, but only one queue holds each.
	assert.True(t, q.Contains(a))
	assert.False(t, q.Contains(b))
	assert.False(t, other.Contains(a))
}

func TestActivationQueue_Clear(t *testing.T) {
	q := NewActivationQueue(ResolverDefault)
	acts := []*Activation{stamped("a", 1, 1), stamped("b", 2, 2), stamped("c", 3, 3)}
	for _, a := range acts {
		q.Enqueue(a)
	}

	q.Clear()

	assert.True(t, q.IsEmpty())
	assert.Equal(t, 0, q.Len())
	for _, a := range acts {
		assert.Equal(t, NotQueued, a.QueueIndex(), "%s should be unqueued", a.ID)
	}
}

func TestActivationQueue_GetAndClear_EachExactlyOnce(t *testing.T) {
	q := NewActivationQueue(ResolverSalience)
	want := map[string]bool{}
	for i := 0; i < 25; i++ {
		id := fmt.Sprintf("a%02d", i)
		want[id] = true
		q.Enqueue(stamped(id, int64(i%3), int64(i+1)))
	}

	got := q.GetAndClear()

	require.Len(t, got, 25)
	seen := map[string]bool{}
	for _, a := range got {
		assert.False(t, seen[a.ID], "%s returned twice", a.ID)
		seen[a.ID] = true
		assert.False(t, a.IsQueued())
	}
	assert.Equal(t, want, seen)
	assert.True(t, q.IsEmpty())
	assert.Empty(t, q.GetAndClear(), "second GetAndClear returns nothing")
}

func TestActivationQueue_ReenqueueAfterDequeue(t *testing.T) {
	q := NewActivationQueue(ResolverDefault)
	a := stamped("a", 1, 1)

	q.Enqueue(a)
	q.Dequeue()
	q.Enqueue(a)

	assert.True(t, q.Contains(a))
	requireHeapInvariant(t, q)
}
