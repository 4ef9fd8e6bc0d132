package engine

import "sync/atomic"

// Clock is the recency clock shared by every group of one Agenda.
//
// Every admitted activation and every bulk clear is stamped from this clock.
// Stamps are strictly increasing, which gives:
// - A deterministic FIFO/LIFO tie-break among equal-precedence activations
// - A one-way epoch for stale-activation detection after clears
// - Identical ordering on replay and after snapshot restore
//
// The clock is created with the agenda (or injected with WithClock) and lives
// as long as the agenda. It is never a package-level singleton.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
// The agenda's single-writer discipline means only the writer calls Next().
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a new clock starting at a specific value.
// Used by Restore to resume after the last stamp recorded in a snapshot.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next stamp and increments the clock.
// Calls are linearizable - each call returns a unique, increasing value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current value without incrementing.
// Clear records this value as its watermark.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

// AdvanceTo moves the clock forward to at least v. It never moves backwards.
func (c *Clock) AdvanceTo(v int64) {
	for {
		cur := c.seq.Load()
		if v <= cur || c.seq.CompareAndSwap(cur, v) {
			return
		}
	}
}
