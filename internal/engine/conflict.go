package engine

import (
	"cmp"
	"fmt"
	"strings"
)

// ConflictResolver is the total order that decides which of several pending
// activations fires first.
//
// Only a closed set of orderings is legitimate, so the resolver is a tagged
// value rather than an open interface. Every variant is a total order (ties
// end at the activation ID) and is stable under re-evaluation: comparing the
// same two untouched activations twice yields the same result.
type ConflictResolver int

const (
	// ResolverDefault orders by salience (high first), then rule declaration
	// order, then recency (earlier admitted first). Used in reactive mode.
	ResolverDefault ConflictResolver = iota

	// ResolverSalience orders by salience (high first), then recency
	// (earlier admitted first): FIFO among equal salience.
	ResolverSalience

	// ResolverSequential ignores salience and orders by rule declaration
	// order, then recency. Used in sequential mode where the working set
	// does not change during a firing pass.
	ResolverSequential
)

var resolverNames = map[ConflictResolver]string{
	ResolverDefault:    "default",
	ResolverSalience:   "salience",
	ResolverSequential: "sequential",
}

// ParseConflictResolver maps a configuration name to a resolver.
// Names are case-insensitive; the empty string selects ResolverDefault.
func ParseConflictResolver(name string) (ConflictResolver, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "default":
		return ResolverDefault, nil
	case "salience":
		return ResolverSalience, nil
	case "sequential":
		return ResolverSequential, nil
	default:
		return 0, NewConfigError(fmt.Sprintf("unknown conflict resolver %q (want default, salience or sequential)", name))
	}
}

// String implements fmt.Stringer.
func (r ConflictResolver) String() string {
	if name, ok := resolverNames[r]; ok {
		return name
	}
	return fmt.Sprintf("ConflictResolver(%d)", int(r))
}

// Compare returns a negative number when a fires before b, a positive number
// when b fires before a, and zero only when a and b are indistinguishable
// (same ID, rule attributes and stamp).
func (r ConflictResolver) Compare(a, b *Activation) int {
	switch r {
	case ResolverSalience:
		if c := cmp.Compare(b.Rule.Salience, a.Rule.Salience); c != 0 {
			return c
		}
	case ResolverSequential:
		if c := cmp.Compare(a.Rule.Sequence, b.Rule.Sequence); c != 0 {
			return c
		}
	default:
		if c := cmp.Compare(b.Rule.Salience, a.Rule.Salience); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Rule.Sequence, b.Rule.Sequence); c != 0 {
			return c
		}
	}
	if c := cmp.Compare(a.recency, b.recency); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// Precedes reports whether a fires strictly before b.
func (r ConflictResolver) Precedes(a, b *Activation) bool {
	return r.Compare(a, b) < 0
}
