package engine

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/agenda/internal/ir"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestAgenda(t *testing.T, opts ...AgendaOption) *Agenda {
	t.Helper()
	opts = append([]AgendaOption{
		WithLogger(quietLogger()),
		WithIDGenerator(NewFixedGenerator("snap-1", "snap-2", "snap-3", "snap-4")),
	}, opts...)
	return New(opts...)
}

func testRule(name string, salience, sequence int64) ir.Rule {
	return ir.Rule{Name: name, Salience: salience, Sequence: sequence}
}

func groupRule(name, group string, salience int64) ir.Rule {
	return ir.Rule{Name: name, Salience: salience, AgendaGroup: group}
}

// requireHeapInvariant checks the parent/child order and that every element
// records its own slot.
func requireHeapInvariant(t *testing.T, q *ActivationQueue) {
	t.Helper()
	items := q.h.items
	for i, a := range items {
		require.Equal(t, i, a.queueIndex, "activation %s records wrong slot", a.ID)
		for _, c := range []int{2*i + 1, 2*i + 2} {
			if c < len(items) {
				require.False(t, q.h.resolver.Precedes(items[c], a),
					"child %s at %d precedes parent %s at %d", items[c].ID, c, a.ID, i)
			}
		}
	}
	require.Equal(t, len(items), q.Len())
}

func drainIDs(g *AgendaGroup) []string {
	var out []string
	for a := g.Next(); a != nil; a = g.Next() {
		out = append(out, a.ID)
	}
	return out
}
