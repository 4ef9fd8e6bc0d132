package engine

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUIDv7Generator_ValidFormat(t *testing.T) {
	gen := UUIDv7Generator{}
	id := gen.Generate()

	assert.Regexp(t, `^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`, id)

	parsed, err := uuid.Parse(id)
	require.NoError(t, err, "id should be valid UUID")
	assert.Equal(t, uuid.Version(7), parsed.Version())
}

func TestUUIDv7Generator_Concurrent(t *testing.T) {
	gen := UUIDv7Generator{}
	const goroutines = 100

	ids := make(chan string, goroutines)
	var wg sync.WaitGroup

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- gen.Generate()
		}()
	}

	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		require.False(t, seen[id], "duplicate id generated")
		seen[id] = true
	}

	assert.Equal(t, goroutines, len(seen))
}

func TestFixedGenerator_Sequential(t *testing.T) {
	gen := NewFixedGenerator("snap-1", "snap-2", "snap-3")

	assert.Equal(t, "snap-1", gen.Generate())
	assert.Equal(t, "snap-2", gen.Generate())
	assert.Equal(t, "snap-3", gen.Generate())
}

func TestFixedGenerator_PanicsWhenExhausted(t *testing.T) {
	gen := NewFixedGenerator("snap-1")

	assert.Equal(t, "snap-1", gen.Generate())
	assert.Panics(t, func() {
		gen.Generate()
	}, "should panic when all IDs exhausted")
}

func TestCapture_UsesIDGenerator(t *testing.T) {
	ag := newTestAgenda(t, WithIDGenerator(NewFixedGenerator("snap-a", "snap-b")))

	first, err := Capture(ag)
	require.NoError(t, err)
	second, err := Capture(ag)
	require.NoError(t, err)

	assert.Equal(t, "snap-a", first.ID)
	assert.Equal(t, "snap-b", second.ID)
	assert.Equal(t, first.Digest, second.Digest, "digest ignores the snapshot ID")
}

func TestCapture_DefaultIDIsUUIDv7(t *testing.T) {
	ag := newTestAgenda(t)

	snap, err := Capture(ag)
	require.NoError(t, err)

	parsed, err := uuid.Parse(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
}
