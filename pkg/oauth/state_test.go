package oauth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateStoreConsumeExactlyOnce(t *testing.T) {
	t.Parallel()

	store := NewStateStore(0)

	value, err := store.Generate()
	require.NoError(t, err)
	require.NotEmpty(t, value)

	assert.True(t, store.Consume(value))
	assert.False(t, store.Consume(value), "replayed state must be rejected")
}

func TestStateStoreRejectsUnknownValue(t *testing.T) {
	t.Parallel()

	store := NewStateStore(0)
	assert.False(t, store.Consume("never-issued"))
}

func TestStateStoreRejectsExpiredValue(t *testing.T) {
	t.Parallel()

	store := NewStateStore(time.Millisecond)

	value, err := store.Generate()
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	assert.False(t, store.Consume(value))
}

func TestStateStoreValuesAreUnique(t *testing.T) {
	t.Parallel()

	store := NewStateStore(0)
	seen := make(map[string]bool)
	for range 100 {
		value, err := store.Generate()
		require.NoError(t, err)
		require.False(t, seen[value])
		seen[value] = true
	}
}
