package prefs

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		ns, name, want string
	}{
		{"shield.button", KeyFirstRunTimestamp, "shield.button.firstRunTimestamp"},
		{"shield.button.", KeyVariation, "shield.button.variation"},
		{"", KeyClientID, "clientId"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Key(tt.ns, tt.name))
	}
}

// exerciseStore runs the shared contract against any backend.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("Should report absence for a missing key", func(t *testing.T) {
		v, ok, err := s.Get(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Empty(t, v)
	})

	t.Run("Should round-trip and overwrite", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "ns.firstRunTimestamp", "1500000000000"))
		v, ok, err := s.Get(ctx, "ns.firstRunTimestamp")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "1500000000000", v)

		require.NoError(t, s.Set(ctx, "ns.firstRunTimestamp", "1600000000000"))
		v, _, err = s.Get(ctx, "ns.firstRunTimestamp")
		require.NoError(t, err)
		assert.Equal(t, "1600000000000", v)
	})

	t.Run("Should distinguish an empty value from absence", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "ns.empty", ""))
		v, ok, err := s.Get(ctx, "ns.empty")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Empty(t, v)
	})

	t.Run("Should delete and tolerate deleting twice", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "ns.variation", "kittens"))
		require.NoError(t, s.Delete(ctx, "ns.variation"))
		require.NoError(t, s.Delete(ctx, "ns.variation"))

		_, ok, err := s.Get(ctx, "ns.variation")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStore_Snapshot(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	require.NoError(t, s.Set(context.Background(), "a", "1"))

	snap := s.Snapshot()
	snap["a"] = "changed"

	v, _, _ := s.Get(context.Background(), "a")
	assert.Equal(t, "1", v, "snapshot must be a copy")
}

func TestSQLiteStore(t *testing.T) {
	t.Parallel()

	s, err := OpenSQLite(filepath.Join(t.TempDir(), "prefs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	exerciseStore(t, s)

	t.Run("Should pass its health check", func(t *testing.T) {
		assert.Equal(t, "sqlite", s.Name())
		assert.NoError(t, s.Check(context.Background()))
	})
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "prefs.db")

	first, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, first.Set(ctx, "shield.x.firstRunTimestamp", "42"))
	require.NoError(t, first.Close())

	second, err := OpenSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { second.Close() })

	v, ok, err := second.Get(ctx, "shield.x.firstRunTimestamp")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "42", v)
}
