package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, "offline_queue", `[{"id":"a"}]`))
	v, err := s.Get(ctx, "offline_queue")
	require.NoError(t, err)
	assert.Equal(t, `[{"id":"a"}]`, v)

	require.NoError(t, s.Set(ctx, "offline_queue", `[]`))
	v, err = s.Get(ctx, "offline_queue")
	require.NoError(t, err)
	assert.Equal(t, `[]`, v)

	require.NoError(t, s.Remove(ctx, "offline_queue"))
	_, err = s.Get(ctx, "offline_queue")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Remove(ctx, "offline_queue"), "removing a missing key is not an error")
}

func TestMemory(t *testing.T) {
	testStore(t, NewMemory())
}

func TestFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	f, err := NewFile(dir)
	require.NoError(t, err)
	testStore(t, f)

	t.Run("survives reopen", func(t *testing.T) {
		ctx := context.Background()
		require.NoError(t, f.Set(ctx, "authToken", "tok"))

		reopened, err := NewFile(dir)
		require.NoError(t, err)
		v, err := reopened.Get(ctx, "authToken")
		require.NoError(t, err)
		assert.Equal(t, "tok", v)
	})

	t.Run("no temp files left", func(t *testing.T) {
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		for _, e := range entries {
			assert.NotEqual(t, '.', rune(e.Name()[0]), "leftover %s", e.Name())
		}
	})

	t.Run("rejects path keys", func(t *testing.T) {
		ctx := context.Background()
		assert.Error(t, f.Set(ctx, "../escape", "x"))
		_, err := f.Get(ctx, "a/b")
		assert.Error(t, err)
		assert.Error(t, f.Remove(ctx, ""))
	})
}
