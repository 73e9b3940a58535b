package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinesphere/resync/pkg/store"
)

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	_, err = s.Get(ctx, "offline_queue")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.Set(ctx, "offline_queue", `[{"id":"1"}]`))
	require.NoError(t, s.Set(ctx, "authToken", "tok"))
	require.NoError(t, s.Set(ctx, "offline_queue", `[]`))

	v, err := s.Get(ctx, "offline_queue")
	require.NoError(t, err)
	assert.Equal(t, `[]`, v)

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"authToken", "offline_queue"}, keys)

	require.NoError(t, s.Remove(ctx, "authToken"))
	_, err = s.Get(ctx, "authToken")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestSQLiteStoreReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "resync.db")

	s, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "offline_queue", `[{"id":"kept"}]`))
	require.NoError(t, s.Close())

	reopened, err := Open(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { reopened.Close() })

	v, err := reopened.Get(ctx, "offline_queue")
	require.NoError(t, err)
	assert.Equal(t, `[{"id":"kept"}]`, v)
}
