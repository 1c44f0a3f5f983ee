package state

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemory(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(DefaultOptions(":memory:"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCreateBucket(t *testing.T) {
	store := openMemory(t)

	require.NoError(t, store.CreateBucket("addresses"))
	assert.ErrorIs(t, store.CreateBucket("addresses"), ErrBucketExists)

	err := store.ReplaceBucket("missing", map[string][]byte{"k": nil})
	assert.ErrorIs(t, err, ErrBucketMissing)
}

func TestReplaceBucket(t *testing.T) {
	store := openMemory(t)
	require.NoError(t, store.CreateBucket("kv"))

	require.NoError(t, store.ReplaceBucket("kv", map[string][]byte{"stale": []byte("x")}))
	require.NoError(t, store.ReplaceBucket("kv", map[string][]byte{"a": []byte("1"), "b": []byte("2")}))

	all, err := store.List("kv")
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"a": []byte("1"), "b": []byte("2")}, all)

	v, err := store.Get("kv", "a")
	require.NoError(t, err)
	assert.Equal(t, "1", string(v))

	_, err = store.Get("kv", "stale")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.ReplaceBucket("kv", nil))
	all, err = store.List("kv")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestReplaceBucket_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	store, err := NewSQLiteStore(DefaultOptions(path))
	require.NoError(t, err)
	require.NoError(t, store.CreateBucket("kv"))
	require.NoError(t, store.ReplaceBucket("kv", map[string][]byte{"k": []byte("v")}))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(DefaultOptions(path))
	require.NoError(t, err)
	defer reopened.Close()

	assert.ErrorIs(t, reopened.CreateBucket("kv"), ErrBucketExists)
	v, err := reopened.Get("kv", "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(v))
}

func TestClosedStore(t *testing.T) {
	store, err := NewSQLiteStore(DefaultOptions(":memory:"))
	require.NoError(t, err)
	require.NoError(t, store.Close())
	assert.NoError(t, store.Close())

	_, err = store.Get("kv", "k")
	assert.True(t, errors.Is(err, ErrStoreClosed))
	assert.ErrorIs(t, store.CreateBucket("kv"), ErrStoreClosed)
	assert.ErrorIs(t, store.ReplaceBucket("kv", nil), ErrStoreClosed)
	_, err = store.List("kv")
	assert.ErrorIs(t, err, ErrStoreClosed)
}
