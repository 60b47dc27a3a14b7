package blobstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T, store BlobStore) {
	t.Helper()
	ctx := context.Background()

	_, err := store.Open(ctx, "absent")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Put(ctx, "snap/a.vectors", []byte("vectors")))
	require.NoError(t, store.Put(ctx, "snap/a.metadata", []byte("meta")))
	require.NoError(t, store.Put(ctx, "other/b", []byte("x")))

	blob, err := store.Open(ctx, "snap/a.vectors")
	require.NoError(t, err)
	data, err := ReadAll(blob)
	require.NoError(t, err)
	require.NoError(t, blob.Close())
	assert.Equal(t, "vectors", string(data))

	names, err := store.List(ctx, "snap/")
	require.NoError(t, err)
	assert.Equal(t, []string{"snap/a.metadata", "snap/a.vectors"}, names)

	require.NoError(t, store.Delete(ctx, "snap/a.vectors"))
	require.NoError(t, store.Delete(ctx, "snap/a.vectors")) // idempotent
	_, err = store.Open(ctx, "snap/a.vectors")
	assert.ErrorIs(t, err, ErrNotFound)

	// Overwrite replaces content.
	require.NoError(t, store.Put(ctx, "other/b", []byte("y")))
	blob, err = store.Open(ctx, "other/b")
	require.NoError(t, err)
	data, err = ReadAll(blob)
	require.NoError(t, err)
	require.NoError(t, blob.Close())
	assert.Equal(t, "y", string(data))
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())
}

func TestLocalStore(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	testStore(t, store)
}

func TestMemoryBlobIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Put(ctx, "k", []byte("old")))

	blob, err := store.Open(ctx, "k")
	require.NoError(t, err)
	defer blob.Close()

	require.NoError(t, store.Put(ctx, "k", []byte("new")))

	data, err := ReadAll(blob)
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))
}
