package sqlite

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/spdeepak/shellcache/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shellcache.db")
	registry, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = registry.Close() })
	return registry, path
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("  ")
	require.Error(t, err)
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	registry, _ := openTestRegistry(t)

	store, err := registry.Open(ctx, "plastic-eliminator-v1")
	require.NoError(t, err)

	storedAt := time.UnixMilli(1740614400000).UTC()
	entry := &cache.Entry{
		URL:        "/imgs/icon-192x192.png",
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": []string{"image/png"}},
		Body:       []byte{0x89, 'P', 'N', 'G', 0x00, 0xff},
		StoredAt:   storedAt,
	}
	require.NoError(t, store.Set(ctx, "GET /imgs/icon-192x192.png", entry))

	got, ok, err := store.Get(ctx, "GET /imgs/icon-192x192.png")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, entry, got)

	_, ok, err = store.Get(ctx, "GET /missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreOverwrite(t *testing.T) {
	ctx := context.Background()
	registry, _ := openTestRegistry(t)
	store, err := registry.Open(ctx, "v1")
	require.NoError(t, err)

	require.NoError(t, store.Set(ctx, "k", &cache.Entry{URL: "/a", StatusCode: 200, Body: []byte("one")}))
	require.NoError(t, store.Set(ctx, "k", &cache.Entry{URL: "/a", StatusCode: 200, Body: []byte("two")}))

	got, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "two", string(got.Body))

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"k"}, keys)

	require.NoError(t, store.Delete(ctx, "k"))
	keys, err = store.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestRegistryDeleteRemovesEntries(t *testing.T) {
	ctx := context.Background()
	registry, _ := openTestRegistry(t)

	old, err := registry.Open(ctx, "v1")
	require.NoError(t, err)
	require.NoError(t, old.Set(ctx, "k", &cache.Entry{URL: "/", StatusCode: 200, Body: []byte("old")}))
	_, err = registry.Open(ctx, "v2")
	require.NoError(t, err)

	names, err := registry.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"v1", "v2"}, names)

	existed, err := registry.Delete(ctx, "v1")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = registry.Delete(ctx, "v1")
	require.NoError(t, err)
	assert.False(t, existed)

	names, err = registry.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"v2"}, names)

	// Recreating the name starts empty.
	again, err := registry.Open(ctx, "v1")
	require.NoError(t, err)
	keys, err := again.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestRegistryPersistsAcrossOpen(t *testing.T) {
	ctx := context.Background()
	registry, path := openTestRegistry(t)

	store, err := registry.Open(ctx, "v1")
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, "GET /", &cache.Entry{URL: "/", StatusCode: 200, Body: []byte("shell")}))
	require.NoError(t, registry.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	store, err = reopened.Open(ctx, "v1")
	require.NoError(t, err)
	got, ok, err := store.Get(ctx, "GET /")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "shell", string(got.Body))
}

func TestCanceledContext(t *testing.T) {
	registry, _ := openTestRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := registry.Names(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
