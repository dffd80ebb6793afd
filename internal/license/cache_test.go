package license

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCacheStore(t *testing.T) *CacheStore {
	t.Helper()
	return NewCacheStore(filepath.Join(t.TempDir(), "license.json"))
}

func TestCacheLoadMissingIsAbsent(t *testing.T) {
	store := newCacheStore(t)

	rec, err := store.Load()
	assert.NoError(t, err)
	assert.Nil(t, rec)
	assert.False(t, store.Exists())
}

func TestCacheSaveAndLoad(t *testing.T) {
	store := newCacheStore(t)

	require.NoError(t, store.Save(testRecord()))
	assert.True(t, store.Exists())

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, testRecord(), loaded)
}

func TestCacheCorruptFileIsAbsent(t *testing.T) {
	store := newCacheStore(t)
	require.NoError(t, os.WriteFile(store.Path(), []byte("~~not json~~"), 0o600))

	rec, err := store.Load()
	assert.NoError(t, err)
	assert.Nil(t, rec)
}

func TestMarkOnlineStampsTimestamp(t *testing.T) {
	store := newCacheStore(t)
	rec := testRecord()
	now := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.MarkOnline(rec, now))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded.LastOnlineOK)
	assert.Equal(t, now, loaded.LastOnlineOK.UTC())
}
