package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ssblic/internal/license"
)

func storedRecord(key string) *license.Record {
	return &license.Record{
		Key:    key,
		Plan:   "PRO",
		Email:  "user@x.com",
		HWID:   license.WildcardHWID,
		Status: license.StatusActive,
	}
}

func TestMemStorePutGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	require.NoError(t, store.Put(ctx, storedRecord("K1")))

	rec, err := store.Get(ctx, "K1")
	require.NoError(t, err)
	assert.Equal(t, "K1", rec.Key)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemStorePutRejectsDuplicateKey(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	require.NoError(t, store.Put(ctx, storedRecord("K1")))
	assert.ErrorIs(t, store.Put(ctx, storedRecord("K1")), ErrDuplicate)
}

func TestMemStoreGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	require.NoError(t, store.Put(ctx, storedRecord("K1")))

	rec, err := store.Get(ctx, "K1")
	require.NoError(t, err)
	rec.Plan = "mutated"

	fresh, err := store.Get(ctx, "K1")
	require.NoError(t, err)
	assert.Equal(t, "PRO", fresh.Plan)
}

func TestMemStoreUpdate(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	require.NoError(t, store.Put(ctx, storedRecord("K1")))

	updated, err := store.Update(ctx, "K1", func(rec *license.Record) error {
		rec.Status = license.StatusRevoked
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, license.StatusRevoked, updated.Status)

	fresh, err := store.Get(ctx, "K1")
	require.NoError(t, err)
	assert.Equal(t, license.StatusRevoked, fresh.Status)
}

func TestMemStoreUpdateErrorDiscardsChanges(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	require.NoError(t, store.Put(ctx, storedRecord("K1")))

	boom := errors.New("boom")
	_, err := store.Update(ctx, "K1", func(rec *license.Record) error {
		rec.Status = license.StatusRevoked
		return boom
	})
	assert.ErrorIs(t, err, boom)

	fresh, err := store.Get(ctx, "K1")
	require.NoError(t, err)
	assert.Equal(t, license.StatusActive, fresh.Status, "failed update must not persist")
}

func TestMemStoreUpdateMissingKey(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	_, err := store.Update(ctx, "missing", func(rec *license.Record) error { return nil })
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemStoreDeleteAndList(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	require.NoError(t, store.Put(ctx, storedRecord("B")))
	require.NoError(t, store.Put(ctx, storedRecord("A")))

	records, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "A", records[0].Key, "list is sorted by key")

	require.NoError(t, store.Delete(ctx, "A"))
	require.NoError(t, store.Delete(ctx, "A")) // no-op

	records, err = store.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "B", records[0].Key)
}
