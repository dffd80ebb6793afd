package registry

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ssblic/internal/license"
)

func seedRecord(t *testing.T, store Store, plan string) *license.Record {
	t.Helper()
	rec := &license.Record{
		Key:    "SSB-" + plan[:3] + "-AAAA-0001",
		Plan:   plan,
		HWID:   license.WildcardHWID,
		Status: license.StatusActive,
	}
	rec.ApplyDefaults()
	require.NoError(t, store.Put(context.Background(), rec))
	return rec
}

func TestLedgerBind(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	ledger := NewLedger(store, testLogger())
	rec := seedRecord(t, store, "PRO")

	result, err := ledger.Bind(ctx, rec.Key, "A1B2C3D4E5F60718")
	require.NoError(t, err)
	assert.True(t, result.Bound)
	assert.Equal(t, 1, result.Count)
	assert.Equal(t, 1, result.Max)

	devices, err := ledger.Devices(ctx, rec.Key)
	require.NoError(t, err)
	assert.Equal(t, []string{"A1B2C3D4E5F60718"}, devices)
}

func TestLedgerBindIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	ledger := NewLedger(store, testLogger())
	rec := seedRecord(t, store, "PRO")

	_, err := ledger.Bind(ctx, rec.Key, "A1B2C3D4E5F60718")
	require.NoError(t, err)

	// Same fingerprint again: success, no growth, even though the plan
	// allows only one device.
	result, err := ledger.Bind(ctx, rec.Key, "A1B2C3D4E5F60718")
	require.NoError(t, err)
	assert.True(t, result.Bound)
	assert.Equal(t, 1, result.Count)
}

func TestLedgerBindCapacity(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	ledger := NewLedger(store, testLogger())
	rec := seedRecord(t, store, "STANDARD")

	_, err := ledger.Bind(ctx, rec.Key, "A1B2C3D4E5F60718")
	require.NoError(t, err)

	result, err := ledger.Bind(ctx, rec.Key, "00FFEEDDCCBBAA99")
	assert.ErrorIs(t, err, ErrCapacityExceeded)
	assert.False(t, result.Bound)
	assert.Equal(t, 1, result.Count)
	assert.Equal(t, 1, result.Max)

	// The refused fingerprint must not have leaked into the ledger.
	devices, err := ledger.Devices(ctx, rec.Key)
	require.NoError(t, err)
	assert.Len(t, devices, 1)
}

func TestLedgerEliteAllowsThree(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	ledger := NewLedger(store, testLogger())
	rec := seedRecord(t, store, "ELITE")

	for _, fp := range []string{"1111111111111111", "2222222222222222", "3333333333333333"} {
		result, err := ledger.Bind(ctx, rec.Key, fp)
		require.NoError(t, err)
		assert.Equal(t, 3, result.Max)
	}

	_, err := ledger.Bind(ctx, rec.Key, "4444444444444444")
	assert.ErrorIs(t, err, ErrCapacityExceeded)
}

func TestLedgerBindUnknownKey(t *testing.T) {
	ledger := NewLedger(NewMemStore(), testLogger())

	_, err := ledger.Bind(context.Background(), "SSB-PRO-0000-0000", "A1B2C3D4E5F60718")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLedgerUnbind(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	ledger := NewLedger(store, testLogger())
	rec := seedRecord(t, store, "ELITE")

	_, err := ledger.Bind(ctx, rec.Key, "1111111111111111")
	require.NoError(t, err)
	_, err = ledger.Bind(ctx, rec.Key, "2222222222222222")
	require.NoError(t, err)

	result, err := ledger.Unbind(ctx, rec.Key, "1111111111111111")
	require.NoError(t, err)
	assert.True(t, result.Unbound)
	assert.Equal(t, 1, result.Count)

	// Unbinding a fingerprint that was never bound is a no-op, not an error.
	result, err = ledger.Unbind(ctx, rec.Key, "9999999999999999")
	require.NoError(t, err)
	assert.False(t, result.Unbound)
	assert.Equal(t, 1, result.Count)
}

func TestLedgerConcurrentBindHonorsCap(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	ledger := NewLedger(store, testLogger())
	rec := seedRecord(t, store, "PRO") // single-device plan

	fingerprints := []string{"1111111111111111", "2222222222222222"}

	var wg sync.WaitGroup
	errs := make([]error, len(fingerprints))
	for i, fp := range fingerprints {
		wg.Add(1)
		go func(i int, fp string) {
			defer wg.Done()
			_, errs[i] = ledger.Bind(ctx, rec.Key, fp)
		}(i, fp)
	}
	wg.Wait()

	var ok, refused int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case assert.ErrorIs(t, err, ErrCapacityExceeded):
			refused++
		}
	}
	assert.Equal(t, 1, ok, "exactly one bind should win")
	assert.Equal(t, 1, refused, "the loser must see a capacity error")

	devices, err := ledger.Devices(ctx, rec.Key)
	require.NoError(t, err)
	assert.Len(t, devices, 1)
}
