package license

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testHWID  = "A1B2C3D4E5F60718"
	otherHWID = "FFFF000011112222"
)

// fixedFingerprint is a Fingerprinter returning a constant value.
type fixedFingerprint string

func (f fixedFingerprint) Generate() string { return string(f) }

// fakeDirectory serves an in-memory record list, or ErrUnavailable.
type fakeDirectory struct {
	records     []Record
	unavailable bool
	calls       int
}

func (d *fakeDirectory) FetchAll(ctx context.Context) ([]Record, error) {
	d.calls++
	if d.unavailable {
		return nil, ErrUnavailable
	}
	out := make([]Record, len(d.records))
	copy(out, d.records)
	for i := range out {
		out[i].ApplyDefaults()
	}
	return out, nil
}

// testHarness bundles an evaluator with its backing stores and fakes.
type testHarness struct {
	evaluator *Evaluator
	artifacts *ArtifactStore
	cache     *CacheStore
	tamper    *TamperStore
	directory *fakeDirectory
	now       time.Time
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	dir := t.TempDir()

	h := &testHarness{
		artifacts: NewArtifactStore(filepath.Join(dir, "license.ssb"), NewObfuscatingCodec("test-secret")),
		cache:     NewCacheStore(filepath.Join(dir, "license.json")),
		tamper:    NewTamperStore(filepath.Join(dir, "config.json")),
		directory: &fakeDirectory{},
		now:       time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC),
	}
	h.evaluator = NewEvaluator(
		fixedFingerprint(testHWID),
		h.artifacts,
		h.cache,
		h.tamper,
		h.directory,
		Policy{GraceWindow: DefaultGraceWindow, Now: func() time.Time { return h.now }},
		discardLogger(),
	)
	return h
}

func (h *testHarness) evaluate(key string) Outcome {
	return h.evaluator.Evaluate(context.Background(), key)
}

// seedCache writes a record through the trusted path: cache plus tamper
// baseline, the way the evaluator itself persists.
func (h *testHarness) seedCache(t *testing.T, rec *Record) {
	t.Helper()
	require.NoError(t, h.cache.Save(rec))
	require.NoError(t, h.tamper.Adopt(rec))
}

func activeProRecord() *Record {
	return &Record{
		Key:     "SSB-PRO-AB12-CD34",
		Plan:    "PRO",
		Email:   "user@x.com",
		HWID:    testHWID,
		Status:  StatusActive,
		Expires: "2027-06-30",
	}
}

// ---------------------------------------------------------------------------
// Step 5: demo default
// ---------------------------------------------------------------------------

func TestEvaluateNothingPresentIsDemo(t *testing.T) {
	h := newHarness(t)
	h.directory.unavailable = true

	outcome := h.evaluate("")

	assert.Equal(t, StateDemo, outcome.State)
	assert.Equal(t, TierNone, outcome.Tier)
	assert.Empty(t, outcome.Reason, "demo is not an error")
}

// ---------------------------------------------------------------------------
// Step 1: opaque artifact path
// ---------------------------------------------------------------------------

func TestEvaluateArtifactAcceptsOffline(t *testing.T) {
	h := newHarness(t)
	h.directory.unavailable = true
	require.NoError(t, h.artifacts.Save(activeProRecord()))

	outcome := h.evaluate("")

	assert.Equal(t, StateAccepted, outcome.State)
	assert.Equal(t, TierPro, outcome.Tier)
	assert.Zero(t, h.directory.calls, "artifact path must not touch the network")
}

func TestEvaluateArtifactWildcardAccepts(t *testing.T) {
	h := newHarness(t)
	rec := activeProRecord()
	rec.HWID = WildcardHWID
	require.NoError(t, h.artifacts.Save(rec))

	outcome := h.evaluate("")
	assert.Equal(t, StateAccepted, outcome.State)
}

func TestEvaluateArtifactExpiredFallsThrough(t *testing.T) {
	h := newHarness(t)
	h.directory.unavailable = true
	rec := activeProRecord()
	rec.Expires = "2026-08-30"
	require.NoError(t, h.artifacts.Save(rec))

	outcome := h.evaluate("")
	assert.Equal(t, StateDemo, outcome.State)
}

func TestEvaluateArtifactForeignHWIDFallsThrough(t *testing.T) {
	h := newHarness(t)
	h.directory.unavailable = true
	rec := activeProRecord()
	rec.HWID = otherHWID
	require.NoError(t, h.artifacts.Save(rec))

	outcome := h.evaluate("")
	assert.Equal(t, StateDemo, outcome.State)
}

// ---------------------------------------------------------------------------
// Step 2: tamper check
// ---------------------------------------------------------------------------

func TestEvaluateTamperedCacheRejects(t *testing.T) {
	h := newHarness(t)
	rec := activeProRecord()
	h.seedCache(t, rec)

	// Hand-edit the cache behind the store's back.
	edited := rec.Clone()
	edited.Expires = "2099-12-31"
	require.NoError(t, h.cache.Save(edited))

	outcome := h.evaluate("")

	assert.Equal(t, StateRejected, outcome.State)
	assert.Equal(t, ReasonTampered, outcome.Reason)
	assert.Equal(t, TierNone, outcome.Tier)
	assert.Zero(t, h.directory.calls, "tampered state must not reach network validation")
}

func TestEvaluateTamperByteFlip(t *testing.T) {
	h := newHarness(t)
	rec := activeProRecord()
	h.seedCache(t, rec)

	// Flip a byte inside the cache file directly.
	data, err := os.ReadFile(h.cache.Path())
	require.NoError(t, err)
	data[len(data)/2] ^= 0x01

	// The mutated bytes may no longer parse; if they do, the digest check
	// must catch the edit. Either way evaluation must not accept.
	require.NoError(t, os.WriteFile(h.cache.Path(), data, 0o600))

	outcome := h.evaluate("")
	assert.NotEqual(t, StateAccepted, outcome.State)
}

// ---------------------------------------------------------------------------
// Step 3: plaintext cache path
// ---------------------------------------------------------------------------

func TestEvaluateCachedExpired(t *testing.T) {
	h := newHarness(t)
	rec := activeProRecord()
	rec.Expires = "2026-08-30"
	h.seedCache(t, rec)

	outcome := h.evaluate("")

	assert.Equal(t, StateRejected, outcome.State)
	assert.Equal(t, ReasonExpired, outcome.Reason)
}

func TestEvaluateCachedHWIDMismatchCarriesBoundValue(t *testing.T) {
	h := newHarness(t)
	rec := activeProRecord()
	rec.HWID = otherHWID
	h.seedCache(t, rec)

	outcome := h.evaluate("")

	assert.Equal(t, StateRejected, outcome.State)
	assert.Equal(t, ReasonHWIDMismatch, outcome.Reason)
	assert.Equal(t, otherHWID, outcome.BoundHWID)
}

func TestEvaluateCachedRevokedStatus(t *testing.T) {
	h := newHarness(t)
	rec := activeProRecord()
	rec.Status = StatusSuspended
	h.seedCache(t, rec)

	outcome := h.evaluate("")

	assert.Equal(t, StateRejected, outcome.State)
	assert.Equal(t, ReasonRevoked, outcome.Reason)
}

func TestEvaluateOnlineRefreshAccepts(t *testing.T) {
	h := newHarness(t)
	rec := activeProRecord()
	h.seedCache(t, rec)
	h.directory.records = []Record{*activeProRecord()}

	outcome := h.evaluate("")

	assert.Equal(t, StateAccepted, outcome.State)
	assert.Equal(t, TierPro, outcome.Tier)

	// last_online_ok stamped through the trusted path.
	cached, err := h.cache.Load()
	require.NoError(t, err)
	require.NotNil(t, cached.LastOnlineOK)
	assert.True(t, h.tamper.Check(cached))
}

func TestEvaluateServerRevokeWinsOverLocalActive(t *testing.T) {
	h := newHarness(t)
	rec := activeProRecord()
	h.seedCache(t, rec)

	remote := activeProRecord()
	remote.Status = StatusRevoked
	h.directory.records = []Record{*remote}

	outcome := h.evaluate("")

	assert.Equal(t, StateRejected, outcome.State)
	assert.Equal(t, ReasonRevoked, outcome.Reason)

	// Revocation persisted: a later offline evaluation rejects too.
	h.directory.unavailable = true
	outcome = h.evaluate("")
	assert.Equal(t, StateRejected, outcome.State)
	assert.Equal(t, ReasonRevoked, outcome.Reason)
}

func TestEvaluateRemotePlanUpgradeTakesEffect(t *testing.T) {
	h := newHarness(t)
	rec := activeProRecord()
	h.seedCache(t, rec)

	remote := activeProRecord()
	remote.Plan = "ELITE"
	h.directory.records = []Record{*remote}

	outcome := h.evaluate("")

	assert.Equal(t, StateAccepted, outcome.State)
	assert.Equal(t, TierElite, outcome.Tier)
}

func TestEvaluateCachedKeyGoneFromDirectory(t *testing.T) {
	h := newHarness(t)
	h.seedCache(t, activeProRecord())
	h.directory.records = []Record{} // reachable, but key absent

	outcome := h.evaluate("")

	assert.Equal(t, StateRejected, outcome.State)
	assert.Equal(t, ReasonNotFound, outcome.Reason)
}

// ---------------------------------------------------------------------------
// Offline grace window
// ---------------------------------------------------------------------------

func TestEvaluateGraceWithinWindowAccepts(t *testing.T) {
	h := newHarness(t)
	h.directory.unavailable = true

	rec := activeProRecord()
	// One second inside the 48h boundary.
	last := h.now.Add(-DefaultGraceWindow + time.Second)
	rec.LastOnlineOK = &last
	h.seedCache(t, rec)

	outcome := h.evaluate("")

	assert.Equal(t, StateAccepted, outcome.State)
	assert.Equal(t, TierPro, outcome.Tier)
	assert.False(t, outcome.Warning)
}

func TestEvaluateGraceExpiredAcceptsWithWarning(t *testing.T) {
	h := newHarness(t)
	h.directory.unavailable = true

	rec := activeProRecord()
	// One second past the boundary.
	last := h.now.Add(-DefaultGraceWindow - time.Second)
	rec.LastOnlineOK = &last
	h.seedCache(t, rec)

	outcome := h.evaluate("")

	assert.Equal(t, StateAccepted, outcome.State, "unreachability must not hard-lock")
	assert.Equal(t, TierPro, outcome.Tier)
	assert.True(t, outcome.Warning, "the host must be told to surface staleness")
}

func TestEvaluateNoLastOnlineAcceptsWithWarning(t *testing.T) {
	h := newHarness(t)
	h.directory.unavailable = true
	h.seedCache(t, activeProRecord())

	outcome := h.evaluate("")

	assert.Equal(t, StateAccepted, outcome.State)
	assert.True(t, outcome.Warning)
}

func TestEvaluateGraceWindowIsConfigurable(t *testing.T) {
	h := newHarness(t)
	h.evaluator.policy.GraceWindow = time.Hour
	h.directory.unavailable = true

	rec := activeProRecord()
	last := h.now.Add(-2 * time.Hour)
	rec.LastOnlineOK = &last
	h.seedCache(t, rec)

	outcome := h.evaluate("")
	assert.True(t, outcome.Warning)
}

// ---------------------------------------------------------------------------
// Step 4: key activation path
// ---------------------------------------------------------------------------

func TestEvaluateWildcardBindsOnFirstActivation(t *testing.T) {
	h := newHarness(t)
	remote := activeProRecord()
	remote.HWID = WildcardHWID
	h.directory.records = []Record{*remote}

	outcome := h.evaluate(remote.Key)

	require.Equal(t, StateAccepted, outcome.State)
	assert.Equal(t, TierPro, outcome.Tier)
	require.NotNil(t, outcome.Record)
	assert.Equal(t, testHWID, outcome.Record.HWID, "wildcard binds to the first claimant")
	assert.NotNil(t, outcome.Record.ActivatedAt)

	// Persisted to cache, tamper baseline, and opaque artifact.
	cached, err := h.cache.Load()
	require.NoError(t, err)
	assert.Equal(t, testHWID, cached.HWID)
	assert.True(t, h.tamper.Check(cached))

	artifact, ok := h.artifacts.Load()
	require.True(t, ok)
	assert.Equal(t, testHWID, artifact.HWID)
}

func TestEvaluateSameMachineReactivationIsIdempotent(t *testing.T) {
	h := newHarness(t)
	remote := activeProRecord() // already bound to testHWID
	h.directory.records = []Record{*remote}

	outcome := h.evaluate(remote.Key)

	assert.Equal(t, StateAccepted, outcome.State)
	assert.Nil(t, outcome.Record.ActivatedAt, "re-activation must not re-stamp activation")
}

func TestEvaluateForeignMachineRejectsWithBoundHWID(t *testing.T) {
	h := newHarness(t)
	remote := activeProRecord()
	remote.HWID = otherHWID
	h.directory.records = []Record{*remote}

	outcome := h.evaluate(remote.Key)

	assert.Equal(t, StateRejected, outcome.State)
	assert.Equal(t, ReasonHWIDMismatch, outcome.Reason)
	assert.Equal(t, otherHWID, outcome.BoundHWID)
}

func TestEvaluateKeyNotFound(t *testing.T) {
	h := newHarness(t)
	h.directory.records = []Record{}

	outcome := h.evaluate("SSB-STD-0000-0000")

	assert.Equal(t, StateRejected, outcome.State)
	assert.Equal(t, ReasonNotFound, outcome.Reason)
}

func TestEvaluateKeyRevoked(t *testing.T) {
	h := newHarness(t)
	remote := activeProRecord()
	remote.Status = StatusRevoked
	h.directory.records = []Record{*remote}

	outcome := h.evaluate(remote.Key)

	assert.Equal(t, StateRejected, outcome.State)
	assert.Equal(t, ReasonRevoked, outcome.Reason)
}

func TestEvaluateKeyExpired(t *testing.T) {
	h := newHarness(t)
	remote := activeProRecord()
	remote.HWID = WildcardHWID
	remote.Expires = "2026-08-30"
	h.directory.records = []Record{*remote}

	outcome := h.evaluate(remote.Key)

	assert.Equal(t, StateRejected, outcome.State)
	assert.Equal(t, ReasonExpired, outcome.Reason)
}

func TestEvaluateKeyOfflineIsUnavailable(t *testing.T) {
	h := newHarness(t)
	h.directory.unavailable = true

	outcome := h.evaluate("SSB-PRO-AB12-CD34")

	assert.Equal(t, StateRejected, outcome.State)
	assert.Equal(t, ReasonUnavailable, outcome.Reason)
}

func TestEvaluateKeyWithoutDirectoryIsUnavailable(t *testing.T) {
	h := newHarness(t)
	h.evaluator = NewEvaluator(
		fixedFingerprint(testHWID),
		h.artifacts,
		h.cache,
		h.tamper,
		nil,
		Policy{GraceWindow: DefaultGraceWindow, Now: func() time.Time { return h.now }},
		discardLogger(),
	)

	outcome := h.evaluate("SSB-PRO-AB12-CD34")

	assert.Equal(t, StateRejected, outcome.State)
	assert.Equal(t, ReasonUnavailable, outcome.Reason, "a key cannot be activated without the directory")

	outcome = h.evaluate("")
	assert.Equal(t, StateDemo, outcome.State, "without a key the offline deployment still runs demo")
}

// ---------------------------------------------------------------------------
// End-to-end scenarios
// ---------------------------------------------------------------------------

// Fresh activation, then a second machine, then the first machine again.
func TestScenarioWildcardBindsExactlyOnce(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	remote := activeProRecord()
	remote.HWID = WildcardHWID
	directory := &fakeDirectory{records: []Record{*remote}}

	makeEvaluator := func(machineDir, hwid string) *Evaluator {
		return NewEvaluator(
			fixedFingerprint(hwid),
			NewArtifactStore(filepath.Join(machineDir, "license.ssb"), NewObfuscatingCodec("s")),
			NewCacheStore(filepath.Join(machineDir, "license.json")),
			NewTamperStore(filepath.Join(machineDir, "config.json")),
			directory,
			Policy{Now: func() time.Time { return now }},
			discardLogger(),
		)
	}

	machineA := makeEvaluator(filepath.Join(dir, "a"), testHWID)
	machineB := makeEvaluator(filepath.Join(dir, "b"), otherHWID)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "a"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "b"), 0o755))

	// First claimant binds.
	first := machineA.Evaluate(context.Background(), remote.Key)
	require.Equal(t, StateAccepted, first.State)

	// The directory now reflects the bind (publication is external; the fake
	// simulates it).
	directory.records[0].HWID = testHWID

	// Different machine: hard reject, never a silent re-bind.
	second := machineB.Evaluate(context.Background(), remote.Key)
	assert.Equal(t, StateRejected, second.State)
	assert.Equal(t, ReasonHWIDMismatch, second.Reason)
	assert.Equal(t, testHWID, second.BoundHWID)

	// Same machine again: idempotent accept.
	third := machineA.Evaluate(context.Background(), remote.Key)
	assert.Equal(t, StateAccepted, third.State)
}
