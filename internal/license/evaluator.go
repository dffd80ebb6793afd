package license

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// State is the terminal outcome class of one evaluation.
type State string

const (
	StateAccepted State = "accepted"
	StateRejected State = "rejected"
	StateDemo     State = "demo"
)

// Outcome is the result of one evaluation. Demo is the default
// unauthenticated state, not an error.
type Outcome struct {
	State     State   `json:"state"`
	Tier      Tier    `json:"tier"`
	Reason    Reason  `json:"reason,omitempty"`
	BoundHWID string  `json:"bound_hwid,omitempty"`
	Warning   bool    `json:"warning,omitempty"`
	Record    *Record `json:"record,omitempty"`
}

// Accepted reports whether the evaluation granted a licensed tier.
func (o Outcome) Accepted() bool {
	return o.State == StateAccepted
}

// DefaultGraceWindow bounds how long an offline client is trusted after its
// last successful online check.
const DefaultGraceWindow = 48 * time.Hour

// Policy parameterizes evaluation so one evaluator serves every deployment
// target instead of per-target copies of the logic.
type Policy struct {
	GraceWindow time.Duration
	Now         func() time.Time
}

// DefaultPolicy returns the standard policy: 48 hour grace, wall clock.
func DefaultPolicy() Policy {
	return Policy{GraceWindow: DefaultGraceWindow, Now: time.Now}
}

func (p Policy) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p Policy) grace() time.Duration {
	if p.GraceWindow > 0 {
		return p.GraceWindow
	}
	return DefaultGraceWindow
}

// Fingerprinter supplies the current device fingerprint.
type Fingerprinter interface {
	Generate() string
}

// Evaluator is the license validation state machine. One instance is shared
// by every call site; all state lives in the three local stores and the
// remote directory.
type Evaluator struct {
	fingerprint Fingerprinter
	artifacts   *ArtifactStore
	cache       *CacheStore
	tamper      *TamperStore
	directory   Directory
	policy      Policy
	metrics     *EvaluationMetrics
	logger      *slog.Logger
}

// NewEvaluator assembles an evaluator. directory may be nil for fully
// offline deployments, in which case key activation is rejected as
// unavailable; metrics may be nil.
func NewEvaluator(
	fingerprint Fingerprinter,
	artifacts *ArtifactStore,
	cache *CacheStore,
	tamper *TamperStore,
	directory Directory,
	policy Policy,
	logger *slog.Logger,
) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		fingerprint: fingerprint,
		artifacts:   artifacts,
		cache:       cache,
		tamper:      tamper,
		directory:   directory,
		policy:      policy,
		logger:      logger.With(slog.String("component", "evaluator")),
	}
}

// SetMetrics attaches evaluation metrics instruments.
func (e *Evaluator) SetMetrics(m *EvaluationMetrics) {
	e.metrics = m
}

// Evaluate runs one full evaluation. key is the user-supplied license key for
// the first-activation path; pass "" when only local state should be
// consulted. Steps run strictly in priority order and the first terminal
// outcome wins.
func (e *Evaluator) Evaluate(ctx context.Context, key string) Outcome {
	start := e.policy.now()
	outcome := e.evaluate(ctx, strings.TrimSpace(key))

	e.metrics.RecordEvaluation(ctx, outcome, e.policy.now().Sub(start))
	e.logger.LogAttrs(ctx, outcomeLevel(outcome), "license evaluation completed",
		slog.String("state", string(outcome.State)),
		slog.String("tier", string(outcome.Tier)),
		slog.String("reason", string(outcome.Reason)),
		slog.Bool("warning", outcome.Warning),
		slog.Duration("duration", e.policy.now().Sub(start)),
	)
	return outcome
}

func (e *Evaluator) evaluate(ctx context.Context, key string) Outcome {
	now := e.policy.now()
	hwid := e.fingerprint.Generate()

	// Step 1: opaque artifact. Bound by a previous successful flow, so this
	// path is offline-first and needs no network at all.
	if rec, ok := e.artifacts.Load(); ok {
		if !rec.Expired(now) && (rec.HWID == WildcardHWID || rec.HWID == hwid) {
			return Outcome{State: StateAccepted, Tier: TierFromPlan(rec.Plan), Record: rec}
		}
	}

	cached, _ := e.cache.Load()

	// Step 2: tamper check. A tampered local state cannot support a
	// "succeeded before" grace claim either, so there is no fall-through to
	// network validation.
	if !e.tamper.Check(cached) {
		return Outcome{State: StateRejected, Tier: TierNone, Reason: ReasonTampered}
	}

	// Step 3: plaintext cache path.
	if cached != nil {
		return e.evaluateCached(ctx, cached, hwid, now)
	}

	// Step 4: explicit key entry / first activation.
	if key != "" {
		return e.evaluateKey(ctx, key, hwid, now)
	}

	// Step 5: nothing present at all.
	return Outcome{State: StateDemo, Tier: TierNone}
}

// evaluateCached covers step 3: local checks first, then best-effort online
// refresh, then the bounded offline grace window.
func (e *Evaluator) evaluateCached(ctx context.Context, cached *Record, hwid string, now time.Time) Outcome {
	if cached.Expired(now) {
		return Outcome{State: StateRejected, Tier: TierNone, Reason: ReasonExpired, Record: cached}
	}
	if cached.Bound() && cached.HWID != hwid {
		return Outcome{State: StateRejected, Tier: TierNone, Reason: ReasonHWIDMismatch, BoundHWID: cached.HWID, Record: cached}
	}
	if cached.Status != StatusActive {
		return Outcome{State: StateRejected, Tier: TierNone, Reason: ReasonRevoked, Record: cached}
	}

	if e.directory != nil {
		records, err := e.directory.FetchAll(ctx)
		if err == nil {
			return e.refreshFromRemote(records, cached, hwid, now)
		}
	}

	// Offline: grace window against the last successful online check.
	if last := cached.LastOnlineOK; last != nil && now.Sub(*last) <= e.policy.grace() {
		return Outcome{State: StateAccepted, Tier: TierFromPlan(cached.Plan), Record: cached}
	}

	// Grace expired while offline. A hard lock on mere unreachability is a
	// worse failure mode than brief staleness, so accept with a warning the
	// host must surface to the user.
	e.logger.Warn("offline grace window exceeded, accepting last known license",
		slog.String("key", MaskKey(cached.Key)),
	)
	return Outcome{State: StateAccepted, Tier: TierFromPlan(cached.Plan), Warning: true, Record: cached}
}

// refreshFromRemote folds server truth into the cache and re-evaluates
// against the fresh values. A server-side revoke takes effect even when the
// local cache says active, and the revoked status is persisted so it survives
// restarts and later offline checks.
func (e *Evaluator) refreshFromRemote(records []Record, cached *Record, hwid string, now time.Time) Outcome {
	remote := FindByKey(records, cached.Key)
	if remote == nil {
		// A successful fetch without the key means the license no longer
		// exists (revoked and purged, or replaced by regeneration).
		return Outcome{State: StateRejected, Tier: TierNone, Reason: ReasonNotFound, Record: cached}
	}

	cached.Plan = remote.Plan
	cached.Expires = remote.Expires
	cached.Status = remote.Status
	if remote.Bound() {
		cached.HWID = remote.HWID
	}

	if cached.Status != StatusActive {
		e.persist(cached, now, false)
		return Outcome{State: StateRejected, Tier: TierNone, Reason: ReasonRevoked, Record: cached}
	}
	if cached.Expired(now) {
		e.persist(cached, now, false)
		return Outcome{State: StateRejected, Tier: TierNone, Reason: ReasonExpired, Record: cached}
	}
	if cached.Bound() && cached.HWID != hwid {
		e.persist(cached, now, false)
		return Outcome{State: StateRejected, Tier: TierNone, Reason: ReasonHWIDMismatch, BoundHWID: cached.HWID, Record: cached}
	}

	e.persist(cached, now, true)
	return Outcome{State: StateAccepted, Tier: TierFromPlan(cached.Plan), Record: cached}
}

// evaluateKey covers step 4: directory lookup with wildcard first-bind.
func (e *Evaluator) evaluateKey(ctx context.Context, key, hwid string, now time.Time) Outcome {
	if e.directory == nil {
		// An entered key cannot be verified without the directory; same
		// rejection as an unreachable one.
		return Outcome{State: StateRejected, Tier: TierNone, Reason: ReasonUnavailable}
	}

	records, err := e.directory.FetchAll(ctx)
	if err != nil {
		// Explicit activation needs the directory; there is no prior local
		// state to fall back on.
		return Outcome{State: StateRejected, Tier: TierNone, Reason: ReasonUnavailable}
	}

	remote := FindByKey(records, key)
	if remote == nil {
		return Outcome{State: StateRejected, Tier: TierNone, Reason: ReasonNotFound}
	}

	rec := remote.Clone()
	if rec.Status != StatusActive {
		return Outcome{State: StateRejected, Tier: TierNone, Reason: ReasonRevoked, Record: rec}
	}
	if rec.Expired(now) {
		return Outcome{State: StateRejected, Tier: TierNone, Reason: ReasonExpired, Record: rec}
	}

	switch {
	case rec.HWID == WildcardHWID:
		// First activation: the wildcard binds to the first claimant.
		rec.HWID = hwid
		activated := now.UTC()
		rec.ActivatedAt = &activated
		e.metrics.RecordActivation(ctx, rec.Plan)
		e.logger.Info("license activated",
			slog.String("key", MaskKey(rec.Key)),
			slog.String("plan", rec.Plan),
		)
	case rec.HWID == hwid:
		// Re-activation on the same machine is idempotent.
	default:
		return Outcome{State: StateRejected, Tier: TierNone, Reason: ReasonHWIDMismatch, BoundHWID: rec.HWID, Record: rec}
	}

	e.persist(rec, now, true)
	if err := e.artifacts.Save(rec); err != nil {
		e.logger.Warn("failed to write license artifact",
			slog.String("error", err.Error()),
		)
	}
	return Outcome{State: StateAccepted, Tier: TierFromPlan(rec.Plan), Record: rec}
}

// persist writes the cache through the trusted path: cache file first, then
// the tamper baseline, so the next integrity check accepts the refresh.
func (e *Evaluator) persist(rec *Record, now time.Time, online bool) {
	var err error
	if online {
		err = e.cache.MarkOnline(rec, now)
	} else {
		err = e.cache.Save(rec)
	}
	if err != nil {
		e.logger.Warn("failed to persist license cache",
			slog.String("error", err.Error()),
		)
		return
	}
	if err := e.tamper.Adopt(rec); err != nil {
		e.logger.Warn("failed to update tamper baseline",
			slog.String("error", err.Error()),
		)
	}
}

func outcomeLevel(o Outcome) slog.Level {
	switch {
	case o.State == StateRejected:
		return slog.LevelWarn
	case o.Warning:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
