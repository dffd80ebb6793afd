package registry

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"ssblic/internal/license"
)

// keyAlphabet is the character set for the random key groups.
const keyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// keyGroupLen and keyGroups shape the random part: two groups of four
// alphanumerics after the plan prefix.
const (
	keyGroupLen = 4
	keyGroups   = 2
)

// planPrefixes maps plan names to key prefixes. The prefix encodes the tier
// so support can read a plan off a key at a glance.
var planPrefixes = map[string]string{
	"STANDARD":           "SSB-STD",
	"PRO":                "SSB-PRO",
	"ELITE":              "SSB-ELITE",
	"CLOUD_SNIPER":       "SSB-CS",
	"CLOUD_SNIPER_PRO":   "SSB-CSP",
	"CLOUD_SNIPER_ELITE": "SSB-CSE",
}

// maxKeyAttempts bounds collision retries before giving up.
const maxKeyAttempts = 5

// Issuer creates, regenerates, and revokes license records.
type Issuer struct {
	store  Store
	now    func() time.Time
	logger *slog.Logger
}

// NewIssuer creates an issuance service over the given store.
func NewIssuer(store Store, logger *slog.Logger) *Issuer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Issuer{
		store:  store,
		now:    time.Now,
		logger: logger.With(slog.String("component", "issuer")),
	}
}

// WithClock overrides the issuance clock, for tests.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	i.now = now
	return i
}

// GenerateKey produces a key of the form <PREFIX>-XXXX-XXXX. Content is
// random, structure is deterministic.
func GenerateKey(plan string) (string, error) {
	prefix, ok := planPrefixes[strings.ToUpper(strings.TrimSpace(plan))]
	if !ok {
		prefix = planPrefixes["STANDARD"]
	}

	groups := make([]string, 0, keyGroups)
	for g := 0; g < keyGroups; g++ {
		var b strings.Builder
		for j := 0; j < keyGroupLen; j++ {
			n, err := rand.Int(rand.Reader, big.NewInt(int64(len(keyAlphabet))))
			if err != nil {
				return "", fmt.Errorf("failed to generate key: %w", err)
			}
			b.WriteByte(keyAlphabet[n.Int64()])
		}
		groups = append(groups, b.String())
	}
	return prefix + "-" + strings.Join(groups, "-"), nil
}

// Issue creates and stores a new active, unbound record. durationMonths <= 0
// issues a lifetime license.
func (i *Issuer) Issue(ctx context.Context, plan, email string, durationMonths int) (*license.Record, error) {
	plan = strings.ToUpper(strings.TrimSpace(plan))
	now := i.now().UTC()

	expires := license.LifetimeExpiry
	if durationMonths > 0 {
		expires = now.AddDate(0, durationMonths, 0).Format("2006-01-02")
	}

	rec := &license.Record{
		Plan:     plan,
		Email:    email,
		HWID:     license.WildcardHWID,
		Status:   license.StatusActive,
		Expires:  expires,
		IssuedAt: &now,
		OrderID:  uuid.NewString(),
	}

	// The key space makes collisions negligible, but the store enforces
	// uniqueness anyway; retry on the off chance.
	for attempt := 0; attempt < maxKeyAttempts; attempt++ {
		key, err := GenerateKey(plan)
		if err != nil {
			return nil, err
		}
		rec.Key = key

		err = i.store.Put(ctx, rec)
		if err == nil {
			i.logger.Info("license issued",
				slog.String("key", license.MaskKey(key)),
				slog.String("plan", plan),
				slog.String("expires", expires),
			)
			return rec.Clone(), nil
		}
		if err != ErrDuplicate {
			return nil, err
		}
	}
	return nil, fmt.Errorf("failed to generate a unique key after %d attempts", maxKeyAttempts)
}

// Regenerate replaces oldKey with a fresh record: same plan, email, and
// expiry, wildcard hwid, empty bound devices. The old record is revoked and
// removed from the active set so it can never validate again.
func (i *Issuer) Regenerate(ctx context.Context, oldKey string) (*license.Record, error) {
	old, err := i.store.Get(ctx, oldKey)
	if err != nil {
		return nil, err
	}

	now := i.now().UTC()
	next := &license.Record{
		Plan:            old.Plan,
		Email:           old.Email,
		HWID:            license.WildcardHWID,
		Status:          license.StatusActive,
		Expires:         old.Expires,
		IssuedAt:        &now,
		OrderID:         old.OrderID,
		RegeneratedFrom: old.Key,
		RegeneratedAt:   &now,
	}

	for attempt := 0; attempt < maxKeyAttempts; attempt++ {
		key, err := GenerateKey(old.Plan)
		if err != nil {
			return nil, err
		}
		next.Key = key

		err = i.store.Put(ctx, next)
		if err == nil {
			break
		}
		if err != ErrDuplicate {
			return nil, err
		}
		if attempt == maxKeyAttempts-1 {
			return nil, fmt.Errorf("failed to generate a unique key after %d attempts", maxKeyAttempts)
		}
	}

	// Old key ends its lifecycle here. Revocation before deletion keeps the
	// invalidation visible even to a reader holding a stale copy.
	if _, err := i.store.Update(ctx, oldKey, func(rec *license.Record) error {
		rec.Status = license.StatusRevoked
		return nil
	}); err != nil {
		return nil, err
	}
	if err := i.store.Delete(ctx, oldKey); err != nil {
		return nil, err
	}

	i.logger.Info("license regenerated",
		slog.String("old_key", license.MaskKey(oldKey)),
		slog.String("new_key", license.MaskKey(next.Key)),
	)
	return next.Clone(), nil
}

// Revoke marks a record revoked in place.
func (i *Issuer) Revoke(ctx context.Context, key string) (*license.Record, error) {
	rec, err := i.store.Update(ctx, key, func(rec *license.Record) error {
		rec.Status = license.StatusRevoked
		return nil
	})
	if err != nil {
		return nil, err
	}

	i.logger.Info("license revoked",
		slog.String("key", license.MaskKey(key)),
	)
	return rec, nil
}
