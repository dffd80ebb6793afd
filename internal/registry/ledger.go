package registry

import (
	"context"
	"errors"
	"log/slog"

	"ssblic/internal/license"
)

// ErrCapacityExceeded is returned when a bind would push a license past its
// plan's device ceiling.
var ErrCapacityExceeded = errors.New("device capacity exceeded")

// BindResult reports the ledger state after a bind or a capacity refusal.
// Count and Max are always populated so a refusal can explain itself.
type BindResult struct {
	Bound bool `json:"bound"`
	Count int  `json:"count"`
	Max   int  `json:"max"`
}

// UnbindResult reports whether a device was actually removed. A fingerprint
// that was never bound is a soft "nothing to do", not an error.
type UnbindResult struct {
	Unbound bool `json:"unbound"`
	Count   int  `json:"count"`
}

// Ledger tracks which device fingerprints are authorized under each license
// key, bounded by the plan's device ceiling.
type Ledger struct {
	store  Store
	logger *slog.Logger
}

// NewLedger creates a device-binding ledger over the given store.
func NewLedger(store Store, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		store:  store,
		logger: logger.With(slog.String("component", "ledger")),
	}
}

// Bind authorizes fingerprint under key. Idempotent: re-binding an existing
// fingerprint succeeds without mutation. The read-check-write runs inside
// Store.Update, so two concurrent binds can never both pass the cap.
func (l *Ledger) Bind(ctx context.Context, key, fingerprint string) (BindResult, error) {
	var result BindResult

	_, err := l.store.Update(ctx, key, func(rec *license.Record) error {
		max := license.DeviceLimit(rec.Plan)
		result.Max = max

		for _, dev := range rec.BoundDevices {
			if dev == fingerprint {
				result.Bound = true
				result.Count = len(rec.BoundDevices)
				return nil
			}
		}

		if len(rec.BoundDevices) >= max {
			result.Count = len(rec.BoundDevices)
			return ErrCapacityExceeded
		}

		rec.BoundDevices = append(rec.BoundDevices, fingerprint)
		result.Bound = true
		result.Count = len(rec.BoundDevices)
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrCapacityExceeded) {
			l.logger.Warn("device bind refused at capacity",
				slog.String("key", license.MaskKey(key)),
				slog.Int("count", result.Count),
				slog.Int("max", result.Max),
			)
			return result, ErrCapacityExceeded
		}
		return BindResult{}, err
	}

	return result, nil
}

// Unbind removes fingerprint from key's ledger. Removing an absent
// fingerprint returns Unbound: false rather than an error.
func (l *Ledger) Unbind(ctx context.Context, key, fingerprint string) (UnbindResult, error) {
	var result UnbindResult

	_, err := l.store.Update(ctx, key, func(rec *license.Record) error {
		for i, dev := range rec.BoundDevices {
			if dev == fingerprint {
				rec.BoundDevices = append(rec.BoundDevices[:i], rec.BoundDevices[i+1:]...)
				result.Unbound = true
				break
			}
		}
		result.Count = len(rec.BoundDevices)
		return nil
	})
	if err != nil {
		return UnbindResult{}, err
	}

	return result, nil
}

// Devices lists the fingerprints currently bound under key.
func (l *Ledger) Devices(ctx context.Context, key string) ([]string, error) {
	rec, err := l.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return rec.BoundDevices, nil
}
