package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	apierrors "ssblic/internal/errors"
	"ssblic/internal/license"
	"ssblic/internal/registry"
)

// LicenseService provides business logic for license operations.
type LicenseService interface {
	// Client-facing operations
	Validate(ctx context.Context, key, hwid string) (*ValidateResponse, error)
	Activate(ctx context.Context, key, email, hwid string) (*ActivateResponse, error)
	BindDevice(ctx context.Context, key, hwid string) (*BindResponse, error)
	UnbindDevice(ctx context.Context, key, hwid string) (*BindResponse, error)

	// Admin operations
	Issue(ctx context.Context, plan, email string, durationMonths int) (*license.Record, error)
	Regenerate(ctx context.Context, key string) (*license.Record, error)
	Revoke(ctx context.Context, key string) (*license.Record, error)
	Status(ctx context.Context, key string) (*StatusResponse, error)

	// Directory lists every record for the licenses feed and register export.
	Directory(ctx context.Context) ([]*license.Record, error)
}

// ValidateResponse is the outcome of a server-side validity check.
type ValidateResponse struct {
	Valid   bool   `json:"valid"`
	Plan    string `json:"plan,omitempty"`
	Tier    string `json:"tier,omitempty"`
	Expires string `json:"expires,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// ActivateResponse confirms a first activation.
type ActivateResponse struct {
	Activated bool   `json:"activated"`
	Key       string `json:"key"`
	Plan      string `json:"plan"`
	Expires   string `json:"expires"`
	HWID      string `json:"hwid"`
}

// BindResponse reports the ledger state after a bind or unbind.
type BindResponse struct {
	Key         string `json:"key"`
	Bound       bool   `json:"bound"`
	DeviceCount int    `json:"device_count"`
	DeviceLimit int    `json:"device_limit,omitempty"`
}

// StatusResponse is the admin view of a single record. The key is masked so
// status output can be pasted into support threads safely.
type StatusResponse struct {
	Key           string     `json:"key"`
	Plan          string     `json:"plan"`
	Tier          string     `json:"tier"`
	Status        string     `json:"status"`
	Expires       string     `json:"expires"`
	HWID          string     `json:"hwid"`
	BoundDevices  []string   `json:"bound_devices"`
	DeviceLimit   int        `json:"device_limit"`
	ActivatedAt   *time.Time `json:"activated_at,omitempty"`
	LastValidated *time.Time `json:"last_validated,omitempty"`
}

type licenseService struct {
	store  registry.Store
	issuer *registry.Issuer
	ledger *registry.Ledger
	now    func() time.Time
	logger *slog.Logger
}

// NewLicenseService creates a license service over the given registry store.
func NewLicenseService(store registry.Store, issuer *registry.Issuer, ledger *registry.Ledger, logger *slog.Logger) LicenseService {
	if logger == nil {
		logger = slog.Default()
	}
	return &licenseService{
		store:  store,
		issuer: issuer,
		ledger: ledger,
		now:    time.Now,
		logger: logger.With(slog.String("service", "license")),
	}
}

// Validate checks a key/fingerprint pair against the registry. A wildcard
// record binds to the caller's fingerprint on first validation, matching the
// client's offline activation flow.
func (s *licenseService) Validate(ctx context.Context, key, hwid string) (*ValidateResponse, error) {
	rec, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return &ValidateResponse{Valid: false, Reason: string(license.ReasonNotFound)}, nil
		}
		return nil, err
	}

	if rec.Status == license.StatusRevoked || rec.Status == license.StatusSuspended {
		return &ValidateResponse{Valid: false, Reason: string(license.ReasonRevoked)}, nil
	}
	if rec.Expired(s.now()) {
		return &ValidateResponse{Valid: false, Reason: string(license.ReasonExpired)}, nil
	}

	switch {
	case rec.HWID == license.WildcardHWID:
		rec, err = s.bindFirstDevice(ctx, key, hwid)
		if errors.Is(err, errWildcardClaimed) {
			// Another machine won the first-bind race between our read and
			// the update; same soft rejection as the non-race path.
			return &ValidateResponse{Valid: false, Reason: string(license.ReasonHWIDMismatch)}, nil
		}
		if err != nil {
			return nil, err
		}
	case rec.HWID == hwid:
		rec, err = s.touch(ctx, key)
		if err != nil {
			return nil, err
		}
	default:
		s.logger.Warn("validation rejected: fingerprint mismatch",
			slog.String("key", license.MaskKey(key)),
		)
		return &ValidateResponse{Valid: false, Reason: string(license.ReasonHWIDMismatch)}, nil
	}

	return &ValidateResponse{
		Valid:   true,
		Plan:    rec.Plan,
		Tier:    string(rec.Tier()),
		Expires: rec.Expires,
	}, nil
}

// Activate performs first activation: binds the caller's fingerprint, records
// the email, and stamps the activation time. Activating a key already bound
// to a different device is a conflict.
func (s *licenseService) Activate(ctx context.Context, key, email, hwid string) (*ActivateResponse, error) {
	rec, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil, apierrors.ErrLicenseNotFound
		}
		return nil, err
	}

	if rec.Status == license.StatusRevoked || rec.Status == license.StatusSuspended {
		return nil, apierrors.ErrLicenseRevoked
	}
	if rec.Expired(s.now()) {
		return nil, apierrors.ErrLicenseExpired
	}
	if rec.HWID != license.WildcardHWID && rec.HWID != hwid {
		return nil, apierrors.LicenseAlreadyActivatedError(rec.HWID)
	}

	now := s.now().UTC()
	rec, err = s.store.Update(ctx, key, func(rec *license.Record) error {
		rec.HWID = hwid
		if email != "" {
			rec.Email = email
		}
		if rec.ActivatedAt == nil {
			rec.ActivatedAt = &now
		}
		rec.LastOnlineOK = &now
		if !containsDevice(rec.BoundDevices, hwid) {
			rec.BoundDevices = append(rec.BoundDevices, hwid)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("license activated",
		slog.String("key", license.MaskKey(key)),
		slog.String("plan", rec.Plan),
	)
	return &ActivateResponse{
		Activated: true,
		Key:       rec.Key,
		Plan:      rec.Plan,
		Expires:   rec.Expires,
		HWID:      hwid,
	}, nil
}

// BindDevice authorizes an additional fingerprint under an activated key,
// bounded by the plan's device ceiling.
func (s *licenseService) BindDevice(ctx context.Context, key, hwid string) (*BindResponse, error) {
	result, err := s.ledger.Bind(ctx, key, hwid)
	if err != nil {
		if errors.Is(err, registry.ErrCapacityExceeded) {
			return nil, apierrors.DeviceCapacityError(result.Count, result.Max)
		}
		if errors.Is(err, registry.ErrNotFound) {
			return nil, apierrors.ErrLicenseNotFound
		}
		return nil, err
	}
	return &BindResponse{
		Key:         license.MaskKey(key),
		Bound:       result.Bound,
		DeviceCount: result.Count,
		DeviceLimit: result.Max,
	}, nil
}

// UnbindDevice releases a fingerprint. Absent fingerprints unbind as a no-op.
func (s *licenseService) UnbindDevice(ctx context.Context, key, hwid string) (*BindResponse, error) {
	result, err := s.ledger.Unbind(ctx, key, hwid)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil, apierrors.ErrLicenseNotFound
		}
		return nil, err
	}
	return &BindResponse{
		Key:         license.MaskKey(key),
		Bound:       false,
		DeviceCount: result.Count,
	}, nil
}

func (s *licenseService) Issue(ctx context.Context, plan, email string, durationMonths int) (*license.Record, error) {
	return s.issuer.Issue(ctx, plan, email, durationMonths)
}

func (s *licenseService) Regenerate(ctx context.Context, key string) (*license.Record, error) {
	rec, err := s.issuer.Regenerate(ctx, key)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil, apierrors.ErrLicenseNotFound
		}
		return nil, err
	}
	return rec, nil
}

func (s *licenseService) Revoke(ctx context.Context, key string) (*license.Record, error) {
	rec, err := s.issuer.Revoke(ctx, key)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil, apierrors.ErrLicenseNotFound
		}
		return nil, err
	}
	return rec, nil
}

func (s *licenseService) Status(ctx context.Context, key string) (*StatusResponse, error) {
	rec, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil, apierrors.ErrLicenseNotFound
		}
		return nil, err
	}

	return &StatusResponse{
		Key:           license.MaskKey(rec.Key),
		Plan:          rec.Plan,
		Tier:          string(rec.Tier()),
		Status:        string(rec.Status),
		Expires:       rec.Expires,
		HWID:          rec.HWID,
		BoundDevices:  rec.BoundDevices,
		DeviceLimit:   license.DeviceLimit(rec.Plan),
		ActivatedAt:   rec.ActivatedAt,
		LastValidated: rec.LastOnlineOK,
	}, nil
}

func (s *licenseService) Directory(ctx context.Context) ([]*license.Record, error) {
	return s.store.List(ctx)
}

// errWildcardClaimed reports that another device bound the wildcard record
// between the caller's read and the atomic update.
var errWildcardClaimed = errors.New("wildcard record already claimed by another device")

// bindFirstDevice claims a wildcard record for the caller's fingerprint. The
// claim happens inside Store.Update so two machines racing on a fresh key
// cannot both win.
func (s *licenseService) bindFirstDevice(ctx context.Context, key, hwid string) (*license.Record, error) {
	now := s.now().UTC()
	rec, err := s.store.Update(ctx, key, func(rec *license.Record) error {
		if rec.HWID != license.WildcardHWID && rec.HWID != hwid {
			return errWildcardClaimed
		}
		rec.HWID = hwid
		if rec.ActivatedAt == nil {
			rec.ActivatedAt = &now
		}
		rec.LastOnlineOK = &now
		if !containsDevice(rec.BoundDevices, hwid) {
			rec.BoundDevices = append(rec.BoundDevices, hwid)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("license bound to first device",
		slog.String("key", license.MaskKey(key)),
		slog.String("plan", rec.Plan),
	)
	return rec, nil
}

func (s *licenseService) touch(ctx context.Context, key string) (*license.Record, error) {
	now := s.now().UTC()
	return s.store.Update(ctx, key, func(rec *license.Record) error {
		rec.LastOnlineOK = &now
		return nil
	})
}

func containsDevice(devices []string, hwid string) bool {
	for _, dev := range devices {
		if dev == hwid {
			return true
		}
	}
	return false
}
