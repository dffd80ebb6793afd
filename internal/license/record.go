package license

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// WildcardHWID marks a record that has not yet been bound to any device.
// It is consumed on first activation.
const WildcardHWID = "*"

// LifetimeExpiry is the sentinel far-future date meaning the license never
// expires.
const LifetimeExpiry = "2099-12-31"

// expiryLayout is the date-only format used for the expires field. Expiry is
// always compared against the evaluator's current UTC date, never a
// time-of-day.
const expiryLayout = "2006-01-02"

// Status is the lifecycle state of a license record.
type Status string

const (
	StatusActive    Status = "active"
	StatusRevoked   Status = "revoked"
	StatusSuspended Status = "suspended"
	StatusDemo      Status = "demo"
)

// Tier is the capability level granted by a license plan.
type Tier string

const (
	TierElite    Tier = "ELITE"
	TierPro      Tier = "PRO"
	TierStandard Tier = "STD"
	TierNone     Tier = "NONE"
)

// Known plan names. Plans are free-form strings on the wire; capability
// decisions go through TierFromPlan.
const (
	PlanStandard = "STANDARD"
	PlanPro      = "PRO"
	PlanElite    = "ELITE"
)

// Record is the central license entity. The key is immutable once issued;
// the hwid moves away from the wildcard exactly once, on first activation.
type Record struct {
	Key             string     `json:"key"`
	Plan            string     `json:"plan"`
	Email           string     `json:"email,omitempty"`
	HWID            string     `json:"hwid"`
	BoundDevices    []string   `json:"bound_devices,omitempty"`
	Status          Status     `json:"status"`
	Expires         string     `json:"expires,omitempty"`
	IssuedAt        *time.Time `json:"issued_at,omitempty"`
	ActivatedAt     *time.Time `json:"activated_at,omitempty"`
	OrderID         string     `json:"order_id,omitempty"`
	RegeneratedFrom string     `json:"regenerated_from,omitempty"`
	RegeneratedAt   *time.Time `json:"regenerated_at,omitempty"`
	LastOnlineOK    *time.Time `json:"last_online_ok,omitempty"`
}

// TierFromPlan normalizes a plan string into the closed tier set by
// case-insensitive prefix match. Total: every input maps to exactly one tier,
// unrecognized input maps to TierNone, which the host must treat as dry-run
// only.
func TierFromPlan(plan string) Tier {
	p := strings.ToUpper(strings.TrimSpace(plan))
	switch {
	case strings.HasPrefix(p, "ELITE"):
		return TierElite
	case strings.HasPrefix(p, "PRO"):
		return TierPro
	case strings.HasPrefix(p, "STD"), strings.HasPrefix(p, "STANDARD"):
		return TierStandard
	default:
		return TierNone
	}
}

// DeviceLimit returns the per-plan ceiling on concurrently bound devices.
func DeviceLimit(plan string) int {
	if TierFromPlan(plan) == TierElite {
		return 3
	}
	return 1
}

// Expired reports whether the record's expiry date has passed relative to
// now's UTC date. An empty expires field means non-expiring. An unparseable
// date counts as expired: a record we cannot read the lifetime of must not
// grant access.
func (r *Record) Expired(now time.Time) bool {
	if r.Expires == "" {
		return false
	}
	exp, err := time.Parse(expiryLayout, r.Expires)
	if err != nil {
		return true
	}
	today := now.UTC().Truncate(24 * time.Hour)
	return today.After(exp)
}

// Bound reports whether the record has been bound to a specific device.
func (r *Record) Bound() bool {
	return r.HWID != "" && r.HWID != WildcardHWID
}

// Tier returns the capability tier the record grants. A record in any status
// other than active always grants TierNone.
func (r *Record) Tier() Tier {
	if r.Status != StatusActive {
		return TierNone
	}
	return TierFromPlan(r.Plan)
}

// Lifetime reports whether the record never expires.
func (r *Record) Lifetime() bool {
	return r.Expires == "" || r.Expires == LifetimeExpiry
}

// ApplyDefaults fills the normalization defaults used when a directory entry
// omits fields: STANDARD plan, lifetime expiry, active status, unbound hwid.
func (r *Record) ApplyDefaults() {
	if r.Plan == "" {
		r.Plan = PlanStandard
	}
	if r.Expires == "" {
		r.Expires = LifetimeExpiry
	}
	if r.Status == "" {
		r.Status = StatusActive
	}
	if r.HWID == "" {
		r.HWID = WildcardHWID
	}
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	out := *r
	if r.BoundDevices != nil {
		out.BoundDevices = append([]string(nil), r.BoundDevices...)
	}
	return &out
}

// MaskKey hides all but the prefix and the final group of a license key for
// display in status responses and logs.
func MaskKey(key string) string {
	parts := strings.Split(key, "-")
	if len(parts) < 3 {
		if len(key) <= 4 {
			return key
		}
		return key[:4] + strings.Repeat("*", len(key)-4)
	}
	masked := make([]string, len(parts))
	masked[0] = parts[0]
	for i := 1; i < len(parts)-1; i++ {
		masked[i] = strings.Repeat("*", len(parts[i]))
	}
	masked[len(parts)-1] = parts[len(parts)-1]
	return strings.Join(masked, "-")
}

// CanonicalJSON renders the record in canonical form: compact JSON with keys
// in stable sorted order. Both the tamper digest and the codec digest are
// computed over this form so independent writers agree on the bytes.
func CanonicalJSON(r *Record) ([]byte, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}
	// Round-trip through a map: encoding/json sorts map keys.
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to canonicalize record: %w", err)
	}
	return json.Marshal(m)
}
