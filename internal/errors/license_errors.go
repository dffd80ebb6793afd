package errors

import (
	"fmt"
	"net/http"
)

// LicenseRejectionDetails carries the support-triage context for a rejected
// license check. The bound fingerprint is included on mismatches so the user
// can identify the other machine; secrets and digests never appear here.
type LicenseRejectionDetails struct {
	Reason       string `json:"reason"`
	BoundHWID    string `json:"bound_hwid,omitempty"`
	DeviceCount  int    `json:"device_count,omitempty"`
	DeviceLimit  int    `json:"device_limit,omitempty"`
	SupportEmail string `json:"support_email,omitempty"`
}

// License rejection errors mapped onto the API surface.
var (
	ErrLicenseRevoked = New(http.StatusForbidden, "LICENSE_REVOKED", "License has been revoked or suspended")
	ErrLicenseExpired = New(http.StatusForbidden, "LICENSE_EXPIRED", "License has expired")
)

// HWIDMismatchError creates a rejection carrying the fingerprint the license
// is actually bound to.
func HWIDMismatchError(boundHWID string) *APIError {
	return NewWithDetails(
		http.StatusForbidden,
		"HWID_MISMATCH",
		"License is bound to a different device",
		LicenseRejectionDetails{Reason: "hwid_mismatch", BoundHWID: boundHWID},
	)
}

// DeviceCapacityError creates a rejection stating current count and ceiling so
// the user understands why the bind was refused.
func DeviceCapacityError(count, max int) *APIError {
	return NewWithDetails(
		http.StatusConflict,
		"DEVICE_CAPACITY_EXCEEDED",
		fmt.Sprintf("Device limit reached (%d of %d devices bound)", count, max),
		LicenseRejectionDetails{Reason: "capacity_exceeded", DeviceCount: count, DeviceLimit: max},
	)
}

// LicenseAlreadyActivatedError creates a conflict for re-activation attempts
// from a different device.
func LicenseAlreadyActivatedError(boundHWID string) *APIError {
	return NewWithDetails(
		http.StatusConflict,
		"LICENSE_ALREADY_ACTIVATED",
		"This license has already been activated on another device",
		LicenseRejectionDetails{Reason: "already_activated", BoundHWID: boundHWID},
	)
}
