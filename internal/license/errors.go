package license

import "errors"

// Reason identifies why an evaluation or server-side validation rejected.
// Reasons are result values surfaced to the user, not raised errors.
type Reason string

const (
	ReasonNone         Reason = ""
	ReasonNotFound     Reason = "not_found"
	ReasonRevoked      Reason = "revoked"
	ReasonExpired      Reason = "expired"
	ReasonHWIDMismatch Reason = "hwid_mismatch"
	ReasonTampered     Reason = "tampered"
	ReasonUnavailable  Reason = "unavailable"
)

// ErrUnavailable is the single error the directory client returns for any
// network, parse, or non-2xx failure. Only the evaluator turns it into a
// policy decision.
var ErrUnavailable = errors.New("license directory unavailable")
