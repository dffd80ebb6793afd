// Package license implements the license validation core: the record model,
// the opaque local artifact codec, the tamper-evidence store guarding the
// plaintext cache, the remote directory client, and the evaluator that decides
// whether this machine may run in licensed mode.
//
// The evaluator is a single state machine shared by every call site (CLI, API,
// background revalidation). Its policy knobs, grace window and clock, are
// parameters, not copies of the logic.
//
// Evaluation order, first terminal outcome wins:
//
//  1. Opaque artifact: decodable, unexpired, fingerprint matches or wildcard
//     → accept offline, no network needed.
//  2. Tamper check on the plaintext cache → reject "tampered" on mismatch.
//  3. Plaintext cache: expiry, fingerprint, status checks, then best-effort
//     online refresh; offline falls back to the bounded grace window.
//  4. Explicit key: directory lookup with wildcard first-bind semantics.
//  5. Nothing at all → demo mode. Demo is the default unauthenticated state,
//     not an error.
//
// Rejections are result values, never panics or raised errors: a refused
// license is an expected, user-facing outcome.
package license
