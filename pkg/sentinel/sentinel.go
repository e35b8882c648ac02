package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: no registration record exists for the device
// - ErrIdentityMismatch: stored record belongs to a different device identity
// - ErrUnavailable: backing store temporarily unreachable
//
// For validation errors (bad input, missing fields), use pkg/errors directly.
var (
	ErrNotFound         = errors.New("not found")
	ErrIdentityMismatch = errors.New("device identity mismatch")
	ErrUnavailable      = errors.New("unavailable")
)
