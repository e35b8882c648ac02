// Package reconciler decides, purely locally, whether an ensure call needs a
// network round-trip. Storage and HTTP concerns live in other layers; this
// stays pure.
package reconciler

import (
	"time"

	"capsync/internal/capability/models"
	"capsync/pkg/domain"
)

// Compatibility decides whether an already-registered parameter payload
// still satisfies the desired one. The default is exact equality; swap in a
// laxer predicate once real server semantics allow it.
type Compatibility func(desired, registered models.Params) bool

// ExactMatch is the conservative default: payloads must be byte-identical
// under canonical JSON.
func ExactMatch(desired, registered models.Params) bool {
	return models.EqualParams(desired, registered)
}

// Reconciler computes the delta between a desired capability set and the
// last confirmed registration.
type Reconciler struct {
	compatible Compatibility
	recordTTL  time.Duration
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithCompatibility replaces the parameter compatibility predicate.
func WithCompatibility(c Compatibility) Option {
	return func(r *Reconciler) {
		if c != nil {
			r.compatible = c
		}
	}
}

// WithRecordTTL treats records older than ttl as absent, forcing periodic
// full re-registration. Zero disables the check.
func WithRecordTTL(ttl time.Duration) Option {
	return func(r *Reconciler) {
		r.recordTTL = ttl
	}
}

func New(opts ...Option) *Reconciler {
	r := &Reconciler{compatible: ExactMatch}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile decides whether network action is required for deviceID to hold
// desired. It must run before any network component is invoked; a
// NoActionNeeded verdict completes the ensure call with zero requests.
//
// The record is treated as absent when it is nil, belongs to a different
// device identity, or has outlived the configured TTL. In all three cases
// the full desired set is the delta.
func (r *Reconciler) Reconcile(deviceID domain.DeviceID, desired models.Set, record *models.RegistrationRecord, now time.Time) models.ReconciliationResult {
	if !r.usable(deviceID, record, now) {
		return models.ReconciliationResult{
			Action: models.NeedsRegistration,
			Delta:  desired.Clone(),
		}
	}

	delta := make(models.Set)
	for id, params := range desired {
		registered, ok := record.Registered[id]
		if !ok || !r.compatible(params, registered) {
			delta[id] = params
		}
	}

	if len(delta) == 0 {
		return models.ReconciliationResult{Action: models.NoActionNeeded}
	}
	return models.ReconciliationResult{Action: models.NeedsRegistration, Delta: delta}
}

func (r *Reconciler) usable(deviceID domain.DeviceID, record *models.RegistrationRecord, now time.Time) bool {
	if record == nil {
		return false
	}
	if record.DeviceID != deviceID {
		// Identity changed since the record was written; stale by rule.
		return false
	}
	if r.recordTTL > 0 && now.Sub(record.RegisteredAt) > r.recordTTL {
		return false
	}
	return true
}
