// Package models holds the capability value types. Everything here has pure
// value semantics; storage and network concerns live in other layers.
package models

import (
	"bytes"
	"encoding/json"
	"time"

	"capsync/pkg/domain"
)

// Params is the optional structured parameter payload attached to a
// capability. A nil map and an empty map are equivalent.
type Params map[string]any

// Set maps capability identifiers to their parameter payloads. Keys are
// unique by construction; order is irrelevant.
type Set map[string]Params

// Clone returns a deep copy so callers can hold a Set without sharing
// mutable state with the source.
func (s Set) Clone() Set {
	if s == nil {
		return nil
	}
	out := make(Set, len(s))
	for id, params := range s {
		if params == nil {
			out[id] = nil
			continue
		}
		cp := make(Params, len(params))
		for k, v := range params {
			cp[k] = v
		}
		out[id] = cp
	}
	return out
}

// IsSubsetOf reports whether every capability in s exists in other with an
// equal parameter payload. Compatibility beyond exact equality is the
// reconciler's concern, not the model's.
func (s Set) IsSubsetOf(other Set) bool {
	for id, params := range s {
		otherParams, ok := other[id]
		if !ok || !EqualParams(params, otherParams) {
			return false
		}
	}
	return true
}

// Union merges two sets into a new one, with other winning on key collision.
// Total function: no side effects, no failure modes.
func (s Set) Union(other Set) Set {
	out := make(Set, len(s)+len(other))
	for id, params := range s {
		out[id] = params
	}
	for id, params := range other {
		out[id] = params
	}
	return out
}

// Fingerprint returns a stable digest input for the set: canonical JSON.
// encoding/json sorts map keys, so equal sets produce equal bytes.
func (s Set) Fingerprint() string {
	if len(s) == 0 {
		return "{}"
	}
	b, err := json.Marshal(s)
	if err != nil {
		// Params hold JSON-representable values by contract; a marshal
		// failure means a caller smuggled in a channel or func.
		panic("capability set is not JSON-representable: " + err.Error())
	}
	return string(b)
}

// EqualParams compares two parameter payloads by canonical JSON. Nil and
// empty payloads compare equal.
func EqualParams(a, b Params) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	aj, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bj, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(aj, bj)
}

// RegistrationRecord is the last server-confirmed registration for a device.
// Owned exclusively by the record store; overwritten whole (never partially
// mutated) after each confirmed successful registration.
type RegistrationRecord struct {
	DeviceID     domain.DeviceID `json:"device_id"`
	Registered   Set             `json:"registered"`
	RegisteredAt time.Time       `json:"registered_at"`
}

// Clone deep-copies the record so store implementations can hand out copies
// without aliasing their internal state.
func (r *RegistrationRecord) Clone() *RegistrationRecord {
	if r == nil {
		return nil
	}
	return &RegistrationRecord{
		DeviceID:     r.DeviceID,
		Registered:   r.Registered.Clone(),
		RegisteredAt: r.RegisteredAt,
	}
}

// Action is the reconciler's verdict for an ensure call.
type Action int

const (
	// NoActionNeeded means the desired set is already covered by the last
	// confirmed registration; the call completes with no network activity.
	NoActionNeeded Action = iota

	// NeedsRegistration means Delta must be sent to the account server.
	NeedsRegistration
)

func (a Action) String() string {
	switch a {
	case NoActionNeeded:
		return "no_action_needed"
	case NeedsRegistration:
		return "needs_registration"
	default:
		return "unknown"
	}
}

// ReconciliationResult is the tagged outcome of a local reconcile pass.
// Delta is populated only when Action is NeedsRegistration.
type ReconciliationResult struct {
	Action Action
	Delta  Set
}
