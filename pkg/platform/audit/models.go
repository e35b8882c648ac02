package audit

import (
	"time"
)

// EventCategory classifies audit events by their primary purpose. This
// enables different retention policies, storage backends, and routing.
type EventCategory string

const (
	// CategorySecurity covers events relevant to security monitoring.
	// Device capability registration changes what an account trusts a
	// device to do, so registration changes land here.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers events useful for debugging and
	// operational visibility, sampled or aggregated with shorter retention.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory `json:"category"`
	Timestamp time.Time     `json:"timestamp"`
	DeviceID  string        `json:"device_id"`
	Action    string        `json:"action"`
	Reason    string        `json:"reason,omitempty"`
	// RequestID is the correlation id from the HTTP request context, when
	// the event originated from the daemon surface.
	RequestID string `json:"request_id,omitempty"`
	// Capabilities names the capability identifiers involved in the action.
	Capabilities []string `json:"capabilities,omitempty"`
}

// AuditEvent names the actions this system emits.
type AuditEvent string

const (
	EventCapabilitiesRegistered    AuditEvent = "capabilities_registered"
	EventRegistrationInvalidated   AuditEvent = "registration_invalidated"
	EventRegistrationRejected      AuditEvent = "registration_rejected"
	EventRegistrationRetriesFailed AuditEvent = "registration_retries_exhausted"
	EventRegistrationCacheStale    AuditEvent = "registration_cache_stale"
)
