// Package domain holds typed identifiers shared across layers. Wrapping
// uuid.UUID in distinct types makes cross-wiring a compile error.
package domain

import (
	"github.com/google/uuid"

	dErrors "capsync/pkg/errors"
)

// DeviceID is the stable identity distinguishing one registered device from
// another under the same account. A registration record is owned by exactly
// one DeviceID.
type DeviceID uuid.UUID

// NewDeviceID generates a fresh device identity.
func NewDeviceID() DeviceID {
	return DeviceID(uuid.New())
}

// ParseDeviceID validates and parses a device identifier.
// IDs must be valid, non-empty, non-nil UUIDs.
func ParseDeviceID(s string) (DeviceID, error) {
	if s == "" {
		return DeviceID{}, dErrors.New(dErrors.CodeInvalidInput, "device id is required")
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return DeviceID{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "device id must be a valid UUID")
	}
	if parsed == uuid.Nil {
		return DeviceID{}, dErrors.New(dErrors.CodeInvalidInput, "device id must not be the nil UUID")
	}
	return DeviceID(parsed), nil
}

func (d DeviceID) String() string {
	return uuid.UUID(d).String()
}

// IsNil reports whether the identity is the zero value.
func (d DeviceID) IsNil() bool {
	return uuid.UUID(d) == uuid.Nil
}
