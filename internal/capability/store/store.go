// Package store persists the last-known-registered capability set per
// device. Implementations must replace records atomically: a concurrent
// reader sees either the old record or the new one, never a partial write.
package store

import (
	"context"

	"capsync/internal/capability/models"
	"capsync/pkg/domain"
)

// RecordStore is the registration state store contract.
//
// Load returns sentinel.ErrNotFound when no record exists for the device and
// sentinel.ErrIdentityMismatch when a stored record's identity does not
// match its key (an implementation bug guard; the service treats both as
// absent). Any other error is a storage failure and must not be swallowed.
type RecordStore interface {
	Load(ctx context.Context, deviceID domain.DeviceID) (*models.RegistrationRecord, error)
	Save(ctx context.Context, record *models.RegistrationRecord) error
	Delete(ctx context.Context, deviceID domain.DeviceID) error
}
