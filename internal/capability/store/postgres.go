package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"capsync/internal/capability/models"
	"capsync/pkg/domain"
	"capsync/pkg/sentinel"
)

// Clock abstracts time.Now for testability.
type Clock func() time.Time

// PostgresStore persists registration records in PostgreSQL. The upsert
// replaces the full row, so readers never observe a partially updated
// record.
type PostgresStore struct {
	db    *sql.DB
	clock Clock
}

// PostgresStoreOption configures a PostgresStore instance.
type PostgresStoreOption func(*PostgresStore)

// WithPostgresClock sets the clock function for testability.
func WithPostgresClock(clock Clock) PostgresStoreOption {
	return func(s *PostgresStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewPostgresStore constructs a PostgreSQL-backed record store.
func NewPostgresStore(db *sql.DB, opts ...PostgresStoreOption) *PostgresStore {
	s := &PostgresStore{
		db:    db,
		clock: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Schema is the DDL for the backing table. Applied by migrations in
// deployment; exported so integration tests can create it directly.
const Schema = `
CREATE TABLE IF NOT EXISTS device_registrations (
	device_id     UUID PRIMARY KEY,
	registered    JSONB NOT NULL,
	registered_at TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
)`

// Load fetches the record for deviceID.
func (s *PostgresStore) Load(ctx context.Context, deviceID domain.DeviceID) (*models.RegistrationRecord, error) {
	var (
		storedID     uuid.UUID
		rawSet       []byte
		registeredAt time.Time
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT device_id, registered, registered_at FROM device_registrations WHERE device_id = $1`,
		uuid.UUID(deviceID),
	).Scan(&storedID, &rawSet, &registeredAt)
	if err == sql.ErrNoRows {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load registration record: %w", err)
	}

	var set models.Set
	if err := json.Unmarshal(rawSet, &set); err != nil {
		return nil, fmt.Errorf("decode registered capability set: %w", err)
	}
	if domain.DeviceID(storedID) != deviceID {
		return nil, sentinel.ErrIdentityMismatch
	}

	return &models.RegistrationRecord{
		DeviceID:     deviceID,
		Registered:   set,
		RegisteredAt: registeredAt,
	}, nil
}

// Save upserts the record, replacing the full row on conflict.
func (s *PostgresStore) Save(ctx context.Context, record *models.RegistrationRecord) error {
	if record == nil || record.DeviceID.IsNil() {
		return fmt.Errorf("save registration record: invalid record")
	}

	rawSet, err := json.Marshal(record.Registered)
	if err != nil {
		return fmt.Errorf("encode registered capability set: %w", err)
	}

	query := `
		INSERT INTO device_registrations (device_id, registered, registered_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (device_id) DO UPDATE SET
			registered = EXCLUDED.registered,
			registered_at = EXCLUDED.registered_at,
			updated_at = EXCLUDED.updated_at
	`
	_, err = s.db.ExecContext(ctx, query,
		uuid.UUID(record.DeviceID), rawSet, record.RegisteredAt, s.clock())
	if err != nil {
		return fmt.Errorf("save registration record: %w", err)
	}
	return nil
}

// Delete removes the record for deviceID.
func (s *PostgresStore) Delete(ctx context.Context, deviceID domain.DeviceID) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM device_registrations WHERE device_id = $1`, uuid.UUID(deviceID))
	if err != nil {
		return fmt.Errorf("delete registration record: %w", err)
	}
	return nil
}
