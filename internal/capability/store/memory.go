package store

import (
	"context"
	"fmt"
	"sync"

	"capsync/internal/capability/models"
	"capsync/pkg/domain"
	"capsync/pkg/sentinel"
)

// InMemoryStore keeps registration records in a mutex-guarded map. Suitable
// for tests and single-process development; use the Redis or Postgres store
// when records must survive the process.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[domain.DeviceID]*models.RegistrationRecord
}

// NewInMemoryStore creates an empty in-memory record store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records: make(map[domain.DeviceID]*models.RegistrationRecord),
	}
}

// Load returns a copy of the stored record for deviceID.
func (s *InMemoryStore) Load(ctx context.Context, deviceID domain.DeviceID) (*models.RegistrationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[deviceID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if rec.DeviceID != deviceID {
		return nil, sentinel.ErrIdentityMismatch
	}
	return rec.Clone(), nil
}

// Save replaces the record for its device identity in a single map
// assignment under the write lock.
func (s *InMemoryStore) Save(ctx context.Context, record *models.RegistrationRecord) error {
	if record == nil {
		return fmt.Errorf("save registration record: record is nil")
	}
	if record.DeviceID.IsNil() {
		return fmt.Errorf("save registration record: device id is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.DeviceID] = record.Clone()
	return nil
}

// Delete removes the record for deviceID. Deleting an absent record is a
// no-op.
func (s *InMemoryStore) Delete(ctx context.Context, deviceID domain.DeviceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, deviceID)
	return nil
}
