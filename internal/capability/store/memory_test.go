package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"capsync/internal/capability/models"
	"capsync/pkg/domain"
	"capsync/pkg/sentinel"
)

func newRecord(deviceID domain.DeviceID) *models.RegistrationRecord {
	return &models.RegistrationRecord{
		DeviceID:     deviceID,
		Registered:   models.Set{"push": {"version": "v1"}},
		RegisteredAt: time.Now().UTC(),
	}
}

func TestInMemoryStore_LoadMissing(t *testing.T) {
	s := NewInMemoryStore()

	_, err := s.Load(context.Background(), domain.NewDeviceID())
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestInMemoryStore_SaveThenLoad(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	deviceID := domain.NewDeviceID()
	rec := newRecord(deviceID)

	require.NoError(t, s.Save(ctx, rec))

	got, err := s.Load(ctx, deviceID)
	require.NoError(t, err)
	assert.Equal(t, rec.DeviceID, got.DeviceID)
	assert.Equal(t, rec.Registered, got.Registered)
}

func TestInMemoryStore_SaveOverwritesWhole(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	deviceID := domain.NewDeviceID()

	require.NoError(t, s.Save(ctx, newRecord(deviceID)))

	replacement := &models.RegistrationRecord{
		DeviceID:     deviceID,
		Registered:   models.Set{"sync": nil},
		RegisteredAt: time.Now().UTC(),
	}
	require.NoError(t, s.Save(ctx, replacement))

	got, err := s.Load(ctx, deviceID)
	require.NoError(t, err)
	assert.Equal(t, models.Set{"sync": nil}, got.Registered,
		"save must replace, not merge")
}

func TestInMemoryStore_LoadReturnsCopy(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	deviceID := domain.NewDeviceID()
	require.NoError(t, s.Save(ctx, newRecord(deviceID)))

	first, err := s.Load(ctx, deviceID)
	require.NoError(t, err)
	first.Registered["push"]["version"] = "mutated"

	second, err := s.Load(ctx, deviceID)
	require.NoError(t, err)
	assert.Equal(t, "v1", second.Registered["push"]["version"])
}

func TestInMemoryStore_SaveRejectsInvalid(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	assert.Error(t, s.Save(ctx, nil))
	assert.Error(t, s.Save(ctx, &models.RegistrationRecord{}))
}

func TestInMemoryStore_Delete(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	deviceID := domain.NewDeviceID()
	require.NoError(t, s.Save(ctx, newRecord(deviceID)))

	require.NoError(t, s.Delete(ctx, deviceID))
	_, err := s.Load(ctx, deviceID)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)

	// Deleting again is a no-op.
	assert.NoError(t, s.Delete(ctx, deviceID))
}

func TestInMemoryStore_ConcurrentAccess(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	deviceID := domain.NewDeviceID()

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = s.Save(ctx, newRecord(deviceID))
		}()
		go func() {
			defer wg.Done()
			_, _ = s.Load(ctx, deviceID)
		}()
	}
	wg.Wait()

	got, err := s.Load(ctx, deviceID)
	require.NoError(t, err)
	assert.Equal(t, deviceID, got.DeviceID)
}
