//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"capsync/internal/capability/models"
	"capsync/internal/capability/store"
	"capsync/pkg/domain"
	"capsync/pkg/sentinel"
	"capsync/pkg/testutil/containers"
)

type RedisStoreIntegrationSuite struct {
	suite.Suite
	rc    *containers.RedisContainer
	store *store.RedisStore
	ctx   context.Context
}

func TestRedisStoreIntegrationSuite(t *testing.T) {
	suite.Run(t, new(RedisStoreIntegrationSuite))
}

func (s *RedisStoreIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()
	s.rc = containers.NewRedisContainer(s.T())
	s.store = store.NewRedisStore(s.rc.Client)
}

func (s *RedisStoreIntegrationSuite) SetupTest() {
	s.Require().NoError(s.rc.Client.FlushAll(s.ctx).Err())
}

func (s *RedisStoreIntegrationSuite) TestLoadMissing() {
	_, err := s.store.Load(s.ctx, domain.NewDeviceID())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *RedisStoreIntegrationSuite) TestSaveAndLoad() {
	deviceID := domain.NewDeviceID()
	rec := &models.RegistrationRecord{
		DeviceID: deviceID,
		Registered: models.Set{
			"push": {"endpoint": "https://push.example.com/abc"},
		},
		RegisteredAt: time.Now().UTC().Truncate(time.Millisecond),
	}

	s.Require().NoError(s.store.Save(s.ctx, rec))

	got, err := s.store.Load(s.ctx, deviceID)
	s.Require().NoError(err)
	s.Equal(deviceID, got.DeviceID)
	s.True(rec.RegisteredAt.Equal(got.RegisteredAt))
	s.True(models.EqualParams(rec.Registered["push"], got.Registered["push"]))
}

func (s *RedisStoreIntegrationSuite) TestSaveReplacesWholeRecord() {
	deviceID := domain.NewDeviceID()
	s.Require().NoError(s.store.Save(s.ctx, &models.RegistrationRecord{
		DeviceID:     deviceID,
		Registered:   models.Set{"push": nil, "sync": nil},
		RegisteredAt: time.Now().UTC(),
	}))

	s.Require().NoError(s.store.Save(s.ctx, &models.RegistrationRecord{
		DeviceID:     deviceID,
		Registered:   models.Set{"tabs": nil},
		RegisteredAt: time.Now().UTC(),
	}))

	got, err := s.store.Load(s.ctx, deviceID)
	s.Require().NoError(err)
	s.Len(got.Registered, 1)
	s.Contains(got.Registered, "tabs")
}

func (s *RedisStoreIntegrationSuite) TestDelete() {
	deviceID := domain.NewDeviceID()
	s.Require().NoError(s.store.Save(s.ctx, &models.RegistrationRecord{
		DeviceID:     deviceID,
		Registered:   models.Set{"push": nil},
		RegisteredAt: time.Now().UTC(),
	}))

	s.Require().NoError(s.store.Delete(s.ctx, deviceID))

	_, err := s.store.Load(s.ctx, deviceID)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *RedisStoreIntegrationSuite) TestTTLExpiresRecord() {
	ttlStore := store.NewRedisStore(s.rc.Client, store.WithRedisTTL(time.Second))

	deviceID := domain.NewDeviceID()
	s.Require().NoError(ttlStore.Save(s.ctx, &models.RegistrationRecord{
		DeviceID:     deviceID,
		Registered:   models.Set{"push": nil},
		RegisteredAt: time.Now().UTC(),
	}))

	s.Eventually(func() bool {
		_, err := ttlStore.Load(s.ctx, deviceID)
		return err == sentinel.ErrNotFound
	}, 5*time.Second, 200*time.Millisecond)
}
