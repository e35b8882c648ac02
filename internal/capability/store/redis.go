package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"capsync/internal/capability/models"
	"capsync/pkg/domain"
	"capsync/pkg/sentinel"
)

// RedisStore persists registration records in Redis, one JSON value per
// device key. SET replaces the value atomically, which satisfies the
// whole-record-replace contract.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// RedisStoreOption configures a RedisStore.
type RedisStoreOption func(*RedisStore)

// WithRedisTTL sets an expiry on stored records so Redis drops abandoned
// device entries on its own. Zero keeps records forever.
func WithRedisTTL(ttl time.Duration) RedisStoreOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// NewRedisStore creates a Redis-backed record store.
func NewRedisStore(client *redis.Client, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{client: client}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func redisKey(deviceID domain.DeviceID) string {
	return "capsync:registration:" + deviceID.String()
}

// Load fetches and decodes the record for deviceID.
func (s *RedisStore) Load(ctx context.Context, deviceID domain.DeviceID) (*models.RegistrationRecord, error) {
	raw, err := s.client.Get(ctx, redisKey(deviceID)).Bytes()
	if err == redis.Nil {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load registration record: %w", err)
	}

	var rec models.RegistrationRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode registration record: %w", err)
	}
	if rec.DeviceID != deviceID {
		return nil, sentinel.ErrIdentityMismatch
	}
	return &rec, nil
}

// Save encodes and writes the record under its device key in one SET.
func (s *RedisStore) Save(ctx context.Context, record *models.RegistrationRecord) error {
	if record == nil || record.DeviceID.IsNil() {
		return fmt.Errorf("save registration record: invalid record")
	}

	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode registration record: %w", err)
	}
	if err := s.client.Set(ctx, redisKey(record.DeviceID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("save registration record: %w", err)
	}
	return nil
}

// Delete removes the record for deviceID.
func (s *RedisStore) Delete(ctx context.Context, deviceID domain.DeviceID) error {
	if err := s.client.Del(ctx, redisKey(deviceID)).Err(); err != nil {
		return fmt.Errorf("delete registration record: %w", err)
	}
	return nil
}
