package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/screenbridge/broker/internal/domain"
)

type RedisStatusCacheStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStatusCacheStore(client redis.UniversalClient, prefix string) *RedisStatusCacheStore {
	if prefix == "" {
		prefix = "order_status_cache"
	}
	return &RedisStatusCacheStore{client: client, prefix: prefix}
}

func (s *RedisStatusCacheStore) Get(ctx context.Context, deviceID int64) (*domain.OrderStatus, bool, error) {
	if s.client == nil {
		return nil, false, nil
	}
	raw, err := s.client.Get(ctx, statusCacheKey(s.prefix, deviceID)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var status domain.OrderStatus
	if err := json.Unmarshal([]byte(raw), &status); err != nil {
		// Unreadable entry; drop it and fall back to the store.
		_ = s.client.Del(ctx, statusCacheKey(s.prefix, deviceID)).Err()
		return nil, false, nil
	}
	return &status, true, nil
}

func (s *RedisStatusCacheStore) Set(ctx context.Context, status *domain.OrderStatus, ttl time.Duration) error {
	if s.client == nil || status == nil || ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(status)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, statusCacheKey(s.prefix, status.ToDeviceID), raw, ttl).Err()
}

func (s *RedisStatusCacheStore) Invalidate(ctx context.Context, deviceID int64) error {
	if s.client == nil {
		return nil
	}
	return s.client.Del(ctx, statusCacheKey(s.prefix, deviceID)).Err()
}
