package service

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/screenbridge/broker/internal/domain"
)

// StatusCacheStore fronts the unique status lookup keyed by controlled
// device. It is a read-through cache only; the order_status table stays the
// source of truth and every create/finish invalidates the affected device.
type StatusCacheStore interface {
	Get(ctx context.Context, deviceID int64) (*domain.OrderStatus, bool, error)
	Set(ctx context.Context, status *domain.OrderStatus, ttl time.Duration) error
	Invalidate(ctx context.Context, deviceID int64) error
}

type NoopStatusCacheStore struct{}

func NewNoopStatusCacheStore() *NoopStatusCacheStore { return &NoopStatusCacheStore{} }

func (s *NoopStatusCacheStore) Get(context.Context, int64) (*domain.OrderStatus, bool, error) {
	return nil, false, nil
}

func (s *NoopStatusCacheStore) Set(context.Context, *domain.OrderStatus, time.Duration) error {
	return nil
}

func (s *NoopStatusCacheStore) Invalidate(context.Context, int64) error { return nil }

type inMemoryStatusEntry struct {
	status    domain.OrderStatus
	expiresAt time.Time
}

type InMemoryStatusCacheStore struct {
	mu    sync.RWMutex
	store map[int64]inMemoryStatusEntry
}

func NewInMemoryStatusCacheStore() *InMemoryStatusCacheStore {
	return &InMemoryStatusCacheStore{store: make(map[int64]inMemoryStatusEntry)}
}

func (s *InMemoryStatusCacheStore) Get(_ context.Context, deviceID int64) (*domain.OrderStatus, bool, error) {
	s.mu.RLock()
	entry, ok := s.store[deviceID]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if time.Now().UTC().After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.store, deviceID)
		s.mu.Unlock()
		return nil, false, nil
	}
	status := entry.status
	return &status, true, nil
}

func (s *InMemoryStatusCacheStore) Set(_ context.Context, status *domain.OrderStatus, ttl time.Duration) error {
	if status == nil || ttl <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store[status.ToDeviceID] = inMemoryStatusEntry{
		status:    *status,
		expiresAt: time.Now().UTC().Add(ttl),
	}
	return nil
}

func (s *InMemoryStatusCacheStore) Invalidate(_ context.Context, deviceID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.store, deviceID)
	return nil
}

func statusCacheKey(prefix string, deviceID int64) string {
	return prefix + ":to_device:" + strconv.FormatInt(deviceID, 10)
}
