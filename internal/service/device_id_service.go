package service

import (
	"errors"
	"log/slog"

	"github.com/screenbridge/broker/internal/domain"
	"github.com/screenbridge/broker/internal/observability"
	"github.com/screenbridge/broker/internal/repository"
	"github.com/screenbridge/broker/internal/security"
)

type DeviceIDStats struct {
	Used   int64 `json:"used"`
	Unused int64 `json:"unused"`
}

type DeviceIDService struct {
	pool repository.DeviceIDRepository
}

func NewDeviceIDService(pool repository.DeviceIDRepository) *DeviceIDService {
	return &DeviceIDService{pool: pool}
}

// Acquire assigns a numeric identity to the device presenting cookie. A
// device reconnecting with a cookie it was handed before gets its previous
// identity back; a first connection (empty cookie) gets a freshly minted
// cookie bound to the oldest recycled identity.
func (s *DeviceIDService) Acquire(cookie string) (*domain.UsedDeviceID, error) {
	if cookie == "" {
		cookie = security.NewCookie()
	}
	binding, err := s.pool.Acquire(cookie)
	if err != nil {
		if errors.Is(err, repository.ErrPoolExhausted) {
			observability.RecordDeviceAcquire("exhausted")
			slog.Error("device id pool exhausted")
		} else {
			observability.RecordDeviceAcquire("error")
		}
		return nil, err
	}
	observability.RecordDeviceAcquire("success")
	slog.Info("device id acquired", "device_id", binding.DeviceID)
	return binding, nil
}

func (s *DeviceIDService) Release(deviceID int64) (bool, error) {
	released, err := s.pool.Release(deviceID)
	if err != nil {
		observability.RecordDeviceRelease("error")
		return false, err
	}
	if released {
		observability.RecordDeviceRelease("success")
		slog.Info("device id released", "device_id", deviceID)
	} else {
		observability.RecordDeviceRelease("noop")
	}
	return released, nil
}

func (s *DeviceIDService) LookupByDeviceID(deviceID int64) (*domain.UsedDeviceID, error) {
	return s.pool.FindByDeviceID(deviceID)
}

func (s *DeviceIDService) LookupByCookie(cookie string) (*domain.UsedDeviceID, error) {
	return s.pool.FindByCookie(cookie)
}

func (s *DeviceIDService) UpdateCookie(deviceID int64, cookie string) (bool, error) {
	return s.pool.UpdateCookie(deviceID, cookie)
}

func (s *DeviceIDService) Stats() (DeviceIDStats, error) {
	used, err := s.pool.CountUsed()
	if err != nil {
		return DeviceIDStats{}, err
	}
	unused, err := s.pool.CountUnused()
	if err != nil {
		return DeviceIDStats{}, err
	}
	return DeviceIDStats{Used: used, Unused: unused}, nil
}
