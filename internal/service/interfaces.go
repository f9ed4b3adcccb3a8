package service

import (
	"context"

	"github.com/screenbridge/broker/internal/domain"
)

type OrderServiceInterface interface {
	CreateOrder(ctx context.Context, fromDeviceID, toDeviceID, clientRequestID int64) (*domain.Order, error)
	Finish(ctx context.Context, roomID, reason string) (bool, error)
	FinishByDeviceClose(ctx context.Context, roomID string, deviceID int64) (bool, error)
	FinishByControlledLogout(ctx context.Context, deviceID int64) (bool, error)
	FinishByControllingLogout(ctx context.Context, deviceID int64) (int, error)
	OrderByRoomID(roomID string) (*domain.Order, error)
	ActiveByControlledDevice(deviceID int64) (*domain.CurrentOrder, error)
	ActiveByControllingDevice(deviceID int64) ([]domain.CurrentOrder, error)
	StatusByControlledDevice(ctx context.Context, deviceID int64) (*domain.OrderStatus, error)
	StatusesByControllingDevice(deviceID int64) ([]domain.OrderStatus, error)
	History(offset, limit int) (*HistoryPage, error)
	CountActive() (int64, error)
}

type DeviceIDServiceInterface interface {
	Acquire(cookie string) (*domain.UsedDeviceID, error)
	Release(deviceID int64) (bool, error)
	LookupByDeviceID(deviceID int64) (*domain.UsedDeviceID, error)
	LookupByCookie(cookie string) (*domain.UsedDeviceID, error)
	UpdateCookie(deviceID int64, cookie string) (bool, error)
	Stats() (DeviceIDStats, error)
}

type OnlineServiceInterface interface {
	Record(controlling, controlled int64) error
	History(offset, limit int) ([]domain.OnlineRecord, int64, error)
	Clear() (int64, error)
}
