package repository

import (
	"context"
	"errors"
	"time"

	"github.com/screenbridge/broker/internal/domain"
	"github.com/screenbridge/broker/internal/observability"

	"gorm.io/gorm"
)

var (
	ErrOrderNotFound          = errors.New("order not found")
	ErrDuplicateRoom          = errors.New("room id already exists")
	ErrDuplicateActiveSession = errors.New("controlled device already has an active session")
)

type OrderRepository interface {
	CreateActive(order *domain.Order) error
	FinishByRoomID(roomID, reason string) (bool, error)
	FindByRoomID(roomID string) (*domain.Order, error)
	FindActiveByToDeviceID(deviceID int64) (*domain.CurrentOrder, error)
	ListActiveByFromDeviceID(deviceID int64) ([]domain.CurrentOrder, error)
	FindStatusByToDeviceID(deviceID int64) (*domain.OrderStatus, error)
	ListStatusByFromDeviceID(deviceID int64) ([]domain.OrderStatus, error)
	ListHistory(offset, limit int) ([]domain.Order, error)
	CountOrders() (int64, error)
	CountActive() (int64, error)
}

type GormOrderRepository struct{ db *gorm.DB }

func NewOrderRepository(db *gorm.DB) OrderRepository { return &GormOrderRepository{db: db} }

// CreateActive inserts the Order together with its CurrentOrder and
// OrderStatus projections in one transaction. The uniqueness pre-checks run
// inside the same transaction so racing creates surface as ErrDuplicateRoom
// or ErrDuplicateActiveSession instead of a bare constraint violation; the
// unique indexes on room_id and to_device_id backstop any interleaving the
// pre-checks miss.
func (r *GormOrderRepository) CreateActive(order *domain.Order) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&domain.Order{}).Where("room_id = ?", order.RoomID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrDuplicateRoom
		}
		if err := tx.Model(&domain.CurrentOrder{}).Where("to_device_id = ?", order.ToDeviceID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrDuplicateActiveSession
		}
		if err := tx.Create(order).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrDuplicateRoom
			}
			return err
		}
		current := &domain.CurrentOrder{
			FromDeviceID: order.FromDeviceID,
			ToDeviceID:   order.ToDeviceID,
			RoomID:       order.RoomID,
		}
		if err := tx.Create(current).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrDuplicateActiveSession
			}
			return err
		}
		status := &domain.OrderStatus{
			Status:       domain.OrderStatusNew,
			FromDeviceID: order.FromDeviceID,
			ToDeviceID:   order.ToDeviceID,
			RoomID:       order.RoomID,
		}
		if err := tx.Create(status).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrDuplicateActiveSession
			}
			return err
		}
		return nil
	})
	switch {
	case err == nil:
		observability.RecordRepositoryOperation(context.Background(), "order", "create_active", "success")
	case errors.Is(err, ErrDuplicateRoom) || errors.Is(err, ErrDuplicateActiveSession):
		observability.RecordRepositoryOperation(context.Background(), "order", "create_active", "conflict")
	default:
		observability.RecordRepositoryOperation(context.Background(), "order", "create_active", "error")
	}
	return err
}

// FinishByRoomID marks the order finished and removes both projections in
// one transaction. The guarded update on finish_reason IS NULL makes the
// first finisher win; later calls report false without touching any row.
func (r *GormOrderRepository) FinishByRoomID(roomID, reason string) (bool, error) {
	var finished bool
	err := r.db.Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		res := tx.Model(&domain.Order{}).
			Where("room_id = ? AND finish_reason IS NULL", roomID).
			Updates(map[string]any{"finish_reason": reason, "finished_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		if err := tx.Where("room_id = ?", roomID).Delete(&domain.CurrentOrder{}).Error; err != nil {
			return err
		}
		if err := tx.Where("room_id = ?", roomID).Delete(&domain.OrderStatus{}).Error; err != nil {
			return err
		}
		finished = true
		return nil
	})
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "order", "finish_by_room_id", "error")
		return false, err
	}
	observability.RecordRepositoryOperation(context.Background(), "order", "finish_by_room_id", "success")
	return finished, nil
}

func (r *GormOrderRepository) FindByRoomID(roomID string) (*domain.Order, error) {
	var order domain.Order
	err := r.db.Where("room_id = ?", roomID).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "order", "find_by_room_id", "not_found")
			return nil, ErrOrderNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "order", "find_by_room_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "order", "find_by_room_id", "success")
	return &order, nil
}

func (r *GormOrderRepository) FindActiveByToDeviceID(deviceID int64) (*domain.CurrentOrder, error) {
	var current domain.CurrentOrder
	err := r.db.Where("to_device_id = ?", deviceID).First(&current).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "current_order", "find_by_to_device_id", "not_found")
			return nil, ErrOrderNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "current_order", "find_by_to_device_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "current_order", "find_by_to_device_id", "success")
	return &current, nil
}

func (r *GormOrderRepository) ListActiveByFromDeviceID(deviceID int64) ([]domain.CurrentOrder, error) {
	var currents []domain.CurrentOrder
	err := r.db.Where("from_device_id = ?", deviceID).Order("id ASC").Find(&currents).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "current_order", "list_by_from_device_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "current_order", "list_by_from_device_id", "success")
	return currents, nil
}

func (r *GormOrderRepository) FindStatusByToDeviceID(deviceID int64) (*domain.OrderStatus, error) {
	var status domain.OrderStatus
	err := r.db.Where("to_device_id = ?", deviceID).First(&status).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "order_status", "find_by_to_device_id", "not_found")
			return nil, ErrOrderNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "order_status", "find_by_to_device_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "order_status", "find_by_to_device_id", "success")
	return &status, nil
}

func (r *GormOrderRepository) ListStatusByFromDeviceID(deviceID int64) ([]domain.OrderStatus, error) {
	var statuses []domain.OrderStatus
	err := r.db.Where("from_device_id = ?", deviceID).Order("id ASC").Find(&statuses).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "order_status", "list_by_from_device_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "order_status", "list_by_from_device_id", "success")
	return statuses, nil
}

func (r *GormOrderRepository) ListHistory(offset, limit int) ([]domain.Order, error) {
	var orders []domain.Order
	err := r.db.Order("id ASC").Offset(offset).Limit(limit).Find(&orders).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "order", "list_history", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "order", "list_history", "success")
	return orders, nil
}

func (r *GormOrderRepository) CountOrders() (int64, error) {
	var count int64
	if err := r.db.Model(&domain.Order{}).Count(&count).Error; err != nil {
		observability.RecordRepositoryOperation(context.Background(), "order", "count", "error")
		return 0, err
	}
	observability.RecordRepositoryOperation(context.Background(), "order", "count", "success")
	return count, nil
}

func (r *GormOrderRepository) CountActive() (int64, error) {
	var count int64
	if err := r.db.Model(&domain.CurrentOrder{}).Count(&count).Error; err != nil {
		observability.RecordRepositoryOperation(context.Background(), "current_order", "count", "error")
		return 0, err
	}
	observability.RecordRepositoryOperation(context.Background(), "current_order", "count", "success")
	return count, nil
}
