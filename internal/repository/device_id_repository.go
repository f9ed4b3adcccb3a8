package repository

import (
	"context"
	"errors"
	"time"

	"github.com/screenbridge/broker/internal/domain"
	"github.com/screenbridge/broker/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrPoolExhausted    = errors.New("unused device id pool is empty")
	ErrDeviceIDNotFound = errors.New("device id not found")
)

type DeviceIDRepository interface {
	Acquire(cookie string) (*domain.UsedDeviceID, error)
	Release(deviceID int64) (bool, error)
	FindByDeviceID(deviceID int64) (*domain.UsedDeviceID, error)
	FindByCookie(cookie string) (*domain.UsedDeviceID, error)
	UpdateCookie(deviceID int64, cookie string) (bool, error)
	CountUsed() (int64, error)
	CountUnused() (int64, error)
	SeedRange(first, last int64) (int64, error)
}

type GormDeviceIDRepository struct{ db *gorm.DB }

func NewDeviceIDRepository(db *gorm.DB) DeviceIDRepository { return &GormDeviceIDRepository{db: db} }

// lockForUpdate adds a row lock on stores that support it. sqlite has a
// single writer and rejects FOR UPDATE, so the clause is skipped there.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// Acquire moves the oldest-released identity from the unused pool to the
// used pool, bound to cookie, in one transaction. A cookie that is already
// bound gets its existing identity back with a refreshed timestamp instead
// of a new allocation. The pop selects by surrogate id under a row lock so
// two concurrent acquires cannot receive the same identity.
func (r *GormDeviceIDRepository) Acquire(cookie string) (*domain.UsedDeviceID, error) {
	var binding *domain.UsedDeviceID
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var existing domain.UsedDeviceID
		err := lockForUpdate(tx).
			Where("cookie = ?", cookie).
			First(&existing).Error
		if err == nil {
			now := time.Now().UTC()
			if err := tx.Model(&domain.UsedDeviceID{}).
				Where("id = ?", existing.ID).
				Update("updated_at", now).Error; err != nil {
				return err
			}
			existing.UpdatedAt = now
			binding = &existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		var next domain.UnusedDeviceID
		for {
			err = lockForUpdate(tx).
				Order("id ASC").
				First(&next).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPoolExhausted
			}
			if err != nil {
				return err
			}
			res := tx.Where("id = ?", next.ID).Delete(&domain.UnusedDeviceID{})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 1 {
				break
			}
			// The selected entry went to a concurrent acquire; take the
			// next oldest instead of reporting a capacity problem.
		}
		used := &domain.UsedDeviceID{DeviceID: next.DeviceID, Cookie: cookie}
		if err := tx.Create(used).Error; err != nil {
			return err
		}
		binding = used
		return nil
	})
	switch {
	case err == nil:
		observability.RecordRepositoryOperation(context.Background(), "device_id", "acquire", "success")
	case errors.Is(err, ErrPoolExhausted):
		observability.RecordRepositoryOperation(context.Background(), "device_id", "acquire", "exhausted")
	default:
		observability.RecordRepositoryOperation(context.Background(), "device_id", "acquire", "error")
	}
	if err != nil {
		return nil, err
	}
	return binding, nil
}

// Release returns an identity to the unused pool. An identity that is not
// currently in the used pool is left alone, keeping the pools disjoint and
// making repeated releases harmless.
func (r *GormDeviceIDRepository) Release(deviceID int64) (bool, error) {
	var released bool
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var used domain.UsedDeviceID
		err := lockForUpdate(tx).
			Where("device_id = ?", deviceID).
			First(&used).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := tx.Where("id = ?", used.ID).Delete(&domain.UsedDeviceID{}).Error; err != nil {
			return err
		}
		if err := tx.Create(&domain.UnusedDeviceID{DeviceID: deviceID}).Error; err != nil {
			return err
		}
		released = true
		return nil
	})
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "device_id", "release", "error")
		return false, err
	}
	observability.RecordRepositoryOperation(context.Background(), "device_id", "release", "success")
	return released, nil
}

func (r *GormDeviceIDRepository) FindByDeviceID(deviceID int64) (*domain.UsedDeviceID, error) {
	var used domain.UsedDeviceID
	err := r.db.Where("device_id = ?", deviceID).First(&used).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "device_id", "find_by_device_id", "not_found")
			return nil, ErrDeviceIDNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "device_id", "find_by_device_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "device_id", "find_by_device_id", "success")
	return &used, nil
}

func (r *GormDeviceIDRepository) FindByCookie(cookie string) (*domain.UsedDeviceID, error) {
	var used domain.UsedDeviceID
	err := r.db.Where("cookie = ?", cookie).First(&used).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "device_id", "find_by_cookie", "not_found")
			return nil, ErrDeviceIDNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "device_id", "find_by_cookie", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "device_id", "find_by_cookie", "success")
	return &used, nil
}

func (r *GormDeviceIDRepository) UpdateCookie(deviceID int64, cookie string) (bool, error) {
	res := r.db.Model(&domain.UsedDeviceID{}).
		Where("device_id = ?", deviceID).
		Update("cookie", cookie)
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "device_id", "update_cookie", "error")
		return false, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "device_id", "update_cookie", "success")
	return res.RowsAffected > 0, nil
}

func (r *GormDeviceIDRepository) CountUsed() (int64, error) {
	var count int64
	if err := r.db.Model(&domain.UsedDeviceID{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *GormDeviceIDRepository) CountUnused() (int64, error) {
	var count int64
	if err := r.db.Model(&domain.UnusedDeviceID{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// SeedRange grows the identity space by appending [first, last] to the
// unused pool, skipping identities already present in either pool. Returns
// the number of identities actually added.
func (r *GormDeviceIDRepository) SeedRange(first, last int64) (int64, error) {
	if last < first {
		return 0, errors.New("seed range: last must not be below first")
	}
	var added int64
	err := r.db.Transaction(func(tx *gorm.DB) error {
		known := make(map[int64]struct{})
		var ids []int64
		if err := tx.Model(&domain.UnusedDeviceID{}).
			Where("device_id BETWEEN ? AND ?", first, last).
			Pluck("device_id", &ids).Error; err != nil {
			return err
		}
		for _, id := range ids {
			known[id] = struct{}{}
		}
		ids = ids[:0]
		if err := tx.Model(&domain.UsedDeviceID{}).
			Where("device_id BETWEEN ? AND ?", first, last).
			Pluck("device_id", &ids).Error; err != nil {
			return err
		}
		for _, id := range ids {
			known[id] = struct{}{}
		}
		var rows []domain.UnusedDeviceID
		for id := first; id <= last; id++ {
			if _, ok := known[id]; ok {
				continue
			}
			rows = append(rows, domain.UnusedDeviceID{DeviceID: id})
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(rows, 500).Error; err != nil {
			return err
		}
		added = int64(len(rows))
		return nil
	})
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "device_id", "seed_range", "error")
		return 0, err
	}
	observability.RecordRepositoryOperation(context.Background(), "device_id", "seed_range", "success")
	return added, nil
}
