package repository

import (
	"context"

	"github.com/screenbridge/broker/internal/domain"
	"github.com/screenbridge/broker/internal/observability"

	"gorm.io/gorm"
)

type OnlineRepository interface {
	Append(controlling, controlled int64) error
	ListHistory(offset, limit int) ([]domain.OnlineRecord, error)
	Count() (int64, error)
	Clear() (int64, error)
}

type GormOnlineRepository struct{ db *gorm.DB }

func NewOnlineRepository(db *gorm.DB) OnlineRepository { return &GormOnlineRepository{db: db} }

func (r *GormOnlineRepository) Append(controlling, controlled int64) error {
	record := &domain.OnlineRecord{Controlling: controlling, Controlled: controlled}
	if err := r.db.Create(record).Error; err != nil {
		observability.RecordRepositoryOperation(context.Background(), "online", "append", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "online", "append", "success")
	return nil
}

// ListHistory returns records newest first.
func (r *GormOnlineRepository) ListHistory(offset, limit int) ([]domain.OnlineRecord, error) {
	var records []domain.OnlineRecord
	err := r.db.Order("id DESC").Offset(offset).Limit(limit).Find(&records).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "online", "list_history", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "online", "list_history", "success")
	return records, nil
}

func (r *GormOnlineRepository) Count() (int64, error) {
	var count int64
	if err := r.db.Model(&domain.OnlineRecord{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Clear drops the whole audit log and reports how many records went. The only
// sanctioned delete on this table.
func (r *GormOnlineRepository) Clear() (int64, error) {
	res := r.db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&domain.OnlineRecord{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "online", "clear", "error")
		return 0, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "online", "clear", "success")
	return res.RowsAffected, nil
}
