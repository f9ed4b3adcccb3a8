package service

import (
	"github.com/screenbridge/broker/internal/domain"
	"github.com/screenbridge/broker/internal/repository"
)

type OnlineService struct {
	records repository.OnlineRepository
}

func NewOnlineService(records repository.OnlineRepository) *OnlineService {
	return &OnlineService{records: records}
}

func (s *OnlineService) Record(controlling, controlled int64) error {
	return s.records.Append(controlling, controlled)
}

// History returns records newest first, with the total count.
func (s *OnlineService) History(offset, limit int) ([]domain.OnlineRecord, int64, error) {
	if offset < 0 {
		offset = 0
	}
	if limit < 0 {
		limit = 0
	}
	total, err := s.records.Count()
	if err != nil {
		return nil, 0, err
	}
	records, err := s.records.ListHistory(offset, limit)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

func (s *OnlineService) Clear() (int64, error) {
	return s.records.Clear()
}
