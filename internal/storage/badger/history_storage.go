package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/metior/internal/interfaces"
	"github.com/ternarybob/metior/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// HistoryStorage implements the HistoryStorage interface for Badger
type HistoryStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewHistoryStorage creates a new HistoryStorage instance
func NewHistoryStorage(db *BadgerDB, logger arbor.ILogger) interfaces.HistoryStorage {
	return &HistoryStorage{
		db:     db,
		logger: logger,
	}
}

func (s *HistoryStorage) RecordScrapingHistory(ctx context.Context, record *models.ScrapingHistory) error {
	if record.ID == "" {
		return fmt.Errorf("history record ID is required")
	}
	if err := s.db.Store().Insert(record.ID, record); err != nil {
		return fmt.Errorf("failed to record scraping history: %w", err)
	}
	return nil
}

func (s *HistoryStorage) GetScrapingHistory(ctx context.Context, userID string, limit int) ([]*models.ScrapingHistory, error) {
	query := badgerhold.Where("UserID").Eq(userID).SortBy("StartedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	var records []models.ScrapingHistory
	if err := s.db.Store().Find(&records, query); err != nil {
		return nil, fmt.Errorf("failed to get scraping history: %w", err)
	}

	result := make([]*models.ScrapingHistory, len(records))
	for i := range records {
		result[i] = &records[i]
	}
	return result, nil
}
