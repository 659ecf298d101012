package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/metior/internal/interfaces"
	"github.com/ternarybob/metior/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// SettingsStorage implements the SettingsStorage interface for Badger
type SettingsStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewSettingsStorage creates a new SettingsStorage instance
func NewSettingsStorage(db *BadgerDB, logger arbor.ILogger) interfaces.SettingsStorage {
	return &SettingsStorage{
		db:     db,
		logger: logger,
	}
}

// GetUserBrowserSettings returns the stored settings, or the stealth defaults
// when the user has never saved any.
func (s *SettingsStorage) GetUserBrowserSettings(ctx context.Context, userID string) (*models.UserBrowserSettings, error) {
	var settings models.UserBrowserSettings
	if err := s.db.Store().Get(userID, &settings); err != nil {
		if err == badgerhold.ErrNotFound {
			return models.DefaultBrowserSettings(userID), nil
		}
		return nil, fmt.Errorf("failed to get browser settings: %w", err)
	}
	return &settings, nil
}

func (s *SettingsStorage) SaveUserBrowserSettings(ctx context.Context, settings *models.UserBrowserSettings) error {
	if settings.UserID == "" {
		return fmt.Errorf("user ID is required")
	}
	settings.UpdatedAt = time.Now()
	if err := s.db.Store().Upsert(settings.UserID, settings); err != nil {
		return fmt.Errorf("failed to save browser settings: %w", err)
	}
	return nil
}

func (s *SettingsStorage) GetScrapeSchedule(ctx context.Context, userID string) (*models.ScrapeSchedule, error) {
	var schedule models.ScrapeSchedule
	if err := s.db.Store().Get(userID, &schedule); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, models.NewNotFoundError("no scrape schedule for user %s", userID)
		}
		return nil, fmt.Errorf("failed to get scrape schedule: %w", err)
	}
	return &schedule, nil
}

func (s *SettingsStorage) SaveScrapeSchedule(ctx context.Context, schedule *models.ScrapeSchedule) error {
	if schedule.UserID == "" {
		return fmt.Errorf("user ID is required")
	}
	schedule.UpdatedAt = time.Now()
	if err := s.db.Store().Upsert(schedule.UserID, schedule); err != nil {
		return fmt.Errorf("failed to save scrape schedule: %w", err)
	}
	return nil
}

func (s *SettingsStorage) DeleteScrapeSchedule(ctx context.Context, userID string) error {
	if err := s.db.Store().Delete(userID, &models.ScrapeSchedule{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return fmt.Errorf("failed to delete scrape schedule: %w", err)
	}
	return nil
}

func (s *SettingsStorage) ListScrapeSchedules(ctx context.Context) ([]*models.ScrapeSchedule, error) {
	var schedules []models.ScrapeSchedule
	if err := s.db.Store().Find(&schedules, badgerhold.Where("UserID").Ne("")); err != nil {
		return nil, fmt.Errorf("failed to list scrape schedules: %w", err)
	}

	result := make([]*models.ScrapeSchedule, len(schedules))
	for i := range schedules {
		result[i] = &schedules[i]
	}
	return result, nil
}
