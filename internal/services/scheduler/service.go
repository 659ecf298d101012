// -----------------------------------------------------------------------
// Scheduler Service - per-user recurring scrape schedules on cron
// -----------------------------------------------------------------------

package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/metior/internal/common"
	"github.com/ternarybob/metior/internal/interfaces"
	"github.com/ternarybob/metior/internal/models"
)

// fireTimeout bounds the enqueue call made from a cron tick
const fireTimeout = 30 * time.Second

// Service registers one cron entry per user with an enabled scrape schedule
// and enqueues a scheduled list-scrape job on each tick. A tick that fails to
// enqueue logs and waits for the next one; the runner itself never stops on
// job errors.
type Service struct {
	cfg      *common.SchedulerConfig
	settings interfaces.SettingsStorage
	enqueue  func(ctx context.Context, job *models.AutomationJob) error
	logger   arbor.ILogger

	cron    *cron.Cron
	mu      sync.Mutex
	entries map[string]cron.EntryID
	running bool
	now     func() time.Time
}

var _ interfaces.SchedulerService = (*Service)(nil)

// NewService creates the scheduler. enqueue is the queue manager's Submit,
// wired at startup.
func NewService(cfg *common.SchedulerConfig, settings interfaces.SettingsStorage, enqueue func(ctx context.Context, job *models.AutomationJob) error, logger arbor.ILogger) *Service {
	return &Service{
		cfg:      cfg,
		settings: settings,
		enqueue:  enqueue,
		logger:   logger,
		cron:     cron.New(),
		entries:  make(map[string]cron.EntryID),
		now:      time.Now,
	}
}

// Start registers persisted schedules and begins the cron runner
func (s *Service) Start() error {
	if s.cfg != nil && !s.cfg.Enabled {
		s.logger.Info().Msg("Scheduler disabled by configuration")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	schedules, err := s.settings.ListScrapeSchedules(context.Background())
	if err != nil {
		return fmt.Errorf("failed to load scrape schedules: %w", err)
	}

	registered := 0
	for _, schedule := range schedules {
		if !schedule.Enabled {
			continue
		}
		if err := s.registerLocked(schedule); err != nil {
			// A bad stored expression must not take the runner down
			s.logger.Warn().
				Str("user_id", schedule.UserID).
				Str("cron_expr", schedule.CronExpr).
				Err(err).
				Msg("Stored schedule not registered")
			continue
		}
		registered++
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().Int("schedules", registered).Msg("Scheduler started")
	return nil
}

// Stop halts the cron runner and waits for in-flight ticks
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info().Msg("Scheduler stopped")
}

// SetSchedule validates, persists, and (re)registers a user's schedule
func (s *Service) SetSchedule(schedule *models.ScrapeSchedule) error {
	if schedule.UserID == "" {
		return fmt.Errorf("user ID is required")
	}
	if _, err := cron.ParseStandard(schedule.CronExpr); err != nil {
		return models.Classified(models.ErrorKindValidation,
			fmt.Errorf("invalid cron expression %q: %w", schedule.CronExpr, err))
	}

	if err := s.settings.SaveScrapeSchedule(context.Background(), schedule); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.unregisterLocked(schedule.UserID)
	if schedule.Enabled {
		if err := s.registerLocked(schedule); err != nil {
			return err
		}
	}

	s.logger.Info().
		Str("user_id", schedule.UserID).
		Str("cron_expr", schedule.CronExpr).
		Bool("enabled", schedule.Enabled).
		Msg("Scrape schedule set")
	return nil
}

// RemoveSchedule unregisters and deletes a user's schedule
func (s *Service) RemoveSchedule(userID string) error {
	s.mu.Lock()
	s.unregisterLocked(userID)
	s.mu.Unlock()

	if err := s.settings.DeleteScrapeSchedule(context.Background(), userID); err != nil {
		return err
	}

	s.logger.Info().Str("user_id", userID).Msg("Scrape schedule removed")
	return nil
}

// GetSchedule returns a user's schedule, or nil when none is stored
func (s *Service) GetSchedule(userID string) (*models.ScrapeSchedule, error) {
	schedule, err := s.settings.GetScrapeSchedule(context.Background(), userID)
	if err != nil {
		if models.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return schedule, nil
}

func (s *Service) registerLocked(schedule *models.ScrapeSchedule) error {
	userID := schedule.UserID
	id, err := s.cron.AddFunc(schedule.CronExpr, func() {
		s.fire(userID)
	})
	if err != nil {
		return err
	}
	s.entries[userID] = id
	return nil
}

func (s *Service) unregisterLocked(userID string) {
	if id, ok := s.entries[userID]; ok {
		s.cron.Remove(id)
		delete(s.entries, userID)
	}
}

// fire runs on the cron goroutine; it enqueues one scheduled list scrape and
// stamps last_run_at.
func (s *Service) fire(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), fireTimeout)
	defer cancel()

	job := &models.AutomationJob{
		UserID:   userID,
		Kind:     models.JobKindScrapeList,
		Priority: models.PriorityNormal,
	}
	if err := job.SetPayload(models.ScrapeListPayload{
		UserID:      userID,
		TriggerType: models.TriggerTypeScheduled,
	}); err != nil {
		s.logger.Error().Str("user_id", userID).Err(err).Msg("Scheduled scrape payload not built")
		return
	}

	if err := s.enqueue(ctx, job); err != nil {
		s.logger.Warn().Str("user_id", userID).Err(err).Msg("Scheduled scrape not enqueued")
		return
	}

	s.logger.Info().Str("user_id", userID).Str("job_id", job.ID).Msg("Scheduled scrape enqueued")

	schedule, err := s.settings.GetScrapeSchedule(ctx, userID)
	if err != nil {
		return
	}
	schedule.LastRunAt = s.now()
	if err := s.settings.SaveScrapeSchedule(ctx, schedule); err != nil {
		s.logger.Warn().Str("user_id", userID).Err(err).Msg("last_run_at not updated")
	}
}
