package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/metior/internal/interfaces"
	"github.com/ternarybob/metior/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// JobStorage implements the JobStorage interface for Badger
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

func (s *JobStorage) SaveJob(ctx context.Context, job *models.AutomationJob) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if err := s.db.Store().Upsert(job.ID, job); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

func (s *JobStorage) GetJob(ctx context.Context, id string) (*models.AutomationJob, error) {
	var job models.AutomationJob
	if err := s.db.Store().Get(id, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, models.NewNotFoundError("job %s not found", id)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

func (s *JobStorage) GetJobsByState(ctx context.Context, states ...models.JobState) ([]*models.AutomationJob, error) {
	if len(states) == 0 {
		return nil, nil
	}
	keys := make([]interface{}, len(states))
	for i, state := range states {
		keys[i] = state
	}

	var jobs []models.AutomationJob
	query := badgerhold.Where("State").In(keys...).SortBy("CreatedAt")
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to get jobs by state: %w", err)
	}

	result := make([]*models.AutomationJob, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

func (s *JobStorage) GetJobsByUser(ctx context.Context, userID string, limit int) ([]*models.AutomationJob, error) {
	query := badgerhold.Where("UserID").Eq(userID).SortBy("CreatedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	var jobs []models.AutomationJob
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to get jobs by user: %w", err)
	}

	result := make([]*models.AutomationJob, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

func (s *JobStorage) DeleteJob(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, &models.AutomationJob{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

// PurgeTerminalBefore removes terminal jobs whose completion predates the
// cutoff, returning how many were removed.
func (s *JobStorage) PurgeTerminalBefore(ctx context.Context, cutoffUnix int64) (int, error) {
	var jobs []models.AutomationJob
	terminal := []interface{}{
		models.JobStateCompleted,
		models.JobStateFailed,
		models.JobStateCancelled,
		models.JobStateTimeout,
	}
	if err := s.db.Store().Find(&jobs, badgerhold.Where("State").In(terminal...)); err != nil {
		return 0, fmt.Errorf("failed to list terminal jobs: %w", err)
	}

	count := 0
	for _, job := range jobs {
		if job.CompletedAt.IsZero() || job.CompletedAt.Unix() >= cutoffUnix {
			continue
		}
		if err := s.DeleteJob(ctx, job.ID); err != nil {
			s.logger.Warn().Str("job_id", job.ID).Err(err).Msg("Terminal job not purged")
			continue
		}
		count++
	}
	return count, nil
}
