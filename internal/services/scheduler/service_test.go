package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/metior/internal/common"
	"github.com/ternarybob/metior/internal/interfaces"
	"github.com/ternarybob/metior/internal/models"
)

type memSettings struct {
	mu        sync.Mutex
	schedules map[string]*models.ScrapeSchedule
}

func newMemSettings() *memSettings {
	return &memSettings{schedules: map[string]*models.ScrapeSchedule{}}
}

func (s *memSettings) GetUserBrowserSettings(ctx context.Context, userID string) (*models.UserBrowserSettings, error) {
	return models.DefaultBrowserSettings(userID), nil
}
func (s *memSettings) SaveUserBrowserSettings(ctx context.Context, settings *models.UserBrowserSettings) error {
	return nil
}
func (s *memSettings) GetScrapeSchedule(ctx context.Context, userID string) (*models.ScrapeSchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	schedule, ok := s.schedules[userID]
	if !ok {
		return nil, models.NewNotFoundError("no scrape schedule for user %s", userID)
	}
	copied := *schedule
	return &copied, nil
}
func (s *memSettings) SaveScrapeSchedule(ctx context.Context, schedule *models.ScrapeSchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *schedule
	s.schedules[schedule.UserID] = &copied
	return nil
}
func (s *memSettings) DeleteScrapeSchedule(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.schedules, userID)
	return nil
}
func (s *memSettings) ListScrapeSchedules(ctx context.Context) ([]*models.ScrapeSchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.ScrapeSchedule
	for _, schedule := range s.schedules {
		copied := *schedule
		out = append(out, &copied)
	}
	return out, nil
}

var _ interfaces.SettingsStorage = (*memSettings)(nil)

type enqueueRecorder struct {
	mu   sync.Mutex
	jobs []*models.AutomationJob
}

func (r *enqueueRecorder) enqueue(ctx context.Context, job *models.AutomationJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job.ID = common.NewRecordID()
	r.jobs = append(r.jobs, job)
	return nil
}

func (r *enqueueRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

func testService(t *testing.T, settings *memSettings, rec *enqueueRecorder) *Service {
	t.Helper()
	cfg := &common.SchedulerConfig{Enabled: true}
	return NewService(cfg, settings, rec.enqueue, arbor.NewLogger())
}

func TestSetScheduleValidatesCronExpression(t *testing.T) {
	svc := testService(t, newMemSettings(), &enqueueRecorder{})

	err := svc.SetSchedule(&models.ScrapeSchedule{UserID: "user-1", CronExpr: "not a cron", Enabled: true})
	require.Error(t, err)

	var classified *models.ClassifiedError
	require.ErrorAs(t, err, &classified)
	assert.Equal(t, models.ErrorKindValidation, classified.Kind)

	err = svc.SetSchedule(&models.ScrapeSchedule{UserID: "user-1", CronExpr: "0 6 * * *", Enabled: true})
	assert.NoError(t, err)
}

func TestSetScheduleRequiresUser(t *testing.T) {
	svc := testService(t, newMemSettings(), &enqueueRecorder{})
	err := svc.SetSchedule(&models.ScrapeSchedule{CronExpr: "0 6 * * *"})
	require.Error(t, err)
}

func TestGetScheduleNilWhenAbsent(t *testing.T) {
	settings := newMemSettings()
	svc := testService(t, settings, &enqueueRecorder{})

	schedule, err := svc.GetSchedule("user-1")
	require.NoError(t, err)
	assert.Nil(t, schedule)

	require.NoError(t, svc.SetSchedule(&models.ScrapeSchedule{UserID: "user-1", CronExpr: "0 6 * * *", Enabled: true}))

	schedule, err = svc.GetSchedule("user-1")
	require.NoError(t, err)
	require.NotNil(t, schedule)
	assert.Equal(t, "0 6 * * *", schedule.CronExpr)
}

func TestRemoveScheduleDeletes(t *testing.T) {
	settings := newMemSettings()
	svc := testService(t, settings, &enqueueRecorder{})

	require.NoError(t, svc.SetSchedule(&models.ScrapeSchedule{UserID: "user-1", CronExpr: "0 6 * * *", Enabled: true}))
	require.NoError(t, svc.RemoveSchedule("user-1"))

	schedule, err := svc.GetSchedule("user-1")
	require.NoError(t, err)
	assert.Nil(t, schedule)
}

func TestStartSkipsInvalidStoredSchedules(t *testing.T) {
	settings := newMemSettings()
	settings.schedules["user-bad"] = &models.ScrapeSchedule{UserID: "user-bad", CronExpr: "garbage", Enabled: true}
	settings.schedules["user-off"] = &models.ScrapeSchedule{UserID: "user-off", CronExpr: "0 6 * * *", Enabled: false}
	settings.schedules["user-ok"] = &models.ScrapeSchedule{UserID: "user-ok", CronExpr: "0 6 * * *", Enabled: true}

	svc := testService(t, settings, &enqueueRecorder{})
	require.NoError(t, svc.Start())
	defer svc.Stop()

	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.Len(t, svc.entries, 1)
	assert.Contains(t, svc.entries, "user-ok")
}

func TestStartDisabledByConfig(t *testing.T) {
	settings := newMemSettings()
	settings.schedules["user-1"] = &models.ScrapeSchedule{UserID: "user-1", CronExpr: "0 6 * * *", Enabled: true}

	svc := NewService(&common.SchedulerConfig{Enabled: false}, settings, (&enqueueRecorder{}).enqueue, arbor.NewLogger())
	require.NoError(t, svc.Start())

	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.False(t, svc.running)
	assert.Empty(t, svc.entries)
}

func TestFireEnqueuesScheduledScrape(t *testing.T) {
	settings := newMemSettings()
	settings.schedules["user-1"] = &models.ScrapeSchedule{UserID: "user-1", CronExpr: "0 6 * * *", Enabled: true}

	rec := &enqueueRecorder{}
	svc := testService(t, settings, rec)
	svc.now = func() time.Time { return time.Date(2026, 8, 25, 6, 0, 0, 0, time.UTC) }

	svc.fire("user-1")

	require.Equal(t, 1, rec.count())
	job := rec.jobs[0]
	assert.Equal(t, models.JobKindScrapeList, job.Kind)
	assert.Equal(t, "user-1", job.UserID)

	var payload models.ScrapeListPayload
	require.NoError(t, job.DecodePayload(&payload))
	assert.Equal(t, models.TriggerTypeScheduled, payload.TriggerType)

	schedule, err := settings.GetScrapeSchedule(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, svc.now(), schedule.LastRunAt)
}

func TestFireEnqueueFailureDoesNotPanic(t *testing.T) {
	settings := newMemSettings()
	svc := NewService(&common.SchedulerConfig{Enabled: true}, settings,
		func(ctx context.Context, job *models.AutomationJob) error {
			return assert.AnError
		}, arbor.NewLogger())

	assert.NotPanics(t, func() { svc.fire("user-1") })
}
