package queue

import (
	"context"
	"errors"
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

const eventually = 3 * time.Second

// ----- fakes -----------------------------------------------------------

type memJobStorage struct {
	mu   sync.Mutex
	jobs map[string]models.AutomationJob
}

func newMemJobStorage() *memJobStorage {
	return &memJobStorage{jobs: make(map[string]models.AutomationJob)}
}

func (s *memJobStorage) SaveJob(ctx context.Context, job *models.AutomationJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = *job
	return nil
}

func (s *memJobStorage) GetJob(ctx context.Context, id string) (*models.AutomationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, errors.New("job not found")
	}
	clone := job
	return &clone, nil
}

func (s *memJobStorage) GetJobsByState(ctx context.Context, states ...models.JobState) ([]*models.AutomationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.AutomationJob
	for _, job := range s.jobs {
		for _, st := range states {
			if job.State == st {
				clone := job
				out = append(out, &clone)
				break
			}
		}
	}
	return out, nil
}

func (s *memJobStorage) GetJobsByUser(ctx context.Context, userID string, limit int) ([]*models.AutomationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.AutomationJob
	for _, job := range s.jobs {
		if job.UserID == userID {
			clone := job
			out = append(out, &clone)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *memJobStorage) DeleteJob(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	return nil
}

func (s *memJobStorage) PurgeTerminalBefore(ctx context.Context, cutoffUnix int64) (int, error) {
	return 0, nil
}

func (s *memJobStorage) state(id string) models.JobState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id].State
}

// fakeResources is a sessions-only capacity gate
type fakeResources struct {
	mu       sync.Mutex
	capacity int
	used     map[string]int
}

func newFakeResources(capacity int) *fakeResources {
	return &fakeResources{capacity: capacity, used: make(map[string]int)}
}

func (r *fakeResources) inUse() int {
	n := 0
	for _, v := range r.used {
		n += v
	}
	return n
}

func (r *fakeResources) CanAllocate(req models.ResourceRequirements) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inUse()+req.Sessions <= r.capacity
}

func (r *fakeResources) Allocate(jobID string, req models.ResourceRequirements) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inUse()+req.Sessions > r.capacity {
		return false
	}
	r.used[jobID] = req.Sessions
	return true
}

func (r *fakeResources) Deallocate(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.used, jobID)
}

func (r *fakeResources) Utilization() interfaces.ResourceUtilization {
	r.mu.Lock()
	defer r.mu.Unlock()
	return interfaces.ResourceUtilization{
		SessionsUsed:     r.inUse(),
		SessionsCapacity: r.capacity,
		ActiveJobs:       len(r.used),
	}
}

// scriptWorker records execution order; optionally blocks until released
// and fails a configurable number of times.
type scriptWorker struct {
	kind models.JobKind

	mu        sync.Mutex
	order     []string
	failures  map[string]int
	releases  chan struct{}
	blocking  bool
	returnCtx bool
}

func newScriptWorker(kind models.JobKind) *scriptWorker {
	return &scriptWorker{
		kind:     kind,
		failures: make(map[string]int),
		releases: make(chan struct{}, 64),
	}
}

func (w *scriptWorker) Kind() models.JobKind { return w.kind }

func (w *scriptWorker) Execute(ctx context.Context, job *models.AutomationJob) (interface{}, error) {
	w.mu.Lock()
	w.order = append(w.order, job.ID)
	remaining := w.failures[job.ID]
	if remaining > 0 {
		w.failures[job.ID] = remaining - 1
	}
	w.mu.Unlock()

	if w.blocking {
		select {
		case <-w.releases:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if w.returnCtx && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if remaining > 0 {
		return nil, errors.New("scripted failure")
	}
	return map[string]string{"ok": "true"}, nil
}

func (w *scriptWorker) executed() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.order...)
}

// ----- helpers ---------------------------------------------------------

func queueConfig(maxConcurrent int) *common.QueueConfig {
	return &common.QueueConfig{
		MaxConcurrentJobs: maxConcurrent,
		TickInterval:      "10ms",
		PersistInterval:   "1s",
		TerminalRetention: "24h",
	}
}

func startManager(t *testing.T, maxConcurrent, sessions int, workers ...interfaces.JobWorker) (*Manager, *memJobStorage, *fakeResources) {
	t.Helper()
	storage := newMemJobStorage()
	resources := newFakeResources(sessions)
	m := NewManager(queueConfig(maxConcurrent), storage, resources, nil, arbor.NewLogger())
	for _, w := range workers {
		m.RegisterWorker(w)
	}
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { _ = m.Stop() })
	return m, storage, resources
}

func newJob(id, userID string, kind models.JobKind) *models.AutomationJob {
	return &models.AutomationJob{
		ID:       id,
		UserID:   userID,
		Kind:     kind,
		Priority: models.PriorityNormal,
		Resources: models.ResourceRequirements{
			Sessions:    1,
			MaxDuration: time.Minute,
		},
		RetryDelay: 10 * time.Millisecond,
	}
}

func waitForState(t *testing.T, m *Manager, jobID string, want models.JobState) {
	t.Helper()
	require.Eventually(t, func() bool {
		job, err := m.GetJob(context.Background(), jobID)
		return err == nil && job.State == want
	}, eventually, 5*time.Millisecond, "job %s never reached %s", jobID, want)
}

// ----- tests -----------------------------------------------------------

func TestSubmitAndComplete(t *testing.T) {
	worker := newScriptWorker(models.JobKindScrapeList)
	m, storage, _ := startManager(t, 3, 5, worker)

	job := newJob("job-1", "user-1", models.JobKindScrapeList)
	require.NoError(t, m.Submit(context.Background(), job))

	waitForState(t, m, "job-1", models.JobStateCompleted)
	assert.Equal(t, []string{"job-1"}, worker.executed())
	assert.Equal(t, models.JobStateCompleted, storage.state("job-1"))

	stored, err := m.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.NotEmpty(t, stored.Result)
	assert.False(t, stored.CompletedAt.IsZero())
}

func TestSubmitValidation(t *testing.T) {
	worker := newScriptWorker(models.JobKindScrapeList)
	m, _, _ := startManager(t, 1, 5, worker)

	err := m.Submit(context.Background(), newJob("j", "", models.JobKindScrapeList))
	assert.Error(t, err, "missing user id")

	err = m.Submit(context.Background(), newJob("j", "user-1", models.JobKindRunForm))
	assert.Error(t, err, "no worker registered for run_form")
}

func TestPriorityAndQueueOrder(t *testing.T) {
	worker := newScriptWorker(models.JobKindScrapeList)
	worker.blocking = true
	m, _, _ := startManager(t, 1, 5, worker)

	// Occupy the single slot
	first := newJob("job-first", "user-1", models.JobKindScrapeList)
	require.NoError(t, m.Submit(context.Background(), first))
	require.Eventually(t, func() bool { return len(worker.executed()) == 1 }, eventually, 5*time.Millisecond)

	// Queue a low-priority job, then a high-priority one
	low := newJob("job-low", "user-1", models.JobKindScrapeList)
	low.Priority = models.PriorityLow
	high := newJob("job-high", "user-1", models.JobKindScrapeList)
	high.Priority = models.PriorityHigh
	require.NoError(t, m.Submit(context.Background(), low))
	require.NoError(t, m.Submit(context.Background(), high))

	// High priority routes to the priority queue, walked first
	job, err := m.GetJob(context.Background(), "job-high")
	require.NoError(t, err)
	assert.Equal(t, models.QueuePriority, job.Queue)

	worker.releases <- struct{}{}
	require.Eventually(t, func() bool { return len(worker.executed()) == 2 }, eventually, 5*time.Millisecond)
	worker.releases <- struct{}{}
	require.Eventually(t, func() bool { return len(worker.executed()) == 3 }, eventually, 5*time.Millisecond)
	worker.releases <- struct{}{}

	assert.Equal(t, []string{"job-first", "job-high", "job-low"}, worker.executed())
}

func TestMaxConcurrentJobs(t *testing.T) {
	worker := newScriptWorker(models.JobKindScrapeList)
	worker.blocking = true
	m, _, _ := startManager(t, 2, 5, worker)

	for _, id := range []string{"j-1", "j-2", "j-3"} {
		require.NoError(t, m.Submit(context.Background(), newJob(id, "user-1", models.JobKindScrapeList)))
	}

	require.Eventually(t, func() bool { return len(worker.executed()) == 2 }, eventually, 5*time.Millisecond)

	// The third never starts while both slots are held
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, worker.executed(), 2)

	stats, err := m.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Running)
	assert.Equal(t, 1, stats.Pending)

	worker.releases <- struct{}{}
	require.Eventually(t, func() bool { return len(worker.executed()) == 3 }, eventually, 5*time.Millisecond)
	worker.releases <- struct{}{}
	worker.releases <- struct{}{}
}

func TestResourceGate(t *testing.T) {
	worker := newScriptWorker(models.JobKindScrapeList)
	worker.blocking = true
	m, _, resources := startManager(t, 5, 1, worker)

	require.NoError(t, m.Submit(context.Background(), newJob("j-1", "user-1", models.JobKindScrapeList)))
	require.NoError(t, m.Submit(context.Background(), newJob("j-2", "user-1", models.JobKindScrapeList)))

	require.Eventually(t, func() bool { return len(worker.executed()) == 1 }, eventually, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, worker.executed(), 1, "one session capacity admits one job")
	assert.Equal(t, 1, resources.Utilization().SessionsUsed)

	worker.releases <- struct{}{}
	require.Eventually(t, func() bool { return len(worker.executed()) == 2 }, eventually, 5*time.Millisecond)
	worker.releases <- struct{}{}
}

func TestDependencyOrdering(t *testing.T) {
	worker := newScriptWorker(models.JobKindScrapeList)
	worker.blocking = true
	m, _, _ := startManager(t, 3, 5, worker)

	require.NoError(t, m.Submit(context.Background(), newJob("job-a", "user-1", models.JobKindScrapeList)))
	require.Eventually(t, func() bool { return len(worker.executed()) == 1 }, eventually, 5*time.Millisecond)

	dependent := newJob("job-b", "user-1", models.JobKindScrapeList)
	dependent.DependsOn = []string{"job-a"}
	require.NoError(t, m.Submit(context.Background(), dependent))

	// Slots are free, but the dependency holds job-b back
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{"job-a"}, worker.executed())

	worker.releases <- struct{}{}
	waitForState(t, m, "job-a", models.JobStateCompleted)
	worker.releases <- struct{}{}
	waitForState(t, m, "job-b", models.JobStateCompleted)
	assert.Equal(t, []string{"job-a", "job-b"}, worker.executed())
}

func TestDependencyOnUnknownJobFails(t *testing.T) {
	worker := newScriptWorker(models.JobKindScrapeList)
	m, _, _ := startManager(t, 3, 5, worker)

	dependent := newJob("job-b", "user-1", models.JobKindScrapeList)
	dependent.DependsOn = []string{"job-never-submitted"}
	require.NoError(t, m.Submit(context.Background(), dependent))

	waitForState(t, m, "job-b", models.JobStateFailed)
	assert.Empty(t, worker.executed())
}

func TestDependencyFailurePropagates(t *testing.T) {
	worker := newScriptWorker(models.JobKindScrapeList)
	worker.failures["job-a"] = 1
	m, _, _ := startManager(t, 3, 5, worker)

	dep := newJob("job-a", "user-1", models.JobKindScrapeList)
	dep.MaxRetries = 0
	require.NoError(t, m.Submit(context.Background(), dep))

	dependent := newJob("job-b", "user-1", models.JobKindScrapeList)
	dependent.DependsOn = []string{"job-a"}
	require.NoError(t, m.Submit(context.Background(), dependent))

	waitForState(t, m, "job-a", models.JobStateFailed)
	waitForState(t, m, "job-b", models.JobStateFailed)

	job, err := m.GetJob(context.Background(), "job-b")
	require.NoError(t, err)
	assert.Contains(t, job.Error, "dependency")
	assert.NotContains(t, worker.executed(), "job-b")
}

func TestScheduledAtGate(t *testing.T) {
	worker := newScriptWorker(models.JobKindScrapeList)
	m, _, _ := startManager(t, 3, 5, worker)

	job := newJob("job-later", "user-1", models.JobKindScrapeList)
	job.ScheduledAt = time.Now().Add(80 * time.Millisecond)
	require.NoError(t, m.Submit(context.Background(), job))

	time.Sleep(40 * time.Millisecond)
	assert.Empty(t, worker.executed(), "not due yet")

	waitForState(t, m, "job-later", models.JobStateCompleted)
}

func TestRetryRequeuesThroughRetryQueue(t *testing.T) {
	worker := newScriptWorker(models.JobKindScrapeList)
	worker.failures["job-flaky"] = 1
	m, _, _ := startManager(t, 3, 5, worker)

	job := newJob("job-flaky", "user-1", models.JobKindScrapeList)
	job.MaxRetries = 2
	require.NoError(t, m.Submit(context.Background(), job))

	waitForState(t, m, "job-flaky", models.JobStateCompleted)

	final, err := m.GetJob(context.Background(), "job-flaky")
	require.NoError(t, err)
	assert.Equal(t, 1, final.RetryCount)
	assert.Equal(t, models.QueueRetry, final.Queue)
	assert.Len(t, worker.executed(), 2)
}

func TestRetriesExhaustedFails(t *testing.T) {
	worker := newScriptWorker(models.JobKindScrapeList)
	worker.failures["job-doomed"] = 10
	m, _, _ := startManager(t, 3, 5, worker)

	job := newJob("job-doomed", "user-1", models.JobKindScrapeList)
	job.MaxRetries = 1
	require.NoError(t, m.Submit(context.Background(), job))

	waitForState(t, m, "job-doomed", models.JobStateFailed)
	assert.Len(t, worker.executed(), 2, "initial attempt plus one retry")
}

func TestCancelQueuedJob(t *testing.T) {
	worker := newScriptWorker(models.JobKindScrapeList)
	worker.blocking = true
	m, _, _ := startManager(t, 1, 5, worker)

	require.NoError(t, m.Submit(context.Background(), newJob("job-running", "user-1", models.JobKindScrapeList)))
	require.Eventually(t, func() bool { return len(worker.executed()) == 1 }, eventually, 5*time.Millisecond)

	require.NoError(t, m.Submit(context.Background(), newJob("job-waiting", "user-1", models.JobKindScrapeList)))
	require.NoError(t, m.Cancel(context.Background(), "job-waiting"))

	waitForState(t, m, "job-waiting", models.JobStateCancelled)

	worker.releases <- struct{}{}
	waitForState(t, m, "job-running", models.JobStateCompleted)
	assert.NotContains(t, worker.executed(), "job-waiting")

	// Terminal jobs cannot be cancelled again
	assert.Error(t, m.Cancel(context.Background(), "job-waiting"))
}

func TestCancelRunningJob(t *testing.T) {
	worker := newScriptWorker(models.JobKindScrapeList)
	worker.blocking = true
	worker.returnCtx = true
	m, _, _ := startManager(t, 1, 5, worker)

	require.NoError(t, m.Submit(context.Background(), newJob("job-1", "user-1", models.JobKindScrapeList)))
	require.Eventually(t, func() bool { return len(worker.executed()) == 1 }, eventually, 5*time.Millisecond)

	require.NoError(t, m.Cancel(context.Background(), "job-1"))
	waitForState(t, m, "job-1", models.JobStateCancelled)
}

func TestCancelUnknownJob(t *testing.T) {
	worker := newScriptWorker(models.JobKindScrapeList)
	m, _, _ := startManager(t, 1, 5, worker)
	assert.Error(t, m.Cancel(context.Background(), "nope"))
}

func TestRehydrationResetsRunningJobs(t *testing.T) {
	storage := newMemJobStorage()
	interrupted := newJob("job-zombie", "user-1", models.JobKindScrapeList)
	interrupted.State = models.JobStateRunning
	interrupted.Queue = models.QueueSingle
	require.NoError(t, storage.SaveJob(context.Background(), interrupted))

	worker := newScriptWorker(models.JobKindScrapeList)
	m := NewManager(queueConfig(3), storage, newFakeResources(5), nil, arbor.NewLogger())
	m.RegisterWorker(worker)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { _ = m.Stop() })

	waitForState(t, m, "job-zombie", models.JobStateCompleted)
}

func TestStats(t *testing.T) {
	worker := newScriptWorker(models.JobKindScrapeList)
	m, _, _ := startManager(t, 3, 5, worker)

	require.NoError(t, m.Submit(context.Background(), newJob("j-1", "user-1", models.JobKindScrapeList)))
	waitForState(t, m, "j-1", models.JobStateCompleted)

	stats, err := m.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 3, stats.MaxRunning)
	assert.Zero(t, stats.Running)
	assert.Contains(t, stats.QueueDepths, models.QueueSingle)
}
