// -----------------------------------------------------------------------
// Queue Manager - priority-ordered, dependency-gated, resource-gated jobs
// -----------------------------------------------------------------------

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/metior/internal/common"
	"github.com/ternarybob/metior/internal/interfaces"
	"github.com/ternarybob/metior/internal/models"
)

const defaultRetryDelay = 30 * time.Second

// gate outcomes for one queued job
type gateResult int

const (
	gateReady gateResult = iota
	gateWait
	gateFailDeps
)

// Manager implements interfaces.QueueManager. One scheduler goroutine
// walks the queues in fairness order each tick (or on wake) and dispatches
// whatever passes the gates: queued state, dependencies, scheduled_at,
// resources.
type Manager struct {
	cfg       *common.QueueConfig
	storage   interfaces.JobStorage
	resources interfaces.ResourceManager
	bus       interfaces.ProgressBus
	logger    arbor.ILogger

	mu              sync.Mutex
	queues          map[models.QueueName]*jobHeap
	jobs            map[string]*models.AutomationJob
	workers         map[models.JobKind]interfaces.JobWorker
	runningCancels  map[string]context.CancelFunc
	cancelRequested map[string]bool
	completed       int64
	failed          int64
	started         bool

	wake   chan struct{}
	stopCh chan struct{}
	loopWG sync.WaitGroup
	jobWG  sync.WaitGroup

	now func() time.Time
}

var _ interfaces.QueueManager = (*Manager)(nil)

func NewManager(cfg *common.QueueConfig, storage interfaces.JobStorage, resources interfaces.ResourceManager, bus interfaces.ProgressBus, logger arbor.ILogger) *Manager {
	m := &Manager{
		cfg:             cfg,
		storage:         storage,
		resources:       resources,
		bus:             bus,
		logger:          logger,
		queues:          make(map[models.QueueName]*jobHeap),
		jobs:            make(map[string]*models.AutomationJob),
		workers:         make(map[models.JobKind]interfaces.JobWorker),
		runningCancels:  make(map[string]context.CancelFunc),
		cancelRequested: make(map[string]bool),
		wake:            make(chan struct{}, 1),
		stopCh:          make(chan struct{}),
		now:             time.Now,
	}
	for _, name := range models.AllQueues {
		m.queues[name] = newJobHeap()
	}
	return m
}

// RegisterWorker binds a worker to its kind; call before Start
func (m *Manager) RegisterWorker(worker interfaces.JobWorker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workers[worker.Kind()] = worker
}

// Start rehydrates persisted jobs and launches the scheduler loop.
// Jobs found in the running state are conservatively reset to queued.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("queue manager already started")
	}
	m.started = true
	m.mu.Unlock()

	if err := m.rehydrate(ctx); err != nil {
		return fmt.Errorf("rehydrate jobs: %w", err)
	}

	m.loopWG.Add(1)
	go m.loop(ctx)

	m.logger.Info().
		Int("max_concurrent", m.cfg.MaxConcurrentJobs).
		Msg("Queue manager started")
	return nil
}

func (m *Manager) rehydrate(ctx context.Context) error {
	persisted, err := m.storage.GetJobsByState(ctx,
		models.JobStatePending, models.JobStateQueued, models.JobStateRunning)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range persisted {
		if job.State == models.JobStateRunning {
			job.State = models.JobStateQueued
			job.StartedAt = time.Time{}
			if err := m.storage.SaveJob(ctx, job); err != nil {
				m.logger.Warn().Str("job_id", job.ID).Err(err).Msg("Rehydrated job not persisted")
			}
			m.logger.Info().Str("job_id", job.ID).Msg("Interrupted job reset to queued")
		}
		if job.State == models.JobStatePending {
			job.State = models.JobStateQueued
		}
		m.jobs[job.ID] = job
		m.heapFor(job).push(job)
	}
	if len(persisted) > 0 {
		m.logger.Info().Int("count", len(persisted)).Msg("Jobs rehydrated from storage")
	}
	return nil
}

// Stop signals the scheduler, cancels running jobs, and waits for workers
// to observe the cancellation.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = false
	close(m.stopCh)
	for _, cancel := range m.runningCancels {
		cancel()
	}
	m.mu.Unlock()

	m.loopWG.Wait()
	m.jobWG.Wait()
	m.logger.Info().Msg("Queue manager stopped")
	return nil
}

// heapFor routes a job to its queue, deriving one when unset
func (m *Manager) heapFor(job *models.AutomationJob) *jobHeap {
	if job.Queue == "" {
		switch {
		case job.Priority >= models.PriorityHigh:
			job.Queue = models.QueuePriority
		case job.Kind == models.JobKindRunBatch:
			job.Queue = models.QueueBatch
		case !job.ScheduledAt.IsZero():
			job.Queue = models.QueueScheduled
		default:
			job.Queue = models.QueueSingle
		}
	}
	h, ok := m.queues[job.Queue]
	if !ok {
		h = m.queues[models.QueueSingle]
		job.Queue = models.QueueSingle
	}
	return h
}

// Submit validates, persists, and enqueues a job, then wakes the scheduler
func (m *Manager) Submit(ctx context.Context, job *models.AutomationJob) error {
	if job.UserID == "" {
		return models.NewValidationError("job requires a user_id")
	}

	m.mu.Lock()
	_, registered := m.workers[job.Kind]
	m.mu.Unlock()
	if !registered {
		return models.NewValidationError("no worker registered for job kind %q", job.Kind)
	}

	now := m.now()
	if job.ID == "" {
		job.ID = common.NewJobID()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.Resources == (models.ResourceRequirements{}) {
		job.Resources = models.DefaultResourceRequirements()
	}
	if job.RetryDelay <= 0 {
		job.RetryDelay = defaultRetryDelay
	}
	if job.DependencyMode == "" {
		job.DependencyMode = models.DependencyAll
	}
	job.State = models.JobStateQueued
	job.QueuedAt = now

	m.mu.Lock()
	h := m.heapFor(job)
	if err := m.storage.SaveJob(ctx, job); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("persist job: %w", err)
	}
	m.jobs[job.ID] = job
	h.push(job)
	m.mu.Unlock()

	m.publishState(job)
	m.logger.Info().
		Str("job_id", job.ID).
		Str("kind", string(job.Kind)).
		Str("queue", string(job.Queue)).
		Str("priority", job.Priority.String()).
		Msg("Job submitted")

	m.signalWake()
	return nil
}

func (m *Manager) signalWake() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) publishState(job *models.AutomationJob) {
	if m.bus == nil {
		return
	}
	m.bus.PublishQueueEvent(interfaces.QueueEvent{
		JobID:    job.ID,
		UserID:   job.UserID,
		Kind:     job.Kind,
		State:    job.State,
		Error:    job.Error,
		Occurred: m.now().Unix(),
	})
}

// -----------------------------------------------------------------------
// Scheduler loop
// -----------------------------------------------------------------------

func (m *Manager) loop(ctx context.Context) {
	defer m.loopWG.Done()

	tick := time.NewTicker(common.ParseDuration(m.cfg.TickInterval, 5*time.Second))
	persist := time.NewTicker(common.ParseDuration(m.cfg.PersistInterval, 30*time.Second))
	defer tick.Stop()
	defer persist.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		case <-m.wake:
		case <-tick.C:
			m.purgeTerminal(ctx)
		case <-persist.C:
			m.persistAll(ctx)
		}
		m.dispatch(ctx)
	}
}

// dispatch fills free slots: walk queues in the fixed fairness order, take
// the best gated-ready job, repeat until no slot or no ready job.
func (m *Manager) dispatch(ctx context.Context) {
	for {
		m.mu.Lock()
		if len(m.runningCancels) >= m.cfg.MaxConcurrentJobs {
			m.mu.Unlock()
			return
		}
		var picked *models.AutomationJob
		for _, name := range models.AllQueues {
			if picked = m.takeDispatchable(ctx, m.queues[name]); picked != nil {
				break
			}
		}
		if picked == nil {
			m.mu.Unlock()
			return
		}
		m.startJobLocked(ctx, picked)
		m.mu.Unlock()
	}
}

// takeDispatchable scans one queue in order for a job passing every gate,
// returning skipped (still-waiting) jobs to the heap. Jobs whose
// dependencies can never complete are failed in place. Caller holds the
// lock.
func (m *Manager) takeDispatchable(ctx context.Context, h *jobHeap) *models.AutomationJob {
	now := m.now()
	var skipped []*models.AutomationJob
	var picked *models.AutomationJob

	for picked == nil {
		job := h.popQueued()
		if job == nil {
			break
		}
		switch m.gateLocked(ctx, job, now) {
		case gateReady:
			picked = job
		case gateWait:
			skipped = append(skipped, job)
		case gateFailDeps:
			m.finalizeLocked(ctx, job, models.JobStateFailed, "dependency failed or missing")
		}
	}
	for _, j := range skipped {
		h.push(j)
	}
	return picked
}

// gateLocked applies the dispatch gates in order: dependencies, then
// scheduled_at, then resource allocation (which commits on success).
func (m *Manager) gateLocked(ctx context.Context, job *models.AutomationJob, now time.Time) gateResult {
	if g := m.dependencyGate(ctx, job); g != gateReady {
		return g
	}
	if !job.ScheduledAt.IsZero() && job.ScheduledAt.After(now) {
		return gateWait
	}
	if !m.resources.Allocate(job.ID, job.Resources) {
		return gateWait
	}
	return gateReady
}

func (m *Manager) dependencyGate(ctx context.Context, job *models.AutomationJob) gateResult {
	if len(job.DependsOn) == 0 {
		return gateReady
	}

	completed, failed := 0, 0
	for _, depID := range job.DependsOn {
		switch m.depState(ctx, depID) {
		case models.JobStateCompleted:
			completed++
		case models.JobStateFailed, models.JobStateCancelled, models.JobStateTimeout:
			failed++
		}
	}

	if job.DependencyMode == models.DependencyAny {
		switch {
		case completed > 0:
			return gateReady
		case failed == len(job.DependsOn):
			return gateFailDeps
		default:
			return gateWait
		}
	}
	// all
	switch {
	case failed > 0:
		return gateFailDeps
	case completed == len(job.DependsOn):
		return gateReady
	default:
		return gateWait
	}
}

// depState resolves a dependency's state from memory first, then storage.
// A dependency nobody has ever seen can never complete.
func (m *Manager) depState(ctx context.Context, jobID string) models.JobState {
	if dep, ok := m.jobs[jobID]; ok {
		return dep.State
	}
	dep, err := m.storage.GetJob(ctx, jobID)
	if err != nil || dep == nil {
		return models.JobStateFailed
	}
	return dep.State
}

// startJobLocked transitions a gated-ready job to running and launches its
// worker goroutine. Caller holds the lock; resources are already allocated.
func (m *Manager) startJobLocked(ctx context.Context, job *models.AutomationJob) {
	worker := m.workers[job.Kind]
	if worker == nil {
		// Registration was checked at submit; a missing worker here means a
		// rehydrated job of a kind this build no longer runs.
		m.resources.Deallocate(job.ID)
		m.finalizeLocked(ctx, job, models.JobStateFailed, fmt.Sprintf("no worker for kind %q", job.Kind))
		return
	}

	job.State = models.JobStateRunning
	job.StartedAt = m.now()
	job.Error = ""
	if err := m.storage.SaveJob(ctx, job); err != nil {
		m.logger.Warn().Str("job_id", job.ID).Err(err).Msg("Running state not persisted")
	}

	var jobCtx context.Context
	var cancel context.CancelFunc
	if job.Resources.MaxDuration > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, job.Resources.MaxDuration)
	} else {
		jobCtx, cancel = context.WithCancel(ctx)
	}
	m.runningCancels[job.ID] = cancel

	m.publishState(job)
	m.logger.Info().
		Str("job_id", job.ID).
		Str("kind", string(job.Kind)).
		Msg("Job dispatched")

	m.jobWG.Add(1)
	go func() {
		defer m.jobWG.Done()
		defer cancel()
		result, err := worker.Execute(jobCtx, job)
		m.finish(ctx, job, jobCtx, result, err)
	}()
}

// finish settles a job after its worker returns: completion, cancellation,
// timeout, retry re-queue, or failure.
func (m *Manager) finish(ctx context.Context, job *models.AutomationJob, jobCtx context.Context, result interface{}, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.runningCancels, job.ID)
	m.resources.Deallocate(job.ID)
	wasCancelled := m.cancelRequested[job.ID]
	delete(m.cancelRequested, job.ID)

	switch {
	case err == nil:
		if result != nil {
			if data, marshalErr := json.Marshal(result); marshalErr == nil {
				job.Result = data
			}
		}
		m.finalizeLocked(ctx, job, models.JobStateCompleted, "")
		m.completed++

	case wasCancelled:
		m.finalizeLocked(ctx, job, models.JobStateCancelled, err.Error())

	case errors.Is(jobCtx.Err(), context.DeadlineExceeded):
		m.finalizeLocked(ctx, job, models.JobStateTimeout, fmt.Sprintf("exceeded max duration %s", job.Resources.MaxDuration))
		m.failed++

	case job.RetryCount < job.MaxRetries:
		job.RetryCount++
		job.State = models.JobStateQueued
		job.Queue = models.QueueRetry
		job.ScheduledAt = m.now().Add(job.RetryDelay)
		job.StartedAt = time.Time{}
		job.Error = err.Error()
		if saveErr := m.storage.SaveJob(ctx, job); saveErr != nil {
			m.logger.Warn().Str("job_id", job.ID).Err(saveErr).Msg("Retry state not persisted")
		}
		m.queues[models.QueueRetry].push(job)
		m.publishState(job)
		m.logger.Warn().
			Str("job_id", job.ID).
			Int("retry", job.RetryCount).
			Int("max_retries", job.MaxRetries).
			Err(err).
			Msg("Job re-queued for retry")

	default:
		m.finalizeLocked(ctx, job, models.JobStateFailed, err.Error())
		m.failed++
	}

	m.signalWake()
}

// finalizeLocked moves a job to a terminal state and persists it
func (m *Manager) finalizeLocked(ctx context.Context, job *models.AutomationJob, state models.JobState, errMsg string) {
	job.State = state
	job.Error = errMsg
	job.CompletedAt = m.now()
	if err := m.storage.SaveJob(ctx, job); err != nil {
		m.logger.Warn().Str("job_id", job.ID).Err(err).Msg("Terminal state not persisted")
	}
	m.publishState(job)

	if state != models.JobStateCompleted {
		m.logger.Warn().
			Str("job_id", job.ID).
			Str("state", string(state)).
			Str("error", errMsg).
			Msg("Job finished unsuccessfully")
	}
}

func (m *Manager) persistAll(ctx context.Context) {
	m.mu.Lock()
	snapshot := make([]*models.AutomationJob, 0, len(m.jobs))
	for _, job := range m.jobs {
		if !job.State.IsTerminal() {
			snapshot = append(snapshot, job)
		}
	}
	m.mu.Unlock()

	for _, job := range snapshot {
		if err := m.storage.SaveJob(ctx, job); err != nil {
			m.logger.Warn().Str("job_id", job.ID).Err(err).Msg("Periodic persist failed")
		}
	}
}

// purgeTerminal drops terminal jobs older than the retention horizon
func (m *Manager) purgeTerminal(ctx context.Context) {
	retention := common.ParseDuration(m.cfg.TerminalRetention, 24*time.Hour)
	cutoff := m.now().Add(-retention)

	if _, err := m.storage.PurgeTerminalBefore(ctx, cutoff.Unix()); err != nil {
		m.logger.Warn().Err(err).Msg("Terminal job purge failed")
	}

	m.mu.Lock()
	for id, job := range m.jobs {
		if job.State.IsTerminal() && !job.CompletedAt.IsZero() && job.CompletedAt.Before(cutoff) {
			delete(m.jobs, id)
		}
	}
	m.mu.Unlock()
}

// -----------------------------------------------------------------------
// API surface
// -----------------------------------------------------------------------

// Cancel marks a job cancelled. Queued jobs finalize immediately; running
// jobs get cooperative cancellation and settle when their worker returns.
func (m *Manager) Cancel(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		stored, err := m.storage.GetJob(ctx, jobID)
		if err != nil || stored == nil {
			return models.NewNotFoundError("job %s not found", jobID)
		}
		job = stored
	}

	switch {
	case job.State.IsTerminal():
		return models.NewConflictError("job %s already %s", jobID, job.State)
	case job.State == models.JobStateRunning:
		m.cancelRequested[jobID] = true
		if cancel, running := m.runningCancels[jobID]; running {
			cancel()
		}
		m.logger.Info().Str("job_id", jobID).Msg("Cancellation requested for running job")
		return nil
	default:
		m.finalizeLocked(ctx, job, models.JobStateCancelled, "cancelled before dispatch")
		return nil
	}
}

func (m *Manager) GetJob(ctx context.Context, jobID string) (*models.AutomationJob, error) {
	m.mu.Lock()
	if job, ok := m.jobs[jobID]; ok {
		m.mu.Unlock()
		return job, nil
	}
	m.mu.Unlock()

	job, err := m.storage.GetJob(ctx, jobID)
	if err != nil || job == nil {
		return nil, models.NewNotFoundError("job %s not found", jobID)
	}
	return job, nil
}

func (m *Manager) ListJobs(ctx context.Context, userID string, limit int) ([]*models.AutomationJob, error) {
	return m.storage.GetJobsByUser(ctx, userID, limit)
}

func (m *Manager) Stats(ctx context.Context) (*interfaces.QueueStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	depths := make(map[models.QueueName]int, len(m.queues))
	pending := 0
	for name, h := range m.queues {
		d := h.depth()
		depths[name] = d
		pending += d
	}

	return &interfaces.QueueStats{
		QueueDepths: depths,
		Running:     len(m.runningCancels),
		MaxRunning:  m.cfg.MaxConcurrentJobs,
		Pending:     pending,
		Completed:   int(m.completed),
		Failed:      int(m.failed),
		Utilization: m.resources.Utilization(),
	}, nil
}
