package interfaces

import (
	"context"

	"github.com/ternarybob/metior/internal/models"
)

// QueueStats aggregates queue and resource state for the status endpoint
type QueueStats struct {
	QueueDepths map[models.QueueName]int `json:"queue_depths"`
	Running     int                      `json:"running"`
	MaxRunning  int                      `json:"max_running"`
	Pending     int                      `json:"pending"`
	Completed   int                      `json:"completed"`
	Failed      int                      `json:"failed"`
	Utilization ResourceUtilization      `json:"utilization"`
}

// JobWorker executes jobs of one kind. The queue engine routes each
// dispatched job to the worker registered for its kind.
type JobWorker interface {
	// Kind returns the job kind this worker handles.
	Kind() models.JobKind

	// Execute processes one job. The context is cancelled on job
	// cancellation or max_duration expiry; workers poll it between
	// dispensers and navigations. The returned result is stored on the
	// job; an error routes through retry accounting.
	Execute(ctx context.Context, job *models.AutomationJob) (result interface{}, err error)
}

// QueueManager is the priority-ordered, dependency-respecting,
// resource-gated job dispatcher.
type QueueManager interface {
	// Start launches the scheduler loop and rehydrates persisted jobs
	// (running jobs are conservatively reset to queued).
	Start(ctx context.Context) error

	// Stop signals the scheduler and waits for running workers to observe
	// cancellation.
	Stop() error

	// Submit validates, persists, and enqueues a job, waking the scheduler.
	Submit(ctx context.Context, job *models.AutomationJob) error

	// Cancel marks a job cancelled; running workers receive cooperative
	// cancellation and resources are released on worker exit.
	Cancel(ctx context.Context, jobID string) error

	// GetJob returns the persisted job by id.
	GetJob(ctx context.Context, jobID string) (*models.AutomationJob, error)

	// ListJobs returns a user's jobs, most recent first.
	ListJobs(ctx context.Context, userID string, limit int) ([]*models.AutomationJob, error)

	// RegisterWorker binds a worker to its job kind; must be called before
	// Start.
	RegisterWorker(worker JobWorker)

	// Stats reports queue depths, running counts, and resource utilization.
	Stats(ctx context.Context) (*QueueStats, error)
}
