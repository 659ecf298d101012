package models

import (
	"encoding/json"
	"time"
)

// JobKind identifies what a queued automation job does
type JobKind string

const (
	JobKindScrapeList       JobKind = "scrape_list"
	JobKindScrapeDispensers JobKind = "scrape_dispensers"
	JobKindRunForm          JobKind = "run_form"
	JobKindRunBatch         JobKind = "run_batch"
)

// JobState represents the lifecycle state of an automation job.
// Transitions are monotonic with one exception: running -> queued when a
// retry is scheduled.
type JobState string

const (
	JobStatePending   JobState = "pending"
	JobStateQueued    JobState = "queued"
	JobStateRunning   JobState = "running"
	JobStatePaused    JobState = "paused"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
	JobStateCancelled JobState = "cancelled"
	JobStateTimeout   JobState = "timeout"
)

// IsTerminal reports whether the state admits no further transitions
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateCompleted, JobStateFailed, JobStateCancelled, JobStateTimeout:
		return true
	}
	return false
}

// JobPriority orders jobs within a queue; higher runs first
type JobPriority int

const (
	PriorityLow      JobPriority = 0
	PriorityNormal   JobPriority = 1
	PriorityHigh     JobPriority = 2
	PriorityCritical JobPriority = 3
)

// ParseJobPriority maps an API string to a priority, defaulting to normal
func ParseJobPriority(s string) JobPriority {
	switch s {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	case "critical":
		return PriorityCritical
	default:
		return PriorityNormal
	}
}

func (p JobPriority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "normal"
	}
}

// QueueName selects one of the logical priority queues
type QueueName string

const (
	QueueSingle    QueueName = "single"
	QueueBatch     QueueName = "batch"
	QueueScheduled QueueName = "scheduled"
	QueueRetry     QueueName = "retry"
	QueuePriority  QueueName = "priority"
)

// AllQueues is the fixed fairness order the scheduler walks each tick
var AllQueues = []QueueName{QueuePriority, QueueSingle, QueueBatch, QueueScheduled, QueueRetry}

// DependencyMode controls how multiple dependencies gate a job
type DependencyMode string

const (
	DependencyAll DependencyMode = "all"
	DependencyAny DependencyMode = "any"
)

// ResourceRequirements declares what a job needs while running
type ResourceRequirements struct {
	Sessions    int           `json:"sessions"`
	MemoryMB    int           `json:"memory_mb"`
	CPU         float64       `json:"cpu"`
	MaxDuration time.Duration `json:"max_duration"`
}

// DefaultResourceRequirements covers a single-session automation run
func DefaultResourceRequirements() ResourceRequirements {
	return ResourceRequirements{
		Sessions:    1,
		MemoryMB:    512,
		CPU:         1.0,
		MaxDuration: 30 * time.Minute,
	}
}

// AutomationJob is the unit of work the queue schedules. Payload is an opaque
// JSON blob decoded by the worker registered for Kind; the queue itself never
// inspects it.
type AutomationJob struct {
	ID             string               `json:"id" badgerhold:"key"`
	UserID         string               `json:"user_id" badgerhold:"index"`
	Kind           JobKind              `json:"kind"`
	Priority       JobPriority          `json:"priority"`
	State          JobState             `json:"state" badgerhold:"index"`
	Queue          QueueName            `json:"queue"`
	Payload        json.RawMessage      `json:"payload,omitempty"`
	DependsOn      []string             `json:"depends_on,omitempty"`
	DependencyMode DependencyMode       `json:"dependency_mode,omitempty"`
	Resources      ResourceRequirements `json:"resources"`
	ScheduledAt    time.Time            `json:"scheduled_at,omitempty"`
	Deadline       time.Time            `json:"deadline,omitempty"`
	MaxRetries     int                  `json:"max_retries"`
	RetryDelay     time.Duration        `json:"retry_delay"`
	RetryCount     int                  `json:"retry_count"`
	CreatedAt      time.Time            `json:"created_at"`
	QueuedAt       time.Time            `json:"queued_at,omitempty"`
	StartedAt      time.Time            `json:"started_at,omitempty"`
	CompletedAt    time.Time            `json:"completed_at,omitempty"`
	Error          string               `json:"error,omitempty"`
	Result         json.RawMessage      `json:"result,omitempty"`
}

// EffectiveTime is the job's position key within its queue: scheduled_at when
// set, otherwise created_at.
func (j *AutomationJob) EffectiveTime() time.Time {
	if !j.ScheduledAt.IsZero() {
		return j.ScheduledAt
	}
	return j.CreatedAt
}

// Before reports whether j orders ahead of other within the same queue:
// higher priority first, then earlier effective time, ties broken by
// created_at.
func (j *AutomationJob) Before(other *AutomationJob) bool {
	if j.Priority != other.Priority {
		return j.Priority > other.Priority
	}
	jt, ot := j.EffectiveTime(), other.EffectiveTime()
	if !jt.Equal(ot) {
		return jt.Before(ot)
	}
	return j.CreatedAt.Before(other.CreatedAt)
}

// SetPayload marshals v into the job's payload blob
func (j *AutomationJob) SetPayload(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	j.Payload = data
	return nil
}

// DecodePayload unmarshals the payload blob into v
func (j *AutomationJob) DecodePayload(v interface{}) error {
	return json.Unmarshal(j.Payload, v)
}

// ScrapeListPayload carries a list-scrape request to its worker
type ScrapeListPayload struct {
	UserID      string `json:"user_id"`
	TriggerType string `json:"trigger_type"`
	StartDate   string `json:"start_date,omitempty"`
	EndDate     string `json:"end_date,omitempty"`
}

// ScrapeDispensersPayload carries a dispenser-scrape request
type ScrapeDispensersPayload struct {
	UserID       string `json:"user_id"`
	WorkOrderID  string `json:"work_order_id"`
	ForceRefresh bool   `json:"force_refresh"`
}

// RunFormPayload carries a single visit's form-automation request
type RunFormPayload struct {
	UserID      string   `json:"user_id"`
	WorkOrderID string   `json:"work_order_id"`
	VisitURL    string   `json:"visit_url"`
	Dispensers  []string `json:"dispensers,omitempty"` // empty means all
	Template    string   `json:"template,omitempty"`
}

// RunBatchPayload carries a multi-visit form-automation request
type RunBatchPayload struct {
	UserID          string   `json:"user_id"`
	WorkOrderIDs    []string `json:"work_order_ids"`
	Concurrency     int      `json:"concurrency"`
	InterJobDelay   string   `json:"inter_job_delay,omitempty"`
	ItemRetryLimit  int      `json:"item_retry_limit"`
	ContinueOnError bool     `json:"continue_on_error"`
}
