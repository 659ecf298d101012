package interfaces

import "github.com/ternarybob/metior/internal/models"

// QueueEvent announces a job state transition on the bus
type QueueEvent struct {
	JobID    string          `json:"job_id"`
	UserID   string          `json:"user_id,omitempty"`
	Kind     models.JobKind  `json:"kind"`
	State    models.JobState `json:"state"`
	Error    string          `json:"error,omitempty"`
	Occurred int64           `json:"occurred"`
}

// ProgressSubscriber receives events for the jobs/users it filters on.
// Callbacks run on the subscriber's own delivery goroutine; a slow
// subscriber overflows its bounded buffer (oldest dropped) without
// blocking publishers or other subscribers.
type ProgressSubscriber struct {
	// JobID filters to one job; empty means all jobs.
	JobID string
	// UserID filters to one user's jobs; empty means all users.
	UserID string
	// OnProgress is invoked per matching progress event, in publish order.
	OnProgress func(event models.ProgressEvent)
	// OnQueueEvent is invoked per matching job state transition; nil to skip.
	OnQueueEvent func(event QueueEvent)
}

// ProgressBus fans progress and queue events out to subscribers
type ProgressBus interface {
	// Subscribe registers a subscriber and returns its id for Unsubscribe.
	Subscribe(sub ProgressSubscriber) string

	// Unsubscribe removes a subscriber and drains its buffer.
	Unsubscribe(id string)

	// PublishProgress delivers an event to every matching subscriber.
	PublishProgress(event models.ProgressEvent)

	// PublishQueueEvent delivers a job state transition.
	PublishQueueEvent(event QueueEvent)

	// SubscriberCount reports active subscriptions.
	SubscriberCount() int

	// Close stops delivery goroutines and drops all subscribers.
	Close()
}
