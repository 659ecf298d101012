// -----------------------------------------------------------------------
// Progress Bus - fans automation progress and queue events to subscribers
// -----------------------------------------------------------------------

package events

import (
	"sync"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/metior/internal/common"
	"github.com/ternarybob/metior/internal/interfaces"
	"github.com/ternarybob/metior/internal/models"
)

// DefaultBufferSize bounds each subscriber's queue. A slow subscriber
// overflows its own buffer (oldest dropped, warning logged) and never
// blocks publishers or other subscribers.
const DefaultBufferSize = 256

type busItem struct {
	progress *models.ProgressEvent
	queue    *interfaces.QueueEvent
}

type subscriber struct {
	id     string
	filter interfaces.ProgressSubscriber

	mu      sync.Mutex // guards buffer writes for exact drop-oldest
	ch      chan busItem
	done    chan struct{}
	dropped int64
}

// Bus implements interfaces.ProgressBus. Each subscriber gets a delivery
// goroutine consuming its own bounded channel, so per-job publish order is
// preserved per subscriber.
type Bus struct {
	mu         sync.RWMutex
	subs       map[string]*subscriber
	bufferSize int
	closed     bool
	logger     arbor.ILogger
}

// Compile-time assertion
var _ interfaces.ProgressBus = (*Bus)(nil)

// NewBus creates a progress bus with the default buffer size
func NewBus(logger arbor.ILogger) *Bus {
	return NewBusWithBuffer(DefaultBufferSize, logger)
}

// NewBusWithBuffer creates a progress bus with a custom per-subscriber buffer
func NewBusWithBuffer(bufferSize int, logger arbor.ILogger) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Bus{
		subs:       make(map[string]*subscriber),
		bufferSize: bufferSize,
		logger:     logger,
	}
}

// Subscribe registers a subscriber and starts its delivery goroutine
func (b *Bus) Subscribe(sub interfaces.ProgressSubscriber) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ""
	}

	s := &subscriber{
		id:     uuid.New().String(),
		filter: sub,
		ch:     make(chan busItem, b.bufferSize),
		done:   make(chan struct{}),
	}
	b.subs[s.id] = s

	// Subscriber callbacks are application code; a panicking callback must
	// not take the bus down with it
	common.SafeGo(b.logger, "bus-deliver-"+s.id, func() { b.deliver(s) })

	b.logger.Debug().
		Str("subscriber_id", s.id).
		Str("job_id", sub.JobID).
		Str("user_id", sub.UserID).
		Msg("Progress subscriber registered")
	return s.id
}

// deliver runs on the subscriber's own goroutine; callbacks see events in
// the order they were buffered.
func (b *Bus) deliver(s *subscriber) {
	for {
		select {
		case <-s.done:
			return
		case item, ok := <-s.ch:
			if !ok {
				return
			}
			if item.progress != nil && s.filter.OnProgress != nil {
				s.filter.OnProgress(*item.progress)
			}
			if item.queue != nil && s.filter.OnQueueEvent != nil {
				s.filter.OnQueueEvent(*item.queue)
			}
		}
	}
}

// offer enqueues an item for one subscriber, dropping the oldest buffered
// item when full.
func (b *Bus) offer(s *subscriber, item busItem) {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case s.ch <- item:
		return
	default:
	}

	// Buffer full: drop the oldest to make room
	select {
	case <-s.ch:
		s.dropped++
		b.logger.Warn().
			Str("subscriber_id", s.id).
			Int64("dropped_total", s.dropped).
			Msg("Slow progress subscriber, dropping oldest event")
	default:
	}

	select {
	case s.ch <- item:
	default:
		// Delivery goroutine gone; nothing more to do
	}
}

func matchesProgress(f interfaces.ProgressSubscriber, ev *models.ProgressEvent) bool {
	if f.JobID != "" && f.JobID != ev.JobID {
		return false
	}
	if f.UserID != "" && f.UserID != ev.UserID {
		return false
	}
	return true
}

func matchesQueue(f interfaces.ProgressSubscriber, ev *interfaces.QueueEvent) bool {
	if f.JobID != "" && f.JobID != ev.JobID {
		return false
	}
	if f.UserID != "" && f.UserID != ev.UserID {
		return false
	}
	return true
}

// PublishProgress delivers an event to every matching subscriber
func (b *Bus) PublishProgress(event models.ProgressEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, s := range b.subs {
		if matchesProgress(s.filter, &event) {
			ev := event
			b.offer(s, busItem{progress: &ev})
		}
	}
}

// PublishQueueEvent delivers a job state transition
func (b *Bus) PublishQueueEvent(event interfaces.QueueEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, s := range b.subs {
		if matchesQueue(s.filter, &event) {
			ev := event
			b.offer(s, busItem{queue: &ev})
		}
	}
}

// Unsubscribe stops a subscriber's delivery goroutine and removes it
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, exists := b.subs[id]
	if !exists {
		return
	}
	close(s.done)
	delete(b.subs, id)

	b.logger.Debug().Str("subscriber_id", id).Msg("Progress subscriber removed")
}

// SubscriberCount reports active subscriptions
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close drops all subscribers and stops delivery
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		close(s.done)
		delete(b.subs, id)
	}
	b.logger.Debug().Msg("Progress bus closed")
}
