package resilience

import (
	"sync"
	"time"

	"github.com/ternarybob/metior/internal/models"
)

const (
	// breakerThreshold consecutive failures of one (kind, operation) pair
	// open the breaker.
	breakerThreshold = 10

	// breakerOpenDuration is how long an open breaker short-circuits before
	// resetting.
	breakerOpenDuration = 5 * time.Minute
)

type breakerKey struct {
	kind      models.ErrorKind
	operation string
}

type breakerState struct {
	consecutive int
	openedAt    time.Time
}

// circuitBreaker tracks consecutive failures per (kind, operation) pair.
// While open, matching operations short-circuit to escalate_manual.
type circuitBreaker struct {
	mu     sync.Mutex
	states map[breakerKey]*breakerState
	now    func() time.Time
}

func newCircuitBreaker() *circuitBreaker {
	return &circuitBreaker{
		states: make(map[breakerKey]*breakerState),
		now:    time.Now,
	}
}

// recordFailure bumps the consecutive counter and opens the breaker at the
// threshold. Returns true when the breaker is now open.
func (b *circuitBreaker) recordFailure(kind models.ErrorKind, operation string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := breakerKey{kind: kind, operation: operation}
	st, ok := b.states[key]
	if !ok {
		st = &breakerState{}
		b.states[key] = st
	}

	if b.openLocked(st) {
		return true
	}

	st.consecutive++
	if st.consecutive >= breakerThreshold {
		st.openedAt = b.now()
		return true
	}
	return false
}

// recordSuccess resets the consecutive counter and closes the breaker
func (b *circuitBreaker) recordSuccess(kind models.ErrorKind, operation string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := breakerKey{kind: kind, operation: operation}
	if st, ok := b.states[key]; ok {
		st.consecutive = 0
		st.openedAt = time.Time{}
	}
}

// isOpen reports whether the (kind, operation) breaker short-circuits
func (b *circuitBreaker) isOpen(kind models.ErrorKind, operation string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.states[breakerKey{kind: kind, operation: operation}]
	if !ok {
		return false
	}
	return b.openLocked(st)
}

// openFor scans for any open breaker on an operation, over all kinds
func (b *circuitBreaker) openFor(operation string) (models.ErrorKind, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key, st := range b.states {
		if key.operation == operation && b.openLocked(st) {
			return key.kind, true
		}
	}
	return "", false
}

// openLocked checks open state and resets an expired window. Caller holds mu.
func (b *circuitBreaker) openLocked(st *breakerState) bool {
	if st.openedAt.IsZero() {
		return false
	}
	if b.now().Sub(st.openedAt) >= breakerOpenDuration {
		st.consecutive = 0
		st.openedAt = time.Time{}
		return false
	}
	return true
}
