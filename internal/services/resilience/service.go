// -----------------------------------------------------------------------
// Recovery Service - classifies automation failures and drives retries
// -----------------------------------------------------------------------

package resilience

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/metior/internal/common"
	"github.com/ternarybob/metior/internal/interfaces"
	"github.com/ternarybob/metior/internal/models"
)

const (
	// recentErrorCap bounds the retained recovery contexts
	recentErrorCap = 1000

	// maxRetryDelay caps exponential backoff
	maxRetryDelay = 30 * time.Second
)

type statKey struct {
	kind   models.ErrorKind
	action models.RecoveryAction
}

type statCounters struct {
	attempts  int64
	successes int64
	failures  int64
}

// Service implements interfaces.RecoveryService
type Service struct {
	logger     arbor.ILogger
	strategies map[models.ErrorKind]models.RecoveryStrategy
	breaker    *circuitBreaker

	mu        sync.Mutex
	stats     map[statKey]*statCounters
	recent    []*models.RecoveryContext
	recentIdx int

	// sleep is swapped out by tests to avoid real delays
	sleep func(ctx context.Context, d time.Duration) error
}

// Compile-time assertion
var _ interfaces.RecoveryService = (*Service)(nil)

// NewService creates a recovery service with the default strategy table
func NewService(logger arbor.ILogger) *Service {
	return &Service{
		logger:     logger,
		strategies: defaultStrategies(),
		breaker:    newCircuitBreaker(),
		stats:      make(map[statKey]*statCounters),
		recent:     make([]*models.RecoveryContext, 0, recentErrorCap),
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// StrategyFor returns the recovery strategy for a kind
func (s *Service) StrategyFor(kind models.ErrorKind) models.RecoveryStrategy {
	if strat, ok := s.strategies[kind]; ok {
		return strat
	}
	return s.strategies[models.ErrorKindUnknown]
}

// Recover wraps an operation with classification, retries, fallback, and
// circuit breaking. The strategy is chosen from the first failure's kind;
// later failures still feed the breaker and statistics under their own kind.
func (s *Service) Recover(ctx context.Context, operation string, fn func(ctx context.Context, attempt models.Attempt) error) (models.RecoveryAction, error) {
	if kind, open := s.breaker.openFor(operation); open {
		err := fmt.Errorf("circuit breaker open for %s on %s", kind, operation)
		s.remember(kind, operation, 0, err, false)
		s.logger.Warn().
			Str("operation", operation).
			Str("kind", string(kind)).
			Msg("Circuit breaker open, escalating without attempt")
		return models.ActionEscalateManual, err
	}

	attempt := 0
	invoke := func(action models.RecoveryAction) error {
		attempt++
		return fn(ctx, models.Attempt{Number: attempt, Action: action})
	}

	lastErr := invoke("")
	if lastErr == nil {
		return "", nil
	}

	kind := s.Classify(lastErr)
	strat := s.StrategyFor(kind)

	if s.noteFailure(kind, strat.Action, operation, attempt, lastErr) {
		return models.ActionEscalateManual, lastErr
	}
	if !isRetryAction(strat.Action) {
		return strat.Action, lastErr
	}

	// Primary retries under the first failure's strategy
	for attempt < strat.MaxAttempts {
		if err := s.sleep(ctx, retryDelay(strat, attempt)); err != nil {
			return models.ActionAbort, err
		}
		lastErr = invoke(strat.Action)
		if lastErr == nil {
			s.noteSuccess(kind, strat.Action, operation)
			return "", nil
		}
		failKind := s.Classify(lastErr)
		if s.noteFailure(failKind, strat.Action, operation, attempt, lastErr) {
			return models.ActionEscalateManual, lastErr
		}
	}

	fb := strat.FallbackAction
	if fb == "" {
		return models.ActionEscalateManual, lastErr
	}
	if !isRetryAction(fb) {
		return fb, lastErr
	}

	// Fallback retries use the base delay without backoff
	for i := 0; i < strat.FallbackAttempts; i++ {
		if err := s.sleep(ctx, strat.BaseDelay); err != nil {
			return models.ActionAbort, err
		}
		lastErr = invoke(fb)
		if lastErr == nil {
			s.noteSuccess(kind, fb, operation)
			return "", nil
		}
		failKind := s.Classify(lastErr)
		if s.noteFailure(failKind, fb, operation, attempt, lastErr) {
			return models.ActionEscalateManual, lastErr
		}
	}

	return models.ActionEscalateManual, lastErr
}

// retryDelay computes the pause before the next attempt
func retryDelay(strat models.RecoveryStrategy, attemptsSoFar int) time.Duration {
	delay := strat.BaseDelay
	if strat.ExponentialBack {
		for i := 1; i < attemptsSoFar; i++ {
			delay *= 2
			if delay >= maxRetryDelay {
				return maxRetryDelay
			}
		}
	}
	return delay
}

// noteFailure records breaker, stats, and the recovery context for one failed
// attempt. Returns true when the breaker opened.
func (s *Service) noteFailure(kind models.ErrorKind, action models.RecoveryAction, operation string, attempt int, err error) bool {
	opened := s.breaker.recordFailure(kind, operation)
	s.recordStat(kind, action, false)
	s.remember(kind, operation, attempt, err, kind == models.ErrorKindUnknown)

	s.logger.Warn().
		Str("operation", operation).
		Str("kind", string(kind)).
		Str("action", string(action)).
		Int("attempt", attempt).
		Err(err).
		Msg("Operation failed, applying recovery")

	if opened {
		s.logger.Error().
			Str("operation", operation).
			Str("kind", string(kind)).
			Msg("Circuit breaker opened")
	}
	return opened
}

func (s *Service) noteSuccess(kind models.ErrorKind, action models.RecoveryAction, operation string) {
	s.breaker.recordSuccess(kind, operation)
	s.recordStat(kind, action, true)

	s.logger.Info().
		Str("operation", operation).
		Str("kind", string(kind)).
		Str("action", string(action)).
		Msg("Operation recovered")
}

// RecordOutcome feeds the breaker and statistics for work handled outside
// Recover, such as queue-level job retries.
func (s *Service) RecordOutcome(kind models.ErrorKind, operation string, success bool) {
	action := s.StrategyFor(kind).Action
	if success {
		s.breaker.recordSuccess(kind, operation)
		s.recordStat(kind, action, true)
		return
	}
	s.breaker.recordFailure(kind, operation)
	s.recordStat(kind, action, false)
}

// BreakerOpen reports whether the (kind, operation) breaker short-circuits
func (s *Service) BreakerOpen(kind models.ErrorKind, operation string) bool {
	return s.breaker.isOpen(kind, operation)
}

func (s *Service) recordStat(kind models.ErrorKind, action models.RecoveryAction, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := statKey{kind: kind, action: action}
	c, ok := s.stats[key]
	if !ok {
		c = &statCounters{}
		s.stats[key] = c
	}
	c.attempts++
	if success {
		c.successes++
	} else {
		c.failures++
	}
}

// Stats returns per-(kind, action) counters in a stable order
func (s *Service) Stats() []interfaces.RecoveryStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]interfaces.RecoveryStats, 0, len(s.stats))
	for key, c := range s.stats {
		rate := 0.0
		if c.attempts > 0 {
			rate = float64(c.successes) / float64(c.attempts)
		}
		out = append(out, interfaces.RecoveryStats{
			Kind:        key.kind,
			Action:      key.action,
			Attempts:    c.attempts,
			Successes:   c.successes,
			Failures:    c.failures,
			SuccessRate: rate,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Action < out[j].Action
	})
	return out
}

// remember appends to the bounded ring of recent recovery contexts
func (s *Service) remember(kind models.ErrorKind, operation string, attempt int, err error, withStack bool) {
	rc := &models.RecoveryContext{
		ErrorID:       common.NewErrorID(),
		ErrorKind:     kind,
		Operation:     operation,
		AttemptNumber: attempt,
		Timestamp:     time.Now(),
		Message:       err.Error(),
	}
	if withStack {
		rc.Stack = string(debug.Stack())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.recent) < recentErrorCap {
		s.recent = append(s.recent, rc)
		s.recentIdx = len(s.recent) % recentErrorCap
		return
	}
	s.recent[s.recentIdx] = rc
	s.recentIdx = (s.recentIdx + 1) % recentErrorCap
}

// RecentErrors returns up to limit contexts, newest first
func (s *Service) RecentErrors(limit int) []*models.RecoveryContext {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.recent)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]*models.RecoveryContext, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (s.recentIdx - 1 - i + n) % n
		out = append(out, s.recent[idx])
	}
	return out
}
