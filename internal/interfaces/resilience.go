package interfaces

import (
	"context"

	"github.com/ternarybob/metior/internal/models"
)

// RecoveryStats aggregates outcomes per (kind, action) pair
type RecoveryStats struct {
	Kind        models.ErrorKind      `json:"kind"`
	Action      models.RecoveryAction `json:"action"`
	Attempts    int64                 `json:"attempts"`
	Successes   int64                 `json:"successes"`
	Failures    int64                 `json:"failures"`
	SuccessRate float64               `json:"success_rate"`
}

// RecoveryService classifies failures and drives the retry machinery
type RecoveryService interface {
	// Classify maps an error to its kind: typed errors first, then the
	// static substring pattern table, else unknown.
	Classify(err error) models.ErrorKind

	// StrategyFor returns the recovery strategy for a kind.
	StrategyFor(kind models.ErrorKind) models.RecoveryStrategy

	// Recover wraps an operation: classification, strategy attempts with
	// delays and backoff, fallback attempts, circuit breaking, and stats.
	// Retry-type actions are executed here by re-invoking fn with the action
	// on the Attempt; routing actions (skip_and_continue, abort,
	// escalate_manual) are returned to the caller with the last error. On
	// success the action is empty and the error nil.
	Recover(ctx context.Context, operation string, fn func(ctx context.Context, attempt models.Attempt) error) (models.RecoveryAction, error)

	// RecordOutcome feeds the circuit breaker and statistics for failures
	// handled outside Recover.
	RecordOutcome(kind models.ErrorKind, operation string, success bool)

	// BreakerOpen reports whether the (kind, operation) breaker is
	// currently short-circuiting.
	BreakerOpen(kind models.ErrorKind, operation string) bool

	// Stats returns the per-(kind,action) counters.
	Stats() []RecoveryStats

	// RecentErrors returns up to limit most recent recovery contexts.
	RecentErrors(limit int) []*models.RecoveryContext
}
