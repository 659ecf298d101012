package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/metior/internal/models"
)

func breakerService() *Service {
	svc := NewService(arbor.NewLogger())
	svc.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return svc
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	svc := breakerService()

	for i := 0; i < breakerThreshold-1; i++ {
		svc.RecordOutcome(models.ErrorKindNetwork, "scrape_list", false)
	}
	assert.False(t, svc.BreakerOpen(models.ErrorKindNetwork, "scrape_list"),
		"nine consecutive failures stay closed")

	svc.RecordOutcome(models.ErrorKindNetwork, "scrape_list", false)
	assert.True(t, svc.BreakerOpen(models.ErrorKindNetwork, "scrape_list"))

	// Other pairs are independent
	assert.False(t, svc.BreakerOpen(models.ErrorKindTimeout, "scrape_list"))
	assert.False(t, svc.BreakerOpen(models.ErrorKindNetwork, "run_form"))
}

func TestBreaker_SuccessResetsConsecutiveCount(t *testing.T) {
	svc := breakerService()

	for i := 0; i < breakerThreshold-1; i++ {
		svc.RecordOutcome(models.ErrorKindNetwork, "scrape_list", false)
	}
	svc.RecordOutcome(models.ErrorKindNetwork, "scrape_list", true)

	// The streak restarts; one more failure is far from the threshold
	svc.RecordOutcome(models.ErrorKindNetwork, "scrape_list", false)
	assert.False(t, svc.BreakerOpen(models.ErrorKindNetwork, "scrape_list"))
}

func TestBreaker_OpenShortCircuitsRecover(t *testing.T) {
	svc := breakerService()

	for i := 0; i < breakerThreshold; i++ {
		svc.RecordOutcome(models.ErrorKindNetwork, "scrape_list", false)
	}
	require.True(t, svc.BreakerOpen(models.ErrorKindNetwork, "scrape_list"))

	invoked := 0
	action, err := svc.Recover(context.Background(), "scrape_list",
		func(ctx context.Context, attempt models.Attempt) error {
			invoked++
			return nil
		})

	assert.Equal(t, models.ActionEscalateManual, action)
	assert.Error(t, err)
	assert.Zero(t, invoked, "an open breaker must not invoke the operation")

	// An unrelated operation is untouched
	action, err = svc.Recover(context.Background(), "run_form",
		func(ctx context.Context, attempt models.Attempt) error { return nil })
	assert.NoError(t, err)
	assert.Empty(t, action)
}

func TestBreaker_ResetsAfterOpenWindow(t *testing.T) {
	svc := breakerService()

	current := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	svc.breaker.now = func() time.Time { return current }

	for i := 0; i < breakerThreshold; i++ {
		svc.RecordOutcome(models.ErrorKindNetwork, "scrape_list", false)
	}
	require.True(t, svc.BreakerOpen(models.ErrorKindNetwork, "scrape_list"))

	// Just inside the window it still short-circuits
	current = current.Add(breakerOpenDuration - time.Second)
	assert.True(t, svc.BreakerOpen(models.ErrorKindNetwork, "scrape_list"))

	// Past the window the breaker closes and operations run again
	current = current.Add(2 * time.Second)
	assert.False(t, svc.BreakerOpen(models.ErrorKindNetwork, "scrape_list"))

	invoked := 0
	action, err := svc.Recover(context.Background(), "scrape_list",
		func(ctx context.Context, attempt models.Attempt) error {
			invoked++
			return nil
		})
	assert.NoError(t, err)
	assert.Empty(t, action)
	assert.Equal(t, 1, invoked)

	// The streak also restarted: a single new failure stays closed
	svc.RecordOutcome(models.ErrorKindNetwork, "scrape_list", false)
	assert.False(t, svc.BreakerOpen(models.ErrorKindNetwork, "scrape_list"))
}

func TestRecover_FailuresFeedBreakerAcrossCalls(t *testing.T) {
	svc := breakerService()

	boom := errors.New("net::ERR_CONNECTION_REFUSED")
	failing := func(ctx context.Context, attempt models.Attempt) error { return boom }

	// Network strategy retries then falls back; each failed attempt counts
	// toward the same (network, scrape_list) streak until the breaker opens.
	opened := false
	for i := 0; i < breakerThreshold && !opened; i++ {
		action, err := svc.Recover(context.Background(), "scrape_list", failing)
		require.Error(t, err)
		require.Equal(t, models.ActionEscalateManual, action)
		opened = svc.BreakerOpen(models.ErrorKindNetwork, "scrape_list")
	}
	assert.True(t, opened)
}
