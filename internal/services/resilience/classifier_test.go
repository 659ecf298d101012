package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/metior/internal/models"
)

func TestClassify_TaggedErrorsWin(t *testing.T) {
	svc := NewService(arbor.NewLogger())

	// The message alone would classify as timeout; the tag overrides it
	err := models.Classified(models.ErrorKindScraping, errors.New("extraction timed out"))
	assert.Equal(t, models.ErrorKindScraping, svc.Classify(err))

	// Tags survive wrapping
	wrapped := fmt.Errorf("dispenser 3: %w", err)
	assert.Equal(t, models.ErrorKindScraping, svc.Classify(wrapped))
}

func TestClassify_APIErrorCodes(t *testing.T) {
	svc := NewService(arbor.NewLogger())

	tests := []struct {
		name string
		err  error
		want models.ErrorKind
	}{
		{"auth failed", models.NewAuthError(models.CodeWorkFossaAuthFailed, "login rejected"), models.ErrorKindAuthentication},
		{"credential", models.NewCredentialError(), models.ErrorKindCredential},
		{"page load", models.NewUpstreamError(models.CodePageLoadFailed, "blank page"), models.ErrorKindPageLoad},
		{"browser init", models.NewUnavailableError(models.CodeBrowserInitFailed, "no chrome"), models.ErrorKindBrowserCrash},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, svc.Classify(tt.err))
		})
	}
}

func TestClassify_PatternTable(t *testing.T) {
	svc := NewService(arbor.NewLogger())

	tests := []struct {
		msg  string
		want models.ErrorKind
	}{
		{"net::ERR_CONNECTION_REFUSED", models.ErrorKindNetwork},
		{"dial tcp 10.0.0.1:443: connection refused", models.ErrorKindNetwork},
		{"operation timed out after 30s", models.ErrorKindTimeout},
		{"login failed: button not reachable", models.ErrorKindAuthentication},
		{"session expired, redirected to login", models.ErrorKindAuthentication},
		{"navigation failed: net::ERR_ABORTED", models.ErrorKindPageLoad},
		{"waiting for selector .equipment-tab", models.ErrorKindElementNotFound},
		{"could not find node for dispenser row", models.ErrorKindElementNotFound},
		{"form submission rejected by server", models.ErrorKindFormSubmission},
		{"target closed", models.ErrorKindBrowserCrash},
		{"chrome failed to start: exec", models.ErrorKindBrowserCrash},
		{"decrypt credential blob: cipher mismatch", models.ErrorKindCredential},
		{"scrape produced zero rows", models.ErrorKindScraping},
		{"validation: serial number malformed", models.ErrorKindValidation},
		{"something nobody anticipated", models.ErrorKindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.want, svc.Classify(errors.New(tt.msg)))
		})
	}
}

func TestClassify_ContextDeadline(t *testing.T) {
	svc := NewService(arbor.NewLogger())

	assert.Equal(t, models.ErrorKindTimeout, svc.Classify(context.DeadlineExceeded))
	assert.Equal(t, models.ErrorKindTimeout, svc.Classify(fmt.Errorf("navigate: %w", context.DeadlineExceeded)))
}

func TestClassify_NilError(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	assert.Equal(t, models.ErrorKindUnknown, svc.Classify(nil))
}

func TestStrategyFor_Table(t *testing.T) {
	svc := NewService(arbor.NewLogger())

	tests := []struct {
		kind        models.ErrorKind
		action      models.RecoveryAction
		maxAttempts int
		fallback    models.RecoveryAction
	}{
		{models.ErrorKindNetwork, models.ActionRetryWithDelay, 3, models.ActionRetryWithNewSession},
		{models.ErrorKindTimeout, models.ActionRetryWithRefresh, 2, models.ActionRetryWithNewSession},
		{models.ErrorKindAuthentication, models.ActionRetryWithNewSession, 2, models.ActionEscalateManual},
		{models.ErrorKindPageLoad, models.ActionRetryWithRefresh, 3, models.ActionRetryAlternative},
		{models.ErrorKindElementNotFound, models.ActionRetryWithDelay, 4, models.ActionRetryAlternative},
		{models.ErrorKindFormSubmission, models.ActionRetryWithRefresh, 2, models.ActionSkipAndContinue},
		{models.ErrorKindScraping, models.ActionRetryAlternative, 3, models.ActionSkipAndContinue},
		{models.ErrorKindBrowserCrash, models.ActionRetryWithNewSession, 2, models.ActionAbort},
		{models.ErrorKindCredential, models.ActionEscalateManual, 1, ""},
		{models.ErrorKindUnknown, models.ActionRetryWithDelay, 2, models.ActionSkipAndContinue},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			strat := svc.StrategyFor(tt.kind)
			assert.Equal(t, tt.action, strat.Action)
			assert.Equal(t, tt.maxAttempts, strat.MaxAttempts)
			assert.Equal(t, tt.fallback, strat.FallbackAction)
		})
	}

	// Unrecognized kinds fall back to the unknown strategy
	strat := svc.StrategyFor(models.ErrorKind("martian"))
	assert.Equal(t, models.ActionRetryWithDelay, strat.Action)
}
