package resilience

import (
	"time"

	"github.com/ternarybob/metior/internal/models"
)

// defaultStrategies returns the per-kind recovery table. Validation errors
// are never retried: bad data stays bad, so the item is skipped.
func defaultStrategies() map[models.ErrorKind]models.RecoveryStrategy {
	return map[models.ErrorKind]models.RecoveryStrategy{
		models.ErrorKindNetwork: {
			Kind:             models.ErrorKindNetwork,
			Action:           models.ActionRetryWithDelay,
			MaxAttempts:      3,
			BaseDelay:        5 * time.Second,
			ExponentialBack:  true,
			FallbackAction:   models.ActionRetryWithNewSession,
			FallbackAttempts: 2,
		},
		models.ErrorKindTimeout: {
			Kind:             models.ErrorKindTimeout,
			Action:           models.ActionRetryWithRefresh,
			MaxAttempts:      2,
			BaseDelay:        3 * time.Second,
			FallbackAction:   models.ActionRetryWithNewSession,
			FallbackAttempts: 1,
		},
		models.ErrorKindAuthentication: {
			Kind:           models.ErrorKindAuthentication,
			Action:         models.ActionRetryWithNewSession,
			MaxAttempts:    2,
			BaseDelay:      2 * time.Second,
			FallbackAction: models.ActionEscalateManual,
		},
		models.ErrorKindPageLoad: {
			Kind:             models.ErrorKindPageLoad,
			Action:           models.ActionRetryWithRefresh,
			MaxAttempts:      3,
			BaseDelay:        2 * time.Second,
			ExponentialBack:  true,
			FallbackAction:   models.ActionRetryAlternative,
			FallbackAttempts: 2,
		},
		models.ErrorKindElementNotFound: {
			Kind:             models.ErrorKindElementNotFound,
			Action:           models.ActionRetryWithDelay,
			MaxAttempts:      4,
			BaseDelay:        time.Second,
			FallbackAction:   models.ActionRetryAlternative,
			FallbackAttempts: 2,
		},
		models.ErrorKindFormSubmission: {
			Kind:           models.ErrorKindFormSubmission,
			Action:         models.ActionRetryWithRefresh,
			MaxAttempts:    2,
			BaseDelay:      3 * time.Second,
			FallbackAction: models.ActionSkipAndContinue,
		},
		models.ErrorKindScraping: {
			Kind:           models.ErrorKindScraping,
			Action:         models.ActionRetryAlternative,
			MaxAttempts:    3,
			BaseDelay:      2 * time.Second,
			FallbackAction: models.ActionSkipAndContinue,
		},
		models.ErrorKindBrowserCrash: {
			Kind:           models.ErrorKindBrowserCrash,
			Action:         models.ActionRetryWithNewSession,
			MaxAttempts:    2,
			BaseDelay:      5 * time.Second,
			FallbackAction: models.ActionAbort,
		},
		models.ErrorKindCredential: {
			Kind:        models.ErrorKindCredential,
			Action:      models.ActionEscalateManual,
			MaxAttempts: 1,
		},
		models.ErrorKindValidation: {
			Kind:        models.ErrorKindValidation,
			Action:      models.ActionSkipAndContinue,
			MaxAttempts: 1,
		},
		models.ErrorKindUnknown: {
			Kind:           models.ErrorKindUnknown,
			Action:         models.ActionRetryWithDelay,
			MaxAttempts:    2,
			BaseDelay:      3 * time.Second,
			FallbackAction: models.ActionSkipAndContinue,
		},
	}
}

// isRetryAction reports whether an action re-invokes the operation rather
// than routing the failure to the caller.
func isRetryAction(action models.RecoveryAction) bool {
	switch action {
	case models.ActionRetryImmediate,
		models.ActionRetryWithDelay,
		models.ActionRetryWithRefresh,
		models.ActionRetryWithNewSession,
		models.ActionRetryAlternative:
		return true
	}
	return false
}
