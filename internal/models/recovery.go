package models

import "time"

// ErrorKind classifies a failure for recovery-strategy selection
type ErrorKind string

const (
	ErrorKindNetwork         ErrorKind = "network"
	ErrorKindTimeout         ErrorKind = "timeout"
	ErrorKindAuthentication  ErrorKind = "authentication"
	ErrorKindPageLoad        ErrorKind = "page_load"
	ErrorKindElementNotFound ErrorKind = "element_not_found"
	ErrorKindFormSubmission  ErrorKind = "form_submission"
	ErrorKindScraping        ErrorKind = "scraping"
	ErrorKindBrowserCrash    ErrorKind = "browser_crash"
	ErrorKindCredential      ErrorKind = "credential"
	ErrorKindValidation      ErrorKind = "validation"
	ErrorKindUnknown         ErrorKind = "unknown"
)

// RecoveryAction is what the classifier tells the caller to do next
type RecoveryAction string

const (
	ActionRetryImmediate      RecoveryAction = "retry_immediate"
	ActionRetryWithDelay      RecoveryAction = "retry_with_delay"
	ActionRetryWithRefresh    RecoveryAction = "retry_with_refresh"
	ActionRetryWithNewSession RecoveryAction = "retry_with_new_session"
	ActionRetryAlternative    RecoveryAction = "retry_with_alternative"
	ActionSkipAndContinue     RecoveryAction = "skip_and_continue"
	ActionAbort               RecoveryAction = "abort"
	ActionEscalateManual      RecoveryAction = "escalate_manual"
)

// RecoveryContext captures one classified failure for diagnostics and stats
type RecoveryContext struct {
	ErrorID       string    `json:"error_id"`
	ErrorKind     ErrorKind `json:"error_kind"`
	Operation     string    `json:"operation"`
	SessionID     string    `json:"session_id,omitempty"`
	UserID        string    `json:"user_id,omitempty"`
	JobID         string    `json:"job_id,omitempty"`
	AttemptNumber int       `json:"attempt_number"`
	Timestamp     time.Time `json:"timestamp"`
	Message       string    `json:"message"`
	Stack         string    `json:"stack,omitempty"`
}

// RecoveryStrategy describes how failures of one kind are handled
type RecoveryStrategy struct {
	Kind             ErrorKind      `json:"kind"`
	Action           RecoveryAction `json:"action"`
	MaxAttempts      int            `json:"max_attempts"`
	BaseDelay        time.Duration  `json:"base_delay"`
	ExponentialBack  bool           `json:"exponential_backoff"`
	FallbackAction   RecoveryAction `json:"fallback_action,omitempty"`
	FallbackAttempts int            `json:"fallback_attempts,omitempty"`
}

// Attempt tells a wrapped operation how it is being invoked. Action is empty
// on the first attempt; on re-invocations it carries the recovery action the
// operation should honor before retrying (refresh the page, recreate the
// session, switch to an alternative path).
type Attempt struct {
	Number int            `json:"number"`
	Action RecoveryAction `json:"action,omitempty"`
}

// ClassifiedError tags an error with its recovery kind so the classifier can
// skip pattern matching. Services wrap failures they can already categorize.
type ClassifiedError struct {
	Kind ErrorKind
	Err  error
}

func (e *ClassifiedError) Error() string {
	return e.Err.Error()
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// Classified wraps err with a known error kind
func Classified(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Kind: kind, Err: err}
}
