package common

import (
	"github.com/google/uuid"
)

// NewJobID generates a unique job ID with the "job_" prefix
func NewJobID() string {
	return "job_" + uuid.New().String()
}

// NewSessionID generates a unique browser-session ID with the "sess_" prefix
func NewSessionID() string {
	return "sess_" + uuid.New().String()
}

// NewErrorID generates a unique recovery-context ID with the "err_" prefix
func NewErrorID() string {
	return "err_" + uuid.New().String()
}

// NewRecordID generates a plain UUID for persisted records
func NewRecordID() string {
	return uuid.New().String()
}
