package models

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode is the stable machine-readable identifier carried by API errors
type ErrorCode string

const (
	CodeAuthFailed          ErrorCode = "auth_failed"
	CodeWorkFossaAuthFailed ErrorCode = "workfossa_auth_failed"
	CodeTokenExpired        ErrorCode = "token_expired"
	CodeInvalidCredentials  ErrorCode = "invalid_credentials"
	CodeUnauthorized        ErrorCode = "unauthorized"
	CodeRecordNotFound      ErrorCode = "record_not_found"
	CodeValidationError     ErrorCode = "validation_error"
	CodeConstraintViolation ErrorCode = "constraint_violation"
	CodeConfigurationError  ErrorCode = "configuration_error"
	CodeDatabaseUnavailable ErrorCode = "database_connection_failed"
	CodeBrowserInitFailed   ErrorCode = "browser_init_failed"
	CodePageLoadFailed      ErrorCode = "page_load_failed"
	CodeExternalService     ErrorCode = "external_service_error"
	CodeCredentialError     ErrorCode = "credential_error"
	CodeInternalError       ErrorCode = "internal_error"
)

// APIError is the JSON error shape returned by every endpoint
type APIError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Type    string    `json:"type"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// HTTPStatus maps the error code onto its status deterministically
func (e *APIError) HTTPStatus() int {
	switch e.Code {
	case CodeValidationError:
		return http.StatusBadRequest
	case CodeAuthFailed, CodeTokenExpired, CodeInvalidCredentials, CodeWorkFossaAuthFailed:
		return http.StatusUnauthorized
	case CodeUnauthorized:
		return http.StatusForbidden
	case CodeRecordNotFound:
		return http.StatusNotFound
	case CodeConstraintViolation:
		return http.StatusConflict
	case CodePageLoadFailed, CodeExternalService:
		return http.StatusBadGateway
	case CodeDatabaseUnavailable, CodeBrowserInitFailed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func newAPIError(code ErrorCode, errType, format string, args ...interface{}) *APIError {
	return &APIError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Type:    errType,
	}
}

// NewValidationError reports a malformed or incomplete request
func NewValidationError(format string, args ...interface{}) *APIError {
	return newAPIError(CodeValidationError, "validation", format, args...)
}

// NewAuthError reports an authentication failure under the given code
// (bearer-token rejection, target-site login failure, expired token).
func NewAuthError(code ErrorCode, format string, args ...interface{}) *APIError {
	return newAPIError(code, "authentication", format, args...)
}

// NewForbiddenError reports a user-scope or admin violation
func NewForbiddenError(format string, args ...interface{}) *APIError {
	return newAPIError(CodeUnauthorized, "authorization", format, args...)
}

// NewNotFoundError reports a missing record
func NewNotFoundError(format string, args ...interface{}) *APIError {
	return newAPIError(CodeRecordNotFound, "not_found", format, args...)
}

// IsNotFound reports whether err carries the record_not_found code
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == CodeRecordNotFound
}

// NewConflictError reports a uniqueness or referential constraint violation
func NewConflictError(format string, args ...interface{}) *APIError {
	return newAPIError(CodeConstraintViolation, "conflict", format, args...)
}

// NewCredentialError returns the single generic credential failure shape.
// The underlying cause (decryption detail, key material state) is logged
// server-side and never surfaced to clients.
func NewCredentialError() *APIError {
	return newAPIError(CodeCredentialError, "credential", "credential operation failed")
}

// NewUpstreamError reports a target-site failure under the given code
func NewUpstreamError(code ErrorCode, format string, args ...interface{}) *APIError {
	return newAPIError(code, "upstream", format, args...)
}

// NewUnavailableError reports an unavailable dependency (browser, database)
func NewUnavailableError(code ErrorCode, format string, args ...interface{}) *APIError {
	return newAPIError(code, "unavailable", format, args...)
}

// NewInternalError hides internals behind a stable shape
func NewInternalError(format string, args ...interface{}) *APIError {
	return newAPIError(CodeInternalError, "internal", format, args...)
}
