package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/metior/internal/models"
)

// validate is the shared request validator; handlers tag their request
// structs and call decodeAndValidate.
var validate = validator.New()

type authContextKey struct{}

// WithAuth attaches the resolved bearer identity to the request context.
// Called by the server's auth middleware.
func WithAuth(ctx context.Context, auth *models.AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// AuthFrom returns the identity attached by the auth middleware, or nil
func AuthFrom(ctx context.Context) *models.AuthContext {
	auth, _ := ctx.Value(authContextKey{}).(*models.AuthContext)
	return auth
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteError maps err onto the stable {code, message, type} shape and its
// deterministic HTTP status. Classified automation errors are translated to
// API errors first; anything unrecognized becomes internal_error with the
// detail hidden.
func WriteError(w http.ResponseWriter, err error) {
	apiErr := toAPIError(err)
	WriteJSON(w, apiErr.HTTPStatus(), apiErr)
}

func toAPIError(err error) *models.APIError {
	var apiErr *models.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var classified *models.ClassifiedError
	if errors.As(err, &classified) {
		switch classified.Kind {
		case models.ErrorKindValidation:
			return models.NewValidationError("%s", classified.Err.Error())
		case models.ErrorKindCredential:
			return models.NewCredentialError()
		case models.ErrorKindAuthentication:
			return models.NewAuthError(models.CodeWorkFossaAuthFailed, "%s", classified.Err.Error())
		case models.ErrorKindPageLoad, models.ErrorKindNetwork, models.ErrorKindTimeout:
			return models.NewUpstreamError(models.CodePageLoadFailed, "%s", classified.Err.Error())
		case models.ErrorKindBrowserCrash:
			return models.NewUnavailableError(models.CodeBrowserInitFailed, "%s", classified.Err.Error())
		}
	}

	return models.NewInternalError("internal error")
}

// decodeAndValidate decodes a JSON body into v and runs struct validation
func decodeAndValidate(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return models.NewValidationError("invalid request body: %v", err)
	}
	if err := validate.Struct(v); err != nil {
		return models.NewValidationError("%v", err)
	}
	return nil
}

// requireUserScope enforces the user-scope rule: the caller may touch
// targetUserID's data when it is their own or when they hold the admin flag.
// Violations get a 403 and a security-audit log line.
func requireUserScope(w http.ResponseWriter, r *http.Request, logger arbor.ILogger, targetUserID string) bool {
	auth := AuthFrom(r.Context())
	if auth == nil {
		WriteError(w, models.NewAuthError(models.CodeAuthFailed, "authentication required"))
		return false
	}
	if auth.CanAccess(targetUserID) {
		return true
	}

	audit := models.SecurityAuditEvent{
		TokenUserID:  auth.UserID,
		TargetUserID: targetUserID,
		Path:         r.URL.Path,
		Method:       r.Method,
		RemoteAddr:   r.RemoteAddr,
	}
	logger.Warn().
		Str("token_user_id", audit.TokenUserID).
		Str("target_user_id", audit.TargetUserID).
		Str("path", audit.Path).
		Str("method", audit.Method).
		Str("remote", audit.RemoteAddr).
		Msg("Security audit: user-scope violation")

	WriteError(w, models.NewForbiddenError("access to user %s denied", targetUserID))
	return false
}

// targetUser resolves the user a request operates on: explicit user_id query
// parameter when present, otherwise the caller's own identity.
func targetUser(r *http.Request) string {
	if userID := r.URL.Query().Get("user_id"); userID != "" {
		return userID
	}
	if auth := AuthFrom(r.Context()); auth != nil {
		return auth.UserID
	}
	return ""
}

// paginationParams extracts skip/limit query parameters. Limit 0 means
// unlimited; negatives are rejected upstream by clamping to zero.
func paginationParams(r *http.Request) models.Pagination {
	page := models.Pagination{}
	if skip := r.URL.Query().Get("skip"); skip != "" {
		if n, err := strconv.Atoi(skip); err == nil && n > 0 {
			page.Skip = n
		}
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 {
			page.Limit = n
		}
	}
	return page
}

// writePaginationHeaders sets the list-response envelope headers
func writePaginationHeaders(w http.ResponseWriter, total int, page models.Pagination) {
	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	w.Header().Set("X-Skip", strconv.Itoa(page.Skip))
	w.Header().Set("X-Limit", strconv.Itoa(page.Limit))
}

// submitResponse is the async-accepted shape for job-starting endpoints
type submitResponse struct {
	Status string `json:"status"`
	JobID  string `json:"job_id"`
}

func writeSubmitted(w http.ResponseWriter, jobID string) {
	WriteJSON(w, http.StatusAccepted, submitResponse{Status: "started", JobID: jobID})
}

// parseDateParam parses a YYYY-MM-DD query value, reporting a validation
// error on malformed input. Empty values parse to the zero time.
func parseDateParam(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, models.NewValidationError("%s must be YYYY-MM-DD, got %q", name, value)
	}
	return t, nil
}
