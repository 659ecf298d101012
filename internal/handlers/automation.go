// -----------------------------------------------------------------------
// Automation Handler - form-run submission and queue inspection
// -----------------------------------------------------------------------

package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/metior/internal/common"
	"github.com/ternarybob/metior/internal/interfaces"
	"github.com/ternarybob/metior/internal/models"
)

// AutomationHandler enqueues form-automation jobs and exposes queue state
type AutomationHandler struct {
	queue  interfaces.QueueManager
	orders interfaces.WorkOrderStorage
	cfg    *common.FormsConfig
	logger arbor.ILogger
}

func NewAutomationHandler(queue interfaces.QueueManager, orders interfaces.WorkOrderStorage, cfg *common.FormsConfig, logger arbor.ILogger) *AutomationHandler {
	return &AutomationHandler{
		queue:  queue,
		orders: orders,
		cfg:    cfg,
		logger: logger,
	}
}

type processVisitRequest struct {
	UserID      string   `json:"user_id,omitempty"`
	WorkOrderID string   `json:"work_order_id" validate:"required"`
	Dispensers  []string `json:"dispensers,omitempty"`
	Template    string   `json:"template,omitempty"`
	Priority    string   `json:"priority,omitempty"`
}

// ProcessVisitHandler handles POST /automation/form/process-visit
func (h *AutomationHandler) ProcessVisitHandler(w http.ResponseWriter, r *http.Request) {
	var req processVisitRequest
	if err := decodeAndValidate(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	userID := req.UserID
	if userID == "" {
		userID = targetUser(r)
	}
	if !requireUserScope(w, r, h.logger, userID) {
		return
	}

	order, _, err := h.orders.FindWorkOrder(r.Context(), req.WorkOrderID, userID)
	if err != nil {
		WriteError(w, err)
		return
	}
	if order.VisitURL == "" {
		WriteError(w, models.NewValidationError("work order %s has no visit URL", order.ExternalID))
		return
	}

	job := &models.AutomationJob{
		UserID:   userID,
		Kind:     models.JobKindRunForm,
		Priority: models.ParseJobPriority(req.Priority),
	}
	if err := job.SetPayload(models.RunFormPayload{
		UserID:      userID,
		WorkOrderID: order.ID,
		VisitURL:    order.VisitURL,
		Dispensers:  req.Dispensers,
		Template:    req.Template,
	}); err != nil {
		WriteError(w, models.NewInternalError("payload encoding failed"))
		return
	}

	if err := h.queue.Submit(r.Context(), job); err != nil {
		h.logger.Error().Str("work_order_id", order.ID).Err(err).Msg("Form job submission failed")
		WriteError(w, err)
		return
	}

	h.logger.Info().
		Str("work_order_id", order.ID).
		Str("job_id", job.ID).
		Int("dispensers", len(req.Dispensers)).
		Msg("Form automation submitted")
	writeSubmitted(w, job.ID)
}

type processBatchRequest struct {
	UserID          string   `json:"user_id,omitempty"`
	WorkOrderIDs    []string `json:"work_order_ids" validate:"required,min=1"`
	Concurrency     int      `json:"concurrency,omitempty"`
	InterJobDelay   string   `json:"inter_job_delay,omitempty"`
	ItemRetryLimit  int      `json:"item_retry_limit,omitempty"`
	ContinueOnError *bool    `json:"continue_on_error,omitempty"`
}

// ProcessBatchHandler handles POST /automation/form/process-batch. Unset
// tuning fields fall back to the configured batch defaults.
func (h *AutomationHandler) ProcessBatchHandler(w http.ResponseWriter, r *http.Request) {
	var req processBatchRequest
	if err := decodeAndValidate(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	userID := req.UserID
	if userID == "" {
		userID = targetUser(r)
	}
	if !requireUserScope(w, r, h.logger, userID) {
		return
	}

	payload := models.RunBatchPayload{
		UserID:          userID,
		WorkOrderIDs:    req.WorkOrderIDs,
		Concurrency:     req.Concurrency,
		InterJobDelay:   req.InterJobDelay,
		ItemRetryLimit:  req.ItemRetryLimit,
		ContinueOnError: h.cfg.ContinueOnError,
	}
	if payload.Concurrency <= 0 {
		payload.Concurrency = h.cfg.Concurrency
	}
	if payload.InterJobDelay == "" {
		payload.InterJobDelay = h.cfg.InterJobDelay
	}
	if payload.ItemRetryLimit <= 0 {
		payload.ItemRetryLimit = h.cfg.ItemRetryLimit
	}
	if req.ContinueOnError != nil {
		payload.ContinueOnError = *req.ContinueOnError
	}

	job := &models.AutomationJob{
		UserID:   userID,
		Kind:     models.JobKindRunBatch,
		Priority: models.PriorityNormal,
	}
	if err := job.SetPayload(payload); err != nil {
		WriteError(w, models.NewInternalError("payload encoding failed"))
		return
	}

	if err := h.queue.Submit(r.Context(), job); err != nil {
		h.logger.Error().Str("user_id", userID).Err(err).Msg("Batch job submission failed")
		WriteError(w, err)
		return
	}

	h.logger.Info().
		Str("user_id", userID).
		Str("job_id", job.ID).
		Int("work_orders", len(req.WorkOrderIDs)).
		Msg("Batch automation submitted")
	writeSubmitted(w, job.ID)
}

// GetJobHandler handles GET /automation/queue/jobs/{job_id}
func (h *AutomationHandler) GetJobHandler(w http.ResponseWriter, r *http.Request) {
	job, err := h.queue.GetJob(r.Context(), r.PathValue("job_id"))
	if err != nil {
		WriteError(w, err)
		return
	}
	if !requireUserScope(w, r, h.logger, job.UserID) {
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// CancelJobHandler handles POST /automation/queue/jobs/{job_id}/cancel
func (h *AutomationHandler) CancelJobHandler(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("job_id")
	job, err := h.queue.GetJob(r.Context(), jobID)
	if err != nil {
		WriteError(w, err)
		return
	}
	if !requireUserScope(w, r, h.logger, job.UserID) {
		return
	}

	if err := h.queue.Cancel(r.Context(), jobID); err != nil {
		WriteError(w, err)
		return
	}

	h.logger.Info().Str("job_id", jobID).Msg("Job cancellation requested")
	WriteJSON(w, http.StatusOK, map[string]string{"status": "cancelling", "job_id": jobID})
}

// ListJobsHandler handles GET /automation/queue/jobs?user_id=&limit=
func (h *AutomationHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	userID := targetUser(r)
	if !requireUserScope(w, r, h.logger, userID) {
		return
	}

	limit := paginationParams(r).Limit
	if limit == 0 {
		limit = 50
	}
	jobs, err := h.queue.ListJobs(r.Context(), userID, limit)
	if err != nil {
		WriteError(w, err)
		return
	}
	if jobs == nil {
		jobs = []*models.AutomationJob{}
	}
	WriteJSON(w, http.StatusOK, jobs)
}

// QueueStatusHandler handles GET /automation/queue/status
func (h *AutomationHandler) QueueStatusHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queue.Stats(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}
