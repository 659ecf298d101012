// -----------------------------------------------------------------------
// Work Order Handler - list/detail/status plus scrape job submission
// -----------------------------------------------------------------------

package handlers

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/metior/internal/interfaces"
	"github.com/ternarybob/metior/internal/models"
)

// WorkOrderHandler serves the work-order read API and submits scraping jobs.
// It keeps a per-user snapshot of the latest scrape progress event so the
// polling progress endpoint works without a WebSocket.
type WorkOrderHandler struct {
	orders  interfaces.WorkOrderStorage
	queue   interfaces.QueueManager
	reports interfaces.ReportService
	logger  arbor.ILogger

	progressMu sync.RWMutex
	progress   map[string]models.ProgressEvent
	busSubID   string
}

func NewWorkOrderHandler(orders interfaces.WorkOrderStorage, queue interfaces.QueueManager, reports interfaces.ReportService, bus interfaces.ProgressBus, logger arbor.ILogger) *WorkOrderHandler {
	h := &WorkOrderHandler{
		orders:   orders,
		queue:    queue,
		reports:  reports,
		logger:   logger,
		progress: make(map[string]models.ProgressEvent),
	}
	if bus != nil {
		h.busSubID = bus.Subscribe(interfaces.ProgressSubscriber{
			OnProgress: func(event models.ProgressEvent) {
				if event.UserID == "" {
					return
				}
				h.progressMu.Lock()
				h.progress[event.UserID] = event
				h.progressMu.Unlock()
			},
		})
	}
	return h
}

// workOrderDetail is the single-order response shape
type workOrderDetail struct {
	*models.WorkOrder
	Dispensers []*models.Dispenser `json:"dispensers"`
}

// ListHandler handles GET /work-orders?user_id=&skip=&limit=&start_date=&end_date=
func (h *WorkOrderHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	userID := targetUser(r)
	if !requireUserScope(w, r, h.logger, userID) {
		return
	}

	startDate, err := parseDateParam("start_date", r.URL.Query().Get("start_date"))
	if err != nil {
		WriteError(w, err)
		return
	}
	endDate, err := parseDateParam("end_date", r.URL.Query().Get("end_date"))
	if err != nil {
		WriteError(w, err)
		return
	}
	if !endDate.IsZero() {
		// Window is inclusive of the whole end day
		endDate = endDate.Add(24*time.Hour - time.Nanosecond)
	}

	filter := models.WorkOrderFilter{
		UserID:    userID,
		StartDate: startDate,
		EndDate:   endDate,
	}
	if status := r.URL.Query().Get("status"); status != "" {
		if !models.ValidWorkOrderStatus(status) {
			WriteError(w, models.NewValidationError("invalid status %q", status))
			return
		}
		filter.Status = models.WorkOrderStatus(status)
	}

	page := paginationParams(r)
	orders, total, err := h.orders.FindWorkOrders(r.Context(), filter, page)
	if err != nil {
		h.logger.Error().Str("user_id", userID).Err(err).Msg("Work order list failed")
		WriteError(w, err)
		return
	}
	if orders == nil {
		orders = []*models.WorkOrder{}
	}

	writePaginationHeaders(w, total, page)
	WriteJSON(w, http.StatusOK, orders)
}

// GetHandler handles GET /work-orders/{id}?user_id=
func (h *WorkOrderHandler) GetHandler(w http.ResponseWriter, r *http.Request) {
	userID := targetUser(r)
	if !requireUserScope(w, r, h.logger, userID) {
		return
	}

	order, dispensers, err := h.orders.FindWorkOrder(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		WriteError(w, err)
		return
	}
	if dispensers == nil {
		dispensers = []*models.Dispenser{}
	}
	WriteJSON(w, http.StatusOK, workOrderDetail{WorkOrder: order, Dispensers: dispensers})
}

type statusUpdateRequest struct {
	Status string `json:"status" validate:"required"`
}

// UpdateStatusHandler handles PATCH /work-orders/{id}/status
func (h *WorkOrderHandler) UpdateStatusHandler(w http.ResponseWriter, r *http.Request) {
	userID := targetUser(r)
	if !requireUserScope(w, r, h.logger, userID) {
		return
	}

	var req statusUpdateRequest
	if err := decodeAndValidate(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	if !models.ValidWorkOrderStatus(req.Status) {
		WriteError(w, models.NewValidationError("invalid status %q", req.Status))
		return
	}

	order, _, err := h.orders.FindWorkOrder(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		WriteError(w, err)
		return
	}

	order.Status = models.WorkOrderStatus(req.Status)
	order.UpdatedAt = time.Now()
	if err := h.orders.UpsertWorkOrder(r.Context(), order); err != nil {
		WriteError(w, err)
		return
	}

	h.logger.Info().
		Str("work_order_id", order.ID).
		Str("status", req.Status).
		Msg("Work order status updated")
	WriteJSON(w, http.StatusOK, order)
}

// DeleteHandler handles DELETE /work-orders/{id}; dispensers cascade
func (h *WorkOrderHandler) DeleteHandler(w http.ResponseWriter, r *http.Request) {
	userID := targetUser(r)
	if !requireUserScope(w, r, h.logger, userID) {
		return
	}

	order, _, err := h.orders.FindWorkOrder(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		WriteError(w, err)
		return
	}

	if _, err := h.orders.DeleteDispensersFor(r.Context(), order.ID); err != nil {
		WriteError(w, err)
		return
	}
	if err := h.orders.DeleteWorkOrder(r.Context(), order.ID); err != nil {
		WriteError(w, err)
		return
	}

	h.logger.Info().Str("work_order_id", order.ID).Msg("Work order deleted")
	WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ClearAllHandler handles DELETE /work-orders/clear-all?user_id=
func (h *WorkOrderHandler) ClearAllHandler(w http.ResponseWriter, r *http.Request) {
	userID := targetUser(r)
	if !requireUserScope(w, r, h.logger, userID) {
		return
	}

	deleted, err := h.orders.ClearAll(r.Context(), userID)
	if err != nil {
		WriteError(w, err)
		return
	}

	h.logger.Info().Str("user_id", userID).Int("deleted", deleted).Msg("Work orders cleared")
	WriteJSON(w, http.StatusOK, map[string]interface{}{"status": "cleared", "deleted": deleted})
}

type scrapeRequest struct {
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`
	Priority  string `json:"priority,omitempty"`
}

// ScrapeHandler handles POST /work-orders/scrape?user_id=. The body is
// optional; an empty body scrapes the default unscoped window.
func (h *WorkOrderHandler) ScrapeHandler(w http.ResponseWriter, r *http.Request) {
	userID := targetUser(r)
	if !requireUserScope(w, r, h.logger, userID) {
		return
	}

	var req scrapeRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := decodeAndValidate(r, &req); err != nil {
			WriteError(w, err)
			return
		}
	}
	if _, err := parseDateParam("start_date", req.StartDate); err != nil {
		WriteError(w, err)
		return
	}
	if _, err := parseDateParam("end_date", req.EndDate); err != nil {
		WriteError(w, err)
		return
	}

	job := &models.AutomationJob{
		UserID:   userID,
		Kind:     models.JobKindScrapeList,
		Priority: models.ParseJobPriority(req.Priority),
	}
	if err := job.SetPayload(models.ScrapeListPayload{
		UserID:      userID,
		TriggerType: models.TriggerTypeManual,
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
	}); err != nil {
		WriteError(w, models.NewInternalError("payload encoding failed"))
		return
	}

	if err := h.queue.Submit(r.Context(), job); err != nil {
		h.logger.Error().Str("user_id", userID).Err(err).Msg("Scrape job submission failed")
		WriteError(w, err)
		return
	}

	h.logger.Info().Str("user_id", userID).Str("job_id", job.ID).Msg("List scrape submitted")
	writeSubmitted(w, job.ID)
}

// ScrapeProgressHandler handles GET /work-orders/scrape/progress/{user_id}
func (h *WorkOrderHandler) ScrapeProgressHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	if !requireUserScope(w, r, h.logger, userID) {
		return
	}

	h.progressMu.RLock()
	event, ok := h.progress[userID]
	h.progressMu.RUnlock()

	if !ok {
		WriteJSON(w, http.StatusOK, map[string]interface{}{"active": false})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"active":     event.Phase != models.PhaseCompletion && event.Phase != models.PhaseError,
		"job_id":     event.JobID,
		"phase":      event.Phase,
		"percentage": event.Percentage,
		"message":    event.Message,
		"error":      event.Error,
		"timestamp":  event.Timestamp,
	})
}

// ScrapeDispensersHandler handles POST /work-orders/{id}/scrape-dispensers?force_refresh=
func (h *WorkOrderHandler) ScrapeDispensersHandler(w http.ResponseWriter, r *http.Request) {
	userID := targetUser(r)
	if !requireUserScope(w, r, h.logger, userID) {
		return
	}

	order, _, err := h.orders.FindWorkOrder(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		WriteError(w, err)
		return
	}
	if order.CustomerURL == "" {
		WriteError(w, models.NewValidationError("work order %s has no customer URL", order.ExternalID))
		return
	}

	force := r.URL.Query().Get("force_refresh") == "true"
	job, err := h.submitDispenserJob(r, userID, order.ID, force)
	if err != nil {
		WriteError(w, err)
		return
	}

	h.logger.Info().
		Str("work_order_id", order.ID).
		Str("job_id", job.ID).
		Bool("force_refresh", force).
		Msg("Dispenser scrape submitted")
	writeSubmitted(w, job.ID)
}

type batchDispenserRequest struct {
	ForceRefresh bool `json:"force_refresh,omitempty"`
}

// ScrapeDispensersBatchHandler handles POST /work-orders/scrape-dispensers-batch.
// It submits one dispenser-scrape job per work order whose service code
// qualifies and that carries a customer URL.
func (h *WorkOrderHandler) ScrapeDispensersBatchHandler(w http.ResponseWriter, r *http.Request) {
	userID := targetUser(r)
	if !requireUserScope(w, r, h.logger, userID) {
		return
	}

	var req batchDispenserRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := decodeAndValidate(r, &req); err != nil {
			WriteError(w, err)
			return
		}
	}

	orders, _, err := h.orders.FindWorkOrders(r.Context(), models.WorkOrderFilter{UserID: userID}, models.Pagination{})
	if err != nil {
		WriteError(w, err)
		return
	}

	jobIDs := []string{}
	for _, order := range orders {
		if !models.IsDispenserServiceCode(order.ServiceCode) || order.CustomerURL == "" {
			continue
		}
		job, err := h.submitDispenserJob(r, userID, order.ID, req.ForceRefresh)
		if err != nil {
			h.logger.Warn().
				Str("work_order_id", order.ID).
				Err(err).
				Msg("Batch dispenser scrape submission skipped a work order")
			continue
		}
		jobIDs = append(jobIDs, job.ID)
	}

	h.logger.Info().
		Str("user_id", userID).
		Int("jobs", len(jobIDs)).
		Msg("Batch dispenser scrape submitted")
	WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"status":  "started",
		"job_ids": jobIDs,
		"count":   len(jobIDs),
	})
}

func (h *WorkOrderHandler) submitDispenserJob(r *http.Request, userID, workOrderID string, force bool) (*models.AutomationJob, error) {
	job := &models.AutomationJob{
		UserID:   userID,
		Kind:     models.JobKindScrapeDispensers,
		Priority: models.PriorityNormal,
	}
	if err := job.SetPayload(models.ScrapeDispensersPayload{
		UserID:       userID,
		WorkOrderID:  workOrderID,
		ForceRefresh: force,
	}); err != nil {
		return nil, models.NewInternalError("payload encoding failed")
	}
	if err := h.queue.Submit(r.Context(), job); err != nil {
		return nil, err
	}
	return job, nil
}

// ReportPDFHandler handles GET /work-orders/{id}/report.pdf
func (h *WorkOrderHandler) ReportPDFHandler(w http.ResponseWriter, r *http.Request) {
	userID := targetUser(r)
	if !requireUserScope(w, r, h.logger, userID) {
		return
	}

	order, dispensers, err := h.orders.FindWorkOrder(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		WriteError(w, err)
		return
	}

	markdown := h.reports.BuildWorkOrderReport(order, dispensers)
	pdf, err := h.reports.ConvertMarkdownToPDF(markdown, fmt.Sprintf("Calibration Report - %s", order.ExternalID))
	if err != nil {
		h.logger.Error().Str("work_order_id", order.ID).Err(err).Msg("Report rendering failed")
		WriteError(w, models.NewInternalError("report rendering failed"))
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", order.ExternalID+"-report.pdf"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}
