// -----------------------------------------------------------------------
// Settings Handler - per-user browser settings, schedules, history
// -----------------------------------------------------------------------

package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/metior/internal/interfaces"
	"github.com/ternarybob/metior/internal/models"
)

// SettingsHandler serves per-user preferences, the scrape schedule, and the
// scraping history log.
type SettingsHandler struct {
	settings  interfaces.SettingsStorage
	history   interfaces.HistoryStorage
	scheduler interfaces.SchedulerService
	logger    arbor.ILogger
}

func NewSettingsHandler(settings interfaces.SettingsStorage, history interfaces.HistoryStorage, scheduler interfaces.SchedulerService, logger arbor.ILogger) *SettingsHandler {
	return &SettingsHandler{
		settings:  settings,
		history:   history,
		scheduler: scheduler,
		logger:    logger,
	}
}

// GetBrowserSettingsHandler handles GET /users/{user_id}/browser-settings
func (h *SettingsHandler) GetBrowserSettingsHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	if !requireUserScope(w, r, h.logger, userID) {
		return
	}

	settings, err := h.settings.GetUserBrowserSettings(r.Context(), userID)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, settings)
}

type browserSettingsRequest struct {
	Headless           *bool `json:"headless,omitempty"`
	ViewportWidth      int   `json:"viewport_width,omitempty" validate:"omitempty,min=320,max=7680"`
	ViewportHeight     int   `json:"viewport_height,omitempty" validate:"omitempty,min=240,max=4320"`
	PageTimeoutSeconds int   `json:"page_timeout_seconds,omitempty" validate:"omitempty,min=5,max=300"`
}

// PutBrowserSettingsHandler handles PUT /users/{user_id}/browser-settings.
// Unset fields keep their current values.
func (h *SettingsHandler) PutBrowserSettingsHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	if !requireUserScope(w, r, h.logger, userID) {
		return
	}

	var req browserSettingsRequest
	if err := decodeAndValidate(r, &req); err != nil {
		WriteError(w, err)
		return
	}

	settings, err := h.settings.GetUserBrowserSettings(r.Context(), userID)
	if err != nil {
		WriteError(w, err)
		return
	}
	if req.Headless != nil {
		settings.Headless = *req.Headless
	}
	if req.ViewportWidth > 0 {
		settings.ViewportWidth = req.ViewportWidth
	}
	if req.ViewportHeight > 0 {
		settings.ViewportHeight = req.ViewportHeight
	}
	if req.PageTimeoutSeconds > 0 {
		settings.PageTimeoutSeconds = req.PageTimeoutSeconds
	}

	if err := h.settings.SaveUserBrowserSettings(r.Context(), settings); err != nil {
		WriteError(w, err)
		return
	}

	h.logger.Info().Str("user_id", userID).Msg("Browser settings updated")
	WriteJSON(w, http.StatusOK, settings)
}

// GetScrapeScheduleHandler handles GET /users/{user_id}/scrape-schedule
func (h *SettingsHandler) GetScrapeScheduleHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	if !requireUserScope(w, r, h.logger, userID) {
		return
	}

	schedule, err := h.scheduler.GetSchedule(userID)
	if err != nil {
		WriteError(w, err)
		return
	}
	if schedule == nil {
		WriteJSON(w, http.StatusOK, map[string]interface{}{"enabled": false})
		return
	}
	WriteJSON(w, http.StatusOK, schedule)
}

type scrapeScheduleRequest struct {
	CronExpr string `json:"cron_expr" validate:"required"`
	Enabled  bool   `json:"enabled"`
}

// PutScrapeScheduleHandler handles PUT /users/{user_id}/scrape-schedule
func (h *SettingsHandler) PutScrapeScheduleHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	if !requireUserScope(w, r, h.logger, userID) {
		return
	}

	var req scrapeScheduleRequest
	if err := decodeAndValidate(r, &req); err != nil {
		WriteError(w, err)
		return
	}

	schedule := &models.ScrapeSchedule{
		UserID:   userID,
		CronExpr: req.CronExpr,
		Enabled:  req.Enabled,
	}
	if err := h.scheduler.SetSchedule(schedule); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, schedule)
}

// DeleteScrapeScheduleHandler handles DELETE /users/{user_id}/scrape-schedule
func (h *SettingsHandler) DeleteScrapeScheduleHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	if !requireUserScope(w, r, h.logger, userID) {
		return
	}

	if err := h.scheduler.RemoveSchedule(userID); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ScrapingHistoryHandler handles GET /scraping-history?user_id=&limit=
func (h *SettingsHandler) ScrapingHistoryHandler(w http.ResponseWriter, r *http.Request) {
	userID := targetUser(r)
	if !requireUserScope(w, r, h.logger, userID) {
		return
	}

	limit := paginationParams(r).Limit
	if limit == 0 {
		limit = 50
	}
	rows, err := h.history.GetScrapingHistory(r.Context(), userID, limit)
	if err != nil {
		WriteError(w, err)
		return
	}
	if rows == nil {
		rows = []*models.ScrapingHistory{}
	}
	WriteJSON(w, http.StatusOK, rows)
}
