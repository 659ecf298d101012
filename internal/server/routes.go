package server

import (
	"net/http"
)

// setupRoutes configures all HTTP routes on a method-aware mux
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Health (no auth)
	mux.HandleFunc("GET /health", s.app.HealthHandler.HealthHandler)

	// Credentials
	mux.HandleFunc("POST /credentials/{service}", s.app.CredentialHandler.StoreHandler)
	mux.HandleFunc("GET /credentials/{service}", s.app.CredentialHandler.GetHandler)
	mux.HandleFunc("DELETE /credentials/{service}", s.app.CredentialHandler.DeleteHandler)
	mux.HandleFunc("POST /credentials/{service}/test", s.app.CredentialHandler.TestHandler)

	// Work orders. Literal segments win over wildcards, so scrape,
	// clear-all, and batch routes never collide with {id}.
	mux.HandleFunc("GET /work-orders", s.app.WorkOrderHandler.ListHandler)
	mux.HandleFunc("POST /work-orders/scrape", s.app.WorkOrderHandler.ScrapeHandler)
	mux.HandleFunc("GET /work-orders/scrape/progress/{user_id}", s.app.WorkOrderHandler.ScrapeProgressHandler)
	mux.HandleFunc("POST /work-orders/scrape-dispensers-batch", s.app.WorkOrderHandler.ScrapeDispensersBatchHandler)
	mux.HandleFunc("DELETE /work-orders/clear-all", s.app.WorkOrderHandler.ClearAllHandler)
	mux.HandleFunc("GET /work-orders/{id}", s.app.WorkOrderHandler.GetHandler)
	mux.HandleFunc("PATCH /work-orders/{id}/status", s.app.WorkOrderHandler.UpdateStatusHandler)
	mux.HandleFunc("POST /work-orders/{id}/scrape-dispensers", s.app.WorkOrderHandler.ScrapeDispensersHandler)
	mux.HandleFunc("GET /work-orders/{id}/report.pdf", s.app.WorkOrderHandler.ReportPDFHandler)
	mux.HandleFunc("DELETE /work-orders/{id}", s.app.WorkOrderHandler.DeleteHandler)

	// Form automation and queue
	mux.HandleFunc("POST /automation/form/process-visit", s.app.AutomationHandler.ProcessVisitHandler)
	mux.HandleFunc("POST /automation/form/process-batch", s.app.AutomationHandler.ProcessBatchHandler)
	mux.HandleFunc("GET /automation/queue/jobs", s.app.AutomationHandler.ListJobsHandler)
	mux.HandleFunc("GET /automation/queue/jobs/{job_id}", s.app.AutomationHandler.GetJobHandler)
	mux.HandleFunc("POST /automation/queue/jobs/{job_id}/cancel", s.app.AutomationHandler.CancelJobHandler)
	mux.HandleFunc("GET /automation/queue/status", s.app.AutomationHandler.QueueStatusHandler)

	// WebSocket (token in path)
	mux.HandleFunc("GET /automation/ws/{token}", s.app.WSHandler.HandleWebSocket)

	// Per-user settings and schedules
	mux.HandleFunc("GET /users/{user_id}/browser-settings", s.app.SettingsHandler.GetBrowserSettingsHandler)
	mux.HandleFunc("PUT /users/{user_id}/browser-settings", s.app.SettingsHandler.PutBrowserSettingsHandler)
	mux.HandleFunc("GET /users/{user_id}/scrape-schedule", s.app.SettingsHandler.GetScrapeScheduleHandler)
	mux.HandleFunc("PUT /users/{user_id}/scrape-schedule", s.app.SettingsHandler.PutScrapeScheduleHandler)
	mux.HandleFunc("DELETE /users/{user_id}/scrape-schedule", s.app.SettingsHandler.DeleteScrapeScheduleHandler)

	// Scraping history
	mux.HandleFunc("GET /scraping-history", s.app.SettingsHandler.ScrapingHistoryHandler)

	return mux
}
