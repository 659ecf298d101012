package interfaces

import "github.com/ternarybob/metior/internal/models"

// ReportService renders work-order calibration reports
type ReportService interface {
	// BuildWorkOrderReport composes the markdown summary for a work order
	// and its dispensers.
	BuildWorkOrderReport(order *models.WorkOrder, dispensers []*models.Dispenser) string

	// ConvertMarkdownToPDF renders markdown content into a PDF document.
	ConvertMarkdownToPDF(markdown, title string) ([]byte, error)
}

// SchedulerService manages recurring per-user scrape schedules
type SchedulerService interface {
	// Start registers persisted schedules and begins the cron runner.
	Start() error

	// Stop halts the cron runner.
	Stop()

	// SetSchedule creates or replaces a user's schedule.
	SetSchedule(schedule *models.ScrapeSchedule) error

	// RemoveSchedule unregisters and deletes a user's schedule.
	RemoveSchedule(userID string) error

	// GetSchedule returns a user's schedule or nil when none exists.
	GetSchedule(userID string) (*models.ScrapeSchedule, error)
}
