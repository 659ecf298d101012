package models

import "time"

// ScrapeDiagnostics is the structured context returned when an extraction
// finds no data. Persisted server-side for debugging; never returned inline
// in API responses.
type ScrapeDiagnostics struct {
	URL            string         `json:"url"`
	PageTitle      string         `json:"page_title"`
	ElementCounts  map[string]int `json:"element_counts,omitempty"`
	ScreenshotPath string         `json:"screenshot_path,omitempty"`
	DOMSummary     string         `json:"dom_summary,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// ListScrapeResult is the output of one work-order list extraction
type ListScrapeResult struct {
	Orders      []*WorkOrder       `json:"orders"`
	Diagnostics *ScrapeDiagnostics `json:"diagnostics,omitempty"`
}

// DispenserScrapeResult is the output of one dispenser-detail extraction
type DispenserScrapeResult struct {
	Dispensers  []*Dispenser       `json:"dispensers"`
	Strategy    string             `json:"strategy,omitempty"`
	Diagnostics *ScrapeDiagnostics `json:"diagnostics,omitempty"`
}

// ReconcileResult summarizes one reconciliation pass after a list scrape
type ReconcileResult struct {
	Inserted int      `json:"inserted"`
	Updated  int      `json:"updated"`
	Deleted  int      `json:"deleted"`
	Removed  []string `json:"removed_external_ids,omitempty"`
}

// ScrapingHistory is one append-only row recording a scrape run
type ScrapingHistory struct {
	ID              string    `json:"id" badgerhold:"key"`
	UserID          string    `json:"user_id" badgerhold:"index"`
	ScheduleType    string    `json:"schedule_type"`
	TriggerType     string    `json:"trigger_type"`
	StartedAt       time.Time `json:"started_at"`
	CompletedAt     time.Time `json:"completed_at,omitempty"`
	Success         bool      `json:"success"`
	ItemsFound      int       `json:"items_found"`
	ItemsProcessed  int       `json:"items_processed"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	DurationSeconds float64   `json:"duration_seconds"`
}

// Trigger types recorded on scraping history rows
const (
	TriggerTypeManual    = "manual"
	TriggerTypeScheduled = "scheduled"
	TriggerTypeRetry     = "retry"
)

// UserBrowserSettings carries per-user browser preferences consulted when a
// session is opened.
type UserBrowserSettings struct {
	UserID             string    `json:"user_id" badgerhold:"key"`
	Headless           bool      `json:"headless"`
	ViewportWidth      int       `json:"viewport_width"`
	ViewportHeight     int       `json:"viewport_height"`
	PageTimeoutSeconds int       `json:"page_timeout_seconds"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// DefaultBrowserSettings returns the stealth defaults: headless with the
// smaller viewport; visible runs get the desktop viewport.
func DefaultBrowserSettings(userID string) *UserBrowserSettings {
	return &UserBrowserSettings{
		UserID:             userID,
		Headless:           true,
		ViewportWidth:      1366,
		ViewportHeight:     768,
		PageTimeoutSeconds: 30,
	}
}

// ScrapeSchedule configures a recurring list scrape for one user
type ScrapeSchedule struct {
	UserID    string    `json:"user_id" badgerhold:"key"`
	CronExpr  string    `json:"cron_expr"`
	Enabled   bool      `json:"enabled"`
	LastRunAt time.Time `json:"last_run_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}
