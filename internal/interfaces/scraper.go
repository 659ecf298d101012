package interfaces

import (
	"context"

	"github.com/ternarybob/metior/internal/models"
)

// ScraperService runs the three extraction state machines. All extractions
// return an explicit empty result plus diagnostics for normal absence;
// errors are reserved for unexpected conditions.
type ScraperService interface {
	// ScrapeList extracts work orders from the list view the session is
	// positioned on. Row-level failures are logged and skipped.
	ScrapeList(ctx context.Context, session Session, userID string) (*models.ListScrapeResult, error)

	// ScrapeDispensers navigates to customerURL, expands the dispenser
	// section, and extracts dispenser records.
	ScrapeDispensers(ctx context.Context, session Session, workOrderID, customerURL string) (*models.DispenserScrapeResult, error)

	// Reconcile applies a scrape result against the store: inserts new
	// rows, updates existing, and deletes rows absent from the scrape
	// (dispensers before work order, transactional per row). Deletion is
	// limited to the scrape's declared scope.
	Reconcile(ctx context.Context, userID string, scraped []*models.WorkOrder, scope models.WorkOrderFilter) (*models.ReconcileResult, error)
}

// FormService drives calibration forms per dispenser
type FormService interface {
	// ProcessVisit runs the form state machine for each selected dispenser
	// on a visit page, emitting progress per phase.
	ProcessVisit(ctx context.Context, session Session, payload *models.RunFormPayload, jobID string) (*models.BatchRunResult, error)

	// ProcessBatch iterates ProcessVisit across work orders with the
	// configured concurrency, inter-job delay, per-item retry limit, and
	// continue-on-error flag. One queue job, per-item progress events.
	ProcessBatch(ctx context.Context, payload *models.RunBatchPayload, jobID string) (*models.BatchRunResult, error)
}
