// -----------------------------------------------------------------------
// Scrape List Worker - full list extraction + reconciliation for one user
// -----------------------------------------------------------------------

package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/metior/internal/common"
	"github.com/ternarybob/metior/internal/interfaces"
	"github.com/ternarybob/metior/internal/models"
)

// listPageSize is the page size the driver tries to raise the list to
const listPageSize = 100

// ScrapeListResult is the stored result of one list scrape job
type ScrapeListResult struct {
	OrdersFound int                     `json:"orders_found"`
	Reconciled  *models.ReconcileResult `json:"reconciled"`
	Enqueued    []string                `json:"enqueued_dispenser_jobs,omitempty"`
}

// ScrapeListWorker logs in, opens the filtered work-order list, extracts
// it, reconciles the store, and enqueues dispenser-detail jobs for the
// work orders whose service codes carry dispenser equipment.
type ScrapeListWorker struct {
	vault      interfaces.CredentialVault
	sessions   interfaces.SessionManager
	driver     interfaces.SiteDriver
	scraper    interfaces.ScraperService
	workOrders interfaces.WorkOrderStorage
	history    interfaces.HistoryStorage
	bus        interfaces.ProgressBus
	logger     arbor.ILogger

	// enqueue submits follow-up jobs; wired to the queue manager at
	// startup. Nil disables dispenser fan-out.
	enqueue func(ctx context.Context, job *models.AutomationJob) error
	now     func() time.Time
}

var _ interfaces.JobWorker = (*ScrapeListWorker)(nil)

func NewScrapeListWorker(vault interfaces.CredentialVault, sessions interfaces.SessionManager, driver interfaces.SiteDriver, scraper interfaces.ScraperService, workOrders interfaces.WorkOrderStorage, history interfaces.HistoryStorage, bus interfaces.ProgressBus, logger arbor.ILogger) *ScrapeListWorker {
	return &ScrapeListWorker{
		vault:      vault,
		sessions:   sessions,
		driver:     driver,
		scraper:    scraper,
		workOrders: workOrders,
		history:    history,
		bus:        bus,
		logger:     logger,
		now:        time.Now,
	}
}

// SetEnqueue wires the follow-up job submitter (the queue manager's
// Submit). Called once during startup wiring.
func (w *ScrapeListWorker) SetEnqueue(enqueue func(ctx context.Context, job *models.AutomationJob) error) {
	w.enqueue = enqueue
}

func (w *ScrapeListWorker) Kind() models.JobKind { return models.JobKindScrapeList }

func (w *ScrapeListWorker) publish(job *models.AutomationJob, phase models.AutomationPhase, message, errMsg string) {
	if w.bus == nil {
		return
	}
	w.bus.PublishProgress(models.ProgressEvent{
		JobID:      job.ID,
		UserID:     job.UserID,
		Phase:      phase,
		Percentage: phase.Percentage(),
		Message:    message,
		Error:      errMsg,
		Timestamp:  w.now(),
	})
}

func (w *ScrapeListWorker) Execute(ctx context.Context, job *models.AutomationJob) (interface{}, error) {
	var payload models.ScrapeListPayload
	if err := job.DecodePayload(&payload); err != nil {
		return nil, fmt.Errorf("decode scrape_list payload: %w", err)
	}
	if payload.TriggerType == "" {
		payload.TriggerType = models.TriggerTypeManual
	}

	record := &models.ScrapingHistory{
		ID:           common.NewRecordID(),
		UserID:       payload.UserID,
		ScheduleType: "work_order_list",
		TriggerType:  payload.TriggerType,
		StartedAt:    w.now(),
	}

	result, err := w.run(ctx, job, &payload, record)

	record.CompletedAt = w.now()
	record.DurationSeconds = record.CompletedAt.Sub(record.StartedAt).Seconds()
	record.Success = err == nil
	if err != nil {
		record.ErrorMessage = err.Error()
		w.publish(job, models.PhaseError, "list scrape failed", err.Error())
	}
	if histErr := w.history.RecordScrapingHistory(ctx, record); histErr != nil {
		w.logger.Warn().Str("job_id", job.ID).Err(histErr).Msg("Scrape history not recorded")
	}

	return result, err
}

func (w *ScrapeListWorker) run(ctx context.Context, job *models.AutomationJob, payload *models.ScrapeListPayload, record *models.ScrapingHistory) (*ScrapeListResult, error) {
	w.publish(job, models.PhaseInitializing, "retrieving credentials", "")
	cred, err := w.vault.Retrieve(ctx, payload.UserID)
	if err != nil {
		return nil, err
	}
	_ = w.vault.Touch(ctx, payload.UserID)

	w.publish(job, models.PhaseLogin, "opening session", "")
	sessionID, err := w.sessions.Open(ctx, payload.UserID, cred)
	if err != nil {
		return nil, err
	}
	defer w.sessions.Close(sessionID)

	session, err := w.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}

	w.publish(job, models.PhaseNavigation, "opening work-order list", "")
	if err := w.driver.GoToList(ctx, session); err != nil {
		return nil, err
	}
	_ = w.driver.SetPageSize(ctx, session, listPageSize)

	scrape, err := w.scraper.ScrapeList(ctx, session, payload.UserID)
	if err != nil {
		return nil, err
	}
	record.ItemsFound = len(scrape.Orders)

	w.publish(job, models.PhaseValidation, fmt.Sprintf("reconciling %d work orders", len(scrape.Orders)), "")
	scope := models.WorkOrderFilter{UserID: payload.UserID}
	if d, ok := parseDay(payload.StartDate); ok {
		scope.StartDate = d
	}
	if d, ok := parseDay(payload.EndDate); ok {
		scope.EndDate = d
	}
	reconciled, err := w.scraper.Reconcile(ctx, payload.UserID, scrape.Orders, scope)
	if err != nil {
		return nil, err
	}
	record.ItemsProcessed = reconciled.Inserted + reconciled.Updated

	result := &ScrapeListResult{
		OrdersFound: len(scrape.Orders),
		Reconciled:  reconciled,
		Enqueued:    w.enqueueDispenserJobs(ctx, job, scrape.Orders),
	}

	w.publish(job, models.PhaseCompletion,
		fmt.Sprintf("%d found, %d inserted, %d updated, %d deleted",
			result.OrdersFound, reconciled.Inserted, reconciled.Updated, reconciled.Deleted), "")

	return result, nil
}

// enqueueDispenserJobs fans out a dispenser-detail job per qualifying work
// order. The follow-ups depend on this job, so they dispatch only after it
// completes.
func (w *ScrapeListWorker) enqueueDispenserJobs(ctx context.Context, parent *models.AutomationJob, orders []*models.WorkOrder) []string {
	if w.enqueue == nil {
		return nil
	}

	var enqueued []string
	for _, order := range orders {
		if !models.IsDispenserServiceCode(order.ServiceCode) || order.CustomerURL == "" {
			continue
		}
		// The order was just reconciled, so its ID is known to the store
		stored, err := w.workOrders.FindWorkOrderByExternalID(ctx, order.ExternalID, order.UserID)
		if err != nil {
			continue
		}
		follow := &models.AutomationJob{
			UserID:    order.UserID,
			Kind:      models.JobKindScrapeDispensers,
			Priority:  models.PriorityNormal,
			DependsOn: []string{parent.ID},
		}
		if err := follow.SetPayload(models.ScrapeDispensersPayload{
			UserID:      order.UserID,
			WorkOrderID: stored.ID,
		}); err != nil {
			continue
		}
		if err := w.enqueue(ctx, follow); err != nil {
			w.logger.Warn().
				Str("external_id", order.ExternalID).
				Err(err).
				Msg("Dispenser follow-up not enqueued")
			continue
		}
		enqueued = append(enqueued, follow.ID)
	}

	if len(enqueued) > 0 {
		w.logger.Info().
			Str("job_id", parent.ID).
			Int("count", len(enqueued)).
			Msg("Dispenser follow-up jobs enqueued")
	}
	return enqueued
}

func parseDay(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}
