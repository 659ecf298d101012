// -----------------------------------------------------------------------
// Scrape Dispensers Worker - dispenser-detail extraction for a work order
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

// ScrapeDispensersResult is the stored result of one dispenser scrape job
type ScrapeDispensersResult struct {
	WorkOrderID string `json:"work_order_id"`
	Dispensers  int    `json:"dispensers"`
	Strategy    string `json:"strategy,omitempty"`
	Cached      bool   `json:"cached,omitempty"`
}

// ScrapeDispensersWorker opens the customer page for one work order and
// replaces its stored dispenser set. Existing dispensers short-circuit
// the scrape unless the payload forces a refresh.
type ScrapeDispensersWorker struct {
	vault      interfaces.CredentialVault
	sessions   interfaces.SessionManager
	scraper    interfaces.ScraperService
	workOrders interfaces.WorkOrderStorage
	bus        interfaces.ProgressBus
	logger     arbor.ILogger
	now        func() time.Time
}

var _ interfaces.JobWorker = (*ScrapeDispensersWorker)(nil)

func NewScrapeDispensersWorker(vault interfaces.CredentialVault, sessions interfaces.SessionManager, scraper interfaces.ScraperService, workOrders interfaces.WorkOrderStorage, bus interfaces.ProgressBus, logger arbor.ILogger) *ScrapeDispensersWorker {
	return &ScrapeDispensersWorker{
		vault:      vault,
		sessions:   sessions,
		scraper:    scraper,
		workOrders: workOrders,
		bus:        bus,
		logger:     logger,
		now:        time.Now,
	}
}

func (w *ScrapeDispensersWorker) Kind() models.JobKind { return models.JobKindScrapeDispensers }

func (w *ScrapeDispensersWorker) publish(job *models.AutomationJob, phase models.AutomationPhase, message, errMsg string) {
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

func (w *ScrapeDispensersWorker) Execute(ctx context.Context, job *models.AutomationJob) (interface{}, error) {
	var payload models.ScrapeDispensersPayload
	if err := job.DecodePayload(&payload); err != nil {
		return nil, fmt.Errorf("decode scrape_dispensers payload: %w", err)
	}
	if payload.WorkOrderID == "" {
		return nil, models.Classified(models.ErrorKindValidation, fmt.Errorf("work_order_id is required"))
	}

	result, err := w.run(ctx, job, &payload)
	if err != nil {
		w.publish(job, models.PhaseError, "dispenser scrape failed", err.Error())
	}
	return result, err
}

func (w *ScrapeDispensersWorker) run(ctx context.Context, job *models.AutomationJob, payload *models.ScrapeDispensersPayload) (*ScrapeDispensersResult, error) {
	order, existing, err := w.workOrders.FindWorkOrder(ctx, payload.WorkOrderID, payload.UserID)
	if err != nil {
		return nil, err
	}
	if order.CustomerURL == "" {
		return nil, models.Classified(models.ErrorKindValidation,
			fmt.Errorf("work order %s has no customer page link", order.ExternalID))
	}

	if len(existing) > 0 && !payload.ForceRefresh {
		w.logger.Debug().
			Str("work_order_id", order.ID).
			Int("dispensers", len(existing)).
			Msg("Dispensers already stored, skipping scrape")
		return &ScrapeDispensersResult{
			WorkOrderID: order.ID,
			Dispensers:  len(existing),
			Cached:      true,
		}, nil
	}

	w.publish(job, models.PhaseInitializing, "retrieving credentials", "")
	cred, err := w.vault.Retrieve(ctx, payload.UserID)
	if err != nil {
		return nil, err
	}

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

	w.publish(job, models.PhaseNavigation, "opening customer page", "")
	scrape, err := w.scraper.ScrapeDispensers(ctx, session, order.ID, order.CustomerURL)
	if err != nil {
		return nil, err
	}

	for _, d := range scrape.Dispensers {
		if d.ID == "" {
			d.ID = common.NewRecordID()
		}
	}

	w.publish(job, models.PhaseValidation, fmt.Sprintf("storing %d dispensers", len(scrape.Dispensers)), "")
	if err := w.workOrders.ReplaceDispensersFor(ctx, order.ID, scrape.Dispensers); err != nil {
		return nil, err
	}

	order.DispenserCount = len(scrape.Dispensers)
	order.UpdatedAt = w.now()
	if err := w.workOrders.UpsertWorkOrder(ctx, order); err != nil {
		w.logger.Warn().Str("work_order_id", order.ID).Err(err).Msg("Dispenser count not updated")
	}

	w.publish(job, models.PhaseCompletion,
		fmt.Sprintf("%d dispensers for %s", len(scrape.Dispensers), order.ExternalID), "")

	return &ScrapeDispensersResult{
		WorkOrderID: order.ID,
		Dispensers:  len(scrape.Dispensers),
		Strategy:    scrape.Strategy,
	}, nil
}
