// -----------------------------------------------------------------------
// Run Form Worker - single-visit calibration form automation
// -----------------------------------------------------------------------

package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/metior/internal/interfaces"
	"github.com/ternarybob/metior/internal/models"
)

// RunFormWorker opens one session and drives the calibration form for a
// single visit. Per-phase progress is emitted by the form service itself.
type RunFormWorker struct {
	vault    interfaces.CredentialVault
	sessions interfaces.SessionManager
	forms    interfaces.FormService
	logger   arbor.ILogger
	now      func() time.Time
}

var _ interfaces.JobWorker = (*RunFormWorker)(nil)

func NewRunFormWorker(vault interfaces.CredentialVault, sessions interfaces.SessionManager, forms interfaces.FormService, logger arbor.ILogger) *RunFormWorker {
	return &RunFormWorker{
		vault:    vault,
		sessions: sessions,
		forms:    forms,
		logger:   logger,
		now:      time.Now,
	}
}

func (w *RunFormWorker) Kind() models.JobKind { return models.JobKindRunForm }

func (w *RunFormWorker) Execute(ctx context.Context, job *models.AutomationJob) (interface{}, error) {
	var payload models.RunFormPayload
	if err := job.DecodePayload(&payload); err != nil {
		return nil, fmt.Errorf("decode run_form payload: %w", err)
	}
	if payload.WorkOrderID == "" {
		return nil, models.Classified(models.ErrorKindValidation, fmt.Errorf("work_order_id is required"))
	}

	cred, err := w.vault.Retrieve(ctx, payload.UserID)
	if err != nil {
		return nil, err
	}
	_ = w.vault.Touch(ctx, payload.UserID)

	sessionID, err := w.sessions.Open(ctx, payload.UserID, cred)
	if err != nil {
		return nil, err
	}
	defer w.sessions.Close(sessionID)

	session, err := w.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}

	result, err := w.forms.ProcessVisit(ctx, session, &payload, job.ID)
	if err != nil {
		return result, err
	}

	// A visit where every dispenser failed is a job failure so the queue's
	// retry policy applies.
	if result.Succeeded == 0 && result.Skipped == 0 && result.Failed > 0 {
		return result, models.Classified(models.ErrorKindFormSubmission,
			fmt.Errorf("all %d dispensers failed", result.Failed))
	}

	w.logger.Info().
		Str("job_id", job.ID).
		Str("work_order_id", payload.WorkOrderID).
		Int("succeeded", result.Succeeded).
		Int("failed", result.Failed).
		Int("skipped", result.Skipped).
		Msg("Visit form run finished")

	return result, nil
}
