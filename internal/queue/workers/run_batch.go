// -----------------------------------------------------------------------
// Run Batch Worker - multi-visit calibration form automation
// -----------------------------------------------------------------------

package workers

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/metior/internal/interfaces"
	"github.com/ternarybob/metior/internal/models"
)

// RunBatchWorker delegates a multi-visit run to the form service, which
// manages its own sessions and concurrency.
type RunBatchWorker struct {
	forms  interfaces.FormService
	logger arbor.ILogger
}

var _ interfaces.JobWorker = (*RunBatchWorker)(nil)

func NewRunBatchWorker(forms interfaces.FormService, logger arbor.ILogger) *RunBatchWorker {
	return &RunBatchWorker{forms: forms, logger: logger}
}

func (w *RunBatchWorker) Kind() models.JobKind { return models.JobKindRunBatch }

func (w *RunBatchWorker) Execute(ctx context.Context, job *models.AutomationJob) (interface{}, error) {
	var payload models.RunBatchPayload
	if err := job.DecodePayload(&payload); err != nil {
		return nil, fmt.Errorf("decode run_batch payload: %w", err)
	}

	result, err := w.forms.ProcessBatch(ctx, &payload, job.ID)
	if err != nil {
		return result, err
	}

	if result.Succeeded == 0 && result.Skipped == 0 && result.Failed > 0 {
		return result, models.Classified(models.ErrorKindFormSubmission,
			fmt.Errorf("all %d batch items failed", result.Failed))
	}

	w.logger.Info().
		Str("job_id", job.ID).
		Int("total", result.Total).
		Int("succeeded", result.Succeeded).
		Int("failed", result.Failed).
		Msg("Batch form run finished")

	return result, nil
}
