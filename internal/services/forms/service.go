// -----------------------------------------------------------------------
// Form Service - calibration-form automation state machine
// -----------------------------------------------------------------------

package forms

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/metior/internal/common"
	"github.com/ternarybob/metior/internal/interfaces"
	"github.com/ternarybob/metior/internal/models"
)

// Service implements interfaces.FormService. A visit run advances the
// phase machine once; each selected dispenser gets its own entry filled
// in template canonical grade order with the standard test values.
type Service struct {
	driver    interfaces.SiteDriver
	sessions  interfaces.SessionManager
	vault     interfaces.CredentialVault
	storage   interfaces.WorkOrderStorage
	bus       interfaces.ProgressBus
	cfg       *common.FormsConfig
	logger    arbor.ILogger
	templates []models.FormTemplate

	// swapped out by tests
	newAutomator func(session interfaces.Session) pageAutomator
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration)
}

var _ interfaces.FormService = (*Service)(nil)

func NewService(driver interfaces.SiteDriver, sessions interfaces.SessionManager, vault interfaces.CredentialVault, storage interfaces.WorkOrderStorage, bus interfaces.ProgressBus, cfg *common.FormsConfig, logger arbor.ILogger) (*Service, error) {
	templates, err := LoadTemplates(cfg.TemplatesFile)
	if err != nil {
		return nil, err
	}
	return &Service{
		driver:    driver,
		sessions:  sessions,
		vault:     vault,
		storage:   storage,
		bus:       bus,
		cfg:       cfg,
		logger:    logger,
		templates: templates,
		newAutomator: func(session interfaces.Session) pageAutomator {
			return &chromedpAutomator{pageCtx: session.Context()}
		},
		now: time.Now,
		sleep: func(ctx context.Context, d time.Duration) {
			select {
			case <-ctx.Done():
			case <-time.After(d):
			}
		},
	}, nil
}

func (s *Service) publish(jobID, userID string, phase models.AutomationPhase, message, dispenserID, errMsg string) {
	if s.bus == nil {
		return
	}
	s.bus.PublishProgress(models.ProgressEvent{
		JobID:       jobID,
		UserID:      userID,
		Phase:       phase,
		Percentage:  phase.Percentage(),
		Message:     message,
		DispenserID: dispenserID,
		Error:       errMsg,
		Timestamp:   s.now(),
	})
}

// templateFor resolves the template for one dispenser: an explicit name
// wins, otherwise the grade signature decides.
func (s *Service) templateFor(name string, d *models.Dispenser) models.FormTemplate {
	if name != "" {
		for _, t := range s.templates {
			if string(t.Name) == name {
				return t
			}
		}
	}
	return models.MatchTemplate(s.templates, d.FuelGrades)
}

// selectDispensers filters the work order's dispensers by the payload's
// selection (ids or display numbers); empty selection means all.
func selectDispensers(all []*models.Dispenser, selection []string) []*models.Dispenser {
	if len(selection) == 0 {
		return all
	}
	wanted := make(map[string]bool, len(selection))
	for _, sel := range selection {
		wanted[sel] = true
	}
	var out []*models.Dispenser
	for _, d := range all {
		if wanted[d.ID] || wanted[d.Number] {
			out = append(out, d)
		}
	}
	return out
}

// ProcessVisit runs the phase machine for one visit. Phase-level failures
// publish ERROR and return an error; dispenser-level failures are recorded
// on their item and the run continues.
func (s *Service) ProcessVisit(ctx context.Context, session interfaces.Session, payload *models.RunFormPayload, jobID string) (*models.BatchRunResult, error) {
	fail := func(phase models.AutomationPhase, err error) (*models.BatchRunResult, error) {
		s.publish(jobID, payload.UserID, models.PhaseError, fmt.Sprintf("failed during %s", phase), "", err.Error())
		return nil, err
	}

	s.publish(jobID, payload.UserID, models.PhaseInitializing, "loading work order", "", "")
	order, dispensers, err := s.storage.FindWorkOrder(ctx, payload.WorkOrderID, payload.UserID)
	if err != nil {
		return fail(models.PhaseInitializing, fmt.Errorf("load work order %s: %w", payload.WorkOrderID, err))
	}
	selected := selectDispensers(dispensers, payload.Dispensers)
	if len(selected) == 0 {
		return fail(models.PhaseInitializing, fmt.Errorf("work order %s has no matching dispensers", payload.WorkOrderID))
	}

	s.publish(jobID, payload.UserID, models.PhaseLogin, "verifying session", "", "")
	if !session.LoggedIn() {
		return fail(models.PhaseLogin, models.Classified(models.ErrorKindAuthentication,
			fmt.Errorf("session %s is not logged in", session.ID())))
	}

	visitURL := payload.VisitURL
	if visitURL == "" {
		visitURL = order.VisitURL
	}
	if visitURL == "" {
		return fail(models.PhaseNavigation, fmt.Errorf("work order %s has no visit url", payload.WorkOrderID))
	}

	s.publish(jobID, payload.UserID, models.PhaseNavigation, "opening visit page", "", "")
	if err := s.driver.GoToVisit(ctx, session, visitURL); err != nil {
		return fail(models.PhaseNavigation, err)
	}

	automator := s.newAutomator(session)

	s.publish(jobID, payload.UserID, models.PhaseFormDetection, "locating calibration form", "", "")
	present, err := automator.DetectForm(ctx)
	if err != nil {
		return fail(models.PhaseFormDetection, err)
	}
	if !present {
		return fail(models.PhaseFormDetection, models.Classified(models.ErrorKindElementNotFound,
			fmt.Errorf("no calibration form on visit page %s", visitURL)))
	}

	s.publish(jobID, payload.UserID, models.PhaseFormPreparation, "matching grade templates", "", "")
	defaults := models.DefaultTestValues(s.now())

	s.publish(jobID, payload.UserID, models.PhaseFormFilling, fmt.Sprintf("processing %d dispensers", len(selected)), "", "")

	result := &models.BatchRunResult{Total: len(selected)}
	phasePublished := false
	for _, d := range selected {
		if !phasePublished {
			s.publish(jobID, payload.UserID, models.PhaseDispenserAutomation, "entering dispenser results", d.ID, "")
			phasePublished = true
		}
		item := s.processDispenser(ctx, automator, d, s.templateFor(payload.Template, d), defaults)
		result.Items = append(result.Items, item)
		switch {
		case item.Success && item.ExistingRow:
			result.Skipped++
		case item.Success:
			result.Succeeded++
		default:
			result.Failed++
			s.publish(jobID, payload.UserID, models.PhaseDispenserAutomation,
				fmt.Sprintf("dispenser %s failed", d.Number), d.ID, item.Error)
		}
	}

	s.publish(jobID, payload.UserID, models.PhaseValidation, "verifying entries", "", "")
	for _, item := range result.Items {
		if !item.Success || item.ExistingRow {
			continue
		}
		found, err := automator.HasRowFor(ctx, item.DispenserNumber)
		if err != nil || !found {
			item.Success = false
			item.Error = "entry not present after commit"
			result.Succeeded--
			result.Failed++
		}
	}

	s.publish(jobID, payload.UserID, models.PhaseCompletion,
		fmt.Sprintf("%d succeeded, %d failed, %d skipped", result.Succeeded, result.Failed, result.Skipped), "", "")

	s.logger.Info().
		Str("job_id", jobID).
		Str("work_order_id", payload.WorkOrderID).
		Int("succeeded", result.Succeeded).
		Int("failed", result.Failed).
		Int("skipped", result.Skipped).
		Msg("Visit form run complete")

	return result, nil
}

// processDispenser fills one dispenser's entry: existing-row check, Add
// New, dispenser selection, grade rows in template order, commit, settle.
func (s *Service) processDispenser(ctx context.Context, automator pageAutomator, d *models.Dispenser, template models.FormTemplate, defaults models.TestDefaults) *models.FormRunResult {
	started := s.now()
	item := &models.FormRunResult{
		DispenserID:     d.ID,
		DispenserNumber: d.Number,
		Template:        template.Name,
		Phase:           models.PhaseDispenserAutomation,
	}
	finish := func() *models.FormRunResult {
		item.Duration = s.now().Sub(started)
		return item
	}
	failItem := func(err error) *models.FormRunResult {
		item.Error = err.Error()
		item.Phase = models.PhaseError
		return finish()
	}

	exists, err := automator.HasRowFor(ctx, d.Number)
	if err != nil {
		return failItem(err)
	}
	if exists {
		item.Success = true
		item.ExistingRow = true
		return finish()
	}

	if err := automator.AddNew(ctx); err != nil {
		return failItem(err)
	}
	if err := automator.SelectDispenser(ctx, d.Number); err != nil {
		return failItem(err)
	}

	for _, grade := range models.SortGrades(template.Grades) {
		if err := automator.FillGrade(ctx, grade, defaults); err != nil {
			return failItem(err)
		}
		item.GradesFilled = append(item.GradesFilled, grade)
	}

	if err := automator.Commit(ctx); err != nil {
		return failItem(err)
	}
	if err := automator.WaitQuiescent(ctx); err != nil {
		return failItem(err)
	}

	item.Success = true
	return finish()
}

// ProcessBatch runs ProcessVisit across work orders with the configured
// concurrency, inter-job delay, per-item retry limit, and continue-on-error
// behavior. One queue job, per-item progress events.
func (s *Service) ProcessBatch(ctx context.Context, payload *models.RunBatchPayload, jobID string) (*models.BatchRunResult, error) {
	if len(payload.WorkOrderIDs) == 0 {
		return nil, fmt.Errorf("batch carries no work orders")
	}

	concurrency := payload.Concurrency
	if concurrency <= 0 {
		concurrency = s.cfg.Concurrency
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	if concurrency > len(payload.WorkOrderIDs) {
		concurrency = len(payload.WorkOrderIDs)
	}
	retryLimit := payload.ItemRetryLimit
	if retryLimit <= 0 {
		retryLimit = s.cfg.ItemRetryLimit
	}
	if retryLimit <= 0 {
		retryLimit = 1
	}
	delay := common.ParseDuration(payload.InterJobDelay, common.ParseDuration(s.cfg.InterJobDelay, 2*time.Second))

	cred, err := s.vault.Retrieve(ctx, payload.UserID)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	items := make(chan string)
	go func() {
		defer close(items)
		for _, id := range payload.WorkOrderIDs {
			select {
			case items <- id:
			case <-runCtx.Done():
				return
			}
		}
	}()

	var mu sync.Mutex
	batch := &models.BatchRunResult{}
	processed := make(map[string]bool, len(payload.WorkOrderIDs))

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.batchWorker(runCtx, cancel, items, payload, jobID, cred, retryLimit, delay, batch, processed, &mu)
		}()
	}
	wg.Wait()

	// Anything never reached (worker died, run aborted) counts as failed
	mu.Lock()
	for _, id := range payload.WorkOrderIDs {
		if !processed[id] {
			batch.Total++
			batch.Failed++
			batch.Items = append(batch.Items, &models.FormRunResult{
				DispenserID: id,
				Phase:       models.PhaseError,
				Error:       "not processed",
			})
		}
	}
	mu.Unlock()

	s.logger.Info().
		Str("job_id", jobID).
		Str("user_id", payload.UserID).
		Int("succeeded", batch.Succeeded).
		Int("failed", batch.Failed).
		Msg("Batch form run complete")

	return batch, nil
}

func (s *Service) batchWorker(ctx context.Context, abort context.CancelFunc, items <-chan string, payload *models.RunBatchPayload, jobID string, cred *models.Credential, retryLimit int, delay time.Duration, batch *models.BatchRunResult, processed map[string]bool, mu *sync.Mutex) {
	sessionID, err := s.sessions.Open(ctx, payload.UserID, cred)
	if err != nil {
		s.logger.Warn().Str("job_id", jobID).Err(err).Msg("Batch worker could not open a session")
		return
	}
	defer s.sessions.Close(sessionID)

	session, err := s.sessions.Get(sessionID)
	if err != nil {
		return
	}

	first := true
	for workOrderID := range items {
		if ctx.Err() != nil {
			return
		}
		if !first {
			s.sleep(ctx, delay)
		}
		first = false

		var result *models.BatchRunResult
		var runErr error
		for attempt := 1; attempt <= retryLimit; attempt++ {
			result, runErr = s.ProcessVisit(ctx, session, &models.RunFormPayload{
				UserID:      payload.UserID,
				WorkOrderID: workOrderID,
			}, jobID)
			if runErr == nil {
				break
			}
			if ctx.Err() != nil {
				break
			}
			s.logger.Warn().
				Str("job_id", jobID).
				Str("work_order_id", workOrderID).
				Int("attempt", attempt).
				Err(runErr).
				Msg("Batch item failed")
		}

		mu.Lock()
		processed[workOrderID] = true
		if runErr != nil {
			batch.Total++
			batch.Failed++
			batch.Items = append(batch.Items, &models.FormRunResult{
				DispenserID: workOrderID,
				Phase:       models.PhaseError,
				Error:       runErr.Error(),
			})
			stop := !payload.ContinueOnError
			mu.Unlock()
			if stop {
				abort()
				return
			}
			continue
		}
		batch.Total += result.Total
		batch.Succeeded += result.Succeeded
		batch.Failed += result.Failed
		batch.Skipped += result.Skipped
		batch.Items = append(batch.Items, result.Items...)
		mu.Unlock()
	}
}
