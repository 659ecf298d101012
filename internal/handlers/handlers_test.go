package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/metior/internal/common"
	"github.com/ternarybob/metior/internal/interfaces"
	"github.com/ternarybob/metior/internal/models"
)

func testLogger() arbor.ILogger {
	return arbor.NewLogger()
}

// authed attaches a bearer identity the way the auth middleware does
func authed(r *http.Request, userID string, admin bool) *http.Request {
	return r.WithContext(WithAuth(r.Context(), &models.AuthContext{UserID: userID, IsAdmin: admin}))
}

func jsonBody(t *testing.T, v interface{}) *bytes.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(data)
}

// ---- Fakes -------------------------------------------------------------

type fakeVault struct {
	creds map[string]*models.Credential
}

func newFakeVault() *fakeVault {
	return &fakeVault{creds: map[string]*models.Credential{}}
}

func (v *fakeVault) Store(ctx context.Context, userID string, cred *models.Credential) error {
	v.creds[userID] = cred
	return nil
}
func (v *fakeVault) Retrieve(ctx context.Context, userID string) (*models.Credential, error) {
	cred, ok := v.creds[userID]
	if !ok {
		return nil, models.NewCredentialError()
	}
	return cred, nil
}
func (v *fakeVault) Validate(ctx context.Context, userID string) bool {
	_, ok := v.creds[userID]
	return ok
}
func (v *fakeVault) Touch(ctx context.Context, userID string) error { return nil }
func (v *fakeVault) Delete(ctx context.Context, userID string) error {
	delete(v.creds, userID)
	return nil
}
func (v *fakeVault) Info(ctx context.Context, userID string) (*models.CredentialInfo, error) {
	cred, ok := v.creds[userID]
	if !ok {
		return nil, models.NewCredentialError()
	}
	return &models.CredentialInfo{HasCredentials: true, Username: cred.Username, CreatedAt: cred.CreatedAt}, nil
}
func (v *fakeVault) ListUsers(ctx context.Context) ([]string, error) {
	users := make([]string, 0, len(v.creds))
	for id := range v.creds {
		users = append(users, id)
	}
	return users, nil
}

var _ interfaces.CredentialVault = (*fakeVault)(nil)

type fakeDriver struct {
	verifyResult *models.CredentialTestResult
}

func (d *fakeDriver) Login(ctx context.Context, session interfaces.Session, username, password string) (*interfaces.LoginResult, error) {
	return &interfaces.LoginResult{OK: true}, nil
}
func (d *fakeDriver) GoToList(ctx context.Context, session interfaces.Session) error { return nil }
func (d *fakeDriver) SetPageSize(ctx context.Context, session interfaces.Session, size int) error {
	return nil
}
func (d *fakeDriver) GoToVisit(ctx context.Context, session interfaces.Session, url string) error {
	return nil
}
func (d *fakeDriver) GoToCustomer(ctx context.Context, session interfaces.Session, url string) error {
	return nil
}
func (d *fakeDriver) VerifyCredentials(ctx context.Context, username, password string) (*models.CredentialTestResult, error) {
	if d.verifyResult != nil {
		return d.verifyResult, nil
	}
	return &models.CredentialTestResult{OK: true, Message: "login verified"}, nil
}

var _ interfaces.SiteDriver = (*fakeDriver)(nil)

type fakeOrderStore struct {
	orders     map[string]*models.WorkOrder
	dispensers map[string][]*models.Dispenser
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{
		orders:     map[string]*models.WorkOrder{},
		dispensers: map[string][]*models.Dispenser{},
	}
}

func (s *fakeOrderStore) UpsertWorkOrder(ctx context.Context, order *models.WorkOrder) error {
	s.orders[order.ID] = order
	return nil
}
func (s *fakeOrderStore) DeleteWorkOrder(ctx context.Context, id string) error {
	delete(s.orders, id)
	return nil
}
func (s *fakeOrderStore) FindWorkOrder(ctx context.Context, id, userID string) (*models.WorkOrder, []*models.Dispenser, error) {
	order, ok := s.orders[id]
	if !ok || (userID != "" && order.UserID != userID) {
		return nil, nil, models.NewNotFoundError("work order %s not found", id)
	}
	return order, s.dispensers[id], nil
}
func (s *fakeOrderStore) FindWorkOrderByExternalID(ctx context.Context, externalID, userID string) (*models.WorkOrder, error) {
	for _, order := range s.orders {
		if order.ExternalID == externalID && order.UserID == userID {
			return order, nil
		}
	}
	return nil, models.NewNotFoundError("work order %s not found", externalID)
}
func (s *fakeOrderStore) FindWorkOrders(ctx context.Context, filter models.WorkOrderFilter, page models.Pagination) ([]*models.WorkOrder, int, error) {
	var all []*models.WorkOrder
	for _, order := range s.orders {
		if filter.UserID != "" && order.UserID != filter.UserID {
			continue
		}
		all = append(all, order)
	}
	total := len(all)
	if page.Skip > len(all) {
		return nil, total, nil
	}
	all = all[page.Skip:]
	if page.Limit > 0 && len(all) > page.Limit {
		all = all[:page.Limit]
	}
	return all, total, nil
}
func (s *fakeOrderStore) ClearAll(ctx context.Context, userID string) (int, error) {
	count := 0
	for id, order := range s.orders {
		if order.UserID == userID {
			delete(s.orders, id)
			delete(s.dispensers, id)
			count++
		}
	}
	return count, nil
}
func (s *fakeOrderStore) ReplaceDispensersFor(ctx context.Context, workOrderID string, dispensers []*models.Dispenser) error {
	s.dispensers[workOrderID] = dispensers
	return nil
}
func (s *fakeOrderStore) GetDispensers(ctx context.Context, workOrderID string) ([]*models.Dispenser, error) {
	return s.dispensers[workOrderID], nil
}
func (s *fakeOrderStore) DeleteDispensersFor(ctx context.Context, workOrderID string) (int, error) {
	n := len(s.dispensers[workOrderID])
	delete(s.dispensers, workOrderID)
	return n, nil
}

var _ interfaces.WorkOrderStorage = (*fakeOrderStore)(nil)

type fakeQueue struct {
	jobs      map[string]*models.AutomationJob
	submitted []*models.AutomationJob
	cancelled []string
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{jobs: map[string]*models.AutomationJob{}}
}

func (q *fakeQueue) Start(ctx context.Context) error { return nil }
func (q *fakeQueue) Stop() error                     { return nil }
func (q *fakeQueue) Submit(ctx context.Context, job *models.AutomationJob) error {
	job.ID = common.NewJobID()
	job.State = models.JobStateQueued
	q.jobs[job.ID] = job
	q.submitted = append(q.submitted, job)
	return nil
}
func (q *fakeQueue) Cancel(ctx context.Context, jobID string) error {
	q.cancelled = append(q.cancelled, jobID)
	return nil
}
func (q *fakeQueue) GetJob(ctx context.Context, jobID string) (*models.AutomationJob, error) {
	job, ok := q.jobs[jobID]
	if !ok {
		return nil, models.NewNotFoundError("job %s not found", jobID)
	}
	return job, nil
}
func (q *fakeQueue) ListJobs(ctx context.Context, userID string, limit int) ([]*models.AutomationJob, error) {
	var out []*models.AutomationJob
	for _, job := range q.jobs {
		if job.UserID == userID {
			out = append(out, job)
		}
	}
	return out, nil
}
func (q *fakeQueue) RegisterWorker(worker interfaces.JobWorker) {}
func (q *fakeQueue) Stats(ctx context.Context) (*interfaces.QueueStats, error) {
	return &interfaces.QueueStats{
		QueueDepths: map[models.QueueName]int{models.QueueSingle: len(q.jobs)},
		MaxRunning:  3,
	}, nil
}

var _ interfaces.QueueManager = (*fakeQueue)(nil)

type fakeReports struct{}

func (fakeReports) BuildWorkOrderReport(order *models.WorkOrder, dispensers []*models.Dispenser) string {
	return fmt.Sprintf("# Calibration Report - %s\n", order.ExternalID)
}
func (fakeReports) ConvertMarkdownToPDF(markdown, title string) ([]byte, error) {
	return []byte("%PDF-1.4 fake"), nil
}

var _ interfaces.ReportService = (fakeReports{})

// ---- Fixtures ----------------------------------------------------------

func storedOrder(store *fakeOrderStore, id, userID string) *models.WorkOrder {
	order := &models.WorkOrder{
		ID:          id,
		ExternalID:  "W-" + id,
		UserID:      userID,
		SiteName:    "QuickFuel #12",
		ServiceCode: "2861",
		CustomerURL: "/customers/locations/77",
		VisitURL:    "/work/visits/901",
		Status:      models.WorkOrderStatusPending,
		CreatedAt:   time.Now(),
	}
	store.orders[id] = order
	return order
}

func workOrderHandler(store *fakeOrderStore, queue *fakeQueue) *WorkOrderHandler {
	return NewWorkOrderHandler(store, queue, fakeReports{}, nil, testLogger())
}

// ---- User scope --------------------------------------------------------

func TestRequireUserScope(t *testing.T) {
	tests := []struct {
		name       string
		authUser   string
		admin      bool
		target     string
		wantStatus int
	}{
		{"own user", "user-1", false, "user-1", http.StatusOK},
		{"other user denied", "user-1", false, "user-2", http.StatusForbidden},
		{"admin crosses users", "admin", true, "user-2", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := authed(httptest.NewRequest(http.MethodGet, "/work-orders", nil), tt.authUser, tt.admin)
			if requireUserScope(w, r, testLogger(), tt.target) {
				w.WriteHeader(http.StatusOK)
			}
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestRequireUserScopeUnauthenticated(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/work-orders", nil)
	assert.False(t, requireUserScope(w, r, testLogger(), "user-1"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

// ---- Credentials -------------------------------------------------------

func TestCredentialStoreReturnsMaskedRecord(t *testing.T) {
	vault := newFakeVault()
	h := NewCredentialHandler(vault, &fakeDriver{}, testLogger())

	r := authed(httptest.NewRequest(http.MethodPost, "/credentials/workfossa",
		jsonBody(t, map[string]string{"username": "tech@example.com", "password": "hunter2"})), "user-1", false)
	r.SetPathValue("service", "workfossa")
	w := httptest.NewRecorder()
	h.StoreHandler(w, r)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.NotContains(t, w.Body.String(), "hunter2")

	var info models.CredentialInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.True(t, info.HasCredentials)
	assert.Equal(t, "tech@example.com", info.Username)
}

func TestCredentialStoreRejectsMissingFields(t *testing.T) {
	h := NewCredentialHandler(newFakeVault(), &fakeDriver{}, testLogger())

	r := authed(httptest.NewRequest(http.MethodPost, "/credentials/workfossa",
		jsonBody(t, map[string]string{"username": "tech@example.com"})), "user-1", false)
	r.SetPathValue("service", "workfossa")
	w := httptest.NewRecorder()
	h.StoreHandler(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCredentialGetAbsentIsNotAnError(t *testing.T) {
	h := NewCredentialHandler(newFakeVault(), &fakeDriver{}, testLogger())

	r := authed(httptest.NewRequest(http.MethodGet, "/credentials/workfossa", nil), "user-1", false)
	r.SetPathValue("service", "workfossa")
	w := httptest.NewRecorder()
	h.GetHandler(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	var info models.CredentialInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.False(t, info.HasCredentials)
}

func TestCredentialUnknownService(t *testing.T) {
	h := NewCredentialHandler(newFakeVault(), &fakeDriver{}, testLogger())

	r := authed(httptest.NewRequest(http.MethodGet, "/credentials/navexa", nil), "user-1", false)
	r.SetPathValue("service", "navexa")
	w := httptest.NewRecorder()
	h.GetHandler(w, r)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCredentialTestUsesStoredCredential(t *testing.T) {
	vault := newFakeVault()
	vault.creds["user-1"] = &models.Credential{UserID: "user-1", Username: "tech@example.com", Password: "pw"}
	driver := &fakeDriver{verifyResult: &models.CredentialTestResult{OK: false, Message: "invalid credentials"}}
	h := NewCredentialHandler(vault, driver, testLogger())

	r := authed(httptest.NewRequest(http.MethodPost, "/credentials/workfossa/test", nil), "user-1", false)
	r.SetPathValue("service", "workfossa")
	w := httptest.NewRecorder()
	h.TestHandler(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	var result models.CredentialTestResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.False(t, result.OK)
	assert.Equal(t, "invalid credentials", result.Message)
}

// ---- Work orders -------------------------------------------------------

func TestWorkOrderListPaginationHeaders(t *testing.T) {
	store := newFakeOrderStore()
	for i := 0; i < 5; i++ {
		storedOrder(store, fmt.Sprintf("wo-%d", i), "user-1")
	}
	h := workOrderHandler(store, newFakeQueue())

	r := authed(httptest.NewRequest(http.MethodGet, "/work-orders?user_id=user-1&skip=1&limit=2", nil), "user-1", false)
	w := httptest.NewRecorder()
	h.ListHandler(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "5", w.Header().Get("X-Total-Count"))
	assert.Equal(t, "1", w.Header().Get("X-Skip"))
	assert.Equal(t, "2", w.Header().Get("X-Limit"))

	var orders []*models.WorkOrder
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &orders))
	assert.Len(t, orders, 2)
}

func TestWorkOrderListRejectsBadDate(t *testing.T) {
	h := workOrderHandler(newFakeOrderStore(), newFakeQueue())

	r := authed(httptest.NewRequest(http.MethodGet, "/work-orders?user_id=user-1&start_date=08-01-2026", nil), "user-1", false)
	w := httptest.NewRecorder()
	h.ListHandler(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWorkOrderGetNotFound(t *testing.T) {
	h := workOrderHandler(newFakeOrderStore(), newFakeQueue())

	r := authed(httptest.NewRequest(http.MethodGet, "/work-orders/missing?user_id=user-1", nil), "user-1", false)
	r.SetPathValue("id", "missing")
	w := httptest.NewRecorder()
	h.GetHandler(w, r)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWorkOrderStatusUpdate(t *testing.T) {
	store := newFakeOrderStore()
	storedOrder(store, "wo-1", "user-1")
	h := workOrderHandler(store, newFakeQueue())

	r := authed(httptest.NewRequest(http.MethodPatch, "/work-orders/wo-1/status?user_id=user-1",
		jsonBody(t, map[string]string{"status": "completed"})), "user-1", false)
	r.SetPathValue("id", "wo-1")
	w := httptest.NewRecorder()
	h.UpdateStatusHandler(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.WorkOrderStatusCompleted, store.orders["wo-1"].Status)
}

func TestWorkOrderStatusRejectsUnknownValue(t *testing.T) {
	store := newFakeOrderStore()
	storedOrder(store, "wo-1", "user-1")
	h := workOrderHandler(store, newFakeQueue())

	r := authed(httptest.NewRequest(http.MethodPatch, "/work-orders/wo-1/status?user_id=user-1",
		jsonBody(t, map[string]string{"status": "done"})), "user-1", false)
	r.SetPathValue("id", "wo-1")
	w := httptest.NewRecorder()
	h.UpdateStatusHandler(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWorkOrderDeleteCascadesDispensers(t *testing.T) {
	store := newFakeOrderStore()
	storedOrder(store, "wo-1", "user-1")
	store.dispensers["wo-1"] = []*models.Dispenser{{ID: "d-1", WorkOrderID: "wo-1"}}
	h := workOrderHandler(store, newFakeQueue())

	r := authed(httptest.NewRequest(http.MethodDelete, "/work-orders/wo-1?user_id=user-1", nil), "user-1", false)
	r.SetPathValue("id", "wo-1")
	w := httptest.NewRecorder()
	h.DeleteHandler(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, store.orders)
	assert.Empty(t, store.dispensers)
}

func TestWorkOrderScrapeSubmitsJob(t *testing.T) {
	queue := newFakeQueue()
	h := workOrderHandler(newFakeOrderStore(), queue)

	r := authed(httptest.NewRequest(http.MethodPost, "/work-orders/scrape?user_id=user-1", nil), "user-1", false)
	w := httptest.NewRecorder()
	h.ScrapeHandler(w, r)

	require.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, queue.submitted, 1)
	job := queue.submitted[0]
	assert.Equal(t, models.JobKindScrapeList, job.Kind)
	assert.Equal(t, "user-1", job.UserID)

	var payload models.ScrapeListPayload
	require.NoError(t, job.DecodePayload(&payload))
	assert.Equal(t, models.TriggerTypeManual, payload.TriggerType)

	var resp submitResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, job.ID, resp.JobID)
}

func TestWorkOrderScrapeForbiddenForOtherUser(t *testing.T) {
	queue := newFakeQueue()
	h := workOrderHandler(newFakeOrderStore(), queue)

	r := authed(httptest.NewRequest(http.MethodPost, "/work-orders/scrape?user_id=user-2", nil), "user-1", false)
	w := httptest.NewRecorder()
	h.ScrapeHandler(w, r)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, queue.submitted)
}

func TestScrapeDispensersRequiresCustomerURL(t *testing.T) {
	store := newFakeOrderStore()
	order := storedOrder(store, "wo-1", "user-1")
	order.CustomerURL = ""
	h := workOrderHandler(store, newFakeQueue())

	r := authed(httptest.NewRequest(http.MethodPost, "/work-orders/wo-1/scrape-dispensers?user_id=user-1", nil), "user-1", false)
	r.SetPathValue("id", "wo-1")
	w := httptest.NewRecorder()
	h.ScrapeDispensersHandler(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestScrapeDispensersForceRefresh(t *testing.T) {
	store := newFakeOrderStore()
	storedOrder(store, "wo-1", "user-1")
	queue := newFakeQueue()
	h := workOrderHandler(store, queue)

	r := authed(httptest.NewRequest(http.MethodPost, "/work-orders/wo-1/scrape-dispensers?user_id=user-1&force_refresh=true", nil), "user-1", false)
	r.SetPathValue("id", "wo-1")
	w := httptest.NewRecorder()
	h.ScrapeDispensersHandler(w, r)

	require.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, queue.submitted, 1)

	var payload models.ScrapeDispensersPayload
	require.NoError(t, queue.submitted[0].DecodePayload(&payload))
	assert.True(t, payload.ForceRefresh)
	assert.Equal(t, "wo-1", payload.WorkOrderID)
}

func TestScrapeDispensersBatchFiltersServiceCodes(t *testing.T) {
	store := newFakeOrderStore()
	storedOrder(store, "wo-1", "user-1")                    // 2861: qualifies
	storedOrder(store, "wo-2", "user-1").ServiceCode = "11" // not a dispenser code
	storedOrder(store, "wo-3", "user-1").CustomerURL = ""   // no equipment page
	queue := newFakeQueue()
	h := workOrderHandler(store, queue)

	r := authed(httptest.NewRequest(http.MethodPost, "/work-orders/scrape-dispensers-batch?user_id=user-1", nil), "user-1", false)
	w := httptest.NewRecorder()
	h.ScrapeDispensersBatchHandler(w, r)

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Len(t, queue.submitted, 1)
}

func TestScrapeProgressBeforeAnyRun(t *testing.T) {
	h := workOrderHandler(newFakeOrderStore(), newFakeQueue())

	r := authed(httptest.NewRequest(http.MethodGet, "/work-orders/scrape/progress/user-1", nil), "user-1", false)
	r.SetPathValue("user_id", "user-1")
	w := httptest.NewRecorder()
	h.ScrapeProgressHandler(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["active"])
}

func TestReportPDFDownload(t *testing.T) {
	store := newFakeOrderStore()
	storedOrder(store, "wo-1", "user-1")
	h := workOrderHandler(store, newFakeQueue())

	r := authed(httptest.NewRequest(http.MethodGet, "/work-orders/wo-1/report.pdf?user_id=user-1", nil), "user-1", false)
	r.SetPathValue("id", "wo-1")
	w := httptest.NewRecorder()
	h.ReportPDFHandler(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "W-wo-1-report.pdf")
	assert.True(t, strings.HasPrefix(w.Body.String(), "%PDF-"))
}

// ---- Automation --------------------------------------------------------

func formsConfig() *common.FormsConfig {
	return &common.FormsConfig{Concurrency: 2, InterJobDelay: "2s", ItemRetryLimit: 3, ContinueOnError: true}
}

func TestProcessVisitSubmitsFormJob(t *testing.T) {
	store := newFakeOrderStore()
	storedOrder(store, "wo-1", "user-1")
	queue := newFakeQueue()
	h := NewAutomationHandler(queue, store, formsConfig(), testLogger())

	r := authed(httptest.NewRequest(http.MethodPost, "/automation/form/process-visit",
		jsonBody(t, map[string]interface{}{"work_order_id": "wo-1", "dispensers": []string{"1", "2"}})), "user-1", false)
	w := httptest.NewRecorder()
	h.ProcessVisitHandler(w, r)

	require.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, queue.submitted, 1)
	assert.Equal(t, models.JobKindRunForm, queue.submitted[0].Kind)

	var payload models.RunFormPayload
	require.NoError(t, queue.submitted[0].DecodePayload(&payload))
	assert.Equal(t, "/work/visits/901", payload.VisitURL)
	assert.Equal(t, []string{"1", "2"}, payload.Dispensers)
}

func TestProcessVisitRequiresWorkOrderID(t *testing.T) {
	h := NewAutomationHandler(newFakeQueue(), newFakeOrderStore(), formsConfig(), testLogger())

	r := authed(httptest.NewRequest(http.MethodPost, "/automation/form/process-visit",
		jsonBody(t, map[string]interface{}{})), "user-1", false)
	w := httptest.NewRecorder()
	h.ProcessVisitHandler(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProcessBatchAppliesConfiguredDefaults(t *testing.T) {
	queue := newFakeQueue()
	h := NewAutomationHandler(queue, newFakeOrderStore(), formsConfig(), testLogger())

	r := authed(httptest.NewRequest(http.MethodPost, "/automation/form/process-batch",
		jsonBody(t, map[string]interface{}{"work_order_ids": []string{"wo-1", "wo-2"}})), "user-1", false)
	w := httptest.NewRecorder()
	h.ProcessBatchHandler(w, r)

	require.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, queue.submitted, 1)

	var payload models.RunBatchPayload
	require.NoError(t, queue.submitted[0].DecodePayload(&payload))
	assert.Equal(t, 2, payload.Concurrency)
	assert.Equal(t, "2s", payload.InterJobDelay)
	assert.Equal(t, 3, payload.ItemRetryLimit)
	assert.True(t, payload.ContinueOnError)
}

func TestProcessBatchRequiresWorkOrders(t *testing.T) {
	h := NewAutomationHandler(newFakeQueue(), newFakeOrderStore(), formsConfig(), testLogger())

	r := authed(httptest.NewRequest(http.MethodPost, "/automation/form/process-batch",
		jsonBody(t, map[string]interface{}{"work_order_ids": []string{}})), "user-1", false)
	w := httptest.NewRecorder()
	h.ProcessBatchHandler(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCancelJobScopedToOwner(t *testing.T) {
	queue := newFakeQueue()
	job := &models.AutomationJob{UserID: "user-2", Kind: models.JobKindRunForm}
	require.NoError(t, queue.Submit(context.Background(), job))
	h := NewAutomationHandler(queue, newFakeOrderStore(), formsConfig(), testLogger())

	r := authed(httptest.NewRequest(http.MethodPost, "/automation/queue/jobs/"+job.ID+"/cancel", nil), "user-1", false)
	r.SetPathValue("job_id", job.ID)
	w := httptest.NewRecorder()
	h.CancelJobHandler(w, r)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, queue.cancelled)
}

func TestQueueStatus(t *testing.T) {
	h := NewAutomationHandler(newFakeQueue(), newFakeOrderStore(), formsConfig(), testLogger())

	r := authed(httptest.NewRequest(http.MethodGet, "/automation/queue/status", nil), "user-1", false)
	w := httptest.NewRecorder()
	h.QueueStatusHandler(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	var stats interfaces.QueueStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 3, stats.MaxRunning)
}

// ---- WebSocket ---------------------------------------------------------

func wsAuthConfig() *common.AuthConfig {
	return &common.AuthConfig{Tokens: []common.AuthToken{
		{Token: "tok-user", UserID: "user-1"},
		{Token: "tok-admin", UserID: "admin", Admin: true},
	}}
}

func TestResolveToken(t *testing.T) {
	h := NewWebSocketHandler(nil, wsAuthConfig(), nil, testLogger())

	auth := h.resolveToken("tok-user")
	require.NotNil(t, auth)
	assert.Equal(t, "user-1", auth.UserID)
	assert.False(t, auth.IsAdmin)

	admin := h.resolveToken("tok-admin")
	require.NotNil(t, admin)
	assert.True(t, admin.IsAdmin)

	assert.Nil(t, h.resolveToken("unknown"))
	assert.Nil(t, h.resolveToken(""))
}

func TestFrameTypeMapping(t *testing.T) {
	h := NewWebSocketHandler(nil, wsAuthConfig(), nil, testLogger())
	client := &wsClient{jobKinds: map[string]models.JobKind{
		"j-list":  models.JobKindScrapeList,
		"j-disp":  models.JobKindScrapeDispensers,
		"j-form":  models.JobKindRunForm,
		"j-batch": models.JobKindRunBatch,
	}}

	tests := []struct {
		name  string
		event models.ProgressEvent
		want  string
	}{
		{"list scrape", models.ProgressEvent{JobID: "j-list", Phase: models.PhaseNavigation}, "enhanced_scraping_progress"},
		{"dispenser scrape", models.ProgressEvent{JobID: "j-disp", Phase: models.PhaseNavigation}, "scraping_progress"},
		{"form run", models.ProgressEvent{JobID: "j-form", Phase: models.PhaseFormFilling}, "form_automation_progress"},
		{"batch run", models.ProgressEvent{JobID: "j-batch", Phase: models.PhaseNavigation}, "batch_automation_progress"},
		{"unknown kind", models.ProgressEvent{JobID: "j-x", Phase: models.PhaseLogin}, "automation_progress"},
		{"completion", models.ProgressEvent{JobID: "j-form", Phase: models.PhaseCompletion}, "automation_complete"},
		{"error phase", models.ProgressEvent{JobID: "j-list", Phase: models.PhaseError}, "automation_error"},
		{"error field", models.ProgressEvent{JobID: "j-list", Phase: models.PhaseLogin, Error: "boom"}, "automation_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, h.frameTypeFor(client, tt.event))
		})
	}
}
