package interfaces

import (
	"context"

	"github.com/ternarybob/metior/internal/models"
)

// WorkOrderStorage - interface for work order and dispenser persistence
type WorkOrderStorage interface {
	// Work order operations
	UpsertWorkOrder(ctx context.Context, order *models.WorkOrder) error
	DeleteWorkOrder(ctx context.Context, id string) error
	FindWorkOrder(ctx context.Context, id, userID string) (*models.WorkOrder, []*models.Dispenser, error)
	FindWorkOrderByExternalID(ctx context.Context, externalID, userID string) (*models.WorkOrder, error)
	FindWorkOrders(ctx context.Context, filter models.WorkOrderFilter, page models.Pagination) ([]*models.WorkOrder, int, error)
	ClearAll(ctx context.Context, userID string) (int, error)

	// Dispenser operations. ReplaceDispensersFor is atomic: no observable
	// window where the work order exists with dangling dispensers.
	ReplaceDispensersFor(ctx context.Context, workOrderID string, dispensers []*models.Dispenser) error
	GetDispensers(ctx context.Context, workOrderID string) ([]*models.Dispenser, error)
	DeleteDispensersFor(ctx context.Context, workOrderID string) (int, error)
}

// JobStorage - interface for queue job persistence
type JobStorage interface {
	SaveJob(ctx context.Context, job *models.AutomationJob) error
	GetJob(ctx context.Context, id string) (*models.AutomationJob, error)
	GetJobsByState(ctx context.Context, states ...models.JobState) ([]*models.AutomationJob, error)
	GetJobsByUser(ctx context.Context, userID string, limit int) ([]*models.AutomationJob, error)
	DeleteJob(ctx context.Context, id string) error
	PurgeTerminalBefore(ctx context.Context, cutoffUnix int64) (int, error)
}

// HistoryStorage - interface for the append-only scraping history log
type HistoryStorage interface {
	RecordScrapingHistory(ctx context.Context, record *models.ScrapingHistory) error
	GetScrapingHistory(ctx context.Context, userID string, limit int) ([]*models.ScrapingHistory, error)
}

// SettingsStorage - interface for per-user browser settings and schedules
type SettingsStorage interface {
	GetUserBrowserSettings(ctx context.Context, userID string) (*models.UserBrowserSettings, error)
	SaveUserBrowserSettings(ctx context.Context, settings *models.UserBrowserSettings) error
	GetScrapeSchedule(ctx context.Context, userID string) (*models.ScrapeSchedule, error)
	SaveScrapeSchedule(ctx context.Context, schedule *models.ScrapeSchedule) error
	DeleteScrapeSchedule(ctx context.Context, userID string) error
	ListScrapeSchedules(ctx context.Context) ([]*models.ScrapeSchedule, error)
}

// StorageManager - composite interface for all storage operations
type StorageManager interface {
	WorkOrderStorage() WorkOrderStorage
	JobStorage() JobStorage
	HistoryStorage() HistoryStorage
	SettingsStorage() SettingsStorage
	Close() error
}

// Repository is the typed read/write boundary consumed by handlers and
// workers. It fronts the storage manager and the vault's credential index.
type Repository interface {
	UpsertWorkOrder(ctx context.Context, order *models.WorkOrder) error
	DeleteWorkOrder(ctx context.Context, id string) error
	ReplaceDispensersFor(ctx context.Context, workOrderID string, dispensers []*models.Dispenser) error
	FindWorkOrders(ctx context.Context, filter models.WorkOrderFilter, page models.Pagination) ([]*models.WorkOrder, int, error)
	FindWorkOrder(ctx context.Context, id, userID string) (*models.WorkOrder, []*models.Dispenser, error)
	ListUserCredentials(ctx context.Context) ([]string, error)
	RecordScrapingHistory(ctx context.Context, record *models.ScrapingHistory) error
	GetUserBrowserSettings(ctx context.Context, userID string) (*models.UserBrowserSettings, error)
}
