package badger

import (
	"context"

	"github.com/ternarybob/metior/internal/interfaces"
	"github.com/ternarybob/metior/internal/models"
)

// Repository fronts the storage manager and the vault's credential index as
// the single typed boundary handlers and workers consume.
type Repository struct {
	storage interfaces.StorageManager
	vault   interfaces.CredentialVault
}

var _ interfaces.Repository = (*Repository)(nil)

// NewRepository creates the repository facade over storage and vault
func NewRepository(storage interfaces.StorageManager, vault interfaces.CredentialVault) *Repository {
	return &Repository{
		storage: storage,
		vault:   vault,
	}
}

func (r *Repository) UpsertWorkOrder(ctx context.Context, order *models.WorkOrder) error {
	return r.storage.WorkOrderStorage().UpsertWorkOrder(ctx, order)
}

func (r *Repository) DeleteWorkOrder(ctx context.Context, id string) error {
	return r.storage.WorkOrderStorage().DeleteWorkOrder(ctx, id)
}

func (r *Repository) ReplaceDispensersFor(ctx context.Context, workOrderID string, dispensers []*models.Dispenser) error {
	return r.storage.WorkOrderStorage().ReplaceDispensersFor(ctx, workOrderID, dispensers)
}

func (r *Repository) FindWorkOrders(ctx context.Context, filter models.WorkOrderFilter, page models.Pagination) ([]*models.WorkOrder, int, error) {
	return r.storage.WorkOrderStorage().FindWorkOrders(ctx, filter, page)
}

func (r *Repository) FindWorkOrder(ctx context.Context, id, userID string) (*models.WorkOrder, []*models.Dispenser, error) {
	return r.storage.WorkOrderStorage().FindWorkOrder(ctx, id, userID)
}

func (r *Repository) ListUserCredentials(ctx context.Context) ([]string, error) {
	return r.vault.ListUsers(ctx)
}

func (r *Repository) RecordScrapingHistory(ctx context.Context, record *models.ScrapingHistory) error {
	return r.storage.HistoryStorage().RecordScrapingHistory(ctx, record)
}

func (r *Repository) GetUserBrowserSettings(ctx context.Context, userID string) (*models.UserBrowserSettings, error) {
	return r.storage.SettingsStorage().GetUserBrowserSettings(ctx, userID)
}
