package badger

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/metior/internal/interfaces"
	"github.com/ternarybob/metior/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// WorkOrderStorage implements the WorkOrderStorage interface for Badger
type WorkOrderStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewWorkOrderStorage creates a new WorkOrderStorage instance
func NewWorkOrderStorage(db *BadgerDB, logger arbor.ILogger) interfaces.WorkOrderStorage {
	return &WorkOrderStorage{
		db:     db,
		logger: logger,
	}
}

func (s *WorkOrderStorage) UpsertWorkOrder(ctx context.Context, order *models.WorkOrder) error {
	if order.ID == "" {
		return fmt.Errorf("work order ID is required")
	}
	if order.UserID == "" {
		return fmt.Errorf("work order user ID is required")
	}
	if err := s.db.Store().Upsert(order.ID, order); err != nil {
		return fmt.Errorf("failed to save work order: %w", err)
	}
	return nil
}

func (s *WorkOrderStorage) DeleteWorkOrder(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, &models.WorkOrder{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return fmt.Errorf("failed to delete work order: %w", err)
	}
	return nil
}

func (s *WorkOrderStorage) FindWorkOrder(ctx context.Context, id, userID string) (*models.WorkOrder, []*models.Dispenser, error) {
	var order models.WorkOrder
	if err := s.db.Store().Get(id, &order); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, nil, models.NewNotFoundError("work order %s not found", id)
		}
		return nil, nil, fmt.Errorf("failed to get work order: %w", err)
	}
	// Ownership check: another user's record reads as absent
	if userID != "" && order.UserID != userID {
		return nil, nil, models.NewNotFoundError("work order %s not found", id)
	}

	dispensers, err := s.GetDispensers(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return &order, dispensers, nil
}

func (s *WorkOrderStorage) FindWorkOrderByExternalID(ctx context.Context, externalID, userID string) (*models.WorkOrder, error) {
	var orders []models.WorkOrder
	query := badgerhold.Where("ExternalID").Eq(externalID).And("UserID").Eq(userID)
	if err := s.db.Store().Find(&orders, query); err != nil {
		return nil, fmt.Errorf("failed to find work order: %w", err)
	}
	if len(orders) == 0 {
		return nil, models.NewNotFoundError("work order %s not found", externalID)
	}
	return &orders[0], nil
}

// workOrderQuery builds the filter portion shared by list and count
func workOrderQuery(filter models.WorkOrderFilter) *badgerhold.Query {
	var query *badgerhold.Query
	if filter.UserID != "" {
		query = badgerhold.Where("UserID").Eq(filter.UserID)
	} else {
		query = badgerhold.Where("ID").Ne("")
	}
	if filter.Status != "" {
		query = query.And("Status").Eq(filter.Status)
	}
	if !filter.StartDate.IsZero() {
		query = query.And("ScheduledDate").Ge(filter.StartDate)
	}
	if !filter.EndDate.IsZero() {
		query = query.And("ScheduledDate").Le(filter.EndDate)
	}
	return query
}

func (s *WorkOrderStorage) FindWorkOrders(ctx context.Context, filter models.WorkOrderFilter, page models.Pagination) ([]*models.WorkOrder, int, error) {
	total, err := s.db.Store().Count(&models.WorkOrder{}, workOrderQuery(filter))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count work orders: %w", err)
	}

	// Limit 0 means unlimited
	query := workOrderQuery(filter).SortBy("ScheduledDate", "ExternalID")
	if page.Skip > 0 {
		query = query.Skip(page.Skip)
	}
	if page.Limit > 0 {
		query = query.Limit(page.Limit)
	}

	var orders []models.WorkOrder
	if err := s.db.Store().Find(&orders, query); err != nil {
		return nil, 0, fmt.Errorf("failed to list work orders: %w", err)
	}

	result := make([]*models.WorkOrder, len(orders))
	for i := range orders {
		result[i] = &orders[i]
	}
	return result, int(total), nil
}

func (s *WorkOrderStorage) ClearAll(ctx context.Context, userID string) (int, error) {
	var orders []models.WorkOrder
	if err := s.db.Store().Find(&orders, badgerhold.Where("UserID").Eq(userID)); err != nil {
		return 0, fmt.Errorf("failed to list work orders: %w", err)
	}

	count := 0
	for _, order := range orders {
		if _, err := s.DeleteDispensersFor(ctx, order.ID); err != nil {
			s.logger.Warn().Str("work_order_id", order.ID).Err(err).Msg("Dispensers not deleted during clear")
			continue
		}
		if err := s.DeleteWorkOrder(ctx, order.ID); err != nil {
			s.logger.Warn().Str("work_order_id", order.ID).Err(err).Msg("Work order not deleted during clear")
			continue
		}
		count++
	}

	s.logger.Info().Str("user_id", userID).Int("count", count).Msg("Work orders cleared")
	return count, nil
}

// ReplaceDispensersFor swaps a work order's dispenser set in a single Badger
// transaction, so readers never observe a partial set.
func (s *WorkOrderStorage) ReplaceDispensersFor(ctx context.Context, workOrderID string, dispensers []*models.Dispenser) error {
	store := s.db.Store()
	err := store.Badger().Update(func(txn *badgerdb.Txn) error {
		if err := store.TxDeleteMatching(txn, &models.Dispenser{},
			badgerhold.Where("WorkOrderID").Eq(workOrderID)); err != nil {
			return err
		}
		for _, d := range dispensers {
			if d.ID == "" {
				return fmt.Errorf("dispenser ID is required")
			}
			d.WorkOrderID = workOrderID
			if err := store.TxUpsert(txn, d.ID, d); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to replace dispensers: %w", err)
	}
	return nil
}

func (s *WorkOrderStorage) GetDispensers(ctx context.Context, workOrderID string) ([]*models.Dispenser, error) {
	var dispensers []models.Dispenser
	if err := s.db.Store().Find(&dispensers, badgerhold.Where("WorkOrderID").Eq(workOrderID)); err != nil {
		return nil, fmt.Errorf("failed to get dispensers: %w", err)
	}

	result := make([]*models.Dispenser, len(dispensers))
	for i := range dispensers {
		result[i] = &dispensers[i]
	}
	sortDispensers(result)
	return result, nil
}

func (s *WorkOrderStorage) DeleteDispensersFor(ctx context.Context, workOrderID string) (int, error) {
	query := badgerhold.Where("WorkOrderID").Eq(workOrderID)
	count, err := s.db.Store().Count(&models.Dispenser{}, query)
	if err != nil {
		return 0, fmt.Errorf("failed to count dispensers: %w", err)
	}
	if err := s.db.Store().DeleteMatching(&models.Dispenser{}, query); err != nil {
		return 0, fmt.Errorf("failed to delete dispensers: %w", err)
	}
	return int(count), nil
}

// sortDispensers orders by dispenser number, numerically where possible so
// "10" sorts after "2"
func sortDispensers(dispensers []*models.Dispenser) {
	sort.SliceStable(dispensers, func(i, j int) bool {
		a, aerr := strconv.Atoi(dispensers[i].Number)
		b, berr := strconv.Atoi(dispensers[j].Number)
		if aerr == nil && berr == nil {
			return a < b
		}
		return dispensers[i].Number < dispensers[j].Number
	})
}
