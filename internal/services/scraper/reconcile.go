// -----------------------------------------------------------------------
// Reconciliation - apply a scrape result against the store
// -----------------------------------------------------------------------

package scraper

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/metior/internal/common"
	"github.com/ternarybob/metior/internal/models"
)

// Reconcile makes the store match the scrape within the declared scope:
// rows absent from the scrape are deleted (dispensers before their work
// order), the rest are updated or inserted. Each row is its own
// transaction; a row failure is logged and skipped, never fatal for the
// pass.
func (s *Service) Reconcile(ctx context.Context, userID string, scraped []*models.WorkOrder, scope models.WorkOrderFilter) (*models.ReconcileResult, error) {
	// Deletion never reaches outside the caller's scope
	scope.UserID = userID

	existing, _, err := s.storage.FindWorkOrders(ctx, scope, models.Pagination{})
	if err != nil {
		return nil, fmt.Errorf("load existing work orders: %w", err)
	}

	scrapedByID := make(map[string]*models.WorkOrder, len(scraped))
	for _, order := range scraped {
		scrapedByID[order.ExternalID] = order
	}

	result := &models.ReconcileResult{}
	now := time.Now()

	// Stale rows first: anything in scope the scrape no longer sees
	for _, old := range existing {
		if _, present := scrapedByID[old.ExternalID]; present {
			continue
		}
		if _, err := s.storage.DeleteDispensersFor(ctx, old.ID); err != nil {
			s.logger.Warn().Str("external_id", old.ExternalID).Err(err).Msg("Stale dispensers not deleted, keeping work order")
			continue
		}
		if err := s.storage.DeleteWorkOrder(ctx, old.ID); err != nil {
			s.logger.Warn().Str("external_id", old.ExternalID).Err(err).Msg("Stale work order not deleted")
			continue
		}
		result.Deleted++
		result.Removed = append(result.Removed, old.ExternalID)
	}

	existingByID := make(map[string]*models.WorkOrder, len(existing))
	for _, order := range existing {
		existingByID[order.ExternalID] = order
	}

	for _, order := range scraped {
		order.UserID = userID
		order.UpdatedAt = now

		if prev, ok := existingByID[order.ExternalID]; ok {
			// Preserve identity and provenance across updates
			order.ID = prev.ID
			order.CreatedAt = prev.CreatedAt
			order.CreatedBy = prev.CreatedBy
			if order.Status == models.WorkOrderStatusPending && prev.Status != models.WorkOrderStatusPending {
				order.Status = prev.Status
			}
			if err := s.storage.UpsertWorkOrder(ctx, order); err != nil {
				s.logger.Warn().Str("external_id", order.ExternalID).Err(err).Msg("Work order update failed, skipping row")
				continue
			}
			result.Updated++
			continue
		}

		order.ID = common.NewRecordID()
		order.CreatedAt = now
		if err := s.storage.UpsertWorkOrder(ctx, order); err != nil {
			s.logger.Warn().Str("external_id", order.ExternalID).Err(err).Msg("Work order insert failed, skipping row")
			continue
		}
		result.Inserted++
	}

	s.logger.Info().
		Str("user_id", userID).
		Int("inserted", result.Inserted).
		Int("updated", result.Updated).
		Int("deleted", result.Deleted).
		Msg("Reconciliation complete")

	return result, nil
}
