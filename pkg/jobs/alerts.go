package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"sales-insights/pkg/calculator"
	"sales-insights/pkg/models"
)

// RunRepurchaseAlerts ouvre une alerte pour chaque couple client × produit dont le délai
// depuis le dernier achat dépasse AlertFactor fois la cadence habituelle.
// Une alerte déjà triée par un commercial (statut autre que "open") n'est jamais modifiée.
func (r *Runner) RunRepurchaseAlerts(ctx context.Context, now time.Time) (models.JobResult, error) {
	return r.run(ctx, JobAlerts, now, func(ctx context.Context, res *models.JobResult, logger *slog.Logger) error {
		now := now.UTC()

		var due []models.CustomerProductStats
		err := r.store.EachRepurchaseCandidate(ctx, func(s models.CustomerProductStats) error {
			res.Processed++
			if s.AvgDaysBetweenPurchases == nil {
				res.Skipped++
				return nil
			}
			if _, ok := calculator.RepurchaseDue(*s.AvgDaysBetweenPurchases, s.LastPurchaseAt, now, r.settings.AlertFactor); !ok {
				res.Skipped++
				return nil
			}
			due = append(due, s)
			return nil
		})
		if err != nil {
			return fmt.Errorf("scan repurchase candidates: %w", err)
		}

		for _, s := range due {
			if err := ctx.Err(); err != nil {
				return err
			}
			productID := s.ProductID
			outcome, err := r.store.UpsertAlert(ctx, models.SalesAlert{
				CustomerID: s.CustomerID,
				ProductID:  &productID,
				AlertType:  models.AlertTypeRepurchase,
				Message:    r.settings.AlertMessage,
				Status:     models.AlertOpen,
				CreatedAt:  now,
				UpdatedAt:  now,
			})
			if err != nil {
				return err
			}
			switch outcome {
			case models.AlertPreserved:
				res.Preserved++
				logger.Debug("alert status preserved", "customer_id", s.CustomerID, "product_id", s.ProductID)
			default:
				res.Written++
			}
		}
		return nil
	})
}
