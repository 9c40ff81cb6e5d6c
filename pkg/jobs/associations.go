package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"sales-insights/pkg/calculator"
	"sales-insights/pkg/models"

	"golang.org/x/sync/errgroup"
)

// RecomputeAssociations recalcule les métriques de panier pour toutes les paires de produits.
// windowDays = 0 couvre tout l'historique, sinon les commandes datées de now - windowDays ou après.
func (r *Runner) RecomputeAssociations(ctx context.Context, windowDays int, now time.Time) (models.JobResult, error) {
	if windowDays < 0 {
		return models.JobResult{Job: JobAssociations}, fmt.Errorf("window_days must be >= 0, got %d", windowDays)
	}
	return r.run(ctx, JobAssociations, now, func(ctx context.Context, res *models.JobResult, logger *slog.Logger) error {
		res.WindowDays = windowDays
		// Les commandes postérieures à now sont hors corpus, y compris sur tout l'historique.
		until := now.UTC()
		var since time.Time
		if windowDays > 0 {
			since = until.AddDate(0, 0, -windowDays)
		}

		baskets := map[int64][]int64{}
		err := r.store.EachOrderLine(ctx, since, until, func(row models.OrderLineRow) error {
			baskets[row.OrderID] = append(baskets[row.OrderID], row.ProductID)
			return nil
		})
		if err != nil {
			return fmt.Errorf("scan order lines: %w", err)
		}

		nOrders := len(baskets)
		productCount := map[int64]int{}
		pairCount := map[calculator.Pair]int{}
		for _, products := range baskets {
			seen := map[int64]bool{}
			for _, id := range products {
				if !seen[id] {
					seen[id] = true
					productCount[id]++
				}
			}
			for _, p := range calculator.BasketPairs(products) {
				pairCount[p]++
			}
		}
		logger.Info("baskets loaded", "orders", nOrders, "products", len(productCount), "pairs", len(pairCount))

		updatedAt := now.UTC()
		rows := make([]models.ProductAssociation, 0, len(pairCount))
		for _, p := range sortedPairs(pairCount) {
			res.Processed++
			ab, a, b := pairCount[p], productCount[p.A], productCount[p.B]
			m, ok := calculator.AssociationMetrics(ab, a, b, nOrders)
			if !ok {
				res.Skipped++
				continue
			}
			rows = append(rows, models.ProductAssociation{
				ProductA:     p.A,
				ProductB:     p.B,
				WindowDays:   windowDays,
				SupportCount: ab,
				CountA:       a,
				CountB:       b,
				OrdersCount:  nOrders,
				Support:      m.Support,
				Confidence:   m.Confidence,
				Lift:         m.Lift,
				Leverage:     m.Leverage,
				UpdatedAt:    updatedAt,
			})
		}

		bar := r.progressBar(len(rows), "associations")
		var written atomic.Int64
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.settings.Workers)
		for _, row := range rows {
			row := row
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				if err := r.store.UpsertAssociation(gctx, row); err != nil {
					return err
				}
				written.Add(1)
				step(bar)
				return nil
			})
		}
		err = g.Wait()
		res.Written = int(written.Load())
		return err
	})
}

func sortedPairs(m map[calculator.Pair]int) []calculator.Pair {
	out := make([]calculator.Pair, 0, len(m))
	for p := range m {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].A != out[j].A {
			return out[i].A < out[j].A
		}
		return out[i].B < out[j].B
	})
	return out
}
