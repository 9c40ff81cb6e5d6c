package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"sales-insights/pkg/calculator"
	"sales-insights/pkg/models"

	"github.com/shopspring/decimal"
)

type customerAgg struct {
	lastAt    time.Time
	lastID    int64
	lastValue decimal.Decimal
	lifetime  decimal.Decimal
	count     int
	failed    bool
}

type pairStatsKey struct {
	customerID int64
	productID  int64
}

type productAgg struct {
	first  time.Time
	last   time.Time
	qty    decimal.Decimal
	spent  decimal.Decimal
	count  int
	failed bool
}

// RecomputeStats reconstruit customer_stats et customer_product_stats depuis tout l'historique.
// Une ligne mal formée n'invalide que l'agrégat qu'elle alimente.
func (r *Runner) RecomputeStats(ctx context.Context, now time.Time) (models.JobResult, error) {
	return r.run(ctx, JobStats, now, func(ctx context.Context, res *models.JobResult, logger *slog.Logger) error {
		customers, err := r.aggregateCustomers(ctx, logger)
		if err != nil {
			return err
		}
		pairs, err := r.aggregateCustomerProducts(ctx, logger)
		if err != nil {
			return err
		}

		bar := r.progressBar(len(customers)+len(pairs), "stats")
		updatedAt := now.UTC()

		for _, id := range sortedCustomerIDs(customers) {
			if err := ctx.Err(); err != nil {
				return err
			}
			agg := customers[id]
			res.Processed++
			step(bar)
			if agg.failed {
				res.Failed++
				continue
			}
			err := r.store.UpsertCustomerStats(ctx, models.CustomerStats{
				CustomerID:     id,
				LastOrderAt:    agg.lastAt,
				LastOrderValue: agg.lastValue,
				LifetimeValue:  agg.lifetime,
				OrdersCount:    agg.count,
				UpdatedAt:      updatedAt,
			})
			if err != nil {
				return err
			}
			res.Written++
		}

		for _, k := range sortedPairKeys(pairs) {
			if err := ctx.Err(); err != nil {
				return err
			}
			agg := pairs[k]
			res.Processed++
			step(bar)
			if agg.failed {
				res.Failed++
				continue
			}
			err := r.store.UpsertCustomerProductStats(ctx, models.CustomerProductStats{
				CustomerID:              k.customerID,
				ProductID:               k.productID,
				FirstPurchaseAt:         agg.first,
				LastPurchaseAt:          agg.last,
				TotalQuantity:           agg.qty,
				TotalSpent:              agg.spent,
				PurchasesCount:          agg.count,
				AvgDaysBetweenPurchases: calculator.AvgDaysBetweenPurchases(agg.first, agg.last, agg.count),
				UpdatedAt:               updatedAt,
			})
			if err != nil {
				return err
			}
			res.Written++
		}
		return nil
	})
}

func (r *Runner) aggregateCustomers(ctx context.Context, logger *slog.Logger) (map[int64]*customerAgg, error) {
	out := map[int64]*customerAgg{}
	err := r.store.EachOrder(ctx, func(row models.OrderRow) error {
		agg, ok := out[row.CustomerID]
		if !ok {
			agg = &customerAgg{}
			out[row.CustomerID] = agg
		}
		o, err := row.Parse()
		if err != nil {
			if !errors.Is(err, models.ErrMalformedRow) {
				return err
			}
			logger.Warn("malformed order skipped", "customer_id", row.CustomerID, "error", err)
			agg.failed = true
			return nil
		}
		agg.count++
		agg.lifetime = agg.lifetime.Add(o.TotalValue)
		// Départage : à date égale, la commande d'ID le plus élevé est la dernière.
		if agg.count == 1 || o.OrderDate.After(agg.lastAt) || (o.OrderDate.Equal(agg.lastAt) && o.ID > agg.lastID) {
			agg.lastAt = o.OrderDate
			agg.lastID = o.ID
			agg.lastValue = o.TotalValue
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan orders: %w", err)
	}
	return out, nil
}

func (r *Runner) aggregateCustomerProducts(ctx context.Context, logger *slog.Logger) (map[pairStatsKey]*productAgg, error) {
	out := map[pairStatsKey]*productAgg{}
	err := r.store.EachOrderLine(ctx, time.Time{}, time.Time{}, func(row models.OrderLineRow) error {
		k := pairStatsKey{customerID: row.CustomerID, productID: row.ProductID}
		agg, ok := out[k]
		if !ok {
			agg = &productAgg{}
			out[k] = agg
		}
		l, err := row.Parse()
		if err != nil {
			if !errors.Is(err, models.ErrMalformedRow) {
				return err
			}
			logger.Warn("malformed order line skipped",
				"customer_id", row.CustomerID, "product_id", row.ProductID, "error", err)
			agg.failed = true
			return nil
		}
		agg.count++
		agg.qty = agg.qty.Add(l.Quantity)
		agg.spent = agg.spent.Add(l.LineTotal)
		if agg.count == 1 || l.OrderDate.Before(agg.first) {
			agg.first = l.OrderDate
		}
		if agg.count == 1 || l.OrderDate.After(agg.last) {
			agg.last = l.OrderDate
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan order lines: %w", err)
	}
	return out, nil
}

func sortedCustomerIDs(m map[int64]*customerAgg) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func sortedPairKeys(m map[pairStatsKey]*productAgg) []pairStatsKey {
	keys := make([]pairStatsKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].customerID != keys[j].customerID {
			return keys[i].customerID < keys[j].customerID
		}
		return keys[i].productID < keys[j].productID
	})
	return keys
}
