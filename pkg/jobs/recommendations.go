package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"sales-insights/pkg/calculator"
	"sales-insights/pkg/models"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// RecommendationOptions restreint la génération. CustomerID nil = tous les clients ayant commandé.
type RecommendationOptions struct {
	CustomerID *int64
}

type scoredCandidate struct {
	candidate models.Candidate
	anchor    models.Anchor
	score     calculator.Score
}

// GenerateRecommendations produit les recommandations « acheté avec » de chaque client.
func (r *Runner) GenerateRecommendations(ctx context.Context, opts RecommendationOptions, now time.Time) (models.JobResult, error) {
	return r.run(ctx, JobRecommendations, now, func(ctx context.Context, res *models.JobResult, logger *slog.Logger) error {
		now := now.UTC()
		res.CustomerID = opts.CustomerID
		res.WindowDays = r.settings.AssociationWindowDays

		var customers []int64
		if opts.CustomerID != nil {
			customers = []int64{*opts.CustomerID}
		} else {
			ids, err := r.store.CustomerIDsWithOrders(ctx)
			if err != nil {
				return err
			}
			customers = ids
		}

		prices := &priceCache{values: map[int64]*float64{}, until: now}
		bar := r.progressBar(len(customers), "recommendations")
		var processed, written, skipped atomic.Int64

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.settings.Workers)
		for _, customerID := range customers {
			customerID := customerID
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				n, err := r.recommendForCustomer(gctx, logger, prices, customerID, now)
				if err != nil {
					return fmt.Errorf("customer %d: %w", customerID, err)
				}
				processed.Add(1)
				if n == 0 {
					skipped.Add(1)
				}
				written.Add(int64(n))
				step(bar)
				return nil
			})
		}
		err := g.Wait()
		res.Processed = int(processed.Load())
		res.Written = int(written.Load())
		res.Skipped = int(skipped.Load())
		return err
	})
}

// recommendForCustomer retourne le nombre de recommandations écrites. Zéro est un cas normal.
func (r *Runner) recommendForCustomer(ctx context.Context, logger *slog.Logger, prices *priceCache, customerID int64, now time.Time) (int, error) {
	anchors, err := r.store.RecentPurchases(ctx, customerID, now.AddDate(0, 0, -r.settings.AnchorDays), now)
	if err != nil {
		return 0, err
	}
	if len(anchors) == 0 {
		return 0, nil
	}
	recent, err := r.store.RecentPurchases(ctx, customerID, now.AddDate(0, 0, -r.settings.ExclusionDays), now)
	if err != nil {
		return 0, err
	}
	excluded := make(map[int64]bool, len(recent))
	for _, a := range recent {
		excluded[a.ProductID] = true
	}

	best := map[int64]scoredCandidate{}
	for _, anchor := range anchors {
		candidates, err := r.candidates(ctx, anchor.ProductID)
		if err != nil {
			return 0, err
		}
		for _, c := range candidates {
			if excluded[c.ProductID] {
				continue
			}
			avg, err := prices.average(ctx, r, logger, c.ProductID)
			if err != nil {
				return 0, err
			}
			s := calculator.RecommendationScore(c.Lift, anchor.LastPurchasedAt, now, avg)
			// Plusieurs ancres peuvent proposer le même candidat : on garde le meilleur score.
			if cur, ok := best[c.ProductID]; ok && cur.score.Value >= s.Value {
				continue
			}
			best[c.ProductID] = scoredCandidate{candidate: c, anchor: anchor, score: s}
		}
	}

	ids := make([]int64, 0, len(best))
	for id := range best {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		sc := best[id]
		err := r.store.UpsertRecommendation(ctx, models.Recommendation{
			CustomerID: customerID,
			ProductID:  id,
			Reason:     recommendationReason(sc),
			Score:      sc.score.Value,
			CreatedAt:  now,
			ExpiresAt:  now.Add(r.settings.RecommendationTTL),
		})
		if err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

// candidates lit les associations exploitables depuis l'ancre, dans les deux sens si configuré.
func (r *Runner) candidates(ctx context.Context, anchorID int64) ([]models.Candidate, error) {
	filter := models.AssociationFilter{
		WindowDays: r.settings.AssociationWindowDays,
		MinSupport: r.settings.MinSupport,
		MinLift:    r.settings.MinLift,
	}
	forward, err := r.store.Associations(ctx, anchorID, models.RoleA, filter)
	if err != nil {
		return nil, err
	}
	out := make([]models.Candidate, 0, len(forward))
	for _, lp := range forward {
		a := lp.Association
		out = append(out, models.Candidate{
			AnchorID:     anchorID,
			ProductID:    a.ProductB,
			Name:         lp.ProductName,
			SupportCount: a.SupportCount,
			Confidence:   a.Confidence,
			Lift:         a.Lift,
		})
	}
	if r.settings.Direction != DirectionBoth {
		return out, nil
	}

	reverse, err := r.store.Associations(ctx, anchorID, models.RoleB, filter)
	if err != nil {
		return nil, err
	}
	for _, lp := range reverse {
		a := lp.Association
		out = append(out, models.Candidate{
			AnchorID:     anchorID,
			ProductID:    a.ProductA,
			Name:         lp.ProductName,
			SupportCount: a.SupportCount,
			Confidence:   a.ReverseConfidence(),
			Lift:         a.Lift,
		})
	}
	return out, nil
}

func recommendationReason(sc scoredCandidate) string {
	return fmt.Sprintf("Souvent acheté avec %s : %s (lift %.2f, confiance %.0f%%)",
		productLabel(sc.anchor.Name, sc.anchor.ProductID),
		productLabel(sc.candidate.Name, sc.candidate.ProductID),
		sc.candidate.Lift, sc.candidate.Confidence*100)
}

func productLabel(name string, id int64) string {
	if name == "" {
		return fmt.Sprintf("produit #%d", id)
	}
	return name
}

// priceCache mémorise le prix moyen récent par produit pour la durée d'une exécution.
// Les ventes postérieures à until ne sont pas échantillonnées.
type priceCache struct {
	mu     sync.Mutex
	values map[int64]*float64
	until  time.Time
}

// average retourne nil quand aucun échantillon exploitable n'existe.
func (c *priceCache) average(ctx context.Context, r *Runner, logger *slog.Logger, productID int64) (*float64, error) {
	c.mu.Lock()
	v, ok := c.values[productID]
	c.mu.Unlock()
	if ok {
		return v, nil
	}

	raw, err := r.store.RecentUnitPrices(ctx, productID, c.until, r.settings.PriceSamples)
	if err != nil {
		return nil, err
	}
	samples := make([]decimal.Decimal, 0, len(raw))
	for _, s := range raw {
		d, err := models.ParseAmount(s)
		if err != nil {
			logger.Warn("malformed unit price ignored", "product_id", productID, "value", s)
			continue
		}
		samples = append(samples, d)
	}
	if avg, ok := calculator.AveragePrice(samples); ok {
		v = &avg
	}

	c.mu.Lock()
	c.values[productID] = v
	c.mu.Unlock()
	return v, nil
}
