package jobs

import (
	"context"
	"log/slog"
	"time"

	"sales-insights/pkg/models"
)

// RecomputeAll enchaîne stats puis associations sur la fenêtre par défaut.
func (r *Runner) RecomputeAll(ctx context.Context, now time.Time) (models.JobResult, error) {
	return r.run(ctx, JobRecompute, now, func(ctx context.Context, res *models.JobResult, _ *slog.Logger) error {
		return r.recomputeSteps(ctx, res, now)
	})
}

// Nightly enchaîne RecomputeAll, les recommandations de tous les clients puis les alertes.
// L'ordre est fixe : chaque étape lit ce que la précédente a écrit.
func (r *Runner) Nightly(ctx context.Context, now time.Time) (models.JobResult, error) {
	return r.run(ctx, JobNightly, now, func(ctx context.Context, res *models.JobResult, _ *slog.Logger) error {
		recompute, err := r.RecomputeAll(ctx, now)
		addStep(res, recompute)
		if err != nil {
			return err
		}
		recs, err := r.GenerateRecommendations(ctx, RecommendationOptions{}, now)
		addStep(res, recs)
		if err != nil {
			return err
		}
		alerts, err := r.RunRepurchaseAlerts(ctx, now)
		addStep(res, alerts)
		return err
	})
}

func (r *Runner) recomputeSteps(ctx context.Context, res *models.JobResult, now time.Time) error {
	stats, err := r.RecomputeStats(ctx, now)
	addStep(res, stats)
	if err != nil {
		return err
	}
	assoc, err := r.RecomputeAssociations(ctx, r.settings.AssociationWindowDays, now)
	addStep(res, assoc)
	return err
}

// addStep rattache le bilan d'une étape et cumule ses compteurs.
func addStep(res *models.JobResult, step models.JobResult) {
	res.Steps = append(res.Steps, step)
	res.Processed += step.Processed
	res.Written += step.Written
	res.Skipped += step.Skipped
	res.Failed += step.Failed
	res.Preserved += step.Preserved
}
