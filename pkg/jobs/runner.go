package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"sales-insights/pkg/events"
	"sales-insights/pkg/lock"
	"sales-insights/pkg/models"
	"sales-insights/pkg/ports"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
)

// ErrJobRunning est renvoyé quand le même job tourne déjà.
var ErrJobRunning = errors.New("job already running")

// EventJobCompleted est publié à la fin de chaque job réussi.
const EventJobCompleted = "insights.job.completed"

// Noms des jobs, utilisés comme clé de verrou, clé de partition et libellé CLI.
const (
	JobStats           = "stats"
	JobAssociations    = "associations"
	JobRecommendations = "recommendations"
	JobAlerts          = "alerts"
	JobRecompute       = "recompute"
	JobNightly         = "nightly"
)

// Direction contrôle la lecture des associations par le générateur.
type Direction string

const (
	// DirectionBoth suit aussi les paires où l'ancre est le produit B (confiance inverse).
	DirectionBoth Direction = "both"
	// DirectionCanonical ne suit que les paires où l'ancre est le produit A.
	DirectionCanonical Direction = "canonical"
)

// Settings regroupe les seuils des jobs.
type Settings struct {
	Workers               int
	AssociationWindowDays int
	AnchorDays            int
	ExclusionDays         int
	MinSupport            int
	MinLift               float64
	RecommendationTTL     time.Duration
	PriceSamples          int
	Direction             Direction
	AlertFactor           float64
	AlertMessage          string
	LockTTL               time.Duration
}

// DefaultSettings retourne les seuils de production.
func DefaultSettings() Settings {
	return Settings{
		Workers:               4,
		AssociationWindowDays: 0,
		AnchorDays:            90,
		ExclusionDays:         30,
		MinSupport:            3,
		MinLift:               1.1,
		RecommendationTTL:     14 * 24 * time.Hour,
		PriceSamples:          10,
		Direction:             DirectionBoth,
		AlertFactor:           1.5,
		AlertMessage:          "Le client a probablement besoin de racheter ce produit.",
		LockTTL:               30 * time.Minute,
	}
}

// Dependencies sont injectées dans le Runner. Locker, Publisher et Logger sont optionnels.
type Dependencies struct {
	Store     ports.Store
	Locker    ports.Locker
	Publisher ports.Publisher
	Logger    *slog.Logger
	Settings  Settings
	// Progress affiche une barre de progression sur stderr (CLI verbeux).
	Progress bool
}

// Runner exécute les jobs analytiques sur un Store.
type Runner struct {
	store     ports.Store
	locker    ports.Locker
	publisher ports.Publisher
	logger    *slog.Logger
	settings  Settings
	progress  bool
}

func NewRunner(deps Dependencies) *Runner {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		store:     deps.Store,
		locker:    deps.Locker,
		publisher: deps.Publisher,
		logger:    logger,
		settings:  deps.Settings,
		progress:  deps.Progress,
	}
	if r.locker == nil {
		r.locker = lock.NewLocalLocker()
	}
	if r.publisher == nil {
		r.publisher = events.NewLoggingPublisher(logger)
	}
	if r.settings.Workers <= 0 {
		r.settings.Workers = 1
	}
	if r.settings.Direction == "" {
		r.settings.Direction = DirectionBoth
	}
	return r
}

// Settings retourne les seuils effectifs.
func (r *Runner) Settings() Settings { return r.settings }

type jobFunc func(ctx context.Context, res *models.JobResult, logger *slog.Logger) error

// run prend le verrou du job, exécute fn puis publie le bilan.
func (r *Runner) run(ctx context.Context, job string, now time.Time, fn jobFunc) (models.JobResult, error) {
	res := models.JobResult{RunID: uuid.NewString(), Job: job, StartedAt: now.UTC()}

	release, err := r.locker.Acquire(ctx, "sales-insights:job:"+job, r.settings.LockTTL)
	if errors.Is(err, ports.ErrLocked) {
		return res, fmt.Errorf("%s: %w", job, ErrJobRunning)
	}
	if err != nil {
		return res, fmt.Errorf("acquire %s lock: %w", job, err)
	}
	logger := r.logger.With("job", job, "run_id", res.RunID)
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("lock release failed", "error", err)
		}
	}()

	logger.Info("job started", "as_of", res.StartedAt)
	started := time.Now()
	err = fn(ctx, &res, logger)
	res.FinishedAt = res.StartedAt.Add(time.Since(started))
	if err != nil {
		logger.Error("job failed", "error", err, "processed", res.Processed, "written", res.Written)
		return res, err
	}

	logger.Info("job completed",
		"processed", res.Processed,
		"written", res.Written,
		"skipped", res.Skipped,
		"failed", res.Failed,
		"preserved", res.Preserved,
		"duration", res.Duration().String(),
	)
	r.publish(ctx, logger, res)
	return res, nil
}

// Un échec de publication ne fait pas échouer le job : les tables sont déjà écrites.
func (r *Runner) publish(ctx context.Context, logger *slog.Logger, res models.JobResult) {
	payload, err := json.Marshal(res)
	if err != nil {
		logger.Warn("encode job event failed", "error", err)
		return
	}
	if err := r.publisher.Publish(ctx, EventJobCompleted, payload, res.Job); err != nil {
		logger.Warn("publish job event failed", "error", err)
	}
}

// progressBar retourne nil hors mode verbeux.
func (r *Runner) progressBar(total int, description string) *progressbar.ProgressBar {
	if !r.progress || total <= 0 {
		return nil
	}
	return progressbar.Default(int64(total), description)
}

func step(bar *progressbar.ProgressBar) {
	if bar != nil {
		_ = bar.Add(1)
	}
}
