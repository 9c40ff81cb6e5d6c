package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"sales-insights/pkg/jobs"
	"sales-insights/pkg/models"
	"sales-insights/pkg/ports"

	"github.com/go-chi/chi/v5"
)

// JobRunner est la surface de jobs.Runner déclenchable par HTTP.
type JobRunner interface {
	RecomputeStats(ctx context.Context, now time.Time) (models.JobResult, error)
	RecomputeAssociations(ctx context.Context, windowDays int, now time.Time) (models.JobResult, error)
	GenerateRecommendations(ctx context.Context, opts jobs.RecommendationOptions, now time.Time) (models.JobResult, error)
	RunRepurchaseAlerts(ctx context.Context, now time.Time) (models.JobResult, error)
	RecomputeAll(ctx context.Context, now time.Time) (models.JobResult, error)
	Nightly(ctx context.Context, now time.Time) (models.JobResult, error)
}

type Handler struct {
	runner        JobRunner
	store         ports.Store
	logger        *slog.Logger
	defaultWindow int
	now           func() time.Time
}

func NewHandler(runner JobRunner, store ports.Store, logger *slog.Logger, defaultWindow int) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		runner:        runner,
		store:         store,
		logger:        logger,
		defaultWindow: defaultWindow,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware(handler.logger))
	r.Use(loggingMiddleware(handler.logger))

	r.Get("/healthz", handler.healthz)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/stats", handler.runStats)
			r.Post("/associations", handler.runAssociations)
			r.Post("/recommendations", handler.runRecommendations)
			r.Post("/alerts", handler.runAlerts)
			r.Post("/recompute", handler.runRecompute)
			r.Post("/nightly", handler.runNightly)
		})
		r.Route("/customers/{customerID}", func(r chi.Router) {
			r.Get("/recommendations", handler.listRecommendations)
			r.Put("/alerts/{productID}/status", handler.setAlertStatus)
		})
	})
	return r
}
