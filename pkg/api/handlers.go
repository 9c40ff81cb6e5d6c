package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"sales-insights/pkg/jobs"
	"sales-insights/pkg/models"

	"github.com/go-chi/chi/v5"
)

type recommendationResponse struct {
	ProductID int64     `json:"product_id"`
	Reason    string    `json:"reason"`
	Score     float64   `json:"score"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type alertStatusRequest struct {
	Status    string `json:"status"`
	AlertType string `json:"alert_type"`
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("health check failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "store unavailable")
		return
	}
	writeMessage(w, http.StatusOK, "ok")
}

func (h *Handler) runStats(w http.ResponseWriter, r *http.Request) {
	h.runJob(w, r, func(ctx context.Context, now time.Time) (models.JobResult, error) {
		return h.runner.RecomputeStats(ctx, now)
	})
}

func (h *Handler) runAssociations(w http.ResponseWriter, r *http.Request) {
	window := h.defaultWindow
	if raw := r.URL.Query().Get("window_days"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "window_days must be a non-negative integer")
			return
		}
		window = v
	}
	h.runJob(w, r, func(ctx context.Context, now time.Time) (models.JobResult, error) {
		return h.runner.RecomputeAssociations(ctx, window, now)
	})
}

func (h *Handler) runRecommendations(w http.ResponseWriter, r *http.Request) {
	var opts jobs.RecommendationOptions
	if raw := r.URL.Query().Get("customer_id"); raw != "" {
		id, err := parseID(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "customer_id must be a positive integer")
			return
		}
		opts.CustomerID = &id
	}
	h.runJob(w, r, func(ctx context.Context, now time.Time) (models.JobResult, error) {
		return h.runner.GenerateRecommendations(ctx, opts, now)
	})
}

func (h *Handler) runAlerts(w http.ResponseWriter, r *http.Request) {
	h.runJob(w, r, h.runner.RunRepurchaseAlerts)
}

func (h *Handler) runRecompute(w http.ResponseWriter, r *http.Request) {
	h.runJob(w, r, h.runner.RecomputeAll)
}

func (h *Handler) runNightly(w http.ResponseWriter, r *http.Request) {
	h.runJob(w, r, h.runner.Nightly)
}

// runJob exécute le job de façon synchrone : le déclencheur reçoit le bilan complet.
func (h *Handler) runJob(w http.ResponseWriter, r *http.Request, fn func(context.Context, time.Time) (models.JobResult, error)) {
	now, err := h.asOf(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	res, err := fn(r.Context(), now)
	if err != nil {
		status, code, msg := mapDomainError(err)
		writeError(w, status, code, msg)
		return
	}
	writeSuccess(w, http.StatusOK, res)
}

func (h *Handler) listRecommendations(w http.ResponseWriter, r *http.Request) {
	customerID, err := parseID(chi.URLParam(r, "customerID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "customer id must be a positive integer")
		return
	}
	now, err := h.asOf(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	recs, err := h.store.ActiveRecommendations(r.Context(), customerID, now)
	if err != nil {
		status, code, msg := mapDomainError(err)
		writeError(w, status, code, msg)
		return
	}
	out := make([]recommendationResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, recommendationResponse{
			ProductID: rec.ProductID,
			Reason:    rec.Reason,
			Score:     rec.Score,
			CreatedAt: rec.CreatedAt,
			ExpiresAt: rec.ExpiresAt,
		})
	}
	writeSuccess(w, http.StatusOK, out)
}

func (h *Handler) setAlertStatus(w http.ResponseWriter, r *http.Request) {
	customerID, err := parseID(chi.URLParam(r, "customerID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "customer id must be a positive integer")
		return
	}
	productID, err := parseID(chi.URLParam(r, "productID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "product id must be a positive integer")
		return
	}
	var req alertStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json body")
		return
	}
	status := models.AlertStatus(req.Status)
	switch status {
	case models.AlertOpen, models.AlertWorking, models.AlertDone, models.AlertIgnored:
	default:
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "status must be one of open, working, done, ignored")
		return
	}
	if req.AlertType == "" {
		req.AlertType = models.AlertTypeRepurchase
	}
	if err := h.store.SetAlertStatus(r.Context(), customerID, productID, req.AlertType, status, h.now()); err != nil {
		httpStatus, code, msg := mapDomainError(err)
		writeError(w, httpStatus, code, msg)
		return
	}
	writeMessage(w, http.StatusOK, "alert updated")
}

// asOf lit le paramètre as_of (RFC 3339 ou AAAA-MM-JJ), sinon l'heure courante.
func (h *Handler) asOf(r *http.Request) (time.Time, error) {
	raw := r.URL.Query().Get("as_of")
	if raw == "" {
		return h.now(), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%w: as_of must be RFC 3339 or YYYY-MM-DD", errInvalidInput)
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid id %q", errInvalidInput, raw)
	}
	return id, nil
}
