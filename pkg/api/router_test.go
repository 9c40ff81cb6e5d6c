package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"sales-insights/pkg/database"
	"sales-insights/pkg/jobs"
	"sales-insights/pkg/models"
)

var fixedNow = time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)

type envelope struct {
	Status  string          `json:"status"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestRouter(t *testing.T, store *database.MemoryStore, runner JobRunner) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if runner == nil {
		runner = jobs.NewRunner(jobs.Dependencies{Store: store, Logger: logger, Settings: jobs.DefaultSettings()})
	}
	h := NewHandler(runner, store, logger, 0)
	h.now = func() time.Time { return fixedNow }
	return NewRouter(h)
}

func do(t *testing.T, router http.Handler, method, target, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	var out envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rr.Body.String())
	}
	return rr, out
}

type busyRunner struct{ JobRunner }

func (busyRunner) RecomputeStats(context.Context, time.Time) (models.JobResult, error) {
	return models.JobResult{}, fmt.Errorf("stats: %w", jobs.ErrJobRunning)
}

func TestHealthz(t *testing.T) {
	store := database.NewMemoryStore()
	router := newTestRouter(t, store, nil)

	rr, _ := do(t, router, http.MethodGet, "/healthz", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if rr.Header().Get("X-Request-Id") == "" {
		t.Fatalf("missing request id header")
	}

	store.FailPing(errors.New("connection refused"))
	rr, out := do(t, router, http.MethodGet, "/healthz", "")
	if rr.Code != http.StatusServiceUnavailable || out.Code != "SERVICE_UNAVAILABLE" {
		t.Fatalf("unexpected unhealthy response: %d %+v", rr.Code, out)
	}
}

func TestRunStats_ReturnsJobResult(t *testing.T) {
	store := database.NewMemoryStore()
	store.AddOrder(1, 7, fixedNow.AddDate(0, 0, -3), "42.00",
		database.MemoryLine{ProductID: 3, Quantity: "1", UnitPrice: "42", LineTotal: "42.00"})
	router := newTestRouter(t, store, nil)

	rr, out := do(t, router, http.MethodPost, "/api/v1/jobs/stats?as_of=2024-06-30", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	var res models.JobResult
	if err := json.Unmarshal(out.Data, &res); err != nil {
		t.Fatalf("decode job result: %v", err)
	}
	if res.Job != jobs.JobStats || res.Written != 2 || !res.StartedAt.Equal(fixedNow) {
		t.Fatalf("unexpected result: %+v", res)
	}
	if _, ok := store.CustomerStats(7); !ok {
		t.Fatalf("customer stats not written")
	}
}

func TestRunJob_ConflictWhenRunning(t *testing.T) {
	router := newTestRouter(t, database.NewMemoryStore(), busyRunner{})

	rr, out := do(t, router, http.MethodPost, "/api/v1/jobs/stats", "")
	if rr.Code != http.StatusConflict || out.Code != "JOB_RUNNING" {
		t.Fatalf("unexpected response: %d %+v", rr.Code, out)
	}
}

func TestRunJob_ValidatesQuery(t *testing.T) {
	router := newTestRouter(t, database.NewMemoryStore(), nil)

	for _, target := range []string{
		"/api/v1/jobs/associations?window_days=-1",
		"/api/v1/jobs/associations?window_days=abc",
		"/api/v1/jobs/recommendations?customer_id=0",
		"/api/v1/jobs/alerts?as_of=yesterday",
	} {
		rr, out := do(t, router, http.MethodPost, target, "")
		if rr.Code != http.StatusBadRequest || out.Code != "VALIDATION_ERROR" {
			t.Fatalf("%s: unexpected response %d %+v", target, rr.Code, out)
		}
	}
}

func TestListRecommendations_HidesExpired(t *testing.T) {
	store := database.NewMemoryStore()
	ctx := context.Background()
	for _, r := range []models.Recommendation{
		{CustomerID: 5, ProductID: 1, Reason: "old", Score: 0.9, CreatedAt: fixedNow.AddDate(0, 0, -20), ExpiresAt: fixedNow.AddDate(0, 0, -6)},
		{CustomerID: 5, ProductID: 2, Reason: "fresh", Score: 0.4, CreatedAt: fixedNow, ExpiresAt: fixedNow.AddDate(0, 0, 14)},
	} {
		if err := store.UpsertRecommendation(ctx, r); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	router := newTestRouter(t, store, nil)

	rr, out := do(t, router, http.MethodGet, "/api/v1/customers/5/recommendations", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var recs []recommendationResponse
	if err := json.Unmarshal(out.Data, &recs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(recs) != 1 || recs[0].ProductID != 2 {
		t.Fatalf("expired recommendation returned: %+v", recs)
	}

	rr, _ = do(t, router, http.MethodGet, "/api/v1/customers/abc/recommendations", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestSetAlertStatus(t *testing.T) {
	store := database.NewMemoryStore()
	pid := int64(9)
	if _, err := store.UpsertAlert(context.Background(), models.SalesAlert{
		CustomerID: 3,
		ProductID:  &pid,
		AlertType:  models.AlertTypeRepurchase,
		Message:    "relance",
		CreatedAt:  fixedNow,
		UpdatedAt:  fixedNow,
	}); err != nil {
		t.Fatalf("seed alert: %v", err)
	}
	router := newTestRouter(t, store, nil)

	rr, _ := do(t, router, http.MethodPut, "/api/v1/customers/3/alerts/9/status", `{"status":"working"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	if a, _ := store.Alert(3, 9, models.AlertTypeRepurchase); a.Status != models.AlertWorking {
		t.Fatalf("status not updated: %+v", a)
	}

	rr, out := do(t, router, http.MethodPut, "/api/v1/customers/3/alerts/10/status", `{"status":"done"}`)
	if rr.Code != http.StatusNotFound || out.Code != "NOT_FOUND" {
		t.Fatalf("unexpected response for missing alert: %d %+v", rr.Code, out)
	}

	rr, _ = do(t, router, http.MethodPut, "/api/v1/customers/3/alerts/9/status", `{"status":"archived"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}
