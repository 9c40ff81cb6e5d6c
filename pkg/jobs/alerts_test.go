package jobs

import (
	"context"
	"testing"

	"sales-insights/pkg/database"
	"sales-insights/pkg/models"

	"github.com/shopspring/decimal"
)

func seedCadence(t *testing.T, s *database.MemoryStore, customerID, productID int64, count int, avg *float64, lastDaysAgo int) {
	t.Helper()
	err := s.UpsertCustomerProductStats(context.Background(), models.CustomerProductStats{
		CustomerID:              customerID,
		ProductID:               productID,
		FirstPurchaseAt:         daysAgo(lastDaysAgo + 100),
		LastPurchaseAt:          daysAgo(lastDaysAgo),
		TotalQuantity:           decimal.NewFromInt(int64(count)),
		TotalSpent:              decimal.NewFromInt(int64(count * 10)),
		PurchasesCount:          count,
		AvgDaysBetweenPurchases: avg,
		UpdatedAt:               testNow,
	})
	if err != nil {
		t.Fatalf("seed stats: %v", err)
	}
}

func days(v float64) *float64 { return &v }

func TestRunRepurchaseAlerts_Threshold(t *testing.T) {
	store := database.NewMemoryStore()
	seedCadence(t, store, 1, 10, 5, days(20), 31) // 31 > 1.5 * 20
	seedCadence(t, store, 2, 10, 5, days(20), 29) // 29 < 30
	seedCadence(t, store, 3, 10, 1, nil, 400)     // achat unique : jamais d'alerte
	r, _ := newTestRunner(t, store, nil)

	res, err := r.RunRepurchaseAlerts(context.Background(), testNow)
	if err != nil {
		t.Fatalf("run alerts: %v", err)
	}
	if res.Processed != 2 || res.Written != 1 || res.Skipped != 1 {
		t.Fatalf("unexpected counters: %+v", res)
	}
	a, ok := store.Alert(1, 10, models.AlertTypeRepurchase)
	if !ok {
		t.Fatalf("alert for customer 1 missing")
	}
	if a.Status != models.AlertOpen || a.Message == "" || !a.CreatedAt.Equal(testNow) {
		t.Fatalf("unexpected alert: %+v", a)
	}
	if store.AlertCount() != 1 {
		t.Fatalf("got %d alerts, want 1", store.AlertCount())
	}
}

func TestRunRepurchaseAlerts_PreservesHumanStatus(t *testing.T) {
	store := database.NewMemoryStore()
	seedCadence(t, store, 1, 10, 5, days(20), 40)
	seedCadence(t, store, 1, 11, 5, days(20), 40)
	r, _ := newTestRunner(t, store, nil)
	ctx := context.Background()

	if _, err := r.RunRepurchaseAlerts(ctx, testNow); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := store.SetAlertStatus(ctx, 1, 10, models.AlertTypeRepurchase, models.AlertDone, testNow); err != nil {
		t.Fatalf("set status: %v", err)
	}

	later := testNow.AddDate(0, 0, 1)
	res, err := r.RunRepurchaseAlerts(ctx, later)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if res.Preserved != 1 || res.Written != 1 {
		t.Fatalf("unexpected counters: %+v", res)
	}

	done, _ := store.Alert(1, 10, models.AlertTypeRepurchase)
	if done.Status != models.AlertDone || !done.UpdatedAt.Equal(testNow) {
		t.Fatalf("triaged alert must not change: %+v", done)
	}
	open, _ := store.Alert(1, 11, models.AlertTypeRepurchase)
	if open.Status != models.AlertOpen || !open.UpdatedAt.Equal(later) || !open.CreatedAt.Equal(testNow) {
		t.Fatalf("open alert must be refreshed and keep created_at: %+v", open)
	}
	if store.AlertCount() != 2 {
		t.Fatalf("re-detection must not duplicate alerts, got %d", store.AlertCount())
	}
}
