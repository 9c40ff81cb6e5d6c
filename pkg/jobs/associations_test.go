package jobs

import (
	"context"
	"testing"

	"sales-insights/pkg/database"
)

// Quatre commandes : {1,2} {1,2} {2} {3}.
func seedBasketFixture(s *database.MemoryStore) {
	line := func(p int64) database.MemoryLine {
		return database.MemoryLine{ProductID: p, Quantity: "1", UnitPrice: "10", LineTotal: "10"}
	}
	s.AddOrder(1, 100, daysAgo(60), "20", line(1), line(2))
	s.AddOrder(2, 101, daysAgo(10), "20", line(1), line(2), line(2))
	s.AddOrder(3, 102, daysAgo(5), "10", line(2))
	s.AddOrder(4, 103, daysAgo(2), "10", line(3))
}

func TestRecomputeAssociations_FixtureMetrics(t *testing.T) {
	store := database.NewMemoryStore()
	seedBasketFixture(store)
	r, _ := newTestRunner(t, store, nil)

	res, err := r.RecomputeAssociations(context.Background(), 0, testNow)
	if err != nil {
		t.Fatalf("recompute associations: %v", err)
	}
	if res.Processed != 1 || res.Written != 1 || res.WindowDays != 0 {
		t.Fatalf("unexpected counters: %+v", res)
	}

	a, ok := store.Association(1, 2, 0)
	if !ok {
		t.Fatalf("pair (1,2) missing")
	}
	if a.SupportCount != 2 || a.CountA != 2 || a.CountB != 3 || a.OrdersCount != 4 {
		t.Fatalf("unexpected counts: %+v", a)
	}
	if !almostEqual(a.Support, 0.5) || !almostEqual(a.Confidence, 1.0) ||
		!almostEqual(a.Lift, 4.0/3.0) || !almostEqual(a.Leverage, 0.125) {
		t.Fatalf("unexpected metrics: %+v", a)
	}
	if !almostEqual(a.ReverseConfidence(), 2.0/3.0) {
		t.Fatalf("reverse confidence = %v", a.ReverseConfidence())
	}
	if len(store.AllAssociations()) != 1 {
		t.Fatalf("only the canonical pair (1,2) must be stored: %+v", store.AllAssociations())
	}
}

func TestRecomputeAssociations_WindowKeepsSeparateRows(t *testing.T) {
	store := database.NewMemoryStore()
	seedBasketFixture(store)
	r, _ := newTestRunner(t, store, nil)
	ctx := context.Background()

	if _, err := r.RecomputeAssociations(ctx, 0, testNow); err != nil {
		t.Fatalf("all history: %v", err)
	}
	res, err := r.RecomputeAssociations(ctx, 30, testNow)
	if err != nil {
		t.Fatalf("window 30: %v", err)
	}
	if res.WindowDays != 30 {
		t.Fatalf("window not reported: %+v", res)
	}

	w, ok := store.Association(1, 2, 30)
	if !ok {
		t.Fatalf("windowed row missing")
	}
	// La commande 1 sort de la fenêtre : 3 commandes, {1,2} une fois, 2 présent deux fois.
	if w.SupportCount != 1 || w.CountA != 1 || w.CountB != 2 || w.OrdersCount != 3 {
		t.Fatalf("unexpected windowed counts: %+v", w)
	}
	if all, _ := store.Association(1, 2, 0); all.SupportCount != 2 {
		t.Fatalf("all-history row must be untouched: %+v", all)
	}
}

func TestRecomputeAssociations_NoOrders(t *testing.T) {
	store := database.NewMemoryStore()
	r, _ := newTestRunner(t, store, nil)

	res, err := r.RecomputeAssociations(context.Background(), 0, testNow)
	if err != nil {
		t.Fatalf("recompute associations: %v", err)
	}
	if res.Processed != 0 || res.Written != 0 || len(store.AllAssociations()) != 0 {
		t.Fatalf("empty corpus must write nothing: %+v", res)
	}
}

func TestRecomputeAssociations_RejectsNegativeWindow(t *testing.T) {
	r, _ := newTestRunner(t, database.NewMemoryStore(), nil)
	if _, err := r.RecomputeAssociations(context.Background(), -1, testNow); err == nil {
		t.Fatalf("expected error for negative window")
	}
}

func TestRecomputeAssociations_IgnoresOrdersAfterNow(t *testing.T) {
	store := database.NewMemoryStore()
	seedBasketFixture(store)
	line := database.MemoryLine{Quantity: "1", UnitPrice: "10", LineTotal: "10"}
	a, b := line, line
	a.ProductID, b.ProductID = 1, 2
	store.AddOrder(5, 104, testNow.AddDate(0, 0, 3), "20", a, b)
	r, _ := newTestRunner(t, store, nil)
	ctx := context.Background()

	for _, window := range []int{0, 30} {
		if _, err := r.RecomputeAssociations(ctx, window, testNow); err != nil {
			t.Fatalf("window %d: %v", window, err)
		}
	}
	all, ok := store.Association(1, 2, 0)
	if !ok || all.SupportCount != 2 || all.CountA != 2 || all.CountB != 3 || all.OrdersCount != 4 {
		t.Fatalf("order after now counted in all-history row: %+v", all)
	}
	w, ok := store.Association(1, 2, 30)
	if !ok || w.SupportCount != 1 || w.CountA != 1 || w.CountB != 2 || w.OrdersCount != 3 {
		t.Fatalf("order after now counted in windowed row: %+v", w)
	}
}
