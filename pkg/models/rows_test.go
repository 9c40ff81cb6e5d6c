package models

import (
	"database/sql"
	"errors"
	"testing"
	"time"
)

func TestOrderRowParse_Valid(t *testing.T) {
	d := time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)
	o, err := OrderRow{
		ID:         7,
		CustomerID: 3,
		OrderDate:  sql.NullTime{Time: d, Valid: true},
		TotalValue: sql.NullString{String: " 120.50 ", Valid: true},
	}.Parse()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.TotalValue.String() != "120.5" || !o.OrderDate.Equal(d) {
		t.Fatalf("unexpected order: %+v", o)
	}
}

func TestOrderRowParse_NonNumericTotal(t *testing.T) {
	_, err := OrderRow{
		ID:         7,
		OrderDate:  sql.NullTime{Time: time.Now(), Valid: true},
		TotalValue: sql.NullString{String: "12,5€", Valid: true},
	}.Parse()
	if !errors.Is(err, ErrMalformedRow) {
		t.Fatalf("expected ErrMalformedRow, got %v", err)
	}
}

func TestOrderRowParse_MissingDate(t *testing.T) {
	_, err := OrderRow{ID: 1, TotalValue: sql.NullString{String: "1", Valid: true}}.Parse()
	if !errors.Is(err, ErrMalformedRow) {
		t.Fatalf("expected ErrMalformedRow, got %v", err)
	}
}

func TestOrderLineRowParse_NullUnitPrice(t *testing.T) {
	l, err := OrderLineRow{
		OrderID:   1,
		ProductID: 2,
		OrderDate: sql.NullTime{Time: time.Now(), Valid: true},
		Quantity:  sql.NullString{String: "2", Valid: true},
		LineTotal: sql.NullString{String: "10", Valid: true},
	}.Parse()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !l.UnitPrice.IsZero() {
		t.Fatalf("expected zero unit price, got %s", l.UnitPrice)
	}
}

func TestOrderLineRowParse_NullQuantity(t *testing.T) {
	_, err := OrderLineRow{
		OrderDate: sql.NullTime{Time: time.Now(), Valid: true},
		LineTotal: sql.NullString{String: "10", Valid: true},
	}.Parse()
	if !errors.Is(err, ErrMalformedRow) {
		t.Fatalf("expected ErrMalformedRow, got %v", err)
	}
}

func TestRecommendationActive(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	r := Recommendation{ExpiresAt: now}
	if r.Active(now) {
		t.Fatal("recommendation expiring now must be inactive")
	}
	r.ExpiresAt = now.Add(time.Second)
	if !r.Active(now) {
		t.Fatal("expected active recommendation")
	}
}

func TestReverseConfidence(t *testing.T) {
	a := ProductAssociation{SupportCount: 2, CountA: 2, CountB: 3}
	if got := a.ReverseConfidence(); got < 0.666 || got > 0.667 {
		t.Fatalf("got %v, want 2/3", got)
	}
	if (ProductAssociation{SupportCount: 2}).ReverseConfidence() != 0 {
		t.Fatal("expected 0 without CountB")
	}
}
