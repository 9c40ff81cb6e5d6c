package models

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

/*
LOAD → lignes brutes telles que lues depuis la base, avant validation.
Les montants restent des chaînes pour qu'une valeur non numérique ne casse que sa ligne.
*/

// OrderRow est une commande brute.
type OrderRow struct {
	ID         int64
	CustomerID int64
	OrderDate  sql.NullTime
	TotalValue sql.NullString
	Channel    sql.NullString
}

// Parse valide la ligne et retourne la commande typée.
func (r OrderRow) Parse() (Order, error) {
	if !r.OrderDate.Valid || r.OrderDate.Time.IsZero() {
		return Order{}, fmt.Errorf("%w: order %d: missing order date", ErrMalformedRow, r.ID)
	}
	total, err := parseAmount(r.TotalValue, false)
	if err != nil {
		return Order{}, fmt.Errorf("%w: order %d: total %w", ErrMalformedRow, r.ID, err)
	}
	return Order{
		ID:         r.ID,
		CustomerID: r.CustomerID,
		OrderDate:  r.OrderDate.Time.UTC(),
		TotalValue: total,
		Channel:    r.Channel.String,
	}, nil
}

// OrderLineRow est une ligne de commande brute jointe à sa commande.
type OrderLineRow struct {
	OrderID    int64
	CustomerID int64
	OrderDate  sql.NullTime
	ProductID  int64
	Quantity   sql.NullString
	UnitPrice  sql.NullString
	LineTotal  sql.NullString
}

// Parse valide la ligne. Un prix unitaire absent vaut zéro, une quantité ou un total absents sont rejetés.
func (r OrderLineRow) Parse() (OrderLine, error) {
	if !r.OrderDate.Valid || r.OrderDate.Time.IsZero() {
		return OrderLine{}, fmt.Errorf("%w: order %d product %d: missing order date", ErrMalformedRow, r.OrderID, r.ProductID)
	}
	qty, err := parseAmount(r.Quantity, false)
	if err != nil {
		return OrderLine{}, fmt.Errorf("%w: order %d product %d: quantity %w", ErrMalformedRow, r.OrderID, r.ProductID, err)
	}
	price, err := parseAmount(r.UnitPrice, true)
	if err != nil {
		return OrderLine{}, fmt.Errorf("%w: order %d product %d: unit price %w", ErrMalformedRow, r.OrderID, r.ProductID, err)
	}
	total, err := parseAmount(r.LineTotal, false)
	if err != nil {
		return OrderLine{}, fmt.Errorf("%w: order %d product %d: line total %w", ErrMalformedRow, r.OrderID, r.ProductID, err)
	}
	return OrderLine{
		OrderID:    r.OrderID,
		CustomerID: r.CustomerID,
		OrderDate:  r.OrderDate.Time.UTC(),
		ProductID:  r.ProductID,
		Quantity:   qty,
		UnitPrice:  price,
		LineTotal:  total,
	}, nil
}

// ParseAmount convertit un montant brut. Utilisé aussi pour les échantillons de prix.
func ParseAmount(raw string) (decimal.Decimal, error) {
	return parseAmount(sql.NullString{String: raw, Valid: true}, false)
}

func parseAmount(v sql.NullString, nullable bool) (decimal.Decimal, error) {
	if !v.Valid {
		if nullable {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("is null")
	}
	s := strings.TrimSpace(v.String)
	if s == "" {
		return decimal.Zero, fmt.Errorf("is empty")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%q is not numeric", s)
	}
	return d, nil
}
