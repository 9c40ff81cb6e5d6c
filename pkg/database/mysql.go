package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"sales-insights/pkg/models"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// MySQLStore implémente ports.Store sur MariaDB/MySQL en SQL brut.
type MySQLStore struct {
	db *sql.DB
}

// OpenMySQL ouvre le pool. parseTime et loc=UTC sont forcés quel que soit le DSN.
func OpenMySQL(ctx context.Context, dsn string) (*MySQLStore, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("mysql connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	return &MySQLStore{db: db}, nil
}

func (s *MySQLStore) Close() error { return s.db.Close() }

func (s *MySQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Migrate crée les tables produites.
func (s *MySQLStore) Migrate(ctx context.Context) error {
	return s.execSchema(ctx, "schema/mysql.sql")
}

// MigrateSource crée les tables source (dev local uniquement, en production elles viennent du CRM).
func (s *MySQLStore) MigrateSource(ctx context.Context) error {
	return s.execSchema(ctx, "schema/mysql_source.sql")
}

// Le driver refuse plusieurs instructions par Exec sans multiStatements : on découpe.
func (s *MySQLStore) execSchema(ctx context.Context, name string) error {
	raw, err := schemaFS.ReadFile(name)
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	for _, stmt := range strings.Split(string(raw), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %s: %w", name, err)
		}
	}
	return nil
}

func (s *MySQLStore) EachOrder(ctx context.Context, fn func(models.OrderRow) error) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT o.id, o.customer_id, o.order_date, o.total_value, o.channel
		FROM orders o
		ORDER BY o.customer_id, o.order_date, o.id
	`)
	if err != nil {
		return fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r models.OrderRow
		if err := rows.Scan(&r.ID, &r.CustomerID, &r.OrderDate, &r.TotalValue, &r.Channel); err != nil {
			return fmt.Errorf("scan order: %w", err)
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *MySQLStore) EachOrderLine(ctx context.Context, since, until time.Time, fn func(models.OrderLineRow) error) error {
	q := `
		SELECT oi.order_id, o.customer_id, o.order_date, oi.product_id, oi.quantity, oi.unit_price, oi.line_total
		FROM order_items oi
		JOIN orders o ON o.id = oi.order_id
	`
	var (
		where []string
		args  []any
	)
	if !since.IsZero() {
		where = append(where, `o.order_date >= ?`)
		args = append(args, since.UTC())
	}
	if !until.IsZero() {
		where = append(where, `o.order_date <= ?`)
		args = append(args, until.UTC())
	}
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, ` AND `)
	}
	q += ` ORDER BY oi.order_id, oi.id`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("query order lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r models.OrderLineRow
		if err := rows.Scan(&r.OrderID, &r.CustomerID, &r.OrderDate, &r.ProductID, &r.Quantity, &r.UnitPrice, &r.LineTotal); err != nil {
			return fmt.Errorf("scan order line: %w", err)
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *MySQLStore) CustomerIDsWithOrders(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT customer_id FROM orders ORDER BY customer_id`)
	if err != nil {
		return nil, fmt.Errorf("query customers: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan customer: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *MySQLStore) RecentPurchases(ctx context.Context, customerID int64, since, until time.Time) ([]models.Anchor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT oi.product_id, COALESCE(p.name, ''), MAX(o.order_date)
		FROM order_items oi
		JOIN orders o ON o.id = oi.order_id
		LEFT JOIN products p ON p.id = oi.product_id
		WHERE o.customer_id = ? AND o.order_date >= ? AND o.order_date <= ?
		GROUP BY oi.product_id, p.name
		ORDER BY oi.product_id
	`, customerID, since.UTC(), upperBound(until))
	if err != nil {
		return nil, fmt.Errorf("query recent purchases: %w", err)
	}
	defer rows.Close()

	var out []models.Anchor
	for rows.Next() {
		var a models.Anchor
		if err := rows.Scan(&a.ProductID, &a.Name, &a.LastPurchasedAt); err != nil {
			return nil, fmt.Errorf("scan recent purchase: %w", err)
		}
		a.LastPurchasedAt = a.LastPurchasedAt.UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *MySQLStore) RecentUnitPrices(ctx context.Context, productID int64, until time.Time, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT oi.unit_price
		FROM order_items oi
		JOIN orders o ON o.id = oi.order_id
		WHERE oi.product_id = ? AND oi.unit_price IS NOT NULL AND o.order_date <= ?
		ORDER BY o.order_date DESC, oi.id DESC
		LIMIT ?
	`, productID, upperBound(until), limit)
	if err != nil {
		return nil, fmt.Errorf("query unit prices: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan unit price: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *MySQLStore) UpsertCustomerStats(ctx context.Context, r models.CustomerStats) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customer_stats (customer_id, last_order_at, last_order_value, lifetime_value, orders_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			last_order_at = VALUES(last_order_at),
			last_order_value = VALUES(last_order_value),
			lifetime_value = VALUES(lifetime_value),
			orders_count = VALUES(orders_count),
			updated_at = VALUES(updated_at)
	`, r.CustomerID, r.LastOrderAt.UTC(), r.LastOrderValue, r.LifetimeValue, r.OrdersCount, r.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert customer_stats %d: %w", r.CustomerID, err)
	}
	return nil
}

func (s *MySQLStore) UpsertCustomerProductStats(ctx context.Context, r models.CustomerProductStats) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customer_product_stats (customer_id, product_id, first_purchase_at, last_purchase_at,
			total_quantity, total_spent, purchases_count, avg_days_between_purchases, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			first_purchase_at = VALUES(first_purchase_at),
			last_purchase_at = VALUES(last_purchase_at),
			total_quantity = VALUES(total_quantity),
			total_spent = VALUES(total_spent),
			purchases_count = VALUES(purchases_count),
			avg_days_between_purchases = VALUES(avg_days_between_purchases),
			updated_at = VALUES(updated_at)
	`, r.CustomerID, r.ProductID, r.FirstPurchaseAt.UTC(), r.LastPurchaseAt.UTC(),
		r.TotalQuantity, r.TotalSpent, r.PurchasesCount, nullFloat(r.AvgDaysBetweenPurchases), r.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert customer_product_stats %d/%d: %w", r.CustomerID, r.ProductID, err)
	}
	return nil
}

func (s *MySQLStore) EachRepurchaseCandidate(ctx context.Context, fn func(models.CustomerProductStats) error) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT customer_id, product_id, first_purchase_at, last_purchase_at,
			total_quantity, total_spent, purchases_count, avg_days_between_purchases, updated_at
		FROM customer_product_stats
		WHERE purchases_count >= 2 AND avg_days_between_purchases IS NOT NULL
		ORDER BY customer_id, product_id
	`)
	if err != nil {
		return fmt.Errorf("query repurchase candidates: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			r          models.CustomerProductStats
			qty, spent string
			avg        sql.NullFloat64
		)
		if err := rows.Scan(&r.CustomerID, &r.ProductID, &r.FirstPurchaseAt, &r.LastPurchaseAt,
			&qty, &spent, &r.PurchasesCount, &avg, &r.UpdatedAt); err != nil {
			return fmt.Errorf("scan customer_product_stats: %w", err)
		}
		if r.TotalQuantity, err = decimal.NewFromString(qty); err != nil {
			return fmt.Errorf("customer_product_stats %d/%d total_quantity: %w", r.CustomerID, r.ProductID, err)
		}
		if r.TotalSpent, err = decimal.NewFromString(spent); err != nil {
			return fmt.Errorf("customer_product_stats %d/%d total_spent: %w", r.CustomerID, r.ProductID, err)
		}
		if avg.Valid {
			v := avg.Float64
			r.AvgDaysBetweenPurchases = &v
		}
		r.FirstPurchaseAt = r.FirstPurchaseAt.UTC()
		r.LastPurchaseAt = r.LastPurchaseAt.UTC()
		if err := fn(r); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *MySQLStore) UpsertAssociation(ctx context.Context, r models.ProductAssociation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO product_associations (product_a, product_b, window_days, support_count, count_a, count_b,
			orders_count, support, confidence, lift, leverage, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			support_count = VALUES(support_count),
			count_a = VALUES(count_a),
			count_b = VALUES(count_b),
			orders_count = VALUES(orders_count),
			support = VALUES(support),
			confidence = VALUES(confidence),
			lift = VALUES(lift),
			leverage = VALUES(leverage),
			updated_at = VALUES(updated_at)
	`, r.ProductA, r.ProductB, r.WindowDays, r.SupportCount, r.CountA, r.CountB,
		r.OrdersCount, r.Support, r.Confidence, r.Lift, r.Leverage, r.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert product_associations %d/%d: %w", r.ProductA, r.ProductB, err)
	}
	return nil
}

func (s *MySQLStore) Associations(ctx context.Context, productID int64, role models.PairRole, f models.AssociationFilter) ([]models.LinkedProduct, error) {
	anchorCol, otherCol := "product_a", "product_b"
	if role == models.RoleB {
		anchorCol, otherCol = "product_b", "product_a"
	}
	q := fmt.Sprintf(`
		SELECT pa.product_a, pa.product_b, pa.window_days, pa.support_count, pa.count_a, pa.count_b,
			pa.orders_count, pa.support, pa.confidence, pa.lift, pa.leverage, pa.updated_at, p.name
		FROM product_associations pa
		JOIN products p ON p.id = pa.%s
		WHERE pa.%s = ? AND pa.window_days = ? AND pa.support_count >= ? AND pa.lift > ? AND p.active = 1
		ORDER BY pa.lift DESC, pa.%s
	`, otherCol, anchorCol, otherCol)

	rows, err := s.db.QueryContext(ctx, q, productID, f.WindowDays, f.MinSupport, f.MinLift)
	if err != nil {
		return nil, fmt.Errorf("query associations: %w", err)
	}
	defer rows.Close()

	var out []models.LinkedProduct
	for rows.Next() {
		var (
			lp models.LinkedProduct
			a  = &lp.Association
		)
		if err := rows.Scan(&a.ProductA, &a.ProductB, &a.WindowDays, &a.SupportCount, &a.CountA, &a.CountB,
			&a.OrdersCount, &a.Support, &a.Confidence, &a.Lift, &a.Leverage, &a.UpdatedAt, &lp.ProductName); err != nil {
			return nil, fmt.Errorf("scan association: %w", err)
		}
		out = append(out, lp)
	}
	return out, rows.Err()
}

func (s *MySQLStore) UpsertRecommendation(ctx context.Context, r models.Recommendation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recommendations (customer_id, product_id, reason, score, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			reason = VALUES(reason),
			score = VALUES(score),
			created_at = VALUES(created_at),
			expires_at = VALUES(expires_at)
	`, r.CustomerID, r.ProductID, r.Reason, r.Score, r.CreatedAt.UTC(), r.ExpiresAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert recommendation %d/%d: %w", r.CustomerID, r.ProductID, err)
	}
	return nil
}

func (s *MySQLStore) ActiveRecommendations(ctx context.Context, customerID int64, now time.Time) ([]models.Recommendation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT customer_id, product_id, reason, score, created_at, expires_at
		FROM recommendations
		WHERE customer_id = ? AND expires_at > ?
		ORDER BY score DESC, product_id
	`, customerID, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("query recommendations: %w", err)
	}
	defer rows.Close()

	var out []models.Recommendation
	for rows.Next() {
		var r models.Recommendation
		if err := rows.Scan(&r.CustomerID, &r.ProductID, &r.Reason, &r.Score, &r.CreatedAt, &r.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan recommendation: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpsertAlert : MySQL renvoie 1 ligne affectée pour un insert, 2 pour un update effectif, 0 sinon.
func (s *MySQLStore) UpsertAlert(ctx context.Context, r models.SalesAlert) (models.AlertOutcome, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sales_alerts (customer_id, product_id, alert_type, message, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			message = IF(status = 'open', VALUES(message), message),
			updated_at = IF(status = 'open', VALUES(updated_at), updated_at)
	`, r.CustomerID, nullInt(r.ProductID), r.AlertType, r.Message, string(models.AlertOpen), r.CreatedAt.UTC(), r.UpdatedAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("upsert sales_alert %d: %w", r.CustomerID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	switch n {
	case 1:
		return models.AlertInserted, nil
	case 2:
		return models.AlertRefreshed, nil
	}
	// Rien n'a changé : soit le statut est humain, soit les valeurs étaient identiques.
	var status string
	err = s.db.QueryRowContext(ctx, `
		SELECT status FROM sales_alerts WHERE customer_id = ? AND product_id <=> ? AND alert_type = ?
	`, r.CustomerID, nullInt(r.ProductID), r.AlertType).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("sales_alert %d vanished after upsert", r.CustomerID)
		}
		return 0, fmt.Errorf("read sales_alert status: %w", err)
	}
	if models.AlertStatus(status) == models.AlertOpen {
		return models.AlertRefreshed, nil
	}
	return models.AlertPreserved, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

// SetAlertStatus modifie le statut d'une alerte (tri commercial).
func (s *MySQLStore) SetAlertStatus(ctx context.Context, customerID, productID int64, alertType string, status models.AlertStatus, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sales_alerts SET status = ?, updated_at = ?
		WHERE customer_id = ? AND product_id = ? AND alert_type = ?
	`, string(status), now.UTC(), customerID, productID, alertType)
	if err != nil {
		return fmt.Errorf("update sales_alert status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// upperBound remplace une borne zéro par une date que rien ne dépasse.
func upperBound(until time.Time) time.Time {
	if until.IsZero() {
		return time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)
	}
	return until.UTC()
}
