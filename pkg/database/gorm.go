package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"sales-insights/pkg/models"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Taille des pages lues par les parcours : aucune requête ne reste ouverte pendant le callback.
const scanBatchSize = 1000

// GormStore implémente ports.Store sur Postgres (production) ou SQLite (dev local, tests).
type GormStore struct {
	db *gorm.DB
}

// OpenPostgres ouvre le pool Postgres.
func OpenPostgres(ctx context.Context, databaseURL string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		PrepareStmt:    true,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("gorm sql db: %w", err)
	}
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxIdleTime(15 * time.Minute)
	sqlDB.SetConnMaxLifetime(time.Hour)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &GormStore{db: db}, nil
}

// OpenSQLite ouvre une base SQLite. Une seule connexion : ":memory:" reste ainsi la même base.
func OpenSQLite(ctx context.Context, path string) (*GormStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("gorm sql db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Migrate crée les tables produites.
func (s *GormStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(
		&customerStatsModel{},
		&customerProductStatsModel{},
		&productAssociationModel{},
		&recommendationModel{},
		&salesAlertModel{},
	); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// MigrateSource crée les tables source (dev local et tests).
func (s *GormStore) MigrateSource(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(
		&customerModel{},
		&productModel{},
		&orderModel{},
		&orderItemModel{},
	); err != nil {
		return fmt.Errorf("migrate source: %w", err)
	}
	return nil
}

func (s *GormStore) EachOrder(ctx context.Context, fn func(models.OrderRow) error) error {
	var lastID int64
	for {
		var batch []orderModel
		err := s.db.WithContext(ctx).
			Where("id > ?", lastID).
			Order("id").
			Limit(scanBatchSize).
			Find(&batch).Error
		if err != nil {
			return fmt.Errorf("query orders: %w", err)
		}
		for _, m := range batch {
			row := models.OrderRow{
				ID:         m.ID,
				CustomerID: m.CustomerID,
				OrderDate:  sql.NullTime{Time: m.OrderDate, Valid: !m.OrderDate.IsZero()},
				TotalValue: m.TotalValue,
				Channel:    m.Channel,
			}
			if err := fn(row); err != nil {
				return err
			}
		}
		if len(batch) < scanBatchSize {
			return nil
		}
		lastID = batch[len(batch)-1].ID
	}
}

type orderLineScan struct {
	ID         int64
	OrderID    int64
	CustomerID int64
	OrderDate  time.Time
	ProductID  int64
	Quantity   sql.NullString
	UnitPrice  sql.NullString
	LineTotal  sql.NullString
}

func (s *GormStore) EachOrderLine(ctx context.Context, since, until time.Time, fn func(models.OrderLineRow) error) error {
	var lastID int64
	for {
		q := s.db.WithContext(ctx).
			Table("order_items AS oi").
			Select("oi.id, oi.order_id, o.customer_id, o.order_date, oi.product_id, oi.quantity, oi.unit_price, oi.line_total").
			Joins("JOIN orders o ON o.id = oi.order_id").
			Where("oi.id > ?", lastID)
		if !since.IsZero() {
			q = q.Where("o.order_date >= ?", since.UTC())
		}
		if !until.IsZero() {
			q = q.Where("o.order_date <= ?", until.UTC())
		}
		var batch []orderLineScan
		if err := q.Order("oi.id").Limit(scanBatchSize).Scan(&batch).Error; err != nil {
			return fmt.Errorf("query order lines: %w", err)
		}
		for _, m := range batch {
			row := models.OrderLineRow{
				OrderID:    m.OrderID,
				CustomerID: m.CustomerID,
				OrderDate:  sql.NullTime{Time: m.OrderDate, Valid: !m.OrderDate.IsZero()},
				ProductID:  m.ProductID,
				Quantity:   m.Quantity,
				UnitPrice:  m.UnitPrice,
				LineTotal:  m.LineTotal,
			}
			if err := fn(row); err != nil {
				return err
			}
		}
		if len(batch) < scanBatchSize {
			return nil
		}
		lastID = batch[len(batch)-1].ID
	}
}

func (s *GormStore) CustomerIDsWithOrders(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := s.db.WithContext(ctx).
		Model(&orderModel{}).
		Distinct().
		Order("customer_id").
		Pluck("customer_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("query customers: %w", err)
	}
	return ids, nil
}

type purchaseScan struct {
	ProductID   int64
	ProductName sql.NullString
	OrderDate   time.Time
}

// RecentPurchases : le MAX(order_date) est calculé côté Go, SQLite perd le type des agrégats de dates.
func (s *GormStore) RecentPurchases(ctx context.Context, customerID int64, since, until time.Time) ([]models.Anchor, error) {
	var rows []purchaseScan
	err := s.db.WithContext(ctx).
		Table("order_items AS oi").
		Select("oi.product_id, p.name AS product_name, o.order_date").
		Joins("JOIN orders o ON o.id = oi.order_id").
		Joins("LEFT JOIN products p ON p.id = oi.product_id").
		Where("o.customer_id = ? AND o.order_date >= ? AND o.order_date <= ?", customerID, since.UTC(), upperBound(until)).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query recent purchases: %w", err)
	}

	latest := map[int64]models.Anchor{}
	for _, r := range rows {
		a, ok := latest[r.ProductID]
		if !ok || r.OrderDate.After(a.LastPurchasedAt) {
			latest[r.ProductID] = models.Anchor{
				ProductID:       r.ProductID,
				Name:            r.ProductName.String,
				LastPurchasedAt: r.OrderDate.UTC(),
			}
		}
	}
	out := make([]models.Anchor, 0, len(latest))
	for _, a := range latest {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (s *GormStore) RecentUnitPrices(ctx context.Context, productID int64, until time.Time, limit int) ([]string, error) {
	var prices []sql.NullString
	err := s.db.WithContext(ctx).
		Table("order_items AS oi").
		Joins("JOIN orders o ON o.id = oi.order_id").
		Where("oi.product_id = ? AND oi.unit_price IS NOT NULL AND o.order_date <= ?", productID, upperBound(until)).
		Order("o.order_date DESC, oi.id DESC").
		Limit(limit).
		Pluck("oi.unit_price", &prices).Error
	if err != nil {
		return nil, fmt.Errorf("query unit prices: %w", err)
	}
	out := make([]string, 0, len(prices))
	for _, p := range prices {
		if p.Valid {
			out = append(out, p.String)
		}
	}
	return out, nil
}

func (s *GormStore) UpsertCustomerStats(ctx context.Context, r models.CustomerStats) error {
	m := customerStatsModel{
		CustomerID:     r.CustomerID,
		LastOrderAt:    r.LastOrderAt.UTC(),
		LastOrderValue: r.LastOrderValue,
		LifetimeValue:  r.LifetimeValue,
		OrdersCount:    r.OrdersCount,
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "customer_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_order_at", "last_order_value", "lifetime_value", "orders_count", "updated_at"}),
	}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("upsert customer_stats %d: %w", r.CustomerID, err)
	}
	return nil
}

func (s *GormStore) UpsertCustomerProductStats(ctx context.Context, r models.CustomerProductStats) error {
	m := customerProductStatsModel{
		CustomerID:              r.CustomerID,
		ProductID:               r.ProductID,
		FirstPurchaseAt:         r.FirstPurchaseAt.UTC(),
		LastPurchaseAt:          r.LastPurchaseAt.UTC(),
		TotalQuantity:           r.TotalQuantity,
		TotalSpent:              r.TotalSpent,
		PurchasesCount:          r.PurchasesCount,
		AvgDaysBetweenPurchases: r.AvgDaysBetweenPurchases,
		UpdatedAt:               r.UpdatedAt.UTC(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "customer_id"}, {Name: "product_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"first_purchase_at", "last_purchase_at", "total_quantity", "total_spent",
			"purchases_count", "avg_days_between_purchases", "updated_at",
		}),
	}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("upsert customer_product_stats %d/%d: %w", r.CustomerID, r.ProductID, err)
	}
	return nil
}

func (s *GormStore) EachRepurchaseCandidate(ctx context.Context, fn func(models.CustomerProductStats) error) error {
	var rows []customerProductStatsModel
	err := s.db.WithContext(ctx).
		Where("purchases_count >= ? AND avg_days_between_purchases IS NOT NULL", 2).
		Order("customer_id, product_id").
		Find(&rows).Error
	if err != nil {
		return fmt.Errorf("query repurchase candidates: %w", err)
	}
	for _, m := range rows {
		if err := fn(models.CustomerProductStats{
			CustomerID:              m.CustomerID,
			ProductID:               m.ProductID,
			FirstPurchaseAt:         m.FirstPurchaseAt.UTC(),
			LastPurchaseAt:          m.LastPurchaseAt.UTC(),
			TotalQuantity:           m.TotalQuantity,
			TotalSpent:              m.TotalSpent,
			PurchasesCount:          m.PurchasesCount,
			AvgDaysBetweenPurchases: m.AvgDaysBetweenPurchases,
			UpdatedAt:               m.UpdatedAt.UTC(),
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *GormStore) UpsertAssociation(ctx context.Context, r models.ProductAssociation) error {
	m := productAssociationModel{
		ProductA:     r.ProductA,
		ProductB:     r.ProductB,
		WindowDays:   r.WindowDays,
		SupportCount: r.SupportCount,
		CountA:       r.CountA,
		CountB:       r.CountB,
		OrdersCount:  r.OrdersCount,
		Support:      r.Support,
		Confidence:   r.Confidence,
		Lift:         r.Lift,
		Leverage:     r.Leverage,
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "product_a"}, {Name: "product_b"}, {Name: "window_days"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"support_count", "count_a", "count_b", "orders_count",
			"support", "confidence", "lift", "leverage", "updated_at",
		}),
	}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("upsert product_associations %d/%d: %w", r.ProductA, r.ProductB, err)
	}
	return nil
}

type associationScan struct {
	ProductA     int64
	ProductB     int64
	WindowDays   int
	SupportCount int
	CountA       int
	CountB       int
	OrdersCount  int
	Support      float64
	Confidence   float64
	Lift         float64
	Leverage     float64
	UpdatedAt    time.Time
	ProductName  string
}

func (s *GormStore) Associations(ctx context.Context, productID int64, role models.PairRole, f models.AssociationFilter) ([]models.LinkedProduct, error) {
	anchorCol, otherCol := "pa.product_a", "pa.product_b"
	if role == models.RoleB {
		anchorCol, otherCol = "pa.product_b", "pa.product_a"
	}
	var rows []associationScan
	err := s.db.WithContext(ctx).
		Table("product_associations AS pa").
		Select("pa.product_a, pa.product_b, pa.window_days, pa.support_count, pa.count_a, pa.count_b, "+
			"pa.orders_count, pa.support, pa.confidence, pa.lift, pa.leverage, pa.updated_at, p.name AS product_name").
		Joins("JOIN products p ON p.id = "+otherCol).
		Where(anchorCol+" = ?", productID).
		Where("pa.window_days = ? AND pa.support_count >= ? AND pa.lift > ? AND p.active = ?",
			f.WindowDays, f.MinSupport, f.MinLift, true).
		Order("pa.lift DESC, " + otherCol).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query associations: %w", err)
	}
	out := make([]models.LinkedProduct, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.LinkedProduct{
			Association: models.ProductAssociation{
				ProductA:     r.ProductA,
				ProductB:     r.ProductB,
				WindowDays:   r.WindowDays,
				SupportCount: r.SupportCount,
				CountA:       r.CountA,
				CountB:       r.CountB,
				OrdersCount:  r.OrdersCount,
				Support:      r.Support,
				Confidence:   r.Confidence,
				Lift:         r.Lift,
				Leverage:     r.Leverage,
				UpdatedAt:    r.UpdatedAt.UTC(),
			},
			ProductName: r.ProductName,
		})
	}
	return out, nil
}

func (s *GormStore) UpsertRecommendation(ctx context.Context, r models.Recommendation) error {
	m := recommendationModel{
		CustomerID: r.CustomerID,
		ProductID:  r.ProductID,
		Reason:     r.Reason,
		Score:      r.Score,
		CreatedAt:  r.CreatedAt.UTC(),
		ExpiresAt:  r.ExpiresAt.UTC(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "customer_id"}, {Name: "product_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"reason", "score", "created_at", "expires_at"}),
	}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("upsert recommendation %d/%d: %w", r.CustomerID, r.ProductID, err)
	}
	return nil
}

func (s *GormStore) ActiveRecommendations(ctx context.Context, customerID int64, now time.Time) ([]models.Recommendation, error) {
	var rows []recommendationModel
	err := s.db.WithContext(ctx).
		Where("customer_id = ? AND expires_at > ?", customerID, now.UTC()).
		Order("score DESC, product_id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query recommendations: %w", err)
	}
	out := make([]models.Recommendation, 0, len(rows))
	for _, m := range rows {
		out = append(out, models.Recommendation{
			CustomerID: m.CustomerID,
			ProductID:  m.ProductID,
			Reason:     m.Reason,
			Score:      m.Score,
			CreatedAt:  m.CreatedAt.UTC(),
			ExpiresAt:  m.ExpiresAt.UTC(),
		})
	}
	return out, nil
}

// UpsertAlert : le ON CONFLICT ... WHERE status = 'open' garantit qu'un statut humain n'est jamais écrasé.
// La lecture préalable sert uniquement à qualifier le résultat.
func (s *GormStore) UpsertAlert(ctx context.Context, r models.SalesAlert) (models.AlertOutcome, error) {
	outcome := models.AlertInserted
	var existing salesAlertModel
	q := s.db.WithContext(ctx).Where("customer_id = ? AND alert_type = ?", r.CustomerID, r.AlertType)
	if r.ProductID != nil {
		q = q.Where("product_id = ?", *r.ProductID)
	} else {
		q = q.Where("product_id IS NULL")
	}
	err := q.Take(&existing).Error
	switch {
	case err == nil && models.AlertStatus(existing.Status) == models.AlertOpen:
		outcome = models.AlertRefreshed
	case err == nil:
		return models.AlertPreserved, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return 0, fmt.Errorf("read sales_alert %d: %w", r.CustomerID, err)
	}

	m := salesAlertModel{
		CustomerID: r.CustomerID,
		ProductID:  r.ProductID,
		AlertType:  r.AlertType,
		Message:    r.Message,
		Status:     string(models.AlertOpen),
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "customer_id"}, {Name: "product_id"}, {Name: "alert_type"}},
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Eq{Column: clause.Column{Table: "sales_alerts", Name: "status"}, Value: string(models.AlertOpen)},
		}},
		DoUpdates: clause.AssignmentColumns([]string{"message", "updated_at"}),
	}).Create(&m)
	if res.Error != nil {
		return 0, fmt.Errorf("upsert sales_alert %d: %w", r.CustomerID, res.Error)
	}
	if res.RowsAffected == 0 {
		// Le statut a changé entre la lecture et l'écriture.
		return models.AlertPreserved, nil
	}
	return outcome, nil
}

// SetAlertStatus modifie le statut d'une alerte (tri commercial).
func (s *GormStore) SetAlertStatus(ctx context.Context, customerID, productID int64, alertType string, status models.AlertStatus, now time.Time) error {
	res := s.db.WithContext(ctx).
		Model(&salesAlertModel{}).
		Where("customer_id = ? AND product_id = ? AND alert_type = ?", customerID, productID, alertType).
		Updates(map[string]any{"status": string(status), "updated_at": now.UTC()})
	if res.Error != nil {
		return fmt.Errorf("update sales_alert status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
