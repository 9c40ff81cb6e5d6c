package database

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// Tables source : lecture seule en production, migrées uniquement pour le dev local et les tests.

type customerModel struct {
	ID        int64  `gorm:"primaryKey"`
	Code      string `gorm:"size:64;uniqueIndex"`
	Name      string `gorm:"size:255"`
	Email     string `gorm:"size:255"`
	Phone     string `gorm:"size:64"`
	Segment   string `gorm:"size:64"`
	Region    string `gorm:"size:64"`
	SalesRep  string `gorm:"size:128"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (customerModel) TableName() string { return "customers" }

type productModel struct {
	ID       int64  `gorm:"primaryKey"`
	SKU      string `gorm:"column:sku;size:64;uniqueIndex"`
	Name     string `gorm:"size:255"`
	Category string `gorm:"size:128"`
	Brand    string `gorm:"size:128"`
	Unit     string `gorm:"size:32"`
	Active   bool   `gorm:"not null"`
}

func (productModel) TableName() string { return "products" }

type orderModel struct {
	ID         int64          `gorm:"primaryKey"`
	CustomerID int64          `gorm:"not null;index:idx_orders_customer_date,priority:1"`
	OrderDate  time.Time      `gorm:"not null;index:idx_orders_customer_date,priority:2"`
	TotalValue sql.NullString `gorm:"type:decimal(14,2)"`
	Channel    sql.NullString `gorm:"size:32"`
}

func (orderModel) TableName() string { return "orders" }

type orderItemModel struct {
	ID        int64          `gorm:"primaryKey"`
	OrderID   int64          `gorm:"not null;index"`
	ProductID int64          `gorm:"not null;index"`
	Quantity  sql.NullString `gorm:"type:decimal(14,3)"`
	UnitPrice sql.NullString `gorm:"type:decimal(14,4)"`
	LineTotal sql.NullString `gorm:"type:decimal(14,2)"`
}

func (orderItemModel) TableName() string { return "order_items" }

// Tables produites par les jobs. Les horodatages sont fournis par l'appelant (pas d'autoTime gorm).

type customerStatsModel struct {
	CustomerID     int64           `gorm:"primaryKey;autoIncrement:false"`
	LastOrderAt    time.Time       `gorm:"not null"`
	LastOrderValue decimal.Decimal `gorm:"type:decimal(14,2);not null"`
	LifetimeValue  decimal.Decimal `gorm:"type:decimal(16,2);not null"`
	OrdersCount    int             `gorm:"not null"`
	UpdatedAt      time.Time       `gorm:"not null;autoUpdateTime:false"`
}

func (customerStatsModel) TableName() string { return "customer_stats" }

type customerProductStatsModel struct {
	CustomerID              int64           `gorm:"primaryKey;autoIncrement:false"`
	ProductID               int64           `gorm:"primaryKey;autoIncrement:false"`
	FirstPurchaseAt         time.Time       `gorm:"not null"`
	LastPurchaseAt          time.Time       `gorm:"not null"`
	TotalQuantity           decimal.Decimal `gorm:"type:decimal(16,3);not null"`
	TotalSpent              decimal.Decimal `gorm:"type:decimal(16,2);not null"`
	PurchasesCount          int             `gorm:"not null;index"`
	AvgDaysBetweenPurchases *float64        `gorm:"type:decimal(10,1)"`
	UpdatedAt               time.Time       `gorm:"not null;autoUpdateTime:false"`
}

func (customerProductStatsModel) TableName() string { return "customer_product_stats" }

type productAssociationModel struct {
	ProductA     int64     `gorm:"primaryKey;autoIncrement:false"`
	ProductB     int64     `gorm:"primaryKey;autoIncrement:false;index:idx_pa_b,priority:1"`
	WindowDays   int       `gorm:"primaryKey;autoIncrement:false;index:idx_pa_b,priority:2"`
	SupportCount int       `gorm:"not null"`
	CountA       int       `gorm:"not null"`
	CountB       int       `gorm:"not null"`
	OrdersCount  int       `gorm:"not null"`
	Support      float64   `gorm:"not null"`
	Confidence   float64   `gorm:"not null"`
	Lift         float64   `gorm:"not null"`
	Leverage     float64   `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null;autoUpdateTime:false"`
}

func (productAssociationModel) TableName() string { return "product_associations" }

type recommendationModel struct {
	ID         int64     `gorm:"primaryKey"`
	CustomerID int64     `gorm:"not null;uniqueIndex:uq_recommendations_pair,priority:1;index:idx_recommendations_expiry,priority:1"`
	ProductID  int64     `gorm:"not null;uniqueIndex:uq_recommendations_pair,priority:2"`
	Reason     string    `gorm:"size:512;not null"`
	Score      float64   `gorm:"type:decimal(5,3);not null"`
	CreatedAt  time.Time `gorm:"not null;autoCreateTime:false"`
	ExpiresAt  time.Time `gorm:"not null;index:idx_recommendations_expiry,priority:2"`
}

func (recommendationModel) TableName() string { return "recommendations" }

type salesAlertModel struct {
	ID         int64     `gorm:"primaryKey"`
	CustomerID int64     `gorm:"not null;uniqueIndex:uq_sales_alerts_key,priority:1"`
	ProductID  *int64    `gorm:"uniqueIndex:uq_sales_alerts_key,priority:2"`
	AlertType  string    `gorm:"size:32;not null;uniqueIndex:uq_sales_alerts_key,priority:3"`
	Message    string    `gorm:"size:512;not null"`
	Status     string    `gorm:"size:16;not null"`
	CreatedAt  time.Time `gorm:"not null;autoCreateTime:false"`
	UpdatedAt  time.Time `gorm:"not null;autoUpdateTime:false"`
}

func (salesAlertModel) TableName() string { return "sales_alerts" }
