package ports

import (
	"context"
	"time"

	"sales-insights/pkg/models"
)

// OrderReader parcourt les données de commande brutes.
type OrderReader interface {
	EachOrder(ctx context.Context, fn func(models.OrderRow) error) error
	// EachOrderLine parcourt les lignes dont la commande date de [since, until]. Une borne zéro n'est pas appliquée.
	EachOrderLine(ctx context.Context, since, until time.Time, fn func(models.OrderLineRow) error) error
	CustomerIDsWithOrders(ctx context.Context) ([]int64, error)
	// RecentPurchases retourne les produits distincts achetés entre since et until avec leur dernier achat.
	RecentPurchases(ctx context.Context, customerID int64, since, until time.Time) ([]models.Anchor, error)
	// RecentUnitPrices retourne les prix unitaires bruts des dernières ventes du produit jusqu'à until, plus récentes d'abord.
	RecentUnitPrices(ctx context.Context, productID int64, until time.Time, limit int) ([]string, error)
}

// StatsStore écrit et relit les agrégats clients.
type StatsStore interface {
	UpsertCustomerStats(ctx context.Context, row models.CustomerStats) error
	UpsertCustomerProductStats(ctx context.Context, row models.CustomerProductStats) error
	// EachRepurchaseCandidate parcourt les couples avec au moins 2 achats et une cadence définie.
	EachRepurchaseCandidate(ctx context.Context, fn func(models.CustomerProductStats) error) error
}

// AssociationStore écrit et relit la table des associations.
type AssociationStore interface {
	UpsertAssociation(ctx context.Context, row models.ProductAssociation) error
	// Associations retourne les paires où productID joue le rôle donné, candidat actif uniquement.
	Associations(ctx context.Context, productID int64, role models.PairRole, filter models.AssociationFilter) ([]models.LinkedProduct, error)
}

// RecommendationStore écrit et relit les recommandations.
type RecommendationStore interface {
	UpsertRecommendation(ctx context.Context, row models.Recommendation) error
	// ActiveRecommendations ignore les lignes expirées à l'instant now.
	ActiveRecommendations(ctx context.Context, customerID int64, now time.Time) ([]models.Recommendation, error)
}

// AlertStore écrit les alertes commerciales.
type AlertStore interface {
	// UpsertAlert insère l'alerte si absente, ne rafraîchit qu'une alerte encore "open".
	UpsertAlert(ctx context.Context, row models.SalesAlert) (models.AlertOutcome, error)
	// SetAlertStatus enregistre le tri fait par un commercial.
	SetAlertStatus(ctx context.Context, customerID, productID int64, alertType string, status models.AlertStatus, now time.Time) error
}

// Store est la capacité de stockage complète injectée dans les jobs.
type Store interface {
	OrderReader
	StatsStore
	AssociationStore
	RecommendationStore
	AlertStore
	Ping(ctx context.Context) error
}
