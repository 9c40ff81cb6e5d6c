package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrMalformedRow marque une ligne brute qui ne peut pas être convertie en entité typée.
var ErrMalformedRow = errors.New("malformed row")

/*
SOURCE → entités en lecture seule (CRM / ERP).
*/

// Customer est un client importé depuis le CRM.
type Customer struct {
	ID        int64
	Code      string
	Name      string
	Email     string
	Phone     string
	Segment   string
	Region    string
	SalesRep  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Product est un article du catalogue.
type Product struct {
	ID       int64
	SKU      string
	Name     string
	Category string
	Brand    string
	Unit     string
	Active   bool
}

// Order est une commande validée.
type Order struct {
	ID         int64
	CustomerID int64
	OrderDate  time.Time
	TotalValue decimal.Decimal
	Channel    string
}

// OrderLine est une ligne de commande enrichie de la commande parente.
type OrderLine struct {
	OrderID    int64
	CustomerID int64
	OrderDate  time.Time
	ProductID  int64
	Quantity   decimal.Decimal
	UnitPrice  decimal.Decimal
	LineTotal  decimal.Decimal
}

/*
PRODUCED → tables écrites par les jobs (upsert par clé naturelle).
*/

// CustomerStats est l'agrégat par client.
type CustomerStats struct {
	CustomerID     int64
	LastOrderAt    time.Time
	LastOrderValue decimal.Decimal
	LifetimeValue  decimal.Decimal
	OrdersCount    int
	UpdatedAt      time.Time
}

// CustomerProductStats est l'agrégat par couple client × produit.
type CustomerProductStats struct {
	CustomerID      int64
	ProductID       int64
	FirstPurchaseAt time.Time
	LastPurchaseAt  time.Time
	TotalQuantity   decimal.Decimal
	TotalSpent      decimal.Decimal
	PurchasesCount  int
	// AvgDaysBetweenPurchases est nil tant que PurchasesCount <= 1.
	AvgDaysBetweenPurchases *float64
	UpdatedAt               time.Time
}

// ProductAssociation est une paire canonique (ProductA < ProductB).
type ProductAssociation struct {
	ProductA     int64
	ProductB     int64
	WindowDays   int
	SupportCount int
	CountA       int
	CountB       int
	OrdersCount  int
	Support      float64
	Confidence   float64 // P(B | A)
	Lift         float64
	Leverage     float64
	UpdatedAt    time.Time
}

// ReverseConfidence retourne P(A | B), dérivée des compteurs stockés.
func (a ProductAssociation) ReverseConfidence() float64 {
	if a.CountB == 0 {
		return 0
	}
	return float64(a.SupportCount) / float64(a.CountB)
}

// Recommendation est un produit suggéré à un client.
type Recommendation struct {
	CustomerID int64
	ProductID  int64
	Reason     string
	Score      float64
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// Active indique si la recommandation est encore valide à l'instant now.
func (r Recommendation) Active(now time.Time) bool {
	return now.Before(r.ExpiresAt)
}

// AlertStatus est l'état de traitement d'une alerte commerciale.
type AlertStatus string

const (
	AlertOpen    AlertStatus = "open"
	AlertWorking AlertStatus = "working"
	AlertDone    AlertStatus = "done"
	AlertIgnored AlertStatus = "ignored"
)

// AlertTypeRepurchase est le type d'alerte produit par le moteur de réachat.
const AlertTypeRepurchase = "repurchase"

// SalesAlert est une alerte à traiter par un commercial.
type SalesAlert struct {
	ID         int64
	CustomerID int64
	ProductID  *int64
	AlertType  string
	Message    string
	Status     AlertStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// AlertOutcome décrit l'effet d'un upsert d'alerte.
type AlertOutcome int

const (
	AlertInserted AlertOutcome = iota
	AlertRefreshed
	AlertPreserved // statut géré par un humain, rien n'est modifié
)

/*
LOOKUPS → résultats des requêtes d'agrégat utilisées par le générateur.
*/

// Anchor est un produit acheté récemment par le client.
type Anchor struct {
	ProductID       int64
	Name            string
	LastPurchasedAt time.Time
}

// Candidate est une association exploitable depuis une ancre donnée.
type Candidate struct {
	AnchorID     int64
	ProductID    int64
	Name         string
	SupportCount int
	Confidence   float64 // P(candidat | ancre)
	Lift         float64
}

/*
RESULT → résumé renvoyé par chaque job.
*/

// JobResult contient le bilan d'une exécution de job.
type JobResult struct {
	RunID      string      `json:"run_id"`
	Job        string      `json:"job"`
	WindowDays int         `json:"window_days,omitempty"`
	CustomerID *int64      `json:"customer_id,omitempty"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
	Processed  int         `json:"processed"` // unités lues (clients, paires, lignes de stats)
	Written    int         `json:"written"`   // upserts effectués
	Skipped    int         `json:"skipped"`   // unités ignorées sans erreur
	Failed     int         `json:"failed"`    // lignes mal formées
	Preserved  int         `json:"preserved"` // alertes dont le statut humain est conservé
	Steps      []JobResult `json:"steps,omitempty"`
}

// Duration retourne la durée d'exécution.
func (r JobResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// PairRole indique de quel côté de la paire canonique se trouve l'ancre.
type PairRole int

const (
	RoleA PairRole = iota // l'ancre est ProductA, le candidat est ProductB
	RoleB                 // l'ancre est ProductB, le candidat est ProductA
)

// AssociationFilter restreint les associations utilisables par le générateur.
type AssociationFilter struct {
	WindowDays int
	MinSupport int
	MinLift    float64 // strictement supérieur
}

// LinkedProduct est une association lue avec le nom du produit opposé à l'ancre.
type LinkedProduct struct {
	Association ProductAssociation
	ProductName string
}
