package database

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"sales-insights/pkg/models"
)

// MemoryLine est une ligne de commande brute pour MemoryStore. Chaîne vide = NULL.
type MemoryLine struct {
	ProductID int64
	Quantity  string
	UnitPrice string
	LineTotal string
}

type memoryLine struct {
	seq     int
	orderID int64
	MemoryLine
}

type pairKey struct{ a, b int64 }

type associationKey struct {
	a, b   int64
	window int
}

type alertKey struct {
	customerID int64
	productID  int64
	hasProduct bool
	alertType  string
}

// MemoryStore implémente ports.Store en mémoire (tests, démonstrations).
type MemoryStore struct {
	mu sync.RWMutex

	products map[int64]models.Product
	orders   []models.OrderRow
	lines    []memoryLine

	customerStats   map[int64]models.CustomerStats
	productStats    map[pairKey]models.CustomerProductStats
	associations    map[associationKey]models.ProductAssociation
	recommendations map[pairKey]models.Recommendation
	alerts          map[alertKey]models.SalesAlert
	nextAlertID     int64

	pingErr error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products:        map[int64]models.Product{},
		customerStats:   map[int64]models.CustomerStats{},
		productStats:    map[pairKey]models.CustomerProductStats{},
		associations:    map[associationKey]models.ProductAssociation{},
		recommendations: map[pairKey]models.Recommendation{},
		alerts:          map[alertKey]models.SalesAlert{},
	}
}

/*
SEED → alimentation des tables source.
*/

func (s *MemoryStore) AddProduct(p models.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

// AddOrder ajoute une commande datée et ses lignes. total vide = NULL.
func (s *MemoryStore) AddOrder(id, customerID int64, date time.Time, total string, lines ...MemoryLine) {
	s.AddOrderRow(models.OrderRow{
		ID:         id,
		CustomerID: customerID,
		OrderDate:  sql.NullTime{Time: date.UTC(), Valid: !date.IsZero()},
		TotalValue: nullString(total),
	}, lines...)
}

// AddOrderRow ajoute une commande brute, utile pour simuler des lignes mal formées.
func (s *MemoryStore) AddOrderRow(row models.OrderRow, lines ...MemoryLine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = append(s.orders, row)
	for _, l := range lines {
		s.lines = append(s.lines, memoryLine{seq: len(s.lines) + 1, orderID: row.ID, MemoryLine: l})
	}
}

// FailPing force l'erreur renvoyée par Ping.
func (s *MemoryStore) FailPing(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pingErr = err
}

func (s *MemoryStore) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pingErr
}

/*
READ → parcours des données source. Les callbacks sont appelés hors verrou.
*/

func (s *MemoryStore) EachOrder(ctx context.Context, fn func(models.OrderRow) error) error {
	s.mu.RLock()
	rows := append([]models.OrderRow(nil), s.orders...)
	s.mu.RUnlock()

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].CustomerID != rows[j].CustomerID {
			return rows[i].CustomerID < rows[j].CustomerID
		}
		if !rows[i].OrderDate.Time.Equal(rows[j].OrderDate.Time) {
			return rows[i].OrderDate.Time.Before(rows[j].OrderDate.Time)
		}
		return rows[i].ID < rows[j].ID
	})
	for _, r := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) EachOrderLine(ctx context.Context, since, until time.Time, fn func(models.OrderLineRow) error) error {
	s.mu.RLock()
	rows := s.lineRows(since, until)
	s.mu.RUnlock()

	for _, r := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

// lineRows joint les lignes à leur commande, comme le JOIN SQL. Verrou en lecture requis.
func (s *MemoryStore) lineRows(since, until time.Time) []models.OrderLineRow {
	byID := make(map[int64]models.OrderRow, len(s.orders))
	for _, o := range s.orders {
		byID[o.ID] = o
	}
	var out []models.OrderLineRow
	for _, l := range s.lines {
		o, ok := byID[l.orderID]
		if !ok {
			continue
		}
		if !since.IsZero() && (!o.OrderDate.Valid || o.OrderDate.Time.Before(since)) {
			continue
		}
		if !until.IsZero() && (!o.OrderDate.Valid || o.OrderDate.Time.After(until)) {
			continue
		}
		out = append(out, models.OrderLineRow{
			OrderID:    o.ID,
			CustomerID: o.CustomerID,
			OrderDate:  o.OrderDate,
			ProductID:  l.ProductID,
			Quantity:   nullString(l.Quantity),
			UnitPrice:  nullString(l.UnitPrice),
			LineTotal:  nullString(l.LineTotal),
		})
	}
	return out
}

func (s *MemoryStore) CustomerIDsWithOrders(context.Context) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[int64]bool{}
	var out []int64
	for _, o := range s.orders {
		if !seen[o.CustomerID] {
			seen[o.CustomerID] = true
			out = append(out, o.CustomerID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *MemoryStore) RecentPurchases(_ context.Context, customerID int64, since, until time.Time) ([]models.Anchor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	latest := map[int64]models.Anchor{}
	for _, r := range s.lineRows(since, until) {
		if r.CustomerID != customerID || !r.OrderDate.Valid {
			continue
		}
		a, ok := latest[r.ProductID]
		if !ok || r.OrderDate.Time.After(a.LastPurchasedAt) {
			latest[r.ProductID] = models.Anchor{
				ProductID:       r.ProductID,
				Name:            s.products[r.ProductID].Name,
				LastPurchasedAt: r.OrderDate.Time.UTC(),
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

func (s *MemoryStore) RecentUnitPrices(_ context.Context, productID int64, until time.Time, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byID := make(map[int64]models.OrderRow, len(s.orders))
	for _, o := range s.orders {
		byID[o.ID] = o
	}
	type sample struct {
		date  time.Time
		seq   int
		price string
	}
	var samples []sample
	for _, l := range s.lines {
		if l.ProductID != productID || l.UnitPrice == "" {
			continue
		}
		date := byID[l.orderID].OrderDate.Time
		if !until.IsZero() && date.After(until) {
			continue
		}
		samples = append(samples, sample{date: date, seq: l.seq, price: l.UnitPrice})
	}
	sort.Slice(samples, func(i, j int) bool {
		if !samples[i].date.Equal(samples[j].date) {
			return samples[i].date.After(samples[j].date)
		}
		return samples[i].seq > samples[j].seq
	})
	if len(samples) > limit {
		samples = samples[:limit]
	}
	out := make([]string, 0, len(samples))
	for _, sm := range samples {
		out = append(out, sm.price)
	}
	return out, nil
}

/*
WRITE → upserts par clé naturelle.
*/

func (s *MemoryStore) UpsertCustomerStats(_ context.Context, r models.CustomerStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customerStats[r.CustomerID] = r
	return nil
}

func (s *MemoryStore) UpsertCustomerProductStats(_ context.Context, r models.CustomerProductStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.productStats[pairKey{r.CustomerID, r.ProductID}] = r
	return nil
}

func (s *MemoryStore) EachRepurchaseCandidate(ctx context.Context, fn func(models.CustomerProductStats) error) error {
	s.mu.RLock()
	var rows []models.CustomerProductStats
	for _, r := range s.productStats {
		if r.PurchasesCount >= 2 && r.AvgDaysBetweenPurchases != nil {
			rows = append(rows, r)
		}
	}
	s.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].CustomerID != rows[j].CustomerID {
			return rows[i].CustomerID < rows[j].CustomerID
		}
		return rows[i].ProductID < rows[j].ProductID
	})
	for _, r := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) UpsertAssociation(_ context.Context, r models.ProductAssociation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.associations[associationKey{r.ProductA, r.ProductB, r.WindowDays}] = r
	return nil
}

func (s *MemoryStore) Associations(_ context.Context, productID int64, role models.PairRole, f models.AssociationFilter) ([]models.LinkedProduct, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.LinkedProduct
	for _, a := range s.associations {
		anchor, other := a.ProductA, a.ProductB
		if role == models.RoleB {
			anchor, other = a.ProductB, a.ProductA
		}
		if anchor != productID || a.WindowDays != f.WindowDays || a.SupportCount < f.MinSupport || a.Lift <= f.MinLift {
			continue
		}
		p, ok := s.products[other]
		if !ok || !p.Active {
			continue
		}
		out = append(out, models.LinkedProduct{Association: a, ProductName: p.Name})
	}
	otherID := func(lp models.LinkedProduct) int64 {
		if role == models.RoleB {
			return lp.Association.ProductA
		}
		return lp.Association.ProductB
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Association.Lift != out[j].Association.Lift {
			return out[i].Association.Lift > out[j].Association.Lift
		}
		return otherID(out[i]) < otherID(out[j])
	})
	return out, nil
}

func (s *MemoryStore) UpsertRecommendation(_ context.Context, r models.Recommendation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recommendations[pairKey{r.CustomerID, r.ProductID}] = r
	return nil
}

func (s *MemoryStore) ActiveRecommendations(_ context.Context, customerID int64, now time.Time) ([]models.Recommendation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Recommendation
	for _, r := range s.recommendations {
		if r.CustomerID == customerID && r.Active(now) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ProductID < out[j].ProductID
	})
	return out, nil
}

func (s *MemoryStore) UpsertAlert(_ context.Context, r models.SalesAlert) (models.AlertOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := keyOfAlert(r.CustomerID, r.ProductID, r.AlertType)
	existing, ok := s.alerts[key]
	switch {
	case !ok:
		s.nextAlertID++
		r.ID = s.nextAlertID
		r.Status = models.AlertOpen
		s.alerts[key] = r
		return models.AlertInserted, nil
	case existing.Status == models.AlertOpen:
		existing.Message = r.Message
		existing.UpdatedAt = r.UpdatedAt
		s.alerts[key] = existing
		return models.AlertRefreshed, nil
	default:
		return models.AlertPreserved, nil
	}
}

func (s *MemoryStore) SetAlertStatus(_ context.Context, customerID, productID int64, alertType string, status models.AlertStatus, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := keyOfAlert(customerID, &productID, alertType)
	a, ok := s.alerts[key]
	if !ok {
		return ErrNotFound
	}
	a.Status = status
	a.UpdatedAt = now
	s.alerts[key] = a
	return nil
}

/*
INSPECT → lecture des tables produites (tests).
*/

func (s *MemoryStore) CustomerStats(customerID int64) (models.CustomerStats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.customerStats[customerID]
	return r, ok
}

func (s *MemoryStore) ProductStats(customerID, productID int64) (models.CustomerProductStats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.productStats[pairKey{customerID, productID}]
	return r, ok
}

func (s *MemoryStore) Association(a, b int64, windowDays int) (models.ProductAssociation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.associations[associationKey{a, b, windowDays}]
	return r, ok
}

// AllAssociations retourne toutes les paires, triées par clé.
func (s *MemoryStore) AllAssociations() []models.ProductAssociation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ProductAssociation, 0, len(s.associations))
	for _, a := range s.associations {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProductA != out[j].ProductA {
			return out[i].ProductA < out[j].ProductA
		}
		if out[i].ProductB != out[j].ProductB {
			return out[i].ProductB < out[j].ProductB
		}
		return out[i].WindowDays < out[j].WindowDays
	})
	return out
}

// Recommendation retourne la ligne stockée, expirée ou non.
func (s *MemoryStore) Recommendation(customerID, productID int64) (models.Recommendation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.recommendations[pairKey{customerID, productID}]
	return r, ok
}

func (s *MemoryStore) RecommendationCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.recommendations)
}

func (s *MemoryStore) Alert(customerID, productID int64, alertType string) (models.SalesAlert, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.alerts[keyOfAlert(customerID, &productID, alertType)]
	return r, ok
}

func (s *MemoryStore) AlertCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.alerts)
}

func keyOfAlert(customerID int64, productID *int64, alertType string) alertKey {
	k := alertKey{customerID: customerID, alertType: alertType}
	if productID != nil {
		k.productID = *productID
		k.hasProduct = true
	}
	return k
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
