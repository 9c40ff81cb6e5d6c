package calculator

import (
	"sort"
)

// Pair est une paire canonique de produits (A < B).
type Pair struct {
	A int64
	B int64
}

// NewPair ordonne les deux identifiants pour que le plus petit soit A.
func NewPair(x, y int64) Pair {
	if x > y {
		x, y = y, x
	}
	return Pair{A: x, B: y}
}

// BasketPairs retourne les paires canoniques d'un panier.
// Les doublons du panier (même produit sur deux lignes) sont ignorés.
func BasketPairs(products []int64) []Pair {
	uniq := distinct(products)
	if len(uniq) < 2 {
		return nil
	}
	out := make([]Pair, 0, len(uniq)*(len(uniq)-1)/2)
	for i := 0; i < len(uniq); i++ {
		for j := i + 1; j < len(uniq); j++ {
			out = append(out, Pair{A: uniq[i], B: uniq[j]})
		}
	}
	return out
}

func distinct(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Metrics regroupe les indicateurs d'une paire.
type Metrics struct {
	Support    float64
	Confidence float64 // P(B | A)
	Lift       float64
	Leverage   float64
}

// AssociationMetrics calcule support / confiance / lift / leverage.
// ok=false si un dénominateur est nul : la paire ne doit pas être stockée.
func AssociationMetrics(abCount, aCount, bCount, nOrders int) (Metrics, bool) {
	if nOrders <= 0 || aCount <= 0 || bCount <= 0 {
		return Metrics{}, false
	}
	n := float64(nOrders)
	support := float64(abCount) / n
	confidence := float64(abCount) / float64(aCount)
	pA := float64(aCount) / n
	pB := float64(bCount) / n
	return Metrics{
		Support:    support,
		Confidence: confidence,
		Lift:       confidence / pB,
		Leverage:   support - pA*pB,
	}, true
}
