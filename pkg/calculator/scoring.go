package calculator

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Pondérations du score de recommandation (somme = 1).
const (
	weightLift      = 0.5
	weightRecency   = 0.3
	weightPotential = 0.2

	liftFloor   = 1.0
	liftCeiling = 3.0

	recencyFullDays = 30.0
	recencyZeroDays = 90.0

	priceCeiling     = 1000.0
	defaultPotential = 0.5
)

// Score détaille le calcul pour l'audit.
type Score struct {
	NormLift       float64
	RecencyDays    float64
	RecencyWeight  float64
	PotentialValue float64
	Value          float64
}

// Clamp borne v dans [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Norm ramène v de [min, max] vers [0, 1] avec saturation.
func Norm(v, min, max float64) float64 {
	if max <= min {
		return 0
	}
	return Clamp((v-min)/(max-min), 0, 1)
}

// Round arrondit à places décimales.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// DaysBetween retourne le nombre de jours (fractionnaire) entre from et to.
func DaysBetween(from, to time.Time) float64 {
	return to.Sub(from).Hours() / 24
}

// RecencyWeight vaut 1 sous 30 jours, 0 au-delà de 90, linéaire entre les deux.
func RecencyWeight(days float64) float64 {
	switch {
	case days < recencyFullDays:
		return 1
	case days > recencyZeroDays:
		return 0
	default:
		return 1 - (days-recencyFullDays)/(recencyZeroDays-recencyFullDays)
	}
}

// AveragePrice retourne la moyenne des échantillons, ok=false s'il n'y en a aucun.
func AveragePrice(samples []decimal.Decimal) (float64, bool) {
	if len(samples) == 0 {
		return 0, false
	}
	avg := decimal.Avg(samples[0], samples[1:]...)
	f, _ := avg.Float64()
	return f, true
}

// RecommendationScore combine lift, récence de l'ancre et valeur potentielle du candidat.
// avgPrice nil = pas d'échantillon de prix, la valeur potentielle vaut alors 0.5.
func RecommendationScore(lift float64, anchorLastPurchase, now time.Time, avgPrice *float64) Score {
	s := Score{
		NormLift:       Norm(lift, liftFloor, liftCeiling),
		RecencyDays:    Clamp(DaysBetween(anchorLastPurchase, now), 0, recencyZeroDays),
		PotentialValue: defaultPotential,
	}
	s.RecencyWeight = RecencyWeight(s.RecencyDays)
	if avgPrice != nil {
		s.PotentialValue = Norm(*avgPrice, 0, priceCeiling)
	}
	s.Value = Round(weightLift*s.NormLift+weightRecency*s.RecencyWeight+weightPotential*s.PotentialValue, 3)
	return s
}
