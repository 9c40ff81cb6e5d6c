package calculator

import "time"

// AvgDaysBetweenPurchases retourne (last-first)/(count-1) en jours arrondi à 0.1,
// ou nil si count <= 1 (intervalle non défini).
func AvgDaysBetweenPurchases(first, last time.Time, count int) *float64 {
	if count <= 1 {
		return nil
	}
	v := Round(DaysBetween(first, last)/float64(count-1), 1)
	return &v
}

// RepurchaseDue indique si le client a dépassé factor × sa cadence habituelle.
func RepurchaseDue(avgDays float64, lastPurchase, now time.Time, factor float64) (float64, bool) {
	since := DaysBetween(lastPurchase, now)
	return since, since > factor*avgDays
}
