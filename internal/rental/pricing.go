package rental

import "time"

const pricingDay = 24 * time.Hour

// RentalDays counts billable days for [start, end), rounding partial days up.
func RentalDays(start, end time.Time) int {
	d := end.Sub(start)
	days := int((d + pricingDay - 1) / pricingDay)
	if days < 1 {
		days = 1
	}
	return days
}

// LinePriceCents prices a rental window against the product tiers: whole
// 30-day months first, then 7-day weeks, then days, times quantity. Computed
// server-side at commit; client-sent amounts are never trusted.
func LinePriceCents(p Product, quantity int, start, end time.Time) int {
	days := RentalDays(start, end)
	months := days / 30
	rem := days % 30
	weeks := rem / 7
	rem = rem % 7
	unit := months*p.MonthCents + weeks*p.WeekCents + rem*p.DayCents
	return unit * quantity
}
