package rental

import (
	"fmt"
	"time"
)

// Overlaps reports whether the half-open intervals [s1,e1) and [s2,e2) share
// at least one instant. Back-to-back intervals (e1 == s2) do not overlap, so
// a unit returned on a boundary can go out again the same instant.
func Overlaps(s1, e1, s2, e2 time.Time) bool {
	return s1.Before(e2) && s2.Before(e1)
}

// CheckWindow rejects malformed requests before any store access.
func CheckWindow(quantity int, start, end time.Time) error {
	if quantity < 1 {
		return fmt.Errorf("%w: quantity must be >= 1, got %d", ErrInvalidRange, quantity)
	}
	if !start.Before(end) {
		return fmt.Errorf("%w: start date must be before end date", ErrInvalidRange)
	}
	return nil
}

type Availability struct {
	Available      bool `json:"available"`
	AvailableUnits int  `json:"available_units"`
}

// AvailableUnits computes totalStock minus the quantity held by Active
// reservations overlapping [start, end). Cancelled and Completed reservations
// do not count. The result can go negative after an admin lowers totalStock
// below what is already reserved; existing reservations stay honored and
// callers clamp to zero for display.
func AvailableUnits(totalStock int, reservations []Reservation, start, end time.Time) int {
	reserved := 0
	for _, r := range reservations {
		if r.Status != ReservationActive {
			continue
		}
		if Overlaps(r.StartDate, r.EndDate, start, end) {
			reserved += r.Quantity
		}
	}
	return totalStock - reserved
}
