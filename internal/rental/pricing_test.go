package rental

import (
	"testing"
	"time"
)

func TestRentalDays(t *testing.T) {
	if got := RentalDays(day(1), day(2)); got != 1 {
		t.Errorf("one day: got %d", got)
	}
	if got := RentalDays(day(1), day(8)); got != 7 {
		t.Errorf("seven days: got %d", got)
	}
	// partial days round up
	halfDay := day(1).Add(36 * time.Hour)
	if got := RentalDays(day(1), halfDay); got != 2 {
		t.Errorf("1.5 days: got %d, want 2", got)
	}
}

func TestLinePriceCents(t *testing.T) {
	p := Product{DayCents: 1000, WeekCents: 5000, MonthCents: 15000}

	cases := []struct {
		name     string
		qty      int
		startDay int
		endDay   int
		want     int
	}{
		{"one day", 1, 1, 2, 1000},
		{"three days", 1, 1, 4, 3000},
		{"exactly a week", 1, 1, 8, 5000},
		{"week plus three days", 1, 1, 11, 8000},
		{"exactly a month", 1, 1, 31, 15000},
		{"two units, two days", 2, 1, 3, 4000},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := LinePriceCents(p, c.qty, day(c.startDay), day(c.endDay))
			if got != c.want {
				t.Errorf("got %d, want %d", got, c.want)
			}
		})
	}
}

func TestLinePriceCents_MonthWeekDayMix(t *testing.T) {
	p := Product{DayCents: 1000, WeekCents: 5000, MonthCents: 15000}
	// 45 days = 1 month + 2 weeks + 1 day
	got := LinePriceCents(p, 1, day(1), day(1).Add(45*24*time.Hour))
	want := 15000 + 2*5000 + 1000
	if got != want {
		t.Errorf("45 days: got %d, want %d", got, want)
	}
}
