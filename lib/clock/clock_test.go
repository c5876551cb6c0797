package clock

import (
	"testing"
	"time"
)

func TestMonthStart(t *testing.T) {
	loc := Location("Europe/Lisbon", "")
	now := time.Date(2024, 3, 15, 10, 30, 0, 0, loc)
	got := MonthStart(now, loc)
	want := time.Date(2024, 3, 1, 0, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestMonthStartUsesLocalCalendar(t *testing.T) {
	loc := Location("America/Sao_Paulo", "")
	// 02:00 UTC on April 1st is still March 31st in Sao Paulo.
	now := time.Date(2024, 4, 1, 2, 0, 0, 0, time.UTC)
	got := MonthStart(now, loc)
	if got.Month() != time.March || got.Day() != 1 {
		t.Fatalf("expected March 1st in local time, got %v", got)
	}
}

func TestWeekStart(t *testing.T) {
	loc := time.UTC
	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"monday", time.Date(2024, 3, 11, 9, 0, 0, 0, loc), time.Date(2024, 3, 11, 0, 0, 0, 0, loc)},
		{"wednesday", time.Date(2024, 3, 13, 23, 59, 0, 0, loc), time.Date(2024, 3, 11, 0, 0, 0, 0, loc)},
		{"sunday", time.Date(2024, 3, 17, 12, 0, 0, 0, loc), time.Date(2024, 3, 11, 0, 0, 0, 0, loc)},
		{"across month", time.Date(2024, 3, 2, 12, 0, 0, 0, loc), time.Date(2024, 2, 26, 0, 0, 0, 0, loc)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := WeekStart(tt.now, loc)
			if !got.Equal(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestLocationFallback(t *testing.T) {
	if loc := Location("Not/AZone", "Europe/Lisbon"); loc.String() != "Europe/Lisbon" {
		t.Fatalf("expected fallback zone, got %s", loc)
	}
	if loc := Location("", ""); loc != time.UTC {
		t.Fatalf("expected UTC, got %s", loc)
	}
}
