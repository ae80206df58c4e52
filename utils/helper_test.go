package utils

import (
	"testing"
	"time"
)

func TestPinCalendarDay(t *testing.T) {
	// late evening in a west-of-UTC zone must stay on the same calendar day
	loc := time.FixedZone("UTC-5", -5*3600)
	in := time.Date(2026, 3, 14, 23, 30, 0, 0, loc)
	pinned := PinCalendarDay(in)
	if pinned.Hour() != 12 || pinned.Location() != time.UTC {
		t.Fatalf("pinned = %v, want noon UTC", pinned)
	}
	if CalendarDayString(pinned) != "2026-03-15" {
		t.Fatalf("pinned day = %s, want the UTC day of the instant", CalendarDayString(pinned))
	}
}

func TestParseCalendarDay(t *testing.T) {
	day, err := ParseCalendarDay("2026-02-28")
	if err != nil {
		t.Fatalf("ParseCalendarDay: %v", err)
	}
	if CalendarDayString(day) != "2026-02-28" {
		t.Errorf("round trip = %s", CalendarDayString(day))
	}
	if day.Hour() != 12 {
		t.Errorf("parsed day pinned to hour %d, want 12", day.Hour())
	}

	if _, err := ParseCalendarDay("28/02/2026"); err == nil {
		t.Error("expected error for non ISO date")
	}
	if _, err := ParseCalendarDay(""); err == nil {
		t.Error("expected error for empty date")
	}
}

func TestDaysBetween(t *testing.T) {
	a, _ := ParseCalendarDay("2026-01-01")
	b, _ := ParseCalendarDay("2026-01-31")
	if got := DaysBetween(a, b); got != 30 {
		t.Errorf("DaysBetween = %v, want 30", got)
	}
	if got := DaysBetween(b, a); got != -30 {
		t.Errorf("reversed DaysBetween = %v, want -30", got)
	}
}

func TestClamp01(t *testing.T) {
	cases := map[float64]float64{-0.5: 0, 0: 0, 0.42: 0.42, 1: 1, 1.7: 1}
	for in, want := range cases {
		if got := Clamp01(in); got != want {
			t.Errorf("Clamp01(%v) = %v, want %v", in, got, want)
		}
	}
}
