package models

import (
	"testing"
	"time"

	"github.com/fintrack-labs/forecast_backend/utils"
)

func days(t *testing.T, occurrences []time.Time) []string {
	t.Helper()
	out := make([]string, len(occurrences))
	for i, d := range occurrences {
		out[i] = utils.CalendarDayString(d)
	}
	return out
}

func assertDays(t *testing.T, got []time.Time, want ...string) {
	t.Helper()
	gotDays := days(t, got)
	if len(gotDays) != len(want) {
		t.Fatalf("got %d occurrences %v, want %d %v", len(gotDays), gotDays, len(want), want)
	}
	for i := range want {
		if gotDays[i] != want[i] {
			t.Fatalf("occurrence %d = %s, want %s (all: %v)", i, gotDays[i], want[i], gotDays)
		}
	}
}

func TestOccurrencesMonthly(t *testing.T) {
	p := &RecurringPattern{
		Frequency:  FrequencyMonthly,
		DayOfMonth: utils.IntPtr(15),
		StartDate:  time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC),
	}
	got := p.Occurrences(mustDay(t, "2026-01-15"), mustDay(t, "2026-04-30"))
	assertDays(t, got, "2026-02-15", "2026-03-15", "2026-04-15")
}

// Day 31 in a short month rolls into the following month rather than
// clamping to its last day. The jump over February is a consequence of
// time.Date normalization and is intentional.
func TestOccurrencesMonthlyDay31Rollover(t *testing.T) {
	p := &RecurringPattern{
		Frequency:  FrequencyMonthly,
		DayOfMonth: utils.IntPtr(31),
		StartDate:  time.Date(2026, 1, 31, 12, 0, 0, 0, time.UTC),
	}
	got := p.Occurrences(mustDay(t, "2026-01-31"), mustDay(t, "2026-05-31"))
	assertDays(t, got, "2026-03-31", "2026-05-31")
}

// A biweekly pattern keeps its 14-day cadence anchored to the start date:
// starting Wednesday 2026-01-07 with occurrences on Mondays, the first one
// must be the next Monday on or after the start, then every second Monday.
func TestOccurrencesBiweeklyPhaseAlignment(t *testing.T) {
	p := &RecurringPattern{
		Frequency: FrequencyBiweekly,
		DayOfWeek: utils.IntPtr(1),
		StartDate: time.Date(2026, 1, 7, 12, 0, 0, 0, time.UTC),
	}
	got := p.Occurrences(mustDay(t, "2026-01-07"), mustDay(t, "2026-02-10"))
	assertDays(t, got, "2026-01-12", "2026-01-26", "2026-02-09")
}

// A window that opens mid-cadence must not reset the biweekly phase.
func TestOccurrencesBiweeklyLateWindowKeepsPhase(t *testing.T) {
	p := &RecurringPattern{
		Frequency: FrequencyBiweekly,
		DayOfWeek: utils.IntPtr(1),
		StartDate: time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC),
	}
	// cadence from start: Jan 5, Jan 19, Feb 2, Feb 16
	got := p.Occurrences(mustDay(t, "2026-01-25"), mustDay(t, "2026-02-20"))
	assertDays(t, got, "2026-02-02", "2026-02-16")
}

func TestOccurrencesWeeklyNeverRepeatsADay(t *testing.T) {
	p := &RecurringPattern{
		Frequency: FrequencyWeekly,
		DayOfWeek: utils.IntPtr(1),
		StartDate: time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC), // a Monday
	}
	got := p.Occurrences(mustDay(t, "2026-01-05"), mustDay(t, "2026-02-02"))
	assertDays(t, got, "2026-01-12", "2026-01-19", "2026-01-26", "2026-02-02")
	for i := 1; i < len(got); i++ {
		if utils.DaysBetween(got[i-1], got[i]) != 7 {
			t.Fatalf("stride between %v and %v is not 7 days", got[i-1], got[i])
		}
	}
}

func TestOccurrencesBoundedByPatternEndDate(t *testing.T) {
	endDate := mustDay(t, "2026-01-10")
	p := &RecurringPattern{
		Frequency: FrequencyDaily,
		StartDate: mustDay(t, "2026-01-01"),
		EndDate:   &endDate,
	}
	got := p.Occurrences(mustDay(t, "2026-01-01"), mustDay(t, "2026-03-01"))
	gotDays := days(t, got)
	if len(gotDays) != 9 {
		t.Fatalf("got %d occurrences, want 9: %v", len(gotDays), gotDays)
	}
	if last := gotDays[len(gotDays)-1]; last != "2026-01-10" {
		t.Fatalf("last occurrence %s exceeds pattern end date", last)
	}
}

func TestOccurrencesEmptyWhenWindowClosesBeforeStart(t *testing.T) {
	p := &RecurringPattern{
		Frequency:  FrequencyMonthly,
		DayOfMonth: utils.IntPtr(1),
		StartDate:  mustDay(t, "2026-06-01"),
	}
	if got := p.Occurrences(mustDay(t, "2026-01-01"), mustDay(t, "2026-03-01")); len(got) != 0 {
		t.Fatalf("expected no occurrences, got %v", days(t, got))
	}
}

func TestOccurrencesYearly(t *testing.T) {
	p := &RecurringPattern{
		Frequency:  FrequencyYearly,
		DayOfMonth: utils.IntPtr(20),
		StartDate:  mustDay(t, "2025-03-20"),
	}
	got := p.Occurrences(mustDay(t, "2026-03-20"), mustDay(t, "2027-12-31"))
	assertDays(t, got, "2027-03-20")
}
