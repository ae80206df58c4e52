package models

import (
	"time"

	"github.com/fintrack-labs/forecast_backend/utils"
)

// Occurrences expands the pattern into the calendar days on which it recurs
// inside [windowStart, windowEnd], bounded further by the pattern's own end
// date. Results are ascending pinned calendar days.
//
// Every frequency steps from max(windowStart, startDate) and emits each
// computed next date until one falls past the bound. Biweekly is the
// exception: its cadence is phase-aligned to the pattern start date, so the
// first candidate is derived from startDate and stepped forward in whole
// 14-day strides until it reaches the window.
//
// Month-based stepping clamps to DayOfMonth via time.Date, which normalizes
// out-of-range days by rolling into the following month (day 31 in a 30-day
// month lands on the 1st). That rollover is deliberate and pinned by tests.
func (p *RecurringPattern) Occurrences(windowStart, windowEnd time.Time) []time.Time {
	end := utils.PinCalendarDay(windowEnd)
	if p.EndDate != nil {
		if patternEnd := utils.PinCalendarDay(*p.EndDate); patternEnd.Before(end) {
			end = patternEnd
		}
	}
	start := utils.PinCalendarDay(windowStart)
	if patternStart := utils.PinCalendarDay(p.StartDate); patternStart.After(start) {
		start = patternStart
	}

	var out []time.Time

	if p.Frequency == FrequencyBiweekly {
		cur := utils.PinCalendarDay(p.StartDate)
		if p.DayOfWeek != nil {
			cur = weekdayOnOrAfter(cur, *p.DayOfWeek)
		} else if start.After(cur) {
			cur = start
		}
		windowFloor := utils.PinCalendarDay(windowStart)
		for cur.Before(windowFloor) {
			cur = cur.AddDate(0, 0, 14)
		}
		for !cur.After(end) {
			out = append(out, cur)
			cur = cur.AddDate(0, 0, 14)
		}
		return out
	}

	cur := start
	for {
		next := p.step(cur)
		if next.After(end) {
			break
		}
		out = append(out, next)
		cur = next
	}
	return out
}

func (p *RecurringPattern) step(cur time.Time) time.Time {
	switch p.Frequency {
	case FrequencyDaily:
		return cur.AddDate(0, 0, 1)
	case FrequencyWeekly:
		if p.DayOfWeek != nil {
			return weekdayAfter(cur, *p.DayOfWeek)
		}
		return cur.AddDate(0, 0, 7)
	case FrequencyMonthly:
		return p.stepMonths(cur, 1)
	case FrequencyQuarterly:
		return p.stepMonths(cur, 3)
	case FrequencyYearly:
		return p.stepMonths(cur, 12)
	}
	return cur.AddDate(0, 0, 1)
}

func (p *RecurringPattern) stepMonths(cur time.Time, months int) time.Time {
	next := cur.AddDate(0, months, 0)
	if p.DayOfMonth != nil {
		next = time.Date(next.Year(), next.Month(), *p.DayOfMonth,
			next.Hour(), 0, 0, 0, time.UTC)
	}
	return next
}

// weekdayAfter returns the next occurrence of dow strictly after t: a date
// already on dow advances a full 7 days, so the same day is never emitted
// twice.
func weekdayAfter(t time.Time, dow int) time.Time {
	days := (dow - int(t.UTC().Weekday()) + 7) % 7
	if days == 0 {
		days = 7
	}
	return t.AddDate(0, 0, days)
}

// weekdayOnOrAfter returns t itself when it already falls on dow.
func weekdayOnOrAfter(t time.Time, dow int) time.Time {
	days := (dow - int(t.UTC().Weekday()) + 7) % 7
	return t.AddDate(0, 0, days)
}
