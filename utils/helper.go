package utils

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
)

// Calendar dates crossing the API boundary are plain YYYY-MM-DD strings and must
// mean that exact day regardless of server/client timezone. We pin every such
// date to 12:00 UTC so no conversion can shift it across midnight.
const calendarDayHourUTC = 12

// PinCalendarDay normalizes t to the canonical stored time-of-day (12:00 UTC)
// for its calendar day.
func PinCalendarDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), calendarDayHourUTC, 0, 0, 0, time.UTC)
}

// ParseCalendarDay parses a YYYY-MM-DD string into a pinned calendar day.
func ParseCalendarDay(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, errors.New("invalid date, expected YYYY-MM-DD")
	}
	return PinCalendarDay(t), nil
}

// CalendarDayString renders a pinned date back to its YYYY-MM-DD form. Day
// comparisons throughout the forecast engine happen on these strings, never on
// instants.
func CalendarDayString(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// DaysBetween returns the (possibly fractional) number of days from a to b.
func DaysBetween(a, b time.Time) float64 {
	return b.Sub(a).Hours() / 24
}

func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func NewTrue() *bool {
	b := true
	return &b
}

func NewFalse() *bool {
	b := false
	return &b
}

func IntPtr(v int) *int {
	return &v
}

func ProcessValidationErrors(err error) map[string]string {
	errorResponse := make(map[string]string)

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		errorResponse["request"] = err.Error()
		return errorResponse
	}

	for _, ve := range validationErrors {
		errorResponse[ve.Field()] = ve.Tag()
	}

	return errorResponse
}
