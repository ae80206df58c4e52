package models

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultAmountTolerance is the relative slack used when grouping
// transactions by amount and when matching amounts during reconciliation.
const DefaultAmountTolerance = 0.10

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	nonAlnumSpace = regexp.MustCompile(`[^a-z0-9 ]`)
)

// NormalizeMerchantName canonicalizes a transaction display name into the
// grouping key used everywhere merchant identity matters. The result is a
// key, never a display value: lowercase, whitespace collapsed, everything
// outside [a-z0-9 ] stripped, trimmed.
func NormalizeMerchantName(name string) string {
	s := strings.ToLower(name)
	s = whitespaceRun.ReplaceAllString(s, " ")
	s = nonAlnumSpace.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// AmountsSimilar reports whether two magnitudes are within a relative
// tolerance of each other: |a-b| <= tolerance * avg(|a|,|b|). The tolerance is
// relative rather than absolute on purpose: a $5 monthly fee and a $5000
// payment need different absolute slack. Two zero amounts are similar; a zero
// and a non-zero amount never are.
func AmountsSimilar(a, b decimal.Decimal, tolerance float64) bool {
	if a.IsZero() && b.IsZero() {
		return true
	}
	diff := a.Sub(b).Abs()
	avg := a.Abs().Add(b.Abs()).Div(decimal.NewFromInt(2))
	return diff.LessThanOrEqual(avg.Mul(decimal.NewFromFloat(tolerance)))
}
