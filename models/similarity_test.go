package models

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestNormalizeMerchantName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"  NETFLIX.COM *Premium  ", "netflixcom premium"},
		{"Fresh   Mart #1042", "fresh mart 1042"},
		{"SPOTIFY", "spotify"},
		{"***", ""},
		{"", ""},
		{"Café Olé", "caf ol"},
	}
	for _, tc := range cases {
		if got := NormalizeMerchantName(tc.in); got != tc.want {
			t.Errorf("NormalizeMerchantName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestAmountsSimilar(t *testing.T) {
	cases := []struct {
		a, b      float64
		tolerance float64
		want      bool
	}{
		{100, 105, 0.10, true},
		{100, 120, 0.10, false},
		{15.99, 16.99, 0.10, true},
		{0, 0, 0.10, true},
		{0, 5, 0.10, false},
		{100, 110, 0.10, true},
	}
	for _, tc := range cases {
		got := AmountsSimilar(decimal.NewFromFloat(tc.a), decimal.NewFromFloat(tc.b), tc.tolerance)
		if got != tc.want {
			t.Errorf("AmountsSimilar(%v, %v, %v) = %v, want %v", tc.a, tc.b, tc.tolerance, got, tc.want)
		}
	}
}
