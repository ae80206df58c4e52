package models

import (
	"errors"

	"github.com/shopspring/decimal"
)

type Frequency string

const (
	FrequencyDaily     Frequency = "daily"
	FrequencyWeekly    Frequency = "weekly"
	FrequencyBiweekly  Frequency = "biweekly"
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
	FrequencyYearly    Frequency = "yearly"
)

func (f Frequency) IsValid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyBiweekly,
		FrequencyMonthly, FrequencyQuarterly, FrequencyYearly:
		return true
	}
	return false
}

// UsesDayOfWeek reports whether the frequency carries a day-of-week phase.
func (f Frequency) UsesDayOfWeek() bool {
	return f == FrequencyWeekly || f == FrequencyBiweekly
}

// UsesDayOfMonth reports whether the frequency carries a day-of-month phase.
func (f Frequency) UsesDayOfMonth() bool {
	return f == FrequencyMonthly || f == FrequencyQuarterly || f == FrequencyYearly
}

// ReferenceDays is the nominal interval length used as the confidence
// denominator. Daily has no fixed reference; callers use the observed mean.
func (f Frequency) ReferenceDays() float64 {
	switch f {
	case FrequencyWeekly:
		return 7
	case FrequencyBiweekly:
		return 14
	case FrequencyMonthly:
		return 30
	case FrequencyQuarterly:
		return 90
	case FrequencyYearly:
		return 365
	}
	return 0
}

// MinOccurrences is the member-count baseline for the occurrence bonus.
func (f Frequency) MinOccurrences() int {
	if f == FrequencyMonthly || f == FrequencyQuarterly {
		return 3
	}
	return 2
}

type TransactionType string

const (
	TransactionTypeIncome  TransactionType = "income"
	TransactionTypeExpense TransactionType = "expense"
)

func (t TransactionType) IsValid() bool {
	return t == TransactionTypeIncome || t == TransactionTypeExpense
}

// Apply signs a positive magnitude according to the universal sign convention:
// positive = inflow, negative = outflow.
func (t TransactionType) Apply(magnitude decimal.Decimal) decimal.Decimal {
	if t == TransactionTypeExpense {
		return magnitude.Abs().Neg()
	}
	return magnitude.Abs()
}

type BankAccountType string

const (
	BankAccountTypeChecking BankAccountType = "checking"
	BankAccountTypeSavings  BankAccountType = "savings"
	BankAccountTypeCredit   BankAccountType = "credit"
)

func (t BankAccountType) IsValid() bool {
	switch t {
	case BankAccountTypeChecking, BankAccountTypeSavings, BankAccountTypeCredit:
		return true
	}
	return false
}

type SyncRunStatus string

const (
	SyncRunStatusPending SyncRunStatus = "pending"
	SyncRunStatusRunning SyncRunStatus = "running"
	SyncRunStatusSuccess SyncRunStatus = "success"
	SyncRunStatusPartial SyncRunStatus = "partial"
	SyncRunStatusFailed  SyncRunStatus = "failed"
)

var errInvalidFrequency = errors.New("invalid frequency")
var errInvalidTransactionType = errors.New("invalid transaction type")
