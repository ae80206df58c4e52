package models

import (
	"context"
	"errors"
	"time"

	"github.com/fintrack-labs/forecast_backend/config"
	"github.com/fintrack-labs/forecast_backend/utils"
	"github.com/shopspring/decimal"
)

// RecurringPattern is a detected or user-declared recurring transaction
// template. Amount is always stored positive; the sign of generated
// occurrences is derived from TransactionType. Exactly one of DayOfMonth and
// DayOfWeek is populated depending on the frequency class (daily carries no
// phase, so both are nil).
type RecurringPattern struct {
	ID              int             `gorm:"primary_key" json:"id"`
	UserId          int             `gorm:"index;not null" json:"user_id"`
	BankAccountId   int             `gorm:"index;not null" json:"bank_account_id"`
	Name            string          `gorm:"size:255;not null" json:"name"`
	MerchantKey     string          `gorm:"size:255;index" json:"merchant_key"`
	Amount          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"amount"`
	AmountTolerance float64         `gorm:"default:0.1" json:"amount_tolerance"`
	Frequency       Frequency       `gorm:"size:12;not null" json:"frequency"`
	DayOfMonth      *int            `gorm:"default:null" json:"day_of_month"`
	DayOfWeek       *int            `gorm:"default:null" json:"day_of_week"`
	StartDate       time.Time       `gorm:"not null" json:"start_date"`
	EndDate         *time.Time      `gorm:"default:null" json:"end_date"`
	TransactionType TransactionType `gorm:"size:12;not null" json:"transaction_type"`
	Confidence      float64         `gorm:"default:0" json:"confidence"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (p RecurringPattern) GetId() int {
	return p.ID
}

// normalizePhase enforces the exactly-one-phase invariant for the pattern's
// frequency class, deriving missing phase values from the start date.
func (p *RecurringPattern) normalizePhase() {
	switch {
	case p.Frequency.UsesDayOfMonth():
		p.DayOfWeek = nil
		if p.DayOfMonth == nil {
			p.DayOfMonth = utils.IntPtr(p.StartDate.UTC().Day())
		}
	case p.Frequency.UsesDayOfWeek():
		p.DayOfMonth = nil
		if p.DayOfWeek == nil {
			p.DayOfWeek = utils.IntPtr(int(p.StartDate.UTC().Weekday()))
		}
	default:
		p.DayOfMonth = nil
		p.DayOfWeek = nil
	}
}

func (p *RecurringPattern) validate() error {
	if !p.Frequency.IsValid() {
		return errInvalidFrequency
	}
	if !p.TransactionType.IsValid() {
		return errInvalidTransactionType
	}
	if p.DayOfMonth != nil && (*p.DayOfMonth < 1 || *p.DayOfMonth > 31) {
		return errors.New("day of month must be between 1 and 31")
	}
	if p.DayOfWeek != nil && (*p.DayOfWeek < 0 || *p.DayOfWeek > 6) {
		return errors.New("day of week must be between 0 and 6")
	}
	if p.EndDate != nil && p.EndDate.Before(p.StartDate) {
		return errors.New("end date must not precede start date")
	}
	return nil
}

type NewPatternFromTransaction struct {
	Frequency  Frequency        `json:"frequency" binding:"required"`
	Amount     *decimal.Decimal `json:"amount"`
	Name       string           `json:"name"`
	DayOfMonth *int             `json:"day_of_month"`
	DayOfWeek  *int             `json:"day_of_week"`
	EndDate    *string          `json:"end_date"`
}

// CreatePatternFromTransaction promotes one historical transaction into a
// user-declared recurring pattern so future forecasts project it.
func CreatePatternFromTransaction(ctx context.Context, transactionId int, input *NewPatternFromTransaction) (*RecurringPattern, error) {
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}

	txn, err := utils.FetchModel[Transaction](ctx, userId, transactionId)
	if err != nil {
		return nil, err
	}

	name := input.Name
	if name == "" {
		name = txn.DisplayName
	}
	amount := txn.Amount.Abs()
	if input.Amount != nil {
		amount = input.Amount.Abs()
	}
	transactionType := TransactionTypeExpense
	if txn.Amount.IsPositive() {
		transactionType = TransactionTypeIncome
	}

	var endDate *time.Time
	if input.EndDate != nil && *input.EndDate != "" {
		parsed, perr := utils.ParseCalendarDay(*input.EndDate)
		if perr != nil {
			return nil, perr
		}
		endDate = &parsed
	}

	pattern := RecurringPattern{
		UserId:          userId,
		BankAccountId:   txn.BankAccountId,
		Name:            name,
		MerchantKey:     NormalizeMerchantName(name),
		Amount:          amount,
		AmountTolerance: DefaultAmountTolerance,
		Frequency:       input.Frequency,
		DayOfMonth:      input.DayOfMonth,
		DayOfWeek:       input.DayOfWeek,
		StartDate:       utils.PinCalendarDay(txn.TransactionDate),
		EndDate:         endDate,
		TransactionType: transactionType,
		Confidence:      1,
	}
	pattern.normalizePhase()
	if err := pattern.validate(); err != nil {
		return nil, err
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&pattern).Error; err != nil {
		return nil, err
	}
	return &pattern, nil
}

func GetRecurringPatterns(ctx context.Context, accountId *int) ([]*RecurringPattern, error) {
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("user_id = ?", userId)
	if accountId != nil && *accountId > 0 {
		dbCtx = dbCtx.Where("bank_account_id = ?", *accountId)
	}
	var results []*RecurringPattern
	if err := dbCtx.Order("confidence DESC, id ASC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

type UpdateRecurringPatternInput struct {
	Name       *string          `json:"name"`
	Amount     *decimal.Decimal `json:"amount"`
	Frequency  *Frequency       `json:"frequency"`
	DayOfMonth *int             `json:"day_of_month"`
	DayOfWeek  *int             `json:"day_of_week"`
	EndDate    *string          `json:"end_date"`
}

func UpdateRecurringPattern(ctx context.Context, id int, input *UpdateRecurringPatternInput) (*RecurringPattern, error) {
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}

	pattern, err := utils.FetchModel[RecurringPattern](ctx, userId, id)
	if err != nil {
		return nil, err
	}

	if input.Name != nil && *input.Name != "" {
		pattern.Name = *input.Name
		pattern.MerchantKey = NormalizeMerchantName(*input.Name)
	}
	if input.Amount != nil {
		pattern.Amount = input.Amount.Abs()
	}
	if input.Frequency != nil {
		pattern.Frequency = *input.Frequency
	}
	if input.DayOfMonth != nil {
		pattern.DayOfMonth = input.DayOfMonth
	}
	if input.DayOfWeek != nil {
		pattern.DayOfWeek = input.DayOfWeek
	}
	if input.EndDate != nil {
		if *input.EndDate == "" {
			pattern.EndDate = nil
		} else {
			parsed, perr := utils.ParseCalendarDay(*input.EndDate)
			if perr != nil {
				return nil, perr
			}
			pattern.EndDate = &parsed
		}
	}

	pattern.normalizePhase()
	if err := pattern.validate(); err != nil {
		return nil, err
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Save(pattern).Error; err != nil {
		return nil, err
	}
	return pattern, nil
}

func DeleteRecurringPattern(ctx context.Context, id int) (*RecurringPattern, error) {
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}

	pattern, err := utils.FetchModel[RecurringPattern](ctx, userId, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Delete(pattern).Error; err != nil {
		return nil, err
	}
	return pattern, nil
}
