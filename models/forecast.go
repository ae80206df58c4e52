package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fintrack-labs/forecast_backend/config"
	"github.com/fintrack-labs/forecast_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ForecastTimeout bounds the regeneration transaction. The day-by-day
// projection loop can span up to 24 months, so the window is generous.
const ForecastTimeout = 60 * time.Second

// Forecast is the single live projection window per account. Regeneration
// upserts this row in place so previously created manual ForecastTransactions
// stay attached across regenerations.
type Forecast struct {
	ID               int             `gorm:"primary_key" json:"id"`
	UserId           int             `gorm:"index;not null" json:"user_id"`
	BankAccountId    int             `gorm:"index;not null" json:"bank_account_id"`
	GeneratedAt      time.Time       `gorm:"not null" json:"generated_at"`
	StartDate        time.Time       `gorm:"not null" json:"start_date"`
	EndDate          time.Time       `gorm:"not null" json:"end_date"`
	InitialBalance   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"initial_balance"`
	ProjectedBalance decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"projected_balance"`
	PatternIdsJSON   []byte          `gorm:"type:json" json:"-"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (f Forecast) GetId() int {
	return f.ID
}

// ForecastTransaction is one projected transaction inside a forecast window.
// A row generated purely from a pattern has IsManual false; once the user
// edits its amount, date or name it becomes manual while keeping its pattern
// reference. That dual state is how regeneration tells "already materialized,
// now customized" apart from "never materialized".
type ForecastTransaction struct {
	ID                 int             `gorm:"primary_key" json:"id"`
	UserId             int             `gorm:"index;not null" json:"user_id"`
	BankAccountId      int             `gorm:"index;not null" json:"bank_account_id"`
	ForecastId         int             `gorm:"index;not null" json:"forecast_id"`
	RecurringPatternId *int            `gorm:"index;default:null" json:"recurring_pattern_id"`
	IsManual           *bool           `gorm:"not null;default:false" json:"is_manual"`
	Amount             decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"amount"`
	TransactionDate    time.Time       `gorm:"index;not null" json:"transaction_date"`
	Name               string          `gorm:"size:255;not null" json:"name"`
	Category           string          `gorm:"size:100" json:"category"`
	Note               string          `gorm:"type:text" json:"note"`
	CreatedAt          time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (t ForecastTransaction) GetId() int {
	return t.ID
}

// BalanceSnapshot is derived, never persisted: one balance per calendar day
// in the forecast window, recomputed fresh on every read.
type BalanceSnapshot struct {
	Date    time.Time       `json:"date"`
	Balance decimal.Decimal `json:"balance"`
}

type ForecastResult struct {
	Forecast     *Forecast              `json:"forecast"`
	Transactions []*ForecastTransaction `json:"transactions"`
	Snapshots    []BalanceSnapshot      `json:"snapshots"`
}

// acquireAccountForecastLock serializes concurrent regenerations per account
// across instances using a MySQL advisory lock on the transaction's own
// connection. Other dialects (sqlite in tests) rely on transaction isolation.
func acquireAccountForecastLock(tx *gorm.DB, accountId int) error {
	if tx.Dialector.Name() != "mysql" {
		return nil
	}
	lockName := fmt.Sprintf("forecast:%d", accountId)
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, 30)", lockName).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("could not acquire forecast lock for account_id=%d", accountId)
	}
	return nil
}

func releaseAccountForecastLock(tx *gorm.DB, accountId int) {
	if tx.Dialector.Name() != "mysql" {
		return
	}
	lockName := fmt.Sprintf("forecast:%d", accountId)
	var ok int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&ok).Error
}

// occurrenceKey identifies one staged occurrence within a generation pass.
func occurrenceKey(patternId int, day string, name string, amount decimal.Decimal) string {
	return fmt.Sprintf("%d|%s|%s|%s", patternId, day, name, amount.Round(2).String())
}

// materializedKey identifies an already-materialized pattern slot. It is
// deliberately looser than occurrenceKey: a user who edited the amount or
// name of a materialized row must not get the original occurrence regenerated
// next to it, so only the pattern and the calendar day participate.
func materializedKey(patternId int, day string) string {
	return fmt.Sprintf("%d|%s", patternId, day)
}

// GenerateForecast regenerates the account's forecast over [now, endDate].
// The whole sequence - upsert forecast, drop non-manual rows, expand
// patterns, reconcile duplicates, insert, project - runs inside a single
// store transaction so a failure leaves no partial pattern rows behind, and
// concurrent regenerations for the same account are serialized.
func GenerateForecast(ctx context.Context, accountId int, endDate time.Time, includePatternIds []int) (*ForecastResult, error) {
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}

	now := time.Now()
	startDate := utils.PinCalendarDay(now)
	endDate = utils.PinCalendarDay(endDate)
	if !endDate.After(startDate) {
		return nil, errors.New("end date must be in the future")
	}

	tctx, cancel := context.WithTimeout(ctx, ForecastTimeout)
	defer cancel()

	db := config.GetDB()
	var result *ForecastResult
	err := db.WithContext(tctx).Transaction(func(tx *gorm.DB) error {
		if err := acquireAccountForecastLock(tx, accountId); err != nil {
			return err
		}
		defer releaseAccountForecastLock(tx, accountId)

		var account BankAccount
		if err := tx.Where("user_id = ?", userId).First(&account, accountId).Error; err != nil {
			return utils.ErrorRecordNotFound
		}

		patternIdsMeta, _ := json.Marshal(includePatternIds)

		// upsert the account's single live forecast
		var forecast Forecast
		err := tx.Where("user_id = ? AND bank_account_id = ?", userId, accountId).First(&forecast).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			forecast = Forecast{
				UserId:         userId,
				BankAccountId:  accountId,
				GeneratedAt:    now,
				StartDate:      startDate,
				EndDate:        endDate,
				InitialBalance: account.CurrentBalance,
				PatternIdsJSON: patternIdsMeta,
			}
			if err := tx.Create(&forecast).Error; err != nil {
				return err
			}
		} else if err != nil {
			return err
		} else {
			forecast.GeneratedAt = now
			forecast.StartDate = startDate
			forecast.EndDate = endDate
			forecast.InitialBalance = account.CurrentBalance
			forecast.PatternIdsJSON = patternIdsMeta
			if err := tx.Model(&forecast).Updates(map[string]interface{}{
				"generated_at":     now,
				"start_date":       startDate,
				"end_date":         endDate,
				"initial_balance":  account.CurrentBalance,
				"pattern_ids_json": patternIdsMeta,
			}).Error; err != nil {
				return err
			}
		}

		// idempotent regeneration: drop pattern rows, never manual ones
		if err := tx.Where("forecast_id = ? AND is_manual = ?", forecast.ID, false).
			Delete(&ForecastTransaction{}).Error; err != nil {
			return err
		}

		patternQuery := tx.Where("user_id = ? AND bank_account_id = ?", userId, accountId)
		if len(includePatternIds) > 0 {
			patternQuery = patternQuery.Where("id IN ?", includePatternIds)
		}
		var patterns []*RecurringPattern
		if err := patternQuery.Order("id ASC").Find(&patterns).Error; err != nil {
			return err
		}

		// Snapshot of the surviving pattern-referencing rows: these are
		// materialized occurrences the user has edited (or declared-recurring
		// manual entries) and must not be regenerated as duplicates.
		var survivors []*ForecastTransaction
		if err := tx.Where("forecast_id = ? AND recurring_pattern_id IS NOT NULL", forecast.ID).
			Find(&survivors).Error; err != nil {
			return err
		}
		materialized := make(map[string]bool, len(survivors))
		for _, s := range survivors {
			materialized[materializedKey(*s.RecurringPatternId, utils.CalendarDayString(s.TransactionDate))] = true
		}

		today := utils.CalendarDayString(now)
		staged := map[string]bool{}
		var fresh []*ForecastTransaction
		for _, p := range patterns {
			amount := p.TransactionType.Apply(p.Amount)
			for _, day := range p.Occurrences(startDate, endDate) {
				dayStr := utils.CalendarDayString(day)
				// only strictly future days enter the forecast
				if dayStr <= today {
					continue
				}
				if materialized[materializedKey(p.ID, dayStr)] {
					continue
				}
				key := occurrenceKey(p.ID, dayStr, p.Name, amount)
				if staged[key] {
					continue
				}
				staged[key] = true
				patternId := p.ID
				fresh = append(fresh, &ForecastTransaction{
					UserId:             userId,
					BankAccountId:      accountId,
					ForecastId:         forecast.ID,
					RecurringPatternId: &patternId,
					IsManual:           utils.NewFalse(),
					Amount:             amount,
					TransactionDate:    day,
					Name:               p.Name,
				})
			}
		}
		if len(fresh) > 0 {
			if err := tx.Create(&fresh).Error; err != nil {
				return err
			}
		}

		all, snapshots, err := projectForecast(tx, &forecast, now)
		if err != nil {
			return err
		}

		result = &ForecastResult{
			Forecast:     &forecast,
			Transactions: all,
			Snapshots:    snapshots,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// projectForecast loads the union of manual and generated rows, recomputes
// the dense balance series and persists the final day's balance as the
// forecast's projected balance.
func projectForecast(tx *gorm.DB, forecast *Forecast, now time.Time) ([]*ForecastTransaction, []BalanceSnapshot, error) {
	var rows []*ForecastTransaction
	err := tx.Where("forecast_id = ?", forecast.ID).
		Order("transaction_date ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, nil, err
	}

	snapshots := buildBalanceSnapshots(rows, forecast.InitialBalance, forecast.StartDate, forecast.EndDate, now)

	projected := forecast.InitialBalance
	if len(snapshots) > 0 {
		projected = snapshots[len(snapshots)-1].Balance
	}
	forecast.ProjectedBalance = projected
	if err := tx.Model(forecast).Update("projected_balance", projected).Error; err != nil {
		return nil, nil, err
	}
	return rows, snapshots, nil
}

// buildBalanceSnapshots walks day by day from startDate to endDate inclusive,
// starting at initialBalance and applying each day's bucketed transaction
// amounts. The series is dense on purpose - one snapshot per day, flat
// between events - so charting code never interpolates. Rows not strictly
// after today are discarded.
func buildBalanceSnapshots(rows []*ForecastTransaction, initialBalance decimal.Decimal, startDate, endDate time.Time, now time.Time) []BalanceSnapshot {
	today := utils.CalendarDayString(now)
	byDay := map[string]decimal.Decimal{}
	for _, row := range rows {
		day := utils.CalendarDayString(row.TransactionDate)
		if day <= today {
			continue
		}
		byDay[day] = byDay[day].Add(row.Amount)
	}

	var snapshots []BalanceSnapshot
	balance := initialBalance
	end := utils.PinCalendarDay(endDate)
	for d := utils.PinCalendarDay(startDate); !d.After(end); d = d.AddDate(0, 0, 1) {
		if delta, ok := byDay[utils.CalendarDayString(d)]; ok {
			balance = balance.Add(delta)
		}
		snapshots = append(snapshots, BalanceSnapshot{Date: d, Balance: balance})
	}
	return snapshots
}

// ProjectBalance recomputes the forecast's balance series without mutating
// any rows. Used by reads; regeneration and edits persist the resulting
// projected balance themselves.
func ProjectBalance(ctx context.Context, forecastId int) ([]BalanceSnapshot, error) {
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}

	forecast, err := utils.FetchModel[Forecast](ctx, userId, forecastId)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	var rows []*ForecastTransaction
	err = db.WithContext(ctx).Where("forecast_id = ?", forecast.ID).
		Order("transaction_date ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return buildBalanceSnapshots(rows, forecast.InitialBalance, forecast.StartDate, forecast.EndDate, time.Now()), nil
}

// GetForecast returns the forecast, its transactions and a freshly computed
// balance series.
func GetForecast(ctx context.Context, id int) (*ForecastResult, error) {
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}

	forecast, err := utils.FetchModel[Forecast](ctx, userId, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	var rows []*ForecastTransaction
	err = db.WithContext(ctx).Where("forecast_id = ?", forecast.ID).
		Order("transaction_date ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	return &ForecastResult{
		Forecast:     forecast,
		Transactions: rows,
		Snapshots:    buildBalanceSnapshots(rows, forecast.InitialBalance, forecast.StartDate, forecast.EndDate, time.Now()),
	}, nil
}

type UpdateForecastTransactionInput struct {
	Amount   *decimal.Decimal `json:"amount"`
	Date     *string          `json:"date"`
	Name     *string          `json:"name"`
	Category *string          `json:"category"`
	Note     *string          `json:"note"`
}

// UpdateForecastTransaction edits a forecast transaction. Changing amount,
// date or name marks a pattern-derived row as manual (keeping its pattern
// reference) so regeneration preserves the edit. The forecast's projected
// balance is recomputed synchronously.
func UpdateForecastTransaction(ctx context.Context, id int, input *UpdateForecastTransactionInput) (*ForecastTransaction, []BalanceSnapshot, error) {
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, nil, errors.New("user id is required")
	}

	txn, err := utils.FetchModel[ForecastTransaction](ctx, userId, id)
	if err != nil {
		return nil, nil, err
	}

	updates := map[string]interface{}{}
	materialEdit := false
	if input.Amount != nil {
		updates["amount"] = *input.Amount
		materialEdit = true
	}
	if input.Date != nil {
		parsed, perr := utils.ParseCalendarDay(*input.Date)
		if perr != nil {
			return nil, nil, perr
		}
		updates["transaction_date"] = parsed
		materialEdit = true
	}
	if input.Name != nil {
		if *input.Name == "" {
			return nil, nil, errors.New("name must not be empty")
		}
		updates["name"] = *input.Name
		materialEdit = true
	}
	if input.Category != nil {
		updates["category"] = *input.Category
	}
	if input.Note != nil {
		updates["note"] = *input.Note
	}
	if len(updates) == 0 {
		return nil, nil, errors.New("no fields to update")
	}
	if materialEdit {
		updates["is_manual"] = true
	}

	db := config.GetDB()
	var snapshots []BalanceSnapshot
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(txn).Updates(updates).Error; err != nil {
			return err
		}
		var forecast Forecast
		if err := tx.Where("user_id = ?", userId).First(&forecast, txn.ForecastId).Error; err != nil {
			return err
		}
		_, snapshots, err = projectForecast(tx, &forecast, time.Now())
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return txn, snapshots, nil
}

// DeleteForecastTransaction removes a forecast transaction and re-projects.
func DeleteForecastTransaction(ctx context.Context, id int) ([]BalanceSnapshot, error) {
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}

	txn, err := utils.FetchModel[ForecastTransaction](ctx, userId, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	var snapshots []BalanceSnapshot
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(txn).Error; err != nil {
			return err
		}
		var forecast Forecast
		if err := tx.Where("user_id = ?", userId).First(&forecast, txn.ForecastId).Error; err != nil {
			return err
		}
		_, snapshots, err = projectForecast(tx, &forecast, time.Now())
		return err
	})
	if err != nil {
		return nil, err
	}
	return snapshots, nil
}

type NewManualTransaction struct {
	BankAccountId    int             `json:"bank_account_id" binding:"required"`
	ForecastId       int             `json:"forecast_id" binding:"required"`
	Amount           decimal.Decimal `json:"amount" binding:"required"`
	TransactionType  TransactionType `json:"transaction_type" binding:"required"`
	Date             string          `json:"date" binding:"required"`
	Name             string          `json:"name" binding:"required"`
	Category         string          `json:"category"`
	Note             string          `json:"note"`
	IsRecurring      *bool           `json:"is_recurring"`
	Frequency        *Frequency      `json:"frequency"`
	DayOfMonth       *int            `json:"day_of_month"`
	DayOfWeek        *int            `json:"day_of_week"`
	RecurringEndDate *string         `json:"recurring_end_date"`
}

// CreateManualTransaction adds a free-standing transaction to a forecast.
// When the caller declares it recurring, a brand-new RecurringPattern is
// created alongside and back-referenced from the row, which is how ad hoc
// recurring items enter the same pipeline as detected ones.
func CreateManualTransaction(ctx context.Context, input *NewManualTransaction) (*ForecastTransaction, *RecurringPattern, []BalanceSnapshot, error) {
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, nil, nil, errors.New("user id is required")
	}
	if !input.TransactionType.IsValid() {
		return nil, nil, nil, errInvalidTransactionType
	}

	date, err := utils.ParseCalendarDay(input.Date)
	if err != nil {
		return nil, nil, nil, err
	}

	recurring := input.IsRecurring != nil && *input.IsRecurring
	if recurring && (input.Frequency == nil || !input.Frequency.IsValid()) {
		return nil, nil, nil, errors.New("frequency is required for recurring transactions")
	}

	forecast, err := utils.FetchModel[Forecast](ctx, userId, input.ForecastId)
	if err != nil {
		return nil, nil, nil, err
	}
	if forecast.BankAccountId != input.BankAccountId {
		return nil, nil, nil, utils.ErrorRecordNotFound
	}

	amount := input.TransactionType.Apply(input.Amount)

	db := config.GetDB()
	var txn *ForecastTransaction
	var pattern *RecurringPattern
	var snapshots []BalanceSnapshot
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var patternId *int
		if recurring {
			var endDate *time.Time
			if input.RecurringEndDate != nil && *input.RecurringEndDate != "" {
				parsed, perr := utils.ParseCalendarDay(*input.RecurringEndDate)
				if perr != nil {
					return perr
				}
				endDate = &parsed
			}
			pattern = &RecurringPattern{
				UserId:          userId,
				BankAccountId:   input.BankAccountId,
				Name:            input.Name,
				MerchantKey:     NormalizeMerchantName(input.Name),
				Amount:          input.Amount.Abs(),
				AmountTolerance: DefaultAmountTolerance,
				Frequency:       *input.Frequency,
				DayOfMonth:      input.DayOfMonth,
				DayOfWeek:       input.DayOfWeek,
				StartDate:       date,
				EndDate:         endDate,
				TransactionType: input.TransactionType,
				Confidence:      1,
			}
			pattern.normalizePhase()
			if err := pattern.validate(); err != nil {
				return err
			}
			if err := tx.Create(pattern).Error; err != nil {
				return err
			}
			patternId = &pattern.ID
		}

		txn = &ForecastTransaction{
			UserId:             userId,
			BankAccountId:      input.BankAccountId,
			ForecastId:         forecast.ID,
			RecurringPatternId: patternId,
			IsManual:           utils.NewTrue(),
			Amount:             amount,
			TransactionDate:    date,
			Name:               input.Name,
			Category:           input.Category,
			Note:               input.Note,
		}
		if err := tx.Create(txn).Error; err != nil {
			return err
		}

		var perr error
		_, snapshots, perr = projectForecast(tx, forecast, time.Now())
		return perr
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return txn, pattern, snapshots, nil
}
