package models

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fintrack-labs/forecast_backend/config"
	"github.com/fintrack-labs/forecast_backend/utils"
	"github.com/shopspring/decimal"
)

func seedPattern(t *testing.T, ctx context.Context, accountId int, name string, amount float64, txnType TransactionType) *RecurringPattern {
	t.Helper()
	userId, _ := utils.GetUserIdFromContext(ctx)
	p := &RecurringPattern{
		UserId:          userId,
		BankAccountId:   accountId,
		Name:            name,
		MerchantKey:     NormalizeMerchantName(name),
		Amount:          decimal.NewFromFloat(amount),
		AmountTolerance: DefaultAmountTolerance,
		Frequency:       FrequencyMonthly,
		StartDate:       utils.PinCalendarDay(time.Now()),
		TransactionType: txnType,
		Confidence:      0.9,
	}
	p.normalizePhase()
	if err := config.GetDB().Create(p).Error; err != nil {
		t.Fatalf("seed pattern: %v", err)
	}
	return p
}

func countForecastRows(t *testing.T, forecastId int) int64 {
	t.Helper()
	var n int64
	err := config.GetDB().Model(&ForecastTransaction{}).
		Where("forecast_id = ?", forecastId).Count(&n).Error
	if err != nil {
		t.Fatalf("count rows: %v", err)
	}
	return n
}

func TestGenerateForecastAccountNotFound(t *testing.T) {
	setupTestDB(t)
	ctx := newTestUser(t)

	_, err := GenerateForecast(ctx, 9999, time.Now().AddDate(0, 0, 30), nil)
	if !errors.Is(err, utils.ErrorRecordNotFound) {
		t.Fatalf("err = %v, want ErrorRecordNotFound", err)
	}
}

func TestForecastBalanceProjection(t *testing.T) {
	setupTestDB(t)
	ctx := newTestUser(t)
	account := newTestAccount(t, ctx, 1000)

	result, err := GenerateForecast(ctx, account.ID, time.Now().AddDate(0, 0, 9), nil)
	if err != nil {
		t.Fatalf("GenerateForecast: %v", err)
	}
	if len(result.Snapshots) != 10 {
		t.Fatalf("got %d snapshots, want 10 (one per day, dense)", len(result.Snapshots))
	}
	for i, s := range result.Snapshots {
		if !s.Balance.Equal(decimal.NewFromInt(1000)) {
			t.Fatalf("snapshot %d balance = %s, want 1000", i, s.Balance)
		}
	}

	// a single 200 expense on day 5 of the window
	_, _, snapshots, err := CreateManualTransaction(ctx, &NewManualTransaction{
		BankAccountId:   account.ID,
		ForecastId:      result.Forecast.ID,
		Amount:          decimal.NewFromInt(200),
		TransactionType: TransactionTypeExpense,
		Date:            utils.CalendarDayString(time.Now().AddDate(0, 0, 4)),
		Name:            "Car Insurance",
	})
	if err != nil {
		t.Fatalf("CreateManualTransaction: %v", err)
	}
	if len(snapshots) != 10 {
		t.Fatalf("got %d snapshots after edit, want 10", len(snapshots))
	}
	for i := 0; i < 4; i++ {
		if !snapshots[i].Balance.Equal(decimal.NewFromInt(1000)) {
			t.Errorf("day %d balance = %s, want 1000", i+1, snapshots[i].Balance)
		}
	}
	for i := 4; i < 10; i++ {
		if !snapshots[i].Balance.Equal(decimal.NewFromInt(800)) {
			t.Errorf("day %d balance = %s, want 800", i+1, snapshots[i].Balance)
		}
	}

	var forecast Forecast
	if err := config.GetDB().First(&forecast, result.Forecast.ID).Error; err != nil {
		t.Fatalf("reload forecast: %v", err)
	}
	if !forecast.ProjectedBalance.Equal(decimal.NewFromInt(800)) {
		t.Errorf("projected balance = %s, want 800", forecast.ProjectedBalance)
	}
}

func TestForecastRegenerationNoDuplicates(t *testing.T) {
	setupTestDB(t)
	ctx := newTestUser(t)
	account := newTestAccount(t, ctx, 1000)
	seedPattern(t, ctx, account.ID, "Netflix", 15.99, TransactionTypeExpense)

	endDate := time.Now().AddDate(0, 0, 100)
	first, err := GenerateForecast(ctx, account.ID, endDate, nil)
	if err != nil {
		t.Fatalf("first generate: %v", err)
	}
	if len(first.Transactions) == 0 {
		t.Fatal("expected generated occurrences, got none")
	}
	for _, row := range first.Transactions {
		if !row.Amount.IsNegative() {
			t.Errorf("expense occurrence amount = %s, want negative", row.Amount)
		}
	}
	before := countForecastRows(t, first.Forecast.ID)

	second, err := GenerateForecast(ctx, account.ID, endDate, nil)
	if err != nil {
		t.Fatalf("second generate: %v", err)
	}
	if second.Forecast.ID != first.Forecast.ID {
		t.Fatalf("regeneration created a second forecast (%d then %d), want one live row per account",
			first.Forecast.ID, second.Forecast.ID)
	}
	if after := countForecastRows(t, second.Forecast.ID); after != before {
		t.Fatalf("row count changed across regeneration: %d then %d", before, after)
	}
}

func TestManualEditSurvivesRegeneration(t *testing.T) {
	setupTestDB(t)
	ctx := newTestUser(t)
	account := newTestAccount(t, ctx, 1000)
	pattern := seedPattern(t, ctx, account.ID, "Greenfield Apartments", 1450, TransactionTypeExpense)

	endDate := time.Now().AddDate(0, 0, 100)
	result, err := GenerateForecast(ctx, account.ID, endDate, nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(result.Transactions) == 0 {
		t.Fatal("expected generated occurrences")
	}
	target := result.Transactions[0]

	newAmount := decimal.NewFromInt(-1500)
	edited, _, err := UpdateForecastTransaction(ctx, target.ID, &UpdateForecastTransactionInput{
		Amount: &newAmount,
	})
	if err != nil {
		t.Fatalf("UpdateForecastTransaction: %v", err)
	}
	if edited.IsManual == nil || !*edited.IsManual {
		t.Fatal("edited row should be flagged manual")
	}
	if edited.RecurringPatternId == nil || *edited.RecurringPatternId != pattern.ID {
		t.Fatal("edited row must keep its pattern reference")
	}

	regen, err := GenerateForecast(ctx, account.ID, endDate, nil)
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}

	var survivor ForecastTransaction
	if err := config.GetDB().First(&survivor, target.ID).Error; err != nil {
		t.Fatalf("edited row deleted by regeneration: %v", err)
	}
	if !survivor.Amount.Equal(newAmount) {
		t.Errorf("edited amount = %s, want %s", survivor.Amount, newAmount)
	}

	// the edited slot must not be regenerated next to the survivor
	day := utils.CalendarDayString(target.TransactionDate)
	sameSlot := 0
	for _, row := range regen.Transactions {
		if row.RecurringPatternId != nil && *row.RecurringPatternId == pattern.ID &&
			utils.CalendarDayString(row.TransactionDate) == day {
			sameSlot++
		}
	}
	if sameSlot != 1 {
		t.Fatalf("found %d rows for the edited slot, want exactly 1", sameSlot)
	}
}

func TestCreateManualRecurringTransaction(t *testing.T) {
	setupTestDB(t)
	ctx := newTestUser(t)
	account := newTestAccount(t, ctx, 1000)

	result, err := GenerateForecast(ctx, account.ID, time.Now().AddDate(0, 0, 60), nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	frequency := FrequencyMonthly
	txn, pattern, _, err := CreateManualTransaction(ctx, &NewManualTransaction{
		BankAccountId:   account.ID,
		ForecastId:      result.Forecast.ID,
		Amount:          decimal.NewFromInt(300),
		TransactionType: TransactionTypeIncome,
		Date:            utils.CalendarDayString(time.Now().AddDate(0, 0, 10)),
		Name:            "Freelance Retainer",
		IsRecurring:     utils.NewTrue(),
		Frequency:       &frequency,
	})
	if err != nil {
		t.Fatalf("CreateManualTransaction: %v", err)
	}
	if pattern == nil {
		t.Fatal("expected a pattern for a declared-recurring transaction")
	}
	if pattern.Confidence != 1 {
		t.Errorf("declared pattern confidence = %v, want 1", pattern.Confidence)
	}
	if txn.RecurringPatternId == nil || *txn.RecurringPatternId != pattern.ID {
		t.Fatal("manual row must back-reference its new pattern")
	}
	if !txn.Amount.Equal(decimal.NewFromInt(300)) {
		t.Errorf("income amount = %s, want positive 300", txn.Amount)
	}

	// regeneration materializes the pattern's later occurrences but never
	// duplicates the declared one
	regen, err := GenerateForecast(ctx, account.ID, time.Now().AddDate(0, 0, 60), nil)
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	day := utils.CalendarDayString(txn.TransactionDate)
	sameSlot := 0
	for _, row := range regen.Transactions {
		if row.RecurringPatternId != nil && *row.RecurringPatternId == pattern.ID &&
			utils.CalendarDayString(row.TransactionDate) == day {
			sameSlot++
		}
	}
	if sameSlot != 1 {
		t.Fatalf("found %d rows for the declared date, want exactly 1", sameSlot)
	}
	for _, row := range regen.Transactions {
		if row.RecurringPatternId != nil && *row.RecurringPatternId == pattern.ID && !row.Amount.IsPositive() {
			t.Errorf("income occurrence amount = %s, want positive", row.Amount)
		}
	}
}

func TestDeleteForecastTransactionReprojects(t *testing.T) {
	setupTestDB(t)
	ctx := newTestUser(t)
	account := newTestAccount(t, ctx, 500)

	result, err := GenerateForecast(ctx, account.ID, time.Now().AddDate(0, 0, 5), nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	txn, _, _, err := CreateManualTransaction(ctx, &NewManualTransaction{
		BankAccountId:   account.ID,
		ForecastId:      result.Forecast.ID,
		Amount:          decimal.NewFromInt(100),
		TransactionType: TransactionTypeExpense,
		Date:            utils.CalendarDayString(time.Now().AddDate(0, 0, 2)),
		Name:            "Dentist",
	})
	if err != nil {
		t.Fatalf("CreateManualTransaction: %v", err)
	}

	snapshots, err := DeleteForecastTransaction(ctx, txn.ID)
	if err != nil {
		t.Fatalf("DeleteForecastTransaction: %v", err)
	}
	for i, s := range snapshots {
		if !s.Balance.Equal(decimal.NewFromInt(500)) {
			t.Fatalf("snapshot %d balance = %s, want 500 after delete", i, s.Balance)
		}
	}
}
