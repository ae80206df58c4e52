package models

import (
	"context"
	"errors"
	"math"
	"sort"

	"github.com/fintrack-labs/forecast_backend/config"
	"github.com/fintrack-labs/forecast_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// MinimumConfidence is a hard floor applied on top of the caller-supplied
// threshold. A caller asking for minConfidence below 0.6 still gets 0.6:
// low-confidence patterns are noise, not signal, and the floor keeps them out
// of forecasts regardless of what the API consumer requests.
const MinimumConfidence = 0.6

// minGroupSize is both the business-rule floor for detection input and the
// smallest group worth fitting a frequency to.
const minGroupSize = 3

type candidateGroup struct {
	merchantKey string
	avgAmount   decimal.Decimal
	members     []*Transaction
}

// add recomputes the running average incrementally as members join. This
// makes grouping order-sensitive for borderline amounts, which is why callers
// must feed transactions in a deterministic (date ascending) order.
func (g *candidateGroup) add(txn *Transaction, amount decimal.Decimal) {
	n := decimal.NewFromInt(int64(len(g.members)))
	g.avgAmount = g.avgAmount.Mul(n).Add(amount).Div(n.Add(decimal.NewFromInt(1)))
	g.members = append(g.members, txn)
}

// frequency fit windows, in mean-interval days
type frequencyBucket struct {
	frequency Frequency
	minDays   float64
	maxDays   float64
}

var frequencyBuckets = []frequencyBucket{
	{FrequencyDaily, 1, 2},
	{FrequencyWeekly, 5, 9},
	{FrequencyBiweekly, 11, 17},
	{FrequencyMonthly, 25, 35},
	{FrequencyQuarterly, 80, 100},
	{FrequencyYearly, 350, 380},
}

// DetectPatterns scans an account's history for recurring transaction series
// and persists one RecurringPattern per accepted group. Fewer than three
// historical transactions is not an error: there is simply nothing to detect
// yet, and the result is empty.
func DetectPatterns(ctx context.Context, accountId int, minConfidence float64) ([]*RecurringPattern, error) {
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}
	if err := utils.ValidateResourceId[BankAccount](ctx, userId, accountId); err != nil {
		return nil, err
	}

	db := config.GetDB()
	var patterns []*RecurringPattern
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var derr error
		patterns, derr = detectAndPersist(ctx, tx, userId, accountId, minConfidence)
		return derr
	})
	if err != nil {
		return nil, err
	}
	return patterns, nil
}

// RedetectPatterns deletes every existing pattern for the account and runs
// detection from scratch, atomically. This is destructive of manual edits to
// pattern metadata (renames, end dates) and is therefore never triggered
// automatically on sync; callers opt in explicitly.
func RedetectPatterns(ctx context.Context, accountId int, minConfidence float64) ([]*RecurringPattern, error) {
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}
	if err := utils.ValidateResourceId[BankAccount](ctx, userId, accountId); err != nil {
		return nil, err
	}

	db := config.GetDB()
	var patterns []*RecurringPattern
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ? AND bank_account_id = ?", userId, accountId).
			Delete(&RecurringPattern{}).Error; err != nil {
			return err
		}
		var derr error
		patterns, derr = detectAndPersist(ctx, tx, userId, accountId, minConfidence)
		return derr
	})
	if err != nil {
		return nil, err
	}
	return patterns, nil
}

func detectAndPersist(ctx context.Context, tx *gorm.DB, userId int, accountId int, minConfidence float64) ([]*RecurringPattern, error) {
	var history []*Transaction
	err := tx.WithContext(ctx).
		Where("user_id = ? AND bank_account_id = ?", userId, accountId).
		Order("transaction_date ASC, id ASC").
		Find(&history).Error
	if err != nil {
		return nil, err
	}

	// business rule, not an error: nothing recurs in fewer than 3 rows
	if len(history) < minGroupSize {
		return []*RecurringPattern{}, nil
	}

	threshold := math.Max(minConfidence, MinimumConfidence)

	patterns := []*RecurringPattern{}
	for _, group := range groupTransactions(history) {
		if len(group.members) < minGroupSize {
			continue
		}
		pattern := fitPattern(group)
		if pattern == nil || pattern.Confidence < threshold {
			continue
		}
		pattern.UserId = userId
		pattern.BankAccountId = accountId
		patterns = append(patterns, pattern)
	}

	if len(patterns) > 0 {
		if err := tx.WithContext(ctx).Create(&patterns).Error; err != nil {
			return nil, err
		}
	}
	return patterns, nil
}

// groupTransactions makes a single greedy pass over the (date ordered)
// history. A transaction joins the first group whose normalized name matches
// exactly and whose running average amount is within tolerance; otherwise it
// seeds a new group.
func groupTransactions(history []*Transaction) []*candidateGroup {
	var groups []*candidateGroup
	index := map[string][]*candidateGroup{}

	for _, txn := range history {
		name := txn.DisplayName
		if name == "" {
			name = txn.MerchantName
		}
		key := NormalizeMerchantName(name)
		if key == "" {
			continue
		}
		amount := txn.Amount.Abs()

		var joined *candidateGroup
		for _, g := range index[key] {
			if AmountsSimilar(amount, g.avgAmount, DefaultAmountTolerance) {
				joined = g
				break
			}
		}
		if joined != nil {
			joined.add(txn, amount)
			continue
		}

		g := &candidateGroup{
			merchantKey: key,
			avgAmount:   amount,
			members:     []*Transaction{txn},
		}
		groups = append(groups, g)
		index[key] = append(index[key], g)
	}

	return groups
}

// fitPattern classifies a group's mean inter-transaction interval into a
// frequency bucket and scores the fit. Returns nil when the intervals match
// no bucket.
func fitPattern(group *candidateGroup) *RecurringPattern {
	members := make([]*Transaction, len(group.members))
	copy(members, group.members)
	sort.Slice(members, func(i, j int) bool {
		return members[i].TransactionDate.Before(members[j].TransactionDate)
	})

	intervals := make([]float64, 0, len(members)-1)
	for i := 1; i < len(members); i++ {
		intervals = append(intervals, utils.DaysBetween(members[i-1].TransactionDate, members[i].TransactionDate))
	}
	mean := meanOf(intervals)
	stdDev := populationStdDev(intervals, mean)

	var frequency Frequency
	for _, bucket := range frequencyBuckets {
		if mean >= bucket.minDays && mean <= bucket.maxDays {
			frequency = bucket.frequency
			break
		}
	}
	if frequency == "" {
		return nil
	}

	reference := frequency.ReferenceDays()
	if frequency == FrequencyDaily {
		reference = mean
	}
	confidence := utils.Clamp01(1 - stdDev/reference)
	occurrenceBonus := utils.Clamp01(float64(len(members)-frequency.MinOccurrences()) / 5)
	confidence = confidence*0.7 + occurrenceBonus*0.3

	first := members[0]
	pattern := &RecurringPattern{
		Name:            first.DisplayName,
		MerchantKey:     group.merchantKey,
		Amount:          group.avgAmount,
		AmountTolerance: DefaultAmountTolerance,
		Frequency:       frequency,
		StartDate:       utils.PinCalendarDay(first.TransactionDate),
		TransactionType: inferTransactionType(members),
		Confidence:      confidence,
	}
	if pattern.Name == "" {
		pattern.Name = first.MerchantName
	}

	switch {
	case frequency.UsesDayOfWeek():
		pattern.DayOfWeek = utils.IntPtr(int(first.TransactionDate.UTC().Weekday()))
	case frequency.UsesDayOfMonth():
		pattern.DayOfMonth = utils.IntPtr(first.TransactionDate.UTC().Day())
	}

	return pattern
}

// majority of positive amounts means income; ties favor expense
func inferTransactionType(members []*Transaction) TransactionType {
	positives := 0
	for _, txn := range members {
		if txn.Amount.IsPositive() {
			positives++
		}
	}
	if positives*2 > len(members) {
		return TransactionTypeIncome
	}
	return TransactionTypeExpense
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func populationStdDev(values []float64, mean float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)))
}
