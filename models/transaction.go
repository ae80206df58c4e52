package models

import (
	"context"
	"errors"
	"time"

	"github.com/fintrack-labs/forecast_backend/config"
	"github.com/fintrack-labs/forecast_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Transaction is a synced historical bank transaction. Amounts follow the
// universal sign convention (positive = inflow); the feedsync boundary flips
// provider-side signs before records ever reach this model.
type Transaction struct {
	ID                  int             `gorm:"primary_key" json:"id"`
	UserId              int             `gorm:"index;not null" json:"user_id"`
	BankAccountId       int             `gorm:"index;not null" json:"bank_account_id"`
	ExternalId          string          `gorm:"size:100;index:idx_txn_account_external,unique" json:"external_id"`
	Amount              decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"amount"`
	TransactionDate     time.Time       `gorm:"index;not null" json:"transaction_date"`
	DisplayName         string          `gorm:"size:255;not null" json:"display_name"`
	MerchantName        string          `gorm:"size:255" json:"merchant_name"`
	OriginalDescription string          `gorm:"size:255" json:"original_description"`
	Pending             *bool           `gorm:"not null;default:false" json:"pending"`
	Category            string          `gorm:"size:100" json:"category"`
	CreatedAt           time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (t Transaction) GetId() int {
	return t.ID
}

// IncomingTransaction is a feed record normalized to the universal sign
// convention, ready for persistence.
type IncomingTransaction struct {
	ExternalId   string
	Amount       decimal.Decimal
	Date         time.Time
	Name         string
	MerchantName string
	Pending      bool
	Category     string
}

// UpsertCounts reports the outcome of a bulk feed persistence pass.
type UpsertCounts struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
}

func GetTransactions(ctx context.Context, accountId int) ([]*Transaction, error) {
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}
	if err := utils.ValidateResourceId[BankAccount](ctx, userId, accountId); err != nil {
		return nil, err
	}

	db := config.GetDB()
	var results []*Transaction
	err := db.WithContext(ctx).
		Where("user_id = ? AND bank_account_id = ?", userId, accountId).
		Order("transaction_date ASC, id ASC").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// RenameTransaction edits the user-facing name. The feed's original name is
// kept in original_description the first time an edit happens and is never
// cleared afterwards; re-sync uses it to avoid clobbering user edits.
func RenameTransaction(ctx context.Context, id int, displayName string) (*Transaction, error) {
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}
	if displayName == "" {
		return nil, errors.New("display name is required")
	}

	txn, err := utils.FetchModel[Transaction](ctx, userId, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{
		"display_name": displayName,
	}
	if txn.OriginalDescription == "" {
		updates["original_description"] = txn.DisplayName
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Model(txn).Updates(updates).Error; err != nil {
		return nil, err
	}
	return txn, nil
}

// UpsertFeedTransactions persists a batch of normalized feed records. A bad
// record never aborts the batch: it is counted as skipped and the rest
// continue. Name updates are suppressed for rows the user has renamed
// (original_description set).
func UpsertFeedTransactions(ctx context.Context, tx *gorm.DB, userId int, accountId int, incoming []IncomingTransaction) (UpsertCounts, error) {
	var counts UpsertCounts
	logger := config.GetLogger()

	for _, in := range incoming {
		if in.ExternalId == "" || in.Name == "" || in.Date.IsZero() {
			counts.Skipped++
			continue
		}

		var existing Transaction
		err := tx.WithContext(ctx).
			Where("bank_account_id = ? AND external_id = ?", accountId, in.ExternalId).
			First(&existing).Error

		if errors.Is(err, gorm.ErrRecordNotFound) {
			pending := in.Pending
			record := Transaction{
				UserId:          userId,
				BankAccountId:   accountId,
				ExternalId:      in.ExternalId,
				Amount:          in.Amount,
				TransactionDate: utils.PinCalendarDay(in.Date),
				DisplayName:     in.Name,
				MerchantName:    in.MerchantName,
				Pending:         &pending,
				Category:        in.Category,
			}
			if cerr := tx.WithContext(ctx).Create(&record).Error; cerr != nil {
				config.LogError(logger, "transaction.go", "UpsertFeedTransactions", "create", in.ExternalId, cerr)
				counts.Skipped++
				continue
			}
			counts.Created++
			continue
		}
		if err != nil {
			config.LogError(logger, "transaction.go", "UpsertFeedTransactions", "lookup", in.ExternalId, err)
			counts.Skipped++
			continue
		}

		pending := in.Pending
		updates := map[string]interface{}{
			"amount":           in.Amount,
			"transaction_date": utils.PinCalendarDay(in.Date),
			"merchant_name":    in.MerchantName,
			"pending":          &pending,
			"category":         in.Category,
		}
		// once the user has renamed a transaction, the feed no longer owns the name
		if existing.OriginalDescription == "" {
			updates["display_name"] = in.Name
		}
		if uerr := tx.WithContext(ctx).Model(&existing).Updates(updates).Error; uerr != nil {
			config.LogError(logger, "transaction.go", "UpsertFeedTransactions", "update", in.ExternalId, uerr)
			counts.Skipped++
			continue
		}
		counts.Updated++
	}

	return counts, nil
}
