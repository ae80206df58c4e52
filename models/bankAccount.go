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

type BankAccount struct {
	ID              int             `gorm:"primary_key" json:"id"`
	UserId          int             `gorm:"index;not null" json:"user_id"`
	AccountType     BankAccountType `gorm:"size:12;not null;default:'checking'" json:"account_type" binding:"required"`
	AccountName     string          `gorm:"index;size:100;not null" json:"account_name" binding:"required"`
	Institution     string          `gorm:"size:100" json:"institution"`
	CurrentBalance  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"current_balance"`
	FeedAccountId   string          `gorm:"size:100;index" json:"feed_account_id"`
	CursorStateJSON []byte          `gorm:"type:json" json:"-"`
	IsActive        *bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewBankAccount struct {
	AccountType    BankAccountType `json:"account_type" binding:"required"`
	AccountName    string          `json:"account_name" binding:"required"`
	Institution    string          `json:"institution"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	FeedAccountId  string          `json:"feed_account_id"`
}

func (a BankAccount) GetId() int {
	return a.ID
}

func (input *NewBankAccount) validate() error {
	if !input.AccountType.IsValid() {
		return errors.New("invalid account type")
	}
	return nil
}

func CreateBankAccount(ctx context.Context, input *NewBankAccount) (*BankAccount, error) {
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}

	if err := input.validate(); err != nil {
		return nil, err
	}

	account := BankAccount{
		UserId:         userId,
		AccountType:    input.AccountType,
		AccountName:    input.AccountName,
		Institution:    input.Institution,
		CurrentBalance: input.CurrentBalance,
		FeedAccountId:  input.FeedAccountId,
		IsActive:       utils.NewTrue(),
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

func GetBankAccount(ctx context.Context, id int) (*BankAccount, error) {
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}
	return utils.FetchModel[BankAccount](ctx, userId, id)
}

func GetBankAccounts(ctx context.Context) ([]*BankAccount, error) {
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}

	db := config.GetDB()
	var results []*BankAccount
	err := db.WithContext(ctx).Where("user_id = ?", userId).
		Order("account_name").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// DeleteBankAccount removes the account and everything it owns: history,
// patterns, forecasts and forecast transactions.
func DeleteBankAccount(ctx context.Context, id int) (*BankAccount, error) {
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}

	account, err := utils.FetchModel[BankAccount](ctx, userId, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		owned := "user_id = ? AND bank_account_id = ?"
		if err := tx.Where(owned, userId, id).Delete(&ForecastTransaction{}).Error; err != nil {
			return err
		}
		if err := tx.Where(owned, userId, id).Delete(&Forecast{}).Error; err != nil {
			return err
		}
		if err := tx.Where(owned, userId, id).Delete(&RecurringPattern{}).Error; err != nil {
			return err
		}
		if err := tx.Where(owned, userId, id).Delete(&Transaction{}).Error; err != nil {
			return err
		}
		if err := tx.Where(owned, userId, id).Delete(&SyncError{}).Error; err != nil {
			return err
		}
		if err := tx.Where(owned, userId, id).Delete(&SyncRun{}).Error; err != nil {
			return err
		}
		return tx.Delete(account).Error
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// also used by the sync worker after a balance refresh
func UpdateBankAccountBalance(ctx context.Context, tx *gorm.DB, id int, balance decimal.Decimal) error {
	return tx.WithContext(ctx).Model(&BankAccount{}).Where("id = ?", id).
		Update("current_balance", balance).Error
}
