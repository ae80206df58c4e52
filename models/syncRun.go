package models

import (
	"context"
	"errors"
	"time"

	"github.com/fintrack-labs/forecast_backend/config"
	"github.com/fintrack-labs/forecast_backend/utils"
)

// SyncRun records one attempt to pull transactions from the external feed
// for an account.
type SyncRun struct {
	ID            int           `gorm:"primary_key" json:"id"`
	UserId        int           `gorm:"index;not null" json:"user_id"`
	BankAccountId int           `gorm:"index;not null" json:"bank_account_id"`
	Status        SyncRunStatus `gorm:"size:20;not null" json:"status"`
	Created       int           `json:"created"`
	Updated       int           `json:"updated"`
	Skipped       int           `json:"skipped"`
	ErrorCount    int           `json:"error_count"`
	Message       string        `gorm:"type:text" json:"message"`
	StartedAt     *time.Time    `json:"started_at"`
	FinishedAt    *time.Time    `json:"finished_at"`
	CreatedAt     time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

func (r SyncRun) GetId() int {
	return r.ID
}

type SyncError struct {
	ID            int       `gorm:"primary_key" json:"id"`
	UserId        int       `gorm:"index;not null" json:"user_id"`
	BankAccountId int       `gorm:"index;not null" json:"bank_account_id"`
	SyncRunId     int       `gorm:"index;not null" json:"sync_run_id"`
	ExternalId    string    `gorm:"size:128" json:"external_id"`
	Message       string    `gorm:"type:text" json:"message"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// GetLatestSyncRun returns the most recent run for an account, with its
// error rows.
func GetLatestSyncRun(ctx context.Context, accountId int) (*SyncRun, []*SyncError, error) {
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, nil, errors.New("user id is required")
	}

	if err := utils.ValidateResourceId[BankAccount](ctx, userId, accountId); err != nil {
		return nil, nil, err
	}

	db := config.GetDB()
	var run SyncRun
	err := db.WithContext(ctx).
		Where("user_id = ? AND bank_account_id = ?", userId, accountId).
		Order("id DESC").First(&run).Error
	if err != nil {
		return nil, nil, utils.ErrorRecordNotFound
	}

	var syncErrors []*SyncError
	err = db.WithContext(ctx).Where("sync_run_id = ?", run.ID).Find(&syncErrors).Error
	if err != nil {
		return nil, nil, err
	}
	return &run, syncErrors, nil
}
