package feedsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/fintrack-labs/forecast_backend/config"
	"github.com/fintrack-labs/forecast_backend/models"
	"github.com/fintrack-labs/forecast_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const pageLimit = "200"

// SyncAccount pulls new and updated transactions from the external feed for
// one account. Each fetched page is persisted in its own transaction together
// with the advanced cursor, so a mid-sync failure keeps whatever progress
// already flushed and the next run resumes from the committed cursor.
func SyncAccount(ctx context.Context, accountId int) (*models.SyncRun, error) {
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}
	logger := config.GetLogger()

	account, err := utils.FetchModel[models.BankAccount](ctx, userId, accountId)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(account.FeedAccountId) == "" {
		return nil, errors.New("account has no feed connection")
	}

	db := config.GetDB()
	now := time.Now()
	run := &models.SyncRun{
		UserId:        userId,
		BankAccountId: accountId,
		Status:        models.SyncRunStatusRunning,
		StartedAt:     &now,
	}
	if err := db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, err
	}

	client, err := newFeedClient()
	if err != nil {
		finishRun(ctx, db, run, models.SyncRunStatusFailed, err.Error())
		return run, err
	}

	cursor := DecodeCursorState(account.CursorStateJSON)
	updatedSince := strings.TrimSpace(cursor.UpdatedSince)
	if updatedSince == "" {
		updatedSince = time.Now().Add(-90 * 24 * time.Hour).UTC().Format(time.RFC3339)
	}
	nextCursor := strings.TrimSpace(cursor.Cursor)
	newUpdatedSince := time.Now().UTC().Format(time.RFC3339)

	path := fmt.Sprintf("/v1/accounts/%s/transactions", url.PathEscape(account.FeedAccountId))
	var pageErr error
	for {
		params := url.Values{}
		params.Set("updated_since", updatedSince)
		if nextCursor != "" {
			params.Set("cursor", nextCursor)
		}
		params.Set("limit", pageLimit)

		resp, err := client.getList(ctx, path, params)
		if err != nil {
			pageErr = err
			config.LogError(logger, "worker.go", "SyncAccount", "fetch page", accountId, err)
			break
		}

		incoming := mapFeedRecords(ctx, db, run, resp.Data)
		done := resp.NextCursor == "" || (resp.HasMore != nil && !*resp.HasMore)

		flushCursor := CursorState{UpdatedSince: updatedSince, Cursor: resp.NextCursor}
		if done {
			// window complete, next run starts from this sync's begin time
			flushCursor = CursorState{UpdatedSince: newUpdatedSince}
		}
		err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			counts, err := models.UpsertFeedTransactions(ctx, tx, userId, accountId, incoming)
			if err != nil {
				return err
			}
			run.Created += counts.Created
			run.Updated += counts.Updated
			run.Skipped += counts.Skipped
			return tx.Model(&models.BankAccount{}).Where("id = ?", accountId).
				Update("cursor_state_json", EncodeCursorState(flushCursor)).Error
		})
		if err != nil {
			pageErr = err
			config.LogError(logger, "worker.go", "SyncAccount", "flush page", accountId, err)
			break
		}

		if done {
			break
		}
		nextCursor = resp.NextCursor
	}

	if pageErr == nil {
		if err := refreshAccountBalance(ctx, db, client, account); err != nil {
			config.LogError(logger, "worker.go", "SyncAccount", "refresh balance", accountId, err)
			recordSyncError(ctx, db, run, "", err.Error())
		}
	}

	status := models.SyncRunStatusSuccess
	message := ""
	flushed := run.Created + run.Updated
	if pageErr != nil {
		message = pageErr.Error()
		if flushed > 0 {
			status = models.SyncRunStatusPartial
		} else {
			status = models.SyncRunStatusFailed
		}
	} else if run.ErrorCount > 0 {
		status = models.SyncRunStatusPartial
	}
	finishRun(ctx, db, run, status, message)

	if pageErr != nil {
		return run, pageErr
	}
	return run, nil
}

// mapFeedRecords decodes a page of raw feed records. Malformed records are
// counted and recorded but never abort the page.
func mapFeedRecords(ctx context.Context, db *gorm.DB, run *models.SyncRun, raw []json.RawMessage) []models.IncomingTransaction {
	incoming := make([]models.IncomingTransaction, 0, len(raw))
	for _, item := range raw {
		var rec feedTransaction
		if err := json.Unmarshal(item, &rec); err != nil {
			recordSyncError(ctx, db, run, "", err.Error())
			continue
		}
		extID := strings.TrimSpace(rec.ID)
		if extID == "" {
			recordSyncError(ctx, db, run, "", "transaction id missing")
			continue
		}
		amount, err := decimal.NewFromString(rec.Amount.String())
		if err != nil {
			recordSyncError(ctx, db, run, extID, "invalid amount: "+rec.Amount.String())
			continue
		}
		date, err := parseFeedDate(rec.Date)
		if err != nil {
			recordSyncError(ctx, db, run, extID, "invalid date: "+rec.Date)
			continue
		}

		name := strings.TrimSpace(rec.Description)
		if name == "" {
			name = strings.TrimSpace(rec.MerchantName)
		}
		incoming = append(incoming, models.IncomingTransaction{
			ExternalId:   extID,
			Amount:       normalizeAmount(amount, rec.Direction),
			Date:         date,
			Name:         name,
			MerchantName: strings.TrimSpace(rec.MerchantName),
			Pending:      rec.Pending,
			Category:     strings.TrimSpace(rec.Category),
		})
	}
	return incoming
}

func parseFeedDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := utils.ParseCalendarDay(s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return utils.PinCalendarDay(t), nil
}

func refreshAccountBalance(ctx context.Context, db *gorm.DB, client *feedClient, account *models.BankAccount) error {
	var feedAcct feedAccount
	path := fmt.Sprintf("/v1/accounts/%s", url.PathEscape(account.FeedAccountId))
	if err := client.getObject(ctx, path, &feedAcct); err != nil {
		return err
	}
	balance, err := decimal.NewFromString(feedAcct.CurrentBalance.String())
	if err != nil {
		return fmt.Errorf("invalid balance: %s", feedAcct.CurrentBalance.String())
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return models.UpdateBankAccountBalance(ctx, tx, account.ID, balance)
	})
}

func recordSyncError(ctx context.Context, db *gorm.DB, run *models.SyncRun, externalId string, message string) {
	run.ErrorCount++
	syncErr := models.SyncError{
		UserId:        run.UserId,
		BankAccountId: run.BankAccountId,
		SyncRunId:     run.ID,
		ExternalId:    externalId,
		Message:       message,
	}
	if err := db.WithContext(ctx).Create(&syncErr).Error; err != nil {
		config.LogError(config.GetLogger(), "worker.go", "recordSyncError", "create", externalId, err)
	}
}

func finishRun(ctx context.Context, db *gorm.DB, run *models.SyncRun, status models.SyncRunStatus, message string) {
	finishedAt := time.Now()
	run.Status = status
	run.FinishedAt = &finishedAt
	run.Message = message
	err := db.WithContext(ctx).Model(run).Updates(map[string]interface{}{
		"status":      status,
		"created":     run.Created,
		"updated":     run.Updated,
		"skipped":     run.Skipped,
		"error_count": run.ErrorCount,
		"message":     message,
		"finished_at": finishedAt,
	}).Error
	if err != nil {
		config.LogError(config.GetLogger(), "worker.go", "finishRun", "update", run.ID, err)
	}
}
