package models

import (
	"testing"

	"github.com/fintrack-labs/forecast_backend/config"
	"github.com/fintrack-labs/forecast_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func TestUpsertFeedTransactionsCounts(t *testing.T) {
	setupTestDB(t)
	ctx := newTestUser(t)
	account := newTestAccount(t, ctx, 1000)
	userId, _ := utils.GetUserIdFromContext(ctx)

	batch := []IncomingTransaction{
		{ExternalId: "feed-1", Amount: decimal.NewFromInt(-42), Date: mustDay(t, "2026-01-05"), Name: "Fresh Mart", MerchantName: "Fresh Mart"},
		{ExternalId: "feed-2", Amount: decimal.NewFromInt(4200), Date: mustDay(t, "2026-01-01"), Name: "ACME Corp Payroll", MerchantName: "ACME Corp"},
		{ExternalId: "", Amount: decimal.NewFromInt(-5), Date: mustDay(t, "2026-01-02"), Name: "Broken Record"},
	}

	err := config.GetDB().Transaction(func(tx *gorm.DB) error {
		counts, err := UpsertFeedTransactions(ctx, tx, userId, account.ID, batch)
		if err != nil {
			return err
		}
		if counts.Created != 2 || counts.Updated != 0 || counts.Skipped != 1 {
			t.Errorf("first pass counts = %+v, want 2 created, 0 updated, 1 skipped", counts)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}

	// same batch again: existing rows update, the broken one still skips
	err = config.GetDB().Transaction(func(tx *gorm.DB) error {
		counts, err := UpsertFeedTransactions(ctx, tx, userId, account.ID, batch)
		if err != nil {
			return err
		}
		if counts.Created != 0 || counts.Updated != 2 || counts.Skipped != 1 {
			t.Errorf("second pass counts = %+v, want 0 created, 2 updated, 1 skipped", counts)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}

	transactions, err := GetTransactions(ctx, account.ID)
	if err != nil {
		t.Fatalf("GetTransactions: %v", err)
	}
	if len(transactions) != 2 {
		t.Fatalf("stored %d transactions, want 2", len(transactions))
	}
	// ordered by date ascending
	if transactions[0].ExternalId != "feed-2" {
		t.Errorf("first transaction = %s, want the older feed-2", transactions[0].ExternalId)
	}
}

func TestRenameTransactionPreservesOriginalDescription(t *testing.T) {
	setupTestDB(t)
	ctx := newTestUser(t)
	account := newTestAccount(t, ctx, 1000)
	userId, _ := utils.GetUserIdFromContext(ctx)

	seed := []IncomingTransaction{
		{ExternalId: "feed-9", Amount: decimal.NewFromFloat(-15.99), Date: mustDay(t, "2026-01-12"), Name: "NETFLIX.COM *Premium"},
	}
	err := config.GetDB().Transaction(func(tx *gorm.DB) error {
		_, err := UpsertFeedTransactions(ctx, tx, userId, account.ID, seed)
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	transactions, err := GetTransactions(ctx, account.ID)
	if err != nil || len(transactions) != 1 {
		t.Fatalf("expected 1 seeded transaction, got %d (err %v)", len(transactions), err)
	}
	id := transactions[0].ID

	renamed, err := RenameTransaction(ctx, id, "Netflix")
	if err != nil {
		t.Fatalf("first rename: %v", err)
	}
	if renamed.OriginalDescription != "NETFLIX.COM *Premium" {
		t.Errorf("original description = %q, want the feed name", renamed.OriginalDescription)
	}

	// second rename keeps the first saved original, not the intermediate name
	renamed, err = RenameTransaction(ctx, id, "Netflix Family Plan")
	if err != nil {
		t.Fatalf("second rename: %v", err)
	}
	if renamed.OriginalDescription != "NETFLIX.COM *Premium" {
		t.Errorf("original description changed to %q on repeat rename", renamed.OriginalDescription)
	}

	// a re-sync must not clobber the user's name
	err = config.GetDB().Transaction(func(tx *gorm.DB) error {
		_, err := UpsertFeedTransactions(ctx, tx, userId, account.ID, seed)
		return err
	})
	if err != nil {
		t.Fatalf("re-sync: %v", err)
	}
	var after Transaction
	if err := config.GetDB().First(&after, id).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if after.DisplayName != "Netflix Family Plan" {
		t.Errorf("display name = %q after re-sync, want the user's rename", after.DisplayName)
	}
}
