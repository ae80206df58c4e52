package models

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fintrack-labs/forecast_backend/config"
	"github.com/fintrack-labs/forecast_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testDBSeq int64

// setupTestDB installs a fresh in-memory sqlite database for the duration of
// the test. The named shared-cache DSN keeps every pooled connection on the
// same database.
func setupTestDB(t *testing.T) {
	t.Helper()
	seq := atomic.AddInt64(&testDBSeq, 1)
	dsn := fmt.Sprintf("file:testdb%d?mode=memory&cache=shared", seq)
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	config.UseDB(gdb)
	MigrateTable()
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
}

func newTestUser(t *testing.T) context.Context {
	t.Helper()
	user := User{
		Email:    fmt.Sprintf("user%d@example.com", atomic.AddInt64(&testDBSeq, 1)),
		Name:     "Test User",
		Password: "not-a-real-hash",
		IsActive: utils.NewTrue(),
	}
	if err := config.GetDB().Create(&user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	ctx := utils.SetUserIdInContext(context.Background(), user.ID)
	return utils.SetUserEmailInContext(ctx, user.Email)
}

func newTestAccount(t *testing.T, ctx context.Context, balance int64) *BankAccount {
	t.Helper()
	account, err := CreateBankAccount(ctx, &NewBankAccount{
		AccountType:    BankAccountTypeChecking,
		AccountName:    "Everyday Checking",
		CurrentBalance: decimal.NewFromInt(balance),
	})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	return account
}

func mustDay(t *testing.T, s string) time.Time {
	t.Helper()
	day, err := utils.ParseCalendarDay(s)
	if err != nil {
		t.Fatalf("parse day %q: %v", s, err)
	}
	return day
}

func seedTransaction(t *testing.T, ctx context.Context, accountId int, day string, amount float64, name string) *Transaction {
	t.Helper()
	userId, _ := utils.GetUserIdFromContext(ctx)
	txn := Transaction{
		UserId:          userId,
		BankAccountId:   accountId,
		ExternalId:      fmt.Sprintf("ext-%d", atomic.AddInt64(&testDBSeq, 1)),
		Amount:          decimal.NewFromFloat(amount),
		TransactionDate: mustDay(t, day),
		DisplayName:     name,
		MerchantName:    name,
		Pending:         utils.NewFalse(),
	}
	if err := config.GetDB().Create(&txn).Error; err != nil {
		t.Fatalf("seed transaction: %v", err)
	}
	return &txn
}
