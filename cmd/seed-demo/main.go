// seed-demo creates a demo user with one checking account and a year of
// transaction history containing recognizable recurring shapes (salary,
// rent, subscriptions) plus one-off noise, so pattern detection and
// forecasting have something real to chew on.
//
// Usage (from backend directory):
//   DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/seed-demo
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/fintrack-labs/forecast_backend/config"
	"github.com/fintrack-labs/forecast_backend/models"
	"github.com/fintrack-labs/forecast_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	demoEmail    = "demo@fintrack.dev"
	demoPassword = "demo-password-1"
	demoName     = "Demo User"
)

func main() {
	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	models.MigrateTable()

	var user models.User
	err := db.WithContext(ctx).Where("email = ?", demoEmail).First(&user).Error
	if err == gorm.ErrRecordNotFound {
		hashed, herr := utils.HashPassword(demoPassword)
		if herr != nil {
			fmt.Fprintf(os.Stderr, "failed to hash password: %v\n", herr)
			os.Exit(1)
		}
		user = models.User{
			Email:    demoEmail,
			Name:     demoName,
			Password: string(hashed),
			IsActive: utils.NewTrue(),
		}
		if err := db.WithContext(ctx).Create(&user).Error; err != nil {
			fmt.Fprintf(os.Stderr, "failed to create demo user: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("created demo user:", demoEmail)
	} else if err != nil {
		fmt.Fprintf(os.Stderr, "failed to lookup demo user: %v\n", err)
		os.Exit(1)
	} else {
		fmt.Println("demo user already exists:", demoEmail)
	}

	ctx = utils.SetUserIdInContext(ctx, user.ID)
	ctx = utils.SetUserEmailInContext(ctx, user.Email)

	var count int64
	if err := db.WithContext(ctx).Model(&models.BankAccount{}).
		Where("user_id = ?", user.ID).Count(&count).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to count accounts: %v\n", err)
		os.Exit(1)
	}
	if count > 0 {
		fmt.Println("demo account already seeded, nothing to do")
		return
	}

	account, err := models.CreateBankAccount(ctx, &models.NewBankAccount{
		AccountType:    models.BankAccountTypeChecking,
		AccountName:    "Everyday Checking",
		Institution:    "Demo Bank",
		CurrentBalance: decimal.NewFromInt(3200),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create demo account: %v\n", err)
		os.Exit(1)
	}

	incoming := buildHistory(time.Now())
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		counts, err := models.UpsertFeedTransactions(ctx, tx, user.ID, account.ID, incoming)
		if err != nil {
			return err
		}
		fmt.Printf("seeded %d transactions (%d skipped)\n", counts.Created, counts.Skipped)
		return nil
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to seed transactions: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("demo data ready. Log in as", demoEmail)
}

// buildHistory produces roughly a year of history ending yesterday.
func buildHistory(now time.Time) []models.IncomingTransaction {
	rng := rand.New(rand.NewSource(42))
	var out []models.IncomingTransaction
	seq := 0
	add := func(date time.Time, amount decimal.Decimal, name string, category string) {
		seq++
		out = append(out, models.IncomingTransaction{
			ExternalId:   fmt.Sprintf("seed-%04d", seq),
			Amount:       amount,
			Date:         utils.PinCalendarDay(date),
			Name:         name,
			MerchantName: name,
			Category:     category,
		})
	}

	start := now.AddDate(-1, 0, 0)
	for m := 0; m < 12; m++ {
		monthStart := start.AddDate(0, m, 0)
		y, mo, _ := monthStart.Date()

		// monthly shapes
		add(time.Date(y, mo, 1, 0, 0, 0, 0, time.UTC), decimal.NewFromInt(4200), "ACME Corp Payroll", "income")
		add(time.Date(y, mo, 3, 0, 0, 0, 0, time.UTC), decimal.NewFromInt(-1450), "Greenfield Apartments", "rent")
		add(time.Date(y, mo, 12, 0, 0, 0, 0, time.UTC), decimal.NewFromFloat(-15.99), "Netflix", "subscriptions")
		add(time.Date(y, mo, 18, 0, 0, 0, 0, time.UTC), decimal.NewFromFloat(-9.99), "Spotify", "subscriptions")

		// weekly groceries, amount wobbles inside tolerance
		grocery := time.Date(y, mo, 5, 0, 0, 0, 0, time.UTC)
		for w := 0; w < 4; w++ {
			wobble := decimal.NewFromFloat(rng.Float64()*10 - 5)
			add(grocery.AddDate(0, 0, 7*w), decimal.NewFromInt(-85).Add(wobble), "Fresh Mart", "groceries")
		}

		// one-off noise
		for n := 0; n < 3; n++ {
			day := 1 + rng.Intn(27)
			amount := decimal.NewFromFloat(-(5 + rng.Float64()*120)).Round(2)
			add(time.Date(y, mo, day, 0, 0, 0, 0, time.UTC), amount, fmt.Sprintf("One-off Purchase %d", seq), "misc")
		}
	}
	return out
}
