package models

import (
	"log"

	"github.com/fintrack-labs/forecast_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&User{},
		&BankAccount{},
		&Transaction{},
		&RecurringPattern{},
		&Forecast{}, &ForecastTransaction{},
		&SyncRun{}, &SyncError{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
