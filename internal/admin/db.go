package admin

import (
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Open connects to Postgres and ensures the admin schema exists. It mirrors
// the teacher's GORM configuration choices (no prepared-statement cache, no
// implicit transactions, no global updates) since the admin store is a
// low-traffic side path and those defaults cost nothing to keep.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		PrepareStmt:             false,
		SkipDefaultTransaction:  true,
		AllowGlobalUpdate:       false,
	})
	if err != nil {
		return nil, fmt.Errorf("admin: connect: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("admin: underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := db.AutoMigrate(&Domain{}, &Channel{}, &WSConnection{}); err != nil {
		return nil, fmt.Errorf("admin: migrate: %w", err)
	}

	slog.Info("admin: store ready")
	return db, nil
}
