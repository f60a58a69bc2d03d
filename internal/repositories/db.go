// Package repositories provides data access layer implementations.
// It handles all database operations and data persistence logic.
package repositories

import (
	"fmt"
	"log"
	"time"

	"tradepost/internal/config"
	"tradepost/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// activeListingIndex guarantees at most one active transaction per listing.
// The partial index syntax is shared by Postgres and SQLite.
const activeListingIndex = `CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_active_listing
ON transactions (listing_id)
WHERE status IN ('pending', 'payment_authorized', 'pickup_scheduled')`

// GormConfig is the configuration every connection should be opened with.
// TranslateError maps driver unique violations to gorm.ErrDuplicatedKey.
func GormConfig() *gorm.Config {
	return &gorm.Config{
		TranslateError: true,
		Logger: logger.New(
			log.Default(),
			logger.Config{
				SlowThreshold:             time.Second,
				LogLevel:                  logger.Warn,
				IgnoreRecordNotFoundError: true,
				Colorful:                  false,
			},
		),
	}
}

// InitDB opens the Postgres connection, sets up pooling and applies
// migrations.
func InitDB(cfg *config.Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort)

	db, err := gorm.Open(postgres.Open(dsn), GormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	if err := Migrate(db); err != nil {
		return nil, err
	}

	log.Println("PostgreSQL connected & migrations applied")
	return db, nil
}

// Migrate creates the escrow schema.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.User{},
		&models.SellerAccount{},
		&models.Listing{},
		&models.Transaction{},
	); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	if err := db.Exec(activeListingIndex).Error; err != nil {
		return fmt.Errorf("create active listing index: %w", err)
	}
	return nil
}

// DropAllTables is used by tests and local resets.
func DropAllTables(db *gorm.DB) error {
	return db.Migrator().DropTable(
		&models.Transaction{},
		&models.Listing{},
		&models.SellerAccount{},
		&models.User{},
	)
}
