// Package database provides database openers and schema migration
package database

import (
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/Aidin1998/assetex/internal/config"
	"github.com/Aidin1998/assetex/pkg/models"
)

// Open connects to the database selected by the configuration
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	switch cfg.Driver {
	case "postgres":
		return NewPostgresDB(cfg.DSN, cfg.MaxOpenConns, cfg.MaxIdleConns, cfg.ConnMaxLifetime)
	case "sqlite":
		return NewSqliteDB(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

// Migrate creates the schema and seeds the singleton rows. Safe to run on
// every startup.
func Migrate(db *gorm.DB, defaultFeePercent uint32) error {
	err := db.AutoMigrate(
		&models.Listing{},
		&models.OpenListing{},
		&models.Sale{},
		&models.MarketStats{},
		&models.ItemSaleCount{},
		&models.FundAccount{},
		&models.FundTransaction{},
		&models.MarketEvent{},
		&models.MarketConfig{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	// Singleton rows are created once; later startups keep stored values
	var stats models.MarketStats
	if err := db.FirstOrCreate(&stats, models.MarketStats{ID: 1}).Error; err != nil {
		return fmt.Errorf("failed to seed market stats: %w", err)
	}

	var conf models.MarketConfig
	err = db.Where(models.MarketConfig{ID: 1}).
		Attrs(models.MarketConfig{FeePercent: defaultFeePercent}).
		FirstOrCreate(&conf).Error
	if err != nil {
		return fmt.Errorf("failed to seed market config: %w", err)
	}

	return nil
}

// EnsureFundAccount creates a zero-balance account row if the principal has
// none yet
func EnsureFundAccount(db *gorm.DB, principal string) error {
	var account models.FundAccount
	err := db.Where(models.FundAccount{Principal: principal}).
		Attrs(models.FundAccount{Balance: decimal.Zero}).
		FirstOrCreate(&account).Error
	if err != nil {
		return fmt.Errorf("failed to ensure fund account for %s: %w", principal, err)
	}
	return nil
}
