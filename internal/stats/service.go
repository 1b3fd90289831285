package stats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Aidin1998/assetex/pkg/models"
)

// ErrCounterUnderflow is returned when a decrement would take an aggregate
// counter below zero. It indicates a bookkeeping bug, not a caller mistake.
var ErrCounterUnderflow = errors.New("stats counter underflow")

const statsRowID = 1

// StatsService maintains the aggregate marketplace counters. The mutators
// run inside listing/settlement transactions only; there is no independent
// write path, so the counters cannot drift from the rows they describe.
type StatsService interface {
	Start() error
	Stop() error

	TotalActiveListings(ctx context.Context) (int64, error)
	TotalSales(ctx context.Context) (int64, error)
	SaleCountOf(ctx context.Context, itemID uint64) (int64, error)
	Snapshot(ctx context.Context) (*models.MarketStats, error)

	MarkListedTx(tx *gorm.DB) error
	MarkUnlistedTx(tx *gorm.DB) error
	MarkSoldTx(tx *gorm.DB, itemID uint64) error
}

// Service implements StatsService
type Service struct {
	logger *zap.Logger
	db     *gorm.DB
}

// NewService creates a new StatsService
func NewService(logger *zap.Logger, db *gorm.DB) (StatsService, error) {
	svc := &Service{
		logger: logger,
		db:     db,
	}

	return svc, nil
}

// Start starts the stats service
func (s *Service) Start() error {
	s.logger.Info("Stats service started")
	return nil
}

// Stop stops the stats service
func (s *Service) Stop() error {
	s.logger.Info("Stats service stopped")
	return nil
}

// Snapshot returns the aggregate counters row
func (s *Service) Snapshot(ctx context.Context) (*models.MarketStats, error) {
	var stats models.MarketStats
	if err := s.db.WithContext(ctx).Where("id = ?", statsRowID).First(&stats).Error; err != nil {
		return nil, fmt.Errorf("failed to load market stats: %w", err)
	}
	return &stats, nil
}

// TotalActiveListings returns the number of currently open listings
func (s *Service) TotalActiveListings(ctx context.Context) (int64, error) {
	stats, err := s.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	return stats.TotalActiveListings, nil
}

// TotalSales returns the number of completed sales
func (s *Service) TotalSales(ctx context.Context) (int64, error) {
	stats, err := s.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	return stats.TotalSales, nil
}

// SaleCountOf returns how many times the item has been sold. Items never
// sold report zero.
func (s *Service) SaleCountOf(ctx context.Context, itemID uint64) (int64, error) {
	var count models.ItemSaleCount
	if err := s.db.WithContext(ctx).Where("item_id = ?", itemID).First(&count).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to load item sale count: %w", err)
	}
	return count.SaleCount, nil
}

// MarkListedTx increments the open-listing counter inside the caller's
// transaction
func (s *Service) MarkListedTx(tx *gorm.DB) error {
	res := tx.Model(&models.MarketStats{}).
		Where("id = ?", statsRowID).
		Updates(map[string]interface{}{
			"total_active_listings": gorm.Expr("total_active_listings + 1"),
			"updated_at":            time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to bump active listings: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("market stats row missing")
	}
	return nil
}

// MarkUnlistedTx decrements the open-listing counter inside the caller's
// transaction
func (s *Service) MarkUnlistedTx(tx *gorm.DB) error {
	res := tx.Model(&models.MarketStats{}).
		Where("id = ? AND total_active_listings > 0", statsRowID).
		Updates(map[string]interface{}{
			"total_active_listings": gorm.Expr("total_active_listings - 1"),
			"updated_at":            time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to drop active listings: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrCounterUnderflow
	}
	return nil
}

// MarkSoldTx moves one listing from open to sold and bumps the item's sale
// count, all inside the caller's transaction
func (s *Service) MarkSoldTx(tx *gorm.DB, itemID uint64) error {
	res := tx.Model(&models.MarketStats{}).
		Where("id = ? AND total_active_listings > 0", statsRowID).
		Updates(map[string]interface{}{
			"total_active_listings": gorm.Expr("total_active_listings - 1"),
			"total_sales":           gorm.Expr("total_sales + 1"),
			"updated_at":            time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to mark sale in stats: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrCounterUnderflow
	}

	var count models.ItemSaleCount
	err := tx.Where(models.ItemSaleCount{ItemID: itemID}).FirstOrCreate(&count).Error
	if err != nil {
		return fmt.Errorf("failed to ensure item sale count: %w", err)
	}

	res = tx.Model(&models.ItemSaleCount{}).
		Where("item_id = ?", itemID).
		Updates(map[string]interface{}{
			"sale_count": gorm.Expr("sale_count + 1"),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to bump item sale count: %w", res.Error)
	}

	return nil
}
