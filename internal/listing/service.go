package listing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Aidin1998/assetex/internal/events"
	"github.com/Aidin1998/assetex/internal/registry"
	"github.com/Aidin1998/assetex/internal/stats"
	"github.com/Aidin1998/assetex/pkg/models"
)

var (
	// ErrNotListed is returned when the item has no open listing
	ErrNotListed = errors.New("item is not listed")
	// ErrAlreadyListed is returned when the item already has an open listing
	ErrAlreadyListed = errors.New("item is already listed")
	// ErrInvalidPrice is returned for zero or negative prices
	ErrInvalidPrice = errors.New("price must be positive")
	// ErrNotOwner is returned when the caller does not own the item
	ErrNotOwner = errors.New("caller does not own the item")
	// ErrNotSeller is returned when the caller did not create the listing
	ErrNotSeller = errors.New("caller is not the listing seller")
)

// RegistryProvider returns the currently bound asset registry. The binding
// is admin-mutable, so it is resolved per call rather than captured at
// construction.
type RegistryProvider func() registry.AssetRegistry

// ListingService owns the listing state machine. Every mutation commits in
// one database transaction together with its counter updates and audit
// event, so a listing row, the open-listing index, the aggregate counters
// and the event log can never disagree.
type ListingService interface {
	Start() error
	Stop() error

	Create(ctx context.Context, itemID uint64, price int64, seller string) (*models.Listing, error)
	ChangePrice(ctx context.Context, itemID uint64, newPrice int64, requester string) (*models.Listing, error)
	Cancel(ctx context.Context, itemID uint64, requester string) error

	Get(ctx context.Context, itemID uint64) (*models.Listing, error)
	IsListed(ctx context.Context, itemID uint64) (bool, error)
	BySeller(ctx context.Context, seller string) ([]*models.Listing, error)
}

// Service implements ListingService
type Service struct {
	logger   *zap.Logger
	db       *gorm.DB
	stats    stats.StatsService
	recorder events.Recorder
	registry RegistryProvider
}

// NewService creates a new ListingService
func NewService(logger *zap.Logger, db *gorm.DB, statsSvc stats.StatsService, recorder events.Recorder, provider RegistryProvider) (ListingService, error) {
	svc := &Service{
		logger:   logger,
		db:       db,
		stats:    statsSvc,
		recorder: recorder,
		registry: provider,
	}

	return svc, nil
}

// Start starts the listing service
func (s *Service) Start() error {
	s.logger.Info("Listing service started")
	return nil
}

// Stop stops the listing service
func (s *Service) Stop() error {
	s.logger.Info("Listing service stopped")
	return nil
}

// Create opens a listing for an item. The seller must own the item in the
// registry at call time; ownership is checked on every call, never cached.
func (s *Service) Create(ctx context.Context, itemID uint64, price int64, seller string) (*models.Listing, error) {
	if price <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidPrice, price)
	}

	owner, err := s.registry().OwnerOf(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if owner != seller {
		return nil, fmt.Errorf("%w: item %d is owned by %s", ErrNotOwner, itemID, owner)
	}

	// Start transaction
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", tx.Error)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	now := time.Now()
	var existing models.Listing
	err = tx.Where("item_id = ?", itemID).First(&existing).Error
	switch {
	case err == nil && existing.Active:
		tx.Rollback()
		return nil, fmt.Errorf("%w: item %d", ErrAlreadyListed, itemID)
	case err == nil:
		// Reopen the retired row; the active guard loses gracefully to a
		// racing create
		res := tx.Model(&models.Listing{}).
			Where("item_id = ? AND active = ?", itemID, false).
			Updates(map[string]interface{}{
				"price":      price,
				"seller":     seller,
				"active":     true,
				"updated_at": now,
			})
		if res.Error != nil {
			tx.Rollback()
			return nil, fmt.Errorf("failed to reopen listing: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			tx.Rollback()
			return nil, fmt.Errorf("%w: item %d", ErrAlreadyListed, itemID)
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		record := &models.Listing{
			ItemID:    itemID,
			Price:     price,
			Seller:    seller,
			Active:    true,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.Create(record).Error; err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("failed to create listing: %w", err)
		}
	default:
		tx.Rollback()
		return nil, fmt.Errorf("failed to check listing: %w", err)
	}

	index := &models.OpenListing{Seller: seller, ItemID: itemID, CreatedAt: now}
	if err := tx.Create(index).Error; err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("failed to index listing: %w", err)
	}

	if err := s.stats.MarkListedTx(tx); err != nil {
		tx.Rollback()
		return nil, err
	}

	event, err := s.recorder.AppendTx(tx, models.EventTypeListed, itemID,
		events.ListedEvent{ItemID: itemID, Price: price, Seller: seller})
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	// Commit transaction
	if err := tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.recorder.Publish(ctx, event)
	s.logger.Info("Listing created",
		zap.Uint64("item_id", itemID),
		zap.Int64("price", price),
		zap.String("seller", seller))

	listing, err := s.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}
	return listing, nil
}

// ChangePrice updates the price of an open listing. Only the seller may
// reprice; the listing stays open.
func (s *Service) ChangePrice(ctx context.Context, itemID uint64, newPrice int64, requester string) (*models.Listing, error) {
	if newPrice <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidPrice, newPrice)
	}

	// Start transaction
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", tx.Error)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	var listing models.Listing
	if err := tx.Where("item_id = ? AND active = ?", itemID, true).First(&listing).Error; err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: item %d", ErrNotListed, itemID)
		}
		return nil, fmt.Errorf("failed to find listing: %w", err)
	}

	if listing.Seller != requester {
		tx.Rollback()
		return nil, fmt.Errorf("%w: listing for item %d belongs to %s", ErrNotSeller, itemID, listing.Seller)
	}

	oldPrice := listing.Price
	res := tx.Model(&models.Listing{}).
		Where("item_id = ? AND active = ?", itemID, true).
		Updates(map[string]interface{}{
			"price":      newPrice,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		tx.Rollback()
		return nil, fmt.Errorf("failed to update price: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		tx.Rollback()
		return nil, fmt.Errorf("%w: item %d", ErrNotListed, itemID)
	}

	event, err := s.recorder.AppendTx(tx, models.EventTypePriceChanged, itemID,
		events.PriceChangedEvent{ItemID: itemID, OldPrice: oldPrice, NewPrice: newPrice})
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	// Commit transaction
	if err := tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.recorder.Publish(ctx, event)
	s.logger.Info("Listing repriced",
		zap.Uint64("item_id", itemID),
		zap.Int64("old_price", oldPrice),
		zap.Int64("new_price", newPrice))

	listing.Price = newPrice
	return &listing, nil
}

// Cancel closes an open listing without a sale. Only the seller may cancel.
// The retired row stays behind with Active=false.
func (s *Service) Cancel(ctx context.Context, itemID uint64, requester string) error {
	// Start transaction
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return fmt.Errorf("failed to begin transaction: %w", tx.Error)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	var listing models.Listing
	if err := tx.Where("item_id = ? AND active = ?", itemID, true).First(&listing).Error; err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: item %d", ErrNotListed, itemID)
		}
		return fmt.Errorf("failed to find listing: %w", err)
	}

	if listing.Seller != requester {
		tx.Rollback()
		return fmt.Errorf("%w: listing for item %d belongs to %s", ErrNotSeller, itemID, listing.Seller)
	}

	res := tx.Model(&models.Listing{}).
		Where("item_id = ? AND active = ?", itemID, true).
		Updates(map[string]interface{}{
			"active":     false,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		tx.Rollback()
		return fmt.Errorf("failed to close listing: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		tx.Rollback()
		return fmt.Errorf("%w: item %d", ErrNotListed, itemID)
	}

	if err := tx.Where("seller = ? AND item_id = ?", listing.Seller, itemID).Delete(&models.OpenListing{}).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to drop listing index: %w", err)
	}

	if err := s.stats.MarkUnlistedTx(tx); err != nil {
		tx.Rollback()
		return err
	}

	event, err := s.recorder.AppendTx(tx, models.EventTypeUnlisted, itemID,
		events.UnlistedEvent{ItemID: itemID})
	if err != nil {
		tx.Rollback()
		return err
	}

	// Commit transaction
	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.recorder.Publish(ctx, event)
	s.logger.Info("Listing cancelled",
		zap.Uint64("item_id", itemID),
		zap.String("seller", listing.Seller))

	return nil
}

// Get returns the listing record for an item, open or retired
func (s *Service) Get(ctx context.Context, itemID uint64) (*models.Listing, error) {
	var listing models.Listing
	if err := s.db.WithContext(ctx).Where("item_id = ?", itemID).First(&listing).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: item %d", ErrNotListed, itemID)
		}
		return nil, fmt.Errorf("failed to find listing: %w", err)
	}
	return &listing, nil
}

// IsListed reports whether the item has an open listing
func (s *Service) IsListed(ctx context.Context, itemID uint64) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Listing{}).Where("item_id = ? AND active = ?", itemID, true).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check listing: %w", err)
	}
	return count > 0, nil
}

// BySeller returns the seller's open listings, resolved through the
// open-listing index
func (s *Service) BySeller(ctx context.Context, seller string) ([]*models.Listing, error) {
	var entries []models.OpenListing
	if err := s.db.WithContext(ctx).Where("seller = ?", seller).Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to read listing index: %w", err)
	}
	if len(entries) == 0 {
		return []*models.Listing{}, nil
	}

	ids := make([]uint64, 0, len(entries))
	for _, entry := range entries {
		ids = append(ids, entry.ItemID)
	}

	var listings []*models.Listing
	if err := s.db.WithContext(ctx).Where("item_id IN ? AND active = ?", ids, true).Order("item_id").Find(&listings).Error; err != nil {
		return nil, fmt.Errorf("failed to load listings: %w", err)
	}

	return listings, nil
}
