// Package marketplace is the public face of the market. It serializes
// mutations per item, holds the admin-mutable configuration (fee percentage
// and registry binding) and fans reads out to the underlying services.
package marketplace

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Aidin1998/assetex/internal/admin"
	"github.com/Aidin1998/assetex/internal/config"
	"github.com/Aidin1998/assetex/internal/events"
	"github.com/Aidin1998/assetex/internal/fees"
	"github.com/Aidin1998/assetex/internal/funds"
	"github.com/Aidin1998/assetex/internal/listing"
	"github.com/Aidin1998/assetex/internal/registry"
	"github.com/Aidin1998/assetex/internal/settlement"
	"github.com/Aidin1998/assetex/internal/stats"
	"github.com/Aidin1998/assetex/pkg/metrics"
	"github.com/Aidin1998/assetex/pkg/models"
)

// ErrRegistryFixed is returned when the bound registry does not support
// switching contracts at runtime
var ErrRegistryFixed = errors.New("registry binding cannot be changed")

const configRowID = 1

// MarketService is the application-facing marketplace API
type MarketService interface {
	Start() error
	Stop() error

	List(ctx context.Context, itemID uint64, price int64, seller string) (*models.Listing, error)
	Buy(ctx context.Context, itemID uint64, buyer string, payment int64) (*models.Sale, error)
	ChangePrice(ctx context.Context, itemID uint64, newPrice int64, requester string) (*models.Listing, error)
	Unlist(ctx context.Context, itemID uint64, requester string) error

	SetFeePercent(ctx context.Context, requester string, percent uint32) error
	SetRegistry(ctx context.Context, requester, address string) error

	GetListing(ctx context.Context, itemID uint64) (*models.Listing, error)
	IsListed(ctx context.Context, itemID uint64) (bool, error)
	ListingsBySeller(ctx context.Context, seller string) ([]*models.Listing, error)
	FeePercent() uint32
	OwnsItem(ctx context.Context, itemID uint64, principal string) (bool, error)
	TotalListings(ctx context.Context) (int64, error)
	TotalSales(ctx context.Context) (int64, error)
	SaleCountOf(ctx context.Context, itemID uint64) (int64, error)
	SalesOf(ctx context.Context, itemID uint64) ([]*models.Sale, error)
	SalesHistory(ctx context.Context, limit, offset int) ([]*models.Sale, int64, error)
}

// Service implements MarketService
type Service struct {
	logger     *zap.Logger
	db         *gorm.DB
	guard      *admin.Guard
	stats      stats.StatsService
	recorder   events.Recorder
	listings   listing.ListingService
	settlement settlement.SettlementService

	// admin-mutable state, guarded by stateMu
	stateMu    sync.RWMutex
	reg        registry.AssetRegistry
	feePercent uint32

	muMap     map[uint64]*sync.Mutex
	muMapLock sync.Mutex // protects muMap
}

// NewService creates the marketplace facade and its listing and settlement
// services. The fee percentage is loaded from the persisted configuration
// row, so a restart keeps the last admin-set value.
func NewService(logger *zap.Logger, db *gorm.DB, cfg config.MarketConfig, reg registry.AssetRegistry, statsSvc stats.StatsService, fundsSvc funds.FundService, recorder events.Recorder) (MarketService, error) {
	svc := &Service{
		logger:   logger,
		db:       db,
		guard:    admin.NewGuard(cfg.AdminPrincipal),
		stats:    statsSvc,
		recorder: recorder,
		reg:      reg,
	}

	var conf models.MarketConfig
	err := db.Where(models.MarketConfig{ID: configRowID}).
		Attrs(models.MarketConfig{FeePercent: cfg.DefaultFeePercent}).
		FirstOrCreate(&conf).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load market config: %w", err)
	}
	svc.feePercent = conf.FeePercent

	listingSvc, err := listing.NewService(logger, db, statsSvc, recorder, svc.Registry)
	if err != nil {
		return nil, err
	}
	svc.listings = listingSvc

	settlementSvc, err := settlement.NewService(logger, db, fundsSvc, statsSvc, recorder, svc.Registry, svc.FeePercent, cfg.TreasuryPrincipal)
	if err != nil {
		return nil, err
	}
	svc.settlement = settlementSvc

	return svc, nil
}

// Start starts the marketplace service
func (s *Service) Start() error {
	if err := s.listings.Start(); err != nil {
		return err
	}
	if err := s.settlement.Start(); err != nil {
		return err
	}

	// Seed the gauge from the persisted counter so restarts report the
	// real number of open listings
	if active, err := s.stats.TotalActiveListings(context.Background()); err == nil {
		metrics.ListingsActive.Set(float64(active))
	}

	s.logger.Info("Marketplace service started",
		zap.String("admin", s.guard.Admin()),
		zap.Uint32("fee_percent", s.FeePercent()))
	return nil
}

// Stop stops the marketplace service
func (s *Service) Stop() error {
	if err := s.settlement.Stop(); err != nil {
		return err
	}
	if err := s.listings.Stop(); err != nil {
		return err
	}
	s.logger.Info("Marketplace service stopped")
	return nil
}

// getItemMutex returns a mutex for the given item (item-level lock)
func (s *Service) getItemMutex(itemID uint64) *sync.Mutex {
	s.muMapLock.Lock()
	if s.muMap == nil {
		s.muMap = make(map[uint64]*sync.Mutex)
	}
	mu, ok := s.muMap[itemID]
	if !ok {
		mu = &sync.Mutex{}
		s.muMap[itemID] = mu
	}
	s.muMapLock.Unlock()
	return mu
}

// Registry returns the currently bound asset registry
func (s *Service) Registry() registry.AssetRegistry {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.reg
}

// FeePercent returns the current marketplace fee percentage
func (s *Service) FeePercent() uint32 {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.feePercent
}

// List opens a listing for an item owned by the seller
func (s *Service) List(ctx context.Context, itemID uint64, price int64, seller string) (*models.Listing, error) {
	mu := s.getItemMutex(itemID)
	mu.Lock()
	defer mu.Unlock()

	created, err := s.listings.Create(ctx, itemID, price, seller)
	if err != nil {
		metrics.OperationErrors.WithLabelValues("list").Inc()
		return nil, err
	}
	metrics.ListingsActive.Inc()
	return created, nil
}

// Buy purchases a listed item for the buyer
func (s *Service) Buy(ctx context.Context, itemID uint64, buyer string, payment int64) (*models.Sale, error) {
	mu := s.getItemMutex(itemID)
	mu.Lock()
	defer mu.Unlock()

	start := time.Now()
	sale, err := s.settlement.Buy(ctx, itemID, buyer, payment)
	if err != nil {
		metrics.OperationErrors.WithLabelValues("buy").Inc()
		return nil, err
	}
	metrics.SettlementLatency.Observe(time.Since(start).Seconds())
	metrics.SalesSettled.Inc()
	metrics.FeesCollected.Add(float64(sale.Fee))
	metrics.ListingsActive.Dec()
	return sale, nil
}

// ChangePrice reprices an open listing
func (s *Service) ChangePrice(ctx context.Context, itemID uint64, newPrice int64, requester string) (*models.Listing, error) {
	mu := s.getItemMutex(itemID)
	mu.Lock()
	defer mu.Unlock()

	updated, err := s.listings.ChangePrice(ctx, itemID, newPrice, requester)
	if err != nil {
		metrics.OperationErrors.WithLabelValues("change_price").Inc()
		return nil, err
	}
	return updated, nil
}

// Unlist closes an open listing without a sale
func (s *Service) Unlist(ctx context.Context, itemID uint64, requester string) error {
	mu := s.getItemMutex(itemID)
	mu.Lock()
	defer mu.Unlock()

	if err := s.listings.Cancel(ctx, itemID, requester); err != nil {
		metrics.OperationErrors.WithLabelValues("unlist").Inc()
		return err
	}
	metrics.ListingsActive.Dec()
	return nil
}

// SetFeePercent changes the marketplace fee percentage. Admin only. The new
// value applies to purchases settled after the change; in-flight purchases
// keep the percentage they started with.
func (s *Service) SetFeePercent(ctx context.Context, requester string, percent uint32) error {
	if err := s.guard.RequireAdmin(requester); err != nil {
		return err
	}
	if err := fees.ValidatePercent(percent); err != nil {
		return err
	}

	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	oldPercent := s.feePercent

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

	res := tx.Model(&models.MarketConfig{}).
		Where("id = ?", configRowID).
		Updates(map[string]interface{}{
			"fee_percent": percent,
			"updated_at":  time.Now(),
		})
	if res.Error != nil {
		tx.Rollback()
		return fmt.Errorf("failed to persist fee percent: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		tx.Rollback()
		return errors.New("market config row missing")
	}

	event, err := s.recorder.AppendTx(tx, models.EventTypeFeePercentageSet, 0,
		events.FeePercentageSetEvent{OldPercent: oldPercent, NewPercent: percent})
	if err != nil {
		tx.Rollback()
		return err
	}

	// Commit transaction
	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.feePercent = percent
	s.recorder.Publish(ctx, event)
	s.logger.Info("Fee percentage changed",
		zap.Uint32("old_percent", oldPercent),
		zap.Uint32("new_percent", percent))

	return nil
}

// SetRegistry points the market at a different registry contract. Admin
// only. Only rebindable registry backends support this.
func (s *Service) SetRegistry(ctx context.Context, requester, address string) error {
	if err := s.guard.RequireAdmin(requester); err != nil {
		return err
	}
	if address == "" {
		return errors.New("registry address is required")
	}

	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	rebindable, ok := s.reg.(registry.Rebindable)
	if !ok {
		return ErrRegistryFixed
	}
	if err := rebindable.Rebind(address); err != nil {
		return err
	}

	err := s.db.WithContext(ctx).Model(&models.MarketConfig{}).
		Where("id = ?", configRowID).
		Updates(map[string]interface{}{
			"registry_address": address,
			"updated_at":       time.Now(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to persist registry address: %w", err)
	}

	s.logger.Info("Registry rebound", zap.String("address", address))
	return nil
}

// GetListing returns the listing record for an item, open or retired
func (s *Service) GetListing(ctx context.Context, itemID uint64) (*models.Listing, error) {
	return s.listings.Get(ctx, itemID)
}

// IsListed reports whether the item has an open listing
func (s *Service) IsListed(ctx context.Context, itemID uint64) (bool, error) {
	return s.listings.IsListed(ctx, itemID)
}

// ListingsBySeller returns the seller's open listings
func (s *Service) ListingsBySeller(ctx context.Context, seller string) ([]*models.Listing, error) {
	return s.listings.BySeller(ctx, seller)
}

// OwnsItem reports whether the principal owns the item in the registry
func (s *Service) OwnsItem(ctx context.Context, itemID uint64, principal string) (bool, error) {
	owner, err := s.Registry().OwnerOf(ctx, itemID)
	if err != nil {
		return false, err
	}
	return owner == principal, nil
}

// TotalListings returns the number of currently open listings
func (s *Service) TotalListings(ctx context.Context) (int64, error) {
	return s.stats.TotalActiveListings(ctx)
}

// TotalSales returns the number of settled sales
func (s *Service) TotalSales(ctx context.Context) (int64, error) {
	return s.stats.TotalSales(ctx)
}

// SaleCountOf returns how many times the item has been sold
func (s *Service) SaleCountOf(ctx context.Context, itemID uint64) (int64, error) {
	return s.stats.SaleCountOf(ctx, itemID)
}

// SalesOf returns the sale history of one item, newest first
func (s *Service) SalesOf(ctx context.Context, itemID uint64) ([]*models.Sale, error) {
	return s.settlement.SalesOf(ctx, itemID)
}

// SalesHistory returns settled sales across all items, newest first
func (s *Service) SalesHistory(ctx context.Context, limit, offset int) ([]*models.Sale, int64, error) {
	return s.settlement.History(ctx, limit, offset)
}
