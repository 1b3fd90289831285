// Package settlement executes purchases. A purchase retires the listing,
// splits the payment between seller, treasury and buyer refund, records the
// sale and hands the item over in the asset registry, all inside a single
// database transaction. If any step fails the transaction rolls back and the
// listing stays open, so a buyer can never pay without receiving the item
// and a seller can never lose the item without being paid.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Aidin1998/assetex/internal/events"
	"github.com/Aidin1998/assetex/internal/fees"
	"github.com/Aidin1998/assetex/internal/funds"
	"github.com/Aidin1998/assetex/internal/listing"
	"github.com/Aidin1998/assetex/internal/stats"
	"github.com/Aidin1998/assetex/pkg/models"
)

var (
	// ErrInsufficientPayment is returned when the offered payment does not
	// cover the listing price
	ErrInsufficientPayment = errors.New("payment does not cover the listing price")
	// ErrSelfPurchase is returned when a seller tries to buy their own listing
	ErrSelfPurchase = errors.New("seller cannot buy their own listing")
	// ErrTransferFailed is returned when the asset registry rejects the handover
	ErrTransferFailed = errors.New("asset transfer failed")
	// ErrPayoutFailed is returned when a payment split cannot be recorded
	ErrPayoutFailed = errors.New("payout failed")
)

// FeeProvider returns the current marketplace fee percentage. The value is
// admin-mutable, so it is resolved per purchase.
type FeeProvider func() uint32

// SettlementService executes and records purchases
type SettlementService interface {
	Start() error
	Stop() error

	Buy(ctx context.Context, itemID uint64, buyer string, payment int64) (*models.Sale, error)

	SalesOf(ctx context.Context, itemID uint64) ([]*models.Sale, error)
	History(ctx context.Context, limit, offset int) ([]*models.Sale, int64, error)
}

// Service implements SettlementService
type Service struct {
	logger   *zap.Logger
	db       *gorm.DB
	funds    funds.FundService
	stats    stats.StatsService
	recorder events.Recorder
	registry listing.RegistryProvider
	fee      FeeProvider
	treasury string
}

// NewService creates a new SettlementService
func NewService(logger *zap.Logger, db *gorm.DB, fundsSvc funds.FundService, statsSvc stats.StatsService, recorder events.Recorder, provider listing.RegistryProvider, fee FeeProvider, treasury string) (SettlementService, error) {
	if treasury == "" {
		return nil, errors.New("treasury principal is required")
	}

	svc := &Service{
		logger:   logger,
		db:       db,
		funds:    fundsSvc,
		stats:    statsSvc,
		recorder: recorder,
		registry: provider,
		fee:      fee,
		treasury: treasury,
	}

	return svc, nil
}

// Start starts the settlement service
func (s *Service) Start() error {
	s.logger.Info("Settlement service started")
	return nil
}

// Stop stops the settlement service
func (s *Service) Stop() error {
	s.logger.Info("Settlement service stopped")
	return nil
}

// Buy settles a purchase. The payment amount is committed in full: the
// seller receives price minus fee, the treasury receives the fee, and any
// overpayment is returned to the buyer as a refund entry in the same
// transaction. The ledger is written first and the registry handover runs
// last, so a rejected handover aborts the purchase with nothing spent.
func (s *Service) Buy(ctx context.Context, itemID uint64, buyer string, payment int64) (*models.Sale, error) {
	// Resolve the admin-mutable bindings before the transaction starts. The
	// purchase settles with the fee and registry it started with.
	feePercent := s.fee()
	reg := s.registry()

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

	var lst models.Listing
	if err := tx.Where("item_id = ? AND active = ?", itemID, true).First(&lst).Error; err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: item %d", listing.ErrNotListed, itemID)
		}
		return nil, fmt.Errorf("failed to find listing: %w", err)
	}

	seller := lst.Seller
	price := lst.Price
	if buyer == seller {
		tx.Rollback()
		return nil, fmt.Errorf("%w: item %d", ErrSelfPurchase, itemID)
	}
	if payment < price {
		tx.Rollback()
		return nil, fmt.Errorf("%w: offered %d, price is %d", ErrInsufficientPayment, payment, price)
	}

	// Retire the listing. The active guard makes concurrent purchases of
	// the same item resolve to exactly one winner.
	res := tx.Model(&models.Listing{}).
		Where("item_id = ? AND active = ?", itemID, true).
		Updates(map[string]interface{}{
			"active":     false,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		tx.Rollback()
		return nil, fmt.Errorf("failed to retire listing: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		tx.Rollback()
		return nil, fmt.Errorf("%w: item %d", listing.ErrNotListed, itemID)
	}

	if err := tx.Where("seller = ? AND item_id = ?", seller, itemID).Delete(&models.OpenListing{}).Error; err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("failed to drop listing index: %w", err)
	}

	if err := s.stats.MarkSoldTx(tx, itemID); err != nil {
		tx.Rollback()
		return nil, err
	}

	split := fees.Split(price, payment, feePercent)

	saleID := uuid.New()
	reference := fmt.Sprintf("sale:%s", saleID)

	if _, err := s.funds.DebitTx(tx, buyer, payment, models.FundTxPayment, reference); err != nil {
		tx.Rollback()
		return nil, err
	}
	if split.SellerProceeds > 0 {
		if _, err := s.funds.CreditTx(tx, seller, split.SellerProceeds, models.FundTxProceeds, reference); err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("%w: seller proceeds: %v", ErrPayoutFailed, err)
		}
	}
	if split.Fee > 0 {
		if _, err := s.funds.CreditTx(tx, s.treasury, split.Fee, models.FundTxFee, reference); err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("%w: treasury fee: %v", ErrPayoutFailed, err)
		}
	}
	if split.Refund > 0 {
		if _, err := s.funds.CreditTx(tx, buyer, split.Refund, models.FundTxRefund, reference); err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("%w: buyer refund: %v", ErrPayoutFailed, err)
		}
	}

	sale := &models.Sale{
		ID:        saleID,
		ItemID:    itemID,
		Seller:    seller,
		Buyer:     buyer,
		Price:     price,
		Fee:       split.Fee,
		Refund:    split.Refund,
		CreatedAt: time.Now(),
	}
	if err := tx.Create(sale).Error; err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("failed to record sale: %w", err)
	}

	event, err := s.recorder.AppendTx(tx, models.EventTypeSold, itemID,
		events.SoldEvent{ItemID: itemID, Price: price, Seller: seller, Buyer: buyer})
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	// Hand the item over last, after every ledger write has succeeded. A
	// rejected handover rolls back the whole purchase.
	if err := reg.Transfer(ctx, itemID, seller, buyer); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	// Commit transaction
	if err := tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.recorder.Publish(ctx, event)
	s.logger.Info("Purchase settled",
		zap.Uint64("item_id", itemID),
		zap.String("seller", seller),
		zap.String("buyer", buyer),
		zap.Int64("price", price),
		zap.Int64("fee", split.Fee),
		zap.Int64("refund", split.Refund))

	return sale, nil
}

// SalesOf returns the sale history of one item, newest first
func (s *Service) SalesOf(ctx context.Context, itemID uint64) ([]*models.Sale, error) {
	var sales []*models.Sale
	if err := s.db.WithContext(ctx).Where("item_id = ?", itemID).Order("created_at DESC").Find(&sales).Error; err != nil {
		return nil, fmt.Errorf("failed to load sales: %w", err)
	}
	return sales, nil
}

// History returns settled sales across all items, newest first
func (s *Service) History(ctx context.Context, limit, offset int) ([]*models.Sale, int64, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var total int64
	if err := s.db.WithContext(ctx).Model(&models.Sale{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count sales: %w", err)
	}

	var sales []*models.Sale
	if err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Offset(offset).Find(&sales).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to load sales: %w", err)
	}

	return sales, total, nil
}
