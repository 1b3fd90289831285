package funds

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Aidin1998/assetex/pkg/models"
)

var (
	// ErrInsufficientFunds is returned when a debit exceeds the balance
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInvalidAmount is returned for zero or negative amounts
	ErrInvalidAmount = errors.New("amount must be positive")
)

// FundService defines the fund ledger operations. Amounts are int64 in the
// smallest currency unit; stored balances are decimal and never go negative.
type FundService interface {
	Start() error
	Stop() error
	Deposit(ctx context.Context, principal string, amount int64) (*models.FundTransaction, error)
	Withdraw(ctx context.Context, principal string, amount int64) (*models.FundTransaction, error)
	BalanceOf(ctx context.Context, principal string) (decimal.Decimal, error)
	History(ctx context.Context, principal string, limit, offset int) ([]*models.FundTransaction, int64, error)

	// DebitTx and CreditTx run inside the caller's transaction and roll
	// back with it
	DebitTx(tx *gorm.DB, principal string, amount int64, txType, reference string) (*models.FundTransaction, error)
	CreditTx(tx *gorm.DB, principal string, amount int64, txType, reference string) (*models.FundTransaction, error)
}

// Service implements FundService
type Service struct {
	logger *zap.Logger
	db     *gorm.DB
}

// NewService creates a new FundService
func NewService(logger *zap.Logger, db *gorm.DB) (FundService, error) {
	svc := &Service{
		logger: logger,
		db:     db,
	}

	return svc, nil
}

// Start starts the fund service
func (s *Service) Start() error {
	s.logger.Info("Fund service started")
	return nil
}

// Stop stops the fund service
func (s *Service) Stop() error {
	s.logger.Info("Fund service stopped")
	return nil
}

// Deposit adds spendable funds to a principal's account, creating the
// account on first use
func (s *Service) Deposit(ctx context.Context, principal string, amount int64) (*models.FundTransaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidAmount, amount)
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

	record, err := s.CreditTx(tx, principal, amount, models.FundTxDeposit, "")
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	// Commit transaction
	if err := tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Info("Deposit completed",
		zap.String("principal", principal),
		zap.Int64("amount", amount))

	return record, nil
}

// Withdraw removes spendable funds from a principal's account
func (s *Service) Withdraw(ctx context.Context, principal string, amount int64) (*models.FundTransaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidAmount, amount)
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

	record, err := s.DebitTx(tx, principal, amount, models.FundTxWithdrawal, "")
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	// Commit transaction
	if err := tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Info("Withdrawal completed",
		zap.String("principal", principal),
		zap.Int64("amount", amount))

	return record, nil
}

// BalanceOf returns the principal's spendable balance. Principals without an
// account have a zero balance.
func (s *Service) BalanceOf(ctx context.Context, principal string) (decimal.Decimal, error) {
	var account models.FundAccount
	if err := s.db.WithContext(ctx).Where("principal = ?", principal).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("failed to find account: %w", err)
	}

	return account.Balance, nil
}

// History returns the principal's fund transactions, newest first
func (s *Service) History(ctx context.Context, principal string, limit, offset int) ([]*models.FundTransaction, int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.FundTransaction{}).Where("principal = ?", principal).Count(&count).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count transactions: %w", err)
	}

	var transactions []*models.FundTransaction
	if err := s.db.WithContext(ctx).Where("principal = ?", principal).Order("created_at DESC").Limit(limit).Offset(offset).Find(&transactions).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to find transactions: %w", err)
	}

	return transactions, count, nil
}

// DebitTx subtracts from the principal's balance inside the caller's
// transaction. The balance guard in the update makes a racing overdraw
// impossible; zero affected rows means the funds are not there.
func (s *Service) DebitTx(tx *gorm.DB, principal string, amount int64, txType, reference string) (*models.FundTransaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidAmount, amount)
	}

	res := tx.Model(&models.FundAccount{}).
		Where("principal = ? AND balance >= ?", principal, amount).
		Updates(map[string]interface{}{
			"balance":    gorm.Expr("balance - ?", amount),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return nil, fmt.Errorf("failed to debit account: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: principal %s cannot cover %d", ErrInsufficientFunds, principal, amount)
	}

	record := &models.FundTransaction{
		ID:        uuid.New(),
		Principal: principal,
		Type:      txType,
		Amount:    decimal.NewFromInt(amount).Neg(),
		Reference: reference,
		CreatedAt: time.Now(),
	}
	if err := tx.Create(record).Error; err != nil {
		return nil, fmt.Errorf("failed to record debit: %w", err)
	}

	return record, nil
}

// CreditTx adds to the principal's balance inside the caller's transaction,
// creating the account on first use
func (s *Service) CreditTx(tx *gorm.DB, principal string, amount int64, txType, reference string) (*models.FundTransaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidAmount, amount)
	}

	var account models.FundAccount
	err := tx.Where(models.FundAccount{Principal: principal}).
		Attrs(models.FundAccount{Balance: decimal.Zero}).
		FirstOrCreate(&account).Error
	if err != nil {
		return nil, fmt.Errorf("failed to ensure account: %w", err)
	}

	res := tx.Model(&models.FundAccount{}).
		Where("principal = ?", principal).
		Updates(map[string]interface{}{
			"balance":    gorm.Expr("balance + ?", amount),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return nil, fmt.Errorf("failed to credit account: %w", res.Error)
	}

	record := &models.FundTransaction{
		ID:        uuid.New(),
		Principal: principal,
		Type:      txType,
		Amount:    decimal.NewFromInt(amount),
		Reference: reference,
		CreatedAt: time.Now(),
	}
	if err := tx.Create(record).Error; err != nil {
		return nil, fmt.Errorf("failed to record credit: %w", err)
	}

	return record, nil
}
