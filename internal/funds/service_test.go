package funds

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Aidin1998/assetex/pkg/models"
)

func setupTestService(t *testing.T) *Service {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	// One connection keeps every session on the same in-memory database
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	db.AutoMigrate(&models.FundAccount{}, &models.FundTransaction{})
	return &Service{logger: zap.NewNop(), db: db}
}

func TestDepositCreatesAccount(t *testing.T) {
	s := setupTestService(t)
	ctx := context.Background()

	record, err := s.Deposit(ctx, "alice", 500)
	require.NoError(t, err)
	assert.Equal(t, models.FundTxDeposit, record.Type)
	assert.Equal(t, "alice", record.Principal)

	balance, err := s.BalanceOf(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(500), balance.IntPart())

	// Second deposit accumulates
	_, err = s.Deposit(ctx, "alice", 250)
	require.NoError(t, err)
	balance, err = s.BalanceOf(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(750), balance.IntPart())
}

func TestBalanceOfUnknownPrincipalIsZero(t *testing.T) {
	s := setupTestService(t)

	balance, err := s.BalanceOf(context.Background(), "nobody")
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
}

func TestWithdraw(t *testing.T) {
	s := setupTestService(t)
	ctx := context.Background()

	_, err := s.Deposit(ctx, "bob", 300)
	require.NoError(t, err)

	record, err := s.Withdraw(ctx, "bob", 100)
	require.NoError(t, err)
	assert.Equal(t, models.FundTxWithdrawal, record.Type)
	assert.Equal(t, int64(-100), record.Amount.IntPart())

	balance, _ := s.BalanceOf(ctx, "bob")
	assert.Equal(t, int64(200), balance.IntPart())

	// Down to exactly zero is allowed
	_, err = s.Withdraw(ctx, "bob", 200)
	require.NoError(t, err)
	balance, _ = s.BalanceOf(ctx, "bob")
	assert.True(t, balance.IsZero())

	_, err = s.Withdraw(ctx, "bob", 1)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestWithdrawWithoutAccount(t *testing.T) {
	s := setupTestService(t)

	_, err := s.Withdraw(context.Background(), "ghost", 10)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestInvalidAmounts(t *testing.T) {
	s := setupTestService(t)
	ctx := context.Background()

	_, err := s.Deposit(ctx, "carol", 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = s.Deposit(ctx, "carol", -5)
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = s.Withdraw(ctx, "carol", 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestConcurrentWithdrawalsNeverOverdraw(t *testing.T) {
	s := setupTestService(t)
	ctx := context.Background()

	_, err := s.Deposit(ctx, "dave", 100)
	require.NoError(t, err)

	wg := sync.WaitGroup{}
	n := 10
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, errs[idx] = s.Withdraw(ctx, "dave", 30)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ErrInsufficientFunds)
		}
	}
	// 100 covers exactly three withdrawals of 30
	assert.Equal(t, 3, succeeded)

	balance, _ := s.BalanceOf(ctx, "dave")
	assert.Equal(t, int64(10), balance.IntPart())
}

func TestDebitCreditRollBackWithTransaction(t *testing.T) {
	s := setupTestService(t)
	ctx := context.Background()

	_, err := s.Deposit(ctx, "erin", 1000)
	require.NoError(t, err)

	tx := s.db.Begin()
	require.NoError(t, tx.Error)
	_, err = s.DebitTx(tx, "erin", 400, models.FundTxPayment, "sale-1")
	require.NoError(t, err)
	_, err = s.CreditTx(tx, "frank", 400, models.FundTxProceeds, "sale-1")
	require.NoError(t, err)
	tx.Rollback()

	erinBalance, _ := s.BalanceOf(ctx, "erin")
	frankBalance, _ := s.BalanceOf(ctx, "frank")
	assert.Equal(t, int64(1000), erinBalance.IntPart())
	assert.True(t, frankBalance.IsZero())

	_, count, err := s.History(ctx, "erin", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "only the deposit survives the rollback")
}

func TestHistory(t *testing.T) {
	s := setupTestService(t)
	ctx := context.Background()

	_, err := s.Deposit(ctx, "grace", 100)
	require.NoError(t, err)
	_, err = s.Deposit(ctx, "grace", 200)
	require.NoError(t, err)
	_, err = s.Withdraw(ctx, "grace", 50)
	require.NoError(t, err)

	records, count, err := s.History(ctx, "grace", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
	assert.Len(t, records, 3)

	page, count, err := s.History(ctx, "grace", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
	assert.Len(t, page, 2)
}
