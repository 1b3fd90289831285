package events

import (
	"context"
	"encoding/json"
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
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	db.AutoMigrate(&models.MarketEvent{})
	return &Service{logger: zap.NewNop(), db: db, topic: "market.events"}
}

func TestAppendAssignsIncreasingSequence(t *testing.T) {
	s := setupTestService(t)

	tx := s.db.Begin()
	first, err := s.AppendTx(tx, models.EventTypeListed, 1, ListedEvent{ItemID: 1, Price: 100, Seller: "alice"})
	require.NoError(t, err)
	second, err := s.AppendTx(tx, models.EventTypePriceChanged, 1, PriceChangedEvent{ItemID: 1, OldPrice: 100, NewPrice: 90})
	require.NoError(t, err)
	require.NoError(t, tx.Commit().Error)

	assert.Greater(t, second.Seq, first.Seq)
}

func TestAppendRollsBackWithTransaction(t *testing.T) {
	s := setupTestService(t)

	tx := s.db.Begin()
	_, err := s.AppendTx(tx, models.EventTypeUnlisted, 5, UnlistedEvent{ItemID: 5})
	require.NoError(t, err)
	tx.Rollback()

	events, err := s.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestRecentNewestFirstWithPayloads(t *testing.T) {
	s := setupTestService(t)

	tx := s.db.Begin()
	_, err := s.AppendTx(tx, models.EventTypeListed, 7, ListedEvent{ItemID: 7, Price: 100, Seller: "alice"})
	require.NoError(t, err)
	_, err = s.AppendTx(tx, models.EventTypeSold, 7, SoldEvent{ItemID: 7, Price: 100, Seller: "alice", Buyer: "bob"})
	require.NoError(t, err)
	require.NoError(t, tx.Commit().Error)

	events, err := s.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, models.EventTypeSold, events[0].Type)
	assert.Equal(t, models.EventTypeListed, events[1].Type)

	var sold SoldEvent
	require.NoError(t, json.Unmarshal([]byte(events[0].Payload), &sold))
	assert.Equal(t, "bob", sold.Buyer)
	assert.Equal(t, int64(100), sold.Price)
}

func TestRingBufferReplay(t *testing.T) {
	rb := newRingBuffer(3)
	for seq := uint64(1); seq <= 5; seq++ {
		rb.add(feedMessage{Seq: seq, Data: []byte{byte(seq)}})
	}

	// Oldest two entries were overwritten
	msgs := rb.getSince(0)
	require.Len(t, msgs, 3)
	assert.Equal(t, uint64(3), msgs[0].Seq)
	assert.Equal(t, uint64(5), msgs[2].Seq)

	msgs = rb.getSince(4)
	require.Len(t, msgs, 1)
	assert.Equal(t, uint64(5), msgs[0].Seq)
}
