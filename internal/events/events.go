// Package events records market transitions and fans them out to
// subscribers. The durable log row is written inside the mutating
// transaction, so the audit order is the commit order; external publishers
// are fed after commit and never influence the mutation's outcome.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Aidin1998/assetex/pkg/models"
)

// ListedEvent is emitted when an item is put up for sale
type ListedEvent struct {
	ItemID uint64 `json:"item_id"`
	Price  int64  `json:"price"`
	Seller string `json:"seller"`
}

// SoldEvent is emitted when a purchase settles
type SoldEvent struct {
	ItemID uint64 `json:"item_id"`
	Price  int64  `json:"price"`
	Seller string `json:"seller"`
	Buyer  string `json:"buyer"`
}

// PriceChangedEvent is emitted when an open listing is repriced
type PriceChangedEvent struct {
	ItemID   uint64 `json:"item_id"`
	OldPrice int64  `json:"old_price"`
	NewPrice int64  `json:"new_price"`
}

// UnlistedEvent is emitted when a listing is cancelled
type UnlistedEvent struct {
	ItemID uint64 `json:"item_id"`
}

// FeePercentageSetEvent is emitted when the admin changes the fee
type FeePercentageSetEvent struct {
	OldPercent uint32 `json:"old_percent"`
	NewPercent uint32 `json:"new_percent"`
}

// Recorder appends market events and distributes them
type Recorder interface {
	// AppendTx writes the event row inside the caller's transaction
	AppendTx(tx *gorm.DB, eventType string, itemID uint64, payload interface{}) (*models.MarketEvent, error)
	// Publish fans a committed event out to the configured publishers
	Publish(ctx context.Context, event *models.MarketEvent)
	// Recent returns the latest events, newest first
	Recent(ctx context.Context, limit int) ([]*models.MarketEvent, error)
}

// Service implements Recorder
type Service struct {
	logger     *zap.Logger
	db         *gorm.DB
	topic      string
	publishers []Publisher
	hub        *Hub
}

// NewService creates a new event Recorder. hub may be nil when no live feed
// is served.
func NewService(logger *zap.Logger, db *gorm.DB, topic string, publishers []Publisher, hub *Hub) (Recorder, error) {
	svc := &Service{
		logger:     logger,
		db:         db,
		topic:      topic,
		publishers: publishers,
		hub:        hub,
	}

	return svc, nil
}

// AppendTx writes the event row inside the caller's transaction. The
// database assigns Seq on insert.
func (s *Service) AppendTx(tx *gorm.DB, eventType string, itemID uint64, payload interface{}) (*models.MarketEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}

	event := &models.MarketEvent{
		Type:      eventType,
		ItemID:    itemID,
		Payload:   string(data),
		CreatedAt: time.Now(),
	}
	if err := tx.Create(event).Error; err != nil {
		return nil, fmt.Errorf("failed to append event: %w", err)
	}

	return event, nil
}

// Publish fans a committed event out to the configured publishers. Failures
// are logged and swallowed; the audit row has already committed.
func (s *Service) Publish(ctx context.Context, event *models.MarketEvent) {
	if event == nil {
		return
	}

	successCount := 0
	for i, publisher := range s.publishers {
		if err := publisher.PublishEvent(ctx, s.topic, event); err != nil {
			s.logger.Error("failed to publish event",
				zap.Int("publisher_index", i),
				zap.String("event_type", event.Type),
				zap.Uint64("seq", event.Seq),
				zap.Error(err),
			)
		} else {
			successCount++
		}
	}

	if s.hub != nil {
		if data, err := json.Marshal(event); err == nil {
			s.hub.Broadcast(event.Seq, data)
		}
	}

	s.logger.Info("published market event",
		zap.String("event_type", event.Type),
		zap.Uint64("seq", event.Seq),
		zap.Uint64("item_id", event.ItemID),
		zap.Int("publishers_success", successCount),
		zap.Int("publishers_total", len(s.publishers)),
	)
}

// Recent returns the latest events, newest first
func (s *Service) Recent(ctx context.Context, limit int) ([]*models.MarketEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	var events []*models.MarketEvent
	if err := s.db.WithContext(ctx).Order("seq DESC").Limit(limit).Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to load events: %w", err)
	}

	return events, nil
}
