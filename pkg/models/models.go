package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Listing represents the sale offer for a single item. There is at most one
// row per item id; completed and cancelled offers keep the row with
// Active=false so the full history of an item stays queryable.
type Listing struct {
	ItemID    uint64    `json:"item_id" gorm:"primaryKey;autoIncrement:false" validate:"required"`
	Price     int64     `json:"price" validate:"required,gt=0"`
	Seller    string    `json:"seller" gorm:"index" validate:"required,min=1,max=100"`
	Active    bool      `json:"active" gorm:"index"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OpenListing is the membership index of currently open listings, keyed by
// seller. A row exists iff the seller has that item actively listed.
type OpenListing struct {
	Seller    string    `json:"seller" gorm:"primaryKey"`
	ItemID    uint64    `json:"item_id" gorm:"primaryKey;autoIncrement:false"`
	CreatedAt time.Time `json:"created_at"`
}

// Sale represents a completed purchase
type Sale struct {
	ID        uuid.UUID `json:"id" gorm:"primaryKey;type:uuid" validate:"required,uuid"`
	ItemID    uint64    `json:"item_id" gorm:"index" validate:"required"`
	Seller    string    `json:"seller" gorm:"index" validate:"required"`
	Buyer     string    `json:"buyer" gorm:"index" validate:"required"`
	Price     int64     `json:"price" validate:"required,gt=0"`
	Fee       int64     `json:"fee" validate:"min=0"`
	Refund    int64     `json:"refund" validate:"min=0"`
	CreatedAt time.Time `json:"created_at"`
}

// MarketStats is the singleton aggregate counters row. Only
// listing/settlement transactions mutate it.
type MarketStats struct {
	ID                  uint      `json:"-" gorm:"primaryKey"`
	TotalActiveListings int64     `json:"total_active_listings" validate:"min=0"`
	TotalSales          int64     `json:"total_sales" validate:"min=0"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// ItemSaleCount tracks how many times a single item has been sold
type ItemSaleCount struct {
	ItemID    uint64    `json:"item_id" gorm:"primaryKey;autoIncrement:false"`
	SaleCount int64     `json:"sale_count" validate:"min=0"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FundAccount represents a principal's spendable balance in smallest
// currency units. Balances never go negative.
type FundAccount struct {
	Principal string          `json:"principal" gorm:"primaryKey" validate:"required,min=1,max=100"`
	Balance   decimal.Decimal `json:"balance" gorm:"type:decimal(20,0);not null"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// FundTransaction represents a single balance movement
type FundTransaction struct {
	ID        uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid" validate:"required,uuid"`
	Principal string          `json:"principal" gorm:"index" validate:"required"`
	Type      string          `json:"type" validate:"required,oneof=deposit withdrawal payment proceeds fee refund"` // deposit, withdrawal, payment, proceeds, fee, refund
	Amount    decimal.Decimal `json:"amount" gorm:"type:decimal(20,0);not null"`
	Reference string          `json:"reference" validate:"omitempty,max=255"`
	CreatedAt time.Time       `json:"created_at"`
}

// Fund transaction types
const (
	FundTxDeposit    = "deposit"
	FundTxWithdrawal = "withdrawal"
	FundTxPayment    = "payment"
	FundTxProceeds   = "proceeds"
	FundTxFee        = "fee"
	FundTxRefund     = "refund"
)

// MarketEvent is the append-only audit log of market transitions. Seq is
// assigned by the database, so commit order is audit order.
type MarketEvent struct {
	Seq       uint64    `json:"seq" gorm:"primaryKey;autoIncrement"`
	Type      string    `json:"type" gorm:"index" validate:"required,oneof=listed sold price_changed unlisted fee_percentage_set"`
	ItemID    uint64    `json:"item_id" gorm:"index"`
	Payload   string    `json:"payload" gorm:"type:text" validate:"required,json"`
	CreatedAt time.Time `json:"created_at"`
}

// Market event types
const (
	EventTypeListed           = "listed"
	EventTypeSold             = "sold"
	EventTypePriceChanged     = "price_changed"
	EventTypeUnlisted         = "unlisted"
	EventTypeFeePercentageSet = "fee_percentage_set"
)

// MarketConfig is the singleton admin-mutable configuration row
type MarketConfig struct {
	ID              uint      `json:"-" gorm:"primaryKey"`
	FeePercent      uint32    `json:"fee_percent" validate:"lte=100"`
	RegistryAddress string    `json:"registry_address" validate:"omitempty,max=100"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ListRequest represents a request to put an item up for sale
type ListRequest struct {
	ItemID uint64 `json:"item_id" binding:"required" validate:"required"`
	Price  int64  `json:"price" binding:"required,gt=0" validate:"required,gt=0"`
}

// BuyRequest represents a purchase attempt for a listed item
type BuyRequest struct {
	Payment int64 `json:"payment" binding:"required,gt=0" validate:"required,gt=0"`
}

// ChangePriceRequest represents a price update for an open listing
type ChangePriceRequest struct {
	NewPrice int64 `json:"new_price" binding:"required,gt=0" validate:"required,gt=0"`
}

// FundRequest represents a deposit or withdrawal of spendable funds
type FundRequest struct {
	Amount int64 `json:"amount" binding:"required,gt=0" validate:"required,gt=0"`
}

// SetFeeRequest represents an admin fee percentage update. Percent is a
// pointer so zero survives required-binding.
type SetFeeRequest struct {
	Percent *uint32 `json:"percent" binding:"required" validate:"required"`
}

// SetRegistryRequest represents an admin registry rebind
type SetRegistryRequest struct {
	Address string `json:"address" binding:"required" validate:"required,min=1,max=100"`
}
