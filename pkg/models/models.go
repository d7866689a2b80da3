package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order types
const (
	OrderTypeMarket    = "market"
	OrderTypeLimit     = "limit"
	OrderTypeStop      = "stop"
	OrderTypeStopLimit = "stop_limit"
)

// Order sides
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Time in force values
const (
	TimeInForceDay = "day"
	TimeInForceGTC = "gtc"
	TimeInForceIOC = "ioc"
	TimeInForceFOK = "fok"
)

// Order statuses
const (
	OrderStatusPending   = "pending"
	OrderStatusOpen      = "open"
	OrderStatusFilled    = "filled"
	OrderStatusCancelled = "cancelled"
	OrderStatusRejected  = "rejected"
)

// User represents a trading account holder and its cash balance
type User struct {
	ID        uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid"`
	Email     string          `json:"email" gorm:"uniqueIndex" validate:"required,email,max=254"`
	Currency  string          `json:"currency" gorm:"default:USD"`
	Balance   decimal.Decimal `json:"balance" gorm:"type:numeric(36,18);not null;default:0"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Asset is a tradable instrument. Price is the last traded price cached by
// the market data fan-out and is the only price fills execute at.
type Asset struct {
	ID             uuid.UUID           `json:"id" gorm:"primaryKey;type:uuid"`
	Symbol         string              `json:"symbol" gorm:"uniqueIndex;not null"`
	Name           string              `json:"name"`
	Price          decimal.NullDecimal `json:"price" gorm:"type:numeric(36,18)"`
	Bid            decimal.NullDecimal `json:"bid" gorm:"type:numeric(36,18)"`
	Ask            decimal.NullDecimal `json:"ask" gorm:"type:numeric(36,18)"`
	PriceUpdatedAt *time.Time          `json:"price_updated_at"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// Order represents an order in the system
type Order struct {
	ID             uuid.UUID        `json:"id" gorm:"primaryKey;type:uuid"`
	UserID         uuid.UUID        `json:"user_id" gorm:"type:uuid;index"`
	AssetID        uuid.UUID        `json:"asset_id" gorm:"type:uuid;index"`
	Symbol         string           `json:"symbol" gorm:"index"`
	Type           string           `json:"type"`
	Side           string           `json:"side"`
	Quantity       decimal.Decimal  `json:"quantity" gorm:"type:numeric(36,18);not null"`
	Price          *decimal.Decimal `json:"price,omitempty" gorm:"type:numeric(36,18)"`
	StopPrice      *decimal.Decimal `json:"stop_price,omitempty" gorm:"type:numeric(36,18)"`
	TimeInForce    string           `json:"time_in_force"`
	Status         string           `json:"status" gorm:"index"`
	FilledQuantity decimal.Decimal  `json:"filled_quantity" gorm:"type:numeric(36,18);not null;default:0"`
	AveragePrice   *decimal.Decimal `json:"average_price,omitempty" gorm:"type:numeric(36,18)"`
	StopTriggered  bool             `json:"stop_triggered"`
	RejectReason   string           `json:"reject_reason,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// IsTerminal reports whether no further transition is allowed.
func (o *Order) IsTerminal() bool {
	switch o.Status {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	}
	return false
}

// Trade is the immutable record of one fill
type Trade struct {
	ID          uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid"`
	OrderID     uuid.UUID       `json:"order_id" gorm:"type:uuid;index"`
	UserID      uuid.UUID       `json:"user_id" gorm:"type:uuid;index"`
	AssetID     uuid.UUID       `json:"asset_id" gorm:"type:uuid"`
	Symbol      string          `json:"symbol"`
	Side        string          `json:"side"`
	Quantity    decimal.Decimal `json:"quantity" gorm:"type:numeric(36,18);not null"`
	Price       decimal.Decimal `json:"price" gorm:"type:numeric(36,18);not null"`
	Commission  decimal.Decimal `json:"commission" gorm:"type:numeric(36,18);not null"`
	RealizedPnL decimal.Decimal `json:"realized_pnl" gorm:"type:numeric(36,18);not null;default:0"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Position is a user's aggregated holding in one asset
type Position struct {
	ID           uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid"`
	UserID       uuid.UUID       `json:"user_id" gorm:"type:uuid;uniqueIndex:idx_positions_user_asset"`
	AssetID      uuid.UUID       `json:"asset_id" gorm:"type:uuid;uniqueIndex:idx_positions_user_asset"`
	Symbol       string          `json:"symbol"`
	Quantity     decimal.Decimal `json:"quantity" gorm:"type:numeric(36,18);not null"`
	AveragePrice decimal.Decimal `json:"average_price" gorm:"type:numeric(36,18);not null"`
	RealizedPnL  decimal.Decimal `json:"realized_pnl" gorm:"type:numeric(36,18);not null;default:0"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// AuditLog is an append-only before/after record of a state change
type AuditLog struct {
	ID          uuid.UUID `json:"id" gorm:"primaryKey;type:uuid"`
	Actor       string    `json:"actor" gorm:"index"`
	Action      string    `json:"action"`
	EntityType  string    `json:"entityType" gorm:"index:idx_audit_entity"`
	EntityID    string    `json:"entityId" gorm:"index:idx_audit_entity"`
	BeforeState JSONState `json:"beforeState" gorm:"type:text"`
	AfterState  JSONState `json:"afterState" gorm:"type:text"`
	CreatedAt   time.Time `json:"timestamp" gorm:"index"`
}

// MarketData is one historical price row written per tick
type MarketData struct {
	ID        uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid"`
	AssetID   uuid.UUID       `json:"asset_id" gorm:"type:uuid;index"`
	Symbol    string          `json:"symbol" gorm:"index:idx_market_data_symbol_ts"`
	Timestamp time.Time       `json:"timestamp" gorm:"index:idx_market_data_symbol_ts"`
	Open      decimal.Decimal `json:"open" gorm:"type:numeric(36,18)"`
	High      decimal.Decimal `json:"high" gorm:"type:numeric(36,18)"`
	Low       decimal.Decimal `json:"low" gorm:"type:numeric(36,18)"`
	Close     decimal.Decimal `json:"close" gorm:"type:numeric(36,18)"`
	Bid       decimal.Decimal `json:"bid" gorm:"type:numeric(36,18)"`
	Ask       decimal.Decimal `json:"ask" gorm:"type:numeric(36,18)"`
	Volume    decimal.Decimal `json:"volume" gorm:"type:numeric(36,18)"`
}

// TableName keeps history rows in a plural table like the others.
func (MarketData) TableName() string { return "market_data" }

// All returns every model for auto-migration.
func All() []interface{} {
	return []interface{}{
		&User{}, &Asset{}, &Order{}, &Trade{}, &Position{}, &AuditLog{}, &MarketData{},
	}
}
