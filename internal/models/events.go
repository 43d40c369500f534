package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeStockReceived             = "stock.received"
	EventTypeStockLow                  = "stock.low"
	EventTypeOrderSubmitted            = "order.submitted"
	EventTypeAccountCreated            = "account.created"
	EventTypeVerificationStatusChanged = "verification.status_changed"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// NewBaseEvent stamps a fresh event id and time
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

// StockReceivedEvent published after a batch is committed
type StockReceivedEvent struct {
	BaseEvent
	ProductID   uuid.UUID `json:"product_id"`
	BatchID     uuid.UUID `json:"batch_id"`
	BatchNumber string    `json:"batch_number"`
	Quantity    int       `json:"quantity"`
	StockAfter  int       `json:"stock_after"`
}

// StockLowEvent published when a mutation leaves a product low or out of stock
type StockLowEvent struct {
	BaseEvent
	ProductID     uuid.UUID `json:"product_id"`
	DistributorID uuid.UUID `json:"distributor_id"`
	StockQuantity int       `json:"stock_quantity"`
	Status        string    `json:"status"`
}

// OrderSubmittedEvent published once an order and its items are committed
type OrderSubmittedEvent struct {
	BaseEvent
	OrderID       uuid.UUID       `json:"order_id"`
	OrderNumber   string          `json:"order_number"`
	DistributorID uuid.UUID       `json:"distributor_id"`
	RetailerID    uuid.UUID       `json:"retailer_id"`
	PlacedByEmail string          `json:"placed_by_email"`
	Total         decimal.Decimal `json:"total"`
	Items         []OrderItemData `json:"items"`
}

// AccountCreatedEvent published when signup stores a new account
type AccountCreatedEvent struct {
	BaseEvent
	UserID uuid.UUID `json:"user_id"`
	Email  string    `json:"email"`
	Role   string    `json:"role"`
}

// VerificationStatusChangedEvent published when an admin reviews an account
type VerificationStatusChangedEvent struct {
	BaseEvent
	UserID       uuid.UUID `json:"user_id"`
	Status       string    `json:"status"`
	UserEmail    string    `json:"user_email"`
	UserName     string    `json:"user_name"`
	BusinessName string    `json:"business_name"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID uuid.UUID       `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}
