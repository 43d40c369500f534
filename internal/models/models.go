package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Product represents a distributor's catalog entry
type Product struct {
	ID                uuid.UUID       `db:"id" json:"id"`
	DistributorID     uuid.UUID       `db:"distributor_id" json:"distributor_id"`
	Name              string          `db:"name" json:"name"`
	Description       string          `db:"description" json:"description"`
	Price             decimal.Decimal `db:"price" json:"price"`
	CaseSize          int             `db:"case_size" json:"case_size"`
	CategoryID        *uuid.UUID      `db:"category_id" json:"category_id,omitempty"`
	SKU               string          `db:"sku" json:"sku"`
	UPC               string          `db:"upc" json:"upc"`
	StockQuantity     int             `db:"stock_quantity" json:"stock_quantity"`
	LowStockThreshold *int            `db:"low_stock_threshold" json:"low_stock_threshold,omitempty"`
	StockVersion      int64           `db:"stock_version" json:"-"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

// Batch represents a discrete received-inventory record
type Batch struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	ProductID         uuid.UUID  `db:"product_id" json:"product_id"`
	DistributorID     uuid.UUID  `db:"distributor_id" json:"distributor_id"`
	BatchNumber       string     `db:"batch_number" json:"batch_number"`
	Quantity          int        `db:"quantity" json:"quantity"`
	RemainingQuantity int        `db:"remaining_quantity" json:"remaining_quantity"`
	ReceivedDate      time.Time  `db:"received_date" json:"received_date"`
	ExpirationDate    *time.Time `db:"expiration_date" json:"expiration_date,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
}

// Order represents an order header between a retailer and a distributor
type Order struct {
	ID              uuid.UUID       `db:"id" json:"id"`
	OrderNumber     string          `db:"order_number" json:"order_number"`
	DistributorID   uuid.UUID       `db:"distributor_id" json:"distributor_id"`
	RetailerID      uuid.UUID       `db:"retailer_id" json:"retailer_id"`
	Status          string          `db:"status" json:"status"`
	PaymentStatus   string          `db:"payment_status" json:"payment_status"`
	Subtotal        decimal.Decimal `db:"subtotal" json:"subtotal"`
	DiscountPercent decimal.Decimal `db:"discount_percent" json:"discount_percent"`
	Discount        decimal.Decimal `db:"discount" json:"discount"`
	Total           decimal.Decimal `db:"total" json:"total"`
	Notes           string          `db:"notes" json:"notes"`
	PlacedByType    string          `db:"placed_by_type" json:"placed_by_type"`
	PlacedByUser    uuid.UUID       `db:"placed_by_user" json:"placed_by_user"`
	IdempotencyKey  *string         `db:"idempotency_key" json:"idempotency_key,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// OrderItem represents a line of an order with its price snapshot
type OrderItem struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	OrderID   uuid.UUID       `db:"order_id" json:"order_id"`
	ProductID uuid.UUID       `db:"product_id" json:"product_id"`
	Quantity  int             `db:"quantity" json:"quantity"`
	Price     decimal.Decimal `db:"price" json:"price"`
}

// Account is the credential record behind a Session
type Account struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	Email             string     `db:"email" json:"email"`
	PasswordHash      string     `db:"password_hash" json:"-"`
	Role              string     `db:"role" json:"role"`
	Metadata          Metadata   `db:"metadata" json:"metadata"`
	EmailConfirmedAt  *time.Time `db:"email_confirmed_at" json:"email_confirmed_at,omitempty"`
	ConfirmationToken *string    `db:"confirmation_token" json:"-"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
}

// Profile is the user profile row created at the end of onboarding
type Profile struct {
	UserID    uuid.UUID `db:"user_id" json:"user_id"`
	Email     string    `db:"email" json:"email"`
	FullName  string    `db:"full_name" json:"full_name"`
	Phone     string    `db:"phone" json:"phone"`
	Role      string    `db:"role" json:"role"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// VerificationStatus tracks admin review of a new business account
type VerificationStatus struct {
	UserID    uuid.UUID `db:"user_id" json:"user_id"`
	Status    string    `db:"status" json:"status"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Business holds the role-specific fields shared by retailers and distributors
type Business struct {
	UserID          uuid.UUID `db:"user_id" json:"user_id"`
	BusinessName    string    `db:"business_name" json:"business_name"`
	BusinessAddress string    `db:"business_address" json:"business_address"`
	Phone           string    `db:"phone" json:"phone"`
	TaxID           string    `db:"tax_id" json:"tax_id"`
	LicenseNumber   string    `db:"license_number" json:"license_number,omitempty"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// Metadata is a JSONB string map
type Metadata map[string]string

// Value implements driver.Valuer
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner
func (m *Metadata) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported metadata type %T", src)
	}
	return json.Unmarshal(data, m)
}

// Roles
const (
	RoleRetailer    = "retailer"
	RoleDistributor = "distributor"
)

// Order statuses
const (
	OrderStatusPending    = "pending"
	OrderStatusProcessing = "processing"
	OrderStatusCompleted  = "completed"
	OrderStatusCancelled  = "cancelled"
)

// Payment statuses
const (
	PaymentStatusPending = "pending"
	PaymentStatusPaid    = "paid"
	PaymentStatusFailed  = "failed"
)

// Stock statuses
const (
	StockStatusInStock    = "in_stock"
	StockStatusLowStock   = "low_stock"
	StockStatusOutOfStock = "out_of_stock"
)

// Verification statuses
const (
	VerificationPending  = "pending"
	VerificationVerified = "verified"
	VerificationApproved = "approved"
	VerificationRejected = "rejected"
)

// IsValidRole reports whether role is one of the two business roles
func IsValidRole(role string) bool {
	return role == RoleRetailer || role == RoleDistributor
}

// IsValidVerificationStatus reports whether status is a known verification status
func IsValidVerificationStatus(status string) bool {
	switch status {
	case VerificationPending, VerificationVerified, VerificationApproved, VerificationRejected:
		return true
	}
	return false
}

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}

// ProfileCompletion carries everything written when onboarding finishes
type ProfileCompletion struct {
	UserID   uuid.UUID `json:"user_id"`
	Email    string    `json:"email"`
	Role     string    `json:"role"`
	FullName string    `json:"full_name"`
	Phone    string    `json:"phone"`
	Business Business  `json:"business"`
}

// VerificationContact is the addressing data for verification notifications
type VerificationContact struct {
	UserID       uuid.UUID `db:"user_id"`
	Email        string    `db:"email"`
	FullName     string    `db:"full_name"`
	BusinessName string    `db:"business_name"`
}
