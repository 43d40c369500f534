package service

import (
	"context"
	"time"

	"marketplace-service/internal/models"
	"marketplace-service/internal/notify"
	"marketplace-service/internal/redisclient"
	"marketplace-service/internal/store"

	"github.com/google/uuid"
)

// InventoryStore persists stock levels and batches
type InventoryStore interface {
	GetProductByID(ctx context.Context, id uuid.UUID) (*models.Product, error)
	ReceiveStockTx(ctx context.Context, batch *models.Batch, mode store.StockMode) (*store.StockChange, error)
	ConsumeStockTx(ctx context.Context, productID uuid.UUID, quantity int) (*store.StockChange, []store.BatchDraw, error)
	ListBatches(ctx context.Context, productID uuid.UUID) ([]models.Batch, error)
}

// CatalogStore persists products
type CatalogStore interface {
	CreateProduct(ctx context.Context, p *models.Product) error
	GetProductByID(ctx context.Context, id uuid.UUID) (*models.Product, error)
	ListProductsByDistributor(ctx context.Context, distributorID uuid.UUID) ([]models.Product, error)
	GetProductsByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Product, error)
}

// OrderStore persists orders and their items
type OrderStore interface {
	CreateOrderTx(ctx context.Context, order *models.Order, items []models.OrderItem) error
	GetOrderByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) (*models.Order, error)
	ListOrdersForParty(ctx context.Context, userID uuid.UUID) ([]models.Order, error)
	GetOrderItemsByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error)
}

// AccountStore persists accounts and onboarding rows
type AccountStore interface {
	CreateAccount(ctx context.Context, account *models.Account) error
	GetAccountByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	ConfirmEmail(ctx context.Context, token string) (*models.Account, error)
	OnboardingComplete(ctx context.Context, userID uuid.UUID) (bool, error)
	CompleteOnboardingTx(ctx context.Context, pc models.ProfileCompletion) error
	UpsertProfile(ctx context.Context, pc models.ProfileCompletion) error
	UpdateVerificationStatus(ctx context.Context, userID uuid.UUID, status string) (*models.VerificationStatus, error)
	GetVerificationContact(ctx context.Context, userID uuid.UUID) (*models.VerificationContact, error)
}

// StockCache is the non-authoritative stock level cache
type StockCache interface {
	SetStockLevel(ctx context.Context, productID uuid.UUID, level redisclient.StockLevel, version int64) (bool, error)
	GetStockLevel(ctx context.Context, productID uuid.UUID) (redisclient.StockLevel, bool, error)
}

// IdempotencyStore remembers results of requests carrying an idempotency key
type IdempotencyStore interface {
	ClaimIdempotencyKey(ctx context.Context, scope, key string, ttl time.Duration) (bool, string, error)
	CompleteIdempotencyKey(ctx context.Context, scope, key, result string, ttl time.Duration) error
	ReleaseIdempotencyKey(ctx context.Context, scope, key string) error
}

// Locker provides short-lived distributed locks
type Locker interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, lockKey, token string) error
}

// EventPublisher publishes domain events
type EventPublisher interface {
	PublishStockReceived(ctx context.Context, event *models.StockReceivedEvent) error
	PublishStockLow(ctx context.Context, event *models.StockLowEvent) error
	PublishOrderSubmitted(ctx context.Context, event *models.OrderSubmittedEvent) error
	PublishAccountCreated(ctx context.Context, event *models.AccountCreatedEvent) error
	PublishVerificationStatusChanged(ctx context.Context, event *models.VerificationStatusChangedEvent) error
}

// MailQueue hands rendered email to the background mail worker
type MailQueue interface {
	EnqueueEmail(ctx context.Context, msg notify.Message) error
}
