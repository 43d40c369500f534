package service

import (
	"context"
	"time"

	"marketplace-service/internal/apperror"
	"marketplace-service/internal/models"
	"marketplace-service/internal/redisclient"
	"marketplace-service/internal/store"
	"marketplace-service/internal/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// DefaultLowStockThreshold applies when neither config nor the product sets one
const DefaultLowStockThreshold = 10

// ComputeStockStatus classifies an on-hand quantity against threshold
func ComputeStockStatus(quantity, threshold int) string {
	switch {
	case quantity <= 0:
		return models.StockStatusOutOfStock
	case quantity <= threshold:
		return models.StockStatusLowStock
	default:
		return models.StockStatusInStock
	}
}

// InventoryLedger handles stock levels and batch history
type InventoryLedger struct {
	store          InventoryStore
	cache          StockCache
	idem           IdempotencyStore
	eventPublisher EventPublisher
	threshold      int
	idemTTL        time.Duration
	logger         *zap.Logger
}

// NewInventoryLedger creates a new inventory ledger
func NewInventoryLedger(
	store InventoryStore,
	cache StockCache,
	idem IdempotencyStore,
	eventPublisher EventPublisher,
	lowStockThreshold int,
	idemTTL time.Duration,
) *InventoryLedger {
	if lowStockThreshold < 0 {
		lowStockThreshold = DefaultLowStockThreshold
	}
	return &InventoryLedger{
		store:          store,
		cache:          cache,
		idem:           idem,
		eventPublisher: eventPublisher,
		threshold:      lowStockThreshold,
		idemTTL:        idemTTL,
		logger:         util.GetLogger(),
	}
}

// ReceiveStockRequest represents a batch arriving at the distributor
type ReceiveStockRequest struct {
	ProductID      uuid.UUID  `json:"-"`
	BatchNumber    string     `json:"batch_number" binding:"required"`
	Quantity       int        `json:"quantity" binding:"required,min=1"`
	ReceivedDate   time.Time  `json:"received_date"`
	ExpirationDate *time.Time `json:"expiration_date,omitempty"`
	IdempotencyKey string     `json:"-"`
}

// StockReceipt describes a committed stock receipt
type StockReceipt struct {
	Batch       models.Batch `json:"batch"`
	StockBefore int          `json:"stock_before"`
	StockAfter  int          `json:"stock_after"`
	Status      string       `json:"status"`
	Replayed    bool         `json:"replayed,omitempty"`
}

// StockDrawdown describes a committed consumption of stock
type StockDrawdown struct {
	ProductID   uuid.UUID         `json:"product_id"`
	StockBefore int               `json:"stock_before"`
	StockAfter  int               `json:"stock_after"`
	Status      string            `json:"status"`
	Draws       []store.BatchDraw `json:"draws"`
}

// StockLevel is a product's current quantity and classification
type StockLevel struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
	Status    string    `json:"status"`
	Cached    bool      `json:"cached"`
}

// thresholdFor returns the product's own threshold or the ledger default
func (l *InventoryLedger) thresholdFor(p *models.Product) int {
	if p.LowStockThreshold != nil {
		return *p.LowStockThreshold
	}
	return l.threshold
}

func validateDates(received time.Time, expiration *time.Time) error {
	if expiration != nil && expiration.Before(received) {
		return invalidf("expiration_date", "expiration date cannot be before the received date")
	}
	return nil
}

// ReceiveStock adds a batch and increments the product's stock level atomically
func (l *InventoryLedger) ReceiveStock(ctx context.Context, req *ReceiveStockRequest) (*StockReceipt, error) {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.ReceiveStock",
		attribute.String("product_id", req.ProductID.String()),
		attribute.Int("quantity", req.Quantity),
	)
	defer span.End()

	if req.ProductID == uuid.Nil {
		return nil, invalidf("product_id", "product is required")
	}
	if req.BatchNumber == "" {
		return nil, invalidf("batch_number", "batch number is required")
	}
	if req.Quantity <= 0 {
		return nil, invalid("quantity", ErrInvalidQuantity)
	}
	if req.ReceivedDate.IsZero() {
		req.ReceivedDate = time.Now().UTC()
	}
	if err := validateDates(req.ReceivedDate, req.ExpirationDate); err != nil {
		return nil, err
	}

	scope := "stock:" + req.ProductID.String()
	receipt, replayed, err := idempotent(ctx, l.idem, l.logger, scope, req.IdempotencyKey, l.idemTTL,
		func(ctx context.Context) (*StockReceipt, error) {
			return l.commitBatch(ctx, &models.Batch{
				ProductID:      req.ProductID,
				BatchNumber:    req.BatchNumber,
				Quantity:       req.Quantity,
				ReceivedDate:   req.ReceivedDate,
				ExpirationDate: req.ExpirationDate,
			}, store.StockIncrement)
		})
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}
	if replayed {
		receipt.Replayed = true
		l.logger.Info("Replayed stock receipt", zap.String("idempotency_key", req.IdempotencyKey))
	}
	return receipt, nil
}

// InitialBatchNumber derives the batch number recorded for first-time stocking
func InitialBatchNumber(received time.Time) string {
	return "INITIAL-" + received.Format("01022006")
}

// SetInitialStock records a product's first stock level, overwriting stock_quantity
func (l *InventoryLedger) SetInitialStock(ctx context.Context, productID uuid.UUID, quantity int, receivedDate time.Time, expirationDate *time.Time) (*StockReceipt, error) {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.SetInitialStock",
		attribute.String("product_id", productID.String()),
		attribute.Int("quantity", quantity),
	)
	defer span.End()

	if quantity < 1 {
		return nil, invalid("quantity", ErrInvalidQuantity)
	}
	if receivedDate.IsZero() {
		receivedDate = time.Now().UTC()
	}
	if err := validateDates(receivedDate, expirationDate); err != nil {
		return nil, err
	}

	receipt, err := l.commitBatch(ctx, &models.Batch{
		ProductID:      productID,
		BatchNumber:    InitialBatchNumber(receivedDate),
		Quantity:       quantity,
		ReceivedDate:   receivedDate,
		ExpirationDate: expirationDate,
	}, store.StockOverwrite)
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}
	return receipt, nil
}

// commitBatch writes the stock change and batch in one transaction, then
// refreshes the cache and publishes events
func (l *InventoryLedger) commitBatch(ctx context.Context, batch *models.Batch, mode store.StockMode) (*StockReceipt, error) {
	modeLabel := "increment"
	if mode == store.StockOverwrite {
		modeLabel = "initial"
	}

	change, err := l.store.ReceiveStockTx(ctx, batch, mode)
	if err != nil {
		util.StockOperationsFailed.WithLabelValues("receive", string(apperror.KindOf(err))).Inc()
		l.logger.Error("Failed to receive stock",
			zap.String("product_id", batch.ProductID.String()),
			zap.String("batch_number", batch.BatchNumber),
			zap.Error(err))
		return nil, err
	}

	threshold := l.thresholdFor(&change.Product)
	status := ComputeStockStatus(change.After, threshold)
	util.StockReceivedTotal.WithLabelValues(modeLabel).Add(float64(batch.Quantity))
	l.logger.Info("Stock received",
		zap.String("product_id", batch.ProductID.String()),
		zap.String("batch_number", batch.BatchNumber),
		zap.Int("before", change.Before),
		zap.Int("after", change.After))

	l.refreshCache(ctx, &change.Product, threshold)

	event := &models.StockReceivedEvent{
		BaseEvent:   models.NewBaseEvent(models.EventTypeStockReceived),
		ProductID:   batch.ProductID,
		BatchID:     batch.ID,
		BatchNumber: batch.BatchNumber,
		Quantity:    batch.Quantity,
		StockAfter:  change.After,
	}
	if err := l.eventPublisher.PublishStockReceived(ctx, event); err != nil {
		l.logger.Error("Failed to publish StockReceived event", zap.Error(err))
	}
	l.publishIfLow(ctx, &change.Product, status)

	return &StockReceipt{
		Batch:       *batch,
		StockBefore: change.Before,
		StockAfter:  change.After,
		Status:      status,
	}, nil
}

// ConsumeStock draws quantity from the product's oldest batches first
func (l *InventoryLedger) ConsumeStock(ctx context.Context, productID uuid.UUID, quantity int) (*StockDrawdown, error) {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.ConsumeStock",
		attribute.String("product_id", productID.String()),
		attribute.Int("quantity", quantity),
	)
	defer span.End()

	if quantity <= 0 {
		return nil, invalid("quantity", ErrInvalidQuantity)
	}

	change, draws, err := l.store.ConsumeStockTx(ctx, productID, quantity)
	if err != nil {
		util.StockOperationsFailed.WithLabelValues("consume", string(apperror.KindOf(err))).Inc()
		util.RecordError(span, err)
		return nil, err
	}

	threshold := l.thresholdFor(&change.Product)
	status := ComputeStockStatus(change.After, threshold)
	util.StockConsumedTotal.Add(float64(quantity))

	l.refreshCache(ctx, &change.Product, threshold)
	l.publishIfLow(ctx, &change.Product, status)

	return &StockDrawdown{
		ProductID:   productID,
		StockBefore: change.Before,
		StockAfter:  change.After,
		Status:      status,
		Draws:       draws,
	}, nil
}

// GetStockLevel reads the cached stock level, falling back to the database
func (l *InventoryLedger) GetStockLevel(ctx context.Context, productID uuid.UUID) (*StockLevel, error) {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.GetStockLevel")
	defer span.End()

	if l.cache != nil {
		level, found, err := l.cache.GetStockLevel(ctx, productID)
		if err != nil {
			l.logger.Warn("Stock cache read failed", zap.String("product_id", productID.String()), zap.Error(err))
		}
		if found {
			return &StockLevel{
				ProductID: productID,
				Quantity:  level.Quantity,
				Status:    ComputeStockStatus(level.Quantity, level.Threshold),
				Cached:    true,
			}, nil
		}
	}
	util.StockCacheMissesTotal.Inc()

	product, err := l.store.GetProductByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	threshold := l.thresholdFor(product)
	l.refreshCache(ctx, product, threshold)

	return &StockLevel{
		ProductID: productID,
		Quantity:  product.StockQuantity,
		Status:    ComputeStockStatus(product.StockQuantity, threshold),
	}, nil
}

// ListBatches returns a product's batch history, newest first
func (l *InventoryLedger) ListBatches(ctx context.Context, productID uuid.UUID) ([]models.Batch, error) {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.ListBatches")
	defer span.End()

	return l.store.ListBatches(ctx, productID)
}

func (l *InventoryLedger) refreshCache(ctx context.Context, p *models.Product, threshold int) {
	if l.cache == nil {
		return
	}
	level := redisclient.StockLevel{Quantity: p.StockQuantity, Threshold: threshold}
	if _, err := l.cache.SetStockLevel(ctx, p.ID, level, p.StockVersion); err != nil {
		l.logger.Warn("Failed to refresh stock cache", zap.String("product_id", p.ID.String()), zap.Error(err))
	}
}

func (l *InventoryLedger) publishIfLow(ctx context.Context, p *models.Product, status string) {
	if status == models.StockStatusInStock {
		return
	}
	util.LowStockDetectedTotal.Inc()

	event := &models.StockLowEvent{
		BaseEvent:     models.NewBaseEvent(models.EventTypeStockLow),
		ProductID:     p.ID,
		DistributorID: p.DistributorID,
		StockQuantity: p.StockQuantity,
		Status:        status,
	}
	if err := l.eventPublisher.PublishStockLow(ctx, event); err != nil {
		l.logger.Error("Failed to publish StockLow event", zap.Error(err))
	}
}
