package service

import (
	"context"
	"time"

	"marketplace-service/internal/apperror"
	"marketplace-service/internal/models"
	"marketplace-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const orderNumberAttempts = 3

// OrderService handles order submission and retrieval
type OrderService struct {
	orders         OrderStore
	catalog        *CatalogService
	idem           IdempotencyStore
	eventPublisher EventPublisher
	numbers        *OrderNumberGenerator
	idemTTL        time.Duration
	logger         *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(
	orders OrderStore,
	catalog *CatalogService,
	idem IdempotencyStore,
	eventPublisher EventPublisher,
	idemTTL time.Duration,
) *OrderService {
	return &OrderService{
		orders:         orders,
		catalog:        catalog,
		idem:           idem,
		eventPublisher: eventPublisher,
		numbers:        NewOrderNumberGenerator(),
		idemTTL:        idemTTL,
		logger:         util.GetLogger(),
	}
}

// SubmitOrderRequest represents a cart sent for submission
type SubmitOrderRequest struct {
	CounterpartyID  uuid.UUID          `json:"counterparty_id"`
	Items           []OrderLineRequest `json:"items"`
	DiscountPercent decimal.Decimal    `json:"discount_percent"`
	Notes           string             `json:"notes"`
}

// OrderLineRequest represents one line of a submitted cart
type OrderLineRequest struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
}

// SubmitResult is returned once an order is persisted
type SubmitResult struct {
	OrderID     uuid.UUID       `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Discount    decimal.Decimal `json:"discount"`
	Total       decimal.Decimal `json:"total"`
	Replayed    bool            `json:"replayed,omitempty"`
}

// OrderDetail is an order header with its items
type OrderDetail struct {
	Order models.Order       `json:"order"`
	Items []models.OrderItem `json:"items"`
}

// BuildOrder turns a request into a builder with the requested products of the
// counterparty's catalog loaded. Products are only fetched when there is
// something to price.
func (s *OrderService) BuildOrder(ctx context.Context, session *models.Session, req *SubmitOrderRequest) (*OrderBuilder, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.BuildOrder")
	defer span.End()

	if session == nil {
		return nil, apperror.New(apperror.KindPermissionDenied, "orders.BuildOrder", "sign in to place orders")
	}

	builder := NewOrderBuilder(session.Role)
	if req.CounterpartyID != uuid.Nil {
		builder.SelectCounterparty(req.CounterpartyID)
	}
	if err := builder.SetDiscount(req.DiscountPercent); err != nil {
		return nil, err
	}
	builder.SetNotes(req.Notes)

	ids := make([]uuid.UUID, 0, len(req.Items))
	seen := make(map[uuid.UUID]struct{}, len(req.Items))
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, invalid("items", ErrInvalidQuantity)
		}
		if _, dup := seen[item.ProductID]; dup {
			return nil, &ValidationError{
				Field:   "items",
				Message: "product " + item.ProductID.String() + " appears on more than one line",
				Err:     ErrDuplicateLineItem,
			}
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
		builder.SetLineItem(item.ProductID, item.Quantity)
	}

	if builder.Counterparty() != uuid.Nil && len(ids) > 0 {
		distributorID, _ := builder.parties(session.UserID)
		products, err := s.catalog.ProductsFor(ctx, distributorID, ids)
		if err != nil {
			return nil, err
		}
		builder.LoadCatalog(products)
	}

	return builder, nil
}

// Submit validates the builder and persists the order header and items as
// one unit. Validation failures never reach the backend. A failed submission
// leaves the builder in StateBuilding with LastError set.
func (s *OrderService) Submit(ctx context.Context, session *models.Session, builder *OrderBuilder, idempotencyKey string) (*SubmitResult, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Submit")
	defer span.End()

	if builder.state == StateSucceeded {
		return nil, invalid("order", ErrAlreadySubmitted)
	}

	builder.state = StateValidating
	if err := builder.Validate(session); err != nil {
		util.OrdersFailedTotal.WithLabelValues("validation").Inc()
		builder.fail(err)
		return nil, err
	}

	builder.state = StateSubmitting
	start := time.Now()

	scope := "orders:" + session.UserID.String()
	result, replayed, err := idempotent(ctx, s.idem, s.logger, scope, idempotencyKey, s.idemTTL,
		func(ctx context.Context) (*SubmitResult, error) {
			return s.persist(ctx, session, builder, idempotencyKey)
		})
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues(string(apperror.KindOf(err))).Inc()
		util.RecordError(span, err)
		s.logger.Error("Order submission failed", zap.Error(err))
		builder.fail(err)
		return nil, err
	}

	util.OrderSubmitLatency.Observe(time.Since(start).Seconds())
	builder.state = StateSucceeded
	builder.lastErr = nil

	if replayed || result.Replayed {
		result.Replayed = true
		util.OrdersReplayedTotal.Inc()
		s.logger.Info("Duplicate order request detected",
			zap.String("idempotency_key", idempotencyKey),
			zap.String("order_id", result.OrderID.String()))
	}
	span.SetAttributes(attribute.String("order_number", result.OrderNumber))
	return result, nil
}

// fail records err; a failed submission goes straight back to building
func (b *OrderBuilder) fail(err error) {
	b.lastErr = err
	b.state = StateBuilding
}

func resultFromOrder(order *models.Order) *SubmitResult {
	return &SubmitResult{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Subtotal:    order.Subtotal,
		Discount:    order.Discount,
		Total:       order.Total,
	}
}

// replayFromStore returns the order the user previously stored under key, if any
func (s *OrderService) replayFromStore(ctx context.Context, userID uuid.UUID, key string) (*SubmitResult, error) {
	if key == "" {
		return nil, nil
	}
	existing, err := s.orders.GetOrderByIdempotencyKey(ctx, userID, key)
	if err != nil || existing == nil {
		return nil, err
	}
	result := resultFromOrder(existing)
	result.Replayed = true
	return result, nil
}

func (s *OrderService) persist(ctx context.Context, session *models.Session, builder *OrderBuilder, key string) (*SubmitResult, error) {
	if previous, err := s.replayFromStore(ctx, session.UserID, key); err != nil || previous != nil {
		return previous, err
	}

	subtotal, err := builder.ComputeSubtotal()
	if err != nil {
		return nil, err
	}
	discount := subtotal.Mul(builder.discount).Div(hundred)
	total := subtotal.Sub(discount)

	distributorID, retailerID := builder.parties(session.UserID)

	lines := builder.Lines()
	items := make([]models.OrderItem, len(lines))
	eventItems := make([]models.OrderItemData, len(lines))
	for i, line := range lines {
		price := builder.catalog[line.ProductID].Price
		items[i] = models.OrderItem{ProductID: line.ProductID, Quantity: line.Quantity, Price: price}
		eventItems[i] = models.OrderItemData{ProductID: line.ProductID, Quantity: line.Quantity, Price: price}
	}

	order := &models.Order{
		DistributorID:   distributorID,
		RetailerID:      retailerID,
		Status:          models.OrderStatusPending,
		PaymentStatus:   models.PaymentStatusPending,
		Subtotal:        subtotal,
		DiscountPercent: builder.discount,
		Discount:        discount,
		Total:           total,
		Notes:           builder.notes,
		PlacedByType:    builder.placerRole,
		PlacedByUser:    session.UserID,
	}
	if key != "" {
		order.IdempotencyKey = &key
	}

	for attempt := 1; ; attempt++ {
		order.OrderNumber = s.numbers.Next()
		err = s.orders.CreateOrderTx(ctx, order, items)
		if err == nil {
			break
		}
		if !apperror.Is(err, apperror.KindConflict) || attempt == orderNumberAttempts {
			return nil, err
		}
		// a concurrent request with the same key won the insert
		if previous, lerr := s.replayFromStore(ctx, session.UserID, key); lerr != nil || previous != nil {
			return previous, lerr
		}
		s.logger.Warn("Order number collision, retrying",
			zap.String("order_number", order.OrderNumber),
			zap.Int("attempt", attempt))
	}

	util.OrdersSubmittedTotal.Inc()
	s.logger.Info("Order submitted",
		zap.String("order_id", order.ID.String()),
		zap.String("order_number", order.OrderNumber),
		zap.String("total", total.StringFixed(2)))

	event := &models.OrderSubmittedEvent{
		BaseEvent:     models.NewBaseEvent(models.EventTypeOrderSubmitted),
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		DistributorID: distributorID,
		RetailerID:    retailerID,
		PlacedByEmail: session.Email,
		Total:         total,
		Items:         eventItems,
	}
	if err := s.eventPublisher.PublishOrderSubmitted(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderSubmitted event", zap.Error(err))
	}

	return resultFromOrder(order), nil
}

// GetOrder retrieves an order the session is a party to
func (s *OrderService) GetOrder(ctx context.Context, session *models.Session, orderID uuid.UUID) (*OrderDetail, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder")
	defer span.End()

	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if session == nil || (order.RetailerID != session.UserID && order.DistributorID != session.UserID) {
		return nil, apperror.New(apperror.KindNotFound, "orders.GetOrder", "order not found")
	}

	items, err := s.orders.GetOrderItemsByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	return &OrderDetail{Order: *order, Items: items}, nil
}

// ListOrders lists orders where the session user is either party
func (s *OrderService) ListOrders(ctx context.Context, session *models.Session) ([]models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListOrders")
	defer span.End()

	if session == nil {
		return nil, apperror.New(apperror.KindPermissionDenied, "orders.ListOrders", "sign in to view orders")
	}
	return s.orders.ListOrdersForParty(ctx, session.UserID)
}
