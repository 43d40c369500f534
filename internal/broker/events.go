package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"marketplace-service/internal/models"
	"marketplace-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// ErrMalformedEvent marks a message that can never be decoded
var ErrMalformedEvent = errors.New("malformed event")

// publisher is the part of Producer the EventPublisher depends on
type publisher interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer publisher
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishStockReceived publishes StockReceived event
func (ep *EventPublisher) PublishStockReceived(ctx context.Context, event *models.StockReceivedEvent) error {
	return ep.producer.PublishEvent(ctx, "product-"+event.ProductID.String(), event)
}

// PublishStockLow publishes StockLow event
func (ep *EventPublisher) PublishStockLow(ctx context.Context, event *models.StockLowEvent) error {
	return ep.producer.PublishEvent(ctx, "product-"+event.ProductID.String(), event)
}

// PublishOrderSubmitted publishes OrderSubmitted event
func (ep *EventPublisher) PublishOrderSubmitted(ctx context.Context, event *models.OrderSubmittedEvent) error {
	return ep.producer.PublishEvent(ctx, "order-"+event.OrderID.String(), event)
}

// PublishAccountCreated publishes AccountCreated event
func (ep *EventPublisher) PublishAccountCreated(ctx context.Context, event *models.AccountCreatedEvent) error {
	return ep.producer.PublishEvent(ctx, "user-"+event.UserID.String(), event)
}

// PublishVerificationStatusChanged publishes VerificationStatusChanged event
func (ep *EventPublisher) PublishVerificationStatusChanged(ctx context.Context, event *models.VerificationStatusChangedEvent) error {
	return ep.producer.PublishEvent(ctx, "user-"+event.UserID.String(), event)
}

// EventHandler routes incoming events to registered callbacks
type EventHandler struct {
	logger                      *zap.Logger
	onStockLow                  func(context.Context, *models.StockLowEvent) error
	onOrderSubmitted            func(context.Context, *models.OrderSubmittedEvent) error
	onAccountCreated            func(context.Context, *models.AccountCreatedEvent) error
	onVerificationStatusChanged func(context.Context, *models.VerificationStatusChangedEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnStockLow registers a handler for StockLow events
func (eh *EventHandler) OnStockLow(handler func(context.Context, *models.StockLowEvent) error) {
	eh.onStockLow = handler
}

// OnOrderSubmitted registers a handler for OrderSubmitted events
func (eh *EventHandler) OnOrderSubmitted(handler func(context.Context, *models.OrderSubmittedEvent) error) {
	eh.onOrderSubmitted = handler
}

// OnAccountCreated registers a handler for AccountCreated events
func (eh *EventHandler) OnAccountCreated(handler func(context.Context, *models.AccountCreatedEvent) error) {
	eh.onAccountCreated = handler
}

// OnVerificationStatusChanged registers a handler for VerificationStatusChanged events
func (eh *EventHandler) OnVerificationStatusChanged(handler func(context.Context, *models.VerificationStatusChangedEvent) error) {
	eh.onVerificationStatusChanged = handler
}

// dispatch decodes msg into a fresh T and hands it to fn
func dispatch[T any](ctx context.Context, raw []byte, eventType string, fn func(context.Context, *T) error) error {
	if fn == nil {
		return nil
	}
	var event T
	if err := json.Unmarshal(raw, &event); err != nil {
		return fmt.Errorf("%w: failed to unmarshal %s event: %v", ErrMalformedEvent, eventType, err)
	}
	return fn(ctx, &event)
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("%w: failed to unmarshal base event: %v", ErrMalformedEvent, err)
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID),
	)

	switch baseEvent.EventType {
	case models.EventTypeStockLow:
		return dispatch(ctx, msg.Value, baseEvent.EventType, eh.onStockLow)
	case models.EventTypeOrderSubmitted:
		return dispatch(ctx, msg.Value, baseEvent.EventType, eh.onOrderSubmitted)
	case models.EventTypeAccountCreated:
		return dispatch(ctx, msg.Value, baseEvent.EventType, eh.onAccountCreated)
	case models.EventTypeVerificationStatusChanged:
		return dispatch(ctx, msg.Value, baseEvent.EventType, eh.onVerificationStatusChanged)
	case models.EventTypeStockReceived:
		// audit only, nothing to notify
	default:
		eh.logger.Warn("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
