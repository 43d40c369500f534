package worker

import (
	"context"
	"fmt"
	"strings"

	"marketplace-service/internal/broker"
	"marketplace-service/internal/models"
	"marketplace-service/internal/notify"
	"marketplace-service/internal/util"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventLog remembers which events were already handled
type EventLog interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// Directory resolves addresses and product names for notifications
type Directory interface {
	GetAccountByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	GetProductByID(ctx context.Context, id uuid.UUID) (*models.Product, error)
}

// MailQueue hands rendered email to the mail job worker
type MailQueue interface {
	EnqueueEmail(ctx context.Context, msg notify.Message) error
}

// NotificationWorker turns domain events into queued emails
type NotificationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	events       EventLog
	directory    Directory
	mail         MailQueue
	adminEmail   string
	appBaseURL   string
	logger       *zap.Logger
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(
	consumer *broker.Consumer,
	events EventLog,
	directory Directory,
	mail MailQueue,
	adminEmail, appBaseURL string,
) *NotificationWorker {
	w := &NotificationWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		events:       events,
		directory:    directory,
		mail:         mail,
		adminEmail:   adminEmail,
		appBaseURL:   strings.TrimRight(appBaseURL, "/"),
		logger:       util.GetLogger(),
	}

	w.eventHandler.OnStockLow(w.handleStockLow)
	w.eventHandler.OnOrderSubmitted(w.handleOrderSubmitted)
	w.eventHandler.OnAccountCreated(w.handleAccountCreated)
	w.eventHandler.OnVerificationStatusChanged(w.handleVerificationStatusChanged)

	return w
}

// Start consumes events until ctx is cancelled
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker")
	return w.consumer.StartConsuming(ctx, w.HandleMessage)
}

// Stop closes the consumer
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	return w.consumer.Close()
}

// HandleMessage routes one message to its handler
func (w *NotificationWorker) HandleMessage(ctx context.Context, msg kafka.Message) error {
	return w.eventHandler.HandleMessage(ctx, msg)
}

// once runs fn unless the event was already handled, then records it
func (w *NotificationWorker) once(ctx context.Context, base models.BaseEvent, fn func() error) error {
	processed, err := w.events.IsEventProcessed(ctx, base.EventID)
	if err != nil {
		return fmt.Errorf("failed to check processed event: %w", err)
	}
	if processed {
		w.logger.Info("Event already processed, skipping",
			zap.String("event_id", base.EventID),
			zap.String("type", base.EventType))
		return nil
	}

	if err := fn(); err != nil {
		return err
	}

	if err := w.events.MarkEventProcessed(ctx, base.EventID, base.EventType); err != nil {
		w.logger.Error("Failed to mark event as processed", zap.Error(err))
	}
	return nil
}

func (w *NotificationWorker) enqueue(ctx context.Context, msg notify.Message, err error) error {
	if err != nil {
		return err
	}
	if len(msg.To) == 0 {
		return nil
	}
	if err := w.mail.EnqueueEmail(ctx, msg); err != nil {
		return fmt.Errorf("failed to queue %s email: %w", msg.Template, err)
	}
	return nil
}

func (w *NotificationWorker) handleStockLow(ctx context.Context, event *models.StockLowEvent) error {
	return w.once(ctx, event.BaseEvent, func() error {
		distributor, err := w.directory.GetAccountByID(ctx, event.DistributorID)
		if err != nil {
			return err
		}
		product, err := w.directory.GetProductByID(ctx, event.ProductID)
		if err != nil {
			return err
		}

		w.logger.Info("Sending low stock alert",
			zap.String("product_id", event.ProductID.String()),
			zap.Int("stock_quantity", event.StockQuantity))

		msg, err := notify.StockLowEmail(distributor.Email, notify.StockLowData{
			ProductName:   product.Name,
			StockQuantity: event.StockQuantity,
			Status:        event.Status,
		})
		return w.enqueue(ctx, msg, err)
	})
}

func (w *NotificationWorker) handleOrderSubmitted(ctx context.Context, event *models.OrderSubmittedEvent) error {
	return w.once(ctx, event.BaseEvent, func() error {
		var recipients []string
		for _, id := range []uuid.UUID{event.DistributorID, event.RetailerID} {
			account, err := w.directory.GetAccountByID(ctx, id)
			if err != nil {
				return err
			}
			if !strings.EqualFold(account.Email, event.PlacedByEmail) {
				recipients = append(recipients, account.Email)
			}
		}

		data := notify.OrderSubmittedData{
			OrderNumber:   event.OrderNumber,
			PlacedByEmail: event.PlacedByEmail,
			ItemCount:     len(event.Items),
			Total:         event.Total,
		}
		if w.appBaseURL != "" {
			data.OrderURL = w.appBaseURL + "/orders/" + event.OrderID.String()
		}
		msg, err := notify.OrderSubmittedEmail(recipients, data)
		return w.enqueue(ctx, msg, err)
	})
}

func (w *NotificationWorker) handleAccountCreated(ctx context.Context, event *models.AccountCreatedEvent) error {
	return w.once(ctx, event.BaseEvent, func() error {
		if w.adminEmail == "" {
			return nil
		}
		data := notify.AccountCreatedData{Email: event.Email, Role: event.Role}
		if w.appBaseURL != "" {
			data.ReviewURL = w.appBaseURL + "/admin/verification/" + event.UserID.String()
		}
		msg, err := notify.AccountCreatedEmail(w.adminEmail, data)
		return w.enqueue(ctx, msg, err)
	})
}

func (w *NotificationWorker) handleVerificationStatusChanged(ctx context.Context, event *models.VerificationStatusChangedEvent) error {
	return w.once(ctx, event.BaseEvent, func() error {
		w.logger.Info("Sending verification status email",
			zap.String("user_id", event.UserID.String()),
			zap.String("status", event.Status))

		msg, err := notify.VerificationStatusEmail(event.UserEmail, notify.VerificationStatusData{
			UserName:     event.UserName,
			BusinessName: event.BusinessName,
			Status:       event.Status,
			AppURL:       w.appBaseURL,
		})
		return w.enqueue(ctx, msg, err)
	})
}
