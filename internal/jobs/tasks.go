package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"marketplace-service/internal/notify"
	"marketplace-service/internal/util"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const (
	// QueueDefault is the queue for transactional mail
	QueueDefault = "default"
	// TaskTypeSendEmail is the task type for sending transactional emails
	TaskTypeSendEmail = "mail:send"
)

// NewSendEmailTask wraps a rendered message in an asynq task
func NewSendEmailTask(msg notify.Message) (*asynq.Task, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal email task: %w", err)
	}
	return asynq.NewTask(TaskTypeSendEmail, data), nil
}

// MailHandler delivers queued email through a Mailer
type MailHandler struct {
	mailer notify.Mailer
	logger *zap.Logger
}

// NewMailHandler creates a new mail task handler
func NewMailHandler(mailer notify.Mailer) *MailHandler {
	return &MailHandler{mailer: mailer, logger: util.GetLogger()}
}

// ProcessTask implements asynq.Handler. Undecodable payloads are dropped,
// delivery failures are retried by asynq.
func (h *MailHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var msg notify.Message
	if err := json.Unmarshal(t.Payload(), &msg); err != nil {
		h.logger.Error("Dropping malformed email task", zap.Error(err))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if len(msg.To) == 0 {
		h.logger.Warn("Dropping email task without recipients", zap.String("template", msg.Template))
		return fmt.Errorf("no recipients: %w", asynq.SkipRetry)
	}

	if err := h.mailer.Send(ctx, msg); err != nil {
		h.logger.Warn("Email delivery failed, will retry",
			zap.String("template", msg.Template),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// IsSkipRetry reports whether err tells asynq to archive the task immediately
func IsSkipRetry(err error) bool {
	return errors.Is(err, asynq.SkipRetry)
}
