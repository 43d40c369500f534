package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"marketplace-service/internal/util"

	"go.uber.org/zap"
)

// Message is a rendered email ready to hand to a provider
type Message struct {
	Template string   `json:"template"`
	To       []string `json:"to"`
	ReplyTo  string   `json:"reply_to,omitempty"`
	Subject  string   `json:"subject"`
	HTML     string   `json:"html"`
}

// Mailer sends rendered email
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// HTTPMailer posts messages to a transactional email provider's JSON API
type HTTPMailer struct {
	endpoint string
	apiKey   string
	from     string
	client   *http.Client
	logger   *zap.Logger
}

// NewHTTPMailer creates a mailer for the provider at endpoint
func NewHTTPMailer(endpoint, apiKey, from string) *HTTPMailer {
	return &HTTPMailer{
		endpoint: endpoint,
		apiKey:   apiKey,
		from:     from,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   util.GetLogger(),
	}
}

type sendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	ReplyTo string   `json:"reply_to,omitempty"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

// Send delivers msg; any non-2xx response is an error
func (m *HTTPMailer) Send(ctx context.Context, msg Message) error {
	ctx, span := util.StartSpan(ctx, "HTTPMailer.Send")
	defer span.End()

	body, err := json.Marshal(sendRequest{
		From:    m.from,
		To:      msg.To,
		ReplyTo: msg.ReplyTo,
		Subject: msg.Subject,
		HTML:    msg.HTML,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.client.Do(req)
	if err != nil {
		util.EmailsSentTotal.WithLabelValues(msg.Template, "error").Inc()
		util.RecordError(span, err)
		return fmt.Errorf("failed to send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("email provider returned %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
		util.EmailsSentTotal.WithLabelValues(msg.Template, "rejected").Inc()
		util.RecordError(span, err)
		return err
	}

	util.EmailsSentTotal.WithLabelValues(msg.Template, "sent").Inc()
	m.logger.Info("Email sent",
		zap.String("template", msg.Template),
		zap.Strings("to", msg.To),
	)
	return nil
}

// LogMailer writes messages to the log instead of sending them. Used when no
// provider is configured.
type LogMailer struct {
	logger *zap.Logger
}

// NewLogMailer creates a LogMailer
func NewLogMailer() *LogMailer {
	return &LogMailer{logger: util.GetLogger()}
}

// Send logs msg
func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	util.EmailsSentTotal.WithLabelValues(msg.Template, "logged").Inc()
	m.logger.Info("Email (not sent, no provider configured)",
		zap.String("template", msg.Template),
		zap.Strings("to", msg.To),
		zap.String("subject", msg.Subject),
	)
	return nil
}
