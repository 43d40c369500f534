package payments

import (
	"context"
	"errors"
	"fmt"

	"marketplace-service/internal/util"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"go.opentelemetry.io/otel/attribute"
)

// ErrNotConfigured is returned when no Stripe key is set
var ErrNotConfigured = errors.New("stripe is not configured")

// CheckoutSession holds the display fields of a Stripe Checkout Session
type CheckoutSession struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
	AmountTotal   int64  `json:"amount_total"`
	Currency      string `json:"currency"`
	CustomerEmail string `json:"customer_email"`
	CustomerName  string `json:"customer_name"`
}

// sessionGetter is the part of the stripe session client used here
type sessionGetter interface {
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// StripeVerifier looks up Checkout Sessions
type StripeVerifier struct {
	sessions sessionGetter
}

// NewStripeVerifier creates a verifier using secretKey; an empty key yields
// a verifier that always returns ErrNotConfigured
func NewStripeVerifier(secretKey string) *StripeVerifier {
	if secretKey == "" {
		return &StripeVerifier{}
	}
	return &StripeVerifier{sessions: &session.Client{
		B:   stripe.GetBackend(stripe.APIBackend),
		Key: secretKey,
	}}
}

// VerifySession retrieves a Checkout Session by id
func (v *StripeVerifier) VerifySession(ctx context.Context, sessionID string) (*CheckoutSession, error) {
	_, span := util.StartSpan(ctx, "StripeVerifier.VerifySession", attribute.String("session_id", sessionID))
	defer span.End()

	if v.sessions == nil {
		return nil, ErrNotConfigured
	}

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	s, err := v.sessions.Get(sessionID, params)
	if err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to retrieve checkout session: %w", err)
	}

	out := &CheckoutSession{
		ID:            s.ID,
		Status:        string(s.Status),
		PaymentStatus: string(s.PaymentStatus),
		AmountTotal:   s.AmountTotal,
		Currency:      string(s.Currency),
	}
	if s.CustomerDetails != nil {
		out.CustomerEmail = s.CustomerDetails.Email
		out.CustomerName = s.CustomerDetails.Name
	}
	return out, nil
}
