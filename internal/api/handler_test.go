package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"marketplace-service/internal/apperror"
	"marketplace-service/internal/models"
	"marketplace-service/internal/payments"
	"marketplace-service/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOnboarding struct {
	Onboarding
	sessions map[uuid.UUID]*models.Session
	outcome  service.PollOutcome
	finished int
}

func (f *fakeOnboarding) CurrentSession(ctx context.Context, userID uuid.UUID) (*models.Session, error) {
	if s, ok := f.sessions[userID]; ok {
		return s, nil
	}
	return nil, apperror.New(apperror.KindNotFound, "fake.CurrentSession", "account not found")
}

func (f *fakeOnboarding) AwaitVerification(ctx context.Context, flow *service.SignupFlow) (service.PollOutcome, error) {
	return f.outcome, nil
}

func (f *fakeOnboarding) FinishSignup(ctx context.Context, flow *service.SignupFlow, input *service.ProfileInput) (service.CompletionResult, error) {
	f.finished++
	return service.CompletionWritten, nil
}

type fakeOrders struct {
	Orders
	submitErr error
	key       string
}

func (f *fakeOrders) BuildOrder(ctx context.Context, session *models.Session, req *service.SubmitOrderRequest) (*service.OrderBuilder, error) {
	return service.NewOrderBuilder(session.Role), nil
}

func (f *fakeOrders) Submit(ctx context.Context, session *models.Session, builder *service.OrderBuilder, key string) (*service.SubmitResult, error) {
	f.key = key
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return &service.SubmitResult{
		OrderID:     uuid.New(),
		OrderNumber: "ORD-20240102-123456",
		Total:       decimal.RequireFromString("22.50"),
	}, nil
}

type fakeCatalog struct {
	Catalog
	product *models.Product
}

func (f *fakeCatalog) GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	if f.product == nil || f.product.ID != id {
		return nil, apperror.New(apperror.KindNotFound, "fake.GetProduct", "product not found")
	}
	return f.product, nil
}

type fakeInventory struct {
	Inventory
	received *service.ReceiveStockRequest
}

func (f *fakeInventory) ReceiveStock(ctx context.Context, req *service.ReceiveStockRequest) (*service.StockReceipt, error) {
	f.received = req
	return &service.StockReceipt{StockAfter: req.Quantity, Status: models.StockStatusInStock}, nil
}

type fakeForms struct {
	Forms
	err  error
	sent int
}

func (f *fakeForms) SendVerificationEmail(ctx context.Context, req *service.VerificationEmailRequest) error {
	if f.err != nil {
		return f.err
	}
	f.sent++
	return nil
}

func (f *fakeForms) SubmitContact(ctx context.Context, req *service.FormRequest) error {
	if req.Name == "" {
		return &service.ValidationError{Field: "name", Message: "name is required"}
	}
	if f.err != nil {
		return f.err
	}
	f.sent++
	return nil
}

type fakeCheckout struct {
	session *payments.CheckoutSession
	err     error
}

func (f *fakeCheckout) VerifySession(ctx context.Context, id string) (*payments.CheckoutSession, error) {
	return f.session, f.err
}

type pinger struct{ err error }

func (p pinger) Ping(ctx context.Context) error { return p.err }

type testServer struct {
	router     *gin.Engine
	onboarding *fakeOnboarding
	orders     *fakeOrders
	catalog    *fakeCatalog
	inventory  *fakeInventory
	forms      *fakeForms
	checkout   *fakeCheckout
	retailer   *models.Session
	admin      *models.Session
}

func newTestServer(t *testing.T, deps ...Pinger) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	confirmed := time.Now()
	retailer := &models.Session{UserID: uuid.New(), Email: "buyer@corner.market", Role: models.RoleRetailer, EmailConfirmedAt: &confirmed}
	admin := &models.Session{UserID: uuid.New(), Email: "ops@marketplace.test", Role: models.RoleDistributor, Metadata: models.Metadata{"admin": "true"}}

	ts := &testServer{
		onboarding: &fakeOnboarding{
			sessions: map[uuid.UUID]*models.Session{retailer.UserID: retailer, admin.UserID: admin},
			outcome:  service.PollVerified,
		},
		orders:    &fakeOrders{},
		catalog:   &fakeCatalog{},
		inventory: &fakeInventory{},
		forms:     &fakeForms{},
		checkout:  &fakeCheckout{},
		retailer:  retailer,
		admin:     admin,
	}

	h := NewHandler(ts.inventory, ts.catalog, ts.orders, ts.onboarding, ts.forms, ts.checkout, deps...)
	ts.router = gin.New()
	h.SetupRoutes(ts.router, Options{RequestTimeout: 5 * time.Second, FormRateLimit: 2})
	return ts
}

func (ts *testServer) do(method, path string, body interface{}, session *models.Session, headers ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if session != nil {
		req.Header.Set(userIDHeader, session.UserID.String())
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealthCheck(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}

func TestReadinessCheck(t *testing.T) {
	ts := newTestServer(t, pinger{}, pinger{})
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/ready", nil, nil).Code)

	ts = newTestServer(t, pinger{}, pinger{err: errors.New("connection refused")})
	w := ts.do(http.MethodGet, "/ready", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "connection refused", decode(t, w)["details"])
}

func TestSessionRequired(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodPost, "/api/v1/orders", map[string]interface{}{}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(http.MethodGet, "/api/v1/orders", nil, nil, userIDHeader, "not-a-uuid")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	stranger := &models.Session{UserID: uuid.New()}
	w = ts.do(http.MethodGet, "/api/v1/auth/session", nil, stranger)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(http.MethodGet, "/api/v1/auth/session", nil, ts.retailer)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["email_confirmed"])
}

func TestSubmitOrder(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodPost, "/api/v1/orders", map[string]interface{}{"items": []interface{}{}}, ts.retailer, "Idempotency-Key", "cart-1")
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "ORD-20240102-123456", decode(t, w)["order_number"])
	assert.Equal(t, "cart-1", ts.orders.key)
}

func TestSubmitOrderErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		detail string
	}{
		{"validation", &service.ValidationError{Field: "counterparty", Message: "counterparty required"}, http.StatusBadRequest, "counterparty"},
		{"conflict", apperror.New(apperror.KindConflict, "orders.Submit", "order already submitted"), http.StatusConflict, "conflict"},
		{"unavailable", apperror.New(apperror.KindUnavailable, "orders.Submit", "database unavailable"), http.StatusServiceUnavailable, "unavailable"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "unknown"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.orders.submitErr = tc.err

			w := ts.do(http.MethodPost, "/api/v1/orders", map[string]interface{}{}, ts.retailer)
			assert.Equal(t, tc.status, w.Code)
			assert.Equal(t, tc.detail, decode(t, w)["details"])
		})
	}
}

func TestReceiveStockRequiresOwner(t *testing.T) {
	ts := newTestServer(t)
	ts.catalog.product = &models.Product{ID: uuid.New(), DistributorID: uuid.New()}
	body := map[string]interface{}{"batch_number": "B-1", "quantity": 5}

	w := ts.do(http.MethodPost, "/api/v1/products/"+ts.catalog.product.ID.String()+"/receive", body, ts.retailer)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Nil(t, ts.inventory.received)

	ts.catalog.product.DistributorID = ts.retailer.UserID
	w = ts.do(http.MethodPost, "/api/v1/products/"+ts.catalog.product.ID.String()+"/receive", body, ts.retailer, "Idempotency-Key", "rcv-1")
	require.Equal(t, http.StatusCreated, w.Code)
	require.NotNil(t, ts.inventory.received)
	assert.Equal(t, ts.catalog.product.ID, ts.inventory.received.ProductID)
	assert.Equal(t, "rcv-1", ts.inventory.received.IdempotencyKey)
}

func TestReceiveStockBindError(t *testing.T) {
	ts := newTestServer(t)
	ts.catalog.product = &models.Product{ID: uuid.New(), DistributorID: ts.retailer.UserID}

	w := ts.do(http.MethodPost, "/api/v1/products/"+ts.catalog.product.ID.String()+"/receive", map[string]interface{}{"quantity": 5}, ts.retailer)
	require.Equal(t, http.StatusBadRequest, w.Code)
	details, ok := decode(t, w)["details"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "required", details["BatchNumber"])
}

func TestAdminOnly(t *testing.T) {
	ts := newTestServer(t)
	path := "/api/v1/admin/verification/" + uuid.New().String()

	w := ts.do(http.MethodPut, path, map[string]string{"status": models.VerificationApproved}, ts.retailer)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestCompleteOnboarding(t *testing.T) {
	ts := newTestServer(t)
	body := map[string]string{"full_name": "Dana", "business_name": "Corner Market"}

	w := ts.do(http.MethodPost, "/api/v1/onboarding/complete", body, ts.retailer)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(service.CompletionWritten), decode(t, w)["status"])
	assert.Equal(t, 1, ts.onboarding.finished)

	ts.onboarding.outcome = service.PollTimedOut
	w = ts.do(http.MethodPost, "/api/v1/onboarding/complete", body, ts.retailer)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "pending_verification", decode(t, w)["status"])
	assert.Equal(t, 1, ts.onboarding.finished)
}

func TestSignupValidation(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodPost, "/api/v1/auth/signup", map[string]string{
		"email":            "buyer@corner.market",
		"password":         "hunter22",
		"confirm_password": "hunter23",
		"role":             models.RoleRetailer,
	}, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "confirm_password", decode(t, w)["details"])
}

func TestSendVerificationEmail(t *testing.T) {
	ts := newTestServer(t)
	body := map[string]string{"status": models.VerificationApproved, "user_email": "buyer@corner.market"}

	w := ts.do(http.MethodPost, "/api/send-verification-email", body, ts.admin)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["success"])

	w = ts.do(http.MethodPost, "/api/send-verification-email", map[string]string{"status": "approved", "user_email": "nope"}, ts.admin)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	ts.forms.err = errors.New("provider returned 502")
	w = ts.do(http.MethodPost, "/api/send-verification-email", body, ts.admin)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, 1, ts.forms.sent)
}

func TestSendVerificationEmailRequiresAdmin(t *testing.T) {
	ts := newTestServer(t)
	body := map[string]string{"status": models.VerificationApproved, "user_email": "victim@example.com"}

	assert.Equal(t, http.StatusForbidden, ts.do(http.MethodPost, "/api/send-verification-email", body, nil).Code)
	assert.Equal(t, http.StatusForbidden, ts.do(http.MethodPost, "/api/send-verification-email", body, ts.retailer).Code)

	stranger := &models.Session{UserID: uuid.New()}
	assert.Equal(t, http.StatusUnauthorized, ts.do(http.MethodPost, "/api/send-verification-email", body, stranger).Code)
	assert.Zero(t, ts.forms.sent)
}

func TestContactFormRateLimited(t *testing.T) {
	ts := newTestServer(t)
	body := map[string]string{"name": "Dana", "email": "dana@corner.market", "message": "hello"}

	assert.Equal(t, http.StatusOK, ts.do(http.MethodPost, "/api/contact", body, nil).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPost, "/api/contact", map[string]string{}, nil).Code)

	w := ts.do(http.MethodPost, "/api/contact", body, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, 1, ts.forms.sent)
}

func TestVerifyCheckoutSession(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodGet, "/api/stripe/verify-session", nil, nil).Code)

	ts.checkout.err = payments.ErrNotConfigured
	assert.Equal(t, http.StatusServiceUnavailable, ts.do(http.MethodGet, "/api/stripe/verify-session?session_id=cs_1", nil, nil).Code)

	ts.checkout.err = errors.New("no such checkout.session")
	assert.Equal(t, http.StatusBadGateway, ts.do(http.MethodGet, "/api/stripe/verify-session?session_id=cs_1", nil, nil).Code)

	ts.checkout.err = nil
	ts.checkout.session = &payments.CheckoutSession{ID: "cs_1", Status: "complete", PaymentStatus: "paid", AmountTotal: 2250, Currency: "usd"}
	w := ts.do(http.MethodGet, "/api/stripe/verify-session?session_id=cs_1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "paid", decode(t, w)["payment_status"])
}
