package api

import (
	"context"
	"net/http"
	"time"

	"marketplace-service/internal/models"
	"marketplace-service/internal/payments"
	"marketplace-service/internal/service"
	"marketplace-service/internal/util"
	"marketplace-service/internal/validation"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Inventory is the stock ledger used by the product routes
type Inventory interface {
	ReceiveStock(ctx context.Context, req *service.ReceiveStockRequest) (*service.StockReceipt, error)
	SetInitialStock(ctx context.Context, productID uuid.UUID, quantity int, receivedDate time.Time, expirationDate *time.Time) (*service.StockReceipt, error)
	ConsumeStock(ctx context.Context, productID uuid.UUID, quantity int) (*service.StockDrawdown, error)
	GetStockLevel(ctx context.Context, productID uuid.UUID) (*service.StockLevel, error)
	ListBatches(ctx context.Context, productID uuid.UUID) ([]models.Batch, error)
}

// Catalog manages products
type Catalog interface {
	CreateProduct(ctx context.Context, session *models.Session, req *service.NewProductRequest) (*models.Product, error)
	ListProducts(ctx context.Context, distributorID uuid.UUID) ([]models.Product, error)
	GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error)
}

// Orders builds, submits and reads orders
type Orders interface {
	BuildOrder(ctx context.Context, session *models.Session, req *service.SubmitOrderRequest) (*service.OrderBuilder, error)
	Submit(ctx context.Context, session *models.Session, builder *service.OrderBuilder, idempotencyKey string) (*service.SubmitResult, error)
	GetOrder(ctx context.Context, session *models.Session, orderID uuid.UUID) (*service.OrderDetail, error)
	ListOrders(ctx context.Context, session *models.Session) ([]models.Order, error)
}

// Onboarding drives signup and verification
type Onboarding interface {
	CreateAccount(ctx context.Context, flow *service.SignupFlow) (*models.Account, error)
	ConfirmEmail(ctx context.Context, token string) (*models.Session, error)
	CurrentSession(ctx context.Context, userID uuid.UUID) (*models.Session, error)
	AwaitVerification(ctx context.Context, flow *service.SignupFlow) (service.PollOutcome, error)
	FinishSignup(ctx context.Context, flow *service.SignupFlow, input *service.ProfileInput) (service.CompletionResult, error)
	UpdateVerificationStatus(ctx context.Context, userID uuid.UUID, status string) (*models.VerificationStatus, error)
}

// Forms forwards public form submissions by email
type Forms interface {
	SendVerificationEmail(ctx context.Context, req *service.VerificationEmailRequest) error
	SubmitContact(ctx context.Context, req *service.FormRequest) error
	SubmitProposal(ctx context.Context, req *service.FormRequest) error
}

// CheckoutVerifier looks up payment processor checkout sessions
type CheckoutVerifier interface {
	VerifySession(ctx context.Context, sessionID string) (*payments.CheckoutSession, error)
}

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configure the router
type Options struct {
	Production     bool
	RequestTimeout time.Duration
	FormRateLimit  int
}

// Handler contains HTTP handlers
type Handler struct {
	inventory  Inventory
	catalog    Catalog
	orders     Orders
	onboarding Onboarding
	forms      Forms
	checkout   CheckoutVerifier
	deps       []Pinger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	inventory Inventory,
	catalog Catalog,
	orders Orders,
	onboarding Onboarding,
	forms Forms,
	checkout CheckoutVerifier,
	deps ...Pinger,
) *Handler {
	return &Handler{
		inventory:  inventory,
		catalog:    catalog,
		orders:     orders,
		onboarding: onboarding,
		forms:      forms,
		checkout:   checkout,
		deps:       deps,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine, opts Options) {
	if err := validation.Register(); err != nil {
		util.GetLogger().Fatal("Failed to register validators", zap.Error(err))
	}

	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())
	router.Use(secureHeaders(opts.Production))

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	limit := opts.FormRateLimit
	if limit <= 0 {
		limit = 10
	}

	var resolve SessionResolver
	if h.onboarding != nil {
		resolve = h.onboarding.CurrentSession
	}

	public := router.Group("/api", requestTimeout(opts.RequestTimeout))
	{
		public.POST("/send-verification-email", sessionMiddleware(resolve), requireAdmin(), h.sendVerificationEmail)
		public.POST("/contact", rateLimitByIP(limit, time.Minute), h.submitContact)
		public.POST("/proposal", rateLimitByIP(limit, time.Minute), h.submitProposal)
		public.GET("/stripe/verify-session", h.verifyCheckoutSession)
	}

	v1 := router.Group("/api/v1", sessionMiddleware(resolve))
	{
		auth := v1.Group("/auth", requestTimeout(opts.RequestTimeout))
		auth.POST("/signup", h.signup)
		auth.GET("/confirm", h.confirmEmail)
		auth.GET("/session", requireSession(), h.getSession)

		// long-polls email verification on the request context
		v1.POST("/onboarding/complete", requireSession(), h.completeOnboarding)

		authed := v1.Group("", requestTimeout(opts.RequestTimeout))

		products := authed.Group("/products")
		products.POST("", requireSession(), h.createProduct)
		products.GET("", h.listProducts)
		products.GET("/:id", h.getProduct)
		products.GET("/:id/stock", h.getStockLevel)
		products.GET("/:id/batches", h.listBatches)
		products.POST("/:id/receive", requireSession(), h.receiveStock)
		products.POST("/:id/initial-stock", requireSession(), h.setInitialStock)
		products.POST("/:id/consume", requireSession(), h.consumeStock)

		orders := authed.Group("/orders", requireSession())
		orders.POST("", h.submitOrder)
		orders.GET("", h.listOrders)
		orders.GET("/:id", h.getOrder)

		admin := authed.Group("/admin", requireAdmin())
		admin.PUT("/verification/:user_id", h.updateVerificationStatus)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every dependency concurrently
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	for _, dep := range h.deps {
		dep := dep
		g.Go(func() error { return dep.Ping(ctx) })
	}
	if err := g.Wait(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not ready",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

func parseID(c *gin.Context, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + param})
		return uuid.Nil, false
	}
	return id, true
}
