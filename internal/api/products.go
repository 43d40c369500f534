package api

import (
	"net/http"
	"time"

	"marketplace-service/internal/apperror"
	"marketplace-service/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type initialStockRequest struct {
	Quantity       int        `json:"quantity" binding:"required,min=1"`
	ReceivedDate   time.Time  `json:"received_date"`
	ExpirationDate *time.Time `json:"expiration_date,omitempty"`
}

type consumeStockRequest struct {
	Quantity int `json:"quantity" binding:"required,min=1"`
}

// createProduct adds a product to the caller's catalog
func (h *Handler) createProduct(c *gin.Context) {
	var req service.NewProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	product, err := h.catalog.CreateProduct(c.Request.Context(), currentSession(c), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, product)
}

// listProducts lists a distributor's catalog
func (h *Handler) listProducts(c *gin.Context) {
	distributorID, err := uuid.Parse(c.Query("distributor_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "distributor_id is required"})
		return
	}

	products, err := h.catalog.ListProducts(c.Request.Context(), distributorID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

// getProduct handles get product by ID
func (h *Handler) getProduct(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	product, err := h.catalog.GetProduct(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (h *Handler) getStockLevel(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	level, err := h.inventory.GetStockLevel(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, level)
}

func (h *Handler) listBatches(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	batches, err := h.inventory.ListBatches(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"batches": batches})
}

// ownProduct checks the caller owns the product being stocked
func (h *Handler) ownProduct(c *gin.Context) (uuid.UUID, bool) {
	id, ok := parseID(c, "id")
	if !ok {
		return uuid.Nil, false
	}

	product, err := h.catalog.GetProduct(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return uuid.Nil, false
	}
	if session := currentSession(c); session == nil || session.UserID != product.DistributorID {
		respondError(c, apperror.New(apperror.KindPermissionDenied, "api.ownProduct", "only the owning distributor can change stock"))
		return uuid.Nil, false
	}
	return id, true
}

// receiveStock records a received batch
func (h *Handler) receiveStock(c *gin.Context) {
	id, ok := h.ownProduct(c)
	if !ok {
		return
	}

	var req service.ReceiveStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	req.ProductID = id
	req.IdempotencyKey = c.GetHeader("Idempotency-Key")

	receipt, err := h.inventory.ReceiveStock(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusCreated
	if receipt.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, receipt)
}

// setInitialStock records a product's first stock level
func (h *Handler) setInitialStock(c *gin.Context) {
	id, ok := h.ownProduct(c)
	if !ok {
		return
	}

	var req initialStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	receipt, err := h.inventory.SetInitialStock(c.Request.Context(), id, req.Quantity, req.ReceivedDate, req.ExpirationDate)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, receipt)
}

// consumeStock draws stock down oldest batch first
func (h *Handler) consumeStock(c *gin.Context) {
	id, ok := h.ownProduct(c)
	if !ok {
		return
	}

	var req consumeStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	drawdown, err := h.inventory.ConsumeStock(c.Request.Context(), id, req.Quantity)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, drawdown)
}
