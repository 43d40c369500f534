package service

import (
	"context"
	"strings"
	"time"

	"marketplace-service/internal/apperror"
	"marketplace-service/internal/models"
	"marketplace-service/internal/util"
	"marketplace-service/internal/validation"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// catalogLoadTimeout bounds a shared catalog load, which outlives any single caller
const catalogLoadTimeout = 10 * time.Second

// CatalogService manages distributor products
type CatalogService struct {
	store  CatalogStore
	loads  singleflight.Group
	logger *zap.Logger
}

// NewCatalogService creates a new catalog service
func NewCatalogService(store CatalogStore) *CatalogService {
	return &CatalogService{
		store:  store,
		logger: util.GetLogger(),
	}
}

// NewProductRequest represents a product a distributor adds to its catalog
type NewProductRequest struct {
	Name              string          `json:"name" binding:"required"`
	Description       string          `json:"description"`
	Price             decimal.Decimal `json:"price"`
	CaseSize          int             `json:"case_size" binding:"required,min=1"`
	CategoryID        *uuid.UUID      `json:"category_id,omitempty"`
	SKU               string          `json:"sku"`
	UPC               string          `json:"upc" binding:"required,upc"`
	LowStockThreshold *int            `json:"low_stock_threshold,omitempty" binding:"omitempty,min=0"`
}

func (r *NewProductRequest) validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return invalidf("name", "product name is required")
	}
	if !r.Price.IsPositive() {
		return invalidf("price", "price must be greater than zero")
	}
	if r.CaseSize <= 0 {
		return invalidf("case_size", "case size must be greater than zero")
	}
	if !validation.IsValidUPC(r.UPC) {
		return invalidf("upc", "UPC must be exactly 12 digits")
	}
	if r.LowStockThreshold != nil && *r.LowStockThreshold < 0 {
		return invalidf("low_stock_threshold", "low stock threshold cannot be negative")
	}
	return nil
}

// CreateProduct adds a product to the session distributor's catalog
func (s *CatalogService) CreateProduct(ctx context.Context, session *models.Session, req *NewProductRequest) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.CreateProduct")
	defer span.End()

	if session == nil || session.Role != models.RoleDistributor {
		return nil, apperror.New(apperror.KindPermissionDenied, "catalog.CreateProduct", "only distributors can add products")
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	product := &models.Product{
		DistributorID:     session.UserID,
		Name:              strings.TrimSpace(req.Name),
		Description:       req.Description,
		Price:             req.Price,
		CaseSize:          req.CaseSize,
		CategoryID:        req.CategoryID,
		SKU:               req.SKU,
		UPC:               req.UPC,
		LowStockThreshold: req.LowStockThreshold,
	}
	if err := s.store.CreateProduct(ctx, product); err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	s.logger.Info("Product created",
		zap.String("product_id", product.ID.String()),
		zap.String("distributor_id", product.DistributorID.String()))
	return product, nil
}

// ListProducts loads a distributor's catalog. Concurrent loads of the same
// catalog share one query.
func (s *CatalogService) ListProducts(ctx context.Context, distributorID uuid.UUID) ([]models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.ListProducts")
	defer span.End()

	v, err, _ := s.loads.Do(distributorID.String(), func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), catalogLoadTimeout)
		defer cancel()
		return s.store.ListProductsByDistributor(loadCtx, distributorID)
	})
	if err != nil {
		return nil, err
	}

	products := v.([]models.Product)
	out := make([]models.Product, len(products))
	copy(out, products)
	return out, nil
}

// GetProduct retrieves a product by ID
func (s *CatalogService) GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.GetProduct")
	defer span.End()

	return s.store.GetProductByID(ctx, id)
}

// ProductsFor loads the given products, keeping only those the distributor sells
func (s *CatalogService) ProductsFor(ctx context.Context, distributorID uuid.UUID, ids []uuid.UUID) ([]models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.ProductsFor")
	defer span.End()

	products, err := s.store.GetProductsByIDs(ctx, ids)
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	out := products[:0]
	for _, p := range products {
		if p.DistributorID == distributorID {
			out = append(out, p)
		}
	}
	return out, nil
}
