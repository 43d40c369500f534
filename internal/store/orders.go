package store

import (
	"context"
	"database/sql"
	"errors"

	"marketplace-service/internal/apperror"
	"marketplace-service/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// CreateOrderTx inserts the order header and all of its items in one
// transaction; on any failure nothing is written
func (s *Store) CreateOrderTx(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	return s.withTx(ctx, "store.CreateOrderTx", func(tx *sqlx.Tx) error {
		query := `
			INSERT INTO orders (order_number, distributor_id, retailer_id, status, payment_status,
				subtotal, discount_percent, discount, total, notes, placed_by_type, placed_by_user, idempotency_key)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			RETURNING id, created_at, updated_at`

		if err := tx.QueryRowxContext(ctx, query,
			order.OrderNumber, order.DistributorID, order.RetailerID, order.Status, order.PaymentStatus,
			order.Subtotal, order.DiscountPercent, order.Discount, order.Total, order.Notes,
			order.PlacedByType, order.PlacedByUser, order.IdempotencyKey,
		).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt); err != nil {
			return err
		}

		for i := range items {
			items[i].OrderID = order.ID
			if err := tx.GetContext(ctx, &items[i].ID, `
				INSERT INTO order_items (order_id, product_id, quantity, price)
				VALUES ($1, $2, $3, $4)
				RETURNING id`,
				items[i].OrderID, items[i].ProductID, items[i].Quantity, items[i].Price); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err != nil {
		return nil, apperror.FromDB("store.GetOrderByID", err)
	}
	return &order, nil
}

// GetOrderByIdempotencyKey retrieves the order a user placed under an idempotency key
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		"SELECT * FROM orders WHERE placed_by_user = $1 AND idempotency_key = $2", userID, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperror.FromDB("store.GetOrderByIdempotencyKey", err)
	}
	return &order, nil
}

// ListOrdersForParty retrieves orders where the user is either side
func (s *Store) ListOrdersForParty(ctx context.Context, userID uuid.UUID) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE retailer_id = $1 OR distributor_id = $1 ORDER BY created_at DESC", userID)
	if err != nil {
		return nil, apperror.FromDB("store.ListOrdersForParty", err)
	}
	return orders, nil
}

// GetOrderItemsByOrderID retrieves all items for an order
func (s *Store) GetOrderItemsByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1", orderID)
	if err != nil {
		return nil, apperror.FromDB("store.GetOrderItemsByOrderID", err)
	}
	return items, nil
}
