package store

import (
	"context"
	"errors"

	"marketplace-service/internal/apperror"
	"marketplace-service/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ErrInsufficientStock is returned when a drawdown exceeds on-hand stock
var ErrInsufficientStock = errors.New("insufficient stock")

// ErrInitialStockRecorded is returned when SetInitialStock finds existing batches
var ErrInitialStockRecorded = errors.New("initial stock already recorded")

// StockMode selects how a received batch changes the product's stock level
type StockMode int

const (
	// StockIncrement adds the batch quantity to the current level
	StockIncrement StockMode = iota
	// StockOverwrite replaces the current level with the batch quantity
	StockOverwrite
)

// bumpStockVersion finishes a stock UPDATE. The row is locked FOR UPDATE, so
// stock_version increases in commit order and orders cache writes.
const bumpStockVersion = "stock_version = stock_version + 1, updated_at = clock_timestamp() " +
	"WHERE id = $2 RETURNING stock_quantity, stock_version, updated_at"

// StockChange describes a committed stock mutation
type StockChange struct {
	Product models.Product
	Before  int
	After   int
}

// BatchDraw records how much a drawdown took from one batch
type BatchDraw struct {
	BatchID     uuid.UUID `json:"batch_id"`
	BatchNumber string    `json:"batch_number"`
	Quantity    int       `json:"quantity"`
}

// ReceiveStockTx locks the product row, updates its stock level and inserts
// the batch in one transaction
func (s *Store) ReceiveStockTx(ctx context.Context, batch *models.Batch, mode StockMode) (*StockChange, error) {
	var change StockChange

	err := s.withTx(ctx, "store.ReceiveStockTx", func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &change.Product,
			"SELECT * FROM products WHERE id = $1 FOR UPDATE", batch.ProductID); err != nil {
			return err
		}
		change.Before = change.Product.StockQuantity

		if mode == StockOverwrite {
			var existing int
			if err := tx.GetContext(ctx, &existing,
				"SELECT COUNT(*) FROM batches WHERE product_id = $1", batch.ProductID); err != nil {
				return err
			}
			if existing > 0 {
				return &apperror.Error{
					Kind:    apperror.KindConflict,
					Op:      "store.ReceiveStockTx",
					Message: "initial stock already recorded, receive a new batch instead",
					Err:     ErrInitialStockRecorded,
				}
			}
		}

		update := "UPDATE products SET stock_quantity = stock_quantity + $1, " + bumpStockVersion
		if mode == StockOverwrite {
			update = "UPDATE products SET stock_quantity = $1, " + bumpStockVersion
		}
		if err := tx.QueryRowxContext(ctx, update, batch.Quantity, batch.ProductID).
			Scan(&change.After, &change.Product.StockVersion, &change.Product.UpdatedAt); err != nil {
			return err
		}
		change.Product.StockQuantity = change.After

		batch.DistributorID = change.Product.DistributorID
		batch.RemainingQuantity = batch.Quantity
		insert := `
			INSERT INTO batches (product_id, distributor_id, batch_number, quantity, remaining_quantity, received_date, expiration_date)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id, created_at`
		return tx.QueryRowxContext(ctx, insert,
			batch.ProductID, batch.DistributorID, batch.BatchNumber, batch.Quantity,
			batch.RemainingQuantity, batch.ReceivedDate, batch.ExpirationDate).
			Scan(&batch.ID, &batch.CreatedAt)
	})
	if err != nil {
		return nil, err
	}
	return &change, nil
}

// ConsumeStockTx decrements stock and draws remaining quantity from batches
// oldest first
func (s *Store) ConsumeStockTx(ctx context.Context, productID uuid.UUID, quantity int) (*StockChange, []BatchDraw, error) {
	var change StockChange
	var draws []BatchDraw

	err := s.withTx(ctx, "store.ConsumeStockTx", func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &change.Product,
			"SELECT * FROM products WHERE id = $1 FOR UPDATE", productID); err != nil {
			return err
		}
		change.Before = change.Product.StockQuantity
		if change.Before < quantity {
			return &apperror.Error{
				Kind:    apperror.KindConflict,
				Op:      "store.ConsumeStockTx",
				Message: "insufficient stock",
				Err:     ErrInsufficientStock,
			}
		}

		var batches []models.Batch
		if err := tx.SelectContext(ctx, &batches, `
			SELECT * FROM batches
			WHERE product_id = $1 AND remaining_quantity > 0
			ORDER BY received_date, created_at
			FOR UPDATE`, productID); err != nil {
			return err
		}

		draws = planDrawdown(batches, quantity)
		for _, d := range draws {
			if _, err := tx.ExecContext(ctx,
				"UPDATE batches SET remaining_quantity = remaining_quantity - $1 WHERE id = $2",
				d.Quantity, d.BatchID); err != nil {
				return err
			}
		}

		if err := tx.QueryRowxContext(ctx,
			"UPDATE products SET stock_quantity = stock_quantity - $1, "+bumpStockVersion,
			quantity, productID).Scan(&change.After, &change.Product.StockVersion, &change.Product.UpdatedAt); err != nil {
			return err
		}
		change.Product.StockQuantity = change.After
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return &change, draws, nil
}

// planDrawdown takes quantity from batches in the given order. Stock recorded
// without batches is allowed to cover whatever the batches cannot.
func planDrawdown(batches []models.Batch, quantity int) []BatchDraw {
	var draws []BatchDraw
	left := quantity
	for _, b := range batches {
		if left == 0 {
			break
		}
		take := b.RemainingQuantity
		if take > left {
			take = left
		}
		if take <= 0 {
			continue
		}
		draws = append(draws, BatchDraw{BatchID: b.ID, BatchNumber: b.BatchNumber, Quantity: take})
		left -= take
	}
	return draws
}

// ListBatches retrieves a product's batches, newest first
func (s *Store) ListBatches(ctx context.Context, productID uuid.UUID) ([]models.Batch, error) {
	var batches []models.Batch
	err := s.db.SelectContext(ctx, &batches,
		"SELECT * FROM batches WHERE product_id = $1 ORDER BY received_date DESC, created_at DESC", productID)
	if err != nil {
		return nil, apperror.FromDB("store.ListBatches", err)
	}
	return batches, nil
}
