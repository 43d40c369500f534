package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"marketplace-service/internal/apperror"
	"marketplace-service/internal/models"
	"marketplace-service/internal/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLedger(repo *memoryRepo, cache StockCache, idem IdempotencyStore) (*InventoryLedger, *recordingPublisher) {
	pub := &recordingPublisher{}
	return NewInventoryLedger(repo, cache, idem, pub, DefaultLowStockThreshold, time.Hour), pub
}

func TestComputeStockStatus(t *testing.T) {
	tests := []struct {
		quantity int
		want     string
	}{
		{-3, models.StockStatusOutOfStock},
		{0, models.StockStatusOutOfStock},
		{1, models.StockStatusLowStock},
		{10, models.StockStatusLowStock},
		{11, models.StockStatusInStock},
		{500, models.StockStatusInStock},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.quantity), func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeStockStatus(tt.quantity, DefaultLowStockThreshold))
			// pure: same answer every time
			assert.Equal(t, ComputeStockStatus(tt.quantity, DefaultLowStockThreshold), ComputeStockStatus(tt.quantity, DefaultLowStockThreshold))
		})
	}
}

func TestReceiveStockOnEmptyProduct(t *testing.T) {
	repo := newMemoryRepo()
	product := repo.addProduct(uuid.New(), "Sparkling Water", "12.00", 0)
	ledger, pub := newLedger(repo, nil, nil)

	receipt, err := ledger.ReceiveStock(context.Background(), &ReceiveStockRequest{
		ProductID:    product.ID,
		BatchNumber:  "B1",
		Quantity:     50,
		ReceivedDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	assert.Equal(t, 0, receipt.StockBefore)
	assert.Equal(t, 50, receipt.StockAfter)
	assert.Equal(t, models.StockStatusInStock, receipt.Status)

	stored, err := repo.GetProductByID(context.Background(), product.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, stored.StockQuantity)

	batches, err := repo.ListBatches(context.Background(), product.ID)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, "B1", batches[0].BatchNumber)
	assert.Equal(t, 50, batches[0].Quantity)
	assert.Equal(t, 50, batches[0].RemainingQuantity)

	assert.Equal(t, 1, pub.count(isStockReceived))
	assert.Equal(t, 0, pub.count(isStockLow))
}

func TestReceiveStockConcurrent(t *testing.T) {
	repo := newMemoryRepo()
	product := repo.addProduct(uuid.New(), "Oat Milk", "30.00", 0)
	ledger, _ := newLedger(repo, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := ledger.ReceiveStock(context.Background(), &ReceiveStockRequest{
				ProductID:   product.ID,
				BatchNumber: fmt.Sprintf("B%d", i),
				Quantity:    5,
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	stored, err := repo.GetProductByID(context.Background(), product.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, stored.StockQuantity)

	batches, err := repo.ListBatches(context.Background(), product.ID)
	require.NoError(t, err)
	require.Len(t, batches, 10)
	remaining := 0
	for _, b := range batches {
		assert.True(t, b.RemainingQuantity >= 0 && b.RemainingQuantity <= b.Quantity)
		remaining += b.RemainingQuantity
	}
	assert.LessOrEqual(t, remaining, stored.StockQuantity)
}

func TestReceiveStockRejectsBadInput(t *testing.T) {
	repo := newMemoryRepo()
	ledger, _ := newLedger(repo, nil, nil)
	productID := uuid.New()
	received := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	expired := received.AddDate(0, 0, -1)

	tests := []struct {
		name string
		req  ReceiveStockRequest
	}{
		{"no product", ReceiveStockRequest{BatchNumber: "B1", Quantity: 1}},
		{"no batch number", ReceiveStockRequest{ProductID: productID, Quantity: 1}},
		{"zero quantity", ReceiveStockRequest{ProductID: productID, BatchNumber: "B1"}},
		{"negative quantity", ReceiveStockRequest{ProductID: productID, BatchNumber: "B1", Quantity: -4}},
		{"expires before receipt", ReceiveStockRequest{ProductID: productID, BatchNumber: "B1", Quantity: 1,
			ReceivedDate: received, ExpirationDate: &expired}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			_, err := ledger.ReceiveStock(context.Background(), &req)
			require.Error(t, err)
			assert.True(t, IsValidationError(err))
		})
	}
	assert.Zero(t, repo.Calls())
}

func TestReceiveStockIdempotencyKey(t *testing.T) {
	repo := newMemoryRepo()
	product := repo.addProduct(uuid.New(), "Coffee Beans", "80.00", 0)
	ledger, _ := newLedger(repo, nil, newRedis(t))

	req := func() *ReceiveStockRequest {
		return &ReceiveStockRequest{ProductID: product.ID, BatchNumber: "B7", Quantity: 20, IdempotencyKey: "receipt-7"}
	}

	first, err := ledger.ReceiveStock(context.Background(), req())
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := ledger.ReceiveStock(context.Background(), req())
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Batch.ID, second.Batch.ID)
	assert.Equal(t, 20, second.StockAfter)

	batches, err := repo.ListBatches(context.Background(), product.ID)
	require.NoError(t, err)
	assert.Len(t, batches, 1)
}

func TestReceiveStockIdempotencyKeyIsPerProduct(t *testing.T) {
	repo := newMemoryRepo()
	coffee := repo.addProduct(uuid.New(), "Coffee Beans", "80.00", 0)
	tea := repo.addProduct(uuid.New(), "Green Tea", "30.00", 0)
	ledger, _ := newLedger(repo, nil, newRedis(t))

	first, err := ledger.ReceiveStock(context.Background(),
		&ReceiveStockRequest{ProductID: coffee.ID, BatchNumber: "B1", Quantity: 20, IdempotencyKey: "delivery-1"})
	require.NoError(t, err)

	second, err := ledger.ReceiveStock(context.Background(),
		&ReceiveStockRequest{ProductID: tea.ID, BatchNumber: "B1", Quantity: 15, IdempotencyKey: "delivery-1"})
	require.NoError(t, err)
	assert.False(t, second.Replayed)
	assert.NotEqual(t, first.Batch.ID, second.Batch.ID)
	assert.Equal(t, 15, second.StockAfter)

	batches, err := repo.ListBatches(context.Background(), tea.ID)
	require.NoError(t, err)
	assert.Len(t, batches, 1)
}

func TestReceiveStockFailureReleasesKey(t *testing.T) {
	repo := newMemoryRepo()
	ledger, _ := newLedger(repo, nil, newRedis(t))

	req := &ReceiveStockRequest{ProductID: uuid.New(), BatchNumber: "B1", Quantity: 5, IdempotencyKey: "missing"}
	_, err := ledger.ReceiveStock(context.Background(), req)
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.KindNotFound))

	// the key is free again, so a retry reaches the store instead of a stale result
	before := repo.Calls()
	_, err = ledger.ReceiveStock(context.Background(), req)
	require.Error(t, err)
	assert.Greater(t, repo.Calls(), before)
}

func TestSetInitialStock(t *testing.T) {
	repo := newMemoryRepo()
	product := repo.addProduct(uuid.New(), "Granola", "45.00", 7)
	ledger, pub := newLedger(repo, nil, nil)
	received := time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)

	receipt, err := ledger.SetInitialStock(context.Background(), product.ID, 8, received, nil)
	require.NoError(t, err)
	assert.Equal(t, "INITIAL-03052024", receipt.Batch.BatchNumber)
	assert.Equal(t, 7, receipt.StockBefore)
	assert.Equal(t, 8, receipt.StockAfter)
	assert.Equal(t, models.StockStatusLowStock, receipt.Status)
	assert.Equal(t, 1, pub.count(isStockLow))

	_, err = ledger.SetInitialStock(context.Background(), product.ID, 8, received.AddDate(0, 0, 1), nil)
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.KindConflict))
	assert.ErrorIs(t, err, store.ErrInitialStockRecorded)

	_, err = ledger.SetInitialStock(context.Background(), product.ID, 0, received, nil)
	assert.True(t, IsValidationError(err))
}

func TestConsumeStockOldestBatchFirst(t *testing.T) {
	repo := newMemoryRepo()
	product := repo.addProduct(uuid.New(), "Rice", "22.00", 0)
	ledger, pub := newLedger(repo, nil, nil)
	ctx := context.Background()

	day := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	_, err := ledger.ReceiveStock(ctx, &ReceiveStockRequest{ProductID: product.ID, BatchNumber: "OLD", Quantity: 10, ReceivedDate: day})
	require.NoError(t, err)
	_, err = ledger.ReceiveStock(ctx, &ReceiveStockRequest{ProductID: product.ID, BatchNumber: "NEW", Quantity: 10, ReceivedDate: day.AddDate(0, 0, 7)})
	require.NoError(t, err)

	drawdown, err := ledger.ConsumeStock(ctx, product.ID, 14)
	require.NoError(t, err)
	assert.Equal(t, 20, drawdown.StockBefore)
	assert.Equal(t, 6, drawdown.StockAfter)
	assert.Equal(t, models.StockStatusLowStock, drawdown.Status)
	require.Len(t, drawdown.Draws, 2)
	assert.Equal(t, "OLD", drawdown.Draws[0].BatchNumber)
	assert.Equal(t, 10, drawdown.Draws[0].Quantity)
	assert.Equal(t, "NEW", drawdown.Draws[1].BatchNumber)
	assert.Equal(t, 4, drawdown.Draws[1].Quantity)
	// one from the first receipt at exactly the threshold, one from the drawdown
	assert.Equal(t, 2, pub.count(isStockLow))

	_, err = ledger.ConsumeStock(ctx, product.ID, 7)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrInsufficientStock)

	_, err = ledger.ConsumeStock(ctx, product.ID, 0)
	assert.True(t, IsValidationError(err))
}

func TestProductThresholdOverridesDefault(t *testing.T) {
	repo := newMemoryRepo()
	product := repo.addProduct(uuid.New(), "Flour", "18.00", 0)
	threshold := 100
	repo.products[product.ID].LowStockThreshold = &threshold
	ledger, pub := newLedger(repo, nil, nil)

	receipt, err := ledger.ReceiveStock(context.Background(), &ReceiveStockRequest{ProductID: product.ID, BatchNumber: "F1", Quantity: 50})
	require.NoError(t, err)
	assert.Equal(t, models.StockStatusLowStock, receipt.Status)
	assert.Equal(t, 1, pub.count(isStockLow))
}

func TestGetStockLevelUsesCache(t *testing.T) {
	repo := newMemoryRepo()
	product := repo.addProduct(uuid.New(), "Tea", "9.50", 3)
	ledger, _ := newLedger(repo, newRedis(t), nil)
	ctx := context.Background()

	level, err := ledger.GetStockLevel(ctx, product.ID)
	require.NoError(t, err)
	assert.False(t, level.Cached)
	assert.Equal(t, 3, level.Quantity)
	assert.Equal(t, models.StockStatusLowStock, level.Status)

	calls := repo.Calls()
	level, err = ledger.GetStockLevel(ctx, product.ID)
	require.NoError(t, err)
	assert.True(t, level.Cached)
	assert.Equal(t, 3, level.Quantity)
	assert.Equal(t, calls, repo.Calls())

	_, err = ledger.ReceiveStock(ctx, &ReceiveStockRequest{ProductID: product.ID, BatchNumber: "T1", Quantity: 40})
	require.NoError(t, err)

	level, err = ledger.GetStockLevel(ctx, product.ID)
	require.NoError(t, err)
	assert.True(t, level.Cached)
	assert.Equal(t, 43, level.Quantity)
	assert.Equal(t, models.StockStatusInStock, level.Status)
}

func TestStockCacheOrderedByStockVersion(t *testing.T) {
	repo := newMemoryRepo()
	product := repo.addProduct(uuid.New(), "Cold Brew", "18.00", 0)
	ledger, _ := newLedger(repo, newRedis(t), nil)
	ctx := context.Background()

	_, err := ledger.ReceiveStock(ctx, &ReceiveStockRequest{ProductID: product.ID, BatchNumber: "C1", Quantity: 20})
	require.NoError(t, err)
	stale, err := repo.GetProductByID(ctx, product.ID)
	require.NoError(t, err)

	// the later commit carries an earlier timestamp
	repo.mu.Lock()
	repo.products[product.ID].UpdatedAt = stale.UpdatedAt.Add(-time.Hour)
	repo.mu.Unlock()
	_, err = ledger.ConsumeStock(ctx, product.ID, 5)
	require.NoError(t, err)

	level, err := ledger.GetStockLevel(ctx, product.ID)
	require.NoError(t, err)
	assert.True(t, level.Cached)
	assert.Equal(t, 15, level.Quantity)

	// a reader holding the older row cannot roll the cache back
	ledger.refreshCache(ctx, stale, DefaultLowStockThreshold)
	level, err = ledger.GetStockLevel(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 15, level.Quantity)
}
