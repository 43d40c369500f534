package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/claim_key.lua
var claimKeyScript string

//go:embed scripts/compare_delete.lua
var compareDeleteScript string

//go:embed scripts/cache_stock.lua
var cacheStockScript string

const (
	pendingMarker = "__pending__"
	stockCacheTTL = 15 * time.Minute
)

// ErrKeyInFlight is returned when another request holds the idempotency key
// but has not stored its result yet
var ErrKeyInFlight = errors.New("idempotency key in flight")

type Client struct {
	rdb           *redis.Client
	claimScript   *redis.Script
	releaseScript *redis.Script
	stockScript   *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:           rdb,
		claimScript:   redis.NewScript(claimKeyScript),
		releaseScript: redis.NewScript(compareDeleteScript),
		stockScript:   redis.NewScript(cacheStockScript),
	}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks Redis connectivity
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func idempotencyKey(scope, key string) string {
	return fmt.Sprintf("idempotency:%s:%s", scope, key)
}

// ClaimIdempotencyKey atomically claims key for scope. When the key is
// already claimed the stored result is returned with claimed=false; a claim
// whose result is not stored yet yields ErrKeyInFlight.
func (c *Client) ClaimIdempotencyKey(ctx context.Context, scope, key string, ttl time.Duration) (claimed bool, result string, err error) {
	res, err := c.claimScript.Run(ctx, c.rdb,
		[]string{idempotencyKey(scope, key)}, pendingMarker, ttl.Milliseconds()).Result()
	if err != nil {
		return false, "", fmt.Errorf("claim idempotency script failed: %w", err)
	}

	values, ok := res.([]interface{})
	if !ok || len(values) != 2 {
		return false, "", fmt.Errorf("unexpected script result type")
	}
	won, _ := values[0].(int64)
	stored, _ := values[1].(string)

	if won == 1 {
		return true, "", nil
	}
	if stored == pendingMarker {
		return false, "", ErrKeyInFlight
	}
	return false, stored, nil
}

// CompleteIdempotencyKey stores the result for a claimed key
func (c *Client) CompleteIdempotencyKey(ctx context.Context, scope, key, result string, ttl time.Duration) error {
	return c.rdb.Set(ctx, idempotencyKey(scope, key), result, ttl).Err()
}

// ReleaseIdempotencyKey drops a claim that never produced a result so the
// caller can retry
func (c *Client) ReleaseIdempotencyKey(ctx context.Context, scope, key string) error {
	_, err := c.releaseScript.Run(ctx, c.rdb, []string{idempotencyKey(scope, key)}, pendingMarker).Result()
	if err != nil {
		return fmt.Errorf("release idempotency script failed: %w", err)
	}
	return nil
}

// AcquireLock acquires a distributed lock and returns the token needed to release it
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// ReleaseLock releases a distributed lock if token still owns it
func (c *Client) ReleaseLock(ctx context.Context, lockKey, token string) error {
	_, err := c.releaseScript.Run(ctx, c.rdb, []string{fmt.Sprintf("lock:%s", lockKey)}, token).Result()
	if err != nil {
		return fmt.Errorf("release lock script failed: %w", err)
	}
	return nil
}

func stockKey(productID uuid.UUID) string {
	return fmt.Sprintf("stock:%s", productID)
}

// StockLevel is a cached stock reading
type StockLevel struct {
	Quantity  int
	Threshold int
}

// SetStockLevel caches a product's stock level. Writes carrying an older
// version than the cached one are ignored; returns whether the write landed.
// version is the product's stock_version.
func (c *Client) SetStockLevel(ctx context.Context, productID uuid.UUID, level StockLevel, version int64) (bool, error) {
	res, err := c.stockScript.Run(ctx, c.rdb, []string{stockKey(productID)},
		level.Quantity, level.Threshold, version, int(stockCacheTTL.Seconds())).Result()
	if err != nil {
		return false, fmt.Errorf("cache stock script failed: %w", err)
	}
	written, ok := res.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected script result type")
	}
	return written == 1, nil
}

// GetStockLevel retrieves a cached stock level; found is false on a miss
func (c *Client) GetStockLevel(ctx context.Context, productID uuid.UUID) (level StockLevel, found bool, err error) {
	values, err := c.rdb.HMGet(ctx, stockKey(productID), "quantity", "threshold").Result()
	if err != nil {
		return StockLevel{}, false, err
	}
	if len(values) != 2 || values[0] == nil || values[1] == nil {
		return StockLevel{}, false, nil
	}

	quantity, qerr := strconv.Atoi(fmt.Sprint(values[0]))
	threshold, terr := strconv.Atoi(fmt.Sprint(values[1]))
	if qerr != nil || terr != nil {
		return StockLevel{}, false, fmt.Errorf("corrupt stock cache entry for %s", productID)
	}
	return StockLevel{Quantity: quantity, Threshold: threshold}, true, nil
}
