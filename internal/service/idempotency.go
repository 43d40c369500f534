package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"marketplace-service/internal/apperror"
	"marketplace-service/internal/redisclient"

	"go.uber.org/zap"
)

// idempotent runs fn at most once per (scope, key) while the key lives.
// A repeated call gets the stored result back with replayed=true. Redis
// outages degrade to running fn unguarded; callers keep their own database
// level uniqueness as the backstop.
func idempotent[T any](
	ctx context.Context,
	idem IdempotencyStore,
	logger *zap.Logger,
	scope, key string,
	ttl time.Duration,
	fn func(ctx context.Context) (*T, error),
) (result *T, replayed bool, err error) {
	if idem == nil || key == "" {
		result, err = fn(ctx)
		return result, false, err
	}

	claimed, stored, err := idem.ClaimIdempotencyKey(ctx, scope, key, ttl)
	switch {
	case errors.Is(err, redisclient.ErrKeyInFlight):
		return nil, false, apperror.New(apperror.KindConflict, scope,
			"a request with this idempotency key is still in progress")
	case err != nil:
		logger.Warn("Idempotency store unavailable, continuing without it",
			zap.String("scope", scope), zap.Error(err))
		result, err = fn(ctx)
		return result, false, err
	case !claimed:
		var previous T
		if err := json.Unmarshal([]byte(stored), &previous); err != nil {
			return nil, false, apperror.New(apperror.KindUnknown, scope, "stored idempotent result is unreadable")
		}
		return &previous, true, nil
	}

	result, err = fn(ctx)
	if err != nil {
		if rerr := idem.ReleaseIdempotencyKey(ctx, scope, key); rerr != nil {
			logger.Warn("Failed to release idempotency key", zap.String("scope", scope), zap.Error(rerr))
		}
		return nil, false, err
	}

	payload, merr := json.Marshal(result)
	if merr == nil {
		merr = idem.CompleteIdempotencyKey(ctx, scope, key, string(payload), ttl)
	}
	if merr != nil {
		logger.Warn("Failed to store idempotent result", zap.String("scope", scope), zap.Error(merr))
	}
	return result, false, nil
}
