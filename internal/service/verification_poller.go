package service

import (
	"context"
	"time"

	"marketplace-service/internal/util"

	"go.uber.org/zap"
)

// PollOutcome is the final result of waiting for email verification
type PollOutcome string

const (
	PollVerified PollOutcome = "verified"
	PollTimedOut PollOutcome = "timed_out"
)

// PollConfig bounds the verification poll
type PollConfig struct {
	Interval    time.Duration
	MaxInterval time.Duration
	Multiplier  float64
	MaxAttempts int
}

// DefaultPollConfig polls after 3s, backing off ×1.5 up to 30s, 40 times at most
func DefaultPollConfig() PollConfig {
	return PollConfig{
		Interval:    3 * time.Second,
		MaxInterval: 30 * time.Second,
		Multiplier:  1.5,
		MaxAttempts: 40,
	}
}

// CheckFunc reports whether the awaited condition holds
type CheckFunc func(ctx context.Context) (bool, error)

// VerificationPoller runs a check on a backing-off, cancellable timer
type VerificationPoller struct {
	cfg    PollConfig
	logger *zap.Logger
}

// NewVerificationPoller creates a poller; zero fields take their defaults
func NewVerificationPoller(cfg PollConfig) *VerificationPoller {
	def := DefaultPollConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = def.MaxInterval
	}
	if cfg.MaxInterval < cfg.Interval {
		cfg.MaxInterval = cfg.Interval
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = def.Multiplier
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	return &VerificationPoller{cfg: cfg, logger: util.GetLogger()}
}

// Poll runs check until it reports true, the attempts run out, or ctx ends.
// Check errors are logged and retried on the next tick.
func (p *VerificationPoller) Poll(ctx context.Context, check CheckFunc) (PollOutcome, error) {
	interval := p.cfg.Interval
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}

		ok, err := check(ctx)
		switch {
		case err != nil:
			util.VerificationPollsTotal.WithLabelValues("error").Inc()
			p.logger.Warn("Verification poll failed", zap.Int("attempt", attempt), zap.Error(err))
		case ok:
			util.VerificationPollsTotal.WithLabelValues("verified").Inc()
			util.VerificationOutcomesTotal.WithLabelValues(string(PollVerified)).Inc()
			return PollVerified, nil
		default:
			util.VerificationPollsTotal.WithLabelValues("pending").Inc()
		}

		if attempt >= p.cfg.MaxAttempts {
			util.VerificationOutcomesTotal.WithLabelValues(string(PollTimedOut)).Inc()
			return PollTimedOut, nil
		}

		interval = time.Duration(float64(interval) * p.cfg.Multiplier)
		if interval > p.cfg.MaxInterval {
			interval = p.cfg.MaxInterval
		}
		timer.Reset(interval)
	}
}
