package clientstore

import (
	"context"
	"math/rand"
	"time"

	"golang.org/x/time/rate"
)

// retryConfig controls the bounded exponential backoff applied to
// transient store errors (§4.2 "transient store errors retry with a
// back-off"; §7 "Transient store error: bounded retry with backoff").
// Adapted from the teacher's `infrastructure/resilience.Retry`, with a
// token-bucket limiter gating attempts so a store outage can't turn every
// caller's retry loop into a thundering herd against Postgres.
type retryConfig struct {
	maxAttempts  int
	initialDelay time.Duration
	maxDelay     time.Duration
	multiplier   float64
	jitter       float64
}

func defaultRetryConfig() retryConfig {
	return retryConfig{
		maxAttempts:  3,
		initialDelay: 100 * time.Millisecond,
		maxDelay:     5 * time.Second,
		multiplier:   2.0,
		jitter:       0.1,
	}
}

// storeLimiter bounds the aggregate rate of retried store operations
// across the whole process.
var storeLimiter = rate.NewLimiter(rate.Limit(20), 20)

// withRetry executes fn with exponential backoff, consulting isTransient to
// decide whether a given error is worth retrying at all (§7's taxonomy
// distinguishes transient store errors from not-found/validation errors,
// which must fail fast rather than retry).
func withRetry(ctx context.Context, cfg retryConfig, isTransient func(error) bool, fn func() error) error {
	var lastErr error
	delay := cfg.initialDelay

	for attempt := 0; attempt < cfg.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := storeLimiter.Wait(ctx); err != nil {
				return err
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isTransient(err) {
			return err
		}

		if attempt < cfg.maxAttempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(addJitter(delay, cfg.jitter)):
			}
			delay = nextDelay(delay, cfg)
		}
	}
	return lastErr
}

func nextDelay(current time.Duration, cfg retryConfig) time.Duration {
	next := time.Duration(float64(current) * cfg.multiplier)
	if next > cfg.maxDelay {
		return cfg.maxDelay
	}
	return next
}

func addJitter(d time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return d
	}
	delta := float64(d) * jitter
	return d + time.Duration(rand.Float64()*delta*2-delta)
}
