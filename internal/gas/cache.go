package gas

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ent0n29/txlens/internal/reliability"
)

// Estimator is satisfied by Client.
type Estimator interface {
	Estimate(ctx context.Context) (string, error)
}

// Cache holds the max fee estimate fetched once at startup for the process
// lifetime.
type Cache struct {
	estimator Estimator
	logger    *slog.Logger
	attempts  int
	backoff   time.Duration

	mu    sync.RWMutex
	value string
}

func NewCache(estimator Estimator, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		estimator: estimator,
		logger:    logger.With("component", "gas"),
		attempts:  3,
		backoff:   500 * time.Millisecond,
	}
}

// NewStaticCache returns a cache preloaded with value.
func NewStaticCache(value string) *Cache {
	return &Cache{logger: slog.Default(), value: value}
}

// Prime fetches the estimate, retrying transient failures.
func (c *Cache) Prime(ctx context.Context) error {
	if c.estimator == nil {
		return nil
	}
	var lastErr error
	for attempt := 0; attempt < c.attempts; attempt++ {
		if attempt > 0 {
			wait := reliability.ExponentialBackoff(attempt-1, c.backoff, 5*time.Second)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
		v, err := c.estimator.Estimate(ctx)
		if err == nil {
			c.mu.Lock()
			c.value = v
			c.mu.Unlock()
			c.logger.Info("gas estimate cached", "max_fee_per_gas", v)
			return nil
		}
		lastErr = err
		if !retryable(err) {
			break
		}
		c.logger.Warn("gas estimate attempt failed", "attempt", attempt+1, "error", err)
	}
	return lastErr
}

// MaxFeePerGas returns the cached hex quantity or "" when none was fetched.
func (c *Cache) MaxFeePerGas() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}

func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return reliability.IsRetryableHTTPStatus(se.Code)
	}
	return reliability.IsRetryableError(err)
}
