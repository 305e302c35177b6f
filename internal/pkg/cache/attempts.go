package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const verifyAttemptsPrefix = "verify_attempts:"

// AttemptCounter counts failed manual verification attempts per seller in a
// fixed window that starts with the first failure.
type AttemptCounter struct {
	client *redis.Client
	window time.Duration
}

// NewAttemptCounter creates a counter with the given window.
func NewAttemptCounter(c *redis.Client, window time.Duration) *AttemptCounter {
	if window <= 0 {
		window = time.Hour
	}
	return &AttemptCounter{client: c, window: window}
}

func attemptsKey(sellerID uint) string {
	return fmt.Sprintf("%s%d", verifyAttemptsPrefix, sellerID)
}

// Failures returns the number of failures recorded in the current window.
func (a *AttemptCounter) Failures(ctx context.Context, sellerID uint) (int64, error) {
	n, err := a.client.Get(ctx, attemptsKey(sellerID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// RecordFailure increments the counter and starts the window on the first
// failure.
func (a *AttemptCounter) RecordFailure(ctx context.Context, sellerID uint) error {
	key := attemptsKey(sellerID)
	pipe := a.client.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, a.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record verify attempt: %w", err)
	}
	return nil
}

// Reset clears the counter for a seller.
func (a *AttemptCounter) Reset(ctx context.Context, sellerID uint) error {
	return a.client.Del(ctx, attemptsKey(sellerID)).Err()
}
