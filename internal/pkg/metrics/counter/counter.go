package counter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	StkCallbacks      = "stk_callbacks"
	PaybillValidated  = "paybill_validated"
	PaybillRejected   = "paybill_rejected"
	PaybillConfirmed  = "paybill_confirmed"
	StaleCancelled    = "stale_cancelled"
	PendingReconciled = "pending_reconciled"
	ActivationRetried = "activation_retried"
)

const keyPrefix = "payments:counters:"

// counterTTL keeps a week of daily buckets.
const counterTTL = 8 * 24 * time.Hour

// Counters keeps daily operational counters in a redis hash per day.
type Counters struct {
	client *redis.Client
	now    func() time.Time
}

func New(client *redis.Client) *Counters {
	return &Counters{client: client, now: time.Now}
}

func dayKey(t time.Time) string {
	return keyPrefix + t.UTC().Format("20060102")
}

// Add increments a counter in today's bucket.
func (c *Counters) Add(ctx context.Context, name string, delta int64) error {
	key := dayKey(c.now())
	pipe := c.client.Pipeline()
	pipe.HIncrBy(ctx, key, name, delta)
	pipe.Expire(ctx, key, counterTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Incr is Add with a delta of one.
func (c *Counters) Incr(ctx context.Context, name string) error {
	return c.Add(ctx, name, 1)
}

// Snapshot sums the last days buckets, today included.
func (c *Counters) Snapshot(ctx context.Context, days int) (map[string]int64, error) {
	if days <= 0 {
		days = 1
	}
	now := c.now()
	pipe := c.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, 0, days)
	for i := 0; i < days; i++ {
		cmds = append(cmds, pipe.HGetAll(ctx, dayKey(now.AddDate(0, 0, -i))))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("read counters: %w", err)
	}

	out := make(map[string]int64)
	for _, cmd := range cmds {
		for k, v := range cmd.Val() {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				continue
			}
			out[k] += n
		}
	}
	return out, nil
}
