package jobqueue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewQueue(t *testing.T) {
	tests := []struct {
		name            string
		workers         int
		expectedWorkers int
	}{
		{"Valid worker count", 5, 5},
		{"Zero workers", 0, 3},
		{"Negative workers", -1, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queue := NewQueue(redis.NewClient(&redis.Options{Addr: "localhost:0"}), tt.workers)

			assert.NotNil(t, queue)
			assert.Equal(t, tt.expectedWorkers, queue.workers)
			assert.NotNil(t, queue.handlers)
			assert.False(t, queue.running)
		})
	}
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "tierpay:jobs:ready", ReadyKey)
	assert.Equal(t, "tierpay:jobs:active", ActiveKey)
	assert.Equal(t, "tierpay:jobs:delayed", DelayedKey)
	assert.Equal(t, "tierpay:jobs:job:abc", jobKey("abc"))

	assert.Equal(t, 3, DefaultMaxRetries)
	assert.Equal(t, 24*time.Hour, JobTTL)
}

func TestEnqueueJob(t *testing.T) {
	client := newIsolatedRedisClient(t)
	q := NewQueue(client, 1)
	ctx := context.Background()

	job, err := q.EnqueueJob(ctx, JobTypeDeliverNotification, NotificationJobPayload{NotificationID: 5, SellerID: 117}.ToMap())
	require.NoError(t, err)
	assert.Equal(t, JobStatusPending, job.Status)

	size, err := q.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)

	stored, err := q.load(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobTypeDeliverNotification, stored.Type)
	ttl, err := client.TTL(ctx, jobKey(job.ID)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 23*time.Hour)
}

func TestQueueProcessesRegisteredHandler(t *testing.T) {
	client := newIsolatedRedisClient(t)
	q := NewQueue(client, 2)
	ctx := context.Background()

	var handled atomic.Int64
	q.Register(JobTypeArchiveGatewayEvent, func(_ context.Context, job *Job) error {
		payload, err := GatewayEventJobPayloadFromMap(job.Payload)
		if err != nil {
			return err
		}
		handled.Add(int64(payload.EventID))
		return nil
	})
	q.Start()
	defer q.Stop()

	job, err := q.EnqueueJob(ctx, JobTypeArchiveGatewayEvent, GatewayEventJobPayload{EventID: 9}.ToMap())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return handled.Load() == 9 }, 5*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool {
		_, err := q.load(ctx, job.ID)
		return errors.Is(err, redis.Nil)
	}, 5*time.Second, 20*time.Millisecond, "completed jobs are removed")

	active, err := client.LLen(ctx, ActiveKey).Result()
	require.NoError(t, err)
	assert.Zero(t, active)
}

func TestQueueRetriesFailedJob(t *testing.T) {
	client := newIsolatedRedisClient(t)
	q := NewQueue(client, 1)
	q.retryDelay = 10 * time.Millisecond
	q.maintainEvery = 20 * time.Millisecond
	ctx := context.Background()

	var calls atomic.Int64
	q.Register(JobTypeDeliverNotification, func(context.Context, *Job) error {
		if calls.Add(1) == 1 {
			return errors.New("smtp unavailable")
		}
		return nil
	})
	q.Start()
	defer q.Stop()

	_, err := q.EnqueueJob(ctx, JobTypeDeliverNotification, NotificationJobPayload{NotificationID: 1}.ToMap())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return calls.Load() == 2 }, 10*time.Second, 20*time.Millisecond)
}

func TestQueueFailsUnknownJobTypePermanently(t *testing.T) {
	client := newIsolatedRedisClient(t)
	q := NewQueue(client, 1)
	ctx := context.Background()

	job := &Job{ID: "unknown-1", Type: "mystery", Status: JobStatusPending, MaxRetries: 0}
	require.NoError(t, client.LPush(ctx, ActiveKey, job.ID).Err())
	q.processJob(ctx, job)

	assert.Equal(t, JobStatusFailed, job.Status)
	assert.Contains(t, job.ErrorMsg, "unknown job type")

	stored, err := q.load(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, stored.Status)
	active, err := client.LLen(ctx, ActiveKey).Result()
	require.NoError(t, err)
	assert.Zero(t, active)
	delayed, err := client.ZCard(ctx, DelayedKey).Result()
	require.NoError(t, err)
	assert.Zero(t, delayed)
}

func TestPromoteDueMovesOnlyDueRetries(t *testing.T) {
	client := newIsolatedRedisClient(t)
	q := NewQueue(client, 1)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, client.ZAdd(ctx, DelayedKey,
		redis.Z{Score: float64(now.Add(-time.Second).UnixMilli()), Member: "due"},
		redis.Z{Score: float64(now.Add(time.Hour).UnixMilli()), Member: "later"},
	).Err())

	n, err := q.promoteDue(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ready, err := client.LRange(ctx, ReadyKey, 0, -1).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"due"}, ready)
	left, err := client.ZRange(ctx, DelayedKey, 0, -1).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"later"}, left)
}

func TestRecoverStuckRequeuesStalledJobs(t *testing.T) {
	client := newIsolatedRedisClient(t)
	q := NewQueue(client, 1)
	ctx := context.Background()
	now := time.Now()

	stalledAt := now.Add(-time.Hour)
	stalled := &Job{ID: "stalled", Type: JobTypeDeliverNotification, Status: JobStatusProcessing, ProcessedAt: &stalledAt}
	freshAt := now.Add(-time.Minute)
	fresh := &Job{ID: "fresh", Type: JobTypeDeliverNotification, Status: JobStatusProcessing, ProcessedAt: &freshAt}
	q.save(ctx, stalled)
	q.save(ctx, fresh)
	require.NoError(t, client.LPush(ctx, ActiveKey, "stalled", "fresh", "vanished").Err())

	n, err := q.recoverStuck(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ready, err := client.LRange(ctx, ReadyKey, 0, -1).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"stalled"}, ready)
	active, err := client.LRange(ctx, ActiveKey, 0, -1).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh"}, active)

	recovered, err := q.load(ctx, "stalled")
	require.NoError(t, err)
	assert.Equal(t, JobStatusPending, recovered.Status)
}
