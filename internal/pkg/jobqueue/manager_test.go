package jobqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carboncube/tierpay/app/models"
	"github.com/carboncube/tierpay/internal/pkg/env"
)

type fakeMaintainer struct {
	mu         sync.Mutex
	sweeps     int
	reconciles []int
	failures   []models.PaymentTransaction
	retried    []uint
	retryErr   map[uint]error
	sweepErr   error
}

func (f *fakeMaintainer) SweepStale(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweeps++
	return 2, f.sweepErr
}

func (f *fakeMaintainer) ReconcilePending(_ context.Context, limit int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconciles = append(f.reconciles, limit)
	return 1, nil
}

func (f *fakeMaintainer) ListActivationFailures(context.Context) ([]models.PaymentTransaction, error) {
	return f.failures, nil
}

func (f *fakeMaintainer) RetryActivation(_ context.Context, id uint) (*models.PaymentTransaction, error) {
	f.retried = append(f.retried, id)
	if err := f.retryErr[id]; err != nil {
		return nil, err
	}
	return &models.PaymentTransaction{ID: id}, nil
}

func (f *fakeMaintainer) sweepCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sweeps
}

func TestManagerConfigFromEnv(t *testing.T) {
	prev := env.Env
	t.Cleanup(func() { env.Env = prev })

	env.Env = map[string]string{
		"JOBQUEUE_WORKERS":             "7",
		"JOBQUEUE_STALE_SWEEP_SECONDS": "30",
		"JOBQUEUE_RECONCILE_SECONDS":   "0",
		"JOBQUEUE_RECONCILE_BATCH":     "oops",
	}
	cfg := ManagerConfigFromEnv()
	assert.Equal(t, 7, cfg.Workers)
	assert.Equal(t, 30*time.Second, cfg.StaleSweepInterval)
	assert.Zero(t, cfg.ReconcileInterval)
	assert.Equal(t, 50, cfg.ReconcileBatch)
	assert.Equal(t, 10*time.Minute, cfg.ActivationRetryInterval)
}

func TestManagerOnceRunners(t *testing.T) {
	payments := &fakeMaintainer{
		failures: []models.PaymentTransaction{{ID: 1}, {ID: 2}},
		retryErr: map[uint]error{1: errors.New("still locked")},
	}
	q := NewQueue(redis.NewClient(&redis.Options{Addr: "localhost:0"}), 1)
	m := NewManager(q, payments, nil, ManagerConfig{ReconcileBatch: 25})
	ctx := context.Background()

	m.SweepStaleOnce(ctx)
	m.ReconcilePendingOnce(ctx)
	m.RetryActivationsOnce(ctx)

	assert.Equal(t, 1, payments.sweeps)
	assert.Equal(t, []int{25}, payments.reconciles)
	assert.Equal(t, []uint{1, 2}, payments.retried)

	payments.sweepErr = errors.New("db down")
	assert.NotPanics(t, func() { m.SweepStaleOnce(ctx) })
}

func TestManagerStartStop(t *testing.T) {
	client := newIsolatedRedisClient(t)
	payments := &fakeMaintainer{}
	m := NewManager(NewQueue(client, 1), payments, nil, ManagerConfig{StaleSweepInterval: 20 * time.Millisecond})

	m.Start()
	m.Start()
	assert.True(t, m.IsRunning())
	require.Eventually(t, func() bool { return payments.sweepCount() >= 2 }, 3*time.Second, 10*time.Millisecond)

	m.Stop()
	assert.False(t, m.IsRunning())
	after := payments.sweepCount()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, after, payments.sweepCount())
}
