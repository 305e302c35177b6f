package jobqueue

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/carboncube/tierpay/app/models"
	"github.com/carboncube/tierpay/internal/pkg/env"
	metrics "github.com/carboncube/tierpay/internal/pkg/metrics/counter"
)

// Maintainer is the payment housekeeping run on tickers.
type Maintainer interface {
	SweepStale(ctx context.Context) (int, error)
	ReconcilePending(ctx context.Context, limit int) (int, error)
	ListActivationFailures(ctx context.Context) ([]models.PaymentTransaction, error)
	RetryActivation(ctx context.Context, paymentID uint) (*models.PaymentTransaction, error)
}

// ManagerConfig holds worker count and ticker intervals. A zero interval
// disables that ticker.
type ManagerConfig struct {
	Workers                 int
	StaleSweepInterval      time.Duration
	ReconcileInterval       time.Duration
	ReconcileBatch          int
	ActivationRetryInterval time.Duration
}

// ManagerConfigFromEnv reads JOBQUEUE_* settings.
func ManagerConfigFromEnv() ManagerConfig {
	return ManagerConfig{
		Workers:                 envInt("JOBQUEUE_WORKERS", 3),
		StaleSweepInterval:      time.Duration(envInt("JOBQUEUE_STALE_SWEEP_SECONDS", 60)) * time.Second,
		ReconcileInterval:       time.Duration(envInt("JOBQUEUE_RECONCILE_SECONDS", 120)) * time.Second,
		ReconcileBatch:          envInt("JOBQUEUE_RECONCILE_BATCH", 50),
		ActivationRetryInterval: time.Duration(envInt("JOBQUEUE_ACTIVATION_RETRY_SECONDS", 600)) * time.Second,
	}
}

func envInt(key string, def int) int {
	v, err := strconv.Atoi(env.GetEnv(key, strconv.Itoa(def)))
	if err != nil || v < 0 {
		return def
	}
	return v
}

// Manager runs the job queue and the periodic payment maintenance
type Manager struct {
	queue    *Queue
	payments Maintainer
	counters *metrics.Counters
	cfg      ManagerConfig
	stopCh   chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
}

// NewManager creates a manager. counters may be nil.
func NewManager(q *Queue, payments Maintainer, counters *metrics.Counters, cfg ManagerConfig) *Manager {
	return &Manager{
		queue:    q,
		payments: payments,
		counters: counters,
		cfg:      cfg,
	}
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// Start starts the job queue and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and background tasks")

	m.queue.Start()

	m.every("stale sweep", m.cfg.StaleSweepInterval, m.SweepStaleOnce)
	m.every("pending reconcile", m.cfg.ReconcileInterval, m.ReconcilePendingOnce)
	m.every("activation retry", m.cfg.ActivationRetryInterval, m.RetryActivationsOnce)

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background tasks...")

	close(m.stopCh)
	m.stopCh = nil
	m.running = false

	m.wg.Wait()
	m.queue.Stop()

	log.Info("[JobQueue Manager] Stopped successfully")
}

func (m *Manager) every(name string, interval time.Duration, run func(context.Context)) {
	if interval <= 0 {
		log.Infof("[JobQueue Manager] %s worker disabled", name)
		return
	}
	stop := m.stopCh
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		log.Infof("[JobQueue Manager] Started %s worker (interval: %s)", name, interval)
		for {
			select {
			case <-stop:
				log.Infof("[JobQueue Manager] %s worker stopping", name)
				return
			case <-ticker.C:
				run(context.Background())
			}
		}
	}()
}

// SweepStaleOnce cancels abandoned payment attempts.
func (m *Manager) SweepStaleOnce(ctx context.Context) {
	n, err := m.payments.SweepStale(ctx)
	if err != nil {
		log.Errorf("[JobQueue Manager] Stale sweep error: %v", err)
		return
	}
	if n > 0 {
		log.Infof("[JobQueue Manager] Cancelled %d stale payment attempts", n)
		m.count(metrics.StaleCancelled, n)
	}
}

// ReconcilePendingOnce polls the gateway for pushes without a callback.
func (m *Manager) ReconcilePendingOnce(ctx context.Context) {
	n, err := m.payments.ReconcilePending(ctx, m.cfg.ReconcileBatch)
	if err != nil {
		log.Errorf("[JobQueue Manager] Pending reconcile error: %v", err)
		return
	}
	if n > 0 {
		log.Infof("[JobQueue Manager] Reconciled %d pending payments", n)
		m.count(metrics.PendingReconciled, n)
	}
}

// RetryActivationsOnce retries tier activation for completed payments whose
// activation failed.
func (m *Manager) RetryActivationsOnce(ctx context.Context) {
	failures, err := m.payments.ListActivationFailures(ctx)
	if err != nil {
		log.Errorf("[JobQueue Manager] Listing activation failures: %v", err)
		return
	}
	for _, tx := range failures {
		if _, err := m.payments.RetryActivation(ctx, tx.ID); err != nil {
			log.Warnf("[JobQueue Manager] Activation retry for payment %d failed: %v", tx.ID, err)
			continue
		}
		m.count(metrics.ActivationRetried, 1)
	}
}

func (m *Manager) count(name string, n int) {
	if m.counters == nil {
		return
	}
	if err := m.counters.Add(context.Background(), name, int64(n)); err != nil {
		log.Debugf("[JobQueue Manager] Counter %s not updated: %v", name, err)
	}
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
