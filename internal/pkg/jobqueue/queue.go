package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "tierpay:jobs:"

	// ReadyKey lists job ids waiting for a worker.
	ReadyKey = keyPrefix + "ready"
	// ActiveKey lists job ids a worker has claimed.
	ActiveKey = keyPrefix + "active"
	// DelayedKey scores retrying job ids by the unix millisecond they are due.
	DelayedKey = keyPrefix + "delayed"

	DefaultMaxRetries = 3
	JobTTL            = 24 * time.Hour
)

func jobKey(id string) string {
	return keyPrefix + "job:" + id
}

// Handler processes one job. A returned error marks the job failed and
// schedules a retry while retries remain.
type Handler func(ctx context.Context, job *Job) error

// Queue runs background jobs stored in Redis. A claimed job sits in the
// active list until it finishes, so jobs of a crashed worker are recovered
// by the maintenance loop.
type Queue struct {
	client  *redis.Client
	workers int

	retryDelay    time.Duration
	stuckAfter    time.Duration
	maintainEvery time.Duration

	hmu      sync.RWMutex
	handlers map[JobType]Handler

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewQueue creates a queue served by the given number of workers.
func NewQueue(client *redis.Client, workers int) *Queue {
	if workers <= 0 {
		workers = 3
	}
	return &Queue{
		client:        client,
		workers:       workers,
		retryDelay:    time.Minute,
		stuckAfter:    10 * time.Minute,
		maintainEvery: 5 * time.Second,
		handlers:      make(map[JobType]Handler),
	}
}

// Register installs the handler for a job type. Call before Start.
func (q *Queue) Register(jobType JobType, h Handler) {
	q.hmu.Lock()
	defer q.hmu.Unlock()
	q.handlers[jobType] = h
}

func (q *Queue) handler(jobType JobType) (Handler, bool) {
	q.hmu.RLock()
	defer q.hmu.RUnlock()
	h, ok := q.handlers[jobType]
	return h, ok
}

// Start launches the workers and the maintenance loop.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return
	}
	q.stopCh = make(chan struct{})
	q.running = true
	log.Infof("[JobQueue] Starting %d workers", q.workers)

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i, q.stopCh)
	}
	q.wg.Add(1)
	go q.maintain(q.stopCh)
}

// Stop waits for in-flight jobs and stops the queue.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.running {
		return
	}
	log.Info("[JobQueue] Stopping workers...")
	close(q.stopCh)
	q.running = false
	q.wg.Wait()
	log.Info("[JobQueue] All workers stopped")
}

func (q *Queue) worker(id int, stop <-chan struct{}) {
	defer q.wg.Done()
	ctx := context.Background()
	for {
		select {
		case <-stop:
			return
		default:
		}

		job, err := q.claim(ctx)
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			log.Errorf("[JobQueue] Worker %d: claim failed: %v", id, err)
			select {
			case <-stop:
				return
			case <-time.After(time.Second):
			}
			continue
		}
		q.processJob(ctx, job)
	}
}

// maintain promotes due retries and recovers jobs stuck in the active list.
func (q *Queue) maintain(stop <-chan struct{}) {
	defer q.wg.Done()
	ticker := time.NewTicker(q.maintainEvery)
	defer ticker.Stop()
	ctx := context.Background()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			now := time.Now()
			if _, err := q.promoteDue(ctx, now); err != nil {
				log.Errorf("[JobQueue] Promoting delayed jobs failed: %v", err)
			}
			if _, err := q.recoverStuck(ctx, now); err != nil {
				log.Errorf("[JobQueue] Recovering stuck jobs failed: %v", err)
			}
		}
	}
}

// EnqueueJob stores a job and puts it on the ready list.
func (q *Queue) EnqueueJob(ctx context.Context, jobType JobType, payload map[string]interface{}) (*Job, error) {
	now := time.Now()
	job := &Job{
		ID:         uuid.New().String(),
		Type:       jobType,
		Status:     JobStatusPending,
		Payload:    payload,
		CreatedAt:  now,
		UpdatedAt:  now,
		MaxRetries: DefaultMaxRetries,
	}
	injectTrace(ctx, job)

	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}
	pipe := q.client.TxPipeline()
	pipe.Set(ctx, jobKey(job.ID), data, JobTTL)
	pipe.LPush(ctx, ReadyKey, job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	log.Debugf("[JobQueue] Enqueued job %s (%s)", job.ID, job.Type)
	return job, nil
}

// claim moves the oldest ready job to the active list. It returns redis.Nil
// when nothing arrived within a second.
func (q *Queue) claim(ctx context.Context) (*Job, error) {
	id, err := q.client.BLMove(ctx, ReadyKey, ActiveKey, "RIGHT", "LEFT", time.Second).Result()
	if err != nil {
		return nil, err
	}
	job, err := q.load(ctx, id)
	if err != nil {
		q.client.LRem(ctx, ActiveKey, 1, id)
		return nil, fmt.Errorf("load claimed job %s: %w", id, err)
	}
	return job, nil
}

func (q *Queue) processJob(ctx context.Context, job *Job) {
	job.MarkAsProcessing()
	q.save(ctx, job)

	spanCtx, span := startJobSpan(ctx, job)
	var err error
	if h, ok := q.handler(job.Type); ok {
		err = h(spanCtx, job)
	} else {
		err = fmt.Errorf("unknown job type: %s", job.Type)
	}
	endJobSpan(span, err)

	if err == nil {
		job.MarkAsCompleted()
		pipe := q.client.TxPipeline()
		pipe.Del(ctx, jobKey(job.ID))
		pipe.LRem(ctx, ActiveKey, 1, job.ID)
		if _, perr := pipe.Exec(ctx); perr != nil {
			log.Errorf("[JobQueue] Could not clear completed job %s: %v", job.ID, perr)
		}
		return
	}

	log.Errorf("[JobQueue] Job %s (%s) failed: %v", job.ID, job.Type, err)
	job.MarkAsFailed(err.Error())
	if !job.IsRetryable() {
		log.Errorf("[JobQueue] Job %s permanently failed after %d attempts", job.ID, job.RetryCount)
		q.save(ctx, job)
		q.client.LRem(ctx, ActiveKey, 1, job.ID)
		return
	}

	job.MarkAsRetrying()
	q.save(ctx, job)
	due := time.Now().Add(q.retryDelay * time.Duration(job.RetryCount))
	pipe := q.client.TxPipeline()
	pipe.ZAdd(ctx, DelayedKey, redis.Z{Score: float64(due.UnixMilli()), Member: job.ID})
	pipe.LRem(ctx, ActiveKey, 1, job.ID)
	if _, perr := pipe.Exec(ctx); perr != nil {
		log.Errorf("[JobQueue] Could not schedule retry of job %s: %v", job.ID, perr)
		return
	}
	log.Infof("[JobQueue] Job %s retry %d/%d due at %s", job.ID, job.RetryCount, job.MaxRetries, due.Format(time.RFC3339))
}

// promoteDue moves retries whose due time has passed back to the ready list.
func (q *Queue) promoteDue(ctx context.Context, now time.Time) (int, error) {
	ids, err := q.client.ZRangeByScore(ctx, DelayedKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, err
	}
	promoted := 0
	for _, id := range ids {
		removed, err := q.client.ZRem(ctx, DelayedKey, id).Result()
		if err != nil {
			return promoted, err
		}
		if removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, ReadyKey, id).Err(); err != nil {
			return promoted, err
		}
		promoted++
	}
	return promoted, nil
}

// recoverStuck puts jobs that stayed active longer than stuckAfter back at
// the head of the ready list and drops stray active entries.
func (q *Queue) recoverStuck(ctx context.Context, now time.Time) (int, error) {
	ids, err := q.client.LRange(ctx, ActiveKey, 0, -1).Result()
	if err != nil {
		return 0, err
	}
	recovered := 0
	for _, id := range ids {
		job, err := q.load(ctx, id)
		if err != nil || job.Status != JobStatusProcessing {
			q.client.LRem(ctx, ActiveKey, 1, id)
			continue
		}
		started := job.UpdatedAt
		if job.ProcessedAt != nil {
			started = *job.ProcessedAt
		}
		if now.Sub(started) <= q.stuckAfter {
			continue
		}
		log.Warnf("[JobQueue] Recovering job %s (%s) active for %s", job.ID, job.Type, now.Sub(started).Round(time.Second))
		job.Status = JobStatusPending
		job.ErrorMsg = "recovered after worker stalled"
		job.UpdatedAt = now
		q.save(ctx, job)
		pipe := q.client.TxPipeline()
		pipe.LRem(ctx, ActiveKey, 1, id)
		pipe.RPush(ctx, ReadyKey, id)
		if _, err := pipe.Exec(ctx); err != nil {
			return recovered, err
		}
		recovered++
	}
	return recovered, nil
}

func (q *Queue) save(ctx context.Context, job *Job) {
	data, err := json.Marshal(job)
	if err != nil {
		log.Errorf("[JobQueue] Failed to marshal job %s: %v", job.ID, err)
		return
	}
	if err := q.client.Set(ctx, jobKey(job.ID), data, JobTTL).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to store job %s: %v", job.ID, err)
	}
}

func (q *Queue) load(ctx context.Context, id string) (*Job, error) {
	data, err := q.client.Get(ctx, jobKey(id)).Bytes()
	if err != nil {
		return nil, err
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job %s: %w", id, err)
	}
	return &job, nil
}

// Pending returns the number of jobs waiting for a worker.
func (q *Queue) Pending(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, ReadyKey).Result()
}
