package notifications

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Deliverer sends one job out on all of its channels.
type Deliverer interface {
	Deliver(ctx context.Context, job Job)
}

// AttemptLogger records delivery attempts. Satisfied by the repository.
type AttemptLogger interface {
	LogAttempt(ctx context.Context, job Job, channel, status, errMsg string) error
}

// Queue decouples lifecycle transitions from delivery. Enqueue never blocks:
// when the buffer is full the job is recorded as failed so the retry sweep
// can re-drive it, rather than stalling the request path.
type Queue struct {
	jobs      chan Job
	deliverer Deliverer
	attempts  AttemptLogger
	workers   int
	logger    *zap.Logger
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewQueue creates a queue with the given buffer size and worker count. The
// attempt logger may be nil; overflowed jobs are then only logged.
func NewQueue(size, workers int, deliverer Deliverer, attempts AttemptLogger, logger *zap.Logger) *Queue {
	if size <= 0 {
		size = 1024
	}
	if workers <= 0 {
		workers = 4
	}
	return &Queue{
		jobs:      make(chan Job, size),
		deliverer: deliverer,
		attempts:  attempts,
		workers:   workers,
		logger:    logger,
	}
}

// Start launches the delivery workers.
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for job := range q.jobs {
				q.deliverer.Deliver(ctx, job)
			}
		}()
	}
}

// Enqueue hands a job to the workers. Returns false when the buffer is full
// and the job was diverted to the delivery log.
func (q *Queue) Enqueue(job Job) bool {
	select {
	case q.jobs <- job:
		return true
	default:
		q.logger.Warn("notification queue full, diverting job to delivery log",
			zap.String("event", string(job.Event)),
			zap.String("user_id", job.Recipient.UserID))
		q.recordOverflow(job)
		return false
	}
}

// recordOverflow writes a failed attempt per channel so the retry sweep can
// re-drive the job. Socket deliveries are never retried and go in as dropped.
func (q *Queue) recordOverflow(job Job) {
	if q.attempts == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, channel := range job.Channels {
		status := StatusFailed
		if channel == ChannelWebSocket {
			status = StatusDropped
		}
		if err := q.attempts.LogAttempt(ctx, job, channel, status, "notification queue full"); err != nil {
			q.logger.Error("failed to record overflowed notification",
				zap.String("notification_id", job.ID.String()),
				zap.String("channel", channel),
				zap.Error(err))
		}
	}
}

// Close stops intake and waits for in-flight deliveries to finish.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.jobs)
	})
	q.wg.Wait()
}
