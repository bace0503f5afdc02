// Package worker runs side effects off the request path: a bounded queue
// drained by a fixed pool of goroutines.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/boddenberg/billingiq-api/internal/infra/observability"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("worker")

// ErrClosed is returned by Close when called twice.
var ErrClosed = errors.New("worker: queue closed")

// Config sizes the queue.
type Config struct {
	Workers     int
	QueueSize   int
	TaskTimeout time.Duration
}

type task struct {
	name string
	fn   func(ctx context.Context) error
}

// Queue accepts tasks without blocking and runs them on its workers. Each
// task gets a fresh context with TaskTimeout; failures are logged and
// counted, never retried.
type Queue struct {
	tasks   chan task
	cfg     Config
	metrics *observability.Metrics
	logger  *zap.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
	stop   chan struct{}
}

// NewQueue starts cfg.Workers workers.
func NewQueue(cfg Config, metrics *observability.Metrics, logger *zap.Logger) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 30 * time.Second
	}
	q := &Queue{
		tasks:   make(chan task, cfg.QueueSize),
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
		stop:    make(chan struct{}),
	}
	q.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go q.work()
	}
	return q
}

// Submit enqueues fn. It returns false if the queue is full or closed; the
// task is then dropped.
func (q *Queue) Submit(name string, fn func(ctx context.Context) error) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.logger.Warn("task dropped: queue closed", zap.String("task", name))
		q.metrics.IncrTask(name, "dropped")
		return false
	}
	select {
	case q.tasks <- task{name: name, fn: fn}:
		return true
	default:
		q.logger.Warn("task dropped: queue full",
			zap.String("task", name),
			zap.Int("capacity", cap(q.tasks)),
		)
		q.metrics.IncrTask(name, "dropped")
		return false
	}
}

// Close stops intake and waits for queued tasks to finish or ctx to expire.
// Tasks still queued when ctx expires are abandoned.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		close(q.stop)
		q.logger.Warn("worker queue closed before draining", zap.Int("abandoned", len(q.tasks)))
		return ctx.Err()
	}
}

func (q *Queue) work() {
	defer q.wg.Done()
	for {
		select {
		case <-q.stop:
			return
		case t, ok := <-q.tasks:
			if !ok {
				return
			}
			q.run(t)
		}
	}
}

func (q *Queue) run(t task) {
	ctx, cancel := context.WithTimeout(context.Background(), q.cfg.TaskTimeout)
	defer cancel()
	ctx, span := tracer.Start(ctx, "task."+t.name)
	defer span.End()

	start := time.Now()
	err := q.safeRun(ctx, t)
	q.metrics.RecordRequestDuration("task."+t.name, time.Since(start))
	if err != nil {
		span.SetAttributes(attribute.Bool("error", true))
		q.logger.Error("background task failed", zap.String("task", t.name), zap.Error(err))
		q.metrics.IncrTask(t.name, "error")
		return
	}
	q.metrics.IncrTask(t.name, "ok")
}

func (q *Queue) safeRun(ctx context.Context, t task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("task panicked")
			q.logger.Error("background task panic", zap.String("task", t.name), zap.Any("panic", r))
		}
	}()
	return t.fn(ctx)
}
