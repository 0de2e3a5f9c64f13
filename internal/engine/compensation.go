package engine

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/openclaw/memcore/internal/fingerprint"
	"github.com/openclaw/memcore/internal/metrics"
	"github.com/openclaw/memcore/internal/models"
	"github.com/openclaw/memcore/internal/ports"
)

// CompensationKind names the backend leg a compensation task retries.
type CompensationKind int

const (
	// CompensationGraphRetry retries the graph merge for a record whose
	// vector leg already succeeded.
	CompensationGraphRetry CompensationKind = iota
)

// CompensationTask is one partial-write reconciliation job, per §4.7.
type CompensationTask struct {
	ID      string
	Kind    CompensationKind
	Scope   models.Scope
	Record  models.MemoryRecord
	Vector  []float32
	Attempt int
}

const (
	compensationWorkers  = 4
	compensationQueueLen = 256
	compensationBase     = 1 * time.Second
	compensationFactor   = 2
	compensationMaxDelay = 60 * time.Second
	compensationMaxTries = 5
)

// CompensationQueue is the single-producer-per-record, multi-consumer
// background worker pool described in §4.7: it reconciles partial
// dual-write failures with bounded concurrency and exponential backoff,
// giving up after compensationMaxTries and marking the record degraded.
type CompensationQueue struct {
	engine *Engine
	logger *slog.Logger
	tasks  chan CompensationTask
	done   chan struct{}
}

// NewCompensationQueue starts the worker pool. Workers stop when Close is
// called; Enqueue after Close is a no-op.
func NewCompensationQueue(e *Engine, logger *slog.Logger) *CompensationQueue {
	q := &CompensationQueue{
		engine: e,
		logger: logger,
		tasks:  make(chan CompensationTask, compensationQueueLen),
		done:   make(chan struct{}),
	}
	for i := 0; i < compensationWorkers; i++ {
		go q.worker()
	}
	return q
}

// Enqueue submits a task for retry. Never blocks the caller's request path:
// if the queue is full the task is dropped and logged, matching the
// "do not hold the lock waiting" rule in §4.3 step 7.
func (q *CompensationQueue) Enqueue(task CompensationTask) {
	select {
	case <-q.done:
		return
	default:
	}
	select {
	case q.tasks <- task:
		metrics.Inc(metrics.CompensationJobs)
		metrics.CompensationQueueDepth.Set(float64(len(q.tasks)))
	default:
		q.logger.Warn("compensation queue full, dropping task", "id", task.Record.ID, "kind", task.Kind)
	}
}

// Close stops accepting new work and lets in-flight retries finish.
func (q *CompensationQueue) Close() {
	close(q.done)
}

func (q *CompensationQueue) worker() {
	for {
		select {
		case <-q.done:
			return
		case task := <-q.tasks:
			metrics.CompensationQueueDepth.Set(float64(len(q.tasks)))
			q.process(task)
		}
	}
}

func (q *CompensationQueue) process(task CompensationTask) {
	ctx := context.Background()

	switch task.Kind {
	case CompensationGraphRetry:
		q.retryGraph(ctx, task)
	default:
		q.logger.Warn("unknown compensation task kind", "kind", task.Kind)
	}
}

func (q *CompensationQueue) retryGraph(ctx context.Context, task CompensationTask) {
	e := q.engine
	if e.Graph == nil {
		q.fail(ctx, task)
		return
	}

	if err := e.writeGraph(ctx, task.Scope, task.Record); err != nil {
		task.Attempt++
		if task.Attempt >= compensationMaxTries {
			q.fail(ctx, task)
			return
		}
		q.scheduleRetry(task)
		return
	}

	q.succeed(ctx, task)
}

func (q *CompensationQueue) scheduleRetry(task CompensationTask) {
	delay := compensationBase
	for i := 0; i < task.Attempt; i++ {
		delay *= compensationFactor
		if delay > compensationMaxDelay {
			delay = compensationMaxDelay
			break
		}
	}
	q.logger.Info("compensation retry scheduled", "id", task.Record.ID, "attempt", task.Attempt, "delay", delay)
	time.AfterFunc(delay, func() { q.Enqueue(task) })
}

func (q *CompensationQueue) succeed(ctx context.Context, task CompensationTask) {
	rec := task.Record
	rec.Degraded = false
	if err := q.engine.Vector.Upsert(ctx, task.Scope, rec, task.Vector); err != nil {
		q.logger.Warn("clearing degraded flag after compensation failed", "id", rec.ID, "error", err)
		return
	}
	q.logger.Info("compensation succeeded", "id", rec.ID, "attempts", task.Attempt)
}

func (q *CompensationQueue) fail(ctx context.Context, task CompensationTask) {
	q.logger.Error("compensation exhausted retries", "id", task.Record.ID, "attempts", task.Attempt)
	q.engine.publish(ctx, ports.TopicCompensationFailed, task.Record.ID, fingerprint.ScopeHash(task.Scope), map[string]string{
		"attempts": strconv.Itoa(task.Attempt),
	})
}
