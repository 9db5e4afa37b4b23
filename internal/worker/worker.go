// Package worker implements the loop that drains the ingest queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/capability-registry/internal/logging"
	"github.com/JakeFAU/capability-registry/internal/metrics"
	"github.com/JakeFAU/capability-registry/internal/registry"
)

// Runner executes one ingest job end to end.
type Runner interface {
	Run(ctx context.Context, item registry.QueueItem) error
}

// dequeueBackoff throttles the loop after an unexpected queue error.
const dequeueBackoff = 100 * time.Millisecond

// Worker consumes queue items and hands each to a Runner.
type Worker struct {
	id     int
	queue  registry.Queue
	runner Runner
	logger *zap.Logger
}

// New constructs a Worker.
func New(id int, queue registry.Queue, runner Runner, logger *zap.Logger) *Worker {
	return &Worker{
		id:     id,
		queue:  queue,
		runner: runner,
		logger: logging.OrNop(logger).With(zap.Int("worker", id)),
	}
}

// Run blocks, consuming queue items until the context finishes or the queue
// is closed.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, registry.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(dequeueBackoff):
			}
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID), zap.String("domain", item.Domain))
		w.process(ctx, item)
	}
}

func (w *Worker) process(ctx context.Context, item registry.QueueItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("job runner panicked",
				zap.String("job_id", item.JobID),
				zap.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	if err := w.runner.Run(ctx, item); err != nil {
		w.logger.Warn("job finished with error",
			zap.String("job_id", item.JobID),
			zap.String("domain", item.Domain),
			zap.Error(err),
		)
	}
}
