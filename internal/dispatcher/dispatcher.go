// Package dispatcher manages worker fan-out over the ingest queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/capability-registry/internal/logging"
	"github.com/JakeFAU/capability-registry/internal/registry"
	"github.com/JakeFAU/capability-registry/internal/worker"
)

// Dispatcher fans out queue work to a fixed pool of workers.
type Dispatcher struct {
	queue   registry.Queue
	workers []*worker.Worker
	logger  *zap.Logger
}

// New creates a Dispatcher with concurrency workers sharing runner.
func New(queue registry.Queue, runner worker.Runner, concurrency int, logger *zap.Logger) *Dispatcher {
	if concurrency <= 0 {
		concurrency = 1
	}
	logger = logging.OrNop(logger)
	workers := make([]*worker.Worker, 0, concurrency)
	for i := 0; i < concurrency; i++ {
		workers = append(workers, worker.New(i, queue, runner, logger))
	}
	return &Dispatcher{
		queue:   queue,
		workers: workers,
		logger:  logger,
	}
}

// Run starts all workers and blocks until the context finishes and every
// in-flight job has returned.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("dispatcher starting", zap.Int("workers", len(d.workers)))
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
	d.logger.Info("dispatcher stopped")
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item registry.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
