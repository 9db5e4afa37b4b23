// Package memory provides the in-process job queue.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/capability-registry/internal/registry"
)

// ErrClosed is returned by Dequeue once the queue is closed and drained, and
// by Enqueue after Close.
var ErrClosed = registry.ErrQueueClosed

// Queue is a bounded FIFO of ingest jobs. Enqueue never blocks.
type Queue struct {
	ch      chan registry.QueueItem
	closeMu sync.RWMutex
	closed  bool
}

// NewQueue constructs a queue holding at most capacity pending items.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		ch: make(chan registry.QueueItem, capacity),
	}
}

// ErrFull is returned by Enqueue when every slot is taken.
var ErrFull = registry.ErrQueueFull

// Enqueue pushes an item without waiting. A full queue returns ErrFull so
// callers can shed load instead of stalling.
func (q *Queue) Enqueue(ctx context.Context, item registry.QueueItem) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("enqueue canceled: %w", err)
	}
	select {
	case q.ch <- item:
		return nil
	default:
		return fmt.Errorf("%w: %d pending", ErrFull, len(q.ch))
	}
}

// Dequeue pops the next item, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (registry.QueueItem, error) {
	select {
	case <-ctx.Done():
		return registry.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item, ok := <-q.ch:
		if !ok {
			return registry.QueueItem{}, ErrClosed
		}
		return item, nil
	}
}

// Len reports the number of pending items.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops accepting items. Items already queued can still be dequeued.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
