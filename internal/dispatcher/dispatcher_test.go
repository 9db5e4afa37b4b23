package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/capability-registry/internal/queue/memory"
	"github.com/JakeFAU/capability-registry/internal/registry"
)

// TestDispatcherRunsJobsConcurrently ensures the pool processes queued work in parallel.
func TestDispatcherRunsJobsConcurrently(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(10)
	runner := &gatedRunner{release: make(chan struct{})}
	d := New(q, runner, 3, zap.NewNop())
	require.Len(t, d.workers, 3)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	for _, id := range []string{"job_a", "job_b", "job_c"} {
		require.NoError(t, d.Enqueue(context.Background(), registry.QueueItem{JobID: id}))
	}
	require.Eventually(t, func() bool { return runner.active() == 3 }, 2*time.Second, 10*time.Millisecond)

	close(runner.release)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

// TestDispatcherEnqueueForwardsErrors verifies queue errors are wrapped for callers.
func TestDispatcherEnqueueForwardsErrors(t *testing.T) {
	t.Parallel()

	d := New(errorQueue{err: errors.New("boom")}, &gatedRunner{}, 0, nil)
	require.Len(t, d.workers, 1)

	err := d.Enqueue(context.Background(), registry.QueueItem{JobID: "job"})
	require.EqualError(t, err, "queue enqueue: boom")
}

type gatedRunner struct {
	mu      sync.Mutex
	running int
	release chan struct{}
}

func (r *gatedRunner) Run(ctx context.Context, _ registry.QueueItem) error {
	r.mu.Lock()
	r.running++
	r.mu.Unlock()
	select {
	case <-r.release:
	case <-ctx.Done():
	}
	return nil
}

func (r *gatedRunner) active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

type errorQueue struct {
	err error
}

func (q errorQueue) Enqueue(context.Context, registry.QueueItem) error { return q.err }

func (q errorQueue) Dequeue(ctx context.Context) (registry.QueueItem, error) {
	<-ctx.Done()
	return registry.QueueItem{}, ctx.Err()
}
