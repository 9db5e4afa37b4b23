package registry

import "errors"

var (
	// ErrNotFound is returned by stores when a key has no row.
	ErrNotFound = errors.New("not found")
	// ErrNoPages marks a crawl that produced nothing to comprehend.
	ErrNoPages = errors.New("crawler returned zero pages: site may be unreachable or JS-only")
	// ErrInvalidTransition is returned when a job would leave a terminal state or skip a stage.
	ErrInvalidTransition = errors.New("invalid job status transition")
	// ErrQueueClosed is returned by queues that no longer accept or yield work.
	ErrQueueClosed = errors.New("queue closed")
	// ErrQueueFull is returned by bounded queues that cannot take more work right now.
	ErrQueueFull = errors.New("queue full")
)
