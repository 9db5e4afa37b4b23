package pipeline

import (
	"context"
	"fmt"
	"sync"
)

// DomainLocks hands out one exclusive lock per domain. Entries are dropped
// once nobody holds or waits on them.
type DomainLocks struct {
	mu    sync.Mutex
	locks map[string]*domainLock
}

type domainLock struct {
	ch   chan struct{}
	refs int
}

// NewDomainLocks creates an empty lock table.
func NewDomainLocks() *DomainLocks {
	return &DomainLocks{locks: make(map[string]*domainLock)}
}

// Lock blocks until the domain is free or ctx is done. The returned func
// releases the lock and is safe to call more than once.
func (l *DomainLocks) Lock(ctx context.Context, domain string) (func(), error) {
	l.mu.Lock()
	entry, ok := l.locks[domain]
	if !ok {
		entry = &domainLock{ch: make(chan struct{}, 1)}
		l.locks[domain] = entry
	}
	entry.refs++
	l.mu.Unlock()

	select {
	case entry.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(domain, entry)
		return nil, fmt.Errorf("lock domain %s: %w", domain, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-entry.ch
			l.release(domain, entry)
		})
	}, nil
}

// Len reports how many domains are currently held or awaited.
func (l *DomainLocks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

func (l *DomainLocks) release(domain string, entry *domainLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, domain)
	}
}
