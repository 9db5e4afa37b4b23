// Package memory provides in-process persistence for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/capability-registry/internal/registry"
)

// Store implements registry.Store on top of maps guarded by one RWMutex.
// Every write replaces a whole value, so readers never observe a partially
// saved registry.
type Store struct {
	mu         sync.RWMutex
	registries map[string]registry.CapabilityRegistry
	jobs       map[string]registry.IngestJob
	pageHashes map[pageKey]string
}

type pageKey struct {
	domain string
	url    string
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		registries: make(map[string]registry.CapabilityRegistry),
		jobs:       make(map[string]registry.IngestJob),
		pageHashes: make(map[pageKey]string),
	}
}

// GetRegistry returns the registry stored for domain.
func (s *Store) GetRegistry(_ context.Context, domain string) (registry.CapabilityRegistry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	reg, ok := s.registries[domain]
	if !ok {
		return registry.CapabilityRegistry{}, registry.ErrNotFound
	}
	return reg, nil
}

// SaveRegistry upserts reg under its domain.
func (s *Store) SaveRegistry(_ context.Context, reg registry.CapabilityRegistry) error {
	if reg.Domain == "" {
		return fmt.Errorf("save registry: domain is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registries[reg.Domain] = reg
	return nil
}

// ListRegistries returns a summary per stored registry ordered by domain.
func (s *Store) ListRegistries(_ context.Context) ([]registry.RegistrySummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]registry.RegistrySummary, 0, len(s.registries))
	for _, reg := range s.registries {
		out = append(out, registry.RegistrySummary{
			Domain:    reg.Domain,
			CrawlID:   reg.CrawlID,
			UpdatedAt: reg.LastUpdated,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out, nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(_ context.Context, jobID string) (registry.IngestJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return registry.IngestJob{}, registry.ErrNotFound
	}
	return job, nil
}

// SaveJob creates or updates a job. Updates must follow the job lifecycle;
// a terminal job is never rewritten.
func (s *Store) SaveJob(_ context.Context, job registry.IngestJob) error {
	if job.ID == "" {
		return fmt.Errorf("save job: id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.jobs[job.ID]; ok && !prev.Status.CanTransition(job.Status) {
		return fmt.Errorf("save job %s (%s -> %s): %w", job.ID, prev.Status, job.Status, registry.ErrInvalidTransition)
	}
	s.jobs[job.ID] = job
	return nil
}

// ListJobs returns up to limit jobs, newest first. A non-positive limit
// returns every job.
func (s *Store) ListJobs(_ context.Context, limit int) ([]registry.IngestJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]registry.IngestJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetPageHash returns the last digest recorded for a pushed page.
func (s *Store) GetPageHash(_ context.Context, domain, pageURL string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hash, ok := s.pageHashes[pageKey{domain: domain, url: pageURL}]
	if !ok {
		return "", registry.ErrNotFound
	}
	return hash, nil
}

// SavePageHash records the digest for a pushed page.
func (s *Store) SavePageHash(_ context.Context, domain, pageURL, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pageHashes[pageKey{domain: domain, url: pageURL}] = hash
	return nil
}
