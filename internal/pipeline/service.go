// Package pipeline drives ingest jobs through crawl, comprehension,
// normalization and storage, persisting each state transition as it goes.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/capability-registry/internal/id/uuid"
	"github.com/JakeFAU/capability-registry/internal/logging"
	"github.com/JakeFAU/capability-registry/internal/metrics"
	"github.com/JakeFAU/capability-registry/internal/normalize"
	"github.com/JakeFAU/capability-registry/internal/registry"
)

// ErrInvalidURL is returned by Submit for targets with no usable host.
var ErrInvalidURL = registry.ErrInvalidURL

const (
	jobIDLength     = 12
	refreshIDLength = 8

	tracerName = "github.com/JakeFAU/capability-registry/internal/pipeline"
)

// Auditor runs the robots and schema side checks for a domain.
type Auditor interface {
	Run(ctx context.Context, domain string) registry.Audits
}

// Deps are the collaborators a Service drives.
type Deps struct {
	Store     registry.Store
	Queue     registry.Queue
	Fetcher   registry.Fetcher
	Extractor registry.Extractor
	Auditor   Auditor
	Builder   *normalize.Builder
	Committer *Committer
	IDs       registry.IDGenerator
	Clock     registry.Clock
	// Tracer defaults to the global OpenTelemetry provider.
	Tracer trace.TracerProvider
}

// Config tunes URLs stamped on jobs and registries.
type Config struct {
	BaseURL string
}

// Service owns the job lifecycle.
type Service struct {
	store     registry.Store
	queue     registry.Queue
	fetcher   registry.Fetcher
	extractor registry.Extractor
	auditor   Auditor
	builder   *normalize.Builder
	committer *Committer
	ids       registry.IDGenerator
	clock     registry.Clock
	tracer    trace.Tracer
	locks     *DomainLocks
	cfg       Config
	logger    *zap.Logger
}

// New validates deps and creates a Service. Auditor may be nil.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Service, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("pipeline: store is required")
	case deps.Queue == nil:
		return nil, errors.New("pipeline: queue is required")
	case deps.Fetcher == nil:
		return nil, errors.New("pipeline: fetcher is required")
	case deps.Extractor == nil:
		return nil, errors.New("pipeline: extractor is required")
	case deps.Builder == nil:
		return nil, errors.New("pipeline: builder is required")
	case deps.IDs == nil:
		return nil, errors.New("pipeline: id generator is required")
	case deps.Clock == nil:
		return nil, errors.New("pipeline: clock is required")
	}
	logger = logging.OrNop(logger)
	committer := deps.Committer
	if committer == nil {
		committer = NewCommitter(deps.Store, deps.Clock, CommitterConfig{}, logger)
	}
	tp := deps.Tracer
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Service{
		store:     deps.Store,
		queue:     deps.Queue,
		fetcher:   deps.Fetcher,
		extractor: deps.Extractor,
		auditor:   deps.Auditor,
		builder:   deps.Builder,
		committer: committer,
		ids:       deps.IDs,
		clock:     deps.Clock,
		tracer:    tp.Tracer(tracerName),
		locks:     NewDomainLocks(),
		cfg:       Config{BaseURL: strings.TrimSuffix(cfg.BaseURL, "/")},
		logger:    logger,
	}, nil
}

// Locks exposes the per-domain lock table so other writers can share it.
func (s *Service) Locks() *DomainLocks {
	return s.locks
}

// BaseURL is the public prefix used for registry and poll links.
func (s *Service) BaseURL() string {
	return s.cfg.BaseURL
}

// Submit validates rawURL, records a pending job and queues it.
func (s *Service) Submit(ctx context.Context, rawURL string) (registry.IngestJob, error) {
	seedURL, domain, err := registry.ParseTarget(rawURL)
	if err != nil {
		return registry.IngestJob{}, err
	}
	return s.submit(ctx, uuid.PrefixJob, jobIDLength, domain, seedURL)
}

// SubmitRefresh queues a scheduler-originated re-ingest for domain.
func (s *Service) SubmitRefresh(ctx context.Context, domain, seedURL string) (registry.IngestJob, error) {
	return s.resubmit(ctx, uuid.PrefixRefreshJob, refreshIDLength, domain, seedURL)
}

// Resubmit queues an operator-requested re-ingest for a known domain.
func (s *Service) Resubmit(ctx context.Context, domain, seedURL string) (registry.IngestJob, error) {
	return s.resubmit(ctx, uuid.PrefixJob, jobIDLength, domain, seedURL)
}

func (s *Service) resubmit(ctx context.Context, prefix string, length int, domain, seedURL string) (registry.IngestJob, error) {
	domain = registry.NormalizeDomain(domain)
	if domain == "" {
		return registry.IngestJob{}, fmt.Errorf("%w: empty domain", ErrInvalidURL)
	}
	if seedURL == "" {
		seedURL = "https://" + domain
	}
	return s.submit(ctx, prefix, length, domain, seedURL)
}

func (s *Service) submit(ctx context.Context, prefix string, length int, domain, seedURL string) (registry.IngestJob, error) {
	job, err := s.newJob(prefix, length, domain, seedURL)
	if err != nil {
		return registry.IngestJob{}, err
	}
	if err := s.store.SaveJob(ctx, job); err != nil {
		return registry.IngestJob{}, fmt.Errorf("save job %s: %w", job.ID, err)
	}
	item := registry.QueueItem{
		JobID:     job.ID,
		Domain:    job.Domain,
		URL:       job.URL,
		Submitted: job.CreatedAt.UnixNano(),
	}
	if err := s.queue.Enqueue(ctx, item); err != nil {
		err = fmt.Errorf("enqueue job %s: %w", job.ID, err)
		s.fail(ctx, &job, err)
		return job, err
	}
	s.logger.Info("ingest job queued",
		zap.String("job_id", job.ID),
		zap.String("domain", job.Domain),
		zap.String("url", job.URL))
	return job, nil
}

func (s *Service) newJob(prefix string, length int, domain, seedURL string) (registry.IngestJob, error) {
	id, err := s.ids.NewID(prefix, length)
	if err != nil {
		return registry.IngestJob{}, fmt.Errorf("generate job id: %w", err)
	}
	return registry.IngestJob{
		ID:        id,
		Domain:    domain,
		URL:       seedURL,
		Status:    registry.JobStatusPending,
		CreatedAt: s.clock.Now(),
	}, nil
}

// Get returns a job by id.
func (s *Service) Get(ctx context.Context, jobID string) (registry.IngestJob, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return registry.IngestJob{}, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return job, nil
}

// List returns up to limit jobs, newest first.
func (s *Service) List(ctx context.Context, limit int) ([]registry.IngestJob, error) {
	jobs, err := s.store.ListJobs(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// Registry returns the stored registry for domain.
func (s *Service) Registry(ctx context.Context, domain string) (registry.CapabilityRegistry, error) {
	reg, err := s.store.GetRegistry(ctx, registry.NormalizeDomain(domain))
	if err != nil {
		return registry.CapabilityRegistry{}, fmt.Errorf("get registry %s: %w", domain, err)
	}
	return reg, nil
}

// Run executes one queued job. It satisfies worker.Runner.
func (s *Service) Run(ctx context.Context, item registry.QueueItem) error {
	job, err := s.store.GetJob(ctx, item.JobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", item.JobID, err)
	}
	if job.Status.Terminal() {
		s.logger.Info("skipping finished job", zap.String("job_id", job.ID), zap.String("status", string(job.Status)))
		return nil
	}

	unlock, err := s.locks.Lock(ctx, job.Domain)
	if err != nil {
		return err
	}
	defer unlock()

	_, err = s.execute(ctx, &job)
	return err
}

// IngestNow runs the full pipeline for rawURL on the calling goroutine,
// bypassing the queue.
func (s *Service) IngestNow(ctx context.Context, rawURL string) (registry.IngestJob, registry.CapabilityRegistry, error) {
	seedURL, domain, err := registry.ParseTarget(rawURL)
	if err != nil {
		return registry.IngestJob{}, registry.CapabilityRegistry{}, err
	}
	job, err := s.newJob(uuid.PrefixJob, jobIDLength, domain, seedURL)
	if err != nil {
		return registry.IngestJob{}, registry.CapabilityRegistry{}, err
	}
	if err := s.store.SaveJob(ctx, job); err != nil {
		return job, registry.CapabilityRegistry{}, fmt.Errorf("save job %s: %w", job.ID, err)
	}

	unlock, err := s.locks.Lock(ctx, domain)
	if err != nil {
		return job, registry.CapabilityRegistry{}, err
	}
	defer unlock()

	reg, err := s.execute(ctx, &job)
	return job, reg, err
}

func (s *Service) execute(ctx context.Context, job *registry.IngestJob) (reg registry.CapabilityRegistry, err error) {
	logger := s.logger.With(zap.String("job_id", job.ID), zap.String("domain", job.Domain))
	started := s.clock.Now()
	ctx, span := s.tracer.Start(ctx, "ingest", trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("domain", job.Domain),
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline panic: %v", r)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Error("ingest job failed", zap.Error(err))
			s.fail(ctx, job, err)
		}
	}()

	if err := s.advance(ctx, job, registry.JobStatusCrawling); err != nil {
		return reg, err
	}
	stageCtx, end := s.stage(ctx, registry.JobStatusCrawling)
	crawl, err := s.fetcher.Fetch(stageCtx, job.URL)
	end()
	if err != nil {
		return reg, fmt.Errorf("crawl %s: %w", job.Domain, err)
	}
	job.PagesCrawled = len(crawl.Pages)
	if job.PagesCrawled == 0 {
		return reg, registry.ErrNoPages
	}
	logger.Info("crawl finished", zap.Int("pages", job.PagesCrawled), zap.String("strategy", crawl.Strategy))
	span.SetAttributes(attribute.Int("pages", job.PagesCrawled), attribute.String("strategy", crawl.Strategy))

	if err := s.advance(ctx, job, registry.JobStatusComprehending); err != nil {
		return reg, err
	}
	stageCtx, end = s.stage(ctx, registry.JobStatusComprehending)
	audits := s.audit(stageCtx, job.Domain)
	raw := s.extractor.Extract(stageCtx, crawl)
	confidence := normalize.CalculateConfidence(raw)
	reg = s.builder.Build(job.Domain, raw, confidence, s.cfg.BaseURL, audits)
	end()

	if err := s.advance(ctx, job, registry.JobStatusStoring); err != nil {
		return reg, err
	}
	stageCtx, end = s.stage(ctx, registry.JobStatusStoring)
	err = s.committer.Commit(stageCtx, reg, job.ID)
	end()
	if err != nil {
		return reg, err
	}

	score := reg.AIMetadata.ConfidenceScore
	completed := s.clock.Now()
	done := *job
	done.Status = registry.JobStatusComplete
	done.CompletedAt = &completed
	done.ConfidenceScore = &score
	if err := s.store.SaveJob(ctx, done); err != nil {
		return reg, fmt.Errorf("save job %s: %w", job.ID, err)
	}
	*job = done

	metrics.ObserveJob(string(registry.JobStatusComplete))
	metrics.ObserveConfidence(score)
	span.SetAttributes(attribute.Float64("confidence", score))
	logger.Info("ingest job complete",
		zap.Float64("confidence", score),
		zap.Int("capabilities", len(reg.Capabilities)),
		zap.Duration("elapsed", completed.Sub(started)))
	return reg, nil
}

// stage opens a child span for one pipeline stage. The returned func ends the
// span and records the stage duration.
func (s *Service) stage(ctx context.Context, status registry.JobStatus) (context.Context, func()) {
	ctx, span := s.tracer.Start(ctx, "stage."+string(status))
	start := time.Now()
	return ctx, func() {
		metrics.ObserveStage(string(status), time.Since(start))
		span.End()
	}
}

func (s *Service) advance(ctx context.Context, job *registry.IngestJob, status registry.JobStatus) error {
	job.Status = status
	if err := s.store.SaveJob(ctx, *job); err != nil {
		return fmt.Errorf("save job %s as %s: %w", job.ID, status, err)
	}
	return nil
}

func (s *Service) audit(ctx context.Context, domain string) registry.Audits {
	if s.auditor == nil {
		return registry.Audits{}
	}
	return s.auditor.Run(ctx, domain)
}

// fail records the terminal failure. It uses a detached context so a
// cancelled run still leaves the job readable as failed.
func (s *Service) fail(ctx context.Context, job *registry.IngestJob, cause error) {
	if job.Status.Terminal() {
		return
	}
	completed := s.clock.Now()
	job.Status = registry.JobStatusFailed
	job.Error = cause.Error()
	job.CompletedAt = &completed
	metrics.ObserveJob(string(registry.JobStatusFailed))
	if err := s.store.SaveJob(context.WithoutCancel(ctx), *job); err != nil {
		s.logger.Error("record job failure",
			zap.String("job_id", job.ID),
			zap.String("cause", cause.Error()),
			zap.Error(err))
	}
}
