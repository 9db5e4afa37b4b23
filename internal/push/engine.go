// Package push handles page snapshots sent by the site snippet: it skips
// unchanged pages by digest and folds changed ones into the stored registry.
package push

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/JakeFAU/capability-registry/internal/logging"
	"github.com/JakeFAU/capability-registry/internal/metrics"
	"github.com/JakeFAU/capability-registry/internal/normalize"
	"github.com/JakeFAU/capability-registry/internal/pipeline"
	"github.com/JakeFAU/capability-registry/internal/registry"
)

// Response statuses.
const (
	StatusAccepted = "accepted"
	StatusSkipped  = "skipped"
)

const (
	messageSkipped  = "Content unchanged; no re-processing needed"
	messageAccepted = "Page accepted. Registry updating in background."

	defaultProcessTimeout = 5 * time.Minute
)

// Request is one snippet submission.
type Request struct {
	Domain         string `json:"domain" validate:"required"`
	TenantKey      string `json:"tenant_key"`
	Page           Page   `json:"page"`
	ContentHash    string `json:"content_hash,omitempty"`
	SnippetVersion string `json:"snippet_version,omitempty"`
}

// Response reports what happened to a submission.
type Response struct {
	Status  string   `json:"status"`
	Domain  string   `json:"domain"`
	Message string   `json:"message"`
	Score   *float64 `json:"score"`
}

// Deps are the collaborators an Engine drives. Auditor, Verifier and Locks
// are optional.
type Deps struct {
	Store     registry.Store
	Extractor registry.Extractor
	Builder   *normalize.Builder
	Committer *pipeline.Committer
	Hasher    registry.Hasher
	Auditor   pipeline.Auditor
	Verifier  TenantVerifier
	Locks     *pipeline.DomainLocks
}

// Config tunes the background merge.
type Config struct {
	BaseURL        string
	ProcessTimeout time.Duration
}

// Engine accepts pushed pages and merges them in the background.
type Engine struct {
	deps     Deps
	cfg      Config
	validate *validator.Validate
	logger   *zap.Logger
	wg       sync.WaitGroup
}

// New validates deps and creates an Engine.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Engine, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("push: store is required")
	case deps.Extractor == nil:
		return nil, errors.New("push: extractor is required")
	case deps.Builder == nil:
		return nil, errors.New("push: builder is required")
	case deps.Committer == nil:
		return nil, errors.New("push: committer is required")
	case deps.Hasher == nil:
		return nil, errors.New("push: hasher is required")
	}
	if deps.Locks == nil {
		deps.Locks = pipeline.NewDomainLocks()
	}
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = defaultProcessTimeout
	}
	return &Engine{
		deps:     deps,
		cfg:      cfg,
		validate: validator.New(),
		logger:   logging.OrNop(logger),
	}, nil
}

// PushPage verifies the tenant, compares the page digest with the last one
// seen and, when it changed, records it and schedules a merge.
func (e *Engine) PushPage(ctx context.Context, req Request) (Response, error) {
	if err := e.validate.Struct(req); err != nil {
		return Response{}, fmt.Errorf("validate push request: %w", err)
	}
	domain := registry.NormalizeDomain(req.Domain)

	if err := e.verify(ctx, req.TenantKey); err != nil {
		metrics.ObservePush("rejected")
		return Response{}, err
	}

	digest := req.ContentHash
	if digest == "" {
		var err error
		if digest, err = Digest(e.deps.Hasher, req.Page); err != nil {
			return Response{}, err
		}
	}

	last, err := e.deps.Store.GetPageHash(ctx, domain, req.Page.URL)
	if err != nil && !errors.Is(err, registry.ErrNotFound) {
		return Response{}, fmt.Errorf("get page hash: %w", err)
	}
	if err == nil && last == digest {
		metrics.ObservePush(StatusSkipped)
		return Response{
			Status:  StatusSkipped,
			Domain:  domain,
			Message: messageSkipped,
			Score:   e.currentScore(ctx, domain),
		}, nil
	}

	if err := e.deps.Store.SavePageHash(ctx, domain, req.Page.URL, digest); err != nil {
		return Response{}, fmt.Errorf("save page hash: %w", err)
	}

	e.wg.Add(1)
	go e.process(context.WithoutCancel(ctx), domain, req.Page)

	metrics.ObservePush(StatusAccepted)
	e.logger.Info("push accepted", zap.String("domain", domain), zap.String("url", req.Page.URL))
	return Response{
		Status:  StatusAccepted,
		Domain:  domain,
		Message: messageAccepted,
		Score:   e.currentScore(ctx, domain),
	}, nil
}

// Wait blocks until every scheduled merge has finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) verify(ctx context.Context, key string) error {
	if e.deps.Verifier == nil {
		return nil
	}
	ok, err := e.deps.Verifier.Verify(ctx, key)
	if err != nil {
		return fmt.Errorf("verify tenant: %w", err)
	}
	if !ok {
		return ErrUnauthorized
	}
	return nil
}

func (e *Engine) currentScore(ctx context.Context, domain string) *float64 {
	reg, err := e.deps.Store.GetRegistry(ctx, domain)
	if err != nil {
		if !errors.Is(err, registry.ErrNotFound) {
			e.logger.Warn("load registry for score", zap.String("domain", domain), zap.Error(err))
		}
		return nil
	}
	score := reg.AIMetadata.ConfidenceScore
	return &score
}

func (e *Engine) process(ctx context.Context, domain string, page Page) {
	defer e.wg.Done()
	logger := e.logger.With(zap.String("domain", domain), zap.String("url", page.URL))
	defer func() {
		if r := recover(); r != nil {
			metrics.ObservePush("failed")
			logger.Error("push merge panicked", zap.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.ProcessTimeout)
	defer cancel()

	if err := e.merge(ctx, domain, page, logger); err != nil {
		metrics.ObservePush("failed")
		logger.Error("push merge failed", zap.Error(err))
	}
}

func (e *Engine) merge(ctx context.Context, domain string, page Page, logger *zap.Logger) error {
	unlock, err := e.deps.Locks.Lock(ctx, domain)
	if err != nil {
		return err
	}
	defer unlock()

	crawl := registry.CrawlResult{
		Domain:  domain,
		SeedURL: "https://" + domain,
		Pages: []registry.FetchedPage{{
			URL:        page.URL,
			Title:      page.Title,
			Text:       BuildPageText(page),
			StatusCode: 200,
		}},
		TotalPages: 1,
		Strategy:   registry.StrategyPush,
	}

	raw := e.deps.Extractor.Extract(ctx, crawl)
	confidence := normalize.CalculateConfidence(raw)

	audits := registry.Audits{}
	if e.deps.Auditor != nil {
		audits = e.deps.Auditor.Run(ctx, domain)
	}
	audits.Push = Signals(page)

	fresh := e.deps.Builder.Build(domain, raw, confidence, e.cfg.BaseURL, audits)
	existing, err := e.deps.Store.GetRegistry(ctx, domain)
	switch {
	case err == nil:
		fresh = Merge(existing, fresh)
	case !errors.Is(err, registry.ErrNotFound):
		return fmt.Errorf("load registry: %w", err)
	}

	if err := e.deps.Committer.Commit(ctx, fresh, ""); err != nil {
		return err
	}
	metrics.ObserveConfidence(fresh.AIMetadata.ConfidenceScore)
	logger.Info("registry updated from push",
		zap.Float64("confidence", fresh.AIMetadata.ConfidenceScore),
		zap.Int("capabilities", len(fresh.Capabilities)))
	return nil
}
