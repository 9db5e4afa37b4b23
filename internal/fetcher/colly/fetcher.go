// Package collyfetcher implements the direct fetch strategy using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/capability-registry/internal/fetcher"
	"github.com/JakeFAU/capability-registry/internal/logging"
	"github.com/JakeFAU/capability-registry/internal/metrics"
	"github.com/JakeFAU/capability-registry/internal/policy/ratelimit"
	"github.com/JakeFAU/capability-registry/internal/registry"
)

// Config controls collector behavior and the crawl budget.
type Config struct {
	UserAgent       string
	Timeout         time.Duration
	MaxPages        int
	Concurrency     int
	Delay           time.Duration
	MaxContentBytes int
}

// Fetcher implements registry.Fetcher by fetching the seed page, ranking its
// same-domain links and fetching the best of them in parallel.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
	limiter       *ratelimit.Limiter
	logger        *zap.Logger
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// page is the raw result of one collector visit.
type page struct {
	url         string
	status      int
	contentType string
	body        []byte
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 20
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.MaxContentBytes <= 0 {
		cfg.MaxContentBytes = 50000
	}

	c := colly.NewCollector(colly.Async(false))
	transport := newHTTPTransport()
	c.WithTransport(transport)

	return &Fetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
		limiter:       ratelimit.New(ratelimit.Config{Interval: cfg.Delay, Burst: 1}),
		logger:        logging.OrNop(logger),
	}
}

// Fetch implements registry.Fetcher.
func (f *Fetcher) Fetch(ctx context.Context, domainOrURL string) (registry.CrawlResult, error) {
	seedURL, domain, err := registry.ParseTarget(domainOrURL)
	if err != nil {
		return registry.CrawlResult{}, fmt.Errorf("parse target: %w", err)
	}
	start := time.Now()
	result := registry.CrawlResult{
		Domain:   domain,
		SeedURL:  seedURL,
		Strategy: registry.StrategyDirect,
	}

	seed, seedMarkup, ok, err := f.fetchPage(ctx, seedURL)
	if err != nil {
		return registry.CrawlResult{}, err
	}
	var links []string
	if ok {
		result.Pages = append(result.Pages, seed)
		links = fetcher.RankLinks(fetcher.ExtractLinks(seedMarkup, seed.URL, domain), seedURL, seed.URL)
	}

	budget := f.cfg.MaxPages - len(result.Pages)
	if budget < len(links) {
		links = links[:max(budget, 0)]
	}

	fetched := make([]*registry.FetchedPage, len(links))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.Concurrency)
	for i, link := range links {
		g.Go(func() error {
			if err := f.limiter.Wait(gctx, link); err != nil {
				return err
			}
			p, _, ok, err := f.fetchPage(gctx, link)
			if err != nil {
				if gctx.Err() != nil {
					return err
				}
				return nil
			}
			if ok {
				fetched[i] = &p
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return registry.CrawlResult{}, fmt.Errorf("fetch pages: %w", err)
	}
	for _, p := range fetched {
		if p != nil {
			result.Pages = append(result.Pages, *p)
		}
	}

	result.TotalPages = len(result.Pages)
	result.Duration = time.Since(start)
	if result.TotalPages == 0 {
		return registry.CrawlResult{}, registry.ErrNoPages
	}
	f.logger.Info("direct fetch complete",
		zap.String("domain", domain),
		zap.Int("pages", result.TotalPages),
		zap.Int("candidates", len(links)),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

// fetchPage visits one URL and returns the capped page plus the full decoded
// markup for link discovery. ok is false when the page was reachable but not
// usable (HTTP error status or non-HTML). err is reserved for cancellation.
func (f *Fetcher) fetchPage(ctx context.Context, url string) (registry.FetchedPage, string, bool, error) {
	raw, err := f.visit(ctx, url)
	if err != nil {
		if ctx.Err() != nil {
			return registry.FetchedPage{}, "", false, err
		}
		f.logger.Debug("page fetch failed", zap.String("url", url), zap.Error(err))
		metrics.ObservePage(registry.StrategyDirect, "error")
		return registry.FetchedPage{}, "", false, nil
	}
	if raw.url == "" || raw.status >= http.StatusBadRequest {
		metrics.ObservePage(registry.StrategyDirect, "http_error")
		return registry.FetchedPage{}, "", false, nil
	}
	if !isHTML(raw.contentType) {
		metrics.ObservePage(registry.StrategyDirect, "skipped")
		return registry.FetchedPage{}, "", false, nil
	}

	markup := fetcher.DecodeBody(raw.body, raw.contentType)
	extracted, err := fetcher.ExtractText(markup)
	if err != nil {
		metrics.ObservePage(registry.StrategyDirect, "error")
		return registry.FetchedPage{}, "", false, nil
	}
	metrics.ObservePage(registry.StrategyDirect, "ok")
	return registry.FetchedPage{
		URL:        raw.url,
		Title:      extracted.Title,
		Text:       fetcher.Truncate(extracted.Text, f.cfg.MaxContentBytes),
		HTML:       fetcher.Truncate(markup, f.cfg.MaxContentBytes),
		StatusCode: raw.status,
	}, markup, true, nil
}

func (f *Fetcher) visit(ctx context.Context, url string) (page, error) {
	var (
		result   page
		fetchErr error
	)
	collector := f.buildCollector()
	f.configureCollectorHooks(collector, &result, &fetchErr)
	if err := f.runCollector(ctx, collector, url, &fetchErr); err != nil {
		return page{}, err
	}
	return result, nil
}

func (f *Fetcher) buildCollector() *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.AllowURLRevisit = true
	collector.IgnoreRobotsTxt = true
	collector.ParseHTTPErrorResponse = true
	collector.SetRequestTimeout(f.cfg.Timeout)

	transport := f.transport
	if transport == nil {
		transport = newHTTPTransport()
	}
	collector.WithTransport(transport)
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, result *page, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		contentType := ""
		if r.Headers != nil {
			contentType = r.Headers.Get("Content-Type")
		}
		*result = page{
			url:         r.Request.URL.String(),
			status:      r.StatusCode,
			contentType: contentType,
			body:        append([]byte(nil), r.Body...),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode >= http.StatusBadRequest {
			result.status = r.StatusCode
			return
		}
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func isHTML(contentType string) bool {
	if contentType == "" {
		return true
	}
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
