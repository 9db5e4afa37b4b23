// Package rendered implements the remote rendering fetch strategy on top of a
// registry.Renderer.
package rendered

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/capability-registry/internal/fetcher"
	"github.com/JakeFAU/capability-registry/internal/logging"
	"github.com/JakeFAU/capability-registry/internal/metrics"
	"github.com/JakeFAU/capability-registry/internal/registry"
)

// mapOversample is how many discovered URLs to request per remaining page slot.
const mapOversample = 3

// Config controls the crawl budget. Timeout bounds one whole Fetch call.
type Config struct {
	MaxPages        int
	MaxContentBytes int
	Timeout         time.Duration
}

// Fetcher scrapes the seed page, maps the site, ranks the discovered URLs and
// batch-scrapes the best of them.
type Fetcher struct {
	renderer registry.Renderer
	cfg      Config
	logger   *zap.Logger
}

// New builds a Fetcher.
func New(renderer registry.Renderer, cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 20
	}
	if cfg.MaxContentBytes <= 0 {
		cfg.MaxContentBytes = 50000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &Fetcher{renderer: renderer, cfg: cfg, logger: logging.OrNop(logger)}
}

// Fetch implements registry.Fetcher. A map or batch failure after a usable
// seed page keeps the seed-only result.
func (f *Fetcher) Fetch(ctx context.Context, domainOrURL string) (registry.CrawlResult, error) {
	seedURL, domain, err := registry.ParseTarget(domainOrURL)
	if err != nil {
		return registry.CrawlResult{}, fmt.Errorf("parse target: %w", err)
	}
	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()
	start := time.Now()
	result := registry.CrawlResult{
		Domain:   domain,
		SeedURL:  seedURL,
		Strategy: registry.StrategyRendered,
	}

	seed, seedErr := f.renderer.Scrape(ctx, seedURL)
	if seedErr != nil {
		f.logger.Warn("seed scrape failed", zap.String("url", seedURL), zap.Error(seedErr))
	} else if f.keep(seed) {
		result.Pages = append(result.Pages, f.trim(seed))
	}

	if remaining := f.cfg.MaxPages - len(result.Pages); remaining > 0 {
		more, err := f.crawlRest(ctx, seedURL, seed.URL, domain, remaining)
		switch {
		case err == nil:
			result.Pages = append(result.Pages, more...)
		case parent.Err() != nil || len(result.Pages) == 0:
			return registry.CrawlResult{}, err
		default:
			f.logger.Warn("using pages from seed only", zap.String("domain", domain), zap.Error(err))
		}
	}

	result.TotalPages = len(result.Pages)
	result.Duration = time.Since(start)
	if result.TotalPages == 0 && seedErr != nil {
		return registry.CrawlResult{}, fmt.Errorf("scrape seed: %w", seedErr)
	}
	f.logger.Info("rendered fetch complete",
		zap.String("domain", domain),
		zap.Int("pages", result.TotalPages),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

// crawlRest maps the site and batch-scrapes the best remaining URLs.
func (f *Fetcher) crawlRest(ctx context.Context, seedURL, resolvedSeed, domain string, remaining int) ([]registry.FetchedPage, error) {
	discovered, err := f.renderer.Map(ctx, seedURL, remaining*mapOversample)
	if err != nil {
		return nil, fmt.Errorf("map site: %w", err)
	}
	candidates := make([]string, 0, len(discovered))
	for _, link := range discovered {
		if inDomain(link, domain) {
			candidates = append(candidates, link)
		}
	}
	ranked := fetcher.RankLinks(candidates, seedURL, resolvedSeed)
	if len(ranked) > remaining {
		ranked = ranked[:remaining]
	}
	if len(ranked) == 0 {
		return nil, nil
	}
	batch, err := f.renderer.BatchScrape(ctx, ranked)
	if err != nil {
		return nil, fmt.Errorf("batch scrape: %w", err)
	}
	pages := make([]registry.FetchedPage, 0, len(batch))
	for _, p := range batch {
		if f.keep(p) {
			pages = append(pages, f.trim(p))
		}
	}
	return pages, nil
}

func (f *Fetcher) keep(p registry.FetchedPage) bool {
	ok := !p.IsError && p.Text != "" && (p.StatusCode == 0 || p.StatusCode < 400)
	if ok {
		metrics.ObservePage(registry.StrategyRendered, "ok")
	} else {
		metrics.ObservePage(registry.StrategyRendered, "skipped")
	}
	return ok
}

func (f *Fetcher) trim(p registry.FetchedPage) registry.FetchedPage {
	p.Text = fetcher.Truncate(p.Text, f.cfg.MaxContentBytes)
	p.HTML = fetcher.Truncate(p.HTML, f.cfg.MaxContentBytes)
	return p
}

func inDomain(link, domain string) bool {
	_, host, err := registry.ParseTarget(link)
	if err != nil {
		return false
	}
	return registry.HostMatches(host, domain)
}
