// Package headless renders pages in a local headless Chrome and exposes them
// as a registry.Renderer.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/capability-registry/internal/fetcher"
	"github.com/JakeFAU/capability-registry/internal/logging"
	"github.com/JakeFAU/capability-registry/internal/registry"
)

// Config controls the behavior of the headless renderer.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
}

// Renderer implements registry.Renderer using chromedp.
type Renderer struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// NewChromedp creates a renderer backed by a shared Chrome allocator.
func NewChromedp(cfg Config, logger *zap.Logger) (*Renderer, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 25 * time.Second
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Renderer{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logging.OrNop(logger),
	}, nil
}

// Close cancels the allocator context.
func (r *Renderer) Close() {
	r.allocCancel()
}

// Scrape renders one page and returns its readable text.
func (r *Renderer) Scrape(ctx context.Context, url string) (registry.FetchedPage, error) {
	html, finalURL, status, err := r.render(ctx, url)
	if err != nil {
		return registry.FetchedPage{}, err
	}
	extracted, err := fetcher.ExtractText(html)
	if err != nil {
		return registry.FetchedPage{}, fmt.Errorf("extract text: %w", err)
	}
	return registry.FetchedPage{
		URL:        finalURL,
		Title:      extracted.Title,
		Text:       extracted.Text,
		HTML:       html,
		StatusCode: status,
		IsError:    status >= http.StatusBadRequest,
	}, nil
}

// BatchScrape renders urls concurrently up to MaxParallel. Pages that fail to
// render come back flagged IsError.
func (r *Renderer) BatchScrape(ctx context.Context, urls []string) ([]registry.FetchedPage, error) {
	pages := make([]registry.FetchedPage, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	for i, u := range urls {
		g.Go(func() error {
			page, err := r.Scrape(gctx, u)
			if err != nil {
				if gctx.Err() != nil {
					return err
				}
				r.logger.Debug("headless render failed", zap.String("url", u), zap.Error(err))
				pages[i] = registry.FetchedPage{URL: u, IsError: true}
				return nil
			}
			pages[i] = page
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("batch render: %w", err)
	}
	return pages, nil
}

// Map renders the page and returns the same-domain links found in the final DOM.
func (r *Renderer) Map(ctx context.Context, url string, limit int) ([]string, error) {
	_, domain, err := registry.ParseTarget(url)
	if err != nil {
		return nil, fmt.Errorf("parse target: %w", err)
	}
	html, finalURL, _, err := r.render(ctx, url)
	if err != nil {
		return nil, err
	}
	links := fetcher.ExtractLinks(html, finalURL, domain)
	if limit > 0 && len(links) > limit {
		links = links[:limit]
	}
	return links, nil
}

func (r *Renderer) render(ctx context.Context, url string) (string, string, int, error) {
	if err := r.acquire(ctx); err != nil {
		return "", "", 0, err
	}
	defer r.release()

	taskCtx, taskCancel := chromedp.NewContext(r.allocator)
	defer taskCancel()
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	taskCtx, cancel := context.WithTimeout(taskCtx, r.cfg.NavigationTimeout)
	defer cancel()

	meta := &responseMeta{}
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	var html, finalURL string
	actions := []chromedp.Action{
		r.networkSetupAction(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return "", "", 0, fmt.Errorf("chromedp run: %w", err)
	}
	status, responseURL := meta.snapshotWithFallbacks(url, finalURL)
	return html, responseURL, status, nil
}

func (r *Renderer) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if r.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(r.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (r *Renderer) acquire(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	select {
	case r.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (r *Renderer) release() {
	if r.limiter == nil {
		return
	}
	select {
	case <-r.limiter:
	default:
	}
}

// responseMeta records the status of the top-level document response.
type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	m.status = int(event.Response.Status)
	m.url = event.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, string) {
	m.mu.RLock()
	status, url := m.status, m.url
	m.mu.RUnlock()
	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, url
}
