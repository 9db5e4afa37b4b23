// Package firecrawl is a registry.Renderer backed by the Firecrawl HTTP API.
package firecrawl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/capability-registry/internal/logging"
	"github.com/JakeFAU/capability-registry/internal/registry"
)

// ErrBatchFailed is returned when the service reports a failed batch job.
var ErrBatchFailed = errors.New("firecrawl batch failed")

var excludeTags = []string{"nav", "footer", "header", "aside", "script", "style"}

// ErrBatchTimeout is returned when a batch job does not finish within
// Config.BatchTimeout.
var ErrBatchTimeout = errors.New("firecrawl batch timed out")

// Config holds connection settings. Timeout applies per HTTP request;
// BatchTimeout bounds the whole start-and-poll cycle of a batch job.
type Config struct {
	BaseURL      string
	APIKey       string
	Timeout      time.Duration
	PollInterval time.Duration
	BatchTimeout time.Duration
}

// Client talks to the Firecrawl v1 API.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

type scrapeOptions struct {
	Formats         []string `json:"formats"`
	OnlyMainContent bool     `json:"onlyMainContent"`
	ExcludeTags     []string `json:"excludeTags,omitempty"`
}

type scrapeRequest struct {
	URL string `json:"url"`
	scrapeOptions
}

type batchRequest struct {
	URLs []string `json:"urls"`
	scrapeOptions
}

type mapRequest struct {
	URL   string `json:"url"`
	Limit int    `json:"limit,omitempty"`
}

type metadata struct {
	Title      string `json:"title"`
	SourceURL  string `json:"sourceURL"`
	URL        string `json:"url"`
	StatusCode int    `json:"statusCode"`
	Error      string `json:"error"`
}

type document struct {
	Markdown string   `json:"markdown"`
	HTML     string   `json:"html"`
	Metadata metadata `json:"metadata"`
}

type scrapeResponse struct {
	Success bool     `json:"success"`
	Error   string   `json:"error"`
	Data    document `json:"data"`
}

type mapResponse struct {
	Success bool     `json:"success"`
	Error   string   `json:"error"`
	Links   []string `json:"links"`
}

type batchStartResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	ID      string `json:"id"`
}

type batchStatusResponse struct {
	Status string     `json:"status"`
	Error  string     `json:"error"`
	Data   []document `json:"data"`
}

// New builds a Client.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.firecrawl.dev"
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 3 * time.Minute
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logging.OrNop(logger),
	}
}

func defaultScrapeOptions() scrapeOptions {
	return scrapeOptions{
		Formats:         []string{"markdown", "html"},
		OnlyMainContent: true,
		ExcludeTags:     excludeTags,
	}
}

// Scrape implements registry.Renderer.
func (c *Client) Scrape(ctx context.Context, url string) (registry.FetchedPage, error) {
	var resp scrapeResponse
	body := scrapeRequest{URL: url, scrapeOptions: defaultScrapeOptions()}
	if err := c.do(ctx, http.MethodPost, "/v1/scrape", body, &resp); err != nil {
		return registry.FetchedPage{}, fmt.Errorf("scrape %s: %w", url, err)
	}
	if !resp.Success {
		return registry.FetchedPage{}, fmt.Errorf("scrape %s: %s", url, resp.Error)
	}
	return toPage(resp.Data, url), nil
}

// Map implements registry.Renderer.
func (c *Client) Map(ctx context.Context, url string, limit int) ([]string, error) {
	var resp mapResponse
	if err := c.do(ctx, http.MethodPost, "/v1/map", mapRequest{URL: url, Limit: limit}, &resp); err != nil {
		return nil, fmt.Errorf("map %s: %w", url, err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("map %s: %s", url, resp.Error)
	}
	return resp.Links, nil
}

// BatchScrape implements registry.Renderer. It starts an async batch job and
// polls until it completes, ctx ends or BatchTimeout elapses.
func (c *Client) BatchScrape(ctx context.Context, urls []string) ([]registry.FetchedPage, error) {
	if len(urls) == 0 {
		return nil, nil
	}
	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, c.cfg.BatchTimeout)
	defer cancel()
	var start batchStartResponse
	body := batchRequest{URLs: urls, scrapeOptions: defaultScrapeOptions()}
	if err := c.do(ctx, http.MethodPost, "/v1/batch/scrape", body, &start); err != nil {
		return nil, fmt.Errorf("start batch: %w", err)
	}
	if !start.Success || start.ID == "" {
		return nil, fmt.Errorf("start batch: %s", start.Error)
	}

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	for {
		var status batchStatusResponse
		if err := c.do(ctx, http.MethodGet, "/v1/batch/scrape/"+start.ID, nil, &status); err != nil {
			if ctx.Err() != nil && parent.Err() == nil {
				return nil, fmt.Errorf("%w: %s after %s", ErrBatchTimeout, start.ID, c.cfg.BatchTimeout)
			}
			return nil, fmt.Errorf("poll batch %s: %w", start.ID, err)
		}
		switch status.Status {
		case "completed":
			pages := make([]registry.FetchedPage, 0, len(status.Data))
			for _, doc := range status.Data {
				pages = append(pages, toPage(doc, ""))
			}
			return pages, nil
		case "failed", "cancelled":
			return nil, fmt.Errorf("%w: %s %s", ErrBatchFailed, start.ID, status.Error)
		}
		c.logger.Debug("batch scrape pending", zap.String("id", start.ID), zap.String("status", status.Status))

		select {
		case <-ctx.Done():
			if parent.Err() == nil {
				return nil, fmt.Errorf("%w: %s after %s", ErrBatchTimeout, start.ID, c.cfg.BatchTimeout)
			}
			return nil, fmt.Errorf("poll batch canceled: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Warn("close response body", zap.Error(cerr))
		}
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func toPage(doc document, fallbackURL string) registry.FetchedPage {
	pageURL := doc.Metadata.SourceURL
	if pageURL == "" {
		pageURL = doc.Metadata.URL
	}
	if pageURL == "" {
		pageURL = fallbackURL
	}
	return registry.FetchedPage{
		URL:        pageURL,
		Title:      doc.Metadata.Title,
		Text:       doc.Markdown,
		HTML:       doc.HTML,
		StatusCode: doc.Metadata.StatusCode,
		IsError:    doc.Metadata.Error != "" || doc.Metadata.StatusCode >= http.StatusBadRequest,
	}
}
