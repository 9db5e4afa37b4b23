// Package audit runs the side-channel checks stamped onto every registry:
// AI crawler permissions from robots.txt and schema.org markup on the
// homepage. Audits never fail a job; unreachable sites produce the documented
// empty results.
package audit

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/capability-registry/internal/logging"
	"github.com/JakeFAU/capability-registry/internal/registry"
)

const (
	defaultUserAgent = "CapabilityRegistry-Checker/1.0"
	maxBodyBytes     = 2 << 20
)

// Config controls the audit HTTP client.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// Scheme is prepended to bare domains. Defaults to https.
	Scheme string
}

// Auditor fetches robots.txt and the homepage for a domain.
type Auditor struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New builds an Auditor whose robots.txt requests retry TLS handshake
// timeouts before falling back to allow-all.
func New(cfg Config, logger *zap.Logger) *Auditor {
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Scheme == "" {
		cfg.Scheme = "https"
	}
	base := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: cfg.Timeout,
		MaxIdleConns:        20,
		IdleConnTimeout:     90 * time.Second,
	}
	return NewWithTransport(cfg, &robotsAwareTransport{base: base}, logger)
}

// NewWithTransport builds an Auditor on top of a caller-supplied transport.
func NewWithTransport(cfg Config, transport http.RoundTripper, logger *zap.Logger) *Auditor {
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Scheme == "" {
		cfg.Scheme = "https"
	}
	return &Auditor{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout, Transport: transport},
		logger: logging.OrNop(logger),
	}
}

// Run executes both audits concurrently.
func (a *Auditor) Run(ctx context.Context, domain string) registry.Audits {
	var (
		out registry.Audits
		wg  sync.WaitGroup
	)
	wg.Go(func() { out.Robots = a.Robots(ctx, domain) })
	wg.Go(func() { out.Schema = a.Schema(ctx, domain) })
	wg.Wait()
	return out
}

// get fetches url and returns the status, a capped body and the response headers.
func (a *Auditor) get(ctx context.Context, url, accept string) (int, []byte, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("new audit request: %w", err)
	}
	req.Header.Set("User-Agent", a.cfg.UserAgent)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("audit fetch: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			a.logger.Debug("failed to close audit response body", zap.Error(cerr))
		}
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, resp.Header, fmt.Errorf("read audit body: %w", err)
	}
	return resp.StatusCode, body, resp.Header, nil
}
