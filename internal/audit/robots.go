package audit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"

	"github.com/JakeFAU/capability-registry/internal/metrics"
	"github.com/JakeFAU/capability-registry/internal/registry"
)

// AICrawlers are the user agents checked against robots.txt, in report order.
var AICrawlers = []string{
	"gptbot",
	"claudebot",
	"perplexitybot",
	"anthropic-ai",
	"cohere-ai",
	"bytespider",
	"googlebot",
	"bingbot",
	"ccbot",
	"omgilibot",
}

var highImpactCrawlers = map[string]struct{}{
	"gptbot":        {},
	"claudebot":     {},
	"perplexitybot": {},
	"anthropic-ai":  {},
}

const (
	detailsAllPermitted = "All AI crawlers are permitted"
	detailsNoRobots     = "No robots.txt found; all crawlers permitted by default"

	// syntheticHeader marks the allow-all response served after TLS retries run out.
	syntheticHeader = "X-Robots-Synthetic"
)

var robotsRetryBackoff = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

// Robots fetches https://domain/robots.txt and reports which AI crawlers it
// blocks. Any non-200 answer or transport failure counts as "no robots.txt".
func (a *Auditor) Robots(ctx context.Context, domain string) registry.RobotsAudit {
	url := fmt.Sprintf("%s://%s/robots.txt", a.cfg.Scheme, domain)
	status, body, header, err := a.get(ctx, url, "")
	if err != nil {
		a.logger.Warn("robots.txt fetch failed", zap.String("url", url), zap.Error(err))
		return noRobots()
	}
	if status != http.StatusOK || header.Get(syntheticHeader) != "" {
		return noRobots()
	}
	audit, err := ParseRobots(body)
	if err != nil {
		a.logger.Warn("robots.txt parse failed", zap.String("url", url), zap.Error(err))
		return noRobots()
	}
	return audit
}

// ParseRobots evaluates a robots.txt body. A crawler counts as blocked when
// the group that applies to it disallows the site root.
func ParseRobots(body []byte) (registry.RobotsAudit, error) {
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		return registry.RobotsAudit{}, fmt.Errorf("parse robots: %w", err)
	}

	blocked := []string{}
	allowed := []string{}
	highImpact := []string{}
	var delay time.Duration
	if g := data.FindGroup("*"); g != nil {
		delay = g.CrawlDelay
	}
	for _, agent := range AICrawlers {
		group := data.FindGroup(agent)
		if group == nil || group.Test("/") {
			allowed = append(allowed, agent)
			continue
		}
		blocked = append(blocked, agent)
		if _, ok := highImpactCrawlers[agent]; ok {
			highImpact = append(highImpact, agent)
		}
		if delay == 0 {
			delay = group.CrawlDelay
		}
	}

	audit := registry.RobotsAudit{
		BlocksAICrawlers: len(highImpact) > 0,
		BlockedCrawlers:  blocked,
		AllowedCrawlers:  allowed,
		HasRobotsTxt:     true,
	}
	if secs := int(delay / time.Second); secs > 0 {
		audit.CrawlDelay = &secs
	}
	switch {
	case len(blocked) == 0:
		audit.Details = detailsAllPermitted
	case len(highImpact) > 0:
		audit.Details = "Blocking high-impact AI crawlers: " + strings.Join(highImpact, ", ")
	default:
		audit.Details = "Blocking minor AI crawlers: " + strings.Join(blocked, ", ")
	}
	return audit, nil
}

func noRobots() registry.RobotsAudit {
	return registry.RobotsAudit{
		BlockedCrawlers: []string{},
		AllowedCrawlers: append([]string(nil), AICrawlers...),
		Details:         detailsNoRobots,
	}
}

// robotsAwareTransport retries robots.txt requests that die in the TLS
// handshake and, once retries run out, answers with a synthetic allow-all
// file. Every other request passes straight through.
type robotsAwareTransport struct {
	base http.RoundTripper
}

func (t *robotsAwareTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("robots transport received nil request")
	}
	if !isRobotsTxtRequest(req) {
		resp, err := t.base.RoundTrip(req)
		if err != nil {
			return nil, fmt.Errorf("robots transport base roundtrip: %w", err)
		}
		return resp, nil
	}

	maxAttempts := len(robotsRetryBackoff) + 1
	for attempt := 0; attempt < maxAttempts; attempt++ {
		resp, err := t.base.RoundTrip(req.Clone(req.Context()))
		if err == nil {
			return resp, nil
		}
		if !isTransientTLSError(err) {
			return nil, fmt.Errorf("robots roundtrip non-transient: %w", err)
		}
		if attempt == maxAttempts-1 {
			break
		}
		if err := sleepWithContext(req.Context(), robotsRetryBackoff[attempt]); err != nil {
			return nil, err
		}
	}
	metrics.ObserveRobotsFallback()
	return syntheticAllowAll(req), nil
}

func isRobotsTxtRequest(req *http.Request) bool {
	return req.URL != nil && strings.EqualFold(req.URL.Path, "/robots.txt")
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("robots backoff sleep: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func syntheticAllowAll(req *http.Request) *http.Response {
	const body = "User-agent: *\nAllow: /"
	header := make(http.Header)
	header.Set(syntheticHeader, "tls-handshake-timeout")
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Header:        header,
		Request:       req,
	}
}

func isTransientTLSError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}
