package fetcher

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/capability-registry/internal/logging"
	"github.com/JakeFAU/capability-registry/internal/metrics"
	"github.com/JakeFAU/capability-registry/internal/registry"
)

// Fallback tries Primary first and silently switches to Secondary when it
// errors or returns no pages. A nil Primary means only Secondary runs.
type Fallback struct {
	primary   registry.Fetcher
	secondary registry.Fetcher
	logger    *zap.Logger
}

// NewFallback builds a Fallback fetcher.
func NewFallback(primary, secondary registry.Fetcher, logger *zap.Logger) *Fallback {
	return &Fallback{
		primary:   primary,
		secondary: secondary,
		logger:    logging.OrNop(logger),
	}
}

// Fetch implements registry.Fetcher.
func (f *Fallback) Fetch(ctx context.Context, domainOrURL string) (registry.CrawlResult, error) {
	if f.primary != nil {
		result, err := f.primary.Fetch(ctx, domainOrURL)
		if err == nil && result.TotalPages > 0 {
			return result, nil
		}
		if err == nil {
			err = registry.ErrNoPages
		}
		if ctx.Err() != nil {
			return registry.CrawlResult{}, fmt.Errorf("primary fetch: %w", err)
		}
		metrics.ObserveFallback()
		f.logger.Warn("rendering service failed, falling back to direct fetch",
			zap.String("target", domainOrURL),
			zap.Error(err),
		)
	}
	if f.secondary == nil {
		return registry.CrawlResult{}, fmt.Errorf("no fetch strategy configured")
	}
	result, err := f.secondary.Fetch(ctx, domainOrURL)
	if err != nil {
		return registry.CrawlResult{}, fmt.Errorf("direct fetch: %w", err)
	}
	return result, nil
}
