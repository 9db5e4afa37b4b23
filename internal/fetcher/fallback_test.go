package fetcher

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/capability-registry/internal/registry"
)

type stubFetcher struct {
	result registry.CrawlResult
	err    error
	calls  int
}

func (s *stubFetcher) Fetch(context.Context, string) (registry.CrawlResult, error) {
	s.calls++
	return s.result, s.err
}

func pages(strategy string, n int) registry.CrawlResult {
	res := registry.CrawlResult{Domain: "acme.com", Strategy: strategy, TotalPages: n}
	for i := 0; i < n; i++ {
		res.Pages = append(res.Pages, registry.FetchedPage{URL: "https://acme.com", Text: "x"})
	}
	return res
}

func TestFallbackPrimarySucceeds(t *testing.T) {
	t.Parallel()

	primary := &stubFetcher{result: pages(registry.StrategyRendered, 2)}
	secondary := &stubFetcher{result: pages(registry.StrategyDirect, 1)}
	f := NewFallback(primary, secondary, zap.NewNop())

	got, err := f.Fetch(context.Background(), "acme.com")
	require.NoError(t, err)
	require.Equal(t, registry.StrategyRendered, got.Strategy)
	require.Zero(t, secondary.calls)
}

func TestFallbackOnErrorOrEmpty(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		primary *stubFetcher
	}{
		{"error", &stubFetcher{err: errors.New("quota exceeded")}},
		{"empty", &stubFetcher{result: pages(registry.StrategyRendered, 0)}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			secondary := &stubFetcher{result: pages(registry.StrategyDirect, 3)}
			f := NewFallback(tt.primary, secondary, nil)

			got, err := f.Fetch(context.Background(), "acme.com")
			require.NoError(t, err)
			require.Equal(t, registry.StrategyDirect, got.Strategy)
			require.Equal(t, 1, secondary.calls)
		})
	}
}

func TestFallbackNoPrimary(t *testing.T) {
	t.Parallel()

	secondary := &stubFetcher{err: registry.ErrNoPages}
	f := NewFallback(nil, secondary, nil)

	_, err := f.Fetch(context.Background(), "acme.com")
	require.ErrorIs(t, err, registry.ErrNoPages)
}

func TestFallbackCanceledSkipsSecondary(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	primary := &stubFetcher{err: context.Canceled}
	secondary := &stubFetcher{result: pages(registry.StrategyDirect, 1)}

	_, err := NewFallback(primary, secondary, nil).Fetch(ctx, "acme.com")
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, secondary.calls)
}
