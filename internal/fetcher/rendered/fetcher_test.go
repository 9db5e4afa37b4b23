package rendered

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/capability-registry/internal/registry"
)

type fakeRenderer struct {
	mu        sync.Mutex
	seed      registry.FetchedPage
	seedErr   error
	mapped    []string
	mapErr    error
	mapLimit  int
	batchURLs []string
	batchErr  error
}

func (f *fakeRenderer) Scrape(_ context.Context, url string) (registry.FetchedPage, error) {
	if f.seedErr != nil {
		return registry.FetchedPage{}, f.seedErr
	}
	p := f.seed
	if p.URL == "" {
		p.URL = url
	}
	return p, nil
}

func (f *fakeRenderer) BatchScrape(_ context.Context, urls []string) ([]registry.FetchedPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchURLs = append([]string(nil), urls...)
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	out := make([]registry.FetchedPage, 0, len(urls))
	for _, u := range urls {
		p := registry.FetchedPage{URL: u, Text: "content of " + u, StatusCode: 200}
		if strings.HasSuffix(u, "/broken") {
			p.IsError = true
			p.StatusCode = 500
		}
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeRenderer) Map(_ context.Context, _ string, limit int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mapLimit = limit
	return f.mapped, f.mapErr
}

func TestFetchRanksMappedURLs(t *testing.T) {
	t.Parallel()

	r := &fakeRenderer{
		seed: registry.FetchedPage{Text: "home", StatusCode: 200},
		mapped: []string{
			"https://acme.com",
			"https://acme.com/blog",
			"https://acme.com/careers",
			"https://acme.com/broken",
			"https://acme.com/docs",
			"https://acme.com/pricing",
			"https://other.com/pricing",
		},
	}
	f := New(r, Config{MaxPages: 4}, zap.NewNop())

	result, err := f.Fetch(context.Background(), "acme.com")
	require.NoError(t, err)
	require.Equal(t, registry.StrategyRendered, result.Strategy)
	require.Equal(t, "acme.com", result.Domain)
	require.Equal(t, 9, r.mapLimit)
	require.Equal(t, []string{
		"https://acme.com/pricing",
		"https://acme.com/docs",
		"https://acme.com/blog",
	}, r.batchURLs)
	require.Equal(t, 4, result.TotalPages)
	require.Equal(t, "https://acme.com", result.Pages[0].URL)
}

func TestFetchDropsErrorPages(t *testing.T) {
	t.Parallel()

	r := &fakeRenderer{
		seed:   registry.FetchedPage{Text: "home"},
		mapped: []string{"https://acme.com/broken"},
	}
	result, err := New(r, Config{MaxPages: 5}, nil).Fetch(context.Background(), "acme.com")
	require.NoError(t, err)
	require.Equal(t, 1, result.TotalPages)
}

func TestFetchSeedFailureIsAnError(t *testing.T) {
	t.Parallel()

	boom := errors.New("quota exceeded")
	tests := []struct {
		name string
		r    *fakeRenderer
	}{
		{"seed", &fakeRenderer{seedErr: boom}},
		{"seed and map", &fakeRenderer{seedErr: boom, mapErr: boom}},
		{"empty seed and batch", &fakeRenderer{mapped: []string{"https://acme.com/docs"}, batchErr: boom}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tt.r, Config{}, nil).Fetch(context.Background(), "acme.com")
			require.ErrorIs(t, err, boom)
		})
	}
}

func TestFetchKeepsSeedWhenCrawlFails(t *testing.T) {
	t.Parallel()

	boom := errors.New("quota exceeded")
	tests := []struct {
		name string
		r    *fakeRenderer
	}{
		{"map", &fakeRenderer{seed: registry.FetchedPage{Text: "home"}, mapErr: boom}},
		{"batch", &fakeRenderer{seed: registry.FetchedPage{Text: "home"}, mapped: []string{"https://acme.com/docs"}, batchErr: boom}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			result, err := New(tt.r, Config{}, nil).Fetch(context.Background(), "acme.com")
			require.NoError(t, err)
			require.Equal(t, 1, result.TotalPages)
			require.Equal(t, "home", result.Pages[0].Text)
		})
	}
}

// stallingRenderer answers the seed but never finishes a batch.
type stallingRenderer struct{ fakeRenderer }

func (s *stallingRenderer) BatchScrape(ctx context.Context, _ []string) ([]registry.FetchedPage, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestFetchBoundsSlowBatch(t *testing.T) {
	t.Parallel()

	r := &stallingRenderer{fakeRenderer{
		seed:   registry.FetchedPage{Text: "home"},
		mapped: []string{"https://acme.com/pricing"},
	}}
	start := time.Now()
	result, err := New(r, Config{Timeout: 50 * time.Millisecond}, nil).Fetch(context.Background(), "acme.com")
	require.NoError(t, err)
	require.Less(t, time.Since(start), 2*time.Second)
	require.Equal(t, 1, result.TotalPages)
}

func TestFetchReturnsErrorWhenCallerCancels(t *testing.T) {
	t.Parallel()

	r := &stallingRenderer{fakeRenderer{
		seed:   registry.FetchedPage{Text: "home"},
		mapped: []string{"https://acme.com/pricing"},
	}}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := New(r, Config{Timeout: time.Minute}, nil).Fetch(ctx, "acme.com")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFetchCapsTextAndMarkup(t *testing.T) {
	t.Parallel()

	big := strings.Repeat("<p>pricing</p>", 1000)
	r := &fakeRenderer{seed: registry.FetchedPage{Text: strings.Repeat("x", 5000), HTML: big}}
	result, err := New(r, Config{MaxPages: 1, MaxContentBytes: 1000}, nil).Fetch(context.Background(), "acme.com")
	require.NoError(t, err)
	require.Len(t, result.Pages[0].Text, 1000)
	require.LessOrEqual(t, len(result.Pages[0].HTML), 1000)
}

func TestFetchSingleSlotSkipsMap(t *testing.T) {
	t.Parallel()

	r := &fakeRenderer{seed: registry.FetchedPage{Text: "home"}, mapErr: errors.New("unused")}
	result, err := New(r, Config{MaxPages: 1, MaxContentBytes: 2}, nil).Fetch(context.Background(), "acme.com")
	require.NoError(t, err)
	require.Equal(t, 1, result.TotalPages)
	require.Equal(t, "ho", result.Pages[0].Text)
	require.Zero(t, r.mapLimit)
}
