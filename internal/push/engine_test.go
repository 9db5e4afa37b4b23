package push

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/capability-registry/internal/hash/sha256"
	"github.com/JakeFAU/capability-registry/internal/normalize"
	"github.com/JakeFAU/capability-registry/internal/pipeline"
	pubmemory "github.com/JakeFAU/capability-registry/internal/publisher/memory"
	"github.com/JakeFAU/capability-registry/internal/registry"
	"github.com/JakeFAU/capability-registry/internal/storage/memory"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type counterIDs struct{ n atomic.Int64 }

func (g *counterIDs) NewID(prefix string, _ int) (string, error) {
	return fmt.Sprintf("%s_%d", prefix, g.n.Add(1)), nil
}

type countingExtractor struct {
	raw   registry.RawExtraction
	calls atomic.Int32
	seen  chan registry.CrawlResult
}

func (e *countingExtractor) Extract(_ context.Context, crawl registry.CrawlResult) registry.RawExtraction {
	e.calls.Add(1)
	if e.seen != nil {
		e.seen <- crawl
	}
	return e.raw
}

// hashCountingStore counts page hash writes.
type hashCountingStore struct {
	*memory.Store
	hashWrites atomic.Int32
}

func (s *hashCountingStore) SavePageHash(ctx context.Context, domain, pageURL, hash string) error {
	s.hashWrites.Add(1)
	return s.Store.SavePageHash(ctx, domain, pageURL, hash)
}

type rejectAll struct{}

func (rejectAll) Verify(context.Context, string) (bool, error) { return false, nil }

type fixture struct {
	engine    *Engine
	store     *hashCountingStore
	extractor *countingExtractor
	publisher *pubmemory.Publisher
}

func newFixture(t *testing.T, verifier TenantVerifier) *fixture {
	t.Helper()
	clock := fixedClock{t: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)}
	f := &fixture{
		store: &hashCountingStore{Store: memory.NewStore()},
		extractor: &countingExtractor{raw: registry.RawExtraction{
			Metadata:     map[string]any{"name": "Acme", "description": "Widgets"},
			Capabilities: []any{map[string]any{"name": "Checkout"}},
			Model:        "fast",
		}},
		publisher: pubmemory.New(),
	}
	committer := pipeline.NewCommitter(f.store, clock, pipeline.CommitterConfig{Publisher: f.publisher}, nil)
	engine, err := New(Deps{
		Store:     f.store,
		Extractor: f.extractor,
		Builder:   normalize.NewBuilder(&counterIDs{}, clock, nil),
		Committer: committer,
		Hasher:    sha256.New(),
		Verifier:  verifier,
	}, Config{BaseURL: "https://registry.example"}, nil)
	require.NoError(t, err)
	f.engine = engine
	return f
}

func samplePage() Page {
	return Page{
		URL:             "https://acme.com/pricing",
		Title:           "Pricing",
		Headings:        []string{"Plans", "FAQ"},
		Forms:           []map[string]any{{"name": "signup", "action": "/signup"}},
		TextPreview:     "Pro plan costs $10",
		WebMCPTools:     []map[string]any{{"name": "quote"}},
		WebMCPSupported: true,
	}
}

func TestPushSkipsUnchangedPage(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	ctx := context.Background()
	page := samplePage()
	digest, err := Digest(sha256.New(), page)
	require.NoError(t, err)
	require.NoError(t, f.store.Store.SavePageHash(ctx, "acme.com", page.URL, digest))

	resp, err := f.engine.PushPage(ctx, Request{Domain: "www.ACME.com", Page: page})
	require.NoError(t, err)
	f.engine.Wait()

	require.Equal(t, StatusSkipped, resp.Status)
	require.Equal(t, "acme.com", resp.Domain)
	require.Equal(t, messageSkipped, resp.Message)
	require.Nil(t, resp.Score)
	require.Zero(t, f.extractor.calls.Load())
	require.Zero(t, f.store.hashWrites.Load())
}

func TestPushAcceptsChangedPageAndBuildsRegistry(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.extractor.seen = make(chan registry.CrawlResult, 1)
	ctx := context.Background()

	resp, err := f.engine.PushPage(ctx, Request{Domain: "acme.com", Page: samplePage()})
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, resp.Status)
	require.Equal(t, messageAccepted, resp.Message)
	require.Nil(t, resp.Score)
	f.engine.Wait()

	crawl := <-f.extractor.seen
	require.Equal(t, registry.StrategyPush, crawl.Strategy)
	require.Equal(t, "https://acme.com", crawl.SeedURL)
	require.Len(t, crawl.Pages, 1)
	require.Contains(t, crawl.Pages[0].Text, "## Forms\n- Form: signup (/signup)")

	reg, err := f.store.GetRegistry(ctx, "acme.com")
	require.NoError(t, err)
	require.Equal(t, registry.SourcePush, reg.AIMetadata.Source)
	require.True(t, reg.AIMetadata.WebMCPEnabled)
	require.Equal(t, 1, reg.AIMetadata.WebMCPToolsCount)
	require.Equal(t, 1, reg.AIMetadata.FormsExposed)
	require.Len(t, f.publisher.Topic(registry.TopicRegistryUpdated), 1)

	stored, err := f.store.GetPageHash(ctx, "acme.com", "https://acme.com/pricing")
	require.NoError(t, err)
	want, err := Digest(sha256.New(), samplePage())
	require.NoError(t, err)
	require.Equal(t, want, stored)

	again, err := f.engine.PushPage(ctx, Request{Domain: "acme.com", Page: samplePage()})
	require.NoError(t, err)
	require.Equal(t, StatusSkipped, again.Status)
	require.NotNil(t, again.Score)
	require.InDelta(t, reg.AIMetadata.ConfidenceScore, *again.Score, 1e-9)
}

func TestPushUsesClientHash(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.engine.PushPage(ctx, Request{Domain: "acme.com", Page: samplePage(), ContentHash: "client-digest"})
	require.NoError(t, err)
	f.engine.Wait()

	got, err := f.store.GetPageHash(ctx, "acme.com", "https://acme.com/pricing")
	require.NoError(t, err)
	require.Equal(t, "client-digest", got)
}

func TestPushMergesWithRicherExisting(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	ctx := context.Background()
	existing := registry.CapabilityRegistry{
		Domain:       "acme.com",
		CrawlID:      "c_old",
		Capabilities: make([]registry.Capability, 5),
		Pricing:      registry.Pricing{Model: "tiered", Tiers: []registry.PricingTier{{Name: "Pro"}}},
		AIMetadata:   registry.AIMetadata{ConfidenceScore: 0.95},
	}
	require.NoError(t, f.store.SaveRegistry(ctx, existing))

	resp, err := f.engine.PushPage(ctx, Request{Domain: "acme.com", Page: samplePage()})
	require.NoError(t, err)
	require.NotNil(t, resp.Score)
	require.InDelta(t, 0.95, *resp.Score, 1e-9)
	f.engine.Wait()

	merged, err := f.store.GetRegistry(ctx, "acme.com")
	require.NoError(t, err)
	require.NotEqual(t, "c_old", merged.CrawlID)
	require.Len(t, merged.Capabilities, 5)
	require.Equal(t, "tiered", merged.Pricing.Model)
	require.InDelta(t, 0.95, merged.AIMetadata.ConfidenceScore, 1e-9)
	require.Equal(t, registry.SourcePush, merged.AIMetadata.Source)
}

func TestPushRejectsUnknownTenant(t *testing.T) {
	t.Parallel()

	f := newFixture(t, rejectAll{})
	_, err := f.engine.PushPage(context.Background(), Request{Domain: "acme.com", TenantKey: "nope", Page: samplePage()})
	require.ErrorIs(t, err, ErrUnauthorized)
	require.Zero(t, f.store.hashWrites.Load())
}

func TestPushValidatesRequest(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	_, err := f.engine.PushPage(context.Background(), Request{Domain: "acme.com"})
	require.ErrorContains(t, err, "validate push request")
	_, err = f.engine.PushPage(context.Background(), Request{Page: samplePage()})
	require.Error(t, err)
}

func TestStaticTenants(t *testing.T) {
	t.Parallel()

	v := NewStaticTenants([]string{" key-1 ", "", "key-2"})
	for key, want := range map[string]bool{"key-1": true, "key-2": true, "key-3": false, "": false} {
		ok, err := v.Verify(context.Background(), key)
		require.NoError(t, err)
		require.Equal(t, want, ok, key)
	}
}

func TestConcurrentPushesSerializePerDomain(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	ctx := context.Background()
	var wg sync.WaitGroup
	errs := make(chan error, 6)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			page := samplePage()
			page.URL = fmt.Sprintf("https://acme.com/p%d", i)
			_, err := f.engine.PushPage(ctx, Request{Domain: "acme.com", Page: page})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	f.engine.Wait()

	require.Equal(t, int32(6), f.extractor.calls.Load())
	require.Len(t, f.publisher.Topic(registry.TopicRegistryUpdated), 6)
	_, err := f.store.GetRegistry(ctx, "acme.com")
	require.NoError(t, err)
}

func TestVerifierErrorsPropagate(t *testing.T) {
	t.Parallel()

	f := newFixture(t, verifierFunc(func(context.Context, string) (bool, error) {
		return false, errors.New("tenant db down")
	}))
	_, err := f.engine.PushPage(context.Background(), Request{Domain: "acme.com", Page: samplePage()})
	require.ErrorContains(t, err, "tenant db down")
	require.NotErrorIs(t, err, ErrUnauthorized)
}

type verifierFunc func(context.Context, string) (bool, error)

func (f verifierFunc) Verify(ctx context.Context, key string) (bool, error) { return f(ctx, key) }
