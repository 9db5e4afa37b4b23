package registry

import (
	"context"
	"io"
	"time"
)

// RegistryStore persists capability registries keyed by domain.
type RegistryStore interface {
	GetRegistry(ctx context.Context, domain string) (CapabilityRegistry, error)
	SaveRegistry(ctx context.Context, reg CapabilityRegistry) error
	ListRegistries(ctx context.Context) ([]RegistrySummary, error)
}

// JobStore persists ingest jobs.
type JobStore interface {
	GetJob(ctx context.Context, jobID string) (IngestJob, error)
	SaveJob(ctx context.Context, job IngestJob) error
	ListJobs(ctx context.Context, limit int) ([]IngestJob, error)
}

// PageHashStore persists push content digests per (domain, page URL).
type PageHashStore interface {
	GetPageHash(ctx context.Context, domain, pageURL string) (string, error)
	SavePageHash(ctx context.Context, domain, pageURL, hash string) error
}

// Store is the full persistence surface used by the service.
type Store interface {
	RegistryStore
	JobStore
	PageHashStore
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publisher pushes change notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Fetcher retrieves a bounded set of pages for a domain.
type Fetcher interface {
	Fetch(ctx context.Context, domainOrURL string) (CrawlResult, error)
}

// Renderer is a remote rendering/crawling service.
type Renderer interface {
	Scrape(ctx context.Context, url string) (FetchedPage, error)
	BatchScrape(ctx context.Context, urls []string) ([]FetchedPage, error)
	Map(ctx context.Context, url string, limit int) ([]string, error)
}

// Prompt is one request to the text-generation service.
type Prompt struct {
	Model     string
	Text      string
	MaxTokens int
}

// TextGenerator is a synchronous prompt-in/text-out service.
type TextGenerator interface {
	Generate(ctx context.Context, prompt Prompt) (string, error)
}

// Extractor turns crawled pages into a raw extraction.
type Extractor interface {
	Extract(ctx context.Context, crawl CrawlResult) RawExtraction
}

// Queue provides enqueue/dequeue semantics for ingest jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Hasher computes digests for change detection.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces prefixed short identifiers.
type IDGenerator interface {
	NewID(prefix string, length int) (string, error)
}
