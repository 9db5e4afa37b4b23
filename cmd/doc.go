// Package cmd defines the CLI commands for the capreg executable.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, ingest, job polling, snippet push and registry
//     lookup endpoints. Ingest requests are parsed into a domain, persisted as pending jobs and enqueued.
//   - Dispatcher & queue: jobs flow through a bounded in-memory queue sized by pipeline.queue_depth and are
//     fanned out to a fixed worker pool sized by pipeline.concurrency. Runs for the same domain are serialized.
//   - Fetch: the rendering service (Firecrawl or headless Chrome) is tried first when configured; any failure or
//     an empty result falls back to the direct Colly fetcher.
//   - Comprehension: four LLM passes (metadata, capabilities, pricing, limitations) run concurrently over the
//     crawled text; a failed pass yields an empty section rather than failing the job.
//   - Normalize & commit: raw extractions are coerced into the registry schema, scored for confidence, saved to
//     the store (memory or Postgres), archived as a JSON snapshot (memory/local/GCS) and announced on Pub/Sub.
//   - Push: the browser snippet posts page content; unchanged digests are skipped, new ones are merged into the
//     existing registry in the background without shrinking it.
//   - Scheduler: registries older than scheduler.refresh_interval_hours are resubmitted on every sweep.
//
// Quick checklist:
//   - Configure env vars: CAPREG_LLM_PROVIDER and CAPREG_LLM_API_KEY, CAPREG_RENDER_PROVIDER (none, firecrawl,
//     headless), CAPREG_STORAGE_DRIVER=postgres with CAPREG_DB_DSN, CAPREG_ARCHIVE_DRIVER, CAPREG_PUBSUB_PROJECT_ID.
//   - Run the service: go run . serve --config config.yaml
//   - One-shot: go run . ingest https://example.com -o example.json
package cmd
