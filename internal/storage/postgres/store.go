// Package postgres provides Postgres-backed persistence for registries, jobs
// and push page digests.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/capability-registry/internal/registry"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Tables names the three tables used by the store.
type Tables struct {
	Registries string
	Jobs       string
	PageHashes string
}

// DefaultTables is used when a Config leaves Tables empty.
var DefaultTables = Tables{
	Registries: "registries",
	Jobs:       "ingest_jobs",
	PageHashes: "page_hashes",
}

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	Tables          Tables
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Store implements registry.Store on Postgres.
type Store struct {
	pool   pool
	tables Tables
}

// Open connects a pool using cfg and verifies it with a ping.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	tables, err := resolveTables(cfg.Tables)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: p, tables: tables}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, tables Tables) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	resolved, err := resolveTables(tables)
	if err != nil {
		return nil, err
	}
	return &Store{pool: p, tables: resolved}, nil
}

func resolveTables(t Tables) (Tables, error) {
	if t.Registries == "" {
		t.Registries = DefaultTables.Registries
	}
	if t.Jobs == "" {
		t.Jobs = DefaultTables.Jobs
	}
	if t.PageHashes == "" {
		t.PageHashes = DefaultTables.PageHashes
	}
	for _, name := range []string{t.Registries, t.Jobs, t.PageHashes} {
		if !validTableName.MatchString(name) {
			return Tables{}, fmt.Errorf("invalid table name %q", name)
		}
	}
	return t, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Migrate creates the tables and indexes when they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range s.schema() {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate schema: %w", err)
		}
	}
	return nil
}

func (s *Store) schema() []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	domain     TEXT PRIMARY KEY,
	crawl_id   TEXT NOT NULL,
	data       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`, s.tables.Registries),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id               TEXT PRIMARY KEY,
	domain           TEXT NOT NULL,
	url              TEXT NOT NULL,
	status           TEXT NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL,
	completed_at     TIMESTAMPTZ,
	error            TEXT NOT NULL DEFAULT '',
	pages_crawled    INTEGER NOT NULL DEFAULT 0,
	confidence_score DOUBLE PRECISION
)`, s.tables.Jobs),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_created_at_idx ON %[1]s (created_at DESC)`, s.tables.Jobs),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	domain     TEXT NOT NULL,
	page_url   TEXT NOT NULL,
	hash       TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (domain, page_url)
)`, s.tables.PageHashes),
	}
}

// GetRegistry loads the registry stored for domain.
func (s *Store) GetRegistry(ctx context.Context, domain string) (registry.CapabilityRegistry, error) {
	query := fmt.Sprintf(`SELECT data FROM %s WHERE domain = $1`, s.tables.Registries)
	var data []byte
	if err := s.pool.QueryRow(ctx, query, domain).Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return registry.CapabilityRegistry{}, registry.ErrNotFound
		}
		return registry.CapabilityRegistry{}, fmt.Errorf("select registry: %w", err)
	}
	var reg registry.CapabilityRegistry
	if err := json.Unmarshal(data, &reg); err != nil {
		return registry.CapabilityRegistry{}, fmt.Errorf("decode registry: %w", err)
	}
	return reg, nil
}

// SaveRegistry upserts the full registry document in one statement.
func (s *Store) SaveRegistry(ctx context.Context, reg registry.CapabilityRegistry) error {
	if reg.Domain == "" {
		return fmt.Errorf("save registry: domain is required")
	}
	data, err := json.Marshal(reg)
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (domain, crawl_id, data, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (domain) DO UPDATE
SET crawl_id = EXCLUDED.crawl_id,
	data = EXCLUDED.data,
	updated_at = EXCLUDED.updated_at`, s.tables.Registries)
	if _, err := s.pool.Exec(ctx, query, reg.Domain, reg.CrawlID, data, reg.LastUpdated); err != nil {
		return fmt.Errorf("upsert registry: %w", err)
	}
	return nil
}

// ListRegistries returns a summary per stored registry ordered by domain.
func (s *Store) ListRegistries(ctx context.Context) ([]registry.RegistrySummary, error) {
	query := fmt.Sprintf(`SELECT domain, crawl_id, updated_at FROM %s ORDER BY domain`, s.tables.Registries)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list registries: %w", err)
	}
	defer rows.Close()

	out := []registry.RegistrySummary{}
	for rows.Next() {
		var sum registry.RegistrySummary
		if err := rows.Scan(&sum.Domain, &sum.CrawlID, &sum.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan registry summary: %w", err)
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate registries: %w", err)
	}
	return out, nil
}

const jobColumns = `id, domain, url, status, created_at, completed_at, error, pages_crawled, confidence_score`

// GetJob fetches a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (registry.IngestJob, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, jobColumns, s.tables.Jobs)
	job, err := scanJob(s.pool.QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return registry.IngestJob{}, registry.ErrNotFound
		}
		return registry.IngestJob{}, fmt.Errorf("select job: %w", err)
	}
	return job, nil
}

// SaveJob creates or updates a job. Rows already in a terminal status are
// left untouched and the call reports registry.ErrInvalidTransition.
func (s *Store) SaveJob(ctx context.Context, job registry.IngestJob) error {
	if job.ID == "" {
		return fmt.Errorf("save job: id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %[1]s (%[2]s)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO UPDATE
SET status = EXCLUDED.status,
	completed_at = EXCLUDED.completed_at,
	error = EXCLUDED.error,
	pages_crawled = EXCLUDED.pages_crawled,
	confidence_score = EXCLUDED.confidence_score
WHERE %[1]s.status NOT IN ('complete', 'failed')`, s.tables.Jobs, jobColumns)
	tag, err := s.pool.Exec(ctx, query,
		job.ID,
		job.Domain,
		job.URL,
		string(job.Status),
		job.CreatedAt,
		job.CompletedAt,
		job.Error,
		job.PagesCrawled,
		job.ConfidenceScore,
	)
	if err != nil {
		return fmt.Errorf("upsert job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("save job %s: %w", job.ID, registry.ErrInvalidTransition)
	}
	return nil
}

// ListJobs returns up to limit jobs, newest first. A non-positive limit
// returns every job.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]registry.IngestJob, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY created_at DESC, id DESC`, jobColumns, s.tables.Jobs)
	var args []any
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	out := []registry.IngestJob{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}

func scanJob(row pgx.Row) (registry.IngestJob, error) {
	var (
		job    registry.IngestJob
		status string
	)
	err := row.Scan(
		&job.ID,
		&job.Domain,
		&job.URL,
		&status,
		&job.CreatedAt,
		&job.CompletedAt,
		&job.Error,
		&job.PagesCrawled,
		&job.ConfidenceScore,
	)
	if err != nil {
		return registry.IngestJob{}, err
	}
	job.Status = registry.JobStatus(status)
	return job, nil
}

// GetPageHash returns the last digest recorded for a pushed page.
func (s *Store) GetPageHash(ctx context.Context, domain, pageURL string) (string, error) {
	query := fmt.Sprintf(`SELECT hash FROM %s WHERE domain = $1 AND page_url = $2`, s.tables.PageHashes)
	var hash string
	if err := s.pool.QueryRow(ctx, query, domain, pageURL).Scan(&hash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", registry.ErrNotFound
		}
		return "", fmt.Errorf("select page hash: %w", err)
	}
	return hash, nil
}

// SavePageHash records the digest for a pushed page.
func (s *Store) SavePageHash(ctx context.Context, domain, pageURL, hash string) error {
	query := fmt.Sprintf(`
INSERT INTO %s (domain, page_url, hash, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (domain, page_url) DO UPDATE
SET hash = EXCLUDED.hash,
	updated_at = EXCLUDED.updated_at`, s.tables.PageHashes)
	if _, err := s.pool.Exec(ctx, query, domain, pageURL, hash); err != nil {
		return fmt.Errorf("upsert page hash: %w", err)
	}
	return nil
}
