package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/capability-registry/internal/registry"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewWithPool(mock, Tables{})
	require.NoError(t, err)
	return store, mock
}

func TestNewWithPoolValidatesTables(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(nil, Tables{})
	require.Error(t, err)
	_, err = NewWithPool(mock, Tables{Jobs: "jobs; DROP TABLE x"})
	require.ErrorContains(t, err, "invalid table name")

	store, err := NewWithPool(mock, Tables{Registries: "caps"})
	require.NoError(t, err)
	require.Equal(t, "caps", store.tables.Registries)
	require.Equal(t, DefaultTables.Jobs, store.tables.Jobs)
}

func TestMigrateRunsEveryStatement(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS registries").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS ingest_jobs").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS ingest_jobs_created_at_idx").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS page_hashes").WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRegistryUpsertsDocument(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	reg := registry.CapabilityRegistry{
		SchemaVersion: registry.SchemaVersion,
		Domain:        "acme.com",
		CrawlID:       "c_abc",
		LastUpdated:   time.Unix(1_700_000_000, 0).UTC(),
	}
	data, err := json.Marshal(reg)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO registries").
		WithArgs("acme.com", "c_abc", data, reg.LastUpdated).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.SaveRegistry(context.Background(), reg))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRegistry(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT data FROM registries WHERE domain").
		WithArgs("acme.com").
		WillReturnRows(pgxmock.NewRows([]string{"data"}).
			AddRow([]byte(`{"domain":"acme.com","crawl_id":"c_1","metadata":{"name":"Acme"}}`)))
	mock.ExpectQuery("SELECT data FROM registries WHERE domain").
		WithArgs("missing.com").
		WillReturnError(pgx.ErrNoRows)

	reg, err := store.GetRegistry(context.Background(), "acme.com")
	require.NoError(t, err)
	require.Equal(t, "Acme", reg.Metadata.Name)
	require.Equal(t, "c_1", reg.CrawlID)

	_, err = store.GetRegistry(context.Background(), "missing.com")
	require.ErrorIs(t, err, registry.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListRegistries(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	updated := time.Unix(1_700_000_000, 0).UTC()
	mock.ExpectQuery("SELECT domain, crawl_id, updated_at FROM registries").
		WillReturnRows(pgxmock.NewRows([]string{"domain", "crawl_id", "updated_at"}).
			AddRow("a.com", "c_1", updated).
			AddRow("b.com", "c_2", updated))

	list, err := store.ListRegistries(context.Background())
	require.NoError(t, err)
	require.Equal(t, []registry.RegistrySummary{
		{Domain: "a.com", CrawlID: "c_1", UpdatedAt: updated},
		{Domain: "b.com", CrawlID: "c_2", UpdatedAt: updated},
	}, list)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveJobRefusesTerminalRows(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	created := time.Unix(1_700_000_000, 0).UTC()
	job := registry.IngestJob{
		ID:        "job_1",
		Domain:    "acme.com",
		URL:       "https://acme.com",
		Status:    registry.JobStatusCrawling,
		CreatedAt: created,
	}

	mock.ExpectExec("INSERT INTO ingest_jobs").
		WithArgs("job_1", "acme.com", "https://acme.com", "crawling", created, job.CompletedAt, "", 0, job.ConfidenceScore).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO ingest_jobs").
		WithArgs("job_1", "acme.com", "https://acme.com", "crawling", created, job.CompletedAt, "", 0, job.ConfidenceScore).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	require.NoError(t, store.SaveJob(context.Background(), job))
	require.ErrorIs(t, store.SaveJob(context.Background(), job), registry.ErrInvalidTransition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAndListJobs(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	created := time.Unix(1_700_000_000, 0).UTC()
	completed := created.Add(time.Minute)
	score := 0.75
	columns := []string{"id", "domain", "url", "status", "created_at", "completed_at", "error", "pages_crawled", "confidence_score"}

	mock.ExpectQuery("SELECT id, domain, url, status").
		WithArgs("job_1").
		WillReturnRows(pgxmock.NewRows(columns).
			AddRow("job_1", "acme.com", "https://acme.com", "complete", created, &completed, "", 5, &score))
	mock.ExpectQuery("SELECT id, domain, url, status").
		WithArgs("job_missing").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("ORDER BY created_at DESC, id DESC LIMIT").
		WithArgs(2).
		WillReturnRows(pgxmock.NewRows(columns).
			AddRow("job_2", "b.com", "https://b.com", "pending", created, (*time.Time)(nil), "", 0, (*float64)(nil)).
			AddRow("job_1", "acme.com", "https://acme.com", "complete", created, &completed, "", 5, &score))

	job, err := store.GetJob(context.Background(), "job_1")
	require.NoError(t, err)
	require.Equal(t, registry.JobStatusComplete, job.Status)
	require.Equal(t, 5, job.PagesCrawled)
	require.NotNil(t, job.CompletedAt)
	require.InDelta(t, 0.75, *job.ConfidenceScore, 1e-9)

	_, err = store.GetJob(context.Background(), "job_missing")
	require.ErrorIs(t, err, registry.ErrNotFound)

	jobs, err := store.ListJobs(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	require.Equal(t, "job_2", jobs[0].ID)
	require.Nil(t, jobs[0].CompletedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPageHashes(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT hash FROM page_hashes").
		WithArgs("acme.com", "https://acme.com/").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec("INSERT INTO page_hashes").
		WithArgs("acme.com", "https://acme.com/", "abc").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("SELECT hash FROM page_hashes").
		WithArgs("acme.com", "https://acme.com/").
		WillReturnRows(pgxmock.NewRows([]string{"hash"}).AddRow("abc"))

	_, err := store.GetPageHash(context.Background(), "acme.com", "https://acme.com/")
	require.ErrorIs(t, err, registry.ErrNotFound)
	require.NoError(t, store.SavePageHash(context.Background(), "acme.com", "https://acme.com/", "abc"))
	got, err := store.GetPageHash(context.Background(), "acme.com", "https://acme.com/")
	require.NoError(t, err)
	require.Equal(t, "abc", got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryErrorsAreWrapped(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	boom := errors.New("connection reset")
	mock.ExpectQuery("SELECT domain, crawl_id, updated_at").WillReturnError(boom)

	_, err := store.ListRegistries(context.Background())
	require.ErrorIs(t, err, boom)
	require.ErrorContains(t, err, "list registries")
}
