package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/scraping-service/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func resultRow(id, normalized string, name *string, expires *time.Time, ts time.Time) *pgxmock.Rows {
	return pgxmock.NewRows(resultColumns).AddRow(
		id, (*string)(nil), "https://"+normalized, normalized,
		name, (*string)(nil), (*string)(nil), (*string)(nil), (*int)(nil),
		(*string)(nil), (*string)(nil), (*string)(nil), (*string)(nil), (*string)(nil), (*string)(nil),
		[]byte(`["widgets"]`), []byte(nil), strPtr("# Home"), []byte(`{"title":"Example"}`),
		expires, ts, ts,
	)
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS scrape_requests`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate_UniqueKeys(t *testing.T) {
	assert.Contains(t, postgresMigration, "normalized_url TEXT NOT NULL UNIQUE,\n\tcompany_name")
	assert.Contains(t, postgresMigration, "normalized_url TEXT NOT NULL UNIQUE,\n\tresult_id")
	assert.Contains(t, postgresMigration, "REFERENCES scrape_requests(id) ON DELETE SET NULL")
	assert.Contains(t, postgresMigration, "REFERENCES scrape_results(id) ON DELETE CASCADE")
}

func TestPostgresStore_Ping(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectPing()

	require.NoError(t, s.Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateRequest(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO scrape_requests`).
		WithArgs(pgxmock.AnyArg(), "api", "org_1", pgxmock.AnyArg(), pgxmock.AnyArg(),
			"https://example.com", pgxmock.AnyArg(), "processing", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	req := &model.ScrapeRequest{
		SourceService: "api",
		OrgID:         "org_1",
		URL:           "https://example.com",
		Status:        model.RequestStatusProcessing,
	}
	require.NoError(t, s.CreateRequest(context.Background(), req))
	assert.NotEmpty(t, req.ID)
	assert.False(t, req.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FailRequest(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE scrape_requests SET status = \$1, error_message = \$2, completed_at = \$3 WHERE id = \$4`).
		WithArgs("failed", pgxmock.AnyArg(), pgxmock.AnyArg(), "req-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.FailRequest(context.Background(), "req-1", "rate limited", time.Now()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteRequest_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE scrape_requests`).
		WithArgs("completed", pgxmock.AnyArg(), pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.CompleteRequest(context.Background(), "missing", time.Now())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRequest_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM scrape_requests WHERE id = \$1`).
		WithArgs("nonexistent").
		WillReturnError(pgx.ErrNoRows)

	got, err := s.GetRequest(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRequest_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM scrape_requests WHERE id = \$1`).
		WithArgs("req-1").
		WillReturnError(errors.New("connection reset"))

	_, err := s.GetRequest(context.Background(), "req-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get request")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LookupCache_Miss(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM scrape_cache WHERE normalized_url = \$1 AND is_valid AND expires_at > \$2`).
		WithArgs("unknown.com", pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)

	hit, err := s.LookupCache(context.Background(), "unknown.com", time.Now())
	require.NoError(t, err)
	assert.Nil(t, hit)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LookupCache_Hit(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	expires := now.Add(24 * time.Hour)

	mock.ExpectQuery(`FROM scrape_cache WHERE normalized_url = \$1 AND is_valid`).
		WithArgs("example.com", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(cacheColumns).
			AddRow("cache-1", "example.com", "res-1", strPtr("Example"), (*string)(nil), true, expires, now, now))
	mock.ExpectQuery(`FROM scrape_results WHERE id = \$1`).
		WithArgs("res-1").
		WillReturnRows(resultRow("res-1", "example.com", strPtr("Example"), &expires, now))

	hit, err := s.LookupCache(context.Background(), "example.com", now)
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.True(t, hit.Entry.Fresh(now))
	assert.Equal(t, "res-1", hit.Result.ID)
	assert.Equal(t, "Example", *hit.Result.CompanyName)
	assert.Equal(t, []string{"widgets"}, hit.Result.Products)
	assert.Nil(t, hit.Result.Services)
	assert.JSONEq(t, `{"title":"Example"}`, string(hit.Result.RawMetadata))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetCacheEntry_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM scrape_cache WHERE normalized_url = \$1`).
		WithArgs("unknown.com").
		WillReturnError(pgx.ErrNoRows)

	entry, err := s.GetCacheEntry(context.Background(), "unknown.com")
	require.NoError(t, err)
	assert.Nil(t, entry)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertResult(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	firstSeen := now.Add(-48 * time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "scrape_results" .* ON CONFLICT \("normalized_url"\) DO UPDATE SET .* RETURNING "id", "created_at"`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow("existing-id", firstSeen))
	mock.ExpectQuery(`INSERT INTO "scrape_cache" .* ON CONFLICT \("normalized_url"\) DO UPDATE SET`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow("cache-1", firstSeen))
	mock.ExpectCommit()

	out, err := s.UpsertResult(context.Background(), &model.ScrapeResult{
		URL:           "https://example.com",
		NormalizedURL: "example.com",
		CompanyName:   strPtr("Example"),
	}, 7*24*time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, "existing-id", out.ID)
	assert.Equal(t, firstSeen, out.CreatedAt)
	assert.Equal(t, now, out.UpdatedAt)
	require.NotNil(t, out.ExpiresAt)
	assert.Equal(t, now.Add(7*24*time.Hour), *out.ExpiresAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertResult_CacheFailureRollsBack(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "scrape_results"`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow("res-1", time.Now()))
	mock.ExpectQuery(`INSERT INTO "scrape_cache"`).
		WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	_, err := s.UpsertResult(context.Background(), &model.ScrapeResult{URL: "https://a.com", NormalizedURL: "a.com"}, time.Hour, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upsert cache")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertResult_BeginError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin().WillReturnError(errors.New("pool exhausted"))

	_, err := s.UpsertResult(context.Background(), &model.ScrapeResult{URL: "https://a.com", NormalizedURL: "a.com"}, time.Hour, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "begin tx")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InvalidateCache(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE scrape_cache SET is_valid = false`).
		WithArgs(pgxmock.AnyArg(), "a.com").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE scrape_cache SET is_valid = false`).
		WithArgs(pgxmock.AnyArg(), "b.com").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := s.InvalidateCache(context.Background(), "a.com")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.InvalidateCache(context.Background(), "b.com")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Close(t *testing.T) {
	closed := false
	s := &PostgresStore{closeFn: func() { closed = true }}
	require.NoError(t, s.Close())
	assert.True(t, closed)
}
