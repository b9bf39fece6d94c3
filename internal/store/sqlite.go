package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/scraping-service/internal/db"
	"github.com/sells-group/scraping-service/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Timestamps are
// stored as unix milliseconds so expiry comparisons are numeric.
type SQLiteStore struct {
	db *sql.DB
}

var (
	sqliteResultUpsert = resultUpsert(db.SQLite)
	sqliteCacheUpsert  = cacheUpsert(db.SQLite)
)

const sqliteSelectResult = `SELECT id, request_id, url, normalized_url, company_name, description, industry,
	employee_count, founded_year, headquarters, website, email, phone, linkedin_url, twitter_url,
	products, services, raw_markdown, raw_metadata, expires_at, created_at, updated_at
	FROM scrape_results`

const sqliteSelectCache = `SELECT id, normalized_url, result_id, company_name, industry, is_valid, expires_at, created_at, updated_at
	FROM scrape_cache`

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// A single long-lived connection keeps the pragmas below in effect and
	// serializes writers.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: sqlDB}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS scrape_requests (
	id             TEXT PRIMARY KEY,
	source_service TEXT NOT NULL,
	source_org_id  TEXT NOT NULL,
	source_ref_id  TEXT,
	run_id         TEXT,
	url            TEXT NOT NULL,
	options        TEXT,
	status         TEXT NOT NULL DEFAULT 'pending',
	error_message  TEXT,
	created_at     INTEGER NOT NULL,
	completed_at   INTEGER
);

CREATE INDEX IF NOT EXISTS idx_scrape_requests_status ON scrape_requests(status);

CREATE TABLE IF NOT EXISTS scrape_results (
	id             TEXT PRIMARY KEY,
	request_id     TEXT REFERENCES scrape_requests(id) ON DELETE SET NULL,
	url            TEXT NOT NULL,
	normalized_url TEXT NOT NULL UNIQUE,
	company_name   TEXT,
	description    TEXT,
	industry       TEXT,
	employee_count TEXT,
	founded_year   INTEGER,
	headquarters   TEXT,
	website        TEXT,
	email          TEXT,
	phone          TEXT,
	linkedin_url   TEXT,
	twitter_url    TEXT,
	products       TEXT,
	services       TEXT,
	raw_markdown   TEXT,
	raw_metadata   TEXT,
	expires_at     INTEGER,
	created_at     INTEGER NOT NULL,
	updated_at     INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS scrape_cache (
	id             TEXT PRIMARY KEY,
	normalized_url TEXT NOT NULL UNIQUE,
	result_id      TEXT NOT NULL REFERENCES scrape_results(id) ON DELETE CASCADE,
	company_name   TEXT,
	industry       TEXT,
	is_valid       INTEGER NOT NULL DEFAULT 1,
	expires_at     INTEGER NOT NULL,
	created_at     INTEGER NOT NULL,
	updated_at     INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_scrape_cache_expires_at ON scrape_cache(expires_at);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRequest(ctx context.Context, req *model.ScrapeRequest) error {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	if req.Status == "" {
		req.Status = model.RequestStatusPending
	}

	opts, err := marshalOptions(req.Options)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scrape_requests (id, source_service, source_org_id, source_ref_id, run_id, url, options, status, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.SourceService, req.OrgID, nullString(req.SourceRefID), nullString(req.RunID),
		req.URL, textOrNil(opts), string(req.Status), toMillis(req.CreatedAt),
	)
	return eris.Wrap(err, "sqlite: insert request")
}

func (s *SQLiteStore) CompleteRequest(ctx context.Context, id string, completedAt time.Time) error {
	return s.finalizeRequest(ctx, id, model.RequestStatusCompleted, "", completedAt)
}

func (s *SQLiteStore) FailRequest(ctx context.Context, id, message string, completedAt time.Time) error {
	return s.finalizeRequest(ctx, id, model.RequestStatusFailed, message, completedAt)
}

func (s *SQLiteStore) finalizeRequest(ctx context.Context, id string, status model.RequestStatus, message string, completedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scrape_requests SET status = ?, error_message = ?, completed_at = ? WHERE id = ?`,
		string(status), nullString(message), toMillis(completedAt), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finalize request %s", id)
	}
	return checkRowsAffected(res, "request", id)
}

func (s *SQLiteStore) GetRequest(ctx context.Context, id string) (*model.ScrapeRequest, error) {
	var r model.ScrapeRequest
	var refID, runID, opts, errMsg sql.NullString
	var status string
	var createdAt int64
	var completedAt sql.NullInt64

	err := s.db.QueryRowContext(ctx,
		`SELECT id, source_service, source_org_id, source_ref_id, run_id, url, options, status, error_message, created_at, completed_at
		 FROM scrape_requests WHERE id = ?`,
		id,
	).Scan(&r.ID, &r.SourceService, &r.OrgID, &refID, &runID, &r.URL, &opts, &status, &errMsg, &createdAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get request %s", id)
	}

	r.SourceRefID = refID.String
	r.RunID = runID.String
	r.ErrorMessage = errMsg.String
	r.Status = model.RequestStatus(status)
	r.CreatedAt = fromMillis(createdAt)
	if completedAt.Valid {
		t := fromMillis(completedAt.Int64)
		r.CompletedAt = &t
	}
	if r.Options, err = unmarshalOptions([]byte(opts.String)); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *SQLiteStore) LookupCache(ctx context.Context, normalizedURL string, now time.Time) (*CacheHit, error) {
	entry, err := scanSQLiteCache(s.db.QueryRowContext(ctx,
		sqliteSelectCache+` WHERE normalized_url = ? AND is_valid = 1 AND expires_at > ?`,
		normalizedURL, toMillis(now),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: lookup cache")
	}

	result, err := s.GetResult(ctx, entry.ResultID)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	return &CacheHit{Entry: *entry, Result: *result}, nil
}

func (s *SQLiteStore) GetCacheEntry(ctx context.Context, normalizedURL string) (*model.CacheEntry, error) {
	entry, err := scanSQLiteCache(s.db.QueryRowContext(ctx,
		sqliteSelectCache+` WHERE normalized_url = ?`, normalizedURL,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get cache entry")
	}
	return entry, nil
}

func (s *SQLiteStore) GetResult(ctx context.Context, id string) (*model.ScrapeResult, error) {
	r, err := scanSQLiteResult(s.db.QueryRowContext(ctx, sqliteSelectResult+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get result %s", id)
	}
	return r, nil
}

func (s *SQLiteStore) UpsertResult(ctx context.Context, result *model.ScrapeResult, ttl time.Duration, now time.Time) (*model.ScrapeResult, error) {
	now = now.UTC()
	expires := now.Add(ttl)

	out := *result
	if out.ID == "" {
		out.ID = uuid.New().String()
	}
	out.ExpiresAt = &expires
	out.CreatedAt = now
	out.UpdatedAt = now

	products, err := marshalList(out.Products)
	if err != nil {
		return nil, err
	}
	services, err := marshalList(out.Services)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: upsert result: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	var createdAt int64
	err = tx.QueryRowContext(ctx, sqliteResultUpsert,
		out.ID, out.RequestID, out.URL, out.NormalizedURL,
		out.CompanyName, out.Description, out.Industry, out.EmployeeCount, out.FoundedYear,
		out.Headquarters, out.Website, out.Email, out.Phone, out.LinkedInURL, out.TwitterURL,
		textOrNil(products), textOrNil(services), out.RawMarkdown, textOrNil(rawJSON(out.RawMetadata)),
		toMillis(expires), toMillis(now), toMillis(now),
	).Scan(&out.ID, &createdAt)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: upsert result %s", out.NormalizedURL)
	}
	out.CreatedAt = fromMillis(createdAt)

	var cacheID string
	var cacheCreated int64
	err = tx.QueryRowContext(ctx, sqliteCacheUpsert,
		uuid.New().String(), out.NormalizedURL, out.ID, out.CompanyName, out.Industry,
		true, toMillis(expires), toMillis(now), toMillis(now),
	).Scan(&cacheID, &cacheCreated)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: upsert cache %s", out.NormalizedURL)
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: upsert result: commit tx")
	}
	return &out, nil
}

func (s *SQLiteStore) InvalidateCache(ctx context.Context, normalizedURL string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scrape_cache SET is_valid = 0, updated_at = ? WHERE normalized_url = ?`,
		toMillis(time.Now()), normalizedURL,
	)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: invalidate cache")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func textOrNil(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}

func scanSQLiteCache(row scannable) (*model.CacheEntry, error) {
	var e model.CacheEntry
	var name, industry sql.NullString
	var expiresAt, createdAt, updatedAt int64
	if err := row.Scan(&e.ID, &e.NormalizedURL, &e.ResultID, &name, &industry, &e.IsValid, &expiresAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	e.CompanyName = ptrFromNull(name)
	e.Industry = ptrFromNull(industry)
	e.ExpiresAt = fromMillis(expiresAt)
	e.CreatedAt = fromMillis(createdAt)
	e.UpdatedAt = fromMillis(updatedAt)
	return &e, nil
}

func scanSQLiteResult(row scannable) (*model.ScrapeResult, error) {
	var r model.ScrapeResult
	var requestID, companyName, description, industry, employeeCount, headquarters sql.NullString
	var website, email, phone, linkedIn, twitter, products, services, markdown, metadata sql.NullString
	var foundedYear, expiresAt sql.NullInt64
	var createdAt, updatedAt int64

	if err := row.Scan(
		&r.ID, &requestID, &r.URL, &r.NormalizedURL,
		&companyName, &description, &industry, &employeeCount, &foundedYear,
		&headquarters, &website, &email, &phone, &linkedIn, &twitter,
		&products, &services, &markdown, &metadata,
		&expiresAt, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	r.RequestID = ptrFromNull(requestID)
	r.CompanyName = ptrFromNull(companyName)
	r.Description = ptrFromNull(description)
	r.Industry = ptrFromNull(industry)
	r.EmployeeCount = ptrFromNull(employeeCount)
	r.Headquarters = ptrFromNull(headquarters)
	r.Website = ptrFromNull(website)
	r.Email = ptrFromNull(email)
	r.Phone = ptrFromNull(phone)
	r.LinkedInURL = ptrFromNull(linkedIn)
	r.TwitterURL = ptrFromNull(twitter)
	r.RawMarkdown = ptrFromNull(markdown)
	if foundedYear.Valid {
		y := int(foundedYear.Int64)
		r.FoundedYear = &y
	}
	if expiresAt.Valid {
		t := fromMillis(expiresAt.Int64)
		r.ExpiresAt = &t
	}
	if metadata.Valid && metadata.String != "" {
		r.RawMetadata = []byte(metadata.String)
	}
	r.CreatedAt = fromMillis(createdAt)
	r.UpdatedAt = fromMillis(updatedAt)

	var err error
	if r.Products, err = unmarshalList([]byte(products.String)); err != nil {
		return nil, err
	}
	if r.Services, err = unmarshalList([]byte(services.String)); err != nil {
		return nil, err
	}
	return &r, nil
}

func ptrFromNull(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
