package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/scraping-service/internal/db"
	"github.com/sells-group/scraping-service/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

var (
	pgResultUpsert = resultUpsert(db.Postgres)
	pgCacheUpsert  = cacheUpsert(db.Postgres)
)

const pgSelectResult = `SELECT id, request_id, url, normalized_url, company_name, description, industry,
	employee_count, founded_year, headquarters, website, email, phone, linkedin_url, twitter_url,
	products, services, raw_markdown, raw_metadata, expires_at, created_at, updated_at
	FROM scrape_results`

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS scrape_requests (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	source_service TEXT NOT NULL,
	source_org_id  TEXT NOT NULL,
	source_ref_id  TEXT,
	run_id         TEXT,
	url            TEXT NOT NULL,
	options        JSONB,
	status         TEXT NOT NULL DEFAULT 'pending',
	error_message  TEXT,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at   TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_scrape_requests_status ON scrape_requests(status);
CREATE INDEX IF NOT EXISTS idx_scrape_requests_org ON scrape_requests(source_org_id);

CREATE TABLE IF NOT EXISTS scrape_results (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
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
	products       JSONB,
	services       JSONB,
	raw_markdown   TEXT,
	raw_metadata   JSONB,
	expires_at     TIMESTAMPTZ,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS scrape_cache (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	normalized_url TEXT NOT NULL UNIQUE,
	result_id      TEXT NOT NULL REFERENCES scrape_results(id) ON DELETE CASCADE,
	company_name   TEXT,
	industry       TEXT,
	is_valid       BOOLEAN NOT NULL DEFAULT true,
	expires_at     TIMESTAMPTZ NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_scrape_cache_expires_at ON scrape_cache(expires_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRequest(ctx context.Context, req *model.ScrapeRequest) error {
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

	_, err = s.pool.Exec(ctx,
		`INSERT INTO scrape_requests (id, source_service, source_org_id, source_ref_id, run_id, url, options, status, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		req.ID, req.SourceService, req.OrgID, nullString(req.SourceRefID), nullString(req.RunID),
		req.URL, opts, string(req.Status), req.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert request")
}

func (s *PostgresStore) CompleteRequest(ctx context.Context, id string, completedAt time.Time) error {
	return s.finalizeRequest(ctx, id, model.RequestStatusCompleted, "", completedAt)
}

func (s *PostgresStore) FailRequest(ctx context.Context, id, message string, completedAt time.Time) error {
	return s.finalizeRequest(ctx, id, model.RequestStatusFailed, message, completedAt)
}

func (s *PostgresStore) finalizeRequest(ctx context.Context, id string, status model.RequestStatus, message string, completedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE scrape_requests SET status = $1, error_message = $2, completed_at = $3 WHERE id = $4`,
		string(status), nullString(message), completedAt.UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finalize request %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "request %s", id)
	}
	return nil
}

func (s *PostgresStore) GetRequest(ctx context.Context, id string) (*model.ScrapeRequest, error) {
	var r model.ScrapeRequest
	var refID, runID, errMsg *string
	var opts []byte
	var status string

	err := s.pool.QueryRow(ctx,
		`SELECT id, source_service, source_org_id, source_ref_id, run_id, url, options, status, error_message, created_at, completed_at
		 FROM scrape_requests WHERE id = $1`,
		id,
	).Scan(&r.ID, &r.SourceService, &r.OrgID, &refID, &runID, &r.URL, &opts, &status, &errMsg, &r.CreatedAt, &r.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get request %s", id)
	}

	r.SourceRefID = derefString(refID)
	r.RunID = derefString(runID)
	r.ErrorMessage = derefString(errMsg)
	r.Status = model.RequestStatus(status)
	if r.Options, err = unmarshalOptions(opts); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) LookupCache(ctx context.Context, normalizedURL string, now time.Time) (*CacheHit, error) {
	var hit CacheHit
	err := s.pool.QueryRow(ctx,
		`SELECT id, normalized_url, result_id, company_name, industry, is_valid, expires_at, created_at, updated_at
		 FROM scrape_cache WHERE normalized_url = $1 AND is_valid AND expires_at > $2`,
		normalizedURL, now.UTC(),
	).Scan(&hit.Entry.ID, &hit.Entry.NormalizedURL, &hit.Entry.ResultID, &hit.Entry.CompanyName,
		&hit.Entry.Industry, &hit.Entry.IsValid, &hit.Entry.ExpiresAt, &hit.Entry.CreatedAt, &hit.Entry.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: lookup cache")
	}

	result, err := s.GetResult(ctx, hit.Entry.ResultID)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	hit.Result = *result
	return &hit, nil
}

func (s *PostgresStore) GetCacheEntry(ctx context.Context, normalizedURL string) (*model.CacheEntry, error) {
	var e model.CacheEntry
	err := s.pool.QueryRow(ctx,
		`SELECT id, normalized_url, result_id, company_name, industry, is_valid, expires_at, created_at, updated_at
		 FROM scrape_cache WHERE normalized_url = $1`,
		normalizedURL,
	).Scan(&e.ID, &e.NormalizedURL, &e.ResultID, &e.CompanyName, &e.Industry, &e.IsValid, &e.ExpiresAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get cache entry")
	}
	return &e, nil
}

func (s *PostgresStore) GetResult(ctx context.Context, id string) (*model.ScrapeResult, error) {
	r, err := scanPostgresResult(s.pool.QueryRow(ctx, pgSelectResult+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get result %s", id)
	}
	return r, nil
}

func (s *PostgresStore) UpsertResult(ctx context.Context, result *model.ScrapeResult, ttl time.Duration, now time.Time) (*model.ScrapeResult, error) {
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

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: upsert result: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	err = tx.QueryRow(ctx, pgResultUpsert,
		out.ID, out.RequestID, out.URL, out.NormalizedURL,
		out.CompanyName, out.Description, out.Industry, out.EmployeeCount, out.FoundedYear,
		out.Headquarters, out.Website, out.Email, out.Phone, out.LinkedInURL, out.TwitterURL,
		products, services, out.RawMarkdown, rawJSON(out.RawMetadata),
		expires, now, now,
	).Scan(&out.ID, &out.CreatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: upsert result %s", out.NormalizedURL)
	}

	var cacheID string
	var cacheCreated time.Time
	err = tx.QueryRow(ctx, pgCacheUpsert,
		uuid.New().String(), out.NormalizedURL, out.ID, out.CompanyName, out.Industry,
		true, expires, now, now,
	).Scan(&cacheID, &cacheCreated)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: upsert cache %s", out.NormalizedURL)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: upsert result: commit tx")
	}
	return &out, nil
}

func (s *PostgresStore) InvalidateCache(ctx context.Context, normalizedURL string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE scrape_cache SET is_valid = false, updated_at = $1 WHERE normalized_url = $2`,
		time.Now().UTC(), normalizedURL,
	)
	if err != nil {
		return false, eris.Wrap(err, "postgres: invalidate cache")
	}
	return tag.RowsAffected() > 0, nil
}

func scanPostgresResult(row scannable) (*model.ScrapeResult, error) {
	var r model.ScrapeResult
	var products, services, metadata []byte
	if err := row.Scan(
		&r.ID, &r.RequestID, &r.URL, &r.NormalizedURL,
		&r.CompanyName, &r.Description, &r.Industry, &r.EmployeeCount, &r.FoundedYear,
		&r.Headquarters, &r.Website, &r.Email, &r.Phone, &r.LinkedInURL, &r.TwitterURL,
		&products, &services, &r.RawMarkdown, &metadata,
		&r.ExpiresAt, &r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		return nil, err
	}
	var err error
	if r.Products, err = unmarshalList(products); err != nil {
		return nil, err
	}
	if r.Services, err = unmarshalList(services); err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		r.RawMetadata = metadata
	}
	return &r, nil
}
