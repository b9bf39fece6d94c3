package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/scraping-service/internal/db"
	"github.com/sells-group/scraping-service/internal/model"
)

// ErrNotFound is returned when a mutation targets a row that does not exist.
var ErrNotFound = eris.New("store: not found")

// CacheHit pairs a cache entry with the result it points at.
type CacheHit struct {
	Entry  model.CacheEntry
	Result model.ScrapeResult
}

// Store defines the persistence interface for scrape requests, results and
// the normalized-URL cache.
type Store interface {
	// Request audit trail
	CreateRequest(ctx context.Context, req *model.ScrapeRequest) error
	CompleteRequest(ctx context.Context, id string, completedAt time.Time) error
	FailRequest(ctx context.Context, id, message string, completedAt time.Time) error
	GetRequest(ctx context.Context, id string) (*model.ScrapeRequest, error)

	// Results and cache
	LookupCache(ctx context.Context, normalizedURL string, now time.Time) (*CacheHit, error)
	GetCacheEntry(ctx context.Context, normalizedURL string) (*model.CacheEntry, error)
	GetResult(ctx context.Context, id string) (*model.ScrapeResult, error)
	UpsertResult(ctx context.Context, result *model.ScrapeResult, ttl time.Duration, now time.Time) (*model.ScrapeResult, error)
	InvalidateCache(ctx context.Context, normalizedURL string) (bool, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// resultColumns is the column order shared by inserts and selects on
// scrape_results.
var resultColumns = []string{
	"id", "request_id", "url", "normalized_url",
	"company_name", "description", "industry", "employee_count", "founded_year",
	"headquarters", "website", "email", "phone", "linkedin_url", "twitter_url",
	"products", "services", "raw_markdown", "raw_metadata",
	"expires_at", "created_at", "updated_at",
}

var cacheColumns = []string{
	"id", "normalized_url", "result_id", "company_name", "industry",
	"is_valid", "expires_at", "created_at", "updated_at",
}

func resultUpsert(d db.Dialect) string {
	return db.MustUpsertSQL(d, db.UpsertConfig{
		Table:        "scrape_results",
		Columns:      resultColumns,
		ConflictKeys: []string{"normalized_url"},
		UpdateCols:   without(resultColumns, "id", "normalized_url", "created_at"),
		Returning:    []string{"id", "created_at"},
	})
}

func cacheUpsert(d db.Dialect) string {
	return db.MustUpsertSQL(d, db.UpsertConfig{
		Table:        "scrape_cache",
		Columns:      cacheColumns,
		ConflictKeys: []string{"normalized_url"},
		UpdateCols:   without(cacheColumns, "id", "normalized_url", "created_at"),
		Returning:    []string{"id", "created_at"},
	})
}

func without(cols []string, drop ...string) []string {
	skip := make(map[string]bool, len(drop))
	for _, d := range drop {
		skip[d] = true
	}
	out := make([]string, 0, len(cols))
	for _, c := range cols {
		if !skip[c] {
			out = append(out, c)
		}
	}
	return out
}

// scannable is satisfied by pgx.Row, pgx.Rows, *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// marshalList encodes a string list as JSON, keeping nil as NULL.
func marshalList(items []string) ([]byte, error) {
	if items == nil {
		return nil, nil
	}
	b, err := json.Marshal(items)
	return b, eris.Wrap(err, "store: marshal list")
}

func unmarshalList(b []byte) ([]string, error) {
	if len(b) == 0 || string(b) == "null" {
		return nil, nil
	}
	var items []string
	if err := json.Unmarshal(b, &items); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal list")
	}
	return items, nil
}

func marshalOptions(opts *model.ScrapeOptions) ([]byte, error) {
	if opts == nil {
		return nil, nil
	}
	b, err := json.Marshal(opts)
	return b, eris.Wrap(err, "store: marshal options")
}

func unmarshalOptions(b []byte) (*model.ScrapeOptions, error) {
	if len(b) == 0 || string(b) == "null" {
		return nil, nil
	}
	var opts model.ScrapeOptions
	if err := json.Unmarshal(b, &opts); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal options")
	}
	return &opts, nil
}

// rawJSON returns nil for empty metadata so it is stored as NULL.
func rawJSON(b json.RawMessage) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
