// Package scraping orchestrates cached page extraction and site mapping.
package scraping

import (
	"context"
	"errors"
	"time"

	"github.com/sells-group/scraping-service/internal/credential"
	"github.com/sells-group/scraping-service/internal/model"
	"github.com/sells-group/scraping-service/internal/store"
	"github.com/sells-group/scraping-service/internal/usage"
	"github.com/sells-group/scraping-service/pkg/firecrawl"
	"github.com/sells-group/scraping-service/pkg/runs"
)

// DefaultCacheTTL is how long a successful extraction is served from cache.
const DefaultCacheTTL = 7 * 24 * time.Hour

// Provider is the key-vault provider name for Firecrawl keys.
const Provider = "firecrawl"

// KeyResolver resolves a provider API key from a key source.
type KeyResolver interface {
	Resolve(ctx context.Context, provider string, source credential.Source, caller credential.Caller) (string, error)
}

// ScrapeOutput is the result of Service.Scrape.
type ScrapeOutput struct {
	Cached    bool                `json:"cached"`
	RequestID string              `json:"requestId,omitempty"`
	RunID     string              `json:"runId,omitempty"`
	Result    *model.ScrapeResult `json:"result"`
}

// MapOutput is the result of Service.Map.
type MapOutput struct {
	URLs  []string `json:"urls"`
	Count int      `json:"count"`
	RunID string   `json:"runId,omitempty"`
}

// ByURLOutput is the result of Service.GetByURL.
type ByURLOutput struct {
	Expired bool                `json:"expired"`
	Result  *model.ScrapeResult `json:"result"`
}

// Service coordinates the cache store, the key vault, Firecrawl and run
// reporting.
type Service struct {
	store     store.Store
	firecrawl firecrawl.Client
	keys      KeyResolver
	usage     *usage.Tracker
	ttl       time.Duration
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithCacheTTL overrides DefaultCacheTTL.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a Service. A nil tracker disables run reporting.
func NewService(st store.Store, fc firecrawl.Client, keys KeyResolver, tracker *usage.Tracker, opts ...Option) *Service {
	s := &Service{
		store:     st,
		firecrawl: fc,
		keys:      keys,
		usage:     tracker,
		ttl:       DefaultCacheTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CacheTTL returns the TTL applied to new cache entries.
func (s *Service) CacheTTL() time.Duration {
	return s.ttl
}

func (s *Service) resolveKey(ctx context.Context, src credential.Source, caller credential.Caller) (string, error) {
	key, err := s.keys.Resolve(ctx, Provider, src, caller)
	if err == nil {
		return key, nil
	}
	switch {
	case errors.Is(err, credential.ErrMissingParameter):
		return "", validationError(missingParameterMessage(src), err)
	case errors.Is(err, credential.ErrNotConfigured):
		return "", &Error{Kind: KindCredentialNotConfigured, Message: notConfiguredMessage(src), Err: err}
	default:
		return "", &Error{Kind: KindCredentialUnavailable, Message: "Failed to retrieve Firecrawl API key", Err: err}
	}
}

func notConfiguredMessage(src credential.Source) string {
	switch src.(type) {
	case credential.App:
		return "Firecrawl API key not configured for this app"
	case credential.Platform:
		return "Platform Firecrawl API key not configured"
	default:
		return "Firecrawl API key not configured for this organization"
	}
}

func missingParameterMessage(src credential.Source) string {
	switch src.(type) {
	case credential.App:
		return "appId is required when keySource is app"
	default:
		return "orgId is required when keySource is byok"
	}
}

func (s *Service) openRun(ctx context.Context, task, orgID string, rc RunContext) string {
	if orgID == "" {
		return ""
	}
	return s.usage.Open(ctx, runs.CreateRunParams{
		OrgID:        orgID,
		AppID:        rc.AppID,
		TaskName:     task,
		UserID:       rc.UserID,
		BrandID:      rc.BrandID,
		CampaignID:   rc.CampaignID,
		ParentRunID:  rc.ParentRunID,
		WorkflowName: rc.WorkflowName,
	})
}
