package scraping

import (
	"context"

	"github.com/sells-group/scraping-service/internal/urlnorm"
)

// GetResult returns a stored result by id.
func (s *Service) GetResult(ctx context.Context, id string) (*ScrapeOutput, error) {
	if id == "" {
		return nil, validationError("id is required", nil)
	}
	r, err := s.store.GetResult(ctx, id)
	if err != nil {
		return nil, internalError("failed to load result", err)
	}
	if r == nil {
		return nil, &Error{Kind: KindNotFound, Message: "Result not found"}
	}
	return &ScrapeOutput{Result: r}, nil
}

// GetByURL returns the result the cache points at for rawURL, even when the
// entry has expired. Invalidated entries are not returned.
func (s *Service) GetByURL(ctx context.Context, rawURL string) (*ByURLOutput, error) {
	if rawURL == "" {
		return nil, validationError("url query param is required", nil)
	}
	entry, err := s.store.GetCacheEntry(ctx, urlnorm.Normalize(rawURL))
	if err != nil {
		return nil, internalError("failed to load cache entry", err)
	}
	if entry == nil || !entry.IsValid {
		return nil, &Error{Kind: KindNotFound, Message: "No cached result found"}
	}

	r, err := s.store.GetResult(ctx, entry.ResultID)
	if err != nil {
		return nil, internalError("failed to load result", err)
	}
	if r == nil {
		return nil, &Error{Kind: KindNotFound, Message: "Result not found"}
	}
	return &ByURLOutput{Expired: !entry.ExpiresAt.After(s.now()), Result: r}, nil
}

// Invalidate marks the cache entry for rawURL invalid so the next scrape
// extracts again. It reports whether an entry existed.
func (s *Service) Invalidate(ctx context.Context, rawURL string) (bool, error) {
	if rawURL == "" {
		return false, validationError("url is required", nil)
	}
	ok, err := s.store.InvalidateCache(ctx, urlnorm.Normalize(rawURL))
	if err != nil {
		return false, internalError("failed to invalidate cache entry", err)
	}
	return ok, nil
}
