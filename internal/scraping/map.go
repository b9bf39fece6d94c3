package scraping

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/scraping-service/internal/cost"
	"github.com/sells-group/scraping-service/internal/credential"
	"github.com/sells-group/scraping-service/internal/metrics"
	"github.com/sells-group/scraping-service/pkg/firecrawl"
)

// Map discovers the URLs of a site. Nothing is cached or stored.
func (s *Service) Map(ctx context.Context, in MapInput) (*MapOutput, error) {
	src, err := in.Validate()
	if err != nil {
		metrics.ObserveOutcome("map", "rejected")
		return nil, err
	}

	apiKey, err := s.resolveKey(ctx, src, credential.Caller{Method: "POST", Path: "/map"})
	if err != nil {
		metrics.ObserveOutcome("map", "rejected")
		return nil, err
	}

	runID := s.openRun(ctx, "map", in.OrgID, in.RunContext)
	ctx = context.WithoutCancel(ctx)

	req := firecrawl.MapRequest{
		URL:               in.URL,
		Search:            in.Search,
		IgnoreSitemap:     in.IgnoreSitemap,
		SitemapOnly:       in.SitemapOnly,
		IncludeSubdomains: in.IncludeSubdomains,
		Limit:             in.EffectiveLimit(),
	}

	start := time.Now()
	resp, err := s.firecrawl.Map(ctx, apiKey, req)
	ok := err == nil && resp.Success
	metrics.ObserveExtraction("map", ok, time.Since(start))

	if !ok {
		msg := "Failed to map URL"
		switch {
		case err != nil:
			msg = providerMessage(err, "Firecrawl map request failed")
		case resp.Error != "":
			msg = resp.Error
		}
		zap.L().Warn("scraping: map failed",
			zap.String("url", in.URL),
			zap.String("run_id", runID),
			zap.String("error", msg),
		)
		s.usage.Fail(ctx, runID)
		metrics.ObserveOutcome("map", "failed")
		return nil, &Error{Kind: KindExtraction, Message: msg, RunID: runID, Err: err}
	}

	urls := resp.Links
	if urls == nil {
		urls = []string{}
	}

	s.usage.Complete(ctx, runID, cost.Map())
	metrics.ObserveOutcome("map", "extracted")

	return &MapOutput{URLs: urls, Count: len(urls), RunID: runID}, nil
}

// providerMessage returns the Firecrawl error text when err carries one.
func providerMessage(err error, fallback string) string {
	var apiErr *firecrawl.APIError
	if errors.As(err, &apiErr) {
		if msg := apiErr.Message(); msg != "" {
			return msg
		}
	}
	if err != nil && err.Error() != "" {
		return err.Error()
	}
	return fallback
}
