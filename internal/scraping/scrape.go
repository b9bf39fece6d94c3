package scraping

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/scraping-service/internal/cost"
	"github.com/sells-group/scraping-service/internal/credential"
	"github.com/sells-group/scraping-service/internal/metrics"
	"github.com/sells-group/scraping-service/internal/model"
	"github.com/sells-group/scraping-service/internal/urlnorm"
	"github.com/sells-group/scraping-service/pkg/firecrawl"
)

const unknownSourceService = "unknown"

// Scrape returns the cached result for the URL when one is fresh, and
// otherwise extracts the page, stores it and returns it.
func (s *Service) Scrape(ctx context.Context, in ScrapeInput) (*ScrapeOutput, error) {
	src, err := in.Validate()
	if err != nil {
		metrics.ObserveOutcome("scrape", "rejected")
		return nil, err
	}

	key := urlnorm.Normalize(in.URL)
	log := zap.L().With(zap.String("url", in.URL), zap.String("normalized_url", key))

	if in.SkipCache {
		metrics.ObserveCacheLookup("bypass")
	} else {
		now := s.now()
		hit, err := s.store.LookupCache(ctx, key, now)
		if err != nil {
			metrics.ObserveOutcome("scrape", "failed")
			return nil, internalError("cache lookup failed", err)
		}
		if hit != nil && hit.Entry.Fresh(now) {
			metrics.ObserveCacheLookup("hit")
			metrics.ObserveOutcome("scrape", "cache_hit")
			log.Debug("scraping: cache hit", zap.String("result_id", hit.Result.ID))
			result := hit.Result
			return &ScrapeOutput{Cached: true, Result: &result}, nil
		}
		metrics.ObserveCacheLookup("miss")
	}

	apiKey, err := s.resolveKey(ctx, src, credential.Caller{Method: "POST", Path: "/scrape"})
	if err != nil {
		metrics.ObserveOutcome("scrape", "rejected")
		return nil, err
	}

	runID := s.openRun(ctx, "scrape", in.OrgID, in.RunContext)

	// From here on the request row must reach a terminal status.
	ctx = context.WithoutCancel(ctx)

	sourceService := in.SourceService
	if sourceService == "" {
		sourceService = unknownSourceService
	}
	req := &model.ScrapeRequest{
		SourceService: sourceService,
		OrgID:         in.OrgID,
		SourceRefID:   in.SourceRefID,
		RunID:         runID,
		URL:           in.URL,
		Options:       in.Options,
		Status:        model.RequestStatusProcessing,
	}
	if err := s.store.CreateRequest(ctx, req); err != nil {
		s.usage.Fail(ctx, runID)
		metrics.ObserveOutcome("scrape", "failed")
		return nil, &Error{Kind: KindInternal, Message: "failed to record scrape request", RunID: runID, Err: err}
	}
	log = log.With(zap.String("request_id", req.ID), zap.String("run_id", runID))

	page, msg := s.extract(ctx, apiKey, in)
	if page == nil {
		log.Warn("scraping: extraction failed", zap.String("error", msg))
		if ferr := s.store.FailRequest(ctx, req.ID, msg, s.now()); ferr != nil {
			log.Error("scraping: mark request failed", zap.Error(ferr))
		}
		s.usage.Fail(ctx, runID)
		metrics.ObserveOutcome("scrape", "failed")
		return nil, &Error{Kind: KindExtraction, Message: msg, RequestID: req.ID, RunID: runID}
	}

	if bt := DetectBlock(page); bt != BlockNone {
		metrics.ObserveBlockedPage(string(bt))
		log.Warn("scraping: page looks blocked", zap.String("block_type", string(bt)))
	}

	saved, err := s.store.UpsertResult(ctx, buildResult(in.URL, key, req.ID, page), s.ttl, s.now())
	if err == nil {
		err = s.store.CompleteRequest(ctx, req.ID, s.now())
	}
	if err != nil {
		log.Error("scraping: persist result", zap.Error(err))
		if ferr := s.store.FailRequest(ctx, req.ID, err.Error(), s.now()); ferr != nil {
			log.Error("scraping: mark request failed", zap.Error(ferr))
		}
		s.usage.Fail(ctx, runID)
		metrics.ObserveOutcome("scrape", "failed")
		return nil, &Error{Kind: KindInternal, Message: "failed to store scrape result", RequestID: req.ID, RunID: runID, Err: err}
	}

	s.usage.Complete(ctx, runID, cost.Scrape())
	metrics.ObserveOutcome("scrape", "extracted")
	log.Info("scraping: page extracted", zap.String("result_id", saved.ID))

	return &ScrapeOutput{RequestID: req.ID, RunID: runID, Result: saved}, nil
}

// extract calls Firecrawl. It returns the page on success, or nil and the
// provider's error message.
func (s *Service) extract(ctx context.Context, apiKey string, in ScrapeInput) (*firecrawl.PageData, string) {
	req := firecrawl.ScrapeRequest{
		URL:     in.URL,
		Formats: []string{"markdown"},
	}
	onlyMain := true
	req.OnlyMainContent = &onlyMain
	if o := in.Options; o != nil {
		if len(o.Formats) > 0 {
			req.Formats = o.Formats
		}
		if o.OnlyMainContent != nil {
			req.OnlyMainContent = o.OnlyMainContent
		}
		req.IncludeTags = o.IncludeTags
		req.ExcludeTags = o.ExcludeTags
		req.WaitFor = o.WaitFor
	}

	start := time.Now()
	resp, err := s.firecrawl.Scrape(ctx, apiKey, req)
	ok := err == nil && resp.Success
	metrics.ObserveExtraction("scrape", ok, time.Since(start))

	switch {
	case err != nil:
		return nil, providerMessage(err, "Firecrawl request failed")
	case !resp.Success:
		if resp.Error != "" {
			return nil, resp.Error
		}
		return nil, "Scrape failed"
	}
	return &resp.Data, ""
}

// buildResult derives the stored summary from page metadata.
func buildResult(rawURL, key, requestID string, page *firecrawl.PageData) *model.ScrapeResult {
	md := page.Metadata
	website := rawURL
	r := &model.ScrapeResult{
		RequestID:     &requestID,
		URL:           rawURL,
		NormalizedURL: key,
		CompanyName:   firstNonEmpty(md.OGTitle, md.Title),
		Description:   firstNonEmpty(md.OGDescription, md.Description),
		Website:       &website,
		RawMetadata:   md.Raw,
	}
	if page.Markdown != "" {
		markdown := page.Markdown
		r.RawMarkdown = &markdown
	}
	return r
}

func firstNonEmpty(vals ...string) *string {
	for _, v := range vals {
		if v != "" {
			return &v
		}
	}
	return nil
}
