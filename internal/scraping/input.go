package scraping

import (
	"net/url"
	"slices"

	"github.com/google/uuid"

	"github.com/sells-group/scraping-service/internal/credential"
	"github.com/sells-group/scraping-service/internal/model"
	"github.com/sells-group/scraping-service/pkg/firecrawl"
)

// DefaultMapLimit is used when a map request does not set a limit.
const DefaultMapLimit = 100

var allowedFormats = []string{"markdown", "html", "rawHtml", "links", "screenshot"}

// RunContext carries the optional fields forwarded to the runs service.
type RunContext struct {
	AppID        string `json:"appId,omitempty"`
	BrandID      string `json:"brandId,omitempty"`
	CampaignID   string `json:"campaignId,omitempty"`
	UserID       string `json:"userId,omitempty"`
	ParentRunID  string `json:"parentRunId,omitempty"`
	WorkflowName string `json:"workflowName,omitempty"`
}

// ScrapeInput is a request to extract one page.
type ScrapeInput struct {
	URL           string               `json:"url"`
	OrgID         string               `json:"orgId"`
	SourceService string               `json:"sourceService,omitempty"`
	SourceRefID   string               `json:"sourceRefId,omitempty"`
	SkipCache     bool                 `json:"skipCache,omitempty"`
	Options       *model.ScrapeOptions `json:"options,omitempty"`
	KeySource     string               `json:"keySource,omitempty"`
	RunContext
}

// Validate checks the input and returns its key source.
func (in ScrapeInput) Validate() (credential.Source, error) {
	if err := validateURL(in.URL); err != nil {
		return nil, err
	}
	if in.OrgID == "" {
		return nil, validationError("orgId is required", nil)
	}
	if in.Options != nil {
		for _, f := range in.Options.Formats {
			if !slices.Contains(allowedFormats, f) {
				return nil, validationError("unsupported format "+f, nil)
			}
		}
		if in.Options.WaitFor < 0 {
			return nil, validationError("options.waitFor must not be negative", nil)
		}
	}
	if err := in.RunContext.validate(); err != nil {
		return nil, err
	}
	return parseSource(in.KeySource, in.OrgID, in.AppID)
}

// MapInput is a request to discover the URLs of a site.
type MapInput struct {
	URL               string `json:"url"`
	OrgID             string `json:"orgId,omitempty"`
	Search            string `json:"search,omitempty"`
	Limit             int    `json:"limit,omitempty"`
	IgnoreSitemap     *bool  `json:"ignoreSitemap,omitempty"`
	SitemapOnly       *bool  `json:"sitemapOnly,omitempty"`
	IncludeSubdomains bool   `json:"includeSubdomains,omitempty"`
	KeySource         string `json:"keySource,omitempty"`
	RunContext
}

// Validate checks the input and returns its key source.
func (in MapInput) Validate() (credential.Source, error) {
	if err := validateURL(in.URL); err != nil {
		return nil, err
	}
	if err := in.RunContext.validate(); err != nil {
		return nil, err
	}
	return parseSource(in.KeySource, in.OrgID, in.AppID)
}

// EffectiveLimit returns the limit sent to the provider: 0 means the
// default, and anything else is clamped to [1, firecrawl.MaxMapLimit].
func (in MapInput) EffectiveLimit() int {
	switch {
	case in.Limit == 0:
		return DefaultMapLimit
	case in.Limit < 1:
		return 1
	case in.Limit > firecrawl.MaxMapLimit:
		return firecrawl.MaxMapLimit
	default:
		return in.Limit
	}
}

func (rc RunContext) validate() error {
	if rc.ParentRunID == "" {
		return nil
	}
	if _, err := uuid.Parse(rc.ParentRunID); err != nil {
		return validationError("parentRunId must be a UUID", err)
	}
	return nil
}

func validateURL(raw string) error {
	if raw == "" {
		return validationError("url is required", nil)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return validationError("url is invalid", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return validationError("url must be an absolute http(s) URL", nil)
	}
	return nil
}

func parseSource(kind, orgID, appID string) (credential.Source, error) {
	src, err := credential.ParseSource(kind, orgID, appID)
	if err != nil {
		return nil, validationError("keySource must be one of byok, app, platform", err)
	}
	return src, nil
}
