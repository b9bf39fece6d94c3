package firecrawl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Default base URL for the Firecrawl v1 API.
const defaultBaseURL = "https://api.firecrawl.dev/v1"

// MaxMapLimit is the largest link count the map endpoint accepts.
const MaxMapLimit = 500

// Client defines the Firecrawl API operations used by the service. The API
// key is supplied per call because each organization may bring its own.
type Client interface {
	Scrape(ctx context.Context, apiKey string, req ScrapeRequest) (*ScrapeResponse, error)
	Map(ctx context.Context, apiKey string, req MapRequest) (*MapResponse, error)
}

// ScrapeRequest is the body for POST /scrape.
type ScrapeRequest struct {
	URL             string   `json:"url"`
	Formats         []string `json:"formats,omitempty"`
	OnlyMainContent *bool    `json:"onlyMainContent,omitempty"`
	IncludeTags     []string `json:"includeTags,omitempty"`
	ExcludeTags     []string `json:"excludeTags,omitempty"`
	WaitFor         int      `json:"waitFor,omitempty"`
}

// ScrapeResponse is the response from POST /scrape.
type ScrapeResponse struct {
	Success bool     `json:"success"`
	Data    PageData `json:"data"`
	Error   string   `json:"error,omitempty"`
}

// PageData is the scraped content of a single page.
type PageData struct {
	Markdown string   `json:"markdown"`
	HTML     string   `json:"html,omitempty"`
	Metadata Metadata `json:"metadata"`
}

// Metadata holds the page metadata Firecrawl extracts. Raw keeps the
// complete object as received, including keys not mapped to fields.
type Metadata struct {
	Title         string          `json:"title,omitempty"`
	Description   string          `json:"description,omitempty"`
	Language      string          `json:"language,omitempty"`
	OGTitle       string          `json:"ogTitle,omitempty"`
	OGDescription string          `json:"ogDescription,omitempty"`
	OGImage       string          `json:"ogImage,omitempty"`
	SourceURL     string          `json:"sourceURL,omitempty"`
	StatusCode    int             `json:"statusCode,omitempty"`
	Raw           json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes the known fields and retains the raw object.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}

	type plain Metadata
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		// Some sites yield arrays for og:* tags; fall back to a loose decode
		// that takes the first string value of each known key.
		var loose map[string]any
		if lerr := json.Unmarshal(data, &loose); lerr != nil {
			return err
		}
		p = plain{
			Title:         firstString(loose["title"]),
			Description:   firstString(loose["description"]),
			Language:      firstString(loose["language"]),
			OGTitle:       firstString(loose["ogTitle"]),
			OGDescription: firstString(loose["ogDescription"]),
			OGImage:       firstString(loose["ogImage"]),
			SourceURL:     firstString(loose["sourceURL"]),
		}
		if code, ok := loose["statusCode"].(float64); ok {
			p.StatusCode = int(code)
		}
	}
	*m = Metadata(p)
	m.Raw = append(json.RawMessage(nil), data...)
	return nil
}

func firstString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok {
				return s
			}
		}
	}
	return ""
}

// MapRequest is the body for POST /map.
type MapRequest struct {
	URL               string `json:"url"`
	Search            string `json:"search,omitempty"`
	IgnoreSitemap     *bool  `json:"ignoreSitemap,omitempty"`
	SitemapOnly       *bool  `json:"sitemapOnly,omitempty"`
	IncludeSubdomains bool   `json:"includeSubdomains"`
	Limit             int    `json:"limit,omitempty"`
}

// MapResponse is the response from POST /map.
type MapResponse struct {
	Success bool     `json:"success"`
	Links   []string `json:"links"`
	Error   string   `json:"error,omitempty"`
}

// APIError is returned when Firecrawl responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("firecrawl: HTTP %d: %s", e.StatusCode, e.Body)
}

// Message returns the provider's error text when the body is a Firecrawl
// error document, and the raw body otherwise.
func (e *APIError) Message() string {
	var doc struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal([]byte(e.Body), &doc); err == nil && doc.Error != "" {
		return doc.Error
	}
	return e.Body
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the default base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps outbound requests across all API keys.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *httpClient) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// httpClient implements Client using net/http.
type httpClient struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a new Firecrawl client shared by all requests.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Scrape(ctx context.Context, apiKey string, req ScrapeRequest) (*ScrapeResponse, error) {
	var resp ScrapeResponse
	if err := c.post(ctx, apiKey, "/scrape", req, &resp); err != nil {
		return nil, eris.Wrap(err, "firecrawl: scrape")
	}
	return &resp, nil
}

func (c *httpClient) Map(ctx context.Context, apiKey string, req MapRequest) (*MapResponse, error) {
	var resp MapResponse
	if err := c.post(ctx, apiKey, "/map", req, &resp); err != nil {
		return nil, eris.Wrap(err, "firecrawl: map")
	}
	return &resp, nil
}

func (c *httpClient) post(ctx context.Context, apiKey, path string, body any, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return eris.Wrap(err, "marshal request")
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "rate limit wait")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	return c.do(req, out)
}

func (c *httpClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "execute request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{
			StatusCode: resp.StatusCode,
			Body:       string(data),
		}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrap(err, "decode response")
	}

	return nil
}
