// Package keyservice is a client for the internal key vault that stores
// provider API keys per organization, per application, and platform-wide.
package keyservice

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
)

// Scope selects which key collection a lookup targets.
type Scope string

const (
	ScopeOrg      Scope = "org"
	ScopeApp      Scope = "app"
	ScopePlatform Scope = "platform"
)

// Lookup identifies the key to decrypt.
type Lookup struct {
	Provider string
	Scope    Scope
	OrgID    string // required for ScopeOrg
	AppID    string // required for ScopeApp
}

// Caller identifies the inbound operation that triggered a lookup. It is
// forwarded to the vault for its audit log.
type Caller struct {
	Method string
	Path   string
}

// DecryptedKey is the vault response body.
type DecryptedKey struct {
	Provider string `json:"provider"`
	Key      string `json:"key"`
}

// Client defines the vault operations.
type Client interface {
	Decrypt(ctx context.Context, lookup Lookup, caller Caller) (*DecryptedKey, error)
}

// APIError is returned when the vault responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Path       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("keyservice: GET %s: HTTP %d: %s", e.Path, e.StatusCode, e.Body)
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithServiceName overrides the x-caller-service header value.
func WithServiceName(name string) Option {
	return func(c *httpClient) {
		c.serviceName = name
	}
}

type httpClient struct {
	baseURL     string
	apiKey      string
	serviceName string
	http        *http.Client
}

// NewClient creates a vault client authenticating with apiKey.
func NewClient(baseURL, apiKey string, opts ...Option) Client {
	c := &httpClient{
		baseURL:     baseURL,
		apiKey:      apiKey,
		serviceName: "scraping-service",
		http:        &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// endpoint builds the decrypt path and query for a lookup.
func endpoint(l Lookup) (string, error) {
	provider := url.PathEscape(l.Provider)
	switch l.Scope {
	case ScopeOrg:
		return fmt.Sprintf("/internal/keys/%s/decrypt?orgId=%s", provider, url.QueryEscape(l.OrgID)), nil
	case ScopeApp:
		return fmt.Sprintf("/internal/app-keys/%s/decrypt?appId=%s", provider, url.QueryEscape(l.AppID)), nil
	case ScopePlatform:
		return fmt.Sprintf("/internal/platform-keys/%s/decrypt", provider), nil
	default:
		return "", eris.Errorf("keyservice: unknown scope %q", l.Scope)
	}
}

func (c *httpClient) Decrypt(ctx context.Context, lookup Lookup, caller Caller) (*DecryptedKey, error) {
	if c.baseURL == "" {
		return nil, eris.New("keyservice: base url not configured")
	}
	path, err := endpoint(lookup)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, eris.Wrap(err, "keyservice: create request")
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("x-caller-service", c.serviceName)
	req.Header.Set("x-caller-method", caller.Method)
	req.Header.Set("x-caller-path", caller.Path)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "keyservice: execute request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "keyservice: read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Path: path, Body: string(data)}
	}

	var key DecryptedKey
	if err := json.Unmarshal(data, &key); err != nil {
		return nil, eris.Wrap(err, "keyservice: decode response")
	}
	if key.Key == "" {
		return nil, eris.Errorf("keyservice: empty key for provider %s", lookup.Provider)
	}
	return &key, nil
}
