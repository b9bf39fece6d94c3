// Package runs is a client for the usage-accounting runs service.
package runs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
)

const (
	defaultBaseURL = "https://runs.mcpfactory.org"
	defaultAppID   = "mcpfactory"
	serviceName    = "scraping-service"
)

// Run status values accepted by UpdateRunStatus.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// CreateRunParams describes a new run.
type CreateRunParams struct {
	OrgID        string
	AppID        string
	TaskName     string
	UserID       string
	BrandID      string
	CampaignID   string
	ParentRunID  string
	WorkflowName string
}

// Run is a run record as returned by the service.
type Run struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organizationId"`
	UserID         *string    `json:"userId"`
	AppID          string     `json:"appId"`
	BrandID        *string    `json:"brandId"`
	CampaignID     *string    `json:"campaignId"`
	WorkflowName   *string    `json:"workflowName"`
	ServiceName    string     `json:"serviceName"`
	TaskName       string     `json:"taskName"`
	Status         string     `json:"status"`
	ParentRunID    *string    `json:"parentRunId"`
	StartedAt      time.Time  `json:"startedAt"`
	CompletedAt    *time.Time `json:"completedAt"`
}

// CostItem is one consumed cost line.
type CostItem struct {
	CostName string `json:"costName"`
	Quantity int    `json:"quantity"`
}

// Cost is a recorded cost line with the service's pricing applied.
type Cost struct {
	ID                  string `json:"id"`
	RunID               string `json:"runId"`
	CostName            string `json:"costName"`
	Quantity            string `json:"quantity"`
	UnitCostInUSDCents  string `json:"unitCostInUsdCents"`
	TotalCostInUSDCents string `json:"totalCostInUsdCents"`
}

// Client defines the runs service operations.
type Client interface {
	CreateRun(ctx context.Context, params CreateRunParams) (*Run, error)
	UpdateRunStatus(ctx context.Context, runID, status string) (*Run, error)
	AddCosts(ctx context.Context, runID string, items []CostItem) ([]Cost, error)
}

// APIError is returned when the runs service responds with a non-2xx status.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("runs: %s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// HTTPStatus returns the response status code.
func (e *APIError) HTTPStatus() int {
	return e.StatusCode
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the default base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		if u != "" {
			c.baseURL = u
		}
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithDefaultAppID sets the app id used when CreateRunParams.AppID is empty.
func WithDefaultAppID(appID string) Option {
	return func(c *httpClient) {
		if appID != "" {
			c.appID = appID
		}
	}
}

type httpClient struct {
	baseURL string
	apiKey  string
	appID   string
	http    *http.Client
}

// NewClient creates a runs service client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		baseURL: defaultBaseURL,
		apiKey:  apiKey,
		appID:   defaultAppID,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type createRunBody struct {
	OrgID        string `json:"orgId"`
	AppID        string `json:"appId"`
	ServiceName  string `json:"serviceName"`
	TaskName     string `json:"taskName"`
	UserID       string `json:"userId,omitempty"`
	BrandID      string `json:"brandId,omitempty"`
	CampaignID   string `json:"campaignId,omitempty"`
	WorkflowName string `json:"workflowName,omitempty"`
	ParentRunID  string `json:"parentRunId,omitempty"`
}

func (c *httpClient) CreateRun(ctx context.Context, p CreateRunParams) (*Run, error) {
	appID := p.AppID
	if appID == "" {
		appID = c.appID
	}
	body := createRunBody{
		OrgID:        p.OrgID,
		AppID:        appID,
		ServiceName:  serviceName,
		TaskName:     p.TaskName,
		UserID:       p.UserID,
		BrandID:      p.BrandID,
		CampaignID:   p.CampaignID,
		WorkflowName: p.WorkflowName,
		ParentRunID:  p.ParentRunID,
	}

	var run Run
	if err := c.call(ctx, http.MethodPost, "/v1/runs", body, &run); err != nil {
		return nil, eris.Wrap(err, "runs: create run")
	}
	return &run, nil
}

func (c *httpClient) UpdateRunStatus(ctx context.Context, runID, status string) (*Run, error) {
	var run Run
	path := "/v1/runs/" + url.PathEscape(runID)
	if err := c.call(ctx, http.MethodPatch, path, map[string]string{"status": status}, &run); err != nil {
		return nil, eris.Wrapf(err, "runs: update run %s", runID)
	}
	return &run, nil
}

func (c *httpClient) AddCosts(ctx context.Context, runID string, items []CostItem) ([]Cost, error) {
	var resp struct {
		Costs []Cost `json:"costs"`
	}
	path := "/v1/runs/" + url.PathEscape(runID) + "/costs"
	if err := c.call(ctx, http.MethodPost, path, map[string]any{"items": items}, &resp); err != nil {
		return nil, eris.Wrapf(err, "runs: add costs to %s", runID)
	}
	return resp.Costs, nil
}

func (c *httpClient) call(ctx context.Context, method, path string, body, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return eris.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

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
		return &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: string(data)}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrap(err, "decode response")
	}
	return nil
}
