package runs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc, opts ...Option) Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("runs-key", append([]Option{WithBaseURL(srv.URL)}, opts...)...)
}

func TestCreateRun(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/runs", r.URL.Path)
		assert.Equal(t, "runs-key", r.Header.Get("X-API-Key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "org_1", body["orgId"])
		assert.Equal(t, "mcpfactory", body["appId"])
		assert.Equal(t, "scraping-service", body["serviceName"])
		assert.Equal(t, "scrape", body["taskName"])
		assert.Equal(t, "brand-1", body["brandId"])
		_, hasUser := body["userId"]
		assert.False(t, hasUser, "empty optional fields are omitted")

		w.Write([]byte(`{"id":"run-123","organizationId":"org_1","appId":"mcpfactory","serviceName":"scraping-service","taskName":"scrape","status":"running","startedAt":"2026-03-01T12:00:00Z"}`))
	})

	run, err := c.CreateRun(context.Background(), CreateRunParams{OrgID: "org_1", TaskName: "scrape", BrandID: "brand-1"})
	require.NoError(t, err)
	assert.Equal(t, "run-123", run.ID)
	assert.Equal(t, "running", run.Status)
	assert.Nil(t, run.CompletedAt)
}

func TestCreateRun_ExplicitAppID(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "other-app", body["appId"])
		assert.Equal(t, "parent-1", body["parentRunId"])
		w.Write([]byte(`{"id":"run-1"}`))
	}, WithDefaultAppID("ignored"))

	_, err := c.CreateRun(context.Background(), CreateRunParams{OrgID: "o", AppID: "other-app", TaskName: "map", ParentRunID: "parent-1"})
	require.NoError(t, err)
}

func TestUpdateRunStatus(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/v1/runs/run-123", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "completed", body["status"])
		w.Write([]byte(`{"id":"run-123","status":"completed"}`))
	})

	run, err := c.UpdateRunStatus(context.Background(), "run-123", StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, "completed", run.Status)
}

func TestAddCosts(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/runs/run-123/costs", r.URL.Path)
		var body struct {
			Items []CostItem `json:"items"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []CostItem{{CostName: "firecrawl-scrape-credit", Quantity: 1}}, body.Items)
		w.Write([]byte(`{"costs":[{"id":"c1","runId":"run-123","costName":"firecrawl-scrape-credit","quantity":"1","unitCostInUsdCents":"0.63","totalCostInUsdCents":"0.63"}]}`))
	})

	costs, err := c.AddCosts(context.Background(), "run-123", []CostItem{{CostName: "firecrawl-scrape-credit", Quantity: 1}})
	require.NoError(t, err)
	require.Len(t, costs, 1)
	assert.Equal(t, "0.63", costs[0].TotalCostInUSDCents)
}

func TestAPIError(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("maintenance"))
	})

	_, err := c.UpdateRunStatus(context.Background(), "run-1", StatusFailed)
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 503, apiErr.HTTPStatus())
	assert.Equal(t, http.MethodPatch, apiErr.Method)
	assert.Contains(t, err.Error(), "maintenance")
}

func TestDecodeError(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	})

	_, err := c.CreateRun(context.Background(), CreateRunParams{OrgID: "o", TaskName: "scrape"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode response")
}
