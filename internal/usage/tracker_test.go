package usage

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/scraping-service/internal/background"
	"github.com/sells-group/scraping-service/internal/cost"
	"github.com/sells-group/scraping-service/internal/resilience"
	"github.com/sells-group/scraping-service/pkg/runs"
)

type fakeRuns struct {
	mu        sync.Mutex
	createErr error
	costErrs  []error
	statusErr error

	created  []runs.CreateRunParams
	costs    map[string][]runs.CostItem
	statuses map[string][]string
	costCall int
}

func newFakeRuns() *fakeRuns {
	return &fakeRuns{
		costs:    make(map[string][]runs.CostItem),
		statuses: make(map[string][]string),
	}
}

func (f *fakeRuns) CreateRun(_ context.Context, p runs.CreateRunParams) (*runs.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, p)
	return &runs.Run{ID: "run-1", TaskName: p.TaskName}, nil
}

func (f *fakeRuns) UpdateRunStatus(_ context.Context, runID, status string) (*runs.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	f.statuses[runID] = append(f.statuses[runID], status)
	return &runs.Run{ID: runID, Status: status}, nil
}

func (f *fakeRuns) AddCosts(_ context.Context, runID string, items []runs.CostItem) ([]runs.Cost, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.costCall
	f.costCall++
	if idx < len(f.costErrs) && f.costErrs[idx] != nil {
		return nil, f.costErrs[idx]
	}
	f.costs[runID] = append(f.costs[runID], items...)
	return []runs.Cost{{RunID: runID}}, nil
}

func fastPolicy() *resilience.Policy {
	p := resilience.NewPolicy("runs-test", 3, 10, 30)
	p.Retry.InitialBackoff = time.Millisecond
	p.Retry.MaxBackoff = 2 * time.Millisecond
	return p
}

func newTestTracker(client runs.Client) *Tracker {
	return NewTracker(client, fastPolicy(), background.NewRunner(time.Second), cost.NewCalculator(cost.DefaultRates()))
}

func TestOpen(t *testing.T) {
	f := newFakeRuns()
	tr := newTestTracker(f)

	id := tr.Open(context.Background(), runs.CreateRunParams{OrgID: "org-1", TaskName: "scrape"})
	assert.Equal(t, "run-1", id)
	require.Len(t, f.created, 1)
	assert.Equal(t, "scrape", f.created[0].TaskName)
}

func TestOpen_FailureReturnsEmpty(t *testing.T) {
	f := newFakeRuns()
	f.createErr = errors.New("connection refused")
	tr := newTestTracker(f)

	assert.Empty(t, tr.Open(context.Background(), runs.CreateRunParams{OrgID: "org-1", TaskName: "scrape"}))
}

func TestOpen_NilClient(t *testing.T) {
	tr := NewTracker(nil, nil, nil, nil)
	assert.Empty(t, tr.Open(context.Background(), runs.CreateRunParams{OrgID: "org-1"}))
	tr.Complete(context.Background(), "run-1", cost.Scrape())
	tr.Fail(context.Background(), "run-1")
	require.NoError(t, tr.Wait(context.Background()))
}

func TestComplete_ReportsCostsAndStatus(t *testing.T) {
	f := newFakeRuns()
	tr := newTestTracker(f)

	ctx, cancel := context.WithCancel(context.Background())
	tr.Complete(ctx, "run-1", cost.Scrape())
	cancel()
	require.NoError(t, tr.Wait(context.Background()))

	assert.Equal(t, []runs.CostItem{{CostName: "firecrawl-scrape-credit", Quantity: 1}}, f.costs["run-1"])
	assert.Equal(t, []string{runs.StatusCompleted}, f.statuses["run-1"])
}

func TestComplete_RetriesTransientCostFailure(t *testing.T) {
	f := newFakeRuns()
	f.costErrs = []error{&runs.APIError{Method: http.MethodPost, Path: "/v1/runs/run-1/costs", StatusCode: 503}}
	tr := newTestTracker(f)

	tr.Complete(context.Background(), "run-1", cost.Map())
	require.NoError(t, tr.Wait(context.Background()))

	assert.Equal(t, 2, f.costCall)
	assert.Equal(t, []runs.CostItem{{CostName: "firecrawl-map-credit", Quantity: 1}}, f.costs["run-1"])
}

func TestComplete_NonTransientNotRetried(t *testing.T) {
	f := newFakeRuns()
	f.costErrs = []error{&runs.APIError{Method: http.MethodPost, Path: "/v1/runs/run-1/costs", StatusCode: 400}}
	tr := newTestTracker(f)

	tr.Complete(context.Background(), "run-1", cost.Scrape())
	require.NoError(t, tr.Wait(context.Background()))

	assert.Equal(t, 1, f.costCall)
	assert.Empty(t, f.costs["run-1"])
	assert.Equal(t, []string{runs.StatusCompleted}, f.statuses["run-1"])
}

func TestComplete_EmptyRunIDIsNoop(t *testing.T) {
	f := newFakeRuns()
	tr := newTestTracker(f)

	tr.Complete(context.Background(), "", cost.Scrape())
	tr.Fail(context.Background(), "")
	require.NoError(t, tr.Wait(context.Background()))

	assert.Zero(t, f.costCall)
	assert.Empty(t, f.statuses)
}

func TestFail(t *testing.T) {
	f := newFakeRuns()
	tr := newTestTracker(f)

	tr.Fail(context.Background(), "run-9")
	require.NoError(t, tr.Wait(context.Background()))

	assert.Equal(t, []string{runs.StatusFailed}, f.statuses["run-9"])
	assert.Zero(t, f.costCall)
}

func TestFail_ErrorSwallowed(t *testing.T) {
	f := newFakeRuns()
	f.statusErr = errors.New("boom")
	tr := newTestTracker(f)

	tr.Fail(context.Background(), "run-9")
	require.NoError(t, tr.Wait(context.Background()))
	assert.Empty(t, f.statuses)
}
