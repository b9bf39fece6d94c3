// Package usage reports runs and cost line items to the runs service. Every
// call is best-effort: failures are logged and never reach the caller.
package usage

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/scraping-service/internal/background"
	"github.com/sells-group/scraping-service/internal/cost"
	"github.com/sells-group/scraping-service/internal/metrics"
	"github.com/sells-group/scraping-service/internal/resilience"
	"github.com/sells-group/scraping-service/pkg/runs"
)

// Tracker opens and closes runs for scrape and map operations.
type Tracker struct {
	client runs.Client
	policy *resilience.Policy
	runner *background.Runner
	calc   *cost.Calculator
}

// NewTracker creates a Tracker. A nil client disables reporting; a nil
// policy makes each call a single attempt; a nil calculator skips the cost
// estimate metric.
func NewTracker(client runs.Client, policy *resilience.Policy, runner *background.Runner, calc *cost.Calculator) *Tracker {
	if runner == nil {
		runner = background.NewRunner(background.DefaultTimeout)
	}
	return &Tracker{client: client, policy: policy, runner: runner, calc: calc}
}

// Open creates a run and returns its id, or "" when the run could not be
// created. It runs on the request path, so it does not retry.
func (t *Tracker) Open(ctx context.Context, params runs.CreateRunParams) string {
	if t == nil || t.client == nil {
		return ""
	}

	create := func(ctx context.Context) (*runs.Run, error) {
		return t.client.CreateRun(ctx, params)
	}

	var (
		run *runs.Run
		err error
	)
	if t.policy != nil && t.policy.Breaker != nil {
		run, err = resilience.ExecuteVal(ctx, t.policy.Breaker, create)
	} else {
		run, err = create(ctx)
	}
	if err != nil {
		metrics.ObserveTelemetryFailure("create_run")
		zap.L().Warn("usage: create run failed",
			zap.String("task", params.TaskName),
			zap.String("org_id", params.OrgID),
			zap.Error(err),
		)
		return ""
	}
	return run.ID
}

// Complete reports items against the run and marks it completed. It returns
// immediately; the work runs detached from ctx.
func (t *Tracker) Complete(ctx context.Context, runID string, items []cost.LineItem) {
	if t == nil || t.client == nil || runID == "" {
		return
	}

	t.recordEstimate(items)

	t.runner.Go(ctx, "complete_run", func(ctx context.Context) error {
		var g errgroup.Group
		if len(items) > 0 {
			g.Go(func() error {
				return t.addCosts(ctx, runID, items)
			})
		}
		g.Go(func() error {
			return t.updateStatus(ctx, runID, runs.StatusCompleted)
		})
		return g.Wait()
	})
}

// Fail marks the run failed. It returns immediately; the work runs detached
// from ctx.
func (t *Tracker) Fail(ctx context.Context, runID string) {
	if t == nil || t.client == nil || runID == "" {
		return
	}

	t.runner.Go(ctx, "fail_run", func(ctx context.Context) error {
		return t.updateStatus(ctx, runID, runs.StatusFailed)
	})
}

func (t *Tracker) addCosts(ctx context.Context, runID string, items []cost.LineItem) error {
	lines := make([]runs.CostItem, 0, len(items))
	for _, it := range items {
		lines = append(lines, runs.CostItem{CostName: it.Name, Quantity: it.Quantity})
	}

	_, err := resilience.Call(ctx, t.policy, func(ctx context.Context) ([]runs.Cost, error) {
		return t.client.AddCosts(ctx, runID, lines)
	})
	if err != nil {
		metrics.ObserveTelemetryFailure("add_costs")
		return eris.Wrapf(err, "usage: add costs to run %s", runID)
	}
	return nil
}

func (t *Tracker) updateStatus(ctx context.Context, runID, status string) error {
	_, err := resilience.Call(ctx, t.policy, func(ctx context.Context) (*runs.Run, error) {
		return t.client.UpdateRunStatus(ctx, runID, status)
	})
	if err != nil {
		metrics.ObserveTelemetryFailure("update_run")
		return eris.Wrapf(err, "usage: mark run %s %s", runID, status)
	}
	return nil
}

func (t *Tracker) recordEstimate(items []cost.LineItem) {
	if t.calc == nil {
		return
	}
	for _, it := range items {
		metrics.ObserveCost(it.Name, t.calc.Estimate([]cost.LineItem{it}))
	}
}

// Wait drains detached reporting work.
func (t *Tracker) Wait(ctx context.Context) error {
	if t == nil {
		return nil
	}
	return t.runner.Wait(ctx)
}
