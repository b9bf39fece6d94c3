// Package background runs fire-and-forget work that must outlive the
// request that started it.
package background

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/scraping-service/internal/metrics"
)

// DefaultTimeout bounds a detached task when the runner has none configured.
const DefaultTimeout = 30 * time.Second

// Runner starts detached tasks and tracks them so shutdown can drain them.
type Runner struct {
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewRunner creates a Runner whose tasks each get the given timeout.
func NewRunner(timeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Runner{timeout: timeout}
}

// Go runs fn on its own goroutine. The task context keeps the values of ctx
// but not its cancellation. Errors and panics are logged, never returned.
func (r *Runner) Go(ctx context.Context, name string, fn func(ctx context.Context) error) {
	taskCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)

	r.wg.Add(1)
	metrics.IncBackgroundInflight()
	go func() {
		defer r.wg.Done()
		defer metrics.DecBackgroundInflight()
		defer cancel()

		status := "ok"
		defer func() {
			if rec := recover(); rec != nil {
				status = "panic"
				zap.L().Error("background: task panicked",
					zap.String("task", name),
					zap.String("panic", fmt.Sprint(rec)),
				)
			}
			metrics.ObserveBackgroundTask(name, status)
		}()

		if err := fn(taskCtx); err != nil {
			status = "error"
			zap.L().Warn("background: task failed",
				zap.String("task", name),
				zap.Error(err),
			)
		}
	}()
}

// Wait blocks until every started task has returned or ctx is done.
func (r *Runner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "background: wait for tasks")
	}
}
