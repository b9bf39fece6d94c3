package resilience

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/scraping-service/internal/metrics"
)

// Policy combines a circuit breaker with a retry policy. Each retry attempt
// passes through the breaker, so an open circuit ends the retries early.
type Policy struct {
	Breaker *CircuitBreaker
	Retry   RetryConfig
}

// NewPolicy builds a Policy from config values. Zero values use defaults.
func NewPolicy(name string, maxAttempts, failureThreshold, resetTimeoutSecs int) *Policy {
	cbCfg := DefaultCircuitBreakerConfig()
	cbCfg.Name = name
	cbCfg.OnStateChange = func(name string, from, to CircuitState) {
		metrics.SetCircuitState(name, int(to))
		zap.L().Info("resilience: circuit state change",
			zap.String("breaker", name),
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
	}
	if failureThreshold > 0 {
		cbCfg.FailureThreshold = failureThreshold
	}
	if resetTimeoutSecs > 0 {
		cbCfg.ResetTimeout = time.Duration(resetTimeoutSecs) * time.Second
	}

	retry := DefaultRetryConfig()
	if maxAttempts > 0 {
		retry.MaxAttempts = maxAttempts
	}
	retry.OnRetry = RetryLogger(name, "call")

	return &Policy{Breaker: NewCircuitBreaker(cbCfg), Retry: retry}
}

// Call runs fn under the policy. A nil policy runs fn once.
func Call[T any](ctx context.Context, p *Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	if p == nil {
		return fn(ctx)
	}
	retry := p.Retry
	base := retry.ShouldRetry
	if base == nil {
		base = IsTransient
	}
	retry.ShouldRetry = func(err error) bool {
		return !isCircuitOpen(err) && base(err)
	}
	return DoVal(ctx, retry, func(ctx context.Context) (T, error) {
		if p.Breaker == nil {
			return fn(ctx)
		}
		return ExecuteVal(ctx, p.Breaker, fn)
	})
}

func isCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}
