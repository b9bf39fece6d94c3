package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/scraping-service/internal/background"
	"github.com/sells-group/scraping-service/internal/cost"
	"github.com/sells-group/scraping-service/internal/credential"
	"github.com/sells-group/scraping-service/internal/resilience"
	"github.com/sells-group/scraping-service/internal/scraping"
	"github.com/sells-group/scraping-service/internal/store"
	"github.com/sells-group/scraping-service/internal/usage"
	"github.com/sells-group/scraping-service/pkg/firecrawl"
	"github.com/sells-group/scraping-service/pkg/keyservice"
	"github.com/sells-group/scraping-service/pkg/runs"
)

// serviceEnv holds the store, the usage tracker, and the scraping service
// needed by the serve/scrape/map commands.
type serviceEnv struct {
	Store   store.Store
	Tracker *usage.Tracker
	Service *scraping.Service
}

// Close drains pending run reports for up to timeout, then closes the store.
func (se *serviceEnv) Close(timeout time.Duration) {
	if se.Tracker != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := se.Tracker.Wait(ctx); err != nil {
			zap.L().Warn("run reports still pending at shutdown", zap.Error(err))
		}
		cancel()
	}
	if se.Store != nil {
		_ = se.Store.Close()
	}
}

// initStore opens the configured store backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initService validates config for mode, opens and migrates the store, and
// builds the scraping service with its upstream clients. Callers should
// defer env.Close().
func initService(ctx context.Context, mode string) (*serviceEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	fc := firecrawl.NewClient(
		firecrawl.WithBaseURL(cfg.Firecrawl.BaseURL),
		firecrawl.WithHTTPClient(&http.Client{Timeout: seconds(cfg.Firecrawl.TimeoutSecs, 60)}),
		firecrawl.WithRateLimit(cfg.Firecrawl.RatePerSec, cfg.Firecrawl.Burst),
	)

	vault := keyservice.NewClient(cfg.KeyService.URL, cfg.KeyService.APIKey,
		keyservice.WithHTTPClient(&http.Client{Timeout: seconds(cfg.KeyService.TimeoutSecs, 10)}),
	)

	tracker := initTracker()

	svc := scraping.NewService(st, fc, credential.NewResolver(vault), tracker,
		scraping.WithCacheTTL(time.Duration(cfg.Cache.TTLHours)*time.Hour),
	)

	return &serviceEnv{Store: st, Tracker: tracker, Service: svc}, nil
}

// initTracker builds the run reporter. Without a runs API key reporting is
// disabled and scrapes proceed untracked.
func initTracker() *usage.Tracker {
	runner := background.NewRunner(seconds(cfg.Telemetry.TimeoutSecs, 30))
	calc := cost.NewCalculator(cfg.Pricing)

	if cfg.Runs.APIKey == "" {
		zap.L().Warn("SCRAPING_RUNS_API_KEY not set, run reporting disabled")
		return usage.NewTracker(nil, nil, runner, calc)
	}

	client := runs.NewClient(cfg.Runs.APIKey,
		runs.WithBaseURL(cfg.Runs.URL),
		runs.WithDefaultAppID(cfg.Runs.AppID),
		runs.WithHTTPClient(&http.Client{Timeout: seconds(cfg.Runs.TimeoutSecs, 10)}),
	)
	policy := resilience.NewPolicy("runs", cfg.Telemetry.MaxAttempts, cfg.Runs.FailureThreshold, cfg.Runs.ResetTimeoutSecs)

	return usage.NewTracker(client, policy, runner, calc)
}

func seconds(n, def int) time.Duration {
	if n <= 0 {
		n = def
	}
	return time.Duration(n) * time.Second
}
