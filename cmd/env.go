package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/rank-tracker/internal/checker"
	"github.com/sells-group/rank-tracker/internal/credit"
	"github.com/sells-group/rank-tracker/internal/db"
	"github.com/sells-group/rank-tracker/internal/dispatch"
	"github.com/sells-group/rank-tracker/internal/resilience"
	"github.com/sells-group/rank-tracker/internal/schedule"
	"github.com/sells-group/rank-tracker/internal/store"
	"github.com/sells-group/rank-tracker/internal/summary"
	"github.com/sells-group/rank-tracker/pkg/llmcheck"
	"github.com/sells-group/rank-tracker/pkg/serp"
)

// appEnv bundles the wired application services for a command invocation.
type appEnv struct {
	Store      store.Store
	Serp       serp.Client
	Credits    *credit.Service
	Calculator *credit.Calculator
	Summary    *summary.Aggregator
	Checker    *checker.Checker
	Dispatcher *dispatch.Dispatcher
	Schedules  *schedule.Manager
}

func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.SQLitePath)
	case "postgres":
		pool, err := db.Connect(ctx, cfg.Store.DatabaseURL, &cfg.Store.Pool)
		if err != nil {
			return nil, err
		}
		return store.NewPostgres(pool), nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initEnv(ctx context.Context) (*appEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	serpClient := serp.NewClient(cfg.Serp.Key,
		serp.WithBaseURL(cfg.Serp.BaseURL),
		serp.WithDepth(cfg.Serp.Depth),
		serp.WithRateLimit(cfg.Serp.RatePerSec),
		serp.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Serp.TimeoutSecs) * time.Second}),
	)

	credits := credit.NewService(st)
	calc := credit.NewCalculator(cfg.Credit.Rates)
	agg := summary.New(st)

	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = cfg.Serp.RetryMaxAttempts
	retry.OnRetry = resilience.RetryLogger("serp", "check_rank")

	checkerOpts := []checker.Option{
		checker.WithConcurrency(cfg.Checker.Concurrency),
		checker.WithRetryConfig(retry),
	}
	if cfg.Anthropic.Enabled && cfg.Anthropic.Key != "" {
		prober := llmcheck.NewAnthropic(cfg.Anthropic.Key, llmcheck.WithModel(cfg.Anthropic.Model))
		checkerOpts = append(checkerOpts, checker.WithProbers(prober))
	}
	chk := checker.New(st, serpClient, credits, calc, agg, checkerOpts...)

	disp := dispatch.New(st, chk,
		dispatch.WithInterval(time.Duration(cfg.Dispatch.IntervalSecs)*time.Second),
		dispatch.WithConcurrency(cfg.Dispatch.Concurrency),
	)

	return &appEnv{
		Store:      st,
		Serp:       serpClient,
		Credits:    credits,
		Calculator: calc,
		Summary:    agg,
		Checker:    chk,
		Dispatcher: disp,
		Schedules:  schedule.NewManager(st),
	}, nil
}
