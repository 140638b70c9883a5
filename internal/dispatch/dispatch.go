// Package dispatch polls for due tracking configs and hands them to the
// checker. One dispatcher runs per process; per-config exclusivity is
// enforced by the checker itself.
package dispatch

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/rank-tracker/internal/checker"
	"github.com/sells-group/rank-tracker/internal/model"
)

const (
	defaultInterval    = time.Minute
	defaultConcurrency = 4
)

// Store lists configs whose scheduled time has arrived.
type Store interface {
	ListDueConfigs(ctx context.Context, now time.Time) ([]model.TrackingConfig, error)
}

// Runner executes a single run. Satisfied by *checker.Checker.
type Runner interface {
	Run(ctx context.Context, cfg model.TrackingConfig) (*checker.RunOutcome, error)
}

// Dispatcher drives scheduled runs.
type Dispatcher struct {
	store  Store
	runner Runner

	interval    time.Duration
	concurrency int
	logger      *zap.Logger
	now         func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithInterval sets the poll interval.
func WithInterval(d time.Duration) Option {
	return func(dp *Dispatcher) {
		if d > 0 {
			dp.interval = d
		}
	}
}

// WithConcurrency bounds how many configs run at once.
func WithConcurrency(n int) Option {
	return func(dp *Dispatcher) {
		if n > 0 {
			dp.concurrency = n
		}
	}
}

// New creates a Dispatcher.
func New(store Store, runner Runner, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:       store,
		runner:      runner,
		interval:    defaultInterval,
		concurrency: defaultConcurrency,
		logger:      zap.L().With(zap.String("component", "dispatch")),
		now:         time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Start blocks, polling for due configs until the context is cancelled.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.logger.Info("dispatcher started",
		zap.Duration("interval", d.interval),
		zap.Int("concurrency", d.concurrency))

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopped")
			return nil
		case <-ticker.C:
			if err := d.DispatchDue(ctx); err != nil {
				d.logger.Error("dispatch pass failed", zap.Error(err))
			}
		}
	}
}

// DispatchDue runs every currently-due config once. Individual run
// failures are logged, never fatal to the pass.
func (d *Dispatcher) DispatchDue(ctx context.Context) error {
	due, err := d.store.ListDueConfigs(ctx, d.now().UTC())
	if err != nil {
		return eris.Wrap(err, "dispatch: list due configs")
	}
	if len(due) == 0 {
		return nil
	}
	d.logger.Info("dispatching due configs", zap.Int("count", len(due)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for _, cfg := range due {
		cfg := cfg
		g.Go(func() error {
			out, err := d.runner.Run(gctx, cfg)
			switch {
			case eris.Is(err, checker.ErrRunInProgress):
				d.logger.Debug("config already running", zap.String("config_id", cfg.ID))
			case err != nil:
				d.logger.Error("run failed",
					zap.String("config_id", cfg.ID), zap.Error(err))
			default:
				d.logger.Info("run dispatched",
					zap.String("config_id", cfg.ID),
					zap.String("run_id", out.RunID),
					zap.Bool("skipped", out.Skipped))
			}
			return nil
		})
	}
	return g.Wait()
}
