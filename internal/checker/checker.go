// Package checker runs ranking checks for a tracking config: it fans the
// config's terms out across grid points and devices with bounded
// concurrency, persists each observation, bills the successful calls, and
// hands the day off to the summary aggregator.
package checker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/rank-tracker/internal/credit"
	"github.com/sells-group/rank-tracker/internal/model"
	"github.com/sells-group/rank-tracker/internal/resilience"
	"github.com/sells-group/rank-tracker/internal/schedule"
	"github.com/sells-group/rank-tracker/pkg/llmcheck"
	"github.com/sells-group/rank-tracker/pkg/serp"
)

// ErrRunInProgress is returned when a run is requested for a config that
// already has one running.
var ErrRunInProgress = eris.New("checker: run already in progress for config")

const defaultConcurrency = 8

// Store is the persistence surface the checker needs.
type Store interface {
	ListTerms(ctx context.Context, configID string, enabledOnly bool) ([]model.TrackedTerm, error)
	UpsertCheckResult(ctx context.Context, r model.CheckResult) error
	UpsertLLMResult(ctx context.Context, r model.LLMResult) error
	SetConfigRunTimes(ctx context.Context, id string, lastRunAt, nextScheduledAt time.Time) error
}

// Credits gates runs on balance and bills attempted calls.
type Credits interface {
	CheckBalance(ctx context.Context, accountID string, cost int) (bool, error)
	Debit(ctx context.Context, accountID string, cost int, runID string) (bool, error)
}

// Summarizer derives the daily summary once a run finishes.
type Summarizer interface {
	Aggregate(ctx context.Context, configID, date string) (*model.DailySummary, error)
	RecordSkipped(ctx context.Context, configID, date string) error
}

// RunOutcome reports what one run did.
type RunOutcome struct {
	RunID   string
	Date    string
	Skipped bool // insufficient credit, no calls attempted

	Attempted credit.Usage // calls dispatched to providers, billed or not
	Succeeded credit.Usage // provider calls that returned a result; the billed set
	OKResults int
	Errors    int // provider or persistence failures recorded as error results
	QuotaHit  bool

	CreditsCharged int
	Summary        *model.DailySummary
}

// Checker executes runs. Safe for concurrent use; runs for the same
// config are mutually exclusive.
type Checker struct {
	store   Store
	serp    serp.Client
	probers []llmcheck.Prober
	credits Credits
	calc    *credit.Calculator
	summary Summarizer

	concurrency int
	retry       resilience.RetryConfig
	logger      *zap.Logger
	now         func() time.Time

	mu      sync.Mutex
	running map[string]struct{}
}

// Option configures a Checker.
type Option func(*Checker)

// WithConcurrency bounds the provider-call worker pool.
func WithConcurrency(n int) Option {
	return func(c *Checker) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithRetryConfig overrides the per-call retry budget.
func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return func(c *Checker) { c.retry = cfg }
}

// WithProbers enables LLM visibility checks through the given probers.
func WithProbers(probers ...llmcheck.Prober) Option {
	return func(c *Checker) { c.probers = probers }
}

// WithClock overrides the checker's time source.
func WithClock(now func() time.Time) Option {
	return func(c *Checker) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a Checker.
func New(store Store, serpClient serp.Client, credits Credits, calc *credit.Calculator, summarizer Summarizer, opts ...Option) *Checker {
	c := &Checker{
		store:       store,
		serp:        serpClient,
		credits:     credits,
		calc:        calc,
		summary:     summarizer,
		concurrency: defaultConcurrency,
		retry:       resilience.DefaultRetryConfig(),
		logger:      zap.L().With(zap.String("component", "checker")),
		now:         time.Now,
		running:     make(map[string]struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Checker) tryLock(configID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.running[configID]; busy {
		return false
	}
	c.running[configID] = struct{}{}
	return true
}

func (c *Checker) unlock(configID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.running, configID)
}

// Run executes one full check run for the config. Individual provider
// failures become error results; the run itself fails only on storage or
// billing infrastructure errors.
func (c *Checker) Run(ctx context.Context, cfg model.TrackingConfig) (*RunOutcome, error) {
	if !c.tryLock(cfg.ID) {
		return nil, ErrRunInProgress
	}
	defer c.unlock(cfg.ID)

	started := c.now().UTC()
	outcome := &RunOutcome{
		RunID: uuid.NewString(),
		Date:  started.Format("2006-01-02"),
	}
	logger := c.logger.With(
		zap.String("config_id", cfg.ID),
		zap.String("run_id", outcome.RunID),
		zap.String("date", outcome.Date),
	)

	terms, err := c.store.ListTerms(ctx, cfg.ID, true)
	if err != nil {
		return nil, eris.Wrap(err, "checker: load terms")
	}
	terms = dueTerms(terms, started)
	if len(terms) == 0 {
		logger.Info("no terms due, nothing to run")
		if err := c.advanceSchedule(ctx, cfg, started); err != nil {
			return nil, err
		}
		return outcome, nil
	}

	estimate := c.calc.EstimateCost(c.plan(cfg, len(terms)))
	covered, err := c.credits.CheckBalance(ctx, cfg.AccountID, estimate)
	if err != nil {
		return nil, eris.Wrap(err, "checker: balance check")
	}
	if !covered {
		logger.Warn("insufficient credit, skipping run", zap.Int("estimate", estimate))
		outcome.Skipped = true
		if err := c.summary.RecordSkipped(ctx, cfg.ID, outcome.Date); err != nil {
			return nil, err
		}
		if err := c.advanceSchedule(ctx, cfg, started); err != nil {
			return nil, err
		}
		return outcome, nil
	}

	var (
		searchAttempted, gridAttempted, llmAttempted atomic.Int64
		searchSucceeded, gridSucceeded, llmSucceeded atomic.Int64
		okCount, errCount                            atomic.Int64
		quotaHit                                     atomic.Bool
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	gridDevice := model.DeviceDesktop
	if len(cfg.Devices) > 0 {
		gridDevice = cfg.Devices[0]
	}

	for _, term := range terms {
		term := term

		// Geo-grid checks: every grid point on one device.
		for _, pt := range cfg.Points {
			pt := pt
			g.Go(func() error {
				if quotaHit.Load() || gctx.Err() != nil {
					return nil
				}
				gridAttempted.Add(1)
				c.checkPoint(gctx, cfg, term, model.CheckGeoGrid, pt, gridDevice,
					outcome.Date, &gridSucceeded, &okCount, &errCount, &quotaHit)
				return nil
			})
		}

		// Search-rank checks: the center point on every device.
		center := model.GridPoint{Lat: cfg.CenterLat, Lng: cfg.CenterLng, Label: "center"}
		for _, dev := range cfg.Devices {
			dev := dev
			g.Go(func() error {
				if quotaHit.Load() || gctx.Err() != nil {
					return nil
				}
				searchAttempted.Add(1)
				c.checkPoint(gctx, cfg, term, model.CheckSearchRank, center, dev,
					outcome.Date, &searchSucceeded, &okCount, &errCount, &quotaHit)
				return nil
			})
		}

		// LLM visibility: each term as a question against each prober.
		for _, p := range c.probers {
			p := p
			g.Go(func() error {
				if gctx.Err() != nil {
					return nil
				}
				llmAttempted.Add(1)
				c.probeLLM(gctx, cfg, term, p, outcome.Date, &llmSucceeded, &okCount, &errCount)
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "checker: worker pool")
	}
	if ctx.Err() != nil {
		return nil, eris.Wrap(ctx.Err(), "checker: run cancelled")
	}

	outcome.Attempted = credit.Usage{
		SearchRankChecks: int(searchAttempted.Load()),
		GeoGridChecks:    int(gridAttempted.Load()),
		LLMChecks:        int(llmAttempted.Load()),
	}
	outcome.Succeeded = credit.Usage{
		SearchRankChecks: int(searchSucceeded.Load()),
		GeoGridChecks:    int(gridSucceeded.Load()),
		LLMChecks:        int(llmSucceeded.Load()),
	}
	outcome.OKResults = int(okCount.Load())
	outcome.Errors = int(errCount.Load())
	outcome.QuotaHit = quotaHit.Load()

	// Bill only the calls that succeeded. Failed calls, and calls
	// short-circuited by a quota failure, cost nothing.
	cost := c.calc.ActualCost(outcome.Succeeded)
	if cost > 0 {
		applied, err := c.credits.Debit(ctx, cfg.AccountID, cost, outcome.RunID)
		if err != nil {
			return nil, eris.Wrap(err, "checker: debit")
		}
		if applied {
			outcome.CreditsCharged = cost
		} else {
			logger.Warn("post-run debit not applied", zap.Int("cost", cost))
		}
	}

	sum, err := c.summary.Aggregate(ctx, cfg.ID, outcome.Date)
	if err != nil {
		return nil, eris.Wrap(err, "checker: aggregate summary")
	}
	outcome.Summary = sum

	if err := c.advanceSchedule(ctx, cfg, started); err != nil {
		return nil, err
	}

	logger.Info("run complete",
		zap.Int("ok", outcome.OKResults),
		zap.Int("errors", outcome.Errors),
		zap.Bool("quota_hit", outcome.QuotaHit),
		zap.Int("credits_charged", outcome.CreditsCharged),
		zap.Duration("elapsed", c.now().UTC().Sub(started)))
	return outcome, nil
}

func (c *Checker) plan(cfg model.TrackingConfig, termCount int) credit.Plan {
	p := credit.Plan{
		GridSize:      len(cfg.Points),
		KeywordCount:  termCount,
		DeviceCount:   len(cfg.Devices),
		QuestionCount: termCount,
		ProviderCount: len(c.probers),
	}
	if len(cfg.Points) > 0 {
		p.CheckTypes = append(p.CheckTypes, model.CheckGeoGrid)
	}
	if len(cfg.Devices) > 0 {
		p.CheckTypes = append(p.CheckTypes, model.CheckSearchRank)
	}
	if len(c.probers) > 0 {
		p.CheckTypes = append(p.CheckTypes, model.CheckLLMVisibility)
	}
	return p
}

// dueTerms drops custom-schedule terms whose recurrence has no occurrence
// on the run day. Inherit-mode terms, and custom terms with no recurrence
// configured, always follow the config's schedule.
func dueTerms(terms []model.TrackedTerm, at time.Time) []model.TrackedTerm {
	due := make([]model.TrackedTerm, 0, len(terms))
	for _, t := range terms {
		if t.ScheduleMode == model.TermCustom && t.Frequency != "" &&
			!schedule.OccursOn(t.Frequency, t.DayOfWeek, t.DayOfMonth, at) {
			continue
		}
		due = append(due, t)
	}
	return due
}

// checkPoint performs one provider call with retries and records the
// observation. Exhausted retries become an error result, not a run
// failure. Each pair counts exactly once: ok when the call succeeded and
// the result persisted, error otherwise.
func (c *Checker) checkPoint(ctx context.Context, cfg model.TrackingConfig, term model.TrackedTerm,
	checkType model.CheckType, pt model.GridPoint, device model.Device, date string,
	succeeded, okCount, errCount *atomic.Int64, quotaHit *atomic.Bool) {

	resp, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*serp.CheckResponse, error) {
		return c.serp.CheckRank(ctx, serp.CheckRequest{
			Lat:        pt.Lat,
			Lng:        pt.Lng,
			Term:       term.Term,
			BusinessID: cfg.BusinessID,
			Device:     string(device),
		})
	})

	result := model.CheckResult{
		ID:         uuid.NewString(),
		ConfigID:   cfg.ID,
		TermID:     term.ID,
		CheckType:  checkType,
		PointLabel: pt.Label,
		Lat:        pt.Lat,
		Lng:        pt.Lng,
		Device:     device,
		Date:       date,
		CheckedAt:  c.now().UTC(),
	}

	if err != nil {
		if resilience.IsQuota(err) {
			quotaHit.Store(true)
		}
		result.Status = model.ResultError
		result.Bucket = model.ClassifyPosition(nil)
		c.logger.Warn("check failed",
			zap.String("config_id", cfg.ID),
			zap.String("term", term.Term),
			zap.String("point", pt.Label),
			zap.Error(err))
	} else {
		succeeded.Add(1)
		result.Status = model.ResultOK
		result.Position = resp.MyPosition
		result.Bucket = model.ClassifyPosition(resp.MyPosition)
		result.RawRef = resp.RawRef
		for _, e := range resp.RankedEntries {
			result.Competitors = append(result.Competitors, model.CompetitorEntry{
				Name:     e.Name,
				Position: e.Position,
				PlaceID:  e.PlaceID,
			})
		}
	}

	if perr := c.store.UpsertCheckResult(ctx, result); perr != nil {
		errCount.Add(1)
		c.logger.Error("persist check result failed",
			zap.String("key", result.ResultKey()), zap.Error(perr))
		return
	}
	if result.Status == model.ResultOK {
		okCount.Add(1)
	} else {
		errCount.Add(1)
	}
}

func (c *Checker) probeLLM(ctx context.Context, cfg model.TrackingConfig, term model.TrackedTerm,
	prober llmcheck.Prober, date string, succeeded, okCount, errCount *atomic.Int64) {

	mention, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*llmcheck.Mention, error) {
		return prober.Probe(ctx, term.Term, cfg.Name)
	})
	if err != nil {
		errCount.Add(1)
		c.logger.Warn("llm probe failed",
			zap.String("config_id", cfg.ID),
			zap.String("term", term.Term),
			zap.String("provider", prober.Name()),
			zap.Error(err))
		return
	}

	succeeded.Add(1)
	result := model.LLMResult{
		ID:        uuid.NewString(),
		ConfigID:  cfg.ID,
		TermID:    term.ID,
		Provider:  prober.Name(),
		Date:      date,
		Mentioned: mention.Mentioned,
		Rank:      mention.Rank,
		CheckedAt: c.now().UTC(),
	}
	if err := c.store.UpsertLLMResult(ctx, result); err != nil {
		errCount.Add(1)
		c.logger.Error("persist llm result failed",
			zap.String("config_id", cfg.ID), zap.Error(err))
		return
	}
	okCount.Add(1)
}

func (c *Checker) advanceSchedule(ctx context.Context, cfg model.TrackingConfig, ranAt time.Time) error {
	next, err := schedule.NextRun(cfg.Frequency, cfg.DayOfWeek, cfg.DayOfMonth, cfg.HourUTC, ranAt)
	if err != nil {
		return eris.Wrap(err, "checker: compute next run")
	}
	if err := c.store.SetConfigRunTimes(ctx, cfg.ID, ranAt, next); err != nil {
		return eris.Wrap(err, "checker: advance schedule")
	}
	return nil
}
