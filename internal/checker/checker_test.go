package checker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/rank-tracker/internal/credit"
	"github.com/sells-group/rank-tracker/internal/model"
	"github.com/sells-group/rank-tracker/internal/resilience"
	"github.com/sells-group/rank-tracker/pkg/llmcheck"
	"github.com/sells-group/rank-tracker/pkg/serp"
)

// --- fakes ---

type fakeStore struct {
	mu          sync.Mutex
	terms       []model.TrackedTerm
	results     map[string]model.CheckResult
	llmResults  []model.LLMResult
	lastRunAt   *time.Time
	nextRunAt   *time.Time
	failUpserts bool
}

func newFakeStore(terms ...model.TrackedTerm) *fakeStore {
	return &fakeStore{terms: terms, results: make(map[string]model.CheckResult)}
}

func (f *fakeStore) ListTerms(_ context.Context, configID string, _ bool) ([]model.TrackedTerm, error) {
	var out []model.TrackedTerm
	for _, t := range f.terms {
		if t.ConfigID == configID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeStore) UpsertCheckResult(_ context.Context, r model.CheckResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpserts {
		return eris.New("disk full")
	}
	f.results[r.ResultKey()+"|"+string(r.CheckType)] = r
	return nil
}

func (f *fakeStore) UpsertLLMResult(_ context.Context, r model.LLMResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.llmResults = append(f.llmResults, r)
	return nil
}

func (f *fakeStore) SetConfigRunTimes(_ context.Context, _ string, lastRunAt, nextScheduledAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastRunAt = &lastRunAt
	f.nextRunAt = &nextScheduledAt
	return nil
}

func (f *fakeStore) resultList() []model.CheckResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.CheckResult, 0, len(f.results))
	for _, r := range f.results {
		out = append(out, r)
	}
	return out
}

// fakeSerp answers from a script: each call pops the next response.
type fakeSerp struct {
	mu       sync.Mutex
	calls    int
	respond  func(call int, req serp.CheckRequest) (*serp.CheckResponse, error)
	maxDelay time.Duration
}

func (f *fakeSerp) CheckRank(ctx context.Context, req serp.CheckRequest) (*serp.CheckResponse, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	if f.maxDelay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.maxDelay):
		}
	}
	return f.respond(call, req)
}

func (f *fakeSerp) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func rankedAt(pos int) func(int, serp.CheckRequest) (*serp.CheckResponse, error) {
	return func(_ int, _ serp.CheckRequest) (*serp.CheckResponse, error) {
		p := pos
		return &serp.CheckResponse{
			MyPosition: &p,
			RankedEntries: []serp.Entry{
				{Position: 1, Name: "Rival Roasters", PlaceID: "place-rival"},
			},
			RawRef: "req-1",
		}, nil
	}
}

type fakeCredits struct {
	mu       sync.Mutex
	balance  int
	debits   []int
	debitsOK bool
}

func (f *fakeCredits) CheckBalance(_ context.Context, _ string, cost int) (bool, error) {
	return f.balance >= cost, nil
}

func (f *fakeCredits) Debit(_ context.Context, _ string, cost int, _ string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.debits = append(f.debits, cost)
	return f.debitsOK, nil
}

type fakeSummarizer struct {
	mu         sync.Mutex
	aggregated []string
	skipped    []string
}

func (f *fakeSummarizer) Aggregate(_ context.Context, configID, date string) (*model.DailySummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aggregated = append(f.aggregated, configID+"|"+date)
	return &model.DailySummary{ConfigID: configID, Date: date}, nil
}

func (f *fakeSummarizer) RecordSkipped(_ context.Context, configID, date string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.skipped = append(f.skipped, configID+"|"+date)
	return nil
}

type fakeProber struct {
	name    string
	mention llmcheck.Mention
	err     error
}

func (f *fakeProber) Name() string { return f.name }
func (f *fakeProber) Probe(context.Context, string, string) (*llmcheck.Mention, error) {
	if f.err != nil {
		return nil, f.err
	}
	m := f.mention
	return &m, nil
}

func gridConfig(points, devices int) model.TrackingConfig {
	cfg := model.TrackingConfig{
		ID:         "cfg-1",
		AccountID:  "acct-1",
		BusinessID: "place-abc",
		Name:       "Downtown Coffee",
		CenterLat:  45.5,
		CenterLng:  -122.6,
		Frequency:  model.FreqDaily,
		HourUTC:    6,
	}
	for i := 0; i < points; i++ {
		cfg.Points = append(cfg.Points, model.GridPoint{
			Lat: 45.5 + float64(i)*0.01, Lng: -122.6, Label: "p" + string(rune('a'+i)),
		})
	}
	if devices > 0 {
		cfg.Devices = append(cfg.Devices, model.DeviceDesktop)
	}
	if devices > 1 {
		cfg.Devices = append(cfg.Devices, model.DeviceMobile)
	}
	return cfg
}

func term(id, text string) model.TrackedTerm {
	return model.TrackedTerm{ID: id, ConfigID: "cfg-1", Term: text, Enabled: true, ScheduleMode: model.TermInherit}
}

func customTerm(id, text string, freq model.Frequency, dayOfWeek int) model.TrackedTerm {
	return model.TrackedTerm{
		ID: id, ConfigID: "cfg-1", Term: text, Enabled: true,
		ScheduleMode: model.TermCustom, Frequency: freq, DayOfWeek: dayOfWeek,
	}
}

func fastRetry(attempts int) resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: attempts, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

// --- tests ---

func TestRun_HappyPath(t *testing.T) {
	st := newFakeStore(term("t1", "coffee shop"), term("t2", "espresso bar"))
	client := &fakeSerp{respond: rankedAt(3)}
	credits := &fakeCredits{balance: 1000, debitsOK: true}
	sums := &fakeSummarizer{}

	c := New(st, client, credits, credit.NewCalculator(credit.DefaultRates()), sums,
		WithRetryConfig(fastRetry(1)))

	out, err := c.Run(context.Background(), gridConfig(4, 2))
	require.NoError(t, err)

	// 2 terms x 4 points grid checks, 2 terms x 2 devices search checks.
	assert.Equal(t, 8, out.Attempted.GeoGridChecks)
	assert.Equal(t, 4, out.Attempted.SearchRankChecks)
	assert.Equal(t, 0, out.Attempted.LLMChecks)
	assert.Equal(t, out.Attempted, out.Succeeded)
	assert.Equal(t, 12, out.OKResults)
	assert.Zero(t, out.Errors)
	assert.False(t, out.Skipped)

	// 8 grid at 1 credit + 4 search at 1 credit.
	assert.Equal(t, 12, out.CreditsCharged)
	require.Len(t, credits.debits, 1)
	assert.Equal(t, 12, credits.debits[0])

	assert.Len(t, st.resultList(), 12)
	for _, r := range st.resultList() {
		assert.Equal(t, model.ResultOK, r.Status)
		require.NotNil(t, r.Position)
		assert.Equal(t, 3, *r.Position)
		assert.Equal(t, model.BucketTop3, r.Bucket)
	}

	require.Len(t, sums.aggregated, 1)
	require.NotNil(t, st.nextRunAt)
	assert.True(t, st.nextRunAt.After(*st.lastRunAt))
}

func TestRun_InsufficientCreditSkips(t *testing.T) {
	st := newFakeStore(term("t1", "coffee shop"))
	client := &fakeSerp{respond: rankedAt(1)}
	credits := &fakeCredits{balance: 0}
	sums := &fakeSummarizer{}

	c := New(st, client, credits, credit.NewCalculator(credit.DefaultRates()), sums)

	out, err := c.Run(context.Background(), gridConfig(9, 1))
	require.NoError(t, err)
	assert.True(t, out.Skipped)
	assert.Zero(t, client.callCount())
	assert.Empty(t, credits.debits)
	require.Len(t, sums.skipped, 1)
	assert.Empty(t, sums.aggregated)
	// Schedule still advances so the config is not retried immediately.
	require.NotNil(t, st.nextRunAt)
}

func TestRun_ProviderFailureBecomesErrorResult(t *testing.T) {
	st := newFakeStore(term("t1", "coffee shop"))
	client := &fakeSerp{respond: func(_ int, _ serp.CheckRequest) (*serp.CheckResponse, error) {
		return nil, resilience.NewTransientError(eris.New("upstream unavailable"), 503)
	}}
	credits := &fakeCredits{balance: 1000, debitsOK: true}
	sums := &fakeSummarizer{}

	c := New(st, client, credits, credit.NewCalculator(credit.DefaultRates()), sums,
		WithRetryConfig(fastRetry(2)), WithConcurrency(1))

	out, err := c.Run(context.Background(), gridConfig(2, 0))
	require.NoError(t, err)
	assert.Equal(t, 2, out.Errors)
	assert.Zero(t, out.OKResults)
	// Failed calls are attempted but never billed.
	assert.Equal(t, 2, out.Attempted.GeoGridChecks)
	assert.Zero(t, out.Succeeded.GeoGridChecks)
	assert.Zero(t, out.CreditsCharged)
	// Each point got MaxAttempts tries.
	assert.Equal(t, 4, client.callCount())

	for _, r := range st.resultList() {
		assert.Equal(t, model.ResultError, r.Status)
		assert.Nil(t, r.Position)
		assert.Equal(t, model.BucketInvisible, r.Bucket)
	}
}

func TestRun_AllCallsFailedDebitsZero(t *testing.T) {
	st := newFakeStore(term("t1", "coffee shop"))
	client := &fakeSerp{respond: func(_ int, _ serp.CheckRequest) (*serp.CheckResponse, error) {
		return nil, resilience.NewTransientError(eris.New("upstream unavailable"), 503)
	}}
	credits := &fakeCredits{balance: 1000, debitsOK: true}

	c := New(st, client, credits, credit.NewCalculator(credit.DefaultRates()), &fakeSummarizer{},
		WithRetryConfig(fastRetry(2)), WithConcurrency(1))

	out, err := c.Run(context.Background(), gridConfig(3, 0))
	require.NoError(t, err)
	assert.Equal(t, 3, out.Attempted.GeoGridChecks)
	assert.Equal(t, credit.Usage{}, out.Succeeded)
	assert.Zero(t, out.CreditsCharged)
	// A totally failed run never touches the ledger.
	assert.Empty(t, credits.debits)
}

func TestRun_PersistFailureCountsAsError(t *testing.T) {
	st := newFakeStore(term("t1", "coffee shop"))
	st.failUpserts = true
	client := &fakeSerp{respond: rankedAt(1)}
	credits := &fakeCredits{balance: 1000, debitsOK: true}

	c := New(st, client, credits, credit.NewCalculator(credit.DefaultRates()), &fakeSummarizer{},
		WithRetryConfig(fastRetry(1)))

	out, err := c.Run(context.Background(), gridConfig(2, 0))
	require.NoError(t, err)
	// Each pair counts exactly once: the call succeeded but the result
	// was lost, so it reports as an error, not an ok.
	assert.Zero(t, out.OKResults)
	assert.Equal(t, 2, out.Errors)
	// The provider calls themselves succeeded and are still billed.
	assert.Equal(t, 2, out.Succeeded.GeoGridChecks)
	assert.Equal(t, 2, out.CreditsCharged)
}

func TestRun_CustomTermScheduleFiltersByDay(t *testing.T) {
	// 2026-03-04 is a Wednesday.
	runAt := time.Date(2026, 3, 4, 6, 0, 0, 0, time.UTC)
	st := newFakeStore(
		term("t1", "coffee shop"),
		customTerm("t2", "espresso bar", model.FreqWeekly, 3),
		customTerm("t3", "cold brew", model.FreqWeekly, 5),
	)
	client := &fakeSerp{respond: rankedAt(1)}
	credits := &fakeCredits{balance: 1000, debitsOK: true}

	c := New(st, client, credits, credit.NewCalculator(credit.DefaultRates()), &fakeSummarizer{},
		WithRetryConfig(fastRetry(1)), WithClock(func() time.Time { return runAt }))

	out, err := c.Run(context.Background(), gridConfig(1, 0))
	require.NoError(t, err)
	// The Friday-only custom term is not due on a Wednesday.
	assert.Equal(t, 2, out.Attempted.GeoGridChecks)
	assert.Equal(t, 2, out.OKResults)

	for _, r := range st.resultList() {
		assert.NotEqual(t, "t3", r.TermID)
	}
}

func TestRun_TransientThenSuccessRetries(t *testing.T) {
	st := newFakeStore(term("t1", "coffee shop"))
	client := &fakeSerp{respond: func(call int, _ serp.CheckRequest) (*serp.CheckResponse, error) {
		if call == 1 {
			return nil, resilience.NewTransientError(eris.New("flaky"), 503)
		}
		return rankedAt(2)(call, serp.CheckRequest{})
	}}
	credits := &fakeCredits{balance: 1000, debitsOK: true}

	c := New(st, client, credits, credit.NewCalculator(credit.DefaultRates()), &fakeSummarizer{},
		WithRetryConfig(fastRetry(3)), WithConcurrency(1))

	out, err := c.Run(context.Background(), gridConfig(1, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, out.OKResults)
	assert.Zero(t, out.Errors)
	assert.Equal(t, 2, client.callCount())
}

func TestRun_QuotaShortCircuits(t *testing.T) {
	st := newFakeStore(term("t1", "coffee shop"))
	client := &fakeSerp{respond: func(_ int, _ serp.CheckRequest) (*serp.CheckResponse, error) {
		return nil, resilience.NewQuotaError("localserp", eris.New("402 payment required"))
	}}
	credits := &fakeCredits{balance: 1000, debitsOK: true}

	c := New(st, client, credits, credit.NewCalculator(credit.DefaultRates()), &fakeSummarizer{},
		WithRetryConfig(fastRetry(3)), WithConcurrency(1))

	out, err := c.Run(context.Background(), gridConfig(9, 0))
	require.NoError(t, err)
	assert.True(t, out.QuotaHit)
	// The first task hits the quota error and the rest short-circuit.
	assert.Equal(t, 1, out.Attempted.GeoGridChecks)
	assert.Equal(t, 1, client.callCount())
	assert.Zero(t, out.CreditsCharged)
	assert.Empty(t, credits.debits)
}

func TestRun_LLMProbesRecorded(t *testing.T) {
	st := newFakeStore(term("t1", "best coffee downtown"))
	client := &fakeSerp{respond: rankedAt(1)}
	credits := &fakeCredits{balance: 1000, debitsOK: true}
	rank := 2

	c := New(st, client, credits, credit.NewCalculator(credit.DefaultRates()), &fakeSummarizer{},
		WithRetryConfig(fastRetry(1)),
		WithProbers(&fakeProber{name: "anthropic", mention: llmcheck.Mention{Mentioned: true, Rank: &rank}}))

	out, err := c.Run(context.Background(), gridConfig(1, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, out.Attempted.LLMChecks)
	// 1 grid credit + 1 llm probe at 2 credits.
	assert.Equal(t, 3, out.CreditsCharged)

	require.Len(t, st.llmResults, 1)
	assert.Equal(t, "anthropic", st.llmResults[0].Provider)
	assert.True(t, st.llmResults[0].Mentioned)
	require.NotNil(t, st.llmResults[0].Rank)
	assert.Equal(t, 2, *st.llmResults[0].Rank)
}

func TestRun_ConcurrentSameConfigRejected(t *testing.T) {
	st := newFakeStore(term("t1", "coffee shop"))
	client := &fakeSerp{respond: rankedAt(1), maxDelay: 50 * time.Millisecond}
	credits := &fakeCredits{balance: 1000, debitsOK: true}

	c := New(st, client, credits, credit.NewCalculator(credit.DefaultRates()), &fakeSummarizer{},
		WithRetryConfig(fastRetry(1)))

	cfg := gridConfig(2, 0)
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		close(started)
		_, err := c.Run(context.Background(), cfg)
		done <- err
	}()

	<-started
	time.Sleep(10 * time.Millisecond)
	_, err := c.Run(context.Background(), cfg)
	require.ErrorIs(t, err, ErrRunInProgress)

	require.NoError(t, <-done)

	// After the first run finishes the config can run again.
	_, err = c.Run(context.Background(), cfg)
	require.NoError(t, err)
}

func TestRun_NoTermsAdvancesSchedule(t *testing.T) {
	st := newFakeStore()
	client := &fakeSerp{respond: rankedAt(1)}
	credits := &fakeCredits{balance: 1000, debitsOK: true}

	c := New(st, client, credits, credit.NewCalculator(credit.DefaultRates()), &fakeSummarizer{})

	out, err := c.Run(context.Background(), gridConfig(9, 1))
	require.NoError(t, err)
	assert.Zero(t, client.callCount())
	assert.Zero(t, out.CreditsCharged)
	require.NotNil(t, st.nextRunAt)
}
