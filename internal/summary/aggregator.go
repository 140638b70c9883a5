// Package summary derives daily per-config summaries from stored check
// results. Aggregation is deterministic and upserted on (config, date),
// so regenerating a day is always safe.
package summary

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/rank-tracker/internal/model"
)

// Store is the persistence surface the aggregator needs.
type Store interface {
	ListCheckResults(ctx context.Context, configID, date string) ([]model.CheckResult, error)
	ListTerms(ctx context.Context, configID string, enabledOnly bool) ([]model.TrackedTerm, error)
	GetPreviousDailySummary(ctx context.Context, configID, beforeDate string) (*model.DailySummary, error)
	UpsertDailySummary(ctx context.Context, s model.DailySummary) error
}

// Aggregator computes and persists daily summaries.
type Aggregator struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

func New(store Store) *Aggregator {
	return &Aggregator{
		store:  store,
		logger: zap.L().With(zap.String("component", "summary")),
		now:    time.Now,
	}
}

// Aggregate recomputes the summary for one config and date from that
// day's check results and upserts it. Error results count toward
// PointsErrored but are excluded from bucket denominators.
func (a *Aggregator) Aggregate(ctx context.Context, configID, date string) (*model.DailySummary, error) {
	results, err := a.store.ListCheckResults(ctx, configID, date)
	if err != nil {
		return nil, eris.Wrap(err, "summary: load check results")
	}

	terms, err := a.store.ListTerms(ctx, configID, false)
	if err != nil {
		return nil, eris.Wrap(err, "summary: load terms")
	}
	termText := make(map[string]string, len(terms))
	for _, t := range terms {
		termText[t.ID] = t.Term
	}

	byTerm := make(map[string][]model.CheckResult)
	for _, r := range results {
		byTerm[r.TermID] = append(byTerm[r.TermID], r)
	}

	termIDs := make([]string, 0, len(byTerm))
	for id := range byTerm {
		termIDs = append(termIDs, id)
	}
	sort.Strings(termIDs)

	sum := model.DailySummary{
		ID:          summaryID(configID, date),
		ConfigID:    configID,
		Date:        date,
		GeneratedAt: a.now().UTC(),
	}

	var scoreTotal, posTotal float64
	var scoredTerms, positionedTerms int
	for _, termID := range termIDs {
		ts := aggregateTerm(termID, termText[termID], byTerm[termID])
		sum.Terms = append(sum.Terms, ts)
		if ts.PointsTotal > 0 {
			scoreTotal += ts.VisibilityScore
			scoredTerms++
		}
		if ts.MeanPosition > 0 {
			posTotal += ts.MeanPosition
			positionedTerms++
		}
	}
	if scoredTerms > 0 {
		sum.VisibilityScore = scoreTotal / float64(scoredTerms)
	}
	if positionedTerms > 0 {
		sum.MeanPosition = posTotal / float64(positionedTerms)
	}

	prev, err := a.store.GetPreviousDailySummary(ctx, configID, date)
	if err != nil {
		return nil, eris.Wrap(err, "summary: load previous summary")
	}
	if prev != nil && !prev.Skipped {
		sum.ScoreDelta = sum.VisibilityScore - prev.VisibilityScore
		sum.PositionDelta = sum.MeanPosition - prev.MeanPosition
	}

	if err := a.store.UpsertDailySummary(ctx, sum); err != nil {
		return nil, eris.Wrap(err, "summary: persist summary")
	}

	a.logger.Info("summary generated",
		zap.String("config_id", configID),
		zap.String("date", date),
		zap.Int("terms", len(sum.Terms)),
		zap.Float64("visibility_score", sum.VisibilityScore))
	return &sum, nil
}

// RecordSkipped writes a placeholder summary for a day whose run was
// skipped. Skipped days never feed trend deltas.
func (a *Aggregator) RecordSkipped(ctx context.Context, configID, date string) error {
	sum := model.DailySummary{
		ID:          summaryID(configID, date),
		ConfigID:    configID,
		Date:        date,
		Skipped:     true,
		GeneratedAt: a.now().UTC(),
	}
	if err := a.store.UpsertDailySummary(ctx, sum); err != nil {
		return eris.Wrap(err, "summary: persist skipped summary")
	}
	a.logger.Warn("run skipped, placeholder summary written",
		zap.String("config_id", configID), zap.String("date", date))
	return nil
}

// summaryID derives a stable ID from the summary's natural key, so a
// regenerated day keeps the same row identity. GeneratedAt alone changes
// on recomputation.
func summaryID(configID, date string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("daily-summary|"+configID+"|"+date)).String()
}

func aggregateTerm(termID, term string, results []model.CheckResult) model.TermSummary {
	ts := model.TermSummary{
		TermID:    termID,
		Term:      term,
		BucketPct: make(map[model.Bucket]float64, 4),
	}

	counts := make(map[model.Bucket]int, 4)
	var posSum int
	var found int
	for _, r := range results {
		if r.Status == model.ResultError {
			ts.PointsErrored++
			continue
		}
		ts.PointsTotal++
		counts[r.Bucket]++
		if r.Position != nil && *r.Position > 0 {
			posSum += *r.Position
			found++
		}
	}

	if ts.PointsTotal == 0 {
		return ts
	}

	var weighted float64
	for _, b := range model.Buckets() {
		ts.BucketPct[b] = float64(counts[b]) / float64(ts.PointsTotal) * 100
		weighted += float64(counts[b]) * model.BucketWeight(b)
	}
	ts.VisibilityScore = weighted / float64(ts.PointsTotal) * 100
	if found > 0 {
		ts.MeanPosition = float64(posSum) / float64(found)
	}
	return ts
}
