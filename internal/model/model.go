// Package model defines the domain entities for the rank tracker:
// tracking configs, tracked terms, check results, daily summaries,
// credit ledger entries, and unified schedules.
package model

import "time"

// CheckType identifies one of the independently-priced check categories.
type CheckType string

const (
	CheckSearchRank    CheckType = "search_rank"
	CheckGeoGrid       CheckType = "geo_grid"
	CheckLLMVisibility CheckType = "llm_visibility"
)

// Frequency is a schedule recurrence interval.
type Frequency string

const (
	FreqDaily   Frequency = "daily"
	FreqWeekly  Frequency = "weekly"
	FreqMonthly Frequency = "monthly"
)

// Device is the simulated device for a search-rank check.
type Device string

const (
	DeviceDesktop Device = "desktop"
	DeviceMobile  Device = "mobile"
)

// GridPoint is one geographic coordinate at which a ranking observation
// is taken. Points are immutable once a run has used them.
type GridPoint struct {
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
	Label string  `json:"label"`
}

// TrackingConfig describes one tracked business location: its grid
// geometry, target business identity, and run schedule.
type TrackingConfig struct {
	ID              string      `json:"id"`
	AccountID       string      `json:"account_id"`
	BusinessID      string      `json:"business_id"` // provider-specific place identifier
	Name            string      `json:"name"`
	CenterLat       float64     `json:"center_lat"`
	CenterLng       float64     `json:"center_lng"`
	RadiusMiles     float64     `json:"radius_miles"`
	GridSize        int         `json:"grid_size"` // one of 5, 9, 25, 49
	Points          []GridPoint `json:"points"`
	Devices         []Device    `json:"devices"`
	Frequency       Frequency   `json:"frequency"`
	DayOfWeek       int         `json:"day_of_week"`  // 0=Sunday, weekly only
	DayOfMonth      int         `json:"day_of_month"` // 1-31, monthly only
	HourUTC         int         `json:"hour_utc"`
	LastRunAt       *time.Time  `json:"last_run_at,omitempty"`
	NextScheduledAt *time.Time  `json:"next_scheduled_at,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// TermScheduleMode controls how a tracked term's schedule relates to its
// config's schedule.
type TermScheduleMode string

const (
	TermInherit  TermScheduleMode = "inherit"
	TermCustom   TermScheduleMode = "custom"
	TermDisabled TermScheduleMode = "disabled"
)

// TrackedTerm is a search phrase registered against exactly one config.
type TrackedTerm struct {
	ID           string           `json:"id"`
	ConfigID     string           `json:"config_id"`
	Term         string           `json:"term"` // canonical form, see internal/keyword
	Enabled      bool             `json:"enabled"`
	ScheduleMode TermScheduleMode `json:"schedule_mode"`
	Frequency    Frequency        `json:"frequency,omitempty"` // custom mode only
	DayOfWeek    int              `json:"day_of_week,omitempty"`
	DayOfMonth   int              `json:"day_of_month,omitempty"`
	HourUTC      int              `json:"hour_utc,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

// ResultStatus distinguishes a normal observation from a retries-exhausted
// provider failure. Error results are excluded from bucket aggregation.
type ResultStatus string

const (
	ResultOK    ResultStatus = "ok"
	ResultError ResultStatus = "error"
)

// CompetitorEntry is one business visible in the ranked results at a point.
type CompetitorEntry struct {
	Name     string `json:"name"`
	Position int    `json:"position"`
	PlaceID  string `json:"place_id,omitempty"`
}

// CheckResult is an immutable record of one (config, term, point, device,
// date) observation. Created only by the rank checker; upserted on its
// natural key so retried runs never duplicate rows.
type CheckResult struct {
	ID          string            `json:"id"`
	ConfigID    string            `json:"config_id"`
	TermID      string            `json:"term_id"`
	CheckType   CheckType         `json:"check_type"`
	PointLabel  string            `json:"point_label"`
	Lat         float64           `json:"lat"`
	Lng         float64           `json:"lng"`
	Device      Device            `json:"device"`
	Date        string            `json:"date"` // YYYY-MM-DD, UTC
	Status      ResultStatus      `json:"status"`
	Position    *int              `json:"position,omitempty"` // nil when not found in top N
	Bucket      Bucket            `json:"bucket"`
	Competitors []CompetitorEntry `json:"competitors,omitempty"`
	RawRef      string            `json:"raw_ref,omitempty"` // provider payload reference
	CheckedAt   time.Time         `json:"checked_at"`
}

// ResultKey is the natural key a CheckResult is upserted on.
func (r CheckResult) ResultKey() string {
	return r.ConfigID + "|" + r.TermID + "|" + r.PointLabel + "|" + string(r.Device) + "|" + r.Date
}

// LLMResult records one (config, term/question, provider, date)
// LLM-visibility observation.
type LLMResult struct {
	ID        string    `json:"id"`
	ConfigID  string    `json:"config_id"`
	TermID    string    `json:"term_id"`
	Provider  string    `json:"provider"`
	Date      string    `json:"date"`
	Mentioned bool      `json:"mentioned"`
	Rank      *int      `json:"rank,omitempty"` // position within the answer's list, when mentioned
	CheckedAt time.Time `json:"checked_at"`
}

// TermSummary holds the per-term aggregates inside a DailySummary.
type TermSummary struct {
	TermID          string             `json:"term_id"`
	Term            string             `json:"term"`
	PointsTotal     int                `json:"points_total"` // ok results only
	PointsErrored   int                `json:"points_errored"`
	BucketPct       map[Bucket]float64 `json:"bucket_pct"`
	MeanPosition    float64            `json:"mean_position"` // over found results; 0 when none found
	VisibilityScore float64            `json:"visibility_score"`
}

// DailySummary is derived data, idempotently recomputed per (config, date)
// from that date's CheckResults. Safe to regenerate: recomputation is
// deterministic given the same inputs.
type DailySummary struct {
	ID              string        `json:"id"`
	ConfigID        string        `json:"config_id"`
	Date            string        `json:"date"`
	Skipped         bool          `json:"skipped"` // true when the run was skipped for insufficient credit
	Terms           []TermSummary `json:"terms"`
	VisibilityScore float64       `json:"visibility_score"` // mean over terms
	MeanPosition    float64       `json:"mean_position"`
	ScoreDelta      float64       `json:"score_delta"`    // vs. previous summary
	PositionDelta   float64       `json:"position_delta"` // vs. previous summary
	GeneratedAt     time.Time     `json:"generated_at"`
}

// LedgerEntryType distinguishes debits from compensating credits.
type LedgerEntryType string

const (
	LedgerDebit  LedgerEntryType = "debit"
	LedgerCredit LedgerEntryType = "credit"
)

// CreditLedgerEntry is an append-only record tied to a run. Never updated;
// a rollback is expressed as a compensating credit entry.
type CreditLedgerEntry struct {
	ID        string          `json:"id"`
	AccountID string          `json:"account_id"`
	RunID     string          `json:"run_id"`
	Type      LedgerEntryType `json:"type"`
	Credits   int             `json:"credits"`
	Note      string          `json:"note,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// IndividualSchedule is a per-type schedule attached to a concept. While a
// unified schedule covers the concept it may be paused (Active=false) with
// its settings snapshotted into a PausedScheduleRecord.
type IndividualSchedule struct {
	ID         string    `json:"id"`
	ConceptID  string    `json:"concept_id"`
	CheckType  CheckType `json:"check_type"`
	Frequency  Frequency `json:"frequency"`
	DayOfWeek  int       `json:"day_of_week"`
	DayOfMonth int       `json:"day_of_month"`
	HourUTC    int       `json:"hour_utc"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

// UnifiedSchedule is one concept-level schedule subsuming the concept's
// individual per-type schedules while active.
type UnifiedSchedule struct {
	ID         string      `json:"id"`
	ConceptID  string      `json:"concept_id"`
	CheckTypes []CheckType `json:"check_types"`
	Frequency  Frequency   `json:"frequency"`
	DayOfWeek  int         `json:"day_of_week"`
	DayOfMonth int         `json:"day_of_month"`
	HourUTC    int         `json:"hour_utc"`
	CreatedAt  time.Time   `json:"created_at"`
}

// PausedScheduleRecord snapshots an individual schedule's settings at the
// moment it was paused. Keyed to the owning unified schedule; deleted once
// the schedule is restored. A schedule has at most one snapshot at a time.
type PausedScheduleRecord struct {
	ID         string    `json:"id"`
	UnifiedID  string    `json:"unified_id"`
	ScheduleID string    `json:"schedule_id"`
	CheckType  CheckType `json:"check_type"`
	Frequency  Frequency `json:"frequency"`
	DayOfWeek  int       `json:"day_of_week"`
	DayOfMonth int       `json:"day_of_month"`
	HourUTC    int       `json:"hour_utc"`
	PausedAt   time.Time `json:"paused_at"`
}

// Account holds a prepaid credit balance.
type Account struct {
	ID      string `json:"id"`
	Balance int    `json:"balance"`
}
