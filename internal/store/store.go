// Package store persists the rank tracker's entities behind a single
// interface with SQLite and Postgres backends.
package store

import (
	"context"
	"time"

	"github.com/sells-group/rank-tracker/internal/model"
)

// Store defines the persistence interface for the rank tracker. Check
// results and daily summaries are upsert-idempotent on their natural
// keys; ledger rows are append-only.
type Store interface {
	// Tracking configs
	CreateConfig(ctx context.Context, cfg model.TrackingConfig) error
	UpdateConfig(ctx context.Context, cfg model.TrackingConfig) error
	GetConfig(ctx context.Context, id string) (*model.TrackingConfig, error)
	ListConfigs(ctx context.Context) ([]model.TrackingConfig, error)
	// ListDueConfigs returns configs whose next_scheduled_at is at or
	// before now.
	ListDueConfigs(ctx context.Context, now time.Time) ([]model.TrackingConfig, error)
	SetConfigRunTimes(ctx context.Context, id string, lastRunAt, nextScheduledAt time.Time) error

	// Tracked terms
	CreateTerm(ctx context.Context, term model.TrackedTerm) error
	SetTermEnabled(ctx context.Context, termID string, enabled bool) error
	ListTerms(ctx context.Context, configID string, enabledOnly bool) ([]model.TrackedTerm, error)

	// Check results
	UpsertCheckResult(ctx context.Context, r model.CheckResult) error
	ListCheckResults(ctx context.Context, configID, date string) ([]model.CheckResult, error)
	UpsertLLMResult(ctx context.Context, r model.LLMResult) error
	ListLLMResults(ctx context.Context, configID, date string) ([]model.LLMResult, error)

	// Daily summaries
	UpsertDailySummary(ctx context.Context, s model.DailySummary) error
	GetDailySummary(ctx context.Context, configID, date string) (*model.DailySummary, error)
	// GetPreviousDailySummary returns the most recent summary strictly
	// before the given date, or nil.
	GetPreviousDailySummary(ctx context.Context, configID, beforeDate string) (*model.DailySummary, error)

	// Accounts and credit ledger
	UpsertAccount(ctx context.Context, acct model.Account) error
	GetAccount(ctx context.Context, accountID string) (*model.Account, error)
	DebitAccount(ctx context.Context, accountID string, credits int) (bool, error)
	CreditAccount(ctx context.Context, accountID string, credits int) error
	InsertLedgerEntry(ctx context.Context, entry model.CreditLedgerEntry) error
	ListLedgerEntries(ctx context.Context, accountID string, limit int) ([]model.CreditLedgerEntry, error)

	// Individual schedules
	CreateSchedule(ctx context.Context, s model.IndividualSchedule) error
	ListActiveSchedules(ctx context.Context, conceptID string) ([]model.IndividualSchedule, error)
	SetScheduleActive(ctx context.Context, scheduleID string, active bool) error
	RestoreSchedule(ctx context.Context, rec model.PausedScheduleRecord) error

	// Unified schedules and pause snapshots
	CreateUnifiedSchedule(ctx context.Context, us model.UnifiedSchedule) error
	GetUnifiedSchedule(ctx context.Context, id string) (*model.UnifiedSchedule, error)
	GetUnifiedScheduleByConcept(ctx context.Context, conceptID string) (*model.UnifiedSchedule, error)
	DeleteUnifiedSchedule(ctx context.Context, id string) error
	CreatePausedRecord(ctx context.Context, rec model.PausedScheduleRecord) error
	ListPausedRecords(ctx context.Context, unifiedID string) ([]model.PausedScheduleRecord, error)
	GetPausedRecordBySchedule(ctx context.Context, scheduleID string) (*model.PausedScheduleRecord, error)
	DeletePausedRecord(ctx context.Context, id string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
