package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/rank-tracker/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS tracking_configs (
	id                TEXT PRIMARY KEY,
	account_id        TEXT NOT NULL,
	business_id       TEXT NOT NULL,
	name              TEXT NOT NULL,
	center_lat        REAL NOT NULL,
	center_lng        REAL NOT NULL,
	radius_miles      REAL NOT NULL,
	grid_size         INTEGER NOT NULL,
	points            TEXT NOT NULL,
	devices           TEXT NOT NULL,
	frequency         TEXT NOT NULL,
	day_of_week       INTEGER NOT NULL DEFAULT 0,
	day_of_month      INTEGER NOT NULL DEFAULT 1,
	hour_utc          INTEGER NOT NULL DEFAULT 0,
	last_run_at       DATETIME,
	next_scheduled_at DATETIME,
	created_at        DATETIME NOT NULL,
	updated_at        DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS tracked_terms (
	id            TEXT PRIMARY KEY,
	config_id     TEXT NOT NULL REFERENCES tracking_configs(id),
	term          TEXT NOT NULL,
	enabled       INTEGER NOT NULL DEFAULT 1,
	schedule_mode TEXT NOT NULL DEFAULT 'inherit',
	frequency     TEXT,
	day_of_week   INTEGER NOT NULL DEFAULT 0,
	day_of_month  INTEGER NOT NULL DEFAULT 1,
	hour_utc      INTEGER NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL,
	UNIQUE (config_id, term)
);

CREATE TABLE IF NOT EXISTS check_results (
	id          TEXT PRIMARY KEY,
	config_id   TEXT NOT NULL,
	term_id     TEXT NOT NULL,
	check_type  TEXT NOT NULL,
	point_label TEXT NOT NULL,
	lat         REAL NOT NULL,
	lng         REAL NOT NULL,
	device      TEXT NOT NULL,
	date        TEXT NOT NULL,
	status      TEXT NOT NULL,
	position    INTEGER,
	bucket      TEXT NOT NULL,
	competitors TEXT,
	raw_ref     TEXT,
	checked_at  DATETIME NOT NULL,
	UNIQUE (config_id, term_id, check_type, point_label, device, date)
);

CREATE TABLE IF NOT EXISTS llm_results (
	id         TEXT PRIMARY KEY,
	config_id  TEXT NOT NULL,
	term_id    TEXT NOT NULL,
	provider   TEXT NOT NULL,
	date       TEXT NOT NULL,
	mentioned  INTEGER NOT NULL,
	rank       INTEGER,
	checked_at DATETIME NOT NULL,
	UNIQUE (config_id, term_id, provider, date)
);

CREATE TABLE IF NOT EXISTS daily_summaries (
	id               TEXT PRIMARY KEY,
	config_id        TEXT NOT NULL,
	date             TEXT NOT NULL,
	skipped          INTEGER NOT NULL DEFAULT 0,
	terms            TEXT NOT NULL,
	visibility_score REAL NOT NULL,
	mean_position    REAL NOT NULL,
	score_delta      REAL NOT NULL,
	position_delta   REAL NOT NULL,
	generated_at     DATETIME NOT NULL,
	UNIQUE (config_id, date)
);

CREATE TABLE IF NOT EXISTS accounts (
	id      TEXT PRIMARY KEY,
	balance INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS credit_ledger (
	id         TEXT PRIMARY KEY,
	account_id TEXT NOT NULL REFERENCES accounts(id),
	run_id     TEXT NOT NULL,
	type       TEXT NOT NULL,
	credits    INTEGER NOT NULL,
	note       TEXT,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS individual_schedules (
	id           TEXT PRIMARY KEY,
	concept_id   TEXT NOT NULL,
	check_type   TEXT NOT NULL,
	frequency    TEXT NOT NULL,
	day_of_week  INTEGER NOT NULL DEFAULT 0,
	day_of_month INTEGER NOT NULL DEFAULT 1,
	hour_utc     INTEGER NOT NULL DEFAULT 0,
	active       INTEGER NOT NULL DEFAULT 1,
	created_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS unified_schedules (
	id           TEXT PRIMARY KEY,
	concept_id   TEXT NOT NULL UNIQUE,
	check_types  TEXT NOT NULL,
	frequency    TEXT NOT NULL,
	day_of_week  INTEGER NOT NULL DEFAULT 0,
	day_of_month INTEGER NOT NULL DEFAULT 1,
	hour_utc     INTEGER NOT NULL DEFAULT 0,
	created_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS paused_schedule_records (
	id           TEXT PRIMARY KEY,
	unified_id   TEXT NOT NULL REFERENCES unified_schedules(id),
	schedule_id  TEXT NOT NULL UNIQUE,
	check_type   TEXT NOT NULL,
	frequency    TEXT NOT NULL,
	day_of_week  INTEGER NOT NULL DEFAULT 0,
	day_of_month INTEGER NOT NULL DEFAULT 1,
	hour_utc     INTEGER NOT NULL DEFAULT 0,
	paused_at    DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_configs_account ON tracking_configs(account_id);
CREATE INDEX IF NOT EXISTS idx_configs_next_run ON tracking_configs(next_scheduled_at);
CREATE INDEX IF NOT EXISTS idx_terms_config ON tracked_terms(config_id);
CREATE INDEX IF NOT EXISTS idx_results_config_date ON check_results(config_id, date);
CREATE INDEX IF NOT EXISTS idx_llm_results_config_date ON llm_results(config_id, date);
CREATE INDEX IF NOT EXISTS idx_summaries_config ON daily_summaries(config_id, date);
CREATE INDEX IF NOT EXISTS idx_ledger_account ON credit_ledger(account_id, created_at);
CREATE INDEX IF NOT EXISTS idx_schedules_concept ON individual_schedules(concept_id);
CREATE INDEX IF NOT EXISTS idx_paused_unified ON paused_schedule_records(unified_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func marshalJSON(v any, what string) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: marshal %s", what)
	}
	return string(b), nil
}

func (s *SQLiteStore) CreateConfig(ctx context.Context, cfg model.TrackingConfig) error {
	points, err := marshalJSON(cfg.Points, "points")
	if err != nil {
		return err
	}
	devices, err := marshalJSON(cfg.Devices, "devices")
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tracking_configs
			(id, account_id, business_id, name, center_lat, center_lng, radius_miles,
			 grid_size, points, devices, frequency, day_of_week, day_of_month, hour_utc,
			 last_run_at, next_scheduled_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cfg.ID, cfg.AccountID, cfg.BusinessID, cfg.Name, cfg.CenterLat, cfg.CenterLng,
		cfg.RadiusMiles, cfg.GridSize, points, devices, string(cfg.Frequency),
		cfg.DayOfWeek, cfg.DayOfMonth, cfg.HourUTC,
		cfg.LastRunAt, cfg.NextScheduledAt, cfg.CreatedAt, cfg.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert config %s", cfg.ID)
}

func (s *SQLiteStore) UpdateConfig(ctx context.Context, cfg model.TrackingConfig) error {
	points, err := marshalJSON(cfg.Points, "points")
	if err != nil {
		return err
	}
	devices, err := marshalJSON(cfg.Devices, "devices")
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE tracking_configs SET
			business_id = ?, name = ?, center_lat = ?, center_lng = ?, radius_miles = ?,
			grid_size = ?, points = ?, devices = ?, frequency = ?, day_of_week = ?,
			day_of_month = ?, hour_utc = ?, next_scheduled_at = ?, updated_at = ?
		WHERE id = ?`,
		cfg.BusinessID, cfg.Name, cfg.CenterLat, cfg.CenterLng, cfg.RadiusMiles,
		cfg.GridSize, points, devices, string(cfg.Frequency), cfg.DayOfWeek,
		cfg.DayOfMonth, cfg.HourUTC, cfg.NextScheduledAt, time.Now().UTC(), cfg.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update config %s", cfg.ID)
	}
	return checkRowsAffected(res, "config", cfg.ID)
}

const configCols = `id, account_id, business_id, name, center_lat, center_lng, radius_miles,
	grid_size, points, devices, frequency, day_of_week, day_of_month, hour_utc,
	last_run_at, next_scheduled_at, created_at, updated_at`

func (s *SQLiteStore) scanConfig(row interface{ Scan(...any) error }) (*model.TrackingConfig, error) {
	var cfg model.TrackingConfig
	var points, devices, freq string
	err := row.Scan(
		&cfg.ID, &cfg.AccountID, &cfg.BusinessID, &cfg.Name,
		&cfg.CenterLat, &cfg.CenterLng, &cfg.RadiusMiles,
		&cfg.GridSize, &points, &devices, &freq,
		&cfg.DayOfWeek, &cfg.DayOfMonth, &cfg.HourUTC,
		&cfg.LastRunAt, &cfg.NextScheduledAt, &cfg.CreatedAt, &cfg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	cfg.Frequency = model.Frequency(freq)
	if err := json.Unmarshal([]byte(points), &cfg.Points); err != nil {
		return nil, eris.Wrapf(err, "sqlite: unmarshal points for %s", cfg.ID)
	}
	if err := json.Unmarshal([]byte(devices), &cfg.Devices); err != nil {
		return nil, eris.Wrapf(err, "sqlite: unmarshal devices for %s", cfg.ID)
	}
	return &cfg, nil
}

func (s *SQLiteStore) GetConfig(ctx context.Context, id string) (*model.TrackingConfig, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+configCols+` FROM tracking_configs WHERE id = ?`, id)
	cfg, err := s.scanConfig(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get config %s", id)
	}
	return cfg, nil
}

func (s *SQLiteStore) listConfigs(ctx context.Context, query string, args ...any) ([]model.TrackingConfig, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list configs")
	}
	defer rows.Close()

	var out []model.TrackingConfig
	for rows.Next() {
		cfg, err := s.scanConfig(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan config")
		}
		out = append(out, *cfg)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate configs")
}

func (s *SQLiteStore) ListConfigs(ctx context.Context) ([]model.TrackingConfig, error) {
	return s.listConfigs(ctx,
		`SELECT `+configCols+` FROM tracking_configs ORDER BY created_at`)
}

func (s *SQLiteStore) ListDueConfigs(ctx context.Context, now time.Time) ([]model.TrackingConfig, error) {
	return s.listConfigs(ctx,
		`SELECT `+configCols+` FROM tracking_configs
		 WHERE next_scheduled_at IS NOT NULL AND next_scheduled_at <= ?
		 ORDER BY next_scheduled_at`, now.UTC())
}

func (s *SQLiteStore) SetConfigRunTimes(ctx context.Context, id string, lastRunAt, nextScheduledAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tracking_configs SET last_run_at = ?, next_scheduled_at = ?, updated_at = ? WHERE id = ?`,
		lastRunAt.UTC(), nextScheduledAt.UTC(), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set run times for %s", id)
	}
	return checkRowsAffected(res, "config", id)
}

func (s *SQLiteStore) CreateTerm(ctx context.Context, term model.TrackedTerm) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tracked_terms
			(id, config_id, term, enabled, schedule_mode, frequency, day_of_week, day_of_month, hour_utc, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		term.ID, term.ConfigID, term.Term, term.Enabled, string(term.ScheduleMode),
		string(term.Frequency), term.DayOfWeek, term.DayOfMonth, term.HourUTC, term.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert term %s", term.ID)
}

func (s *SQLiteStore) SetTermEnabled(ctx context.Context, termID string, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tracked_terms SET enabled = ? WHERE id = ?`, enabled, termID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set term enabled %s", termID)
	}
	return checkRowsAffected(res, "term", termID)
}

func (s *SQLiteStore) ListTerms(ctx context.Context, configID string, enabledOnly bool) ([]model.TrackedTerm, error) {
	query := `SELECT id, config_id, term, enabled, schedule_mode, frequency,
		day_of_week, day_of_month, hour_utc, created_at
		FROM tracked_terms WHERE config_id = ?`
	if enabledOnly {
		query += ` AND enabled = 1 AND schedule_mode != 'disabled'`
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, configID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list terms for %s", configID)
	}
	defer rows.Close()

	var out []model.TrackedTerm
	for rows.Next() {
		var t model.TrackedTerm
		var mode, freq string
		if err := rows.Scan(&t.ID, &t.ConfigID, &t.Term, &t.Enabled, &mode, &freq,
			&t.DayOfWeek, &t.DayOfMonth, &t.HourUTC, &t.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan term")
		}
		t.ScheduleMode = model.TermScheduleMode(mode)
		t.Frequency = model.Frequency(freq)
		out = append(out, t)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate terms")
}

func (s *SQLiteStore) UpsertCheckResult(ctx context.Context, r model.CheckResult) error {
	competitors, err := marshalJSON(r.Competitors, "competitors")
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO check_results
			(id, config_id, term_id, check_type, point_label, lat, lng, device, date,
			 status, position, bucket, competitors, raw_ref, checked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (config_id, term_id, check_type, point_label, device, date) DO UPDATE SET
			status = excluded.status,
			position = excluded.position,
			bucket = excluded.bucket,
			competitors = excluded.competitors,
			raw_ref = excluded.raw_ref,
			checked_at = excluded.checked_at`,
		r.ID, r.ConfigID, r.TermID, string(r.CheckType), r.PointLabel, r.Lat, r.Lng,
		string(r.Device), r.Date, string(r.Status), r.Position, string(r.Bucket),
		competitors, r.RawRef, r.CheckedAt,
	)
	return eris.Wrapf(err, "sqlite: upsert check result %s", r.ResultKey())
}

func (s *SQLiteStore) ListCheckResults(ctx context.Context, configID, date string) ([]model.CheckResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, config_id, term_id, check_type, point_label, lat, lng, device, date,
			status, position, bucket, competitors, raw_ref, checked_at
		FROM check_results WHERE config_id = ? AND date = ?
		ORDER BY term_id, point_label, device`, configID, date)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list check results for %s/%s", configID, date)
	}
	defer rows.Close()

	var out []model.CheckResult
	for rows.Next() {
		var r model.CheckResult
		var checkType, device, status, bucket string
		var competitors, rawRef sql.NullString
		if err := rows.Scan(&r.ID, &r.ConfigID, &r.TermID, &checkType, &r.PointLabel,
			&r.Lat, &r.Lng, &device, &r.Date, &status, &r.Position, &bucket,
			&competitors, &rawRef, &r.CheckedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan check result")
		}
		r.CheckType = model.CheckType(checkType)
		r.Device = model.Device(device)
		r.Status = model.ResultStatus(status)
		r.Bucket = model.Bucket(bucket)
		r.RawRef = rawRef.String
		if competitors.Valid && competitors.String != "" && competitors.String != "null" {
			if err := json.Unmarshal([]byte(competitors.String), &r.Competitors); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal competitors")
			}
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate check results")
}

func (s *SQLiteStore) UpsertLLMResult(ctx context.Context, r model.LLMResult) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO llm_results (id, config_id, term_id, provider, date, mentioned, rank, checked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (config_id, term_id, provider, date) DO UPDATE SET
			mentioned = excluded.mentioned,
			rank = excluded.rank,
			checked_at = excluded.checked_at`,
		r.ID, r.ConfigID, r.TermID, r.Provider, r.Date, r.Mentioned, r.Rank, r.CheckedAt,
	)
	return eris.Wrapf(err, "sqlite: upsert llm result %s/%s/%s", r.ConfigID, r.TermID, r.Provider)
}

func (s *SQLiteStore) ListLLMResults(ctx context.Context, configID, date string) ([]model.LLMResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, config_id, term_id, provider, date, mentioned, rank, checked_at
		FROM llm_results WHERE config_id = ? AND date = ? ORDER BY term_id, provider`,
		configID, date)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list llm results for %s/%s", configID, date)
	}
	defer rows.Close()

	var out []model.LLMResult
	for rows.Next() {
		var r model.LLMResult
		if err := rows.Scan(&r.ID, &r.ConfigID, &r.TermID, &r.Provider, &r.Date,
			&r.Mentioned, &r.Rank, &r.CheckedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan llm result")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate llm results")
}

func (s *SQLiteStore) UpsertDailySummary(ctx context.Context, sum model.DailySummary) error {
	terms, err := marshalJSON(sum.Terms, "summary terms")
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO daily_summaries
			(id, config_id, date, skipped, terms, visibility_score, mean_position,
			 score_delta, position_delta, generated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (config_id, date) DO UPDATE SET
			skipped = excluded.skipped,
			terms = excluded.terms,
			visibility_score = excluded.visibility_score,
			mean_position = excluded.mean_position,
			score_delta = excluded.score_delta,
			position_delta = excluded.position_delta,
			generated_at = excluded.generated_at`,
		sum.ID, sum.ConfigID, sum.Date, sum.Skipped, terms, sum.VisibilityScore,
		sum.MeanPosition, sum.ScoreDelta, sum.PositionDelta, sum.GeneratedAt,
	)
	return eris.Wrapf(err, "sqlite: upsert summary %s/%s", sum.ConfigID, sum.Date)
}

func (s *SQLiteStore) scanSummary(row interface{ Scan(...any) error }) (*model.DailySummary, error) {
	var sum model.DailySummary
	var terms string
	err := row.Scan(&sum.ID, &sum.ConfigID, &sum.Date, &sum.Skipped, &terms,
		&sum.VisibilityScore, &sum.MeanPosition, &sum.ScoreDelta, &sum.PositionDelta,
		&sum.GeneratedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(terms), &sum.Terms); err != nil {
		return nil, eris.Wrapf(err, "sqlite: unmarshal summary terms for %s", sum.ID)
	}
	return &sum, nil
}

const summaryCols = `id, config_id, date, skipped, terms, visibility_score,
	mean_position, score_delta, position_delta, generated_at`

func (s *SQLiteStore) GetDailySummary(ctx context.Context, configID, date string) (*model.DailySummary, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+summaryCols+` FROM daily_summaries WHERE config_id = ? AND date = ?`,
		configID, date)
	sum, err := s.scanSummary(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get summary %s/%s", configID, date)
	}
	return sum, nil
}

func (s *SQLiteStore) GetPreviousDailySummary(ctx context.Context, configID, beforeDate string) (*model.DailySummary, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+summaryCols+` FROM daily_summaries
		 WHERE config_id = ? AND date < ? ORDER BY date DESC LIMIT 1`,
		configID, beforeDate)
	sum, err := s.scanSummary(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: previous summary for %s before %s", configID, beforeDate)
	}
	return sum, nil
}

func (s *SQLiteStore) UpsertAccount(ctx context.Context, acct model.Account) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, balance) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET balance = excluded.balance`,
		acct.ID, acct.Balance,
	)
	return eris.Wrapf(err, "sqlite: upsert account %s", acct.ID)
}

func (s *SQLiteStore) GetAccount(ctx context.Context, accountID string) (*model.Account, error) {
	var acct model.Account
	err := s.db.QueryRowContext(ctx,
		`SELECT id, balance FROM accounts WHERE id = ?`, accountID,
	).Scan(&acct.ID, &acct.Balance)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get account %s", accountID)
	}
	return &acct, nil
}

// DebitAccount applies a conditional decrement: the WHERE clause is the
// no-double-spend guarantee under concurrent debits.
func (s *SQLiteStore) DebitAccount(ctx context.Context, accountID string, credits int) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET balance = balance - ? WHERE id = ? AND balance >= ?`,
		credits, accountID, credits,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: debit account %s", accountID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: debit rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) CreditAccount(ctx context.Context, accountID string, credits int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET balance = balance + ? WHERE id = ?`, credits, accountID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: credit account %s", accountID)
	}
	return checkRowsAffected(res, "account", accountID)
}

func (s *SQLiteStore) InsertLedgerEntry(ctx context.Context, entry model.CreditLedgerEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credit_ledger (id, account_id, run_id, type, credits, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.AccountID, entry.RunID, string(entry.Type), entry.Credits,
		entry.Note, entry.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert ledger entry %s", entry.ID)
}

func (s *SQLiteStore) ListLedgerEntries(ctx context.Context, accountID string, limit int) ([]model.CreditLedgerEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, run_id, type, credits, note, created_at
		FROM credit_ledger WHERE account_id = ?
		ORDER BY created_at DESC LIMIT ?`, accountID, limit)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list ledger for %s", accountID)
	}
	defer rows.Close()

	var out []model.CreditLedgerEntry
	for rows.Next() {
		var e model.CreditLedgerEntry
		var typ string
		var note sql.NullString
		if err := rows.Scan(&e.ID, &e.AccountID, &e.RunID, &typ, &e.Credits, &note, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan ledger entry")
		}
		e.Type = model.LedgerEntryType(typ)
		e.Note = note.String
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate ledger")
}

func (s *SQLiteStore) CreateSchedule(ctx context.Context, sched model.IndividualSchedule) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO individual_schedules
			(id, concept_id, check_type, frequency, day_of_week, day_of_month, hour_utc, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sched.ID, sched.ConceptID, string(sched.CheckType), string(sched.Frequency),
		sched.DayOfWeek, sched.DayOfMonth, sched.HourUTC, sched.Active, sched.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert schedule %s", sched.ID)
}

func (s *SQLiteStore) ListActiveSchedules(ctx context.Context, conceptID string) ([]model.IndividualSchedule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, concept_id, check_type, frequency, day_of_week, day_of_month, hour_utc, active, created_at
		FROM individual_schedules WHERE concept_id = ? AND active = 1 ORDER BY created_at`,
		conceptID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list active schedules for %s", conceptID)
	}
	defer rows.Close()

	var out []model.IndividualSchedule
	for rows.Next() {
		var sc model.IndividualSchedule
		var checkType, freq string
		if err := rows.Scan(&sc.ID, &sc.ConceptID, &checkType, &freq,
			&sc.DayOfWeek, &sc.DayOfMonth, &sc.HourUTC, &sc.Active, &sc.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan schedule")
		}
		sc.CheckType = model.CheckType(checkType)
		sc.Frequency = model.Frequency(freq)
		out = append(out, sc)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate schedules")
}

func (s *SQLiteStore) SetScheduleActive(ctx context.Context, scheduleID string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE individual_schedules SET active = ? WHERE id = ?`, active, scheduleID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set schedule active %s", scheduleID)
	}
	return checkRowsAffected(res, "schedule", scheduleID)
}

func (s *SQLiteStore) RestoreSchedule(ctx context.Context, rec model.PausedScheduleRecord) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE individual_schedules
		SET frequency = ?, day_of_week = ?, day_of_month = ?, hour_utc = ?, active = 1
		WHERE id = ?`,
		string(rec.Frequency), rec.DayOfWeek, rec.DayOfMonth, rec.HourUTC, rec.ScheduleID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: restore schedule %s", rec.ScheduleID)
	}
	return checkRowsAffected(res, "schedule", rec.ScheduleID)
}

func (s *SQLiteStore) CreateUnifiedSchedule(ctx context.Context, us model.UnifiedSchedule) error {
	types, err := marshalJSON(us.CheckTypes, "check types")
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO unified_schedules
			(id, concept_id, check_types, frequency, day_of_week, day_of_month, hour_utc, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		us.ID, us.ConceptID, types, string(us.Frequency),
		us.DayOfWeek, us.DayOfMonth, us.HourUTC, us.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert unified schedule %s", us.ID)
}

func (s *SQLiteStore) scanUnified(row interface{ Scan(...any) error }) (*model.UnifiedSchedule, error) {
	var us model.UnifiedSchedule
	var types, freq string
	err := row.Scan(&us.ID, &us.ConceptID, &types, &freq,
		&us.DayOfWeek, &us.DayOfMonth, &us.HourUTC, &us.CreatedAt)
	if err != nil {
		return nil, err
	}
	us.Frequency = model.Frequency(freq)
	if err := json.Unmarshal([]byte(types), &us.CheckTypes); err != nil {
		return nil, eris.Wrapf(err, "sqlite: unmarshal check types for %s", us.ID)
	}
	return &us, nil
}

const unifiedCols = `id, concept_id, check_types, frequency, day_of_week, day_of_month, hour_utc, created_at`

func (s *SQLiteStore) GetUnifiedSchedule(ctx context.Context, id string) (*model.UnifiedSchedule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+unifiedCols+` FROM unified_schedules WHERE id = ?`, id)
	us, err := s.scanUnified(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get unified schedule %s", id)
	}
	return us, nil
}

func (s *SQLiteStore) GetUnifiedScheduleByConcept(ctx context.Context, conceptID string) (*model.UnifiedSchedule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+unifiedCols+` FROM unified_schedules WHERE concept_id = ?`, conceptID)
	us, err := s.scanUnified(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get unified schedule for concept %s", conceptID)
	}
	return us, nil
}

func (s *SQLiteStore) DeleteUnifiedSchedule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM unified_schedules WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete unified schedule %s", id)
	}
	return checkRowsAffected(res, "unified schedule", id)
}

func (s *SQLiteStore) CreatePausedRecord(ctx context.Context, rec model.PausedScheduleRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO paused_schedule_records
			(id, unified_id, schedule_id, check_type, frequency, day_of_week, day_of_month, hour_utc, paused_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UnifiedID, rec.ScheduleID, string(rec.CheckType), string(rec.Frequency),
		rec.DayOfWeek, rec.DayOfMonth, rec.HourUTC, rec.PausedAt,
	)
	return eris.Wrapf(err, "sqlite: insert paused record %s", rec.ID)
}

func (s *SQLiteStore) ListPausedRecords(ctx context.Context, unifiedID string) ([]model.PausedScheduleRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, unified_id, schedule_id, check_type, frequency, day_of_week, day_of_month, hour_utc, paused_at
		FROM paused_schedule_records WHERE unified_id = ? ORDER BY paused_at`,
		unifiedID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list paused records for %s", unifiedID)
	}
	defer rows.Close()

	var out []model.PausedScheduleRecord
	for rows.Next() {
		rec, err := scanPausedRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan paused record")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate paused records")
}

func (s *SQLiteStore) GetPausedRecordBySchedule(ctx context.Context, scheduleID string) (*model.PausedScheduleRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, unified_id, schedule_id, check_type, frequency, day_of_week, day_of_month, hour_utc, paused_at
		FROM paused_schedule_records WHERE schedule_id = ?`, scheduleID)
	rec, err := scanPausedRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get paused record for schedule %s", scheduleID)
	}
	return rec, nil
}

func (s *SQLiteStore) DeletePausedRecord(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM paused_schedule_records WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete paused record %s", id)
	}
	return checkRowsAffected(res, "paused record", id)
}

func scanPausedRecord(row interface{ Scan(...any) error }) (*model.PausedScheduleRecord, error) {
	var rec model.PausedScheduleRecord
	var checkType, freq string
	err := row.Scan(&rec.ID, &rec.UnifiedID, &rec.ScheduleID, &checkType, &freq,
		&rec.DayOfWeek, &rec.DayOfMonth, &rec.HourUTC, &rec.PausedAt)
	if err != nil {
		return nil, err
	}
	rec.CheckType = model.CheckType(checkType)
	rec.Frequency = model.Frequency(freq)
	return &rec, nil
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrapf(err, "sqlite: rows affected for %s %s", entity, id)
	}
	if n == 0 {
		return eris.Errorf("sqlite: %s %s not found", entity, id)
	}
	return nil
}
