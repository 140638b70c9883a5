package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/rank-tracker/internal/db"
	"github.com/sells-group/rank-tracker/internal/model"
)

// PostgresStore implements Store over a pgx pool.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgres wraps an existing pool. The caller owns the pool lifecycle
// when it is shared; Close here is a no-op for mock pools.
func NewPostgres(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS tracking_configs (
	id                TEXT PRIMARY KEY,
	account_id        TEXT NOT NULL,
	business_id       TEXT NOT NULL,
	name              TEXT NOT NULL,
	center_lat        DOUBLE PRECISION NOT NULL,
	center_lng        DOUBLE PRECISION NOT NULL,
	radius_miles      DOUBLE PRECISION NOT NULL,
	grid_size         INTEGER NOT NULL,
	points            JSONB NOT NULL,
	devices           JSONB NOT NULL,
	frequency         TEXT NOT NULL,
	day_of_week       INTEGER NOT NULL DEFAULT 0,
	day_of_month      INTEGER NOT NULL DEFAULT 1,
	hour_utc          INTEGER NOT NULL DEFAULT 0,
	last_run_at       TIMESTAMPTZ,
	next_scheduled_at TIMESTAMPTZ,
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS tracked_terms (
	id            TEXT PRIMARY KEY,
	config_id     TEXT NOT NULL REFERENCES tracking_configs(id),
	term          TEXT NOT NULL,
	enabled       BOOLEAN NOT NULL DEFAULT TRUE,
	schedule_mode TEXT NOT NULL DEFAULT 'inherit',
	frequency     TEXT,
	day_of_week   INTEGER NOT NULL DEFAULT 0,
	day_of_month  INTEGER NOT NULL DEFAULT 1,
	hour_utc      INTEGER NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL,
	UNIQUE (config_id, term)
);

CREATE TABLE IF NOT EXISTS check_results (
	id          TEXT PRIMARY KEY,
	config_id   TEXT NOT NULL,
	term_id     TEXT NOT NULL,
	check_type  TEXT NOT NULL,
	point_label TEXT NOT NULL,
	lat         DOUBLE PRECISION NOT NULL,
	lng         DOUBLE PRECISION NOT NULL,
	device      TEXT NOT NULL,
	date        TEXT NOT NULL,
	status      TEXT NOT NULL,
	position    INTEGER,
	bucket      TEXT NOT NULL,
	competitors JSONB,
	raw_ref     TEXT,
	checked_at  TIMESTAMPTZ NOT NULL,
	UNIQUE (config_id, term_id, check_type, point_label, device, date)
);

CREATE TABLE IF NOT EXISTS llm_results (
	id         TEXT PRIMARY KEY,
	config_id  TEXT NOT NULL,
	term_id    TEXT NOT NULL,
	provider   TEXT NOT NULL,
	date       TEXT NOT NULL,
	mentioned  BOOLEAN NOT NULL,
	rank       INTEGER,
	checked_at TIMESTAMPTZ NOT NULL,
	UNIQUE (config_id, term_id, provider, date)
);

CREATE TABLE IF NOT EXISTS daily_summaries (
	id               TEXT PRIMARY KEY,
	config_id        TEXT NOT NULL,
	date             TEXT NOT NULL,
	skipped          BOOLEAN NOT NULL DEFAULT FALSE,
	terms            JSONB NOT NULL,
	visibility_score DOUBLE PRECISION NOT NULL,
	mean_position    DOUBLE PRECISION NOT NULL,
	score_delta      DOUBLE PRECISION NOT NULL,
	position_delta   DOUBLE PRECISION NOT NULL,
	generated_at     TIMESTAMPTZ NOT NULL,
	UNIQUE (config_id, date)
);

CREATE TABLE IF NOT EXISTS accounts (
	id      TEXT PRIMARY KEY,
	balance BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS credit_ledger (
	id         TEXT PRIMARY KEY,
	account_id TEXT NOT NULL REFERENCES accounts(id),
	run_id     TEXT NOT NULL,
	type       TEXT NOT NULL,
	credits    BIGINT NOT NULL,
	note       TEXT,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS individual_schedules (
	id           TEXT PRIMARY KEY,
	concept_id   TEXT NOT NULL,
	check_type   TEXT NOT NULL,
	frequency    TEXT NOT NULL,
	day_of_week  INTEGER NOT NULL DEFAULT 0,
	day_of_month INTEGER NOT NULL DEFAULT 1,
	hour_utc     INTEGER NOT NULL DEFAULT 0,
	active       BOOLEAN NOT NULL DEFAULT TRUE,
	created_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS unified_schedules (
	id           TEXT PRIMARY KEY,
	concept_id   TEXT NOT NULL UNIQUE,
	check_types  JSONB NOT NULL,
	frequency    TEXT NOT NULL,
	day_of_week  INTEGER NOT NULL DEFAULT 0,
	day_of_month INTEGER NOT NULL DEFAULT 1,
	hour_utc     INTEGER NOT NULL DEFAULT 0,
	created_at   TIMESTAMPTZ NOT NULL
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
	paused_at    TIMESTAMPTZ NOT NULL
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

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	type closer interface{ Close() }
	if c, ok := s.pool.(closer); ok {
		c.Close()
	}
	return nil
}

func (s *PostgresStore) CreateConfig(ctx context.Context, cfg model.TrackingConfig) error {
	points, err := json.Marshal(cfg.Points)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal points")
	}
	devices, err := json.Marshal(cfg.Devices)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal devices")
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO tracking_configs
			(id, account_id, business_id, name, center_lat, center_lng, radius_miles,
			 grid_size, points, devices, frequency, day_of_week, day_of_month, hour_utc,
			 last_run_at, next_scheduled_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		cfg.ID, cfg.AccountID, cfg.BusinessID, cfg.Name, cfg.CenterLat, cfg.CenterLng,
		cfg.RadiusMiles, cfg.GridSize, points, devices, string(cfg.Frequency),
		cfg.DayOfWeek, cfg.DayOfMonth, cfg.HourUTC,
		cfg.LastRunAt, cfg.NextScheduledAt, cfg.CreatedAt, cfg.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: insert config %s", cfg.ID)
}

func (s *PostgresStore) UpdateConfig(ctx context.Context, cfg model.TrackingConfig) error {
	points, err := json.Marshal(cfg.Points)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal points")
	}
	devices, err := json.Marshal(cfg.Devices)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal devices")
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE tracking_configs SET
			business_id = $1, name = $2, center_lat = $3, center_lng = $4, radius_miles = $5,
			grid_size = $6, points = $7, devices = $8, frequency = $9, day_of_week = $10,
			day_of_month = $11, hour_utc = $12, next_scheduled_at = $13, updated_at = $14
		WHERE id = $15`,
		cfg.BusinessID, cfg.Name, cfg.CenterLat, cfg.CenterLng, cfg.RadiusMiles,
		cfg.GridSize, points, devices, string(cfg.Frequency), cfg.DayOfWeek,
		cfg.DayOfMonth, cfg.HourUTC, cfg.NextScheduledAt, time.Now().UTC(), cfg.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update config %s", cfg.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: config %s not found", cfg.ID)
	}
	return nil
}

func scanPGConfig(row pgx.Row) (*model.TrackingConfig, error) {
	var cfg model.TrackingConfig
	var points, devices []byte
	var freq string
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
	if err := json.Unmarshal(points, &cfg.Points); err != nil {
		return nil, eris.Wrapf(err, "postgres: unmarshal points for %s", cfg.ID)
	}
	if err := json.Unmarshal(devices, &cfg.Devices); err != nil {
		return nil, eris.Wrapf(err, "postgres: unmarshal devices for %s", cfg.ID)
	}
	return &cfg, nil
}

func (s *PostgresStore) GetConfig(ctx context.Context, id string) (*model.TrackingConfig, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+configCols+` FROM tracking_configs WHERE id = $1`, id)
	cfg, err := scanPGConfig(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get config %s", id)
	}
	return cfg, nil
}

func (s *PostgresStore) listConfigs(ctx context.Context, query string, args ...any) ([]model.TrackingConfig, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list configs")
	}
	defer rows.Close()

	var out []model.TrackingConfig
	for rows.Next() {
		cfg, err := scanPGConfig(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan config")
		}
		out = append(out, *cfg)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate configs")
}

func (s *PostgresStore) ListConfigs(ctx context.Context) ([]model.TrackingConfig, error) {
	return s.listConfigs(ctx,
		`SELECT `+configCols+` FROM tracking_configs ORDER BY created_at`)
}

func (s *PostgresStore) ListDueConfigs(ctx context.Context, now time.Time) ([]model.TrackingConfig, error) {
	return s.listConfigs(ctx,
		`SELECT `+configCols+` FROM tracking_configs
		 WHERE next_scheduled_at IS NOT NULL AND next_scheduled_at <= $1
		 ORDER BY next_scheduled_at`, now.UTC())
}

func (s *PostgresStore) SetConfigRunTimes(ctx context.Context, id string, lastRunAt, nextScheduledAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tracking_configs SET last_run_at = $1, next_scheduled_at = $2, updated_at = $3 WHERE id = $4`,
		lastRunAt.UTC(), nextScheduledAt.UTC(), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set run times for %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: config %s not found", id)
	}
	return nil
}

func (s *PostgresStore) CreateTerm(ctx context.Context, term model.TrackedTerm) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tracked_terms
			(id, config_id, term, enabled, schedule_mode, frequency, day_of_week, day_of_month, hour_utc, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		term.ID, term.ConfigID, term.Term, term.Enabled, string(term.ScheduleMode),
		string(term.Frequency), term.DayOfWeek, term.DayOfMonth, term.HourUTC, term.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert term %s", term.ID)
}

func (s *PostgresStore) SetTermEnabled(ctx context.Context, termID string, enabled bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tracked_terms SET enabled = $1 WHERE id = $2`, enabled, termID)
	if err != nil {
		return eris.Wrapf(err, "postgres: set term enabled %s", termID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: term %s not found", termID)
	}
	return nil
}

func (s *PostgresStore) ListTerms(ctx context.Context, configID string, enabledOnly bool) ([]model.TrackedTerm, error) {
	query := `SELECT id, config_id, term, enabled, schedule_mode, frequency,
		day_of_week, day_of_month, hour_utc, created_at
		FROM tracked_terms WHERE config_id = $1`
	if enabledOnly {
		query += ` AND enabled AND schedule_mode != 'disabled'`
	}
	query += ` ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, configID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list terms for %s", configID)
	}
	defer rows.Close()

	var out []model.TrackedTerm
	for rows.Next() {
		var t model.TrackedTerm
		var mode string
		var freq *string
		if err := rows.Scan(&t.ID, &t.ConfigID, &t.Term, &t.Enabled, &mode, &freq,
			&t.DayOfWeek, &t.DayOfMonth, &t.HourUTC, &t.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan term")
		}
		t.ScheduleMode = model.TermScheduleMode(mode)
		if freq != nil {
			t.Frequency = model.Frequency(*freq)
		}
		out = append(out, t)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate terms")
}

func (s *PostgresStore) UpsertCheckResult(ctx context.Context, r model.CheckResult) error {
	competitors, err := json.Marshal(r.Competitors)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal competitors")
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO check_results
			(id, config_id, term_id, check_type, point_label, lat, lng, device, date,
			 status, position, bucket, competitors, raw_ref, checked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (config_id, term_id, check_type, point_label, device, date) DO UPDATE SET
			status = EXCLUDED.status,
			position = EXCLUDED.position,
			bucket = EXCLUDED.bucket,
			competitors = EXCLUDED.competitors,
			raw_ref = EXCLUDED.raw_ref,
			checked_at = EXCLUDED.checked_at`,
		r.ID, r.ConfigID, r.TermID, string(r.CheckType), r.PointLabel, r.Lat, r.Lng,
		string(r.Device), r.Date, string(r.Status), r.Position, string(r.Bucket),
		competitors, r.RawRef, r.CheckedAt,
	)
	return eris.Wrapf(err, "postgres: upsert check result %s", r.ResultKey())
}

func (s *PostgresStore) ListCheckResults(ctx context.Context, configID, date string) ([]model.CheckResult, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, config_id, term_id, check_type, point_label, lat, lng, device, date,
			status, position, bucket, competitors, raw_ref, checked_at
		FROM check_results WHERE config_id = $1 AND date = $2
		ORDER BY term_id, point_label, device`, configID, date)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list check results for %s/%s", configID, date)
	}
	defer rows.Close()

	var out []model.CheckResult
	for rows.Next() {
		var r model.CheckResult
		var checkType, device, status, bucket string
		var competitors []byte
		var rawRef *string
		if err := rows.Scan(&r.ID, &r.ConfigID, &r.TermID, &checkType, &r.PointLabel,
			&r.Lat, &r.Lng, &device, &r.Date, &status, &r.Position, &bucket,
			&competitors, &rawRef, &r.CheckedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan check result")
		}
		r.CheckType = model.CheckType(checkType)
		r.Device = model.Device(device)
		r.Status = model.ResultStatus(status)
		r.Bucket = model.Bucket(bucket)
		if rawRef != nil {
			r.RawRef = *rawRef
		}
		if len(competitors) > 0 && string(competitors) != "null" {
			if err := json.Unmarshal(competitors, &r.Competitors); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal competitors")
			}
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate check results")
}

func (s *PostgresStore) UpsertLLMResult(ctx context.Context, r model.LLMResult) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO llm_results (id, config_id, term_id, provider, date, mentioned, rank, checked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (config_id, term_id, provider, date) DO UPDATE SET
			mentioned = EXCLUDED.mentioned,
			rank = EXCLUDED.rank,
			checked_at = EXCLUDED.checked_at`,
		r.ID, r.ConfigID, r.TermID, r.Provider, r.Date, r.Mentioned, r.Rank, r.CheckedAt,
	)
	return eris.Wrapf(err, "postgres: upsert llm result %s/%s/%s", r.ConfigID, r.TermID, r.Provider)
}

func (s *PostgresStore) ListLLMResults(ctx context.Context, configID, date string) ([]model.LLMResult, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, config_id, term_id, provider, date, mentioned, rank, checked_at
		FROM llm_results WHERE config_id = $1 AND date = $2 ORDER BY term_id, provider`,
		configID, date)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list llm results for %s/%s", configID, date)
	}
	defer rows.Close()

	var out []model.LLMResult
	for rows.Next() {
		var r model.LLMResult
		if err := rows.Scan(&r.ID, &r.ConfigID, &r.TermID, &r.Provider, &r.Date,
			&r.Mentioned, &r.Rank, &r.CheckedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan llm result")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate llm results")
}

func (s *PostgresStore) UpsertDailySummary(ctx context.Context, sum model.DailySummary) error {
	terms, err := json.Marshal(sum.Terms)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal summary terms")
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO daily_summaries
			(id, config_id, date, skipped, terms, visibility_score, mean_position,
			 score_delta, position_delta, generated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (config_id, date) DO UPDATE SET
			skipped = EXCLUDED.skipped,
			terms = EXCLUDED.terms,
			visibility_score = EXCLUDED.visibility_score,
			mean_position = EXCLUDED.mean_position,
			score_delta = EXCLUDED.score_delta,
			position_delta = EXCLUDED.position_delta,
			generated_at = EXCLUDED.generated_at`,
		sum.ID, sum.ConfigID, sum.Date, sum.Skipped, terms, sum.VisibilityScore,
		sum.MeanPosition, sum.ScoreDelta, sum.PositionDelta, sum.GeneratedAt,
	)
	return eris.Wrapf(err, "postgres: upsert summary %s/%s", sum.ConfigID, sum.Date)
}

func scanPGSummary(row pgx.Row) (*model.DailySummary, error) {
	var sum model.DailySummary
	var terms []byte
	err := row.Scan(&sum.ID, &sum.ConfigID, &sum.Date, &sum.Skipped, &terms,
		&sum.VisibilityScore, &sum.MeanPosition, &sum.ScoreDelta, &sum.PositionDelta,
		&sum.GeneratedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(terms, &sum.Terms); err != nil {
		return nil, eris.Wrapf(err, "postgres: unmarshal summary terms for %s", sum.ID)
	}
	return &sum, nil
}

func (s *PostgresStore) GetDailySummary(ctx context.Context, configID, date string) (*model.DailySummary, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+summaryCols+` FROM daily_summaries WHERE config_id = $1 AND date = $2`,
		configID, date)
	sum, err := scanPGSummary(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get summary %s/%s", configID, date)
	}
	return sum, nil
}

func (s *PostgresStore) GetPreviousDailySummary(ctx context.Context, configID, beforeDate string) (*model.DailySummary, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+summaryCols+` FROM daily_summaries
		 WHERE config_id = $1 AND date < $2 ORDER BY date DESC LIMIT 1`,
		configID, beforeDate)
	sum, err := scanPGSummary(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: previous summary for %s before %s", configID, beforeDate)
	}
	return sum, nil
}

func (s *PostgresStore) UpsertAccount(ctx context.Context, acct model.Account) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO accounts (id, balance) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET balance = EXCLUDED.balance`,
		acct.ID, acct.Balance,
	)
	return eris.Wrapf(err, "postgres: upsert account %s", acct.ID)
}

func (s *PostgresStore) GetAccount(ctx context.Context, accountID string) (*model.Account, error) {
	var acct model.Account
	err := s.pool.QueryRow(ctx,
		`SELECT id, balance FROM accounts WHERE id = $1`, accountID,
	).Scan(&acct.ID, &acct.Balance)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get account %s", accountID)
	}
	return &acct, nil
}

// DebitAccount applies a conditional decrement. The WHERE clause carries
// the no-double-spend guarantee under concurrent debits.
func (s *PostgresStore) DebitAccount(ctx context.Context, accountID string, credits int) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE accounts SET balance = balance - $1 WHERE id = $2 AND balance >= $3`,
		credits, accountID, credits,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: debit account %s", accountID)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) CreditAccount(ctx context.Context, accountID string, credits int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE accounts SET balance = balance + $1 WHERE id = $2`, credits, accountID)
	if err != nil {
		return eris.Wrapf(err, "postgres: credit account %s", accountID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: account %s not found", accountID)
	}
	return nil
}

func (s *PostgresStore) InsertLedgerEntry(ctx context.Context, entry model.CreditLedgerEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO credit_ledger (id, account_id, run_id, type, credits, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.AccountID, entry.RunID, string(entry.Type), entry.Credits,
		entry.Note, entry.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert ledger entry %s", entry.ID)
}

func (s *PostgresStore) ListLedgerEntries(ctx context.Context, accountID string, limit int) ([]model.CreditLedgerEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, account_id, run_id, type, credits, note, created_at
		FROM credit_ledger WHERE account_id = $1
		ORDER BY created_at DESC LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list ledger for %s", accountID)
	}
	defer rows.Close()

	var out []model.CreditLedgerEntry
	for rows.Next() {
		var e model.CreditLedgerEntry
		var typ string
		var note *string
		if err := rows.Scan(&e.ID, &e.AccountID, &e.RunID, &typ, &e.Credits, &note, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan ledger entry")
		}
		e.Type = model.LedgerEntryType(typ)
		if note != nil {
			e.Note = *note
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate ledger")
}

func (s *PostgresStore) CreateSchedule(ctx context.Context, sched model.IndividualSchedule) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO individual_schedules
			(id, concept_id, check_type, frequency, day_of_week, day_of_month, hour_utc, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		sched.ID, sched.ConceptID, string(sched.CheckType), string(sched.Frequency),
		sched.DayOfWeek, sched.DayOfMonth, sched.HourUTC, sched.Active, sched.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert schedule %s", sched.ID)
}

func (s *PostgresStore) ListActiveSchedules(ctx context.Context, conceptID string) ([]model.IndividualSchedule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, concept_id, check_type, frequency, day_of_week, day_of_month, hour_utc, active, created_at
		FROM individual_schedules WHERE concept_id = $1 AND active ORDER BY created_at`,
		conceptID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list active schedules for %s", conceptID)
	}
	defer rows.Close()

	var out []model.IndividualSchedule
	for rows.Next() {
		var sc model.IndividualSchedule
		var checkType, freq string
		if err := rows.Scan(&sc.ID, &sc.ConceptID, &checkType, &freq,
			&sc.DayOfWeek, &sc.DayOfMonth, &sc.HourUTC, &sc.Active, &sc.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan schedule")
		}
		sc.CheckType = model.CheckType(checkType)
		sc.Frequency = model.Frequency(freq)
		out = append(out, sc)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate schedules")
}

func (s *PostgresStore) SetScheduleActive(ctx context.Context, scheduleID string, active bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE individual_schedules SET active = $1 WHERE id = $2`, active, scheduleID)
	if err != nil {
		return eris.Wrapf(err, "postgres: set schedule active %s", scheduleID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: schedule %s not found", scheduleID)
	}
	return nil
}

func (s *PostgresStore) RestoreSchedule(ctx context.Context, rec model.PausedScheduleRecord) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE individual_schedules
		SET frequency = $1, day_of_week = $2, day_of_month = $3, hour_utc = $4, active = TRUE
		WHERE id = $5`,
		string(rec.Frequency), rec.DayOfWeek, rec.DayOfMonth, rec.HourUTC, rec.ScheduleID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: restore schedule %s", rec.ScheduleID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: schedule %s not found", rec.ScheduleID)
	}
	return nil
}

func (s *PostgresStore) CreateUnifiedSchedule(ctx context.Context, us model.UnifiedSchedule) error {
	types, err := json.Marshal(us.CheckTypes)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal check types")
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO unified_schedules
			(id, concept_id, check_types, frequency, day_of_week, day_of_month, hour_utc, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		us.ID, us.ConceptID, types, string(us.Frequency),
		us.DayOfWeek, us.DayOfMonth, us.HourUTC, us.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert unified schedule %s", us.ID)
}

func scanPGUnified(row pgx.Row) (*model.UnifiedSchedule, error) {
	var us model.UnifiedSchedule
	var types []byte
	var freq string
	err := row.Scan(&us.ID, &us.ConceptID, &types, &freq,
		&us.DayOfWeek, &us.DayOfMonth, &us.HourUTC, &us.CreatedAt)
	if err != nil {
		return nil, err
	}
	us.Frequency = model.Frequency(freq)
	if err := json.Unmarshal(types, &us.CheckTypes); err != nil {
		return nil, eris.Wrapf(err, "postgres: unmarshal check types for %s", us.ID)
	}
	return &us, nil
}

func (s *PostgresStore) GetUnifiedSchedule(ctx context.Context, id string) (*model.UnifiedSchedule, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+unifiedCols+` FROM unified_schedules WHERE id = $1`, id)
	us, err := scanPGUnified(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get unified schedule %s", id)
	}
	return us, nil
}

func (s *PostgresStore) GetUnifiedScheduleByConcept(ctx context.Context, conceptID string) (*model.UnifiedSchedule, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+unifiedCols+` FROM unified_schedules WHERE concept_id = $1`, conceptID)
	us, err := scanPGUnified(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get unified schedule for concept %s", conceptID)
	}
	return us, nil
}

func (s *PostgresStore) DeleteUnifiedSchedule(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM unified_schedules WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete unified schedule %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: unified schedule %s not found", id)
	}
	return nil
}

func (s *PostgresStore) CreatePausedRecord(ctx context.Context, rec model.PausedScheduleRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO paused_schedule_records
			(id, unified_id, schedule_id, check_type, frequency, day_of_week, day_of_month, hour_utc, paused_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.UnifiedID, rec.ScheduleID, string(rec.CheckType), string(rec.Frequency),
		rec.DayOfWeek, rec.DayOfMonth, rec.HourUTC, rec.PausedAt,
	)
	return eris.Wrapf(err, "postgres: insert paused record %s", rec.ID)
}

func (s *PostgresStore) ListPausedRecords(ctx context.Context, unifiedID string) ([]model.PausedScheduleRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, unified_id, schedule_id, check_type, frequency, day_of_week, day_of_month, hour_utc, paused_at
		FROM paused_schedule_records WHERE unified_id = $1 ORDER BY paused_at`,
		unifiedID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list paused records for %s", unifiedID)
	}
	defer rows.Close()

	var out []model.PausedScheduleRecord
	for rows.Next() {
		rec, err := scanPausedRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan paused record")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate paused records")
}

func (s *PostgresStore) GetPausedRecordBySchedule(ctx context.Context, scheduleID string) (*model.PausedScheduleRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, unified_id, schedule_id, check_type, frequency, day_of_week, day_of_month, hour_utc, paused_at
		FROM paused_schedule_records WHERE schedule_id = $1`, scheduleID)
	rec, err := scanPausedRecord(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get paused record for schedule %s", scheduleID)
	}
	return rec, nil
}

func (s *PostgresStore) DeletePausedRecord(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM paused_schedule_records WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete paused record %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: paused record %s not found", id)
	}
	return nil
}
