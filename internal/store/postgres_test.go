package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/rank-tracker/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgres(mock), mock
}

func TestPostgresStore_GetConfig_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .+ FROM tracking_configs WHERE id = \$1`).
		WithArgs("ghost").
		WillReturnError(pgx.ErrNoRows)

	got, err := s.GetConfig(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetConfig_Found(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := pgxmock.NewRows([]string{
		"id", "account_id", "business_id", "name", "center_lat", "center_lng",
		"radius_miles", "grid_size", "points", "devices", "frequency",
		"day_of_week", "day_of_month", "hour_utc",
		"last_run_at", "next_scheduled_at", "created_at", "updated_at",
	}).AddRow(
		"cfg-1", "acct-1", "place-abc", "Downtown Coffee", 45.5, -122.6,
		5.0, 9, []byte(`[{"lat":45.5,"lng":-122.6,"label":"r1c1"}]`),
		[]byte(`["desktop"]`), "daily",
		0, 1, 6,
		(*time.Time)(nil), (*time.Time)(nil), created, created,
	)
	mock.ExpectQuery(`SELECT .+ FROM tracking_configs WHERE id = \$1`).
		WithArgs("cfg-1").
		WillReturnRows(rows)

	got, err := s.GetConfig(context.Background(), "cfg-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Downtown Coffee", got.Name)
	assert.Equal(t, model.FreqDaily, got.Frequency)
	require.Len(t, got.Points, 1)
	assert.Equal(t, "r1c1", got.Points[0].Label)
	assert.Equal(t, []model.Device{model.DeviceDesktop}, got.Devices)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertCheckResult_OnConflict(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO check_results .+ ON CONFLICT`).
		WithArgs(
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	r := model.CheckResult{
		ID: "r1", ConfigID: "cfg-1", TermID: "t1", CheckType: model.CheckGeoGrid,
		PointLabel: "r0c0", Lat: 45.5, Lng: -122.6, Device: model.DeviceDesktop,
		Date: "2026-03-02", Status: model.ResultOK, Bucket: model.BucketInvisible,
		CheckedAt: time.Now().UTC(),
	}
	require.NoError(t, s.UpsertCheckResult(context.Background(), r))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DebitAccount_Sufficient(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE accounts SET balance = balance - \$1 WHERE id = \$2 AND balance >= \$3`).
		WithArgs(7, "acct-1", 7).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	ok, err := s.DebitAccount(context.Background(), "acct-1", 7)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DebitAccount_Insufficient(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	// Zero rows affected means the balance guard rejected the debit.
	mock.ExpectExec(`UPDATE accounts SET balance = balance - \$1`).
		WithArgs(100, "acct-1", 100).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := s.DebitAccount(context.Background(), "acct-1", 100)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetDailySummary_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .+ FROM daily_summaries WHERE config_id = \$1 AND date = \$2`).
		WithArgs("cfg-1", "2026-03-02").
		WillReturnError(pgx.ErrNoRows)

	got, err := s.GetDailySummary(context.Background(), "cfg-1", "2026-03-02")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetUnifiedScheduleByConcept_Found(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	created := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	rows := pgxmock.NewRows([]string{
		"id", "concept_id", "check_types", "frequency",
		"day_of_week", "day_of_month", "hour_utc", "created_at",
	}).AddRow(
		"u1", "concept-1", []byte(`["search_rank","geo_grid"]`), "daily",
		0, 1, 6, created,
	)
	mock.ExpectQuery(`SELECT .+ FROM unified_schedules WHERE concept_id = \$1`).
		WithArgs("concept-1").
		WillReturnRows(rows)

	got, err := s.GetUnifiedScheduleByConcept(context.Background(), "concept-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []model.CheckType{model.CheckSearchRank, model.CheckGeoGrid}, got.CheckTypes)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetScheduleActive_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE individual_schedules SET active = \$1 WHERE id = \$2`).
		WithArgs(false, "ghost").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.SetScheduleActive(context.Background(), "ghost", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}
