package store

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sightings/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_ReportNumber(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`INSERT INTO report_numbers .* ON CONFLICT \(coord_key\) DO UPDATE .* RETURNING id`).
		WithArgs("1.00000,2.00000", 1.0, 2.0, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(42)))

	num, err := s.ReportNumber(context.Background(), 1.0, 2.0)
	require.NoError(t, err)
	assert.Equal(t, "RPT-000042", num)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReportNumber_RoundsCoordinates(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`INSERT INTO report_numbers`).
		WithArgs("51.50740,-0.12780", 51.5074, -0.1278, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))

	num, err := s.ReportNumber(context.Background(), 51.507400004, -0.127800001)
	require.NoError(t, err)
	assert.Equal(t, "RPT-000007", num)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReportNumber_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`INSERT INTO report_numbers`).
		WithArgs("1.00000,2.00000", 1.0, 2.0, pgxmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))

	_, err := s.ReportNumber(context.Background(), 1.0, 2.0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upsert report number")
	assert.Contains(t, err.Error(), "connection reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_TrustScore(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT score FROM trust_scores WHERE account_id = \$1`).
		WithArgs("acct-1").
		WillReturnRows(pgxmock.NewRows([]string{"score"}).AddRow(0.93))

	score, ok, err := s.TrustScore(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.InDelta(t, 0.93, score, 0.0001)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_TrustScore_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT score FROM trust_scores`).
		WithArgs("unknown").
		WillReturnError(pgx.ErrNoRows)

	score, ok, err := s.TrustScore(context.Background(), "unknown")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, score)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetTrustScore(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO trust_scores .* ON CONFLICT \(account_id\) DO UPDATE`).
		WithArgs("acct-1", 0.4, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.SetTrustScore(context.Background(), "acct-1", 0.4))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetTrustScore_OutOfRange(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	err := s.SetTrustScore(context.Background(), "acct-1", 1.2)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrScoreRange)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordRequestMetadata(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO request_metadata .* ON CONFLICT \(idempotency_key\) DO NOTHING`).
		WithArgs("sighting-1/trust", "acct-1", "10.0.0.1", "curl/8", true, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.RecordRequestMetadata(context.Background(), "sighting-1/trust", "acct-1",
		model.RequestMetadata{IP: "10.0.0.1", UserAgent: "curl/8", LoggedIn: true})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS report_numbers`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Ping_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`SELECT 1`).WillReturnError(errors.New("down"))

	err := s.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: ping")
}

func TestEncodePoint(t *testing.T) {
	data, err := encodePoint(1.0, 2.0)
	require.NoError(t, err)
	// NDR byte order marker, point type with the SRID flag.
	require.GreaterOrEqual(t, len(data), 25)
	assert.Equal(t, byte(0x01), data[0])
}

func TestCoordKey(t *testing.T) {
	assert.Equal(t, "1.00000,2.00000", CoordKey(1, 2))
	assert.Equal(t, CoordKey(10.123454, -3.5), CoordKey(10.1234549, -3.500001))
	assert.NotEqual(t, CoordKey(10.12345, 1), CoordKey(10.12346, 1))
	assert.Equal(t, "0.00000,0.00000", CoordKey(-0.000001, 0.000001))
}
