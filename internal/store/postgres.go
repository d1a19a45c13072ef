package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/sells-group/sightings/internal/db"
	"github.com/sells-group/sightings/internal/model"
)

// PostgresStore implements Store using pgxpool and PostGIS.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	upsertReportNumberSQL = `INSERT INTO report_numbers (coord_key, latitude, longitude, location)
		VALUES ($1, $2, $3, ST_GeomFromEWKB($4))
		ON CONFLICT (coord_key) DO UPDATE SET coord_key = EXCLUDED.coord_key
		RETURNING id`
	getTrustScoreSQL = `SELECT score FROM trust_scores WHERE account_id = $1`
	setTrustScoreSQL = `INSERT INTO trust_scores (account_id, score, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (account_id) DO UPDATE SET score = EXCLUDED.score, updated_at = EXCLUDED.updated_at`
	insertMetadataSQL = `INSERT INTO request_metadata (idempotency_key, account_id, ip, user_agent, logged_in, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (idempotency_key) DO NOTHING`
)

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE EXTENSION IF NOT EXISTS postgis;

CREATE TABLE IF NOT EXISTS report_numbers (
	id         BIGSERIAL PRIMARY KEY,
	coord_key  TEXT NOT NULL UNIQUE,
	latitude   DOUBLE PRECISION NOT NULL,
	longitude  DOUBLE PRECISION NOT NULL,
	location   geometry(Point, 4326) NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_report_numbers_location ON report_numbers USING GIST (location);

CREATE TABLE IF NOT EXISTS trust_scores (
	account_id TEXT PRIMARY KEY,
	score      DOUBLE PRECISION NOT NULL CHECK (score >= 0 AND score <= 1),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS request_metadata (
	idempotency_key TEXT PRIMARY KEY,
	account_id      TEXT NOT NULL,
	ip              TEXT,
	user_agent      TEXT,
	logged_in       BOOLEAN NOT NULL DEFAULT false,
	recorded_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_request_metadata_account ON request_metadata(account_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// encodePoint returns an EWKB point in SRID 4326.
func encodePoint(lat, lon float64) ([]byte, error) {
	g := geom.NewPointFlat(geom.XY, []float64{lon, lat}).SetSRID(4326)
	data, err := ewkb.Marshal(g, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: encode point")
	}
	return data, nil
}

func (s *PostgresStore) ReportNumber(ctx context.Context, lat, lon float64) (string, error) {
	point, err := encodePoint(lat, lon)
	if err != nil {
		return "", err
	}

	var id int64
	err = s.pool.QueryRow(ctx, upsertReportNumberSQL,
		CoordKey(lat, lon), round5(lat), round5(lon), point,
	).Scan(&id)
	if err != nil {
		return "", eris.Wrap(err, "postgres: upsert report number")
	}
	return FormatReportNumber(id), nil
}

func (s *PostgresStore) TrustScore(ctx context.Context, accountID string) (float64, bool, error) {
	var score float64
	err := s.pool.QueryRow(ctx, getTrustScoreSQL, accountID).Scan(&score)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, eris.Wrapf(err, "postgres: get trust score %s", accountID)
	}
	return score, true, nil
}

func (s *PostgresStore) SetTrustScore(ctx context.Context, accountID string, score float64) error {
	if err := checkScore(score); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, setTrustScoreSQL, accountID, score, time.Now().UTC())
	return eris.Wrapf(err, "postgres: set trust score %s", accountID)
}

func (s *PostgresStore) RecordRequestMetadata(ctx context.Context, key, accountID string, meta model.RequestMetadata) error {
	_, err := s.pool.Exec(ctx, insertMetadataSQL,
		key, accountID, meta.IP, meta.UserAgent, meta.LoggedIn, time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: record request metadata")
}
