package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/sightings/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It is meant for
// local development; coordinates are stored as plain columns.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
// A "sqlite://" or "file:" prefix on dsn is accepted.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	dsn = strings.TrimPrefix(dsn, "sqlite://")
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS report_numbers (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	coord_key  TEXT NOT NULL UNIQUE,
	latitude   REAL NOT NULL,
	longitude  REAL NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS trust_scores (
	account_id TEXT PRIMARY KEY,
	score      REAL NOT NULL CHECK (score >= 0 AND score <= 1),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS request_metadata (
	idempotency_key TEXT PRIMARY KEY,
	account_id      TEXT NOT NULL,
	ip              TEXT,
	user_agent      TEXT,
	logged_in       INTEGER NOT NULL DEFAULT 0,
	recorded_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_request_metadata_account ON request_metadata(account_id);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ReportNumber(ctx context.Context, lat, lon float64) (string, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO report_numbers (coord_key, latitude, longitude) VALUES (?, ?, ?)
		 ON CONFLICT (coord_key) DO UPDATE SET coord_key = excluded.coord_key
		 RETURNING id`,
		CoordKey(lat, lon), round5(lat), round5(lon),
	).Scan(&id)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: upsert report number")
	}
	return FormatReportNumber(id), nil
}

func (s *SQLiteStore) TrustScore(ctx context.Context, accountID string) (float64, bool, error) {
	var score float64
	err := s.db.QueryRowContext(ctx,
		`SELECT score FROM trust_scores WHERE account_id = ?`, accountID,
	).Scan(&score)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, eris.Wrapf(err, "sqlite: get trust score %s", accountID)
	}
	return score, true, nil
}

func (s *SQLiteStore) SetTrustScore(ctx context.Context, accountID string, score float64) error {
	if err := checkScore(score); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trust_scores (account_id, score, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (account_id) DO UPDATE SET score = excluded.score, updated_at = excluded.updated_at`,
		accountID, score, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: set trust score %s", accountID)
}

func (s *SQLiteStore) RecordRequestMetadata(ctx context.Context, key, accountID string, meta model.RequestMetadata) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO request_metadata (idempotency_key, account_id, ip, user_agent, logged_in, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (idempotency_key) DO NOTHING`,
		key, accountID, meta.IP, meta.UserAgent, meta.LoggedIn, time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: record request metadata")
}
