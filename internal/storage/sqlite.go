package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:posturewatch.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db, placeholder: func(int) string { return "?" }}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.exec(ctx, []string{
		`CREATE TABLE IF NOT EXISTS alert_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TIMESTAMP NOT NULL,
			session_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			volume REAL NOT NULL,
			overall TEXT NOT NULL,
			error TEXT,
			verdict_json TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alert_events_ts ON alert_events(ts)`,
		`CREATE TABLE IF NOT EXISTS verdicts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TIMESTAMP NOT NULL,
			session_id TEXT NOT NULL,
			source TEXT NOT NULL,
			detected INTEGER NOT NULL,
			bad INTEGER NOT NULL,
			head TEXT NOT NULL,
			shoulders TEXT NOT NULL,
			overall TEXT NOT NULL,
			shoulder_tilt REAL NOT NULL,
			ear_tilt REAL NOT NULL,
			shoulder_height REAL NOT NULL,
			deviation REAL NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_verdicts_session_ts ON verdicts(session_id, ts)`,
	})
}
