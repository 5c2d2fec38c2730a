package storage

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/posturewatch?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db, placeholder: func(n int) string { return "$" + strconv.Itoa(n) }}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.exec(ctx, []string{
		`CREATE TABLE IF NOT EXISTS alert_events (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			session_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			volume DOUBLE PRECISION NOT NULL,
			overall TEXT NOT NULL,
			error TEXT,
			verdict_json JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alert_events_ts ON alert_events(ts)`,
		`CREATE TABLE IF NOT EXISTS verdicts (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			session_id TEXT NOT NULL,
			source TEXT NOT NULL,
			detected BOOLEAN NOT NULL,
			bad BOOLEAN NOT NULL,
			head TEXT NOT NULL,
			shoulders TEXT NOT NULL,
			overall TEXT NOT NULL,
			shoulder_tilt DOUBLE PRECISION NOT NULL,
			ear_tilt DOUBLE PRECISION NOT NULL,
			shoulder_height DOUBLE PRECISION NOT NULL,
			deviation DOUBLE PRECISION NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_verdicts_session_ts ON verdicts(session_id, ts)`,
	})
}
