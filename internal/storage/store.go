// Package storage persists alert events and sampled verdicts to SQL.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"posturewatch/internal/config"
	"posturewatch/internal/model"
)

// VerdictSample is one persisted classifier result.
type VerdictSample struct {
	SessionID string
	Source    string
	Verdict   model.Verdict
	Bad       bool
}

type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveAlertEvent(ctx context.Context, ev model.AlertEvent) error
	SaveVerdicts(ctx context.Context, samples []VerdictSample) error
}

// NewStore returns nil, nil when storage is disabled.
func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

// baseStore carries the SQL shared by both drivers; placeholder renders the
// n-th (1-based) bind parameter in the driver's syntax.
type baseStore struct {
	db          *sql.DB
	placeholder func(n int) string
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *baseStore) exec(ctx context.Context, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (b *baseStore) binds(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = b.placeholder(i + 1)
	}
	return strings.Join(parts, ", ")
}

func (b *baseStore) SaveAlertEvent(ctx context.Context, ev model.AlertEvent) error {
	if b.db == nil {
		return nil
	}
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO alert_events (ts, session_id, kind, volume, overall, error, verdict_json)
		VALUES (`+b.binds(7)+`)`,
		ev.Timestamp.UTC(),
		ev.SessionID,
		string(ev.Kind),
		ev.Volume,
		string(ev.Verdict.Overall),
		ev.Error,
		encodeJSON(ev.Verdict),
	)
	return err
}

func (b *baseStore) SaveVerdicts(ctx context.Context, samples []VerdictSample) error {
	if b.db == nil || len(samples) == 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO verdicts (ts, session_id, source, detected, bad, head, shoulders, overall, shoulder_tilt, ear_tilt, shoulder_height, deviation)
		VALUES (`+b.binds(12)+`)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, s := range samples {
		v := s.Verdict
		if _, err := stmt.ExecContext(ctx,
			v.Timestamp.UTC(),
			s.SessionID,
			s.Source,
			v.Detected,
			s.Bad,
			string(v.Head),
			string(v.Shoulders),
			string(v.Overall),
			v.ShoulderTilt,
			v.EarTilt,
			v.ShoulderHeight,
			v.Deviation,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}
