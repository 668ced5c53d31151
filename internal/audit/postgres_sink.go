package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const downloadEventsSchema = `
CREATE TABLE IF NOT EXISTS download_events (
	id          BIGSERIAL PRIMARY KEY,
	identity    TEXT NOT NULL,
	format      TEXT NOT NULL,
	occurred_at TIMESTAMPTZ NOT NULL
)`

// PostgresSink mirrors events into a download_events table.
type PostgresSink struct {
	db *sql.DB
}

func NewPostgresSink(ctx context.Context, dsn string) (*PostgresSink, error) {
	db, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, downloadEventsSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure download_events: %w", err)
	}
	return &PostgresSink{db: db}, nil
}

func (s *PostgresSink) Name() string { return "postgres:download_events" }

func (s *PostgresSink) Append(ctx context.Context, ev Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO download_events (identity, format, occurred_at) VALUES ($1, $2, $3)`,
		ev.Identity, ev.Format, ev.Timestamp,
	)
	return err
}

func (s *PostgresSink) Close() error { return s.db.Close() }
