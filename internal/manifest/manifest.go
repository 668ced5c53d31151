package manifest

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Record is the manifest entry for one pipeline run. It indexes what a
// run produced; artifact resolution never depends on it.
type Record struct {
	RunID      string            `json:"run_id"`
	Version    string            `json:"version,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	IssueCount int               `json:"issue_count"`
	Failed     int               `json:"failed"`
	Files      map[string]string `json:"files,omitempty"`
	Complete   bool              `json:"complete"`
	Error      string            `json:"error,omitempty"`
}

type Store interface {
	Save(ctx context.Context, rec Record) error
	Get(ctx context.Context, runID string) (Record, error)
	List(ctx context.Context, limit int) ([]Record, error)
	Close() error
}

var ErrNotFound = errors.New("manifest record not found")

const schema = `
CREATE TABLE IF NOT EXISTS pipeline_runs (
	run_id      TEXT PRIMARY KEY,
	version     TEXT NOT NULL DEFAULT '',
	started_at  TEXT NOT NULL,
	finished_at TEXT NOT NULL DEFAULT '',
	issue_count INTEGER NOT NULL DEFAULT 0,
	failed      INTEGER NOT NULL DEFAULT 0,
	files       TEXT NOT NULL DEFAULT '{}',
	complete    INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT ''
)`

// SQLStore keeps records in SQLite or Postgres through database/sql.
// Times are stored as UTC RFC3339 text so both dialects order them the
// same way.
type SQLStore struct {
	db       *sql.DB
	postgres bool
}

// OpenSQLite opens (creating if needed) a SQLite manifest at path.
func OpenSQLite(ctx context.Context, path string) (*SQLStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("manifest path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create manifest dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	return initStore(ctx, db, false)
}

func OpenPostgres(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, err
	}
	return initStore(ctx, db, true)
}

func initStore(ctx context.Context, db *sql.DB, postgres bool) (*SQLStore, error) {
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure pipeline_runs: %w", err)
	}
	return &SQLStore{db: db, postgres: postgres}, nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) Save(ctx context.Context, rec Record) error {
	if strings.TrimSpace(rec.RunID) == "" {
		return fmt.Errorf("run_id is required")
	}
	files, err := json.Marshal(rec.Files)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`
INSERT INTO pipeline_runs (run_id, version, started_at, finished_at, issue_count, failed, files, complete, error)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (run_id) DO UPDATE SET
	version = excluded.version,
	finished_at = excluded.finished_at,
	issue_count = excluded.issue_count,
	failed = excluded.failed,
	files = excluded.files,
	complete = excluded.complete,
	error = excluded.error`),
		rec.RunID, rec.Version, formatTime(rec.StartedAt), formatTime(rec.FinishedAt),
		rec.IssueCount, rec.Failed, string(files), boolInt(rec.Complete), rec.Error,
	)
	return err
}

const selectColumns = `run_id, version, started_at, finished_at, issue_count, failed, files, complete, error`

func (s *SQLStore) Get(ctx context.Context, runID string) (Record, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+selectColumns+` FROM pipeline_runs WHERE run_id = ?`), runID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

// List returns the newest records first.
func (s *SQLStore) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+selectColumns+` FROM pipeline_runs ORDER BY started_at DESC, run_id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Record, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (Record, error) {
	var (
		rec               Record
		started, finished string
		files             string
		complete          int
	)
	if err := sc.Scan(&rec.RunID, &rec.Version, &started, &finished, &rec.IssueCount, &rec.Failed, &files, &complete, &rec.Error); err != nil {
		return Record{}, err
	}
	rec.StartedAt = parseTime(started)
	rec.FinishedAt = parseTime(finished)
	rec.Complete = complete != 0
	if files != "" && files != "null" {
		if err := json.Unmarshal([]byte(files), &rec.Files); err != nil {
			return Record{}, fmt.Errorf("decode files for %s: %w", rec.RunID, err)
		}
	}
	return rec, nil
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *SQLStore) rebind(q string) string {
	if !s.postgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// timeLayout is fixed width so text order is time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
