package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"taskq/internal/ports"
)

var _ ports.Store = (*Store)(nil)

// Store persists the authoritative coordination state in SQLite. All
// status-affecting writes are guarded conditional updates so concurrent
// control loops resolve races at the database, not with locks.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	log.Info().Str("path", path).Msg("task store ready")
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS task_types (
		id   TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE
	);
	CREATE TABLE IF NOT EXISTS workers (
		id            TEXT PRIMARY KEY,
		name          TEXT NOT NULL,
		status        TEXT NOT NULL CHECK (status IN ('alive','suspected','dead')),
		registered_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS worker_capabilities (
		worker_id    TEXT NOT NULL REFERENCES workers(id),
		task_type_id TEXT NOT NULL REFERENCES task_types(id),
		PRIMARY KEY (worker_id, task_type_id)
	);
	CREATE TABLE IF NOT EXISTS heartbeats (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		worker_id      TEXT NOT NULL REFERENCES workers(id),
		heartbeat_time INTEGER NOT NULL,
		created_at     INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_heartbeats_worker ON heartbeats(worker_id, heartbeat_time);
	CREATE TABLE IF NOT EXISTS tasks (
		id           TEXT PRIMARY KEY,
		task_type_id TEXT NOT NULL REFERENCES task_types(id),
		input_data   TEXT,
		status       TEXT NOT NULL CHECK (status IN ('pending','queued','running','completed','failed','cancelled')),
		created_at   INTEGER NOT NULL,
		assigned_to  TEXT REFERENCES workers(id),
		CHECK ((assigned_to IS NOT NULL) = (status IN ('queued','running')))
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_status_type ON tasks(status, task_type_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_tasks_assigned ON tasks(assigned_to) WHERE assigned_to IS NOT NULL;
	CREATE TABLE IF NOT EXISTS task_results (
		id           TEXT PRIMARY KEY,
		task_id      TEXT NOT NULL UNIQUE REFERENCES tasks(id),
		output_data  TEXT,
		error_data   TEXT,
		completed_at INTEGER NOT NULL,
		worker_id    TEXT NOT NULL,
		created_at   INTEGER NOT NULL,
		CHECK ((output_data IS NULL) <> (error_data IS NULL))
	);`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// withTx runs fn in an immediate transaction, committing on nil error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms) }
