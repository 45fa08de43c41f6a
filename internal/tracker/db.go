package tracker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNoArchive is returned when an archive is required but none is configured
var ErrNoArchive = errors.New("no archive configured")

// DB is a SQLite archive of call records. It is an export target for ledger
// snapshots; the ledger itself never reads from it implicitly.
type DB struct {
	db *sql.DB
}

const callColumns = `provider, model, caller, conversation_id, prompt_tokens, completion_tokens,
	total_tokens, cost, duration_ms, success, recorded_at`

// Open opens the database at the given path
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return d, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.db.Close()
}

// migrate creates the database tables if they don't exist
func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS calls (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		model TEXT NOT NULL,
		caller TEXT NOT NULL,
		conversation_id TEXT NOT NULL DEFAULT '',
		prompt_tokens INTEGER DEFAULT 0,
		completion_tokens INTEGER DEFAULT 0,
		total_tokens INTEGER DEFAULT 0,
		cost REAL DEFAULT 0,
		duration_ms REAL DEFAULT 0,
		success INTEGER NOT NULL DEFAULT 1,
		recorded_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_calls_recorded_at ON calls(recorded_at);
	CREATE INDEX IF NOT EXISTS idx_calls_caller ON calls(caller);
	CREATE INDEX IF NOT EXISTS idx_calls_run_id ON calls(run_id);

	CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT,
		updated_at INTEGER
	);
	`

	_, err := db.db.Exec(schema)
	return err
}

// InsertCalls stores records under runID in a single transaction
func (db *DB) InsertCalls(ctx context.Context, runID string, records []CallRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO calls (run_id, `+callColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		_, err := stmt.ExecContext(ctx, runID,
			r.Provider, r.Model, r.Caller, r.ConversationID, r.PromptTokens, r.CompletionTokens,
			r.TotalTokens, r.EstimatedCostUSD, r.DurationMs, r.Success, r.Timestamp.UnixNano())
		if err != nil {
			return fmt.Errorf("failed to insert call: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit calls: %w", err)
	}
	return nil
}

// GetCalls returns archived calls recorded at or after since, oldest first.
// A zero since returns every call.
func (db *DB) GetCalls(ctx context.Context, since time.Time) ([]CallRecord, error) {
	query := `SELECT ` + callColumns + ` FROM calls`
	var args []any
	if !since.IsZero() {
		query += ` WHERE recorded_at >= ?`
		args = append(args, since.UnixNano())
	}
	query += ` ORDER BY recorded_at, id`

	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query calls: %w", err)
	}
	defer rows.Close()

	var calls []CallRecord
	for rows.Next() {
		var r CallRecord
		var recordedAt int64
		err := rows.Scan(
			&r.Provider, &r.Model, &r.Caller, &r.ConversationID, &r.PromptTokens, &r.CompletionTokens,
			&r.TotalTokens, &r.EstimatedCostUSD, &r.DurationMs, &r.Success, &recordedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call: %w", err)
		}
		r.Timestamp = time.Unix(0, recordedAt)
		calls = append(calls, r)
	}
	return calls, rows.Err()
}

// CountCalls returns the number of archived calls, optionally for one run
func (db *DB) CountCalls(ctx context.Context, runID string) (int64, error) {
	query := `SELECT COUNT(*) FROM calls`
	var args []any
	if runID != "" {
		query += ` WHERE run_id = ?`
		args = append(args, runID)
	}

	var count int64
	if err := db.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count calls: %w", err)
	}
	return count, nil
}

// SetLastArchiveTime records when a run last wrote to the archive
func (db *DB) SetLastArchiveTime(ctx context.Context, runID string, ts time.Time) error {
	query := `INSERT OR REPLACE INTO metadata (key, value, updated_at) VALUES (?, ?, ?)`
	_, err := db.db.ExecContext(ctx, query, "last_archive", runID, ts.Unix())
	if err != nil {
		return fmt.Errorf("failed to set last archive time: %w", err)
	}
	return nil
}

// GetLastArchiveTime returns the last archive time and run id (zero time if never archived)
func (db *DB) GetLastArchiveTime(ctx context.Context) (time.Time, string, error) {
	query := `SELECT value, updated_at FROM metadata WHERE key = ?`
	var runID string
	var updatedAt int64
	err := db.db.QueryRowContext(ctx, query, "last_archive").Scan(&runID, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, "", nil
		}
		return time.Time{}, "", fmt.Errorf("failed to get last archive time: %w", err)
	}
	return time.Unix(updatedAt, 0), runID, nil
}
