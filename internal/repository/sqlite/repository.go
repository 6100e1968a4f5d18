package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"newsletter-briefing/internal/model"

	_ "modernc.org/sqlite"
)

// Fixed-width UTC timestamps so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type SQLiteStateRepository struct {
	db *sql.DB
}

// Open creates the database file and its parent directory if needed.
func Open(ctx context.Context, path string) (*SQLiteStateRepository, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	// One writer per run; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := InitializeDatabase(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStateRepository{db: db}, nil
}

func (r *SQLiteStateRepository) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	var n int
	query := `SELECT COUNT(1) FROM processed_messages WHERE message_id = ?`
	if err := r.db.QueryRowContext(ctx, query, messageID).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *SQLiteStateRepository) MarkProcessed(ctx context.Context, messageIDs ...string) error {
	if len(messageIDs) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(timeLayout)
	for _, id := range messageIDs {
		_, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO processed_messages (message_id, processed_at) VALUES (?, ?)`, id, now)
		if err != nil {
			return fmt.Errorf("failed to mark %s processed: %w", id, err)
		}
	}
	return tx.Commit()
}

func (r *SQLiteStateRepository) LastRunTime(ctx context.Context) (*time.Time, error) {
	var next sql.NullString
	query := `SELECT next_since FROM runs ORDER BY next_since DESC LIMIT 1`
	err := r.db.QueryRowContext(ctx, query).Scan(&next)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !next.Valid) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	t, err := time.Parse(timeLayout, next.String)
	if err != nil {
		return nil, fmt.Errorf("failed to parse stored run time %q: %w", next.String, err)
	}
	t = t.UTC()
	return &t, nil
}

func (r *SQLiteStateRepository) RecordRun(ctx context.Context, run *model.RunRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO runs (id, ran_at, next_since, messages_processed) VALUES (?, ?, ?, ?)`,
		run.ID, run.RanAt.UTC().Format(timeLayout), run.NextSince.UTC().Format(timeLayout), run.MessagesProcessed)
	return err
}

func (r *SQLiteStateRepository) Close() error {
	return r.db.Close()
}

func InitializeDatabase(ctx context.Context, db *sql.DB) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS processed_messages (
			message_id TEXT PRIMARY KEY,
			processed_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			ran_at TEXT NOT NULL,
			next_since TEXT NOT NULL,
			messages_processed INTEGER NOT NULL
		)`,
	}

	for _, table := range tables {
		if _, err := db.ExecContext(ctx, table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}
