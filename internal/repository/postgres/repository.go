package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"newsletter-briefing/internal/model"

	_ "github.com/lib/pq"
)

type PostgresStateRepository struct {
	db *sql.DB
}

// Open connects to databaseURL and makes sure the schema exists.
func Open(ctx context.Context, databaseURL string) (*PostgresStateRepository, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := InitializeDatabase(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return NewPostgresStateRepository(db), nil
}

func NewPostgresStateRepository(db *sql.DB) *PostgresStateRepository {
	return &PostgresStateRepository{db: db}
}

func (r *PostgresStateRepository) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM processed_messages WHERE message_id = $1)`
	if err := r.db.QueryRowContext(ctx, query, messageID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (r *PostgresStateRepository) MarkProcessed(ctx context.Context, messageIDs ...string) error {
	if len(messageIDs) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO processed_messages (message_id, processed_at)
		VALUES ($1, $2)
		ON CONFLICT (message_id) DO UPDATE SET processed_at = EXCLUDED.processed_at`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, id := range messageIDs {
		if _, err := stmt.ExecContext(ctx, id, now); err != nil {
			return fmt.Errorf("failed to mark %s processed: %w", id, err)
		}
	}
	return tx.Commit()
}

func (r *PostgresStateRepository) LastRunTime(ctx context.Context) (*time.Time, error) {
	var next sql.NullTime
	query := `SELECT MAX(next_since) FROM runs`
	if err := r.db.QueryRowContext(ctx, query).Scan(&next); err != nil {
		return nil, err
	}
	if !next.Valid {
		return nil, nil
	}
	t := next.Time.UTC()
	return &t, nil
}

func (r *PostgresStateRepository) RecordRun(ctx context.Context, run *model.RunRecord) error {
	query := `
		INSERT INTO runs (id, ran_at, next_since, messages_processed)
		VALUES ($1, $2, $3, $4)`
	_, err := r.db.ExecContext(ctx, query, run.ID, run.RanAt, run.NextSince, run.MessagesProcessed)
	return err
}

func (r *PostgresStateRepository) Close() error {
	return r.db.Close()
}

// InitializeDatabase creates the necessary tables
func InitializeDatabase(ctx context.Context, db *sql.DB) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS processed_messages (
			message_id VARCHAR(255) PRIMARY KEY,
			processed_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			id VARCHAR(255) PRIMARY KEY,
			ran_at TIMESTAMPTZ NOT NULL,
			next_since TIMESTAMPTZ NOT NULL,
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
