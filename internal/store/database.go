package store

import (
	"context"
	"fmt"

	"ollama-chat-bridge/internal/db"
)

// DatabaseLedger stores generation records in PostgreSQL or SQLite
type DatabaseLedger struct {
	db *db.DB
}

// NewDatabaseLedger creates a ledger on an already migrated database
func NewDatabaseLedger(database *db.DB) *DatabaseLedger {
	return &DatabaseLedger{db: database}
}

// Record inserts one generation record
func (dl *DatabaseLedger) Record(ctx context.Context, g Generation) error {
	if g.ID == "" || g.SessionID == "" {
		return fmt.Errorf("id and session_id are required")
	}

	query := dl.db.Rebind(`
		INSERT INTO generations (id, session_id, model, outcome, chunks, response_chars, error, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	_, err := dl.db.ExecContext(ctx, query,
		g.ID, g.SessionID, g.Model, g.Outcome, g.Chunks, g.ResponseChars, g.Error, g.StartedAt.UTC(), g.DurationMS)
	if err != nil {
		return fmt.Errorf("failed to save generation: %w", err)
	}

	return nil
}

// Recent returns the newest records first
func (dl *DatabaseLedger) Recent(ctx context.Context, limit int) ([]Generation, error) {
	if limit <= 0 {
		limit = 100
	}

	query := dl.db.Rebind(`
		SELECT id, session_id, model, outcome, chunks, response_chars, error, started_at, duration_ms
		FROM generations
		ORDER BY started_at DESC
		LIMIT ?
	`)

	rows, err := dl.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query generations: %w", err)
	}
	defer rows.Close()

	out := []Generation{}
	for rows.Next() {
		var g Generation
		if err := rows.Scan(
			&g.ID,
			&g.SessionID,
			&g.Model,
			&g.Outcome,
			&g.Chunks,
			&g.ResponseChars,
			&g.Error,
			&g.StartedAt,
			&g.DurationMS,
		); err != nil {
			return nil, fmt.Errorf("failed to scan generation: %w", err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read generations: %w", err)
	}

	return out, nil
}

// Ping checks that the database still answers
func (dl *DatabaseLedger) Ping(ctx context.Context) error {
	return dl.db.HealthCheck(ctx)
}

// Close closes the underlying database
func (dl *DatabaseLedger) Close() error {
	return dl.db.Close()
}
