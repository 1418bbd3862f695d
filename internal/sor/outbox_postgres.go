package sor

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresOutbox is the OUTBOX_BACKEND=postgres alternative to FileOutbox:
// the same pending/acked/terminal journal, persisted as rows instead of
// JSON lines, queryable for replay and audit without a log-scan.
type PostgresOutbox struct {
	db *sql.DB
}

// NewPostgresOutbox opens a connection pool against dsn and ensures the
// outbox_entries table exists.
func NewPostgresOutbox(ctx context.Context, dsn string) (*PostgresOutbox, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("sor: opening postgres outbox: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("sor: pinging postgres outbox: %w", err)
	}
	const schema = `
CREATE TABLE IF NOT EXISTS outbox_entries (
	intent_key TEXT PRIMARY KEY,
	coid TEXT NOT NULL,
	state TEXT NOT NULL,
	created_ts TIMESTAMPTZ NOT NULL,
	updated_ts TIMESTAMPTZ NOT NULL
)`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("sor: creating outbox_entries table: %w", err)
	}
	return &PostgresOutbox{db: db}, nil
}

// ShouldSend returns false if a pending/acked row already exists for key.
func (p *PostgresOutbox) ShouldSend(ctx context.Context, key, coid string, now time.Time) (bool, error) {
	var state OutboxState
	err := p.db.QueryRowContext(ctx, `SELECT state FROM outbox_entries WHERE intent_key = $1`, key).Scan(&state)
	switch {
	case err == sql.ErrNoRows:
		_, execErr := p.db.ExecContext(ctx, `INSERT INTO outbox_entries (intent_key, coid, state, created_ts, updated_ts) VALUES ($1,$2,'pending',$3,$3)`, key, coid, now)
		return execErr == nil, execErr
	case err != nil:
		return false, err
	case state == OutboxPending || state == OutboxAcked:
		return false, nil
	default:
		_, execErr := p.db.ExecContext(ctx, `UPDATE outbox_entries SET state='pending', coid=$2, updated_ts=$3 WHERE intent_key=$1`, key, coid, now)
		return execErr == nil, execErr
	}
}

// MarkAcked transitions key to acked.
func (p *PostgresOutbox) MarkAcked(ctx context.Context, key string, now time.Time) error {
	_, err := p.db.ExecContext(ctx, `UPDATE outbox_entries SET state='acked', updated_ts=$2 WHERE intent_key=$1`, key, now)
	return err
}

// MarkTerminal transitions key to terminal; the row is retained.
func (p *PostgresOutbox) MarkTerminal(ctx context.Context, key string, now time.Time) error {
	_, err := p.db.ExecContext(ctx, `UPDATE outbox_entries SET state='terminal', updated_ts=$2 WHERE intent_key=$1`, key, now)
	return err
}

// Close closes the underlying connection pool.
func (p *PostgresOutbox) Close() error {
	return p.db.Close()
}
