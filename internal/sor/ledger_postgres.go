package sor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresLedger is a LedgerSink backed by Postgres, grounded on the
// teacher's sqlx-free raw database/sql usage pattern in pkg/database.
type PostgresLedger struct {
	db *sql.DB
}

// NewPostgresLedger opens a connection pool and ensures the schema exists.
func NewPostgresLedger(ctx context.Context, dsn string) (*PostgresLedger, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("sor: opening postgres ledger: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("sor: pinging postgres ledger: %w", err)
	}
	const schema = `
CREATE TABLE IF NOT EXISTS sor_orders (
	coid TEXT PRIMARY KEY,
	intent_key TEXT NOT NULL,
	venue TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	qty NUMERIC NOT NULL,
	filled NUMERIC NOT NULL,
	state TEXT NOT NULL,
	created_ns BIGINT NOT NULL,
	updated_ns BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS sor_fills (
	id BIGSERIAL PRIMARY KEY,
	symbol TEXT NOT NULL,
	qty NUMERIC NOT NULL,
	price NUMERIC NOT NULL,
	side TEXT NOT NULL,
	fee NUMERIC NOT NULL,
	at_ns BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS sor_events (
	id BIGSERIAL PRIMARY KEY,
	level TEXT NOT NULL,
	code TEXT NOT NULL,
	payload JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("sor: creating ledger schema: %w", err)
	}
	return &PostgresLedger{db: db}, nil
}

// RecordOrder upserts the order row.
func (l *PostgresLedger) RecordOrder(ctx context.Context, order TrackedOrderSnapshot) error {
	_, err := l.db.ExecContext(ctx, `
INSERT INTO sor_orders (coid, intent_key, venue, symbol, side, qty, filled, state, created_ns, updated_ns)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (coid) DO UPDATE SET filled=$7, state=$8, updated_ns=$10`,
		order.COID, order.IntentKey, order.Venue, order.Symbol, string(order.Side),
		order.Qty.String(), order.Filled.String(), string(order.State), order.CreatedNS, order.UpdatedNS)
	return err
}

// RecordFill inserts a fill row.
func (l *PostgresLedger) RecordFill(ctx context.Context, fill Fill) error {
	_, err := l.db.ExecContext(ctx, `INSERT INTO sor_fills (symbol, qty, price, side, fee, at_ns) VALUES ($1,$2,$3,$4,$5,$6)`,
		fill.Symbol, fill.Qty.String(), fill.Price.String(), string(fill.Side), fill.Fee.String(), fill.AtNS)
	return err
}

// UpdateOrderStatus updates the order's state column.
func (l *PostgresLedger) UpdateOrderStatus(ctx context.Context, coid string, state OrderState) error {
	_, err := l.db.ExecContext(ctx, `UPDATE sor_orders SET state=$2 WHERE coid=$1`, coid, string(state))
	return err
}

// GetOrder loads a single order row.
func (l *PostgresLedger) GetOrder(ctx context.Context, coid string) (TrackedOrderSnapshot, bool, error) {
	row := l.db.QueryRowContext(ctx, `SELECT coid, intent_key, venue, symbol, side, qty, filled, state, created_ns, updated_ns FROM sor_orders WHERE coid=$1`, coid)
	var snap TrackedOrderSnapshot
	var side, state, qty, filled string
	if err := row.Scan(&snap.COID, &snap.IntentKey, &snap.Venue, &snap.Symbol, &side, &qty, &filled, &state, &snap.CreatedNS, &snap.UpdatedNS); err != nil {
		if err == sql.ErrNoRows {
			return TrackedOrderSnapshot{}, false, nil
		}
		return TrackedOrderSnapshot{}, false, err
	}
	snap.Side = Side(side)
	snap.State = OrderState(state)
	snap.Qty = mustParseDecimalOrZero(qty)
	snap.Filled = mustParseDecimalOrZero(filled)
	return snap, true, nil
}

// FetchOpenOrders returns every order not yet in a terminal state.
func (l *PostgresLedger) FetchOpenOrders(ctx context.Context) ([]TrackedOrderSnapshot, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT coid, intent_key, venue, symbol, side, qty, filled, state, created_ns, updated_ns FROM sor_orders WHERE state NOT IN ('FILLED','CANCELED','REJECTED','EXPIRED')`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TrackedOrderSnapshot
	for rows.Next() {
		var snap TrackedOrderSnapshot
		var side, state, qty, filled string
		if err := rows.Scan(&snap.COID, &snap.IntentKey, &snap.Venue, &snap.Symbol, &side, &qty, &filled, &state, &snap.CreatedNS, &snap.UpdatedNS); err != nil {
			return nil, err
		}
		snap.Side = Side(side)
		snap.State = OrderState(state)
		snap.Qty = mustParseDecimalOrZero(qty)
		snap.Filled = mustParseDecimalOrZero(filled)
		out = append(out, snap)
	}
	return out, rows.Err()
}

// RecordEvent inserts a structured audit event row.
func (l *PostgresLedger) RecordEvent(ctx context.Context, level, code string, payload map[string]interface{}) error {
	blob, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = l.db.ExecContext(ctx, `INSERT INTO sor_events (level, code, payload, created_at) VALUES ($1,$2,$3,$4)`, level, code, blob, time.Now())
	return err
}

// Close closes the underlying connection pool.
func (l *PostgresLedger) Close() error {
	return l.db.Close()
}
