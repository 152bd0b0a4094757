package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the PostgreSQL DDL for the arena tables. Statements are
// idempotent so Migrate can run on every start.
const Schema = `
CREATE TABLE IF NOT EXISTS competitions (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL DEFAULT '',
	start_date       TIMESTAMPTZ NOT NULL,
	end_date         TIMESTAMPTZ NOT NULL,
	fee_pct          NUMERIC NOT NULL,
	min_trade_value  NUMERIC NOT NULL,
	max_position_pct NUMERIC NOT NULL,
	initial_capital  NUMERIC NOT NULL,
	is_active        BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS participants (
	id              TEXT PRIMARY KEY,
	model_id        TEXT NOT NULL,
	display_name    TEXT NOT NULL,
	mode            TEXT NOT NULL,
	initial_capital NUMERIC NOT NULL,
	cash_balance    NUMERIC NOT NULL,
	portfolio_value NUMERIC NOT NULL,
	total_trades    INTEGER NOT NULL DEFAULT 0,
	winning_trades  INTEGER NOT NULL DEFAULT 0,
	realized_pnl    NUMERIC NOT NULL DEFAULT 0,
	total_pnl       NUMERIC NOT NULL DEFAULT 0,
	pnl_pct         NUMERIC NOT NULL DEFAULT 0,
	rank            INTEGER NOT NULL DEFAULT 0,
	status          TEXT NOT NULL DEFAULT 'active',
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS holdings (
	id             TEXT PRIMARY KEY,
	participant_id TEXT NOT NULL REFERENCES participants(id),
	stock_code     TEXT NOT NULL,
	stock_name     TEXT NOT NULL DEFAULT '',
	quantity       NUMERIC NOT NULL CHECK (quantity > 0),
	avg_buy_price  NUMERIC NOT NULL,
	current_price  NUMERIC NOT NULL,
	leverage       NUMERIC NOT NULL DEFAULT 0,
	stop_loss      NUMERIC NOT NULL DEFAULT 0,
	updated_at     TIMESTAMPTZ NOT NULL,
	UNIQUE (participant_id, stock_code)
);

CREATE TABLE IF NOT EXISTS trades (
	id             TEXT PRIMARY KEY,
	participant_id TEXT NOT NULL REFERENCES participants(id),
	session_id     TEXT NOT NULL,
	stock_code     TEXT NOT NULL,
	stock_name     TEXT NOT NULL DEFAULT '',
	action         TEXT NOT NULL,
	quantity       NUMERIC NOT NULL,
	price          NUMERIC NOT NULL,
	fees           NUMERIC NOT NULL,
	realized_pnl   NUMERIC,
	reasoning      TEXT NOT NULL DEFAULT '',
	mode           TEXT NOT NULL,
	leverage       NUMERIC NOT NULL DEFAULT 0,
	stop_loss      NUMERIC NOT NULL DEFAULT 0,
	executed_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_participant_time ON trades(participant_id, executed_at);

CREATE TABLE IF NOT EXISTS ai_decisions (
	id              TEXT PRIMARY KEY,
	participant_id  TEXT NOT NULL,
	session_id      TEXT NOT NULL,
	model_id        TEXT NOT NULL,
	mode            TEXT NOT NULL,
	raw_response    TEXT NOT NULL,
	parsed          BOOLEAN NOT NULL,
	sentiment       TEXT NOT NULL DEFAULT '',
	analyzed_stocks TEXT[] NOT NULL DEFAULT '{}',
	tokens_used     INTEGER NOT NULL DEFAULT 0,
	latency_ms      BIGINT NOT NULL DEFAULT 0,
	error           TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL
);
`

// Migrate applies Schema to the database behind pool.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
