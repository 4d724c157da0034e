// Package database provides database access for the wagering platform.
package database

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// DB wraps the sqlx database connection.
type DB struct {
	*sqlx.DB
}

// New creates a new database connection.
func New(driver, dsn string) (*DB, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db}, nil
}

// Migrate creates all required tables and indexes (SPEC_FULL.md §3, §6).
func (db *DB) Migrate() error {
	schema := `
	-- Users: accounts, balances, and the session-version timestamp.
	CREATE TABLE IF NOT EXISTS users (
		id SERIAL PRIMARY KEY,
		user_id VARCHAR(255) UNIQUE NOT NULL,
		password_hash VARCHAR(255) NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'active',
		user_type VARCHAR(20) NOT NULL DEFAULT 'player',
		balance NUMERIC(20,2) NOT NULL DEFAULT 0 CHECK (balance >= 0),
		last_login TIMESTAMPTZ NOT NULL DEFAULT now(),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	-- Rounds ("games"): the 5-minute wagering windows.
	CREATE TABLE IF NOT EXISTS rounds (
		id SERIAL PRIMARY KEY,
		game_id VARCHAR(12) UNIQUE NOT NULL,
		start_time TIMESTAMPTZ NOT NULL,
		end_time TIMESTAMPTZ NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'pending',
		winning_card SMALLINT,
		payout_multiplier NUMERIC(10,2) NOT NULL DEFAULT 10,
		settlement_status VARCHAR(20) NOT NULL DEFAULT 'not_settled',
		settlement_started_at TIMESTAMPTZ,
		settlement_completed_at TIMESTAMPTZ,
		settlement_error TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	-- Per-card wagered totals for a round; 12 rows created with the round.
	CREATE TABLE IF NOT EXISTS round_card_totals (
		game_id VARCHAR(12) NOT NULL REFERENCES rounds(game_id),
		card_number SMALLINT NOT NULL CHECK (card_number BETWEEN 1 AND 12),
		total_bet_amount NUMERIC(20,2) NOT NULL DEFAULT 0 CHECK (total_bet_amount >= 0),
		PRIMARY KEY (game_id, card_number)
	);

	-- Bet slips: one user's group of card bets in one round.
	CREATE TABLE IF NOT EXISTS bet_slips (
		id SERIAL PRIMARY KEY,
		slip_id UUID UNIQUE NOT NULL,
		user_id INTEGER NOT NULL REFERENCES users(id),
		game_id VARCHAR(12) NOT NULL REFERENCES rounds(game_id),
		total_amount NUMERIC(20,2) NOT NULL,
		payout_amount NUMERIC(20,2) NOT NULL DEFAULT 0,
		status VARCHAR(20) NOT NULL DEFAULT 'pending',
		claimed BOOLEAN NOT NULL DEFAULT false,
		claimed_at TIMESTAMPTZ,
		cancelled_at TIMESTAMPTZ,
		barcode VARCHAR(13) UNIQUE NOT NULL,
		idempotency_key VARCHAR(255) UNIQUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	-- Bet details: one card wager within a slip.
	CREATE TABLE IF NOT EXISTS bet_details (
		id SERIAL PRIMARY KEY,
		slip_id UUID NOT NULL REFERENCES bet_slips(slip_id) ON DELETE CASCADE,
		game_id VARCHAR(12) NOT NULL,
		user_id INTEGER NOT NULL,
		card_number SMALLINT NOT NULL CHECK (card_number BETWEEN 1 AND 12),
		bet_amount NUMERIC(20,2) NOT NULL CHECK (bet_amount > 0),
		is_winner BOOLEAN NOT NULL DEFAULT false,
		payout_amount NUMERIC(20,2) NOT NULL DEFAULT 0
	);

	-- Wallet ledger: append-only, the sole source of truth for balance law.
	CREATE TABLE IF NOT EXISTS wallet_log (
		id SERIAL PRIMARY KEY,
		user_id INTEGER NOT NULL REFERENCES users(id),
		transaction_type VARCHAR(20) NOT NULL,
		transaction_direction VARCHAR(10) NOT NULL,
		amount NUMERIC(20,2) NOT NULL CHECK (amount > 0),
		reference_type VARCHAR(30) NOT NULL,
		reference_id VARCHAR(255) NOT NULL,
		reference_game_id VARCHAR(12),
		comment TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	-- Audit log: informational only, never consulted for correctness.
	CREATE TABLE IF NOT EXISTS audit_log (
		id SERIAL PRIMARY KEY,
		event_type VARCHAR(100) NOT NULL,
		severity VARCHAR(20) NOT NULL,
		actor_id INTEGER,
		description TEXT NOT NULL,
		data TEXT,
		ip_address VARCHAR(45),
		component VARCHAR(100) NOT NULL DEFAULT 'core',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	-- Refresh tokens: single-session enforcement.
	CREATE TABLE IF NOT EXISTS refresh_tokens (
		id UUID PRIMARY KEY,
		user_id INTEGER NOT NULL REFERENCES users(id),
		token_hash VARCHAR(255) NOT NULL,
		revoked BOOLEAN NOT NULL DEFAULT false,
		expires_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		revoked_at TIMESTAMPTZ
	);

	-- Login history: append-only record of attempts.
	CREATE TABLE IF NOT EXISTS login_history (
		id SERIAL PRIMARY KEY,
		user_id INTEGER REFERENCES users(id),
		user_id_str VARCHAR(255) NOT NULL,
		success BOOLEAN NOT NULL,
		ip_address VARCHAR(45),
		user_agent TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	-- Settings: typed key/value configuration (C2).
	CREATE TABLE IF NOT EXISTS settings (
		key VARCHAR(100) PRIMARY KEY,
		value TEXT NOT NULL,
		value_type VARCHAR(20) NOT NULL DEFAULT 'string',
		public BOOLEAN NOT NULL DEFAULT false,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_by INTEGER
	);

	CREATE TABLE IF NOT EXISTS settings_log (
		id SERIAL PRIMARY KEY,
		key VARCHAR(100) NOT NULL,
		old_value TEXT,
		new_value TEXT,
		changed_by INTEGER,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE INDEX IF NOT EXISTS idx_rounds_settlement ON rounds(settlement_status, game_id);
	CREATE INDEX IF NOT EXISTS idx_rounds_window ON rounds(start_time, end_time);
	CREATE INDEX IF NOT EXISTS idx_bet_details_round_card ON bet_details(game_id, card_number);
	CREATE INDEX IF NOT EXISTS idx_bet_details_slip ON bet_details(slip_id);
	CREATE INDEX IF NOT EXISTS idx_bet_slips_user ON bet_slips(user_id);
	CREATE INDEX IF NOT EXISTS idx_bet_slips_game ON bet_slips(game_id);
	CREATE INDEX IF NOT EXISTS idx_wallet_log_user ON wallet_log(user_id);
	CREATE INDEX IF NOT EXISTS idx_wallet_log_reference ON wallet_log(reference_type, reference_id);
	CREATE INDEX IF NOT EXISTS idx_refresh_tokens_user ON refresh_tokens(user_id);
	CREATE INDEX IF NOT EXISTS idx_audit_log_created ON audit_log(created_at);
	`

	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Reset drops all tables (for testing).
func (db *DB) Reset() error {
	_, err := db.Exec(`
		DROP TABLE IF EXISTS settings_log CASCADE;
		DROP TABLE IF EXISTS settings CASCADE;
		DROP TABLE IF EXISTS login_history CASCADE;
		DROP TABLE IF EXISTS refresh_tokens CASCADE;
		DROP TABLE IF EXISTS audit_log CASCADE;
		DROP TABLE IF EXISTS wallet_log CASCADE;
		DROP TABLE IF EXISTS bet_details CASCADE;
		DROP TABLE IF EXISTS bet_slips CASCADE;
		DROP TABLE IF EXISTS round_card_totals CASCADE;
		DROP TABLE IF EXISTS rounds CASCADE;
		DROP TABLE IF EXISTS users CASCADE;
	`)
	return err
}

// CleanData truncates all tables without dropping them (for testing).
func (db *DB) CleanData() error {
	_, err := db.Exec(`
		TRUNCATE TABLE settings_log, settings, login_history, refresh_tokens,
		               audit_log, wallet_log, bet_details, bet_slips,
		               round_card_totals, rounds, users
		RESTART IDENTITY CASCADE;
	`)
	return err
}
