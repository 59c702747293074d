package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type DB struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*DB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{pool: pool}, nil
}

func (db *DB) Close() {
	db.pool.Close()
}

// RunMigrations runs database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	_, err := db.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS wars (
			war_id TEXT PRIMARY KEY,
			clan_tag TEXT NOT NULL,
			opponent_tag TEXT NOT NULL DEFAULT '',
			opponent_name TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL DEFAULT 'preparation',
			team_size INTEGER NOT NULL,
			attacks_per_member INTEGER NOT NULL DEFAULT 2,
			channel_id TEXT NOT NULL,
			message_refs JSONB NOT NULL DEFAULT '{}',
			created_by TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			ended_at TIMESTAMPTZ
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_wars_active_channel
			ON wars (channel_id) WHERE state <> 'ended';

		CREATE TABLE IF NOT EXISTS targets (
			war_id TEXT NOT NULL REFERENCES wars (war_id),
			target_number INTEGER NOT NULL,
			opponent_tag TEXT NOT NULL DEFAULT '',
			opponent_name TEXT NOT NULL DEFAULT '',
			opponent_level INTEGER NOT NULL DEFAULT 0,
			result_kind TEXT NOT NULL DEFAULT 'unset',
			result_stars INTEGER NOT NULL DEFAULT 0,
			result_destruction INTEGER NOT NULL DEFAULT 0,
			result_attacker TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (war_id, target_number)
		);

		CREATE TABLE IF NOT EXISTS members (
			war_id TEXT NOT NULL REFERENCES wars (war_id),
			user_id TEXT NOT NULL,
			attacks_left INTEGER NOT NULL,
			PRIMARY KEY (war_id, user_id)
		);

		CREATE TABLE IF NOT EXISTS reservations (
			war_id TEXT NOT NULL,
			target_number INTEGER NOT NULL,
			user_id TEXT NOT NULL,
			confidence INTEGER,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (war_id, target_number, user_id),
			FOREIGN KEY (war_id, target_number) REFERENCES targets (war_id, target_number)
		);
		CREATE INDEX IF NOT EXISTS idx_reservations_member
			ON reservations (war_id, user_id);
	`)
	return err
}
