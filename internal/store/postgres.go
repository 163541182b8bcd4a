package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	DefaultMaxOpenConns    = 25
	DefaultMaxIdleConns    = 25
	DefaultConnMaxLifetime = 5 * time.Minute
)

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		last_seen_at BIGINT NOT NULL,
		created_at BIGINT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS user_preferences (
		user_id TEXT PRIMARY KEY,
		preferences JSONB NOT NULL DEFAULT '{}'::jsonb,
		updated_at BIGINT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS push_subscriptions (
		id TEXT PRIMARY KEY,
		endpoint TEXT NOT NULL UNIQUE,
		p256dh TEXT NOT NULL,
		auth TEXT NOT NULL,
		user_id TEXT NOT NULL,
		peer_id TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_push_subscriptions_peer ON push_subscriptions(peer_id);
	CREATE INDEX IF NOT EXISTS idx_push_subscriptions_user ON push_subscriptions(user_id);

	CREATE TABLE IF NOT EXISTS insight_signals (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		session_key TEXT NOT NULL,
		kind TEXT NOT NULL,
		value TEXT NOT NULL,
		occurred_at BIGINT NOT NULL,
		created_at BIGINT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_insight_signals_created ON insight_signals(created_at);
	`

// NewPostgres creates a Postgres-backed repository and applies the schema.
func NewPostgres(dsn string) (Repository, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN not set")
	}

	slog.Debug("Opening Postgres database connection")
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.Exec(postgresSchema); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &sqlStore{
		db: db,
		dialect: dialect{
			name:      "postgres",
			numbered:  true,
			jsonParam: "?::jsonb",
		},
	}, nil
}
