package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

type Clients struct {
	DB    *sqlx.DB
	Redis *redis.Client
}

func NewClients(dbURL, redisAddr string) (*Clients, error) {
	// Connect to PostgreSQL
	db, err := sqlx.Connect("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: "",
		DB:       0,
	})

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Clients{
		DB:    db,
		Redis: redisClient,
	}, nil
}

// CreateTables ensures the ledger schema exists. The unique index on
// billing_events.event_id is what makes webhook replay a no-op.
func (c *Clients) CreateTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS profiles (
		id TEXT PRIMARY KEY,
		tier TEXT NOT NULL DEFAULT 'free',
		billing_status TEXT NOT NULL DEFAULT 'active',
		period_used INT NOT NULL DEFAULT 0,
		period_limit INT NOT NULL DEFAULT 5,
		bonus_remaining INT NOT NULL DEFAULT 0,
		lifetime_created INT NOT NULL DEFAULT 0,
		period_start TIMESTAMPTZ NOT NULL DEFAULT date_trunc('month', now()),
		stripe_customer_id TEXT,
		stripe_subscription_id TEXT,
		last_action_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS credit_transactions (
		id SERIAL PRIMARY KEY,
		user_id TEXT NOT NULL,
		delta INT NOT NULL,
		reason TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS billing_events (
		event_id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS videos (
		id SERIAL PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		script TEXT NOT NULL,
		template TEXT NOT NULL,
		voice TEXT NOT NULL,
		resolution TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		output_url TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE INDEX IF NOT EXISTS idx_videos_user ON videos (user_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_transactions_user ON credit_transactions (user_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_profiles_customer ON profiles (stripe_customer_id);`

	if _, err := c.DB.Exec(schema); err != nil {
		return fmt.Errorf("failed to create ledger tables: %w", err)
	}

	slog.Info("✅ Ledger tables are ready!")
	return nil
}
