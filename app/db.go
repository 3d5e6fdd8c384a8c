package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/alvin-junjun/ai-guzhi-analysis/app/config"

	_ "github.com/lib/pq"
)

// OpenDB connects to Postgres using the configured credentials and verifies
// the connection with a ping.
func OpenDB(cfg *config.Config) (*sql.DB, error) {
	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		cfg.DB.Username,
		cfg.DB.Password,
		cfg.DB.Host,
		cfg.DB.Port,
		cfg.DB.Name,
		cfg.DB.SSLMode,
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db.Ping: %w", err)
	}

	log.Println("Connected to Postgres")
	return db, nil
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id                    BIGSERIAL PRIMARY KEY,
		subject               TEXT UNIQUE NOT NULL,
		email                 TEXT,
		name                  TEXT,
		membership_level      TEXT NOT NULL DEFAULT 'free',
		membership_expire     TIMESTAMPTZ,
		stripe_customer_id    TEXT,
		referrer_id           BIGINT NOT NULL DEFAULT 0,
		total_analysis_count  BIGINT NOT NULL DEFAULT 0,
		created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_login            TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS analysis_tasks (
		task_id          TEXT PRIMARY KEY,
		user_id          BIGINT NOT NULL DEFAULT 0,
		status           TEXT NOT NULL,
		stock_code       TEXT NOT NULL,
		report_type      TEXT NOT NULL,
		total_count      INT NOT NULL DEFAULT 1,
		completed_count  INT NOT NULL DEFAULT 0,
		failed_count     INT NOT NULL DEFAULT 0,
		progress         INT NOT NULL DEFAULT 0,
		result           TEXT,
		error_message    TEXT,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		started_at       TIMESTAMPTZ,
		completed_at     TIMESTAMPTZ,
		source_ip        TEXT,
		user_agent       TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS ix_analysis_tasks_user_created
		ON analysis_tasks (user_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS analysis_history (
		id             BIGSERIAL PRIMARY KEY,
		user_id        BIGINT NOT NULL,
		task_id        TEXT,
		stock_code     TEXT NOT NULL,
		stock_name     TEXT,
		analysis_date  DATE NOT NULL,
		ai_summary     TEXT,
		score          INT,
		sentiment      TEXT,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS daily_usage (
		user_id         BIGINT NOT NULL,
		usage_date      DATE NOT NULL,
		analysis_count  INT NOT NULL DEFAULT 0,
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (user_id, usage_date)
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id               BIGSERIAL PRIMARY KEY,
		order_no         TEXT UNIQUE NOT NULL,
		user_id          BIGINT NOT NULL,
		plan_id          TEXT NOT NULL,
		plan_name        TEXT NOT NULL,
		amount           NUMERIC(10,2) NOT NULL,
		discount_amount  NUMERIC(10,2) NOT NULL DEFAULT 0,
		pay_amount       NUMERIC(10,2) NOT NULL,
		channel          TEXT,
		payment_status   TEXT NOT NULL DEFAULT 'pending',
		transaction_id   TEXT,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		paid_at          TIMESTAMPTZ,
		expire_at        TIMESTAMPTZ NOT NULL,
		remark           TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS ix_orders_user_created
		ON orders (user_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS user_memberships (
		id          BIGSERIAL PRIMARY KEY,
		user_id     BIGINT NOT NULL,
		plan_id     TEXT NOT NULL,
		order_id    BIGINT NOT NULL,
		start_at    TIMESTAMPTZ NOT NULL,
		expire_at   TIMESTAMPTZ NOT NULL,
		status      TEXT NOT NULL DEFAULT 'active',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS ix_user_memberships_user_status
		ON user_memberships (user_id, status, expire_at)`,
	`CREATE TABLE IF NOT EXISTS system_configs (
		config_key    TEXT PRIMARY KEY,
		config_value  TEXT NOT NULL,
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// EnsureSchema creates any missing tables. Statements are idempotent so a
// restart against an existing database is a no-op.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
