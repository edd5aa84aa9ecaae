// internal/common/database/postgres.go
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"inspection-export/internal/common/config"

	_ "github.com/lib/pq"
)

// PostgresClient owns the pool the report store reads and writes through.
type PostgresClient struct {
	DB *sql.DB
}

func NewPostgres(cfg config.PostgresConfig) (*PostgresClient, error) {
	db, err := sql.Open("postgres", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdle)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &PostgresClient{DB: db}, nil
}

func (c *PostgresClient) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

func (c *PostgresClient) Close() error {
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}

// GetDB returns the underlying *sql.DB
func (c *PostgresClient) GetDB() *sql.DB {
	return c.DB
}

// schema holds the tables the exporter owns. Report documents are written by
// the inspection app; the statements only create what is missing.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS inspection_reports (
		id                TEXT PRIMARY KEY,
		document          JSONB NOT NULL,
		template_revision TEXT,
		photo_generations JSONB NOT NULL DEFAULT '{}'::jsonb,
		updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		deleted_at        TIMESTAMPTZ
	)`,
	`ALTER TABLE inspection_reports
		ADD COLUMN IF NOT EXISTS photo_generations JSONB NOT NULL DEFAULT '{}'::jsonb`,
	`CREATE TABLE IF NOT EXISTS report_exports (
		id                TEXT PRIMARY KEY,
		report_id         TEXT NOT NULL REFERENCES inspection_reports (id),
		template_revision TEXT NOT NULL,
		name              TEXT NOT NULL,
		url               TEXT NOT NULL,
		sha256            TEXT NOT NULL,
		size              INTEGER NOT NULL,
		warnings          JSONB,
		requested_by      TEXT,
		status            TEXT NOT NULL DEFAULT 'stored',
		created_at        TIMESTAMPTZ NOT NULL
	)`,
	`ALTER TABLE report_exports
		ADD COLUMN IF NOT EXISTS status TEXT NOT NULL DEFAULT 'stored'`,
	`CREATE INDEX IF NOT EXISTS report_exports_report_created_idx
		ON report_exports (report_id, created_at DESC)`,
}

// Migrate creates the report and export tables in one transaction.
func (c *PostgresClient) Migrate(ctx context.Context) error {
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	for _, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migrate: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
