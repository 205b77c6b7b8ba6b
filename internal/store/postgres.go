// Package store persists test results and persona/prompt bundles in
// PostgreSQL. Records are written as full JSONB documents with the handful of
// fields needed for filtering mirrored into real columns.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/bamarler/geo-optimizer/internal/config"
)

type PostgresService struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresService(cfg config.PostgresConfig, logger *zap.Logger) (*PostgresService, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	logger.Info("PostgreSQL connected",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("database", cfg.Database),
	)

	return &PostgresService{
		db:     db,
		logger: logger,
	}, nil
}

func (ps *PostgresService) GetDB() *sql.DB {
	return ps.db
}

func (ps *PostgresService) Close() error {
	if ps.db != nil {
		return ps.db.Close()
	}
	return nil
}

func (ps *PostgresService) Ping(ctx context.Context) error {
	return ps.db.PingContext(ctx)
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS persona_sets (
		id UUID PRIMARY KEY,
		website_url TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		doc JSONB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS prompt_sets (
		id UUID PRIMARY KEY,
		persona_set_id TEXT NOT NULL DEFAULT '',
		website_url TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		doc JSONB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS test_results (
		id UUID PRIMARY KEY,
		run_id TEXT NOT NULL,
		persona_set_id TEXT NOT NULL,
		persona_id TEXT NOT NULL,
		prompt_set_id TEXT NOT NULL,
		prompt_id TEXT NOT NULL,
		sequence_number INT NOT NULL,
		website_url TEXT NOT NULL,
		has_citations BOOLEAN NOT NULL,
		brand_mentioned BOOLEAN NOT NULL,
		has_geographic_content BOOLEAN NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		doc JSONB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_test_results_run
		ON test_results (run_id, sequence_number)`,
	`CREATE INDEX IF NOT EXISTS idx_test_results_website
		ON test_results (website_url)`,
}

// Migrate creates the result and bundle tables if missing. Statements are
// idempotent so startup can always run this.
func (ps *PostgresService) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := ps.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	ps.logger.Info("database schema ensured", zap.Int("statements", len(schemaStatements)))
	return nil
}
