package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"

	"github.com/botmesh/model-gateway/config"
)

// DB wraps the sql.DB connection pool
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB creates a new database connection pool
func NewDB(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	dsn := cfg.DSN()

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("connection", cfg.LogString()))

	return &DB{
		DB:     db,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.logger.Info("closing database connection")
	return db.DB.Close()
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query check failed: %w", err)
	}

	return nil
}

// Stats returns database connection pool statistics
func (db *DB) Stats() sql.DBStats {
	return db.DB.Stats()
}

// InitSchema initializes the database schema
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
		-- Provider cost configuration, one row per capability offering.
		-- tier is nullable; empty means the registry infers it from the
		-- adapter name.
		CREATE TABLE IF NOT EXISTS provider_costs (
			capability VARCHAR(50) NOT NULL,
			adapter VARCHAR(100) NOT NULL,
			cost_usd DECIMAL(12, 6) NOT NULL,
			unit VARCHAR(50) NOT NULL DEFAULT '',
			priority INTEGER NOT NULL DEFAULT 0,
			latency_class VARCHAR(20) NOT NULL DEFAULT 'standard',
			tier VARCHAR(20),
			is_active BOOLEAN NOT NULL DEFAULT true,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (capability, adapter)
		);

		-- Explicit health marks; absence of a row means healthy
		CREATE TABLE IF NOT EXISTS provider_health (
			adapter VARCHAR(100) PRIMARY KEY,
			healthy BOOLEAN NOT NULL,
			marked_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- One margin record per billable routed request
		CREATE TABLE IF NOT EXISTS margin_records (
			id UUID PRIMARY KEY,
			tenant_id VARCHAR(255) NOT NULL,
			capability VARCHAR(50) NOT NULL,
			adapter VARCHAR(100) NOT NULL,
			tier VARCHAR(20) NOT NULL,
			provider_cost DECIMAL(12, 6) NOT NULL,
			sell_price DECIMAL(12, 6) NOT NULL,
			margin DECIMAL(12, 6) NOT NULL,
			margin_pct DECIMAL(10, 3) NOT NULL,
			timestamp TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Indexes for performance
		CREATE INDEX IF NOT EXISTS idx_provider_costs_capability ON provider_costs(capability);
		CREATE INDEX IF NOT EXISTS idx_provider_costs_is_active ON provider_costs(is_active);

		CREATE INDEX IF NOT EXISTS idx_margin_records_tenant_id ON margin_records(tenant_id);
		CREATE INDEX IF NOT EXISTS idx_margin_records_adapter ON margin_records(adapter);
		CREATE INDEX IF NOT EXISTS idx_margin_records_timestamp ON margin_records(timestamp);
	`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	db.logger.Info("database schema initialized successfully")
	return nil
}

// InitMarginSchema initializes the margin schema only (margin_records, no FK).
// Use for the separate analytics database when DATABASE_URL_MARGINS is set.
func (db *DB) InitMarginSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS margin_records (
			id UUID PRIMARY KEY,
			tenant_id VARCHAR(255) NOT NULL,
			capability VARCHAR(50) NOT NULL,
			adapter VARCHAR(100) NOT NULL,
			tier VARCHAR(20) NOT NULL,
			provider_cost DECIMAL(12, 6) NOT NULL,
			sell_price DECIMAL(12, 6) NOT NULL,
			margin DECIMAL(12, 6) NOT NULL,
			margin_pct DECIMAL(10, 3) NOT NULL,
			timestamp TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_margin_records_tenant_id ON margin_records(tenant_id);
		CREATE INDEX IF NOT EXISTS idx_margin_records_adapter ON margin_records(adapter);
		CREATE INDEX IF NOT EXISTS idx_margin_records_timestamp ON margin_records(timestamp);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize margin schema: %w", err)
	}
	db.logger.Info("margin schema initialized successfully")
	return nil
}
