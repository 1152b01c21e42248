package postgres

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/botmesh/model-gateway/models"
	"github.com/botmesh/model-gateway/repositories"
)

// HealthRepository implements the repositories.ProviderHealthRepository
// interface. It backs the registry's health overlay; writes land on the
// request path, so every statement is a single indexed upsert or delete.
type HealthRepository struct {
	db     *DB
	tx     *Transaction
	logger *zap.Logger
}

// NewHealthRepository creates a new provider health repository
func NewHealthRepository(db *DB, logger *zap.Logger) repositories.ProviderHealthRepository {
	return &HealthRepository{
		db:     db,
		logger: logger,
	}
}

func (r *HealthRepository) executor(ctx context.Context) Executor {
	if r.tx != nil {
		return r.tx.tx
	}
	return GetExecutor(ctx, r.db)
}

// Get retrieves all current health overrides keyed by adapter name
func (r *HealthRepository) Get(ctx context.Context) (map[string]models.HealthOverride, error) {
	query := `SELECT adapter, healthy, marked_at FROM provider_health`

	rows, err := r.executor(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query provider health: %w", err)
	}
	defer rows.Close()

	overrides := make(map[string]models.HealthOverride)
	for rows.Next() {
		var override models.HealthOverride
		if err := rows.Scan(&override.Adapter, &override.Healthy, &override.MarkedAt); err != nil {
			return nil, fmt.Errorf("failed to scan health override: %w", err)
		}
		overrides[override.Adapter] = override
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating health override rows: %w", err)
	}

	return overrides, nil
}

// MarkHealthy upserts a healthy mark for the adapter
func (r *HealthRepository) MarkHealthy(ctx context.Context, adapter string) error {
	return r.mark(ctx, adapter, true)
}

// MarkUnhealthy upserts an unhealthy mark for the adapter
func (r *HealthRepository) MarkUnhealthy(ctx context.Context, adapter string) error {
	return r.mark(ctx, adapter, false)
}

func (r *HealthRepository) mark(ctx context.Context, adapter string, healthy bool) error {
	query := `
		INSERT INTO provider_health (adapter, healthy, marked_at)
		VALUES ($1, $2, CURRENT_TIMESTAMP)
		ON CONFLICT (adapter) DO UPDATE SET
			healthy = EXCLUDED.healthy,
			marked_at = CURRENT_TIMESTAMP
	`

	if _, err := r.executor(ctx).ExecContext(ctx, query, adapter, healthy); err != nil {
		return fmt.Errorf("failed to mark provider health: %w", err)
	}

	r.logger.Debug("provider health marked",
		zap.String("adapter", adapter),
		zap.Bool("healthy", healthy))
	return nil
}

// Clear removes the override for the adapter
func (r *HealthRepository) Clear(ctx context.Context, adapter string) error {
	query := `DELETE FROM provider_health WHERE adapter = $1`

	if _, err := r.executor(ctx).ExecContext(ctx, query, adapter); err != nil {
		return fmt.Errorf("failed to clear provider health: %w", err)
	}
	return nil
}

// DeleteExpired removes unhealthy marks older than the TTL. Healthy marks
// are kept; they only ever flip or get cleared explicitly.
func (r *HealthRepository) DeleteExpired(ctx context.Context, ttl time.Duration) (int64, error) {
	query := `DELETE FROM provider_health WHERE healthy = false AND marked_at <= $1`

	cutoff := time.Now().UTC().Add(-ttl)
	result, err := r.executor(ctx).ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired health marks: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check affected rows: %w", err)
	}
	if removed > 0 {
		r.logger.Debug("expired health marks removed", zap.Int64("count", removed))
	}
	return removed, nil
}

// WithTx returns a new repository instance bound to the transaction
func (r *HealthRepository) WithTx(tx repositories.Transaction) repositories.ProviderHealthRepository {
	bound := *r
	if pgTx, ok := tx.(*Transaction); ok {
		bound.tx = pgTx
	}
	return &bound
}
