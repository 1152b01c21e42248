package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/botmesh/model-gateway/models"
	"github.com/botmesh/model-gateway/repositories"
)

// CostRepository implements the repositories.ProviderCostRepository interface
type CostRepository struct {
	db     *DB
	tx     *Transaction
	logger *zap.Logger
}

// NewCostRepository creates a new provider cost repository
func NewCostRepository(db *DB, logger *zap.Logger) repositories.ProviderCostRepository {
	return &CostRepository{
		db:     db,
		logger: logger,
	}
}

func (r *CostRepository) executor(ctx context.Context) Executor {
	if r.tx != nil {
		return r.tx.tx
	}
	return GetExecutor(ctx, r.db)
}

const costColumns = `capability, adapter, cost_usd, unit, priority, latency_class, tier, is_active`

// LoadCosts retrieves every cost row, active or not. The registry rebuilds
// its routing table from this result on each refresh.
func (r *CostRepository) LoadCosts(ctx context.Context) ([]models.ProviderCost, error) {
	query := `
		SELECT ` + costColumns + `
		FROM provider_costs
		ORDER BY capability, adapter
	`

	return r.queryCosts(ctx, query)
}

// GetByCapability retrieves the cost rows for one capability
func (r *CostRepository) GetByCapability(ctx context.Context, capability models.Capability) ([]models.ProviderCost, error) {
	query := `
		SELECT ` + costColumns + `
		FROM provider_costs
		WHERE capability = $1
		ORDER BY adapter
	`

	return r.queryCosts(ctx, query, capability)
}

// Upsert inserts or replaces the row for (capability, adapter)
func (r *CostRepository) Upsert(ctx context.Context, cost *models.ProviderCost) error {
	query := `
		INSERT INTO provider_costs (capability, adapter, cost_usd, unit, priority, latency_class, tier, is_active, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, CURRENT_TIMESTAMP)
		ON CONFLICT (capability, adapter) DO UPDATE SET
			cost_usd = EXCLUDED.cost_usd,
			unit = EXCLUDED.unit,
			priority = EXCLUDED.priority,
			latency_class = EXCLUDED.latency_class,
			tier = EXCLUDED.tier,
			is_active = EXCLUDED.is_active,
			updated_at = CURRENT_TIMESTAMP
	`

	_, err := r.executor(ctx).ExecContext(ctx, query,
		cost.Capability,
		cost.Adapter,
		cost.CostUSD,
		cost.Unit,
		cost.Priority,
		cost.LatencyClass,
		nullableTier(cost.Tier),
		cost.IsActive,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert provider cost: %w", err)
	}

	r.logger.Debug("provider cost upserted",
		zap.String("capability", string(cost.Capability)),
		zap.String("adapter", cost.Adapter),
		zap.Float64("cost_usd", cost.CostUSD))
	return nil
}

// SetActive toggles the active flag for (capability, adapter)
func (r *CostRepository) SetActive(ctx context.Context, capability models.Capability, adapter string, active bool) error {
	query := `
		UPDATE provider_costs
		SET is_active = $3, updated_at = CURRENT_TIMESTAMP
		WHERE capability = $1 AND adapter = $2
	`

	result, err := r.executor(ctx).ExecContext(ctx, query, capability, adapter, active)
	if err != nil {
		return fmt.Errorf("failed to update provider cost: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("provider cost not found: %s/%s", capability, adapter)
	}
	return nil
}

// Delete removes the row for (capability, adapter)
func (r *CostRepository) Delete(ctx context.Context, capability models.Capability, adapter string) error {
	query := `DELETE FROM provider_costs WHERE capability = $1 AND adapter = $2`

	result, err := r.executor(ctx).ExecContext(ctx, query, capability, adapter)
	if err != nil {
		return fmt.Errorf("failed to delete provider cost: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("provider cost not found: %s/%s", capability, adapter)
	}
	return nil
}

// WithTx returns a new repository instance bound to the transaction
func (r *CostRepository) WithTx(tx repositories.Transaction) repositories.ProviderCostRepository {
	bound := *r
	if pgTx, ok := tx.(*Transaction); ok {
		bound.tx = pgTx
	}
	return &bound
}

func (r *CostRepository) queryCosts(ctx context.Context, query string, args ...interface{}) ([]models.ProviderCost, error) {
	rows, err := r.executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query provider costs: %w", err)
	}
	defer rows.Close()

	var costs []models.ProviderCost
	for rows.Next() {
		var cost models.ProviderCost
		var tier sql.NullString
		err := rows.Scan(
			&cost.Capability,
			&cost.Adapter,
			&cost.CostUSD,
			&cost.Unit,
			&cost.Priority,
			&cost.LatencyClass,
			&tier,
			&cost.IsActive,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan provider cost: %w", err)
		}
		cost.Tier = tier.String
		costs = append(costs, cost)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating provider cost rows: %w", err)
	}

	return costs, nil
}

// nullableTier maps an empty tier to NULL so the registry's name-based
// inference applies.
func nullableTier(tier string) sql.NullString {
	return sql.NullString{String: tier, Valid: tier != ""}
}
