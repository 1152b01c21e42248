package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/botmesh/model-gateway/models"
	"github.com/botmesh/model-gateway/repositories"
)

// MarginRepository implements the repositories.MarginRepository interface
type MarginRepository struct {
	db     *DB
	tx     *Transaction
	logger *zap.Logger
}

// NewMarginRepository creates a new margin repository
func NewMarginRepository(db *DB, logger *zap.Logger) repositories.MarginRepository {
	return &MarginRepository{
		db:     db,
		logger: logger,
	}
}

func (r *MarginRepository) executor(ctx context.Context) Executor {
	if r.tx != nil {
		return r.tx.tx
	}
	return GetExecutor(ctx, r.db)
}

const marginColumns = `id, tenant_id, capability, adapter, tier, provider_cost, sell_price, margin, margin_pct, timestamp`

// Insert inserts a new margin record. Called by the metering workers off
// the request path.
func (r *MarginRepository) Insert(ctx context.Context, record *models.MarginRecord) error {
	query := `
		INSERT INTO margin_records (` + marginColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.executor(ctx).ExecContext(ctx, query,
		record.ID,
		record.TenantID,
		record.Capability,
		record.Adapter,
		record.Tier,
		record.ProviderCost,
		record.SellPrice,
		record.Margin,
		record.MarginPct,
		record.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert margin record: %w", err)
	}

	r.logger.Debug("margin record inserted",
		zap.String("id", record.ID.String()),
		zap.String("tenant_id", record.TenantID),
		zap.Float64("margin", record.Margin))
	return nil
}

// GetByID retrieves a margin record by ID
func (r *MarginRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.MarginRecord, error) {
	query := `
		SELECT ` + marginColumns + `
		FROM margin_records
		WHERE id = $1
	`

	record := &models.MarginRecord{}
	err := r.executor(ctx).QueryRowContext(ctx, query, id).Scan(
		&record.ID,
		&record.TenantID,
		&record.Capability,
		&record.Adapter,
		&record.Tier,
		&record.ProviderCost,
		&record.SellPrice,
		&record.Margin,
		&record.MarginPct,
		&record.Timestamp,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("margin record not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get margin record: %w", err)
	}

	return record, nil
}

// GetByTenant retrieves margin records for a tenant with pagination
func (r *MarginRepository) GetByTenant(ctx context.Context, tenantID string, limit, offset int) ([]*models.MarginRecord, error) {
	query := `
		SELECT ` + marginColumns + `
		FROM margin_records
		WHERE tenant_id = $1
		ORDER BY timestamp DESC
		LIMIT $2 OFFSET $3
	`

	return r.queryMargins(ctx, query, tenantID, limit, offset)
}

// GetByDateRange retrieves a tenant's margin records within a window
func (r *MarginRepository) GetByDateRange(ctx context.Context, tenantID string, start, end time.Time, limit, offset int) ([]*models.MarginRecord, error) {
	query := `
		SELECT ` + marginColumns + `
		FROM margin_records
		WHERE tenant_id = $1 AND timestamp >= $2 AND timestamp <= $3
		ORDER BY timestamp DESC
		LIMIT $4 OFFSET $5
	`

	return r.queryMargins(ctx, query, tenantID, start, end, limit, offset)
}

// SummarizeByTenant aggregates a tenant's margins since the given instant
func (r *MarginRepository) SummarizeByTenant(ctx context.Context, tenantID string, since time.Time) (*models.MarginSummary, error) {
	query := `
		SELECT COUNT(*),
		       COALESCE(SUM(provider_cost), 0),
		       COALESCE(SUM(sell_price), 0),
		       COALESCE(SUM(margin), 0),
		       COALESCE(AVG(margin_pct), 0)
		FROM margin_records
		WHERE tenant_id = $1 AND timestamp >= $2
	`

	summary := &models.MarginSummary{TenantID: tenantID}
	err := r.executor(ctx).QueryRowContext(ctx, query, tenantID, since).Scan(
		&summary.RequestCount,
		&summary.TotalCost,
		&summary.TotalSellPrice,
		&summary.TotalMargin,
		&summary.AvgMarginPct,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize margins: %w", err)
	}

	return summary, nil
}

// WithTx returns a new repository instance bound to the transaction
func (r *MarginRepository) WithTx(tx repositories.Transaction) repositories.MarginRepository {
	bound := *r
	if pgTx, ok := tx.(*Transaction); ok {
		bound.tx = pgTx
	}
	return &bound
}

func (r *MarginRepository) queryMargins(ctx context.Context, query string, args ...interface{}) ([]*models.MarginRecord, error) {
	rows, err := r.executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query margin records: %w", err)
	}
	defer rows.Close()

	var records []*models.MarginRecord
	for rows.Next() {
		record := &models.MarginRecord{}
		err := rows.Scan(
			&record.ID,
			&record.TenantID,
			&record.Capability,
			&record.Adapter,
			&record.Tier,
			&record.ProviderCost,
			&record.SellPrice,
			&record.Margin,
			&record.MarginPct,
			&record.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan margin record: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating margin record rows: %w", err)
	}

	return records, nil
}
