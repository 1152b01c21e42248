package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/botmesh/model-gateway/models"
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// ProviderCostRepository handles the provider cost configuration table.
// The registry rebuilds its routing table from LoadCosts on every refresh.
type ProviderCostRepository interface {
	// LoadCosts retrieves every cost row, active or not
	LoadCosts(ctx context.Context) ([]models.ProviderCost, error)

	// GetByCapability retrieves the cost rows for one capability
	GetByCapability(ctx context.Context, capability models.Capability) ([]models.ProviderCost, error)

	// Upsert inserts or replaces the row for (capability, adapter)
	Upsert(ctx context.Context, cost *models.ProviderCost) error

	// SetActive toggles the active flag for (capability, adapter)
	SetActive(ctx context.Context, capability models.Capability, adapter string, active bool) error

	// Delete removes the row for (capability, adapter)
	Delete(ctx context.Context, capability models.Capability, adapter string) error

	// WithTx returns a new repository instance bound to the transaction
	WithTx(tx Transaction) ProviderCostRepository
}

// ProviderHealthRepository persists explicit health marks for adapters.
// Satisfies the registry's health store.
type ProviderHealthRepository interface {
	// Get retrieves all current health overrides keyed by adapter name
	Get(ctx context.Context) (map[string]models.HealthOverride, error)

	// MarkHealthy upserts a healthy mark for the adapter
	MarkHealthy(ctx context.Context, adapter string) error

	// MarkUnhealthy upserts an unhealthy mark for the adapter
	MarkUnhealthy(ctx context.Context, adapter string) error

	// Clear removes the override for the adapter
	Clear(ctx context.Context, adapter string) error

	// DeleteExpired removes unhealthy marks older than the TTL
	DeleteExpired(ctx context.Context, ttl time.Duration) (int64, error)

	// WithTx returns a new repository instance bound to the transaction
	WithTx(tx Transaction) ProviderHealthRepository
}

// MarginRepository handles margin record data operations
type MarginRepository interface {
	// Insert inserts a new margin record
	Insert(ctx context.Context, record *models.MarginRecord) error

	// GetByID retrieves a margin record by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.MarginRecord, error)

	// GetByTenant retrieves margin records for a tenant with pagination
	GetByTenant(ctx context.Context, tenantID string, limit, offset int) ([]*models.MarginRecord, error)

	// GetByDateRange retrieves a tenant's margin records within a window
	GetByDateRange(ctx context.Context, tenantID string, start, end time.Time, limit, offset int) ([]*models.MarginRecord, error)

	// SummarizeByTenant aggregates a tenant's margins since the given instant
	SummarizeByTenant(ctx context.Context, tenantID string, since time.Time) (*models.MarginSummary, error)

	// WithTx returns a new repository instance bound to the transaction
	WithTx(tx Transaction) MarginRepository
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	ProviderCosts  ProviderCostRepository
	ProviderHealth ProviderHealthRepository
	Margins        MarginRepository
}
