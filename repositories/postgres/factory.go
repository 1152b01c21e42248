package postgres

import (
	"context"

	"go.uber.org/zap"

	"github.com/botmesh/model-gateway/config"
	"github.com/botmesh/model-gateway/repositories"
)

// RepositoryFactory creates and manages all repositories
type RepositoryFactory struct {
	db       *DB
	marginDB *DB // Optional: separate analytics DB for margin records
	logger   *zap.Logger
}

// NewRepositoryFactory creates a new repository factory
func NewRepositoryFactory(cfg *config.Config, logger *zap.Logger) (*RepositoryFactory, error) {
	db, err := NewDB(cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	f := &RepositoryFactory{db: db, logger: logger}

	if cfg.MarginDatabase != nil {
		marginDB, err := NewDB(*cfg.MarginDatabase, logger)
		if err != nil {
			db.Close()
			return nil, err
		}
		f.marginDB = marginDB
	}

	return f, nil
}

// InitSchema initializes the gateway schema, and the margin schema on the
// separate analytics DB when one is configured.
func (f *RepositoryFactory) InitSchema(ctx context.Context) error {
	if err := f.db.InitSchema(ctx); err != nil {
		return err
	}
	if f.marginDB != nil {
		return f.marginDB.InitMarginSchema(ctx)
	}
	return nil
}

// NewRepositories creates all repository instances
func (f *RepositoryFactory) NewRepositories() *repositories.Repositories {
	marginDB := f.db
	if f.marginDB != nil {
		marginDB = f.marginDB
	}
	return &repositories.Repositories{
		ProviderCosts:  NewCostRepository(f.db, f.logger),
		ProviderHealth: NewHealthRepository(f.db, f.logger),
		Margins:        NewMarginRepository(marginDB, f.logger),
	}
}

// GetTransactionManager returns a transaction manager
func (f *RepositoryFactory) GetTransactionManager() repositories.TransactionManager {
	return NewTransactionManager(f.db, f.logger)
}

// GetDB returns the database connection
func (f *RepositoryFactory) GetDB() *DB {
	return f.db
}

// GetMarginDB returns the connection margin records are written to: the
// analytics DB when one is configured, the main DB otherwise
func (f *RepositoryFactory) GetMarginDB() *DB {
	if f.marginDB != nil {
		return f.marginDB
	}
	return f.db
}

// Close closes the database connection(s)
func (f *RepositoryFactory) Close() error {
	if f.marginDB != nil {
		_ = f.marginDB.Close()
	}
	return f.db.Close()
}
