package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/botmesh/model-gateway/config"
	"github.com/botmesh/model-gateway/handlers"
	"github.com/botmesh/model-gateway/middleware"
	"github.com/botmesh/model-gateway/models"
	"github.com/botmesh/model-gateway/repositories"
	"github.com/botmesh/model-gateway/repositories/postgres"
	"github.com/botmesh/model-gateway/servicekey"
	"github.com/botmesh/model-gateway/services/adapters"
	"github.com/botmesh/model-gateway/services/adapters/anthropic"
	"github.com/botmesh/model-gateway/services/adapters/chatterbox"
	"github.com/botmesh/model-gateway/services/adapters/elevenlabs"
	"github.com/botmesh/model-gateway/services/adapters/openaicompat"
	"github.com/botmesh/model-gateway/services/gateway"
	"github.com/botmesh/model-gateway/services/metering"
	"github.com/botmesh/model-gateway/services/registry"
	"github.com/botmesh/model-gateway/services/router"
)

// meteringStopTimeout bounds how long shutdown waits for queued margin
// records to drain
const meteringStopTimeout = 10 * time.Second

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB
	Logger *zap.Logger

	// Repository Factory
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	Repos *repositories.Repositories

	// Services
	Registry *registry.Service
	Router   *router.Service
	Metering *metering.Service
	Gateway  *gateway.Service

	// Auth
	Validator      *servicekey.Validator
	AuthMiddleware *middleware.AuthMiddleware

	// Handlers
	GatewayHandler *handlers.GatewayHandler
	HealthHandler  *handlers.HealthHandler
	AdminHandler   *handlers.AdminHandler

	// healthStop ends the memory health store's cleanup worker
	healthStop chan struct{}
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	// Initialize PostgreSQL
	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize the provider registry
	deps.initRegistry(cfg)

	// Initialize metering
	if err := deps.initMetering(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize metering: %w", err)
	}

	// Initialize the router and its upstream adapters
	if err := deps.initRouter(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize router: %w", err)
	}

	// Initialize the gateway service
	deps.initGateway(cfg)

	// Initialize service key verification
	if err := deps.initAuth(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize auth: %w", err)
	}

	// Initialize handlers
	deps.initHandlers()

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase initializes the PostgreSQL connection, schema, and repositories
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	factory, err := postgres.NewRepositoryFactory(cfg, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}

	d.RepoFactory = factory
	d.DB = factory.GetDB()

	if err := factory.InitSchema(ctx); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	d.Repos = factory.NewRepositories()
	return nil
}

// initRegistry wires the provider table to its cost source and health store.
// The cost sheet normally lives in Postgres; COST_FILE switches it to a JSON
// file for development. Health marks normally share the database so every
// gateway instance sees them.
func (d *Dependencies) initRegistry(cfg *config.Config) {
	var costs registry.CostSource
	if cfg.Registry.CostFile != "" {
		costs = &registry.FileCostSource{Path: cfg.Registry.CostFile}
		d.Logger.Info("using file cost source", zap.String("path", cfg.Registry.CostFile))
	} else {
		costs = d.Repos.ProviderCosts
	}

	var health registry.HealthStore
	if cfg.Registry.MemoryHealth {
		store := registry.NewMemoryHealthStore()
		d.healthStop = make(chan struct{})
		go store.StartCleanupWorker(cfg.Registry.UnhealthyTTL, cfg.Registry.UnhealthyTTL, d.healthStop)
		health = store
		d.Logger.Info("using in-process health store")
	} else {
		health = d.Repos.ProviderHealth
	}

	d.Registry = registry.NewService(costs, health, registry.Config{
		CacheTTL:     cfg.Registry.CacheTTL,
		UnhealthyTTL: cfg.Registry.UnhealthyTTL,
		SelfHosted:   cfg.Registry.SelfHosted,
	}, d.Logger)
}

// initMetering starts the margin recorder workers
func (d *Dependencies) initMetering(cfg *config.Config) error {
	d.Metering = metering.NewService(d.Repos.Margins, d.Logger, metering.Config{
		BufferSize:  cfg.Metering.BufferSize,
		WorkerCount: cfg.Metering.WorkerCount,
	})
	return d.Metering.Start()
}

// initRouter creates the failover router and registers every configured
// upstream adapter. An adapter is configured by its API key, or its base URL
// for self-hosted deployments.
func (d *Dependencies) initRouter(cfg *config.Config) error {
	d.Router = router.NewService(d.Registry, d.Metering, d.Logger)

	register := func(adapter adapters.Adapter, err error) error {
		if err != nil {
			return err
		}
		if err := d.Router.RegisterAdapter(adapter); err != nil {
			return err
		}
		d.Logger.Info("registered provider adapter",
			zap.String("adapter", adapter.Name()))
		return nil
	}

	if cfg.Providers.OpenAI.APIKey != "" {
		err := register(openaicompat.New(openaicompat.Config{
			Name:    "openai",
			BaseURL: cfg.Providers.OpenAI.BaseURL,
			APIKey:  cfg.Providers.OpenAI.APIKey,
			Timeout: cfg.Providers.OpenAI.Timeout,
			Rates:   openaicompat.DefaultRates(),
		}))
		if err != nil {
			return err
		}
	}

	if cfg.Providers.SelfHosted.BaseURL != "" {
		sh := cfg.Providers.SelfHosted
		err := register(openaicompat.New(openaicompat.Config{
			Name:    sh.Name,
			BaseURL: sh.BaseURL,
			APIKey:  sh.APIKey,
			Timeout: sh.Timeout,
			Rates: openaicompat.Rates{
				InputPerMTok:     sh.CostPerMTok,
				OutputPerMTok:    sh.CostPerMTok,
				EmbeddingPerMTok: sh.CostPerMTok,
			},
		}))
		if err != nil {
			return err
		}
	}

	if cfg.Providers.Anthropic.APIKey != "" {
		err := register(anthropic.New(anthropic.Config{
			BaseURL: cfg.Providers.Anthropic.BaseURL,
			APIKey:  cfg.Providers.Anthropic.APIKey,
			Timeout: cfg.Providers.Anthropic.Timeout,
			Rates:   anthropic.DefaultRates(),
		}))
		if err != nil {
			return err
		}
	}

	if cfg.Providers.ElevenLabs.APIKey != "" {
		err := register(elevenlabs.New(elevenlabs.Config{
			APIKey:               cfg.Providers.ElevenLabs.APIKey,
			BaseURL:              cfg.Providers.ElevenLabs.BaseURL,
			Timeout:              cfg.Providers.ElevenLabs.Timeout,
			CostPerThousandChars: cfg.Providers.ElevenLabs.CostPerThousandChars,
		}))
		if err != nil {
			return err
		}
	}

	if cfg.Providers.Chatterbox.BaseURL != "" {
		err := register(chatterbox.New(chatterbox.Config{
			BaseURL:       cfg.Providers.Chatterbox.BaseURL,
			Timeout:       cfg.Providers.Chatterbox.Timeout,
			CostPerMinute: cfg.Providers.Chatterbox.CostPerMinute,
		}))
		if err != nil {
			return err
		}
	}

	if len(d.Router.AdapterNames()) == 0 {
		d.Logger.Warn("no provider adapters configured, every request will fail over to nothing")
	}

	return nil
}

// initGateway builds the per-capability price sheet and the gateway service
func (d *Dependencies) initGateway(cfg *config.Config) {
	d.Gateway = gateway.NewService(d.Router, gateway.Config{
		SellPrices: map[models.Capability]float64{
			models.CapabilityTextGeneration:  cfg.Pricing.TextGeneration,
			models.CapabilityEmbeddings:      cfg.Pricing.Embeddings,
			models.CapabilityTTS:             cfg.Pricing.TTS,
			models.CapabilityImageGeneration: cfg.Pricing.ImageGeneration,
			models.CapabilityTranscription:   cfg.Pricing.Transcription,
		},
		PreferLowLatency: cfg.Pricing.PreferLowLatency,
	}, d.Logger)
}

// initAuth builds the service key validator and the auth middleware
func (d *Dependencies) initAuth(cfg *config.Config) error {
	validator, err := servicekey.NewValidator(servicekey.Config{
		Issuer: cfg.Auth.Issuer,
		Keys:   cfg.Auth.Keys,
		Leeway: cfg.Auth.Leeway,
	})
	if err != nil {
		return err
	}
	d.Validator = validator
	d.AuthMiddleware = middleware.NewAuthMiddleware(validator, d.Logger)
	return nil
}

// initHandlers builds the HTTP handlers over the services
func (d *Dependencies) initHandlers() {
	d.GatewayHandler = handlers.NewGatewayHandler(d.Gateway, d.Logger)
	d.HealthHandler = handlers.NewHealthHandler(
		d.RepoFactory.GetMarginDB().DB, d.Registry, d.Metering, d.Validator.KeyIDs(), d.Logger)
	d.AdminHandler = handlers.NewAdminHandler(d.Metering, d.Registry, d.Logger)
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	// Drain queued margin records before the database goes away
	if d.Metering != nil {
		if err := d.Metering.Stop(meteringStopTimeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop metering: %w", err))
		}
	}

	if d.healthStop != nil {
		close(d.healthStop)
	}

	// Close database connection(s)
	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	// Sync logger
	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
