package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/botmesh/model-gateway/config"
	"github.com/botmesh/model-gateway/models"
	"github.com/botmesh/model-gateway/repositories/postgres"
	"github.com/botmesh/model-gateway/services/metering"
	"github.com/botmesh/model-gateway/services/registry"
)

func TestNewDependencies(t *testing.T) {
	t.Run("successful initialization with all components", func(t *testing.T) {
		ctx := context.Background()
		cfg := testConfig()
		logger := zaptest.NewLogger(t)

		// Skip if database not available
		if !isDatabaseAvailable(cfg) {
			t.Skip("database not available")
		}

		deps, err := NewDependencies(ctx, cfg, logger)
		require.NoError(t, err)
		require.NotNil(t, deps)

		// Verify infrastructure
		assert.NotNil(t, deps.Config)
		assert.NotNil(t, deps.DB)
		assert.NotNil(t, deps.Logger)

		// Verify repositories
		require.NotNil(t, deps.Repos)
		assert.NotNil(t, deps.Repos.ProviderCosts)
		assert.NotNil(t, deps.Repos.ProviderHealth)
		assert.NotNil(t, deps.Repos.Margins)

		// Verify services
		assert.NotNil(t, deps.Registry)
		assert.NotNil(t, deps.Router)
		assert.NotNil(t, deps.Metering)
		assert.NotNil(t, deps.Gateway)

		// Verify auth and handlers
		assert.NotNil(t, deps.Validator)
		assert.NotNil(t, deps.AuthMiddleware)
		assert.NotNil(t, deps.GatewayHandler)
		assert.NotNil(t, deps.HealthHandler)
		assert.NotNil(t, deps.AdminHandler)

		// Cleanup
		err = deps.Close(ctx)
		assert.NoError(t, err)
	})

	t.Run("database connection failure", func(t *testing.T) {
		ctx := context.Background()
		cfg := testConfig()
		cfg.Database.Host = "invalid-host-that-does-not-exist"
		logger := zaptest.NewLogger(t)

		deps, err := NewDependencies(ctx, cfg, logger)
		assert.Error(t, err)
		assert.Nil(t, deps)
		assert.Contains(t, err.Error(), "failed to initialize database")
	})
}

func TestInitRouter(t *testing.T) {
	t.Run("registers configured adapters", func(t *testing.T) {
		deps := bareDependencies(t)
		cfg := testConfig()
		cfg.Providers.OpenAI.APIKey = "sk-test"
		cfg.Providers.SelfHosted.BaseURL = "http://vllm.internal:8000/v1"
		cfg.Providers.Anthropic.APIKey = "ak-test"
		cfg.Providers.ElevenLabs.APIKey = "el-test"
		cfg.Providers.Chatterbox.BaseURL = "http://chatterbox.internal:8100"

		require.NoError(t, deps.initRouter(cfg))

		names := deps.Router.AdapterNames()
		assert.ElementsMatch(t, names, []string{
			"openai", "self-hosted-vllm", "anthropic", "elevenlabs", "chatterbox-tts",
		})
	})

	t.Run("no providers configured", func(t *testing.T) {
		deps := bareDependencies(t)

		require.NoError(t, deps.initRouter(testConfig()))
		assert.Empty(t, deps.Router.AdapterNames())
	})

	t.Run("self-hosted deployment keeps its configured name", func(t *testing.T) {
		deps := bareDependencies(t)
		cfg := testConfig()
		cfg.Providers.SelfHosted.BaseURL = "http://vllm.internal:8000/v1"
		cfg.Providers.SelfHosted.Name = "self-hosted-a100"

		require.NoError(t, deps.initRouter(cfg))
		assert.Equal(t, []string{"self-hosted-a100"}, deps.Router.AdapterNames())
	})
}

func TestInitGateway(t *testing.T) {
	deps := bareDependencies(t)
	cfg := testConfig()
	cfg.Pricing.TextGeneration = 0.012
	cfg.Pricing.TTS = 0.05

	require.NoError(t, deps.initRouter(cfg))
	deps.initGateway(cfg)

	assert.Equal(t, 0.012, deps.Gateway.SellPrice(models.CapabilityTextGeneration))
	assert.Equal(t, 0.05, deps.Gateway.SellPrice(models.CapabilityTTS))
	assert.Zero(t, deps.Gateway.SellPrice(models.CapabilityEmbeddings))
}

func TestInitAuth(t *testing.T) {
	t.Run("builds validator from keyring", func(t *testing.T) {
		deps := bareDependencies(t)

		require.NoError(t, deps.initAuth(testConfig()))
		require.NotNil(t, deps.Validator)
		assert.NotNil(t, deps.AuthMiddleware)
		assert.Contains(t, deps.Validator.KeyIDs(), "2026-01")
	})

	t.Run("empty keyring fails", func(t *testing.T) {
		deps := bareDependencies(t)
		cfg := testConfig()
		cfg.Auth.Keys = nil

		assert.Error(t, deps.initAuth(cfg))
	})
}

func TestInitRegistry(t *testing.T) {
	t.Run("memory health store spawns a cleanup worker", func(t *testing.T) {
		deps := bareDependencies(t)
		deps.Repos = nil
		cfg := testConfig()
		cfg.Registry.MemoryHealth = true
		cfg.Registry.CostFile = "testdata/costs.json"

		deps.initRegistry(cfg)
		require.NotNil(t, deps.Registry)
		require.NotNil(t, deps.healthStop)
		close(deps.healthStop)
		deps.healthStop = nil
	})
}

func TestDependenciesClose(t *testing.T) {
	t.Run("graceful shutdown without database", func(t *testing.T) {
		deps := bareDependencies(t)

		err := deps.Close(context.Background())
		assert.NoError(t, err)
	})
}

// Test helpers

// bareDependencies builds a container around in-memory services, enough for
// the init methods that do not touch Postgres
func bareDependencies(t *testing.T) *Dependencies {
	t.Helper()
	logger := zaptest.NewLogger(t)

	reg := registry.NewService(
		&registry.StaticCostSource{}, registry.NewMemoryHealthStore(),
		registry.Config{}, logger)

	meter := metering.NewService(noopMarginStore{}, logger, metering.Config{
		BufferSize:  8,
		WorkerCount: 1,
	})
	require.NoError(t, meter.Start())
	t.Cleanup(func() { _ = meter.Stop(time.Second) })

	return &Dependencies{
		Config:   testConfig(),
		Logger:   logger,
		Registry: reg,
		Metering: meter,
	}
}

type noopMarginStore struct{}

func (noopMarginStore) Insert(ctx context.Context, record *models.MarginRecord) error {
	return nil
}

func (noopMarginStore) SummarizeByTenant(ctx context.Context, tenantID string, since time.Time) (*models.MarginSummary, error) {
	return &models.MarginSummary{TenantID: tenantID}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		Server: config.ServerConfig{
			Host:            "localhost",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: config.DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "gateway",
			Password:        "gateway_password",
			Database:        "gateway_test",
			SSLMode:         "disable",
			MaxOpenConns:    5,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Auth: config.AuthConfig{
			Issuer: "botmesh",
			Keys:   map[string]string{"2026-01": "test-secret"},
			Leeway: 30 * time.Second,
		},
		Registry: config.RegistryConfig{
			CacheTTL:     30 * time.Second,
			UnhealthyTTL: 60 * time.Second,
		},
		Metering: config.MeteringConfig{
			BufferSize:  100,
			WorkerCount: 1,
		},
		Providers: config.ProvidersConfig{
			OpenAI:     config.OpenAIConfig{BaseURL: "https://api.openai.com/v1", Timeout: time.Minute},
			SelfHosted: config.SelfHostedConfig{Name: "self-hosted-vllm", Timeout: time.Minute, CostPerMTok: 0.2},
			Anthropic:  config.AnthropicConfig{BaseURL: "https://api.anthropic.com", Timeout: time.Minute},
			ElevenLabs: config.ElevenLabsConfig{BaseURL: "https://api.elevenlabs.io", Timeout: time.Minute, CostPerThousandChars: 0.15},
			Chatterbox: config.ChatterboxConfig{Timeout: time.Minute, CostPerMinute: 0.06},
		},
		Logging: config.LoggingConfig{Level: "debug", Format: "json"},
	}
}

func isDatabaseAvailable(cfg *config.Config) bool {
	factory, err := postgres.NewRepositoryFactory(cfg, zap.NewNop())
	if err != nil {
		return false
	}
	defer factory.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	return factory.GetDB().PingContext(ctx) == nil
}
