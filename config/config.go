package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the complete application configuration
type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	MarginDatabase *DatabaseConfig // Optional: separate DB for margin records. When nil, margins use main DB.
	Auth           AuthConfig
	Registry       RegistryConfig
	Pricing        PricingConfig
	Metering       MeteringConfig
	Providers      ProvidersConfig
	Logging        LoggingConfig
	Environment    string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	TLS             struct {
		Enabled  bool
		CertFile string
		KeyFile  string
	}
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// AuthConfig holds service key verification configuration. The gateway only
// verifies keys; minting them belongs to the provisioning system that shares
// this keyring.
type AuthConfig struct {
	// Issuer every accepted service key must carry
	Issuer string

	// Keys is the signing keyring, kid to shared secret, parsed from
	// SERVICE_KEY_KEYRING ("kid:secret,kid2:secret2")
	Keys map[string]string

	// Leeway tolerated on time-based claims
	Leeway time.Duration
}

// RegistryConfig holds provider table configuration
type RegistryConfig struct {
	// CacheTTL is how long a built provider table serves reads
	CacheTTL time.Duration

	// UnhealthyTTL is how long an unhealthy mark suppresses an adapter
	UnhealthyTTL time.Duration

	// SelfHosted lists adapter names billed at the gpu tier, in addition
	// to the "self-hosted-" name convention
	SelfHosted []string

	// CostFile switches the cost source from Postgres to a JSON file
	// when set
	CostFile string

	// MemoryHealth keeps health marks in process memory instead of
	// Postgres. Single-instance deployments only; marks are lost on
	// restart and invisible to other instances.
	MemoryHealth bool
}

// PricingConfig holds the per-capability resale prices in USD. A capability
// priced at zero still routes, it just records no margin.
type PricingConfig struct {
	TextGeneration  float64
	Embeddings      float64
	TTS             float64
	ImageGeneration float64
	Transcription   float64

	// PreferLowLatency orders failover chains by latency class before
	// price
	PreferLowLatency bool
}

// MeteringConfig holds margin recorder configuration
type MeteringConfig struct {
	BufferSize  int
	WorkerCount int
}

// ProvidersConfig holds upstream provider configurations. A provider is
// registered when its key (or base URL, for self-hosted deployments) is set.
type ProvidersConfig struct {
	OpenAI     OpenAIConfig
	SelfHosted SelfHostedConfig
	Anthropic  AnthropicConfig
	ElevenLabs ElevenLabsConfig
	Chatterbox ChatterboxConfig
}

// OpenAIConfig holds the hosted OpenAI-compatible provider configuration
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// SelfHostedConfig holds the self-hosted OpenAI-compatible deployment
// configuration (vLLM, LocalAI)
type SelfHostedConfig struct {
	Name    string
	BaseURL string
	APIKey  string
	Timeout time.Duration

	// CostPerMTok is the blended amortized GPU cost in USD per million
	// tokens, used when the deployment reports no cost header
	CostPerMTok float64
}

// AnthropicConfig holds the Anthropic provider configuration
type AnthropicConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// ElevenLabsConfig holds the ElevenLabs TTS provider configuration
type ElevenLabsConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration

	// CostPerThousandChars is the fallback rate in USD
	CostPerThousandChars float64
}

// ChatterboxConfig holds the self-hosted chatterbox TTS configuration
type ChatterboxConfig struct {
	BaseURL string
	Timeout time.Duration

	// CostPerMinute is the amortized GPU cost in USD per minute of
	// rendered audio
	CostPerMinute float64
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string // json or text
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load(".env")

	keys, err := parseKeyring(getEnv("SERVICE_KEY_KEYRING", ""))
	if err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 5*time.Minute),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			TLS: struct {
				Enabled  bool
				CertFile string
				KeyFile  string
			}{
				Enabled:  getEnvAsBool("TLS_ENABLED", false),
				CertFile: getEnv("TLS_CERT_FILE", "certs/cert.pem"),
				KeyFile:  getEnv("TLS_KEY_FILE", "certs/key.pem"),
			},
		},
		Database:       loadDatabaseConfig(),
		MarginDatabase: loadMarginDatabaseConfig(),
		Auth: AuthConfig{
			Issuer: getEnv("SERVICE_KEY_ISSUER", "botmesh"),
			Keys:   keys,
			Leeway: getEnvAsDuration("SERVICE_KEY_LEEWAY", 30*time.Second),
		},
		Registry: RegistryConfig{
			CacheTTL:     getEnvAsDuration("REGISTRY_CACHE_TTL", 30*time.Second),
			UnhealthyTTL: getEnvAsDuration("PROVIDER_UNHEALTHY_TTL", 60*time.Second),
			SelfHosted:   splitList(getEnv("SELF_HOSTED_ADAPTERS", "")),
			CostFile:     getEnv("COST_FILE", ""),
			MemoryHealth: getEnvAsBool("REGISTRY_MEMORY_HEALTH", false),
		},
		Pricing: PricingConfig{
			TextGeneration:   getEnvAsFloat("SELL_PRICE_TEXT_GENERATION", 0),
			Embeddings:       getEnvAsFloat("SELL_PRICE_EMBEDDINGS", 0),
			TTS:              getEnvAsFloat("SELL_PRICE_TTS", 0),
			ImageGeneration:  getEnvAsFloat("SELL_PRICE_IMAGE_GENERATION", 0),
			Transcription:    getEnvAsFloat("SELL_PRICE_TRANSCRIPTION", 0),
			PreferLowLatency: getEnvAsBool("PREFER_LOW_LATENCY", false),
		},
		Metering: MeteringConfig{
			BufferSize:  getEnvAsInt("METERING_BUFFER_SIZE", 10000),
			WorkerCount: getEnvAsInt("METERING_WORKERS", 4),
		},
		Providers: ProvidersConfig{
			OpenAI: OpenAIConfig{
				APIKey:  getEnv("OPENAI_API_KEY", ""),
				BaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
				Timeout: getEnvAsDuration("OPENAI_TIMEOUT", 60*time.Second),
			},
			SelfHosted: SelfHostedConfig{
				Name:        getEnv("SELF_HOSTED_NAME", "self-hosted-vllm"),
				BaseURL:     getEnv("SELF_HOSTED_BASE_URL", ""),
				APIKey:      getEnv("SELF_HOSTED_API_KEY", ""),
				Timeout:     getEnvAsDuration("SELF_HOSTED_TIMEOUT", 120*time.Second),
				CostPerMTok: getEnvAsFloat("SELF_HOSTED_COST_PER_MTOK", 0.20),
			},
			Anthropic: AnthropicConfig{
				APIKey:  getEnv("ANTHROPIC_API_KEY", ""),
				BaseURL: getEnv("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
				Timeout: getEnvAsDuration("ANTHROPIC_TIMEOUT", 60*time.Second),
			},
			ElevenLabs: ElevenLabsConfig{
				APIKey:               getEnv("ELEVENLABS_API_KEY", ""),
				BaseURL:              getEnv("ELEVENLABS_BASE_URL", "https://api.elevenlabs.io"),
				Timeout:              getEnvAsDuration("ELEVENLABS_TIMEOUT", 60*time.Second),
				CostPerThousandChars: getEnvAsFloat("ELEVENLABS_COST_PER_1K_CHARS", 0.15),
			},
			Chatterbox: ChatterboxConfig{
				BaseURL:       getEnv("CHATTERBOX_BASE_URL", ""),
				Timeout:       getEnvAsDuration("CHATTERBOX_TIMEOUT", 120*time.Second),
				CostPerMinute: getEnvAsFloat("CHATTERBOX_COST_PER_MINUTE", 0.06),
			},
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	// Database validation (DATABASE_URL or DB_* vars)
	if c.Database.ConnectionString == "" && c.Database.Host == "" {
		return fmt.Errorf("database configuration required: set DATABASE_URL or DB_HOST")
	}
	if c.Database.ConnectionString == "" {
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}

	// Every request is authenticated, so the gateway cannot start without
	// a keyring
	if len(c.Auth.Keys) == 0 {
		return fmt.Errorf("service key keyring is required: set SERVICE_KEY_KEYRING")
	}

	// Provider validation (at least one upstream required in production)
	if c.IsProduction() {
		if c.Providers.OpenAI.APIKey == "" &&
			c.Providers.SelfHosted.BaseURL == "" &&
			c.Providers.Anthropic.APIKey == "" &&
			c.Providers.ElevenLabs.APIKey == "" &&
			c.Providers.Chatterbox.BaseURL == "" {
			return fmt.Errorf("at least one provider must be configured in production")
		}
	}

	if c.Logging.Level == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars
func loadDatabaseConfig() DatabaseConfig {
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL != "" {
		return DatabaseConfig{
			ConnectionString: dbURL,
			MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		}
	}
	return DatabaseConfig{
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "gateway"),
		Password:        getEnv("DB_PASSWORD", "gateway_password"),
		Database:        getEnv("DB_NAME", "gateway"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// loadMarginDatabaseConfig loads the margin DB config from DATABASE_URL_MARGINS.
// Returns nil when not set (margins use main DB).
func loadMarginDatabaseConfig() *DatabaseConfig {
	dbURL := getEnv("DATABASE_URL_MARGINS", "")
	if dbURL == "" {
		return nil
	}
	return &DatabaseConfig{
		ConnectionString: dbURL,
		MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// parseKeyring parses "kid:secret,kid2:secret2" into a keyring map. Secrets
// may contain colons; only the first one separates the kid.
func parseKeyring(raw string) (map[string]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	keys := make(map[string]string)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kid, secret, found := strings.Cut(part, ":")
		if !found || kid == "" || secret == "" {
			return nil, fmt.Errorf("service key keyring entry %q: want kid:secret", part)
		}
		keys[kid] = secret
	}
	return keys, nil
}

// splitList parses a comma-separated list, trimming spaces and dropping
// empty entries
func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
