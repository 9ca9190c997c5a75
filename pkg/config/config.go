package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/subbill/pkg/archive"
	"github.com/platinummonkey/subbill/pkg/ledger"
	"github.com/platinummonkey/subbill/pkg/lock"
	"github.com/platinummonkey/subbill/pkg/observability"
	"github.com/platinummonkey/subbill/pkg/storage/sqlstore"
)

const (
	LedgerBackendSQL  = "sql"
	LedgerBackendFile = "file"

	LockBackendMemory = "memory"
	LockBackendRedis  = "redis"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Storage       sqlstore.Config
	Ledger        LedgerConfig
	Lock          LockConfig
	Plans         PlansConfig
	Billing       BillingConfig
	Archive       ArchiveConfig
	Scheduler     SchedulerConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	RateLimit RateLimitConfig
}

// RateLimitConfig limits admin API requests per client address
type RateLimitConfig struct {
	Enabled  bool
	Requests int
	Window   time.Duration
	Burst    int
}

// LedgerConfig selects where pending orders and plan history are kept
type LedgerConfig struct {
	Backend      string // sql or file
	Dir          string
	CompactRatio int
}

// LockConfig selects the generation lock backend
type LockConfig struct {
	Backend string // memory or redis
	TTL     time.Duration
	Prefix  string
	Redis   lock.RedisConfig
}

// PlansConfig controls the plan catalog seed file and cache
type PlansConfig struct {
	SeedFile  string
	Watch     bool
	CacheSize int
	CacheTTL  time.Duration
}

// BillingConfig holds billing rules
type BillingConfig struct {
	PriceBasis ledger.PriceBasis
}

// ArchiveConfig controls archiving of run reports to S3
type ArchiveConfig struct {
	Enabled bool
	S3      archive.Config
}

// SchedulerConfig holds the cron specs of the scheduler binary
type SchedulerConfig struct {
	GenerateSpec string
	RenewSpec    string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Ledger:        loadLedgerConfig(),
		Lock:          loadLockConfig(),
		Plans:         loadPlansConfig(),
		Billing:       BillingConfig{PriceBasis: ledger.PriceBasis(strings.ToLower(getEnv("SUBBILL_PRICE_BASIS", string(ledger.PriceBasisTerm))))},
		Archive:       loadArchiveConfig(),
		Scheduler:     loadSchedulerConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("SUBBILL_HOST", "0.0.0.0"),
		Port:            getEnv("SUBBILL_PORT", "8080"),
		ReadTimeout:     getEnvDuration("SUBBILL_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("SUBBILL_WRITE_TIMEOUT", 5*time.Minute),
		IdleTimeout:     getEnvDuration("SUBBILL_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("SUBBILL_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("SUBBILL_HEALTH_PORT", "9090"),
		RateLimit: RateLimitConfig{
			Enabled:  getEnvBool("SUBBILL_RATE_LIMIT_ENABLED", false),
			Requests: getEnvInt("SUBBILL_RATE_LIMIT_REQUESTS", 120),
			Window:   getEnvDuration("SUBBILL_RATE_LIMIT_WINDOW", time.Minute),
			Burst:    getEnvInt("SUBBILL_RATE_LIMIT_BURST", 20),
		},
	}
}

// loadStorageConfig loads database configuration from environment
func loadStorageConfig() sqlstore.Config {
	return sqlstore.Config{
		Driver:      getEnv("SUBBILL_STORAGE_DRIVER", "sqlite"),
		DSN:         getEnv("SUBBILL_STORAGE_DSN", "file:subbill.db?_foreign_keys=on&_busy_timeout=5000"),
		MaxConns:    getEnvInt("SUBBILL_STORAGE_MAX_CONNS", 20),
		MinConns:    getEnvInt("SUBBILL_STORAGE_MIN_CONNS", 2),
		Timeout:     getEnvDuration("SUBBILL_STORAGE_TIMEOUT", 10*time.Second),
		MaxLifetime: getEnvDuration("SUBBILL_STORAGE_MAX_LIFETIME", 30*time.Minute),
		MaxIdleTime: getEnvDuration("SUBBILL_STORAGE_MAX_IDLE_TIME", 5*time.Minute),
	}
}

func loadLedgerConfig() LedgerConfig {
	return LedgerConfig{
		Backend:      strings.ToLower(getEnv("SUBBILL_LEDGER_BACKEND", LedgerBackendSQL)),
		Dir:          getEnv("SUBBILL_LEDGER_DIR", "./data/ledger"),
		CompactRatio: getEnvInt("SUBBILL_LEDGER_COMPACT_RATIO", 4),
	}
}

func loadLockConfig() LockConfig {
	return LockConfig{
		Backend: strings.ToLower(getEnv("SUBBILL_LOCK_BACKEND", LockBackendMemory)),
		TTL:     getEnvDuration("SUBBILL_LOCK_TTL", 30*time.Minute),
		Prefix:  getEnv("SUBBILL_LOCK_PREFIX", "subbill:"),
		Redis: lock.RedisConfig{
			URL:        getEnv("SUBBILL_REDIS_URL", ""),
			Password:   getEnv("SUBBILL_REDIS_PASSWORD", ""),
			DB:         getEnvInt("SUBBILL_REDIS_DB", 0),
			PoolSize:   getEnvInt("SUBBILL_REDIS_POOL_SIZE", 10),
			MaxRetries: getEnvInt("SUBBILL_REDIS_MAX_RETRIES", 3),
		},
	}
}

func loadPlansConfig() PlansConfig {
	return PlansConfig{
		SeedFile:  getEnv("SUBBILL_PLANS_FILE", ""),
		Watch:     getEnvBool("SUBBILL_PLANS_WATCH", false),
		CacheSize: getEnvInt("SUBBILL_PLANS_CACHE_SIZE", 256),
		CacheTTL:  getEnvDuration("SUBBILL_PLANS_CACHE_TTL", 5*time.Minute),
	}
}

func loadArchiveConfig() ArchiveConfig {
	return ArchiveConfig{
		Enabled: getEnvBool("SUBBILL_ARCHIVE_ENABLED", false),
		S3: archive.Config{
			Endpoint:     getEnv("SUBBILL_S3_ENDPOINT", ""),
			Region:       getEnv("SUBBILL_S3_REGION", "us-east-1"),
			Bucket:       getEnv("SUBBILL_S3_BUCKET", ""),
			AccessKey:    getEnv("SUBBILL_S3_ACCESS_KEY", ""),
			SecretKey:    getEnv("SUBBILL_S3_SECRET_KEY", ""),
			UsePathStyle: getEnvBool("SUBBILL_S3_USE_PATH_STYLE", false),
			Prefix:       getEnv("SUBBILL_S3_PREFIX", "billing-runs"),
		},
	}
}

func loadSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		// 02:00 UTC on the 25th bills the coming month
		GenerateSpec: getEnv("SUBBILL_GENERATE_SCHEDULE", "0 2 25 * *"),
		RenewSpec:    getEnv("SUBBILL_RENEW_SCHEDULE", "15 0 * * *"),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("SUBBILL_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("SUBBILL_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("SUBBILL_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("SUBBILL_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("SUBBILL_OTEL_SERVICE_NAME", "subbill"),
		OTelServiceVersion: getEnv("SUBBILL_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("SUBBILL_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Server.RateLimit.Enabled && (c.Server.RateLimit.Requests <= 0 || c.Server.RateLimit.Window <= 0) {
		return fmt.Errorf("rate limit requests and window must be positive")
	}

	// Validate storage config
	if _, err := sqlstore.ParseDialect(c.Storage.Driver); err != nil {
		return fmt.Errorf("invalid storage driver: %s (must be sqlite or postgres)", c.Storage.Driver)
	}
	if c.Storage.DSN == "" {
		return fmt.Errorf("storage DSN is required")
	}

	switch c.Ledger.Backend {
	case LedgerBackendSQL:
	case LedgerBackendFile:
		if c.Ledger.Dir == "" {
			return fmt.Errorf("ledger directory is required for file ledger")
		}
	default:
		return fmt.Errorf("invalid ledger backend: %s (must be sql or file)", c.Ledger.Backend)
	}

	switch c.Lock.Backend {
	case LockBackendMemory:
	case LockBackendRedis:
		if c.Lock.Redis.URL == "" {
			return fmt.Errorf("redis URL is required for redis lock backend")
		}
	default:
		return fmt.Errorf("invalid lock backend: %s (must be memory or redis)", c.Lock.Backend)
	}
	if c.Lock.TTL <= 0 {
		return fmt.Errorf("lock TTL must be positive")
	}

	if c.Plans.Watch && c.Plans.SeedFile == "" {
		return fmt.Errorf("plans file is required when watching plans")
	}

	if !c.Billing.PriceBasis.Valid() {
		return fmt.Errorf("invalid price basis: %s (must be term or monthly)", c.Billing.PriceBasis)
	}

	if c.Archive.Enabled && c.Archive.S3.Bucket == "" {
		return fmt.Errorf("S3 bucket is required when archiving is enabled")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(c.Scheduler.GenerateSpec); err != nil {
		return fmt.Errorf("invalid generate schedule %q: %w", c.Scheduler.GenerateSpec, err)
	}
	if _, err := parser.Parse(c.Scheduler.RenewSpec); err != nil {
		return fmt.Errorf("invalid renew schedule %q: %w", c.Scheduler.RenewSpec, err)
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// OTel returns the OpenTelemetry settings in the form InitOTel expects
func (c *Config) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        c.Observability.OTelEnabled,
		Endpoint:       c.Observability.OTelEndpoint,
		ServiceName:    c.Observability.OTelServiceName,
		ServiceVersion: c.Observability.OTelServiceVersion,
		Insecure:       c.Observability.OTelInsecure,
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
