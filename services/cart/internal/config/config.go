package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	pkgconfig "github.com/syntex82/nodepress/pkg/config"
	"github.com/syntex82/nodepress/pkg/database"
	"github.com/syntex82/nodepress/pkg/httpclient"
	"github.com/syntex82/nodepress/pkg/middleware"
	"github.com/syntex82/nodepress/pkg/tracing"
)

// Store backends for cart persistence.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config holds all configuration for the cart service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort              int `env:"CART_HTTP_PORT" envDefault:"8003"`
	RequestTimeoutSeconds int `env:"CART_REQUEST_TIMEOUT_SECONDS" envDefault:"30"`

	// Per-caller limit on cart mutations. Zero RPS disables it.
	RateLimitRPS   float64 `env:"CART_RATE_LIMIT_RPS" envDefault:"20"`
	RateLimitBurst int     `env:"CART_RATE_LIMIT_BURST" envDefault:"40"`

	// Store selects where carts live: postgres, or memory for local runs.
	Store string `env:"CART_STORE" envDefault:"postgres"`
	// SeedDemoCatalog fills the in-memory catalog with demo products and
	// courses when no other catalog source is configured.
	SeedDemoCatalog bool `env:"CART_SEED_DEMO_CATALOG" envDefault:"false"`

	// PostgreSQL
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"nodepress"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"nodepress"`
	PostgresDB   string `env:"POSTGRES_DB" envDefault:"nodepress"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Database pool
	DBMaxConns            int32 `env:"DB_MAX_CONNS" envDefault:"20"`
	DBMinConns            int32 `env:"DB_MIN_CONNS" envDefault:"2"`
	DBMaxConnLifetimeMins int   `env:"DB_MAX_CONN_LIFETIME_MINUTES" envDefault:"60"`
	DBMaxConnIdleTimeMins int   `env:"DB_MAX_CONN_IDLE_TIME_MINUTES" envDefault:"30"`

	// Redis backs the catalog cache and the consumer idempotency store. The
	// service starts without both when Redis is unreachable.
	RedisAddr string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPass string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB   int    `env:"REDIS_DB" envDefault:"0"`

	CatalogCacheTTLSeconds int `env:"CATALOG_CACHE_TTL_SECONDS" envDefault:"60"`

	// CatalogServiceURL switches catalog lookups to the product service API.
	// Empty reads the catalog tables directly.
	CatalogServiceURL string `env:"CATALOG_SERVICE_URL" envDefault:""`

	// Circuit breaker around the catalog service
	CBMaxRequests  uint32  `env:"CB_MAX_REQUESTS" envDefault:"1"`
	CBInterval     int     `env:"CB_INTERVAL_SECONDS" envDefault:"60"`
	CBTimeout      int     `env:"CB_TIMEOUT_SECONDS" envDefault:"30"`
	CBFailureRatio float64 `env:"CB_FAILURE_RATIO" envDefault:"0.5"`
	CBMinRequests  uint32  `env:"CB_MIN_REQUESTS" envDefault:"5"`

	// Kafka. When disabled cart events are not published and catalog
	// changes are not consumed.
	KafkaEnabled bool     `env:"KAFKA_ENABLED" envDefault:"true"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	Currency          string `env:"CART_CURRENCY" envDefault:"USD"`
	SessionCookieName string `env:"SESSION_COOKIE_NAME" envDefault:"np_session"`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// Pprof debug endpoints (IP allowlist in CIDR notation)
	PprofAllowedCIDRs []string `env:"PPROF_ALLOWED_CIDRS" envDefault:"10.0.0.0/8,172.16.0.0/12,192.168.0.0/16,127.0.0.0/8,::1/128" envSeparator:","`

	// Slow query logging
	SlowQueryThresholdMs int `env:"LOG_SLOW_QUERY_MS" envDefault:"500"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load cart config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFrom reads configuration from environ instead of the process
// environment.
func LoadFrom(environ map[string]string) (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.LoadFrom(cfg, environ); err != nil {
		return nil, fmt.Errorf("load cart config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	switch c.Store {
	case StorePostgres:
		if c.PostgresHost == "" {
			return fmt.Errorf("POSTGRES_HOST is required")
		}
		if c.PostgresUser == "" {
			return fmt.Errorf("POSTGRES_USER is required")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("CART_STORE must be %q or %q, got %q", StorePostgres, StoreMemory, c.Store)
	}
	if c.KafkaEnabled && len(c.Brokers()) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required")
	}
	if c.CatalogCacheTTLSeconds < 0 {
		return fmt.Errorf("CATALOG_CACHE_TTL_SECONDS must not be negative, got %d", c.CatalogCacheTTLSeconds)
	}
	if _, err := c.RedisConfig(); err != nil {
		return err
	}
	if c.CatalogServiceURL != "" {
		if _, err := url.ParseRequestURI(c.CatalogServiceURL); err != nil {
			return fmt.Errorf("invalid CATALOG_SERVICE_URL %q: %w", c.CatalogServiceURL, err)
		}
	}
	if c.CBFailureRatio <= 0 || c.CBFailureRatio > 1.0 {
		return fmt.Errorf("CB_FAILURE_RATIO must be in (0.0, 1.0], got %f", c.CBFailureRatio)
	}
	if len(strings.TrimSpace(c.Currency)) != 3 {
		return fmt.Errorf("CART_CURRENCY must be a 3-letter code, got %q", c.Currency)
	}
	if c.RateLimitRPS < 0 {
		return fmt.Errorf("CART_RATE_LIMIT_RPS must not be negative, got %f", c.RateLimitRPS)
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst < 1 {
		return fmt.Errorf("CART_RATE_LIMIT_BURST must be at least 1, got %d", c.RateLimitBurst)
	}
	if c.SessionCookieName == "" {
		return fmt.Errorf("SESSION_COOKIE_NAME is required")
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1.0 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %f", c.OTELSampleRate)
	}
	return nil
}

// PostgresConfig returns the pool settings for database.NewPostgresPool.
func (c *Config) PostgresConfig() database.PostgresConfig {
	return database.PostgresConfig{
		Host:            c.PostgresHost,
		Port:            c.PostgresPort,
		User:            c.PostgresUser,
		Password:        c.PostgresPass,
		DBName:          c.PostgresDB,
		SSLMode:         c.PostgresSSL,
		MaxConns:        c.DBMaxConns,
		MinConns:        c.DBMinConns,
		MaxConnLifetime: time.Duration(c.DBMaxConnLifetimeMins) * time.Minute,
		MaxConnIdleTime: time.Duration(c.DBMaxConnIdleTimeMins) * time.Minute,
	}
}

// RedisConfig splits RedisAddr into host and port.
func (c *Config) RedisConfig() (database.RedisConfig, error) {
	host, port, err := splitHostPort(c.RedisAddr)
	if err != nil {
		return database.RedisConfig{}, fmt.Errorf("invalid REDIS_ADDR %q: %w", c.RedisAddr, err)
	}
	rc := database.DefaultRedisConfig()
	rc.Host = host
	rc.Port = port
	rc.Password = c.RedisPass
	rc.DB = c.RedisDB
	return rc, nil
}

// CircuitBreakerConfig returns the breaker settings for the catalog client.
func (c *Config) CircuitBreakerConfig() httpclient.CircuitBreakerConfig {
	return httpclient.CircuitBreakerConfig{
		Name:         "cart-catalog",
		MaxRequests:  c.CBMaxRequests,
		Interval:     time.Duration(c.CBInterval) * time.Second,
		Timeout:      time.Duration(c.CBTimeout) * time.Second,
		FailureRatio: c.CBFailureRatio,
		MinRequests:  c.CBMinRequests,
	}
}

// TracingConfig returns the OpenTelemetry settings.
func (c *Config) TracingConfig() tracing.Config {
	tc := tracing.DefaultConfig("cart")
	tc.Environment = c.Environment
	tc.OTLPEndpoint = c.OTELEndpoint
	tc.SampleRate = c.OTELSampleRate
	tc.Enabled = c.OTELEnabled
	return tc
}

// CatalogCacheTTL is how long catalog lookups stay cached. Zero disables the
// cache.
func (c *Config) CatalogCacheTTL() time.Duration {
	return time.Duration(c.CatalogCacheTTLSeconds) * time.Second
}

// RequestTimeout bounds each API request.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// RateLimitConfig returns the limiter settings for cart mutations.
func (c *Config) RateLimitConfig() middleware.RateLimitConfig {
	return middleware.RateLimitConfig{
		Service: "cart",
		RPS:     c.RateLimitRPS,
		Burst:   c.RateLimitBurst,
	}
}

// SlowQueryThreshold is the duration after which traced queries are logged.
func (c *Config) SlowQueryThreshold() time.Duration {
	return time.Duration(c.SlowQueryThresholdMs) * time.Millisecond
}

// Brokers returns the configured Kafka brokers without blank entries.
func (c *Config) Brokers() []string {
	var out []string
	for _, b := range c.KafkaBrokers {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func splitHostPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port %q: %w", portStr, err)
	}
	return host, port, nil
}
