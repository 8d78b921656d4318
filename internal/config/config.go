package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Data backends.
const (
	BackendSupabase = "supabase"
	BackendPostgres = "postgres"
)

// Config holds all application configuration.
// Defaults, then the optional YAML file named by PORTAL_CONFIG, then
// environment variables; env always wins.
type Config struct {
	// Server
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	// HTTP client
	HTTPTimeout time.Duration `yaml:"http_timeout"`

	// Resilience
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxConcurrency int           `yaml:"max_concurrency"`

	// Cache
	CacheTTL  time.Duration `yaml:"cache_ttl"`
	CacheSize int           `yaml:"cache_size"`

	// Observability
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Supabase
	SupabaseURL        string `yaml:"supabase_url"`
	SupabaseAnonKey    string `yaml:"-"`
	SupabaseServiceKey string `yaml:"-"`
	SupabaseJWTSecret  string `yaml:"-"`
	JWTAudience        string `yaml:"jwt_audience"`

	// Storage backends
	DataBackend string `yaml:"data_backend"`
	DatabaseURL string `yaml:"-"`
	RedisURL    string `yaml:"-"`

	// Live refresh
	LiveDebounce    time.Duration `yaml:"live_debounce"`
	RealtimeEnabled bool          `yaml:"realtime_enabled"`

	// Aggregation caps
	SingleFetchLimit    int `yaml:"single_fetch_limit"`
	AggregateFetchLimit int `yaml:"aggregate_fetch_limit"`

	// Browser access
	CORSOrigins      []string `yaml:"cors_origins"`
	WSOriginPatterns []string `yaml:"ws_origin_patterns"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Port:     8080,
		LogLevel: "info",

		HTTPTimeout: 10 * time.Second,

		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxConcurrency: 50,

		CacheTTL:  5 * time.Minute,
		CacheSize: 512,

		JWTAudience: "authenticated",
		DataBackend: BackendSupabase,

		LiveDebounce:    time.Second,
		RealtimeEnabled: true,

		SingleFetchLimit:    1000,
		AggregateFetchLimit: 500,
	}
}

// Load reads configuration. Secrets (keys, JWT secret, connection URLs)
// only come from the environment.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("PORTAL_CONFIG"); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}
	cfg.overlayEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

func (c *Config) overlayEnv() {
	c.Port = getEnvInt("PORT", c.Port)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	c.HTTPTimeout = getEnvDuration("HTTP_TIMEOUT", c.HTTPTimeout)

	c.MaxRetries = getEnvInt("MAX_RETRIES", c.MaxRetries)
	c.InitialBackoff = getEnvDuration("INITIAL_BACKOFF", c.InitialBackoff)
	c.MaxConcurrency = getEnvInt("MAX_CONCURRENCY", c.MaxConcurrency)

	c.CacheTTL = getEnvDuration("CACHE_TTL", c.CacheTTL)
	c.CacheSize = getEnvInt("CACHE_SIZE", c.CacheSize)

	c.OTLPEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", c.OTLPEndpoint)

	c.SupabaseURL = getEnv("SUPABASE_URL", c.SupabaseURL)
	c.SupabaseAnonKey = getEnv("SUPABASE_ANON_KEY", c.SupabaseAnonKey)
	c.SupabaseServiceKey = getEnv("SUPABASE_SERVICE_ROLE_KEY", c.SupabaseServiceKey)
	c.SupabaseJWTSecret = getEnv("SUPABASE_JWT_SECRET", c.SupabaseJWTSecret)
	c.JWTAudience = getEnv("JWT_AUDIENCE", c.JWTAudience)

	c.DataBackend = strings.ToLower(getEnv("DATA_BACKEND", c.DataBackend))
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.RedisURL = getEnv("REDIS_URL", c.RedisURL)

	c.LiveDebounce = getEnvDuration("LIVE_DEBOUNCE", c.LiveDebounce)
	c.RealtimeEnabled = getEnvBool("REALTIME_ENABLED", c.RealtimeEnabled)

	c.SingleFetchLimit = getEnvInt("SINGLE_FETCH_LIMIT", c.SingleFetchLimit)
	c.AggregateFetchLimit = getEnvInt("AGGREGATE_FETCH_LIMIT", c.AggregateFetchLimit)

	c.CORSOrigins = getEnvList("CORS_ALLOWED_ORIGINS", c.CORSOrigins)
	c.WSOriginPatterns = getEnvList("WS_ALLOWED_ORIGINS", c.WSOriginPatterns)
}

// Validate checks that the selected backend has what it needs.
func (c *Config) Validate() error {
	switch c.DataBackend {
	case BackendSupabase:
		if c.SupabaseURL == "" || c.SupabaseAnonKey == "" {
			return fmt.Errorf("config: DATA_BACKEND=supabase requires SUPABASE_URL and SUPABASE_ANON_KEY")
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("config: DATA_BACKEND=postgres requires DATABASE_URL")
		}
	default:
		return fmt.Errorf("config: unknown DATA_BACKEND %q", c.DataBackend)
	}
	if c.SingleFetchLimit <= 0 || c.AggregateFetchLimit <= 0 {
		return fmt.Errorf("config: fetch limits must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
