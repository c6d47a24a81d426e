// Package config provides centralized configuration loaded from environment
// variables. Shared by cmd/api and cmd/pushctl.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Storage drivers
// --------------------------------------------------------------------------

const (
	DriverFile     = "file"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverRedis    = "redis"
)

var (
	alarmDrivers    = []string{DriverFile, DriverPostgres, DriverSQLite}
	registryDrivers = []string{DriverFile, DriverRedis, DriverPostgres, DriverSQLite}
)

// --------------------------------------------------------------------------
// Config struct, populated from environment variables
// --------------------------------------------------------------------------

type Config struct {
	// API server
	APIHost     string
	APIPort     int
	Environment string // development, staging, production
	Debug       bool

	// CORS
	CORSAllowOrigins []string

	// Rate limiting
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Storage
	StorageDriver  string // alarm records
	RegistryDriver string // subscription list
	DataDir        string
	SQLitePath     string
	SQLiteBusy     time.Duration
	RedisURL       string
	RedisPrefix    string

	// Database
	DatabaseURL    string
	DBPoolMinConns int
	DBPoolMaxConns int
	DBPoolMaxLife  time.Duration

	// Web Push
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubject    string
	PushTitle       string
	PushTTL         time.Duration
	PushUrgency     string
	PushTimeout     time.Duration

	// Scheduling
	LeadTime      time.Duration
	ImminentSlack time.Duration
	DedupWindow   time.Duration
	FlightWait    time.Duration
	MaxLookahead  time.Duration

	// Maintenance
	RetentionDays int
	PurgeSchedule string // cron spec, empty disables the periodic purge
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	dataDir := envOr("DATA_DIR", "data")

	cfg := &Config{
		APIHost:     envOr("API_HOST", "0.0.0.0"),
		APIPort:     envInt("API_PORT", envInt("PORT", 3000)),
		Environment: envOr("ENVIRONMENT", "development"),
		Debug:       envBool("DEBUG", false),

		CORSAllowOrigins: envList("CORS_ALLOW_ORIGINS", []string{"*"}),

		RateLimitEnabled:  envBool("RATE_LIMIT_ENABLED", true),
		RateLimitRequests: envInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:   time.Duration(envInt("RATE_LIMIT_WINDOW", 60)) * time.Second,

		StorageDriver:  strings.ToLower(envOr("STORAGE_DRIVER", DriverFile)),
		RegistryDriver: strings.ToLower(envOr("REGISTRY_DRIVER", DriverFile)),
		DataDir:        dataDir,
		SQLitePath:     envOr("SQLITE_PATH", filepath.Join(dataDir, "pushsched.db")),
		SQLiteBusy:     envDuration("SQLITE_BUSY_TIMEOUT", 5*time.Second),
		RedisURL:       envOr("REDIS_URL", ""),
		RedisPrefix:    envOr("REDIS_PREFIX", "pushsched:"),

		DatabaseURL:    envOr("DATABASE_URL", ""),
		DBPoolMinConns: envInt("DB_POOL_MIN_CONNS", 2),
		DBPoolMaxConns: envInt("DB_POOL_MAX_CONNS", 10),
		DBPoolMaxLife:  time.Duration(envInt("DB_POOL_MAX_LIFE_MINUTES", 30)) * time.Minute,

		VAPIDPublicKey:  envOr("VAPID_PUBLIC_KEY", ""),
		VAPIDPrivateKey: envOr("VAPID_PRIVATE_KEY", ""),
		VAPIDSubject:    envOr("VAPID_SUBJECT", "mailto:admin@example.com"),
		PushTitle:       envOr("PUSH_TITLE", "Reminder"),
		PushTTL:         envDuration("PUSH_TTL", 24*time.Hour),
		PushUrgency:     envOr("PUSH_URGENCY", "normal"),
		PushTimeout:     envDuration("PUSH_TIMEOUT", 10*time.Second),

		LeadTime:      envDuration("LEAD_TIME", 5*time.Minute),
		ImminentSlack: envDuration("IMMINENT_SLACK", 30*time.Second),
		DedupWindow:   envDuration("DEDUP_WINDOW", time.Minute),
		FlightWait:    envDuration("FLIGHT_WAIT", 3*time.Second),
		MaxLookahead:  envDuration("MAX_LOOKAHEAD", 14*24*time.Hour),

		RetentionDays: envInt("RETENTION_DAYS", 30),
		PurgeSchedule: os.Getenv("PURGE_SCHEDULE"),
	}
	if _, set := os.LookupEnv("PURGE_SCHEDULE"); !set {
		cfg.PurgeSchedule = "@daily"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks driver names and the settings each driver needs.
func (c *Config) Validate() error {
	if !contains(alarmDrivers, c.StorageDriver) {
		return fmt.Errorf("STORAGE_DRIVER %q: must be one of %s", c.StorageDriver, strings.Join(alarmDrivers, ", "))
	}
	if !contains(registryDrivers, c.RegistryDriver) {
		return fmt.Errorf("REGISTRY_DRIVER %q: must be one of %s", c.RegistryDriver, strings.Join(registryDrivers, ", "))
	}
	if c.NeedsPostgres() && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL must be set for the postgres driver")
	}
	if c.RegistryDriver == DriverRedis && c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL must be set for the redis registry driver")
	}
	if (c.VAPIDPublicKey == "") != (c.VAPIDPrivateKey == "") {
		return fmt.Errorf("VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY must be set together")
	}
	if c.LeadTime <= 0 || c.FlightWait <= 0 || c.ImminentSlack <= 0 || c.MaxLookahead <= 0 {
		return fmt.Errorf("LEAD_TIME, IMMINENT_SLACK, FLIGHT_WAIT and MAX_LOOKAHEAD must be positive")
	}
	if c.DedupWindow < time.Millisecond {
		return fmt.Errorf("DEDUP_WINDOW must be at least 1ms, got %s", c.DedupWindow)
	}
	if c.RetentionDays < 1 {
		return fmt.Errorf("RETENTION_DAYS must be at least 1, got %d", c.RetentionDays)
	}
	return nil
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) NeedsPostgres() bool {
	return c.StorageDriver == DriverPostgres || c.RegistryDriver == DriverPostgres
}

func (c *Config) NeedsSQLite() bool {
	return c.StorageDriver == DriverSQLite || c.RegistryDriver == DriverSQLite
}

// PushEnabled reports whether a VAPID key pair is configured.
func (c *Config) PushEnabled() bool {
	return c.VAPIDPublicKey != "" && c.VAPIDPrivateKey != ""
}

// Retention is the age after which alarm records are purged.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// --------------------------------------------------------------------------
// Env helpers
// --------------------------------------------------------------------------

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}

// envDuration accepts Go durations ("90s", "5m") or a bare number of seconds.
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return fallback
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
