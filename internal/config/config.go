// Package config loads and validates the service configuration at startup.
// Fail-fast: a malformed file or an invalid value aborts the process.
//
// Sources, in increasing priority: built-in defaults, an optional YAML file
// (with ${VAR} expansion), then a fixed set of environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all runtime configuration for the search service.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	RedisURL    string
	Events      EventsConfig
	Upstream    UpstreamConfig
	Cache       CacheConfig
	Maintenance MaintenanceConfig
	Log         LogConfig
}

// ServerConfig controls the HTTP and gRPC listeners.
type ServerConfig struct {
	Port         string
	GRPCPort     string // empty disables the gRPC listener
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DatabaseConfig selects and locates the cache store.
type DatabaseConfig struct {
	Driver     string // "postgres" or "sqlite"
	URL        string // postgres connection string
	SQLitePath string
}

// EventsConfig controls cache-refresh event publishing (requires RedisURL).
type EventsConfig struct {
	Channel string
}

// UpstreamConfig describes the external job-search provider.
type UpstreamConfig struct {
	BaseURL           string
	APIKey            string
	KeyringAccount    string // OS keyring account consulted when APIKey is empty
	Language          string
	MaxPages          int
	PageSize          int
	PageDelay         time.Duration
	Timeout           time.Duration
	RequestsPerSecond float64
	MaxRetries        int
	RetryBaseDelay    time.Duration
}

// CacheConfig controls freshness and page sizing.
type CacheConfig struct {
	TTL                   time.Duration
	DefaultResultsPerPage int
	MaxResultsPerPage     int
}

// MaintenanceConfig controls the periodic prune job.
type MaintenanceConfig struct {
	Enabled         bool
	Schedule        string // cron spec, e.g. "@every 6h"
	SearchRetention time.Duration
	ListingMaxAge   time.Duration
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // text or json
}

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	defaultBaseURL = "https://serpapi.com/search.json"
)

// rawConfig is used for YAML unmarshaling (snake_case fields and durations as strings).
type rawConfig struct {
	Server struct {
		Port         string `yaml:"port"`
		GRPCPort     string `yaml:"grpc_port"`
		ReadTimeout  string `yaml:"read_timeout"`
		WriteTimeout string `yaml:"write_timeout"`
	} `yaml:"server"`
	Database struct {
		Driver     string `yaml:"driver"`
		URL        string `yaml:"url"`
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
	Events struct {
		Channel string `yaml:"channel"`
	} `yaml:"events"`
	Upstream struct {
		BaseURL           string  `yaml:"base_url"`
		APIKey            string  `yaml:"api_key"`
		KeyringAccount    string  `yaml:"keyring_account"`
		Language          string  `yaml:"language"`
		MaxPages          int     `yaml:"max_pages"`
		PageSize          int     `yaml:"page_size"`
		PageDelay         string  `yaml:"page_delay"`
		Timeout           string  `yaml:"timeout"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		MaxRetries        *int    `yaml:"max_retries"`
		RetryBaseDelay    string  `yaml:"retry_base_delay"`
	} `yaml:"upstream"`
	Cache struct {
		TTL                   string `yaml:"ttl"`
		DefaultResultsPerPage int    `yaml:"default_results_per_page"`
		MaxResultsPerPage     int    `yaml:"max_results_per_page"`
	} `yaml:"cache"`
	Maintenance struct {
		Enabled         *bool  `yaml:"enabled"`
		Schedule        string `yaml:"schedule"`
		SearchRetention string `yaml:"search_retention"`
		ListingMaxAge   string `yaml:"listing_max_age"`
	} `yaml:"maintenance"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Default returns the configuration used when no file and no environment
// overrides are present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         "8083",
			GRPCPort:     "9093",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:     DriverPostgres,
			SQLitePath: "search-cache.db",
		},
		Events: EventsConfig{Channel: "EVENT_SEARCH_CACHED"},
		Upstream: UpstreamConfig{
			BaseURL:           defaultBaseURL,
			KeyringAccount:    "serpapi",
			Language:          "en",
			MaxPages:          5,
			PageSize:          10,
			PageDelay:         200 * time.Millisecond,
			Timeout:           15 * time.Second,
			RequestsPerSecond: 5,
			MaxRetries:        0,
			RetryBaseDelay:    500 * time.Millisecond,
		},
		Cache: CacheConfig{
			TTL:                   24 * time.Hour,
			DefaultResultsPerPage: 50,
			MaxResultsPerPage:     100,
		},
		Maintenance: MaintenanceConfig{
			Enabled:         true,
			Schedule:        "@every 6h",
			SearchRetention: 7 * 24 * time.Hour,
			ListingMaxAge:   30 * 24 * time.Hour,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty or the file does not exist) and environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			// optional file
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := applyFile(cfg, data); err != nil {
				return nil, err
			}
		}
	}

	applyEnv(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, data []byte) error {
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	setString(&cfg.Server.Port, raw.Server.Port)
	setString(&cfg.Server.GRPCPort, raw.Server.GRPCPort)
	setString(&cfg.Database.Driver, raw.Database.Driver)
	setString(&cfg.Database.URL, raw.Database.URL)
	setString(&cfg.Database.SQLitePath, raw.Database.SQLitePath)
	setString(&cfg.RedisURL, raw.Redis.URL)
	setString(&cfg.Events.Channel, raw.Events.Channel)
	setString(&cfg.Upstream.BaseURL, raw.Upstream.BaseURL)
	setString(&cfg.Upstream.APIKey, raw.Upstream.APIKey)
	setString(&cfg.Upstream.KeyringAccount, raw.Upstream.KeyringAccount)
	setString(&cfg.Upstream.Language, raw.Upstream.Language)
	setString(&cfg.Maintenance.Schedule, raw.Maintenance.Schedule)
	setString(&cfg.Log.Level, raw.Log.Level)
	setString(&cfg.Log.Format, raw.Log.Format)

	setInt(&cfg.Upstream.MaxPages, raw.Upstream.MaxPages)
	setInt(&cfg.Upstream.PageSize, raw.Upstream.PageSize)
	setInt(&cfg.Cache.DefaultResultsPerPage, raw.Cache.DefaultResultsPerPage)
	setInt(&cfg.Cache.MaxResultsPerPage, raw.Cache.MaxResultsPerPage)
	if raw.Upstream.RequestsPerSecond != 0 {
		cfg.Upstream.RequestsPerSecond = raw.Upstream.RequestsPerSecond
	}
	if raw.Upstream.MaxRetries != nil {
		cfg.Upstream.MaxRetries = *raw.Upstream.MaxRetries
	}
	if raw.Maintenance.Enabled != nil {
		cfg.Maintenance.Enabled = *raw.Maintenance.Enabled
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.read_timeout", raw.Server.ReadTimeout, &cfg.Server.ReadTimeout},
		{"server.write_timeout", raw.Server.WriteTimeout, &cfg.Server.WriteTimeout},
		{"upstream.page_delay", raw.Upstream.PageDelay, &cfg.Upstream.PageDelay},
		{"upstream.timeout", raw.Upstream.Timeout, &cfg.Upstream.Timeout},
		{"upstream.retry_base_delay", raw.Upstream.RetryBaseDelay, &cfg.Upstream.RetryBaseDelay},
		{"cache.ttl", raw.Cache.TTL, &cfg.Cache.TTL},
		{"maintenance.search_retention", raw.Maintenance.SearchRetention, &cfg.Maintenance.SearchRetention},
		{"maintenance.listing_max_age", raw.Maintenance.ListingMaxAge, &cfg.Maintenance.ListingMaxAge},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("parse %s %q: %w", d.name, d.raw, err)
		}
		*d.dst = v
	}
	return nil
}

// applyEnv overlays the environment variables the deployment sets directly.
func applyEnv(cfg *Config) {
	setString(&cfg.Database.URL, os.Getenv("DATABASE_URL"))
	setString(&cfg.Database.Driver, os.Getenv("DATABASE_DRIVER"))
	setString(&cfg.Database.SQLitePath, os.Getenv("SQLITE_PATH"))
	setString(&cfg.RedisURL, os.Getenv("REDIS_URL"))
	setString(&cfg.Upstream.APIKey, os.Getenv("SERPAPI_API_KEY"))
	setString(&cfg.Server.Port, os.Getenv("SEARCH_PORT"))
	setString(&cfg.Server.GRPCPort, os.Getenv("SEARCH_GRPC_PORT"))
	setString(&cfg.Log.Level, os.Getenv("LOG_LEVEL"))
}

func validate(cfg *Config) error {
	cfg.Database.Driver = strings.ToLower(strings.TrimSpace(cfg.Database.Driver))
	switch cfg.Database.Driver {
	case DriverPostgres:
		if cfg.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required when database.driver is %q", DriverPostgres)
		}
	case DriverSQLite:
		if cfg.Database.SQLitePath == "" {
			return fmt.Errorf("database.sqlite_path is required when database.driver is %q", DriverSQLite)
		}
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", DriverPostgres, DriverSQLite, cfg.Database.Driver)
	}

	if cfg.Server.Port == "" {
		return fmt.Errorf("server.port must not be empty")
	}
	if cfg.Upstream.MaxPages < 1 {
		return fmt.Errorf("upstream.max_pages must be a positive integer, got %d", cfg.Upstream.MaxPages)
	}
	if cfg.Upstream.PageSize < 1 {
		return fmt.Errorf("upstream.page_size must be a positive integer, got %d", cfg.Upstream.PageSize)
	}
	if cfg.Upstream.PageDelay < 0 {
		return fmt.Errorf("upstream.page_delay must not be negative, got %v", cfg.Upstream.PageDelay)
	}
	if cfg.Upstream.MaxRetries < 0 {
		return fmt.Errorf("upstream.max_retries must not be negative, got %d", cfg.Upstream.MaxRetries)
	}
	if cfg.Upstream.RequestsPerSecond <= 0 {
		return fmt.Errorf("upstream.requests_per_second must be positive, got %v", cfg.Upstream.RequestsPerSecond)
	}
	if cfg.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive, got %v", cfg.Cache.TTL)
	}
	if cfg.Cache.DefaultResultsPerPage < 1 || cfg.Cache.DefaultResultsPerPage > cfg.Cache.MaxResultsPerPage {
		return fmt.Errorf("cache.default_results_per_page must be between 1 and %d, got %d",
			cfg.Cache.MaxResultsPerPage, cfg.Cache.DefaultResultsPerPage)
	}
	if cfg.Maintenance.Enabled && cfg.Maintenance.Schedule == "" {
		return fmt.Errorf("maintenance.schedule is required when maintenance.enabled is true")
	}

	switch strings.ToLower(cfg.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be \"text\" or \"json\", got %q", cfg.Log.Format)
	}
	return nil
}

// RequireAPIKey reports a configuration error when no upstream API key is set.
func (c *Config) RequireAPIKey() error {
	if strings.TrimSpace(c.Upstream.APIKey) == "" {
		return fmt.Errorf("SERPAPI_API_KEY is required (env, upstream.api_key, or keyring account %q)", c.Upstream.KeyringAccount)
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}
