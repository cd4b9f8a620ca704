package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"jobmate/search-service/internal/config"
	"jobmate/search-service/internal/db"
	"jobmate/search-service/internal/events"
	"jobmate/search-service/internal/search"
	"jobmate/search-service/internal/secrets"
	"jobmate/search-service/internal/store"
	"jobmate/search-service/internal/upstream"
)

var (
	cfgPath string
	envFile string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "search-service",
	Short: "Cached job search backed by Google Jobs",
	Long:  "search-service answers job searches from a Postgres or SQLite cache and refreshes stale entries from SerpApi.",
	// `search-service` with no args runs the server, like the other jobmate services.
	RunE:          runServe,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file (default: SEARCH_CONFIG env var or ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

// loadConfig loads the dotenv file, resolves the config path and parses it.
// Priority: explicit path arg > SEARCH_CONFIG env var > "./config.yaml"
func loadConfig(path string) (*config.Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	if path == "" {
		if env := os.Getenv("SEARCH_CONFIG"); env != "" {
			path = env
		} else {
			path = "config.yaml"
		}
	}

	return config.Load(path)
}

func setupLogger(cfg config.LogConfig, dbg bool) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	if dbg {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// bootstrap loads config and the logger, exiting on failure the way every
// subcommand expects.
func bootstrap() (*config.Config, *slog.Logger) {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		setupLogger(config.LogConfig{}, debug).Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := setupLogger(cfg.Log, debug)
	slog.SetDefault(logger)
	secrets.ResolveAPIKey(cfg, logger)
	return cfg, logger
}

// openStore connects to the configured store and ensures its schema.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	logger.Info("connecting to store…", "driver", cfg.Database.Driver)
	st, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}
	logger.Info("store connected ✓", "driver", cfg.Database.Driver)
	return st, nil
}

// buildService assembles the search pipeline. The returned cleanup closes the
// Redis client when one was opened.
func buildService(ctx context.Context, cfg *config.Config, st store.Store, logger *slog.Logger) (*search.Service, func()) {
	var (
		pub     search.Publisher = events.Nop{}
		cleanup                  = func() {}
	)
	if cfg.RedisURL != "" {
		rdb, err := db.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn("redis unavailable, cache events disabled", "error", err)
		} else {
			logger.Info("redis connected ✓", "channel", cfg.Events.Channel)
			pub = events.NewRedisPublisher(rdb, cfg.Events.Channel)
			cleanup = func() { closeRedis(rdb, logger) }
		}
	}

	opts := upstream.OptionsFromConfig(cfg.Upstream)
	opts.Logger = logger
	client := upstream.New(opts)
	if !client.Configured() {
		logger.Warn("SERPAPI_API_KEY is not set; searches will fail until it is configured")
	}

	svc := search.NewService(st, client, pub, search.Options{
		TTL:                   cfg.Cache.TTL,
		DefaultResultsPerPage: cfg.Cache.DefaultResultsPerPage,
		MaxResultsPerPage:     cfg.Cache.MaxResultsPerPage,
		Logger:                logger,
	})
	return svc, cleanup
}

func closeRedis(rdb *redis.Client, logger *slog.Logger) {
	if err := rdb.Close(); err != nil {
		logger.Warn("redis close failed", "error", err)
	}
}
