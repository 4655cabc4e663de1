// Package config loads daemon configuration from flags, environment variables, and .env files.
package config

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration.
type Config struct {
	App    AppConfig
	Logger LoggerConfig
	Data   DataConfig
	Sync   SyncConfig
	Scrape ScrapeConfig
	Server ServerConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level string
}

// DataConfig holds on-disk state locations.
type DataConfig struct {
	BasePath string // index.db, tasks/ and search/ live here
}

// IndexPath is the SQLite index database.
func (d DataConfig) IndexPath() string { return filepath.Join(d.BasePath, "index.db") }

// TasksPath is the Badger task journal directory.
func (d DataConfig) TasksPath() string { return filepath.Join(d.BasePath, "tasks") }

// SearchPath is the Bleve index directory.
func (d DataConfig) SearchPath() string { return filepath.Join(d.BasePath, "search") }

// SyncConfig controls the scan → index → scrape pipeline.
type SyncConfig struct {
	BatchSize          int           // index apply batch size (default: 50)
	EnableAutoScrape   bool          // enqueue scrapes after indexing (default: true)
	ScrapeUpdated      bool          // also scrape retitled / recovered comics (default: true)
	MaxConcurrentRoots int           // SyncAllRoots fan-out (default: 4)
	Interval           time.Duration // periodic full sync, 0 disables (default: 6h)
	Watch              bool          // incremental sync on filesystem events (default: true)
	WatchSettle        time.Duration // debounce for filesystem events (default: 2s)
	SyncOnStart        bool          // full sync of auto-sync roots at startup (default: true)
	RetryDelay         time.Duration // wait before re-running a transiently failed trigger (default: 1m)
	Retention          time.Duration // finished task history kept in the journal, 0 keeps all (default: 720h)
}

// ScrapeConfig controls the metadata scrape pool and catalog client.
type ScrapeConfig struct {
	Workers      int           // worker pool size (default: 2)
	MaxRetries   int           // attempts per task (default: 3)
	RetryBackoff time.Duration // base delay before a retry is requeued, 0 = immediate
	BaseURL      string        // catalog API; empty disables network scraping
	SiteURL      string        // title pages for the Open Graph fallback; empty disables it
	RateLimit    float64       // requests per second per host (default: 2)
	Burst        int           // limiter burst (default: 4)
	Timeout      time.Duration // per request (default: 15s)
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port              string
	AllowedOrigins    []string // CORS origins (default: *)
	RequestsPerMinute int      // per client IP, 0 disables (default: 600)
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
}

// LoadConfig loads configuration from the process arguments.
func LoadConfig() (*Config, error) {
	return Load(os.Args[1:])
}

// Load builds a Config with precedence:
// 1. Command-line flags (highest priority).
// 2. Environment variables.
// 3. .env file.
// 4. Default values (lowest priority).
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("shelfsync", flag.ContinueOnError)

	env := fs.String("env", "", "Environment (development, staging, production)")
	logLevel := fs.String("log-level", "", "Log level (debug, info, warn, error)")
	dataPath := fs.String("data-path", "", "Base path for index, task journal and search data")
	envFile := fs.String("env-file", ".env", "Path to .env file")

	batchSize := fs.String("batch-size", "", "Index apply batch size (default: 50)")
	autoScrape := fs.String("auto-scrape", "", "Enqueue metadata scrapes after sync (default: true)")
	scrapeUpdated := fs.String("scrape-updated", "", "Scrape comics whose title or cover changed (default: true)")
	maxRoots := fs.String("max-concurrent-roots", "", "Roots synced in parallel (default: 4)")
	syncInterval := fs.String("sync-interval", "", "Periodic full sync interval, 0 disables (default: 6h)")
	watch := fs.String("watch", "", "Watch roots for changes (default: true)")
	syncOnStart := fs.String("sync-on-start", "", "Sync all auto-sync roots at startup (default: true)")
	retention := fs.String("task-retention", "", "Keep finished tasks this long, 0 keeps all (default: 720h)")

	workers := fs.String("scrape-workers", "", "Scrape worker pool size (default: 2)")
	maxRetries := fs.String("scrape-max-retries", "", "Attempts per scrape task (default: 3)")
	retryBackoff := fs.String("scrape-retry-backoff", "", "Base retry delay (default: 0, immediate)")
	baseURL := fs.String("catalog-url", "", "Metadata catalog base URL")
	siteURL := fs.String("catalog-site-url", "", "Catalog title page base URL for Open Graph fallback")

	port := fs.String("port", "", "Server port (default: 8080)")
	origins := fs.String("cors-origins", "", "Comma-separated allowed CORS origins (default: *)")
	rpm := fs.String("rate-limit", "", "Requests per minute per client IP, 0 disables (default: 600)")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	// Missing .env is fine.
	_ = loadEnvFile(*envFile)

	cfg := &Config{
		App:    AppConfig{Environment: getConfigValue(*env, "ENV", "development")},
		Logger: LoggerConfig{Level: getConfigValue(*logLevel, "LOG_LEVEL", "info")},
		Data:   DataConfig{BasePath: getConfigValue(*dataPath, "DATA_PATH", "")},
		Sync: SyncConfig{
			BatchSize:          getIntConfigValue(*batchSize, "SYNC_BATCH_SIZE", 50),
			EnableAutoScrape:   getBoolConfigValue(*autoScrape, "SYNC_AUTO_SCRAPE", true),
			ScrapeUpdated:      getBoolConfigValue(*scrapeUpdated, "SYNC_SCRAPE_UPDATED", true),
			MaxConcurrentRoots: getIntConfigValue(*maxRoots, "SYNC_MAX_CONCURRENT_ROOTS", 4),
			Watch:              getBoolConfigValue(*watch, "SYNC_WATCH", true),
			SyncOnStart:        getBoolConfigValue(*syncOnStart, "SYNC_ON_START", true),
		},
		Scrape: ScrapeConfig{
			Workers:    getIntConfigValue(*workers, "SCRAPE_WORKERS", 2),
			MaxRetries: getIntConfigValue(*maxRetries, "SCRAPE_MAX_RETRIES", 3),
			BaseURL:    getConfigValue(*baseURL, "CATALOG_URL", ""),
			SiteURL:    getConfigValue(*siteURL, "CATALOG_SITE_URL", ""),
			RateLimit:  getFloatConfigValue("", "SCRAPE_RATE_LIMIT", 2),
			Burst:      getIntConfigValue("", "SCRAPE_BURST", 4),
		},
		Server: ServerConfig{
			Port:              getConfigValue(*port, "SERVER_PORT", "8080"),
			AllowedOrigins:    splitList(getConfigValue(*origins, "SERVER_CORS_ORIGINS", "")),
			RequestsPerMinute: getIntConfigValue(*rpm, "SERVER_RATE_LIMIT", 600),
		},
	}

	durations := []struct {
		dst   *time.Duration
		flag  string
		env   string
		def   string
		label string
	}{
		{&cfg.Sync.Interval, *syncInterval, "SYNC_INTERVAL", "6h", "sync interval"},
		{&cfg.Sync.WatchSettle, "", "SYNC_WATCH_SETTLE", "2s", "watch settle delay"},
		{&cfg.Sync.RetryDelay, "", "SYNC_RETRY_DELAY", "1m", "sync retry delay"},
		{&cfg.Sync.Retention, *retention, "TASK_RETENTION", "720h", "task retention"},
		{&cfg.Scrape.RetryBackoff, *retryBackoff, "SCRAPE_RETRY_BACKOFF", "0s", "scrape retry backoff"},
		{&cfg.Scrape.Timeout, "", "SCRAPE_TIMEOUT", "15s", "scrape timeout"},
		{&cfg.Server.ReadTimeout, "", "SERVER_READ_TIMEOUT", "15s", "read timeout"},
		{&cfg.Server.WriteTimeout, "", "SERVER_WRITE_TIMEOUT", "0s", "write timeout"},
		{&cfg.Server.IdleTimeout, "", "SERVER_IDLE_TIMEOUT", "60s", "idle timeout"},
	}
	for _, d := range durations {
		raw := getConfigValue(d.flag, d.env, d.def)
		v, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", d.label, raw, err)
		}
		*d.dst = v
	}

	if err := cfg.expandDataPath(); err != nil {
		return nil, fmt.Errorf("invalid data path: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required config values are present and valid.
func (c *Config) Validate() error {
	switch c.App.Environment {
	case "development", "staging", "production":
	case "":
		return errors.New("ENV is required")
	default:
		return fmt.Errorf("invalid environment: %s (must be development, staging, or production)", c.App.Environment)
	}

	switch strings.ToLower(c.Logger.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logger.Level)
	}

	if c.Data.BasePath == "" {
		return errors.New("data base path cannot be empty after expansion")
	}
	if c.Sync.BatchSize < 1 {
		return fmt.Errorf("batch size must be positive, got %d", c.Sync.BatchSize)
	}
	if c.Sync.MaxConcurrentRoots < 1 {
		return fmt.Errorf("max concurrent roots must be positive, got %d", c.Sync.MaxConcurrentRoots)
	}
	if c.Scrape.Workers < 1 {
		return fmt.Errorf("scrape workers must be positive, got %d", c.Scrape.Workers)
	}
	if c.Scrape.MaxRetries < 1 {
		return fmt.Errorf("scrape max retries must be positive, got %d", c.Scrape.MaxRetries)
	}
	if c.Server.RequestsPerMinute < 0 {
		return fmt.Errorf("rate limit must not be negative, got %d", c.Server.RequestsPerMinute)
	}
	if c.Scrape.RetryBackoff < 0 || c.Sync.Interval < 0 || c.Sync.Retention < 0 {
		return errors.New("durations must not be negative")
	}
	return nil
}

// expandPath expands ~ and makes the path absolute.
// If path is empty, defaultPath is returned unchanged.
func expandPath(path, defaultPath string) (string, error) {
	if path == "" {
		return defaultPath, nil
	}

	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	if !filepath.IsAbs(path) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		path = absPath
	}
	return filepath.Clean(path), nil
}

func (c *Config) expandDataPath() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	expanded, err := expandPath(c.Data.BasePath, filepath.Join(homeDir, ".shelfsync"))
	if err != nil {
		return err
	}
	c.Data.BasePath = expanded
	return nil
}

// getConfigValue returns the first non-empty value from flag, env var, or default.
func getConfigValue(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envValue := os.Getenv(envKey); envValue != "" {
		return envValue
	}
	return defaultValue
}

// splitList splits a comma-separated value, dropping blanks.
func splitList(raw string) []string {
	var out []string
	for part := range strings.SplitSeq(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getBoolConfigValue accepts "true", "1", "yes" (case-insensitive) as true.
func getBoolConfigValue(flagValue, envKey string, defaultValue bool) bool {
	raw := getConfigValue(flagValue, envKey, "")
	if raw == "" {
		return defaultValue
	}
	raw = strings.ToLower(raw)
	return raw == "true" || raw == "1" || raw == "yes"
}

func getIntConfigValue(flagValue, envKey string, defaultValue int) int {
	raw := getConfigValue(flagValue, envKey, "")
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return defaultValue
	}
	return v
}

func getFloatConfigValue(flagValue, envKey string, defaultValue float64) float64 {
	raw := getConfigValue(flagValue, envKey, "")
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return defaultValue
	}
	return v
}

// loadEnvFile loads KEY=value lines from path into the environment.
// Variables already set in the environment are left alone.
func loadEnvFile(path string) error {
	file, err := os.Open(path) //#nosec G304 -- path comes from the operator
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return fmt.Errorf("invalid format at line %d: %s", lineNum, line)
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)

		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("failed to set env var %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}
