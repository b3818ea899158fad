// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the configuration of the ingestion server and CLI.
type Config struct {
	ListenAddr string // HTTP listen address (default ":8080")
	LogLevel   string // log level: debug, info, warn, error (default "info")
	Env        string // environment: "development" (default) or "production"

	MetaDBPath    string // SQLite file for distinct values and usage (default "ingest_meta.sqlite")
	CoordDBPath   string // badger directory of the coordination store (default "data/coord")
	CoordInMemory bool   // keep the coordination store in memory (tests, demos)
	DataDir       string // root of the write-ahead files (default "data/wal")

	// Ingestion limits
	TimestampColumn       string        // record timestamp field (default "_timestamp")
	IngestAllowedUpto     time.Duration // oldest accepted record age (default 5h)
	IngestAllowedInFuture time.Duration // seeds the minimum timestamp window (default 5h)
	DistinctFields        []string      // fields recorded as distinct values
	BlockedStreams        []string      // "org/stream" or "org/*"
	IngestWorkers         int           // worker ids handed to the write stage (default 4)
	WriteWorkers          int           // concurrent write stage calls (default 4)

	// Write stage
	WALRotateSchedule string        // cron spec of the rotation job (default "@every 10s")
	WALMaxAge         time.Duration // seal files older than this (default 10m)
	WALMaxSizeMB      int64         // seal files larger than this (default 128)

	// Transforms
	TransformTimeout  time.Duration // wall-clock bound per record (default 2s)
	TransformMaxSteps uint64        // Starlark step budget per record (default 100000)

	// Rate limiting
	RateLimitRPS   float64 // sustained requests per second (default 100)
	RateLimitBurst int     // burst capacity (default 200)

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsProduction returns true when the server is running in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// LoadFromEnv loads configuration from environment variables. Unparseable
// values fall back to their default and add a warning.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		ListenAddr:        os.Getenv("LISTEN_ADDR"),
		LogLevel:          os.Getenv("LOG_LEVEL"),
		Env:               os.Getenv("ENV"),
		MetaDBPath:        os.Getenv("META_DB_PATH"),
		CoordDBPath:       os.Getenv("COORD_DB_PATH"),
		CoordInMemory:     parseBoolEnvDefault("COORD_IN_MEMORY", false),
		DataDir:           os.Getenv("DATA_DIR"),
		TimestampColumn:   os.Getenv("COLUMN_TIMESTAMP"),
		WALRotateSchedule: os.Getenv("WAL_ROTATE_SCHEDULE"),
		DistinctFields:    splitList(os.Getenv("DISTINCT_FIELDS")),
		BlockedStreams:    splitList(os.Getenv("BLOCKED_STREAMS")),
	}

	cfg.IngestAllowedUpto = cfg.durationEnv("INGEST_ALLOWED_UPTO", 5*time.Hour)
	cfg.IngestAllowedInFuture = cfg.durationEnv("INGEST_ALLOWED_IN_FUTURE", 5*time.Hour)
	cfg.WALMaxAge = cfg.durationEnv("WAL_MAX_AGE", 10*time.Minute)
	cfg.TransformTimeout = cfg.durationEnv("TRANSFORM_TIMEOUT", 2*time.Second)
	cfg.IngestWorkers = int(cfg.intEnv("INGEST_WORKERS", 4))
	cfg.WriteWorkers = int(cfg.intEnv("WRITE_WORKERS", 4))
	cfg.WALMaxSizeMB = cfg.intEnv("WAL_MAX_SIZE_MB", 128)
	cfg.TransformMaxSteps = uint64(cfg.intEnv("TRANSFORM_MAX_STEPS", 100_000)) //nolint:gosec // validated positive
	cfg.RateLimitBurst = int(cfg.intEnv("RATE_LIMIT_BURST", 200))

	// Rate limiting
	cfg.RateLimitRPS = 100
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.RateLimitRPS = f
		} else {
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("invalid RATE_LIMIT_RPS %q, using default", v))
		}
	}

	// Defaults
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.MetaDBPath == "" {
		cfg.MetaDBPath = "ingest_meta.sqlite"
	}
	if cfg.CoordDBPath == "" {
		cfg.CoordDBPath = "data/coord"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "data/wal"
	}
	if cfg.TimestampColumn == "" {
		cfg.TimestampColumn = "_timestamp"
	}
	if cfg.WALRotateSchedule == "" {
		cfg.WALRotateSchedule = "@every 10s"
	}
	if cfg.CoordInMemory {
		cfg.Warnings = append(cfg.Warnings, "COORD_IN_MEMORY is set; transforms and schemas are lost on restart")
	}

	// Production mode: volatile coordination state is a fatal error.
	if cfg.IsProduction() && cfg.CoordInMemory {
		return nil, fmt.Errorf("COORD_IN_MEMORY is not allowed in production (ENV=production)")
	}

	return cfg, nil
}

func (c *Config) durationEnv(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		c.Warnings = append(c.Warnings, fmt.Sprintf("invalid %s %q, using default %s", key, v, def))
		return def
	}
	return d
}

func (c *Config) intEnv(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		c.Warnings = append(c.Warnings, fmt.Sprintf("invalid %s %q, using default %d", key, v, def))
		return def
	}
	return n
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	items := strings.Split(v, ",")
	for i := range items {
		items[i] = strings.TrimSpace(items[i])
	}
	return compactNonEmpty(items)
}

func parseBoolEnvDefault(key string, defaultVal bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return defaultVal
	}
	if v == "0" || v == "false" || v == "no" || v == "off" {
		return false
	}
	if v == "1" || v == "true" || v == "yes" || v == "on" {
		return true
	}
	return defaultVal
}

func compactNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil // .env not found is not an error
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		value = stripQuotes(value)
		// Only set if not already in the environment (env vars take precedence)
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
// Only strips if both the first and last characters are matching quotes.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
