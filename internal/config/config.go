// Package config loads and validates environment variables at startup.
// Fail-fast: if a required variable is missing or malformed, Load returns an
// error and the process exits.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration for the placement service.
type Config struct {
	Port        string
	GRPCPort    string
	DatabaseURL string
	RedisURL    string

	CronSecret  string
	CronEnabled bool
	Location    *time.Location

	CatalogPath        string
	BannedTerms        []string
	RateLimitPerMinute int

	GatewayURL       string
	GatewaySecretKey string
	RegistryURL      string
	RegistryAPIKey   string

	LogLevel string
}

// LoadDotEnv loads .env when present. Variables already set in the
// environment win.
func LoadDotEnv(paths ...string) error {
	if err := godotenv.Load(paths...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// Load reads environment variables and returns a validated Config.
func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}

	cronSecret := os.Getenv("CRON_SECRET")
	if cronSecret == "" {
		return nil, fmt.Errorf("CRON_SECRET is required")
	}

	cronEnabled, err := boolEnv("CRON_ENABLED", false)
	if err != nil {
		return nil, err
	}

	tz := getenv("TIMEZONE", "Asia/Seoul")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("TIMEZONE %q: %w", tz, err)
	}

	rateLimit, err := intEnv("RATE_LIMIT_PER_MINUTE", 120)
	if err != nil {
		return nil, err
	}

	return &Config{
		Port:               getenv("PLACEMENT_PORT", "8084"),
		GRPCPort:           getenv("GRPC_PORT", "9094"),
		DatabaseURL:        dbURL,
		RedisURL:           redisURL,
		CronSecret:         cronSecret,
		CronEnabled:        cronEnabled,
		Location:           loc,
		CatalogPath:        os.Getenv("PRICING_CATALOG_PATH"),
		BannedTerms:        splitList(os.Getenv("BANNED_TERMS")),
		RateLimitPerMinute: rateLimit,
		GatewayURL:         os.Getenv("GATEWAY_URL"),
		GatewaySecretKey:   os.Getenv("GATEWAY_SECRET_KEY"),
		RegistryURL:        os.Getenv("REGISTRY_URL"),
		RegistryAPIKey:     os.Getenv("REGISTRY_API_KEY"),
		LogLevel:           getenv("LOG_LEVEL", "info"),
	}, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func boolEnv(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean, got %q", key, v)
	}
	return b, nil
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer, got %q", key, v)
	}
	return n, nil
}

// splitList parses a comma-separated list, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
