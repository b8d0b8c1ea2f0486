// Package config loads process configuration from the environment,
// mirroring the env()-default pattern used throughout the engine's
// teacher stack (spec §6.4's tunables plus the ambient storage/metrics
// settings every deployment needs).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds every environment-sourced tunable the engine needs to
// boot: storage DSN, observability listen address, and the per-run
// defaults a SyncPair can't override (spec §6.4).
type Config struct {
	DatabaseURL string

	MetricsAddr string
	LogLevel    string
	LogFormat   string // "json" or "console"

	SystemABaseURL string
	SystemAAPIKey  string
	SystemARateHz  float64

	SystemBBaseURL string
	SystemBAPIKey  string
	SystemBRateHz  float64

	RetryMaxRetries  int
	RetryBaseDelayMs int

	BatchSize            int
	StrictSanitization   bool
	AutoArchiveUnmatched bool
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) (int, error) {
	raw := os.Getenv(k)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", k, raw, err)
	}
	return n, nil
}

func envFloat(k string, def float64) (float64, error) {
	raw := os.Getenv(k)
	if raw == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid number %q: %w", k, raw, err)
	}
	return f, nil
}

func envBool(k string, def bool) bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(k)))
	switch raw {
	case "":
		return def
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// Load reads Config from the environment, applying the defaults from
// spec §4.1 (rate limits) and §4.8 (batch size, retry policy).
func Load() (Config, error) {
	var c Config
	var err error

	c.DatabaseURL = env("DATABASE_URL", "")
	c.MetricsAddr = env("METRICS_ADDR", ":9090")
	c.LogLevel = env("LOG_LEVEL", "info")
	c.LogFormat = env("LOG_FORMAT", "json")

	c.SystemABaseURL = env("SYSTEM_A_BASE_URL", "")
	c.SystemAAPIKey = env("SYSTEM_A_API_KEY", "")
	if c.SystemARateHz, err = envFloat("SYSTEM_A_RATE_HZ", 2.0); err != nil {
		return c, err
	}

	c.SystemBBaseURL = env("SYSTEM_B_BASE_URL", "")
	c.SystemBAPIKey = env("SYSTEM_B_API_KEY", "")
	if c.SystemBRateHz, err = envFloat("SYSTEM_B_RATE_HZ", 3.0); err != nil {
		return c, err
	}

	if c.RetryMaxRetries, err = envInt("RETRY_MAX_RETRIES", 3); err != nil {
		return c, err
	}
	if c.RetryBaseDelayMs, err = envInt("RETRY_BASE_DELAY_MS", 1000); err != nil {
		return c, err
	}
	if c.BatchSize, err = envInt("BATCH_SIZE", 5); err != nil {
		return c, err
	}
	c.StrictSanitization = envBool("STRICT_SANITIZATION", false)
	c.AutoArchiveUnmatched = envBool("AUTO_ARCHIVE_UNMATCHED", true)

	return c, c.Validate()
}

// Validate rejects a Config missing the settings the engine cannot run
// without. A missing DatabaseURL or system base URL is a startup failure
// (a plain error, not an errkind.Error), not something any retry policy
// can paper over.
func (c Config) Validate() error {
	var missing []string
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.SystemABaseURL == "" {
		missing = append(missing, "SYSTEM_A_BASE_URL")
	}
	if c.SystemBBaseURL == "" {
		missing = append(missing, "SYSTEM_B_BASE_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if c.SystemARateHz <= 0 {
		return fmt.Errorf("SYSTEM_A_RATE_HZ must be positive, got %v", c.SystemARateHz)
	}
	if c.SystemBRateHz <= 0 {
		return fmt.Errorf("SYSTEM_B_RATE_HZ must be positive, got %v", c.SystemBRateHz)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("BATCH_SIZE must be positive, got %d", c.BatchSize)
	}
	return nil
}
