package access

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// AccessConfig controls grants, rate limits and the policy seed file.
type AccessConfig struct {
	// DefaultGrant is how long an approval grants access when the decider
	// gives no duration.
	DefaultGrant time.Duration
	// MaxGrant caps manually chosen grant durations.
	MaxGrant time.Duration
	// MaxRequestsPerDay limits requests per user and document in 24h.
	// Zero disables the limit.
	MaxRequestsPerDay int
	// SeedFile is an optional YAML file of policies synced at startup.
	SeedFile string
	// WatchSeed re-syncs SeedFile whenever it changes.
	WatchSeed bool
}

// DefaultAccessConfig returns the default configuration.
func DefaultAccessConfig() *AccessConfig {
	return &AccessConfig{
		DefaultGrant:      72 * time.Hour,
		MaxGrant:          90 * 24 * time.Hour,
		MaxRequestsPerDay: 5,
	}
}

// AccessConfigFromEnv loads config from environment variables.
// DOCFLOW_GRANT_HOURS, DOCFLOW_MAX_GRANT_DAYS, DOCFLOW_ACCESS_REQUESTS_PER_DAY,
// DOCFLOW_POLICY_SEED_FILE, DOCFLOW_POLICY_SEED_WATCH
func AccessConfigFromEnv() *AccessConfig {
	cfg := DefaultAccessConfig()

	if v := os.Getenv("DOCFLOW_GRANT_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.DefaultGrant = time.Duration(n) * time.Hour
		}
	}
	if v := os.Getenv("DOCFLOW_MAX_GRANT_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxGrant = time.Duration(n) * 24 * time.Hour
		}
	}
	if v := os.Getenv("DOCFLOW_ACCESS_REQUESTS_PER_DAY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.MaxRequestsPerDay = n
		}
	}
	cfg.SeedFile = os.Getenv("DOCFLOW_POLICY_SEED_FILE")
	if v := os.Getenv("DOCFLOW_POLICY_SEED_WATCH"); v != "" {
		cfg.WatchSeed = strings.EqualFold(v, "true") || v == "1"
	}

	return cfg
}
