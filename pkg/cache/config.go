package cache

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// CacheConfig holds configuration for the policy caches.
type CacheConfig struct {
	// Enabled controls whether caching is active. When false every lookup
	// goes to the database.
	Enabled bool

	// TTL bounds how stale a cached policy set may be when a change was
	// made by another process.
	TTL time.Duration

	// MaxSize is the maximum number of entries per cache instance.
	MaxSize int
}

// DefaultCacheConfig returns a CacheConfig with sensible defaults.
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		Enabled: true,
		TTL:     30 * time.Second,
		MaxSize: 1000,
	}
}

// CacheConfigFromEnv reads cache configuration from environment variables,
// falling back to defaults for any unset variable.
//
// Environment variables:
//   - DOCFLOW_POLICY_CACHE_ENABLED: "true" or "false" (default: "true")
//   - DOCFLOW_POLICY_CACHE_TTL: seconds (default: 30)
//   - DOCFLOW_POLICY_CACHE_MAX_SIZE: max entries (default: 1000)
func CacheConfigFromEnv() *CacheConfig {
	cfg := DefaultCacheConfig()

	if v := os.Getenv("DOCFLOW_POLICY_CACHE_ENABLED"); v != "" {
		cfg.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("DOCFLOW_POLICY_CACHE_TTL"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.TTL = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("DOCFLOW_POLICY_CACHE_MAX_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxSize = n
		}
	}

	return cfg
}
