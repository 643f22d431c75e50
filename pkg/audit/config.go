package audit

import (
	"os"
	"strconv"
)

// AuditConfig controls audit retention.
type AuditConfig struct {
	// RetentionDays is how long events are kept; 0 keeps them forever.
	RetentionDays int
}

// DefaultAuditConfig returns the default configuration.
func DefaultAuditConfig() *AuditConfig {
	return &AuditConfig{RetentionDays: 365}
}

// AuditConfigFromEnv loads config from environment variables.
// DOCFLOW_AUDIT_RETENTION_DAYS
func AuditConfigFromEnv() *AuditConfig {
	cfg := DefaultAuditConfig()

	if v := os.Getenv("DOCFLOW_AUDIT_RETENTION_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil && days >= 0 {
			cfg.RetentionDays = days
		}
	}

	return cfg
}
