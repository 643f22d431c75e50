package jobs

import (
	"os"
	"strconv"
	"time"
)

// JobConfig controls the routine scheduler.
type JobConfig struct {
	Enabled       bool          // Whether the scheduler loop runs. Default true.
	Concurrency   int           // Max routines running at once. Default 3.
	MaxAttempts   int           // Attempts per routine and period. Default 3.
	PollInterval  time.Duration // How often due routines are checked. Default 30s.
	ClaimTimeout  time.Duration // Max time a run may stay running before it is reclaimed. Default 30m.
	RetentionDays int           // How long job_history_retention keeps finished runs. Default 30.
}

// DefaultJobConfig returns the default job configuration.
func DefaultJobConfig() *JobConfig {
	return &JobConfig{
		Enabled:       true,
		Concurrency:   3,
		MaxAttempts:   3,
		PollInterval:  30 * time.Second,
		ClaimTimeout:  30 * time.Minute,
		RetentionDays: 30,
	}
}

// JobConfigFromEnv loads config from environment variables.
// DOCFLOW_JOB_ENABLED, DOCFLOW_JOB_CONCURRENCY, DOCFLOW_JOB_MAX_ATTEMPTS,
// DOCFLOW_JOB_POLL_INTERVAL_SECONDS, DOCFLOW_JOB_CLAIM_TIMEOUT_MINUTES,
// DOCFLOW_JOB_RETENTION_DAYS
func JobConfigFromEnv() *JobConfig {
	cfg := DefaultJobConfig()

	if v := os.Getenv("DOCFLOW_JOB_ENABLED"); v != "" {
		cfg.Enabled, _ = strconv.ParseBool(v)
	}

	if v := os.Getenv("DOCFLOW_JOB_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Concurrency = n
		}
	}

	if v := os.Getenv("DOCFLOW_JOB_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxAttempts = n
		}
	}

	if v := os.Getenv("DOCFLOW_JOB_POLL_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PollInterval = time.Duration(n) * time.Second
		}
	}

	if v := os.Getenv("DOCFLOW_JOB_CLAIM_TIMEOUT_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ClaimTimeout = time.Duration(n) * time.Minute
		}
	}

	if v := os.Getenv("DOCFLOW_JOB_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RetentionDays = n
		}
	}

	return cfg
}
