package workflow

import (
	"os"
	"strconv"
	"time"
)

// WorkflowConfig controls uploads, tagging and reminders.
type WorkflowConfig struct {
	MaxUploadBytes int64
	// TaggingTimeout bounds background tagging of a new version.
	TaggingTimeout time.Duration
	// TaggingMaxBytes is how much of a text payload is sent for tagging.
	TaggingMaxBytes int64
	// ReminderAfter is how long a step may stay active before reminders start.
	ReminderAfter time.Duration
	// ReminderEvery is the minimum gap between two reminders for a step.
	ReminderEvery time.Duration
}

// DefaultWorkflowConfig returns the default configuration.
func DefaultWorkflowConfig() *WorkflowConfig {
	return &WorkflowConfig{
		MaxUploadBytes:  50 << 20,
		TaggingTimeout:  45 * time.Second,
		TaggingMaxBytes: 64 << 10,
		ReminderAfter:   48 * time.Hour,
		ReminderEvery:   24 * time.Hour,
	}
}

// WorkflowConfigFromEnv loads config from environment variables.
// DOCFLOW_MAX_UPLOAD_MB, DOCFLOW_TAGGING_TIMEOUT_SECONDS,
// DOCFLOW_REMINDER_AFTER_HOURS, DOCFLOW_REMINDER_EVERY_HOURS
func WorkflowConfigFromEnv() *WorkflowConfig {
	cfg := DefaultWorkflowConfig()

	if v := os.Getenv("DOCFLOW_MAX_UPLOAD_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxUploadBytes = int64(n) << 20
		}
	}
	if v := os.Getenv("DOCFLOW_TAGGING_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.TaggingTimeout = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("DOCFLOW_REMINDER_AFTER_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ReminderAfter = time.Duration(n) * time.Hour
		}
	}
	if v := os.Getenv("DOCFLOW_REMINDER_EVERY_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ReminderEvery = time.Duration(n) * time.Hour
		}
	}

	return cfg
}
