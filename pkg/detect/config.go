package detect

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const defaultSampleSize = 10

// DetectConfig holds detector and alert retention settings.
type DetectConfig struct {
	// Location is used by rules restricted to local hours.
	Location *time.Location
	// SampleSize bounds the events copied into each alert.
	SampleSize int
	// DenialCooldown is how long repeated-denials bars new requests.
	DenialCooldown time.Duration
	// RetentionDays keeps resolved alerts this long before cleanup.
	RetentionDays int
	// Thresholds overrides rule thresholds by rule id.
	Thresholds map[string]int64
	// Interval is how often the detection routines run; zero picks the
	// smallest rule window so no events fall between two scans.
	Interval time.Duration
}

// DefaultDetectConfig returns the default configuration.
func DefaultDetectConfig() *DetectConfig {
	return &DetectConfig{
		Location:       time.UTC,
		SampleSize:     defaultSampleSize,
		DenialCooldown: 24 * time.Hour,
		RetentionDays:  30,
		Thresholds:     map[string]int64{},
	}
}

// DetectConfigFromEnv loads config from environment variables.
// DOCFLOW_DETECT_TIMEZONE, DOCFLOW_ALERT_SAMPLE_SIZE, DOCFLOW_DENIAL_COOLDOWN_HOURS,
// DOCFLOW_ALERT_RETENTION_DAYS, DOCFLOW_DETECT_THRESHOLDS (rule=n,rule=n),
// DOCFLOW_DETECT_INTERVAL (Go duration, e.g. 5m)
func DetectConfigFromEnv() *DetectConfig {
	cfg := DefaultDetectConfig()

	if v := os.Getenv("DOCFLOW_DETECT_TIMEZONE"); v != "" {
		if loc, err := time.LoadLocation(v); err == nil {
			cfg.Location = loc
		}
	}
	if v := os.Getenv("DOCFLOW_ALERT_SAMPLE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SampleSize = n
		}
	}
	if v := os.Getenv("DOCFLOW_DENIAL_COOLDOWN_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.DenialCooldown = time.Duration(n) * time.Hour
		}
	}
	if v := os.Getenv("DOCFLOW_ALERT_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RetentionDays = n
		}
	}
	if v := os.Getenv("DOCFLOW_DETECT_THRESHOLDS"); v != "" {
		cfg.Thresholds = ParseThresholds(v)
	}
	if v := os.Getenv("DOCFLOW_DETECT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Interval = d
		}
	}

	return cfg
}

// ParseThresholds reads "rule=n,rule=n". Malformed entries are ignored.
func ParseThresholds(s string) map[string]int64 {
	out := map[string]int64{}
	for _, part := range strings.Split(s, ",") {
		id, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		if err != nil || n <= 0 {
			continue
		}
		out[strings.TrimSpace(id)] = n
	}
	return out
}

func (c *DetectConfig) threshold(ruleID string, def int64) int64 {
	if n, ok := c.Thresholds[ruleID]; ok {
		return n
	}
	return def
}

const defaultScanInterval = 10 * time.Minute

// ScanInterval returns how often rules should be evaluated: the configured
// Interval, or else the smallest window among rules.
func (c *DetectConfig) ScanInterval(rules []Rule) time.Duration {
	if c.Interval > 0 {
		return c.Interval
	}
	var smallest time.Duration
	for _, r := range rules {
		w, ok := r.(interface{ WindowSize() time.Duration })
		if !ok || w.WindowSize() <= 0 {
			continue
		}
		if smallest == 0 || w.WindowSize() < smallest {
			smallest = w.WindowSize()
		}
	}
	if smallest == 0 {
		return defaultScanInterval
	}
	return smallest
}
