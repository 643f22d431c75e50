package llm

import (
	"os"
	"strconv"
	"time"
)

// LLMConfig configures the LLM client.
type LLMConfig struct {
	Endpoint string // OpenAI-compatible chat completions URL; empty disables the client.
	APIKey   string
	Model    string
	// Timeout bounds a single attempt.
	Timeout time.Duration
	// MaxAttempts bounds the total number of attempts, retries included.
	MaxAttempts    int
	InitialBackoff time.Duration
	// RequestsPerSecond limits outbound calls; burst is one.
	RequestsPerSecond float64
}

// DefaultLLMConfig returns the default configuration.
func DefaultLLMConfig() *LLMConfig {
	return &LLMConfig{
		Model:             "gpt-4o-mini",
		Timeout:           20 * time.Second,
		MaxAttempts:       3,
		InitialBackoff:    500 * time.Millisecond,
		RequestsPerSecond: 2,
	}
}

// LLMConfigFromEnv loads config from environment variables.
// DOCFLOW_LLM_ENDPOINT, DOCFLOW_LLM_API_KEY, DOCFLOW_LLM_MODEL,
// DOCFLOW_LLM_TIMEOUT_SECONDS, DOCFLOW_LLM_MAX_ATTEMPTS, DOCFLOW_LLM_RPS
func LLMConfigFromEnv() *LLMConfig {
	cfg := DefaultLLMConfig()

	cfg.Endpoint = os.Getenv("DOCFLOW_LLM_ENDPOINT")
	cfg.APIKey = os.Getenv("DOCFLOW_LLM_API_KEY")
	if v := os.Getenv("DOCFLOW_LLM_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("DOCFLOW_LLM_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Timeout = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("DOCFLOW_LLM_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxAttempts = n
		}
	}
	if v := os.Getenv("DOCFLOW_LLM_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.RequestsPerSecond = f
		}
	}

	return cfg
}
