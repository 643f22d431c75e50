package notify

import (
	"os"
	"strconv"
	"time"
)

// NotifyConfig controls delivery.
type NotifyConfig struct {
	SMTP          SMTPConfig
	Workers       int
	QueueSize     int
	SendTimeout   time.Duration
	DirectoryPath string // YAML recipient directory
}

// DefaultNotifyConfig returns the default configuration.
func DefaultNotifyConfig() *NotifyConfig {
	return &NotifyConfig{
		SMTP:        SMTPConfig{Port: "587", FromName: "Docflow"},
		Workers:     2,
		QueueSize:   256,
		SendTimeout: 15 * time.Second,
	}
}

// NotifyConfigFromEnv loads config from environment variables.
// DOCFLOW_SMTP_HOST, DOCFLOW_SMTP_PORT, DOCFLOW_SMTP_USERNAME, DOCFLOW_SMTP_PASSWORD,
// DOCFLOW_SMTP_FROM, DOCFLOW_NOTIFY_WORKERS, DOCFLOW_NOTIFY_QUEUE_SIZE,
// DOCFLOW_NOTIFY_TIMEOUT_SECONDS, DOCFLOW_DIRECTORY_PATH
func NotifyConfigFromEnv() *NotifyConfig {
	cfg := DefaultNotifyConfig()

	cfg.SMTP.Host = os.Getenv("DOCFLOW_SMTP_HOST")
	if v := os.Getenv("DOCFLOW_SMTP_PORT"); v != "" {
		cfg.SMTP.Port = v
	}
	cfg.SMTP.Username = os.Getenv("DOCFLOW_SMTP_USERNAME")
	cfg.SMTP.Password = os.Getenv("DOCFLOW_SMTP_PASSWORD")
	cfg.SMTP.From = os.Getenv("DOCFLOW_SMTP_FROM")

	if v := os.Getenv("DOCFLOW_NOTIFY_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Workers = n
		}
	}
	if v := os.Getenv("DOCFLOW_NOTIFY_QUEUE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.QueueSize = n
		}
	}
	if v := os.Getenv("DOCFLOW_NOTIFY_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SendTimeout = time.Duration(n) * time.Second
		}
	}
	cfg.DirectoryPath = os.Getenv("DOCFLOW_DIRECTORY_PATH")

	return cfg
}
