package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/archivum/docflow/pkg/access"
	"github.com/archivum/docflow/pkg/audit"
	"github.com/archivum/docflow/pkg/authz"
	"github.com/archivum/docflow/pkg/cache"
	"github.com/archivum/docflow/pkg/db"
	"github.com/archivum/docflow/pkg/detect"
	"github.com/archivum/docflow/pkg/jobs"
	"github.com/archivum/docflow/pkg/llm"
	"github.com/archivum/docflow/pkg/notify"
	"github.com/archivum/docflow/pkg/storage"
	"github.com/archivum/docflow/pkg/workflow"
)

// config gathers the per-package configuration. Each package reads its own
// DOCFLOW_* variables; the few process-level settings below come from flags,
// an optional config file or the environment through viper.
type config struct {
	Listen   string
	LogLevel string

	DB       *db.DBConfig
	Auth     *authz.AuthConfig
	Cache    *cache.CacheConfig
	Access   *access.AccessConfig
	Workflow *workflow.WorkflowConfig
	Detect   *detect.DetectConfig
	Audit    *audit.AuditConfig
	Jobs     *jobs.JobConfig
	Notify   *notify.NotifyConfig
	Storage  *storage.StorageConfig
	LLM      *llm.LLMConfig
}

// bindFlags registers the process-level flags and binds them to viper keys
// so that DOCFLOW_LISTEN, DOCFLOW_DB_TYPE and friends work as well.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	fs.String("config", "", "Optional YAML config file")
	fs.String("listen", ":8080", "Address to listen on")
	fs.String("log-level", "info", "Log level: debug, info, warn, error")
	fs.String("db-type", "", "Database type: postgres, mysql or sqlite (default from DOCFLOW_DB_TYPE)")
	fs.String("db-dsn", "", "Database connection string (default from DOCFLOW_DB_DSN)")

	v.SetEnvPrefix("DOCFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for _, name := range []string{"config", "listen", "log-level", "db-type", "db-dsn"} {
		if err := v.BindPFlag(name, fs.Lookup(name)); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// loadConfig reads the optional config file and assembles config.
func loadConfig(v *viper.Viper) (*config, error) {
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &config{
		Listen:   v.GetString("listen"),
		LogLevel: v.GetString("log-level"),
		DB:       db.DBConfigFromEnv(),
		Auth:     authz.AuthConfigFromEnv(),
		Cache:    cache.CacheConfigFromEnv(),
		Access:   access.AccessConfigFromEnv(),
		Workflow: workflow.WorkflowConfigFromEnv(),
		Detect:   detect.DetectConfigFromEnv(),
		Audit:    audit.AuditConfigFromEnv(),
		Jobs:     jobs.JobConfigFromEnv(),
		Notify:   notify.NotifyConfigFromEnv(),
		Storage:  storage.StorageConfigFromEnv(),
		LLM:      llm.LLMConfigFromEnv(),
	}
	if t := v.GetString("db-type"); t != "" {
		cfg.DB.Type = t
	}
	if dsn := v.GetString("db-dsn"); dsn != "" {
		cfg.DB.DSN = dsn
	}
	return cfg, nil
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: l}))
}
