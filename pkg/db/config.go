// Package db opens the relational store shared by every docflow component
// and serialises schema migrations across replicas.
package db

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Supported database types.
const (
	TypePostgres = "postgres"
	TypeMySQL    = "mysql"
	TypeSQLite   = "sqlite"
)

// DBConfig holds connection settings.
type DBConfig struct {
	Type            string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// MigrationLock serialises AutoMigrate across replicas.
	MigrationLock bool
	// LogSQL enables gorm statement logging.
	LogSQL bool
}

// DefaultDBConfig returns a local SQLite configuration.
func DefaultDBConfig() *DBConfig {
	return &DBConfig{
		Type:            TypeSQLite,
		DSN:             "file:docflow.db?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)",
		MaxOpenConns:    20,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		MigrationLock:   true,
	}
}

// DBConfigFromEnv loads config from environment variables.
// DOCFLOW_DB_TYPE, DOCFLOW_DB_DSN, DOCFLOW_DB_MAX_OPEN_CONNS, DOCFLOW_DB_MAX_IDLE_CONNS,
// DOCFLOW_DB_CONN_MAX_LIFETIME_MINUTES, DOCFLOW_DB_MIGRATION_LOCK, DOCFLOW_DB_LOG_SQL
func DBConfigFromEnv() *DBConfig {
	cfg := DefaultDBConfig()

	if v := os.Getenv("DOCFLOW_DB_TYPE"); v != "" {
		cfg.Type = strings.ToLower(v)
	}
	if v := os.Getenv("DOCFLOW_DB_DSN"); v != "" {
		cfg.DSN = v
	}
	if v := os.Getenv("DOCFLOW_DB_MAX_OPEN_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxOpenConns = n
		}
	}
	if v := os.Getenv("DOCFLOW_DB_MAX_IDLE_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.MaxIdleConns = n
		}
	}
	if v := os.Getenv("DOCFLOW_DB_CONN_MAX_LIFETIME_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ConnMaxLifetime = time.Duration(n) * time.Minute
		}
	}
	if v := os.Getenv("DOCFLOW_DB_MIGRATION_LOCK"); v != "" {
		cfg.MigrationLock, _ = strconv.ParseBool(v)
	}
	if v := os.Getenv("DOCFLOW_DB_LOG_SQL"); v != "" {
		cfg.LogSQL, _ = strconv.ParseBool(v)
	}

	return cfg
}
