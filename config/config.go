/*
Package config loads server configuration.

SOURCES (later wins):
  1. Built-in defaults
  2. .env file in the working directory, if present
  3. Process environment
  4. Command-line flags

ENVIRONMENT:
  LEAVE_ADDR          listen address                     (:8080)
  LEAVE_STORE         memory | sqlite | postgres         (sqlite)
  LEAVE_SQLITE_PATH   SQLite file, ":memory:" allowed    (leave.db)
  LEAVE_DATABASE_URL  Postgres URL, required for postgres
  LEAVE_POLICY_FILE   allocation policy (YAML or JSON)   (config/allocation.yaml)
  LEAVE_JWT_SECRET    HS256 secret for actor tokens      (required)
  LEAVE_LOG_FORMAT    json | console                     (json)
  LEAVE_AUDIT_SINK    comma list of store, log, kafka    (store)
  LEAVE_KAFKA_BROKERS comma list of host:port
  LEAVE_KAFKA_TOPIC   audit topic                        (leave.audit)
  LEAVE_CORS_ORIGINS  comma list of allowed origins      (*)
*/
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"

	SinkStore = "store"
	SinkLog   = "log"
	SinkKafka = "kafka"
)

type Config struct {
	Addr            string
	Store           string
	SQLitePath      string
	DatabaseURL     string
	PolicyFile      string
	JWTSecret       string
	LogFormat       string
	AuditSinks      []string
	KafkaBrokers    []string
	KafkaTopic      string
	CORSOrigins     []string
	ShutdownTimeout time.Duration
}

// Load reads configuration for a process started with args (without the
// program name).
func Load(args []string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		Addr:            getEnv("LEAVE_ADDR", ":8080"),
		Store:           getEnv("LEAVE_STORE", StoreSQLite),
		SQLitePath:      getEnv("LEAVE_SQLITE_PATH", "leave.db"),
		DatabaseURL:     getEnv("LEAVE_DATABASE_URL", ""),
		PolicyFile:      getEnv("LEAVE_POLICY_FILE", "config/allocation.yaml"),
		JWTSecret:       getEnv("LEAVE_JWT_SECRET", ""),
		LogFormat:       getEnv("LEAVE_LOG_FORMAT", "json"),
		AuditSinks:      getEnvList("LEAVE_AUDIT_SINK", []string{SinkStore}),
		KafkaBrokers:    getEnvList("LEAVE_KAFKA_BROKERS", nil),
		KafkaTopic:      getEnv("LEAVE_KAFKA_TOPIC", "leave.audit"),
		CORSOrigins:     getEnvList("LEAVE_CORS_ORIGINS", []string{"*"}),
		ShutdownTimeout: 30 * time.Second,
	}

	fsFlags := flag.NewFlagSet("server", flag.ContinueOnError)
	fsFlags.StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP listen address")
	fsFlags.StringVar(&cfg.Store, "store", cfg.Store, "storage backend: memory, sqlite or postgres")
	fsFlags.StringVar(&cfg.SQLitePath, "db", cfg.SQLitePath, "SQLite database path (\":memory:\" for in-memory)")
	fsFlags.StringVar(&cfg.DatabaseURL, "database-url", cfg.DatabaseURL, "PostgreSQL connection URL")
	fsFlags.StringVar(&cfg.PolicyFile, "policy", cfg.PolicyFile, "allocation policy file")
	fsFlags.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format: json or console")
	if err := fsFlags.Parse(args); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Store {
	case StoreMemory, StoreSQLite:
	case StorePostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("LEAVE_DATABASE_URL is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	if strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("LEAVE_JWT_SECRET is required")
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	for _, sink := range c.AuditSinks {
		switch sink {
		case SinkStore, SinkLog:
		case SinkKafka:
			if len(c.KafkaBrokers) == 0 {
				return fmt.Errorf("LEAVE_KAFKA_BROKERS is required for the kafka audit sink")
			}
		default:
			return fmt.Errorf("unknown audit sink %q", sink)
		}
	}
	return nil
}

// HasSink reports whether name is among the configured audit sinks.
func (c Config) HasSink(name string) bool {
	for _, s := range c.AuditSinks {
		if s == name {
			return true
		}
	}
	return false
}

// NewLogger builds the root logger for the configured format.
func (c Config) NewLogger() (*zap.Logger, error) {
	if c.LogFormat == "console" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
