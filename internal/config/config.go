// Package config assembles client settings from environment variables,
// with an optional YAML file for the non-secret parts.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Backend selects the directory implementation.
type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendPostgres Backend = "postgres"
)

// NotifierKind selects how the Postgres backend signals changes.
type NotifierKind string

const (
	NotifierPG   NotifierKind = "pg"
	NotifierNATS NotifierKind = "nats"
)

// Config is everything the client binary needs to wire itself.
type Config struct {
	Backend       Backend      `yaml:"backend"`
	Notifier      NotifierKind `yaml:"notifier"`
	NotifyChannel string       `yaml:"notify_channel"`
	NATSURL       string       `yaml:"nats_url"`
	CatalogPath   string       `yaml:"catalog_path"` // empty = embedded catalog
	StoragePath   string       `yaml:"storage_path"` // durable local storage file
	LogLevel      string       `yaml:"log_level"`

	DB DBConfig `yaml:"-"`
}

// DBConfig holds Postgres connection settings, read from DB_* env vars.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// FromEnv builds a config from environment variables, applying
// defaults for anything unset. If SPYFALL_CONFIG names a YAML file, it
// is loaded first and env vars override it.
func FromEnv() (Config, error) {
	cfg := Config{
		Backend:       BackendMemory,
		Notifier:      NotifierPG,
		NotifyChannel: "spyfall_directory",
		NATSURL:       "nats://localhost:4222",
		StoragePath:   defaultStoragePath(),
		LogLevel:      "info",
	}

	if path := os.Getenv("SPYFALL_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}

	cfg.Backend = Backend(getEnv("SPYFALL_BACKEND", string(cfg.Backend)))
	cfg.Notifier = NotifierKind(getEnv("SPYFALL_NOTIFIER", string(cfg.Notifier)))
	cfg.NotifyChannel = getEnv("SPYFALL_NOTIFY_CHANNEL", cfg.NotifyChannel)
	cfg.NATSURL = getEnv("NATS_URL", cfg.NATSURL)
	cfg.CatalogPath = getEnv("SPYFALL_CATALOG", cfg.CatalogPath)
	cfg.StoragePath = getEnv("SPYFALL_STORAGE", cfg.StoragePath)
	cfg.LogLevel = getEnv("SPYFALL_LOG_LEVEL", cfg.LogLevel)
	cfg.DB = dbFromEnv()

	switch cfg.Backend {
	case BackendMemory, BackendPostgres:
	default:
		return Config{}, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
	switch cfg.Notifier {
	case NotifierPG, NotifierNATS:
	default:
		return Config{}, fmt.Errorf("unknown notifier %q", cfg.Notifier)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func dbFromEnv() DBConfig {
	port, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		port = 5432
	}
	return DBConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     port,
		User:     getEnv("DB_USER", "postgres"),
		Password: getEnv("DB_PASSWORD", "postgres"),
		Database: getEnv("DB_NAME", "spyfall"),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
	}
}

// DSN returns the Postgres connection URL.
func (c DBConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

func defaultStoragePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".spyfall/storage.json"
	}
	return filepath.Join(dir, "spyfall", "storage.json")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
