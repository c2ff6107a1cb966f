// Package config loads service configuration from an optional YAML file,
// a .env file and the process environment, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	StorageLocal  = "local"
	StorageWebDAV = "webdav"
	StorageMemory = "memory"
)

// Config holds application configuration.
type Config struct {
	// Application
	AppEnv         string `yaml:"app_env" env:"APP_ENV"`
	LogLevel       string `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat      string `yaml:"log_format" env:"LOG_FORMAT"`
	ServiceVersion string `yaml:"-" env:"IMAGERY_VERSION"`

	// Database. An empty URL selects the local SQLite database.
	DatabaseURL      string `yaml:"database_url" env:"DATABASE_URL"`
	DatabaseMaxConns int    `yaml:"database_max_conns" env:"DATABASE_MAX_CONNS"`
	SQLitePath       string `yaml:"sqlite_path" env:"SQLITE_PATH"`

	// Redis. An empty URL disables the statistics cache.
	RedisURL string        `yaml:"redis_url" env:"REDIS_URL"`
	CacheTTL time.Duration `yaml:"cache_ttl" env:"CACHE_TTL"`

	// RabbitMQ. An empty URL selects the in-process event bus.
	RabbitMQURL       string        `yaml:"rabbitmq_url" env:"RABBITMQ_URL"`
	CommandQueue      string        `yaml:"command_queue" env:"COMMAND_QUEUE"`
	EventQueue        string        `yaml:"event_queue" env:"EVENT_QUEUE"`
	BreakerThreshold  uint32        `yaml:"breaker_threshold" env:"BREAKER_THRESHOLD"`
	BreakerOpenPeriod time.Duration `yaml:"breaker_open_period" env:"BREAKER_OPEN_PERIOD"`

	// File storage
	StorageBackend string `yaml:"storage_backend" env:"STORAGE_BACKEND"`
	StorageDir     string `yaml:"storage_dir" env:"STORAGE_DIR"`
	StoragePrefix  string `yaml:"storage_prefix" env:"STORAGE_PREFIX"`
	WebDAVURL      string `yaml:"webdav_url" env:"WEBDAV_URL"`
	WebDAVUser     string `yaml:"webdav_user" env:"WEBDAV_USER"`
	WebDAVPassword string `yaml:"webdav_password" env:"WEBDAV_PASSWORD"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes" env:"MAX_UPLOAD_BYTES"`

	// Signed URLs
	PublicBaseURL string        `yaml:"public_base_url" env:"PUBLIC_BASE_URL"`
	SigningKey    string        `yaml:"signing_key" env:"SIGNING_KEY"`
	SignedURLTTL  time.Duration `yaml:"signed_url_ttl" env:"SIGNED_URL_TTL"`

	// Outbox
	OutboxPollInterval     time.Duration `yaml:"outbox_poll_interval" env:"OUTBOX_POLL_INTERVAL"`
	OutboxBatchSize        int           `yaml:"outbox_batch_size" env:"OUTBOX_BATCH_SIZE"`
	OutboxMaxRetries       int           `yaml:"outbox_max_retries" env:"OUTBOX_MAX_RETRIES"`
	OutboxRetentionDays    int           `yaml:"outbox_retention_days" env:"OUTBOX_RETENTION_DAYS"`
	OutboxCleanupInterval  time.Duration `yaml:"outbox_cleanup_interval" env:"OUTBOX_CLEANUP_INTERVAL"`
	OutboxProcessorEnabled bool          `yaml:"outbox_processor_enabled" env:"OUTBOX_PROCESSOR_ENABLED"`

	// Listeners
	HTTPAddr         string `yaml:"http_addr" env:"HTTP_ADDR"`
	WorkerHealthAddr string `yaml:"worker_health_addr" env:"WORKER_HEALTH_ADDR"`

	// MCP
	MCPAddr      string `yaml:"mcp_addr" env:"MCP_ADDR"`
	MCPAuthToken string `yaml:"mcp_auth_token" env:"MCP_AUTH_TOKEN"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		AppEnv:         "development",
		LogLevel:       "info",
		LogFormat:      "text",
		ServiceVersion: "dev",

		CacheTTL: 5 * time.Minute,

		CommandQueue:      "imagery.commands",
		EventQueue:        "imagery.consumer",
		BreakerThreshold:  5,
		BreakerOpenPeriod: 30 * time.Second,

		StorageBackend: StorageLocal,
		StorageDir:     defaultStorageDir(),
		StoragePrefix:  "images",
		MaxUploadBytes: 20 << 20,

		PublicBaseURL: "http://localhost:8080",
		SignedURLTTL:  15 * time.Minute,

		OutboxPollInterval:     100 * time.Millisecond,
		OutboxBatchSize:        100,
		OutboxMaxRetries:       5,
		OutboxRetentionDays:    14,
		OutboxCleanupInterval:  24 * time.Hour,
		OutboxProcessorEnabled: true,

		HTTPAddr:         "0.0.0.0:8080",
		WorkerHealthAddr: "0.0.0.0:8081",
		MCPAddr:          "0.0.0.0:8082",
	}
}

// Load loads configuration. path names an optional YAML file; when empty,
// IMAGERY_CONFIG is consulted. Environment variables override the file.
func Load(path string) (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := Default()

	if path == "" {
		path = os.Getenv("IMAGERY_CONFIG")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config file %s not found", path)
	}
	if err != nil {
		return err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks settings that would otherwise fail late.
func (c *Config) Validate() error {
	switch c.StorageBackend {
	case StorageLocal, StorageMemory:
	case StorageWebDAV:
		if c.WebDAVURL == "" {
			return errors.New("WEBDAV_URL is required for the webdav storage backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.StorageBackend)
	}
	if c.IsProduction() && c.SigningKey == "" {
		return errors.New("SIGNING_KEY is required in production")
	}
	if c.MaxUploadBytes <= 0 {
		return errors.New("MAX_UPLOAD_BYTES must be positive")
	}
	return nil
}

// LocalMode reports whether the service runs without external infrastructure.
func (c *Config) LocalMode() bool {
	return c.DatabaseURL == "" && c.RabbitMQURL == ""
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func defaultStorageDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".imagery/files"
	}
	return home + "/.imagery/files"
}
