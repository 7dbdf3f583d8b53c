// Package config loads the processor engine's configuration from a YAML
// file, overridden by environment variables, following the same
// load-then-override-then-validate shape the rest of this codebase's
// ambient stack uses.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// PostgresConfig holds the connection parameters for the underwriting
// database.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
}

// BrokerConfig holds the message broker's connection and delivery
// parameters (spec.md §6: ack_deadline_seconds=60, at-least-once delivery).
type BrokerConfig struct {
	Addr              string        `yaml:"addr"`
	ConsumerGroup     string        `yaml:"consumer_group"`
	ConsumerName      string        `yaml:"consumer_name"`
	AckDeadline       time.Duration `yaml:"ack_deadline"`
	ClaimPollInterval time.Duration `yaml:"claim_poll_interval"`
}

// ExecutionConfig bounds the per-workflow worker pool (spec.md §4.5/§5).
type ExecutionConfig struct {
	WorkerPoolSize int `yaml:"worker_pool_size"`
}

// HTTPConfig configures the out-of-scope-but-required trigger facade
// (spec.md §6).
type HTTPConfig struct {
	Port string `yaml:"port"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SchedulerConfig configures the optional staleness re-triage sweep
// (SPEC_FULL.md §7, supplemental, off by default).
type SchedulerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Interval         time.Duration `yaml:"interval"`
	StalenessWindow  time.Duration `yaml:"staleness_window"`
}

// Config is the top-level configuration for the processor engine.
type Config struct {
	Postgres  PostgresConfig  `yaml:"postgres"`
	Broker    BrokerConfig    `yaml:"broker"`
	Execution ExecutionConfig `yaml:"execution"`
	HTTP      HTTPConfig      `yaml:"http"`
	Logging   LoggingConfig   `yaml:"logging"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// Default returns a Config populated with the documented defaults.
func Default() *Config {
	return &Config{
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "processor",
			Database:        "underwriting",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnectTimeout:  3 * time.Second,
		},
		Broker: BrokerConfig{
			Addr:              "localhost:6379",
			ConsumerGroup:     "processor-engine",
			ConsumerName:      "worker-1",
			AckDeadline:       60 * time.Second,
			ClaimPollInterval: 15 * time.Second,
		},
		Execution: ExecutionConfig{
			WorkerPoolSize: 5,
		},
		HTTP: HTTPConfig{
			Port: "8080",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Scheduler: SchedulerConfig{
			Enabled:         false,
			Interval:        5 * time.Minute,
			StalenessWindow: 30 * time.Minute,
		},
	}
}

// Load reads, parses, applies environment overrides to, and validates the
// configuration at path.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadFromEnv(cfg *Config) error {
	if v := os.Getenv("POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("POSTGRES_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid POSTGRES_PORT: %w", err)
		}
		cfg.Postgres.Port = p
	}
	if v := os.Getenv("POSTGRES_DB"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("BROKER_ADDR"); v != "" {
		cfg.Broker.Addr = v
	}
	if v := os.Getenv("WORKER_POOL_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid WORKER_POOL_SIZE: %w", err)
		}
		cfg.Execution.WorkerPoolSize = n
	}
	if v := os.Getenv("ACK_DEADLINE_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid ACK_DEADLINE_SECONDS: %w", err)
		}
		cfg.Broker.AckDeadline = time.Duration(n) * time.Second
	}
	if v := os.Getenv("HTTP_PORT"); v != "" {
		cfg.HTTP.Port = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	return nil
}

func validate(cfg *Config) error {
	if cfg.Postgres.Host == "" {
		return fmt.Errorf("postgres host is required")
	}
	if cfg.Postgres.Port <= 0 || cfg.Postgres.Port > 65535 {
		return fmt.Errorf("postgres port must be between 1 and 65535")
	}
	if cfg.Postgres.User == "" {
		return fmt.Errorf("postgres user is required")
	}
	if cfg.Postgres.Database == "" {
		return fmt.Errorf("postgres database name is required")
	}
	if cfg.Execution.WorkerPoolSize <= 0 {
		return fmt.Errorf("execution worker pool size must be greater than 0")
	}
	if cfg.Broker.AckDeadline <= 0 {
		return fmt.Errorf("broker ack deadline must be greater than 0")
	}
	return nil
}
