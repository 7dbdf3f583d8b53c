// Package database owns the Postgres connection pool used by every
// repository. There is no package-level singleton: Connect returns a
// handle that callers thread through explicitly (Design Notes: "Global
// database connection module and singleton repositories" is replaced by
// explicit repository handles constructed per request).
package database

import (
	"fmt"
	"os"
	"strconv"
	"time"

	// Registers the pgx stdlib driver under the name "pgx" so database/sql
	// (and sqlx, which wraps it) can open Postgres connections.
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// Config holds Postgres connection parameters and pool tuning.
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultConfig returns documented defaults (spec.md §6 env var list).
func DefaultConfig() *Config {
	return &Config{
		Host:            "localhost",
		Port:            5432,
		User:            "processor",
		Database:        "underwriting",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
		ConnectTimeout:  3 * time.Second,
	}
}

// LoadFromEnv overrides c's fields from POSTGRES_HOST/PORT/DB/USER/PASSWORD
// (spec.md §6). Invalid values are ignored, keeping the prior value.
func (c *Config) LoadFromEnv() {
	if v := os.Getenv("POSTGRES_HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv("POSTGRES_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Port = p
		}
	}
	if v := os.Getenv("POSTGRES_USER"); v != "" {
		c.User = v
	}
	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" {
		c.Password = v
	}
	if v := os.Getenv("POSTGRES_DB"); v != "" {
		c.Database = v
	}
}

// Validate rejects structurally invalid configuration before a connection
// is attempted.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("database port must be between 1 and 65535")
	}
	if c.User == "" {
		return fmt.Errorf("database user is required")
	}
	if c.Database == "" {
		return fmt.Errorf("database name is required")
	}
	if c.MaxOpenConns <= 0 {
		return fmt.Errorf("max open connections must be greater than 0")
	}
	if c.MaxIdleConns < 0 {
		return fmt.Errorf("max idle connections must be non-negative")
	}
	return nil
}

// ConnectionString renders a libpq-style DSN, omitting the password
// parameter entirely when empty so logs never risk printing "password=".
func (c *Config) ConnectionString() string {
	dsn := fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Database, c.SSLMode)
	if c.Password != "" {
		dsn += fmt.Sprintf(" password=%s", c.Password)
	}
	return dsn
}

// Connect validates c and opens a pooled *sqlx.DB against Postgres via the
// pgx stdlib driver.
func Connect(c *Config, logger *zap.Logger) (*sqlx.DB, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}

	db, err := sqlx.Connect("pgx", c.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(c.MaxOpenConns)
	db.SetMaxIdleConns(c.MaxIdleConns)
	db.SetConnMaxLifetime(c.ConnMaxLifetime)
	db.SetConnMaxIdleTime(c.ConnMaxIdleTime)

	logger.Info("connected to database",
		zap.String("host", c.Host),
		zap.Int("port", c.Port),
		zap.String("database", c.Database),
		zap.Int("max_open_conns", c.MaxOpenConns),
	)

	return db, nil
}
