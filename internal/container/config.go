// Package container provides dependency injection and lifecycle management
// for the expense approval service following Clean Architecture principles.
package container

import (
	"fmt"
	"net/url"
	"time"

	"github.com/garyjia/expense-approval/internal/domain/entity"
)

// Config holds all configuration for the Container.
// It aggregates configurations for all subsystems.
type Config struct {
	// Database configuration
	Database DatabaseConfig

	// Exchange rate provider and cache configuration
	Rates RatesConfig

	// Server configuration
	Server ServerConfig

	// Worker configuration
	Worker WorkerConfig
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Path to SQLite database file
	Path string

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int

	// ConnMaxLifetime is the maximum connection lifetime
	ConnMaxLifetime time.Duration

	// AutoMigrate applies pending embedded migrations on start
	AutoMigrate bool
}

// RatesConfig holds exchange rate settings.
type RatesConfig struct {
	// ProviderURL is the endpoint prefix; the base currency is appended as a path segment
	ProviderURL string

	// APIKey is sent as a bearer token when set
	APIKey string

	// TTL is how long a fetched table counts as fresh
	TTL time.Duration

	// FetchTimeout bounds a single provider call
	FetchTimeout time.Duration

	// RequestsPerSecond and Burst limit outbound provider calls
	RequestsPerSecond float64
	Burst             int
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host to bind to
	Host string

	// Port to listen on
	Port int

	// ReadTimeout for HTTP server
	ReadTimeout time.Duration

	// WriteTimeout for HTTP server
	WriteTimeout time.Duration

	// ShutdownTimeout bounds graceful shutdown
	ShutdownTimeout time.Duration

	// Mode is the gin mode: debug, release or test
	Mode string
}

// WorkerConfig holds background worker settings.
type WorkerConfig struct {
	// WarmBases are refreshed ahead of demand
	WarmBases []string

	// WarmInterval is the time between warm passes
	WarmInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:            "data/expenses.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			AutoMigrate:     true,
		},
		Rates: RatesConfig{
			ProviderURL:       "https://api.exchangerate-api.com/v4/latest",
			TTL:               time.Hour,
			FetchTimeout:      3 * time.Second,
			RequestsPerSecond: 5,
			Burst:             5,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			Mode:            "release",
		},
		Worker: WorkerConfig{
			WarmBases:    []string{"USD", "EUR"},
			WarmInterval: 30 * time.Minute,
		},
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if _, err := url.ParseRequestURI(c.Rates.ProviderURL); err != nil {
		return fmt.Errorf("rates.provider_url is invalid: %w", err)
	}
	if c.Rates.TTL <= 0 {
		return fmt.Errorf("rates.ttl must be positive")
	}
	if c.Rates.FetchTimeout <= 0 {
		return fmt.Errorf("rates.fetch_timeout must be positive")
	}
	if c.Rates.RequestsPerSecond < 0 || c.Rates.Burst < 0 {
		return fmt.Errorf("rates.requests_per_second and rates.burst must not be negative")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}

	for _, base := range c.Worker.WarmBases {
		if _, ok := entity.NormalizeCurrency(base); !ok {
			return fmt.Errorf("worker.warm_bases contains invalid currency %q", base)
		}
	}
	if len(c.Worker.WarmBases) > 0 && c.Worker.WarmInterval <= 0 {
		return fmt.Errorf("worker.warm_interval must be positive")
	}

	return nil
}
