package config

import (
	"strings"

	"github.com/garyjia/expense-approval/internal/container"
)

// ToContainerConfig converts the application Config to a container.Config.
// This provides a bridge between the file-based config loaded by viper
// and the container's configuration structure.
func (c *Config) ToContainerConfig() *container.Config {
	bases := make([]string, 0, len(c.Worker.WarmBases))
	for _, base := range c.Worker.WarmBases {
		if base = strings.ToUpper(strings.TrimSpace(base)); base != "" {
			bases = append(bases, base)
		}
	}

	return &container.Config{
		Database: container.DatabaseConfig{
			Path:            c.Database.Path,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
			AutoMigrate:     c.Database.AutoMigrate,
		},
		Rates: container.RatesConfig{
			ProviderURL:       c.Rates.ProviderURL,
			APIKey:            c.Rates.APIKey,
			TTL:               c.Rates.TTL,
			FetchTimeout:      c.Rates.FetchTimeout,
			RequestsPerSecond: c.Rates.RequestsPerSecond,
			Burst:             c.Rates.Burst,
		},
		Server: container.ServerConfig{
			Host:            c.Server.Host,
			Port:            c.Server.Port,
			ReadTimeout:     c.Server.ReadTimeout,
			WriteTimeout:    c.Server.WriteTimeout,
			ShutdownTimeout: c.Server.ShutdownTimeout,
			Mode:            c.Server.Mode,
		},
		Worker: container.WorkerConfig{
			WarmBases:    bases,
			WarmInterval: c.Worker.WarmInterval,
		},
	}
}
