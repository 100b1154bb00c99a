package config

import (
	"github.com/determined-ai/rcq/pkg/check"
)

const sslModeDisable = "disable"

// DefaultCatalogConfig returns the default catalog configuration.
func DefaultCatalogConfig() *CatalogConfig {
	return &CatalogConfig{
		Type: FilesystemCatalog,
		Postgres: PostgresConfig{
			Host:    "localhost",
			Port:    "5432",
			Name:    "rcq",
			SSLMode: sslModeDisable,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			KeyPrefix:  "rcq",
			HistoryLen: 32,
		},
	}
}

// CatalogConfig selects and configures the catalog backend.
type CatalogConfig struct {
	Type     string         `json:"type"`
	Postgres PostgresConfig `json:"postgres"`
	Redis    RedisConfig    `json:"redis"`
}

// Validate implements the check.Validatable interface.
func (c CatalogConfig) Validate() []error {
	errs := []error{
		check.Contains(c.Type, []interface{}{FilesystemCatalog, PostgresCatalog, RedisCatalog},
			"invalid catalog type"),
	}
	switch c.Type {
	case PostgresCatalog:
		errs = append(errs,
			check.NotEmpty(c.Postgres.Host, "catalog.postgres.host must be set"),
			check.NotEmpty(c.Postgres.Name, "catalog.postgres.name must be set"),
		)
	case RedisCatalog:
		errs = append(errs,
			check.NotEmpty(c.Redis.Addr, "catalog.redis.addr must be set"),
			check.GreaterThan(c.Redis.HistoryLen, 0, "catalog.redis.history_len must be positive"),
		)
	}
	return errs
}

// PostgresConfig hosts configuration fields of the job history database.
type PostgresConfig struct {
	User        string `json:"user"`
	Password    string `json:"password"`
	Host        string `json:"host"`
	Port        string `json:"port"`
	Name        string `json:"name"`
	SSLMode     string `json:"ssl_mode"`
	SSLRootCert string `json:"ssl_root_cert"`
}

// RedisConfig hosts configuration fields of the Redis catalog.
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	// KeyPrefix namespaces every key the catalog writes.
	KeyPrefix string `json:"key_prefix"`
	// HistoryLen bounds the job history kept per source.
	HistoryLen int `json:"history_len"`
}
