package config

import (
	"encoding/json"
	"path/filepath"
	"runtime"
	"time"

	"github.com/pkg/errors"

	"github.com/determined-ai/rcq/pkg/check"
	"github.com/determined-ai/rcq/pkg/logger"
	"github.com/determined-ai/rcq/pkg/model"
)

const (
	// FilesystemCatalog answers existence checks from the cache directory.
	FilesystemCatalog = "filesystem"
	// PostgresCatalog keeps job history in Postgres.
	PostgresCatalog = "postgres"
	// RedisCatalog keeps job history and products in Redis.
	RedisCatalog = "redis"

	// NullBuilder completes every job immediately.
	NullBuilder = "null"
	// RemoteBuilder hands jobs to builder processes connected over a websocket.
	RemoteBuilder = "remote"

	defaultPort = 8090
)

// DefaultConfig returns the default configuration of the server.
func DefaultConfig() *Config {
	return &Config{
		Log:          *logger.DefaultConfig(),
		Port:         0,
		CacheRoot:    "Cache",
		HostPlatform: HostPlatform(),
		ScanFolders:  []string{},
		Scheduler:    *DefaultSchedulerConfig(),
		Fence:        *DefaultFenceConfig(),
		Catalog:      *DefaultCatalogConfig(),
		Builder: BuilderConfig{
			Type: NullBuilder,
		},
	}
}

// Config is the configuration of the server.
//
// It is populated, in the following order, by the configuration file, environment variables
// and command line arguments.
type Config struct {
	ConfigFile    string              `json:"config_file"`
	Log           logger.Config       `json:"log"`
	Port          int                 `json:"port"`
	CacheRoot     string              `json:"cache_root"`
	HostPlatform  string              `json:"host_platform"`
	ScanFolders   []string            `json:"scan_folders"`
	Scheduler     SchedulerConfig     `json:"scheduler"`
	Fence         FenceConfig         `json:"fence"`
	Catalog       CatalogConfig       `json:"catalog"`
	Builder       BuilderConfig       `json:"builder"`
	Observability ObservabilityConfig `json:"observability"`
}

// Printable returns a printable string.
func (c Config) Printable() ([]byte, error) {
	const hiddenValue = "********"
	if c.Catalog.Postgres.Password != "" {
		c.Catalog.Postgres.Password = hiddenValue
	}
	if c.Catalog.Redis.Password != "" {
		c.Catalog.Redis.Password = hiddenValue
	}

	optJSON, err := json.Marshal(c)
	if err != nil {
		return nil, errors.Wrap(err, "unable to convert config to JSON")
	}
	return optJSON, nil
}

// Resolve resolves the values in the configuration.
func (c *Config) Resolve() error {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.HostPlatform == "" {
		c.HostPlatform = HostPlatform()
	}

	root, err := filepath.Abs(c.CacheRoot)
	if err != nil {
		return errors.Wrap(err, "resolving cache root")
	}
	c.CacheRoot = root

	for i, f := range c.ScanFolders {
		abs, err := filepath.Abs(f)
		if err != nil {
			return errors.Wrapf(err, "resolving scan folder %s", f)
		}
		c.ScanFolders[i] = abs
	}
	return nil
}

// Validate implements the check.Validatable interface.
func (c Config) Validate() []error {
	return []error{
		check.GreaterThan(c.Port, 0, "port must be set"),
		check.NotEmpty(c.CacheRoot, "cache_root must be set"),
		check.NotEmpty(c.HostPlatform, "host_platform must be set"),
	}
}

// HostPlatform returns the asset platform matching the machine the server runs on.
func HostPlatform() string {
	switch runtime.GOOS {
	case "darwin":
		return "osx_gl"
	default:
		return "pc"
	}
}

// DefaultSchedulerConfig returns the default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		MaxJobs: runtime.NumCPU(),
	}
}

// SchedulerConfig configures dispatch.
type SchedulerConfig struct {
	// MaxJobs bounds how many jobs are handed to the builder at once.
	MaxJobs int `json:"max_jobs"`
}

// Validate implements the check.Validatable interface.
func (s SchedulerConfig) Validate() []error {
	return []error{
		check.GreaterThanOrEqualTo(s.MaxJobs, 1, "scheduler.max_jobs must be at least 1"),
	}
}

// DefaultFenceConfig returns the default fencing configuration.
func DefaultFenceConfig() *FenceConfig {
	return &FenceConfig{
		RetryCount: 5,
		RetryDelay: model.Duration(100 * time.Millisecond),
		Timeout:    model.Duration(10 * time.Second),
	}
}

// FenceConfig configures fence file placement.
type FenceConfig struct {
	RetryCount int            `json:"retry_count"`
	RetryDelay model.Duration `json:"retry_delay"`
	// Timeout bounds how long a fenced request waits for the watcher.
	Timeout model.Duration `json:"timeout"`
}

// Validate implements the check.Validatable interface.
func (f FenceConfig) Validate() []error {
	return []error{
		check.GreaterThanOrEqualTo(f.RetryCount, 1, "fence.retry_count must be at least 1"),
		check.True(f.RetryDelay >= 0, "fence.retry_delay must not be negative"),
		check.True(f.Timeout > 0, "fence.timeout must be positive"),
	}
}

// BuilderConfig selects how jobs are executed.
type BuilderConfig struct {
	Type string `json:"type"`
}

// Validate implements the check.Validatable interface.
func (b BuilderConfig) Validate() []error {
	return []error{
		check.Contains(b.Type, []interface{}{NullBuilder, RemoteBuilder}, "invalid builder type"),
	}
}

// ObservabilityConfig is the configuration for observability metrics.
type ObservabilityConfig struct {
	EnablePrometheus bool `json:"enable_prometheus"`
}
