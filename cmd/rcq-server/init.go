package main

import (
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/determined-ai/rcq/internal/config"
	"github.com/determined-ai/rcq/version"
)

var v *viper.Viper

// viperKeyDelimiter marks nested values in the configuration. Scan folders and Redis key
// prefixes may contain ".", so a single "." cannot serve as the delimiter.
const viperKeyDelimiter = ".."

//nolint:gochecknoinit
func init() {
	// Set here rather than in the rootCmd literal so link-time assignments to the version apply.
	rootCmd.Version = version.Version
	registerConfig()
}

type configKey []string

func (c configKey) EnvName() string {
	return "RCQ_" + strings.ReplaceAll(strings.ToUpper(c.FlagName()), "-", "_")
}

func (c configKey) AccessPath() string {
	return strings.ReplaceAll(strings.Join(c, viperKeyDelimiter), "-", "_")
}

func (c configKey) FlagName() string {
	return strings.Join(c, "-")
}

func registerString(flags *pflag.FlagSet, name configKey, value string, usage string) {
	flags.String(name.FlagName(), value, usage)
	_ = v.BindEnv(name.AccessPath(), name.EnvName())
	_ = v.BindPFlag(name.AccessPath(), flags.Lookup(name.FlagName()))
	v.SetDefault(name.AccessPath(), value)
}

func registerBool(flags *pflag.FlagSet, name configKey, value bool, usage string) {
	flags.Bool(name.FlagName(), value, usage)
	_ = v.BindEnv(name.AccessPath(), name.EnvName())
	_ = v.BindPFlag(name.AccessPath(), flags.Lookup(name.FlagName()))
	v.SetDefault(name.AccessPath(), value)
}

func registerInt(flags *pflag.FlagSet, name configKey, value int, usage string) {
	flags.Int(name.FlagName(), value, usage)
	_ = v.BindEnv(name.AccessPath(), name.EnvName())
	_ = v.BindPFlag(name.AccessPath(), flags.Lookup(name.FlagName()))
	v.SetDefault(name.AccessPath(), value)
}

func registerStringSlice(flags *pflag.FlagSet, name configKey, value []string, usage string) {
	flags.StringSlice(name.FlagName(), value, usage)
	_ = v.BindEnv(name.AccessPath(), name.EnvName())
	_ = v.BindPFlag(name.AccessPath(), flags.Lookup(name.FlagName()))
	v.SetDefault(name.AccessPath(), value)
}

func registerConfig() {
	v = viper.NewWithOptions(viper.KeyDelimiter(viperKeyDelimiter))
	v.SetTypeByDefaultValue(true)

	defaults := config.DefaultConfig()

	flags := rootCmd.Flags()
	name := func(components ...string) configKey { return components }

	registerString(flags, name("config-file"),
		defaults.ConfigFile, "location of config file")

	registerString(flags, name("log", "level"),
		defaults.Log.Level, "choose logging level from [trace, debug, info, warn, error, fatal]")
	registerBool(flags, name("log", "color"),
		defaults.Log.Color, "output logs in color")

	registerInt(flags, name("port"),
		defaults.Port, "server port")
	registerString(flags, name("cache-root"),
		defaults.CacheRoot, "directory holding built products and fence files")
	registerString(flags, name("host-platform"),
		defaults.HostPlatform, "platform whose jobs are dispatched first")
	registerStringSlice(flags, name("scan-folders"),
		defaults.ScanFolders, "source folders watched for deletions")

	registerInt(flags, name("scheduler", "max-jobs"),
		defaults.Scheduler.MaxJobs, "maximum number of jobs building at once")

	registerInt(flags, name("fence", "retry-count"),
		defaults.Fence.RetryCount, "attempts at creating a fence file")
	registerString(flags, name("fence", "retry-delay"),
		time.Duration(defaults.Fence.RetryDelay).String(), "delay between fence file attempts")
	registerString(flags, name("fence", "timeout"),
		time.Duration(defaults.Fence.Timeout).String(), "how long a fenced request waits for its fence")

	registerString(flags, name("catalog", "type"),
		defaults.Catalog.Type, "catalog backend (filesystem, postgres, redis)")
	registerString(flags, name("catalog", "postgres", "user"),
		defaults.Catalog.Postgres.User, "database username")
	registerString(flags, name("catalog", "postgres", "password"),
		defaults.Catalog.Postgres.Password, "database password")
	registerString(flags, name("catalog", "postgres", "host"),
		defaults.Catalog.Postgres.Host, "database host")
	registerString(flags, name("catalog", "postgres", "port"),
		defaults.Catalog.Postgres.Port, "database port")
	registerString(flags, name("catalog", "postgres", "name"),
		defaults.Catalog.Postgres.Name, "database name")
	registerString(flags, name("catalog", "postgres", "ssl-mode"),
		defaults.Catalog.Postgres.SSLMode, "database ssl mode (disable, verify-ca, ...)")
	registerString(flags, name("catalog", "postgres", "ssl-root-cert"),
		defaults.Catalog.Postgres.SSLRootCert, "database ssl root cert path")
	registerString(flags, name("catalog", "redis", "addr"),
		defaults.Catalog.Redis.Addr, "redis address")
	registerString(flags, name("catalog", "redis", "password"),
		defaults.Catalog.Redis.Password, "redis password")
	registerInt(flags, name("catalog", "redis", "db"),
		defaults.Catalog.Redis.DB, "redis database")
	registerString(flags, name("catalog", "redis", "key-prefix"),
		defaults.Catalog.Redis.KeyPrefix, "prefix of every redis key")
	registerInt(flags, name("catalog", "redis", "history-len"),
		defaults.Catalog.Redis.HistoryLen, "job history entries kept per source")

	registerString(flags, name("builder", "type"),
		defaults.Builder.Type, "how jobs are built (null, remote)")

	registerBool(flags, name("observability", "enable-prometheus"),
		defaults.Observability.EnablePrometheus, "serve prometheus metrics at /metrics")
}
