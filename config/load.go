package config

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. EDGE_SERVER_ADDRESS.
const EnvPrefix = "EDGE"

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.tls_address", "")
	v.SetDefault("server.environment", EnvDev)
	v.SetDefault("server.system_prefix", "/_system/")
	v.SetDefault("server.shutdown_timeout", "5s")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.idle_timeout", "60s")

	v.SetDefault("admin.address", "")

	v.SetDefault("logging.level", LogLevelInfo)
	v.SetDefault("logging.add_source", false)

	v.SetDefault("health_check.interval", "2s")
	v.SetDefault("health_check.timeout", "2s")
	v.SetDefault("health_check.path", "/health")
	v.SetDefault("health_check.failure_threshold", 3)
	v.SetDefault("health_check.success_threshold", 2)

	v.SetDefault("proxy.max_attempts", 2)
	v.SetDefault("proxy.dial_timeout", "5s")
	v.SetDefault("proxy.response_header_timeout", "30s")
	v.SetDefault("proxy.idle_conn_timeout", "90s")
	v.SetDefault("proxy.max_idle_conns_per_host", 32)

	v.SetDefault("cache.max_size", 100<<20)
	v.SetDefault("cache.max_file_size", 0)
	v.SetDefault("cache.default_ttl", "1h")
	v.SetDefault("cache.coalesce_wait", "2s")
	v.SetDefault("cache.sweep_schedule", "@every 1m")
	v.SetDefault("cache.key_headers", []string{})
	v.SetDefault("cache.cache_all", false)
}

// Loader reads the configuration from one viper instance and can watch its
// file for changes.
type Loader struct {
	v      *viper.Viper
	logger *slog.Logger
}

// NewLoader creates a loader for path. An empty path searches config.yaml in
// ./config and the working directory.
func NewLoader(path string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Loader{v: v, logger: logger}
}

// Load reads, decodes and validates the configuration.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			l.logger.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, fmt.Errorf("read config: %w", err)
		}
		l.logger.Warn("config file not found, using defaults and environment variables")
	} else {
		l.logger.Info("loaded config file", slog.String("file", l.v.ConfigFileUsed()))
	}

	return l.decode()
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		l.logger.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		l.logger.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, err
	}

	return &cfg, nil
}

// File returns the config file in use, empty when running on defaults.
func (l *Loader) File() string {
	return l.v.ConfigFileUsed()
}

// Watch calls onChange with every valid configuration written to the file.
// Invalid revisions are logged and skipped, so the caller keeps the last good
// one. Watch must be called after a successful Load.
func (l *Loader) Watch(onChange func(*Config)) {
	file := filepath.Clean(l.v.ConfigFileUsed())

	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}

		l.logger.Info("config file changed",
			slog.String("file", file),
			slog.String("op", e.Op.String()))

		cfg, err := l.decode()
		if err != nil {
			l.logger.Warn("rejected configuration reload", slog.String("error", err.Error()))
			return
		}
		onChange(cfg)
	})
	l.v.WatchConfig()
}

// Load reads the configuration at path with a fresh Loader.
func Load(path string) (*Config, error) {
	return NewLoader(path, nil).Load()
}
