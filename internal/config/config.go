// Package config loads procflow settings from flags, PROCFLOW_* environment
// variables and an optional YAML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment variable read.
const EnvPrefix = "PROCFLOW"

// Config holds all application configuration.
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Store    StoreConfig    `mapstructure:"store"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Callback CallbackConfig `mapstructure:"callback"`
	Partner  PartnerConfig  `mapstructure:"partner"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StoreConfig selects and locates the process store.
type StoreConfig struct {
	// Driver is one of memory, sqlite, postgres, redis, bolt.
	Driver string `mapstructure:"driver"`
	// DSN is a file path for sqlite and bolt, a connection string for
	// postgres and a redis:// URL for redis.
	DSN         string `mapstructure:"dsn"`
	RedisPrefix string `mapstructure:"redis_prefix"`
}

// WorkerConfig configures the poll loop.
type WorkerConfig struct {
	LockExpiry   time.Duration `mapstructure:"lock_expiry"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Concurrency  int           `mapstructure:"concurrency"`
}

// CallbackConfig configures the HTTP callback receiver.
type CallbackConfig struct {
	Addr string `mapstructure:"addr"`
}

// PartnerConfig locates the partner services called by onboarding steps.
type PartnerConfig struct {
	// URL is the services' base URL. Empty selects a dry run that only logs
	// the calls.
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	configFile string
}

// NewLoader creates a loader with its own viper instance.
func NewLoader() *Loader {
	return &Loader{v: viper.New()}
}

// NewLoaderWithViper creates a loader over v, typically the instance CLI
// flags are bound to.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{v: v}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// Viper returns the underlying viper instance.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load reads the configuration and validates it.
//
// Precedence (highest to lowest):
// 1. flags bound with BindPFlag
// 2. PROCFLOW_* environment variables
// 3. the config file (procflow.yaml in . or ~/.config/procflow)
// 4. defaults
func (l *Loader) Load() (*Config, error) {
	SetDefaults(l.v)

	l.v.SetEnvPrefix(EnvPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName("procflow")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(home, ".config", "procflow"))
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "auto")

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "procflow.db")
	v.SetDefault("store.redis_prefix", "procflow:")

	v.SetDefault("worker.lock_expiry", "10m")
	v.SetDefault("worker.poll_interval", "5s")
	v.SetDefault("worker.concurrency", 4)

	v.SetDefault("callback.addr", ":8080")

	v.SetDefault("partner.url", "")
	v.SetDefault("partner.timeout", "30s")
}
