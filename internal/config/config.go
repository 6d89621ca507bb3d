// Package config loads deploydag settings from a YAML file and DEPLOYDAG_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. DEPLOYDAG_CONCURRENCY
// or DEPLOYDAG_NETWORKS_TESTNET_PRIVATE_KEY.
const EnvPrefix = "DEPLOYDAG"

// DefaultFile is read from the working directory when no --config is given.
const DefaultFile = "deploydag.yaml"

// Config holds all application configuration.
type Config struct {
	Artifacts   string                   `mapstructure:"artifacts"`
	Manifest    ManifestConfig           `mapstructure:"manifest"`
	Concurrency int                      `mapstructure:"concurrency"`
	Retry       RetryConfig              `mapstructure:"retry"`
	Log         LogConfig                `mapstructure:"log"`
	Networks    map[string]NetworkConfig `mapstructure:"networks"`

	// PrivateKey is the fallback signing key for networks without their own.
	PrivateKey string `mapstructure:"private_key"`

	v *viper.Viper
}

// ManifestConfig selects the manifest backend.
type ManifestConfig struct {
	// Backend is "sqlite" or "bolt".
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

// RetryConfig bounds resubmission of transient failures.
type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// NetworkConfig describes one target chain.
type NetworkConfig struct {
	RPCURL     string `mapstructure:"rpc_url"`
	ChainID    int64  `mapstructure:"chain_id"` // 0 asks the node
	PrivateKey string `mapstructure:"private_key"`

	// GasLimit fixes gas per deployment; 0 estimates.
	GasLimit       uint64        `mapstructure:"gas_limit"`
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
}

// Log formats.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Backends.
const (
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
)

// Load reads configuration from path (or DefaultFile when path is empty
// and the file exists), then applies environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("artifacts", "artifacts")
	v.SetDefault("manifest.backend", BackendSQLite)
	v.SetDefault("manifest.path", "deployments.db")
	v.SetDefault("concurrency", 4)
	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("retry.initial_interval", "1s")
	v.SetDefault("retry.max_interval", "30s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", LogFormatText)
	v.SetDefault("private_key", "")

	explicit := path != ""
	if !explicit {
		if _, err := os.Stat(DefaultFile); err == nil {
			path = DefaultFile
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var parseErr viper.ConfigParseError
			if errors.As(err, &parseErr) || explicit {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.v = v

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Manifest.Backend {
	case BackendSQLite, BackendBolt:
	default:
		return fmt.Errorf("manifest.backend: unknown backend %q (want %s or %s)", c.Manifest.Backend, BackendSQLite, BackendBolt)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	switch c.Log.Format {
	case LogFormatText, LogFormatJSON:
	default:
		return fmt.Errorf("log.format: unknown format %q (want %s or %s)", c.Log.Format, LogFormatText, LogFormatJSON)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	return nil
}

// Network returns the settings for name. Environment variables override
// the file per field (DEPLOYDAG_NETWORKS_<NAME>_RPC_URL and so on), which
// also lets a network be defined entirely from the environment. The
// signing key falls back to the top-level private_key.
func (c *Config) Network(name string) (NetworkConfig, error) {
	nc, ok := c.Networks[strings.ToLower(name)]
	key := "networks." + strings.ToLower(name)

	if c.v != nil {
		for _, field := range []string{"rpc_url", "chain_id", "private_key", "gas_limit", "confirm_timeout", "poll_interval"} {
			if err := c.v.BindEnv(key + "." + field); err != nil {
				return NetworkConfig{}, fmt.Errorf("bind %s.%s: %w", key, field, err)
			}
		}
		if s := c.v.GetString(key + ".rpc_url"); s != "" {
			nc.RPCURL, ok = s, true
		}
		if id := c.v.GetInt64(key + ".chain_id"); id != 0 {
			nc.ChainID = id
		}
		if s := c.v.GetString(key + ".private_key"); s != "" {
			nc.PrivateKey = s
		}
		if g := c.v.GetUint64(key + ".gas_limit"); g != 0 {
			nc.GasLimit = g
		}
		if d := c.v.GetDuration(key + ".confirm_timeout"); d != 0 {
			nc.ConfirmTimeout = d
		}
		if d := c.v.GetDuration(key + ".poll_interval"); d != 0 {
			nc.PollInterval = d
		}
	}

	if !ok {
		return NetworkConfig{}, fmt.Errorf("network %q is not configured (known: %s)", name, strings.Join(c.NetworkNames(), ", "))
	}
	if nc.RPCURL == "" {
		return NetworkConfig{}, fmt.Errorf("network %q has no rpc_url", name)
	}
	if nc.PrivateKey == "" {
		nc.PrivateKey = c.PrivateKey
	}
	return nc, nil
}

// NetworkNames returns the configured network names, sorted.
func (c *Config) NetworkNames() []string {
	names := make([]string, 0, len(c.Networks))
	for n := range c.Networks {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// LogLevel maps log.level to a slog level. Unknown names mean info.
func (c *Config) LogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
