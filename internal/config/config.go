// Package config loads fieldstore configuration from defaults, an optional
// file, FIELDSTORE_* environment variables and command line flags
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the process configuration
type Config struct {
	DBPath      string    `mapstructure:"db_path"`
	Log         LogConfig `mapstructure:"log"`
	GRPCPort    int       `mapstructure:"grpc_port"`
	MetricsPort int       `mapstructure:"metrics_port"`
	AutoUpgrade bool      `mapstructure:"auto_upgrade"`
}

// LogConfig mirrors logger.Config for the fields that can be configured
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// Defaults used when nothing else sets a value
var Defaults = Config{
	DBPath:      "./data/fieldstore",
	Log:         LogConfig{Level: "info", Pretty: false},
	GRPCPort:    50051,
	MetricsPort: 9090,
	AutoUpgrade: false,
}

// Flag names bound to configuration keys
var flagKeys = map[string]string{
	"db":           "db_path",
	"log-level":    "log.level",
	"log-pretty":   "log.pretty",
	"port":         "grpc_port",
	"metrics-port": "metrics_port",
	"auto-upgrade": "auto_upgrade",
}

// RegisterFlags adds the configuration flags to fs
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("db", Defaults.DBPath, "Database directory")
	fs.String("log-level", Defaults.Log.Level, "Log level (debug, info, warn, error)")
	fs.Bool("log-pretty", Defaults.Log.Pretty, "Human readable logs")
	fs.Int("port", Defaults.GRPCPort, "gRPC server port")
	fs.Int("metrics-port", Defaults.MetricsPort, "Metrics and health server port")
	fs.Bool("auto-upgrade", Defaults.AutoUpgrade, "Upgrade an outdated index on startup")
}

// Load merges, from lowest to highest precedence: defaults, the file (if
// any), environment variables and flags explicitly set on fs (if any)
func Load(file string, fs *pflag.FlagSet) (Config, error) {
	v := viper.New()

	v.SetDefault("db_path", Defaults.DBPath)
	v.SetDefault("log.level", Defaults.Log.Level)
	v.SetDefault("log.pretty", Defaults.Log.Pretty)
	v.SetDefault("grpc_port", Defaults.GRPCPort)
	v.SetDefault("metrics_port", Defaults.MetricsPort)
	v.SetDefault("auto_upgrade", Defaults.AutoUpgrade)

	v.SetEnvPrefix("FIELDSTORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	if fs != nil {
		for name, key := range flagKeys {
			if flag := fs.Lookup(name); flag != nil {
				if err := v.BindPFlag(key, flag); err != nil {
					return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that viper cannot
func (c Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("config: db_path is required")
	}
	if c.GRPCPort <= 0 || c.GRPCPort > 65535 {
		return fmt.Errorf("config: invalid grpc_port %d", c.GRPCPort)
	}
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		return fmt.Errorf("config: invalid metrics_port %d", c.MetricsPort)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Log.Level)
	}
	return nil
}
