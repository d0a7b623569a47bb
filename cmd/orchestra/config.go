package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/xraph/orchestra"
	"github.com/xraph/orchestra/throttle"
)

// fileConfig is the decoded CLI configuration.
type fileConfig struct {
	orchestra.Config `mapstructure:",squash"`

	Log      logConfig         `mapstructure:"log"`
	Store    storeConfig       `mapstructure:"store"`
	Throttle []throttle.Config `mapstructure:"throttle"`
}

type storeConfig struct {
	// PostgresDSN selects the PostgreSQL result store. Empty keeps
	// results in memory.
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

type logConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// flagKeys maps persistent flag names to config keys.
var flagKeys = map[string]string{
	"log-level":        "log.level",
	"log-format":       "log.format",
	"max-concurrency":  "max_concurrency",
	"step-timeout":     "default_step_timeout",
	"workflow-timeout": "workflow_timeout",
	"max-attempts":     "retry.max_attempts",
}

// newViper returns a viper instance seeded with the engine defaults.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("orchestra")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := orchestra.DefaultConfig()
	v.SetDefault("max_concurrency", def.MaxConcurrency)
	v.SetDefault("default_step_timeout", def.DefaultStepTimeout)
	v.SetDefault("workflow_timeout", def.WorkflowTimeout)
	v.SetDefault("shutdown_timeout", def.ShutdownTimeout)
	v.SetDefault("retry.max_attempts", def.Retry.MaxAttempts)
	v.SetDefault("retry.base_delay", def.Retry.BaseDelay)
	v.SetDefault("retry.multiplier", def.Retry.Multiplier)
	v.SetDefault("retry.max_delay", def.Retry.MaxDelay)
	v.SetDefault("retry.jitter", def.Retry.Jitter)
	v.SetDefault("breaker.failure_threshold", def.Breaker.FailureThreshold)
	v.SetDefault("breaker.cool_down", def.Breaker.CoolDown)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("store.postgres_dsn", "")
	return v
}

// loadConfig reads the optional config file, binds flags and decodes
// the result.
func loadConfig(v *viper.Viper, path string, flags *pflag.FlagSet) (*fileConfig, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	for name, key := range flagKeys {
		if f := flags.Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	var cfg fileConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Config.Validate(); err != nil {
		return nil, err
	}
	for _, tc := range cfg.Throttle {
		if tc.Target == "" {
			return nil, fmt.Errorf("%w: throttle entry without target", orchestra.ErrInvalidConfig)
		}
	}
	return &cfg, nil
}

// newLogger builds the process logger from the log settings.
func newLogger(w io.Writer, cfg logConfig) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("%w: log level %q", orchestra.ErrInvalidConfig, cfg.Level)
	}
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(cfg.Format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("%w: unknown log format %q", orchestra.ErrInvalidConfig, cfg.Format)
	}
}
