package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/taskgrid/taskgrid"
)

// config is the daemon configuration, loaded from YAML with environment
// overrides. Environment variables use the TASKGRID prefix with `.`
// replaced by `_`, e.g. TASKGRID_LOG_LEVEL=debug.
type config struct {
	// ListenAddr is the gRPC listen address.
	ListenAddr string `mapstructure:"listen_addr"`

	Log    logConfig    `mapstructure:"log"`
	Engine engineConfig `mapstructure:"engine"`
	Redis  redisConfig  `mapstructure:"redis"`
}

type logConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: text or json
	Format string `mapstructure:"format"`
}

type engineConfig struct {
	DispatchInterval  time.Duration `mapstructure:"dispatch_interval"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	LivenessThreshold time.Duration `mapstructure:"liveness_threshold"`
	ReapInterval      time.Duration `mapstructure:"reap_interval"`
	RetentionWindow   time.Duration `mapstructure:"retention_window"`
	JanitorInterval   time.Duration `mapstructure:"janitor_interval"`
}

// redisConfig enables the Redis stream transition log when Addr is set.
type redisConfig struct {
	Addr   string `mapstructure:"addr"`
	Stream string `mapstructure:"stream"`
}

func defaultConfig() *config {
	ec := taskgrid.DefaultConfig()
	return &config{
		ListenAddr: ":9090",
		Log: logConfig{
			Level:  "info",
			Format: "text",
		},
		Engine: engineConfig{
			DispatchInterval:  ec.DispatchInterval,
			ShutdownTimeout:   ec.ShutdownTimeout,
			LivenessThreshold: ec.LivenessThreshold,
			ReapInterval:      ec.ReapInterval,
			RetentionWindow:   ec.RetentionWindow,
			JanitorInterval:   ec.JanitorInterval,
		},
	}
}

// loadConfig reads configuration from path when non-empty, otherwise it
// searches for taskgrid.yaml in common locations. A missing file is not
// an error; defaults and environment overrides still apply.
func loadConfig(path string) (*config, error) {
	cfg := defaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("TASKGRID")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen_addr", cfg.ListenAddr)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("engine.dispatch_interval", cfg.Engine.DispatchInterval)
	v.SetDefault("engine.shutdown_timeout", cfg.Engine.ShutdownTimeout)
	v.SetDefault("engine.liveness_threshold", cfg.Engine.LivenessThreshold)
	v.SetDefault("engine.reap_interval", cfg.Engine.ReapInterval)
	v.SetDefault("engine.retention_window", cfg.Engine.RetentionWindow)
	v.SetDefault("engine.janitor_interval", cfg.Engine.JanitorInterval)
	v.SetDefault("redis.addr", cfg.Redis.Addr)
	v.SetDefault("redis.stream", cfg.Redis.Stream)

	if path == "" {
		if envPath := os.Getenv("TASKGRID_CONFIG"); envPath != "" {
			path = envPath
		}
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("taskgrid")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/taskgrid")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *config) validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	switch strings.ToLower(strings.TrimSpace(c.Log.Format)) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log.format: %q", c.Log.Format)
	}
	if strings.TrimSpace(c.ListenAddr) == "" {
		return errors.New("listen_addr must not be empty")
	}
	return nil
}

// engineConfig converts the daemon tunables into the library Config.
func (c *config) engineConfig() taskgrid.Config {
	return taskgrid.Config{
		DispatchInterval:  c.Engine.DispatchInterval,
		ShutdownTimeout:   c.Engine.ShutdownTimeout,
		LivenessThreshold: c.Engine.LivenessThreshold,
		ReapInterval:      c.Engine.ReapInterval,
		RetentionWindow:   c.Engine.RetentionWindow,
		JanitorInterval:   c.Engine.JanitorInterval,
	}
}
