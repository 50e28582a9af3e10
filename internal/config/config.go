package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Checkpoint CheckpointConfig `yaml:"checkpoint" mapstructure:"checkpoint"`
	Redis      RedisConfig      `yaml:"redis" mapstructure:"redis"`
	Rules      RulesConfig      `yaml:"rules" mapstructure:"rules"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the webhook server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	APIKey         string   `yaml:"api_key" mapstructure:"api_key"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// BatchConfig configures the reprocessing job.
type BatchConfig struct {
	JobName        string        `yaml:"job_name" mapstructure:"job_name"`
	TimeBudget     time.Duration `yaml:"time_budget" mapstructure:"time_budget"`
	RateLimitDelay time.Duration `yaml:"rate_limit_delay" mapstructure:"rate_limit_delay"`
	Source         string        `yaml:"source" mapstructure:"source"`
	SourcePath     string        `yaml:"source_path" mapstructure:"source_path"`
	UpdatePolicy   string        `yaml:"update_policy" mapstructure:"update_policy"`
	MaxAttempts    int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	RetryBackoff   time.Duration `yaml:"retry_backoff" mapstructure:"retry_backoff"`
}

// CheckpointConfig selects where batch progress is kept.
type CheckpointConfig struct {
	Backend string        `yaml:"backend" mapstructure:"backend"`
	TTL     time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

// RedisConfig holds redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
}

// RulesConfig points at an optional YAML override of the vendor tables.
type RulesConfig struct {
	File string `yaml:"file" mapstructure:"file"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("INTAKE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "intake.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("batch.job_name", "reprocess")
	v.SetDefault("batch.time_budget", "5m")
	v.SetDefault("batch.rate_limit_delay", "1s")
	v.SetDefault("batch.source", "dir")
	v.SetDefault("batch.source_path", "mail")
	v.SetDefault("batch.update_policy", "provenance")
	v.SetDefault("batch.max_attempts", 3)
	v.SetDefault("batch.retry_backoff", "200ms")
	v.SetDefault("checkpoint.backend", "store")
	v.SetDefault("checkpoint.ttl", "0s")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("rules.file", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on. Modes are
// "serve", "batch", "migrate" and "extract".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "extract":
		return nil
	case "serve", "batch", "migrate":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, "store.driver must be postgres or sqlite")
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	if c.Store.Driver == "postgres" && c.Store.MinConns > c.Store.MaxConns {
		errs = append(errs, "store.min_conns must not exceed store.max_conns")
	}

	if mode == "serve" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be between 1 and 65535")
		}
		if c.Server.APIKey == "" {
			errs = append(errs, "server.api_key is required")
		}
	}

	if mode == "serve" || mode == "batch" {
		errs = append(errs, c.validateBatch()...)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: invalid for %s: %s", mode, strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateBatch() []string {
	var errs []string
	if c.Batch.JobName == "" {
		errs = append(errs, "batch.job_name is required")
	}
	if c.Batch.TimeBudget < 0 {
		errs = append(errs, "batch.time_budget must not be negative")
	}
	if c.Batch.RateLimitDelay < 0 {
		errs = append(errs, "batch.rate_limit_delay must not be negative")
	}
	switch c.Batch.Source {
	case "dir", "json":
		if c.Batch.SourcePath == "" {
			errs = append(errs, "batch.source_path is required")
		}
	default:
		errs = append(errs, "batch.source must be dir or json")
	}
	switch c.Batch.UpdatePolicy {
	case "provenance", "all":
	default:
		errs = append(errs, "batch.update_policy must be provenance or all")
	}
	if c.Batch.MaxAttempts < 1 {
		errs = append(errs, "batch.max_attempts must be at least 1")
	}
	switch c.Checkpoint.Backend {
	case "store", "memory":
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, "redis.addr is required for the redis checkpoint backend")
		}
	default:
		errs = append(errs, "checkpoint.backend must be store, redis or memory")
	}
	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
