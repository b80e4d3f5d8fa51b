package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"

	"github.com/jwalitptl/diagnosis-api/internal/ml"
	"github.com/jwalitptl/diagnosis-api/pkg/logger"
	"github.com/jwalitptl/diagnosis-api/pkg/messaging/redis"
	"github.com/jwalitptl/diagnosis-api/pkg/worker"
)

// EnvPrefix scopes environment overrides, e.g. DIAG_DB_HOST.
const EnvPrefix = "DIAG"

type Config struct {
	Server    ServerConfig    `mapstructure:"server" envconfig:"SERVER"`
	Database  DatabaseConfig  `mapstructure:"database" envconfig:"DB"`
	Redis     RedisConfig     `mapstructure:"redis" envconfig:"REDIS"`
	Log       LogConfig       `mapstructure:"log" envconfig:"LOG"`
	ML        MLConfig        `mapstructure:"ml" envconfig:"ML"`
	Auth      AuthConfig      `mapstructure:"auth" envconfig:"AUTH"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit" envconfig:"RATE_LIMIT"`
	Outbox    OutboxConfig    `mapstructure:"outbox" envconfig:"OUTBOX"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port" split_words:"true"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" split_words:"true"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" split_words:"true"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" split_words:"true"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" split_words:"true"`
	Mode            string        `mapstructure:"mode" split_words:"true"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins" split_words:"true"`
	// StartupWait bounds how long binaries retry the database at startup.
	StartupWait time.Duration `mapstructure:"startup_wait" split_words:"true"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host" split_words:"true"`
	Port     int    `mapstructure:"port" split_words:"true"`
	User     string `mapstructure:"user" split_words:"true"`
	Password string `mapstructure:"password" split_words:"true"`
	Name     string `mapstructure:"name" split_words:"true"`
	SSLMode  string `mapstructure:"sslmode" split_words:"true"`
	MaxOpen  int    `mapstructure:"max_open_conns" split_words:"true"`
	MaxIdle  int    `mapstructure:"max_idle_conns" split_words:"true"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

type RedisConfig struct {
	URL          string        `mapstructure:"url" split_words:"true"`
	MaxRetries   int           `mapstructure:"max_retries" split_words:"true"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff" split_words:"true"`
	PoolSize     int           `mapstructure:"pool_size" split_words:"true"`
	MinIdleConns int           `mapstructure:"min_idle_conns" split_words:"true"`
	Channel      string        `mapstructure:"channel_prefix" split_words:"true"`
}

type LogConfig struct {
	Level      string `mapstructure:"level" split_words:"true"`
	JSON       bool   `mapstructure:"json" split_words:"true"`
	File       string `mapstructure:"file" split_words:"true"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" split_words:"true"`
	MaxBackups int    `mapstructure:"max_backups" split_words:"true"`
	MaxAgeDays int    `mapstructure:"max_age_days" split_words:"true"`
}

type MLConfig struct {
	ArtifactDir       string        `mapstructure:"artifact_dir" split_words:"true"`
	KeepVersions      int           `mapstructure:"keep_versions" split_words:"true"`
	NEstimators       int           `mapstructure:"n_estimators" split_words:"true"`
	MaxDepth          int           `mapstructure:"max_depth" split_words:"true"`
	MinSamplesSplit   int           `mapstructure:"min_samples_split" split_words:"true"`
	MinSamplesLeaf    int           `mapstructure:"min_samples_leaf" split_words:"true"`
	Seed              int64         `mapstructure:"seed" split_words:"true"`
	BalancedWeights   bool          `mapstructure:"balanced_weights" split_words:"true"`
	DisplayThreshold  float64       `mapstructure:"display_threshold" split_words:"true"`
	TopK              int           `mapstructure:"top_k" split_words:"true"`
	SymmetricFeatures bool          `mapstructure:"symmetric_features" split_words:"true"`
	WatchArtifacts    bool          `mapstructure:"watch_artifacts" split_words:"true"`
	ResultCacheSize   int           `mapstructure:"result_cache_size" split_words:"true"`
	InfoCacheTTL      time.Duration `mapstructure:"info_cache_ttl" split_words:"true"`
}

type AuthConfig struct {
	// JWTSecret verifies the portal's bearer tokens. Empty disables token
	// parsing and sessions come from X-Session-ID only.
	JWTSecret string `mapstructure:"jwt_secret" split_words:"true"`
}

type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled" split_words:"true"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" split_words:"true"`
	Burst             int     `mapstructure:"burst" split_words:"true"`
}

type OutboxConfig struct {
	BatchSize     int           `mapstructure:"batch_size" split_words:"true"`
	PollInterval  time.Duration `mapstructure:"poll_interval" split_words:"true"`
	RetryAttempts int           `mapstructure:"retry_attempts" split_words:"true"`
	RetryDelay    time.Duration `mapstructure:"retry_delay" split_words:"true"`
	Retention     time.Duration `mapstructure:"retention" split_words:"true"`
	HealthPort    int           `mapstructure:"health_port" split_words:"true"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.request_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.startup_wait", 30*time.Second)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.name", "diagnosis")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.retry_backoff", 100*time.Millisecond)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.channel_prefix", "diagnosis")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)

	v.SetDefault("ml.artifact_dir", "ml_models")
	v.SetDefault("ml.keep_versions", 3)
	v.SetDefault("ml.n_estimators", 50)
	v.SetDefault("ml.max_depth", 5)
	v.SetDefault("ml.min_samples_split", 2)
	v.SetDefault("ml.min_samples_leaf", 1)
	v.SetDefault("ml.seed", 42)
	v.SetDefault("ml.balanced_weights", true)
	v.SetDefault("ml.display_threshold", 0.05)
	v.SetDefault("ml.top_k", 5)
	v.SetDefault("ml.symmetric_features", false)
	v.SetDefault("ml.watch_artifacts", true)
	v.SetDefault("ml.result_cache_size", 512)
	v.SetDefault("ml.info_cache_ttl", 10*time.Minute)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_second", 20.0)
	v.SetDefault("rate_limit.burst", 40)

	v.SetDefault("outbox.batch_size", 100)
	v.SetDefault("outbox.poll_interval", 5*time.Second)
	v.SetDefault("outbox.retry_attempts", 3)
	v.SetDefault("outbox.retry_delay", 2*time.Second)
	v.SetDefault("outbox.retention", 24*time.Hour)
	v.SetDefault("outbox.health_port", 8081)
}

// LoadConfig reads config.yaml (or the file named by CONFIG_FILE) and then
// applies DIAG_* environment overrides. A missing file is not an error.
func LoadConfig() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if file := os.Getenv("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/app/config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case c.ML.DisplayThreshold < 0 || c.ML.DisplayThreshold >= 1:
		return fmt.Errorf("ml.display_threshold must be in [0, 1), got %v", c.ML.DisplayThreshold)
	case c.ML.TopK < 1:
		return fmt.Errorf("ml.top_k must be positive, got %d", c.ML.TopK)
	case c.ML.ArtifactDir == "":
		return errors.New("ml.artifact_dir is required")
	case c.Outbox.BatchSize <= 0 || c.Outbox.PollInterval <= 0:
		return errors.New("outbox.batch_size and outbox.poll_interval must be positive")
	}
	return nil
}

func (c *OutboxConfig) ToWorkerConfig() worker.OutboxProcessorConfig {
	return worker.OutboxProcessorConfig{
		BatchSize:     c.BatchSize,
		PollInterval:  c.PollInterval,
		RetryAttempts: c.RetryAttempts,
		RetryDelay:    c.RetryDelay,
		Retention:     c.Retention,
	}
}

func (c *MLConfig) ToForestParams() ml.ForestParams {
	return ml.ForestParams{
		NEstimators:     c.NEstimators,
		MaxDepth:        c.MaxDepth,
		MinSamplesSplit: c.MinSamplesSplit,
		MinSamplesLeaf:  c.MinSamplesLeaf,
		Seed:            c.Seed,
		BalancedWeights: c.BalancedWeights,
	}
}

func (c *RedisConfig) ToBrokerConfig() redis.Config {
	return redis.Config{
		URL:           c.URL,
		MaxRetries:    c.MaxRetries,
		RetryBackoff:  c.RetryBackoff,
		PoolSize:      c.PoolSize,
		MinIdleConns:  c.MinIdleConns,
		ChannelPrefix: c.Channel,
	}
}

func (c *LogConfig) ToLoggerConfig() *logger.Config {
	cfg := &logger.Config{
		Level: logger.ParseLevel(c.Level),
		JSON:  c.JSON,
	}
	if c.File != "" {
		cfg.File = &logger.FileConfig{
			Path:       c.File,
			MaxSizeMB:  c.MaxSizeMB,
			MaxBackups: c.MaxBackups,
			MaxAgeDays: c.MaxAgeDays,
			Compress:   true,
		}
	}
	return cfg
}
