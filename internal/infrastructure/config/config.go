package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Worker        WorkerConfig        `mapstructure:"worker"`
	Watchdog      WatchdogConfig      `mapstructure:"watchdog"`
	Retry         RetryConfig         `mapstructure:"retry"`
	Channel       ChannelConfig       `mapstructure:"channel"`
	Streams       StreamsConfig       `mapstructure:"streams"`
	Webhook       WebhookConfig       `mapstructure:"webhook"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	InstanceID    string              `mapstructure:"instance_id"`
}

type ServerConfig struct {
	Port            int             `mapstructure:"port"`
	ReadTimeout     time.Duration   `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration   `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration   `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout"`
	CORS            CORSConfig      `mapstructure:"cors"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

// RateLimitConfig applies to the admin API only.
type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	SSLMode         string        `mapstructure:"ssl_mode"`
}

type RedisConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	DB                int           `mapstructure:"db"`
	Password          string        `mapstructure:"password"`
	ConnectRetries    int           `mapstructure:"connect_retries"`
	ConnectRetryDelay time.Duration `mapstructure:"connect_retry_delay"`
}

type WorkerConfig struct {
	BatchSize           int           `mapstructure:"batch_size"`
	PollInterval        time.Duration `mapstructure:"poll_interval"`
	BlockDuration       time.Duration `mapstructure:"block_duration"`
	ConsumerGroup       string        `mapstructure:"consumer_group"`
	DispatchConcurrency int           `mapstructure:"dispatch_concurrency"`
	CallTimeout         time.Duration `mapstructure:"call_timeout"`
	PullInterval        time.Duration `mapstructure:"pull_interval"`
	PullWindowDays      int           `mapstructure:"pull_window_days"`
	IdempotencyTTL      time.Duration `mapstructure:"idempotency_ttl"`
}

type WatchdogConfig struct {
	TTL       time.Duration `mapstructure:"ttl"`
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int           `mapstructure:"batch_size"`
}

// RetryConfig holds one delay curve per failure class.
type RetryConfig struct {
	MaxAttempts      int           `mapstructure:"max_attempts"`
	TransportBase    time.Duration `mapstructure:"transport_base"`
	TransportMax     time.Duration `mapstructure:"transport_max"`
	RejectionStep    time.Duration `mapstructure:"rejection_step"`
	RejectionMax     time.Duration `mapstructure:"rejection_max"`
	RateLimitDefault time.Duration `mapstructure:"rate_limit_default"`
	ConfigDelay      time.Duration `mapstructure:"config_delay"`
	Jitter           float64       `mapstructure:"jitter"`
}

type ChannelConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	Timeout          time.Duration `mapstructure:"timeout"`
	UserAgent        string        `mapstructure:"user_agent"`
	BreakerThreshold uint32        `mapstructure:"breaker_threshold"`
	BreakerTimeout   time.Duration `mapstructure:"breaker_timeout"`
	TokenLockTTL     time.Duration `mapstructure:"token_lock_ttl"`
	RequestsPerSec   float64       `mapstructure:"requests_per_sec"`
	Burst            int           `mapstructure:"burst"`
	Mock             bool          `mapstructure:"mock"`
}

type StreamsConfig struct {
	Dispatch   string `mapstructure:"dispatch"`
	Webhook    string `mapstructure:"webhook"`
	DeadLetter string `mapstructure:"dead_letter"`
	MaxLen     int64  `mapstructure:"max_len"`
}

type WebhookConfig struct {
	MaxBodyBytes int64 `mapstructure:"max_body_bytes"`
}

type ObservabilityConfig struct {
	LogLevel       string `mapstructure:"log_level"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
	ServiceName    string `mapstructure:"service_name"`
	EnableMetrics  bool   `mapstructure:"enable_metrics"`
	EnableTracing  bool   `mapstructure:"enable_tracing"`
}

func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read from environment variables, e.g. CHANNELSYNC_WORKER_BATCH_SIZE
	v.SetEnvPrefix("CHANNELSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read from config file if exists
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/channelsync")

	// Config file is optional
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
	if cfg.InstanceID == "" {
		cfg.InstanceID = defaultInstanceID()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.read_timeout must be positive"))
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.write_timeout must be positive"))
	}
	if c.Database.Host == "" {
		errs = append(errs, fmt.Errorf("database.host is required"))
	}
	if c.Database.Port <= 0 {
		errs = append(errs, fmt.Errorf("database.port must be positive"))
	}
	if c.Redis.Port <= 0 {
		errs = append(errs, fmt.Errorf("redis.port must be positive"))
	}
	if c.Worker.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("worker.batch_size must be positive"))
	}
	if c.Worker.DispatchConcurrency < 0 {
		errs = append(errs, fmt.Errorf("worker.dispatch_concurrency cannot be negative"))
	}
	if c.Watchdog.TTL <= 0 {
		errs = append(errs, fmt.Errorf("watchdog.ttl must be positive"))
	}
	if c.Watchdog.Interval <= 0 {
		errs = append(errs, fmt.Errorf("watchdog.interval must be positive"))
	}
	// A call that outlives the watchdog TTL would be reclaimed while still running.
	if c.Worker.CallTimeout <= 0 || (c.Watchdog.TTL > 0 && c.Worker.CallTimeout >= c.Watchdog.TTL) {
		errs = append(errs, fmt.Errorf("worker.call_timeout must be positive and shorter than watchdog.ttl"))
	}
	if c.Retry.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("retry.max_attempts must be positive"))
	}
	if c.Retry.TransportBase <= 0 || c.Retry.RejectionStep <= 0 {
		errs = append(errs, fmt.Errorf("retry.transport_base and retry.rejection_step must be positive"))
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter >= 1 {
		errs = append(errs, fmt.Errorf("retry.jitter must be in [0, 1)"))
	}
	if c.Channel.RequestsPerSec < 0 || (c.Channel.RequestsPerSec > 0 && c.Channel.Burst <= 0) {
		errs = append(errs, fmt.Errorf("channel.burst must be positive when channel.requests_per_sec is set"))
	}
	if c.Channel.BaseURL == "" && !c.Channel.Mock {
		errs = append(errs, fmt.Errorf("channel.base_url is required unless channel.mock is set"))
	}

	// Production environment checks
	env := os.Getenv("ENV")
	if env == "production" || env == "prod" {
		if c.Database.Password == "" {
			errs = append(errs, fmt.Errorf("database.password required in production"))
		}
		if c.Channel.Mock {
			errs = append(errs, fmt.Errorf("channel.mock cannot be used in production"))
		}
	}

	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.cors.allowed_origins", []string{"*"})
	v.SetDefault("server.cors.allow_credentials", false)
	v.SetDefault("server.rate_limit.requests_per_minute", 120)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "channelsync")
	v.SetDefault("database.database", "channelsync")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_connections", 5)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.ssl_mode", "disable")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.connect_retries", 5)
	v.SetDefault("redis.connect_retry_delay", "1s")

	// Worker defaults
	v.SetDefault("worker.batch_size", 20)
	v.SetDefault("worker.poll_interval", "5s")
	v.SetDefault("worker.block_duration", "1s")
	v.SetDefault("worker.consumer_group", "channelsync-workers")
	v.SetDefault("worker.dispatch_concurrency", 4)
	v.SetDefault("worker.call_timeout", "30s")
	v.SetDefault("worker.pull_interval", "15m")
	v.SetDefault("worker.pull_window_days", 365)
	v.SetDefault("worker.idempotency_ttl", "24h")

	// Watchdog defaults
	v.SetDefault("watchdog.ttl", "5m")
	v.SetDefault("watchdog.interval", "1m")
	v.SetDefault("watchdog.batch_size", 100)

	// Retry defaults
	v.SetDefault("retry.max_attempts", 8)
	v.SetDefault("retry.transport_base", "10s")
	v.SetDefault("retry.transport_max", "30m")
	v.SetDefault("retry.rejection_step", "5m")
	v.SetDefault("retry.rejection_max", "6h")
	v.SetDefault("retry.rate_limit_default", "60s")
	v.SetDefault("retry.config_delay", "15m")
	v.SetDefault("retry.jitter", 0.2)

	// Channel defaults
	v.SetDefault("channel.base_url", "")
	v.SetDefault("channel.timeout", "20s")
	v.SetDefault("channel.user_agent", "channelsync/1.0")
	v.SetDefault("channel.breaker_threshold", 5)
	v.SetDefault("channel.breaker_timeout", "30s")
	v.SetDefault("channel.token_lock_ttl", "15s")
	v.SetDefault("channel.requests_per_sec", 5.0)
	v.SetDefault("channel.burst", 10)
	v.SetDefault("channel.mock", false)

	// Stream defaults
	v.SetDefault("streams.dispatch", "channelsync:dispatch")
	v.SetDefault("streams.webhook", "channelsync:webhooks")
	v.SetDefault("streams.dead_letter", "channelsync:dead-letter")
	v.SetDefault("streams.max_len", 100000)

	// Webhook defaults
	v.SetDefault("webhook.max_body_bytes", 1<<20)

	// Observability defaults
	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.jaeger_endpoint", "http://localhost:14268/api/traces")
	v.SetDefault("observability.service_name", "channelsync")
	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.enable_tracing", true)

	// Instance ID, generated per process when unset
	v.SetDefault("instance_id", "")
}

// defaultInstanceID is unique per process. Queue claims are fenced by owner,
// so two processes must never share one.
func defaultInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "channelsync"
	}
	return host + "-" + uuid.NewString()[:8]
}

func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// DatabaseURL is the form golang-migrate expects.
func (c *DatabaseConfig) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
