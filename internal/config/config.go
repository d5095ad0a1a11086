package config

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// Config is the main struct that holds all configuration for the application.
type Config struct {
	Logger      LoggerConfig      `mapstructure:"logger"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	WorkerID    string            `mapstructure:"worker_id"`
	Postgres    PostgresConfig    `mapstructure:"postgres"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Notifiers   NotifiersConfig   `mapstructure:"notifiers"`
	Outbox      OutboxConfig      `mapstructure:"outbox"`
	Delayed     DelayedConfig     `mapstructure:"delayed"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
	Retry       RetryConfig       `mapstructure:"retry"`
	Recovery    RecoveryConfig    `mapstructure:"recovery"`
	Webhook     WebhookConfig     `mapstructure:"webhook"`
}

// LoggerConfig holds logging-specific settings.
type LoggerConfig struct {
	Level string `mapstructure:"level"`
}

// HTTPConfig holds HTTP server-specific settings.
type HTTPConfig struct {
	Port    string `mapstructure:"port"`
	GinMode string `mapstructure:"gin_mode"`
}

// PostgresConfig holds all settings for the PostgreSQL database connection.
type PostgresConfig struct {
	MasterDSN string     `mapstructure:"master_dsn"`
	SlaveDSNs []string   `mapstructure:"slave_dsns"`
	Pool      PoolConfig `mapstructure:"pool"`
}

// PoolConfig defines the connection pool settings for the database.
type PoolConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// KafkaConfig holds all settings for the message bus connection.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
}

// RedisConfig holds all settings for the Redis connection.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NotifiersConfig holds configurations for all notification channels.
type NotifiersConfig struct {
	// Mode selects the providers: "production" binds the real providers;
	// any other value (the default is "log_only") binds every channel to
	// the log-only provider.
	Mode     string         `mapstructure:"mode"`
	Email    EmailConfig    `mapstructure:"email"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	WhatsApp WhatsAppConfig `mapstructure:"whatsapp"`
}

// EmailConfig holds SMTP settings for the email provider.
type EmailConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

// TelegramConfig holds settings for the telegram provider.
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
}

// WhatsAppConfig holds settings for the WhatsApp Business Cloud API provider.
type WhatsAppConfig struct {
	BaseURL         string `mapstructure:"base_url"`
	PhoneNumberID   string `mapstructure:"phone_number_id"`
	AccessToken     string `mapstructure:"access_token"`
	APIVersion      string `mapstructure:"api_version"`
	RequestTimeoutMS int   `mapstructure:"request_timeout_ms"`
}

// ChannelRateLimitConfig is the per-channel token-bucket configuration
// resolved by the plugin registry.
type ChannelRateLimitConfig struct {
	MaxTokens       float64 `mapstructure:"max_tokens"`
	RefillPerSecond float64 `mapstructure:"refill_per_second"`
}

// OutboxConfig controls the outbox poller (C4).
type OutboxConfig struct {
	PollIntervalMS    int `mapstructure:"poll_interval_ms"`
	CleanupIntervalMS int `mapstructure:"cleanup_interval_ms"`
	BatchSize         int `mapstructure:"batch_size"`
	RetentionMS       int `mapstructure:"retention_ms"`
	ClaimTimeoutMS    int `mapstructure:"claim_timeout_ms"`
}

// DelayedConfig controls the delayed queue + poller (C5).
type DelayedConfig struct {
	PollIntervalMS  int `mapstructure:"poll_interval_ms"`
	BatchSize       int `mapstructure:"batch_size"`
	ClaimTTLSeconds int `mapstructure:"claim_ttl_seconds"`
	MaxPollerRetries int `mapstructure:"max_poller_retries"`
}

// RateLimitConfig holds defaults and per-channel overrides for the rate limiter (C6).
type RateLimitConfig struct {
	DefaultMaxTokens       float64                           `mapstructure:"default_max_tokens"`
	DefaultRefillPerSecond float64                           `mapstructure:"default_refill_per_second"`
	Channels               map[string]ChannelRateLimitConfig `mapstructure:"channels"`
}

// IdempotencyConfig controls the idempotency registry (C7).
type IdempotencyConfig struct {
	ProcessingTTLSeconds  int `mapstructure:"processing_ttl_seconds"`
	IdempotencyTTLSeconds int `mapstructure:"idempotency_ttl_seconds"`
}

// RetryConfig controls the channel processor's retry policy (C8).
type RetryConfig struct {
	MaxRetryCount int `mapstructure:"max_retry_count"`
}

// RecoveryConfig controls the recovery cron (C10).
type RecoveryConfig struct {
	PollIntervalMS             int `mapstructure:"poll_interval_ms"`
	BatchSize                  int `mapstructure:"batch_size"`
	ProcessingStuckThresholdMS int `mapstructure:"processing_stuck_threshold_ms"`
	PendingStuckThresholdMS    int `mapstructure:"pending_stuck_threshold_ms"`
	MaxConsecutiveFailures     int `mapstructure:"max_consecutive_failures"`
}

// WebhookConfig controls the status consumer's webhook dispatch (C9 §4.7).
type WebhookConfig struct {
	TimeoutMS      int `mapstructure:"timeout_ms"`
	MaxRetries     int `mapstructure:"max_retries"`
	RetryDelayMS   int `mapstructure:"retry_delay_ms"`
}

// NewConfig parses the YAML file and environment variables to return a configuration struct.
func NewConfig() (*Config, error) {
	v := viper.New()

	v.SetConfigFile("configs/config.yaml")

	v.SetDefault("logger.level", "info")
	v.SetDefault("http.port", ":8080")
	v.SetDefault("http.gin_mode", "release")
	v.SetDefault("notifiers.mode", "log_only")

	v.SetDefault("outbox.poll_interval_ms", 500)
	v.SetDefault("outbox.cleanup_interval_ms", 60_000)
	v.SetDefault("outbox.batch_size", 100)
	v.SetDefault("outbox.retention_ms", 24*60*60*1000)
	v.SetDefault("outbox.claim_timeout_ms", 30_000)

	v.SetDefault("delayed.poll_interval_ms", 1_000)
	v.SetDefault("delayed.batch_size", 50)
	v.SetDefault("delayed.claim_ttl_seconds", 30)
	v.SetDefault("delayed.max_poller_retries", 5)

	v.SetDefault("rate_limit.default_max_tokens", 100.0)
	v.SetDefault("rate_limit.default_refill_per_second", 10.0)

	v.SetDefault("idempotency.processing_ttl_seconds", 300)
	v.SetDefault("idempotency.idempotency_ttl_seconds", 86_400)

	v.SetDefault("retry.max_retry_count", 3)

	v.SetDefault("recovery.poll_interval_ms", 30_000)
	v.SetDefault("recovery.batch_size", 100)
	v.SetDefault("recovery.processing_stuck_threshold_ms", 5*60*1000)
	v.SetDefault("recovery.pending_stuck_threshold_ms", 10*60*1000)
	v.SetDefault("recovery.max_consecutive_failures", 5)

	v.SetDefault("webhook.timeout_ms", 30_000)
	v.SetDefault("webhook.max_retries", 3)
	v.SetDefault("webhook.retry_delay_ms", 1_000)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.WorkerID == "" {
		cfg.WorkerID = "worker-" + uuid.NewString()
	}

	return &cfg, nil
}
