package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Queue    QueueConfig    `yaml:"queue"`
	SMTP     SMTPConfig     `yaml:"smtp"`
	Storage  StorageConfig  `yaml:"storage"`
	Tracking TrackingConfig `yaml:"tracking"`
	Auth     AuthConfig     `yaml:"auth"`
	Logging  LoggingConfig  `yaml:"logging"`
	Recovery RecoveryConfig `yaml:"recovery"`
}

// ServerConfig holds HTTP listener settings
type ServerConfig struct {
	Host               string   `yaml:"host" env:"SERVER_HOST"`
	Port               int      `yaml:"port" env:"PORT"`
	TrackingPort       int      `yaml:"tracking_port" env:"TRACKING_PORT"`
	ReadTimeoutSeconds int      `yaml:"read_timeout_seconds" env:"SERVER_READ_TIMEOUT_SECONDS"`
	WriteTimeoutSecs   int      `yaml:"write_timeout_seconds" env:"SERVER_WRITE_TIMEOUT_SECONDS"`
	CORSOrigins        []string `yaml:"cors_origins" env:"CORS_ORIGINS" envSeparator:","`
}

// Addr returns host:port for the API listener.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// TrackingAddr returns host:port for the standalone tracking listener.
func (c ServerConfig) TrackingAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.TrackingPort)
}

func (c ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutSeconds) * time.Second
}

func (c ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSecs) * time.Second
}

// DatabaseConfig holds the Postgres connection
type DatabaseConfig struct {
	URL             string `yaml:"url" env:"DATABASE_URL"`
	MaxOpenConns    int    `yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	MigrationsDir   string `yaml:"migrations_dir" env:"MIGRATIONS_DIR"`
	ConnMaxLifeMins int    `yaml:"conn_max_lifetime_minutes" env:"DATABASE_CONN_MAX_LIFETIME_MINUTES"`
}

func (c DatabaseConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifeMins) * time.Minute
}

// RedisConfig holds the Redis connection used by the queue and locks
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
}

// QueueConfig tunes the delayed send queue
type QueueConfig struct {
	Prefix                   string `yaml:"prefix" env:"QUEUE_PREFIX"`
	Concurrency              int    `yaml:"concurrency" env:"QUEUE_CONCURRENCY"`
	MaxAttempts              int    `yaml:"max_attempts" env:"QUEUE_MAX_ATTEMPTS"`
	PollIntervalMillis       int    `yaml:"poll_interval_ms" env:"QUEUE_POLL_INTERVAL_MS"`
	VisibilityTimeoutSeconds int    `yaml:"visibility_timeout_seconds" env:"QUEUE_VISIBILITY_TIMEOUT_SECONDS"`
	BackoffBaseSeconds       int    `yaml:"backoff_base_seconds" env:"QUEUE_BACKOFF_BASE_SECONDS"`
}

func (c QueueConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMillis) * time.Millisecond
}

func (c QueueConfig) VisibilityTimeout() time.Duration {
	return time.Duration(c.VisibilityTimeoutSeconds) * time.Second
}

func (c QueueConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseSeconds) * time.Second
}

// SMTPConfig holds transport-wide SMTP settings. Credentials are per user.
type SMTPConfig struct {
	DialTimeoutSeconds    int    `yaml:"dial_timeout_seconds" env:"SMTP_DIAL_TIMEOUT_SECONDS"`
	MessageTimeoutSeconds int    `yaml:"message_timeout_seconds" env:"SMTP_MESSAGE_TIMEOUT_SECONDS"`
	HeloName              string `yaml:"helo_name" env:"SMTP_HELO_NAME"`
	CacheTransports       bool   `yaml:"cache_transports" env:"SMTP_CACHE_TRANSPORTS"`
	CacheTTLSeconds       int    `yaml:"cache_ttl_seconds" env:"SMTP_CACHE_TTL_SECONDS"`
}

func (c SMTPConfig) DialTimeout() time.Duration {
	return time.Duration(c.DialTimeoutSeconds) * time.Second
}

func (c SMTPConfig) MessageTimeout() time.Duration {
	return time.Duration(c.MessageTimeoutSeconds) * time.Second
}

// CacheTTL is how long a resolved transport is reused, zero when caching
// is off.
func (c SMTPConfig) CacheTTL() time.Duration {
	if !c.CacheTransports {
		return 0
	}
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// StorageConfig selects where attachment blobs live
type StorageConfig struct {
	Backend    string `yaml:"backend" env:"STORAGE_BACKEND"` // "local" or "s3"
	UploadPath string `yaml:"upload_path" env:"UPLOAD_PATH"`
	S3Bucket   string `yaml:"s3_bucket" env:"S3_BUCKET"`
	S3Prefix   string `yaml:"s3_prefix" env:"S3_PREFIX"`
	AWSRegion  string `yaml:"aws_region" env:"AWS_REGION"`
	AWSProfile string `yaml:"aws_profile" env:"AWS_PROFILE"`
}

// TrackingConfig holds open/click tracking settings
type TrackingConfig struct {
	BaseURL    string `yaml:"base_url" env:"TRACKING_BASE_URL"`
	SigningKey string `yaml:"signing_key" env:"TRACKING_SIGNING_KEY"`
}

// AuthConfig holds bearer-token verification settings
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
	Issuer    string `yaml:"issuer" env:"JWT_ISSUER"`
}

// LoggingConfig selects log level and output format
type LoggingConfig struct {
	Level     string `yaml:"level" env:"LOG_LEVEL"`
	Format    string `yaml:"format" env:"LOG_FORMAT"` // "json" or "text"
	RedactPII *bool  `yaml:"redact_pii" env:"LOG_REDACT_PII"`
}

// Redact reports whether PII redaction is on. It defaults to true.
func (c LoggingConfig) Redact() bool {
	return c.RedactPII == nil || *c.RedactPII
}

// RecoveryConfig tunes the stuck-send sweeper
type RecoveryConfig struct {
	IntervalSeconds   int `yaml:"interval_seconds" env:"RECOVERY_INTERVAL_SECONDS"`
	StaleAfterMinutes int `yaml:"stale_after_minutes" env:"RECOVERY_STALE_AFTER_MINUTES"`
}

func (c RecoveryConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

func (c RecoveryConfig) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterMinutes) * time.Minute
}

// Load reads configuration from a YAML file and applies defaults.
// A missing file is not an error: defaults plus environment are enough
// to run locally.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return nil, err
		}
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadFromEnv loads .env (if present), the YAML file, then overrides any
// field whose environment variable is set.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5000
	}
	if cfg.Server.TrackingPort == 0 {
		cfg.Server.TrackingPort = 5001
	}
	if cfg.Server.ReadTimeoutSeconds == 0 {
		cfg.Server.ReadTimeoutSeconds = 15
	}
	if cfg.Server.WriteTimeoutSecs == 0 {
		cfg.Server.WriteTimeoutSecs = 120
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = []string{"http://localhost:3000"}
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifeMins == 0 {
		cfg.Database.ConnMaxLifeMins = 5
	}
	if cfg.Database.MigrationsDir == "" {
		cfg.Database.MigrationsDir = "migrations"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Queue.Prefix == "" {
		cfg.Queue.Prefix = "gojob:email-queue"
	}
	if cfg.Queue.Concurrency == 0 {
		cfg.Queue.Concurrency = 4
	}
	if cfg.Queue.MaxAttempts == 0 {
		cfg.Queue.MaxAttempts = 5
	}
	if cfg.Queue.PollIntervalMillis == 0 {
		cfg.Queue.PollIntervalMillis = 500
	}
	if cfg.Queue.VisibilityTimeoutSeconds == 0 {
		cfg.Queue.VisibilityTimeoutSeconds = 600
	}
	if cfg.Queue.BackoffBaseSeconds == 0 {
		cfg.Queue.BackoffBaseSeconds = 5
	}
	if cfg.SMTP.DialTimeoutSeconds == 0 {
		cfg.SMTP.DialTimeoutSeconds = 10
	}
	if cfg.SMTP.MessageTimeoutSeconds == 0 {
		cfg.SMTP.MessageTimeoutSeconds = 60
	}
	if cfg.SMTP.HeloName == "" {
		cfg.SMTP.HeloName = "localhost"
	}
	if cfg.SMTP.CacheTTLSeconds == 0 {
		cfg.SMTP.CacheTTLSeconds = 300
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "local"
	}
	if cfg.Storage.UploadPath == "" {
		cfg.Storage.UploadPath = "./uploads"
	}
	if cfg.Storage.AWSRegion == "" {
		cfg.Storage.AWSRegion = "us-east-1"
	}
	if cfg.Tracking.BaseURL == "" {
		cfg.Tracking.BaseURL = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Recovery.IntervalSeconds == 0 {
		cfg.Recovery.IntervalSeconds = 60
	}
	if cfg.Recovery.StaleAfterMinutes == 0 {
		cfg.Recovery.StaleAfterMinutes = 30
	}
}

// Validate reports settings without which the service cannot run.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url (DATABASE_URL) is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret (JWT_SECRET) is required")
	}
	if c.Tracking.SigningKey == "" {
		return fmt.Errorf("tracking.signing_key (TRACKING_SIGNING_KEY) is required")
	}
	if c.Storage.Backend == "s3" && c.Storage.S3Bucket == "" {
		return fmt.Errorf("storage.s3_bucket is required for the s3 backend")
	}
	return nil
}
