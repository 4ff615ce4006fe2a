package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the whole service configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Business  BusinessConfig  `mapstructure:"business"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Port            int `mapstructure:"port"`
	ShutdownSeconds int `mapstructure:"shutdown_seconds"`
}

const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type DatabaseConfig struct {
	Driver        string `mapstructure:"driver"`
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	Database      string `mapstructure:"database"`
	SSLMode       string `mapstructure:"sslmode"`
	MaxOpenConns  int    `mapstructure:"max_open_conns"`
	MaxIdleConns  int    `mapstructure:"max_idle_conns"`
	AutoMigrate   bool   `mapstructure:"auto_migrate"`
	SlowThreshold int    `mapstructure:"slow_threshold_ms"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	CampaignEvents  string `mapstructure:"campaign_events"`
	LedgerEvents    string `mapstructure:"ledger_events"`
	LedgerIncidents string `mapstructure:"ledger_incidents"`
}

type AuthConfig struct {
	JWTSecret     string `mapstructure:"jwt_secret"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

type BusinessConfig struct {
	MaxRetryCount          int `mapstructure:"max_retry_count"`
	LockTTLSeconds         int `mapstructure:"lock_ttl_seconds"`
	LockRetryIntervalMS    int `mapstructure:"lock_retry_interval_ms"`
	LockMaxRetries         int `mapstructure:"lock_max_retries"`
	StoreTimeoutSeconds    int `mapstructure:"store_timeout_seconds"`
	ReconcileGraceMinutes  int `mapstructure:"reconcile_grace_minutes"`
	ReconcileIntervalSecs  int `mapstructure:"reconcile_interval_seconds"`
	OutboxIntervalMS       int `mapstructure:"outbox_interval_ms"`
	OutboxBatchSize        int `mapstructure:"outbox_batch_size"`
	MaxCampaignTargetCount int `mapstructure:"max_campaign_target_count"`
}

func (b BusinessConfig) LockTTL() time.Duration {
	return time.Duration(b.LockTTLSeconds) * time.Second
}

func (b BusinessConfig) LockRetryInterval() time.Duration {
	return time.Duration(b.LockRetryIntervalMS) * time.Millisecond
}

func (b BusinessConfig) StoreTimeout() time.Duration {
	return time.Duration(b.StoreTimeoutSeconds) * time.Second
}

func (b BusinessConfig) ReconcileGrace() time.Duration {
	return time.Duration(b.ReconcileGraceMinutes) * time.Minute
}

func (b BusinessConfig) ReconcileInterval() time.Duration {
	return time.Duration(b.ReconcileIntervalSecs) * time.Second
}

func (b BusinessConfig) OutboxInterval() time.Duration {
	return time.Duration(b.OutboxIntervalMS) * time.Millisecond
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_seconds", 5)

	v.SetDefault("database.driver", DriverMySQL)
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.slow_threshold_ms", 200)

	v.SetDefault("kafka.topic.campaign_events", "campaign_events")
	v.SetDefault("kafka.topic.ledger_events", "ledger_events")
	v.SetDefault("kafka.topic.ledger_incidents", "ledger_incidents")

	v.SetDefault("business.max_retry_count", 5)
	v.SetDefault("business.lock_ttl_seconds", 30)
	v.SetDefault("business.lock_retry_interval_ms", 100)
	v.SetDefault("business.lock_max_retries", 30)
	v.SetDefault("business.store_timeout_seconds", 5)
	v.SetDefault("business.reconcile_grace_minutes", 10)
	v.SetDefault("business.reconcile_interval_seconds", 60)
	v.SetDefault("business.outbox_interval_ms", 200)
	v.SetDefault("business.outbox_batch_size", 100)
	v.SetDefault("business.max_campaign_target_count", 50)

	v.SetDefault("rate_limit.requests_per_second", 50)
	v.SetDefault("rate_limit.burst", 100)

	v.SetDefault("log.level", "info")
}

// LoadConfig reads the YAML file at configPath, then applies environment
// overrides such as ADLEDGER_AUTH_JWT_SECRET. A .env file in the working
// directory is loaded first when present.
func LoadConfig(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ADLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverMySQL, DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be positive")
	}
	return nil
}
