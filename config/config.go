package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Services  ServicesConfig  `mapstructure:"services"`
	Ops       OpsConfig       `mapstructure:"ops"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type QueueConfig struct {
	BatchSize   int           `mapstructure:"batch_size"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	PollBudget  time.Duration `mapstructure:"poll_budget"`
	ClaimLease  time.Duration `mapstructure:"claim_lease"`
	// NormalShare is the fraction of each claim batch reserved for
	// normal-priority jobs so a steady stream of high-priority work cannot
	// starve them. 0 disables the reservation.
	NormalShare float64 `mapstructure:"normal_share"`
	// RetryBackoff is the delay before a failed job's first retry; each
	// further retry doubles it. 0 makes failed jobs due immediately.
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	// ReplayTTL bounds how long a terminal event status is cached in Redis.
	ReplayTTL time.Duration `mapstructure:"replay_ttl"`
}

type WebhookConfig struct {
	// Secrets maps provider name to its HMAC signing secret.
	Secrets map[string]string `mapstructure:"secrets"`
}

type SchedulerConfig struct {
	Secret string `mapstructure:"secret"`
}

type ServicesConfig struct {
	FaceURL    string        `mapstructure:"face_url"`
	PreviewURL string        `mapstructure:"preview_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type OpsConfig struct {
	JWTSecret    string        `mapstructure:"jwt_secret"`
	JWTExpiry    time.Duration `mapstructure:"jwt_expiry"`
	Issuer       string        `mapstructure:"issuer"`
	Username     string        `mapstructure:"username"`
	PasswordHash string        `mapstructure:"password_hash"`
}

type TelemetryConfig struct {
	// Endpoint is the OTLP/HTTP collector address. Empty disables tracing.
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: FFC (FotoFeed Core).
// Nested keys use underscore: FFC_DATABASE_HOST, FFC_OPS_JWT_SECRET, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "fotofeed")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("queue.batch_size", 25)
	v.SetDefault("queue.max_attempts", 5)
	v.SetDefault("queue.poll_budget", "20s")
	v.SetDefault("queue.claim_lease", "5m")
	v.SetDefault("queue.normal_share", 0.2)
	v.SetDefault("queue.retry_backoff", "30s")
	v.SetDefault("queue.replay_ttl", "24h")
	v.SetDefault("scheduler.secret", "")
	v.SetDefault("services.face_url", "http://localhost:9001")
	v.SetDefault("services.preview_url", "http://localhost:9002")
	v.SetDefault("services.timeout", "30s")
	v.SetDefault("ops.jwt_secret", "")
	v.SetDefault("ops.jwt_expiry", "12h")
	v.SetDefault("ops.issuer", "fotofeed-core")
	v.SetDefault("ops.username", "")
	v.SetDefault("ops.password_hash", "")
	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.service_name", "fotofeed-core")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: FFC_DATABASE_HOST -> database.host
	v.SetEnvPrefix("FFC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required — env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}
