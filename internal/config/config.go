package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"

	"github.com/kursadbilgin/hookline/internal/infra/postgresql"
)

const (
	QueueBackendRedis    = "redis"
	QueueBackendRabbitMQ = "rabbitmq"
	QueueBackendNSQ      = "nsq"
	QueueBackendMemory   = "memory"

	RateLimitBackendRedis = "redis"
	RateLimitBackendLocal = "local"
)

type Config struct {
	DatabaseDSN       string        `env:"DATABASE_DSN,required=true"`
	DBMaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS,default=25"`
	DBMaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS,default=5"`
	DBConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME,default=1h"`
	RedisURL          string        `env:"REDIS_URL,required=true"`
	RedisPoolSize     int           `env:"REDIS_POOL_SIZE,default=0"`

	QueueBackend   string `env:"QUEUE_BACKEND,default=redis"`
	QueueName      string `env:"QUEUE_NAME,default=hookline-tasks"`
	RabbitMQURL    string `env:"RABBITMQ_URL"`
	NSQDAddr       string `env:"NSQD_ADDR"`
	NSQLookupdAddr string `env:"NSQLOOKUPD_ADDR"`

	APIPort       int    `env:"API_PORT,default=8080"`
	WorkerPort    int    `env:"WORKER_PORT,default=8081"`
	LogLevel      string `env:"LOG_LEVEL,default=info"`
	RunMigrations bool   `env:"RUN_MIGRATIONS,default=true"`

	WorkerBatchSize      int           `env:"WORKER_BATCH_SIZE,default=50"`
	WorkerRequestTimeout time.Duration `env:"WORKER_REQUEST_TIMEOUT,default=30s"`
	WorkerReceiveBackoff time.Duration `env:"WORKER_RECEIVE_BACKOFF,default=10ms"`
	QueueVisibility      time.Duration `env:"QUEUE_VISIBILITY_TIMEOUT,default=5m"`

	RetrySchedule     []time.Duration `env:"RETRY_SCHEDULE,default=5s|5m|30m|2h|5h|10h|10h"`
	WhitelabelHeaders bool            `env:"WHITELABEL_HEADERS,default=false"`
	RateLimitBackend  string          `env:"RATE_LIMIT_BACKEND,default=redis"`

	OperationalWebhookURL string        `env:"OPERATIONAL_WEBHOOK_URL"`
	JWTSecret             string        `env:"JWT_SECRET"`
	MaxRecoveryWindow     time.Duration `env:"MAX_RECOVERY_WINDOW,default=336h"`
	SnapshotCacheTTL      time.Duration `env:"SNAPSHOT_CACHE_TTL,default=30s"`
	QueueHealthInterval   time.Duration `env:"QUEUE_HEALTH_INTERVAL,default=30s"`
	PayloadRetention      time.Duration `env:"PAYLOAD_RETENTION,default=2160h"`
	PayloadSweepInterval  time.Duration `env:"PAYLOAD_SWEEP_INTERVAL,default=1h"`

	OTLPEndpoint   string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceVersion string `env:"SERVICE_VERSION,default=dev"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	c.QueueBackend = strings.ToLower(strings.TrimSpace(c.QueueBackend))
	switch c.QueueBackend {
	case QueueBackendRedis, QueueBackendMemory:
	case QueueBackendRabbitMQ:
		if c.RabbitMQURL == "" {
			return fmt.Errorf("RABBITMQ_URL is required for the rabbitmq queue backend")
		}
	case QueueBackendNSQ:
		if c.NSQDAddr == "" {
			return fmt.Errorf("NSQD_ADDR is required for the nsq queue backend")
		}
	default:
		return fmt.Errorf("unsupported QUEUE_BACKEND %q", c.QueueBackend)
	}

	c.RateLimitBackend = strings.ToLower(strings.TrimSpace(c.RateLimitBackend))
	if c.RateLimitBackend != RateLimitBackendRedis && c.RateLimitBackend != RateLimitBackendLocal {
		return fmt.Errorf("unsupported RATE_LIMIT_BACKEND %q", c.RateLimitBackend)
	}

	if c.WorkerBatchSize < 1 {
		return fmt.Errorf("WORKER_BATCH_SIZE must be positive")
	}
	if c.WorkerRequestTimeout <= 0 {
		return fmt.Errorf("WORKER_REQUEST_TIMEOUT must be positive")
	}
	for _, d := range c.RetrySchedule {
		if d <= 0 {
			return fmt.Errorf("RETRY_SCHEDULE entries must be positive")
		}
	}
	if c.OperationalWebhookURL != "" && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required when OPERATIONAL_WEBHOOK_URL is set")
	}
	if c.DBMaxOpenConns < 1 {
		return fmt.Errorf("DB_MAX_OPEN_CONNS must be positive")
	}
	return nil
}

func (c *Config) PostgresOptions() postgresql.Options {
	return postgresql.Options{
		DSN:             c.DatabaseDSN,
		MaxOpenConns:    c.DBMaxOpenConns,
		MaxIdleConns:    c.DBMaxIdleConns,
		ConnMaxLifetime: c.DBConnMaxLifetime,
	}
}
