package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server  ServerConfig
	GRPC    GRPCConfig
	Store   StoreConfig
	Feed    FeedConfig
	Stream  StreamConfig
	Notify  NotifyConfig
	Logging LoggingConfig
}

type ServerConfig struct {
	Host            string
	Port            int
	RateLimitRPS    int
	AdminToken      string
	DebugRoutes     bool
	ShutdownTimeout time.Duration
}

type GRPCConfig struct {
	Port int
}

type StoreConfig struct {
	Driver       string // "sqlite" or "postgres"
	Path         string
	DatabaseURL  string
	PollInterval time.Duration
}

type FeedConfig struct {
	Source       string // "store" or "kafka"
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string
	MinBackoff   time.Duration
	MaxBackoff   time.Duration
	DedupeWindow int
}

type StreamConfig struct {
	DeliveryTimeout time.Duration
	SessionBuffer   int
}

type NotifyConfig struct {
	Sink        string // "log", "webhook" or "sns"
	Recipient   string
	WebhookURL  string
	SNSTopicARN string
	AWSRegion   string
	Workers     int
	QueueSize   int
	SendTimeout time.Duration
}

type LoggingConfig struct {
	Level string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "localhost"),
			Port:            getEnvInt("SERVER_PORT", 8080),
			RateLimitRPS:    getEnvInt("RATE_LIMIT_RPS", 20),
			AdminToken:      getEnv("ADMIN_API_TOKEN", ""),
			DebugRoutes:     getEnvBool("DEBUG_ROUTES", false),
			ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		GRPC: GRPCConfig{
			Port: getEnvInt("GRPC_PORT", 50051),
		},
		Store: StoreConfig{
			Driver:       getEnv("STORE_DRIVER", "sqlite"),
			Path:         getEnv("DB_PATH", "./data/disaster-reports.db"),
			DatabaseURL:  getEnv("DATABASE_URL", ""),
			PollInterval: getEnvDuration("SQLITE_POLL_INTERVAL", time.Second),
		},
		Feed: FeedConfig{
			Source:       getEnv("FEED_SOURCE", "store"),
			KafkaBrokers: getEnvList("KAFKA_BROKERS", "localhost:9092"),
			KafkaTopic:   getEnv("KAFKA_TOPIC", "disaster_db.reports"),
			KafkaGroupID: getEnv("KAFKA_GROUP_ID", "disaster-live-feed"),
			MinBackoff:   getEnvDuration("WATCH_MIN_BACKOFF", 200*time.Millisecond),
			MaxBackoff:   getEnvDuration("WATCH_MAX_BACKOFF", 30*time.Second),
			DedupeWindow: getEnvInt("DEDUPE_WINDOW", 1024),
		},
		Stream: StreamConfig{
			DeliveryTimeout: getEnvDuration("DELIVERY_TIMEOUT", 2*time.Second),
			SessionBuffer:   getEnvInt("SESSION_BUFFER", 32),
		},
		Notify: NotifyConfig{
			Sink:        getEnv("NOTIFY_SINK", "log"),
			Recipient:   getEnv("NOTIFY_RECIPIENT", "ops@example.com"),
			WebhookURL:  getEnv("NOTIFY_WEBHOOK_URL", ""),
			SNSTopicARN: getEnv("NOTIFY_SNS_TOPIC_ARN", ""),
			AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
			Workers:     getEnvInt("NOTIFY_WORKERS", 2),
			QueueSize:   getEnvInt("NOTIFY_QUEUE_SIZE", 64),
			SendTimeout: getEnvDuration("NOTIFY_SEND_TIMEOUT", 10*time.Second),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.RateLimitRPS < 1 {
		return fmt.Errorf("RATE_LIMIT_RPS must be at least 1")
	}

	if c.GRPC.Port < 1 || c.GRPC.Port > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPC.Port)
	}
	if c.GRPC.Port == c.Server.Port {
		return fmt.Errorf("GRPC_PORT and SERVER_PORT must differ")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.PollInterval <= 0 {
			return fmt.Errorf("SQLITE_POLL_INTERVAL must be positive")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("invalid store driver: %s", c.Store.Driver)
	}

	switch c.Feed.Source {
	case "store":
	case "kafka":
		if len(c.Feed.KafkaBrokers) == 0 {
			return fmt.Errorf("KAFKA_BROKERS is required when FEED_SOURCE=kafka")
		}
		if c.Feed.KafkaTopic == "" {
			return fmt.Errorf("KAFKA_TOPIC is required when FEED_SOURCE=kafka")
		}
	default:
		return fmt.Errorf("invalid feed source: %s", c.Feed.Source)
	}
	if c.Feed.MinBackoff <= 0 || c.Feed.MaxBackoff < c.Feed.MinBackoff {
		return fmt.Errorf("watch backoff must satisfy 0 < WATCH_MIN_BACKOFF <= WATCH_MAX_BACKOFF")
	}
	if c.Feed.DedupeWindow < 0 {
		return fmt.Errorf("DEDUPE_WINDOW must not be negative")
	}

	if c.Stream.DeliveryTimeout <= 0 {
		return fmt.Errorf("DELIVERY_TIMEOUT must be positive")
	}
	if c.Stream.SessionBuffer < 1 {
		return fmt.Errorf("SESSION_BUFFER must be at least 1")
	}

	switch c.Notify.Sink {
	case "log":
	case "webhook":
		if c.Notify.WebhookURL == "" {
			return fmt.Errorf("NOTIFY_WEBHOOK_URL is required when NOTIFY_SINK=webhook")
		}
	case "sns":
		if c.Notify.SNSTopicARN == "" {
			return fmt.Errorf("NOTIFY_SNS_TOPIC_ARN is required when NOTIFY_SINK=sns")
		}
	default:
		return fmt.Errorf("invalid notify sink: %s", c.Notify.Sink)
	}
	if c.Notify.Workers < 1 || c.Notify.QueueSize < 1 {
		return fmt.Errorf("NOTIFY_WORKERS and NOTIFY_QUEUE_SIZE must be at least 1")
	}
	if c.Notify.SendTimeout <= 0 {
		return fmt.Errorf("NOTIFY_SEND_TIMEOUT must be positive")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key, fallback string) []string {
	parts := strings.Split(getEnv(key, fallback), ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
