package config

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all service configuration
type Config struct {
	Service   ServiceConfig
	Broker    BrokerConfig
	Redis     RedisConfig
	Mongo     MongoConfig
	Auth      AuthConfig
	Telemetry TelemetryConfig
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name       string
	Port       int
	LogLevel   string
	LogFormat  string
	CORSOrigin string
}

// BrokerConfig holds RabbitMQ settings
type BrokerConfig struct {
	URL                string
	TokenQueue         string
	StatusQueue        string
	CompletionQueue    string
	ExecutionQueue     string
	ConsumerTag        string
	PrefetchCount      int
	ConcurrentMessages int
	QueueDurable       bool
	RetryDelay         time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	URL string
}

// MongoConfig holds MongoDB connection settings
type MongoConfig struct {
	URL      string
	Database string
}

// AuthConfig holds JWT settings
type AuthConfig struct {
	JWTSecret string
}

// TelemetryConfig holds observability settings
type TelemetryConfig struct {
	OTLPEndpoint string
}

// Load loads configuration from an optional .env file and environment variables
func Load(serviceName string) (*Config, error) {
	if err := loadEnvFile(getEnv("ENV_FILE", ".env")); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	}

	cfg := &Config{
		Service: ServiceConfig{
			Name:       serviceName,
			Port:       getEnvInt("PORT", 3000),
			LogLevel:   getEnv("LOG_LEVEL", "info"),
			LogFormat:  getEnv("LOG_FORMAT", "text"),
			CORSOrigin: getEnv("CORS_ORIGIN", "http://localhost:3000"),
		},
		Broker: BrokerConfig{
			URL:                getEnv("AMQP_URL", "amqp://127.0.0.1:5672/%2f"),
			TokenQueue:         getEnv("RABBITMQ_TOKEN_QUEUE", "execution.token"),
			StatusQueue:        getEnv("RABBITMQ_STATUS_QUEUE", "workflow.node.status"),
			CompletionQueue:    getEnv("RABBITMQ_COMPLETION_QUEUE", "workflow.completion"),
			ExecutionQueue:     getEnv("RABBITMQ_EXECUTION_QUEUE", "workflow.worker.initiated"),
			ConsumerTag:        getEnv("RABBITMQ_CONSUMER_TAG", "rtes_token_consumer"),
			PrefetchCount:      getEnvInt("RABBITMQ_PREFETCH_COUNT", 10),
			ConcurrentMessages: getEnvInt("RABBITMQ_CONCURRENT_MESSAGES", 10),
			QueueDurable:       getEnvBool("RABBITMQ_QUEUE_DURABLE", false),
			RetryDelay:         getEnvDuration("RABBITMQ_RETRY_DELAY", 5*time.Second),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", "redis://127.0.0.1/"),
		},
		Mongo: MongoConfig{
			URL:      getEnv("MONGODB_URL", "mongodb://localhost:27017"),
			Database: getEnv("MONGODB_DATABASE", "rtes_db"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET_KEY", "secret"),
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://localhost:4318"),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}

	if c.Broker.URL == "" {
		return fmt.Errorf("broker url is required")
	}

	if c.Broker.PrefetchCount <= 0 {
		return fmt.Errorf("prefetch count must be greater than zero")
	}

	if c.Broker.ConcurrentMessages <= 0 {
		return fmt.Errorf("concurrent messages must be greater than zero")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("redis url is required")
	}

	if c.Mongo.URL == "" {
		return fmt.Errorf("mongo url is required")
	}

	return nil
}

// loadEnvFile sets environment variables from a dotenv-style file.
// Already-set variables are not overridden.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}

	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		_ = file.Close()
	}()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		value = strings.Trim(value, "\"'")

		if _, ok := os.LookupEnv(key); !ok {
			_ = os.Setenv(key, value)
		}
	}

	return scanner.Err()
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "y", "on":
		return true
	}
	return false
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
