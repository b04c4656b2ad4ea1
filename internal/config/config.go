package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// ServerConfig — адреса HTTP API и служебного сервера метрик.
type ServerConfig struct {
	HTTPAddr    string
	MetricsAddr string
}

// PostgresConfig — подключение к Postgres.
type PostgresConfig struct {
	DSN string
}

// RedisConfig — подключение к Redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// KafkaConfig — брокеры и consumer group сервиса.
type KafkaConfig struct {
	Brokers       []string
	ConsumerGroup string
	DLQMaxRetries int
}

// ObservabilityConfig — настройка трассировки.
type ObservabilityConfig struct {
	JaegerEndpoint string
}

// OrderingConfig — параметры сервиса заказов.
type OrderingConfig struct {
	TimeoutWindow      time.Duration
	CatalogLookupURL   string
	TimeoutPollEvery   time.Duration
	OutboxPollInterval time.Duration
}

// PaymentConfig — параметры симулятора платежей.
type PaymentConfig struct {
	SuccessRate float64
	// AutoProcess включает обработку оплаты сразу по OrderCreated,
	// без отдельного запроса Pay.
	AutoProcess bool
}

// Config агрегирует настройки одного сервиса.
type Config struct {
	Service  string
	Server   ServerConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Observ   ObservabilityConfig
	Ordering OrderingConfig
	Payment  PaymentConfig
}

// Load читает конфигурацию сервиса из окружения (и .env, если есть).
func Load(service string) Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	dlqRetries, _ := strconv.Atoi(getEnv("KAFKA_DLQ_MAX_RETRIES", "3"))
	successRate, err := strconv.ParseFloat(getEnv("PAYMENT_SUCCESS_RATE", "0.85"), 64)
	if err != nil || successRate < 0 || successRate > 1 {
		successRate = 0.85
	}

	cfg := Config{
		Service: service,
		Server: ServerConfig{
			HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
			MetricsAddr: getEnv("METRICS_ADDR", ":9090"),
		},
		Postgres: PostgresConfig{
			DSN: getEnv("POSTGRES_DSN", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Kafka: KafkaConfig{
			Brokers:       strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			ConsumerGroup: getEnv("KAFKA_CONSUMER_GROUP", service+"-group"),
			DLQMaxRetries: dlqRetries,
		},
		Observ: ObservabilityConfig{
			JaegerEndpoint: getEnv("JAEGER_ENDPOINT", ""),
		},
		Ordering: OrderingConfig{
			TimeoutWindow:      getDuration("ORDER_TIMEOUT_WINDOW", 5*time.Minute),
			CatalogLookupURL:   getEnv("CATALOG_LOOKUP_URL", "http://localhost:8081"),
			TimeoutPollEvery:   getDuration("TIMEOUT_POLL_INTERVAL", time.Second),
			OutboxPollInterval: getDuration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		},
		Payment: PaymentConfig{
			SuccessRate: successRate,
			AutoProcess: getEnv("PAYMENT_AUTO_PROCESS", "false") == "true",
		},
	}

	log.WithFields(log.Fields{
		"service":      service,
		"http_addr":    cfg.Server.HTTPAddr,
		"metrics_addr": cfg.Server.MetricsAddr,
	}).Info("config loaded")
	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultVal
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil || parsed <= 0 {
		log.WithFields(log.Fields{"key": key, "value": raw}).Warn("invalid duration, using default")
		return defaultVal
	}
	return parsed
}
