package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shoporbit/internal/config"
	"github.com/vladislavdragonenkov/shoporbit/internal/health"
	"github.com/vladislavdragonenkov/shoporbit/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/shoporbit/internal/observability"
	"github.com/vladislavdragonenkov/shoporbit/internal/redisx"
	"github.com/vladislavdragonenkov/shoporbit/internal/storage/postgres"
	"github.com/vladislavdragonenkov/shoporbit/internal/version"
)

const shutdownTimeout = 5 * time.Second

// sagaDeps — общая инфраструктура сервиса саги: хранилище, Redis, Kafka.
// Postgres и Kafka опциональны: без DSN сервис работает на in-memory
// репозиториях, без брокеров — без событийной части (dev-режим).
type sagaDeps struct {
	store    *postgres.Store
	rdb      *redis.Client
	producer *kafka.Producer
	health   *health.Handler
	logger   *log.Entry
}

func initDeps(ctx context.Context, cfg config.Config, logger *log.Entry) (*sagaDeps, error) {
	deps := &sagaDeps{
		health: health.NewHandler(version.GetVersion()),
		logger: logger,
	}

	if cfg.Postgres.DSN != "" {
		store, err := postgres.Open(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		if err := store.MigrateUp(ctx, 0); err != nil {
			_ = store.Close()
			return nil, err
		}
		deps.store = store
		deps.health.Register("postgres", store.Ping)
		logger.Info("postgres storage initialized")
	} else {
		logger.Warn("POSTGRES_DSN is not set, using in-memory storage")
	}

	rdb, err := redisx.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		deps.close()
		return nil, err
	}
	deps.rdb = rdb
	deps.health.Register("redis", func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})

	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.Brokers[0] != "" {
		producer, err := kafka.NewProducer(cfg.Kafka.Brokers)
		if err != nil {
			logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		} else {
			deps.producer = producer
			logger.WithField("brokers", cfg.Kafka.Brokers).Info("kafka producer initialized")
		}
	}

	if _, err := observability.InitTracer(cfg.Service, cfg.Observ.JaegerEndpoint); err != nil {
		logger.WithError(err).Warn("failed to initialize tracer, continuing without tracing")
	}

	return deps, nil
}

func (d *sagaDeps) close() {
	if d.producer != nil {
		if err := d.producer.Close(); err != nil {
			d.logger.WithError(err).Warn("failed to close kafka producer")
		}
	}
	if d.rdb != nil {
		if err := d.rdb.Close(); err != nil {
			d.logger.WithError(err).Warn("failed to close redis client")
		}
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.logger.WithError(err).Warn("failed to close postgres store")
		}
	}
}

// startMetricsServer запускает служебный HTTP-сервер: /metrics и health-пробы.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *health.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	mux.HandleFunc("/livez", health.LivenessHandler)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/readyz, %s/livez", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// startAPIServer запускает HTTP API сервиса и возвращает канал фатальной ошибки.
func startAPIServer(ctx context.Context, addr string, handler http.Handler, logger *log.Entry) (*http.Server, <-chan error) {
	srv := &http.Server{Addr: addr, Handler: handler}
	errCh := make(chan error, 1)

	go func() {
		logger.Infof("HTTP API слушает %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv, errCh
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}

// startConsumer запускает Kafka consumer в фоне; возвращает nil, если Kafka
// не настроен.
func startConsumer(
	ctx context.Context,
	cfg config.Config,
	deps *sagaDeps,
	topics []string,
	handler kafka.MessageHandler,
) (*kafka.Consumer, error) {
	if deps.producer == nil {
		deps.logger.Warn("kafka is not configured, event consumers disabled")
		return nil, nil
	}

	consumer, err := kafka.NewConsumerWithDLQ(
		cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, topics, handler,
		deps.producer, cfg.Kafka.DLQMaxRetries,
	)
	if err != nil {
		return nil, err
	}

	go func() {
		if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			deps.logger.WithError(err).Error("kafka consumer stopped with error")
		}
	}()

	deps.logger.WithFields(log.Fields{
		"group":  cfg.Kafka.ConsumerGroup,
		"topics": topics,
	}).Info("kafka consumer started")
	return consumer, nil
}
