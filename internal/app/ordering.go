package app

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shoporbit/internal/config"
	"github.com/vladislavdragonenkov/shoporbit/internal/domain"
	"github.com/vladislavdragonenkov/shoporbit/internal/httpx"
	"github.com/vladislavdragonenkov/shoporbit/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/shoporbit/internal/redisx"
	"github.com/vladislavdragonenkov/shoporbit/internal/scheduler"
	"github.com/vladislavdragonenkov/shoporbit/internal/service/ordering"
	outboxsvc "github.com/vladislavdragonenkov/shoporbit/internal/service/outbox"
	"github.com/vladislavdragonenkov/shoporbit/internal/storage/memory"
	"github.com/vladislavdragonenkov/shoporbit/internal/storage/postgres"
)

// RunOrdering запускает сервис заказов: HTTP API, outbox-диспетчер,
// планировщик таймаутов и consumer разрешающих событий саги.
func RunOrdering(ctx context.Context, cfg config.Config) error {
	logger := log.WithField("component", "ordering-app")

	deps, err := initDeps(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close()

	var orders domain.OrderRepository
	var outboxRepo domain.OutboxRepository
	if deps.store != nil {
		orders = postgres.NewOrderRepository(deps.store)
		outboxRepo = postgres.NewOutboxRepository(deps.store)
	} else {
		memOutbox := memory.NewOutboxRepository()
		outboxRepo = memOutbox
		orders = memory.NewOrderRepository(memOutbox)
	}

	baskets := redisx.NewBasketStore(deps.rdb)
	locker := redisx.NewLocker(deps.rdb)
	timeouts := scheduler.NewRedisScheduler(deps.rdb)
	lookup := httpx.NewProductLookupClient(cfg.Ordering.CatalogLookupURL)

	svc := ordering.NewService(
		orders, outboxRepo, baskets, lookup, locker, timeouts,
		cfg.Ordering.TimeoutWindow,
		log.WithField("component", "ordering"),
	)

	if deps.producer != nil {
		dispatcher := outboxsvc.NewDispatcher(outboxRepo, kafka.NewOutboxPublisher(deps.producer), outboxsvc.Config{
			PollInterval: cfg.Ordering.OutboxPollInterval,
			MaxAttempts:  cfg.Kafka.DLQMaxRetries,
			DLQ:          kafka.NewDLQPublisher(deps.producer),
			Logger:       log.WithField("component", "outbox-dispatcher"),
		})
		go dispatcher.Run(ctx)

		poller := scheduler.NewPoller(timeouts, deps.producer, kafka.TopicOrderTimeout, cfg.Ordering.TimeoutPollEvery)
		go poller.Run(ctx)
	} else {
		logger.Warn("kafka is not configured, outbox dispatcher and timeout poller disabled")
	}

	consumer, err := startConsumer(ctx, cfg, deps, ordering.ConsumedTopics(), svc.HandleMessage)
	if err != nil {
		return err
	}

	router := httpx.NewRouter()
	ordersHandler := &httpx.OrdersHandler{Service: svc, Logger: log.WithField("component", "orders-http")}
	ordersHandler.Register(router)

	metricsSrv := startMetricsServer(ctx, cfg.Server.MetricsAddr, logger, deps.health)
	_, apiErr := startAPIServer(ctx, cfg.Server.HTTPAddr, router, logger)

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем сервис заказов")
		err = ctx.Err()
	case srvErr := <-apiErr:
		err = srvErr
	}

	if consumer != nil {
		if stopErr := consumer.Stop(); stopErr != nil {
			logger.WithError(stopErr).Warn("failed to stop kafka consumer")
		}
	}
	shutdownHTTP(metricsSrv, logger)
	return err
}
