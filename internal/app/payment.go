package app

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shoporbit/internal/config"
	"github.com/vladislavdragonenkov/shoporbit/internal/domain"
	"github.com/vladislavdragonenkov/shoporbit/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/shoporbit/internal/redisx"
	"github.com/vladislavdragonenkov/shoporbit/internal/service/guard"
	"github.com/vladislavdragonenkov/shoporbit/internal/service/payment"
	"github.com/vladislavdragonenkov/shoporbit/internal/storage/memory"
	"github.com/vladislavdragonenkov/shoporbit/internal/storage/postgres"
)

// RunPayment запускает платёжный сервис: consumer платёжных событий и
// симулятор провайдера.
func RunPayment(ctx context.Context, cfg config.Config) error {
	logger := log.WithField("component", "payment-app")

	deps, err := initDeps(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close()

	var payments domain.PaymentRepository
	var markers domain.ProcessedMarkerRepository
	if deps.store != nil {
		payments = postgres.NewPaymentRepository(deps.store)
		// Маркеры в Postgres живут рядом с платёжными записями и
		// переживают сброс Redis; вместо TTL их выметает sweeper.
		markers = postgres.NewMarkerRepository(deps.store)
		cleanup := guard.NewSweeper(markers, guard.Config{Logger: log.WithField("component", "guard-sweeper")})
		go cleanup.Run(ctx)
	} else {
		payments = memory.NewPaymentRepository()
		markers = redisx.NewProcessedMarkers(deps.rdb)
	}

	processor := payment.NewProcessor(
		payments,
		markers,
		kafka.NewEventPublisher(deps.producer),
		cfg.Payment.SuccessRate,
		log.WithField("component", "payment"),
	)

	paymentConsumer := payment.NewConsumer(processor, cfg.Payment.AutoProcess)
	consumer, err := startConsumer(ctx, cfg, deps, paymentConsumer.ConsumedTopics(), paymentConsumer.HandleMessage)
	if err != nil {
		return err
	}

	metricsSrv := startMetricsServer(ctx, cfg.Server.MetricsAddr, logger, deps.health)

	<-ctx.Done()
	logger.Info("получен сигнал остановки, останавливаем платёжный сервис")

	if consumer != nil {
		if stopErr := consumer.Stop(); stopErr != nil {
			logger.WithError(stopErr).Warn("failed to stop kafka consumer")
		}
	}
	shutdownHTTP(metricsSrv, logger)
	return ctx.Err()
}
