package app

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shoporbit/internal/config"
	"github.com/vladislavdragonenkov/shoporbit/internal/domain"
	"github.com/vladislavdragonenkov/shoporbit/internal/httpx"
	"github.com/vladislavdragonenkov/shoporbit/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/shoporbit/internal/service/catalog"
	"github.com/vladislavdragonenkov/shoporbit/internal/storage/memory"
	"github.com/vladislavdragonenkov/shoporbit/internal/storage/postgres"
)

// demoStock — сид стока для dev-режима без Postgres.
var demoStock = []domain.StockRecord{
	{ProductID: "product-1", Name: "Mechanical Keyboard", PriceMinor: 8900, Available: 25},
	{ProductID: "product-2", Name: "Wireless Mouse", PriceMinor: 3500, Available: 40},
	{ProductID: "product-3", Name: "USB-C Dock", PriceMinor: 12900, Available: 10},
}

// RunCatalog запускает сервис каталога: внутренний product lookup и
// consumer резервирования/компенсации стока.
func RunCatalog(ctx context.Context, cfg config.Config) error {
	logger := log.WithField("component", "catalog-app")

	deps, err := initDeps(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close()

	var stock domain.StockRepository
	if deps.store != nil {
		stock = postgres.NewStockRepository(deps.store)
	} else {
		memStock := memory.NewStockRepository()
		memStock.Seed(demoStock...)
		stock = memStock
		logger.WithField("products", len(demoStock)).Info("seeded demo stock")
	}

	svc := catalog.NewService(
		stock,
		kafka.NewEventPublisher(deps.producer),
		log.WithField("component", "catalog"),
	)

	consumer, err := startConsumer(ctx, cfg, deps, catalog.ConsumedTopics(), svc.HandleMessage)
	if err != nil {
		return err
	}

	router := httpx.NewRouter()
	catalogHandler := &httpx.CatalogHandler{Lookup: svc, Logger: log.WithField("component", "catalog-http")}
	catalogHandler.Register(router)

	metricsSrv := startMetricsServer(ctx, cfg.Server.MetricsAddr, logger, deps.health)
	_, apiErr := startAPIServer(ctx, cfg.Server.HTTPAddr, router, logger)

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем сервис каталога")
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
