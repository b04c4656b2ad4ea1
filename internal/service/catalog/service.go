package catalog

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shoporbit/internal/domain"
	"github.com/vladislavdragonenkov/shoporbit/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/shoporbit/internal/metrics"
	"github.com/vladislavdragonenkov/shoporbit/internal/observability"
)

// Service обслуживает сток каталога: синхронный product lookup и
// событийное резервирование с компенсацией.
type Service struct {
	stock     domain.StockRepository
	publisher domain.EventPublisher
	logger    *log.Entry
	metrics   *metrics.SagaMetrics
}

// NewService создаёт рабочий экземпляр сервиса каталога.
func NewService(stock domain.StockRepository, publisher domain.EventPublisher, logger *log.Entry) *Service {
	s := newService(stock, publisher, logger)
	s.metrics = metrics.NewSagaMetrics()
	return s
}

// NewServiceWithoutMetrics создаёт сервис без метрик (для тестов).
func NewServiceWithoutMetrics(stock domain.StockRepository, publisher domain.EventPublisher, logger *log.Entry) *Service {
	return newService(stock, publisher, logger)
}

func newService(stock domain.StockRepository, publisher domain.EventPublisher, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "catalog")
	}
	return &Service{
		stock:     stock,
		publisher: publisher,
		logger:    logger,
	}
}

// Lookup — авторитетный ответ каталога на probe при оформлении заказа.
// Отсутствующий товар не ошибка, а Exists=false.
func (s *Service) Lookup(_ context.Context, productID string) (domain.ProductInfo, error) {
	rec, err := s.stock.Get(productID)
	if err != nil {
		if errors.Is(err, domain.ErrProductUnavailable) {
			return domain.ProductInfo{ProductID: productID, Exists: false}, nil
		}
		return domain.ProductInfo{}, err
	}

	return domain.ProductInfo{
		ProductID:  rec.ProductID,
		Exists:     true,
		Name:       rec.Name,
		PriceMinor: rec.PriceMinor,
		ImageURL:   rec.ImageURL,
		Available:  rec.Available,
	}, nil
}

// HandleOrderCreated резервирует сток по всем позициям заказа.
// Успех молчалив: дальше сагу двигает оплата. Бизнес-отказ публикует
// StockReservationFailed со списком именно тех товаров, которых не хватило.
func (s *Service) HandleOrderCreated(ctx context.Context, evt kafka.OrderCreatedEvent) error {
	ctx, span := observability.StartSpan(ctx, "catalog.reserve_stock")
	defer span.End()

	start := time.Now()
	defer s.recordHandler("order_created", start)

	lines := make([]domain.ReservationLine, 0, len(evt.Items))
	for _, item := range evt.Items {
		lines = append(lines, domain.ReservationLine{ProductID: item.ProductID, Qty: item.Qty})
	}

	failed, err := s.stock.ReserveAll(evt.OrderID, lines)
	if err != nil {
		// Инфраструктурный сбой: ретрай на уровне консьюмера.
		return err
	}
	if len(failed) == 0 {
		s.logger.WithFields(log.Fields{
			"order_id": evt.OrderID,
			"items":    len(lines),
		}).Info("stock reserved")
		return nil
	}

	s.logger.WithFields(log.Fields{
		"order_id":     evt.OrderID,
		"failed_items": failed,
	}).Info("stock reservation rejected")

	return s.publisher.Publish(ctx, string(kafka.EventTypeStockReservationFailed), evt.OrderID,
		kafka.StockReservationFailedEvent{
			OrderID:       evt.OrderID,
			Reason:        "insufficient stock",
			FailedItemIDs: failed,
		})
}

// HandleOrderCancelled возвращает сток отменённого заказа по строкам ledger.
// Повторная доставка и отмена без состоявшегося резерва — no-op.
func (s *Service) HandleOrderCancelled(_ context.Context, evt kafka.OrderCancelledEvent) error {
	start := time.Now()
	defer s.recordHandler("order_cancelled", start)

	restored, err := s.stock.Restore(evt.OrderID)
	if err != nil {
		return err
	}

	if restored > 0 {
		s.logger.WithFields(log.Fields{
			"order_id":       evt.OrderID,
			"restored_lines": restored,
		}).Info("stock restored for cancelled order")
	} else {
		s.logger.WithField("order_id", evt.OrderID).Debug("no reservation to restore")
	}

	return nil
}

func (s *Service) recordHandler(handler string, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordHandlerDuration(handler, time.Since(start))
	}
}

var _ domain.ProductLookup = (*Service)(nil)
