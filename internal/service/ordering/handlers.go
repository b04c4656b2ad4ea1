package ordering

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shoporbit/internal/domain"
	"github.com/vladislavdragonenkov/shoporbit/internal/messaging/kafka"
)

const (
	cancelReasonStock   = "stock_reservation_failed"
	cancelReasonPayment = "payment_failed"
	cancelReasonTimeout = "order_timeout"
)

// OnStockReservationFailed отменяет заказ, которому не хватило стока.
// Резервирование не состоялось, поэтому компенсация стока не публикуется.
func (s *Service) OnStockReservationFailed(ctx context.Context, evt kafka.StockReservationFailedEvent) error {
	start := time.Now()
	defer s.recordHandler("stock_reservation_failed", start)

	s.logger.WithFields(log.Fields{
		"order_id":     evt.OrderID,
		"failed_items": evt.FailedItemIDs,
	}).Info("stock reservation failed, cancelling order")

	return s.resolve(ctx, evt.OrderID, domain.ResolutionStockFailed, func(order *domain.Order) {
		order.Notes = appendNote(order.Notes, "cancelled: "+cancelReasonStock)
	}, false)
}

// OnPaymentFailed отменяет заказ с неуспешной оплатой и публикует
// OrderCancelled, чтобы каталог вернул зарезервированный сток.
func (s *Service) OnPaymentFailed(ctx context.Context, evt kafka.PaymentFailedEvent) error {
	start := time.Now()
	defer s.recordHandler("payment_failed", start)

	s.logger.WithFields(log.Fields{
		"order_id": evt.OrderID,
		"reason":   evt.Reason,
	}).Info("payment failed, cancelling order")

	return s.resolve(ctx, evt.OrderID, domain.ResolutionPaymentFailed, func(order *domain.Order) {
		order.PaymentID = ""
		order.Notes = appendNote(order.Notes, "cancelled: "+cancelReasonPayment)
	}, true)
}

// OnPaymentSucceeded переводит заказ в Paid и снимает страховочный таймаут.
func (s *Service) OnPaymentSucceeded(ctx context.Context, evt kafka.PaymentSucceededEvent) error {
	start := time.Now()
	defer s.recordHandler("payment_succeeded", start)

	return s.resolve(ctx, evt.OrderID, domain.ResolutionPaymentSucceeded, func(order *domain.Order) {
		order.PaymentID = evt.PaymentID
	}, false)
}

// OnOrderTimeout отменяет заказ, не разрешившийся в отведённое окно.
// Если оплата успела пройти первой, статусный гейт делает таймаут no-op.
func (s *Service) OnOrderTimeout(ctx context.Context, evt kafka.OrderTimeoutEvent) error {
	start := time.Now()
	defer s.recordHandler("order_timeout", start)

	s.logger.WithField("order_id", evt.OrderID).Info("order timeout fired")

	return s.resolve(ctx, evt.OrderID, domain.ResolutionTimeout, func(order *domain.Order) {
		order.Notes = appendNote(order.Notes, "cancelled: "+cancelReasonTimeout)
	}, true)
}

// resolve применяет разрешающее событие к заказу с optimistic-locking retry.
// mutate выполняется поверх заказа после прохождения статусного гейта;
// compensate=true дополнительно публикует OrderCancelled через outbox.
func (s *Service) resolve(
	ctx context.Context,
	orderID string,
	resolution domain.Resolution,
	mutate func(order *domain.Order),
	compensate bool,
) error {
	const maxRetries = 3
	const baseDelay = 10 * time.Millisecond

	order, err := s.orders.Get(orderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			// Событие по чужому или ещё не видимому заказу: подавляем,
			// ретрай на уровне консьюмера ничего не изменит.
			s.logger.WithField("order_id", orderID).Warn("resolution event for unknown order")
			return nil
		}
		return err
	}

	for attempt := 0; attempt < maxRetries; attempt++ {
		next, ok := domain.NextStatus(order.Status, resolution)
		if !ok {
			if s.metrics != nil {
				s.metrics.RecordDuplicateEvent()
			}
			s.logger.WithFields(log.Fields{
				"order_id":   orderID,
				"status":     order.Status,
				"resolution": resolution,
			}).Debug("resolution is a no-op for current status")
			return nil
		}

		order.Status = next
		// Терминальный заказ токен таймаута не хранит: снятие расписания
		// берёт на себя afterResolution по запомненному токену.
		timeoutToken := order.TimeoutToken
		order.TimeoutToken = ""
		if mutate != nil {
			mutate(&order)
		}
		order.UpdatedAt = time.Now().UTC()
		prevVersion := order.Version

		if err := s.orders.Save(order); err != nil {
			if domain.IsVersionConflict(err) && attempt < maxRetries-1 {
				if s.metrics != nil {
					s.metrics.RecordVersionConflict()
				}
				s.logger.WithFields(log.Fields{
					"order_id": orderID,
					"attempt":  attempt + 1,
					"version":  order.Version,
				}).Warn("version conflict detected, retrying")

				fresh, loadErr := s.orders.Get(orderID)
				if loadErr != nil {
					return loadErr
				}
				order = fresh

				delay := baseDelay * time.Duration(1<<uint(attempt))
				time.Sleep(delay)
				continue
			}
			return fmt.Errorf("persist order resolution: %w", err)
		}
		order.Version = prevVersion + 1

		s.afterResolution(ctx, order, timeoutToken, resolution, compensate)
		return nil
	}

	return domain.ErrOrderVersionConflict
}

// afterResolution выполняет побочные действия зафиксированного перехода:
// снятие таймаута, компенсацию стока и метрики.
func (s *Service) afterResolution(ctx context.Context, order domain.Order, timeoutToken string, resolution domain.Resolution, compensate bool) {
	if timeoutToken != "" && resolution != domain.ResolutionTimeout && s.scheduler != nil {
		if err := s.scheduler.Cancel(ctx, kafka.TopicOrderTimeout, timeoutToken); err != nil {
			if errors.Is(err, domain.ErrScheduleTokenNotFound) {
				s.logger.WithField("order_id", order.ID).Debug("timeout already fired or cancelled")
			} else {
				s.logger.WithError(err).WithField("order_id", order.ID).Warn("failed to cancel order timeout")
			}
		}
	}

	if compensate {
		if err := s.enqueueCancellation(order); err != nil {
			s.logger.WithError(err).WithField("order_id", order.ID).Error("failed to enqueue cancellation event")
		}
	}

	if s.metrics == nil {
		return
	}
	switch resolution {
	case domain.ResolutionPaymentSucceeded:
		s.metrics.RecordOrderPaid()
	case domain.ResolutionStockFailed:
		s.metrics.RecordOrderCancelled(cancelReasonStock)
	case domain.ResolutionPaymentFailed:
		s.metrics.RecordOrderCancelled(cancelReasonPayment)
	case domain.ResolutionTimeout:
		s.metrics.RecordOrderCancelled(cancelReasonTimeout)
	}
}

// enqueueCancellation публикует OrderCancelled через outbox: компенсация не
// должна потеряться, даже если брокер сейчас недоступен.
func (s *Service) enqueueCancellation(order domain.Order) error {
	items := make([]kafka.OrderItemEvent, 0, len(order.Items))
	for _, line := range order.Items {
		items = append(items, kafka.OrderItemEvent{ProductID: line.ProductID, Qty: line.Qty})
	}

	payload, err := json.Marshal(kafka.OrderCancelledEvent{OrderID: order.ID, Items: items})
	if err != nil {
		return fmt.Errorf("marshal order cancelled event: %w", err)
	}

	if _, err := s.outbox.Enqueue(domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   order.ID,
		EventType:     string(kafka.EventTypeOrderCancelled),
		Payload:       payload,
	}); err != nil {
		return fmt.Errorf("enqueue order cancelled event: %w", err)
	}
	if s.metrics != nil {
		s.metrics.RecordOutboxEvent()
	}

	return nil
}

func (s *Service) recordHandler(handler string, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordHandlerDuration(handler, time.Since(start))
	}
}

func appendNote(notes, extra string) string {
	if notes == "" {
		return extra
	}
	return notes + "; " + extra
}
