package payment

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shoporbit/internal/domain"
	"github.com/vladislavdragonenkov/shoporbit/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/shoporbit/internal/metrics"
	"github.com/vladislavdragonenkov/shoporbit/internal/observability"
	"github.com/vladislavdragonenkov/shoporbit/internal/redisx"
)

const defaultSuccessRate = 0.85

// Request — данные платежа, извлечённые из события саги.
type Request struct {
	OrderID     string
	UserID      string
	AmountMinor int64
	Currency    string
	Method      string
}

// Processor симулирует обработку платежа: исход выбирается случайно с
// настраиваемой долей успеха. Повторные доставки по одному заказу
// подавляются idempotency guard и уникальностью платёжной записи.
type Processor struct {
	payments  domain.PaymentRepository
	guard     domain.ProcessedMarkerRepository
	publisher domain.EventPublisher

	// decide возвращает исход симуляции; подменяется в тестах.
	decide func() bool

	logger  *log.Entry
	metrics *metrics.SagaMetrics
}

// NewProcessor создаёт платёжный процессор с заданной долей успешных платежей.
func NewProcessor(
	payments domain.PaymentRepository,
	guard domain.ProcessedMarkerRepository,
	publisher domain.EventPublisher,
	successRate float64,
	logger *log.Entry,
) *Processor {
	p := newProcessor(payments, guard, publisher, successRate, logger)
	p.metrics = metrics.NewSagaMetrics()
	return p
}

// NewProcessorWithoutMetrics создаёт процессор без метрик (для тестов).
func NewProcessorWithoutMetrics(
	payments domain.PaymentRepository,
	guard domain.ProcessedMarkerRepository,
	publisher domain.EventPublisher,
	successRate float64,
	logger *log.Entry,
) *Processor {
	return newProcessor(payments, guard, publisher, successRate, logger)
}

func newProcessor(
	payments domain.PaymentRepository,
	guard domain.ProcessedMarkerRepository,
	publisher domain.EventPublisher,
	successRate float64,
	logger *log.Entry,
) *Processor {
	if logger == nil {
		logger = log.New().WithField("component", "payment")
	}
	if successRate <= 0 || successRate > 1 {
		successRate = defaultSuccessRate
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &Processor{
		payments:  payments,
		guard:     guard,
		publisher: publisher,
		decide:    func() bool { return rng.Float64() < successRate },
		logger:    logger,
	}
}

// Process обрабатывает платёж по заказу ровно один раз. Повторная доставка
// события возвращает nil без новой платёжной записи и без нового события.
func (p *Processor) Process(ctx context.Context, req Request) error {
	ctx, span := observability.StartSpan(ctx, "payment.process")
	defer span.End()

	if req.OrderID == "" {
		return domain.ErrOrderIDRequired
	}

	guardKey := fmt.Sprintf(redisx.KeyProcessedOrder, req.OrderID)
	seen, err := p.guard.Seen(ctx, guardKey)
	if err != nil {
		return fmt.Errorf("check processed marker: %w", err)
	}
	if seen {
		if p.metrics != nil {
			p.metrics.RecordDuplicateEvent()
		}
		p.logger.WithField("order_id", req.OrderID).Debug("payment already processed, skipping")
		return nil
	}

	now := time.Now().UTC()
	payment := domain.Payment{
		ID:          uuid.NewString(),
		OrderID:     req.OrderID,
		UserID:      req.UserID,
		AmountMinor: req.AmountMinor,
		Currency:    req.Currency,
		Method:      req.Method,
		Status:      domain.PaymentStatusProcessing,
		CreatedAt:   now,
	}
	if errs := payment.Validate(); len(errs) > 0 {
		p.logger.WithField("order_id", req.OrderID).WithField("errors", errs).Warn("invalid payment request")
		return errs[0]
	}

	success := p.decide()
	payment.ProcessedAt = time.Now().UTC()
	if success {
		payment.Status = domain.PaymentStatusSuccess
	} else {
		payment.Status = domain.PaymentStatusFailed
		payment.FailureReason = "payment declined by provider"
	}

	if err := p.payments.Create(payment); err != nil {
		if errors.Is(err, domain.ErrOrderVersionConflict) {
			// Запись уже есть: предыдущая доставка упала между Create и
			// Mark. Публикуем исход существующей записи, не бросая монету
			// второй раз.
			if p.metrics != nil {
				p.metrics.RecordDuplicateEvent()
			}
			existing, getErr := p.payments.GetByOrder(req.OrderID)
			if getErr != nil {
				return fmt.Errorf("load existing payment: %w", getErr)
			}
			payment = existing
		} else {
			return fmt.Errorf("persist payment: %w", err)
		}
	}

	if err := p.publishOutcome(ctx, payment); err != nil {
		// Запись есть, событие не ушло: маркер не ставим, консьюмер
		// повторит доставку и дойдёт сюда по ветке существующей записи.
		return err
	}

	// Маркер ставим последним: его потеря ведёт максимум к повторной
	// доставке, которую подавит уникальность платёжной записи.
	if err := p.guard.Mark(ctx, guardKey, redisx.TTLProcessed); err != nil {
		p.logger.WithError(err).WithField("order_id", req.OrderID).Warn("failed to set processed marker")
	}

	p.logger.WithFields(log.Fields{
		"order_id":   req.OrderID,
		"payment_id": payment.ID,
		"status":     payment.Status,
	}).Info("payment processed")

	return nil
}

func (p *Processor) publishOutcome(ctx context.Context, payment domain.Payment) error {
	if payment.Status == domain.PaymentStatusSuccess {
		return p.publisher.Publish(ctx, string(kafka.EventTypePaymentSucceeded), payment.OrderID,
			kafka.PaymentSucceededEvent{
				OrderID:     payment.OrderID,
				PaymentID:   payment.ID,
				ProcessedAt: payment.ProcessedAt,
			})
	}
	return p.publisher.Publish(ctx, string(kafka.EventTypePaymentFailed), payment.OrderID,
		kafka.PaymentFailedEvent{
			OrderID: payment.OrderID,
			Reason:  payment.FailureReason,
		})
}

// GetByOrder возвращает платёжную запись заказа.
func (p *Processor) GetByOrder(_ context.Context, orderID string) (domain.Payment, error) {
	return p.payments.GetByOrder(orderID)
}
