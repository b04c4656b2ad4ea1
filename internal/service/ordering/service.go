package ordering

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shoporbit/internal/domain"
	"github.com/vladislavdragonenkov/shoporbit/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/shoporbit/internal/metrics"
	"github.com/vladislavdragonenkov/shoporbit/internal/observability"
)

const (
	// Параметры probe-lock на товар при оформлении.
	lockLease = 5 * time.Second
	lockWait  = 2 * time.Second
	lockRetry = 200 * time.Millisecond

	defaultTimeoutWindow = 5 * time.Minute
	defaultCurrency      = "USD"
)

// PlaceOrderRequest — данные оформления заказа из корзины.
type PlaceOrderRequest struct {
	UserID          string
	Currency        string
	ShippingAddress string
	PaymentMethod   string
	Notes           string
}

// Service реализует операции жизненного цикла заказа: оформление из корзины,
// запрос оплаты и чтение.
type Service struct {
	orders    domain.OrderRepository
	outbox    domain.OutboxRepository
	baskets   domain.BasketStore
	lookup    domain.ProductLookup
	locker    domain.Locker
	scheduler domain.TimeoutScheduler

	timeoutWindow time.Duration
	logger        *log.Entry
	metrics       *metrics.SagaMetrics
}

// NewService создаёт рабочий экземпляр сервиса заказов.
func NewService(
	orders domain.OrderRepository,
	outbox domain.OutboxRepository,
	baskets domain.BasketStore,
	lookup domain.ProductLookup,
	locker domain.Locker,
	scheduler domain.TimeoutScheduler,
	timeoutWindow time.Duration,
	logger *log.Entry,
) *Service {
	s := newService(orders, outbox, baskets, lookup, locker, scheduler, timeoutWindow, logger)
	s.metrics = metrics.NewSagaMetrics()
	return s
}

// NewServiceWithoutMetrics создаёт сервис без метрик (для тестов).
func NewServiceWithoutMetrics(
	orders domain.OrderRepository,
	outbox domain.OutboxRepository,
	baskets domain.BasketStore,
	lookup domain.ProductLookup,
	locker domain.Locker,
	scheduler domain.TimeoutScheduler,
	timeoutWindow time.Duration,
	logger *log.Entry,
) *Service {
	return newService(orders, outbox, baskets, lookup, locker, scheduler, timeoutWindow, logger)
}

func newService(
	orders domain.OrderRepository,
	outbox domain.OutboxRepository,
	baskets domain.BasketStore,
	lookup domain.ProductLookup,
	locker domain.Locker,
	scheduler domain.TimeoutScheduler,
	timeoutWindow time.Duration,
	logger *log.Entry,
) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "ordering")
	}
	if timeoutWindow <= 0 {
		timeoutWindow = defaultTimeoutWindow
	}
	return &Service{
		orders:        orders,
		outbox:        outbox,
		baskets:       baskets,
		lookup:        lookup,
		locker:        locker,
		scheduler:     scheduler,
		timeoutWindow: timeoutWindow,
		logger:        logger,
	}
}

// PlaceOrder оформляет заказ из текущей корзины пользователя.
// Заказ и событие OrderCreated фиксируются одной записью; резервирование и
// оплата происходят асинхронно по событиям.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (domain.Order, error) {
	ctx, span := observability.StartSpan(ctx, "ordering.place_order")
	defer span.End()

	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.RecordPlacementDuration(time.Since(start))
		}
	}()

	if req.UserID == "" {
		return domain.Order{}, domain.ErrUserRequired
	}
	if req.ShippingAddress == "" {
		return domain.Order{}, domain.ErrShippingAddressRequired
	}
	currency := req.Currency
	if currency == "" {
		currency = defaultCurrency
	}

	basket, err := s.baskets.Get(ctx, req.UserID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("read basket: %w", err)
	}
	if basket.Empty() {
		s.recordRejection("empty_cart")
		return domain.Order{}, domain.ErrEmptyCart
	}

	now := time.Now().UTC()
	lines := make([]domain.OrderLine, 0, len(basket.Items))
	var amountMinor int64
	for _, item := range basket.Items {
		info, lookupErr := s.probeProduct(ctx, item.ProductID)
		if lookupErr != nil {
			return domain.Order{}, lookupErr
		}
		if !info.Exists {
			s.recordRejection("product_unavailable")
			return domain.Order{}, domain.ErrProductUnavailable
		}
		if info.Available < item.Qty {
			s.recordRejection("insufficient_stock")
			return domain.Order{}, domain.ErrInsufficientStock
		}

		lines = append(lines, domain.OrderLine{
			ID:         uuid.NewString(),
			ProductID:  item.ProductID,
			Name:       info.Name,
			Qty:        item.Qty,
			PriceMinor: info.PriceMinor,
			ImageURL:   info.ImageURL,
			CreatedAt:  now,
		})
		amountMinor += int64(item.Qty) * info.PriceMinor
	}

	order := domain.Order{
		ID:              uuid.NewString(),
		UserID:          req.UserID,
		Status:          domain.OrderStatusPending,
		Currency:        currency,
		AmountMinor:     amountMinor,
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
		Notes:           req.Notes,
		Items:           lines,
		Version:         0,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return domain.Order{}, errs[0]
	}

	evt, err := orderCreatedMessage(order)
	if err != nil {
		return domain.Order{}, err
	}
	if err := s.orders.Create(order, evt); err != nil {
		return domain.Order{}, fmt.Errorf("create order: %w", err)
	}
	if s.metrics != nil {
		s.metrics.RecordOrderPlaced()
		s.metrics.RecordOutboxEvent()
	}

	// Заказ уже зафиксирован: дальнейшие шаги best-effort и не откатывают его.
	s.armTimeout(ctx, &order)

	if err := s.baskets.Clear(ctx, req.UserID); err != nil {
		s.logger.WithError(err).WithField("user_id", req.UserID).Warn("failed to clear basket after placement")
	}

	s.logger.WithFields(log.Fields{
		"order_id":     order.ID,
		"user_id":      order.UserID,
		"amount_minor": order.AmountMinor,
		"items":        len(order.Items),
	}).Info("order placed")

	return order, nil
}

// probeProduct проверяет товар под probe-lock. Блокировка держится только на
// время самой проверки и снимается до перехода к следующему товару; больше
// одной товарной блокировки оформление не удерживает.
func (s *Service) probeProduct(ctx context.Context, productID string) (domain.ProductInfo, error) {
	lock, err := s.locker.Acquire(ctx, productID, lockLease, lockWait, lockRetry)
	if err != nil {
		if errors.Is(err, domain.ErrLockNotAcquired) {
			s.recordRejection("system_busy")
			return domain.ProductInfo{}, domain.ErrSystemBusy
		}
		return domain.ProductInfo{}, fmt.Errorf("acquire product lock: %w", err)
	}
	defer func() {
		if releaseErr := lock.Release(context.Background()); releaseErr != nil {
			s.logger.WithError(releaseErr).WithField("product_id", productID).Warn("failed to release product lock")
		}
	}()

	info, err := s.lookup.Lookup(ctx, productID)
	if err != nil {
		return domain.ProductInfo{}, fmt.Errorf("lookup product %s: %w", productID, err)
	}
	return info, nil
}

// armTimeout планирует страховочный таймаут заказа и сохраняет токен отмены.
// Отказ планировщика не отменяет уже созданный заказ: он остаётся Pending
// без таймаута, с TimeoutArmed=false для диагностики.
func (s *Service) armTimeout(ctx context.Context, order *domain.Order) {
	if s.scheduler == nil {
		return
	}

	payload, err := json.Marshal(kafka.OrderTimeoutEvent{OrderID: order.ID})
	if err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Error("failed to marshal timeout event")
		return
	}
	env := kafka.NewEnvelope(kafka.EventTypeOrderTimeout, order.ID, payload)
	envData, err := json.Marshal(env)
	if err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Error("failed to marshal timeout envelope")
		return
	}

	token, err := s.scheduler.Schedule(ctx, kafka.TopicOrderTimeout, time.Now().Add(s.timeoutWindow), envData)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordTimeoutArmFailed()
		}
		s.logger.WithError(err).WithField("order_id", order.ID).Error("order left without armed timeout")
		return
	}

	order.TimeoutToken = token
	order.TimeoutArmed = true
	order.UpdatedAt = time.Now().UTC()
	if err := s.orders.Save(*order); err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Warn("failed to persist timeout token")
		return
	}
	order.Version++
	if s.metrics != nil {
		s.metrics.RecordTimeoutArmed()
	}
}

// Pay инициирует обработку оплаты заказа. Допустим только для Pending.
func (s *Service) Pay(ctx context.Context, orderID string) error {
	order, err := s.orders.Get(orderID)
	if err != nil {
		return err
	}
	if order.Status != domain.OrderStatusPending {
		return domain.ErrOrderNotPayable
	}

	payload, err := json.Marshal(kafka.PaymentRequestedEvent{
		OrderID:     order.ID,
		UserID:      order.UserID,
		AmountMinor: order.AmountMinor,
		Currency:    order.Currency,
		Method:      order.PaymentMethod,
	})
	if err != nil {
		return fmt.Errorf("marshal payment request: %w", err)
	}

	if _, err := s.outbox.Enqueue(domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   order.ID,
		EventType:     string(kafka.EventTypePaymentRequested),
		Payload:       payload,
	}); err != nil {
		return fmt.Errorf("enqueue payment request: %w", err)
	}
	if s.metrics != nil {
		s.metrics.RecordOutboxEvent()
	}

	s.logger.WithField("order_id", order.ID).Info("payment requested")
	return nil
}

// GetOrder возвращает заказ по идентификатору.
func (s *Service) GetOrder(_ context.Context, orderID string) (domain.Order, error) {
	return s.orders.Get(orderID)
}

// ListOrders возвращает заказы пользователя, новые первыми.
func (s *Service) ListOrders(_ context.Context, userID string, limit int) ([]domain.Order, error) {
	if userID == "" {
		return nil, domain.ErrUserRequired
	}
	return s.orders.ListByUser(userID, limit)
}

func (s *Service) recordRejection(reason string) {
	if s.metrics != nil {
		s.metrics.RecordPlacementFailed(reason)
	}
}

func orderCreatedMessage(order domain.Order) (domain.OutboxMessage, error) {
	items := make([]kafka.OrderItemEvent, 0, len(order.Items))
	for _, line := range order.Items {
		items = append(items, kafka.OrderItemEvent{ProductID: line.ProductID, Qty: line.Qty})
	}

	payload, err := json.Marshal(kafka.OrderCreatedEvent{
		OrderID:       order.ID,
		UserID:        order.UserID,
		AmountMinor:   order.AmountMinor,
		Currency:      order.Currency,
		PaymentMethod: order.PaymentMethod,
		Items:         items,
		CreatedAt:     order.CreatedAt,
	})
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("marshal order created event: %w", err)
	}

	return domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   order.ID,
		EventType:     string(kafka.EventTypeOrderCreated),
		Payload:       payload,
	}, nil
}
