package ordering_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/shoporbit/internal/domain"
	"github.com/vladislavdragonenkov/shoporbit/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/shoporbit/internal/scheduler"
	"github.com/vladislavdragonenkov/shoporbit/internal/service/catalog"
	"github.com/vladislavdragonenkov/shoporbit/internal/service/ordering"
	"github.com/vladislavdragonenkov/shoporbit/internal/service/payment"
	"github.com/vladislavdragonenkov/shoporbit/internal/storage/memory"
)

// sagaFixture связывает три участника саги на in-memory инфраструктуре;
// события переносятся между ними вручную, как это делал бы брокер.
type sagaFixture struct {
	ordering  *ordering.Service
	catalog   *catalog.Service
	payments  *payment.Processor
	orders    domain.OrderRepository
	outbox    outboxWithPending
	stock     interface {
		domain.StockRepository
		Seed(records ...domain.StockRecord)
	}
	published *publishedEvents
	timeouts  *scheduler.MemoryScheduler
}

type publishedEvents struct {
	events []publishedEvent
}

type publishedEvent struct {
	eventType string
	orderID   string
	payload   any
}

func (p *publishedEvents) Publish(_ context.Context, eventType string, orderID string, payload any) error {
	p.events = append(p.events, publishedEvent{eventType: eventType, orderID: orderID, payload: payload})
	return nil
}

func (p *publishedEvents) byType(eventType kafka.EventType) []publishedEvent {
	var result []publishedEvent
	for _, evt := range p.events {
		if evt.eventType == string(eventType) {
			result = append(result, evt)
		}
	}
	return result
}

func newSagaFixture(t *testing.T, available int32, basketQty int32) *sagaFixture {
	t.Helper()

	stock := memory.NewStockRepository()
	stock.Seed(domain.StockRecord{ProductID: "product-1", Name: "Widget", PriceMinor: 100, Available: available})

	published := &publishedEvents{}
	catalogSvc := catalog.NewServiceWithoutMetrics(stock, published, nil)

	outbox := memory.NewOutboxRepository()
	orders := memory.NewOrderRepository(outbox)
	baskets := &fakeBaskets{baskets: map[string]domain.Basket{
		"user-1": {UserID: "user-1", Items: []domain.BasketItem{{ProductID: "product-1", Qty: basketQty}}},
	}}
	timeouts := scheduler.NewMemoryScheduler()

	// Каталог служит синхронным product lookup, как в рабочей топологии.
	orderingSvc := ordering.NewServiceWithoutMetrics(
		orders, outbox, baskets, catalogSvc, &fakeLocker{}, timeouts, time.Minute, nil,
	)

	processor := payment.NewProcessorWithoutMetrics(
		memory.NewPaymentRepository(),
		memory.NewMarkerRepository(),
		published,
		1.0,
		nil,
	)

	return &sagaFixture{
		ordering:  orderingSvc,
		catalog:   catalogSvc,
		payments:  processor,
		orders:    orders,
		outbox:    outbox,
		stock:     stock,
		published: published,
		timeouts:  timeouts,
	}
}

// deliverOrderCreated переносит order.created из outbox в каталог.
func (f *sagaFixture) deliverOrderCreated(t *testing.T) kafka.OrderCreatedEvent {
	t.Helper()

	created := pendingByType(f.outbox, kafka.EventTypeOrderCreated)
	if len(created) != 1 {
		t.Fatalf("expected 1 order.created event, got %d", len(created))
	}
	var evt kafka.OrderCreatedEvent
	if err := json.Unmarshal(created[0].Payload, &evt); err != nil {
		t.Fatalf("decode order.created: %v", err)
	}
	if err := f.catalog.HandleOrderCreated(context.Background(), evt); err != nil {
		t.Fatalf("handle order created: %v", err)
	}
	return evt
}

func TestSagaHappyPath(t *testing.T) {
	f := newSagaFixture(t, 5, 2)

	order, err := f.ordering.PlaceOrder(context.Background(), ordering.PlaceOrderRequest{
		UserID:          "user-1",
		ShippingAddress: "1 Main St",
		PaymentMethod:   "card",
	})
	if err != nil {
		t.Fatalf("place order failed: %v", err)
	}

	f.deliverOrderCreated(t)

	rec, err := f.stock.Get("product-1")
	if err != nil {
		t.Fatalf("get stock: %v", err)
	}
	if rec.Available != 3 {
		t.Fatalf("expected stock 5->3 after reservation, got %d", rec.Available)
	}
	if len(f.published.byType(kafka.EventTypeStockReservationFailed)) != 0 {
		t.Fatal("reservation must not fail on sufficient stock")
	}

	if err := f.ordering.Pay(context.Background(), order.ID); err != nil {
		t.Fatalf("pay failed: %v", err)
	}
	requested := pendingByType(f.outbox, kafka.EventTypePaymentRequested)
	if len(requested) != 1 {
		t.Fatalf("expected 1 payment.requested event, got %d", len(requested))
	}
	var payReq kafka.PaymentRequestedEvent
	if err := json.Unmarshal(requested[0].Payload, &payReq); err != nil {
		t.Fatalf("decode payment.requested: %v", err)
	}

	if err := f.payments.Process(context.Background(), payment.Request{
		OrderID:     payReq.OrderID,
		UserID:      payReq.UserID,
		AmountMinor: payReq.AmountMinor,
		Currency:    payReq.Currency,
		Method:      payReq.Method,
	}); err != nil {
		t.Fatalf("process payment: %v", err)
	}

	succeeded := f.published.byType(kafka.EventTypePaymentSucceeded)
	if len(succeeded) != 1 {
		t.Fatalf("expected 1 payment.succeeded event, got %d", len(succeeded))
	}
	outcome, ok := succeeded[0].payload.(kafka.PaymentSucceededEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", succeeded[0].payload)
	}

	if err := f.ordering.OnPaymentSucceeded(context.Background(), outcome); err != nil {
		t.Fatalf("payment succeeded handler: %v", err)
	}

	final, err := f.orders.Get(order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if final.Status != domain.OrderStatusPaid {
		t.Fatalf("expected paid order, got %s", final.Status)
	}
	if final.PaymentID != outcome.PaymentID {
		t.Fatalf("expected payment id %s, got %s", outcome.PaymentID, final.PaymentID)
	}
	if f.timeouts.Pending() != 0 {
		t.Fatal("timeout must be cancelled after payment")
	}
}

func TestSagaInsufficientStockRejectsSynchronously(t *testing.T) {
	f := newSagaFixture(t, 1, 2)

	_, err := f.ordering.PlaceOrder(context.Background(), ordering.PlaceOrderRequest{
		UserID:          "user-1",
		ShippingAddress: "1 Main St",
	})
	if err == nil {
		t.Fatal("expected synchronous rejection")
	}

	if orders, listErr := f.orders.ListByUser("user-1", 10); listErr != nil || len(orders) != 0 {
		t.Fatalf("rejected placement must not create orders, got %d (%v)", len(orders), listErr)
	}
	if len(f.outbox.AllPending()) != 0 {
		t.Fatal("rejected placement must not enqueue events")
	}

	rec, err := f.stock.Get("product-1")
	if err != nil {
		t.Fatalf("get stock: %v", err)
	}
	if rec.Available != 1 {
		t.Fatalf("stock must be untouched, got %d", rec.Available)
	}
}

// timeoutSink доставляет сработавшие таймауты обработчику заказа, как это
// делает Kafka-путь планировщика в рабочей топологии.
type timeoutSink struct {
	svc *ordering.Service
}

func (s timeoutSink) PublishRaw(_ string, _ string, value []byte) error {
	env, err := kafka.ParseEnvelope(value)
	if err != nil {
		return err
	}
	var evt kafka.OrderTimeoutEvent
	if err := json.Unmarshal(env.Payload, &evt); err != nil {
		return err
	}
	return s.svc.OnOrderTimeout(context.Background(), evt)
}

func TestSagaTimeoutPathRestoresStock(t *testing.T) {
	f := newSagaFixture(t, 5, 2)

	order, err := f.ordering.PlaceOrder(context.Background(), ordering.PlaceOrderRequest{
		UserID:          "user-1",
		ShippingAddress: "1 Main St",
	})
	if err != nil {
		t.Fatalf("place order failed: %v", err)
	}
	f.deliverOrderCreated(t)

	fired, err := f.timeouts.FireDue(time.Now().Add(2*time.Minute), timeoutSink{svc: f.ordering})
	if err != nil {
		t.Fatalf("fire due timeouts: %v", err)
	}
	if fired != 1 {
		t.Fatalf("expected 1 fired timeout, got %d", fired)
	}

	cancelledOrder, err := f.orders.Get(order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if cancelledOrder.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled order, got %s", cancelledOrder.Status)
	}

	cancelled := pendingByType(f.outbox, kafka.EventTypeOrderCancelled)
	if len(cancelled) != 1 {
		t.Fatalf("expected 1 order.cancelled compensation, got %d", len(cancelled))
	}
	var evt kafka.OrderCancelledEvent
	if err := json.Unmarshal(cancelled[0].Payload, &evt); err != nil {
		t.Fatalf("decode order.cancelled: %v", err)
	}
	if err := f.catalog.HandleOrderCancelled(context.Background(), evt); err != nil {
		t.Fatalf("handle order cancelled: %v", err)
	}

	rec, err := f.stock.Get("product-1")
	if err != nil {
		t.Fatalf("get stock: %v", err)
	}
	if rec.Available != 5 {
		t.Fatalf("expected stock restored to 5, got %d", rec.Available)
	}
}
