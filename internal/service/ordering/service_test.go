package ordering_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/shoporbit/internal/domain"
	"github.com/vladislavdragonenkov/shoporbit/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/shoporbit/internal/scheduler"
	"github.com/vladislavdragonenkov/shoporbit/internal/service/ordering"
	"github.com/vladislavdragonenkov/shoporbit/internal/storage/memory"
)

type fakeLock struct {
	locker *fakeLocker
}

func (l *fakeLock) Release(context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()
	l.locker.released++
	l.locker.held--
	return nil
}

type fakeLocker struct {
	mu       sync.Mutex
	busy     bool
	acquired int
	released int
	held     int
	maxHeld  int
}

func (f *fakeLocker) Acquire(_ context.Context, _ string, _, _, _ time.Duration) (domain.Lock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy {
		return nil, domain.ErrLockNotAcquired
	}
	f.acquired++
	f.held++
	if f.held > f.maxHeld {
		f.maxHeld = f.held
	}
	return &fakeLock{locker: f}, nil
}

type fakeBaskets struct {
	baskets map[string]domain.Basket
	cleared []string
}

func (f *fakeBaskets) Get(_ context.Context, userID string) (domain.Basket, error) {
	return f.baskets[userID], nil
}

func (f *fakeBaskets) Clear(_ context.Context, userID string) error {
	f.cleared = append(f.cleared, userID)
	delete(f.baskets, userID)
	return nil
}

type fakeLookup struct {
	products map[string]domain.ProductInfo
}

func (f *fakeLookup) Lookup(_ context.Context, productID string) (domain.ProductInfo, error) {
	info, ok := f.products[productID]
	if !ok {
		return domain.ProductInfo{ProductID: productID, Exists: false}, nil
	}
	return info, nil
}

type failingScheduler struct{}

func (failingScheduler) Schedule(context.Context, string, time.Time, []byte) (string, error) {
	return "", errors.New("scheduler unavailable")
}

func (failingScheduler) Cancel(context.Context, string, string) error {
	return nil
}

type fixture struct {
	svc       *ordering.Service
	orders    domain.OrderRepository
	outbox    outboxWithPending
	baskets   *fakeBaskets
	locker    *fakeLocker
	scheduler *scheduler.MemoryScheduler
}

type outboxWithPending interface {
	domain.OutboxRepository
	AllPending() []domain.OutboxMessage
}

func newFixture(t *testing.T, sched domain.TimeoutScheduler) *fixture {
	t.Helper()

	outbox := memory.NewOutboxRepository()
	orders := memory.NewOrderRepository(outbox)
	baskets := &fakeBaskets{baskets: map[string]domain.Basket{
		"user-1": {UserID: "user-1", Items: []domain.BasketItem{
			{ProductID: "product-1", Qty: 2},
			{ProductID: "product-2", Qty: 1},
		}},
	}}
	lookup := &fakeLookup{products: map[string]domain.ProductInfo{
		"product-1": {ProductID: "product-1", Exists: true, Name: "Widget", PriceMinor: 100, Available: 10},
		"product-2": {ProductID: "product-2", Exists: true, Name: "Gadget", PriceMinor: 250, Available: 5},
	}}
	locker := &fakeLocker{}

	memSched, _ := sched.(*scheduler.MemoryScheduler)
	svc := ordering.NewServiceWithoutMetrics(orders, outbox, baskets, lookup, locker, sched, time.Minute, nil)

	return &fixture{
		svc:       svc,
		orders:    orders,
		outbox:    outbox,
		baskets:   baskets,
		locker:    locker,
		scheduler: memSched,
	}
}

func placeOrder(t *testing.T, f *fixture) domain.Order {
	t.Helper()

	order, err := f.svc.PlaceOrder(context.Background(), ordering.PlaceOrderRequest{
		UserID:          "user-1",
		ShippingAddress: "1 Main St",
		PaymentMethod:   "card",
	})
	if err != nil {
		t.Fatalf("place order failed: %v", err)
	}
	return order
}

func pendingByType(outbox outboxWithPending, eventType kafka.EventType) []domain.OutboxMessage {
	var result []domain.OutboxMessage
	for _, msg := range outbox.AllPending() {
		if msg.EventType == string(eventType) {
			result = append(result, msg)
		}
	}
	return result
}

func TestPlaceOrder(t *testing.T) {
	f := newFixture(t, scheduler.NewMemoryScheduler())
	order := placeOrder(t, f)

	if order.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending order, got %s", order.Status)
	}
	if order.AmountMinor != 2*100+250 {
		t.Fatalf("unexpected order amount %d", order.AmountMinor)
	}
	if len(order.Items) != 2 {
		t.Fatalf("expected 2 order lines, got %d", len(order.Items))
	}

	created := pendingByType(f.outbox, kafka.EventTypeOrderCreated)
	if len(created) != 1 {
		t.Fatalf("expected 1 order.created outbox event, got %d", len(created))
	}
	var evt kafka.OrderCreatedEvent
	if err := json.Unmarshal(created[0].Payload, &evt); err != nil {
		t.Fatalf("decode created event: %v", err)
	}
	if evt.OrderID != order.ID || len(evt.Items) != 2 {
		t.Fatalf("unexpected created event: %+v", evt)
	}

	if len(f.baskets.cleared) != 1 || f.baskets.cleared[0] != "user-1" {
		t.Fatal("basket must be cleared after placement")
	}
	if f.locker.acquired != 2 || f.locker.released != 2 {
		t.Fatalf("expected 2 locks acquired and released, got %d/%d", f.locker.acquired, f.locker.released)
	}

	if f.scheduler.Pending() != 1 {
		t.Fatal("expected armed timeout for pending order")
	}
	stored, err := f.orders.Get(order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if !stored.TimeoutArmed || stored.TimeoutToken == "" {
		t.Fatalf("expected persisted timeout token, got %+v", stored)
	}
}

func TestPlaceOrderHoldsOneProductLockAtATime(t *testing.T) {
	f := newFixture(t, scheduler.NewMemoryScheduler())
	placeOrder(t, f)

	if f.locker.acquired != 2 || f.locker.released != 2 {
		t.Fatalf("expected 2 locks acquired and released, got %d/%d", f.locker.acquired, f.locker.released)
	}
	// Каждая блокировка снимается до взятия следующей.
	if f.locker.maxHeld != 1 {
		t.Fatalf("expected at most one product lock held at a time, got %d", f.locker.maxHeld)
	}
}

func TestPlaceOrderEmptyCart(t *testing.T) {
	f := newFixture(t, scheduler.NewMemoryScheduler())
	f.baskets.baskets["user-1"] = domain.Basket{UserID: "user-1"}

	_, err := f.svc.PlaceOrder(context.Background(), ordering.PlaceOrderRequest{
		UserID:          "user-1",
		ShippingAddress: "1 Main St",
	})
	if !errors.Is(err, domain.ErrEmptyCart) {
		t.Fatalf("expected ErrEmptyCart, got %v", err)
	}
}

func TestPlaceOrderSystemBusy(t *testing.T) {
	f := newFixture(t, scheduler.NewMemoryScheduler())
	f.locker.busy = true

	_, err := f.svc.PlaceOrder(context.Background(), ordering.PlaceOrderRequest{
		UserID:          "user-1",
		ShippingAddress: "1 Main St",
	})
	if !errors.Is(err, domain.ErrSystemBusy) {
		t.Fatalf("expected ErrSystemBusy, got %v", err)
	}
	if len(pendingByType(f.outbox, kafka.EventTypeOrderCreated)) != 0 {
		t.Fatal("busy placement must not create an order")
	}
}

func TestPlaceOrderProductRejections(t *testing.T) {
	f := newFixture(t, scheduler.NewMemoryScheduler())
	f.baskets.baskets["user-1"] = domain.Basket{UserID: "user-1", Items: []domain.BasketItem{
		{ProductID: "product-missing", Qty: 1},
	}}
	_, err := f.svc.PlaceOrder(context.Background(), ordering.PlaceOrderRequest{
		UserID:          "user-1",
		ShippingAddress: "1 Main St",
	})
	if !errors.Is(err, domain.ErrProductUnavailable) {
		t.Fatalf("expected ErrProductUnavailable, got %v", err)
	}

	f.baskets.baskets["user-1"] = domain.Basket{UserID: "user-1", Items: []domain.BasketItem{
		{ProductID: "product-2", Qty: 50},
	}}
	_, err = f.svc.PlaceOrder(context.Background(), ordering.PlaceOrderRequest{
		UserID:          "user-1",
		ShippingAddress: "1 Main St",
	})
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
}

func TestPlaceOrderSchedulerFailureDoesNotRejectOrder(t *testing.T) {
	f := newFixture(t, failingScheduler{})
	order := placeOrder(t, f)

	stored, err := f.orders.Get(order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if stored.Status != domain.OrderStatusPending {
		t.Fatalf("order must stay pending, got %s", stored.Status)
	}
	if stored.TimeoutArmed {
		t.Fatal("timeout must not be reported as armed when scheduler failed")
	}
	if len(pendingByType(f.outbox, kafka.EventTypeOrderCreated)) != 1 {
		t.Fatal("order.created event must still be enqueued")
	}
}

func TestPay(t *testing.T) {
	f := newFixture(t, scheduler.NewMemoryScheduler())
	order := placeOrder(t, f)

	if err := f.svc.Pay(context.Background(), order.ID); err != nil {
		t.Fatalf("pay failed: %v", err)
	}

	requested := pendingByType(f.outbox, kafka.EventTypePaymentRequested)
	if len(requested) != 1 {
		t.Fatalf("expected 1 payment.requested event, got %d", len(requested))
	}
	var evt kafka.PaymentRequestedEvent
	if err := json.Unmarshal(requested[0].Payload, &evt); err != nil {
		t.Fatalf("decode payment request: %v", err)
	}
	if evt.OrderID != order.ID || evt.AmountMinor != order.AmountMinor {
		t.Fatalf("unexpected payment request: %+v", evt)
	}
}

func TestPayNonPendingOrder(t *testing.T) {
	f := newFixture(t, scheduler.NewMemoryScheduler())
	order := placeOrder(t, f)

	if err := f.svc.OnPaymentSucceeded(context.Background(), kafka.PaymentSucceededEvent{
		OrderID:   order.ID,
		PaymentID: "payment-1",
	}); err != nil {
		t.Fatalf("payment succeeded handler failed: %v", err)
	}

	if err := f.svc.Pay(context.Background(), order.ID); !errors.Is(err, domain.ErrOrderNotPayable) {
		t.Fatalf("expected ErrOrderNotPayable, got %v", err)
	}
	if err := f.svc.Pay(context.Background(), "missing"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}
