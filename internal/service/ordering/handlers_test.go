package ordering_test

import (
	"context"
	"testing"

	"github.com/vladislavdragonenkov/shoporbit/internal/domain"
	"github.com/vladislavdragonenkov/shoporbit/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/shoporbit/internal/scheduler"
)

func TestOnPaymentSucceeded(t *testing.T) {
	f := newFixture(t, scheduler.NewMemoryScheduler())
	order := placeOrder(t, f)

	err := f.svc.OnPaymentSucceeded(context.Background(), kafka.PaymentSucceededEvent{
		OrderID:   order.ID,
		PaymentID: "payment-1",
	})
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}

	stored, err := f.orders.Get(order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if stored.Status != domain.OrderStatusPaid {
		t.Fatalf("expected paid order, got %s", stored.Status)
	}
	if stored.PaymentID != "payment-1" {
		t.Fatalf("expected payment id persisted, got %q", stored.PaymentID)
	}
	if stored.TimeoutToken != "" {
		t.Fatalf("terminal order must not keep a timeout token, got %q", stored.TimeoutToken)
	}
	if f.scheduler.Pending() != 0 {
		t.Fatal("timeout must be cancelled after successful payment")
	}
	if len(pendingByType(f.outbox, kafka.EventTypeOrderCancelled)) != 0 {
		t.Fatal("successful payment must not enqueue a cancellation")
	}
}

func TestOnPaymentSucceededDuplicate(t *testing.T) {
	f := newFixture(t, scheduler.NewMemoryScheduler())
	order := placeOrder(t, f)

	evt := kafka.PaymentSucceededEvent{OrderID: order.ID, PaymentID: "payment-1"}
	if err := f.svc.OnPaymentSucceeded(context.Background(), evt); err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}

	before, _ := f.orders.Get(order.ID)
	if err := f.svc.OnPaymentSucceeded(context.Background(), evt); err != nil {
		t.Fatalf("duplicate delivery failed: %v", err)
	}
	after, _ := f.orders.Get(order.ID)

	if after.Version != before.Version {
		t.Fatal("duplicate delivery must not touch the order")
	}
}

func TestOnPaymentFailed(t *testing.T) {
	f := newFixture(t, scheduler.NewMemoryScheduler())
	order := placeOrder(t, f)

	err := f.svc.OnPaymentFailed(context.Background(), kafka.PaymentFailedEvent{
		OrderID: order.ID,
		Reason:  "declined",
	})
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}

	stored, _ := f.orders.Get(order.ID)
	if stored.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled order, got %s", stored.Status)
	}
	if stored.PaymentID != "" {
		t.Fatalf("failed payment must not leave a payment reference, got %q", stored.PaymentID)
	}
	if stored.TimeoutToken != "" {
		t.Fatalf("terminal order must not keep a timeout token, got %q", stored.TimeoutToken)
	}

	cancelled := pendingByType(f.outbox, kafka.EventTypeOrderCancelled)
	if len(cancelled) != 1 {
		t.Fatalf("expected 1 order.cancelled compensation event, got %d", len(cancelled))
	}
	if f.scheduler.Pending() != 0 {
		t.Fatal("timeout must be cancelled after terminal transition")
	}
}

func TestOnStockReservationFailed(t *testing.T) {
	f := newFixture(t, scheduler.NewMemoryScheduler())
	order := placeOrder(t, f)

	err := f.svc.OnStockReservationFailed(context.Background(), kafka.StockReservationFailedEvent{
		OrderID:       order.ID,
		Reason:        "insufficient stock",
		FailedItemIDs: []string{"product-2"},
	})
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}

	stored, _ := f.orders.Get(order.ID)
	if stored.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled order, got %s", stored.Status)
	}

	// Резерв не состоялся, компенсация стока не нужна.
	if len(pendingByType(f.outbox, kafka.EventTypeOrderCancelled)) != 0 {
		t.Fatal("stock failure must not enqueue a stock compensation event")
	}
}

func TestOnOrderTimeout(t *testing.T) {
	f := newFixture(t, scheduler.NewMemoryScheduler())
	order := placeOrder(t, f)

	if err := f.svc.OnOrderTimeout(context.Background(), kafka.OrderTimeoutEvent{OrderID: order.ID}); err != nil {
		t.Fatalf("handler failed: %v", err)
	}

	stored, _ := f.orders.Get(order.ID)
	if stored.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled order, got %s", stored.Status)
	}
	if stored.TimeoutToken != "" {
		t.Fatalf("cancelled order must not keep a timeout token, got %q", stored.TimeoutToken)
	}
	if len(pendingByType(f.outbox, kafka.EventTypeOrderCancelled)) != 1 {
		t.Fatal("timeout cancellation must enqueue a stock compensation event")
	}
}

func TestOnOrderTimeoutAfterPaid(t *testing.T) {
	f := newFixture(t, scheduler.NewMemoryScheduler())
	order := placeOrder(t, f)

	if err := f.svc.OnPaymentSucceeded(context.Background(), kafka.PaymentSucceededEvent{
		OrderID:   order.ID,
		PaymentID: "payment-1",
	}); err != nil {
		t.Fatalf("payment handler failed: %v", err)
	}

	// Гонка таймаута и оплаты: опоздавший таймаут обязан быть no-op.
	if err := f.svc.OnOrderTimeout(context.Background(), kafka.OrderTimeoutEvent{OrderID: order.ID}); err != nil {
		t.Fatalf("timeout handler failed: %v", err)
	}

	stored, _ := f.orders.Get(order.ID)
	if stored.Status != domain.OrderStatusPaid {
		t.Fatalf("paid order must stay paid, got %s", stored.Status)
	}
	if len(pendingByType(f.outbox, kafka.EventTypeOrderCancelled)) != 0 {
		t.Fatal("late timeout must not enqueue a cancellation")
	}
}

func TestResolutionForUnknownOrderIsSuppressed(t *testing.T) {
	f := newFixture(t, scheduler.NewMemoryScheduler())

	if err := f.svc.OnOrderTimeout(context.Background(), kafka.OrderTimeoutEvent{OrderID: "missing"}); err != nil {
		t.Fatalf("expected suppressed event, got %v", err)
	}
}
