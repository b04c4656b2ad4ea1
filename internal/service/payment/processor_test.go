package payment

import (
	"context"
	"testing"

	"github.com/vladislavdragonenkov/shoporbit/internal/domain"
	"github.com/vladislavdragonenkov/shoporbit/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/shoporbit/internal/storage/memory"
)

type publishedEvent struct {
	eventType string
	orderID   string
	payload   any
}

type capturePublisher struct {
	events []publishedEvent
}

func (p *capturePublisher) Publish(_ context.Context, eventType string, orderID string, payload any) error {
	p.events = append(p.events, publishedEvent{eventType: eventType, orderID: orderID, payload: payload})
	return nil
}

func newTestProcessor(t *testing.T, success bool) (*Processor, domain.PaymentRepository, *capturePublisher) {
	t.Helper()

	payments := memory.NewPaymentRepository()
	guard := memory.NewMarkerRepository()
	publisher := &capturePublisher{}

	p := NewProcessorWithoutMetrics(payments, guard, publisher, 0.85, nil)
	p.decide = func() bool { return success }
	return p, payments, publisher
}

func paymentRequest() Request {
	return Request{
		OrderID:     "order-1",
		UserID:      "user-1",
		AmountMinor: 450,
		Currency:    "USD",
		Method:      "card",
	}
}

func TestProcessSuccess(t *testing.T) {
	p, payments, publisher := newTestProcessor(t, true)

	if err := p.Process(context.Background(), paymentRequest()); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	record, err := payments.GetByOrder("order-1")
	if err != nil {
		t.Fatalf("get payment: %v", err)
	}
	if record.Status != domain.PaymentStatusSuccess {
		t.Fatalf("expected success status, got %s", record.Status)
	}
	if record.ProcessedAt.IsZero() {
		t.Fatal("expected processed timestamp")
	}

	if len(publisher.events) != 1 {
		t.Fatalf("expected 1 published event, got %d", len(publisher.events))
	}
	if publisher.events[0].eventType != string(kafka.EventTypePaymentSucceeded) {
		t.Fatalf("expected payment.succeeded, got %s", publisher.events[0].eventType)
	}
	evt, ok := publisher.events[0].payload.(kafka.PaymentSucceededEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", publisher.events[0].payload)
	}
	if evt.PaymentID != record.ID {
		t.Fatal("published payment id must match the stored record")
	}
}

func TestProcessFailure(t *testing.T) {
	p, payments, publisher := newTestProcessor(t, false)

	if err := p.Process(context.Background(), paymentRequest()); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	record, err := payments.GetByOrder("order-1")
	if err != nil {
		t.Fatalf("get payment: %v", err)
	}
	if record.Status != domain.PaymentStatusFailed {
		t.Fatalf("expected failed status, got %s", record.Status)
	}
	if record.FailureReason == "" {
		t.Fatal("expected failure reason")
	}

	if len(publisher.events) != 1 || publisher.events[0].eventType != string(kafka.EventTypePaymentFailed) {
		t.Fatalf("expected single payment.failed event, got %+v", publisher.events)
	}
}

func TestProcessDuplicateDelivery(t *testing.T) {
	p, _, publisher := newTestProcessor(t, true)
	req := paymentRequest()

	if err := p.Process(context.Background(), req); err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}
	if err := p.Process(context.Background(), req); err != nil {
		t.Fatalf("duplicate delivery failed: %v", err)
	}

	if len(publisher.events) != 1 {
		t.Fatalf("duplicate delivery must not publish again, got %d events", len(publisher.events))
	}
}

func TestProcessRetryAfterLostMarker(t *testing.T) {
	payments := memory.NewPaymentRepository()
	guard := memory.NewMarkerRepository()
	publisher := &capturePublisher{}

	p := NewProcessorWithoutMetrics(payments, guard, publisher, 0.85, nil)
	p.decide = func() bool { return true }
	if err := p.Process(context.Background(), paymentRequest()); err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}

	// Маркер потерян (истёк TTL), запись осталась. Повторная доставка
	// публикует исход существующей записи и не бросает монету заново.
	lost := memory.NewMarkerRepository()
	retry := NewProcessorWithoutMetrics(payments, lost, publisher, 0.85, nil)
	retry.decide = func() bool { return false }
	if err := retry.Process(context.Background(), paymentRequest()); err != nil {
		t.Fatalf("retry delivery failed: %v", err)
	}

	record, err := payments.GetByOrder("order-1")
	if err != nil {
		t.Fatalf("get payment: %v", err)
	}
	if record.Status != domain.PaymentStatusSuccess {
		t.Fatalf("retry must not overwrite the original outcome, got %s", record.Status)
	}
	if len(publisher.events) != 2 {
		t.Fatalf("expected republished outcome, got %d events", len(publisher.events))
	}
	for _, evt := range publisher.events {
		if evt.eventType != string(kafka.EventTypePaymentSucceeded) {
			t.Fatalf("republished outcome must match the record, got %s", evt.eventType)
		}
	}
}

func TestProcessValidation(t *testing.T) {
	p, _, _ := newTestProcessor(t, true)

	if err := p.Process(context.Background(), Request{}); err == nil {
		t.Fatal("expected error for empty order id")
	}

	req := paymentRequest()
	req.UserID = ""
	if err := p.Process(context.Background(), req); err == nil {
		t.Fatal("expected validation error for missing user")
	}
}
