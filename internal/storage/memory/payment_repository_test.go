package memory_test

import (
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/shoporbit/internal/domain"
	"github.com/vladislavdragonenkov/shoporbit/internal/storage/memory"
)

func TestPaymentRepository_CreateAndGet(t *testing.T) {
	repo := memory.NewPaymentRepository()

	payment := domain.Payment{
		OrderID:     "order-1",
		UserID:      "user-1",
		AmountMinor: 450,
		Currency:    "USD",
		Status:      domain.PaymentStatusSuccess,
		CreatedAt:   time.Now().UTC(),
	}
	if err := repo.Create(payment); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	stored, err := repo.GetByOrder("order-1")
	if err != nil {
		t.Fatalf("GetByOrder failed: %v", err)
	}
	if stored.ID == "" {
		t.Fatal("expected assigned payment id")
	}
	if stored.Status != domain.PaymentStatusSuccess {
		t.Fatalf("unexpected status: got=%s want=%s", stored.Status, domain.PaymentStatusSuccess)
	}
}

func TestPaymentRepository_DuplicateOrderConflicts(t *testing.T) {
	repo := memory.NewPaymentRepository()

	payment := domain.Payment{OrderID: "order-1", UserID: "user-1", Currency: "USD"}
	if err := repo.Create(payment); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	err := repo.Create(domain.Payment{OrderID: "order-1", UserID: "user-1", Currency: "USD"})
	if !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected ErrOrderVersionConflict, got %v", err)
	}
}

func TestPaymentRepository_GetMissing(t *testing.T) {
	repo := memory.NewPaymentRepository()

	if _, err := repo.GetByOrder("missing"); !errors.Is(err, domain.ErrPaymentNotFound) {
		t.Fatalf("expected ErrPaymentNotFound, got %v", err)
	}
}
