package memory

import (
	"sync"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/shoporbit/internal/domain"
)

// paymentRepositoryInMemory — append-only in-memory хранилище платежей.
type paymentRepositoryInMemory struct {
	mu      sync.RWMutex
	byOrder map[string]domain.Payment
}

// NewPaymentRepository создаёт in-memory хранилище платежей.
func NewPaymentRepository() domain.PaymentRepository {
	return &paymentRepositoryInMemory{byOrder: make(map[string]domain.Payment)}
}

// Create сохраняет платёж; повторная запись по тому же заказу — конфликт версий.
func (r *paymentRepositoryInMemory) Create(payment domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	if _, exists := r.byOrder[payment.OrderID]; exists {
		return domain.ErrOrderVersionConflict
	}
	r.byOrder[payment.OrderID] = payment
	return nil
}

// GetByOrder возвращает платёж по заказу или ErrPaymentNotFound.
func (r *paymentRepositoryInMemory) GetByOrder(orderID string) (domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	payment, ok := r.byOrder[orderID]
	if !ok {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	return payment, nil
}

var _ domain.PaymentRepository = (*paymentRepositoryInMemory)(nil)
