package memory

import (
	"sync"
	"time"

	"github.com/vladislavdragonenkov/shoporbit/internal/domain"
)

// stockRepositoryInMemory — in-memory реализация StockRepository с
// компенсационным ledger резервов.
type stockRepositoryInMemory struct {
	mu           sync.RWMutex
	records      map[string]domain.StockRecord
	reservations map[string][]domain.Reservation
}

// NewStockRepository создаёт in-memory хранилище стока.
func NewStockRepository() *stockRepositoryInMemory {
	return &stockRepositoryInMemory{
		records:      make(map[string]domain.StockRecord),
		reservations: make(map[string][]domain.Reservation),
	}
}

// Seed записывает стартовое состояние стока (локальная разработка и тесты).
func (r *stockRepositoryInMemory) Seed(records ...domain.StockRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range records {
		if rec.UpdatedAt.IsZero() {
			rec.UpdatedAt = time.Now().UTC()
		}
		r.records[rec.ProductID] = rec
	}
}

// Get возвращает запись по товару или ErrProductUnavailable.
func (r *stockRepositoryInMemory) Get(productID string) (domain.StockRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[productID]
	if !ok {
		return domain.StockRecord{}, domain.ErrProductUnavailable
	}
	return rec, nil
}

// ReserveAll атомарно списывает сток по всем позициям либо не списывает ничего.
func (r *stockRepositoryInMemory) ReserveAll(orderID string, lines []domain.ReservationLine) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Повторная доставка события создания заказа: резерв уже зафиксирован.
	if _, done := r.reservations[orderID]; done {
		return nil, nil
	}

	var failed []string
	for _, line := range lines {
		rec, ok := r.records[line.ProductID]
		if !ok || rec.Available < line.Qty {
			failed = append(failed, line.ProductID)
		}
	}
	if len(failed) > 0 {
		return failed, nil
	}

	now := time.Now().UTC()
	ledger := make([]domain.Reservation, 0, len(lines))
	for _, line := range lines {
		rec := r.records[line.ProductID]
		rec.Available -= line.Qty
		rec.UpdatedAt = now
		r.records[line.ProductID] = rec
		ledger = append(ledger, domain.Reservation{
			OrderID:   orderID,
			ProductID: line.ProductID,
			Qty:       line.Qty,
			CreatedAt: now,
		})
	}
	r.reservations[orderID] = ledger
	return nil, nil
}

// Restore возвращает сток строго по строкам ledger заказа и удаляет их.
func (r *stockRepositoryInMemory) Restore(orderID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ledger, ok := r.reservations[orderID]
	if !ok {
		return 0, nil
	}

	now := time.Now().UTC()
	for _, res := range ledger {
		rec, exists := r.records[res.ProductID]
		if !exists {
			continue
		}
		rec.Available += res.Qty
		rec.UpdatedAt = now
		r.records[res.ProductID] = rec
	}
	delete(r.reservations, orderID)
	return len(ledger), nil
}

// ReservedFor возвращает копию ledger заказа (используется в тестах).
func (r *stockRepositoryInMemory) ReservedFor(orderID string) []domain.Reservation {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ledger := r.reservations[orderID]
	out := make([]domain.Reservation, len(ledger))
	copy(out, ledger)
	return out
}

var _ domain.StockRepository = (*stockRepositoryInMemory)(nil)
