package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/shoporbit/internal/domain"
)

// markerRepositoryInMemory — in-memory idempotency guard с ручной очисткой
// просроченных маркеров (нативного TTL у map нет).
type markerRepositoryInMemory struct {
	mu      sync.RWMutex
	expires map[string]time.Time
}

// NewMarkerRepository создаёт in-memory хранилище processed-маркеров.
func NewMarkerRepository() *markerRepositoryInMemory {
	return &markerRepositoryInMemory{expires: make(map[string]time.Time)}
}

// Seen сообщает, есть ли актуальный маркер по ключу.
func (r *markerRepositoryInMemory) Seen(_ context.Context, key string) (bool, error) {
	if key == "" {
		return false, domain.ErrMarkerKeyRequired
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	expiry, ok := r.expires[key]
	if !ok {
		return false, nil
	}
	return time.Now().Before(expiry), nil
}

// Mark ставит маркер с заданным TTL.
func (r *markerRepositoryInMemory) Mark(_ context.Context, key string, ttl time.Duration) error {
	if key == "" {
		return domain.ErrMarkerKeyRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.expires[key] = time.Now().Add(ttl)
	return nil
}

// DeleteExpired удаляет маркеры, просроченные на момент before, не больше limit за вызов.
func (r *markerRepositoryInMemory) DeleteExpired(before time.Time, limit int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit <= 0 {
		limit = 100
	}

	deleted := 0
	for key, expiry := range r.expires {
		if !expiry.Before(before) {
			continue
		}
		delete(r.expires, key)
		deleted++
		if deleted >= limit {
			break
		}
	}
	return deleted, nil
}

var _ domain.ProcessedMarkerRepository = (*markerRepositoryInMemory)(nil)
