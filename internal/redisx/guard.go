package redisx

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/shoporbit/internal/domain"
)

// ProcessedMarkers — Redis-реализация idempotency guard: маркеры «обработано»
// с нативным TTL. Ключ передаётся полностью (см. KeyProcessedOrder).
type ProcessedMarkers struct {
	rdb *redis.Client
}

// NewProcessedMarkers создаёт Redis-реализацию ProcessedMarkerRepository.
func NewProcessedMarkers(rdb *redis.Client) *ProcessedMarkers {
	return &ProcessedMarkers{rdb: rdb}
}

func (m *ProcessedMarkers) Seen(ctx context.Context, key string) (bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return false, domain.ErrMarkerKeyRequired
	}

	n, err := m.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("check processed marker: %w", err)
	}
	return n > 0, nil
}

func (m *ProcessedMarkers) Mark(ctx context.Context, key string, ttl time.Duration) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrMarkerKeyRequired
	}
	if ttl <= 0 {
		ttl = TTLProcessed
	}

	if err := m.rdb.Set(ctx, key, "processed", ttl).Err(); err != nil {
		return fmt.Errorf("set processed marker: %w", err)
	}
	return nil
}

// DeleteExpired — no-op: Redis удаляет маркеры по TTL сам.
func (m *ProcessedMarkers) DeleteExpired(time.Time, int) (int, error) {
	return 0, nil
}

var _ domain.ProcessedMarkerRepository = (*ProcessedMarkers)(nil)
