package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/shoporbit/internal/domain"
)

type memoryEntry struct {
	destination string
	fireAt      time.Time
	payload     []byte
}

// MemoryScheduler — in-memory реализация domain.TimeoutScheduler для
// локальной разработки и тестов. Срабатывание инициируется вызовом
// FireDue, фонового поллера нет.
type MemoryScheduler struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

func NewMemoryScheduler() *MemoryScheduler {
	return &MemoryScheduler{entries: make(map[string]memoryEntry)}
}

func (s *MemoryScheduler) Schedule(_ context.Context, destination string, fireAt time.Time, payload []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token := uuid.NewString()
	buf := make([]byte, len(payload))
	copy(buf, payload)
	s.entries[token] = memoryEntry{destination: destination, fireAt: fireAt, payload: buf}
	return token, nil
}

func (s *MemoryScheduler) Cancel(_ context.Context, destination, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[token]
	if !ok || entry.destination != destination {
		return domain.ErrScheduleTokenNotFound
	}
	delete(s.entries, token)
	return nil
}

// FireDue доставляет в sink все записи с fireAt <= now и удаляет их.
// Возвращает количество сработавших таймаутов.
func (s *MemoryScheduler) FireDue(now time.Time, sink Sink) (int, error) {
	s.mu.Lock()
	due := make(map[string]memoryEntry)
	for token, entry := range s.entries {
		if !entry.fireAt.After(now) {
			due[token] = entry
			delete(s.entries, token)
		}
	}
	s.mu.Unlock()

	fired := 0
	for token, entry := range due {
		if err := sink.PublishRaw(entry.destination, partitionKey(entry.payload, token), entry.payload); err != nil {
			return fired, err
		}
		fired++
	}
	return fired, nil
}

// Pending возвращает число запланированных записей.
func (s *MemoryScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

var _ domain.TimeoutScheduler = (*MemoryScheduler)(nil)
