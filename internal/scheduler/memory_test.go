package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/shoporbit/internal/domain"
)

type captureSink struct {
	topics   []string
	keys     []string
	payloads [][]byte
}

func (s *captureSink) PublishRaw(topic, key string, value []byte) error {
	s.topics = append(s.topics, topic)
	s.keys = append(s.keys, key)
	s.payloads = append(s.payloads, value)
	return nil
}

func TestMemorySchedulerFireDue(t *testing.T) {
	s := NewMemoryScheduler()
	now := time.Now()

	payload, _ := json.Marshal(map[string]string{"aggregate_id": "order-1"})
	if _, err := s.Schedule(context.Background(), "timeouts", now.Add(-time.Second), payload); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if _, err := s.Schedule(context.Background(), "timeouts", now.Add(time.Hour), []byte(`{}`)); err != nil {
		t.Fatalf("schedule future: %v", err)
	}

	sink := &captureSink{}
	fired, err := s.FireDue(now, sink)
	if err != nil {
		t.Fatalf("fire due: %v", err)
	}
	if fired != 1 {
		t.Fatalf("expected 1 fired entry, got %d", fired)
	}
	if sink.topics[0] != "timeouts" {
		t.Errorf("unexpected destination: %s", sink.topics[0])
	}
	if sink.keys[0] != "order-1" {
		t.Errorf("expected partition key from aggregate_id, got %s", sink.keys[0])
	}
	if s.Pending() != 1 {
		t.Errorf("expected 1 pending entry, got %d", s.Pending())
	}
}

func TestMemorySchedulerCancel(t *testing.T) {
	s := NewMemoryScheduler()

	token, err := s.Schedule(context.Background(), "timeouts", time.Now().Add(-time.Minute), []byte(`{}`))
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := s.Cancel(context.Background(), "timeouts", token); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	sink := &captureSink{}
	fired, err := s.FireDue(time.Now(), sink)
	if err != nil {
		t.Fatalf("fire due: %v", err)
	}
	if fired != 0 {
		t.Fatalf("cancelled entry must not fire, fired %d", fired)
	}

	if err := s.Cancel(context.Background(), "timeouts", token); !errors.Is(err, domain.ErrScheduleTokenNotFound) {
		t.Errorf("expected ErrScheduleTokenNotFound for repeated cancel, got %v", err)
	}
	if err := s.Cancel(context.Background(), "timeouts", "missing"); !errors.Is(err, domain.ErrScheduleTokenNotFound) {
		t.Errorf("expected ErrScheduleTokenNotFound for unknown token, got %v", err)
	}
}

func TestPartitionKeyFallback(t *testing.T) {
	if got := partitionKey([]byte(`not-json`), "fallback"); got != "fallback" {
		t.Errorf("expected fallback key, got %s", got)
	}
	if got := partitionKey([]byte(`{"aggregate_id":""}`), "fallback"); got != "fallback" {
		t.Errorf("expected fallback for empty aggregate_id, got %s", got)
	}
}
