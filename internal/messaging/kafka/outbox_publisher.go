package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/shoporbit/internal/domain"
)

// OutboxTopicPublisher публикует outbox-сообщения в Kafka, маршрутизируя
// каждое событие в топик его типа.
type OutboxTopicPublisher struct {
	producer *Producer
}

// NewOutboxPublisher создаёт Kafka-паблишер для transactional outbox.
func NewOutboxPublisher(producer *Producer) domain.OutboxPublisher {
	return &OutboxTopicPublisher{producer: producer}
}

func (p *OutboxTopicPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}

	key := event.AggregateID
	if key == "" {
		key = event.ID
	}

	// ID конверта наследуется от outbox-строки: при crash-after-publish-
	// before-mark повторная публикация уходит с тем же id, и потребители
	// дедуплицируют её своим idempotency guard.
	env := Envelope{
		ID:          event.ID,
		EventType:   EventType(event.EventType),
		AggregateID: event.AggregateID,
		Payload:     json.RawMessage(event.Payload),
		PublishedAt: time.Now().UTC(),
	}

	return p.producer.PublishEvent(TopicFor(env.EventType), key, env)
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)

// DLQPublisher отправляет outbox-сообщения в общий dead-letter топик.
type DLQPublisher struct {
	producer *Producer
}

// NewDLQPublisher создаёт паблишер dead-letter очереди для outbox-диспетчера.
func NewDLQPublisher(producer *Producer) domain.OutboxPublisher {
	return &DLQPublisher{producer: producer}
}

func (p *DLQPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka dlq publisher is not initialized")
	}

	key := event.AggregateID
	if key == "" {
		key = event.ID
	}
	return p.producer.PublishEvent(TopicDeadLetterQueue, key, json.RawMessage(event.Payload))
}

var _ domain.OutboxPublisher = (*DLQPublisher)(nil)
