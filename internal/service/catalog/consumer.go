package catalog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shoporbit/internal/messaging/kafka"
)

// ConsumedTopics — топики, на которые подписан сервис каталога.
func ConsumedTopics() []string {
	return []string{
		kafka.TopicOrderCreated,
		kafka.TopicOrderCancelled,
	}
}

// HandleMessage — kafka.MessageHandler сервиса каталога.
func (s *Service) HandleMessage(ctx context.Context, message *sarama.ConsumerMessage) error {
	env, err := kafka.ParseEnvelope(message.Value)
	if err != nil {
		s.logger.WithError(err).WithField("topic", message.Topic).Error("failed to parse event envelope")
		return nil
	}

	logger := s.logger.WithFields(log.Fields{
		"event_id":   env.ID,
		"event_type": env.EventType,
		"order_id":   env.AggregateID,
	})

	switch env.EventType {
	case kafka.EventTypeOrderCreated:
		var evt kafka.OrderCreatedEvent
		if err := json.Unmarshal(env.Payload, &evt); err != nil {
			logger.WithError(err).Error("failed to decode event payload")
			return nil
		}
		return s.HandleOrderCreated(ctx, evt)

	case kafka.EventTypeOrderCancelled:
		var evt kafka.OrderCancelledEvent
		if err := json.Unmarshal(env.Payload, &evt); err != nil {
			logger.WithError(err).Error("failed to decode event payload")
			return nil
		}
		return s.HandleOrderCancelled(ctx, evt)

	default:
		return fmt.Errorf("unexpected event type %q on topic %s", env.EventType, message.Topic)
	}
}
