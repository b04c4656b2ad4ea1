package ordering

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shoporbit/internal/messaging/kafka"
)

// ConsumedTopics — топики, на которые подписан сервис заказов: все
// разрешающие события саги.
func ConsumedTopics() []string {
	return []string{
		kafka.TopicStockReservationFailed,
		kafka.TopicPaymentSucceeded,
		kafka.TopicPaymentFailed,
		kafka.TopicOrderTimeout,
	}
}

// HandleMessage — kafka.MessageHandler сервиса заказов: разбирает конверт и
// маршрутизирует событие в свой обработчик.
func (s *Service) HandleMessage(ctx context.Context, message *sarama.ConsumerMessage) error {
	env, err := kafka.ParseEnvelope(message.Value)
	if err != nil {
		// Нечитаемый конверт не станет читаемым при повторе.
		s.logger.WithError(err).WithField("topic", message.Topic).Error("failed to parse event envelope")
		return nil
	}

	logger := s.logger.WithFields(log.Fields{
		"event_id":   env.ID,
		"event_type": env.EventType,
		"order_id":   env.AggregateID,
	})

	switch env.EventType {
	case kafka.EventTypeStockReservationFailed:
		var evt kafka.StockReservationFailedEvent
		if err := json.Unmarshal(env.Payload, &evt); err != nil {
			logger.WithError(err).Error("failed to decode event payload")
			return nil
		}
		return s.OnStockReservationFailed(ctx, evt)

	case kafka.EventTypePaymentSucceeded:
		var evt kafka.PaymentSucceededEvent
		if err := json.Unmarshal(env.Payload, &evt); err != nil {
			logger.WithError(err).Error("failed to decode event payload")
			return nil
		}
		return s.OnPaymentSucceeded(ctx, evt)

	case kafka.EventTypePaymentFailed:
		var evt kafka.PaymentFailedEvent
		if err := json.Unmarshal(env.Payload, &evt); err != nil {
			logger.WithError(err).Error("failed to decode event payload")
			return nil
		}
		return s.OnPaymentFailed(ctx, evt)

	case kafka.EventTypeOrderTimeout:
		var evt kafka.OrderTimeoutEvent
		if err := json.Unmarshal(env.Payload, &evt); err != nil {
			logger.WithError(err).Error("failed to decode event payload")
			return nil
		}
		return s.OnOrderTimeout(ctx, evt)

	default:
		return fmt.Errorf("unexpected event type %q on topic %s", env.EventType, message.Topic)
	}
}
