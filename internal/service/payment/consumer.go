package payment

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shoporbit/internal/messaging/kafka"
)

// Consumer маршрутизирует события саги в платёжный процессор.
// autoProcess=true запускает оплату сразу по OrderCreated (режим оригинальной
// витрины); иначе оплата ждёт явного PaymentRequested.
type Consumer struct {
	processor   *Processor
	autoProcess bool
	logger      *log.Entry
}

// NewConsumer создаёт маршрутизатор событий платёжного сервиса.
func NewConsumer(processor *Processor, autoProcess bool) *Consumer {
	return &Consumer{
		processor:   processor,
		autoProcess: autoProcess,
		logger:      processor.logger,
	}
}

// ConsumedTopics — топики, на которые подписан платёжный сервис.
func (c *Consumer) ConsumedTopics() []string {
	topics := []string{kafka.TopicPaymentRequested}
	if c.autoProcess {
		topics = append(topics, kafka.TopicOrderCreated)
	}
	return topics
}

// HandleMessage — kafka.MessageHandler платёжного сервиса.
func (c *Consumer) HandleMessage(ctx context.Context, message *sarama.ConsumerMessage) error {
	env, err := kafka.ParseEnvelope(message.Value)
	if err != nil {
		c.logger.WithError(err).WithField("topic", message.Topic).Error("failed to parse event envelope")
		return nil
	}

	logger := c.logger.WithFields(log.Fields{
		"event_id":   env.ID,
		"event_type": env.EventType,
		"order_id":   env.AggregateID,
	})

	switch env.EventType {
	case kafka.EventTypePaymentRequested:
		var evt kafka.PaymentRequestedEvent
		if err := json.Unmarshal(env.Payload, &evt); err != nil {
			logger.WithError(err).Error("failed to decode event payload")
			return nil
		}
		return c.processor.Process(ctx, Request{
			OrderID:     evt.OrderID,
			UserID:      evt.UserID,
			AmountMinor: evt.AmountMinor,
			Currency:    evt.Currency,
			Method:      evt.Method,
		})

	case kafka.EventTypeOrderCreated:
		if !c.autoProcess {
			return nil
		}
		var evt kafka.OrderCreatedEvent
		if err := json.Unmarshal(env.Payload, &evt); err != nil {
			logger.WithError(err).Error("failed to decode event payload")
			return nil
		}
		return c.processor.Process(ctx, Request{
			OrderID:     evt.OrderID,
			UserID:      evt.UserID,
			AmountMinor: evt.AmountMinor,
			Currency:    evt.Currency,
			Method:      evt.PaymentMethod,
		})

	default:
		return fmt.Errorf("unexpected event type %q on topic %s", env.EventType, message.Topic)
	}
}
