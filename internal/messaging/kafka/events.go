package kafka

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType определяет тип события саги.
type EventType string

const (
	EventTypeOrderCreated           EventType = "order.created"
	EventTypeOrderCancelled         EventType = "order.cancelled"
	EventTypeOrderTimeout           EventType = "order.timeout"
	EventTypeStockReservationFailed EventType = "stock.reservation_failed"
	EventTypePaymentRequested       EventType = "payment.requested"
	EventTypePaymentSucceeded       EventType = "payment.succeeded"
	EventTypePaymentFailed          EventType = "payment.failed"
)

// Topics для Kafka. Ключ партиционирования — order_id, чтобы события одного
// заказа внутри топика сохраняли порядок.
const (
	TopicOrderCreated           = "shoporbit.order.created"
	TopicOrderCancelled         = "shoporbit.order.cancelled"
	TopicOrderTimeout           = "shoporbit.order.timeout"
	TopicStockReservationFailed = "shoporbit.stock.reservation-failed"
	TopicPaymentRequested       = "shoporbit.payment.requested"
	TopicPaymentSucceeded       = "shoporbit.payment.succeeded"
	TopicPaymentFailed          = "shoporbit.payment.failed"
	TopicDeadLetterQueue        = "shoporbit.dlq"
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// topicByEventType маршрутизирует событие в свой топик.
var topicByEventType = map[EventType]string{
	EventTypeOrderCreated:           TopicOrderCreated,
	EventTypeOrderCancelled:         TopicOrderCancelled,
	EventTypeOrderTimeout:           TopicOrderTimeout,
	EventTypeStockReservationFailed: TopicStockReservationFailed,
	EventTypePaymentRequested:       TopicPaymentRequested,
	EventTypePaymentSucceeded:       TopicPaymentSucceeded,
	EventTypePaymentFailed:          TopicPaymentFailed,
}

// TopicFor возвращает топик для типа события; неизвестные типы уходят в DLQ.
func TopicFor(eventType EventType) string {
	if topic, ok := topicByEventType[eventType]; ok {
		return topic
	}
	return TopicDeadLetterQueue
}

// Envelope — единый конверт всех событий саги на проводе.
type Envelope struct {
	ID          string          `json:"id"`
	EventType   EventType       `json:"event_type"`
	AggregateID string          `json:"aggregate_id"`
	Payload     json.RawMessage `json:"payload"`
	PublishedAt time.Time       `json:"published_at"`
}

// NewEnvelope оборачивает payload события в конверт.
func NewEnvelope(eventType EventType, aggregateID string, payload []byte) Envelope {
	return Envelope{
		ID:          uuid.NewString(),
		EventType:   eventType,
		AggregateID: aggregateID,
		Payload:     payload,
		PublishedAt: time.Now().UTC(),
	}
}

// OrderItemEvent — позиция заказа внутри событий.
type OrderItemEvent struct {
	ProductID string `json:"product_id"`
	Qty       int32  `json:"qty"`
}

// OrderCreatedEvent публикуется транзакционно с созданием заказа (outbox).
type OrderCreatedEvent struct {
	OrderID       string           `json:"order_id"`
	UserID        string           `json:"user_id"`
	AmountMinor   int64            `json:"amount_minor"`
	Currency      string           `json:"currency"`
	PaymentMethod string           `json:"payment_method"`
	Items         []OrderItemEvent `json:"items"`
	CreatedAt     time.Time        `json:"created_at"`
}

// StockReservationFailedEvent перечисляет именно те товары, которых не хватило.
type StockReservationFailedEvent struct {
	OrderID       string   `json:"order_id"`
	Reason        string   `json:"reason"`
	FailedItemIDs []string `json:"failed_item_ids"`
}

// OrderCancelledEvent — компенсация: каталог восстанавливает сток по ledger.
type OrderCancelledEvent struct {
	OrderID string           `json:"order_id"`
	Items   []OrderItemEvent `json:"items"`
}

// PaymentRequestedEvent инициирует обработку платежа по явному запросу.
type PaymentRequestedEvent struct {
	OrderID     string `json:"order_id"`
	UserID      string `json:"user_id"`
	AmountMinor int64  `json:"amount_minor"`
	Currency    string `json:"currency"`
	Method      string `json:"method"`
}

// PaymentSucceededEvent фиксирует успешный исход платежа.
type PaymentSucceededEvent struct {
	OrderID     string    `json:"order_id"`
	PaymentID   string    `json:"payment_id"`
	ProcessedAt time.Time `json:"processed_at"`
}

// PaymentFailedEvent фиксирует отказ платежа.
type PaymentFailedEvent struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

// OrderTimeoutEvent доставляется планировщиком, если сага не разрешилась в окно.
type OrderTimeoutEvent struct {
	OrderID string `json:"order_id"`
}

// ParseEnvelope разбирает конверт события из сообщения брокера.
func ParseEnvelope(value []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(value, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}
