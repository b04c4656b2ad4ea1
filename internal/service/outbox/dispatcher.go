package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shoporbit/internal/domain"
)

const (
	defaultPollInterval = 1 * time.Second
	defaultBatchSize    = 100
	defaultMaxAttempts  = 3
	defaultRetryDelay   = 50 * time.Millisecond

	// maxBackoff ограничивает паузу между попытками публикации.
	maxBackoff = 5 * time.Second
)

var (
	outboxDispatchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shoporbit_outbox_dispatched_total",
		Help: "Saga events delivered from the transactional outbox, by event type.",
	}, []string{"event_type"})
	outboxDispatchFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shoporbit_outbox_dispatch_failed_total",
		Help: "Outbox messages that exhausted their publish attempts.",
	})
	outboxDeadLetteredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shoporbit_outbox_dead_lettered_total",
		Help: "Outbox messages handed off to the dead letter queue.",
	})
	outboxBacklogSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "shoporbit_outbox_backlog_size",
		Help: "Pending messages currently sitting in the outbox.",
	})
	outboxBacklogAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "shoporbit_outbox_backlog_age_seconds",
		Help: "Age of the oldest pending outbox message.",
	})
)

// Config задаёт параметры диспетчера outbox. Нулевые значения заменяются
// дефолтами в NewDispatcher.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	RetryDelay   time.Duration
	DLQ          domain.OutboxPublisher
	Logger       *log.Entry
}

// Dispatcher доставляет в брокер события, зафиксированные в outbox вместе с
// заказом. Сообщение, не ушедшее за MaxAttempts попыток, помечается failed и
// передаётся в DLQ; снятая с публикации сага оживает через DLQ-разбор, а не
// через повторный poll.
type Dispatcher struct {
	repo      domain.OutboxRepository
	publisher domain.OutboxPublisher
	dlq       domain.OutboxPublisher
	logger    *log.Entry

	pollInterval time.Duration
	batchSize    int
	maxAttempts  int
	retryDelay   time.Duration
}

// NewDispatcher создаёт диспетчер outbox.
func NewDispatcher(repo domain.OutboxRepository, publisher domain.OutboxPublisher, cfg Config) *Dispatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = log.WithField("component", "outbox-dispatcher")
	}

	return &Dispatcher{
		repo:         repo,
		publisher:    publisher,
		dlq:          cfg.DLQ,
		logger:       cfg.Logger,
		pollInterval: cfg.PollInterval,
		batchSize:    cfg.BatchSize,
		maxAttempts:  cfg.MaxAttempts,
		retryDelay:   cfg.RetryDelay,
	}
}

// Run опрашивает outbox до отмены ctx.
func (d *Dispatcher) Run(ctx context.Context) {
	if d.repo == nil || d.publisher == nil {
		d.logger.Warn("outbox dispatcher is disabled: no repository or publisher")
		return
	}

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		d.Drain(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Drain выгребает pending-сообщения батчами, пока outbox не опустеет.
// Возвращает число доставленных сообщений.
func (d *Dispatcher) Drain(ctx context.Context) int {
	dispatched := 0

	for ctx.Err() == nil {
		batch, err := d.repo.PullPending(d.batchSize)
		if err != nil {
			d.logger.WithError(err).Warn("failed to pull pending outbox batch")
			break
		}
		if len(batch) == 0 {
			break
		}

		stalled := false
		for _, msg := range batch {
			if ctx.Err() != nil {
				d.observeBacklog()
				return dispatched
			}

			if err := d.dispatch(ctx, msg); err != nil {
				d.logger.WithError(err).WithFields(log.Fields{
					"outbox_id":  msg.ID,
					"event_type": msg.EventType,
				}).Error("outbox message exhausted publish attempts")
				d.deadLetter(msg, err)
				if markErr := d.repo.MarkFailed(msg.ID); markErr != nil {
					d.logger.WithError(markErr).WithField("outbox_id", msg.ID).Warn("failed to mark outbox message failed")
					stalled = true
				}
				continue
			}

			dispatched++
			if err := d.repo.MarkSent(msg.ID); err != nil {
				d.logger.WithError(err).WithField("outbox_id", msg.ID).Warn("failed to mark outbox message sent")
				stalled = true
			}
		}

		// Незафиксированная отметка вернула бы те же сообщения в следующий
		// pull; не зацикливаемся внутри одного Drain.
		if stalled || len(batch) < d.batchSize {
			break
		}
	}

	d.observeBacklog()
	return dispatched
}

// dispatch публикует одно сообщение с ретраями и экспоненциальной паузой.
func (d *Dispatcher) dispatch(ctx context.Context, msg domain.OutboxMessage) error {
	var lastErr error
	for attempt := 1; ; attempt++ {
		err := d.publisher.Publish(msg)
		if err == nil {
			outboxDispatchedTotal.WithLabelValues(msg.EventType).Inc()
			return nil
		}
		lastErr = err

		if attempt >= d.maxAttempts {
			outboxDispatchFailedTotal.Inc()
			return fmt.Errorf("publish after %d attempts: %w", d.maxAttempts, lastErr)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoffDelay(d.retryDelay, attempt)):
		}
	}
}

// deadLetter — конверт сообщения, ушедшего в DLQ, с причиной отказа.
type deadLetter struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	Cause         string          `json:"cause"`
	FailedAt      time.Time       `json:"failed_at"`
}

func (d *Dispatcher) deadLetter(msg domain.OutboxMessage, cause error) {
	if d.dlq == nil {
		return
	}

	payload, err := json.Marshal(deadLetter{
		OutboxID:      msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       json.RawMessage(msg.Payload),
		Cause:         cause.Error(),
		FailedAt:      time.Now().UTC(),
	})
	if err != nil {
		d.logger.WithError(err).WithField("outbox_id", msg.ID).Warn("failed to marshal dead letter")
		return
	}

	msg.Payload = payload
	if err := d.dlq.Publish(msg); err != nil {
		d.logger.WithError(err).WithField("outbox_id", msg.ID).Warn("failed to publish dead letter")
		return
	}
	outboxDeadLetteredTotal.Inc()
}

func (d *Dispatcher) observeBacklog() {
	stats, err := d.repo.Stats()
	if err != nil {
		d.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}

	outboxBacklogSize.Set(float64(stats.PendingCount))
	if stats.PendingCount == 0 || stats.OldestPendingAt.IsZero() {
		outboxBacklogAge.Set(0)
		return
	}
	age := time.Since(stats.OldestPendingAt).Seconds()
	if age < 0 {
		age = 0
	}
	outboxBacklogAge.Set(age)
}

// backoffDelay удваивает паузу с каждой попыткой, не превышая maxBackoff.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base << uint(attempt-1)
	if delay <= 0 || delay > maxBackoff {
		return maxBackoff
	}
	return delay
}
