package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shoporbit/internal/domain"
	"github.com/vladislavdragonenkov/shoporbit/internal/redisx"
)

const (
	defaultPollInterval = 500 * time.Millisecond
	defaultPopBatch     = 100
)

var (
	schedulerScheduledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shoporbit_scheduler_scheduled_total",
		Help: "Total number of scheduled delayed messages.",
	})
	schedulerCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shoporbit_scheduler_cancelled_total",
		Help: "Total number of cancelled delayed messages.",
	})
	schedulerFiredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shoporbit_scheduler_fired_total",
		Help: "Total number of fired delayed messages grouped by result.",
	}, []string{"result"})
)

// popDueScript атомарно забирает до limit созревших токенов вместе с
// payload: конкурентные поллеры не доставят один таймаут дважды.
const popDueScript = `
local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, ARGV[2])
local result = {}
for _, token in ipairs(due) do
    redis.call("ZREM", KEYS[1], token)
    local payload = redis.call("HGET", KEYS[2], token)
    redis.call("HDEL", KEYS[2], token)
    if payload then
        table.insert(result, payload)
    end
end
return result`

// scheduledMessage — то, что лежит в hash под токеном.
type scheduledMessage struct {
	Key     string          `json:"key"`
	Payload json.RawMessage `json:"payload"`
}

// partitionKey достаёт aggregate_id из конверта, чтобы сработавший
// таймаут попал в ту же партицию, что и остальные события заказа.
func partitionKey(payload []byte, fallback string) string {
	var envelope struct {
		AggregateID string `json:"aggregate_id"`
	}
	if err := json.Unmarshal(payload, &envelope); err == nil && envelope.AggregateID != "" {
		return envelope.AggregateID
	}
	return fallback
}

// Sink доставляет сработавший таймаут в обычный событийный путь.
type Sink interface {
	PublishRaw(topic string, key string, value []byte) error
}

// RedisScheduler — устойчивый планировщик отложенных сообщений на Redis:
// zset со score = fire time и hash token -> payload. Запись переживает
// рестарт процесса, пока жив Redis.
type RedisScheduler struct {
	rdb    *redis.Client
	pop    *redis.Script
	logger *log.Entry
}

// NewRedisScheduler создаёт Redis-реализацию domain.TimeoutScheduler.
func NewRedisScheduler(rdb *redis.Client) *RedisScheduler {
	return &RedisScheduler{
		rdb:    rdb,
		pop:    redis.NewScript(popDueScript),
		logger: log.WithField("component", "timeout-scheduler"),
	}
}

// Schedule планирует доставку payload в destination в момент fireAt.
func (s *RedisScheduler) Schedule(ctx context.Context, destination string, fireAt time.Time, payload []byte) (string, error) {
	token := uuid.NewString()

	msg, err := json.Marshal(scheduledMessage{Key: partitionKey(payload, token), Payload: payload})
	if err != nil {
		return "", fmt.Errorf("marshal scheduled message: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, fmt.Sprintf(redisx.KeySchedulePayloads, destination), token, msg)
	pipe.ZAdd(ctx, fmt.Sprintf(redisx.KeySchedule, destination), redis.Z{
		Score:  float64(fireAt.UnixMilli()),
		Member: token,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("schedule delayed message: %w", err)
	}

	schedulerScheduledTotal.Inc()
	return token, nil
}

// Cancel снимает запланированную доставку по токену.
func (s *RedisScheduler) Cancel(ctx context.Context, destination, token string) error {
	removed, err := s.rdb.ZRem(ctx, fmt.Sprintf(redisx.KeySchedule, destination), token).Result()
	if err != nil {
		return fmt.Errorf("cancel scheduled message: %w", err)
	}
	_ = s.rdb.HDel(ctx, fmt.Sprintf(redisx.KeySchedulePayloads, destination), token).Err()

	if removed == 0 {
		// Таймаут уже сработал или был отменён раньше: статусный гейт
		// обработчика поглощает эту гонку.
		return domain.ErrScheduleTokenNotFound
	}

	schedulerCancelledTotal.Inc()
	return nil
}

// Poller периодически забирает созревшие сообщения и публикует их в
// destination-топик, чтобы таймаут шёл тем же путём, что и остальные события.
type Poller struct {
	scheduler    *RedisScheduler
	sink         Sink
	destination  string
	pollInterval time.Duration
	popBatch     int
	logger       *log.Entry
}

// NewPoller создаёт поллер для одного destination.
func NewPoller(scheduler *RedisScheduler, sink Sink, destination string, pollInterval time.Duration) *Poller {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &Poller{
		scheduler:    scheduler,
		sink:         sink,
		destination:  destination,
		pollInterval: pollInterval,
		popBatch:     defaultPopBatch,
		logger:       log.WithFields(log.Fields{"component": "scheduler-poller", "destination": destination}),
	}
}

// Run запускает периодический polling до отмены ctx.
func (p *Poller) Run(ctx context.Context) {
	if p.scheduler == nil || p.sink == nil {
		p.logger.Warn("scheduler poller is disabled: scheduler or sink is nil")
		return
	}

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	p.ProcessOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce выполняет один polling-цикл.
func (p *Poller) ProcessOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	raw, err := p.scheduler.pop.Run(ctx,
		p.scheduler.rdb,
		[]string{
			fmt.Sprintf(redisx.KeySchedule, p.destination),
			fmt.Sprintf(redisx.KeySchedulePayloads, p.destination),
		},
		time.Now().UnixMilli(),
		p.popBatch,
	).StringSlice()
	if err != nil {
		p.logger.WithError(err).Warn("failed to pop due scheduled messages")
		return
	}

	for _, item := range raw {
		var msg scheduledMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			p.logger.WithError(err).Warn("failed to decode scheduled message")
			schedulerFiredTotal.WithLabelValues("decode_error").Inc()
			continue
		}

		if err := p.sink.PublishRaw(p.destination, msg.Key, msg.Payload); err != nil {
			p.logger.WithError(err).Error("failed to deliver fired timeout")
			schedulerFiredTotal.WithLabelValues("publish_error").Inc()
			continue
		}
		schedulerFiredTotal.WithLabelValues("fired").Inc()
	}
}

var _ domain.TimeoutScheduler = (*RedisScheduler)(nil)
