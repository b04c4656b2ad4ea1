package redisx

import "time"

const (
	// Распределённая блокировка товара на время stock probe: lock:product:{product_id}
	KeyProductLock = "lock:product:%s"

	// Idempotency guard платёжного процессора: processed:order:{order_id}
	KeyProcessedOrder = "processed:order:%s"

	// Снимок корзины пользователя: basket:{user_id}
	KeyBasket = "basket:%s"

	// Планировщик таймаутов: schedule:{destination} (zset, score = fire time)
	// и schedule:{destination}:payloads (hash token -> payload).
	KeySchedule         = "schedule:%s"
	KeySchedulePayloads = "schedule:%s:payloads"
)

var (
	// TTLProcessed — окно подавления повторных доставок платёжных событий.
	TTLProcessed = 24 * time.Hour
)
