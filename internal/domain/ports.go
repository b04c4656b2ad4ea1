package domain

import (
	"context"
	"time"
)

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ и событие OrderCreated в outbox одной
	// устойчивой записью (outbox pattern): событие будет доставлено хотя бы
	// один раз тогда и только тогда, когда заказ реально создан.
	Create(order Order, evt OutboxMessage) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(id string) (Order, error)
	// ListByUser возвращает заказы пользователя с опциональным ограничением на количество.
	ListByUser(userID string, limit int) ([]Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking.
	Save(order Order) error
}

// StockRepository — авторитетный ledger доступного количества. Мутируется
// только компонентом резервирования.
type StockRepository interface {
	// Get возвращает запись по товару или ErrProductUnavailable.
	Get(productID string) (StockRecord, error)
	// ReserveAll атомарно проверяет и списывает сток по всем позициям:
	// либо резервируется каждая, либо ни одна. Непустой failed с nil-ошибкой
	// означает бизнес-отказ с перечнем именно тех товаров, которых не хватило;
	// ledger при этом не изменён. Успешное списание фиксируется строками
	// Reservation в той же транзакции.
	ReserveAll(orderID string, lines []ReservationLine) (failed []string, err error)
	// Restore возвращает сток по строкам Reservation заказа и удаляет их.
	// Повторный вызов и вызов без состоявшегося резерва — no-op.
	Restore(orderID string) (restored int, err error)
}

// PaymentRepository хранит платёжные записи (append-only).
type PaymentRepository interface {
	Create(payment Payment) error
	GetByOrder(orderID string) (Payment, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// EventPublisher публикует событие саги напрямую в брокер, минуя outbox.
// Используется компонентами, у которых нет локальной записи, требующей
// ко-коммита с событием (каталог, платежи, планировщик таймаутов).
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, orderID string, payload any) error
}

// ProcessedMarkerRepository — idempotency guard: маркеры «уже обработано»
// с TTL, по которым потребители подавляют повторные доставки.
type ProcessedMarkerRepository interface {
	// Seen сообщает, есть ли актуальный маркер по ключу.
	Seen(ctx context.Context, key string) (bool, error)
	// Mark ставит маркер с заданным TTL.
	Mark(ctx context.Context, key string, ttl time.Duration) error
	// DeleteExpired удаляет просроченные маркеры порциями (для хранилищ без
	// нативного TTL); возвращает число удалённых.
	DeleteExpired(before time.Time, limit int) (int, error)
}

// ProductLookup — синхронная проверка товара при оформлении заказа.
type ProductLookup interface {
	Lookup(ctx context.Context, productID string) (ProductInfo, error)
}

// BasketStore читает снимок корзины пользователя при оформлении заказа.
type BasketStore interface {
	Get(ctx context.Context, userID string) (Basket, error)
	// Clear удаляет корзину после успешного оформления.
	Clear(ctx context.Context, userID string) error
}

// Lock — захваченная распределённая блокировка.
type Lock interface {
	// Release снимает блокировку. Безопасен при истёкшем lease: чужую
	// блокировку не снимет.
	Release(ctx context.Context) error
}

// Locker выдаёт распределённые блокировки по ключу ресурса с lease-семантикой.
// Истёкший lease может быть взят другим вызывающим, поэтому работа после
// возможного истечения считается небезопасной: это best-effort probe lock,
// а не транзакционная гарантия.
type Locker interface {
	// Acquire пытается взять блокировку, повторяя попытки каждые retry
	// в пределах wait. Возвращает ErrLockNotAcquired, если не успел.
	Acquire(ctx context.Context, resourceKey string, lease, wait, retry time.Duration) (Lock, error)
}

// TimeoutScheduler — устойчивое расписание отложенных сообщений.
// Запланированный таймаут переживает рестарт процесса и доставляется в тот
// же событийный путь, что и остальные события саги.
type TimeoutScheduler interface {
	// Schedule планирует доставку payload в destination в момент fireAt
	// и возвращает токен для отмены.
	Schedule(ctx context.Context, destination string, fireAt time.Time, payload []byte) (token string, err error)
	// Cancel отменяет запланированную доставку. Отмена best-effort: уже
	// «вылетевший» таймаут поглощается статусным гейтом обработчика.
	Cancel(ctx context.Context, destination, token string) error
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
