package domain

import "errors"

var (
	// ErrEmptyCart возвращается при попытке оформить заказ с пустой корзиной.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrSystemBusy — не удалось взять распределённую блокировку за отведённое время.
	ErrSystemBusy = errors.New("system is busy, try again")
	// ErrProductUnavailable — товар не найден в каталоге при синхронной проверке.
	ErrProductUnavailable = errors.New("product unavailable")
	// ErrInsufficientStock — недостаточно стока на момент синхронной проверки.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderNotPayable — запрос оплаты для заказа не в статусе Pending.
	ErrOrderNotPayable = errors.New("order is not payable")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrPaymentNotFound — платёж по заказу не найден.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrLockNotAcquired — блокировка занята другим владельцем.
	ErrLockNotAcquired = errors.New("lock not acquired")
	// ErrScheduleTokenNotFound — токен отменяемого таймаута не найден (уже сработал или отменён).
	ErrScheduleTokenNotFound = errors.New("schedule token not found")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	// Ошибка отсутствующего идентификатора пользователя.
	ErrUserRequired = errors.New("user_id is required")
	// Ошибка отсутствующего кода валюты.
	ErrCurrencyRequired = errors.New("currency is required")
	// Ошибка отсутствия хотя бы одного товара в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка отрицательной суммы заказа.
	ErrAmountNegative = errors.New("amount_minor must be non-negative")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item qty must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrAmountMismatch = errors.New("order amount does not match items sum")
	// Ошибка отсутствующего адреса доставки.
	ErrShippingAddressRequired = errors.New("shipping address is required")
	// Ошибка отсутствующего идентификатора заказа в платежах/резервах.
	ErrOrderIDRequired = errors.New("order_id is required")
	// Ошибка пустого ключа идемпотентности.
	ErrMarkerKeyRequired = errors.New("marker key is required")
)

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsPlacementRejection сообщает, относится ли ошибка к синхронным бизнес-отказам
// оформления (без побочных эффектов у вызывающего).
func IsPlacementRejection(err error) bool {
	return errors.Is(err, ErrEmptyCart) ||
		errors.Is(err, ErrProductUnavailable) ||
		errors.Is(err, ErrInsufficientStock)
}
