package domain

// Resolution — событие, разрешающее сагу заказа. События разных типов
// приходят независимо и в произвольном порядке, поэтому единственный
// механизм согласованности — статусный гейт в NextStatus.
type Resolution string

const (
	ResolutionStockFailed      Resolution = "stock_reservation_failed"
	ResolutionPaymentFailed    Resolution = "payment_failed"
	ResolutionPaymentSucceeded Resolution = "payment_succeeded"
	ResolutionTimeout          Resolution = "order_timeout"
)

// resolutionOutcome задаёт терминальный статус для каждого разрешающего события.
var resolutionOutcome = map[Resolution]OrderStatus{
	ResolutionStockFailed:      OrderStatusCancelled,
	ResolutionPaymentFailed:    OrderStatusCancelled,
	ResolutionPaymentSucceeded: OrderStatusPaid,
	ResolutionTimeout:          OrderStatusCancelled,
}

// NextStatus — чистая таблица переходов: (текущий статус, событие) -> новый
// статус. Второй результат false означает no-op: либо заказ уже терминален
// (повторная доставка), либо событие неизвестно. Статусы монотонно движутся
// Pending -> {Paid | Cancelled}.
func NextStatus(current OrderStatus, resolution Resolution) (OrderStatus, bool) {
	if current != OrderStatusPending {
		return current, false
	}
	next, ok := resolutionOutcome[resolution]
	if !ok {
		return current, false
	}
	return next, true
}
