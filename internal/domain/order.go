package domain

import "time"

// OrderStatus описывает жизненный цикл заказа в саге оформления.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан, резервирование и оплата ещё не разрешены.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPaid — оплата подтверждена; терминальный статус.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusCancelled — заказ отменён компенсацией (сток, оплата или таймаут); терминальный статус.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Terminal сообщает, является ли статус конечным. Из терминального статуса
// заказ не выходит ни при каком событии саги.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusPaid || s == OrderStatusCancelled
}

// OrderLine представляет одну позицию заказа. Позиции неизменяемы после
// создания заказа и принадлежат только ему.
type OrderLine struct {
	// ID позиции нужен для однозначной идентификации и аудита.
	ID string
	// ProductID — идентификатор товара в каталоге.
	ProductID string
	// Name — снимок названия товара на момент оформления.
	Name string
	// Qty — количество единиц товара.
	Qty int32
	// PriceMinor — снимок цены за единицу в минимальных денежных единицах.
	PriceMinor int64
	// ImageURL — снимок ссылки на изображение (может быть пустым).
	ImageURL string
	// CreatedAt фиксирует момент добавления позиции в заказ.
	CreatedAt time.Time
}

// Order агрегирует состояние заказа и его позиции. Заказ никогда не
// удаляется (audit trail); мутируется только обработчиками саги.
type Order struct {
	ID              string
	UserID          string
	Status          OrderStatus
	Currency        string
	AmountMinor     int64
	ShippingAddress string
	PaymentMethod   string
	Notes           string
	// TimeoutToken хранит токен отмены запланированного таймаута.
	// Заполнен только пока заказ Pending и таймаут взведён.
	TimeoutToken string
	// TimeoutArmed=false после создания означает, что планировщик был
	// недоступен и Pending-заказ остался без страховочного таймаута.
	TimeoutArmed bool
	// PaymentID заполняется один раз при переходе в Paid.
	PaymentID string
	Items     []OrderLine
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.UserID == "" {
		errs = append(errs, ErrUserRequired)
	}
	if o.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if o.AmountMinor < 0 {
		errs = append(errs, ErrAmountNegative)
	}

	// Сверяем сумму заказа с суммой позиций: qty * price.
	var calc int64
	for _, item := range o.Items {
		if item.Qty <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.PriceMinor < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
		calc += int64(item.Qty) * item.PriceMinor
	}
	if calc != o.AmountMinor {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}

// ReservationLines возвращает позиции заказа в виде, пригодном для
// резервирования и компенсации стока.
func (o *Order) ReservationLines() []ReservationLine {
	lines := make([]ReservationLine, 0, len(o.Items))
	for _, item := range o.Items {
		lines = append(lines, ReservationLine{ProductID: item.ProductID, Qty: item.Qty})
	}
	return lines
}
