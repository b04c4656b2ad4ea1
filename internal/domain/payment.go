package domain

import "time"

// PaymentStatus описывает состояние платежа.
type PaymentStatus string

const (
	// PaymentStatusProcessing — платёж создан, исход ещё не зафиксирован.
	PaymentStatusProcessing PaymentStatus = "processing"
	// PaymentStatusSuccess — платёж прошёл.
	PaymentStatusSuccess PaymentStatus = "success"
	// PaymentStatusFailed — платёж отклонён.
	PaymentStatusFailed PaymentStatus = "failed"
)

// Payment описывает платёж, связанный с заказом. Создаётся платёжным
// процессором ровно один раз на заказ (при штатной работе) и после
// создания только дополняется.
type Payment struct {
	ID            string
	OrderID       string
	UserID        string
	AmountMinor   int64
	Currency      string
	Method        string
	Status        PaymentStatus
	FailureReason string
	CreatedAt     time.Time
	ProcessedAt   time.Time
}

// Validate проверяет корректность полей платежа и возвращает ошибки, если они есть.
func (p *Payment) Validate() []error {
	var errs []error

	if p.OrderID == "" {
		errs = append(errs, ErrOrderIDRequired)
	}
	if p.UserID == "" {
		errs = append(errs, ErrUserRequired)
	}
	if p.AmountMinor < 0 {
		errs = append(errs, ErrAmountNegative)
	}
	if p.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}

	return errs
}
