package domain

import "time"

// StockRecord — авторитетный счётчик доступного количества по товару.
// Available не опускается ниже нуля в результате резервирования.
type StockRecord struct {
	ProductID  string
	Name       string
	PriceMinor int64
	ImageURL   string
	Available  int32
	UpdatedAt  time.Time
}

// ReservationLine — единица резервирования или компенсации стока.
type ReservationLine struct {
	ProductID string
	Qty       int32
}

// Reservation — строка компенсационного ledger: сколько фактически списано
// под заказ. Восстановление при отмене идёт строго по этим строкам, поэтому
// отмена заказа, чьё резервирование не состоялось, не начисляет сток повторно.
type Reservation struct {
	OrderID   string
	ProductID string
	Qty       int32
	CreatedAt time.Time
}

// ProductInfo — ответ синхронного product lookup при оформлении заказа.
// Используется только как probe; авторитетная проверка выполняется в
// транзакции резервирования.
type ProductInfo struct {
	ProductID  string
	Exists     bool
	Name       string
	PriceMinor int64
	ImageURL   string
	Available  int32
}
