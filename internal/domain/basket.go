package domain

// BasketItem — позиция корзины, снятая на момент оформления.
type BasketItem struct {
	ProductID string `json:"product_id"`
	Qty       int32  `json:"qty"`
}

// Basket — снимок корзины пользователя, прочитанный из кэша корзин.
type Basket struct {
	UserID string       `json:"user_id"`
	Items  []BasketItem `json:"items"`
}

// Empty сообщает, можно ли оформлять заказ по этой корзине.
func (b Basket) Empty() bool {
	return len(b.Items) == 0
}
