package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/shoporbit/internal/domain"
)

// BasketStore читает снимки корзин, которые складывает сервис корзины.
// Запись корзины вне зоны ответственности саги.
type BasketStore struct {
	rdb *redis.Client
}

// NewBasketStore создаёт Redis-реализацию domain.BasketStore.
func NewBasketStore(rdb *redis.Client) *BasketStore {
	return &BasketStore{rdb: rdb}
}

// Get возвращает снимок корзины пользователя. Отсутствующая корзина — это
// пустая корзина, а не ошибка: оформление отклонит её как ErrEmptyCart.
func (b *BasketStore) Get(ctx context.Context, userID string) (domain.Basket, error) {
	raw, err := b.rdb.Get(ctx, fmt.Sprintf(KeyBasket, userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Basket{UserID: userID}, nil
		}
		return domain.Basket{}, fmt.Errorf("read basket: %w", err)
	}

	var basket domain.Basket
	if err := json.Unmarshal([]byte(raw), &basket); err != nil {
		return domain.Basket{}, fmt.Errorf("decode basket: %w", err)
	}
	basket.UserID = userID
	return basket, nil
}

func (b *BasketStore) Clear(ctx context.Context, userID string) error {
	if err := b.rdb.Del(ctx, fmt.Sprintf(KeyBasket, userID)).Err(); err != nil {
		return fmt.Errorf("clear basket: %w", err)
	}
	return nil
}

var _ domain.BasketStore = (*BasketStore)(nil)
