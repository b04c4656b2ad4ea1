package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/shoporbit/internal/domain"
)

// releaseScript снимает блокировку только если токен совпадает: по истечении
// lease ключ мог достаться другому владельцу, и его блокировку трогать нельзя.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
else
    return 0
end`

// Locker реализует распределённую блокировку на SET NX PX с lease-семантикой.
type Locker struct {
	rdb     *redis.Client
	release *redis.Script
}

// NewLocker создаёт Redis-реализацию domain.Locker.
func NewLocker(rdb *redis.Client) *Locker {
	return &Locker{
		rdb:     rdb,
		release: redis.NewScript(releaseScript),
	}
}

// Acquire пытается взять блокировку, опрашивая ключ каждые retry в пределах
// wait. Лизинг истекает сам: упавший владелец не блокирует ресурс навсегда.
// resource — «голый» идентификатор; пространство имён ключа — забота Locker.
func (l *Locker) Acquire(ctx context.Context, resource string, lease, wait, retry time.Duration) (domain.Lock, error) {
	if retry <= 0 {
		retry = 50 * time.Millisecond
	}

	key := fmt.Sprintf(KeyProductLock, resource)
	token := uuid.NewString()

	deadline := time.Now().Add(wait)
	for {
		ok, err := l.rdb.SetNX(ctx, key, token, lease).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			return &redisLock{locker: l, key: key, token: token}, nil
		}

		if time.Now().Add(retry).After(deadline) {
			return nil, domain.ErrLockNotAcquired
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retry):
		}
	}
}

type redisLock struct {
	locker *Locker
	key    string
	token  string
}

func (r *redisLock) Release(ctx context.Context) error {
	if err := r.locker.release.Run(ctx, r.locker.rdb, []string{r.key}, r.token).Err(); err != nil {
		return fmt.Errorf("release lock %s: %w", r.key, err)
	}
	return nil
}

var _ domain.Locker = (*Locker)(nil)
