package ordering_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/shoporbit/internal/domain"
	"github.com/vladislavdragonenkov/shoporbit/internal/scheduler"
	"github.com/vladislavdragonenkov/shoporbit/internal/service/ordering"
	"github.com/vladislavdragonenkov/shoporbit/internal/storage/memory"
)

// contendingLocker — работающая взаимоисключающая блокировка поверх мапы:
// в отличие от fakeLocker, конкуренты здесь реально ждут и ретраят.
type contendingLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newContendingLocker() *contendingLocker {
	return &contendingLocker{held: make(map[string]struct{})}
}

func (c *contendingLocker) Acquire(ctx context.Context, resource string, _, wait, retry time.Duration) (domain.Lock, error) {
	deadline := time.Now().Add(wait)
	for {
		c.mu.Lock()
		if _, taken := c.held[resource]; !taken {
			c.held[resource] = struct{}{}
			c.mu.Unlock()
			return &contendingLock{locker: c, key: resource}, nil
		}
		c.mu.Unlock()

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

type contendingLock struct {
	locker *contendingLocker
	key    string
}

func (l *contendingLock) Release(context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()
	delete(l.locker.held, l.key)
	return nil
}

// slowLookup фиксирует пересечения одновременных probe по одному товару.
type slowLookup struct {
	inner   domain.ProductLookup
	active  int32
	overlap int32
}

func (l *slowLookup) Lookup(ctx context.Context, productID string) (domain.ProductInfo, error) {
	if atomic.AddInt32(&l.active, 1) > 1 {
		atomic.StoreInt32(&l.overlap, 1)
	}
	defer atomic.AddInt32(&l.active, -1)
	time.Sleep(5 * time.Millisecond)
	return l.inner.Lookup(ctx, productID)
}

type syncBaskets struct {
	mu      sync.Mutex
	baskets map[string]domain.Basket
}

func (s *syncBaskets) Get(_ context.Context, userID string) (domain.Basket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baskets[userID], nil
}

func (s *syncBaskets) Clear(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.baskets, userID)
	return nil
}

func TestConcurrentPlacementsSerializeOnProductLock(t *testing.T) {
	const users = 4

	baskets := &syncBaskets{baskets: make(map[string]domain.Basket)}
	for i := 0; i < users; i++ {
		userID := fmt.Sprintf("user-%d", i+1)
		baskets.baskets[userID] = domain.Basket{UserID: userID, Items: []domain.BasketItem{
			{ProductID: "product-1", Qty: 1},
		}}
	}

	lookup := &slowLookup{inner: &fakeLookup{products: map[string]domain.ProductInfo{
		"product-1": {ProductID: "product-1", Exists: true, Name: "Widget", PriceMinor: 100, Available: 10},
	}}}

	outbox := memory.NewOutboxRepository()
	orders := memory.NewOrderRepository(outbox)
	svc := ordering.NewServiceWithoutMetrics(
		orders, outbox, baskets, lookup, newContendingLocker(),
		scheduler.NewMemoryScheduler(), time.Minute, nil,
	)

	var wg sync.WaitGroup
	errs := make(chan error, users)
	for i := 0; i < users; i++ {
		userID := fmt.Sprintf("user-%d", i+1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.PlaceOrder(context.Background(), ordering.PlaceOrderRequest{
				UserID:          userID,
				ShippingAddress: "1 Main St",
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent placement failed: %v", err)
		}
	}
	if atomic.LoadInt32(&lookup.overlap) != 0 {
		t.Fatal("probes of the same product must not overlap")
	}
}

func TestPlaceOrderContendedLockRejectsBusy(t *testing.T) {
	locker := newContendingLocker()
	// Держатель не отпускает блокировку: оформление обязано выйти по
	// дедлайну ожидания с ErrSystemBusy.
	locker.held["product-1"] = struct{}{}

	baskets := &syncBaskets{baskets: map[string]domain.Basket{
		"user-1": {UserID: "user-1", Items: []domain.BasketItem{
			{ProductID: "product-1", Qty: 1},
		}},
	}}
	lookup := &fakeLookup{products: map[string]domain.ProductInfo{
		"product-1": {ProductID: "product-1", Exists: true, Name: "Widget", PriceMinor: 100, Available: 10},
	}}

	outbox := memory.NewOutboxRepository()
	orders := memory.NewOrderRepository(outbox)
	svc := ordering.NewServiceWithoutMetrics(
		orders, outbox, baskets, lookup, locker,
		scheduler.NewMemoryScheduler(), time.Minute, nil,
	)

	_, err := svc.PlaceOrder(context.Background(), ordering.PlaceOrderRequest{
		UserID:          "user-1",
		ShippingAddress: "1 Main St",
	})
	if !errors.Is(err, domain.ErrSystemBusy) {
		t.Fatalf("expected ErrSystemBusy, got %v", err)
	}
	if len(outbox.AllPending()) != 0 {
		t.Fatal("contended placement must not create an order")
	}
}
