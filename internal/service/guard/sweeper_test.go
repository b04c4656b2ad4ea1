package guard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/shoporbit/internal/domain"
)

var _ domain.ProcessedMarkerRepository = (*stubMarkerRepo)(nil)

func TestSweepDrainsInBatches(t *testing.T) {
	t.Parallel()

	repo := &stubMarkerRepo{deleteResults: []int{2, 2, 1}}
	sweeper := NewSweeper(repo, Config{BatchSize: 2})

	swept, err := sweeper.Sweep(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if swept != 5 {
		t.Fatalf("unexpected swept total: got=%d want=5", swept)
	}
	if calls := repo.calls(); calls != 3 {
		t.Fatalf("unexpected delete calls: got=%d want=3", calls)
	}
}

func TestSweepPropagatesError(t *testing.T) {
	t.Parallel()

	repo := &stubMarkerRepo{deleteErrors: []error{errors.New("boom")}}
	sweeper := NewSweeper(repo, Config{BatchSize: 10})

	swept, err := sweeper.Sweep(context.Background(), time.Now().UTC())
	if err == nil {
		t.Fatal("expected Sweep error")
	}
	if swept != 0 {
		t.Fatalf("unexpected swept total: got=%d want=0", swept)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	repo := &stubMarkerRepo{}
	sweeper := NewSweeper(repo, Config{Interval: 5 * time.Millisecond, BatchSize: 10})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		sweeper.Run(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop on context cancel")
	}

	if calls := repo.calls(); calls == 0 {
		t.Fatal("expected at least one sweep before cancel")
	}
}

type stubMarkerRepo struct {
	mu sync.Mutex

	deleteResults []int
	deleteErrors  []error
	callCount     int
}

func (s *stubMarkerRepo) Seen(context.Context, string) (bool, error) {
	panic("not implemented")
}

func (s *stubMarkerRepo) Mark(context.Context, string, time.Duration) error {
	panic("not implemented")
}

func (s *stubMarkerRepo) DeleteExpired(_ time.Time, _ int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.callCount++

	if len(s.deleteErrors) > 0 {
		err := s.deleteErrors[0]
		s.deleteErrors = s.deleteErrors[1:]
		if err != nil {
			return 0, err
		}
	}

	if len(s.deleteResults) == 0 {
		return 0, nil
	}
	result := s.deleteResults[0]
	s.deleteResults = s.deleteResults[1:]
	return result, nil
}

func (s *stubMarkerRepo) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callCount
}
