package guard

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shoporbit/internal/domain"
)

const (
	defaultSweepInterval = 10 * time.Minute
	defaultSweepBatch    = 500
)

var (
	guardSweepRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shoporbit_guard_sweep_runs_total",
		Help: "Processed-marker sweep runs grouped by result.",
	}, []string{"result"})
	guardSweptMarkersTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shoporbit_guard_swept_markers_total",
		Help: "Expired processed markers removed by the sweeper.",
	})
	guardLastSweepSwept = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "shoporbit_guard_last_sweep_swept",
		Help: "Markers removed during the most recent sweep.",
	})
)

// Config задаёт период и размер порции sweeper-а. Нулевые значения
// заменяются дефолтами в NewSweeper.
type Config struct {
	Interval  time.Duration
	BatchSize int
	Logger    *log.Entry
}

// Sweeper периодически выметает просроченные processed-маркеры из хранилищ
// без нативного TTL (PostgreSQL-fallback). Для Redis sweep — no-op: ключи
// истекают сами.
type Sweeper struct {
	markers domain.ProcessedMarkerRepository
	logger  *log.Entry

	interval  time.Duration
	batchSize int
}

// NewSweeper создаёт sweeper просроченных processed-маркеров.
func NewSweeper(markers domain.ProcessedMarkerRepository, cfg Config) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultSweepInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultSweepBatch
	}
	if cfg.Logger == nil {
		cfg.Logger = log.WithField("component", "guard-sweeper")
	}

	return &Sweeper{
		markers:   markers,
		logger:    cfg.Logger,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
	}
}

// Run выполняет sweep сразу и далее раз в Interval, пока ctx не отменён.
func (s *Sweeper) Run(ctx context.Context) {
	if s.markers == nil {
		s.logger.Warn("guard sweeper is disabled: no marker repository")
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.runOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) runOnce(ctx context.Context) {
	swept, err := s.Sweep(ctx, time.Now().UTC())
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		guardSweepRunsTotal.WithLabelValues("error").Inc()
		s.logger.WithError(err).Warn("processed-marker sweep failed")
		return
	}

	guardSweepRunsTotal.WithLabelValues("ok").Inc()
	guardLastSweepSwept.Set(float64(swept))
	if swept > 0 {
		s.logger.WithField("swept", swept).Info("processed-marker sweep completed")
	}
}

// Sweep удаляет маркеры с ttl <= before порциями BatchSize и возвращает
// число удалённых. Порция короче BatchSize означает, что просроченных
// больше нет.
func (s *Sweeper) Sweep(ctx context.Context, before time.Time) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	swept := 0
	for {
		if err := ctx.Err(); err != nil {
			return swept, err
		}

		n, err := s.markers.DeleteExpired(before, s.batchSize)
		if err != nil {
			return swept, err
		}
		if n > 0 {
			swept += n
			guardSweptMarkersTotal.Add(float64(n))
		}
		if n < s.batchSize {
			return swept, nil
		}
	}
}
