package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SagaMetrics содержит метрики хореографической саги заказа.
type SagaMetrics struct {
	// Счётчики операций
	ordersPlaced    prometheus.Counter
	ordersPaid      prometheus.Counter
	ordersCancelled *prometheus.CounterVec
	placementFailed *prometheus.CounterVec

	// Гистограммы времени выполнения
	placementDuration prometheus.Histogram
	handlerDuration   *prometheus.HistogramVec

	// События
	outboxEvents     prometheus.Counter
	duplicateEvents  prometheus.Counter
	versionConflicts prometheus.Counter
	timeoutsArmed    prometheus.Counter
	timeoutArmFailed prometheus.Counter
}

// NewSagaMetrics создаёт новый экземпляр метрик саги.
func NewSagaMetrics() *SagaMetrics {
	return newSagaMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newSagaMetricsWithRegisterer(registerer prometheus.Registerer) *SagaMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &SagaMetrics{
		ordersPlaced: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shoporbit_orders_placed_total",
			Help: "Total number of orders placed",
		}),
		ordersPaid: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shoporbit_orders_paid_total",
			Help: "Total number of orders transitioned to paid",
		}),
		ordersCancelled: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shoporbit_orders_cancelled_total",
			Help: "Total number of orders cancelled grouped by reason",
		}, []string{"reason"}),
		placementFailed: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shoporbit_order_placement_failed_total",
			Help: "Total number of rejected order placements grouped by reason",
		}, []string{"reason"}),
		placementDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "shoporbit_order_placement_duration_seconds",
			Help:    "Duration of order placement in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		handlerDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "shoporbit_saga_handler_duration_seconds",
			Help:    "Duration of individual saga event handlers in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"handler"}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shoporbit_outbox_events_total",
			Help: "Total number of events enqueued to the transactional outbox",
		}),
		duplicateEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shoporbit_duplicate_events_total",
			Help: "Total number of event deliveries suppressed as duplicates",
		}),
		versionConflicts: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shoporbit_order_version_conflicts_total",
			Help: "Total number of optimistic locking conflicts on order updates",
		}),
		timeoutsArmed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shoporbit_order_timeouts_armed_total",
			Help: "Total number of order timeouts scheduled",
		}),
		timeoutArmFailed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shoporbit_order_timeout_arm_failed_total",
			Help: "Total number of orders left without an armed timeout",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordOrderPlaced увеличивает счётчик размещённых заказов.
func (m *SagaMetrics) RecordOrderPlaced() {
	m.ordersPlaced.Inc()
}

// RecordOrderPaid увеличивает счётчик оплаченных заказов.
func (m *SagaMetrics) RecordOrderPaid() {
	m.ordersPaid.Inc()
}

// RecordOrderCancelled увеличивает счётчик отменённых заказов по причине.
func (m *SagaMetrics) RecordOrderCancelled(reason string) {
	m.ordersCancelled.WithLabelValues(reason).Inc()
}

// RecordPlacementFailed увеличивает счётчик отклонённых оформлений.
func (m *SagaMetrics) RecordPlacementFailed(reason string) {
	m.placementFailed.WithLabelValues(reason).Inc()
}

// RecordPlacementDuration записывает время оформления заказа.
func (m *SagaMetrics) RecordPlacementDuration(duration time.Duration) {
	m.placementDuration.Observe(duration.Seconds())
}

// RecordHandlerDuration записывает время обработки события саги.
func (m *SagaMetrics) RecordHandlerDuration(handler string, duration time.Duration) {
	m.handlerDuration.WithLabelValues(handler).Observe(duration.Seconds())
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *SagaMetrics) RecordOutboxEvent() {
	m.outboxEvents.Inc()
}

// RecordDuplicateEvent увеличивает счётчик подавленных дублей.
func (m *SagaMetrics) RecordDuplicateEvent() {
	m.duplicateEvents.Inc()
}

// RecordVersionConflict увеличивает счётчик конфликтов optimistic locking.
func (m *SagaMetrics) RecordVersionConflict() {
	m.versionConflicts.Inc()
}

// RecordTimeoutArmed увеличивает счётчик поставленных таймаутов.
func (m *SagaMetrics) RecordTimeoutArmed() {
	m.timeoutsArmed.Inc()
}

// RecordTimeoutArmFailed увеличивает счётчик заказов без таймаута.
func (m *SagaMetrics) RecordTimeoutArmFailed() {
	m.timeoutArmFailed.Inc()
}
