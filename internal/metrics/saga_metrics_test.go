package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewSagaMetrics(t *testing.T) {
	metrics := NewSagaMetrics()

	if metrics == nil {
		t.Fatal("NewSagaMetrics should not return nil")
	}
	if metrics.ordersPlaced == nil {
		t.Error("ordersPlaced counter should not be nil")
	}
	if metrics.ordersCancelled == nil {
		t.Error("ordersCancelled counter vec should not be nil")
	}
	if metrics.placementDuration == nil {
		t.Error("placementDuration histogram should not be nil")
	}
	if metrics.handlerDuration == nil {
		t.Error("handlerDuration histogram vec should not be nil")
	}
}

func TestNewSagaMetricsIsIdempotent(t *testing.T) {
	registry := prometheus.NewRegistry()

	first := newSagaMetricsWithRegisterer(registry)
	second := newSagaMetricsWithRegisterer(registry)

	first.RecordOrderPlaced()
	second.RecordOrderPlaced()

	if got := testutil.ToFloat64(first.ordersPlaced); got != 2 {
		t.Fatalf("expected shared counter value 2, got %v", got)
	}
}

func TestRecordCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newSagaMetricsWithRegisterer(registry)

	metrics.RecordOrderPaid()
	metrics.RecordOrderCancelled("timeout")
	metrics.RecordOrderCancelled("timeout")
	metrics.RecordPlacementFailed("system_busy")
	metrics.RecordDuplicateEvent()
	metrics.RecordVersionConflict()
	metrics.RecordTimeoutArmed()
	metrics.RecordTimeoutArmFailed()
	metrics.RecordOutboxEvent()
	metrics.RecordPlacementDuration(50 * time.Millisecond)
	metrics.RecordHandlerDuration("payment_succeeded", 10*time.Millisecond)

	if got := testutil.ToFloat64(metrics.ordersPaid); got != 1 {
		t.Errorf("expected 1 paid order, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.ordersCancelled.WithLabelValues("timeout")); got != 2 {
		t.Errorf("expected 2 timeout cancellations, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.placementFailed.WithLabelValues("system_busy")); got != 1 {
		t.Errorf("expected 1 rejected placement, got %v", got)
	}
}
