package prommetrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestPrometheusMetrics_NewMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	if metrics == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestPrometheusMetrics_RecordGrant(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordGrant("overwrite", false, true)
	metrics.RecordGrant("overwrite", true, true)
	metrics.RecordGrant("reject", false, false)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	if got := counterValue(families, "test_entitlement_grants_total"); got != 3 {
		t.Errorf("Expected 3 grant samples, got %v", got)
	}
}

func TestPrometheusMetrics_RecordPremiumCheck(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordPremiumCheck(true, 2*time.Millisecond)
	metrics.RecordPremiumCheck(false, 3*time.Millisecond)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	if got := counterValue(families, "test_premium_checks_total"); got != 2 {
		t.Errorf("Expected 2 premium check samples, got %v", got)
	}
}

func TestPrometheusMetrics_RecordTrialStart(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordTrialStart("started")
	metrics.RecordTrialStart("active")
	metrics.RecordTrialStart("expired")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	if got := counterValue(families, "test_trial_starts_total"); got != 3 {
		t.Errorf("Expected 3 trial start samples, got %v", got)
	}
}

func TestPrometheusMetrics_RecordStorageOperation(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordStorageOperation("set_entitlement", 5*time.Millisecond, nil)
	metrics.RecordStorageOperation("set_entitlement", 5*time.Millisecond, errors.New("boom"))

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	if got := counterValue(families, "test_storage_operation_errors_total"); got != 1 {
		t.Errorf("Expected 1 storage error sample, got %v", got)
	}
}

// counterValue sums every sample of a counter family.
func counterValue(families []*dto.MetricFamily, name string) float64 {
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		total := 0.0
		for _, metric := range family.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
		return total
	}
	return -1
}
