package prommetrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics implements entitle.Metrics using Prometheus.
type Metrics struct {
	grantsTotal          *prometheus.CounterVec
	premiumChecksTotal   *prometheus.CounterVec
	premiumCheckDuration prometheus.Histogram
	trialStartsTotal     *prometheus.CounterVec
	allocationsTotal     *prometheus.CounterVec
	storageOpsDuration   *prometheus.HistogramVec
	storageOpsErrors     *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics implementation.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		grantsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entitlement_grants_total",
			Help:      "Total number of entitlement grant attempts.",
		}, []string{"policy", "rebound", "success"}),

		premiumChecksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "premium_checks_total",
			Help:      "Total number of premium status checks.",
		}, []string{"premium"}),

		premiumCheckDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "premium_check_duration_seconds",
			Help:      "Latency of premium status checks.",
			Buckets:   prometheus.DefBuckets,
		}),

		trialStartsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trial_starts_total",
			Help:      "Total number of trial start attempts by outcome.",
		}, []string{"outcome"}),

		allocationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "server_allocations_total",
			Help:      "Total number of trial server allocation attempts.",
		}, []string{"success"}),

		storageOpsDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "storage_operation_duration_seconds",
			Help:      "Latency of storage operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		storageOpsErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_operation_errors_total",
			Help:      "Total number of storage operation errors.",
		}, []string{"operation"}),
	}
}

func (m *Metrics) RecordGrant(policy string, rebound, success bool) {
	m.grantsTotal.WithLabelValues(policy, strconv.FormatBool(rebound), strconv.FormatBool(success)).Inc()
}

func (m *Metrics) RecordPremiumCheck(premium bool, duration time.Duration) {
	m.premiumChecksTotal.WithLabelValues(strconv.FormatBool(premium)).Inc()
	m.premiumCheckDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordTrialStart(outcome string) {
	m.trialStartsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordAllocation(success bool) {
	m.allocationsTotal.WithLabelValues(strconv.FormatBool(success)).Inc()
}

func (m *Metrics) RecordStorageOperation(operation string, duration time.Duration, err error) {
	m.storageOpsDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.storageOpsErrors.WithLabelValues(operation).Inc()
	}
}

// DefaultMetrics returns a Metrics implementation using the default Prometheus registerer.
func DefaultMetrics(namespace string) *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer, namespace)
}
