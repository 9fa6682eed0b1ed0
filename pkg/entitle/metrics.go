package entitle

import "time"

// Metrics defines the interface for tracking entitlement operations.
type Metrics interface {
	// RecordGrant records an entitlement grant attempt.
	// rebound is true when an existing binding moved to a new device.
	RecordGrant(policy string, rebound, success bool)

	// RecordPremiumCheck records the outcome and duration of a premium check.
	RecordPremiumCheck(premium bool, duration time.Duration)

	// RecordTrialStart records a trial start attempt.
	// outcome is one of "started", "active", "expired", "conflict", "error".
	RecordTrialStart(outcome string)

	// RecordAllocation records a trial server allocation attempt.
	RecordAllocation(success bool)

	// RecordStorageOperation records the duration and status of a storage operation.
	RecordStorageOperation(operation string, duration time.Duration, err error)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordGrant(policy string, rebound, success bool)                           {}
func (n *NoopMetrics) RecordPremiumCheck(premium bool, duration time.Duration)                    {}
func (n *NoopMetrics) RecordTrialStart(outcome string)                                            {}
func (n *NoopMetrics) RecordAllocation(success bool)                                              {}
func (n *NoopMetrics) RecordStorageOperation(operation string, duration time.Duration, err error) {}
