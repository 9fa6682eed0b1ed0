package entitle

import "errors"

var (
	// ErrEntitlementNotFound is returned when an email has no entitlement record
	ErrEntitlementNotFound = errors.New("entitlement not found")

	// ErrTrialNotFound is returned when a device has no trial record
	ErrTrialNotFound = errors.New("trial not found")

	// ErrTrialExists is returned by storage when a trial record already exists
	ErrTrialExists = errors.New("trial already exists")

	// ErrTrialActive is returned when a device tries to start a second trial
	// while the first window is still open
	ErrTrialActive = errors.New("trial already active")

	// ErrTrialExpired is returned when a device whose trial window has closed
	// tries to start or use a trial
	ErrTrialExpired = errors.New("trial expired")

	// ErrDeviceBound is returned when the premium account is already bound to
	// another device
	ErrDeviceBound = errors.New("premium account already used on another device")

	// ErrPoolExhausted is returned when no trial server has spare capacity
	ErrPoolExhausted = errors.New("no trial server available")

	// ErrServerNotFound is returned when a server ID is not in the pool
	ErrServerNotFound = errors.New("server not found")

	// ErrInvalidEmail is returned for empty or malformed email input
	ErrInvalidEmail = errors.New("invalid email")

	// ErrInvalidDeviceID is returned for empty device identifiers where one is required
	ErrInvalidDeviceID = errors.New("invalid device id")

	// ErrStorageUnavailable is returned when storage is unavailable
	ErrStorageUnavailable = errors.New("storage unavailable")
)
