package entitle

import "time"

// TrialState describes where a device sits in the trial lifecycle.
type TrialState string

const (
	// TrialStateNone means the device has never started a trial
	TrialStateNone TrialState = "none"
	// TrialStateActive means the trial window is still open
	TrialStateActive TrialState = "active"
	// TrialStateExpired means the trial window has closed and can never reopen
	TrialStateExpired TrialState = "expired"
)

// BindingPolicy controls what happens when a verified payment arrives for an
// email that is already bound to a different device.
type BindingPolicy string

const (
	// BindingOverwrite rebinds the entitlement to the device of the latest
	// successful payment (latest payment wins).
	BindingOverwrite BindingPolicy = "overwrite"
	// BindingReject refuses the rebind and keeps the original device.
	BindingReject BindingPolicy = "reject"
)

// Entitlement represents the premium status granted to an email after a
// verified payment. At most one device is bound to an email at any time.
// Entitlements are created and updated only through Manager.Grant; there is
// no deletion path.
type Entitlement struct {
	// Email is the identity key, treated case-sensitively as given
	Email string `json:"email"`

	// Premium is the paid flag; once true it stays true
	Premium bool `json:"premium"`

	// DeviceID is the bound client device (empty when binding is not in use)
	DeviceID string `json:"device_id,omitempty"`

	// GrantedAt is when the first successful payment was processed
	GrantedAt time.Time `json:"granted_at"`

	// UpdatedAt is when the record last changed (re-grants update the binding)
	UpdatedAt time.Time `json:"updated_at"`
}

// Trial represents a single non-renewable trial window for a device.
// The record is immutable after creation; expiry is computed on read from
// StartedAt, never via a background timer.
type Trial struct {
	// DeviceID is the identity key
	DeviceID string `json:"device_id"`

	// Email is the address the trial was requested for
	Email string `json:"email"`

	// StartedAt is when the window opened
	StartedAt time.Time `json:"started_at"`
}

// TrialStatus is the evaluated state of a trial at a point in time.
type TrialStatus struct {
	State     TrialState
	StartedAt time.Time
	ExpiresAt time.Time

	// Remaining is how long until expiry (zero once expired)
	Remaining time.Duration
}

// Server is one entry in the trial VPN server pool.
// Invariant: CurrentUsers <= Capacity at every observable point.
type Server struct {
	ID        string    `json:"id"`
	IP        string    `json:"ip"`
	Port      int       `json:"port"`
	Country   string    `json:"country"`
	Location  string    `json:"location"`
	Username  string    `json:"username"`
	Password  string    `json:"password"`
	Tags      []string  `json:"tags,omitempty"`
	Capacity  int       `json:"capacity"`
	Users     int       `json:"current_users"`
	CreatedAt time.Time `json:"created_at"`
}

// HasCapacity reports whether the server can take another user.
func (s *Server) HasCapacity() bool {
	return s.Users < s.Capacity
}

// Config holds entitlement manager configuration.
type Config struct {
	// TrialDuration is the length of the trial window (default: 72 hours)
	TrialDuration time.Duration

	// DeviceBinding enables device binding: grants record the paying device
	// and premium checks require a matching device
	DeviceBinding bool

	// BindingPolicy selects what a repeat payment with a new device does
	// when DeviceBinding is enabled (default: BindingOverwrite)
	BindingPolicy BindingPolicy

	// Logger is used for structured logging (default: NoopLogger)
	Logger Logger

	// Metrics is used for tracking entitlement operations (default: NoopMetrics)
	Metrics Metrics

	// Now overrides the time source (default: time.Now). Used by tests to
	// drive the trial state machine deterministically.
	Now func() time.Time
}
