package entitle

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

const (
	// DefaultTrialDuration is the trial window length when none is configured
	DefaultTrialDuration = 72 * time.Hour

	// DefaultServerCapacity is applied to pool entries added without a capacity
	DefaultServerCapacity = 10
)

// Manager manages premium entitlements, trial windows and the trial server
// pool on top of a Storage backend. All mutations go through Storage, which
// serializes them; the Manager itself holds no mutable state.
type Manager struct {
	storage Storage
	config  Config
	logger  Logger
	metrics Metrics
	now     func() time.Time
}

// NewManager creates a new entitlement manager with the given storage and
// configuration.
func NewManager(storage Storage, config Config) (*Manager, error) {
	if storage == nil {
		return nil, ErrStorageUnavailable
	}

	// Set defaults
	if config.TrialDuration <= 0 {
		config.TrialDuration = DefaultTrialDuration
	}
	if config.BindingPolicy == "" {
		config.BindingPolicy = BindingOverwrite
	}

	logger := config.Logger
	if logger == nil {
		logger = &NoopLogger{}
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = &NoopMetrics{}
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}

	return &Manager{
		storage: storage,
		config:  config,
		logger:  logger,
		metrics: metrics,
		now:     now,
	}, nil
}

// Grant marks an email as premium after a verified payment.
// Granting is idempotent: a second grant leaves the premium flag unchanged.
// With device binding enabled, a repeat payment carrying a different device
// either rebinds (BindingOverwrite) or fails with ErrDeviceBound
// (BindingReject).
func (m *Manager) Grant(ctx context.Context, email, deviceID string) error {
	if err := validateEmail(email); err != nil {
		m.metrics.RecordGrant(string(m.config.BindingPolicy), false, false)
		return err
	}
	if m.config.DeviceBinding && strings.TrimSpace(deviceID) == "" {
		m.metrics.RecordGrant(string(m.config.BindingPolicy), false, false)
		return ErrInvalidDeviceID
	}

	now := m.now().UTC()

	ent, err := m.getEntitlement(ctx, email)
	if err != nil && !errors.Is(err, ErrEntitlementNotFound) {
		m.metrics.RecordGrant(string(m.config.BindingPolicy), false, false)
		return err
	}

	rebound := false
	if ent == nil {
		ent = &Entitlement{
			Email:     email,
			Premium:   true,
			GrantedAt: now,
		}
	} else if m.config.DeviceBinding && ent.DeviceID != "" && ent.DeviceID != deviceID {
		if m.config.BindingPolicy == BindingReject {
			m.metrics.RecordGrant(string(m.config.BindingPolicy), false, false)
			m.logger.Warn("grant rejected: device already bound",
				Field{Key: "email", Value: email},
				Field{Key: "device_id", Value: deviceID})
			return ErrDeviceBound
		}
		rebound = true
	}

	ent.Premium = true
	if m.config.DeviceBinding {
		ent.DeviceID = deviceID
	}
	ent.UpdatedAt = now

	if err := m.setEntitlement(ctx, ent); err != nil {
		m.metrics.RecordGrant(string(m.config.BindingPolicy), rebound, false)
		return err
	}

	m.metrics.RecordGrant(string(m.config.BindingPolicy), rebound, true)
	m.logger.Info("entitlement granted",
		Field{Key: "email", Value: email},
		Field{Key: "device_id", Value: deviceID},
		Field{Key: "rebound", Value: rebound})
	return nil
}

// IsPremium reports whether an email holds a premium entitlement.
// With device binding enabled the bound device must match the queried
// device; an entitlement stored without a device matches any device.
func (m *Manager) IsPremium(ctx context.Context, email, deviceID string) (bool, error) {
	start := m.now()

	ent, err := m.getEntitlement(ctx, email)
	if err != nil {
		if errors.Is(err, ErrEntitlementNotFound) {
			m.metrics.RecordPremiumCheck(false, m.now().Sub(start))
			return false, nil
		}
		return false, err
	}

	premium := ent.Premium
	if premium && m.config.DeviceBinding && ent.DeviceID != "" {
		premium = ent.DeviceID == deviceID
	}

	m.metrics.RecordPremiumCheck(premium, m.now().Sub(start))
	return premium, nil
}

// StartTrial opens the trial window for a device. A device gets exactly one
// window; repeating the call while the window is open returns ErrTrialActive
// (with the current status, so callers can report the shrinking remainder),
// and repeating it after expiry returns ErrTrialExpired. There is no path
// back to an unstarted state.
func (m *Manager) StartTrial(ctx context.Context, deviceID, email string) (*TrialStatus, error) {
	if strings.TrimSpace(deviceID) == "" {
		return nil, ErrInvalidDeviceID
	}
	if err := validateEmail(email); err != nil {
		return nil, err
	}

	// A premium account bound to another device cannot start a trial here.
	if m.config.DeviceBinding {
		ent, err := m.getEntitlement(ctx, email)
		if err != nil && !errors.Is(err, ErrEntitlementNotFound) {
			return nil, err
		}
		if ent != nil && ent.Premium && ent.DeviceID != "" && ent.DeviceID != deviceID {
			m.metrics.RecordTrialStart("conflict")
			return nil, ErrDeviceBound
		}
	}

	trial, err := m.getTrial(ctx, deviceID)
	if err != nil && !errors.Is(err, ErrTrialNotFound) {
		return nil, err
	}
	if trial != nil {
		return m.evaluateExisting(trial)
	}

	trial = &Trial{
		DeviceID:  deviceID,
		Email:     email,
		StartedAt: m.now().UTC(),
	}
	if err := m.createTrial(ctx, trial); err != nil {
		if errors.Is(err, ErrTrialExists) {
			// Lost a race with a concurrent start for the same device;
			// report against the record that won.
			existing, getErr := m.getTrial(ctx, deviceID)
			if getErr != nil {
				return nil, getErr
			}
			return m.evaluateExisting(existing)
		}
		m.metrics.RecordTrialStart("error")
		return nil, err
	}

	m.metrics.RecordTrialStart("started")
	m.logger.Info("trial started",
		Field{Key: "device_id", Value: deviceID},
		Field{Key: "email", Value: email})
	return m.status(trial), nil
}

// TrialStatus evaluates the current trial state for a device.
// Returns ErrTrialNotFound when the device never started one.
func (m *Manager) TrialStatus(ctx context.Context, deviceID string) (*TrialStatus, error) {
	if strings.TrimSpace(deviceID) == "" {
		return nil, ErrInvalidDeviceID
	}

	trial, err := m.getTrial(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	return m.status(trial), nil
}

// AllocateTrialServer assigns a pool server to a device with an active trial.
// The capacity check and increment happen atomically inside storage, so the
// pool can never over-commit. Returns ErrPoolExhausted when every server is
// full.
func (m *Manager) AllocateTrialServer(ctx context.Context, deviceID string) (*Server, error) {
	status, err := m.TrialStatus(ctx, deviceID)
	if err != nil {
		m.metrics.RecordAllocation(false)
		return nil, err
	}
	if status.State != TrialStateActive {
		m.metrics.RecordAllocation(false)
		return nil, ErrTrialExpired
	}

	start := m.now()
	server, err := m.storage.AllocateServer(ctx)
	m.metrics.RecordStorageOperation("allocate_server", m.now().Sub(start), err)
	if err != nil {
		m.metrics.RecordAllocation(false)
		if errors.Is(err, ErrPoolExhausted) {
			m.logger.Warn("trial server pool exhausted",
				Field{Key: "device_id", Value: deviceID})
		}
		return nil, err
	}

	m.metrics.RecordAllocation(true)
	m.logger.Info("trial server allocated",
		Field{Key: "device_id", Value: deviceID},
		Field{Key: "server_id", Value: server.ID},
		Field{Key: "users", Value: server.Users})
	return server, nil
}

// ReleaseServer returns one seat on a server to the pool. Called when a
// trial lease ends, so the pool does not fill monotonically.
func (m *Manager) ReleaseServer(ctx context.Context, serverID string) error {
	start := m.now()
	err := m.storage.ReleaseServer(ctx, serverID)
	m.metrics.RecordStorageOperation("release_server", m.now().Sub(start), err)
	return err
}

// AddServer adds a server to the trial pool, assigning an ID and default
// capacity when missing.
func (m *Manager) AddServer(ctx context.Context, server *Server) error {
	if server == nil || strings.TrimSpace(server.IP) == "" {
		return errors.New("server ip is required")
	}
	if server.ID == "" {
		server.ID = newServerID()
	}
	if server.Capacity <= 0 {
		server.Capacity = DefaultServerCapacity
	}
	if server.CreatedAt.IsZero() {
		server.CreatedAt = m.now().UTC()
	}

	start := m.now()
	err := m.storage.AddServer(ctx, server)
	m.metrics.RecordStorageOperation("add_server", m.now().Sub(start), err)
	return err
}

// ListServers returns the trial server pool.
func (m *Manager) ListServers(ctx context.Context) ([]*Server, error) {
	start := m.now()
	servers, err := m.storage.ListServers(ctx)
	m.metrics.RecordStorageOperation("list_servers", m.now().Sub(start), err)
	return servers, err
}

// RemoveServer deletes a server from the trial pool.
func (m *Manager) RemoveServer(ctx context.Context, id string) error {
	start := m.now()
	err := m.storage.RemoveServer(ctx, id)
	m.metrics.RecordStorageOperation("remove_server", m.now().Sub(start), err)
	return err
}

// TrialDuration returns the configured trial window length.
func (m *Manager) TrialDuration() time.Duration {
	return m.config.TrialDuration
}

func (m *Manager) evaluateExisting(trial *Trial) (*TrialStatus, error) {
	status := m.status(trial)
	switch status.State {
	case TrialStateActive:
		m.metrics.RecordTrialStart("active")
		return status, ErrTrialActive
	default:
		m.metrics.RecordTrialStart("expired")
		return status, ErrTrialExpired
	}
}

// status evaluates a trial record against the clock. Expiry is purely an
// elapsed-time comparison.
func (m *Manager) status(trial *Trial) *TrialStatus {
	expiresAt := trial.StartedAt.Add(m.config.TrialDuration)
	remaining := expiresAt.Sub(m.now())

	state := TrialStateActive
	if remaining <= 0 {
		state = TrialStateExpired
		remaining = 0
	}

	return &TrialStatus{
		State:     state,
		StartedAt: trial.StartedAt,
		ExpiresAt: expiresAt,
		Remaining: remaining,
	}
}

func (m *Manager) getEntitlement(ctx context.Context, email string) (*Entitlement, error) {
	start := m.now()
	ent, err := m.storage.GetEntitlement(ctx, email)
	m.metrics.RecordStorageOperation("get_entitlement", m.now().Sub(start), err)
	return ent, err
}

func (m *Manager) setEntitlement(ctx context.Context, ent *Entitlement) error {
	start := m.now()
	err := m.storage.SetEntitlement(ctx, ent)
	m.metrics.RecordStorageOperation("set_entitlement", m.now().Sub(start), err)
	return err
}

func (m *Manager) getTrial(ctx context.Context, deviceID string) (*Trial, error) {
	start := m.now()
	trial, err := m.storage.GetTrial(ctx, deviceID)
	m.metrics.RecordStorageOperation("get_trial", m.now().Sub(start), err)
	return trial, err
}

func (m *Manager) createTrial(ctx context.Context, trial *Trial) error {
	start := m.now()
	err := m.storage.CreateTrial(ctx, trial)
	m.metrics.RecordStorageOperation("create_trial", m.now().Sub(start), err)
	return err
}

func validateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" || !strings.Contains(email, "@") {
		return ErrInvalidEmail
	}
	return nil
}

// newServerID generates a short random pool entry ID.
func newServerID() string {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "srv_unknown"
	}
	return "srv_" + hex.EncodeToString(b[:])
}
