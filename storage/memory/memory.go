// Package memory provides an in-memory implementation of the entitle.Storage
// interface. This implementation is primarily intended for testing and
// development.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/jephshield/vpnsub/pkg/entitle"
)

// Storage implements entitle.Storage using in-memory maps.
// A single mutex serializes every mutation, so read-modify-write sequences
// such as AllocateServer are atomic.
type Storage struct {
	mu           sync.RWMutex
	entitlements map[string]*entitle.Entitlement
	trials       map[string]*entitle.Trial
	servers      []*entitle.Server
}

// New creates a new in-memory storage adapter.
func New() *Storage {
	return &Storage{
		entitlements: make(map[string]*entitle.Entitlement),
		trials:       make(map[string]*entitle.Trial),
	}
}

// GetEntitlement implements entitle.Storage.
func (s *Storage) GetEntitlement(ctx context.Context, email string) (*entitle.Entitlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ent, ok := s.entitlements[email]
	if !ok {
		return nil, entitle.ErrEntitlementNotFound
	}

	// Return a copy to prevent external mutations
	entCopy := *ent
	return &entCopy, nil
}

// SetEntitlement implements entitle.Storage.
func (s *Storage) SetEntitlement(ctx context.Context, ent *entitle.Entitlement) error {
	if ent == nil || ent.Email == "" {
		return fmt.Errorf("invalid entitlement")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entCopy := *ent
	s.entitlements[ent.Email] = &entCopy
	return nil
}

// GetTrial implements entitle.Storage.
func (s *Storage) GetTrial(ctx context.Context, deviceID string) (*entitle.Trial, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trial, ok := s.trials[deviceID]
	if !ok {
		return nil, entitle.ErrTrialNotFound
	}

	trialCopy := *trial
	return &trialCopy, nil
}

// CreateTrial implements entitle.Storage. Trial records are write-once.
func (s *Storage) CreateTrial(ctx context.Context, trial *entitle.Trial) error {
	if trial == nil || trial.DeviceID == "" {
		return fmt.Errorf("invalid trial")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.trials[trial.DeviceID]; exists {
		return entitle.ErrTrialExists
	}

	trialCopy := *trial
	s.trials[trial.DeviceID] = &trialCopy
	return nil
}

// AddServer implements entitle.Storage.
func (s *Storage) AddServer(ctx context.Context, server *entitle.Server) error {
	if server == nil || server.ID == "" {
		return fmt.Errorf("invalid server")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	serverCopy := copyServer(server)
	s.servers = append(s.servers, serverCopy)
	return nil
}

// ListServers implements entitle.Storage.
func (s *Storage) ListServers(ctx context.Context) ([]*entitle.Server, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	servers := make([]*entitle.Server, 0, len(s.servers))
	for _, server := range s.servers {
		servers = append(servers, copyServer(server))
	}
	return servers, nil
}

// RemoveServer implements entitle.Storage.
func (s *Storage) RemoveServer(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, server := range s.servers {
		if server.ID == id {
			s.servers = append(s.servers[:i], s.servers[i+1:]...)
			return nil
		}
	}
	return entitle.ErrServerNotFound
}

// AllocateServer implements entitle.Storage. The capacity check and the
// increment happen under the same lock.
func (s *Storage) AllocateServer(ctx context.Context) (*entitle.Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, server := range s.servers {
		if server.HasCapacity() {
			server.Users++
			return copyServer(server), nil
		}
	}
	return nil, entitle.ErrPoolExhausted
}

// ReleaseServer implements entitle.Storage.
func (s *Storage) ReleaseServer(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, server := range s.servers {
		if server.ID == id {
			if server.Users > 0 {
				server.Users--
			}
			return nil
		}
	}
	return entitle.ErrServerNotFound
}

// Clear removes all data (useful for testing).
func (s *Storage) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entitlements = make(map[string]*entitle.Entitlement)
	s.trials = make(map[string]*entitle.Trial)
	s.servers = nil
}

func copyServer(server *entitle.Server) *entitle.Server {
	serverCopy := *server
	if server.Tags != nil {
		serverCopy.Tags = append([]string(nil), server.Tags...)
	}
	return &serverCopy
}
