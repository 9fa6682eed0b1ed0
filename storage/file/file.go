// Package file provides a single-file JSON implementation of the
// entitle.Storage interface, suited to single-process deployments that need
// state to survive restarts without running a database. The whole state is
// rewritten on every mutation via a temp file and an atomic rename.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/jephshield/vpnsub/pkg/entitle"
)

// Storage implements entitle.Storage backed by one JSON file.
type Storage struct {
	mu   sync.Mutex
	path string
	data *fileData
}

type fileData struct {
	Entitlements map[string]*entitle.Entitlement `json:"entitlements"`
	Trials       map[string]*entitle.Trial       `json:"trials"`
	Servers      []*entitle.Server               `json:"servers"`
}

// New creates a file storage adapter, loading existing state when the file
// is present.
func New(path string) (*Storage, error) {
	if path == "" {
		return nil, fmt.Errorf("file path is required")
	}

	s := &Storage{
		path: path,
		data: &fileData{
			Entitlements: make(map[string]*entitle.Entitlement),
			Trials:       make(map[string]*entitle.Trial),
		},
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, s.data); err != nil {
			return nil, fmt.Errorf("failed to parse state file: %w", err)
		}
	}
	if s.data.Entitlements == nil {
		s.data.Entitlements = make(map[string]*entitle.Entitlement)
	}
	if s.data.Trials == nil {
		s.data.Trials = make(map[string]*entitle.Trial)
	}
	return s, nil
}

// persist writes the full state under the lock. The temp file lands in the
// same directory so the rename stays on one filesystem.
func (s *Storage) persist() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".vpnsub-state-*")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()        //nolint:errcheck
		os.Remove(tmpName) //nolint:errcheck
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()        //nolint:errcheck
		os.Remove(tmpName) //nolint:errcheck
		return fmt.Errorf("failed to sync state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName) //nolint:errcheck
		return fmt.Errorf("failed to close state file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName) //nolint:errcheck
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// GetEntitlement implements entitle.Storage.
func (s *Storage) GetEntitlement(_ context.Context, email string) (*entitle.Entitlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.data.Entitlements[email]
	if !ok {
		return nil, entitle.ErrEntitlementNotFound
	}
	copied := *ent
	return &copied, nil
}

// SetEntitlement implements entitle.Storage.
func (s *Storage) SetEntitlement(_ context.Context, ent *entitle.Entitlement) error {
	if ent == nil || ent.Email == "" {
		return fmt.Errorf("invalid entitlement")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *ent
	s.data.Entitlements[ent.Email] = &copied
	return s.persist()
}

// GetTrial implements entitle.Storage.
func (s *Storage) GetTrial(_ context.Context, deviceID string) (*entitle.Trial, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	trial, ok := s.data.Trials[deviceID]
	if !ok {
		return nil, entitle.ErrTrialNotFound
	}
	copied := *trial
	return &copied, nil
}

// CreateTrial implements entitle.Storage.
func (s *Storage) CreateTrial(_ context.Context, trial *entitle.Trial) error {
	if trial == nil || trial.DeviceID == "" {
		return fmt.Errorf("invalid trial")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data.Trials[trial.DeviceID]; exists {
		return entitle.ErrTrialExists
	}
	copied := *trial
	s.data.Trials[trial.DeviceID] = &copied
	return s.persist()
}

// AddServer implements entitle.Storage.
func (s *Storage) AddServer(_ context.Context, server *entitle.Server) error {
	if server == nil || server.ID == "" {
		return fmt.Errorf("invalid server")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data.Servers = append(s.data.Servers, copyServer(server))
	return s.persist()
}

// ListServers implements entitle.Storage.
func (s *Storage) ListServers(_ context.Context) ([]*entitle.Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	servers := make([]*entitle.Server, 0, len(s.data.Servers))
	for _, server := range s.data.Servers {
		servers = append(servers, copyServer(server))
	}
	return servers, nil
}

// RemoveServer implements entitle.Storage.
func (s *Storage) RemoveServer(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, server := range s.data.Servers {
		if server.ID == id {
			s.data.Servers = append(s.data.Servers[:i], s.data.Servers[i+1:]...)
			return s.persist()
		}
	}
	return entitle.ErrServerNotFound
}

// AllocateServer implements entitle.Storage. The pick and the increment
// happen under one lock and are durable before returning.
func (s *Storage) AllocateServer(_ context.Context) (*entitle.Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, server := range s.data.Servers {
		if server.HasCapacity() {
			server.Users++
			if err := s.persist(); err != nil {
				server.Users--
				return nil, err
			}
			return copyServer(server), nil
		}
	}
	return nil, entitle.ErrPoolExhausted
}

// ReleaseServer implements entitle.Storage.
func (s *Storage) ReleaseServer(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, server := range s.data.Servers {
		if server.ID == id {
			if server.Users > 0 {
				server.Users--
				return s.persist()
			}
			return nil
		}
	}
	return entitle.ErrServerNotFound
}

func copyServer(server *entitle.Server) *entitle.Server {
	copied := *server
	if server.Tags != nil {
		copied.Tags = append([]string(nil), server.Tags...)
	}
	return &copied
}
