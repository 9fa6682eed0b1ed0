// Package firestore provides a Firestore implementation of the
// entitle.Storage interface. Trial creation and server allocation run in
// Firestore transactions so their invariants hold across concurrent
// backend instances.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/jephshield/vpnsub/pkg/entitle"
)

// Storage implements entitle.Storage using Google Cloud Firestore.
type Storage struct {
	client                 *firestore.Client
	entitlementsCollection string
	trialsCollection       string
	serversCollection      string
}

// Config holds Firestore storage configuration.
type Config struct {
	// EntitlementsCollection is the collection for premium entitlements
	// Default: "vpn_entitlements"
	EntitlementsCollection string

	// TrialsCollection is the collection for trial records
	// Default: "vpn_trials"
	TrialsCollection string

	// ServersCollection is the collection for the trial server pool
	// Default: "vpn_servers"
	ServersCollection string
}

// New creates a new Firestore storage adapter.
func New(client *firestore.Client, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}
	if config.EntitlementsCollection == "" {
		config.EntitlementsCollection = "vpn_entitlements"
	}
	if config.TrialsCollection == "" {
		config.TrialsCollection = "vpn_trials"
	}
	if config.ServersCollection == "" {
		config.ServersCollection = "vpn_servers"
	}

	return &Storage{
		client:                 client,
		entitlementsCollection: config.EntitlementsCollection,
		trialsCollection:       config.TrialsCollection,
		serversCollection:      config.ServersCollection,
	}, nil
}

// GetEntitlement implements entitle.Storage.
func (s *Storage) GetEntitlement(ctx context.Context, email string) (*entitle.Entitlement, error) {
	snap, err := s.client.Collection(s.entitlementsCollection).Doc(email).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, entitle.ErrEntitlementNotFound
		}
		return nil, fmt.Errorf("failed to get entitlement: %w", err)
	}

	data := snap.Data()
	return &entitle.Entitlement{
		Email:     email,
		Premium:   getBool(data, "premium"),
		DeviceID:  getString(data, "deviceId"),
		GrantedAt: getTime(data, "grantedAt"),
		UpdatedAt: getTime(data, "updatedAt"),
	}, nil
}

// SetEntitlement implements entitle.Storage.
func (s *Storage) SetEntitlement(ctx context.Context, ent *entitle.Entitlement) error {
	if ent == nil || ent.Email == "" {
		return fmt.Errorf("invalid entitlement")
	}

	_, err := s.client.Collection(s.entitlementsCollection).Doc(ent.Email).Set(ctx, map[string]interface{}{
		"premium":   ent.Premium,
		"deviceId":  ent.DeviceID,
		"grantedAt": ent.GrantedAt,
		"updatedAt": ent.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to set entitlement: %w", err)
	}
	return nil
}

// GetTrial implements entitle.Storage.
func (s *Storage) GetTrial(ctx context.Context, deviceID string) (*entitle.Trial, error) {
	snap, err := s.client.Collection(s.trialsCollection).Doc(deviceID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, entitle.ErrTrialNotFound
		}
		return nil, fmt.Errorf("failed to get trial: %w", err)
	}

	data := snap.Data()
	return &entitle.Trial{
		DeviceID:  deviceID,
		Email:     getString(data, "email"),
		StartedAt: getTime(data, "startedAt"),
	}, nil
}

// CreateTrial implements entitle.Storage. Create fails when the document
// already exists, which keeps the record write-once.
func (s *Storage) CreateTrial(ctx context.Context, trial *entitle.Trial) error {
	if trial == nil || trial.DeviceID == "" {
		return fmt.Errorf("invalid trial")
	}

	_, err := s.client.Collection(s.trialsCollection).Doc(trial.DeviceID).Create(ctx, map[string]interface{}{
		"email":     trial.Email,
		"startedAt": trial.StartedAt,
	})
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return entitle.ErrTrialExists
		}
		return fmt.Errorf("failed to create trial: %w", err)
	}
	return nil
}

// AddServer implements entitle.Storage.
func (s *Storage) AddServer(ctx context.Context, server *entitle.Server) error {
	if server == nil || server.ID == "" {
		return fmt.Errorf("invalid server")
	}

	_, err := s.client.Collection(s.serversCollection).Doc(server.ID).Set(ctx, serverData(server))
	if err != nil {
		return fmt.Errorf("failed to add server: %w", err)
	}
	return nil
}

// ListServers implements entitle.Storage.
func (s *Storage) ListServers(ctx context.Context) ([]*entitle.Server, error) {
	snaps, err := s.client.Collection(s.serversCollection).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}

	servers := make([]*entitle.Server, 0, len(snaps))
	for _, snap := range snaps {
		servers = append(servers, serverFromDoc(snap.Ref.ID, snap.Data()))
	}
	sortServers(servers)
	return servers, nil
}

// RemoveServer implements entitle.Storage.
func (s *Storage) RemoveServer(ctx context.Context, id string) error {
	doc := s.client.Collection(s.serversCollection).Doc(id)
	if _, err := doc.Get(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return entitle.ErrServerNotFound
		}
		return fmt.Errorf("failed to get server: %w", err)
	}
	if _, err := doc.Delete(ctx); err != nil {
		return fmt.Errorf("failed to remove server: %w", err)
	}
	return nil
}

// AllocateServer implements entitle.Storage. The read and the increment
// run in one transaction; Firestore retries it on contention, so two
// callers can never both claim the last slot.
func (s *Storage) AllocateServer(ctx context.Context) (*entitle.Server, error) {
	var allocated *entitle.Server

	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snaps, err := tx.Documents(s.client.Collection(s.serversCollection)).GetAll()
		if err != nil {
			return fmt.Errorf("failed to read server pool: %w", err)
		}

		servers := make([]*entitle.Server, 0, len(snaps))
		for _, snap := range snaps {
			servers = append(servers, serverFromDoc(snap.Ref.ID, snap.Data()))
		}
		sortServers(servers)

		for _, server := range servers {
			if !server.HasCapacity() {
				continue
			}
			server.Users++
			if err := tx.Update(s.client.Collection(s.serversCollection).Doc(server.ID),
				[]firestore.Update{{Path: "users", Value: server.Users}}); err != nil {
				return fmt.Errorf("failed to claim server: %w", err)
			}
			allocated = server
			return nil
		}
		return entitle.ErrPoolExhausted
	})
	if err != nil {
		if errors.Is(err, entitle.ErrPoolExhausted) {
			return nil, entitle.ErrPoolExhausted
		}
		return nil, err
	}
	return allocated, nil
}

// ReleaseServer implements entitle.Storage.
func (s *Storage) ReleaseServer(ctx context.Context, id string) error {
	doc := s.client.Collection(s.serversCollection).Doc(id)

	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(doc)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return entitle.ErrServerNotFound
			}
			return fmt.Errorf("failed to get server: %w", err)
		}

		users := int(getInt64(snap.Data(), "users"))
		if users <= 0 {
			return nil
		}
		return tx.Update(doc, []firestore.Update{{Path: "users", Value: users - 1}})
	})
	if err != nil {
		if errors.Is(err, entitle.ErrServerNotFound) {
			return entitle.ErrServerNotFound
		}
		return err
	}
	return nil
}

func serverData(server *entitle.Server) map[string]interface{} {
	return map[string]interface{}{
		"ip":        server.IP,
		"port":      server.Port,
		"country":   server.Country,
		"location":  server.Location,
		"username":  server.Username,
		"password":  server.Password,
		"tags":      server.Tags,
		"capacity":  server.Capacity,
		"users":     server.Users,
		"createdAt": server.CreatedAt,
	}
}

func serverFromDoc(id string, data map[string]interface{}) *entitle.Server {
	return &entitle.Server{
		ID:        id,
		IP:        getString(data, "ip"),
		Port:      int(getInt64(data, "port")),
		Country:   getString(data, "country"),
		Location:  getString(data, "location"),
		Username:  getString(data, "username"),
		Password:  getString(data, "password"),
		Tags:      getStrings(data, "tags"),
		Capacity:  int(getInt64(data, "capacity")),
		Users:     int(getInt64(data, "users")),
		CreatedAt: getTime(data, "createdAt"),
	}
}

// sortServers orders the pool by creation time so allocation walks it the
// same way every backend does.
func sortServers(servers []*entitle.Server) {
	sort.Slice(servers, func(i, j int) bool {
		if servers[i].CreatedAt.Equal(servers[j].CreatedAt) {
			return servers[i].ID < servers[j].ID
		}
		return servers[i].CreatedAt.Before(servers[j].CreatedAt)
	})
}

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func getBool(data map[string]interface{}, key string) bool {
	if v, ok := data[key].(bool); ok {
		return v
	}
	return false
}

func getInt64(data map[string]interface{}, key string) int64 {
	if v, ok := data[key].(int64); ok {
		return v
	}
	return 0
}

func getTime(data map[string]interface{}, key string) time.Time {
	if v, ok := data[key].(time.Time); ok {
		return v
	}
	return time.Time{}
}

func getStrings(data map[string]interface{}, key string) []string {
	raw, ok := data[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
