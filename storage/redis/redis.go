// Package redis provides a Redis implementation of the entitle.Storage
// interface. Server allocation runs as a Lua script so the capacity check
// and the increment are one atomic step.
package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/jephshield/vpnsub/pkg/entitle"
)

// Storage implements entitle.Storage using Redis.
type Storage struct {
	client      redis.UniversalClient
	config      Config
	allocateSha *redis.Script
	releaseSha  *redis.Script
}

// Config holds Redis storage configuration.
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "vpnsub:")
	KeyPrefix string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{KeyPrefix: "vpnsub:"}
}

// New creates a new Redis storage adapter.
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring.
func New(client redis.UniversalClient, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "vpnsub:"
	}

	return &Storage{
		client: client,
		config: config,

		// Walks the pool in insertion order and claims the first server
		// with spare capacity in the same script that increments it.
		allocateSha: redis.NewScript(`
			local ids = redis.call('LRANGE', KEYS[1], 0, -1)
			for i = 1, #ids do
				local key = ARGV[1] .. ids[i]
				local data = redis.call('GET', key)
				if data then
					local server = cjson.decode(data)
					local users = tonumber(server.current_users) or 0
					local capacity = tonumber(server.capacity) or 0
					if users < capacity then
						server.current_users = users + 1
						local encoded = cjson.encode(server)
						redis.call('SET', key, encoded)
						return encoded
					end
				end
			end
			return false
		`),

		releaseSha: redis.NewScript(`
			local data = redis.call('GET', KEYS[1])
			if not data then
				return false
			end
			local server = cjson.decode(data)
			local users = tonumber(server.current_users) or 0
			if users > 0 then
				server.current_users = users - 1
				redis.call('SET', KEYS[1], cjson.encode(server))
			end
			return true
		`),
	}, nil
}

// GetEntitlement implements entitle.Storage.
func (s *Storage) GetEntitlement(ctx context.Context, email string) (*entitle.Entitlement, error) {
	data, err := s.client.Get(ctx, s.entitlementKey(email)).Bytes()
	if err == redis.Nil {
		return nil, entitle.ErrEntitlementNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entitlement: %w", err)
	}

	var ent entitle.Entitlement
	if err := json.Unmarshal(data, &ent); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entitlement: %w", err)
	}
	return &ent, nil
}

// SetEntitlement implements entitle.Storage.
func (s *Storage) SetEntitlement(ctx context.Context, ent *entitle.Entitlement) error {
	if ent == nil || ent.Email == "" {
		return fmt.Errorf("invalid entitlement")
	}

	data, err := json.Marshal(ent)
	if err != nil {
		return fmt.Errorf("failed to marshal entitlement: %w", err)
	}
	if err := s.client.Set(ctx, s.entitlementKey(ent.Email), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set entitlement: %w", err)
	}
	return nil
}

// GetTrial implements entitle.Storage.
func (s *Storage) GetTrial(ctx context.Context, deviceID string) (*entitle.Trial, error) {
	data, err := s.client.Get(ctx, s.trialKey(deviceID)).Bytes()
	if err == redis.Nil {
		return nil, entitle.ErrTrialNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trial: %w", err)
	}

	var trial entitle.Trial
	if err := json.Unmarshal(data, &trial); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trial: %w", err)
	}
	return &trial, nil
}

// CreateTrial implements entitle.Storage. SETNX makes the write-once
// guarantee hold across concurrent callers.
func (s *Storage) CreateTrial(ctx context.Context, trial *entitle.Trial) error {
	if trial == nil || trial.DeviceID == "" {
		return fmt.Errorf("invalid trial")
	}

	data, err := json.Marshal(trial)
	if err != nil {
		return fmt.Errorf("failed to marshal trial: %w", err)
	}

	set, err := s.client.SetNX(ctx, s.trialKey(trial.DeviceID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to create trial: %w", err)
	}
	if !set {
		return entitle.ErrTrialExists
	}
	return nil
}

// AddServer implements entitle.Storage.
func (s *Storage) AddServer(ctx context.Context, server *entitle.Server) error {
	if server == nil || server.ID == "" {
		return fmt.Errorf("invalid server")
	}

	data, err := json.Marshal(server)
	if err != nil {
		return fmt.Errorf("failed to marshal server: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.serverKey(server.ID), data, 0)
	pipe.RPush(ctx, s.serverListKey(), server.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to add server: %w", err)
	}
	return nil
}

// ListServers implements entitle.Storage.
func (s *Storage) ListServers(ctx context.Context) ([]*entitle.Server, error) {
	ids, err := s.client.LRange(ctx, s.serverListKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}

	servers := make([]*entitle.Server, 0, len(ids))
	for _, id := range ids {
		data, err := s.client.Get(ctx, s.serverKey(id)).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get server %s: %w", id, err)
		}
		var server entitle.Server
		if err := json.Unmarshal(data, &server); err != nil {
			return nil, fmt.Errorf("failed to unmarshal server %s: %w", id, err)
		}
		servers = append(servers, &server)
	}
	return servers, nil
}

// RemoveServer implements entitle.Storage.
func (s *Storage) RemoveServer(ctx context.Context, id string) error {
	deleted, err := s.client.Del(ctx, s.serverKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to remove server: %w", err)
	}
	if deleted == 0 {
		return entitle.ErrServerNotFound
	}
	if err := s.client.LRem(ctx, s.serverListKey(), 0, id).Err(); err != nil {
		return fmt.Errorf("failed to remove server from pool list: %w", err)
	}
	return nil
}

// AllocateServer implements entitle.Storage.
func (s *Storage) AllocateServer(ctx context.Context) (*entitle.Server, error) {
	result, err := s.allocateSha.Run(ctx, s.client,
		[]string{s.serverListKey()}, s.config.KeyPrefix+"server:").Result()
	if err == redis.Nil || result == nil {
		return nil, entitle.ErrPoolExhausted
	}
	if err != nil {
		return nil, fmt.Errorf("failed to allocate server: %w", err)
	}

	encoded, ok := result.(string)
	if !ok {
		return nil, entitle.ErrPoolExhausted
	}

	var server entitle.Server
	if err := json.Unmarshal([]byte(encoded), &server); err != nil {
		return nil, fmt.Errorf("failed to unmarshal allocated server: %w", err)
	}
	return &server, nil
}

// ReleaseServer implements entitle.Storage.
func (s *Storage) ReleaseServer(ctx context.Context, id string) error {
	result, err := s.releaseSha.Run(ctx, s.client, []string{s.serverKey(id)}).Result()
	if err == redis.Nil || result == nil {
		return entitle.ErrServerNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to release server: %w", err)
	}
	return nil
}

// Ping checks Redis connectivity.
func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (s *Storage) Close() error {
	return s.client.Close()
}

func (s *Storage) entitlementKey(email string) string {
	return s.config.KeyPrefix + "entitlement:" + email
}

func (s *Storage) trialKey(deviceID string) string {
	return s.config.KeyPrefix + "trial:" + deviceID
}

func (s *Storage) serverKey(id string) string {
	return s.config.KeyPrefix + "server:" + id
}

func (s *Storage) serverListKey() string {
	return s.config.KeyPrefix + "servers"
}
