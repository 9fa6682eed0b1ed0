package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jephshield/vpnsub/pkg/entitle"
)

// setupTestRedis creates a Redis client for testing.
// Requires Redis running on localhost:6379; skips otherwise.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test database: %v", err)
	}
	return client
}

func setupStorage(t *testing.T) *Storage {
	t.Helper()
	storage, err := New(setupTestRedis(t), DefaultConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return storage
}

func TestNew_NilClient(t *testing.T) {
	if _, err := New(nil, DefaultConfig()); err == nil {
		t.Error("expected error for nil client")
	}
}

func TestEntitlementRoundTrip(t *testing.T) {
	storage := setupStorage(t)
	ctx := context.Background()

	if _, err := storage.GetEntitlement(ctx, "ada@example.com"); !errors.Is(err, entitle.ErrEntitlementNotFound) {
		t.Fatalf("expected ErrEntitlementNotFound, got %v", err)
	}

	ent := &entitle.Entitlement{
		Email:     "ada@example.com",
		Premium:   true,
		DeviceID:  "device-1",
		GrantedAt: time.Now().UTC().Truncate(time.Second),
		UpdatedAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := storage.SetEntitlement(ctx, ent); err != nil {
		t.Fatalf("SetEntitlement failed: %v", err)
	}

	got, err := storage.GetEntitlement(ctx, "ada@example.com")
	if err != nil {
		t.Fatalf("GetEntitlement failed: %v", err)
	}
	if !got.Premium || got.DeviceID != "device-1" {
		t.Errorf("unexpected entitlement %+v", got)
	}
}

func TestCreateTrial_WriteOnce(t *testing.T) {
	storage := setupStorage(t)
	ctx := context.Background()

	trial := &entitle.Trial{DeviceID: "device-1", StartedAt: time.Now().UTC()}
	if err := storage.CreateTrial(ctx, trial); err != nil {
		t.Fatalf("CreateTrial failed: %v", err)
	}
	if err := storage.CreateTrial(ctx, trial); !errors.Is(err, entitle.ErrTrialExists) {
		t.Errorf("expected ErrTrialExists on second create, got %v", err)
	}

	got, err := storage.GetTrial(ctx, "device-1")
	if err != nil {
		t.Fatalf("GetTrial failed: %v", err)
	}
	if got.DeviceID != "device-1" {
		t.Errorf("unexpected trial %+v", got)
	}
}

func TestServerPool(t *testing.T) {
	storage := setupStorage(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		server := &entitle.Server{
			ID:       fmt.Sprintf("srv_%d", i),
			IP:       fmt.Sprintf("10.0.0.%d", i+1),
			Username: "trial",
			Password: "secret",
			Capacity: 1,
		}
		if err := storage.AddServer(ctx, server); err != nil {
			t.Fatalf("AddServer failed: %v", err)
		}
	}

	servers, err := storage.ListServers(ctx)
	if err != nil {
		t.Fatalf("ListServers failed: %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("expected 2 servers, got %d", len(servers))
	}

	// Fill both slots, then the pool is exhausted.
	first, err := storage.AllocateServer(ctx)
	if err != nil {
		t.Fatalf("AllocateServer failed: %v", err)
	}
	if first.ID != "srv_0" || first.Users != 1 {
		t.Errorf("expected first server claimed in order, got %+v", first)
	}
	if _, err := storage.AllocateServer(ctx); err != nil {
		t.Fatalf("second AllocateServer failed: %v", err)
	}
	if _, err := storage.AllocateServer(ctx); !errors.Is(err, entitle.ErrPoolExhausted) {
		t.Errorf("expected ErrPoolExhausted, got %v", err)
	}

	// Releasing frees a slot.
	if err := storage.ReleaseServer(ctx, "srv_0"); err != nil {
		t.Fatalf("ReleaseServer failed: %v", err)
	}
	again, err := storage.AllocateServer(ctx)
	if err != nil {
		t.Fatalf("AllocateServer after release failed: %v", err)
	}
	if again.ID != "srv_0" {
		t.Errorf("expected released server reallocated, got %+v", again)
	}

	if err := storage.RemoveServer(ctx, "srv_1"); err != nil {
		t.Fatalf("RemoveServer failed: %v", err)
	}
	if err := storage.RemoveServer(ctx, "srv_1"); !errors.Is(err, entitle.ErrServerNotFound) {
		t.Errorf("expected ErrServerNotFound on double remove, got %v", err)
	}
	if err := storage.ReleaseServer(ctx, "srv_missing"); !errors.Is(err, entitle.ErrServerNotFound) {
		t.Errorf("expected ErrServerNotFound releasing unknown server, got %v", err)
	}
}

func TestAllocateServer_ConcurrentNeverOvercommits(t *testing.T) {
	storage := setupStorage(t)
	ctx := context.Background()

	if err := storage.AddServer(ctx, &entitle.Server{
		ID:       "srv_0",
		IP:       "10.0.0.1",
		Username: "trial",
		Password: "secret",
		Capacity: 10,
	}); err != nil {
		t.Fatalf("AddServer failed: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	allocated := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := storage.AllocateServer(ctx); err == nil {
				mu.Lock()
				allocated++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allocated != 10 {
		t.Errorf("expected exactly 10 allocations at capacity 10, got %d", allocated)
	}
}
