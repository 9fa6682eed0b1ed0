package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jephshield/vpnsub/pkg/entitle"
)

func TestEntitlementRoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.GetEntitlement(ctx, "a@x.com"); !errors.Is(err, entitle.ErrEntitlementNotFound) {
		t.Fatalf("Expected ErrEntitlementNotFound, got %v", err)
	}

	ent := &entitle.Entitlement{
		Email:     "a@x.com",
		Premium:   true,
		DeviceID:  "device-1",
		GrantedAt: time.Now().UTC(),
	}
	if err := s.SetEntitlement(ctx, ent); err != nil {
		t.Fatalf("SetEntitlement failed: %v", err)
	}

	got, err := s.GetEntitlement(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("GetEntitlement failed: %v", err)
	}
	if !got.Premium || got.DeviceID != "device-1" {
		t.Errorf("Unexpected entitlement: %+v", got)
	}

	// Mutating the returned copy must not affect the stored record
	got.Premium = false
	again, _ := s.GetEntitlement(ctx, "a@x.com")
	if !again.Premium {
		t.Error("Stored entitlement was mutated through a returned copy")
	}
}

func TestCreateTrial_WriteOnce(t *testing.T) {
	s := New()
	ctx := context.Background()

	trial := &entitle.Trial{DeviceID: "device-1", Email: "a@x.com", StartedAt: time.Now().UTC()}
	if err := s.CreateTrial(ctx, trial); err != nil {
		t.Fatalf("CreateTrial failed: %v", err)
	}

	if err := s.CreateTrial(ctx, trial); !errors.Is(err, entitle.ErrTrialExists) {
		t.Errorf("Expected ErrTrialExists on second create, got %v", err)
	}
}

func TestAllocateServer_RespectsCapacity(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.AddServer(ctx, &entitle.Server{ID: "srv-1", IP: "10.0.0.1", Capacity: 2}); err != nil {
		t.Fatalf("AddServer failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := s.AllocateServer(ctx); err != nil {
			t.Fatalf("Allocation %d failed: %v", i, err)
		}
	}

	if _, err := s.AllocateServer(ctx); !errors.Is(err, entitle.ErrPoolExhausted) {
		t.Errorf("Expected ErrPoolExhausted, got %v", err)
	}

	if err := s.ReleaseServer(ctx, "srv-1"); err != nil {
		t.Fatalf("ReleaseServer failed: %v", err)
	}
	if _, err := s.AllocateServer(ctx); err != nil {
		t.Errorf("Expected allocation to succeed after release, got %v", err)
	}
}

func TestAllocateServer_PicksFirstWithCapacity(t *testing.T) {
	s := New()
	ctx := context.Background()

	_ = s.AddServer(ctx, &entitle.Server{ID: "srv-1", IP: "10.0.0.1", Capacity: 1})
	_ = s.AddServer(ctx, &entitle.Server{ID: "srv-2", IP: "10.0.0.2", Capacity: 1})

	first, err := s.AllocateServer(ctx)
	if err != nil {
		t.Fatalf("AllocateServer failed: %v", err)
	}
	if first.ID != "srv-1" {
		t.Errorf("Expected first allocation from srv-1, got %s", first.ID)
	}

	second, err := s.AllocateServer(ctx)
	if err != nil {
		t.Fatalf("AllocateServer failed: %v", err)
	}
	if second.ID != "srv-2" {
		t.Errorf("Expected spillover to srv-2, got %s", second.ID)
	}
}

// TestAllocateServer_ConcurrentNeverOvercommits drives many goroutines at a
// small pool and verifies currentUsers <= capacity at every observed point.
func TestAllocateServer_ConcurrentNeverOvercommits(t *testing.T) {
	s := New()
	ctx := context.Background()

	const capacity = 25
	_ = s.AddServer(ctx, &entitle.Server{ID: "srv-1", IP: "10.0.0.1", Capacity: capacity})

	var wg sync.WaitGroup
	var mu sync.Mutex
	allocated := 0

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.AllocateServer(ctx); err == nil {
				mu.Lock()
				allocated++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allocated != capacity {
		t.Errorf("Expected exactly %d successful allocations, got %d", capacity, allocated)
	}

	servers, _ := s.ListServers(ctx)
	if servers[0].Users != capacity {
		t.Errorf("Expected currentUsers == capacity, got %d", servers[0].Users)
	}
}

func TestRemoveServer(t *testing.T) {
	s := New()
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		_ = s.AddServer(ctx, &entitle.Server{ID: fmt.Sprintf("srv-%d", i), IP: fmt.Sprintf("10.0.0.%d", i), Capacity: 1})
	}

	if err := s.RemoveServer(ctx, "srv-2"); err != nil {
		t.Fatalf("RemoveServer failed: %v", err)
	}
	if err := s.RemoveServer(ctx, "srv-2"); !errors.Is(err, entitle.ErrServerNotFound) {
		t.Errorf("Expected ErrServerNotFound, got %v", err)
	}

	servers, _ := s.ListServers(ctx)
	if len(servers) != 2 {
		t.Errorf("Expected 2 servers, got %d", len(servers))
	}
}
