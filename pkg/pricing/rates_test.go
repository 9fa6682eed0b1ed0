package pricing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestRate_CachesWithinTTL(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"result":"success","rates":{"NGN":1500}}`)) //nolint:errcheck
	}))
	defer srv.Close()

	source := NewRateSource(RateSourceConfig{Endpoint: srv.URL, TTL: time.Hour})

	for i := 0; i < 3; i++ {
		rate, approx, err := source.Rate(context.Background(), "NGN")
		if err != nil {
			t.Fatalf("Rate failed: %v", err)
		}
		if rate != 1500 || approx {
			t.Fatalf("expected exact rate 1500, got %v approx=%v", rate, approx)
		}
	}

	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("expected 1 upstream call, got %d", n)
	}
}

func TestRate_ServesStaleOnFailure(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"result":"success","rates":{"NGN":1500}}`)) //nolint:errcheck
	}))
	defer srv.Close()

	current := time.Now()
	source := NewRateSource(RateSourceConfig{
		Endpoint: srv.URL,
		TTL:      time.Hour,
		Now:      func() time.Time { return current },
	})

	if _, _, err := source.Rate(context.Background(), "NGN"); err != nil {
		t.Fatalf("warmup fetch failed: %v", err)
	}

	// Expire the cache, then break the upstream.
	current = current.Add(2 * time.Hour)
	fail.Store(true)

	rate, approx, err := source.Rate(context.Background(), "NGN")
	if err != nil {
		t.Fatalf("expected stale rate, got error: %v", err)
	}
	if rate != 1500 || !approx {
		t.Errorf("expected stale 1500 marked approximate, got %v approx=%v", rate, approx)
	}
}

func TestRate_FallbackWhenNoCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	source := NewRateSource(RateSourceConfig{Endpoint: srv.URL})

	rate, approx, err := source.Rate(context.Background(), "NGN")
	if err != nil {
		t.Fatalf("expected fallback rate, got error: %v", err)
	}
	if rate != FallbackRateNGN || !approx {
		t.Errorf("expected fallback %v marked approximate, got %v approx=%v", FallbackRateNGN, rate, approx)
	}

	// No fallback configured for this currency.
	if _, _, err := source.Rate(context.Background(), "KES"); !errors.Is(err, ErrRateUnavailable) {
		t.Errorf("expected ErrRateUnavailable, got %v", err)
	}
}

func TestRate_USDIsAlwaysOne(t *testing.T) {
	source := NewRateSource(RateSourceConfig{Endpoint: "http://127.0.0.1:1"})

	rate, approx, err := source.Rate(context.Background(), "usd")
	if err != nil || rate != 1 || approx {
		t.Errorf("expected exact 1 for USD without network, got %v approx=%v err=%v", rate, approx, err)
	}
}
