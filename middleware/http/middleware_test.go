package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jephshield/vpnsub/pkg/entitle"
	"github.com/jephshield/vpnsub/storage/memory"
)

// Test helper to create a test manager
func setupTestManager(t *testing.T) *entitle.Manager {
	t.Helper()

	manager, err := entitle.NewManager(memory.New(), entitle.Config{
		TrialDuration: 72 * time.Hour,
	})
	require.NoError(t, err)
	return manager
}

func grantPremium(t *testing.T, manager *entitle.Manager, email string) {
	t.Helper()
	require.NoError(t, manager.Grant(context.Background(), email, "device-1"))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
}

func TestMiddleware_PremiumAllowed(t *testing.T) {
	manager := setupTestManager(t)
	grantPremium(t, manager, "ada@example.com")

	handler := Middleware(Config{
		Manager:  manager,
		GetEmail: EmailFromHeader("X-User-Email"),
	})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/servers", nil)
	req.Header.Set("X-User-Email", "ada@example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestMiddleware_NoEmail(t *testing.T) {
	handler := Middleware(Config{
		Manager:  setupTestManager(t),
		GetEmail: EmailFromHeader("X-User-Email"),
	})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/servers", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddleware_NotPremium(t *testing.T) {
	handler := Middleware(Config{
		Manager:  setupTestManager(t),
		GetEmail: EmailFromHeader("X-User-Email"),
	})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/servers", nil)
	req.Header.Set("X-User-Email", "free@example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMiddleware_TrialAdmitted(t *testing.T) {
	manager := setupTestManager(t)
	_, err := manager.StartTrial(context.Background(), "device-7", "trial@example.com")
	require.NoError(t, err)

	handler := Middleware(Config{
		Manager:    manager,
		GetEmail:   EmailFromHeader("X-User-Email"),
		AllowTrial: true,
	})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/servers", nil)
	req.Header.Set("X-User-Email", "trial@example.com")
	req.Header.Set("X-Device-ID", "device-7")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddleware_TrialDeniedWithoutAllowTrial(t *testing.T) {
	manager := setupTestManager(t)
	_, err := manager.StartTrial(context.Background(), "device-7", "trial@example.com")
	require.NoError(t, err)

	handler := Middleware(Config{
		Manager:  manager,
		GetEmail: EmailFromHeader("X-User-Email"),
	})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/servers", nil)
	req.Header.Set("X-User-Email", "trial@example.com")
	req.Header.Set("X-Device-ID", "device-7")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMiddleware_CustomDenied(t *testing.T) {
	called := false
	handler := Middleware(Config{
		Manager:  setupTestManager(t),
		GetEmail: EmailFromHeader("X-User-Email"),
		OnDenied: func(w http.ResponseWriter, r *http.Request) {
			called = true
			w.WriteHeader(http.StatusPaymentRequired)
		},
	})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/servers", nil)
	req.Header.Set("X-User-Email", "free@example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.True(t, called)
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
}

func TestMiddleware_EmailFromContext(t *testing.T) {
	manager := setupTestManager(t)
	grantPremium(t, manager, "ada@example.com")

	handler := Middleware(Config{
		Manager:  manager,
		GetEmail: EmailFromContext(EmailKey),
	})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/servers", nil)
	req = req.WithContext(WithEmail(req.Context(), "ada@example.com"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandlerFunc(t *testing.T) {
	manager := setupTestManager(t)
	grantPremium(t, manager, "ada@example.com")

	wrapped := HandlerFunc(Config{
		Manager:  manager,
		GetEmail: EmailFromQuery("email"),
	})(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/servers?email=ada@example.com", nil)
	rec := httptest.NewRecorder()
	wrapped(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
