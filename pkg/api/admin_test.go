package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/jephshield/vpnsub/pkg/api"
	"github.com/jephshield/vpnsub/pkg/entitle"
	"github.com/jephshield/vpnsub/storage/memory"
)

func newAdminHandler(t *testing.T) *api.Handler {
	t.Helper()
	manager, err := entitle.NewManager(memory.New(), entitle.Config{})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt failed: %v", err)
	}
	handler, err := api.NewHandler(api.Config{
		Manager:  manager,
		Provider: &stubProvider{},
		Pricer:   fixedPricer(t),
		Admin:    api.AdminConfig{Username: "admin", PasswordHash: hash},
	})
	if err != nil {
		t.Fatalf("NewHandler failed: %v", err)
	}
	return handler
}

func login(t *testing.T, handler *api.Handler, username, password string) (*httptest.ResponseRecorder, string) {
	t.Helper()
	w := postJSON(t, handler.Login, "/api/login", api.LoginRequest{Username: username, Password: password})
	var resp api.LoginResponse
	if w.Code == http.StatusOK {
		decodeBody(t, w, &resp)
	}
	return w, resp.Token
}

func TestLogin(t *testing.T) {
	handler := newAdminHandler(t)

	if w, _ := login(t, handler, "admin", "wrong"); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong password: expected 401, got %d", w.Code)
	}
	if w, _ := login(t, handler, "root", "hunter2"); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong username: expected 401, got %d", w.Code)
	}

	w, token := login(t, handler, "admin", "hunter2")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if token == "" {
		t.Error("expected a session token")
	}
}

func TestServerCRUD_RequiresAuth(t *testing.T) {
	handler := newAdminHandler(t)
	guarded := handler.RequireAdmin(handler.ListServers)

	req := httptest.NewRequest(http.MethodGet, "/api/vpn-servers", http.NoBody)
	w := httptest.NewRecorder()
	guarded(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", w.Code)
	}

	req.Header.Set("Authorization", "Bearer not-a-real-token")
	w = httptest.NewRecorder()
	guarded(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with bogus token, got %d", w.Code)
	}
}

func TestServerCRUD(t *testing.T) {
	handler := newAdminHandler(t)
	_, token := login(t, handler, "admin", "hunter2")

	authed := func(method, path string, body []byte) *httptest.ResponseRecorder {
		var req *http.Request
		if body != nil {
			req = httptest.NewRequest(method, path, bytes.NewReader(body))
		} else {
			req = httptest.NewRequest(method, path, http.NoBody)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		switch {
		case method == http.MethodPost:
			handler.RequireAdmin(handler.CreateServer)(w, req)
		case method == http.MethodGet:
			handler.RequireAdmin(handler.ListServers)(w, req)
		default:
			handler.RequireAdmin(handler.DeleteServer)(w, req)
		}
		return w
	}

	body, _ := json.Marshal(api.ServerRequest{
		IP:       "185.199.1.10",
		Port:     51820,
		Location: "Frankfurt",
		Username: "trial",
		Password: "wg-secret",
		Capacity: 5,
	})
	w := authed(http.MethodPost, "/api/vpn-servers", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var created api.ServerInfo
	decodeBody(t, w, &created)
	if created.ID == "" {
		t.Error("expected an assigned server id")
	}

	w = authed(http.MethodGet, "/api/vpn-servers", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var listed []api.ServerInfo
	decodeBody(t, w, &listed)
	if len(listed) != 1 || listed[0].IP != "185.199.1.10" {
		t.Errorf("unexpected server list %+v", listed)
	}

	// Missing required fields.
	bad, _ := json.Marshal(api.ServerRequest{IP: "1.2.3.4"})
	if w := authed(http.MethodPost, "/api/vpn-servers", bad); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for incomplete server, got %d", w.Code)
	}

	w = authed(http.MethodDelete, "/api/vpn-servers?id="+created.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 on delete, got %d: %s", w.Code, w.Body.String())
	}

	if w := authed(http.MethodDelete, "/api/vpn-servers?id="+created.ID, nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 deleting twice, got %d", w.Code)
	}
}
