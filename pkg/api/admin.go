package api

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/jephshield/vpnsub/pkg/entitle"
)

const defaultSessionTTL = 12 * time.Hour

// sessionStore holds issued admin tokens. Tokens are opaque random values;
// nothing about the admin is derivable from them.
type sessionStore struct {
	mu     sync.Mutex
	tokens map[string]time.Time
	ttl    time.Duration
}

func newSessionStore(ttlSeconds int64) *sessionStore {
	ttl := defaultSessionTTL
	if ttlSeconds > 0 {
		ttl = time.Duration(ttlSeconds) * time.Second
	}
	return &sessionStore{
		tokens: make(map[string]time.Time),
		ttl:    ttl,
	}
}

func (s *sessionStore) issue() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	token := hex.EncodeToString(buf)

	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for t, expires := range s.tokens {
		if now.After(expires) {
			delete(s.tokens, t)
		}
	}
	s.tokens[token] = now.Add(s.ttl)
	return token, nil
}

func (s *sessionStore) valid(token string) bool {
	if token == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	expires, ok := s.tokens[token]
	if !ok {
		return false
	}
	if time.Now().After(expires) {
		delete(s.tokens, token)
		return false
	}
	return true
}

// Login authenticates the admin and issues a bearer token for the server
// pool endpoints.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMessage(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.config.Admin.Username == "" || len(h.config.Admin.PasswordHash) == 0 {
		writeMessage(w, http.StatusServiceUnavailable, "admin access not configured")
		return
	}

	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// Both checks always run so a wrong username costs the same as a
	// wrong password.
	userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(h.config.Admin.Username)) == 1
	passErr := bcrypt.CompareHashAndPassword(h.config.Admin.PasswordHash, []byte(req.Password))
	if !userOK || passErr != nil {
		writeMessage(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := h.sessions.issue()
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{Message: "login successful", Token: token})
}

// RequireAdmin wraps a handler with bearer-token authentication against
// sessions issued by Login.
func (h *Handler) RequireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth := strings.TrimSpace(r.Header.Get("Authorization"))
		token := ""
		if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
			token = strings.TrimSpace(auth[len("bearer "):])
		}
		if !h.sessions.valid(token) {
			writeMessage(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

// CreateServer adds a VPN server to the trial pool.
func (h *Handler) CreateServer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMessage(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req ServerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.IP) == "" || strings.TrimSpace(req.Username) == "" || req.Password == "" {
		writeMessage(w, http.StatusBadRequest, "ip, username and password are required")
		return
	}

	server := &entitle.Server{
		IP:       strings.TrimSpace(req.IP),
		Port:     req.Port,
		Country:  strings.TrimSpace(req.Country),
		Location: strings.TrimSpace(req.Location),
		Username: strings.TrimSpace(req.Username),
		Password: req.Password,
		Tags:     req.Tags,
		Capacity: req.Capacity,
	}
	if err := h.config.Manager.AddServer(r.Context(), server); err != nil {
		h.logger.Error("failed to add server",
			entitle.Field{Key: "ip", Value: server.IP},
			entitle.Field{Key: "error", Value: err.Error()})
		writeMessage(w, http.StatusInternalServerError, "failed to add server")
		return
	}

	writeJSON(w, http.StatusCreated, serverInfo(server))
}

// ListServers returns the full trial pool, credentials included.
func (h *Handler) ListServers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMessage(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	servers, err := h.config.Manager.ListServers(r.Context())
	if err != nil {
		h.logger.Error("failed to list servers",
			entitle.Field{Key: "error", Value: err.Error()})
		writeMessage(w, http.StatusInternalServerError, "failed to list servers")
		return
	}

	infos := make([]ServerInfo, 0, len(servers))
	for _, s := range servers {
		infos = append(infos, serverInfo(s))
	}
	writeJSON(w, http.StatusOK, infos)
}

// DeleteServer removes a server from the pool by id (?id= query parameter).
func (h *Handler) DeleteServer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeMessage(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		writeMessage(w, http.StatusBadRequest, "id is required")
		return
	}

	if err := h.config.Manager.RemoveServer(r.Context(), id); err != nil {
		if errors.Is(err, entitle.ErrServerNotFound) {
			writeMessage(w, http.StatusNotFound, "server not found")
			return
		}
		h.logger.Error("failed to remove server",
			entitle.Field{Key: "server_id", Value: id},
			entitle.Field{Key: "error", Value: err.Error()})
		writeMessage(w, http.StatusInternalServerError, "failed to remove server")
		return
	}

	writeMessage(w, http.StatusOK, "server removed")
}

func serverInfo(s *entitle.Server) ServerInfo {
	return ServerInfo{
		ID:       s.ID,
		IP:       s.IP,
		Port:     s.Port,
		Country:  s.Country,
		Location: s.Location,
		Username: s.Username,
		Password: s.Password,
		Tags:     s.Tags,
		Capacity: s.Capacity,
		Users:    s.Users,
	}
}
