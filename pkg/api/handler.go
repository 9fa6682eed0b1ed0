package api

import (
	"encoding/json"
	"errors"
	"math"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jephshield/vpnsub/pkg/billing"
	"github.com/jephshield/vpnsub/pkg/entitle"
)

const maxRequestBodyBytes = 1 << 20

// Handler provides the HTTP endpoints for the subscription backend.
type Handler struct {
	config   Config
	logger   entitle.Logger
	sessions *sessionStore
}

// Subscribe initiates a checkout and returns the provider authorization URL.
func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMessage(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req SubscribeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		writeMessage(w, http.StatusBadRequest, "a valid email is required")
		return
	}

	country := strings.ToUpper(strings.TrimSpace(req.CountryCode))
	if country == "" && h.config.Geo != nil {
		country = h.config.Geo.Country(r.Context(), clientIP(r))
	}

	var amountMinor int64
	var currency string
	switch {
	case strings.TrimSpace(req.Plan) != "":
		quote, err := h.config.Pricer.Quote(r.Context(), country, req.Plan)
		if err != nil {
			writeMessage(w, http.StatusBadRequest, "unknown plan")
			return
		}
		amountMinor = quote.AmountMinor
		currency = quote.Currency
	case req.Amount > 0:
		// Explicit major-unit amount, charged as-is.
		currency = strings.ToUpper(strings.TrimSpace(req.Currency))
		if currency == "" {
			currency = h.config.Pricer.CurrencyFor(country)
		}
		amountMinor = int64(math.Round(req.Amount * 100))
	default:
		writeMessage(w, http.StatusBadRequest, "plan or amount is required")
		return
	}

	checkout, err := h.config.Provider.InitializeTransaction(r.Context(), &billing.CheckoutRequest{
		Email:       email,
		AmountMinor: amountMinor,
		Currency:    currency,
		DeviceID:    strings.TrimSpace(req.DeviceID),
	})
	if err != nil {
		h.logger.Error("checkout initialization failed",
			entitle.Field{Key: "email", Value: email},
			entitle.Field{Key: "error", Value: err.Error()})
		writeMessage(w, http.StatusInternalServerError, "payment initialization failed")
		return
	}

	writeJSON(w, http.StatusOK, SubscribeResponse{AuthorizationURL: checkout.AuthorizationURL})
}

// VerifyPayment reconciles a transaction by reference, the path taken when
// the provider redirects the payer back before the webhook lands.
func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMessage(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	reference := strings.TrimSpace(r.URL.Query().Get("reference"))
	if reference == "" {
		writeMessage(w, http.StatusBadRequest, "reference is required")
		return
	}

	verification, err := h.config.Provider.VerifyTransaction(r.Context(), reference)
	if err != nil {
		if errors.Is(err, billing.ErrTransactionNotFound) {
			writeMessage(w, http.StatusNotFound, "transaction not found")
			return
		}
		h.logger.Error("payment verification failed",
			entitle.Field{Key: "reference", Value: reference},
			entitle.Field{Key: "error", Value: err.Error()})
		writeMessage(w, http.StatusInternalServerError, "payment verification failed")
		return
	}

	message := "payment not successful"
	if verification.Granted {
		message = "payment verified"
	}
	writeJSON(w, http.StatusOK, VerifyResponse{
		Message:   message,
		Reference: verification.Reference,
		Status:    verification.Status,
		Granted:   verification.Granted,
	})
}

// IsPremium reports whether an account holds a premium entitlement usable
// from the given device.
func (h *Handler) IsPremium(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMessage(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	email := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("email")))
	if email == "" {
		writeMessage(w, http.StatusBadRequest, "email is required")
		return
	}
	deviceID := strings.TrimSpace(r.URL.Query().Get("deviceId"))

	premium, err := h.config.Manager.IsPremium(r.Context(), email, deviceID)
	if err != nil {
		h.logger.Error("premium check failed",
			entitle.Field{Key: "email", Value: email},
			entitle.Field{Key: "error", Value: err.Error()})
		writeMessage(w, http.StatusInternalServerError, "premium check failed")
		return
	}

	writeJSON(w, http.StatusOK, PremiumResponse{Email: email, IsPremium: premium})
}

// StartTrial begins the one-time free trial for a device.
func (h *Handler) StartTrial(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMessage(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req TrialRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	deviceID := strings.TrimSpace(req.DeviceID)
	if deviceID == "" {
		writeMessage(w, http.StatusBadRequest, "deviceId is required")
		return
	}

	status, err := h.config.Manager.StartTrial(r.Context(), deviceID, strings.ToLower(strings.TrimSpace(req.Email)))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, TrialResponse{
			Message:     "trial started",
			TrialActive: true,
			ExpiresIn:   remainingSeconds(status),
		})
	case errors.Is(err, entitle.ErrTrialActive):
		writeJSON(w, http.StatusForbidden, TrialResponse{
			Message:     "trial already active on this device",
			TrialActive: true,
			ExpiresIn:   remainingSeconds(status),
		})
	case errors.Is(err, entitle.ErrTrialExpired):
		writeJSON(w, http.StatusForbidden, TrialResponse{
			Message:     "trial already used on this device",
			TrialActive: false,
		})
	case errors.Is(err, entitle.ErrDeviceBound):
		writeJSON(w, http.StatusForbidden, TrialResponse{
			Message:     "premium account already used on another device",
			TrialActive: false,
		})
	case errors.Is(err, entitle.ErrInvalidDeviceID), errors.Is(err, entitle.ErrInvalidEmail):
		writeMessage(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("trial start failed",
			entitle.Field{Key: "device_id", Value: deviceID},
			entitle.Field{Key: "error", Value: err.Error()})
		writeMessage(w, http.StatusInternalServerError, "failed to start trial")
	}
}

// GetTrialServer allocates a VPN server from the trial pool for an active
// trial device and returns its connection credentials.
func (h *Handler) GetTrialServer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMessage(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req TrialServerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	deviceID := strings.TrimSpace(req.DeviceID)
	if deviceID == "" {
		writeMessage(w, http.StatusBadRequest, "deviceId is required")
		return
	}

	server, err := h.config.Manager.AllocateTrialServer(r.Context(), deviceID)
	if err != nil {
		switch {
		case errors.Is(err, entitle.ErrPoolExhausted):
			writeMessage(w, http.StatusServiceUnavailable, "no trial servers available, try again later")
		case errors.Is(err, entitle.ErrTrialNotFound), errors.Is(err, entitle.ErrTrialExpired):
			writeMessage(w, http.StatusForbidden, "no active trial for this device")
		default:
			h.logger.Error("trial server allocation failed",
				entitle.Field{Key: "device_id", Value: deviceID},
				entitle.Field{Key: "error", Value: err.Error()})
			writeMessage(w, http.StatusInternalServerError, "failed to allocate server")
		}
		return
	}

	expires := ""
	if status, err := h.config.Manager.TrialStatus(r.Context(), deviceID); err == nil && status != nil {
		expires = status.ExpiresAt.UTC().Format(time.RFC3339)
	}

	writeJSON(w, http.StatusOK, TrialServerResponse{Server: ServerPayload{
		IP:       server.IP,
		Port:     server.Port,
		Username: server.Username,
		Password: server.Password,
		Location: server.Location,
		Tags:     server.Tags,
		Expires:  expires,
	}})
}

func remainingSeconds(status *entitle.TrialStatus) int64 {
	if status == nil {
		return 0
	}
	secs := int64(status.Remaining / time.Second)
	if secs < 0 {
		return 0
	}
	return secs
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	defer r.Body.Close() //nolint:errcheck
	return json.NewDecoder(r.Body).Decode(out)
}

func writeJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data) //nolint:errcheck
}

func writeMessage(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, MessageResponse{Message: message})
}

// clientIP prefers X-Forwarded-For so geo lookup works behind a proxy.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
