package paystack_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jephshield/vpnsub/pkg/billing"
	"github.com/jephshield/vpnsub/pkg/billing/paystack"
)

func newCheckoutProvider(t *testing.T, baseURL string) *paystack.Provider {
	t.Helper()
	provider, err := paystack.NewProvider(paystack.Config{
		Config: billing.Config{
			Manager:       newTestManager(t),
			WebhookSecret: testSecret,
			APIKey:        "sk_test_api_key",
			CallbackURL:   "https://app.example.com/thank-you",
		},
		BaseURL: baseURL,
	})
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}
	return provider
}

func TestInitializeTransaction(t *testing.T) {
	var captured struct {
		Email       string `json:"email"`
		Amount      int64  `json:"amount"`
		Currency    string `json:"currency"`
		CallbackURL string `json:"callback_url"`
		Metadata    struct {
			DeviceID string `json:"device_id"`
		} `json:"metadata"`
	}
	var authHeader string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/transaction/initialize" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		authHeader = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("failed to decode initialize body: %v", err)
		}
		w.Write([]byte(`{"status":true,"message":"Authorization URL created","data":{"authorization_url":"https://checkout.paystack.com/abc123","access_code":"abc123","reference":"ref_42"}}`)) //nolint:errcheck
	}))
	defer srv.Close()

	provider := newCheckoutProvider(t, srv.URL)

	checkout, err := provider.InitializeTransaction(context.Background(), &billing.CheckoutRequest{
		Email:       "ada@example.com",
		AmountMinor: 448500,
		Currency:    "NGN",
		DeviceID:    "device-1",
	})
	if err != nil {
		t.Fatalf("InitializeTransaction failed: %v", err)
	}

	if checkout.AuthorizationURL != "https://checkout.paystack.com/abc123" {
		t.Errorf("unexpected authorization URL %q", checkout.AuthorizationURL)
	}
	if checkout.Reference != "ref_42" {
		t.Errorf("unexpected reference %q", checkout.Reference)
	}

	// The amount on the wire must be the exact integer minor-unit price.
	if captured.Amount != 448500 {
		t.Errorf("expected amount 448500, got %d", captured.Amount)
	}
	if captured.Currency != "NGN" {
		t.Errorf("expected currency NGN, got %q", captured.Currency)
	}
	if captured.Email != "ada@example.com" {
		t.Errorf("unexpected email %q", captured.Email)
	}
	if captured.CallbackURL != "https://app.example.com/thank-you" {
		t.Errorf("unexpected callback URL %q", captured.CallbackURL)
	}
	if captured.Metadata.DeviceID != "device-1" {
		t.Errorf("expected device id in metadata, got %q", captured.Metadata.DeviceID)
	}
	if authHeader != "Bearer sk_test_api_key" {
		t.Errorf("unexpected Authorization header %q", authHeader)
	}
}

func TestInitializeTransaction_ProviderRejection(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"status":false,"message":"Invalid amount"}`)) //nolint:errcheck
	}))
	defer srv.Close()

	provider := newCheckoutProvider(t, srv.URL)

	_, err := provider.InitializeTransaction(context.Background(), &billing.CheckoutRequest{
		Email:       "ada@example.com",
		AmountMinor: 448500,
		Currency:    "NGN",
	})
	if !errors.Is(err, billing.ErrProviderAPIError) {
		t.Fatalf("expected ErrProviderAPIError, got %v", err)
	}

	// Initialization is never retried: a blind re-send risks double-charging.
	if calls != 1 {
		t.Errorf("expected exactly 1 API call, got %d", calls)
	}
}

func TestInitializeTransaction_Validation(t *testing.T) {
	provider := newCheckoutProvider(t, "http://127.0.0.1:1")

	if _, err := provider.InitializeTransaction(context.Background(), &billing.CheckoutRequest{
		AmountMinor: 448500,
	}); err == nil {
		t.Error("expected error for missing email")
	}

	if _, err := provider.InitializeTransaction(context.Background(), &billing.CheckoutRequest{
		Email: "ada@example.com",
	}); err == nil {
		t.Error("expected error for non-positive amount")
	}
}

func TestVerifyTransaction_SuccessGrants(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transaction/verify/ref_42" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"status":true,"message":"Verification successful","data":{"reference":"ref_42","status":"success","amount":448500,"currency":"NGN","customer":{"email":"ada@example.com"},"metadata":{"device_id":"device-1"}}}`)) //nolint:errcheck
	}))
	defer srv.Close()

	manager := newTestManager(t)
	provider, err := paystack.NewProvider(paystack.Config{
		Config: billing.Config{
			Manager:       manager,
			WebhookSecret: testSecret,
			APIKey:        "sk_test_api_key",
		},
		BaseURL: srv.URL,
	})
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}

	verification, err := provider.VerifyTransaction(context.Background(), "ref_42")
	if err != nil {
		t.Fatalf("VerifyTransaction failed: %v", err)
	}
	if !verification.Granted {
		t.Error("verified successful charge should grant")
	}
	if verification.AmountMinor != 448500 || verification.Currency != "NGN" {
		t.Errorf("unexpected verification %+v", verification)
	}

	premium, err := manager.IsPremium(context.Background(), "ada@example.com", "device-1")
	if err != nil {
		t.Fatalf("IsPremium failed: %v", err)
	}
	if !premium {
		t.Error("expected premium after verified transaction")
	}
}

func TestVerifyTransaction_FailedChargeDoesNotGrant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"status":true,"message":"Verification successful","data":{"reference":"ref_43","status":"failed","amount":448500,"currency":"NGN","customer":{"email":"ada@example.com"}}}`)) //nolint:errcheck
	}))
	defer srv.Close()

	manager := newTestManager(t)
	provider, err := paystack.NewProvider(paystack.Config{
		Config:  billing.Config{Manager: manager, WebhookSecret: testSecret, APIKey: "sk_test_api_key"},
		BaseURL: srv.URL,
	})
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}

	verification, err := provider.VerifyTransaction(context.Background(), "ref_43")
	if err != nil {
		t.Fatalf("VerifyTransaction failed: %v", err)
	}
	if verification.Granted {
		t.Error("failed charge must not grant")
	}
	if verification.Status != "failed" {
		t.Errorf("expected failed status, got %q", verification.Status)
	}
}

func TestVerifyTransaction_UnknownReference(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"status":false,"message":"Transaction reference not found"}`)) //nolint:errcheck
	}))
	defer srv.Close()

	provider, err := paystack.NewProvider(paystack.Config{
		Config:  billing.Config{Manager: newTestManager(t), WebhookSecret: testSecret, APIKey: "sk_test_api_key"},
		BaseURL: srv.URL,
	})
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}

	if _, err := provider.VerifyTransaction(context.Background(), "ref_missing"); !errors.Is(err, billing.ErrTransactionNotFound) {
		t.Errorf("expected ErrTransactionNotFound, got %v", err)
	}
}
