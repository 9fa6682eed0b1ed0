// Package paystack implements the billing.Provider interface for Paystack,
// the primary payment provider. Webhook events are authenticated with an
// HMAC-SHA512 signature over the raw request body, and verified charges
// grant premium entitlements through the entitle.Manager.
package paystack

import (
	"net/http"
	"strings"
	"time"

	"github.com/jephshield/vpnsub/pkg/billing"
	"github.com/jephshield/vpnsub/pkg/billing/internal"
	"github.com/jephshield/vpnsub/pkg/entitle"
	"github.com/jephshield/vpnsub/pkg/pricing"
)

const (
	providerName        = "paystack"
	paystackAPIBaseURL  = "https://api.paystack.co"
	signatureHeader     = "x-paystack-signature"
	eventChargeSuccess  = "charge.success"
	maxWebhookBodyBytes = 256 * 1024

	defaultHTTPTimeout       = 10 * time.Second
	defaultRateLimitWindow   = time.Minute
	defaultRateLimitRequests = 100

	// priceFloorToleranceUSD absorbs fx rounding so an exact-price payment
	// is never rejected over the last cent.
	priceFloorToleranceUSD = 0.01
)

// Config configures the Paystack provider.
type Config struct {
	billing.Config

	// Pricer enables the price floor check on verified charges: the paid
	// amount is converted to USD and the grant is withheld when it falls
	// below the monthly base price. Nil disables the check.
	Pricer *pricing.Pricer

	// BaseURL overrides the Paystack API base URL (tests)
	BaseURL string
}

// Provider implements billing.Provider for Paystack.
type Provider struct {
	manager       *entitle.Manager
	baseURL       string
	webhookSecret []byte
	apiKey        string
	callbackURL   string
	httpClient    *http.Client
	rateLimiter   *internal.RateLimiter
	pricer        *pricing.Pricer
	logger        entitle.Logger
	metrics       billing.Metrics
	callback      billing.WebhookCallback
}

// NewProvider creates a new Paystack billing provider.
func NewProvider(config Config) (*Provider, error) {
	if config.Manager == nil {
		return nil, billing.ErrProviderNotConfigured
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	baseURL := strings.TrimRight(config.BaseURL, "/")
	if baseURL == "" {
		baseURL = paystackAPIBaseURL
	}

	logger := config.Logger
	if logger == nil {
		logger = &entitle.NoopLogger{}
	}

	metrics := config.Metrics
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}

	return &Provider{
		manager:       config.Manager,
		baseURL:       baseURL,
		webhookSecret: []byte(strings.TrimSpace(config.WebhookSecret)),
		apiKey:        strings.TrimSpace(config.APIKey),
		callbackURL:   strings.TrimSpace(config.CallbackURL),
		httpClient:    httpClient,
		rateLimiter:   internal.NewRateLimiter(defaultRateLimitRequests, defaultRateLimitWindow),
		pricer:        config.Pricer,
		logger:        logger,
		metrics:       metrics,
		callback:      config.WebhookCallback,
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return providerName
}

// WebhookHandler returns the HTTP handler for Paystack webhooks, wrapped
// with per-IP rate limiting.
func (p *Provider) WebhookHandler() http.Handler {
	return p.rateLimiter.Middleware(http.HandlerFunc(p.handleWebhook))
}

func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
