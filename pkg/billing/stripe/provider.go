// Package stripe implements the billing.Provider interface for Stripe,
// offered as an alternate card processor for payers outside Paystack's
// coverage. Checkout uses a one-time payment session and the webhook grants
// on checkout.session.completed.
package stripe

import (
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/jephshield/vpnsub/pkg/billing"
	"github.com/jephshield/vpnsub/pkg/billing/internal"
	"github.com/jephshield/vpnsub/pkg/entitle"
)

const (
	providerName        = "stripe"
	maxWebhookBodyBytes = 256 * 1024

	defaultHTTPTimeout       = 10 * time.Second
	defaultRateLimitWindow   = time.Minute
	defaultRateLimitRequests = 100

	// productName appears on the Stripe checkout page and receipts.
	productName = "VPN Premium Subscription"
)

// Config configures the Stripe provider.
type Config struct {
	billing.Config

	// CancelURL is where the payer lands after abandoning checkout.
	// Defaults to CallbackURL when empty.
	CancelURL string
}

// Provider implements billing.Provider for Stripe.
type Provider struct {
	manager       *entitle.Manager
	stripeClient  *stripe.Client
	webhookSecret []byte
	callbackURL   string
	cancelURL     string
	rateLimiter   *internal.RateLimiter
	logger        entitle.Logger
	metrics       billing.Metrics
	callback      billing.WebhookCallback
}

// NewProvider creates a new Stripe billing provider.
func NewProvider(config Config) (*Provider, error) {
	if config.Manager == nil {
		return nil, billing.ErrProviderNotConfigured
	}

	apiKey := strings.TrimSpace(config.APIKey)
	if apiKey == "" {
		return nil, billing.ErrProviderNotConfigured
	}

	cancelURL := strings.TrimSpace(config.CancelURL)
	if cancelURL == "" {
		cancelURL = strings.TrimSpace(config.CallbackURL)
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
		stripeClient:  stripe.NewClient(apiKey),
		webhookSecret: []byte(strings.TrimSpace(config.WebhookSecret)),
		callbackURL:   strings.TrimSpace(config.CallbackURL),
		cancelURL:     cancelURL,
		rateLimiter:   internal.NewRateLimiter(defaultRateLimitRequests, defaultRateLimitWindow),
		logger:        logger,
		metrics:       metrics,
		callback:      config.WebhookCallback,
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return providerName
}

// WebhookHandler returns the HTTP handler for Stripe webhooks, wrapped with
// per-IP rate limiting.
func (p *Provider) WebhookHandler() http.Handler {
	return p.rateLimiter.Middleware(http.HandlerFunc(p.handleWebhook))
}

func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
