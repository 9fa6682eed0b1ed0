package billing

import (
	"context"
	"net/http"

	"github.com/jephshield/vpnsub/pkg/entitle"
)

// WebhookCallback is invoked after a webhook event has been fully processed
// and the entitlement update (if any) is durable. Returning an error makes
// the webhook respond with a server error so the provider redelivers.
type WebhookCallback func(ctx context.Context, event WebhookEvent) error

// Config defines the standard configuration all providers accept.
type Config struct {
	// Manager is the entitlement manager updated by verified payments
	// (required)
	Manager *entitle.Manager

	// WebhookSecret is the shared secret used to verify inbound webhook
	// signatures
	WebhookSecret string

	// APIKey authenticates outbound calls to the payment provider
	APIKey string

	// CallbackURL is where the provider redirects the payer after checkout
	CallbackURL string

	// HTTPClient is an optional HTTP client for API calls.
	// If nil, a default client with a 10s timeout is used.
	HTTPClient *http.Client

	// Logger is used for structured logging (default: entitle.NoopLogger)
	Logger entitle.Logger

	// Metrics is an optional metrics collector for provider operations.
	// If nil, metrics are silently ignored (no-op).
	Metrics Metrics

	// WebhookCallback is an optional hook fired after each processed
	// webhook event (granted or withheld).
	WebhookCallback WebhookCallback
}
