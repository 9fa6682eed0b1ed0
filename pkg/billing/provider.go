package billing

import (
	"context"
	"net/http"
)

// Provider is the generic interface that any payment backend must implement.
// This allows the application to swap Paystack for Stripe with zero logic
// changes.
type Provider interface {
	// Name returns the provider name (e.g., "paystack", "stripe")
	Name() string

	// WebhookHandler returns the HTTP handler that processes asynchronous
	// payment events. The implementation handles signature verification,
	// parsing, and Manager updates internally; it acknowledges with a
	// success status for every well-formed, authenticated event, including
	// ones it withholds the grant for, so the provider never retry-storms.
	WebhookHandler() http.Handler

	// InitializeTransaction asks the provider to create a transaction for
	// the given checkout and returns the URL the payer is redirected to.
	// Initialization is never retried automatically: a blind retry of the
	// same intent risks double-charging.
	InitializeTransaction(ctx context.Context, req *CheckoutRequest) (*Checkout, error)

	// VerifyTransaction fetches the outcome of a transaction by reference.
	// Used for the redirect-back reconciliation path and for manual
	// re-checks; a verified successful charge grants exactly like the
	// webhook path.
	VerifyTransaction(ctx context.Context, reference string) (*Verification, error)
}

// CheckoutRequest carries everything needed to initialize a transaction.
type CheckoutRequest struct {
	// Email identifies the paying customer
	Email string

	// AmountMinor is the charge amount in minor currency units (kobo, cents)
	AmountMinor int64

	// Currency is the ISO 4217 code the charge is denominated in
	Currency string

	// DeviceID is carried in transaction metadata for later device binding
	// (optional)
	DeviceID string
}

// Checkout is the result of a successful transaction initialization.
type Checkout struct {
	// AuthorizationURL is where the payer completes the payment
	AuthorizationURL string

	// Reference identifies the transaction for later verification
	Reference string

	// AccessCode is the provider's session handle, when one exists
	AccessCode string
}

// Verification is the outcome of a transaction lookup.
type Verification struct {
	// Reference is the transaction reference that was verified
	Reference string

	// Status is the provider-reported status (e.g., "success", "failed")
	Status string

	// Email is the paying customer, when the provider reports one
	Email string

	// AmountMinor is the settled amount in minor currency units
	AmountMinor int64

	// Currency is the settlement currency
	Currency string

	// Granted reports whether this verification resulted in an entitlement
	// grant
	Granted bool
}
