package billing

import "time"

// WebhookEvent contains information about a processed webhook event.
// It is passed to the WebhookCallback after the entitlement decision has
// been made and, when granted, persisted.
type WebhookEvent struct {
	// Provider is the payment provider name ("paystack", "stripe")
	Provider string

	// EventType is the provider-specific event type
	// Paystack: "charge.success", "transfer.failed", etc.
	// Stripe: "checkout.session.completed", etc.
	EventType string

	// Email is the paying customer's address
	Email string

	// DeviceID is the device carried in transaction metadata (empty when
	// the payment was made without device binding)
	DeviceID string

	// AmountMinor is the settled amount in minor currency units
	AmountMinor int64

	// Currency is the settlement currency
	Currency string

	// Granted reports whether the event resulted in an entitlement grant.
	// False for no-op events and for business-rule rejections such as
	// underpayment.
	Granted bool

	// Reference is the provider transaction reference, when present
	Reference string

	// EventTimestamp is when the event occurred (from the provider)
	EventTimestamp time.Time
}
