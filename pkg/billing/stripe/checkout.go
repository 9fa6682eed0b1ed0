package stripe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/jephshield/vpnsub/pkg/billing"
)

// InitializeTransaction creates a one-time payment Checkout Session and
// returns its URL. The payer email and device id travel in session metadata
// so the webhook can apply device binding when the payment settles. No
// automatic retry on failure: a blind re-send risks a double charge.
func (p *Provider) InitializeTransaction(ctx context.Context, req *billing.CheckoutRequest) (*billing.Checkout, error) {
	if req == nil || strings.TrimSpace(req.Email) == "" {
		return nil, fmt.Errorf("%w: email is required", billing.ErrProviderAPIError)
	}
	if req.AmountMinor <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", billing.ErrProviderAPIError)
	}

	email := strings.TrimSpace(req.Email)
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "usd"
	}

	params := &stripe.CheckoutSessionCreateParams{
		Mode:          stripe.String(string(stripe.CheckoutSessionModePayment)),
		CustomerEmail: stripe.String(email),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionCreateLineItemPriceDataParams{
					Currency: stripe.String(currency),
					ProductData: &stripe.CheckoutSessionCreateLineItemPriceDataProductDataParams{
						Name: stripe.String(productName),
					},
					UnitAmount: stripe.Int64(req.AmountMinor),
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(p.callbackURL),
		CancelURL:  stripe.String(p.cancelURL),
	}

	// The webhook handler reads these back from the completed session.
	params.Metadata = map[string]string{"email": email}
	if deviceID := strings.TrimSpace(req.DeviceID); deviceID != "" {
		params.Metadata["device_id"] = deviceID
	}

	start := time.Now()
	session, err := p.stripeClient.V1CheckoutSessions.Create(ctx, params)
	p.metrics.RecordAPICallDuration(providerName, "/checkout/sessions", time.Since(start))
	if err != nil {
		p.metrics.RecordAPICall(providerName, "/checkout/sessions", "error")
		return nil, fmt.Errorf("%w: failed to create checkout session: %v", billing.ErrProviderAPIError, err)
	}
	p.metrics.RecordAPICall(providerName, "/checkout/sessions", "success")

	return &billing.Checkout{
		AuthorizationURL: session.URL,
		Reference:        session.ID,
	}, nil
}

// VerifyTransaction fetches a Checkout Session by ID and grants when the
// payment has settled, mirroring the webhook decision for the redirect-back
// reconciliation path.
func (p *Provider) VerifyTransaction(ctx context.Context, reference string) (*billing.Verification, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, fmt.Errorf("%w: reference is required", billing.ErrProviderAPIError)
	}

	start := time.Now()
	session, err := p.stripeClient.V1CheckoutSessions.Retrieve(ctx, reference, nil)
	p.metrics.RecordAPICallDuration(providerName, "/checkout/sessions/retrieve", time.Since(start))
	if err != nil {
		p.metrics.RecordAPICall(providerName, "/checkout/sessions/retrieve", "error")
		return nil, fmt.Errorf("%w: %v", billing.ErrProviderAPIError, err)
	}
	p.metrics.RecordAPICall(providerName, "/checkout/sessions/retrieve", "success")

	event := eventFromSession(session)
	event.Reference = reference

	verification := &billing.Verification{
		Reference:   reference,
		Status:      string(session.PaymentStatus),
		Email:       event.Email,
		AmountMinor: event.AmountMinor,
		Currency:    event.Currency,
	}

	if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return verification, nil
	}

	switch p.processPaidSession(ctx, &event) {
	case "granted":
		verification.Granted = true
	case "error":
		return nil, fmt.Errorf("%w: failed to persist grant", billing.ErrProviderAPIError)
	}
	return verification, nil
}
