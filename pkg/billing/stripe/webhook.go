package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/jephshield/vpnsub/pkg/billing"
	"github.com/jephshield/vpnsub/pkg/billing/internal"
	"github.com/jephshield/vpnsub/pkg/entitle"
)

// handleWebhook processes incoming Stripe webhook events. Signature
// verification is delegated to stripe.ConstructEvent; once the event is
// authenticated the response is 200 regardless of the grant decision.
func (p *Provider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	setSecurityHeaders(w)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if len(p.webhookSecret) == 0 {
		http.Error(w, "webhook not configured", http.StatusServiceUnavailable)
		return
	}

	body, err := internal.ReadBodyStrict(w, r, maxWebhookBodyBytes)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			p.metrics.RecordWebhookError(providerName, "payload_too_large")
		} else {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			p.metrics.RecordWebhookError(providerName, "invalid_payload")
		}
		return
	}

	event, err := stripe.ConstructEvent(body, r.Header.Get("Stripe-Signature"), string(p.webhookSecret))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		p.metrics.RecordWebhookError(providerName, "auth_failed")
		return
	}

	eventType := string(event.Type)
	status := "ignored"

	if event.Type == "checkout.session.completed" {
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			p.metrics.RecordWebhookError(providerName, "invalid_payload")
			return
		}

		webhookEvent := eventFromSession(&session)
		webhookEvent.EventTimestamp = time.Unix(event.Created, 0).UTC()

		if session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid {
			status = p.processPaidSession(r.Context(), &webhookEvent)
			if status == "error" {
				http.Error(w, "failed to process webhook", http.StatusInternalServerError)
				p.metrics.RecordWebhookEvent(providerName, eventType, status)
				p.metrics.RecordWebhookError(providerName, "processing_error")
				p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))
				return
			}
		} else {
			// Async payment methods complete later via
			// checkout.session.async_payment_succeeded.
			status = "withheld"
		}

		if p.callback != nil {
			if err := p.callback(r.Context(), webhookEvent); err != nil {
				http.Error(w, "failed to process webhook", http.StatusInternalServerError)
				p.metrics.RecordWebhookError(providerName, "callback_error")
				return
			}
		}
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok")) //nolint:errcheck

	p.metrics.RecordWebhookEvent(providerName, eventType, status)
	p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))
}

// eventFromSession maps a Checkout Session onto the provider-neutral event.
// Email prefers the session metadata we set at initialization, then falls
// back to what Stripe collected on the payment page.
func eventFromSession(session *stripe.CheckoutSession) billing.WebhookEvent {
	email := ""
	deviceID := ""
	if session.Metadata != nil {
		email = strings.TrimSpace(session.Metadata["email"])
		deviceID = strings.TrimSpace(session.Metadata["device_id"])
	}
	if email == "" && session.CustomerDetails != nil {
		email = strings.TrimSpace(session.CustomerDetails.Email)
	}
	if email == "" {
		email = strings.TrimSpace(session.CustomerEmail)
	}

	return billing.WebhookEvent{
		Provider:    providerName,
		EventType:   "checkout.session.completed",
		Email:       strings.ToLower(email),
		DeviceID:    deviceID,
		AmountMinor: session.AmountTotal,
		Currency:    strings.ToUpper(string(session.Currency)),
		Reference:   session.ID,
	}
}

// processPaidSession applies the grant decision for a settled session.
// Returns the metric status: "granted", "withheld", or "error".
func (p *Provider) processPaidSession(ctx context.Context, event *billing.WebhookEvent) string {
	if event.Email == "" {
		p.logger.Warn("paid session without customer email, withholding grant",
			entitle.Field{Key: "reference", Value: event.Reference})
		return "withheld"
	}

	if err := p.manager.Grant(ctx, event.Email, event.DeviceID); err != nil {
		if errors.Is(err, entitle.ErrDeviceBound) ||
			errors.Is(err, entitle.ErrInvalidEmail) ||
			errors.Is(err, entitle.ErrInvalidDeviceID) {
			p.logger.Warn("grant withheld for paid session",
				entitle.Field{Key: "email", Value: event.Email},
				entitle.Field{Key: "reference", Value: event.Reference},
				entitle.Field{Key: "reason", Value: err.Error()})
			return "withheld"
		}
		p.logger.Error("failed to persist grant for paid session",
			entitle.Field{Key: "email", Value: event.Email},
			entitle.Field{Key: "reference", Value: event.Reference},
			entitle.Field{Key: "error", Value: err.Error()})
		return "error"
	}

	event.Granted = true
	p.logger.Info("premium granted from paid session",
		entitle.Field{Key: "email", Value: event.Email},
		entitle.Field{Key: "reference", Value: event.Reference},
		entitle.Field{Key: "amount_minor", Value: event.AmountMinor},
		entitle.Field{Key: "currency", Value: event.Currency})
	return "granted"
}
