package paystack

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jephshield/vpnsub/pkg/billing"
	"github.com/jephshield/vpnsub/pkg/billing/internal"
	"github.com/jephshield/vpnsub/pkg/entitle"
)

// webhookPayload is the Paystack webhook envelope. Only the fields the
// grant decision needs are declared; the rest of the event is ignored.
type webhookPayload struct {
	Event string      `json:"event"`
	Data  webhookData `json:"data"`
}

type webhookData struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	// Amount is in minor units (kobo for NGN)
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	PaidAt   string `json:"paid_at"`
	Customer struct {
		Email string `json:"email"`
	} `json:"customer"`
	// Metadata arrives as an object, an empty string, or nothing at all,
	// depending on how the transaction was initialized.
	Metadata json.RawMessage `json:"metadata"`
}

type transactionMetadata struct {
	DeviceID string `json:"device_id"`
}

func (d *webhookData) deviceID() string {
	if len(d.Metadata) == 0 {
		return ""
	}
	var meta transactionMetadata
	if err := json.Unmarshal(d.Metadata, &meta); err != nil {
		return ""
	}
	return strings.TrimSpace(meta.DeviceID)
}

func (d *webhookData) paidAt() time.Time {
	if d.PaidAt == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, d.PaidAt)
	if err != nil {
		return time.Time{}
	}
	return t
}

// verifySignature checks the HMAC-SHA512 hex signature over the exact raw
// body bytes. The comparison is constant-time.
func (p *Provider) verifySignature(body []byte, signature string) bool {
	if len(p.webhookSecret) == 0 {
		return false
	}
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return false
	}

	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	mac := hmac.New(sha512.New, p.webhookSecret)
	mac.Write(body) //nolint:errcheck
	return hmac.Equal(expected, mac.Sum(nil))
}

// handleWebhook processes incoming Paystack webhook events. Once the
// signature checks out, the response is 200 regardless of the grant
// decision: Paystack retries non-2xx responses, and redelivering an event
// we already chose not to act on only produces noise.
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

	// Raw bytes are captured before any parsing: the signature covers the
	// body exactly as Paystack sent it.
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

	if !p.verifySignature(body, r.Header.Get(signatureHeader)) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		p.metrics.RecordWebhookError(providerName, "auth_failed")
		p.logger.Warn("webhook signature verification failed",
			entitle.Field{Key: "provider", Value: providerName},
			entitle.Field{Key: "remote_ip", Value: internal.GetClientIP(r)})
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		p.metrics.RecordWebhookError(providerName, "invalid_payload")
		return
	}

	eventType := strings.TrimSpace(payload.Event)
	if eventType == "" {
		http.Error(w, "missing event type", http.StatusBadRequest)
		p.metrics.RecordWebhookError(providerName, "invalid_payload")
		return
	}

	event := billing.WebhookEvent{
		Provider:       providerName,
		EventType:      eventType,
		Email:          strings.ToLower(strings.TrimSpace(payload.Data.Customer.Email)),
		DeviceID:       payload.Data.deviceID(),
		AmountMinor:    payload.Data.Amount,
		Currency:       strings.ToUpper(strings.TrimSpace(payload.Data.Currency)),
		Reference:      payload.Data.Reference,
		EventTimestamp: payload.Data.paidAt(),
	}

	status := "ignored"
	if eventType == eventChargeSuccess {
		status = p.processChargeSuccess(r.Context(), &event)
		if status == "error" {
			http.Error(w, "failed to process webhook", http.StatusInternalServerError)
			p.metrics.RecordWebhookEvent(providerName, eventType, status)
			p.metrics.RecordWebhookError(providerName, "processing_error")
			p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))
			return
		}
	}

	if p.callback != nil {
		if err := p.callback(r.Context(), event); err != nil {
			http.Error(w, "failed to process webhook", http.StatusInternalServerError)
			p.metrics.RecordWebhookError(providerName, "callback_error")
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok")) //nolint:errcheck

	p.metrics.RecordWebhookEvent(providerName, eventType, status)
	p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))
}

// processChargeSuccess applies the grant decision for a verified charge.
// Returns the metric status: "granted", "withheld", or "error".
func (p *Provider) processChargeSuccess(ctx context.Context, event *billing.WebhookEvent) string {
	if event.Email == "" {
		p.logger.Warn("charge.success without customer email, withholding grant",
			entitle.Field{Key: "reference", Value: event.Reference})
		return "withheld"
	}

	if withheld := p.belowPriceFloor(ctx, event); withheld {
		return "withheld"
	}

	if err := p.manager.Grant(ctx, event.Email, event.DeviceID); err != nil {
		// Business-rule rejections are acknowledged; redelivery cannot
		// change the outcome. Storage failures are the retryable case.
		if errors.Is(err, entitle.ErrDeviceBound) ||
			errors.Is(err, entitle.ErrInvalidEmail) ||
			errors.Is(err, entitle.ErrInvalidDeviceID) {
			p.logger.Warn("grant withheld for verified charge",
				entitle.Field{Key: "email", Value: event.Email},
				entitle.Field{Key: "reference", Value: event.Reference},
				entitle.Field{Key: "reason", Value: err.Error()})
			return "withheld"
		}
		p.logger.Error("failed to persist grant for verified charge",
			entitle.Field{Key: "email", Value: event.Email},
			entitle.Field{Key: "reference", Value: event.Reference},
			entitle.Field{Key: "error", Value: err.Error()})
		return "error"
	}

	event.Granted = true
	p.logger.Info("premium granted from verified charge",
		entitle.Field{Key: "email", Value: event.Email},
		entitle.Field{Key: "reference", Value: event.Reference},
		entitle.Field{Key: "amount_minor", Value: event.AmountMinor},
		entitle.Field{Key: "currency", Value: event.Currency})
	return "granted"
}

// belowPriceFloor reports whether the paid amount converts to less than the
// monthly base price in USD. An fx outage never blocks a paying customer:
// when no rate at all can be produced the check is skipped with a warning.
func (p *Provider) belowPriceFloor(ctx context.Context, event *billing.WebhookEvent) bool {
	if p.pricer == nil {
		return false
	}

	paidMajor := float64(event.AmountMinor) / 100
	usd, approximate, err := p.pricer.USDValue(ctx, paidMajor, event.Currency)
	if err != nil {
		p.logger.Warn("price floor check skipped, fx rate unavailable",
			entitle.Field{Key: "reference", Value: event.Reference},
			entitle.Field{Key: "currency", Value: event.Currency},
			entitle.Field{Key: "error", Value: err.Error()})
		return false
	}
	if approximate {
		p.logger.Warn("price floor check using approximate fx rate",
			entitle.Field{Key: "reference", Value: event.Reference},
			entitle.Field{Key: "currency", Value: event.Currency})
	}

	floor := p.pricer.BasePriceUSD()
	if usd+priceFloorToleranceUSD >= floor {
		return false
	}

	p.logger.Warn("grant withheld, payment below price floor",
		entitle.Field{Key: "email", Value: event.Email},
		entitle.Field{Key: "reference", Value: event.Reference},
		entitle.Field{Key: "paid_usd", Value: fmt.Sprintf("%.2f", usd)},
		entitle.Field{Key: "floor_usd", Value: fmt.Sprintf("%.2f", floor)})
	return true
}
