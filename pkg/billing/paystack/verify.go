package paystack

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jephshield/vpnsub/pkg/billing"
)

type verifyResponse struct {
	Status  bool        `json:"status"`
	Message string      `json:"message"`
	Data    webhookData `json:"data"`
}

// VerifyTransaction fetches a transaction's outcome by reference. This is
// the redirect-back reconciliation path: when Paystack sends the payer back
// to the callback URL before the webhook lands, verifying the reference
// grants through the same decision logic the webhook uses.
func (p *Provider) VerifyTransaction(ctx context.Context, reference string) (*billing.Verification, error) {
	if p.apiKey == "" {
		return nil, billing.ErrProviderNotConfigured
	}
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, fmt.Errorf("%w: reference is required", billing.ErrProviderAPIError)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		p.baseURL+"/transaction/verify/"+url.PathEscape(reference), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", billing.ErrProviderAPIError, err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	start := time.Now()
	resp, err := p.httpClient.Do(req)
	p.metrics.RecordAPICallDuration(providerName, "verify", time.Since(start))
	if err != nil {
		p.metrics.RecordAPICall(providerName, "verify", "error")
		return nil, fmt.Errorf("%w: %v", billing.ErrProviderAPIError, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusNotFound {
		p.metrics.RecordAPICall(providerName, "verify", "not_found")
		return nil, billing.ErrTransactionNotFound
	}

	var parsed verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		p.metrics.RecordAPICall(providerName, "verify", "error")
		return nil, fmt.Errorf("%w: failed to parse response: %v", billing.ErrProviderAPIError, err)
	}
	if resp.StatusCode != http.StatusOK || !parsed.Status {
		p.metrics.RecordAPICall(providerName, "verify", "error")
		return nil, fmt.Errorf("%w: verify failed: %s", billing.ErrProviderAPIError, parsed.Message)
	}
	p.metrics.RecordAPICall(providerName, "verify", "success")

	verification := &billing.Verification{
		Reference:   reference,
		Status:      strings.ToLower(strings.TrimSpace(parsed.Data.Status)),
		Email:       strings.ToLower(strings.TrimSpace(parsed.Data.Customer.Email)),
		AmountMinor: parsed.Data.Amount,
		Currency:    strings.ToUpper(strings.TrimSpace(parsed.Data.Currency)),
	}

	event := billing.WebhookEvent{
		Provider:       providerName,
		EventType:      eventChargeSuccess,
		Email:          verification.Email,
		DeviceID:       parsed.Data.deviceID(),
		AmountMinor:    parsed.Data.Amount,
		Currency:       verification.Currency,
		Reference:      reference,
		EventTimestamp: parsed.Data.paidAt(),
	}

	// "success" is the only transaction state that grants.
	if verification.Status != "success" {
		return verification, nil
	}

	switch p.processChargeSuccess(ctx, &event) {
	case "granted":
		verification.Granted = true
	case "error":
		return nil, fmt.Errorf("%w: failed to persist grant", billing.ErrProviderAPIError)
	}
	return verification, nil
}
