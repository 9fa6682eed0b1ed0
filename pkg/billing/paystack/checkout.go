package paystack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jephshield/vpnsub/pkg/billing"
	"github.com/jephshield/vpnsub/pkg/entitle"
)

// initializeRequest is the Paystack transaction initialize body. Amount is
// an integer in minor units; Paystack rejects fractional values.
type initializeRequest struct {
	Email       string               `json:"email"`
	Amount      int64                `json:"amount"`
	Currency    string               `json:"currency,omitempty"`
	CallbackURL string               `json:"callback_url,omitempty"`
	Metadata    *transactionMetadata `json:"metadata,omitempty"`
}

type initializeResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	} `json:"data"`
}

// InitializeTransaction creates a Paystack transaction and returns the
// authorization URL the payer is redirected to. Failures are returned as-is
// with no automatic retry: re-sending the same intent risks a double charge.
func (p *Provider) InitializeTransaction(ctx context.Context, req *billing.CheckoutRequest) (*billing.Checkout, error) {
	if p.apiKey == "" {
		return nil, billing.ErrProviderNotConfigured
	}
	if req == nil || strings.TrimSpace(req.Email) == "" {
		return nil, fmt.Errorf("%w: email is required", billing.ErrProviderAPIError)
	}
	if req.AmountMinor <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", billing.ErrProviderAPIError)
	}

	body := initializeRequest{
		Email:       strings.TrimSpace(req.Email),
		Amount:      req.AmountMinor,
		Currency:    strings.ToUpper(strings.TrimSpace(req.Currency)),
		CallbackURL: p.callbackURL,
	}
	if deviceID := strings.TrimSpace(req.DeviceID); deviceID != "" {
		body.Metadata = &transactionMetadata{DeviceID: deviceID}
	}

	start := time.Now()
	var parsed initializeResponse
	statusCode, err := p.postJSON(ctx, "/transaction/initialize", body, &parsed)
	p.metrics.RecordAPICallDuration(providerName, "initialize", time.Since(start))
	if err != nil {
		p.metrics.RecordAPICall(providerName, "initialize", "error")
		return nil, err
	}

	if statusCode != http.StatusOK || !parsed.Status {
		p.metrics.RecordAPICall(providerName, "initialize", "error")
		p.logger.Error("transaction initialize rejected",
			entitle.Field{Key: "status_code", Value: statusCode},
			entitle.Field{Key: "message", Value: parsed.Message})
		return nil, fmt.Errorf("%w: initialize failed: %s", billing.ErrProviderAPIError, parsed.Message)
	}

	p.metrics.RecordAPICall(providerName, "initialize", "success")
	return &billing.Checkout{
		AuthorizationURL: parsed.Data.AuthorizationURL,
		Reference:        parsed.Data.Reference,
		AccessCode:       parsed.Data.AccessCode,
	}, nil
}

func (p *Provider) postJSON(ctx context.Context, path string, body, out interface{}) (int, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", billing.ErrProviderAPIError, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", billing.ErrProviderAPIError, err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", billing.ErrProviderAPIError, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("%w: failed to parse response: %v", billing.ErrProviderAPIError, err)
	}
	return resp.StatusCode, nil
}
