package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

const paypalMethod = "paypal"

type PaypalConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	HTTPTimeout  time.Duration
}

// PaypalGateway uses the v2 orders API. Orders are created with intent
// CAPTURE and resolve through approval redirects plus webhook events.
type PaypalGateway struct {
	cfg    PaypalConfig
	client *resty.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func NewPaypalGateway(cfg PaypalConfig) *PaypalGateway {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api-m.paypal.com"
	}
	cfg.BaseURL = baseURL

	return &PaypalGateway{
		cfg:    cfg,
		client: resty.New().SetBaseURL(baseURL).SetTimeout(timeout),
	}
}

func (g *PaypalGateway) Method() string {
	return paypalMethod
}

func (g *PaypalGateway) SignatureHeader() string {
	return "Paypal-Signature"
}

func (g *PaypalGateway) Initiate(ctx context.Context, input *InitiateInput) (*InitiateOutput, error) {
	token, err := g.token(ctx)
	if err != nil {
		return nil, err
	}

	var result struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Links  []struct {
			Rel  string `json:"rel"`
			Href string `json:"href"`
		} `json:"links"`
	}

	resp, err := g.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(map[string]any{
			"intent": "CAPTURE",
			"purchase_units": []map[string]any{{
				"reference_id": input.CheckoutRef,
				"custom_id":    input.PaymentID,
				"amount": map[string]string{
					"currency_code": strings.ToUpper(input.Currency),
					"value":         centsToDecimal(input.AmountCents),
				},
			}},
		}).
		SetResult(&result).
		Post("/v2/checkout/orders")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("paypal create order failed: status=%d body=%s", resp.StatusCode(), resp.String())
	}

	output := &InitiateOutput{Metadata: map[string]string{}}
	if id := strings.TrimSpace(result.ID); id != "" {
		output.ProviderTransactionID = &id
	}
	for _, link := range result.Links {
		if link.Rel == "approve" && strings.TrimSpace(link.Href) != "" {
			href := strings.TrimSpace(link.Href)
			output.CheckoutURL = &href
			break
		}
	}

	return output, nil
}

func (g *PaypalGateway) Verify(ctx context.Context, providerTransactionID string) (*VerifyOutput, error) {
	token, err := g.token(ctx)
	if err != nil {
		return nil, err
	}

	var result struct {
		Status string `json:"status"`
	}

	resp, err := g.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetResult(&result).
		Get("/v2/checkout/orders/" + providerTransactionID)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("paypal get order failed: status=%d body=%s", resp.StatusCode(), resp.String())
	}

	switch result.Status {
	case "COMPLETED":
		return &VerifyOutput{Outcome: OutcomeCompleted}, nil
	case "VOIDED":
		return &VerifyOutput{Outcome: OutcomeFailed, Reason: "order voided"}, nil
	default:
		return &VerifyOutput{Outcome: OutcomePending}, nil
	}
}

func (g *PaypalGateway) Refund(ctx context.Context, providerTransactionID string, amountCents int64) (*RefundOutput, error) {
	token, err := g.token(ctx)
	if err != nil {
		return nil, err
	}

	var result struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}

	resp, err := g.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(map[string]any{}).
		SetResult(&result).
		Post("/v2/payments/captures/" + providerTransactionID + "/refund")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("paypal refund failed: status=%d body=%s", resp.StatusCode(), resp.String())
	}

	output := &RefundOutput{Metadata: map[string]string{"refundStatus": result.Status}}
	if id := strings.TrimSpace(result.ID); id != "" {
		output.ProviderRefundID = &id
	}

	return output, nil
}

func (g *PaypalGateway) ParseCallback(payload []byte) (*CallbackEvent, error) {
	var event struct {
		ID        string `json:"id"`
		EventType string `json:"event_type"`
		Resource  struct {
			ID       string `json:"id"`
			CustomID string `json:"custom_id"`
		} `json:"resource"`
	}
	if err := unmarshalCallback(payload, &event); err != nil {
		return nil, err
	}

	result := &CallbackEvent{
		ProviderTransactionID: strings.TrimSpace(event.Resource.ID),
		CheckoutRef:           strings.TrimSpace(event.Resource.CustomID),
		Metadata:              map[string]string{},
	}
	if id := strings.TrimSpace(event.ID); id != "" {
		result.Metadata["providerEventId"] = id
	}

	switch event.EventType {
	case "PAYMENT.CAPTURE.COMPLETED", "CHECKOUT.ORDER.APPROVED":
		result.Outcome = OutcomeCompleted
	case "PAYMENT.CAPTURE.DENIED", "PAYMENT.CAPTURE.DECLINED":
		result.Outcome = OutcomeFailed
		result.Reason = event.EventType
	default:
		result.Outcome = OutcomePending
	}

	if result.ProviderTransactionID == "" && result.CheckoutRef == "" {
		return nil, errors.New("paypal callback carries no transaction reference")
	}

	return result, nil
}

func (g *PaypalGateway) token(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.accessToken != "" && time.Now().Before(g.tokenExpiry) {
		return g.accessToken, nil
	}

	var result struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}

	resp, err := g.client.R().
		SetContext(ctx).
		SetBasicAuth(g.cfg.ClientID, g.cfg.ClientSecret).
		SetFormData(map[string]string{"grant_type": "client_credentials"}).
		SetResult(&result).
		Post("/v1/oauth2/token")
	if err != nil {
		return "", err
	}
	if resp.IsError() || strings.TrimSpace(result.AccessToken) == "" {
		return "", fmt.Errorf("paypal token request failed: status=%d body=%s", resp.StatusCode(), resp.String())
	}

	expires := result.ExpiresIn
	if expires <= 0 {
		expires = 3600
	}

	g.accessToken = result.AccessToken
	g.tokenExpiry = time.Now().Add(time.Duration(expires-60) * time.Second)
	return g.accessToken, nil
}
