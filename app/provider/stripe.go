package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const stripeMethod = "stripe"

type StripeConfig struct {
	SecretKey   string
	BaseURL     string
	HTTPTimeout time.Duration
}

// StripeGateway creates hosted checkout sessions and maps checkout/charge
// events back onto the payment lifecycle.
type StripeGateway struct {
	cfg    StripeConfig
	client *resty.Client
}

func NewStripeGateway(cfg StripeConfig) *StripeGateway {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.stripe.com"
	}
	cfg.BaseURL = baseURL

	return &StripeGateway{
		cfg: cfg,
		client: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetAuthToken(cfg.SecretKey).
			SetHeader("Content-Type", "application/x-www-form-urlencoded"),
	}
}

func (g *StripeGateway) Method() string {
	return stripeMethod
}

func (g *StripeGateway) SignatureHeader() string {
	return "Stripe-Signature"
}

func (g *StripeGateway) Initiate(ctx context.Context, input *InitiateInput) (*InitiateOutput, error) {
	if strings.TrimSpace(g.cfg.SecretKey) == "" {
		return nil, errors.New("stripe secret key is not configured")
	}

	form := map[string]string{
		"mode":                                          "payment",
		"client_reference_id":                           input.CheckoutRef,
		"success_url":                                   input.CallbackURL + "?state=success",
		"cancel_url":                                    input.CallbackURL + "?state=cancel",
		"line_items[0][quantity]":                       "1",
		"line_items[0][price_data][currency]":           strings.ToLower(input.Currency),
		"line_items[0][price_data][unit_amount]":        strconv.FormatInt(input.AmountCents, 10),
		"line_items[0][price_data][product_data][name]": "order-" + input.OrderID,
		"metadata[checkout_ref]":                        input.CheckoutRef,
	}

	var result struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}

	resp, err := g.client.R().
		SetContext(ctx).
		SetFormData(form).
		SetResult(&result).
		Post("/v1/checkout/sessions")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("stripe checkout session failed: status=%d body=%s", resp.StatusCode(), resp.String())
	}

	output := &InitiateOutput{Metadata: map[string]string{}}
	if id := strings.TrimSpace(result.ID); id != "" {
		output.ProviderTransactionID = &id
	}
	if u := strings.TrimSpace(result.URL); u != "" {
		output.CheckoutURL = &u
	}

	return output, nil
}

func (g *StripeGateway) Verify(ctx context.Context, providerTransactionID string) (*VerifyOutput, error) {
	var result struct {
		Status        string `json:"status"`
		PaymentStatus string `json:"payment_status"`
	}

	resp, err := g.client.R().
		SetContext(ctx).
		SetResult(&result).
		Get("/v1/checkout/sessions/" + providerTransactionID)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("stripe get checkout session failed: status=%d body=%s", resp.StatusCode(), resp.String())
	}

	if result.Status == "expired" {
		return &VerifyOutput{Outcome: OutcomeFailed, Reason: "checkout session expired"}, nil
	}
	switch result.PaymentStatus {
	case "paid", "no_payment_required":
		return &VerifyOutput{Outcome: OutcomeCompleted}, nil
	default:
		return &VerifyOutput{Outcome: OutcomePending}, nil
	}
}

func (g *StripeGateway) Refund(ctx context.Context, providerTransactionID string, amountCents int64) (*RefundOutput, error) {
	var result struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}

	resp, err := g.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"payment_intent": providerTransactionID,
			"amount":         strconv.FormatInt(amountCents, 10),
		}).
		SetResult(&result).
		Post("/v1/refunds")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("stripe refund failed: status=%d body=%s", resp.StatusCode(), resp.String())
	}

	output := &RefundOutput{Metadata: map[string]string{"refundStatus": result.Status}}
	if id := strings.TrimSpace(result.ID); id != "" {
		output.ProviderRefundID = &id
	}

	return output, nil
}

func (g *StripeGateway) ParseCallback(payload []byte) (*CallbackEvent, error) {
	var event struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Object json.RawMessage `json:"object"`
		} `json:"data"`
	}
	if err := unmarshalCallback(payload, &event); err != nil {
		return nil, err
	}

	var object struct {
		ID                string `json:"id"`
		ClientReferenceID string `json:"client_reference_id"`
	}
	_ = json.Unmarshal(event.Data.Object, &object)

	result := &CallbackEvent{
		ProviderTransactionID: strings.TrimSpace(object.ID),
		CheckoutRef:           strings.TrimSpace(object.ClientReferenceID),
		Metadata:              map[string]string{},
	}
	if id := strings.TrimSpace(event.ID); id != "" {
		result.Metadata["providerEventId"] = id
	}

	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		result.Outcome = OutcomeCompleted
	case "checkout.session.async_payment_failed", "checkout.session.expired":
		result.Outcome = OutcomeFailed
		result.Reason = event.Type
	default:
		result.Outcome = OutcomePending
	}

	if result.ProviderTransactionID == "" && result.CheckoutRef == "" {
		return nil, errors.New("stripe callback carries no transaction reference")
	}

	return result, nil
}
